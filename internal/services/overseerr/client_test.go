// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package overseerr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/transport"
)

func newTestClient(host string) *Client {
	return NewClient(Config{Host: host + "/", APIKey: "seerr-key", PageSize: 50}, transport.NewClient(transport.Config{
		Service:   "overseerr",
		Retries:   0,
		BaseDelay: time.Millisecond,
	}))
}

func TestListPending(t *testing.T) {
	body := `{"pageInfo":{"pages":1,"results":5},"results":[
		{"id":1,"status":2,"type":"movie","media":{"id":10,"mediaType":"movie","tmdbId":550,"imdbId":"tt0137523","status":3}},
		{"id":2,"status":2,"type":"tv","media":{"id":11,"mediaType":"tv","tmdbId":1399,"tvdbId":121361,"imdbId":null,"status":3},"seasons":[{"seasonNumber":2},{"seasonNumber":1}]},
		{"id":3,"status":1,"type":"movie","media":{"id":12,"mediaType":"movie","tmdbId":1,"status":3}},
		{"id":4,"status":2,"type":"movie","media":{"id":13,"mediaType":"movie","tmdbId":2,"status":5}},
		{"id":5,"status":2,"type":"movie"}
	]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/request", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("take"))
		assert.Equal(t, "approved", r.URL.Query().Get("filter"))
		assert.Equal(t, "added", r.URL.Query().Get("sort"))
		assert.Equal(t, "seerr-key", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].RequestID)
	assert.Equal(t, 10, got[0].MediaID)
	assert.Equal(t, 550, got[0].TMDBID)
	assert.Equal(t, "tt0137523", got[0].IMDBID)
	assert.Equal(t, models.MediaKindMovie, got[0].Kind)
	assert.Equal(t, models.RequestSourcePoll, got[0].Source)
	assert.NotEmpty(t, got[0].TraceID)

	assert.Equal(t, models.MediaKindSeries, got[1].Kind)
	assert.Equal(t, 121361, got[1].TVDBID)
	assert.Empty(t, got[1].IMDBID)
	assert.Equal(t, []int{2, 1}, got[1].Seasons)
	assert.Equal(t, 1, got[1].FirstSeason())
}

func TestListPendingErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"Unauthorized"}`},
		{name: "malformed", status: http.StatusOK, body: `<html>`},
		{name: "server_error", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := newTestClient(server.URL).ListPending(context.Background())
			require.Error(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestMarkAvailable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "not_found", status: http.StatusNotFound, wantErr: true},
		{name: "created_is_not_ok", status: http.StatusCreated, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/v1/media/77/available", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				body, _ := io.ReadAll(r.Body)
				assert.JSONEq(t, `{"is4k":false}`, string(body))
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := newTestClient(server.URL).MarkAvailable(context.Background(), 77)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient(Config{}, nil)
	assert.False(t, client.Configured())

	_, err := client.ListPending(context.Background())
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.True(t, errors.Is(client.MarkAvailable(context.Background(), 1), ErrNotConfigured))
}
