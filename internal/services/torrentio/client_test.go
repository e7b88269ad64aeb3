// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/transport"
)

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, Options: DefaultOptions}, transport.NewClient(transport.Config{
		Service:   "torrentio",
		BaseDelay: time.Millisecond,
	}))
}

func TestStreamURL(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://torrentio.example/", Options: "/qualityfilter=scr,cam/"}, nil)

	tests := []struct {
		name   string
		kind   models.MediaKind
		season int
		want   string
	}{
		{name: "movie", kind: models.MediaKindMovie, want: "https://torrentio.example/qualityfilter=scr,cam/stream/movie/tt0137523.json"},
		{name: "series_default_season", kind: models.MediaKindSeries, want: "https://torrentio.example/qualityfilter=scr,cam/stream/series/tt0137523:1:1.json"},
		{name: "series_requested_season", kind: models.MediaKindSeries, season: 3, want: "https://torrentio.example/qualityfilter=scr,cam/stream/series/tt0137523:3:1.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.StreamURL("tt0137523", tt.kind, tt.season))
		})
	}

	bare := NewClient(Config{BaseURL: "https://torrentio.example"}, nil)
	assert.Equal(t, "https://torrentio.example/stream/movie/tt1.json", bare.StreamURL("tt1", models.MediaKindMovie, 0))
}

func TestDiscover(t *testing.T) {
	body := `{"streams":[
		{"name":"Torrentio\n1080p","title":"Fight.Club.1999.1080p.BluRay.x264-GRP\n👤 120 💾 8.2 GB","infoHash":"` + "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA" + `","fileIdx":2},
		{"name":"Torrentio\n720p","title":"","infoHash":"` + hashB + `"},
		{"name":"Torrentio\n720p","title":"Fight.Club.1999.720p.WEB-DL","infoHash":"not-a-hash"},
		{"name":"Torrentio\n2160p","title":"Fight.Club.1999.2160p.UHD.BluRay","infoHash":"` + hashB + `"},
		{"name":"Torrentio\n480p","title":"Fight.Club.1999.480p"}
	]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/qualityfilter=scr,cam/stream/movie/tt0137523.json", r.URL.Path)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).Discover(context.Background(), "tt0137523", models.MediaKindMovie, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.ReleaseCandidate{
		ContentHash:   hashA,
		DisplayTitle:  "Fight.Club.1999.1080p.BluRay.x264-GRP",
		RawTitle:      "Fight.Club.1999.1080p.BluRay.x264-GRP\n👤 120 💾 8.2 GB",
		FileIndexHint: 2,
		HasFileIndex:  true,
		Position:      0,
	}, got[0])

	assert.Equal(t, hashB, got[1].ContentHash)
	assert.False(t, got[1].HasFileIndex)
	assert.Equal(t, 1, got[1].Position)
}

func TestDiscoverFailuresAreEmpty(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "no_streams", status: http.StatusOK, body: `{"streams":[]}`},
		{name: "missing_streams_key", status: http.StatusOK, body: `{}`},
		{name: "not_found", status: http.StatusNotFound, body: `not found`},
		{name: "malformed", status: http.StatusOK, body: `<html>`},
		{name: "server_error", status: http.StatusBadGateway, body: ``},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(Config{BaseURL: server.URL}, transport.NewClient(transport.Config{
				Service:   "torrentio",
				Retries:   1,
				BaseDelay: time.Millisecond,
			}))
			got, err := client.Discover(context.Background(), "tt1", models.MediaKindSeries, 1)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}
