// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/seerrlite/internal/config"
	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/queue"
	"github.com/autobrr/seerrlite/internal/services/acquisition"
)

type fakeIntake struct {
	outcome   acquisition.Outcome
	submitErr error
	processed []models.Request
	submitted []models.Request
}

func (f *fakeIntake) Process(ctx context.Context, req models.Request) acquisition.Outcome {
	f.processed = append(f.processed, req)
	return f.outcome
}

func (f *fakeIntake) Submit(ctx context.Context, req models.Request) error {
	f.submitted = append(f.submitted, req)
	return f.submitErr
}

const movieWebhook = `{
  "notification_type": "MEDIA_APPROVED",
  "event": "Movie Request Approved",
  "subject": "Fight Club (1999)",
  "message": "",
  "image": "https://image.tmdb.org/t/p/w600_and_h900_bestv2/poster.jpg",
  "media": {"media_type": "movie", "tmdbId": "550", "tvdbId": "", "status": "PENDING", "status4k": "UNKNOWN"},
  "request": {"request_id": "12", "requestedBy_username": "tyler"},
  "extra": []
}`

func postWebhook(t *testing.T, h *WebhookHandler, body string, header map[string]string) (*httptest.ResponseRecorder, WebhookResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/jellyseer-webhook/", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestWebhookInlineProcessesRequest(t *testing.T) {
	intake := &fakeIntake{outcome: acquisition.Outcome{Status: acquisition.StatusCommitted, Message: "Torrent added"}}
	h := NewWebhookHandler(intake, config.WebhookModeInline, "")

	rec, resp := postWebhook(t, h, movieWebhook, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "Torrent added", resp.Message)
	require.Len(t, intake.processed, 1)

	req := intake.processed[0]
	assert.Equal(t, 550, req.TMDBID)
	assert.Zero(t, req.TVDBID)
	assert.Equal(t, 12, req.RequestID)
	assert.Equal(t, models.MediaKindMovie, req.Kind)
	assert.Equal(t, models.RequestSourcePush, req.Source)
	assert.Zero(t, req.MediaID)
	assert.NotEmpty(t, req.TraceID)
	assert.Equal(t, req.TraceID, rec.Header().Get("X-Trace-Id"))
}

func TestWebhookInlineReportsOutcomeMessage(t *testing.T) {
	intake := &fakeIntake{outcome: acquisition.Outcome{Status: acquisition.StatusNotFound, Message: "IMDb ID not found"}}
	h := NewWebhookHandler(intake, config.WebhookModeInline, "")

	rec, resp := postWebhook(t, h, movieWebhook, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "IMDb ID not found", resp.Message)
}

func TestWebhookQueueMode(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		success bool
		message string
	}{
		{name: "queued", status: http.StatusAccepted, success: true, message: "Request queued"},
		{name: "duplicate", err: queue.ErrDuplicate, status: http.StatusConflict, message: "Request already queued"},
		{name: "closed", err: queue.ErrClosed, status: http.StatusServiceUnavailable, message: "Request queue unavailable"},
		{name: "not_started", err: acquisition.ErrNotStarted, status: http.StatusServiceUnavailable, message: "Request queue unavailable"},
		{name: "cancelled", err: errors.Wrap(context.Canceled, "push"), status: http.StatusServiceUnavailable, message: "push: context canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intake := &fakeIntake{submitErr: tt.err}
			h := NewWebhookHandler(intake, config.WebhookModeQueue, "")

			rec, resp := postWebhook(t, h, movieWebhook, nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
			assert.Len(t, intake.submitted, 1)
			assert.Empty(t, intake.processed)
		})
	}
}

func TestWebhookTestNotification(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "by_subject", body: `{"subject":"Test Notification"}`},
		{name: "by_type", body: `{"notification_type":"TEST_NOTIFICATION","event":"","subject":"x","unexpected":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intake := &fakeIntake{}
			h := NewWebhookHandler(intake, config.WebhookModeInline, "")

			rec, resp := postWebhook(t, h, tt.body, nil)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, resp.Success)
			assert.Equal(t, "Test notification received successfully", resp.Message)
			assert.Empty(t, intake.processed)
		})
	}
}

func TestWebhookValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{name: "malformed_json", body: `{"subject":`, status: http.StatusBadRequest, message: "Invalid JSON payload"},
		{name: "missing_media", body: `{"notification_type":"MEDIA_APPROVED","event":"e","subject":"s"}`, status: http.StatusUnprocessableEntity, message: "media is required"},
		{name: "missing_event", body: `{"notification_type":"MEDIA_APPROVED","subject":"s","media":{"media_type":"movie","status":"x","tmdbId":1}}`, status: http.StatusUnprocessableEntity, message: "event is required"},
		{name: "unknown_top_level_field", body: `{"notification_type":"MEDIA_APPROVED","event":"e","subject":"s","media":{"media_type":"movie","status":"x","tmdbId":1},"surprise":1}`, status: http.StatusUnprocessableEntity},
		{name: "bad_media_type", body: `{"notification_type":"MEDIA_APPROVED","event":"e","subject":"s","media":{"media_type":"music","status":"x","tmdbId":1}}`, status: http.StatusUnprocessableEntity},
		{name: "missing_tmdb", body: `{"notification_type":"MEDIA_APPROVED","event":"e","subject":"s","media":{"media_type":"movie","status":"x","tmdbId":""}}`, status: http.StatusUnprocessableEntity, message: "media.tmdbId is required"},
		{name: "non_numeric_tmdb", body: `{"notification_type":"MEDIA_APPROVED","event":"e","subject":"s","media":{"media_type":"movie","status":"x","tmdbId":"abc"}}`, status: http.StatusUnprocessableEntity},
		{name: "missing_status", body: `{"notification_type":"MEDIA_APPROVED","event":"e","subject":"s","media":{"media_type":"movie","tmdbId":5}}`, status: http.StatusUnprocessableEntity, message: "media.status is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intake := &fakeIntake{}
			h := NewWebhookHandler(intake, config.WebhookModeInline, "")

			rec, resp := postWebhook(t, h, tt.body, nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
			assert.Empty(t, intake.processed)
		})
	}
}

func TestWebhookSeriesPayload(t *testing.T) {
	body := `{
	  "notification_type": "MEDIA_AUTO_APPROVED",
	  "event": "Series Request Automatically Approved",
	  "subject": "Severance (2022)",
	  "media": {"media_type": "tv", "tmdbId": 95396, "tvdbId": "371980", "imdbId": 11280740, "status": "PENDING"},
	  "request": null,
	  "extra": [{"name": "Requested Seasons", "value": "2, 1"}, "ignored"]
	}`
	intake := &fakeIntake{outcome: acquisition.Outcome{Status: acquisition.StatusCommitted, Message: "Torrent added"}}
	h := NewWebhookHandler(intake, config.WebhookModeInline, "")

	rec, _ := postWebhook(t, h, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, intake.processed, 1)

	req := intake.processed[0]
	assert.Equal(t, models.MediaKindSeries, req.Kind)
	assert.Equal(t, 95396, req.TMDBID)
	assert.Equal(t, 371980, req.TVDBID)
	assert.Equal(t, "tt11280740", req.IMDBID)
	assert.Equal(t, []int{2, 1}, req.Seasons)
	assert.Equal(t, 1, req.FirstSeason())
}

func TestWebhookSecret(t *testing.T) {
	intake := &fakeIntake{outcome: acquisition.Outcome{Status: acquisition.StatusCommitted, Message: "Torrent added"}}
	h := NewWebhookHandler(intake, config.WebhookModeInline, "s3cret")

	rec, resp := postWebhook(t, h, movieWebhook, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)

	rec, resp = postWebhook(t, h, movieWebhook, map[string]string{"Authorization": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Len(t, intake.processed, 1)
}

func TestFlexIMDB(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: `"tt0137523"`, want: "tt0137523"},
		{input: `137523`, want: "tt0137523"},
		{input: `null`, want: ""},
		{input: `""`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var got flexIMDB
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, string(got))
		})
	}
}
