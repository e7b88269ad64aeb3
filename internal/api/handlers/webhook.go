// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/config"
	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/queue"
	"github.com/autobrr/seerrlite/internal/services/acquisition"
)

const (
	maxWebhookBody = 1 << 20

	testNotificationSubject = "Test Notification"
	testNotificationType    = "TEST_NOTIFICATION"
	requestedSeasonsExtra   = "Requested Seasons"

	msgTestReceived = "Test notification received successfully"
	msgQueued       = "Request queued"
	msgDuplicate    = "Request already queued"
	msgUnavailable  = "Request queue unavailable"
)

// Intake accepts pushed requests either inline or through the push queue.
type Intake interface {
	Process(ctx context.Context, req models.Request) acquisition.Outcome
	Submit(ctx context.Context, req models.Request) error
}

// WebhookResponse is the reply envelope Overseerr and Jellyseerr expect.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type WebhookHandler struct {
	intake Intake
	mode   string
	secret string
	logger zerolog.Logger
}

// NewWebhookHandler returns the push intake handler. mode is config.WebhookModeInline
// or config.WebhookModeQueue. A non-empty secret must match the Authorization header.
func NewWebhookHandler(intake Intake, mode, secret string) *WebhookHandler {
	if mode != config.WebhookModeQueue {
		mode = config.WebhookModeInline
	}
	return &WebhookHandler{
		intake: intake,
		mode:   mode,
		secret: secret,
		logger: log.With().Str("module", "webhook").Logger(),
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(h.secret)) != 1 {
		respondWebhook(w, http.StatusUnauthorized, false, "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWebhook(w, http.StatusRequestEntityTooLarge, false, "Request body too large")
		return
	}

	var peek struct {
		NotificationType string `json:"notification_type"`
		Subject          string `json:"subject"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		h.logger.Warn().Err(err).Msg("failed to decode webhook payload")
		respondWebhook(w, http.StatusBadRequest, false, "Invalid JSON payload")
		return
	}
	if peek.Subject == testNotificationSubject || peek.NotificationType == testNotificationType {
		h.logger.Info().Msg("test notification received")
		respondWebhook(w, http.StatusOK, true, msgTestReceived)
		return
	}

	payload, err := decodeWebhook(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("invalid webhook payload")
		respondWebhook(w, http.StatusUnprocessableEntity, false, err.Error())
		return
	}

	req, err := payload.toRequest()
	if err != nil {
		respondWebhook(w, http.StatusUnprocessableEntity, false, err.Error())
		return
	}
	w.Header().Set("X-Trace-Id", req.TraceID)

	h.logger.Info().
		Str("traceId", req.TraceID).
		Str("event", payload.Event).
		Int("tmdbId", req.TMDBID).
		Str("kind", req.Kind.String()).
		Str("mode", h.mode).
		Msg("webhook received")

	if h.mode == config.WebhookModeQueue {
		h.enqueue(w, r, req)
		return
	}

	outcome := h.intake.Process(r.Context(), req)
	respondWebhook(w, http.StatusOK, outcome.Committed(), outcome.Message)
}

func (h *WebhookHandler) enqueue(w http.ResponseWriter, r *http.Request, req models.Request) {
	err := h.intake.Submit(r.Context(), req)
	switch {
	case err == nil:
		respondWebhook(w, http.StatusAccepted, true, msgQueued)
	case errors.Is(err, queue.ErrDuplicate):
		respondWebhook(w, http.StatusConflict, false, msgDuplicate)
	case errors.Is(err, queue.ErrClosed), errors.Is(err, acquisition.ErrNotStarted):
		respondWebhook(w, http.StatusServiceUnavailable, false, msgUnavailable)
	default:
		h.logger.Error().Err(err).Str("traceId", req.TraceID).Msg("failed to queue request")
		respondWebhook(w, http.StatusServiceUnavailable, false, err.Error())
	}
}

func respondWebhook(w http.ResponseWriter, status int, success bool, message string) {
	RespondJSON(w, status, WebhookResponse{Success: success, Message: message})
}

type webhookPayload struct {
	NotificationType *string           `json:"notification_type"`
	Event            *string           `json:"event"`
	Subject          *string           `json:"subject"`
	Message          *string           `json:"message"`
	Image            *string           `json:"image"`
	Media            json.RawMessage   `json:"media"`
	Request          json.RawMessage   `json:"request"`
	Extra            []json.RawMessage `json:"extra"`
}

type webhookMedia struct {
	MediaType *string  `json:"media_type"`
	Status    *string  `json:"status"`
	TMDBID    flexInt  `json:"tmdbId"`
	TVDBID    flexInt  `json:"tvdbId"`
	IMDBID    flexIMDB `json:"imdbId"`
}

type webhookRequest struct {
	RequestID flexInt `json:"request_id"`
}

type webhookExtra struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type decodedWebhook struct {
	Event   string
	Media   webhookMedia
	Request webhookRequest
	Extra   []webhookExtra
}

func decodeWebhook(body []byte) (*decodedWebhook, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var payload webhookPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "invalid payload")
	}

	switch {
	case payload.NotificationType == nil:
		return nil, errors.New("notification_type is required")
	case payload.Event == nil:
		return nil, errors.New("event is required")
	case payload.Subject == nil:
		return nil, errors.New("subject is required")
	case isNull(payload.Media):
		return nil, errors.New("media is required")
	}

	out := &decodedWebhook{Event: *payload.Event}
	if err := json.Unmarshal(payload.Media, &out.Media); err != nil {
		return nil, errors.Wrap(err, "invalid media")
	}
	if out.Media.MediaType == nil {
		return nil, errors.New("media.media_type is required")
	}
	if out.Media.Status == nil {
		return nil, errors.New("media.status is required")
	}
	if !out.Media.TMDBID.Set {
		return nil, errors.New("media.tmdbId is required")
	}

	if !isNull(payload.Request) {
		if err := json.Unmarshal(payload.Request, &out.Request); err != nil {
			return nil, errors.Wrap(err, "invalid request")
		}
	}

	for _, raw := range payload.Extra {
		var extra webhookExtra
		// extra entries are free-form; anything that is not a name/value pair is ignored
		if json.Unmarshal(raw, &extra) == nil && extra.Name != "" {
			out.Extra = append(out.Extra, extra)
		}
	}

	return out, nil
}

func (p *decodedWebhook) toRequest() (models.Request, error) {
	kind, err := parseWebhookMediaType(*p.Media.MediaType)
	if err != nil {
		return models.Request{}, err
	}
	if p.Media.TMDBID.Value <= 0 {
		return models.Request{}, errors.New("media.tmdbId must be positive")
	}

	return models.Request{
		TraceID:   uuid.NewString(),
		RequestID: p.Request.RequestID.Value,
		TMDBID:    p.Media.TMDBID.Value,
		TVDBID:    p.Media.TVDBID.Value,
		IMDBID:    string(p.Media.IMDBID),
		Kind:      kind,
		Seasons:   p.requestedSeasons(),
		Source:    models.RequestSourcePush,
	}, nil
}

func (p *decodedWebhook) requestedSeasons() []int {
	var seasons []int
	for _, extra := range p.Extra {
		if !strings.EqualFold(extra.Name, requestedSeasonsExtra) {
			continue
		}
		for _, part := range strings.Split(extra.Value, ",") {
			if season, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && season > 0 {
				seasons = append(seasons, season)
			}
		}
	}
	return seasons
}

func parseWebhookMediaType(value string) (models.MediaKind, error) {
	switch value {
	case "movie":
		return models.MediaKindMovie, nil
	case "tv":
		return models.MediaKindSeries, nil
	default:
		return "", fmt.Errorf("media.media_type must be \"movie\" or \"tv\", got %q", value)
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// flexInt accepts a JSON number, a string of digits, an empty string or null.
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return fmt.Errorf("%q is not a numeric id", s)
		}
		f.Value, f.Set = n, true
		return nil
	}

	var n int
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("%s is not a numeric id", trimmed)
	}
	f.Value, f.Set = n, true
	return nil
}

// flexIMDB accepts an IMDb id as a string or as its bare numeric part.
type flexIMDB string

func (f *flexIMDB) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexIMDB(strings.TrimSpace(s))
		return nil
	}

	var n int
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("%s is not a valid imdb id", trimmed)
	}
	if n > 0 {
		*f = flexIMDB(fmt.Sprintf("tt%07d", n))
	}
	return nil
}
