// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/services/acquisition"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 1000
)

// Monitor exposes the state of the acquisition service.
type Monitor interface {
	GetActivity(limit int) []acquisition.ActivityEvent
	Status() acquisition.Status
	TriggerCycle() error
}

type AcquisitionHandler struct {
	monitor Monitor
}

func NewAcquisitionHandler(monitor Monitor) *AcquisitionHandler {
	return &AcquisitionHandler{monitor: monitor}
}

// GetActivity returns recent pipeline outcomes, newest last.
func (h *AcquisitionHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxActivityLimit)
	}

	events := h.monitor.GetActivity(limit)
	if events == nil {
		events = []acquisition.ActivityEvent{}
	}
	RespondJSON(w, http.StatusOK, events)
}

func (h *AcquisitionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.monitor.Status())
}

// TriggerSync starts a poll cycle in the background.
func (h *AcquisitionHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	err := h.monitor.TriggerCycle()
	switch {
	case err == nil:
		RespondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, acquisition.ErrCycleRunning):
		RespondError(w, http.StatusConflict, "A sync cycle is already running")
	case errors.Is(err, acquisition.ErrNotStarted):
		RespondError(w, http.StatusServiceUnavailable, "Service is starting")
	default:
		log.Error().Err(err).Msg("failed to trigger sync cycle")
		RespondError(w, http.StatusInternalServerError, "Failed to start sync cycle")
	}
}
