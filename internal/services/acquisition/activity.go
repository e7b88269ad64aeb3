// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package acquisition

import (
	"strings"
	"time"

	"github.com/autobrr/seerrlite/internal/models"
)

const defaultHistorySize = 200

// ActivityEvent records the outcome of processing one request.
type ActivityEvent struct {
	TraceID      string               `json:"traceId"`
	RequestID    int                  `json:"requestId,omitempty"`
	MediaID      int                  `json:"mediaId,omitempty"`
	TMDBID       int                  `json:"tmdbId"`
	Kind         models.MediaKind     `json:"kind"`
	Source       models.RequestSource `json:"source"`
	Mode         models.SelectionMode `json:"mode"`
	Outcome      OutcomeStatus        `json:"outcome"`
	Message      string               `json:"message"`
	Hash         string               `json:"hash,omitempty"`
	Title        string               `json:"title,omitempty"`
	TorrentID    string               `json:"torrentId,omitempty"`
	Acknowledged bool                 `json:"acknowledged"`
	Timestamp    time.Time            `json:"timestamp"`
}

func (s *Service) recordActivity(req models.Request, outcome Outcome, acknowledged bool) {
	if s == nil {
		return
	}

	event := ActivityEvent{
		TraceID:      req.TraceID,
		RequestID:    req.RequestID,
		MediaID:      req.MediaID,
		TMDBID:       req.TMDBID,
		Kind:         req.Kind,
		Source:       req.Source,
		Mode:         outcome.Mode,
		Outcome:      outcome.Status,
		Message:      strings.TrimSpace(outcome.Message),
		TorrentID:    outcome.Commit.TorrentID,
		Acknowledged: acknowledged,
		Timestamp:    s.currentTime(),
	}
	if outcome.Selected != nil {
		event.Hash = outcome.Selected.ContentHash
		event.Title = outcome.Selected.MagnetName()
	}
	if outcome.Status == StatusCommitFailed && outcome.Commit.Message != "" {
		event.Message += ": " + outcome.Commit.Message
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	limit := s.historyCap
	if limit <= 0 {
		limit = defaultHistorySize
	}
	s.history = append(s.history, event)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

// GetActivity returns the most recent activity events, newest last.
func (s *Service) GetActivity(limit int) []ActivityEvent {
	if s == nil {
		return nil
	}
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	events := s.history
	if len(events) == 0 {
		return nil
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]ActivityEvent, len(events))
	copy(out, events)
	return out
}
