// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"strings"
)

// MediaKind is the kind of media a request asks for.
type MediaKind string

const (
	MediaKindMovie  MediaKind = "movie"
	MediaKindSeries MediaKind = "tv"
)

// ParseMediaKind accepts the Overseerr media type spellings.
func ParseMediaKind(value string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "movie":
		return MediaKindMovie, nil
	case "tv", "show", "series":
		return MediaKindSeries, nil
	default:
		return "", fmt.Errorf("unsupported media type %q", value)
	}
}

func (k MediaKind) String() string {
	return string(k)
}

// RequestSource identifies which intake path produced a request.
type RequestSource string

const (
	RequestSourcePush RequestSource = "push"
	RequestSourcePoll RequestSource = "poll"
)

// Overseerr request and media states.
const (
	RequestStatusPendingApproval = 1
	RequestStatusApproved        = 2
	RequestStatusDeclined        = 3

	MediaStatusUnknown            = 1
	MediaStatusPending            = 2
	MediaStatusProcessing         = 3
	MediaStatusPartiallyAvailable = 4
	MediaStatusAvailable          = 5
)

// Request is a single media request observed from Overseerr or Jellyseerr.
type Request struct {
	TraceID           string        `json:"traceId"`
	RequestID         int           `json:"requestId,omitempty"`
	MediaID           int           `json:"mediaId,omitempty"`
	TMDBID            int           `json:"tmdbId"`
	TVDBID            int           `json:"tvdbId,omitempty"`
	IMDBID            string        `json:"imdbId,omitempty"`
	Kind              MediaKind     `json:"kind"`
	Seasons           []int         `json:"seasons,omitempty"`
	ApprovalState     int           `json:"approvalState,omitempty"`
	AvailabilityState int           `json:"availabilityState,omitempty"`
	Source            RequestSource `json:"source"`
}

// Key identifies the media a request refers to. Requests sharing a key are duplicates.
func (r Request) Key() string {
	if r.MediaID > 0 {
		return fmt.Sprintf("media:%d", r.MediaID)
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.TMDBID)
}

// FirstSeason returns the lowest requested season, or 1.
func (r Request) FirstSeason() int {
	first := 0
	for _, season := range r.Seasons {
		if season <= 0 {
			continue
		}
		if first == 0 || season < first {
			first = season
		}
	}
	if first == 0 {
		return 1
	}
	return first
}

// Acknowledgeable reports whether the request can be marked available upstream.
func (r Request) Acknowledgeable() bool {
	return r.MediaID > 0
}

// Resolution is the outcome of mapping a TMDb id to an IMDb id.
type Resolution struct {
	CanonicalID string `json:"canonicalId"`
	Title       string `json:"title,omitempty"`
	Year        int    `json:"year,omitempty"`
}

// SelectionMode names a candidate selection strategy.
type SelectionMode string

const (
	// SelectionEarlyAccept commits the first available, accepted candidate in discovery order.
	SelectionEarlyAccept SelectionMode = "early"
	// SelectionBestOfBatch ranks a capped batch of available candidates and commits the best.
	SelectionBestOfBatch SelectionMode = "best"
)

func ParseSelectionMode(value string) (SelectionMode, error) {
	switch SelectionMode(strings.ToLower(strings.TrimSpace(value))) {
	case SelectionEarlyAccept:
		return SelectionEarlyAccept, nil
	case SelectionBestOfBatch:
		return SelectionBestOfBatch, nil
	default:
		return "", fmt.Errorf("unknown selection mode %q", value)
	}
}
