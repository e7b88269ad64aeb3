// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package overseerr reads approved requests from Overseerr or Jellyseerr and
// reports media as available once it has been acquired.
package overseerr

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/transport"
)

const DefaultPageSize = 1000

var ErrNotConfigured = errors.New("overseerr host or api key not configured")

type Config struct {
	Host     string
	APIKey   string
	PageSize int
}

type Client struct {
	cfg    Config
	http   *transport.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, httpClient *transport.Client) *Client {
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log.With().Str("module", "overseerr").Logger(),
	}
}

func (c *Client) Configured() bool {
	return c.cfg.Host != "" && c.cfg.APIKey != ""
}

type requestPage struct {
	PageInfo struct {
		Pages   int `json:"pages"`
		Results int `json:"results"`
	} `json:"pageInfo"`
	Results []mediaRequest `json:"results"`
}

type mediaRequest struct {
	ID      int    `json:"id"`
	Status  int    `json:"status"`
	Type    string `json:"type"`
	Is4K    bool   `json:"is4k"`
	Media   *media `json:"media"`
	Seasons []struct {
		SeasonNumber int `json:"seasonNumber"`
	} `json:"seasons"`
}

type media struct {
	ID        int     `json:"id"`
	MediaType string  `json:"mediaType"`
	TMDBID    int     `json:"tmdbId"`
	TVDBID    *int    `json:"tvdbId"`
	IMDBID    *string `json:"imdbId"`
	Status    int     `json:"status"`
}

func (c *Client) header() http.Header {
	header := http.Header{}
	header.Set("X-Api-Key", c.cfg.APIKey)
	header.Set("Accept", "application/json")
	return header
}

// ListPending returns approved requests whose media is still processing.
func (c *Client) ListPending(ctx context.Context) ([]models.Request, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/api/v1/request?take=%d&filter=approved&sort=added", c.cfg.Host, c.cfg.PageSize)
	resp, err := c.http.Do(ctx, &transport.Request{Method: http.MethodGet, URL: endpoint, Header: c.header()})
	if err != nil {
		return nil, errors.Wrap(err, "fetch overseerr requests")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch overseerr requests: unexpected status %d", resp.StatusCode)
	}

	var page requestPage
	if err := resp.JSON(&page); err != nil {
		return nil, errors.Wrap(err, "fetch overseerr requests")
	}

	pending := make([]models.Request, 0, len(page.Results))
	for _, item := range page.Results {
		req, ok := c.toRequest(item)
		if !ok {
			continue
		}
		pending = append(pending, req)
	}

	c.logger.Debug().Int("fetched", len(page.Results)).Int("pending", len(pending)).Msg("listed overseerr requests")
	return pending, nil
}

func (c *Client) toRequest(item mediaRequest) (models.Request, bool) {
	if item.Media == nil || item.Status != models.RequestStatusApproved || item.Media.Status != models.MediaStatusProcessing {
		return models.Request{}, false
	}

	mediaType := item.Media.MediaType
	if mediaType == "" {
		mediaType = item.Type
	}
	kind, err := models.ParseMediaKind(mediaType)
	if err != nil {
		c.logger.Warn().Int("requestId", item.ID).Str("mediaType", mediaType).Msg("skipping request with unsupported media type")
		return models.Request{}, false
	}

	req := models.Request{
		TraceID:           uuid.NewString(),
		RequestID:         item.ID,
		MediaID:           item.Media.ID,
		TMDBID:            item.Media.TMDBID,
		Kind:              kind,
		ApprovalState:     item.Status,
		AvailabilityState: item.Media.Status,
		Source:            models.RequestSourcePoll,
	}
	if item.Media.TVDBID != nil {
		req.TVDBID = *item.Media.TVDBID
	}
	if item.Media.IMDBID != nil {
		req.IMDBID = *item.Media.IMDBID
	}
	for _, season := range item.Seasons {
		req.Seasons = append(req.Seasons, season.SeasonNumber)
	}
	return req, true
}

// MarkAvailable flags the media as available (non-4K).
func (c *Client) MarkAvailable(ctx context.Context, mediaID int) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	header := c.header()
	header.Set("Content-Type", "application/json")

	endpoint := fmt.Sprintf("%s/api/v1/media/%d/available", c.cfg.Host, mediaID)
	resp, err := c.http.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: header,
		Body:   []byte(`{"is4k":false}`),
	})
	if err != nil {
		return errors.Wrapf(err, "mark media %d available", mediaID)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("mark media %d available: unexpected status %d", mediaID, resp.StatusCode)
	}

	c.logger.Info().Int("mediaId", mediaID).Msg("marked media as available")
	return nil
}
