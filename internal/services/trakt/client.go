// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package trakt maps TMDb ids to IMDb ids through the Trakt search API.
package trakt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/transport"
)

const (
	DefaultBaseURL  = "https://api.trakt.tv"
	defaultAttempts = 5
	apiVersion      = "2"
)

// ErrNotFound is returned when Trakt has no IMDb id for the requested title.
var ErrNotFound = errors.New("imdb id not found")

type Config struct {
	BaseURL string
	APIKey  string
	// Attempts bounds how often a lookup is repeated after a transport failure.
	Attempts int
}

type Client struct {
	cfg    Config
	http   *transport.Client
	group  singleflight.Group
	logger zerolog.Logger
}

func NewClient(cfg Config, httpClient *transport.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log.With().Str("module", "trakt").Logger(),
	}
}

// NewLimiter returns a token bucket pacing Trakt calls at rps requests per second.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type searchResult struct {
	Type  string  `json:"type"`
	Movie *entity `json:"movie"`
	Show  *entity `json:"show"`
}

type entity struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   struct {
		Trakt int     `json:"trakt"`
		Slug  string  `json:"slug"`
		IMDB  *string `json:"imdb"`
		TMDB  int     `json:"tmdb"`
	} `json:"ids"`
}

func searchType(kind models.MediaKind) string {
	if kind == models.MediaKindSeries {
		return "show"
	}
	return "movie"
}

// Resolve looks up the IMDb id for a TMDb id. Concurrent lookups of the same
// title share one upstream call. The shared call is detached from any single
// caller, so one caller giving up does not fail the others.
func (c *Client) Resolve(ctx context.Context, tmdbID int, kind models.MediaKind) (models.Resolution, error) {
	key := fmt.Sprintf("%s:%d", kind, tmdbID)

	ch := c.group.DoChan(key, func() (any, error) {
		return c.resolve(context.WithoutCancel(ctx), tmdbID, kind)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Trace().Str("key", key).Msg("coalesced lookup")
		}
		if res.Err != nil {
			return models.Resolution{}, res.Err
		}
		return res.Val.(models.Resolution), nil
	case <-ctx.Done():
		return models.Resolution{}, errors.Wrap(ctx.Err(), "trakt lookup abandoned")
	}
}

func (c *Client) resolve(ctx context.Context, tmdbID int, kind models.MediaKind) (models.Resolution, error) {
	endpoint := fmt.Sprintf("%s/search/tmdb/%d?type=%s", c.cfg.BaseURL, tmdbID, url.QueryEscape(searchType(kind)))

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("trakt-api-key", c.cfg.APIKey)
	header.Set("trakt-api-version", apiVersion)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		resp, err := c.http.Do(ctx, &transport.Request{Method: http.MethodGet, URL: endpoint, Header: header})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn().Err(err).Int("tmdbId", tmdbID).Int("attempt", attempt).Msg("trakt lookup failed")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return models.Resolution{}, errors.Wrapf(ErrNotFound, "trakt returned status %d", resp.StatusCode)
		}

		var results []searchResult
		if err := resp.JSON(&results); err != nil {
			return models.Resolution{}, errors.Wrap(ErrNotFound, err.Error())
		}
		return pick(results, kind)
	}

	return models.Resolution{}, errors.Wrapf(ErrNotFound, "trakt unreachable after %d attempts: %v", c.cfg.Attempts, lastErr)
}

func pick(results []searchResult, kind models.MediaKind) (models.Resolution, error) {
	if len(results) == 0 {
		return models.Resolution{}, ErrNotFound
	}

	first := results[0]
	item := first.Movie
	if kind == models.MediaKindSeries || (item == nil && first.Show != nil) {
		item = first.Show
	}
	if item == nil || item.IDs.IMDB == nil || *item.IDs.IMDB == "" {
		return models.Resolution{}, ErrNotFound
	}

	return models.Resolution{
		CanonicalID: *item.IDs.IMDB,
		Title:       item.Title,
		Year:        item.Year,
	}, nil
}
