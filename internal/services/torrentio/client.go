// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentio discovers release candidates through the Torrentio Stremio addon.
package torrentio

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/transport"
)

const (
	DefaultBaseURL = "https://torrentio.strem.fun"
	DefaultOptions = "qualityfilter=scr,cam"
)

type Config struct {
	BaseURL string
	// Options is the addon configuration path segment, e.g. "qualityfilter=scr,cam".
	Options string
}

type Client struct {
	cfg    Config
	http   *transport.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, httpClient *transport.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Options = strings.Trim(cfg.Options, "/")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log.With().Str("module", "torrentio").Logger(),
	}
}

type streamsResponse struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	InfoHash string `json:"infoHash"`
	FileIdx  *int   `json:"fileIdx"`
}

// StreamURL builds the addon URL for a title. Series always point at the first
// episode of the given season.
func (c *Client) StreamURL(imdbID string, kind models.MediaKind, season int) string {
	prefix := c.cfg.BaseURL
	if c.cfg.Options != "" {
		prefix += "/" + c.cfg.Options
	}
	if kind == models.MediaKindSeries {
		if season <= 0 {
			season = 1
		}
		return fmt.Sprintf("%s/stream/series/%s:%d:1.json", prefix, imdbID, season)
	}
	return fmt.Sprintf("%s/stream/movie/%s.json", prefix, imdbID)
}

// Discover returns the candidates for a title in upstream order. Upstream failures
// yield an empty result.
func (c *Client) Discover(ctx context.Context, imdbID string, kind models.MediaKind, season int) ([]models.ReleaseCandidate, error) {
	endpoint := c.StreamURL(imdbID, kind, season)

	resp, err := c.http.Do(ctx, &transport.Request{Method: http.MethodGet, URL: endpoint})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error().Err(err).Str("imdbId", imdbID).Msg("torrentio query failed")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Str("imdbId", imdbID).Msg("torrentio returned unexpected status")
		return nil, nil
	}

	var payload streamsResponse
	if err := resp.JSON(&payload); err != nil {
		c.logger.Error().Err(err).Str("imdbId", imdbID).Msg("could not decode torrentio response")
		return nil, nil
	}

	candidates := make([]models.ReleaseCandidate, 0, len(payload.Streams))
	for _, s := range payload.Streams {
		candidate, ok := toCandidate(s)
		if !ok {
			continue
		}
		candidate.Position = len(candidates)
		candidates = append(candidates, candidate)
	}

	c.logger.Debug().Str("imdbId", imdbID).Int("streams", len(payload.Streams)).Int("candidates", len(candidates)).Msg("discovered candidates")
	return candidates, nil
}

func toCandidate(s stream) (models.ReleaseCandidate, bool) {
	if s.InfoHash == "" || strings.TrimSpace(s.Title) == "" {
		return models.ReleaseCandidate{}, false
	}

	var hash metainfo.Hash
	if err := hash.FromHexString(strings.ToLower(strings.TrimSpace(s.InfoHash))); err != nil {
		return models.ReleaseCandidate{}, false
	}

	display, _, _ := strings.Cut(s.Title, "\n")

	candidate := models.ReleaseCandidate{
		ContentHash:  hash.HexString(),
		DisplayTitle: strings.TrimSpace(display),
		RawTitle:     s.Title,
	}
	if s.FileIdx != nil {
		candidate.FileIndexHint = *s.FileIdx
		candidate.HasFileIndex = true
	}
	return candidate, true
}
