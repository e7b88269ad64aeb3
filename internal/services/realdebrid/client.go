// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package realdebrid talks to the Real-Debrid REST API: instant availability
// lookups and torrent submission.
package realdebrid

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/autobrr/seerrlite/internal/transport"
)

const DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

type Config struct {
	BaseURL string
	APIKey  string
	// TokenSource overrides the static API key, e.g. for device-flow tokens.
	TokenSource oauth2.TokenSource
}

type Client struct {
	baseURL string
	tokens  oauth2.TokenSource
	http    *transport.Client
	logger  zerolog.Logger
}

func NewClient(cfg Config, httpClient *transport.Client) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	tokens := cfg.TokenSource
	if tokens == nil {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	}

	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    httpClient,
		logger:  log.With().Str("module", "realdebrid").Logger(),
	}
}

func (c *Client) header() (http.Header, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, errors.Wrap(err, "real-debrid token")
	}
	header := http.Header{}
	header.Set("Authorization", token.Type()+" "+token.AccessToken)
	return header, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) (*transport.Response, error) {
	header, err := c.header()
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return c.http.Do(ctx, &transport.Request{
		Method: method,
		URL:    c.baseURL + path,
		Header: header,
		Body:   body,
	})
}
