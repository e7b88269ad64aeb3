// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ranking decides whether a release is worth fetching and how it
// compares to the other candidates for the same request.
package ranking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/models"
)

// Ranker classifies a candidate. expectedTitle is the resolved title of the
// requested media and may be empty.
type Ranker interface {
	Rank(ctx context.Context, candidate models.ReleaseCandidate, expectedTitle string) models.RankOutcome
}

type protected struct {
	inner Ranker
}

// Protect wraps a Ranker so that a panic while ranking yields a Garbage verdict.
func Protect(r Ranker) Ranker {
	if p, ok := r.(protected); ok {
		return p
	}
	return protected{inner: r}
}

func (p protected) Rank(ctx context.Context, candidate models.ReleaseCandidate, expectedTitle string) (outcome models.RankOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("module", "ranking").
				Str("hash", candidate.ContentHash).
				Str("title", candidate.DisplayTitle).
				Interface("panic", rec).
				Msg("ranker panicked")
			outcome = models.Garbage(fmt.Sprintf("ranker panic: %v", rec))
		}
	}()
	return p.inner.Rank(ctx, candidate, expectedTitle)
}
