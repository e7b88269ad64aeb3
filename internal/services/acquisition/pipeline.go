// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package acquisition turns media requests into Real-Debrid downloads and keeps
// track of what happened to each of them.
package acquisition

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/metrics"
	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/services/ranking"
)

const (
	DefaultMaxHashesToCheck = 5
	DefaultTopCandidates    = 5
)

type Resolver interface {
	Resolve(ctx context.Context, tmdbID int, kind models.MediaKind) (models.Resolution, error)
}

type Discoverer interface {
	Discover(ctx context.Context, imdbID string, kind models.MediaKind, season int) ([]models.ReleaseCandidate, error)
}

// Debrid checks instant availability and submits releases.
type Debrid interface {
	CheckAvailability(ctx context.Context, hashes []string) map[string]models.AvailabilityRecord
	Commit(ctx context.Context, hash, name string, fileIndex int, kind models.MediaKind) models.CommitResult
}

// OutcomeStatus is the terminal state of one pipeline run.
type OutcomeStatus string

const (
	StatusCommitted    OutcomeStatus = "committed"
	StatusNotFound     OutcomeStatus = "not_found"
	StatusNoCandidates OutcomeStatus = "no_candidates"
	StatusNoEligible   OutcomeStatus = "no_eligible"
	StatusCommitFailed OutcomeStatus = "commit_failed"
	StatusError        OutcomeStatus = "error"
)

const (
	msgCommitted    = "Torrent added"
	msgNotFound     = "IMDb ID not found"
	msgNoCandidates = "No torrents found"
	msgNoEligible   = "No torrents available on Real-Debrid"
	msgCommitFailed = "Failed to add torrent to Real-Debrid"
)

// Outcome describes the result of processing a request.
type Outcome struct {
	Status     OutcomeStatus        `json:"status"`
	Message    string               `json:"message"`
	Mode       models.SelectionMode `json:"mode"`
	Resolution models.Resolution    `json:"resolution"`
	// Discovered is the number of candidates returned by discovery.
	Discovered int `json:"discovered"`
	// Checked is the number of distinct hashes checked for availability.
	Checked     int                      `json:"checked"`
	Ranked      []models.RankedCandidate `json:"ranked,omitempty"`
	Selected    *models.RankedCandidate  `json:"selected,omitempty"`
	Commit      models.CommitResult      `json:"commit"`
	AllRejected bool                     `json:"allRejected,omitempty"`
}

func (o Outcome) Committed() bool {
	return o.Status == StatusCommitted
}

type PipelineConfig struct {
	MaxHashesToCheck int
	TopCandidates    int
}

// Pipeline runs resolution, discovery, availability, ranking and commit for a
// single request. Steps run sequentially; a Pipeline is safe for concurrent use.
type Pipeline struct {
	cfg        PipelineConfig
	resolver   Resolver
	discoverer Discoverer
	debrid     Debrid
	ranker     ranking.Ranker
	metrics    *metrics.Metrics
}

func NewPipeline(cfg PipelineConfig, resolver Resolver, discoverer Discoverer, debrid Debrid, ranker ranking.Ranker, m *metrics.Metrics) *Pipeline {
	if cfg.MaxHashesToCheck <= 0 {
		cfg.MaxHashesToCheck = DefaultMaxHashesToCheck
	}
	if cfg.TopCandidates <= 0 {
		cfg.TopCandidates = DefaultTopCandidates
	}
	return &Pipeline{
		cfg:        cfg,
		resolver:   resolver,
		discoverer: discoverer,
		debrid:     debrid,
		ranker:     ranking.Protect(ranker),
		metrics:    m,
	}
}

// Process runs the request through the pipeline using the given selection mode.
func (p *Pipeline) Process(ctx context.Context, req models.Request, mode models.SelectionMode) Outcome {
	start := time.Now()
	logger := log.With().
		Str("module", "acquisition").
		Str("traceId", req.TraceID).
		Str("kind", req.Kind.String()).
		Int("tmdbId", req.TMDBID).
		Str("mode", string(mode)).
		Logger()

	outcome := p.process(ctx, logger, req, mode)
	outcome.Mode = mode
	p.metrics.ObserveOutcome(string(outcome.Status), string(mode), time.Since(start))

	event := logger.Info()
	if !outcome.Committed() {
		event = logger.Warn()
	}
	event.Str("status", string(outcome.Status)).Dur("elapsed", time.Since(start)).Msg(outcome.Message)
	return outcome
}

func (p *Pipeline) process(ctx context.Context, logger zerolog.Logger, req models.Request, mode models.SelectionMode) Outcome {
	resolution, err := p.resolve(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Status: StatusError, Message: ctx.Err().Error()}
		}
		logger.Debug().Err(err).Msg("identifier resolution failed")
		return Outcome{Status: StatusNotFound, Message: msgNotFound}
	}
	logger = logger.With().Str("imdbId", resolution.CanonicalID).Logger()
	logger.Debug().Str("title", resolution.Title).Int("year", resolution.Year).Msg("resolved imdb id")

	candidates, err := p.discoverer.Discover(ctx, resolution.CanonicalID, req.Kind, req.FirstSeason())
	if err != nil {
		return Outcome{Status: StatusError, Message: err.Error(), Resolution: resolution}
	}
	if len(candidates) == 0 {
		return Outcome{Status: StatusNoCandidates, Message: msgNoCandidates, Resolution: resolution}
	}
	logger.Debug().Int("candidates", len(candidates)).Msg("discovered candidates")

	var outcome Outcome
	switch mode {
	case models.SelectionBestOfBatch:
		outcome = p.bestOfBatch(ctx, logger, req, resolution, candidates)
	default:
		outcome = p.earlyAccept(ctx, logger, req, resolution, candidates)
	}
	outcome.Resolution = resolution
	outcome.Discovered = len(candidates)
	return outcome
}

func (p *Pipeline) resolve(ctx context.Context, req models.Request) (models.Resolution, error) {
	if req.IMDBID != "" {
		return models.Resolution{CanonicalID: req.IMDBID}, nil
	}
	return p.resolver.Resolve(ctx, req.TMDBID, req.Kind)
}

// earlyAccept checks candidates one at a time in discovery order and commits the
// first one that is both available and accepted.
func (p *Pipeline) earlyAccept(ctx context.Context, logger zerolog.Logger, req models.Request, resolution models.Resolution, candidates []models.ReleaseCandidate) Outcome {
	checked := make(map[string]struct{}, len(candidates))

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return Outcome{Status: StatusError, Message: err.Error(), Checked: len(checked)}
		}
		if _, seen := checked[candidate.ContentHash]; seen {
			continue
		}
		checked[candidate.ContentHash] = struct{}{}

		record := p.debrid.CheckAvailability(ctx, []string{candidate.ContentHash})[candidate.ContentHash]
		if !record.Available() {
			logger.Debug().Str("hash", candidate.ContentHash).Msg("not instantly available")
			continue
		}

		rank := p.ranker.Rank(ctx, candidate, resolution.Title)
		if rank.Verdict != models.RankAccepted {
			logger.Debug().Str("hash", candidate.ContentHash).Str("verdict", rank.Verdict.String()).Str("reason", rank.Reason).Msg("skipping candidate")
			continue
		}

		ranked := toRanked(candidate, rank)
		outcome := p.commit(ctx, logger, req, ranked)
		outcome.Checked = len(checked)
		outcome.Ranked = []models.RankedCandidate{ranked}
		return outcome
	}

	return Outcome{Status: StatusNoEligible, Message: msgNoEligible, Checked: len(checked)}
}

// bestOfBatch checks a capped batch of distinct hashes in one call, ranks the
// available ones and commits the highest scoring.
func (p *Pipeline) bestOfBatch(ctx context.Context, logger zerolog.Logger, req models.Request, resolution models.Resolution, candidates []models.ReleaseCandidate) Outcome {
	limit := p.cfg.MaxHashesToCheck
	batch := make([]models.ReleaseCandidate, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, candidate := range candidates {
		if _, dup := seen[candidate.ContentHash]; dup {
			continue
		}
		seen[candidate.ContentHash] = struct{}{}
		batch = append(batch, candidate)
		if len(batch) == limit {
			break
		}
	}

	hashes := make([]string, len(batch))
	for i, candidate := range batch {
		hashes[i] = candidate.ContentHash
	}
	availability := p.debrid.CheckAvailability(ctx, hashes)
	if err := ctx.Err(); err != nil {
		return Outcome{Status: StatusError, Message: err.Error(), Checked: len(batch)}
	}

	var (
		accepted   []models.RankedCandidate
		rejections int
	)
	for _, candidate := range batch {
		if !availability[candidate.ContentHash].Available() {
			logger.Debug().Str("hash", candidate.ContentHash).Msg("not instantly available")
			continue
		}
		rank := p.ranker.Rank(ctx, candidate, resolution.Title)
		if rank.Verdict != models.RankAccepted {
			rejections++
			logger.Debug().Str("hash", candidate.ContentHash).Str("verdict", rank.Verdict.String()).Str("reason", rank.Reason).Msg("skipping candidate")
			continue
		}
		accepted = append(accepted, toRanked(candidate, rank))
	}

	allRejected := len(batch) == limit && rejections == limit
	if allRejected {
		logger.Info().Int("checked", len(batch)).Msg("all checked torrents were rejected")
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Score > accepted[j].Score
	})
	if len(accepted) > p.cfg.TopCandidates {
		accepted = accepted[:p.cfg.TopCandidates]
	}

	if len(accepted) == 0 {
		return Outcome{Status: StatusNoEligible, Message: msgNoEligible, Checked: len(batch), AllRejected: allRejected}
	}

	outcome := p.commit(ctx, logger, req, accepted[0])
	outcome.Checked = len(batch)
	outcome.Ranked = accepted
	return outcome
}

func (p *Pipeline) commit(ctx context.Context, logger zerolog.Logger, req models.Request, candidate models.RankedCandidate) Outcome {
	fileIndex := 0
	if candidate.HasFileIndex {
		fileIndex = candidate.FileIndexHint
	}

	logger.Info().
		Str("hash", candidate.ContentHash).
		Str("title", candidate.MagnetName()).
		Int("score", candidate.Score).
		Int("fileIdx", fileIndex).
		Msg("best torrent selected")

	result := p.debrid.Commit(ctx, candidate.ContentHash, candidate.MagnetName(), fileIndex, req.Kind)
	selected := candidate
	if !result.Success {
		logger.Error().Str("hash", candidate.ContentHash).Str("reason", result.Message).Msg(msgCommitFailed)
		return Outcome{Status: StatusCommitFailed, Message: msgCommitFailed, Selected: &selected, Commit: result}
	}
	return Outcome{Status: StatusCommitted, Message: msgCommitted, Selected: &selected, Commit: result}
}

func toRanked(candidate models.ReleaseCandidate, rank models.RankOutcome) models.RankedCandidate {
	return models.RankedCandidate{
		ReleaseCandidate: candidate,
		Score:            rank.Score,
		Accepted:         rank.Verdict == models.RankAccepted,
		ParsedTitle:      rank.ParsedTitle,
	}
}
