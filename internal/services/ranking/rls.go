// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ranking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/cespare/xxhash/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/metrics"
	"github.com/autobrr/seerrlite/internal/models"
)

const (
	releaseCacheTTL = 30 * time.Minute
	programCacheTTL = 5 * time.Minute
)

// Sources that are never worth fetching, in normalized form.
var garbageSources = map[string]struct{}{
	"cam": {}, "hdcam": {}, "camrip": {},
	"ts": {}, "hdts": {}, "telesync": {},
	"tc": {}, "hdtc": {}, "telecine": {},
	"scr": {}, "screener": {}, "dvdscr": {}, "bdscr": {},
	"r5": {}, "workprint": {}, "wp": {},
}

var codecBonus = map[string]int{
	"x265": 10, "h265": 10, "hevc": 10,
	"av1": 5,
}

var audioBonus = map[string]int{
	"atmos": 10, "truehd": 5, "dtshd": 5, "dtsx": 5, "ddp": 3, "eac3": 3,
}

// ReleaseEnv is the environment exclude expressions are evaluated against.
type ReleaseEnv struct {
	Title      string
	Year       int
	Type       string
	Resolution string
	Source     string
	Codec      []string
	HDR        []string
	Audio      []string
	Channels   string
	Group      string
	Other      []string
	Edition    []string
	Cut        []string
	Language   []string
	Series     int
	Episode    int
	Raw        string
}

func newReleaseEnv(raw string, r rls.Release) ReleaseEnv {
	return ReleaseEnv{
		Title:      r.Title,
		Year:       r.Year,
		Type:       r.Type.String(),
		Resolution: r.Resolution,
		Source:     r.Source,
		Codec:      r.Codec,
		HDR:        r.HDR,
		Audio:      r.Audio,
		Channels:   r.Channels,
		Group:      r.Group,
		Other:      r.Other,
		Edition:    r.Edition,
		Cut:        r.Cut,
		Language:   r.Language,
		Series:     r.Series,
		Episode:    r.Episode,
		Raw:        raw,
	}
}

// RLSRanker ranks releases from their parsed names.
type RLSRanker struct {
	mu      sync.RWMutex
	profile *compiledProfile

	releases *ttlcache.Cache[uint64, rls.Release]
	programs *ttlcache.Cache[string, *vm.Program]

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewRLSRanker(profile Profile, m *metrics.Metrics) (*RLSRanker, error) {
	r := &RLSRanker{
		releases: ttlcache.New(ttlcache.Options[uint64, rls.Release]{}.SetDefaultTTL(releaseCacheTTL)),
		programs: ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(programCacheTTL)),
		metrics:  m,
		logger:   log.With().Str("module", "ranking").Logger(),
	}
	if err := r.SetProfile(profile); err != nil {
		return nil, err
	}
	return r, nil
}

// SetProfile swaps the active profile. The previous profile stays active when
// the new one does not compile.
func (r *RLSRanker) SetProfile(profile Profile) error {
	compiled, err := r.compile(profile)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.profile = compiled
	r.mu.Unlock()

	r.logger.Debug().
		Int("minScore", profile.MinScore).
		Int("resolutions", len(profile.Resolutions)).
		Int("exclude", len(compiled.exclude)).
		Msg("ranking profile applied")
	return nil
}

func (r *RLSRanker) currentProfile() *compiledProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profile
}

func (r *RLSRanker) program(source string) (*vm.Program, error) {
	if p, ok := r.programs.Get(source); ok {
		return p, nil
	}
	program, err := expr.Compile(source, expr.Env(ReleaseEnv{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	if ok := r.programs.Set(source, program, ttlcache.DefaultTTL); !ok {
		r.logger.Warn().Str("expr", source).Msg("failed to cache expression")
	}
	return program, nil
}

func (r *RLSRanker) parse(title string) rls.Release {
	key := xxhash.Sum64String(title)
	if release, ok := r.releases.Get(key); ok {
		return release
	}
	release := rls.ParseString(title)
	r.releases.Set(key, release, ttlcache.DefaultTTL)
	return release
}

func (r *RLSRanker) Rank(ctx context.Context, candidate models.ReleaseCandidate, expectedTitle string) models.RankOutcome {
	outcome := r.rank(candidate, expectedTitle)
	r.metrics.ObserveRankVerdict(outcome.Verdict.String())

	r.logger.Trace().
		Str("hash", candidate.ContentHash).
		Str("title", candidate.DisplayTitle).
		Str("verdict", outcome.Verdict.String()).
		Int("score", outcome.Score).
		Str("reason", outcome.Reason).
		Msg("ranked release")
	return outcome
}

func (r *RLSRanker) rank(candidate models.ReleaseCandidate, expectedTitle string) models.RankOutcome {
	profile := r.currentProfile()
	title := strings.TrimSpace(candidate.DisplayTitle)
	if title == "" {
		return models.Garbage("empty title")
	}

	release := r.parse(title)
	if strings.TrimSpace(release.Title) == "" {
		return models.Garbage("unparseable title")
	}
	if !isVideoType(release.Type) {
		return models.Garbage(fmt.Sprintf("not a video release (%s)", release.Type))
	}
	if source := normalizeTag(release.Source); source != "" {
		if _, bad := garbageSources[source]; bad {
			return models.Garbage(fmt.Sprintf("low quality source %s", release.Source))
		}
	}
	for _, other := range release.Other {
		if _, bad := garbageSources[normalizeTag(other)]; bad {
			return models.Garbage(fmt.Sprintf("low quality source %s", other))
		}
	}
	if profile.TitleMatch && !titlesMatch(expectedTitle, release.Title) {
		return models.Garbage(fmt.Sprintf("title %q does not match %q", release.Title, expectedTitle))
	}

	score := 0
	resolution := strings.ToLower(release.Resolution)
	if resolution != "" && len(profile.Resolutions) > 0 {
		value, ok := profile.Resolutions[resolution]
		if !ok {
			return models.Rejected(0, release.Title, fmt.Sprintf("resolution %s not allowed", release.Resolution))
		}
		score += value
	}

	score += profile.Sources[strings.ToLower(release.Source)]
	for _, codec := range release.Codec {
		score += codecBonus[normalizeTag(codec)]
	}
	if len(release.HDR) > 0 {
		score += 10
	}
	for _, audio := range release.Audio {
		score += audioBonus[normalizeTag(audio)]
	}
	for _, re := range profile.preferred {
		if re.MatchString(title) {
			score += preferredBonus
		}
	}
	for _, re := range profile.avoid {
		if re.MatchString(title) {
			score -= avoidPenalty
		}
	}

	if len(profile.exclude) > 0 {
		env := newReleaseEnv(title, release)
		for _, rule := range profile.exclude {
			result, err := expr.Run(rule.program, env)
			if err != nil {
				r.logger.Error().Err(err).Str("expr", rule.source).Msg("failed to evaluate exclude expression")
				continue
			}
			if matched, ok := result.(bool); ok && matched {
				return models.Rejected(score, release.Title, fmt.Sprintf("excluded by %q", rule.source))
			}
		}
	}

	if score < profile.MinScore {
		return models.Rejected(score, release.Title, fmt.Sprintf("score %d below minimum %d", score, profile.MinScore))
	}

	return models.Accepted(score, release.Title)
}

func isVideoType(t rls.Type) bool {
	switch t {
	case rls.Movie, rls.Episode, rls.Series, rls.Unknown:
		return true
	default:
		return false
	}
}

// normalizeTag lowercases a tag and drops separators, so "WEB-DL" and "web.dl" agree.
func normalizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '.' || r == '_' || r == ' ' {
			return -1
		}
		return unicode.ToLower(r)
	}, tag)
}

func normalizeTitle(title string) string {
	var b strings.Builder
	space := false
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		case !space && b.Len() > 0:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// titlesMatch reports whether either title fuzzily contains the other. An empty
// expected title matches anything.
func titlesMatch(expected, parsed string) bool {
	expected = normalizeTitle(expected)
	if expected == "" {
		return true
	}
	parsed = normalizeTitle(parsed)
	return fuzzy.MatchNormalizedFold(expected, parsed) || fuzzy.MatchNormalizedFold(parsed, expected)
}
