// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ranking

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"github.com/autobrr/seerrlite/internal/domain"
)

const (
	preferredBonus = 25
	avoidPenalty   = 25
)

// Profile is the user-facing quality profile.
type Profile struct {
	MinScore int
	// Resolutions lists the allowed resolutions and their score. Empty allows any.
	Resolutions map[string]int
	Sources     map[string]int
	// Preferred and Avoid are case-insensitive regular expressions matched
	// against the release title.
	Preferred []string
	Avoid     []string
	// Exclude holds boolean expressions evaluated against ReleaseEnv.
	Exclude    []string
	TitleMatch bool
}

// ProfileFromConfig converts the [ranking] config table.
func ProfileFromConfig(cfg domain.RankingConfig) Profile {
	return Profile{
		MinScore:    cfg.MinScore,
		Resolutions: lowerKeys(cfg.Resolutions),
		Sources:     lowerKeys(cfg.Sources),
		Preferred:   append([]string(nil), cfg.Preferred...),
		Avoid:       append([]string(nil), cfg.Avoid...),
		Exclude:     append([]string(nil), cfg.Exclude...),
		TitleMatch:  cfg.TitleMatch,
	}
}

func lowerKeys(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

type excludeRule struct {
	source  string
	program *vm.Program
}

type compiledProfile struct {
	Profile
	preferred []*regexp.Regexp
	avoid     []*regexp.Regexp
	exclude   []excludeRule
}

func (r *RLSRanker) compile(p Profile) (*compiledProfile, error) {
	cp := &compiledProfile{Profile: p}
	cp.Resolutions = lowerKeys(p.Resolutions)
	cp.Sources = lowerKeys(p.Sources)

	for _, pattern := range p.Preferred {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "preferred pattern %q", pattern)
		}
		cp.preferred = append(cp.preferred, re)
	}
	for _, pattern := range p.Avoid {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "avoid pattern %q", pattern)
		}
		cp.avoid = append(cp.avoid, re)
	}
	for _, source := range p.Exclude {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		program, err := r.program(source)
		if err != nil {
			return nil, errors.Wrapf(err, "exclude expression %q", source)
		}
		cp.exclude = append(cp.exclude, excludeRule{source: source, program: program})
	}

	return cp, nil
}
