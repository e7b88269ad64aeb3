// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

// ReleaseCandidate is a torrent returned by discovery for one request.
type ReleaseCandidate struct {
	ContentHash  string `json:"hash"`
	DisplayTitle string `json:"title"`
	RawTitle     string `json:"rawTitle,omitempty"`
	// FileIndexHint is the position of the wanted file inside the torrent.
	FileIndexHint int  `json:"fileIdx"`
	HasFileIndex  bool `json:"hasFileIdx"`
	// Position is the discovery order, used to break score ties.
	Position int `json:"position"`
}

// AvailableFile is one cached file reported by instant availability.
type AvailableFile struct {
	Name string `json:"filename"`
	Size int64  `json:"filesize"`
}

// AvailabilityRecord maps file ids to cached files. Empty means not instantly available.
type AvailabilityRecord map[int]AvailableFile

func (r AvailabilityRecord) Available() bool {
	return len(r) > 0
}

// RankVerdict is the categorical result of ranking a release.
type RankVerdict int

const (
	RankGarbage RankVerdict = iota
	RankRejected
	RankAccepted
)

func (v RankVerdict) String() string {
	switch v {
	case RankAccepted:
		return "accepted"
	case RankRejected:
		return "rejected"
	default:
		return "garbage"
	}
}

// RankOutcome is the tagged result of ranking. Score and ParsedTitle are only
// meaningful for accepted and rejected verdicts.
type RankOutcome struct {
	Verdict     RankVerdict
	Score       int
	ParsedTitle string
	Reason      string
}

func Accepted(score int, parsedTitle string) RankOutcome {
	return RankOutcome{Verdict: RankAccepted, Score: score, ParsedTitle: parsedTitle}
}

func Rejected(score int, parsedTitle, reason string) RankOutcome {
	return RankOutcome{Verdict: RankRejected, Score: score, ParsedTitle: parsedTitle, Reason: reason}
}

func Garbage(reason string) RankOutcome {
	return RankOutcome{Verdict: RankGarbage, Reason: reason}
}

// RankedCandidate is a candidate that passed through ranking.
type RankedCandidate struct {
	ReleaseCandidate
	Score       int    `json:"score"`
	Accepted    bool   `json:"accepted"`
	ParsedTitle string `json:"parsedTitle"`
}

// MagnetName is the display name used when submitting the candidate.
func (c RankedCandidate) MagnetName() string {
	if c.ParsedTitle != "" {
		return c.ParsedTitle
	}
	return c.DisplayTitle
}

// CommitResult is the terminal outcome of submitting a release for download.
type CommitResult struct {
	Success   bool   `json:"success"`
	TorrentID string `json:"torrentId,omitempty"`
	Message   string `json:"message"`
}
