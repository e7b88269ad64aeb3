// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package acquisition

import (
	"context"
	"fmt"
	"sync"

	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/services/trakt"
)

func hashN(n int) string {
	return fmt.Sprintf("%040x", n)
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	res   models.Resolution
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, tmdbID int, kind models.MediaKind) (models.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

func notFoundResolver() *fakeResolver {
	return &fakeResolver{err: trakt.ErrNotFound}
}

type fakeDiscoverer struct {
	mu         sync.Mutex
	calls      int
	seasons    []int
	candidates []models.ReleaseCandidate
	err        error
}

func (f *fakeDiscoverer) Discover(ctx context.Context, imdbID string, kind models.MediaKind, season int) ([]models.ReleaseCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seasons = append(f.seasons, season)
	return f.candidates, f.err
}

type commitCall struct {
	Hash      string
	Name      string
	FileIndex int
	Kind      models.MediaKind
}

type fakeDebrid struct {
	mu          sync.Mutex
	available   map[string]bool
	checked     []string
	checkCalls  int
	commits     []commitCall
	commitFails bool
}

func (f *fakeDebrid) CheckAvailability(ctx context.Context, hashes []string) map[string]models.AvailabilityRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	out := make(map[string]models.AvailabilityRecord, len(hashes))
	for _, h := range hashes {
		f.checked = append(f.checked, h)
		if f.available == nil || f.available[h] {
			out[h] = models.AvailabilityRecord{0: {Name: "file.mkv", Size: 1}}
		} else {
			out[h] = models.AvailabilityRecord{}
		}
	}
	return out
}

func (f *fakeDebrid) Commit(ctx context.Context, hash, name string, fileIndex int, kind models.MediaKind) models.CommitResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commitCall{Hash: hash, Name: name, FileIndex: fileIndex, Kind: kind})
	if f.commitFails {
		return models.CommitResult{Success: false, Message: "select files returned status 400"}
	}
	return models.CommitResult{Success: true, TorrentID: "TID-" + hash[:4], Message: "ok"}
}

type fakeRanker struct {
	mu       sync.Mutex
	outcomes map[string]models.RankOutcome
	ranked   []string
}

func (f *fakeRanker) Rank(ctx context.Context, candidate models.ReleaseCandidate, expectedTitle string) models.RankOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranked = append(f.ranked, candidate.ContentHash)
	if out, ok := f.outcomes[candidate.ContentHash]; ok {
		return out
	}
	return models.Accepted(1, candidate.DisplayTitle)
}

type fakeTracker struct {
	mu       sync.Mutex
	requests []models.Request
	err      error
	marked   []int
	markErr  error
}

func (f *fakeTracker) ListPending(ctx context.Context) ([]models.Request, error) {
	return f.requests, f.err
}

func (f *fakeTracker) MarkAvailable(ctx context.Context, mediaID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, mediaID)
	return f.markErr
}

func candidates(n int) []models.ReleaseCandidate {
	out := make([]models.ReleaseCandidate, n)
	for i := range out {
		out[i] = models.ReleaseCandidate{
			ContentHash:  hashN(i + 1),
			DisplayTitle: fmt.Sprintf("Release.%d.1080p", i+1),
			Position:     i,
		}
	}
	return out
}
