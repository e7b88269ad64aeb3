// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package acquisition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/seerrlite/internal/metrics"
	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/queue"
)

func pollRequest(mediaID int) models.Request {
	return models.Request{
		TraceID:   fmt.Sprintf("trace-%d", mediaID),
		RequestID: mediaID * 10,
		MediaID:   mediaID,
		TMDBID:    mediaID + 500,
		Kind:      models.MediaKindMovie,
		Source:    models.RequestSourcePoll,
	}
}

type harness struct {
	resolver   *fakeResolver
	discoverer *fakeDiscoverer
	debrid     *fakeDebrid
	ranker     *fakeRanker
	tracker    *fakeTracker
	service    *Service
}

func newHarness(cfg Config, m *metrics.Metrics) *harness {
	h := &harness{
		resolver:   &fakeResolver{res: models.Resolution{CanonicalID: "tt0137523", Title: "Fight Club"}},
		discoverer: &fakeDiscoverer{candidates: candidates(1)},
		debrid:     &fakeDebrid{},
		ranker:     &fakeRanker{},
		tracker:    &fakeTracker{},
	}
	pipeline := NewPipeline(PipelineConfig{}, h.resolver, h.discoverer, h.debrid, h.ranker, m)
	h.service = NewService(cfg, pipeline, h.tracker, m)
	return h
}

func TestRunCycleCommitsAndAcknowledges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(Config{}, m)
	h.tracker.requests = []models.Request{pollRequest(1)}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Enqueued)
	assert.Equal(t, 1, summary.Outcomes[StatusCommitted])
	assert.Equal(t, 1, summary.Acknowledged)
	assert.False(t, summary.FinishedAt.IsZero())

	assert.Len(t, h.debrid.commits, 1)
	assert.Equal(t, []int{1}, h.tracker.marked)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acknowledgements.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineOutcomes.WithLabelValues("committed", "best")))

	events := h.service.GetActivity(0)
	require.Len(t, events, 1)
	assert.Equal(t, StatusCommitted, events[0].Outcome)
	assert.True(t, events[0].Acknowledged)
	assert.Equal(t, models.SelectionBestOfBatch, events[0].Mode)
	assert.Equal(t, "trace-1", events[0].TraceID)

	status := h.service.Status()
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 1, status.LastCycle.Acknowledged)
	assert.False(t, status.CycleRunning)
}

func TestRunCycleNotFoundSkipsEverything(t *testing.T) {
	h := newHarness(Config{}, nil)
	h.resolver.res = models.Resolution{}
	h.resolver.err = notFoundResolver().err
	h.tracker.requests = []models.Request{pollRequest(1)}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Outcomes[StatusNotFound])
	assert.Zero(t, h.discoverer.calls)
	assert.Empty(t, h.debrid.commits)
	assert.Empty(t, h.tracker.marked)
}

func TestRunCycleAllGarbageIsNotAcknowledged(t *testing.T) {
	h := newHarness(Config{}, nil)
	h.discoverer.candidates = candidates(5)
	h.ranker.outcomes = map[string]models.RankOutcome{}
	for _, c := range h.discoverer.candidates {
		h.ranker.outcomes[c.ContentHash] = models.Garbage("cam")
	}
	h.tracker.requests = []models.Request{pollRequest(1)}

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Outcomes[StatusNoEligible])
	assert.Len(t, h.debrid.checked, 5)
	assert.Empty(t, h.debrid.commits)
	assert.Empty(t, h.tracker.marked)

	events := h.service.GetActivity(1)
	require.Len(t, events, 1)
	assert.Equal(t, "No torrents available on Real-Debrid", events[0].Message)
}

func TestRunCycleDedupesAndProcessesAll(t *testing.T) {
	h := newHarness(Config{Workers: 3}, nil)
	for i := 1; i <= 12; i++ {
		h.tracker.requests = append(h.tracker.requests, pollRequest(i))
	}
	h.tracker.requests = append(h.tracker.requests, pollRequest(3), pollRequest(7))

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 14, summary.Fetched)
	assert.Equal(t, 12, summary.Enqueued)
	assert.Equal(t, 2, summary.Duplicates)
	assert.Len(t, h.debrid.commits, 12)
	assert.Len(t, h.tracker.marked, 12)
}

func TestRunCycleAcknowledgementFailureIsNotRetried(t *testing.T) {
	h := newHarness(Config{}, nil)
	h.tracker.requests = []models.Request{pollRequest(9)}
	h.tracker.markErr = errors.New("overseerr down")

	summary, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Outcomes[StatusCommitted])
	assert.Zero(t, summary.Acknowledged)
	assert.Equal(t, []int{9}, h.tracker.marked)
}

func TestRunCycleListError(t *testing.T) {
	h := newHarness(Config{}, nil)
	h.tracker.err = errors.New("unauthorized")

	summary, err := h.service.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, "unauthorized", summary.Error)
	require.NotNil(t, h.service.Status().LastCycle)
}

type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingProcessor) Process(ctx context.Context, req models.Request, mode models.SelectionMode) Outcome {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return Outcome{Status: StatusCommitted, Message: "Torrent added", Mode: mode}
}

func TestRunCycleRefusesConcurrentCycle(t *testing.T) {
	proc := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}
	tracker := &fakeTracker{requests: []models.Request{pollRequest(1)}}
	svc := NewService(Config{}, proc, tracker, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunCycle(context.Background())
		done <- err
	}()
	<-proc.started

	_, err := svc.RunCycle(context.Background())
	assert.True(t, errors.Is(err, ErrCycleRunning))
	assert.True(t, svc.Status().CycleRunning)

	close(proc.release)
	require.NoError(t, <-done)
	assert.False(t, svc.Status().CycleRunning)
}

func TestProcessInlineDoesNotAcknowledgePush(t *testing.T) {
	h := newHarness(Config{}, nil)
	req := movieRequest()

	out := h.service.Process(context.Background(), req)
	assert.Equal(t, StatusCommitted, out.Status)
	assert.Equal(t, models.SelectionEarlyAccept, out.Mode)
	assert.Empty(t, h.tracker.marked)
}

func TestSubmitQueuesAndDedupes(t *testing.T) {
	proc := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}
	var processed atomic.Int32
	svc := NewService(Config{Workers: 1, StartupSync: false}, processorFunc(func(ctx context.Context, req models.Request, mode models.SelectionMode) Outcome {
		processed.Add(1)
		return proc.Process(ctx, req, mode)
	}), &fakeTracker{}, nil)

	req := movieRequest()
	assert.True(t, errors.Is(svc.Submit(context.Background(), req), ErrNotStarted))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	require.NoError(t, svc.Submit(ctx, req))
	<-proc.started
	assert.True(t, errors.Is(svc.Submit(ctx, req), queue.ErrDuplicate), "in-flight request is a duplicate")
	assert.Equal(t, 1, svc.Status().PushPending)

	close(proc.release)
	require.Eventually(t, func() bool { return svc.Status().PushPending == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Submit(ctx, req))
	require.Eventually(t, func() bool { return processed.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

type processorFunc func(ctx context.Context, req models.Request, mode models.SelectionMode) Outcome

func (f processorFunc) Process(ctx context.Context, req models.Request, mode models.SelectionMode) Outcome {
	return f(ctx, req, mode)
}

func TestTriggerCycle(t *testing.T) {
	h := newHarness(Config{StartupSync: false}, nil)
	h.tracker.requests = []models.Request{pollRequest(4)}

	assert.True(t, errors.Is(h.service.TriggerCycle(), ErrNotStarted))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.service.Start(ctx)

	require.NoError(t, h.service.TriggerCycle())
	require.Eventually(t, func() bool {
		last := h.service.Status().LastCycle
		return last != nil && last.Acknowledged == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartRunsStartupSync(t *testing.T) {
	h := newHarness(Config{StartupSync: true}, nil)
	h.tracker.requests = []models.Request{pollRequest(2)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.service.Start(ctx)

	require.Eventually(t, func() bool {
		h.tracker.mu.Lock()
		defer h.tracker.mu.Unlock()
		return len(h.tracker.marked) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestActivityHistoryIsBounded(t *testing.T) {
	svc := NewService(Config{HistorySize: 3}, nil, nil, nil)
	for i := 1; i <= 5; i++ {
		svc.recordActivity(pollRequest(i), Outcome{Status: StatusNoCandidates, Message: "No torrents found"}, false)
	}

	events := svc.GetActivity(0)
	require.Len(t, events, 3)
	assert.Equal(t, 3, events[0].MediaID)
	assert.Equal(t, 5, events[2].MediaID)

	latest := svc.GetActivity(1)
	require.Len(t, latest, 1)
	assert.Equal(t, 5, latest[0].MediaID)

	assert.Nil(t, NewService(Config{}, nil, nil, nil).GetActivity(10))
}

func TestCommitFailureMessageIncludesReason(t *testing.T) {
	h := newHarness(Config{}, nil)
	h.debrid.commitFails = true
	h.tracker.requests = []models.Request{pollRequest(1)}

	_, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	events := h.service.GetActivity(1)
	require.Len(t, events, 1)
	assert.Equal(t, StatusCommitFailed, events[0].Outcome)
	assert.Contains(t, events[0].Message, "Failed to add torrent to Real-Debrid: ")
	assert.Empty(t, h.tracker.marked)
}
