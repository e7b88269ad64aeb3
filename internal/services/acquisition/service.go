// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/metrics"
	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/queue"
)

var (
	ErrCycleRunning = errors.New("a sync cycle is already running")
	ErrNotStarted   = errors.New("acquisition service not started")
)

const (
	pushQueueName = "push"
	pollQueueName = "poll"
)

// Tracker is the request tracking system requests are polled from and acknowledged to.
type Tracker interface {
	ListPending(ctx context.Context) ([]models.Request, error)
	MarkAvailable(ctx context.Context, mediaID int) error
}

// Processor runs a single request through selection and commit.
type Processor interface {
	Process(ctx context.Context, req models.Request, mode models.SelectionMode) Outcome
}

// Config controls worker counts, selection modes and the poll schedule.
type Config struct {
	Workers       int
	QueueSize     int
	PushSelection models.SelectionMode
	PollSelection models.SelectionMode
	// PollInterval of zero runs the poll cycle at startup only.
	PollInterval time.Duration
	StartupSync  bool
	HistorySize  int
	// RequestTimeout bounds the processing of a single request.
	RequestTimeout time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        queue.DefaultWorkers,
		QueueSize:      queue.DefaultSize,
		PushSelection:  models.SelectionEarlyAccept,
		PollSelection:  models.SelectionBestOfBatch,
		StartupSync:    true,
		HistorySize:    defaultHistorySize,
		RequestTimeout: 10 * time.Minute,
	}
}

// CycleSummary reports the result of one poll cycle.
type CycleSummary struct {
	StartedAt    time.Time             `json:"startedAt"`
	FinishedAt   time.Time             `json:"finishedAt"`
	Fetched      int                   `json:"fetched"`
	Enqueued     int                   `json:"enqueued"`
	Duplicates   int                   `json:"duplicates"`
	Outcomes     map[OutcomeStatus]int `json:"outcomes"`
	Acknowledged int                   `json:"acknowledged"`
	Error        string                `json:"error,omitempty"`
}

// Status is a point-in-time view of the service.
type Status struct {
	CycleRunning bool          `json:"cycleRunning"`
	LastCycle    *CycleSummary `json:"lastCycle,omitempty"`
	PushQueued   int           `json:"pushQueued"`
	PushPending  int           `json:"pushPending"`
	Started      bool          `json:"started"`
}

// Service ingests requests from both intake paths, runs them through the
// pipeline with a worker pool and acknowledges committed requests.
type Service struct {
	cfg       Config
	processor Processor
	tracker   Tracker
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	ctxMu   sync.RWMutex
	baseCtx context.Context

	pushMu   sync.Mutex
	pushPool *queue.Pool[models.Request]

	cycleRunning atomic.Bool
	lastMu       sync.RWMutex
	lastCycle    *CycleSummary

	history    []ActivityEvent
	historyMu  sync.RWMutex
	historyCap int

	now func() time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, processor Processor, tracker Tracker, m *metrics.Metrics) *Service {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.PushSelection == "" {
		cfg.PushSelection = defaults.PushSelection
	}
	if cfg.PollSelection == "" {
		cfg.PollSelection = defaults.PollSelection
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	return &Service{
		cfg:        cfg,
		processor:  processor,
		tracker:    tracker,
		metrics:    m,
		logger:     log.With().Str("module", "acquisition").Logger(),
		historyCap: cfg.HistorySize,
		now:        time.Now,
	}
}

// Start launches the push workers and the poll scheduler. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.setBaseContext(ctx)

	s.pushMu.Lock()
	if s.pushPool == nil {
		q := queue.New[models.Request](s.cfg.QueueSize)
		s.pushPool = queue.NewPool(pushQueueName, q, s.cfg.Workers, s.handler(s.cfg.PushSelection, nil), s.metrics)
		s.pushPool.Start(ctx)
		go func() {
			<-ctx.Done()
			q.Close()
		}()
	}
	s.pushMu.Unlock()

	go s.schedule(ctx)
}

// Run starts the service and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	return nil
}

func (s *Service) schedule(ctx context.Context) {
	if s.cfg.StartupSync {
		s.runScheduledCycle(ctx)
	} else {
		s.logger.Info().Msg("startup sync disabled")
	}

	if s.cfg.PollInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduledCycle(ctx)
		}
	}
}

func (s *Service) runScheduledCycle(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleRunning) {
			s.logger.Debug().Msg("skipping scheduled sync, previous cycle still running")
			return
		}
		s.logger.Error().Err(err).Msg("sync cycle failed")
	}
}

// Process runs a request inline with the push selection mode, acknowledges it when
// possible and records the outcome.
func (s *Service) Process(ctx context.Context, req models.Request) Outcome {
	return s.execute(ctx, req, s.cfg.PushSelection, nil)
}

// Submit queues a pushed request for the push workers.
func (s *Service) Submit(ctx context.Context, req models.Request) error {
	s.pushMu.Lock()
	pool := s.pushPool
	s.pushMu.Unlock()
	if pool == nil {
		return ErrNotStarted
	}

	err := pool.Queue().Push(ctx, req.Key(), req)
	if err != nil {
		return err
	}
	s.metrics.SetQueueDepth(pushQueueName, pool.Queue().Len())
	s.logger.Info().Str("traceId", req.TraceID).Str("key", req.Key()).Msg("request queued")
	return nil
}

// TriggerCycle starts a poll cycle in the background.
func (s *Service) TriggerCycle() error {
	ctx := s.baseContext()
	if ctx == nil {
		return ErrNotStarted
	}
	if s.cycleRunning.Load() {
		return ErrCycleRunning
	}
	go s.runScheduledCycle(ctx)
	return nil
}

// RunCycle fetches pending requests, processes them with a fresh worker pool and
// blocks until every request has been handled.
func (s *Service) RunCycle(ctx context.Context) (summary CycleSummary, err error) {
	if !s.cycleRunning.CompareAndSwap(false, true) {
		return CycleSummary{}, ErrCycleRunning
	}
	defer s.cycleRunning.Store(false)

	summary = CycleSummary{StartedAt: s.currentTime(), Outcomes: make(map[OutcomeStatus]int)}
	defer func() {
		summary.FinishedAt = s.currentTime()
		s.setLastCycle(summary)
	}()

	requests, err := s.tracker.ListPending(ctx)
	if err != nil {
		summary.Error = err.Error()
		return summary, errors.Wrap(err, "list pending requests")
	}
	summary.Fetched = len(requests)
	if len(requests) == 0 {
		s.logger.Warn().Msg("no requests fetched from overseerr")
		return summary, nil
	}
	s.logger.Info().Int("requests", len(requests)).Msg("starting sync cycle")

	var mu sync.Mutex
	record := func(outcome Outcome, acknowledged bool) {
		mu.Lock()
		defer mu.Unlock()
		summary.Outcomes[outcome.Status]++
		if acknowledged {
			summary.Acknowledged++
		}
	}

	q := queue.New[models.Request](min(len(requests), s.cfg.QueueSize))
	pool := queue.NewPool(pollQueueName, q, s.cfg.Workers, s.handler(s.cfg.PollSelection, record), s.metrics)
	pool.Start(ctx)

	seen := make(map[string]struct{}, len(requests))
	for _, req := range requests {
		key := req.Key()
		if _, dup := seen[key]; dup {
			summary.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		if pushErr := q.Push(ctx, key, req); pushErr != nil {
			if errors.Is(pushErr, queue.ErrDuplicate) {
				summary.Duplicates++
				continue
			}
			break
		}
		summary.Enqueued++
	}
	s.metrics.SetQueueDepth(pollQueueName, q.Len())
	q.Close()

	if err = pool.Wait(ctx); err != nil {
		summary.Error = err.Error()
		return summary, err
	}
	s.metrics.SetQueueDepth(pollQueueName, 0)

	s.logger.Info().
		Int("fetched", summary.Fetched).
		Int("enqueued", summary.Enqueued).
		Int("committed", summary.Outcomes[StatusCommitted]).
		Int("acknowledged", summary.Acknowledged).
		Msg("sync cycle finished")
	return summary, nil
}

func (s *Service) handler(mode models.SelectionMode, record func(Outcome, bool)) queue.Handler[models.Request] {
	return func(ctx context.Context, item queue.Item[models.Request]) {
		s.execute(ctx, item.Value, mode, record)
	}
}

func (s *Service) execute(ctx context.Context, req models.Request, mode models.SelectionMode, record func(Outcome, bool)) Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	outcome := s.processor.Process(ctx, req, mode)
	acknowledged := false
	if outcome.Committed() && req.Acknowledgeable() {
		acknowledged = s.acknowledge(ctx, req)
	}

	s.recordActivity(req, outcome, acknowledged)
	if record != nil {
		record(outcome, acknowledged)
	}
	return outcome
}

func (s *Service) acknowledge(ctx context.Context, req models.Request) bool {
	if s.tracker == nil {
		return false
	}
	err := s.tracker.MarkAvailable(ctx, req.MediaID)
	s.metrics.ObserveAcknowledgement(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Str("traceId", req.TraceID).Int("mediaId", req.MediaID).Msg("failed to mark media as available")
		return false
	}
	return true
}

// Status returns the current state of the service.
func (s *Service) Status() Status {
	status := Status{CycleRunning: s.cycleRunning.Load(), Started: s.baseContext() != nil}

	s.lastMu.RLock()
	if s.lastCycle != nil {
		last := *s.lastCycle
		status.LastCycle = &last
	}
	s.lastMu.RUnlock()

	s.pushMu.Lock()
	if s.pushPool != nil {
		status.PushQueued = s.pushPool.Queue().Len()
		status.PushPending = s.pushPool.Queue().Pending()
	}
	s.pushMu.Unlock()
	return status
}

func (s *Service) setLastCycle(summary CycleSummary) {
	outcomes := make(map[OutcomeStatus]int, len(summary.Outcomes))
	for k, v := range summary.Outcomes {
		outcomes[k] = v
	}
	summary.Outcomes = outcomes

	s.lastMu.Lock()
	s.lastCycle = &summary
	s.lastMu.Unlock()
}

func (s *Service) setBaseContext(ctx context.Context) {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	s.baseCtx = ctx
}

func (s *Service) baseContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.baseCtx
}

func (s *Service) currentTime() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now()
}
