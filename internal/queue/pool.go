// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/metrics"
)

const DefaultWorkers = 5

// Handler processes one item. It must honour ctx.
type Handler[T any] func(ctx context.Context, item Item[T])

// Pool runs a fixed number of workers against a Queue.
type Pool[T any] struct {
	name    string
	queue   *Queue[T]
	workers int
	handler Handler[T]
	metrics *metrics.Metrics
	logger  zerolog.Logger

	startOnce sync.Once
	wg        sync.WaitGroup
	done      chan struct{}
}

func NewPool[T any](name string, q *Queue[T], workers int, handler Handler[T], m *metrics.Metrics) *Pool[T] {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool[T]{
		name:    name,
		queue:   q,
		workers: workers,
		handler: handler,
		metrics: m,
		logger:  log.With().Str("module", "queue").Str("pool", name).Logger(),
		done:    make(chan struct{}),
	}
}

func (p *Pool[T]) Queue() *Queue[T] {
	return p.queue
}

// Start launches the workers. Workers exit when the queue is closed and drained
// or when ctx is cancelled.
func (p *Pool[T]) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Debug().Int("workers", p.workers).Msg("starting workers")
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(ctx, i)
		}
		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	})
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pool[T]) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "pool %s", p.name)
	}
}

func (p *Pool[T]) work(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker", id).Logger()

	for {
		item, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				logger.Trace().Msg("queue drained, worker exiting")
			}
			return
		}
		p.metrics.SetQueueDepth(p.name, p.queue.Len())
		p.handle(ctx, logger, item)
	}
}

func (p *Pool[T]) handle(ctx context.Context, logger zerolog.Logger, item Item[T]) {
	defer p.queue.Done(item.Key)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("key", item.Key).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic while processing item")
		}
	}()

	p.handler(ctx, item)
}
