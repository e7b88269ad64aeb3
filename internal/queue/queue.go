// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue provides a bounded FIFO with key based de-duplication and a
// worker pool that drains it.
package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrDuplicate = errors.New("item already queued or in flight")
	ErrClosed    = errors.New("queue closed")
)

const DefaultSize = 1000

// Item is a queued value and the key it is de-duplicated by.
type Item[T any] struct {
	Key   string
	Value T
}

// Queue is a bounded FIFO. A key stays reserved from Push until Done is called
// for it, so the same work cannot be queued twice while pending or in flight.
type Queue[T any] struct {
	items chan Item[T]

	// closing is signalled before Close takes sendMu, releasing blocked pushes.
	closing   chan struct{}
	closeOnce sync.Once

	// sendMu guards the channel against being closed during a Push.
	sendMu sync.RWMutex
	closed bool

	keysMu sync.Mutex
	keys   map[string]struct{}
}

func New[T any](size int) *Queue[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue[T]{
		items:   make(chan Item[T], size),
		closing: make(chan struct{}),
		keys:    make(map[string]struct{}),
	}
}

// Push appends an item, blocking while the queue is full. A blocked Push
// returns ErrClosed once Close is called.
func (q *Queue[T]) Push(ctx context.Context, key string, value T) error {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	if !q.reserve(key) {
		return ErrDuplicate
	}

	select {
	case q.items <- Item[T]{Key: key, Value: value}:
		return nil
	case <-q.closing:
		q.Done(key)
		return ErrClosed
	case <-ctx.Done():
		q.Done(key)
		return ctx.Err()
	}
}

func (q *Queue[T]) reserve(key string) bool {
	q.keysMu.Lock()
	defer q.keysMu.Unlock()
	if _, exists := q.keys[key]; exists {
		return false
	}
	q.keys[key] = struct{}{}
	return true
}

// Pop returns the next item. It returns ErrClosed once the queue is closed and drained.
func (q *Queue[T]) Pop(ctx context.Context) (Item[T], error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return Item[T]{}, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return Item[T]{}, ctx.Err()
	}
}

// Done releases the key of a finished item.
func (q *Queue[T]) Done(key string) {
	q.keysMu.Lock()
	delete(q.keys, key)
	q.keysMu.Unlock()
}

// Close stops accepting items. Items already queued are still delivered.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closing) })

	q.sendMu.Lock()
	defer q.sendMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

func (q *Queue[T]) Closed() bool {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	return q.closed
}

// Len is the number of items waiting to be picked up.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Pending is the number of reserved keys, queued or in flight.
func (q *Queue[T]) Pending() int {
	q.keysMu.Lock()
	defer q.keysMu.Unlock()
	return len(q.keys)
}

// Contains reports whether key is queued or in flight.
func (q *Queue[T]) Contains(key string) bool {
	q.keysMu.Lock()
	defer q.keysMu.Unlock()
	_, ok := q.keys[key]
	return ok
}
