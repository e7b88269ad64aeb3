// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrTransport matches any *TransportError via errors.Is.
var ErrTransport = errors.New("transport failure")

// TransportError is returned when a call could not produce a usable response:
// connection failures, timeouts and server errors that outlived the retry budget.
type TransportError struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s %s returned status %d after %d attempt(s)", e.Service, e.Method, e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("%s %s %s failed after %d attempt(s): %v", e.Service, e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	if target == ErrTransport {
		return true
	}
	_, ok := target.(*TransportError)
	return ok
}

// statusError marks a retryable server response inside the retry loop.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.code)
}
