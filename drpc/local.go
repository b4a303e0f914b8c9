//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of CallStream.
//
// CallStream is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CallStream is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CallStream. If not, see https://www.gnu.org/licenses/.

package drpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Package drpc provides an in-process request/response client for ad-hoc queries against topology state.

var (
	// ErrUnknownFunction is returned when no handler is registered under the function name.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrShutdown is returned for requests made after Shutdown.
	ErrShutdown = errors.New("drpc shut down")
	// ErrDuplicateFunction is returned when a function name is registered twice.
	ErrDuplicateFunction = errors.New("function already registered")
)

// DefaultTimeout bounds a single Execute call when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Handler answers one request. args is the raw argument string and the result is the serialized reply.
type Handler func(ctx context.Context, args string) (string, error)

// Observer is notified after every request completes.
type Observer func(function string, elapsed time.Duration, err error)

// Error represents an error from a DRPC request.
type Error struct {
	Op        string
	Function  string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("drpc %s %q: %v", e.Op, e.Function, e.Err)
	}
	return fmt.Sprintf("drpc %s %q [%s]: %v", e.Op, e.Function, e.RequestID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a Local client.
type Options struct {
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// Option represents a configuration function for Local.
type Option func(*Options)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithObserver sets a hook invoked after each request, e.g. to record metrics.
func WithObserver(observer Observer) Option {
	return func(o *Options) {
		o.Observer = observer
	}
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Local dispatches requests to registered handlers within the process.
type Local struct {
	opts Options

	mu       sync.RWMutex
	handlers map[string]Handler
	shutdown bool
	inflight sync.WaitGroup
}

// NewLocal creates a DRPC client with no registered functions.
func NewLocal(opts ...Option) *Local {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	options.withDefaults()

	return &Local{
		opts:     options,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a function name.
func (l *Local) Register(function string, handler Handler) error {
	if function == "" || handler == nil {
		return &Error{Op: "register", Function: function, Err: errors.New("function name and handler are required")}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return &Error{Op: "register", Function: function, Err: ErrShutdown}
	}
	if _, exists := l.handlers[function]; exists {
		return &Error{Op: "register", Function: function, Err: ErrDuplicateFunction}
	}
	l.handlers[function] = handler
	return nil
}

// Functions returns the number of registered functions.
func (l *Local) Functions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// Execute runs function with args and returns its reply.
// The call is bounded by the configured timeout as well as ctx.
func (l *Local) Execute(ctx context.Context, function, args string) (string, error) {
	l.mu.RLock()
	if l.shutdown {
		l.mu.RUnlock()
		return "", &Error{Op: "execute", Function: function, Err: ErrShutdown}
	}
	handler, ok := l.handlers[function]
	if !ok {
		l.mu.RUnlock()
		return "", &Error{Op: "execute", Function: function, Err: ErrUnknownFunction}
	}
	l.inflight.Add(1)
	l.mu.RUnlock()
	defer l.inflight.Done()

	requestID := uuid.NewString()
	logger := l.opts.Logger.With("function", function, "request_id", requestID)
	logger.Debug("drpc request", "args", args)

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	type reply struct {
		result string
		err    error
	}
	done := make(chan reply, 1)
	start := time.Now()
	go func() {
		result, err := handler(ctx, args)
		done <- reply{result: result, err: err}
	}()

	var result string
	var err error
	select {
	case r := <-done:
		result, err = r.result, r.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	elapsed := time.Since(start)

	if l.opts.Observer != nil {
		l.opts.Observer(function, elapsed, err)
	}
	if err != nil {
		logger.Warn("drpc request failed", "error", err, "elapsed", elapsed)
		return "", &Error{Op: "execute", Function: function, RequestID: requestID, Err: err}
	}
	logger.Debug("drpc reply", "result", result, "elapsed", elapsed)
	return result, nil
}

// Shutdown rejects new requests and waits for in-flight ones to finish.
func (l *Local) Shutdown() {
	l.mu.Lock()
	l.shutdown = true
	l.mu.Unlock()
	l.inflight.Wait()
}
