// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base is embedded by concrete servers. An instance is single-use: once it
// is stopped or failed, build a new server.
type Base struct {
	state atomic.Int32

	mu      sync.Mutex
	lastErr error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started chan struct{}
	errCh   chan error
}

// NewBase returns a Base in StateCreated.
func NewBase() *Base {
	b := &Base{
		started: make(chan struct{}),
		errCh:   make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))
	return b
}

// State returns the current state without locking.
func (b *Base) State() State { return State(b.state.Load()) }

// IsRunning reports whether the server is in StateRunning.
func (b *Base) IsRunning() bool { return b.State() == StateRunning }

// Err delivers asynchronous serve errors.
func (b *Base) Err() <-chan error { return b.errCh }

// LastError returns the error that moved the server to StateFailed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// TransitionToStarting moves Created to Starting. A context that is already
// cancelled fails the server before any resource is acquired.
func (b *Base) TransitionToStarting(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		b.TransitionToFailed(fmt.Errorf("context cancelled before start: %w", err))
		return b.LastError()
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", b.State())
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// TransitionToRunning marks the listener ready and releases WaitForReady.
func (b *Base) TransitionToRunning() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.started)
	}
}

// TransitionToFailed records err and moves to StateFailed.
func (b *Base) TransitionToFailed(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if b.cancel != nil {
		b.cancel()
	}
	b.SendError(err)
}

// TransitionToStopping starts shutdown. It returns true only for the caller
// that should perform it; servers that never started go straight to Stopped.
func (b *Base) TransitionToStopping() bool {
	for {
		cur := b.State()
		switch cur {
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if b.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				if b.cancel != nil {
					b.cancel()
				}
				return true
			}
		default:
			return false
		}
	}
}

// TransitionToStopped marks shutdown complete.
func (b *Base) TransitionToStopped() { b.state.Store(int32(StateStopped)) }

// WaitForReady blocks until the server runs or ctx ends.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.started:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for server ready: %w", ctx.Err())
	}
}

// StartedChannel is closed when the server reaches StateRunning.
func (b *Base) StartedChannel() <-chan struct{} { return b.started }

// Context is cancelled when the server stops or fails. It is nil before Start.
func (b *Base) Context() context.Context { return b.ctx }

// Go runs fn on a tracked goroutine.
func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// WaitForShutdown blocks until every tracked goroutine returned.
func (b *Base) WaitForShutdown() { b.wg.Wait() }

// SendError queues err without blocking; it is dropped if one is pending.
func (b *Base) SendError(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}
