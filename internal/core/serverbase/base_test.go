// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()

	b := NewBase()
	if b.State() != StateCreated {
		t.Fatalf("expected created, got %s", b.State())
	}
	if err := b.TransitionToStarting(context.Background()); err != nil {
		t.Fatalf("TransitionToStarting: %v", err)
	}
	if b.Context() == nil {
		t.Fatal("context should exist after start")
	}
	b.TransitionToRunning()
	if !b.IsRunning() {
		t.Fatalf("expected running, got %s", b.State())
	}
	if err := b.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	if !b.TransitionToStopping() {
		t.Fatal("first stop should own shutdown")
	}
	select {
	case <-b.Context().Done():
	default:
		t.Error("context should be cancelled once stopping")
	}
	b.TransitionToStopped()
	if b.TransitionToStopping() {
		t.Error("second stop should be a no-op")
	}
	if b.State() != StateStopped {
		t.Errorf("expected stopped, got %s", b.State())
	}
}

func TestDoubleStartFails(t *testing.T) {
	t.Parallel()

	b := NewBase()
	if err := b.TransitionToStarting(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.TransitionToStarting(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
}

func TestCancelledContextFailsStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBase()
	if err := b.TransitionToStarting(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.State() != StateFailed {
		t.Errorf("expected failed, got %s", b.State())
	}
	select {
	case err := <-b.Err():
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected async error %v", err)
		}
	default:
		t.Error("failure should be delivered on Err()")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	b := NewBase()
	if b.TransitionToStopping() {
		t.Error("a never-started server has nothing to shut down")
	}
	if b.State() != StateStopped {
		t.Errorf("expected stopped, got %s", b.State())
	}
}

func TestConcurrentStop(t *testing.T) {
	t.Parallel()

	b := NewBase()
	if err := b.TransitionToStarting(context.Background()); err != nil {
		t.Fatal(err)
	}
	b.TransitionToRunning()

	var owners int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			if b.TransitionToStopping() {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	if owners != 1 {
		t.Errorf("exactly one caller should own shutdown, got %d", owners)
	}
}

func TestWaitForReadyTimeout(t *testing.T) {
	t.Parallel()

	b := NewBase()
	if err := b.TransitionToStarting(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.WaitForReady(ctx); err == nil {
		t.Error("expected timeout")
	}
}

func TestGoTracksGoroutines(t *testing.T) {
	t.Parallel()

	b := NewBase()
	var mu sync.Mutex
	count := 0
	for range 5 {
		b.Go(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	b.WaitForShutdown()
	if count != 5 {
		t.Errorf("expected 5, got %d", count)
	}
}

func TestStateValidate(t *testing.T) {
	t.Parallel()

	for s := StateCreated; s <= StateFailed; s++ {
		if err := s.Validate(); err != nil {
			t.Errorf("%s should be valid: %v", s, err)
		}
	}
	for _, s := range []State{-1, 6, 99} {
		if err := s.Validate(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("State(%d) should be invalid, got %v", s, err)
		}
		if s.String() != "unknown" {
			t.Errorf("State(%d).String() = %q", s, s.String())
		}
	}
	if !StateStopped.IsTerminal() || !StateFailed.IsTerminal() || StateRunning.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}
