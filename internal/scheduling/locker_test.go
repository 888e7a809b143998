package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMutexLockerHeldKeyFailsFast(t *testing.T) {
	l := NewMutexLocker()
	ctx := context.Background()

	hold := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- l.WithLock(ctx, []string{"doctor:1"}, func(context.Context) error {
			close(hold)
			<-release
			return nil
		})
	}()

	<-hold
	err := l.WithLock(ctx, []string{"doctor:1", "resource:4"}, func(context.Context) error {
		t.Error("critical section ran under a held lock")
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder returned %v", err)
	}

	// Everything was released, so both key sets are claimable again.
	if err := l.WithLock(ctx, []string{"doctor:1", "resource:4"}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("relock after release: %v", err)
	}
}

func TestMutexLockerPartialAcquireReleases(t *testing.T) {
	l := NewMutexLocker()
	ctx := context.Background()

	hold := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		_ = l.WithLock(ctx, []string{"resource:9"}, func(context.Context) error {
			close(hold)
			<-release
			return nil
		})
	}()

	<-hold
	// doctor:2 acquires, resource:9 fails; doctor:2 must be handed back.
	err := l.WithLock(ctx, []string{"doctor:2", "resource:9"}, func(context.Context) error { return nil })
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}

	if err := l.WithLock(ctx, []string{"doctor:2"}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("doctor:2 was not released: %v", err)
	}

	close(release)
	wg.Wait()
}

func TestMutexLockerPropagatesCallbackError(t *testing.T) {
	l := NewMutexLocker()
	sentinel := errors.New("boom")

	err := l.WithLock(context.Background(), []string{"doctor:3"}, func(context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
