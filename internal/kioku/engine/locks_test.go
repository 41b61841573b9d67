package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/engine"
)

// TestWithChatLockSerializesSameChat verifies two operations on the same
// chat never overlap.
func TestWithChatLockSerializesSameChat(t *testing.T) {
	locks := engine.NewChatLocks()
	ctx := context.Background()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.WithChatLock(ctx, "room", func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
}

// TestWithChatLockDistinctChatsConcurrent verifies different chats do not
// block each other: a second chat's operation completes while the first
// chat's lock is held.
func TestWithChatLockDistinctChatsConcurrent(t *testing.T) {
	locks := engine.NewChatLocks()
	ctx := context.Background()

	holdA := make(chan struct{})
	releaseA := make(chan struct{})
	go func() {
		_ = locks.WithChatLock(ctx, "room-a", func() error {
			close(holdA)
			<-releaseA
			return nil
		})
	}()
	<-holdA

	done := make(chan struct{})
	go func() {
		_ = locks.WithChatLock(ctx, "room-b", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("room-b blocked behind room-a's lock")
	}
	close(releaseA)
}

// TestWithChatLockCancelledWaiter verifies a waiter gives up with
// ctx.Err() without running its function.
func TestWithChatLockCancelledWaiter(t *testing.T) {
	locks := engine.NewChatLocks()

	hold := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locks.WithChatLock(context.Background(), "room", func() error {
			close(hold)
			<-release
			return nil
		})
	}()
	<-hold
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ran := false
	err := locks.WithChatLock(ctx, "room", func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got: %v", err)
	}
	if ran {
		t.Error("function ran despite cancelled wait")
	}
}

// TestWithChatLockPropagatesError verifies fn's error comes back and the
// lock is released afterwards.
func TestWithChatLockPropagatesError(t *testing.T) {
	locks := engine.NewChatLocks()
	ctx := context.Background()

	boom := errors.New("boom")
	if err := locks.WithChatLock(ctx, "room", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}

	// The lock must be free again.
	if err := locks.WithChatLock(ctx, "room", func() error { return nil }); err != nil {
		t.Fatalf("lock not released after error: %v", err)
	}
}
