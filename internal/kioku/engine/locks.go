package engine

import (
	"context"
	"sync"
)

// ChatLocks serializes all engine work for a given chat within this
// process: one active operation per chat, unlimited concurrency across
// distinct chats. The lock is held from the start of message processing
// through the post-reply ledger append, which is what keeps sequence
// numbers and fact mutations linearizable per chat.
type ChatLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewChatLocks creates an empty lock table. Locks are created lazily on
// first use and never discarded; the table grows with the number of chats
// seen, which is small relative to everything else stored per chat.
func NewChatLocks() *ChatLocks {
	return &ChatLocks{locks: make(map[string]chan struct{})}
}

// WithChatLock runs fn while holding the exclusive lock for chatID.
// Waiters are admitted in close to arrival order; a cancelled ctx abandons
// the wait and returns ctx.Err() without running fn.
func (c *ChatLocks) WithChatLock(ctx context.Context, chatID string, fn func() error) error {
	l := c.lockFor(chatID)

	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l }()

	return fn()
}

func (c *ChatLocks) lockFor(chatID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[chatID]
	if !ok {
		l = make(chan struct{}, 1)
		c.locks[chatID] = l
	}
	return l
}
