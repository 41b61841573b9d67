package ledger_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/ledger"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// newTestLedger creates a Ledger backed by a temporary SQLite database.
func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kioku-ledger-test-*.db")
	if err != nil {
		t.Fatalf("create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return ledger.New(s)
}

// appendN appends n user messages to the chat, returning their bodies.
func appendN(t *testing.T, l *ledger.Ledger, chatID string, n int) []string {
	t.Helper()
	ctx := context.Background()
	bodies := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		body := fmt.Sprintf("message %d", i)
		if _, err := l.Append(ctx, &ledger.Message{
			ChatID:     chatID,
			AuthorID:   "@alice:example.com",
			AuthorName: "Alice",
			Role:       ledger.RoleUser,
			Body:       body,
		}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		bodies = append(bodies, body)
	}
	return bodies
}

// TestAppendAssignsSequence verifies sequence numbers are dense and start
// at one, per chat.
func TestAppendAssignsSequence(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := l.Append(ctx, &ledger.Message{
			ChatID: "room-a", AuthorID: "@a:x", AuthorName: "A",
			Role: ledger.RoleUser, Body: "hi",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if got != want {
			t.Errorf("sequence = %d, want %d", got, want)
		}
	}

	// A second chat starts its own sequence.
	got, err := l.Append(ctx, &ledger.Message{
		ChatID: "room-b", AuthorID: "@a:x", AuthorName: "A",
		Role: ledger.RoleUser, Body: "hi",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got != 1 {
		t.Errorf("first sequence in second chat = %d, want 1", got)
	}
}

// TestRecentWindowReturnsNewestAscending verifies the window holds exactly
// the most recent messages, oldest first.
func TestRecentWindowReturnsNewestAscending(t *testing.T) {
	l := newTestLedger(t)
	appendN(t, l, "room", 50)

	window, err := l.RecentWindow(context.Background(), "room", 7)
	if err != nil {
		t.Fatalf("RecentWindow: %v", err)
	}
	if len(window) != 7 {
		t.Fatalf("window length = %d, want 7", len(window))
	}
	for i, m := range window {
		wantSeq := int64(44 + i)
		if m.SequenceNo != wantSeq {
			t.Errorf("window[%d].SequenceNo = %d, want %d", i, m.SequenceNo, wantSeq)
		}
	}
}

// TestRecentWindowShortHistory verifies a window larger than the history
// returns everything without error.
func TestRecentWindowShortHistory(t *testing.T) {
	l := newTestLedger(t)
	appendN(t, l, "room", 3)

	window, err := l.RecentWindow(context.Background(), "room", 10)
	if err != nil {
		t.Fatalf("RecentWindow: %v", err)
	}
	if len(window) != 3 {
		t.Errorf("window length = %d, want 3", len(window))
	}
}

// TestRecentWindowEmptyChat verifies an unknown chat yields an empty
// window, not an error.
func TestRecentWindowEmptyChat(t *testing.T) {
	l := newTestLedger(t)

	window, err := l.RecentWindow(context.Background(), "nobody-here", 7)
	if err != nil {
		t.Fatalf("RecentWindow: %v", err)
	}
	if len(window) != 0 {
		t.Errorf("window length = %d, want 0", len(window))
	}
}

// TestFullHistorySince verifies the cut is strictly greater than the given
// sequence and ordered ascending.
func TestFullHistorySince(t *testing.T) {
	l := newTestLedger(t)
	appendN(t, l, "room", 10)

	history, err := l.FullHistorySince(context.Background(), "room", 4)
	if err != nil {
		t.Fatalf("FullHistorySince: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("history length = %d, want 6", len(history))
	}
	if history[0].SequenceNo != 5 {
		t.Errorf("first sequence = %d, want 5", history[0].SequenceNo)
	}
	if history[len(history)-1].SequenceNo != 10 {
		t.Errorf("last sequence = %d, want 10", history[len(history)-1].SequenceNo)
	}
}

// TestCounts covers LatestSequence, MessageCount, and ChatCount together.
func TestCounts(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	appendN(t, l, "room-a", 4)
	appendN(t, l, "room-b", 2)

	latest, err := l.LatestSequence(ctx, "room-a")
	if err != nil {
		t.Fatalf("LatestSequence: %v", err)
	}
	if latest != 4 {
		t.Errorf("LatestSequence = %d, want 4", latest)
	}

	latest, err = l.LatestSequence(ctx, "room-empty")
	if err != nil {
		t.Fatalf("LatestSequence empty: %v", err)
	}
	if latest != 0 {
		t.Errorf("LatestSequence empty chat = %d, want 0", latest)
	}

	count, err := l.MessageCount(ctx, "room-b")
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	if count != 2 {
		t.Errorf("MessageCount = %d, want 2", count)
	}

	chats, err := l.ChatCount(ctx)
	if err != nil {
		t.Fatalf("ChatCount: %v", err)
	}
	if chats != 2 {
		t.Errorf("ChatCount = %d, want 2", chats)
	}
}

// TestRolesRoundTrip verifies both roles survive storage.
func TestRolesRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, role := range []ledger.Role{ledger.RoleUser, ledger.RoleAssistant} {
		if _, err := l.Append(ctx, &ledger.Message{
			ChatID: "room", AuthorID: "@x:x", AuthorName: "X",
			Role: role, Body: "body",
		}); err != nil {
			t.Fatalf("Append role %q: %v", role, err)
		}
	}

	window, err := l.RecentWindow(ctx, "room", 2)
	if err != nil {
		t.Fatalf("RecentWindow: %v", err)
	}
	if window[0].Role != ledger.RoleUser || window[1].Role != ledger.RoleAssistant {
		t.Errorf("roles = %q, %q; want user, assistant", window[0].Role, window[1].Role)
	}
}
