package matrix

import (
	"context"
	"os"
	"testing"

	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// TestDBSyncStoreRoundTrip verifies sync tokens persist through the
// SQLite-backed store and missing rows read as empty without error.
func TestDBSyncStoreRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "kioku-syncstore-test-*.db")
	if err != nil {
		t.Fatalf("create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	syncStore := newDBSyncStore(s.DB())
	ctx := context.Background()
	user := id.UserID("@kioku:example.com")

	tok, err := syncStore.LoadNextBatch(ctx, user)
	if err != nil {
		t.Fatalf("LoadNextBatch empty: %v", err)
	}
	if tok != "" {
		t.Errorf("token = %q, want empty", tok)
	}

	if err := syncStore.SaveNextBatch(ctx, user, "s72594_4483_1934"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}
	if err := syncStore.SaveNextBatch(ctx, user, "s72595_4484_1935"); err != nil {
		t.Fatalf("SaveNextBatch overwrite: %v", err)
	}

	tok, err = syncStore.LoadNextBatch(ctx, user)
	if err != nil {
		t.Fatalf("LoadNextBatch: %v", err)
	}
	if tok != "s72595_4484_1935" {
		t.Errorf("token = %q, want the newer one", tok)
	}

	// Filter IDs live under a separate key for the same user.
	if err := syncStore.SaveFilterID(ctx, user, "filter-1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}
	fid, err := syncStore.LoadFilterID(ctx, user)
	if err != nil {
		t.Fatalf("LoadFilterID: %v", err)
	}
	if fid != "filter-1" {
		t.Errorf("filter id = %q", fid)
	}
}
