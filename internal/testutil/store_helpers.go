package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/msgctl/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t testing.TB) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedMessages observes count messages in folder with UIDs 1..count and
// Message-IDs <n@test>, returning their shadow IDs.
func SeedMessages(t testing.TB, st *store.Store, account, folder string, count int) []int64 {
	t.Helper()
	obs := make([]store.Observation, count)
	for i := range obs {
		uid := uint32(i + 1)
		obs[i] = store.Observation{
			Account:   account,
			Folder:    folder,
			UID:       uid,
			MessageID: fmt.Sprintf("<%d@test>", uid),
			Subject:   fmt.Sprintf("Message %d", uid),
			From:      "sender@example.com",
			Date:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			Size:      1000,
		}
	}
	ids, err := st.ObserveBatch(context.Background(), obs)
	MustNoErr(t, err, "SeedMessages")
	return ids
}
