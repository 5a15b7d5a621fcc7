package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "currentLobby"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "currentLobby", "ABC123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "currentLobby", "XYZ789"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	value, ok, err := s.Get(ctx, "currentLobby")
	if err != nil || !ok || value != "XYZ789" {
		t.Fatalf("unexpected get result: %q ok=%v err=%v", value, ok, err)
	}

	if err := s.Delete(ctx, "currentLobby"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "currentLobby"); err != nil {
		t.Fatalf("delete missing key should succeed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "currentLobby"); ok {
		t.Fatal("key should be gone after delete")
	}
}

func TestListOrdersByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, kv := range [][2]string{{"userName", "alice"}, {"currentLobby", "ABC123"}, {"lastMessageId", "m1"}} {
		if err := s.Set(ctx, kv[0], kv[1]); err != nil {
			t.Fatalf("set %s: %v", kv[0], err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"currentLobby", "lastMessageId", "userName"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Key != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], e.Key)
		}
		if e.UpdatedAt.IsZero() {
			t.Errorf("entry %s has no timestamp", e.Key)
		}
	}
}

func TestNewPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(ctx, "userName", "bob"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	value, ok, err := reopened.Get(ctx, "userName")
	if err != nil || !ok || value != "bob" {
		t.Fatalf("value not persisted: %q ok=%v err=%v", value, ok, err)
	}
}
