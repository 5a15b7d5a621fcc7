package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/feelings/internal/realtime"
)

func openConn(t *testing.T, tree *Tree) *Conn {
	t.Helper()
	c, err := tree.Open()
	if err != nil {
		t.Fatalf("open conn: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustSnapshot(t *testing.T, ch <-chan realtime.Snapshot, match func(realtime.Snapshot) bool) realtime.Snapshot {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("expected snapshot not received")
			return realtime.Snapshot{}
		}
	}
}

func TestWriteReadAndRemove(t *testing.T) {
	ctx := context.Background()
	tree := New(nil)
	c := openConn(t, tree)

	if err := c.Write(ctx, "lobbies/ABC123", map[string]any{"creator": "alice", "active": true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap, err := c.ReadOnce(ctx, "lobbies/ABC123")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !snap.Exists || snap.Child("creator").Value != "alice" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if err := c.Remove(ctx, "lobbies/ABC123"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	snap, _ = c.ReadOnce(ctx, "lobbies/ABC123")
	if snap.Exists {
		t.Fatalf("expected lobby removed")
	}
}

func TestWriteRejectsInvalidPaths(t *testing.T) {
	c := openConn(t, New(nil))

	if err := c.Write(context.Background(), "", "x"); !errors.Is(err, realtime.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for root write, got %v", err)
	}
	if err := c.Write(context.Background(), "lobbies/a$b", "x"); !errors.Is(err, realtime.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestSubscribeDeliversFullSnapshots(t *testing.T) {
	ctx := context.Background()
	tree := New(nil)
	writer := openConn(t, tree)
	reader := openConn(t, tree)

	ch := make(chan realtime.Snapshot, 16)
	q := &realtime.Query{OrderByChild: "timestamp", LimitToLast: 2}
	if _, err := reader.Subscribe(ctx, "lobbies/A/messages", q, func(s realtime.Snapshot) { ch <- s }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	initial := mustSnapshot(t, ch, func(realtime.Snapshot) bool { return true })
	if initial.Exists {
		t.Fatalf("initial snapshot should be empty: %+v", initial)
	}

	for i, ts := range []int64{100, 200, 300} {
		if _, err := writer.Append(ctx, "lobbies/A/messages", map[string]any{"n": i, "timestamp": ts}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	last := mustSnapshot(t, ch, func(s realtime.Snapshot) bool { return len(s.Children()) == 2 && s.Children()[1].Child("timestamp").Value == float64(300) })
	if got := last.Children()[0].Child("timestamp").Value; got != float64(200) {
		t.Fatalf("expected limit to keep the latest two, got first ts %v", got)
	}

	// Writes elsewhere do not trigger the listener.
	if err := writer.Write(ctx, "lobbies/B/messages/x", map[string]any{"timestamp": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot for unrelated path: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := openConn(t, New(nil))

	ch := make(chan realtime.Snapshot, 16)
	h, err := c.Subscribe(ctx, "lobbies/A/users", nil, func(s realtime.Snapshot) { ch <- s })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mustSnapshot(t, ch, func(realtime.Snapshot) bool { return true })

	if err := c.Unsubscribe(h); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := c.Unsubscribe(h); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}

	if err := c.Write(ctx, "lobbies/A/users/bob", map[string]any{"name": "bob"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case s := <-ch:
		t.Fatalf("snapshot after unsubscribe: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseRunsDisconnectOperations(t *testing.T) {
	ctx := context.Background()
	tree := New(nil)
	observer := openConn(t, tree)

	leaving, err := tree.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := leaving.Write(ctx, "lobbies/A/users/bob", map[string]any{"name": "bob", "online": true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := leaving.RemoveOnDisconnect(ctx, "lobbies/A/users/bob"); err != nil {
		t.Fatalf("on disconnect: %v", err)
	}
	if err := observer.Write(ctx, "lobbies/A/users/carol", map[string]any{"name": "carol"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := leaving.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	snap, _ := observer.ReadOnce(ctx, "lobbies/A/users")
	if snap.Child("bob").Exists {
		t.Fatalf("bob should be removed on disconnect")
	}
	if !snap.Child("carol").Exists {
		t.Fatalf("carol should remain")
	}

	if err := leaving.Write(ctx, "x", 1); !errors.Is(err, realtime.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestTreeCloseClosesConnections(t *testing.T) {
	ctx := context.Background()
	tree := New(nil)
	c, err := tree.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = c.RemoveOnDisconnect(ctx, "lobbies/A/users/bob")

	if err := tree.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := tree.Open(); !errors.Is(err, realtime.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := c.ReadOnce(ctx, "lobbies"); !errors.Is(err, realtime.ErrClosed) {
		t.Fatalf("expected conn closed, got %v", err)
	}
}
