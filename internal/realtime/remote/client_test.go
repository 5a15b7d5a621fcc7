package remote

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/config"
	"github.com/vovakirdan/feelings/internal/proto"
	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/realtime/memory"
	transporthttp "github.com/vovakirdan/feelings/internal/transport/http"
)

func startServer(t *testing.T) (string, *memory.Conn) {
	t.Helper()

	logger := zerolog.Nop()
	tree := memory.New(&logger)
	admin, err := tree.Open()
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}
	cfg := config.Default()
	server := transporthttp.NewServer(tree, admin, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = tree.Close()
	})
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws", admin
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSnapshot(t *testing.T, ch <-chan realtime.Snapshot, match func(realtime.Snapshot) bool) realtime.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("expected snapshot not received")
			return realtime.Snapshot{}
		}
	}
}

func TestClientRoundTrip(t *testing.T) {
	url, _ := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	if c.ID() == "" {
		t.Fatal("expected a connection id from the handshake")
	}

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

	id, err := c.Append(ctx, "lobbies/ABC123/messages", map[string]any{"emoji": "😊"})
	if err != nil || id == "" {
		t.Fatalf("append: id=%q err=%v", id, err)
	}

	if err := c.Remove(ctx, "lobbies/ABC123"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	snap, _ = c.ReadOnce(ctx, "lobbies/ABC123")
	if snap.Exists {
		t.Fatal("lobby should be removed")
	}
}

func TestClientSubscribe(t *testing.T) {
	url, _ := startServer(t)
	writer := dial(t, url)
	reader := dial(t, url)
	ctx := context.Background()

	ch := make(chan realtime.Snapshot, 16)
	q := &realtime.Query{OrderByChild: "timestamp", LimitToLast: 1}
	h, err := reader.Subscribe(ctx, "lobbies/A/messages", q, func(s realtime.Snapshot) { ch <- s })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitSnapshot(t, ch, func(s realtime.Snapshot) bool { return !s.Exists })

	for _, ts := range []int{10, 20} {
		if _, err := writer.Append(ctx, "lobbies/A/messages", map[string]any{"timestamp": ts}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	snap := waitSnapshot(t, ch, func(s realtime.Snapshot) bool {
		children := s.Children()
		return len(children) == 1 && children[0].Child("timestamp").Value == float64(20)
	})
	if len(snap.Order) != 1 {
		t.Fatalf("query order not carried over the wire: %+v", snap)
	}

	if err := reader.Unsubscribe(h); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := reader.Unsubscribe(h); err != nil {
		t.Fatalf("second unsubscribe should be a no-op: %v", err)
	}
}

func TestClientCloseRunsDisconnectOperations(t *testing.T) {
	url, admin := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	if err := c.Write(ctx, "lobbies/A/users/bob", map[string]any{"name": "bob"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.RemoveOnDisconnect(ctx, "lobbies/A/users/bob"); err != nil {
		t.Fatalf("ondisconnect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := admin.ReadOnce(ctx, "lobbies/A/users/bob")
		if !snap.Exists {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap, _ := admin.ReadOnce(ctx, "lobbies/A/users/bob"); snap.Exists {
		t.Fatal("server should remove the path when the socket closes")
	}

	if err := c.Write(ctx, "x", 1); !errors.Is(err, realtime.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestClientServerErrors(t *testing.T) {
	url, _ := startServer(t)
	c := dial(t, url)

	err := c.Write(context.Background(), "bad.path", 1)
	var protoErr *proto.Error
	if !errors.As(err, &protoErr) || protoErr.Code != proto.CodeBadRequest {
		t.Fatalf("expected bad_request, got %v", err)
	}
}
