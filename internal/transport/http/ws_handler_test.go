package http

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/feelings/internal/config"
	"github.com/vovakirdan/feelings/internal/proto"
	"github.com/vovakirdan/feelings/internal/realtime"
)

func TestHealthEndpoint(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, err := srv.ts.Client().Get(srv.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestWebSocketSubscribeReceivesWrites(t *testing.T) {
	srv := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, srv.wsURL())
	connB := dialWS(t, ctx, srv.wsURL())

	sendInbound(t, ctx, connB, proto.InboundTypeSub, "s1", proto.SubData{
		Path:  "lobbies/ABC123/messages",
		Query: &realtime.Query{OrderByChild: "timestamp", LimitToLast: 50},
	})
	res := mustOutbound(t, ctx, connB, resultFor("s1"))
	if res.Type != proto.OutboundTypeResult {
		t.Fatalf("subscribe failed: %+v", res.Error)
	}

	sendInbound(t, ctx, connA, proto.InboundTypePush, "1", proto.SetData{
		Path:  "lobbies/ABC123/messages",
		Value: map[string]any{"emoji": "😊", "from": "alice", "timestamp": 100},
	})
	pushed := mustOutbound(t, ctx, connA, resultFor("1"))
	var push proto.PushResult
	if err := json.Unmarshal(pushed.Data, &push); err != nil || push.ID == "" {
		t.Fatalf("expected push id, got %s (%v)", pushed.Data, err)
	}

	snapOut := mustOutbound(t, ctx, connB, func(out proto.RawOutbound) bool {
		if out.Type != proto.OutboundTypeSnapshot || out.Sub != "s1" {
			return false
		}
		var snap realtime.Snapshot
		_ = json.Unmarshal(out.Data, &snap)
		return snap.Child(push.ID).Exists
	})

	var snap realtime.Snapshot
	if err := json.Unmarshal(snapOut.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got := snap.Child(push.ID).Child("from").Value; got != "alice" {
		t.Fatalf("unexpected sender: %v", got)
	}
}

func TestWebSocketCloseRunsDisconnectOperations(t *testing.T) {
	srv := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.wsURL())
	sendInbound(t, ctx, conn, proto.InboundTypeSet, "1", proto.SetData{
		Path:  "lobbies/ABC123/users/bob",
		Value: map[string]any{"name": "bob", "online": true},
	})
	mustOutbound(t, ctx, conn, resultFor("1"))
	sendInbound(t, ctx, conn, proto.InboundTypeOnDisconnect, "2", proto.PathData{Path: "lobbies/ABC123/users/bob"})
	mustOutbound(t, ctx, conn, resultFor("2"))

	snap, err := srv.admin.ReadOnce(ctx, "lobbies/ABC123/users/bob")
	if err != nil || !snap.Exists {
		t.Fatalf("presence should exist before disconnect: %v", err)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err = srv.admin.ReadOnce(ctx, "lobbies/ABC123/users/bob")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !snap.Exists {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("presence was not removed after disconnect")
}

func TestWebSocketErrors(t *testing.T) {
	srv := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv.wsURL())

	cases := []struct {
		typ  string
		data any
		code string
	}{
		{typ: "bogus", data: map[string]any{}, code: proto.CodeInvalidMessage},
		{typ: proto.InboundTypeGet, data: proto.PathData{}, code: proto.CodeBadRequest},
		{typ: proto.InboundTypeSet, data: proto.SetData{Path: "bad.path", Value: 1}, code: proto.CodeBadRequest},
	}
	for i, tc := range cases {
		id := string(rune('a' + i))
		sendInbound(t, ctx, conn, tc.typ, id, tc.data)
		out := mustOutbound(t, ctx, conn, resultFor(id))
		if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != tc.code {
			t.Fatalf("%s: expected %s, got %+v", tc.typ, tc.code, out)
		}
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	srv := startTestServer(t, func(cfg *config.Config) {
		cfg.Server.MessagesPerMinute = 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv.wsURL())

	for _, id := range []string{"1", "2", "3"} {
		sendInbound(t, ctx, conn, proto.InboundTypeGet, id, proto.PathData{Path: "lobbies"})
	}
	mustOutbound(t, ctx, conn, resultFor("1"))
	mustOutbound(t, ctx, conn, resultFor("2"))
	out := mustOutbound(t, ctx, conn, resultFor("3"))
	if out.Error == nil || out.Error.Code != proto.CodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", out)
	}
}
