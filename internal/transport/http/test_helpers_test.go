package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/config"
	"github.com/vovakirdan/feelings/internal/proto"
	"github.com/vovakirdan/feelings/internal/realtime/memory"
)

type testServer struct {
	ts    *httptest.Server
	tree  *memory.Tree
	admin *memory.Conn
}

// startTestServer runs the store server over an in-memory tree.
func startTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()

	logger := zerolog.Nop()
	tree := memory.New(&logger)
	admin, err := tree.Open()
	if err != nil {
		t.Fatalf("open admin connection: %v", err)
	}

	cfg := config.Default()
	cfg.Server.Addr = ":0"
	if mutate != nil {
		mutate(&cfg)
	}

	server := NewServer(tree, admin, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = tree.Close()
	})

	return &testServer{ts: ts, tree: tree, admin: admin}
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
}

func dialWS(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, typ, id string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, ID: id, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// mustOutbound reads until match accepts a frame or the deadline passes.
func mustOutbound(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(proto.RawOutbound) bool) proto.RawOutbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		var out proto.RawOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read outbound: %v", err)
		}
		if match(out) {
			return out
		}
	}
}

func resultFor(id string) func(proto.RawOutbound) bool {
	return func(out proto.RawOutbound) bool {
		return out.ID == id && (out.Type == proto.OutboundTypeResult || out.Type == proto.OutboundTypeError)
	}
}
