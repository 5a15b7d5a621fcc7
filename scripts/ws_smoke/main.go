package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/feelings/internal/core"
	"github.com/vovakirdan/feelings/internal/proto"
	"github.com/vovakirdan/feelings/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "name the feeling is sent from")
	lobby := flag.String("lobby", "SMOKE1", "lobby code to write into")
	emoji := flag.String("emoji", "😊", "feeling to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ, id string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, ID: id, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	// await reads until the result for id arrives, printing everything seen.
	await := func(id string) (proto.RawOutbound, error) {
		for {
			var out proto.RawOutbound
			if err := wsjson.Read(ctx, conn, &out); err != nil {
				return out, fmt.Errorf("read: %w", err)
			}
			log.Printf("recv type=%s id=%s sub=%s data=%s", out.Type, out.ID, out.Sub, out.Data)
			if out.ID != id {
				continue
			}
			if out.Error != nil {
				return out, out.Error
			}
			return out, nil
		}
	}

	if err := send(proto.InboundTypeHello, "1", proto.HelloData{Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if _, err := await("1"); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	record := core.LobbyRecord{Creator: *user, CreatedAt: time.Now().UnixMilli(), Active: true}
	if err := send(proto.InboundTypeSet, "2", proto.SetData{Path: core.LobbyPath(*lobby), Value: record}); err != nil {
		return err
	}
	if _, err := await("2"); err != nil {
		return fmt.Errorf("create lobby: %w", err)
	}

	sub := proto.SubData{Path: core.MessagesPath(*lobby), Query: core.MessagesQuery(core.MaxMessages)}
	if err := send(proto.InboundTypeSub, "3", sub); err != nil {
		return err
	}
	if _, err := await("3"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	msg := core.Message{Emoji: *emoji, From: *user, Timestamp: time.Now().UnixMilli()}
	if err := send(proto.InboundTypePush, "4", proto.SetData{Path: core.MessagesPath(*lobby), Value: msg}); err != nil {
		return err
	}
	out, err := await("4")
	if err != nil {
		return fmt.Errorf("send feeling: %w", err)
	}
	var pushed proto.PushResult
	if err := json.Unmarshal(out.Data, &pushed); err != nil {
		return fmt.Errorf("decode push result: %w", err)
	}

	// Wait for a snapshot that carries the new message.
	for {
		var snapOut proto.RawOutbound
		if err := wsjson.Read(ctx, conn, &snapOut); err != nil {
			return fmt.Errorf("await snapshot: %w", err)
		}
		if snapOut.Type != proto.OutboundTypeSnapshot || snapOut.Sub != "3" {
			continue
		}
		var snap realtime.Snapshot
		if err := json.Unmarshal(snapOut.Data, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		if snap.Child(pushed.ID).Exists {
			break
		}
	}

	fmt.Printf("smoke ok: lobby %s received %s (%s)\n", *lobby, *emoji, pushed.ID)
	return nil
}
