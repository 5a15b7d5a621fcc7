package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/config"
	"github.com/vovakirdan/feelings/internal/proto"
	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/utils"
)

const outboundBuffer = 64

// WSHandler upgrades HTTP connections and bridges each one to its own
// realtime backend connection.
type WSHandler struct {
	backend realtime.Backend
	cfg     config.ServerConfig
	log     *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(backend realtime.Backend, cfg config.ServerConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{backend: backend, cfg: cfg, log: logger}
}

// wsConn is the per-socket state shared by the read and write loops.
type wsConn struct {
	id    string
	store realtime.Store
	out   chan proto.Outbound

	mu   sync.Mutex
	subs map[string]realtime.Handle
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	st, err := h.backend.Connect(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("open store connection")
		conn.Close(websocket.StatusInternalError, "store unavailable")
		return
	}

	client := &wsConn{
		id:    connID(st),
		store: st,
		out:   make(chan proto.Outbound, outboundBuffer),
		subs:  make(map[string]realtime.Handle),
	}
	// Closing the store connection runs its disconnect operations.
	defer func() {
		if err := st.Close(); err != nil {
			h.log.Warn().Err(err).Str("conn_id", client.id).Msg("close store connection")
		}
	}()
	h.log.Info().Str("conn_id", client.id).Str("remote", r.RemoteAddr).Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newRateLimiter(h.cfg.MessagesPerMinute)
	stopLimiter := make(chan struct{})
	limiter.startReset(stopLimiter)
	defer close(stopLimiter)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.id).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("conn_id", client.id).Msg("ws disconnected")
	conn.Close(status, reason)
}

func connID(st realtime.Store) string {
	if withID, ok := st.(interface{ ID() string }); ok {
		return withID.ID()
	}
	return utils.NewConnID()
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *wsConn, limiter *rateLimiter) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		var out proto.Outbound
		if !limiter.allow() {
			out = errorOutbound(inbound.ID, &proto.Error{Code: proto.CodeRateLimited, Msg: "too many messages"})
		} else {
			out = h.handle(ctx, client, inbound)
		}

		select {
		case client.out <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *wsConn) error {
	for {
		select {
		case out := <-client.out:
			if err := wsjson.Write(ctx, conn, out); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.id).Msg("write ws outbound")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handle executes one request against the connection's store.
func (h *WSHandler) handle(ctx context.Context, client *wsConn, inbound proto.Inbound) proto.Outbound {
	switch inbound.Type {
	case proto.InboundTypeHello:
		var hello proto.HelloData
		if len(inbound.Data) > 0 {
			if protoErr := decodeData(inbound, &hello); protoErr != nil {
				return errorOutbound(inbound.ID, protoErr)
			}
		}
		if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
			return errorOutbound(inbound.ID, &proto.Error{Code: proto.CodeUnsupportedProtocol, Msg: "unsupported protocol version"})
		}
		return resultOutbound(inbound.ID, proto.HelloResult{Protocol: proto.ProtocolVersion, ConnID: client.id})

	case proto.InboundTypeSet:
		data, protoErr := decodeSet(inbound)
		if protoErr != nil {
			return errorOutbound(inbound.ID, protoErr)
		}
		if err := client.store.Write(ctx, data.Path, data.Value); err != nil {
			return errorOutbound(inbound.ID, storeError(err))
		}
		return resultOutbound(inbound.ID, nil)

	case proto.InboundTypePush:
		data, protoErr := decodeSet(inbound)
		if protoErr != nil {
			return errorOutbound(inbound.ID, protoErr)
		}
		id, err := client.store.Append(ctx, data.Path, data.Value)
		if err != nil {
			return errorOutbound(inbound.ID, storeError(err))
		}
		return resultOutbound(inbound.ID, proto.PushResult{ID: id})

	case proto.InboundTypeGet:
		path, protoErr := decodePath(inbound)
		if protoErr != nil {
			return errorOutbound(inbound.ID, protoErr)
		}
		snap, err := client.store.ReadOnce(ctx, path)
		if err != nil {
			return errorOutbound(inbound.ID, storeError(err))
		}
		return resultOutbound(inbound.ID, snap)

	case proto.InboundTypeSub:
		return h.subscribe(ctx, client, inbound)

	case proto.InboundTypeUnsub:
		var data proto.UnsubData
		if protoErr := decodeData(inbound, &data); protoErr != nil {
			return errorOutbound(inbound.ID, protoErr)
		}
		client.mu.Lock()
		handle, ok := client.subs[data.Sub]
		delete(client.subs, data.Sub)
		client.mu.Unlock()
		if ok {
			if err := client.store.Unsubscribe(handle); err != nil {
				return errorOutbound(inbound.ID, storeError(err))
			}
		}
		return resultOutbound(inbound.ID, nil)

	case proto.InboundTypeOnDisconnect:
		path, protoErr := decodePath(inbound)
		if protoErr != nil {
			return errorOutbound(inbound.ID, protoErr)
		}
		if err := client.store.RemoveOnDisconnect(ctx, path); err != nil {
			return errorOutbound(inbound.ID, storeError(err))
		}
		return resultOutbound(inbound.ID, nil)

	case proto.InboundTypeRemove:
		path, protoErr := decodePath(inbound)
		if protoErr != nil {
			return errorOutbound(inbound.ID, protoErr)
		}
		if err := client.store.Remove(ctx, path); err != nil {
			return errorOutbound(inbound.ID, storeError(err))
		}
		return resultOutbound(inbound.ID, nil)

	default:
		return errorOutbound(inbound.ID, &proto.Error{Code: proto.CodeInvalidMessage, Msg: "unknown message type"})
	}
}

// subscribe keys the subscription by the request id so the client can route
// snapshots that arrive before the result.
func (h *WSHandler) subscribe(ctx context.Context, client *wsConn, inbound proto.Inbound) proto.Outbound {
	if inbound.ID == "" {
		return errorOutbound("", &proto.Error{Code: proto.CodeBadRequest, Msg: "id is required"})
	}
	var data proto.SubData
	if protoErr := decodeData(inbound, &data); protoErr != nil {
		return errorOutbound(inbound.ID, protoErr)
	}

	client.mu.Lock()
	_, taken := client.subs[inbound.ID]
	client.mu.Unlock()
	if taken {
		return errorOutbound(inbound.ID, &proto.Error{Code: proto.CodeBadRequest, Msg: "subscription id already in use"})
	}

	key := inbound.ID
	handle, err := client.store.Subscribe(ctx, data.Path, data.Query, func(snap realtime.Snapshot) {
		select {
		case client.out <- snapshotOutbound(key, snap):
		case <-ctx.Done():
		}
	})
	if err != nil {
		return errorOutbound(inbound.ID, storeError(err))
	}

	client.mu.Lock()
	client.subs[key] = handle
	client.mu.Unlock()

	return resultOutbound(inbound.ID, proto.SubResult{Sub: key})
}
