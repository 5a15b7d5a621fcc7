// Package remote is a realtime.Store that talks to the store server over a
// websocket. The server owns the real backend; closing the socket makes it
// run the disconnect operations registered through this client.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/proto"
	"github.com/vovakirdan/feelings/internal/realtime"
)

const requestTimeout = 5 * time.Second

// Backend dials a new websocket per connection.
type Backend struct {
	URL    string
	Logger *zerolog.Logger
}

// Connect dials the server and performs the protocol handshake.
func (b Backend) Connect(ctx context.Context) (realtime.Store, error) {
	return Dial(ctx, b.URL, b.Logger)
}

// Close is a no-op; connections are closed individually.
func (b Backend) Close() error { return nil }

// Client is one websocket connection to the store server.
type Client struct {
	conn   *websocket.Conn
	log    *zerolog.Logger
	connID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan proto.RawOutbound
	subs    map[string]*realtime.Dispatcher
	readErr error
	closed  bool
}

// Dial connects to url and sends hello.
func Dial(ctx context.Context, url string, logger *zerolog.Logger) (*Client, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		log:     logger,
		ctx:     loopCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]chan proto.RawOutbound),
		subs:    make(map[string]*realtime.Dispatcher),
	}
	go c.readLoop()

	var hello proto.HelloResult
	if err := c.call(ctx, proto.InboundTypeHello, proto.HelloData{Protocol: proto.ProtocolVersion}, &hello); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	c.connID = hello.ConnID
	logger.Debug().Str("conn_id", c.connID).Str("url", url).Msg("connected to store server")
	return c, nil
}

// ID returns the connection id assigned by the server.
func (c *Client) ID() string {
	return c.connID
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var out proto.RawOutbound
		if err := wsjson.Read(c.ctx, c.conn, &out); err != nil {
			c.fail(err)
			return
		}

		switch out.Type {
		case proto.OutboundTypeSnapshot:
			c.mu.Lock()
			disp := c.subs[out.Sub]
			c.mu.Unlock()
			if disp == nil {
				continue
			}
			var snap realtime.Snapshot
			if err := json.Unmarshal(out.Data, &snap); err != nil {
				c.log.Warn().Err(err).Str("sub", out.Sub).Msg("decode snapshot")
				continue
			}
			disp.Push(snap)
		case proto.OutboundTypeResult, proto.OutboundTypeError:
			c.mu.Lock()
			ch := c.pending[out.ID]
			delete(c.pending, out.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- out
			} else if out.Error != nil {
				c.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("server error")
			}
		default:
			c.log.Debug().Str("type", out.Type).Msg("ignoring unknown outbound")
		}
	}
}

// fail records the read error and releases every waiter.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readErr == nil {
		c.readErr = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, disp := range c.subs {
		disp.Stop()
		delete(c.subs, id)
	}
}

func (c *Client) register(id string) (chan proto.RawOutbound, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, realtime.ErrClosed
	}
	if c.readErr != nil {
		return nil, fmt.Errorf("%w: %v", realtime.ErrClosed, c.readErr)
	}
	ch := make(chan proto.RawOutbound, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) send(ctx context.Context, id, typ string, data any) (chan proto.RawOutbound, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	ch, err := c.register(id)
	if err != nil {
		return nil, err
	}
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: typ, ID: id, Data: payload}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", typ, err)
	}
	return ch, nil
}

func (c *Client) wait(ctx context.Context, ch chan proto.RawOutbound, result any) error {
	select {
	case out, ok := <-ch:
		if !ok {
			return realtime.ErrClosed
		}
		if out.Error != nil {
			return out.Error
		}
		if result != nil && len(out.Data) > 0 {
			if err := json.Unmarshal(out.Data, result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) call(ctx context.Context, typ string, data, result any) error {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch, err := c.send(ctx, id, typ, data)
	if err != nil {
		return err
	}
	return c.wait(ctx, ch, result)
}

// Write replaces the value at path.
func (c *Client) Write(ctx context.Context, path string, value any) error {
	return c.call(ctx, proto.InboundTypeSet, proto.SetData{Path: path, Value: value}, nil)
}

// Append stores value under a server generated key.
func (c *Client) Append(ctx context.Context, path string, value any) (string, error) {
	var res proto.PushResult
	if err := c.call(ctx, proto.InboundTypePush, proto.SetData{Path: path, Value: value}, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// ReadOnce fetches the current value at path.
func (c *Client) ReadOnce(ctx context.Context, path string) (realtime.Snapshot, error) {
	var snap realtime.Snapshot
	if err := c.call(ctx, proto.InboundTypeGet, proto.PathData{Path: path}, &snap); err != nil {
		return realtime.Snapshot{}, err
	}
	return snap, nil
}

// Subscribe registers fn under the request id before the request is sent,
// so the initial snapshot can never outrun the registration.
func (c *Client) Subscribe(ctx context.Context, path string, q *realtime.Query, fn func(realtime.Snapshot)) (realtime.Handle, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	disp := realtime.NewDispatcher(fn)

	c.mu.Lock()
	c.subs[id] = disp
	c.mu.Unlock()

	ch, err := c.send(ctx, id, proto.InboundTypeSub, proto.SubData{Path: path, Query: q})
	if err == nil {
		err = c.wait(ctx, ch, nil)
	}
	if err != nil {
		c.dropSub(id)
		return realtime.Handle{}, err
	}
	return realtime.Handle{ID: id, Path: path}, nil
}

func (c *Client) dropSub(id string) bool {
	c.mu.Lock()
	disp, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if ok {
		disp.Stop()
	}
	return ok
}

// Unsubscribe stops local delivery at once and tells the server.
func (c *Client) Unsubscribe(h realtime.Handle) error {
	if !c.dropSub(h.ID) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := c.call(ctx, proto.InboundTypeUnsub, proto.UnsubData{Sub: h.ID}, nil)
	if errors.Is(err, realtime.ErrClosed) {
		return nil
	}
	return err
}

// RemoveOnDisconnect asks the server to remove path when this socket closes.
func (c *Client) RemoveOnDisconnect(ctx context.Context, path string) error {
	return c.call(ctx, proto.InboundTypeOnDisconnect, proto.PathData{Path: path}, nil)
}

// Remove deletes the value at path.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.call(ctx, proto.InboundTypeRemove, proto.PathData{Path: path}, nil)
}

// Close closes the websocket and waits for the read loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	<-c.done

	c.mu.Lock()
	lost := c.readErr != nil && websocket.CloseStatus(c.readErr) != websocket.StatusNormalClosure
	c.mu.Unlock()
	if lost || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		err = nil
	}
	return err
}

var _ realtime.Store = (*Client)(nil)
