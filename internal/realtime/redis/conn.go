package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/utils"
)

// Conn is one connection to a Backend. It keeps a lease alive while open;
// when the lease lapses, a sweep runs its disconnect operations.
type Conn struct {
	id string
	b  *Backend

	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}

	mu     sync.Mutex
	subs   map[string]struct{}
	closed bool
}

// Open creates a connection and starts its heartbeat.
func (b *Backend) Open(ctx context.Context) (*Conn, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, realtime.ErrClosed
	}

	c := &Conn{
		id:            utils.NewConnID(),
		b:             b,
		subs:          make(map[string]struct{}),
		heartbeatDone: make(chan struct{}),
	}
	if err := b.rdb.Set(ctx, b.leaseKey(c.id), "1", b.opts.LeaseTTL).Err(); err != nil {
		return nil, fmt.Errorf("create lease: %w", err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	c.stopHeartbeat = cancel
	go c.heartbeat(hbCtx)

	b.log.Debug().Str("conn_id", c.id).Msg("redis connection opened")
	return c, nil
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) heartbeat(ctx context.Context) {
	defer close(c.heartbeatDone)

	ticker := time.NewTicker(c.b.opts.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.b.rdb.Expire(ctx, c.b.leaseKey(c.id), c.b.opts.LeaseTTL).Err(); err != nil && ctx.Err() == nil {
				c.b.log.Warn().Err(err).Str("conn_id", c.id).Msg("lease refresh failed")
			}
		}
	}
}

func (c *Conn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrClosed
	}
	return nil
}

// Write replaces the value at path.
func (c *Conn) Write(ctx context.Context, path string, value any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	segs, err := realtime.Split(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot write the root", realtime.ErrInvalidPath)
	}
	normalized, err := realtime.Normalize(value)
	if err != nil {
		return err
	}
	return c.b.write(ctx, segs, normalized)
}

// Append writes value under a new push id below path.
func (c *Conn) Append(ctx context.Context, path string, value any) (string, error) {
	id := utils.NewPushID()
	if err := c.Write(ctx, realtime.Join(path, id), value); err != nil {
		return "", err
	}
	return id, nil
}

// ReadOnce returns the current value at path.
func (c *Conn) ReadOnce(ctx context.Context, path string) (realtime.Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return realtime.Snapshot{}, err
	}
	segs, err := realtime.Split(path)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	value, err := c.b.read(ctx, segs)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return realtime.NewSnapshot(realtime.Join(segs...), value, nil), nil
}

// Subscribe registers fn and queues the initial snapshot.
func (c *Conn) Subscribe(ctx context.Context, path string, q *realtime.Query, fn func(realtime.Snapshot)) (realtime.Handle, error) {
	if err := c.checkOpen(); err != nil {
		return realtime.Handle{}, err
	}
	segs, err := realtime.Split(path)
	if err != nil {
		return realtime.Handle{}, err
	}

	clean := realtime.Join(segs...)
	sub, err := c.b.addSubscription(clean, segs, q, fn)
	if err != nil {
		return realtime.Handle{}, err
	}

	c.mu.Lock()
	c.subs[sub.id] = struct{}{}
	c.mu.Unlock()

	select {
	case c.b.refresh <- sub:
	case <-ctx.Done():
		c.b.removeSubscription(sub.id)
		return realtime.Handle{}, ctx.Err()
	}
	return realtime.Handle{ID: sub.id, Path: clean}, nil
}

// Unsubscribe stops the subscription identified by h.
func (c *Conn) Unsubscribe(h realtime.Handle) error {
	c.mu.Lock()
	_, ok := c.subs[h.ID]
	delete(c.subs, h.ID)
	c.mu.Unlock()

	if ok {
		c.b.removeSubscription(h.ID)
	}
	return nil
}

// RemoveOnDisconnect records path under this connection's lease.
func (c *Conn) RemoveOnDisconnect(ctx context.Context, path string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	clean, err := realtime.Clean(path)
	if err != nil {
		return err
	}
	if err := c.b.rdb.SAdd(ctx, c.b.pendingKey(c.id), clean).Err(); err != nil {
		return fmt.Errorf("register disconnect path: %w", err)
	}
	return nil
}

// Remove deletes the value at path.
func (c *Conn) Remove(ctx context.Context, path string) error {
	return c.Write(ctx, path, nil)
}

// Close stops the heartbeat, unsubscribes and runs the disconnect operations.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]struct{})
	c.mu.Unlock()

	c.stopHeartbeat()
	<-c.heartbeatDone

	for id := range subs {
		c.b.removeSubscription(id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.b.runDisconnect(ctx, c.id); err != nil {
		return fmt.Errorf("run disconnect operations: %w", err)
	}
	c.b.log.Debug().Str("conn_id", c.id).Msg("redis connection closed")
	return nil
}

var _ realtime.Store = (*Conn)(nil)
