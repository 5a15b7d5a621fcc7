// Package memory is an in-process realtime backend. The store server uses
// it by default and tests use it as a stand-in for remote databases.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/utils"
)

// Tree is a shared in-memory database. Connections made with Connect see
// each other's writes and receive change snapshots.
type Tree struct {
	mu      sync.Mutex
	root    any
	subs    map[string]*subscription
	conns   map[string]*Conn
	nextSub uint64
	closed  bool
	log     *zerolog.Logger
}

type subscription struct {
	id    string
	path  string
	segs  []string
	query *realtime.Query
	disp  *realtime.Dispatcher
}

// New creates an empty tree.
func New(logger *zerolog.Logger) *Tree {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Tree{
		subs:  make(map[string]*subscription),
		conns: make(map[string]*Conn),
		log:   logger,
	}
}

// Connect opens a new connection to the tree.
func (t *Tree) Connect(_ context.Context) (realtime.Store, error) {
	return t.Open()
}

// Open is Connect with a concrete return type.
func (t *Tree) Open() (*Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, realtime.ErrClosed
	}
	c := &Conn{
		id:   utils.NewConnID(),
		tree: t,
		subs: make(map[string]struct{}),
	}
	t.conns[c.id] = c
	t.log.Debug().Str("conn_id", c.id).Msg("memory connection opened")
	return c, nil
}

// Close closes every connection, running their disconnect operations.
func (t *Tree) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// set replaces the value at segs and notifies overlapping subscriptions.
func (t *Tree) set(segs []string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.root = realtime.SetAt(t.root, segs, value)
	changed := realtime.Join(segs...)

	for _, sub := range t.subs {
		if realtime.Overlaps(sub.path, changed) {
			sub.disp.Push(t.snapshotLocked(sub.path, sub.segs, sub.query))
		}
	}
}

func (t *Tree) read(path string, segs []string) realtime.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(path, segs, nil)
}

func (t *Tree) snapshotLocked(path string, segs []string, q *realtime.Query) realtime.Snapshot {
	value := realtime.Copy(realtime.ValueAt(t.root, segs))
	return realtime.NewSnapshot(path, value, q)
}

func (t *Tree) subscribe(path string, segs []string, q *realtime.Query, fn func(realtime.Snapshot)) *subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSub++
	sub := &subscription{
		id:    strconv.FormatUint(t.nextSub, 10),
		path:  path,
		segs:  segs,
		query: q,
		disp:  realtime.NewDispatcher(fn),
	}
	t.subs[sub.id] = sub
	sub.disp.Push(t.snapshotLocked(path, segs, q))
	return sub
}

func (t *Tree) unsubscribe(id string) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	delete(t.subs, id)
	t.mu.Unlock()

	if ok {
		sub.disp.Stop()
	}
}

func (t *Tree) forget(connID string) {
	t.mu.Lock()
	delete(t.conns, connID)
	t.mu.Unlock()
}

// Conn is one client connection to a Tree.
type Conn struct {
	id   string
	tree *Tree

	mu           sync.Mutex
	onDisconnect []string
	subs         map[string]struct{}
	closed       bool
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
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
func (c *Conn) Write(_ context.Context, path string, value any) error {
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
	c.tree.set(segs, normalized)
	return nil
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
func (c *Conn) ReadOnce(_ context.Context, path string) (realtime.Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return realtime.Snapshot{}, err
	}
	segs, err := realtime.Split(path)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return c.tree.read(realtime.Join(segs...), segs), nil
}

// Subscribe starts delivering snapshots of path to fn.
func (c *Conn) Subscribe(_ context.Context, path string, q *realtime.Query, fn func(realtime.Snapshot)) (realtime.Handle, error) {
	segs, err := realtime.Split(path)
	if err != nil {
		return realtime.Handle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.Handle{}, realtime.ErrClosed
	}

	clean := realtime.Join(segs...)
	sub := c.tree.subscribe(clean, segs, q, fn)
	c.subs[sub.id] = struct{}{}
	return realtime.Handle{ID: sub.id, Path: clean}, nil
}

// Unsubscribe stops the subscription identified by h.
func (c *Conn) Unsubscribe(h realtime.Handle) error {
	c.mu.Lock()
	_, ok := c.subs[h.ID]
	delete(c.subs, h.ID)
	c.mu.Unlock()

	if ok {
		c.tree.unsubscribe(h.ID)
	}
	return nil
}

// RemoveOnDisconnect registers path for removal when the connection closes.
func (c *Conn) RemoveOnDisconnect(_ context.Context, path string) error {
	clean, err := realtime.Clean(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrClosed
	}
	for _, p := range c.onDisconnect {
		if p == clean {
			return nil
		}
	}
	c.onDisconnect = append(c.onDisconnect, clean)
	return nil
}

// Remove deletes the value at path.
func (c *Conn) Remove(ctx context.Context, path string) error {
	return c.Write(ctx, path, nil)
}

// Close stops all subscriptions of the connection and runs its disconnect operations.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	paths := c.onDisconnect
	c.onDisconnect = nil
	subs := c.subs
	c.subs = make(map[string]struct{})
	c.mu.Unlock()

	for id := range subs {
		c.tree.unsubscribe(id)
	}
	for _, p := range paths {
		segs, err := realtime.Split(p)
		if err != nil {
			continue
		}
		c.tree.set(segs, nil)
	}
	c.tree.forget(c.id)
	c.tree.log.Debug().Str("conn_id", c.id).Int("removed", len(paths)).Msg("memory connection closed")
	return nil
}

var (
	_ realtime.Backend = (*Tree)(nil)
	_ realtime.Store   = (*Conn)(nil)
)
