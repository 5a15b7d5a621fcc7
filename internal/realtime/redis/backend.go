// Package redis stores the realtime tree in Redis. Changes fan out over
// pub/sub so several server processes can share one database. Disconnect
// cleanup relies on heartbeat leases instead of socket state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/realtime"
)

const scanCount = 512

// Options tune key naming and lease timing.
type Options struct {
	Prefix        string
	LeaseTTL      time.Duration
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "feelings"
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = o.LeaseTTL / 3
	}
	return o
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     50,
		MaxIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// Backend shares one Redis client and one change feed between connections.
type Backend struct {
	rdb  *redis.Client
	opts Options
	log  *zerolog.Logger

	pubsub  *redis.PubSub
	refresh chan *subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	subs    map[string]*subscription
	nextSub uint64
	closed  bool
}

type subscription struct {
	id    string
	path  string
	segs  []string
	query *realtime.Query
	disp  *realtime.Dispatcher
}

// New subscribes to the change feed and returns a ready backend.
func New(ctx context.Context, rdb *redis.Client, opts Options, logger *zerolog.Logger) (*Backend, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	b := &Backend{
		rdb:     rdb,
		opts:    opts.withDefaults(),
		log:     logger,
		refresh: make(chan *subscription, 64),
		subs:    make(map[string]*subscription),
	}

	b.pubsub = rdb.Subscribe(ctx, b.changesChannel())
	// Wait for the subscription to be confirmed so no change is missed.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("subscribe to changes: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.listen(listenCtx)

	return b, nil
}

func (b *Backend) treeKey() string             { return b.opts.Prefix + ":tree" }
func (b *Backend) changesChannel() string      { return b.opts.Prefix + ":changes" }
func (b *Backend) leaseKey(id string) string   { return b.opts.Prefix + ":lease:" + id }
func (b *Backend) pendingKey(id string) string { return b.opts.Prefix + ":ondisconnect:" + id }

// Connect opens a connection with its own lease.
func (b *Backend) Connect(ctx context.Context) (realtime.Store, error) {
	return b.Open(ctx)
}

// Close stops the change feed. Connections should be closed first.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.disp.Stop()
	}
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// listen serialises every snapshot read so deliveries stay monotonic per subscription.
func (b *Backend) listen(ctx context.Context) {
	defer b.wg.Done()
	changes := b.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-b.refresh:
			b.deliver(ctx, sub)
		case msg, ok := <-changes:
			if !ok {
				return
			}
			for _, sub := range b.overlapping(msg.Payload) {
				b.deliver(ctx, sub)
			}
		}
	}
}

func (b *Backend) overlapping(changed string) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*subscription, 0)
	for _, sub := range b.subs {
		if realtime.Overlaps(sub.path, changed) {
			out = append(out, sub)
		}
	}
	return out
}

func (b *Backend) deliver(ctx context.Context, sub *subscription) {
	b.mu.Lock()
	_, active := b.subs[sub.id]
	b.mu.Unlock()
	if !active {
		return
	}

	value, err := b.read(ctx, sub.segs)
	if err != nil {
		b.log.Warn().Err(err).Str("path", sub.path).Msg("failed to read subscribed path")
		return
	}
	sub.disp.Push(realtime.NewSnapshot(sub.path, value, sub.query))
}

func (b *Backend) addSubscription(path string, segs []string, q *realtime.Query, fn func(realtime.Snapshot)) (*subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, realtime.ErrClosed
	}
	b.nextSub++
	sub := &subscription{
		id:    strconv.FormatUint(b.nextSub, 10),
		path:  path,
		segs:  segs,
		query: q,
		disp:  realtime.NewDispatcher(fn),
	}
	b.subs[sub.id] = sub
	return sub, nil
}

func (b *Backend) removeSubscription(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		sub.disp.Stop()
	}
}

// read rebuilds the value at segs from the flattened hash.
func (b *Backend) read(ctx context.Context, segs []string) (any, error) {
	path := strings.Join(segs, "/")

	if path != "" {
		raw, err := b.rdb.HGet(ctx, b.treeKey(), path).Result()
		switch {
		case err == nil:
			return decodeLeaf(raw)
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("hget %s: %w", path, err)
		}
	}

	fields, err := b.scanBelow(ctx, path)
	if err != nil {
		return nil, err
	}

	var root any
	for field, raw := range fields {
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return nil, err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(field, path), "/")
		relSegs, err := realtime.Split(rel)
		if err != nil {
			continue
		}
		root = realtime.SetAt(root, relSegs, leaf)
	}
	return root, nil
}

// scanBelow returns every field strictly below path.
func (b *Backend) scanBelow(ctx context.Context, path string) (map[string]string, error) {
	match := "*"
	if path != "" {
		match = escapeGlob(path) + "/*"
	}

	out := make(map[string]string)
	var cursor uint64
	for {
		kv, next, err := b.rdb.HScan(ctx, b.treeKey(), cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("hscan %s: %w", path, err)
		}
		for i := 0; i+1 < len(kv); i += 2 {
			out[kv[i]] = kv[i+1]
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// write replaces the subtree at segs and publishes the change.
func (b *Backend) write(ctx context.Context, segs []string, value any) error {
	path := strings.Join(segs, "/")

	below, err := b.scanBelow(ctx, path)
	if err != nil {
		return err
	}
	stale := make([]string, 0, len(below)+len(segs))
	for field := range below {
		stale = append(stale, field)
	}
	// The path itself and scalar ancestors are replaced as well.
	for i := 1; i <= len(segs); i++ {
		stale = append(stale, strings.Join(segs[:i], "/"))
	}

	leaves := make(map[string]any)
	if err := flatten(path, value, leaves); err != nil {
		return err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, b.treeKey(), stale...)
		if len(leaves) > 0 {
			pipe.HSet(ctx, b.treeKey(), leaves)
		}
		pipe.Publish(ctx, b.changesChannel(), path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Sweep removes the disconnect paths of connections whose lease expired and
// returns how many connections were cleaned up.
func (b *Backend) Sweep(ctx context.Context) (int, error) {
	prefix := b.pendingKey("")
	swept := 0

	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, escapeGlob(prefix)+"*", scanCount).Result()
		if err != nil {
			return swept, fmt.Errorf("scan pending: %w", err)
		}
		for _, key := range keys {
			connID := strings.TrimPrefix(key, prefix)
			alive, err := b.rdb.Exists(ctx, b.leaseKey(connID)).Result()
			if err != nil {
				return swept, fmt.Errorf("check lease %s: %w", connID, err)
			}
			if alive > 0 {
				continue
			}
			if err := b.runDisconnect(ctx, connID); err != nil {
				return swept, err
			}
			swept++
			b.log.Info().Str("conn_id", connID).Msg("swept expired connection")
		}
		if next == 0 {
			return swept, nil
		}
		cursor = next
	}
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (b *Backend) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.Sweep(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn().Err(err).Msg("lease sweep failed")
			}
		}
	}
}

func (b *Backend) runDisconnect(ctx context.Context, connID string) error {
	paths, err := b.rdb.SMembers(ctx, b.pendingKey(connID)).Result()
	if err != nil {
		return fmt.Errorf("load disconnect paths: %w", err)
	}
	for _, p := range paths {
		segs, err := realtime.Split(p)
		if err != nil || len(segs) == 0 {
			continue
		}
		if err := b.write(ctx, segs, nil); err != nil {
			return err
		}
	}
	if err := b.rdb.Del(ctx, b.pendingKey(connID), b.leaseKey(connID)).Err(); err != nil {
		return fmt.Errorf("clear disconnect paths: %w", err)
	}
	return nil
}

func flatten(path string, value any, out map[string]any) error {
	if m, ok := value.(map[string]any); ok {
		for k, child := range m {
			if err := flatten(realtime.Join(path, k), child, out); err != nil {
				return err
			}
		}
		return nil
	}
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode leaf %s: %w", path, err)
	}
	out[path] = string(raw)
	return nil
}

func decodeLeaf(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode leaf: %w", err)
	}
	return v, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

var _ realtime.Backend = (*Backend)(nil)
