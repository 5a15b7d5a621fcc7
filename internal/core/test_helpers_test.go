package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/notify"
	"github.com/vovakirdan/feelings/internal/realtime"
	"github.com/vovakirdan/feelings/internal/realtime/memory"
	"github.com/vovakirdan/feelings/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// memSession is an in-memory store.SessionStore.
type memSession struct {
	mu      sync.Mutex
	values  map[string]string
	failSet bool
}

func newMemSession() *memSession {
	return &memSession{values: make(map[string]string)}
}

func (m *memSession) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSession) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("disk full")
	}
	m.values[key] = value
	return nil
}

func (m *memSession) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memSession) List(context.Context) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]store.Entry, 0, len(m.values))
	for k, v := range m.values {
		entries = append(entries, store.Entry{Key: k, Value: v})
	}
	return entries, nil
}

func (m *memSession) Close() error { return nil }

func (m *memSession) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

var errPermissionRefused = fmt.Errorf("user refused: %w", notify.ErrPermissionDenied)

type notification struct {
	title string
	body  string
}

// recordingNotifier remembers every dispatch.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []notification
	denied bool
}

func (r *recordingNotifier) Dispatch(_ context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{title: title, body: body})
	return nil
}

func (r *recordingNotifier) RequestPermission(context.Context) error {
	if r.denied {
		return errPermissionRefused
	}
	return nil
}

func (r *recordingNotifier) find(title, body string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.sent {
		if n.title == title && n.body == body {
			return true
		}
	}
	return false
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// failingStore rejects writes and appends.
type failingStore struct {
	realtime.Store
}

func (f failingStore) Write(context.Context, string, any) error {
	return errors.New("permission denied by rules")
}

func (f failingStore) Append(context.Context, string, any) (string, error) {
	return "", errors.New("permission denied by rules")
}

type testEnv struct {
	tree *memory.Tree
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	tree := memory.New(&logger)
	t.Cleanup(func() { _ = tree.Close() })
	return &testEnv{tree: tree}
}

func (e *testEnv) conn(t *testing.T) *memory.Conn {
	t.Helper()
	c, err := e.tree.Open()
	if err != nil {
		t.Fatalf("open connection: %v", err)
	}
	return c
}

func (e *testEnv) session(t *testing.T, opts ...Option) (*Session, *memSession, *recordingNotifier) {
	t.Helper()
	persist := newMemSession()
	notifier := &recordingNotifier{}
	return NewSession(e.conn(t), persist, notifier, nil, opts...), persist, notifier
}

func fixedCode(code string) Option {
	return WithCodeGenerator(func() string { return code })
}

// blockingStore holds ReadOnce until release is closed.
type blockingStore struct {
	realtime.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore(inner realtime.Store) *blockingStore {
	return &blockingStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingStore) ReadOnce(ctx context.Context, path string) (realtime.Snapshot, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Store.ReadOnce(ctx, path)
}
