package realtime

import "sync"

// Dispatcher delivers snapshots to one listener on its own goroutine. Pushes
// never block: a listener that falls behind only sees the latest pending
// snapshot, which still carries the full state of the path.
type Dispatcher struct {
	fn func(Snapshot)

	mu      sync.Mutex
	pending *Snapshot

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher starts a dispatcher for fn.
func NewDispatcher(fn func(Snapshot)) *Dispatcher {
	d := &Dispatcher{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Push queues snap, replacing any snapshot not yet delivered.
func (d *Dispatcher) Push(snap Snapshot) {
	d.mu.Lock()
	d.pending = &snap
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop ends delivery. A callback already running is allowed to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		d.mu.Lock()
		snap := d.pending
		d.pending = nil
		d.mu.Unlock()

		if snap == nil {
			continue
		}
		select {
		case <-d.done:
			return
		default:
		}
		d.fn(*snap)
	}
}
