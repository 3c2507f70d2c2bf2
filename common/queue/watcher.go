package queue

import (
	"context"
	"sync"
	"time"
)

// PingFunc reports nil when the central store is reachable
type PingFunc func(ctx context.Context) error

// ConnectivityWatcher pings the store and drains the queue when the store
// comes back
type ConnectivityWatcher struct {
	queue    *OfflineSyncQueue
	ping     PingFunc
	interval time.Duration
	log      Logger
	trigger  chan struct{}

	mu     sync.Mutex
	online bool
}

// NewConnectivityWatcher creates a watcher. The store is assumed offline
// until the first successful ping, so a restart drains leftovers.
func NewConnectivityWatcher(q *OfflineSyncQueue, ping PingFunc, interval time.Duration, log Logger) *ConnectivityWatcher {
	return &ConnectivityWatcher{
		queue:    q,
		ping:     ping,
		interval: interval,
		log:      log,
		trigger:  make(chan struct{}, 1),
	}
}

// Online reports the last ping result
func (w *ConnectivityWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Check pings once and drains on an offline to online transition.
// It reports whether a drain ran.
func (w *ConnectivityWatcher) Check(ctx context.Context) bool {
	up := w.ping(ctx) == nil

	w.mu.Lock()
	wasUp := w.online
	w.online = up
	w.mu.Unlock()

	switch {
	case up && !wasUp:
		w.log.Info("store reachable again, draining offline queue", "pending", w.queue.Len())
		w.drain(ctx)
		return true
	case !up && wasUp:
		w.log.Warn("store unreachable, mutations will be queued")
	}
	return false
}

// Trigger requests a drain from the Run loop without waiting for it
func (w *ConnectivityWatcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run pings on the interval until ctx is done
func (w *ConnectivityWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		case <-w.trigger:
			w.drain(ctx)
		}
	}
}

func (w *ConnectivityWatcher) drain(ctx context.Context) {
	if _, err := w.queue.Drain(ctx); err != nil {
		w.log.Error("offline drain failed", "error", err)
	}
}
