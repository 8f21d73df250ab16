package moysklad

import (
	"context"
	"strings"
	"sync"
	"time"
)

// slidingWindow admits at most maxCalls requests per window. Timestamps older
// than now-window are evicted on every check; the wait sleeps and rechecks
// instead of holding the lock while blocked.
type slidingWindow struct {
	maxCalls int
	window   time.Duration

	mu         sync.Mutex
	timestamps []time.Time
}

func newSlidingWindow(maxCalls int, window time.Duration) *slidingWindow {
	if maxCalls < 1 {
		maxCalls = 1
	}
	return &slidingWindow{maxCalls: maxCalls, window: window}
}

func (w *slidingWindow) wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-w.window)
		evicted := 0
		for evicted < len(w.timestamps) && w.timestamps[evicted].Before(cutoff) {
			evicted++
		}
		if evicted > 0 {
			w.timestamps = append(w.timestamps[:0], w.timestamps[evicted:]...)
		}
		if len(w.timestamps) < w.maxCalls {
			w.timestamps = append(w.timestamps, now)
			w.mu.Unlock()
			return nil
		}
		sleepFor := w.window - now.Sub(w.timestamps[0]) + time.Millisecond
		w.mu.Unlock()

		if sleepFor < 50*time.Millisecond {
			sleepFor = 50 * time.Millisecond
		}
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// failureTracker counts identical upstream failures inside a rolling window.
// Moysklad auto-blocks accounts producing more than ~200 identical errors per
// minute, so the breaker trips well below that.
type failureTracker struct {
	threshold int
	window    time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
	open     map[string]time.Time // route key -> open until
}

func newFailureTracker(threshold int, window time.Duration) *failureTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &failureTracker{
		threshold: threshold,
		window:    window,
		failures:  make(map[string][]time.Time),
		open:      make(map[string]time.Time),
	}
}

// register records one failure for signature and reports whether the
// threshold has been reached inside the window. When it has, the route is
// marked open until the window rolls over so later calls fail fast without
// reaching the upstream.
func (t *failureTracker) register(signature, routeKey string) bool {
	now := time.Now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := append(t.failures[signature], now)
	evicted := 0
	for evicted < len(bucket) && bucket[evicted].Before(cutoff) {
		evicted++
	}
	bucket = bucket[evicted:]
	t.failures[signature] = bucket
	if len(bucket) >= t.threshold {
		t.open[routeKey] = now.Add(t.window)
		return true
	}
	return false
}

// isOpen reports whether the route's circuit is still open. Expiry is lazy,
// on access.
func (t *failureTracker) isOpen(routeKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.open[routeKey]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(t.open, routeKey)
		return false
	}
	return true
}

// resetRoute clears the route's failure history after a success. Signatures
// are keyed METHOD:path:status, so every status bucket under the route prefix
// goes, not just the one that happened to fail last.
func (t *failureTracker) resetRoute(routeKey string) {
	t.mu.Lock()
	prefix := routeKey + ":"
	for sig := range t.failures {
		if strings.HasPrefix(sig, prefix) {
			delete(t.failures, sig)
		}
	}
	delete(t.open, routeKey)
	t.mu.Unlock()
}
