package client

import (
	"io"
	"net"
	"sync"
	"time"
)

// peekClosed does a non-blocking-ish check for whether an idle socket has
// been closed by the peer: arm a short read deadline, try a zero-result
// read, and treat io.EOF as "closed". A timeout (no data, no close) means
// the connection is still alive and the deadline is cleared before
// returning so the connection is unaffected.
func peekClosed(sock Socket, timeout time.Duration) bool {
	if err := sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}
	var one [1]byte
	_, err := sock.Recv(one[:])
	sock.SetReadDeadline(time.Time{})

	if err == nil {
		// Data from an idle connection would be a protocol violation on
		// the server's part; either way the connection can't be trusted
		// for the next request as-is.
		return true
	}
	if err == io.EOF {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}
	return true
}

// destHealth is one destination's rolling idle-scan outcome counters,
// exposed through Registry.Health for operators watching how often a
// destination's idle connections turn out to already be dead.
type destHealth struct {
	mu       sync.Mutex
	scans    int64
	deadHits int64
	lastScan time.Time
}

func (h *destHealth) record(dead bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scans++
	if dead {
		h.deadHits++
	}
	h.lastScan = time.Now()
}

// HealthSnapshot is a read-only view of a destination's idle-scan history.
type HealthSnapshot struct {
	Scans    int64
	DeadHits int64
	LastScan time.Time
}

// DeadRate returns the fraction of idle scans that found an already-closed
// connection, 0 when there's no history yet.
func (s HealthSnapshot) DeadRate() float64 {
	if s.Scans == 0 {
		return 0
	}
	return float64(s.DeadHits) / float64(s.Scans)
}

// healthTracker aggregates destHealth rows, one per destination, fed by
// each Pool's reaper.
type healthTracker struct {
	mu   sync.Mutex
	byDest map[Destination]*destHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{byDest: make(map[Destination]*destHealth)}
}

func (t *healthTracker) entry(dest Destination) *destHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byDest[dest]
	if !ok {
		h = &destHealth{}
		t.byDest[dest] = h
	}
	return h
}

func (t *healthTracker) snapshot(dest Destination) (HealthSnapshot, bool) {
	t.mu.Lock()
	h, ok := t.byDest[dest]
	t.mu.Unlock()
	if !ok {
		return HealthSnapshot{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{Scans: h.scans, DeadHits: h.deadHits, LastScan: h.lastScan}, true
}
