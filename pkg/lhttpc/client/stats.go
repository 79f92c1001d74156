package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// destStats is the per-destination counters.
type destStats struct {
	requestCount               atomic.Int64
	connectionCount            atomic.Int64 // opens attempted
	connectionErrorCount       atomic.Int64
	connectionRemoteCloseCount atomic.Int64
	connectionLocalCloseCount  atomic.Int64
	cumulativeLifetimeNanos    atomic.Int64
}

// connStats is the per-connection bookkeeping, keyed by socket identity.
type connStats struct {
	dest Destination

	requestCount atomic.Int64
	openTime     time.Time

	mu              sync.Mutex
	lastIdleTime    time.Time
	longestIdleNs   atomic.Int64
	owner           string
}

// Stats is the shared statistics store. It is safe for concurrent use
// from many workers and pool managers: distinct keys (by destination, by
// connection) never contend, since updates are per-key atomic.
//
// When disabled, every method is a no-op and Dump returns nil (it carries
// no "disabled" marker; Enabled reports the mode), so the store can be
// made optional without changing call sites.
type Stats struct {
	enabled bool
	logger  zerolog.Logger

	dests sync.Map // Destination -> *destStats
	conns sync.Map // Socket -> *connStats
	byWkr sync.Map // worker id (string) -> Socket
}

// NewStats creates a statistics store. Pass enabled=false to get a
// zero-overhead no-op store (every call below becomes a no-op).
func NewStats(enabled bool, logger zerolog.Logger) *Stats {
	return &Stats{enabled: enabled, logger: logger}
}

func (s *Stats) destEntry(dest Destination) *destStats {
	v, _ := s.dests.LoadOrStore(dest, &destStats{})
	return v.(*destStats)
}

// OpenConnection records a successful connect: increments the destination's
// connection_count and creates the per-connection row.
func (s *Stats) OpenConnection(dest Destination, sock Socket) {
	if !s.enabled {
		return
	}
	s.destEntry(dest).connectionCount.Add(1)
	s.conns.Store(sock, &connStats{dest: dest, openTime: time.Now()})
}

// OpenConnectionError records a failed connect attempt.
func (s *Stats) OpenConnectionError(dest Destination) {
	if !s.enabled {
		return
	}
	s.destEntry(dest).connectionErrorCount.Add(1)
}

func (s *Stats) closeCommon(sock Socket, remote bool) {
	v, ok := s.conns.LoadAndDelete(sock)
	if !ok {
		// Nothing to balance against; can happen if OpenConnection was
		// never recorded for sock or its close was already recorded.
		return
	}
	cs := v.(*connStats)
	d := s.destEntry(cs.dest)
	lifetime := time.Since(cs.openTime)
	d.cumulativeLifetimeNanos.Add(int64(lifetime))
	if remote {
		d.connectionRemoteCloseCount.Add(1)
	} else {
		d.connectionLocalCloseCount.Add(1)
	}
}

// CloseConnectionRemote records a peer-initiated close.
func (s *Stats) CloseConnectionRemote(sock Socket) {
	if !s.enabled {
		return
	}
	s.closeCommon(sock, true)
}

// CloseConnectionLocal records a locally-initiated close (policy violation
// at check-in, idle timeout, explicit Connection: close, etc).
func (s *Stats) CloseConnectionLocal(sock Socket) {
	if !s.enabled {
		return
	}
	s.closeCommon(sock, false)
}

// RegisterWorker associates a worker id with the socket it currently owns,
// so a later CloseConnectionTimeout(workerID) can resolve back to the
// socket — timeouts are observed where the worker lives, not where the
// socket lives.
func (s *Stats) RegisterWorker(workerID string, sock Socket) {
	if !s.enabled || workerID == "" {
		return
	}
	if prev, loaded := s.byWkr.Swap(workerID, sock); loaded && prev != sock {
		s.logger.Warn().Str("worker", workerID).Msg("worker id already mapped to a different socket; bookkeeping bug")
	}
}

func (s *Stats) unregisterWorker(workerID string) {
	if workerID != "" {
		s.byWkr.Delete(workerID)
	}
}

// CloseConnectionTimeout resolves workerID to its socket and records a local
// close against it.
func (s *Stats) CloseConnectionTimeout(workerID string) {
	if !s.enabled {
		return
	}
	v, ok := s.byWkr.LoadAndDelete(workerID)
	if !ok {
		s.logger.Warn().Str("worker", workerID).Msg("close_connection_timeout for unknown worker")
		return
	}
	s.closeCommon(v.(Socket), false)
}

// StartRequest records the beginning of a request on sock: increments
// request_count on both the destination and the connection, and folds the
// idle interval (if any) into longest_idle_time.
func (s *Stats) StartRequest(dest Destination, sock Socket, workerID string) {
	if !s.enabled {
		return
	}
	s.destEntry(dest).requestCount.Add(1)
	s.RegisterWorker(workerID, sock)

	v, ok := s.conns.Load(sock)
	if !ok {
		// "This shouldn't happen": a race on the very first request for a
		// freshly-opened connection can land here before OpenConnection's
		// Store is visible. Self-heal instead of panicking.
		s.logger.Debug().Stringer("dest", dest).Msg("start_request: no stats row yet, self-healing")
		v, _ = s.conns.LoadOrStore(sock, &connStats{dest: dest, openTime: time.Now()})
	}
	cs := v.(*connStats)
	cs.requestCount.Add(1)

	cs.mu.Lock()
	last := cs.lastIdleTime
	cs.mu.Unlock()
	if !last.IsZero() {
		idle := time.Since(last)
		casMaxDuration(&cs.longestIdleNs, idle)
	}
}

// EndRequest stamps last_idle_time on sock's connection row.
func (s *Stats) EndRequest(sock Socket) {
	if !s.enabled {
		return
	}
	v, ok := s.conns.Load(sock)
	if !ok {
		return
	}
	cs := v.(*connStats)
	cs.mu.Lock()
	cs.lastIdleTime = time.Now()
	cs.mu.Unlock()
}

// casMaxDuration performs the monotonic-max compare-and-update loop the
// spec requires for longest_idle_time: a race between concurrent updates is
// acceptable, but the stored value must never decrease.
func casMaxDuration(slot *atomic.Int64, d time.Duration) {
	n := int64(d)
	for {
		cur := slot.Load()
		if n <= cur {
			return
		}
		if slot.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Dump renders a human-readable snapshot, per destination.
func (s *Stats) Dump() map[string]DestStatsSnapshot {
	if !s.enabled {
		return nil
	}
	out := make(map[string]DestStatsSnapshot)
	s.dests.Range(func(k, v interface{}) bool {
		dest := k.(Destination)
		d := v.(*destStats)
		out[dest.String()] = DestStatsSnapshot{
			RequestCount:               d.requestCount.Load(),
			ConnectionCount:            d.connectionCount.Load(),
			ConnectionErrorCount:       d.connectionErrorCount.Load(),
			ConnectionRemoteCloseCount: d.connectionRemoteCloseCount.Load(),
			ConnectionLocalCloseCount:  d.connectionLocalCloseCount.Load(),
			CumulativeLifetime:         time.Duration(d.cumulativeLifetimeNanos.Load()),
		}
		return true
	})
	return out
}

// Enabled reports whether the store is collecting (vs. a no-op sink).
func (s *Stats) Enabled() bool { return s.enabled }

// DestStatsSnapshot is the read-only view returned by Dump.
type DestStatsSnapshot struct {
	RequestCount               int64
	ConnectionCount            int64
	ConnectionErrorCount       int64
	ConnectionRemoteCloseCount int64
	ConnectionLocalCloseCount  int64
	CumulativeLifetime         time.Duration
}
