package client

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CheckoutKind is the outcome of a Pool.Checkout call: there is no
// fairness and no waiting — a pool at capacity refuses immediately.
type CheckoutKind int

const (
	// CheckoutReuse hands back an already-open, idle connection.
	CheckoutReuse CheckoutKind = iota
	// CheckoutOpenNew reserves a slot; the caller must dial and then call
	// either ConfirmOpen or CheckoutFailed.
	CheckoutOpenNew
	// CheckoutReject means the pool is at MaxConnections.
	CheckoutReject
)

// CheckoutResult is returned by Pool.Checkout.
type CheckoutResult struct {
	Kind CheckoutKind
	Sock Socket // only set for CheckoutReuse
	Info *ConnInfo
}

// ConnInfo is an opaque handle threaded from Checkout through
// ConfirmOpen/CheckoutFailed and finally Checkin, so the pool doesn't need
// to re-resolve a connection's bookkeeping row by socket identity.
type ConnInfo struct {
	pool *Pool
	rec  *connRecord // nil until ConfirmOpen for a CheckoutOpenNew
}

// connRecord is the per-connection bookkeeping a Pool keeps for its own
// idle connections.
type connRecord struct {
	sock         Socket
	openTime     time.Time
	requestCount int
	idle         bool // true while present in pool.idle
	idleTimer    *time.Timer
}

// checkinDisposition tells Checkin what became of a connection being
// returned, so it can both apply policy (request_limit, connection
// lifetime) and record the right kind of close.
type checkinDisposition int

const (
	// dispositionReuse means the connection is healthy and should go back
	// on the idle list (subject to request_limit/connection_lifetime).
	dispositionReuse checkinDisposition = iota
	// dispositionLocalClose means the caller is closing the connection
	// itself (a send/parse error, an early body Close, Connection: close).
	dispositionLocalClose
	// dispositionRemoteClose means the peer had already closed the
	// connection (EOF on read) before or at the call to Checkin.
	dispositionRemoteClose
	// dispositionTimeout means a send/recv deadline elapsed mid-exchange.
	// The connection's read position is unknown, so it is always torn
	// down; the close is recorded via the worker-id index rather than
	// directly against the socket.
	dispositionTimeout
)

// defaultScanInterval is how often a Pool's reaper wakes to poll idle
// connections for a passive peer close. Idle timeouts are enforced by
// per-connection timers, not by the reaper.
const defaultScanInterval = 1 * time.Second

// Pool is the per-destination connection pool: a LIFO stack of
// idle connections plus a count of checked-out ones, bounded by
// cfg.MaxConnections. All pool state is guarded by a single mutex, since
// every operation here is cheap and non-blocking.
type Pool struct {
	dest   Destination
	cfg    PoolConfig
	stats  *Stats
	health *healthTracker
	logger zerolog.Logger

	mu        sync.Mutex
	idle      []*connRecord // LIFO: push/pop at the back
	total     int           // idle + checked out
	checkedOut int
	closed    bool

	scanInterval time.Duration
	stop         chan struct{}
	stopped      chan struct{}
}

func newPool(dest Destination, cfg PoolConfig, stats *Stats, health *healthTracker, logger zerolog.Logger) *Pool {
	return newPoolWithInterval(dest, cfg, stats, health, logger, defaultScanInterval)
}

// newPoolWithInterval is newPool with an explicit reaper scan interval,
// used directly by tests that need to control (or avoid racing) the
// background scan.
func newPoolWithInterval(dest Destination, cfg PoolConfig, stats *Stats, health *healthTracker, logger zerolog.Logger, scanInterval time.Duration) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultPoolConfig().MaxConnections
	}
	p := &Pool{
		dest:         dest,
		cfg:          cfg,
		stats:        stats,
		health:       health,
		logger:       logger,
		scanInterval: scanInterval,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go p.reap()
	return p
}

// Checkout implements the CONNECTING state's first step: return an idle
// connection, reserve a slot for a new one, or refuse outright.
func (p *Pool) Checkout() CheckoutResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.idle); n > 0 {
		rec := p.idle[n-1]
		p.idle = p.idle[:n-1]
		rec.idle = false
		p.stopIdleTimerLocked(rec)
		rec.requestCount++
		p.checkedOut++
		return CheckoutResult{Kind: CheckoutReuse, Sock: rec.sock, Info: &ConnInfo{pool: p, rec: rec}}
	}

	if p.total < p.cfg.MaxConnections {
		p.total++
		p.checkedOut++
		return CheckoutResult{Kind: CheckoutOpenNew, Info: &ConnInfo{pool: p}}
	}

	return CheckoutResult{Kind: CheckoutReject}
}

// CheckoutFailed releases the slot reserved by a CheckoutOpenNew result
// whose dial failed.
func (p *Pool) CheckoutFailed(info *ConnInfo) {
	p.mu.Lock()
	p.total--
	p.checkedOut--
	p.mu.Unlock()
	p.stats.OpenConnectionError(p.dest)
}

// ConfirmOpen attaches a freshly dialed sock to the slot reserved by a
// CheckoutOpenNew result.
func (p *Pool) ConfirmOpen(info *ConnInfo, sock Socket) {
	rec := &connRecord{sock: sock, openTime: time.Now(), requestCount: 1}
	p.mu.Lock()
	info.rec = rec
	p.mu.Unlock()
	p.stats.OpenConnection(p.dest, sock)
}

// Checkin implements the end of a request's use of a connection: apply
// request_limit/connection_lifetime retirement policy, or push the
// connection back onto the idle stack and arm its idle timer. workerID is
// only consulted for dispositionTimeout, to resolve the close back through
// the worker index rather than the socket directly.
func (p *Pool) Checkin(info *ConnInfo, sock Socket, disp checkinDisposition, workerID string) {
	p.mu.Lock()
	p.checkedOut--
	rec := info.rec
	if rec == nil {
		// An OpenNew checkout whose ConfirmOpen was never called — the
		// caller is responsible for having closed sock already.
		p.total--
		p.mu.Unlock()
		return
	}

	evict := disp != dispositionReuse
	if !evict {
		now := time.Now()
		if p.cfg.RequestLimit > 0 && rec.requestCount >= p.cfg.RequestLimit {
			evict = true
		}
		if p.cfg.ConnectionLifetime > 0 && now.Sub(rec.openTime) >= p.cfg.ConnectionLifetime {
			evict = true
		}
	}

	if evict {
		p.total--
		p.mu.Unlock()
		sock.Close()
		switch disp {
		case dispositionRemoteClose:
			p.stats.CloseConnectionRemote(sock)
		case dispositionTimeout:
			p.stats.CloseConnectionTimeout(workerID)
		default:
			p.stats.CloseConnectionLocal(sock)
		}
		return
	}

	rec.idle = true
	p.idle = append(p.idle, rec)
	p.armIdleTimerLocked(rec)
	p.mu.Unlock()
}

// ConnectionCount reports the current (active, idle) split.
func (p *Pool) ConnectionCount() (active, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkedOut, len(p.idle)
}

// Close tears down the pool's reaper and closes every idle connection. It
// does not affect connections currently checked out.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stop)
	<-p.stopped

	for _, rec := range idle {
		p.stopIdleTimer(rec)
		rec.sock.Close()
		p.stats.CloseConnectionLocal(rec.sock)
	}
}

func (p *Pool) armIdleTimerLocked(rec *connRecord) {
	if p.cfg.ConnectionTimeout <= 0 {
		return
	}
	rec.idleTimer = time.AfterFunc(p.cfg.ConnectionTimeout, func() {
		p.evictTimedOut(rec)
	})
}

func (p *Pool) stopIdleTimerLocked(rec *connRecord) {
	if rec.idleTimer != nil {
		rec.idleTimer.Stop()
		rec.idleTimer = nil
	}
}

func (p *Pool) stopIdleTimer(rec *connRecord) {
	p.mu.Lock()
	p.stopIdleTimerLocked(rec)
	p.mu.Unlock()
}

// evictTimedOut is the idle-timer callback: it only acts if rec is still
// actually idle, since the timer can race with a concurrent Checkout.
func (p *Pool) evictTimedOut(rec *connRecord) {
	p.mu.Lock()
	if !rec.idle {
		p.mu.Unlock()
		return
	}
	if !p.removeIdleLocked(rec) {
		p.mu.Unlock()
		return
	}
	p.total--
	p.mu.Unlock()

	rec.sock.Close()
	p.stats.CloseConnectionLocal(rec.sock)
}

func (p *Pool) removeIdleLocked(rec *connRecord) bool {
	for i, r := range p.idle {
		if r == rec {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			rec.idle = false
			return true
		}
	}
	return false
}

// reap periodically scans idle connections for a passive peer close that
// an idle timer alone wouldn't catch, using the same short-deadline peek
// a health checker would use.
func (p *Pool) reap() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.scanForDeadIdle()
		}
	}
}

func (p *Pool) scanForDeadIdle() {
	p.mu.Lock()
	snapshot := make([]*connRecord, len(p.idle))
	copy(snapshot, p.idle)
	p.mu.Unlock()

	for _, rec := range snapshot {
		dead := peekClosed(rec.sock, 2*time.Millisecond)
		if p.health != nil {
			p.health.entry(p.dest).record(dead)
		}
		if !dead {
			continue
		}
		p.mu.Lock()
		if !rec.idle || !p.removeIdleLocked(rec) {
			p.mu.Unlock()
			continue
		}
		p.total--
		p.mu.Unlock()

		p.logger.Debug().Stringer("dest", p.dest).Msg("lhttpc: idle connection closed by peer")
		p.stopIdleTimer(rec)
		rec.sock.Close()
		p.stats.CloseConnectionRemote(rec.sock)
	}
}

// Registry maps each destination to its own Pool, creating pools lazily on
// first use. A singleflight.Group collapses concurrent first-checkouts for
// the same destination into a single Pool construction, instead of the
// racing double-checked-lock pattern this is adapted from.
type Registry struct {
	mu     sync.Mutex
	pools  map[Destination]*Pool
	sf     singleflight.Group
	stats  *Stats
	health *healthTracker
	logger zerolog.Logger
}

// NewRegistry creates an empty registry. Pools are created on demand by
// getOrCreate, using cfg the first time a destination is seen.
func NewRegistry(stats *Stats, logger zerolog.Logger) *Registry {
	return &Registry{
		pools:  make(map[Destination]*Pool),
		stats:  stats,
		health: newHealthTracker(),
		logger: logger,
	}
}

func (r *Registry) getOrCreate(dest Destination, cfg PoolConfig) *Pool {
	r.mu.Lock()
	if p, ok := r.pools[dest]; ok {
		r.mu.Unlock()
		return p
	}
	r.mu.Unlock()

	v, _, _ := r.sf.Do(dest.String(), func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if p, ok := r.pools[dest]; ok {
			return p, nil
		}
		p := newPool(dest, cfg, r.stats, r.health, r.logger)
		r.pools[dest] = p
		return p, nil
	})
	return v.(*Pool)
}

// ConnectionCount reports a destination's (active, idle) split. ok is
// false if no pool has ever been created for dest.
func (r *Registry) ConnectionCount(dest Destination) (active, idle int, ok bool) {
	r.mu.Lock()
	p, found := r.pools[dest]
	r.mu.Unlock()
	if !found {
		return 0, 0, false
	}
	active, idle = p.ConnectionCount()
	return active, idle, true
}

// Health returns a destination's idle-scan history.
func (r *Registry) Health(dest Destination) (HealthSnapshot, bool) {
	return r.health.snapshot(dest)
}

// Close tears down every pool the registry has created.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[Destination]*Pool)
	r.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}
