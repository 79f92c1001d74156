package client

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(cfg PoolConfig, scan time.Duration) *Pool {
	dest := Destination{Host: "pool-test", Port: 1}
	stats := NewStats(true, zerolog.Nop())
	return newPoolWithInterval(dest, cfg, stats, newHealthTracker(), zerolog.Nop(), scan)
}

func TestPoolCheckoutRejectsAtCapacity(t *testing.T) {
	p := testPool(PoolConfig{MaxConnections: 1}, time.Hour)
	defer p.Close()

	r1 := p.Checkout()
	require.Equal(t, CheckoutOpenNew, r1.Kind)
	p.ConfirmOpen(r1.Info, &fakeSocket{})

	r2 := p.Checkout()
	assert.Equal(t, CheckoutReject, r2.Kind)
}

func TestPoolReuseAfterCheckin(t *testing.T) {
	p := testPool(PoolConfig{MaxConnections: 2}, time.Hour)
	defer p.Close()

	r1 := p.Checkout()
	require.Equal(t, CheckoutOpenNew, r1.Kind)
	sock := &fakeSocket{}
	p.ConfirmOpen(r1.Info, sock)
	p.Checkin(r1.Info, sock, dispositionReuse, "")

	active, idle := p.ConnectionCount()
	assert.Equal(t, 0, active)
	assert.Equal(t, 1, idle)

	r2 := p.Checkout()
	assert.Equal(t, CheckoutReuse, r2.Kind)
	assert.Same(t, sock, r2.Sock)
	assert.False(t, sock.LocalClosed())
}

func TestPoolRequestLimitRetiresConnection(t *testing.T) {
	p := testPool(PoolConfig{MaxConnections: 2, RequestLimit: 1}, time.Hour)
	defer p.Close()

	r1 := p.Checkout()
	sock := &fakeSocket{}
	p.ConfirmOpen(r1.Info, sock)
	p.Checkin(r1.Info, sock, dispositionReuse, "")

	active, idle := p.ConnectionCount()
	assert.Equal(t, 0, active)
	assert.Equal(t, 0, idle)
	assert.True(t, sock.LocalClosed())
}

func TestPoolConnectionLifetimeRetiresConnection(t *testing.T) {
	p := testPool(PoolConfig{MaxConnections: 2, ConnectionLifetime: time.Millisecond}, time.Hour)
	defer p.Close()

	r1 := p.Checkout()
	sock := &fakeSocket{}
	p.ConfirmOpen(r1.Info, sock)
	time.Sleep(5 * time.Millisecond)
	p.Checkin(r1.Info, sock, dispositionReuse, "")

	_, idle := p.ConnectionCount()
	assert.Equal(t, 0, idle)
	assert.True(t, sock.LocalClosed())
}

func TestPoolIdleTimerEviction(t *testing.T) {
	p := testPool(PoolConfig{MaxConnections: 2, ConnectionTimeout: 5 * time.Millisecond}, time.Hour)
	defer p.Close()

	r1 := p.Checkout()
	sock := &fakeSocket{}
	p.ConfirmOpen(r1.Info, sock)
	p.Checkin(r1.Info, sock, dispositionReuse, "")

	require.Eventually(t, func() bool {
		_, idle := p.ConnectionCount()
		return idle == 0
	}, time.Second, time.Millisecond)
	assert.True(t, sock.LocalClosed())
}

func TestPoolCheckoutFailedReleasesSlot(t *testing.T) {
	p := testPool(PoolConfig{MaxConnections: 1}, time.Hour)
	defer p.Close()

	r1 := p.Checkout()
	require.Equal(t, CheckoutOpenNew, r1.Kind)
	p.CheckoutFailed(r1.Info)

	r2 := p.Checkout()
	assert.Equal(t, CheckoutOpenNew, r2.Kind)
}

func TestPoolScanDetectsPeerClose(t *testing.T) {
	p := testPool(PoolConfig{MaxConnections: 2}, 5*time.Millisecond)
	defer p.Close()

	clientEnd, serverEnd := net.Pipe()
	serverEnd.Close()

	r1 := p.Checkout()
	sock := &netSocket{conn: clientEnd}
	p.ConfirmOpen(r1.Info, sock)
	p.Checkin(r1.Info, sock, dispositionReuse, "")

	require.Eventually(t, func() bool {
		_, idle := p.ConnectionCount()
		return idle == 0
	}, time.Second, time.Millisecond)

	snap, ok := p.health.snapshot(p.dest)
	require.True(t, ok)
	assert.Greater(t, snap.Scans, int64(0))
	assert.Greater(t, snap.DeadHits, int64(0))
}

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	stats := NewStats(true, zerolog.Nop())
	r := NewRegistry(stats, zerolog.Nop())
	defer r.Close()

	dest := Destination{Host: "registry-test", Port: 1}
	p1 := r.getOrCreate(dest, DefaultPoolConfig())
	p2 := r.getOrCreate(dest, DefaultPoolConfig())
	assert.Same(t, p1, p2)

	_, _, ok := r.ConnectionCount(Destination{Host: "unknown", Port: 1})
	assert.False(t, ok)
}
