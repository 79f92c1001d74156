package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChunkedDecodingEdgeCase pins the exact wire example: a single 5-byte
// chunk followed by the terminating zero chunk decodes to "hello" with no
// trailers and no residual bytes.
func TestChunkedDecodingEdgeCase(t *testing.T) {
	raw := "5\r\nhello\r\n0\r\n\r\n"
	pr := getPacketReader(bytes.NewReader([]byte(raw)))
	defer putPacketReader(pr)
	cr := newChunkReader(pr)

	got, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Empty(t, cr.Trailer())

	// No residual bytes left unconsumed on the underlying reader.
	n, err := pr.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

// TestPartialDownloadWindowing pins the exact scenario: a 1000-byte body,
// part_size=100, window_size=2. After the second part is delivered the
// producer must block pending an Ack; after one Ack exactly one more part
// is sent.
func TestPartialDownloadWindowing(t *testing.T) {
	body := bytes.NewReader(bytes.Repeat([]byte("x"), 1000))
	h := newDownloadHandle(2)

	go deliverDownload(context.Background(), body, 100, nil, h)

	p1, err := h.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, p1.Data, 100)

	p2, err := h.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, p2.Data, 100)

	// Window exhausted: no third part until an Ack is issued.
	select {
	case <-h.parts:
		t.Fatal("received a third part before any Ack")
	case <-time.After(20 * time.Millisecond):
	}

	h.Ack()
	select {
	case p3 := <-h.parts:
		assert.Len(t, p3.Data, 100)
	case <-time.After(time.Second):
		t.Fatal("producer never resumed after a single Ack")
	}

	// A second Ack must not release two parts at once.
	select {
	case <-h.parts:
		t.Fatal("received a second part off a single Ack")
	case <-time.After(20 * time.Millisecond):
	}
}

// TestPoolRefusalSurfacesRetryLater pins scenario (f): with max_connections=1
// and one connection checked out, a second checkout is rejected and the
// caller sees ErrRetryLater immediately, with no attempt to dial.
func TestPoolRefusalSurfacesRetryLater(t *testing.T) {
	dest := Destination{Host: "refusal-test", Port: 1}
	stats := NewStats(true, zerolog.Nop())
	pool := newPoolWithInterval(dest, PoolConfig{MaxConnections: 1}, stats, newHealthTracker(), zerolog.Nop(), time.Hour)
	defer pool.Close()

	r1 := pool.Checkout()
	require.Equal(t, CheckoutOpenNew, r1.Kind)
	pool.ConfirmOpen(r1.Info, &fakeSocket{})

	ctx := context.Background()
	req := NewRequest(http.MethodGet, "/")
	call := doRequest(ctx, pool, stats, zerolog.Nop(), dest, req, Options{}, "w1")
	_, err := call.Response(ctx)
	assert.ErrorIs(t, err, ErrRetryLater)
}

// TestPoolCapacityInvariantUnderCheckoutChurn asserts active+idle never
// exceeds max_connections across a sequence of checkout/checkin events.
func TestPoolCapacityInvariantUnderCheckoutChurn(t *testing.T) {
	const maxConns = 3
	dest := Destination{Host: "invariant-test", Port: 1}
	stats := NewStats(true, zerolog.Nop())
	pool := newPoolWithInterval(dest, PoolConfig{MaxConnections: maxConns}, stats, newHealthTracker(), zerolog.Nop(), time.Hour)
	defer pool.Close()

	var infos []*ConnInfo
	var socks []Socket
	for i := 0; i < maxConns; i++ {
		r := pool.Checkout()
		require.Equal(t, CheckoutOpenNew, r.Kind)
		sock := &fakeSocket{}
		pool.ConfirmOpen(r.Info, sock)
		infos = append(infos, r.Info)
		socks = append(socks, sock)

		active, idle := pool.ConnectionCount()
		assert.LessOrEqual(t, active+idle, maxConns)
	}

	assert.Equal(t, CheckoutReject, pool.Checkout().Kind)

	for i, info := range infos {
		pool.Checkin(info, socks[i], dispositionReuse, "")
		active, idle := pool.ConnectionCount()
		assert.LessOrEqual(t, active+idle, maxConns)
	}

	for i := 0; i < maxConns; i++ {
		r := pool.Checkout()
		require.Equal(t, CheckoutReuse, r.Kind)
		active, idle := pool.ConnectionCount()
		assert.LessOrEqual(t, active+idle, maxConns)
	}
}
