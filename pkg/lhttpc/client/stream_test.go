package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadHandleWriteBlocksOnFullWindow(t *testing.T) {
	h := newUploadHandle(context.Background(), 1)

	n, err := h.Write([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	writeDone := make(chan error, 1)
	go func() {
		_, err := h.Write([]byte("b"))
		writeDone <- err
	}()

	select {
	case <-writeDone:
		t.Fatal("second Write returned before the window had capacity")
	case <-time.After(20 * time.Millisecond):
	}

	<-h.parts // drain the first part, freeing one unit of window credit

	select {
	case err := <-writeDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second Write never unblocked after credit was freed")
	}
}

func TestDrainUploadRejectsTrailerOnFixedLength(t *testing.T) {
	sock := &fakeSocket{}
	h := newUploadHandle(context.Background(), 1)

	drainErr := make(chan error, 1)
	go func() { drainErr <- drainUpload(sock, FramingFixedLength, h) }()

	require.NoError(t, h.CloseWithTrailer(http.Header{"X-Foo": {"bar"}}))

	select {
	case err := <-drainErr:
		assert.ErrorIs(t, err, ErrTrailersNotAllowed)
	case <-time.After(time.Second):
		t.Fatal("drainUpload never returned")
	}
}

func TestDrainUploadChunkedWritesFramedData(t *testing.T) {
	var buf bytes.Buffer
	sock := &pipeSocket{w: &buf}
	h := newUploadHandle(context.Background(), 2)

	drainErr := make(chan error, 1)
	go func() { drainErr <- drainUpload(sock, FramingChunked, h) }()

	_, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	select {
	case err := <-drainErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drainUpload never returned")
	}

	pr := getPacketReader(bytes.NewReader(buf.Bytes()))
	defer putPacketReader(pr)
	cr := newChunkReader(pr)
	got, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

// pipeSocket is a write-only fakeSocket that records sent bytes.
type pipeSocket struct {
	fakeSocket
	w io.Writer
}

func (s *pipeSocket) Send(p []byte) (int, error) { return s.w.Write(p) }

func TestDownloadHandlePartSizeCappingAndTrailer(t *testing.T) {
	body := bytes.NewReader([]byte("hello world"))
	h := newDownloadHandle(0) // unbounded window
	trailerOf := func() http.Header { return http.Header{"X-Trailer": {"yes"}} }

	go deliverDownload(context.Background(), body, 4, trailerOf, h)

	var collected []byte
	for {
		part, err := h.Next(context.Background())
		if err == io.EOF {
			require.Equal(t, "yes", part.Trailer.Get("X-Trailer"))
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(part.Data), 4)
		collected = append(collected, part.Data...)
	}
	assert.Equal(t, "hello world", string(collected))
}

func TestDownloadHandleWindowCreditGatesDelivery(t *testing.T) {
	body := &infiniteReader{}
	h := newDownloadHandle(1)

	go deliverDownload(context.Background(), body, 1, nil, h)

	_, err := h.Next(context.Background())
	require.NoError(t, err)

	// No Ack yet: the producer has no credit, so a second part must not
	// arrive within a short window.
	select {
	case <-h.parts:
		t.Fatal("received a second part before Ack granted credit")
	case <-time.After(20 * time.Millisecond):
	}

	h.Ack()
	select {
	case p := <-h.parts:
		assert.Len(t, p.Data, 1)
	case <-time.After(time.Second):
		t.Fatal("producer never resumed after Ack")
	}
}

func TestDeliverDownloadExitsSilentlyOnContextCancel(t *testing.T) {
	body := &infiniteReader{}
	h := newDownloadHandle(1)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		deliverDownload(ctx, body, 1, nil, h)
		close(finished)
	}()

	_, err := h.Next(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("deliverDownload did not exit after context cancellation")
	}
}

func TestDeliverDownloadPropagatesReadError(t *testing.T) {
	wantErr := errors.New("boom")
	body := &erroringReader{err: wantErr}
	h := newDownloadHandle(0)

	go deliverDownload(context.Background(), body, 4, nil, h)

	_, err := h.Next(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

// infiniteReader always has more data and never returns an error.
type infiniteReader struct{}

func (r *infiniteReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

// erroringReader returns err on its very first Read.
type erroringReader struct{ err error }

func (r *erroringReader) Read(p []byte) (int, error) { return 0, r.err }
