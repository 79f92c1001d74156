package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by UploadHandle.Write/Close once the upload
// has already been finished by a prior Close/CloseWithTrailer call.
var ErrStreamClosed = errors.New("lhttpc: stream already closed")

// socketWriter adapts a Socket to io.Writer for the chunk encoder.
type socketWriter struct{ s Socket }

func (w socketWriter) Write(p []byte) (int, error) { return w.s.Send(p) }

// uploadPart is one unit handed from the caller's UploadHandle to the
// sender goroutine driving the socket.
type uploadPart struct {
	data    []byte
	trailer http.Header
	final   bool
}

// UploadHandle is the caller's side of a streamed (partial) upload.
// Each Write is one "part"; the channel buffer (sized to the configured
// upload window) is the credit mechanism — Write blocks once that many
// parts are outstanding and undelivered, exactly the "requester blocks
// until credit is available" behavior the window models.
type UploadHandle struct {
	ctx   context.Context
	parts chan uploadPart
	done  chan struct{} // closed by the sender when it stops, for any reason
	err   error         // valid only once done is closed

	mu     sync.Mutex
	closed bool
}

func newUploadHandle(ctx context.Context, window int) *UploadHandle {
	if window <= 0 {
		window = 1
	}
	return &UploadHandle{
		ctx:   ctx,
		parts: make(chan uploadPart, window),
		done:  make(chan struct{}),
	}
}

// Write sends one part. It blocks until the sender has window capacity
// free, the upload fails, or ctx is done.
func (h *UploadHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrStreamClosed
	}
	h.mu.Unlock()

	cp := append([]byte(nil), p...)
	select {
	case h.parts <- uploadPart{data: cp}:
		return len(p), nil
	case <-h.done:
		return 0, h.err
	case <-h.ctx.Done():
		return 0, h.ctx.Err()
	}
}

// Close finishes the upload with no trailers.
func (h *UploadHandle) Close() error { return h.finish(nil) }

// CloseWithTrailer finishes the upload carrying a trailer block. Only
// legal when the body is chunk-framed — on an identity (fixed-length)
// upload the sender rejects the trailer with ErrTrailersNotAllowed, which
// fails the request (reported through Call.Response); this call itself
// returns nil once the final part has been queued.
func (h *UploadHandle) CloseWithTrailer(trailer http.Header) error { return h.finish(trailer) }

func (h *UploadHandle) finish(trailer http.Header) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrStreamClosed
	}
	h.closed = true
	h.mu.Unlock()

	select {
	case h.parts <- uploadPart{trailer: trailer, final: true}:
		return nil
	case <-h.done:
		return h.err
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// drainUpload is run by the sending side of the state machine: it ranges
// over the caller's parts until the final one, writing each to sock either
// raw (fixed-length framing) or chunk-encoded, then stops. It always
// closes done exactly once before returning.
func drainUpload(sock Socket, framing BodyFraming, h *UploadHandle) (err error) {
	defer func() {
		h.err = err
		close(h.done)
	}()

	var cw *chunkWriter
	if framing == FramingChunked {
		cw = newChunkWriter(socketWriter{sock})
	}

	for {
		var part uploadPart
		select {
		case part = <-h.parts:
		case <-h.ctx.Done():
			return h.ctx.Err()
		}

		if len(part.data) > 0 {
			if cw != nil {
				if err := cw.WriteChunk(part.data); err != nil {
					return err
				}
			} else if _, err := sock.Send(part.data); err != nil {
				return err
			}
		}

		if part.final {
			if part.trailer != nil && cw == nil {
				return ErrTrailersNotAllowed
			}
			if cw != nil {
				return cw.Close(part.trailer)
			}
			return nil
		}
	}
}

// DownloadPart is one unit of a streamed (partial) download: either
// up to part_size bytes of body data, or — as the last part delivered —
// the end-of-body marker carrying any trailer block.
type DownloadPart struct {
	Data    []byte
	Trailer http.Header
	Final   bool
}

// DownloadHandle is the caller's side of a streamed download. Next blocks
// for the next part; Ack returns one unit of window credit so the producer
// may deliver another. Callers using an unbounded window (WindowSize <= 0)
// don't need to call Ack — Next never blocks on credit in that case.
type DownloadHandle struct {
	parts  chan DownloadPart
	credit chan struct{} // nil when the window is unbounded
	errc   chan error
}

func newDownloadHandle(window int) *DownloadHandle {
	h := &DownloadHandle{
		parts: make(chan DownloadPart),
		errc:  make(chan error, 1),
	}
	if window > 0 {
		h.credit = make(chan struct{}, window)
		for i := 0; i < window; i++ {
			h.credit <- struct{}{}
		}
	}
	return h
}

// Ack returns one unit of window credit.
func (h *DownloadHandle) Ack() {
	if h.credit == nil {
		return
	}
	select {
	case h.credit <- struct{}{}:
	default:
	}
}

// Next returns the next part, io.EOF once the end-of-body marker has been
// consumed, or the terminal error if the body read failed.
func (h *DownloadHandle) Next(ctx context.Context) (DownloadPart, error) {
	select {
	case p, ok := <-h.parts:
		if !ok {
			select {
			case err := <-h.errc:
				return DownloadPart{}, err
			default:
				return DownloadPart{}, io.EOF
			}
		}
		if p.Final {
			return p, io.EOF
		}
		return p, nil
	case <-ctx.Done():
		return DownloadPart{}, ctx.Err()
	}
}

// deliverDownload is run by the receiving side of the state machine: it
// reads body in part_size-capped chunks, gating each delivery on window
// credit, and finishes with an end-of-body part carrying a trailer block
// (trailerOf is called only once body is exhausted, since a chunked body's
// trailer isn't known until its terminating chunk has been read; pass nil
// for framings that never carry one). If ctx is done first (the requester
// is gone) it exits without delivering anything further — the "requester
// death -> silent worker exit" case.
func deliverDownload(ctx context.Context, body io.Reader, partSize int, trailerOf func() http.Header, h *DownloadHandle) {
	defer close(h.parts)

	buf := make([]byte, partSize)
	for {
		if h.credit != nil {
			select {
			case <-h.credit:
			case <-ctx.Done():
				return
			}
		}

		n, err := body.Read(buf)
		if n > 0 {
			part := DownloadPart{Data: append([]byte(nil), buf[:n]...)}
			select {
			case h.parts <- part:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				var trailer http.Header
				if trailerOf != nil {
					trailer = trailerOf()
				}
				select {
				case h.parts <- DownloadPart{Trailer: trailer, Final: true}:
				case <-ctx.Done():
				}
				return
			}
			h.errc <- err
			return
		}
	}
}
