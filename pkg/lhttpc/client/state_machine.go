package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// clientState names the states of the request state machine:
// START -> CONNECTING -> SENDING -> RECEIVING_HEAD -> RECEIVING_BODY ->
// DONE, with a retry (back to CONNECTING, "START'") on a
// closed-during-send or closed-during-head-read failure of a reused
// connection, up to the attempt budget (2+SendRetry attempts when the
// first checkout reused a connection). It exists for logging/debugging; control flow below is a
// plain attempt loop rather than an explicit state object.
type clientState int

const (
	stateConnecting clientState = iota
	stateSending
	stateReceivingHead
	stateReceivingBody
	stateDone
	stateFail
)

func (s clientState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateSending:
		return "sending"
	case stateReceivingHead:
		return "receiving_head"
	case stateReceivingBody:
		return "receiving_body"
	case stateDone:
		return "done"
	default:
		return "fail"
	}
}

// headResult is delivered exactly once on a Call's internal channel.
type headResult struct {
	resp *Response
	err  error
}

// Call is returned immediately by Client.Do; the request itself runs on a
// background goroutine. For a plain (non-streaming) exchange, call
// Response once — it blocks until the head arrives, same as a synchronous
// client's Do would. Upload/Download are only non-nil when the matching
// Options field was set.
type Call struct {
	Upload   *UploadHandle
	Download *DownloadHandle

	headc chan headResult
}

// Response blocks until the response head (status line + headers) has
// been received, or ctx is done, or the request failed outright.
func (c *Call) Response(ctx context.Context) (*Response, error) {
	select {
	case hr := <-c.headc:
		return hr.resp, hr.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) deliver(resp *Response, err error) {
	c.headc <- headResult{resp: resp, err: err}
}

// isPeerClosed classifies err as "the connection was closed out from under
// us" (cleanly by EOF, or via a reset/broken-pipe), as opposed to some
// other transport failure (e.g. a timeout) that shouldn't trigger the
// stale-reused-connection retry path.
func isPeerClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return false
}

// isTimeoutErr reports whether err came from a send/recv deadline elapsing.
// Per the retry rule, a timeout is never retried — on either send or
// head-read — since the request may have already had side effects.
func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// doRequest starts a request against pool and returns immediately with a
// Call. The actual exchange runs in a new goroutine, one per call, with a
// goroutine playing the part of a dedicated per-request worker.
func doRequest(ctx context.Context, pool *Pool, stats *Stats, logger zerolog.Logger, dest Destination, req *Request, opts Options, workerID string) *Call {
	call := &Call{headc: make(chan headResult, 1)}
	if opts.PartialUpload != nil {
		call.Upload = newUploadHandle(ctx, opts.PartialUpload.Window)
	}
	go runRequest(ctx, pool, stats, logger, dest, req, opts, workerID, call)
	return call
}

func runRequest(ctx context.Context, pool *Pool, stats *Stats, logger zerolog.Logger, dest Destination, req *Request, opts Options, workerID string, call *Call) {
	var maxAttempts int

	for attempt := 1; ; attempt++ {
		logger.Debug().Str("worker", workerID).Stringer("state", stateConnecting).Int("attempt", attempt).Msg("lhttpc")

		co := pool.Checkout()
		if co.Kind == CheckoutReject {
			call.deliver(nil, ErrRetryLater)
			return
		}

		var sock Socket
		info := co.Info
		if co.Kind == CheckoutReuse {
			sock = co.Sock
		} else {
			var err error
			sock, err = dialSocket(ctx, dest, opts.ConnectTimeout, opts.TLSConfig, opts.ConnectOptions)
			if err != nil {
				pool.CheckoutFailed(info)
				call.deliver(nil, newError(KindConnectTimeout, err))
				return
			}
			pool.ConfirmOpen(info, sock)
		}

		if attempt == 1 {
			if co.Kind == CheckoutReuse {
				maxAttempts = 2 + opts.SendRetry
			} else {
				maxAttempts = 1 + opts.SendRetry
			}
		}

		stats.StartRequest(dest, sock, workerID)

		if opts.Timeout > 0 {
			sock.SetDeadline(time.Now().Add(opts.Timeout))
		} else {
			sock.SetDeadline(time.Time{})
		}

		logger.Debug().Str("worker", workerID).Stringer("state", stateSending).Msg("lhttpc")
		sendErr := sendRequest(sock, dest, req, opts, call)

		var proto, reason string
		var status int
		var header http.Header
		if sendErr == nil {
			logger.Debug().Str("worker", workerID).Stringer("state", stateReceivingHead).Msg("lhttpc")
			pr := getPacketReader(socketReader{sock})
			proto, status, reason, header, sendErr = readResponseHead(pr)
			if sendErr != nil {
				putPacketReader(pr)
			} else {
				finishWithHead(ctx, pool, stats, dest, sock, info, req, proto, status, reason, header, opts, pr, call, workerID)
				return
			}
		}

		if isTimeoutErr(sendErr) {
			pool.Checkin(info, sock, dispositionTimeout, workerID)
			call.deliver(nil, newError(KindTimeout, sendErr))
			return
		}

		closed := isPeerClosed(sendErr)
		if closed && co.Kind == CheckoutReuse && attempt < maxAttempts {
			pool.Checkin(info, sock, dispositionRemoteClose, "")
			stats.unregisterWorker(workerID)
			logger.Debug().Str("worker", workerID).Msg("lhttpc: stale reused connection, retrying")
			continue
		}

		disp := dispositionLocalClose
		if closed {
			disp = dispositionRemoteClose
		}
		pool.Checkin(info, sock, disp, "")
		stats.unregisterWorker(workerID)

		var kerr *Error
		switch {
		case closed:
			call.deliver(nil, newError(KindConnectionClosed, sendErr))
		case errors.As(sendErr, &kerr):
			call.deliver(nil, sendErr)
		default:
			call.deliver(nil, newError(KindUnexpected, sendErr))
		}
		return
	}
}

// sendRequest writes the request head and (unless streamed) the request
// body to sock.
func sendRequest(sock Socket, dest Destination, req *Request, opts Options, call *Call) error {
	framing, length := requestFraming(req, opts)
	if err := sendRequestHead(sock, dest, req, framing, length); err != nil {
		return err
	}
	switch {
	case opts.PartialUpload != nil:
		return drainUpload(sock, framing, call.Upload)
	case framing == FramingFixedLength:
		_, err := io.Copy(socketWriter{sock}, req.Body)
		return err
	case framing == FramingChunked:
		return sendRequestBodyChunked(sock, req.Body)
	default:
		return nil
	}
}

func sendRequestHead(sock Socket, dest Destination, req *Request, framing BodyFraming, length int64) error {
	buf := getBuffer()
	defer putBuffer(buf)

	buf.WriteString(req.Method)
	buf.WriteString(" ")
	buf.WriteString(req.Path)
	buf.WriteString(" ")
	buf.WriteString(http11String)
	buf.Write(crlfBytes)

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get(headerHost) == "" {
		header.Set(headerHost, dest.hostHeader())
	}
	switch framing {
	case FramingChunked:
		header.Set(headerTransferEncoding, tokenChunked)
		header.Del(headerContentLength)
	case FramingFixedLength:
		header.Set(headerContentLength, strconv.FormatInt(length, 10))
		header.Del(headerTransferEncoding)
	default:
		header.Del(headerContentLength)
		header.Del(headerTransferEncoding)
	}
	if header.Get(headerConnection) == "" {
		header.Set(headerConnection, tokenKeepAlive)
	}
	for k, vs := range header {
		for _, v := range vs {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.Write(crlfBytes)
		}
	}
	buf.Write(crlfBytes)

	_, err := sock.Send(buf.Bytes())
	return err
}

func sendRequestBodyChunked(sock Socket, body io.Reader) error {
	cw := newChunkWriter(socketWriter{sock})
	buf := make([]byte, DefaultBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := cw.WriteChunk(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return cw.Close(nil)
		}
		if err != nil {
			return err
		}
	}
}

// finishWithHead runs once a response head has been parsed: it picks body
// framing, builds the Response, and wires up whatever happens next — a
// plain Body, a Download handle, or (for a bodyless response) an immediate
// checkin — then delivers the head to the caller. The worker index entry
// for workerID is released here: once the head is parsed, any further
// close of sock is driven by the body reader rather than this goroutine.
func finishWithHead(ctx context.Context, pool *Pool, stats *Stats, dest Destination, sock Socket, info *ConnInfo, req *Request, proto string, status int, reason string, header http.Header, opts Options, pr *packetReader, call *Call, workerID string) {
	stats.unregisterWorker(workerID)

	resp := &Response{
		Proto:      proto,
		StatusCode: status,
		Status:     strconv.Itoa(status) + " " + reason,
		Header:     header,
		Trailer:    make(http.Header),
	}

	closing := isClosingConnection(proto, header)

	if !hasBody(req.Method, status, header) {
		putPacketReader(pr)
		stats.EndRequest(sock)
		disp := dispositionReuse
		if closing {
			disp = dispositionLocalClose
		}
		pool.Checkin(info, sock, disp, "")
		resp.Body = http.NoBody
		call.deliver(resp, nil)
		return
	}

	framing, length, err := selectFraming(proto, header)
	if err != nil {
		putPacketReader(pr)
		stats.EndRequest(sock)
		pool.Checkin(info, sock, dispositionLocalClose, "")
		call.deliver(nil, err)
		return
	}

	var rawBody io.Reader
	var trailerOf func() http.Header
	switch framing {
	case FramingFixedLength:
		rawBody = newFixedLengthReader(pr, length)
	case FramingChunked:
		cr := newChunkReader(pr)
		rawBody = cr
		trailerOf = cr.Trailer
	default: // FramingInfinite
		rawBody = pr
	}

	bc := &bodyCloser{r: rawBody, onClose: func(err error) {
		putPacketReader(pr)
		stats.EndRequest(sock)
		if trailerOf != nil && errors.Is(err, io.EOF) {
			resp.Trailer = trailerOf()
		}
		switch {
		case err == nil:
			// caller closed the body before it was fully drained; the
			// socket's read position is now unknown.
			pool.Checkin(info, sock, dispositionLocalClose, "")
		case errors.Is(err, io.EOF) && framing != FramingInfinite:
			disp := dispositionReuse
			if closing {
				disp = dispositionLocalClose
			}
			pool.Checkin(info, sock, disp, "")
		case errors.Is(err, io.EOF) && framing == FramingInfinite:
			pool.Checkin(info, sock, dispositionRemoteClose, "")
		default:
			pool.Checkin(info, sock, dispositionLocalClose, "")
		}
	}}

	if opts.PartialDownload != nil {
		call.Download = newDownloadHandle(opts.PartialDownload.WindowSize)
		go deliverDownload(ctx, bc, opts.PartialDownload.partSize(), trailerOf, call.Download)
		call.deliver(resp, nil)
		return
	}

	resp.Body = bc
	call.deliver(resp, nil)
}

// bodyCloser wraps a response body reader so the connection is checked
// back in (or torn down) exactly once, whether the caller reads it to
// completion, calls Close early, or abandons it after an error.
type bodyCloser struct {
	r       io.Reader
	onClose func(err error)
	once    sync.Once
}

func (b *bodyCloser) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil {
		b.finish(err)
	}
	return n, err
}

func (b *bodyCloser) Close() error {
	b.finish(nil)
	return nil
}

func (b *bodyCloser) finish(err error) {
	b.once.Do(func() {
		if b.onClose != nil {
			b.onClose(err)
		}
	})
}
