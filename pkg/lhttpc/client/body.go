package client

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// BodyFraming identifies how a message body's length is delimited on the
// wire.
type BodyFraming int

const (
	// FramingNone means the message has no body at all.
	FramingNone BodyFraming = iota
	// FramingFixedLength means the body is exactly Content-Length bytes.
	FramingFixedLength
	// FramingChunked means the body is chunk-encoded (chunked.go), ending
	// with a zero-size chunk and an optional trailer block.
	FramingChunked
	// FramingInfinite means the body runs until the connection closes.
	// Only valid when the connection is guaranteed to close afterward.
	FramingInfinite
)

// hasBody reports whether a response with the given request method and
// status line carries a body at all, before framing is even considered.
func hasBody(method string, status int, header http.Header) bool {
	if method == http.MethodHead {
		return false
	}
	if status >= 100 && status < 200 {
		return false
	}
	if status == http.StatusNoContent || status == http.StatusNotModified {
		return false
	}
	if method == http.MethodOptions &&
		header.Get(headerContentLength) == "" &&
		header.Get(headerTransferEncoding) == "" {
		return false
	}
	return true
}

// isClosingConnection decides whether the connection will close once the
// current message completes, per the Connection header and HTTP version
// defaults (HTTP/1.0 closes unless told keep-alive; HTTP/1.1 stays open
// unless told close).
func isClosingConnection(version string, header http.Header) bool {
	switch conn := header.Get(headerConnection); {
	case strings.EqualFold(conn, tokenClose):
		return true
	case strings.EqualFold(conn, tokenKeepAlive):
		return false
	default:
		return version == http10String
	}
}

// selectFraming picks the body framing for a response already known to
// have a body (hasBody == true): a valid Content-Length wins over any
// Transfer-Encoding, a chunked Transfer-Encoding wins over read-to-close,
// and read-to-close is only legal when the connection is actually
// guaranteed to close — otherwise the server sent an unframed body and
// the response is rejected with ErrNoContentLength.
func selectFraming(version string, header http.Header) (BodyFraming, int64, error) {
	if cl := header.Get(headerContentLength); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return FramingNone, 0, newError(KindUnexpected, ErrBadContentLength)
		}
		return FramingFixedLength, n, nil
	}
	if te := header.Get(headerTransferEncoding); strings.EqualFold(te, tokenChunked) {
		return FramingChunked, 0, nil
	}
	if !isClosingConnection(version, header) {
		return FramingNone, 0, ErrNoContentLength
	}
	return FramingInfinite, 0, nil
}

// fixedLengthReader wraps r to stop after exactly n bytes, turning an early
// EOF from the underlying socket into io.ErrUnexpectedEOF rather than
// silently truncating the body.
type fixedLengthReader struct {
	r         io.Reader
	remaining int64
}

func newFixedLengthReader(r io.Reader, n int64) *fixedLengthReader {
	return &fixedLengthReader{r: r, remaining: n}
}

func (f *fixedLengthReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.r.Read(p)
	f.remaining -= int64(n)
	if err == io.EOF && f.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
