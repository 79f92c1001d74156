package client

import (
	"io"
	"net/http"
)

// Request is the caller's description of the HTTP request to send. It
// deliberately omits URL parsing and header formatting (the transport's
// job is to speak the wire protocol to a given Destination, not to act as
// a general HTTP client) — callers already have their host/port and path.
type Request struct {
	Method string
	Path   string
	Header http.Header

	// Body, if non-nil, is streamed to the connection during the SENDING
	// state. Ignored when Options.PartialUpload is set — use the returned
	// Call's Upload handle instead.
	Body io.Reader
	// ContentLength is the exact size of Body. A negative value means
	// "unknown" and selects chunked request framing.
	ContentLength int64
}

// NewRequest builds a bodyless Request for method and path (e.g. "/" or
// "/v1/widgets?id=3"). Set Body/ContentLength or Header directly afterward.
func NewRequest(method, path string) *Request {
	return &Request{Method: method, Path: path, Header: make(http.Header), ContentLength: -1}
}

// requestFraming picks how req's body (if any) is framed on the wire. A
// known ContentLength is always sent identity (fixed-length) — including
// for a streamed partial upload, where the caller has committed to a
// length up front; an unknown length falls back to chunked. Only a chunked
// partial upload may carry a trailer; an identity one that tries fails with
// ErrTrailersNotAllowed.
func requestFraming(req *Request, opts Options) (BodyFraming, int64) {
	if opts.PartialUpload != nil {
		if req.ContentLength >= 0 {
			return FramingFixedLength, req.ContentLength
		}
		return FramingChunked, 0
	}
	if req.Body == nil {
		return FramingNone, 0
	}
	if req.ContentLength >= 0 {
		return FramingFixedLength, req.ContentLength
	}
	return FramingChunked, 0
}
