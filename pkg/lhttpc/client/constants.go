package client

// Wire-format constants. Request head formatting proper lives elsewhere,
// so this is deliberately small: just the tokens the state machine and
// chunk codec have to recognize or emit.

const (
	http11String = "HTTP/1.1"
	http10String = "HTTP/1.0"
	crlfString   = "\r\n"

	headerHost             = "Host"
	headerConnection       = "Connection"
	headerContentLength    = "Content-Length"
	headerTransferEncoding = "Transfer-Encoding"

	tokenChunked   = "chunked"
	tokenKeepAlive = "keep-alive"
	tokenClose     = "close"
)

var crlfBytes = []byte(crlfString)

// DefaultBufferSize for read/write operations.
const DefaultBufferSize = 4096
