package client

import (
	"github.com/valyala/bytebufferpool"
)

// Scratch buffers for request-head assembly (state_machine.go SENDING
// state) and chunk framing (chunked.go) are pooled via bytebufferpool to
// avoid allocating a new buffer per request.

// getBuffer returns a pooled, zero-length *bytebufferpool.ByteBuffer.
func getBuffer() *bytebufferpool.ByteBuffer {
	return bytebufferpool.Get()
}

// putBuffer returns buf to the pool.
func putBuffer(buf *bytebufferpool.ByteBuffer) {
	bytebufferpool.Put(buf)
}
