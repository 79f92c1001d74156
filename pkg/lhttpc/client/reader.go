package client

import (
	"io"
	"sync"
)

// packetReader is a pooled buffered reader used for "packet http"-mode
// reading: one line at a time for the status line, header lines and
// chunk-size lines, then raw Read for body bytes once the socket is
// switched to raw framing. readLine returns a slice into the internal
// buffer (or a fallback copy when a line straddles a fill()) to avoid
// allocating per header; fill() grows the buffer instead of spinning when a
// single line exceeds its current capacity.
type packetReader struct {
	rd   io.Reader
	buf  []byte // internal buffer
	r, w int    // read and write positions

	lineBuf []byte // fallback buffer when a line straddles a fill()

	err error
}

const (
	packetReaderSize = 2048
	maxLineSize      = 64 * 1024
)

var packetReaderPool = sync.Pool{
	New: func() interface{} {
		return &packetReader{
			buf:     make([]byte, packetReaderSize),
			lineBuf: make([]byte, 0, 256),
		}
	},
}

// getPacketReader returns a pooled reader. It must be returned with
// putPacketReader once the caller is done with the socket (or has switched
// to raw framing and doesn't need further line parsing).
func getPacketReader(rd io.Reader) *packetReader {
	r := packetReaderPool.Get().(*packetReader)
	r.reset(rd)
	return r
}

func putPacketReader(r *packetReader) {
	if r != nil {
		r.reset(nil)
		packetReaderPool.Put(r)
	}
}

func (r *packetReader) reset(rd io.Reader) {
	r.rd = rd
	r.r = 0
	r.w = 0
	r.lineBuf = r.lineBuf[:0]
	r.err = nil
}

// fill reads more data into the buffer, growing it if it's already full of
// unconsumed bytes (a line longer than the buffer) rather than looping
// forever on a zero-length Read.
func (r *packetReader) fill() error {
	if r.err != nil {
		return r.err
	}

	if r.r > 0 {
		copy(r.buf, r.buf[r.r:r.w])
		r.w -= r.r
		r.r = 0
	}

	if r.w == len(r.buf) {
		if len(r.buf) >= maxLineSize {
			r.err = io.ErrShortBuffer
			return r.err
		}
		grown := make([]byte, len(r.buf)*2)
		copy(grown, r.buf[:r.w])
		r.buf = grown
	}

	n, err := r.rd.Read(r.buf[r.w:])
	r.w += n
	if err != nil {
		r.err = err
		return err
	}
	return nil
}

// readLine reads a line terminated by '\n' (CRLF or bare LF). The returned
// slice is valid until the next call to readLine/read/reset.
func (r *packetReader) readLine() ([]byte, error) {
	r.lineBuf = r.lineBuf[:0]

	for {
		for i := r.r; i < r.w; i++ {
			if r.buf[i] == '\n' {
				line := r.buf[r.r : i+1]
				r.r = i + 1

				if len(r.lineBuf) == 0 {
					return line, nil
				}
				r.lineBuf = append(r.lineBuf, line...)
				return r.lineBuf, nil
			}
		}

		r.lineBuf = append(r.lineBuf, r.buf[r.r:r.w]...)
		r.r = r.w

		if err := r.fill(); err != nil {
			if err == io.EOF && len(r.lineBuf) > 0 {
				return r.lineBuf, nil
			}
			return r.lineBuf, err
		}
	}
}

// Read implements io.Reader over whatever is left buffered, then falls
// through to the underlying socket — used once body framing takes over.
func (r *packetReader) Read(p []byte) (int, error) {
	if r.r == r.w {
		if r.err != nil {
			return 0, r.err
		}
		if len(p) >= len(r.buf) {
			return r.rd.Read(p)
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.buf[r.r:r.w])
	r.r += n
	return n, nil
}

// readExact reads exactly n bytes and returns them as a fresh copy (the
// underlying buffer is reused by later reads), used to consume and verify
// the trailing CRLF after chunk data.
func (r *packetReader) readExact(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if r.r == r.w {
			if err := r.fill(); err != nil {
				return out, err
			}
		}
		take := n - len(out)
		if take > r.w-r.r {
			take = r.w - r.r
		}
		out = append(out, r.buf[r.r:r.r+take]...)
		r.r += take
	}
	return out, nil
}
