package client

import (
	"io"
	"net/http"
	"strconv"
)

// chunkReader decodes a chunked body (RFC 7230 §4.1) off a packetReader:
// a hex chunk-size line (optionally followed by "; extension", which is
// ignored), that many bytes of data, a trailing CRLF, repeated until a
// zero-size chunk, followed by an optional trailer header block and the
// final CRLF.
type chunkReader struct {
	pr       *packetReader
	remain   int64 // bytes left in the current chunk
	trailer  http.Header
	finished bool
}

func newChunkReader(pr *packetReader) *chunkReader {
	return &chunkReader{pr: pr}
}

// Read implements io.Reader. Once the terminating chunk and any trailer
// have been consumed, Read returns io.EOF and Trailer() is populated.
func (c *chunkReader) Read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	if c.remain == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.readTrailer(); err != nil {
				return 0, err
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}

	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.pr.Read(p)
	c.remain -= int64(n)
	if err != nil {
		return n, err
	}
	if c.remain == 0 {
		term, terr := c.pr.readExact(2)
		if terr != nil {
			return n, terr
		}
		if term[0] != '\r' || term[1] != '\n' {
			return n, newError(KindInvalidChunk, nil)
		}
	}
	return n, nil
}

// readChunkSize parses one chunk-size line: hex digits, optional
// "; extension" (ignored), CRLF. Anything else is a fatal invalid_chunk.
func (c *chunkReader) readChunkSize() (int64, error) {
	line, err := c.pr.readLine()
	if err != nil {
		return 0, err
	}
	line = trimCRLF(line)
	if i := indexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = trimSpace(line)
	if len(line) == 0 {
		return 0, newError(KindInvalidChunk, nil)
	}
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || size < 0 {
		return 0, newError(KindInvalidChunk, err)
	}
	return size, nil
}

// readTrailer consumes zero or more "Name: value" lines ending with a blank
// line, per the trailer grammar in RFC 7230 §4.1.2, reading off the same
// packetReader the chunk data came from (so a pipelined response on a
// reused connection is never over-read into an unrelated buffer). A
// malformed line is a fatal bad_trailer.
func (c *chunkReader) readTrailer() error {
	h := http.Header{}
	for {
		line, err := c.pr.readLine()
		if err != nil {
			return newError(KindBadTrailer, err)
		}
		line = trimCRLF(line)
		if len(line) == 0 {
			c.trailer = h
			return nil
		}
		i := indexByte(line, ':')
		if i <= 0 {
			return newError(KindBadTrailer, nil)
		}
		name := string(trimSpace(line[:i]))
		value := string(trimSpace(line[i+1:]))
		h.Add(name, value)
	}
}

// Trailer returns the trailer header block read after the terminating
// chunk. Only meaningful once Read has returned io.EOF.
func (c *chunkReader) Trailer() http.Header {
	if c.trailer == nil {
		return http.Header{}
	}
	return c.trailer
}

// chunkWriter encodes an outbound streamed upload as chunked data: each
// non-empty WriteChunk call is emitted as its own chunk, and Close writes
// the terminating zero-size chunk and the trailer block.
type chunkWriter struct {
	w io.Writer
}

func newChunkWriter(w io.Writer) *chunkWriter {
	return &chunkWriter{w: w}
}

func (c *chunkWriter) WriteChunk(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	buf := getBuffer()
	defer putBuffer(buf)
	buf.WriteString(strconv.FormatInt(int64(len(p)), 16))
	buf.Write(crlfBytes)
	buf.Write(p)
	buf.Write(crlfBytes)
	_, err := c.w.Write(buf.Bytes())
	return err
}

// Close emits the terminating zero-size chunk and trailer block (trailer
// may be nil or empty for "no trailers").
func (c *chunkWriter) Close(trailer http.Header) error {
	buf := getBuffer()
	defer putBuffer(buf)
	buf.WriteString("0")
	buf.Write(crlfBytes)
	for k, vs := range trailer {
		for _, v := range vs {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.Write(crlfBytes)
		}
	}
	buf.Write(crlfBytes)
	_, err := c.w.Write(buf.Bytes())
	return err
}

func trimCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	for len(b) > 0 && b[len(b)-1] == ' ' {
		b = b[:len(b)-1]
	}
	return b
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}
