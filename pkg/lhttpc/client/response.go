package client

import (
	"fmt"
	"net/http"
	"strconv"
)

// Response is the result of a request's RECEIVING_HEAD state, handed to
// the caller as soon as the status line and headers have been parsed — the
// body (if any) is then read lazily through Body, or delivered part by
// part through a Call's Download handle when Options.PartialDownload is
// set (in which case Body is nil).
type Response struct {
	Proto      string
	StatusCode int
	Status     string
	Header     http.Header

	// Body is the response body reader. Read it to completion (or Close
	// it) to release the underlying connection back to the pool. Nil when
	// Options.PartialDownload was set and the response has a body;
	// http.NoBody for a bodyless response.
	Body bodyReadCloser

	// Trailer is populated once Body has been fully read, for a
	// chunk-framed response that carried a trailer block. It is empty
	// (never nil) before that point.
	Trailer http.Header
}

// bodyReadCloser is the interface Response.Body satisfies; named
// separately from io.ReadCloser only so it can carry its own doc comment.
type bodyReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// parseStatusLine parses a status line of the form "HTTP/1.1 200 OK".
func parseStatusLine(line []byte) (proto string, status int, reason string, err error) {
	line = trimCRLF(line)
	i := indexByte(line, ' ')
	if i < 0 {
		return "", 0, "", newError(KindUnexpected, fmt.Errorf("malformed status line %q", line))
	}
	proto = string(line[:i])
	rest := line[i+1:]
	j := indexByte(rest, ' ')
	codeStr := rest
	if j >= 0 {
		codeStr = rest[:j]
		reason = string(trimSpace(rest[j+1:]))
	}
	status, err = strconv.Atoi(string(codeStr))
	if err != nil {
		return "", 0, "", newError(KindUnexpected, fmt.Errorf("malformed status code %q", codeStr))
	}
	return proto, status, reason, nil
}

// parseHeaderBlock reads "Name: value" lines off pr until a blank line.
func parseHeaderBlock(pr *packetReader) (http.Header, error) {
	h := make(http.Header)
	for {
		line, err := pr.readLine()
		if err != nil {
			return nil, err
		}
		line = trimCRLF(line)
		if len(line) == 0 {
			return h, nil
		}
		i := indexByte(line, ':')
		if i <= 0 {
			return nil, newError(KindUnexpected, fmt.Errorf("malformed header line %q", line))
		}
		name := http.CanonicalHeaderKey(string(trimSpace(line[:i])))
		value := string(trimSpace(line[i+1:]))
		h.Add(name, value)
	}
}

// readResponseHead reads the status line and header block off pr,
// transparently consuming and discarding any number of leading 1xx
// informational responses before returning the final head.
func readResponseHead(pr *packetReader) (proto string, status int, reason string, header http.Header, err error) {
	for {
		line, lerr := pr.readLine()
		if lerr != nil {
			return "", 0, "", nil, lerr
		}
		proto, status, reason, err = parseStatusLine(line)
		if err != nil {
			return "", 0, "", nil, err
		}
		header, err = parseHeaderBlock(pr)
		if err != nil {
			return "", 0, "", nil, err
		}
		if status >= 100 && status < 200 {
			continue
		}
		return proto, status, reason, header, nil
	}
}
