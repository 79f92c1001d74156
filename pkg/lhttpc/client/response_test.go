package client

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusLine(t *testing.T) {
	proto, status, reason, err := parseStatusLine([]byte("HTTP/1.1 200 OK\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1", proto)
	assert.Equal(t, 200, status)
	assert.Equal(t, "OK", reason)
}

func TestParseStatusLineNoReason(t *testing.T) {
	proto, status, reason, err := parseStatusLine([]byte("HTTP/1.1 204\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1", proto)
	assert.Equal(t, 204, status)
	assert.Empty(t, reason)
}

func TestParseStatusLineMalformed(t *testing.T) {
	_, _, _, err := parseStatusLine([]byte("garbage\r\n"))
	assert.Error(t, err)
}

func TestReadResponseHeadSkipsInformational(t *testing.T) {
	raw := "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n"
	pr := getPacketReader(bytes.NewReader([]byte(raw)))
	defer putPacketReader(pr)

	proto, status, reason, header, err := readResponseHead(pr)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1", proto)
	assert.Equal(t, 200, status)
	assert.Equal(t, "OK", reason)
	assert.Equal(t, "2", header.Get("Content-Length"))
}

func TestParseHeaderBlockMalformedLine(t *testing.T) {
	pr := getPacketReader(bytes.NewReader([]byte("not-a-header\r\n\r\n")))
	defer putPacketReader(pr)
	_, err := parseHeaderBlock(pr)
	assert.Error(t, err)
}
