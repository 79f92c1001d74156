package client

import (
	"crypto/tls"
	"time"
)

// PoolConfig is per-destination configuration. It is established on the
// first checkout for a destination and is then immutable for the pool's
// lifetime — later checkouts against the same destination ignore whatever
// config they're given and use the one the pool was created with.
type PoolConfig struct {
	// MaxConnections caps concurrent sockets (idle + checked out) for the
	// destination.
	MaxConnections int
	// ConnectionTimeout is the max idle time before an idle connection is
	// closed locally. Zero means no idle timeout.
	ConnectionTimeout time.Duration
	// RequestLimit is the max number of successful requests a single
	// connection may serve before being retired. Zero means unlimited.
	RequestLimit int
	// ConnectionLifetime is the max wall-clock age of a connection before
	// retirement. Zero means unlimited.
	ConnectionLifetime time.Duration
}

// DefaultPoolConfig returns sensible defaults for a per-destination pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:     10,
		ConnectionTimeout:  0,
		RequestLimit:       0,
		ConnectionLifetime: 0,
	}
}

// Options are the per-request options recognized by Client.Do.
type Options struct {
	// ConnectTimeout bounds the TCP/TLS connect. Zero means no deadline.
	ConnectTimeout time.Duration
	// ConnectOptions are extra socket options passed to the transport.
	ConnectOptions []SocketOption
	// Timeout sets one socket deadline, armed when an attempt starts on a
	// connection; every later send and recv of the exchange, body reads
	// included, must finish before it. Zero means no deadline. A timeout
	// during send or head read is never retried — the connection is torn
	// down and reported via close_connection_timeout bookkeeping, since the
	// request may already have had side effects on the peer. A timeout
	// while reading the body closes the connection locally.
	Timeout time.Duration
	// SendRetry adds additional attempts on send-closed, on top of the
	// baseline computed from whether a connection was reused.
	SendRetry int
	// PartialUpload enables streaming upload when non-nil.
	PartialUpload *UploadOptions
	// PartialDownload enables streaming download when non-nil.
	PartialDownload *DownloadOptions
	// TLSConfig is used when the destination requires TLS. A nil value
	// uses a zero-value tls.Config (stdlib default verification).
	TLSConfig *tls.Config
	// PoolConfig establishes the destination's pool config if this is the
	// first request to reach that destination. Later requests against an
	// already-created pool have their PoolConfig ignored, per PoolConfig's
	// own immutable-after-creation rule. nil uses the Client's default.
	PoolConfig *PoolConfig
}

// UploadOptions configures partial (streamed) upload.
type UploadOptions struct {
	// Window is the initial upload credit, in number of buffered parts.
	Window int
}

// DownloadOptions configures partial (streamed) download.
type DownloadOptions struct {
	// WindowSize bounds the number of un-acked parts in flight. Zero
	// means unbounded.
	WindowSize int
	// PartSize caps the size of each body-part delivered to the caller.
	// Zero means a sensible default (DefaultBufferSize).
	PartSize int
}

func (o *DownloadOptions) partSize() int {
	if o == nil || o.PartSize <= 0 {
		return DefaultBufferSize
	}
	return o.PartSize
}
