package client

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

// SocketOption configures a dialed socket before it is handed to the state
// machine: the minimal concrete shape that lets a caller tune dial
// behavior (timeouts, local address, keep-alive) via net.Dialer.
type SocketOption func(*net.Dialer)

// Socket is the transport abstraction the request state machine drives. It
// unifies plaintext and TLS transport behind connect/send/recv/close.
type Socket interface {
	Send(b []byte) (int, error)
	Recv(b []byte) (int, error)
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
	// LocalClosed reports whether Close was already called locally. The
	// pool does not consult it: the close kind it records comes from the
	// disposition passed to Checkin.
	LocalClosed() bool
}

// netSocket is the concrete Socket backed by a net.Conn (plaintext or TLS).
type netSocket struct {
	conn   net.Conn
	closed bool
}

func dialSocket(ctx context.Context, dest Destination, timeout time.Duration, tlsConf *tls.Config, opts []SocketOption) (Socket, error) {
	dialer := &net.Dialer{Timeout: timeout}
	for _, opt := range opts {
		opt(dialer)
	}

	addr := net.JoinHostPort(dest.Host, strconv.Itoa(dest.Port))

	var conn net.Conn
	var err error
	if dest.TLS {
		d := tls.Dialer{NetDialer: dialer, Config: tlsConf}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	return &netSocket{conn: conn}, nil
}

func (s *netSocket) Send(b []byte) (int, error) { return s.conn.Write(b) }
func (s *netSocket) Recv(b []byte) (int, error) { return s.conn.Read(b) }

func (s *netSocket) SetDeadline(t time.Time) error     { return s.conn.SetDeadline(t) }
func (s *netSocket) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

func (s *netSocket) Close() error {
	s.closed = true
	return s.conn.Close()
}

func (s *netSocket) LocalClosed() bool { return s.closed }

// socketReader adapts a Socket to io.Reader for packetReader.
type socketReader struct{ s Socket }

func (r socketReader) Read(p []byte) (int, error) { return r.s.Recv(p) }
