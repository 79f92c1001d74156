package client

import "time"

// fakeSocket is a minimal in-memory Socket used to unit test pool and stats
// bookkeeping without real network I/O.
type fakeSocket struct {
	closed bool
}

func (s *fakeSocket) Send(b []byte) (int, error) { return len(b), nil }
func (s *fakeSocket) Recv(b []byte) (int, error) { return 0, nil }

func (s *fakeSocket) SetDeadline(t time.Time) error     { return nil }
func (s *fakeSocket) SetReadDeadline(t time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSocket) LocalClosed() bool { return s.closed }
