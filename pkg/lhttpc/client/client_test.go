package client

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientGet(t *testing.T) {
	srv := newRawServer(t)
	defer srv.close()
	go srv.serveSequence(t, []string{plainOKResponse}, []bool{false})

	host, port := srv.addr()
	dest := Destination{Host: host, Port: port}

	c := NewClient(ClientConfig{StatsEnabled: true})
	defer c.Close()

	resp, err := c.Get(context.Background(), dest, "/")
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.NoError(t, resp.Body.Close())
}

func TestClientPost(t *testing.T) {
	srv := newRawServer(t)
	defer srv.close()

	accepted := make(chan string, 1)
	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		b, _ := io.ReadAll(req.Body)
		accepted <- string(b)
		conn.Write([]byte(plainOKResponse))
	}()

	host, port := srv.addr()
	dest := Destination{Host: host, Port: port}

	c := NewClient(ClientConfig{})
	defer c.Close()

	payload := "hello=world"
	resp, err := c.Post(context.Background(), dest, "/submit", "application/x-www-form-urlencoded", strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	select {
	case got := <-accepted:
		require.Equal(t, payload, got)
	default:
		t.Fatal("server never received the request body")
	}
}

// TestClientDoHonorsPerRequestPoolConfig checks that Options.PoolConfig on
// the first request against a destination establishes that destination's
// pool config, rather than always falling back to ClientConfig.PoolConfig.
func TestClientDoHonorsPerRequestPoolConfig(t *testing.T) {
	srv := newRawServer(t)
	defer srv.close()

	release := make(chan struct{})
	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		if _, err := http.ReadRequest(br); err != nil {
			return
		}
		<-release
		conn.Write([]byte(plainOKResponse))
	}()

	host, port := srv.addr()
	dest := Destination{Host: host, Port: port}

	c := NewClient(ClientConfig{})
	defer c.Close()

	cfg := PoolConfig{MaxConnections: 1}
	first := c.Do(context.Background(), dest, NewRequest(http.MethodGet, "/"), &Options{PoolConfig: &cfg})

	require.Eventually(t, func() bool {
		active, _, ok := c.ConnectionCount(dest)
		return ok && active == 1
	}, time.Second, time.Millisecond)

	second := c.Do(context.Background(), dest, NewRequest(http.MethodGet, "/"), nil)
	_, err := second.Response(context.Background())
	require.ErrorIs(t, err, ErrRetryLater)

	close(release)
	resp, err := first.Response(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}
