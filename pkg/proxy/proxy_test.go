package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoBackend accepts one connection, copies whatever it reads back to
// the caller, and reports its listen address.
func echoBackend(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestProxySplicesHTTPConnection(t *testing.T) {
	backendAddr := echoBackend(t)

	router := NewRouter()
	router.AddRoute("api.formation", Backend{Domain: "api.formation", Addresses: []string{backendAddr}})

	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.TLSAddr = "127.0.0.1:0"
	p := New(cfg, router)

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p.httpListener = httpLn

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.acceptLoop(ctx, httpLn, p.handleHTTPConnection)

	client, err := net.Dial("tcp", httpLn.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	request := "GET / HTTP/1.1\r\nHost: api.formation\r\n\r\n"
	_, err = client.Write([]byte(request))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(request))
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, request, string(buf))
}

func TestProxyNoBackendClosesConnection(t *testing.T) {
	router := NewRouter()
	cfg := DefaultConfig()
	p := New(cfg, router)

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p.httpListener = httpLn

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.acceptLoop(ctx, httpLn, p.handleHTTPConnection)

	client, err := net.Dial("tcp", httpLn.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("GET / HTTP/1.1\r\nHost: unrouted.formation\r\n\r\n"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = client.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}
