package testutil

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// PipeListener accepts net.Pipe connections created by DialContext, so an
// HTTP server and its websocket clients can run without a port.
type PipeListener struct {
	accept chan net.Conn
	done   chan struct{}
	once   sync.Once
}

func NewPipeListener() *PipeListener {
	return &PipeListener{accept: make(chan net.Conn), done: make(chan struct{})}
}

func (l *PipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *PipeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *PipeListener) Addr() net.Addr { return &net.UnixAddr{Name: "pipe", Net: "pipe"} }

// DialContext matches websocket.Dialer.NetDialContext. It blocks until the
// server accepts the connection.
func (l *PipeListener) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case l.accept <- server:
		return client, nil
	case <-l.done:
		server.Close()
		client.Close()
		return nil, net.ErrClosed
	case <-ctx.Done():
		server.Close()
		client.Close()
		return nil, ctx.Err()
	}
}

// ServeWebsocket serves h over a PipeListener until the test ends and
// returns a dialer that reaches it under any ws://pipe/ URL.
func ServeWebsocket(t testing.TB, h http.Handler) *websocket.Dialer {
	t.Helper()
	lis := NewPipeListener()
	srv := httptest.NewUnstartedServer(h)
	srv.Listener.Close()
	srv.Listener = lis
	srv.Start()
	t.Cleanup(srv.Close)
	return &websocket.Dialer{NetDialContext: lis.DialContext, HandshakeTimeout: 5 * time.Second}
}
