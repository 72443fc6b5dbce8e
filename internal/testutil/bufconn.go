package testutil

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	apiv1 "github.com/INLOpen/worldsync/api/v1"
)

// NewBufconnListener returns a new bufconn.Listener with a sensible default buffer size.
func NewBufconnListener(bufferSize int) *bufconn.Listener {
	if bufferSize <= 0 {
		bufferSize = 1024 * 1024
	}
	return bufconn.Listen(bufferSize)
}

// BufconnDialOptions returns a slice of grpc.DialOption configured to use the provided
// bufconn listener. Callers can append additional DialOptions as needed.
func BufconnDialOptions(lis *bufconn.Listener) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

// ServeBufconn starts a gRPC server on an in-memory listener, lets register
// attach services to it, and returns a client connection speaking the JSON
// codec. Both are torn down with the test.
func ServeBufconn(t testing.TB, register func(s *grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := NewBufconnListener(0)
	srv := grpc.NewServer()
	register(srv)
	go func() { _ = srv.Serve(lis) }()

	opts := append(BufconnDialOptions(lis), apiv1.DialOptions()...)
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		lis.Close()
	})
	return conn
}
