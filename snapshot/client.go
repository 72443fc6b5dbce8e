// Package snapshot reconciles a state cache against a remote snapshot
// indexer: epoch check, table deltas, removals and chunked values.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	apiv1 "github.com/INLOpen/worldsync/api/v1"
	"github.com/INLOpen/worldsync/core"
)

// Client owns the connection to a snapshot service.
type Client struct {
	conn *grpc.ClientConn
	api  apiv1.SnapshotServiceClient
}

// Dial connects to the snapshot service at target. Extra options are
// appended after the defaults.
func Dial(target string, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, apiv1.DialOptions()...)
	dialOpts = append(dialOpts, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to snapshot service at %s: %w", target, err)
	}
	if logger != nil {
		logger.Info("Snapshot service client created", "component", "SnapshotClient", "target", target)
	}
	return &Client{conn: conn, api: apiv1.NewSnapshotServiceClient(conn)}, nil
}

func (c *Client) API() apiv1.SnapshotServiceClient { return c.api }

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsRateLimited reports whether err means the remote asked us to slow down.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrRateLimited) {
		return true
	}
	var httpErr interface{ StatusCode() int }
	if errors.As(err, &httpErr) && httpErr.StatusCode() == http.StatusTooManyRequests {
		return true
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
		return true
	}
	return false
}

// Code returns the gRPC status code carried by err, or codes.Unknown.
func Code(err error) codes.Code {
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}
