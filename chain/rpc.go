// Package chain talks JSON-RPC to an EVM node: chain id checks, component
// log queries for historical ranges, and new-head notifications.
package chain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sugawarayuuta/sonnet"

	"github.com/INLOpen/worldsync/core"
)

// HTTPError is a non-200 reply from the node.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string   { return fmt.Sprintf("rpc http status %d: %s", e.Status, e.Body) }
func (e *HTTPError) StatusCode() int { return e.Status }

// Is makes a 429 reply match core.ErrRateLimited.
func (e *HTTPError) Is(target error) bool {
	return target == core.ErrRateLimited && e.Status == http.StatusTooManyRequests
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response[T any] struct {
	ID     uint64    `json:"id"`
	Result T         `json:"result"`
	Error  *RPCError `json:"error"`
}

// Client is a minimal JSON-RPC client over HTTP.
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Uint64
	logger *slog.Logger
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
		Proxy:                 http.ProxyFromEnvironment,
	}
}

// NewClient creates a client for the node at url. A nil httpClient gets a
// pooled transport with a 60s timeout.
func NewClient(url string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second, Transport: newTransport()}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{url: url, http: httpClient, logger: logger.With("component", "ChainClient")}
}

func call[T any](ctx context.Context, c *Client, method string, params ...any) (T, error) {
	var zero T
	if params == nil {
		params = []any{}
	}
	body, err := sonnet.Marshal(request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("%s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("%s: %w", method, &HTTPError{Status: resp.StatusCode, Body: truncate(string(data), 256)})
	}

	var out response[T]
	if err := sonnet.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if out.Error != nil {
		return zero, fmt.Errorf("%s: %w", method, out.Error)
	}
	return out.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ParseQuantity decodes a 0x-prefixed hex quantity.
func ParseQuantity(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q lacks 0x prefix", s)
	}
	if len(s) == 2 {
		return 0, fmt.Errorf("empty quantity")
	}
	return strconv.ParseUint(s[2:], 16, 64)
}

func quantity(n uint64) string { return "0x" + strconv.FormatUint(n, 16) }

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	s, err := call[string](ctx, c, "eth_chainId")
	if err != nil {
		return 0, err
	}
	return ParseQuantity(s)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	s, err := call[string](ctx, c, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	return ParseQuantity(s)
}

// LogFilter selects logs by emitter, block range and topic0 alternatives.
type LogFilter struct {
	Address   string
	FromBlock uint64
	ToBlock   uint64
	Topics    []string
}

type logFilterJSON struct {
	Address   string     `json:"address,omitempty"`
	FromBlock string     `json:"fromBlock"`
	ToBlock   string     `json:"toBlock"`
	Topics    [][]string `json:"topics,omitempty"`
}

// Log is an eth_getLogs entry.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

func (c *Client) GetLogs(ctx context.Context, f LogFilter) ([]Log, error) {
	arg := logFilterJSON{
		Address:   f.Address,
		FromBlock: quantity(f.FromBlock),
		ToBlock:   quantity(f.ToBlock),
	}
	if len(f.Topics) > 0 {
		arg.Topics = [][]string{f.Topics}
	}
	return call[[]Log](ctx, c, "eth_getLogs", arg)
}

// Connect checks that the node serves chainID, retrying with exponential
// backoff. A chain id mismatch is not retried.
func (c *Client) Connect(ctx context.Context, chainID uint64, maxTries uint) error {
	if maxTries == 0 {
		maxTries = 5
	}
	op := func() (uint64, error) {
		got, err := c.ChainID(ctx)
		if err != nil {
			return 0, err
		}
		if chainID != 0 && got != chainID {
			return 0, backoff.Permanent(fmt.Errorf("%w: node reports %d, configured %d", core.ErrChainIDMismatch, got, chainID))
		}
		return got, nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Chain connection failed, retrying...", "error", err, "backoff", wait)
	}
	got, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return fmt.Errorf("connect to chain at %s: %w", c.url, err)
	}
	c.logger.Info("Connected to chain", "url", c.url, "chain_id", got)
	return nil
}
