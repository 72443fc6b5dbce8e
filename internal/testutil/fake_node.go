package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/INLOpen/worldsync/chain"
)

type rpcRequest struct {
	ID     uint64           `json:"id"`
	Method string           `json:"method"`
	Params []chainLogFilter `json:"params"`
}

type chainLogFilter struct {
	FromBlock string `json:"fromBlock"`
	ToBlock   string `json:"toBlock"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *chain.RPCError `json:"error,omitempty"`
}

// FakeNode is an EVM JSON-RPC node holding component logs in memory. It
// answers eth_chainId, eth_blockNumber and eth_getLogs over HTTP and
// newHeads subscriptions over websocket at /ws.
type FakeNode struct {
	mu       sync.Mutex
	chainID  uint64
	head     uint64
	logs     []chain.Log
	nextIdx  map[uint64]uint64
	status   int
	getLogs  [][2]uint64
	failLogs int
	heads    []chan uint64

	Server *httptest.Server
}

// NewFakeNode starts a node serving chainID until the test ends.
func NewFakeNode(t testing.TB, chainID uint64) *FakeNode {
	t.Helper()
	n := &FakeNode{chainID: chainID, nextIdx: make(map[uint64]uint64)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", n.serveRPC)
	mux.HandleFunc("/ws", n.serveWS)
	n.Server = httptest.NewServer(mux)
	t.Cleanup(n.Server.Close)
	return n
}

func (n *FakeNode) URL() string { return n.Server.URL }

func (n *FakeNode) WSURL() string { return "ws" + strings.TrimPrefix(n.Server.URL, "http") + "/ws" }

// SetStatus makes every HTTP call fail with code; zero restores normal replies.
func (n *FakeNode) SetStatus(code int) {
	n.mu.Lock()
	n.status = code
	n.mu.Unlock()
}

// FailGetLogs makes the next count eth_getLogs calls return an RPC error.
func (n *FakeNode) FailGetLogs(count int) {
	n.mu.Lock()
	n.failLogs = count
	n.mu.Unlock()
}

// GetLogsCalls lists the [from, to] ranges requested so far.
func (n *FakeNode) GetLogsCalls() [][2]uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][2]uint64(nil), n.getLogs...)
}

func (n *FakeNode) appendLog(block uint64, topic0, component, entity, data string) {
	idx := n.nextIdx[block]
	n.nextIdx[block] = idx + 1
	n.logs = append(n.logs, chain.Log{
		Topics:      []string{topic0, chain.Word(component), chain.Word("0x01"), chain.Word(entity)},
		Data:        data,
		BlockNumber: "0x" + strconv.FormatUint(block, 16),
		LogIndex:    "0x" + strconv.FormatUint(idx, 16),
	})
	n.head = max(n.head, block)
}

// SetValue records a ComponentValueSet log at block.
func (n *FakeNode) SetValue(block uint64, component, entity string, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.appendLog(block, chain.ValueSetTopic, component, entity, chain.EncodeValueSetData(value))
}

// RemoveValue records a ComponentValueRemoved log at block.
func (n *FakeNode) RemoveValue(block uint64, component, entity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.appendLog(block, chain.ValueRemovedTopic, component, entity, "0x")
}

// Mine advances the head and notifies websocket subscribers.
func (n *FakeNode) Mine(block uint64) {
	n.mu.Lock()
	n.head = max(n.head, block)
	subs := append([]chan uint64(nil), n.heads...)
	n.mu.Unlock()
	for _, c := range subs {
		select {
		case c <- block:
		default:
		}
	}
}

func (n *FakeNode) Head() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head
}

func (n *FakeNode) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status != 0 {
		http.Error(w, http.StatusText(n.status), n.status)
		return
	}
	var req rpcRequest
	if err := sonnet.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_chainId":
		resp.Result = "0x" + strconv.FormatUint(n.chainID, 16)
	case "eth_blockNumber":
		resp.Result = "0x" + strconv.FormatUint(n.head, 16)
	case "eth_getLogs":
		if n.failLogs > 0 {
			n.failLogs--
			resp.Error = &chain.RPCError{Code: -32000, Message: "backend unavailable"}
			break
		}
		from, _ := chain.ParseQuantity(req.Params[0].FromBlock)
		to, _ := chain.ParseQuantity(req.Params[0].ToBlock)
		n.getLogs = append(n.getLogs, [2]uint64{from, to})
		out := []chain.Log{}
		for _, l := range n.logs {
			b, _ := chain.ParseQuantity(l.BlockNumber)
			if b >= from && b <= to {
				out = append(out, l)
			}
		}
		resp.Result = out
	default:
		resp.Error = &chain.RPCError{Code: -32601, Message: "method not found"}
	}
	data, _ := sonnet.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

var upgrader = websocket.Upgrader{}

func (n *FakeNode) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if _, _, err := conn.ReadMessage(); err != nil {
		return
	}
	const subID = "0xsub"
	if err := conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": subID}); err != nil {
		return
	}

	c := make(chan uint64, 16)
	n.mu.Lock()
	n.heads = append(n.heads, c)
	n.mu.Unlock()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case <-closed:
			return
		case b := <-c:
			msg := map[string]any{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params": map[string]any{
					"subscription": subID,
					"result":       map[string]any{"number": "0x" + strconv.FormatUint(b, 16)},
				},
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
