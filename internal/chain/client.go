package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client provides read-only JSON-RPC access to one EVM network.
type Client struct {
	network    Network
	rpcURL     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	Network    Network
	RPCURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient creates a new EVM RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if _, err := ParseNetwork(string(cfg.Network)); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		network:    cfg.Network,
		rpcURL:     cfg.RPCURL,
		httpClient: httpClient,
	}, nil
}

// Network returns the network this client talks to.
func (c *Client) Network() Network {
	return c.network
}

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRevert reports whether an error is a contract revert or a call to a
// function the contract does not implement. Both surface as execution
// errors from the node and are recoverable for the caller.
func IsRevert(err error) bool {
	var rpcErr *RPCError
	if !asRPCError(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return rpcErr.Code == 3 ||
		strings.Contains(msg, "revert") ||
		strings.Contains(msg, "out of gas") ||
		strings.Contains(msg, "invalid opcode")
}

func asRPCError(err error, target **RPCError) bool {
	for err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			*target = rpcErr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Call makes a JSON-RPC call to the node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// CallContract performs an eth_call against the latest block and returns
// the raw return data.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callObj := map[string]string{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}

	result, err := c.Call(ctx, "eth_call", []interface{}{callObj, "latest"})
	if err != nil {
		return nil, err
	}

	var hexResult string
	if err := json.Unmarshal(result, &hexResult); err != nil {
		return nil, fmt.Errorf("unmarshal call result: %w", err)
	}

	return hexutil.Decode(hexResult)
}

// GetCode returns the bytecode at an address. An empty result means the
// address is not a contract.
func (c *Client) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	result, err := c.Call(ctx, "eth_getCode", []interface{}{addr.Hex(), "latest"})
	if err != nil {
		return nil, err
	}

	var hexCode string
	if err := json.Unmarshal(result, &hexCode); err != nil {
		return nil, fmt.Errorf("unmarshal code: %w", err)
	}

	return hexutil.Decode(hexCode)
}

// BlockNumber returns the current block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}

	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, fmt.Errorf("unmarshal block number: %w", err)
	}

	n, ok := new(big.Int).SetString(strings.TrimPrefix(hexNum, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid block number: %s", hexNum)
	}
	return n.Uint64(), nil
}

// TransactionReceipt returns the receipt for a transaction hash, decoded
// to the fields the ownership resolver needs.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("receipt not found: %s", txHash)
	}

	var receipt Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return &receipt, nil
}

// Receipt is the subset of a transaction receipt used here.
type Receipt struct {
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Status          string `json:"status"`
}
