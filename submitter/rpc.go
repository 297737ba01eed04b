package submitter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
)

// Receipt is the subset of an eth_getTransactionReceipt result the
// monitor loop needs, per spec §4.8.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Status      uint64 // 1 success, 0 reverted
	GasUsed     uint64
}

// CallMsg is the argument to eth_call/eth_estimateGas.
type CallMsg struct {
	From string
	To   string
	Data []byte
}

// RPCClient is the JSON-RPC surface the submitter needs, per spec §6's RPC
// egress list. Production code has exactly one implementation
// (httpRPCClient, below); a simulated implementation exists only in tests,
// collapsing the source's "two sibling blockchain implementations" into a
// single interface per spec §9.
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	GasPrice(ctx context.Context) (uint64, error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (txHash string, err error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, bool, error)
	Call(ctx context.Context, msg CallMsg) ([]byte, error)
	Code(ctx context.Context, address string) ([]byte, error)
}

// httpRPCClient is a thin JSON-RPC 2.0 client over valyala/fasthttp, the
// same low-allocation transport the retry engine uses for HTTP egress.
type httpRPCClient struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration
	nextID  int64
}

// NewHTTPRPCClient builds an RPCClient against the given JSON-RPC endpoint.
func NewHTTPRPCClient(url string, timeout time.Duration) RPCClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpRPCClient{
		url:     url,
		client:  &fasthttp.Client{MaxConnsPerHost: 64},
		timeout: timeout,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func (c *httpRPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", method, "", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(reqBody)

	deadline, ok := ctx.Deadline()
	timeout := c.timeout
	if ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", method, "", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", method, "", err)
	}
	if rpcResp.Error != nil {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", method, "", rpcResp.Error)
	}
	return rpcResp.Result, nil
}

func (c *httpRPCClient) callHexUint(ctx context.Context, method string, params ...interface{}) (uint64, error) {
	raw, err := c.call(ctx, method, params...)
	if err != nil {
		return 0, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return 0, errs.New(errs.KindRpcUnavailable, "submitter", method, "", err)
	}
	return parseHexUint(hexStr)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

func (c *httpRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.callHexUint(ctx, "eth_blockNumber")
}

func (c *httpRPCClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	raw, err := c.call(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", "eth_getBalance", address, err)
	}
	val, ok := new(big.Int).SetString(strings.TrimPrefix(hexStr, "0x"), 16)
	if !ok {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", "eth_getBalance", address, fmt.Errorf("malformed balance %q", hexStr))
	}
	return val, nil
}

func (c *httpRPCClient) GasPrice(ctx context.Context) (uint64, error) {
	return c.callHexUint(ctx, "eth_gasPrice")
}

func (c *httpRPCClient) TransactionCount(ctx context.Context, address string) (uint64, error) {
	return c.callHexUint(ctx, "eth_getTransactionCount", address, "latest")
}

func (c *httpRPCClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return c.callHexUint(ctx, "eth_estimateGas", callMsgJSON(msg))
}

func (c *httpRPCClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	result, err := c.call(ctx, "eth_sendRawTransaction", "0x"+hexEncode(raw))
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", errs.New(errs.KindRpcUnavailable, "submitter", "eth_sendRawTransaction", "", err)
	}
	return txHash, nil
}

func (c *httpRPCClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, bool, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, false, err
	}
	if string(raw) == "null" || len(raw) == 0 {
		return nil, false, nil
	}
	var wire struct {
		BlockNumber string `json:"blockNumber"`
		Status      string `json:"status"`
		GasUsed     string `json:"gasUsed"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false, errs.New(errs.KindRpcUnavailable, "submitter", "eth_getTransactionReceipt", txHash, err)
	}
	blockNumber, err := parseHexUint(wire.BlockNumber)
	if err != nil {
		return nil, false, err
	}
	status, err := parseHexUint(wire.Status)
	if err != nil {
		return nil, false, err
	}
	gasUsed, err := parseHexUint(wire.GasUsed)
	if err != nil {
		return nil, false, err
	}
	return &Receipt{TxHash: txHash, BlockNumber: blockNumber, Status: status, GasUsed: gasUsed}, true, nil
}

func (c *httpRPCClient) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	raw, err := c.call(ctx, "eth_call", callMsgJSON(msg), "latest")
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", "eth_call", "", err)
	}
	return hexDecode(strings.TrimPrefix(hexStr, "0x"))
}

func (c *httpRPCClient) Code(ctx context.Context, address string) ([]byte, error) {
	raw, err := c.call(ctx, "eth_getCode", address, "latest")
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, errs.New(errs.KindRpcUnavailable, "submitter", "eth_getCode", address, err)
	}
	return hexDecode(strings.TrimPrefix(hexStr, "0x"))
}

func callMsgJSON(msg CallMsg) map[string]string {
	out := map[string]string{}
	if msg.From != "" {
		out["from"] = msg.From
	}
	if msg.To != "" {
		out["to"] = msg.To
	}
	out["data"] = "0x" + hexEncode(msg.Data)
	return out
}

// transactionEnvelope is the self-contained signed-transaction wire format
// this module sends in place of an RLP-encoded Ethereum transaction (see
// Submitter.signTransaction for why). It round-trips through JSON the same
// way every other on-disk/over-the-wire structure in this module does.
type transactionEnvelope struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Nonce    uint64 `json:"nonce"`
	GasPrice uint64 `json:"gas_price"`
	GasLimit uint64 `json:"gas_limit"`
	Data     string `json:"data"`
	Sig      string `json:"sig"`
}

func (e transactionEnvelope) encode() []byte {
	raw, _ := json.Marshal(e)
	return raw
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
