// Package rpcclient implements the Starknet JSON-RPC client (spec §4.8,
// §6): starknet_call, starknet_chainId, starknet_getClassHashAt,
// starknet_getTransactionReceipt, plus account execute submission.
// Request IDs are fixed at 1 — this client never multiplexes concurrent
// in-flight calls over one connection.
//
// Grounded on the teacher's http/client.go and http/transport.go: a
// functional-options HTTP client wrapping a configurable
// http.RoundTripper, generalized from x402's payment-facilitator calls
// to Starknet's JSON-RPC v2 envelope.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/signer"
)

// DefaultTimeout and ReadTimeout are the call-level timeouts spec §4.8
// mandates: "default 15s, reads use 10s".
const (
	DefaultTimeout = 15 * time.Second
	ReadTimeout    = 10 * time.Second
)

// fixedRequestID is used for every request; this client never
// multiplexes concurrent in-flight calls.
const fixedRequestID = 1

// Client is a single-method Starknet JSON-RPC v2 client over POST.
type Client struct {
	url        string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a Client against the given JSON-RPC endpoint URL.
func New(url string, opts ...Option) *Client {
	c := &Client{url: url, httpClient: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, timeout time.Duration, method string, params any) (json.RawMessage, error) {
	result, rpcErr, err := c.doCall(ctx, timeout, method, params)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, coreerr.New(coreerr.CodeRPCError,
			fmt.Sprintf("%s: %s (code %d)", method, rpcErr.Message, rpcErr.Code), nil)
	}
	return result, nil
}

// doCall performs the JSON-RPC round trip, surfacing an RPC-level error
// object (as opposed to a transport failure) to the caller uninterpreted
// so methods like ClassDeclared can branch on its numeric code.
func (c *Client) doCall(ctx context.Context, timeout time.Duration, method string, params any) (json.RawMessage, *rpcError, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: fixedRequestID, Method: method, Params: params})
	if err != nil {
		return nil, nil, coreerr.New(coreerr.CodeInternal, "failed to marshal RPC request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, coreerr.New(coreerr.CodeInternal, "failed to construct RPC request", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, coreerr.New(coreerr.CodeTransportTimeout, fmt.Sprintf("%s timed out", method), err)
		}
		return nil, nil, coreerr.New(coreerr.CodeTransportError, fmt.Sprintf("%s transport failure", method), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, coreerr.New(coreerr.CodeTransportError, "failed to read RPC response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := raw
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, nil, coreerr.New(coreerr.CodeRPCError,
			fmt.Sprintf("%s: HTTP %d: %s", method, resp.StatusCode, string(snippet)), nil)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, coreerr.New(coreerr.CodeRPCError, fmt.Sprintf("%s: invalid JSON-RPC response", method), err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error, nil
	}
	return parsed.Result, nil, nil
}

// ChainID calls starknet_chainId.
func (c *Client) ChainID(ctx context.Context) (felt.Felt, error) {
	result, err := c.call(ctx, ReadTimeout, "starknet_chainId", []any{})
	if err != nil {
		return felt.Felt{}, err
	}
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return felt.Felt{}, coreerr.New(coreerr.CodeRPCError, "malformed chainId result", err)
	}
	return felt.FromHex(hex)
}

// FunctionCallParams is the positional params shape starknet_call expects.
type functionCallParams struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// Call invokes a read-only contract view function via starknet_call,
// returning the raw felt result array.
func (c *Client) Call(ctx context.Context, contractAddress felt.Felt, entrypointSelector felt.Felt, calldata []felt.Felt) ([]felt.Felt, error) {
	params := []any{
		functionCallParams{
			ContractAddress:    contractAddress.Hex(),
			EntryPointSelector: entrypointSelector.Hex(),
			Calldata:           feltsToHex(calldata),
		},
		"latest",
	}
	result, err := c.call(ctx, ReadTimeout, "starknet_call", params)
	if err != nil {
		return nil, err
	}
	var hexResults []string
	if err := json.Unmarshal(result, &hexResults); err != nil {
		return nil, coreerr.New(coreerr.CodeRPCError, "malformed starknet_call result", err)
	}
	return hexSliceToFelts(hexResults)
}

// GetClassHashAt calls starknet_getClassHashAt for the given contract
// address at the "latest" block.
func (c *Client) GetClassHashAt(ctx context.Context, contractAddress felt.Felt) (felt.Felt, error) {
	result, err := c.call(ctx, ReadTimeout, "starknet_getClassHashAt", []any{"latest", contractAddress.Hex()})
	if err != nil {
		return felt.Felt{}, err
	}
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return felt.Felt{}, coreerr.New(coreerr.CodeRPCError, "malformed class hash result", err)
	}
	return felt.FromHex(hex)
}

// ExecutionStatus is the outcome classification the status poller reads
// off starknet_getTransactionReceipt, per spec §4.8's mapping table.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionReverted  ExecutionStatus = "reverted"
	ExecutionPending   ExecutionStatus = "pending"
)

// Receipt is the subset of a transaction receipt the poller consults.
type Receipt struct {
	Status       ExecutionStatus
	RevertReason string
}

type rawReceipt struct {
	ExecutionStatus string `json:"execution_status"`
	FinalityStatus  string `json:"finality_status"`
	RevertReason    string `json:"revert_reason"`
}

// GetTransactionReceipt calls starknet_getTransactionReceipt and maps
// the result per spec §4.8: REVERTED/FAILED -> reverted (with reason),
// SUCCEEDED or any accepted finality -> succeeded, not-found/pending ->
// pending.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash felt.Felt) (Receipt, error) {
	result, err := c.call(ctx, ReadTimeout, "starknet_getTransactionReceipt", []any{txHash.Hex()})
	if err != nil {
		return Receipt{}, err
	}
	var raw rawReceipt
	if err := json.Unmarshal(result, &raw); err != nil {
		return Receipt{}, coreerr.New(coreerr.CodeRPCError, "malformed transaction receipt", err)
	}
	switch raw.ExecutionStatus {
	case "REVERTED", "FAILED":
		return Receipt{Status: ExecutionReverted, RevertReason: raw.RevertReason}, nil
	case "SUCCEEDED":
		return Receipt{Status: ExecutionSucceeded}, nil
	}
	if raw.FinalityStatus == "ACCEPTED_ON_L2" || raw.FinalityStatus == "ACCEPTED_ON_L1" {
		return Receipt{Status: ExecutionSucceeded}, nil
	}
	return Receipt{Status: ExecutionPending}, nil
}

// InvokeCall is one call within an __execute__ multicall.
type InvokeCall struct {
	ContractAddress felt.Felt
	Entrypoint      felt.Felt // entrypoint selector, not the human-readable name
	Calldata        []felt.Felt
}

type invokeParams struct {
	SenderAddress string   `json:"sender_address"`
	Calldata      []string `json:"calldata"`
	Signature     []string `json:"signature"`
	Nonce         string   `json:"nonce"`
	MaxFee        string   `json:"max_fee"`
}

// Execute submits a signed invoke transaction (account __execute__) and
// returns the resulting transaction hash. maxFee is a base-unit felt;
// callers that want fee estimation first must obtain it out of band (not
// part of this spec's scope).
func (c *Client) Execute(ctx context.Context, accountAddress felt.Felt, calls []InvokeCall, sig signer.Signature, nonce felt.Felt, maxFee felt.Felt) (felt.Felt, error) {
	calldata := encodeMulticall(calls)
	params := []any{
		invokeParams{
			SenderAddress: accountAddress.Hex(),
			Calldata:      feltsToHex(calldata),
			Signature:     signatureToHex(sig),
			Nonce:         nonce.Hex(),
			MaxFee:        maxFee.Hex(),
		},
	}
	result, err := c.call(ctx, DefaultTimeout, "starknet_addInvokeTransaction", params)
	if err != nil {
		return felt.Felt{}, err
	}
	var decoded struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return felt.Felt{}, coreerr.New(coreerr.CodeRPCError, "malformed invoke transaction response", err)
	}
	return felt.FromHex(decoded.TransactionHash)
}

// classHashNotFoundCode is the Starknet JSON-RPC error code for "Class
// hash not found" (starknet_getClass / starknet_getClassHashAt), used to
// distinguish "not declared yet" from a genuine transport or node fault.
const classHashNotFoundCode = 28

// ClassDeclared reports whether classHash is already declared on the
// network, by calling starknet_getClass and treating error code 28
// ("Class hash not found") as false rather than an error. Any other RPC
// or transport failure is returned as an error so declaration tooling
// never mistakes a degraded node for "not yet declared".
func (c *Client) ClassDeclared(ctx context.Context, classHash felt.Felt) (bool, error) {
	_, rpcErr, err := c.doCall(ctx, ReadTimeout, "starknet_getClass", []any{"latest", classHash.Hex()})
	if err != nil {
		return false, err
	}
	if rpcErr == nil {
		return true, nil
	}
	if rpcErr.Code == classHashNotFoundCode {
		return false, nil
	}
	return false, coreerr.New(coreerr.CodeRPCError,
		fmt.Sprintf("starknet_getClass: %s (code %d)", rpcErr.Message, rpcErr.Code), nil)
}

type declareParams struct {
	ContractClass     json.RawMessage `json:"contract_class"`
	CompiledClassHash string          `json:"compiled_class_hash"`
	SenderAddress     string          `json:"sender_address"`
	Signature         []string        `json:"signature"`
	Nonce             string          `json:"nonce"`
	MaxFee            string          `json:"max_fee"`
	Version           string          `json:"version"`
	Type              string          `json:"type"`
}

// DeclareResult is the outcome of a successful starknet_addDeclareTransaction.
type DeclareResult struct {
	ClassHash       felt.Felt
	TransactionHash felt.Felt
}

// DeclareTransaction submits a signed DECLARE (v2) transaction carrying
// a Sierra contract_class plus its compiled_class_hash, per spec §6's
// class-hash declaration tooling requirements.
func (c *Client) DeclareTransaction(ctx context.Context, senderAddress felt.Felt, contractClass json.RawMessage, compiledClassHash felt.Felt, sig signer.Signature, nonce felt.Felt, maxFee felt.Felt) (DeclareResult, error) {
	params := []any{
		declareParams{
			ContractClass:     contractClass,
			CompiledClassHash: compiledClassHash.Hex(),
			SenderAddress:     senderAddress.Hex(),
			Signature:         signatureToHex(sig),
			Nonce:             nonce.Hex(),
			MaxFee:            maxFee.Hex(),
			Version:           "0x2",
			Type:              "DECLARE",
		},
	}
	result, err := c.call(ctx, DefaultTimeout, "starknet_addDeclareTransaction", params)
	if err != nil {
		return DeclareResult{}, err
	}
	var decoded struct {
		ClassHash       string `json:"class_hash"`
		TransactionHash string `json:"transaction_hash"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return DeclareResult{}, coreerr.New(coreerr.CodeRPCError, "malformed declare transaction response", err)
	}
	classHash, err := felt.FromHex(decoded.ClassHash)
	if err != nil {
		return DeclareResult{}, coreerr.New(coreerr.CodeRPCError, "malformed class hash in declare response", err)
	}
	txHash, err := felt.FromHex(decoded.TransactionHash)
	if err != nil {
		return DeclareResult{}, coreerr.New(coreerr.CodeRPCError, "malformed transaction hash in declare response", err)
	}
	return DeclareResult{ClassHash: classHash, TransactionHash: txHash}, nil
}

// encodeMulticall lays out the standard account __execute__ calldata
// encoding: call count, then per-call (address, selector, calldata
// offset, calldata length), then the concatenated calldata.
func encodeMulticall(calls []InvokeCall) []felt.Felt {
	out := []felt.Felt{felt.FromUint64(uint64(len(calls)))}
	offset := uint64(0)
	var flatCalldata []felt.Felt
	for _, call := range calls {
		out = append(out,
			call.ContractAddress,
			call.Entrypoint,
			felt.FromUint64(offset),
			felt.FromUint64(uint64(len(call.Calldata))),
		)
		offset += uint64(len(call.Calldata))
		flatCalldata = append(flatCalldata, call.Calldata...)
	}
	out = append(out, felt.FromUint64(uint64(len(flatCalldata))))
	out = append(out, flatCalldata...)
	return out
}

func feltsToHex(fs []felt.Felt) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Hex()
	}
	return out
}

func hexSliceToFelts(hexes []string) ([]felt.Felt, error) {
	out := make([]felt.Felt, len(hexes))
	for i, h := range hexes {
		f, err := felt.FromHex(h)
		if err != nil {
			return nil, coreerr.New(coreerr.CodeRPCError, "malformed felt in RPC result", err)
		}
		out[i] = f
	}
	return out, nil
}

func signatureToHex(sig signer.Signature) []string {
	out := make([]string, len(sig))
	for i, f := range sig {
		out[i] = f.Hex()
	}
	return out
}
