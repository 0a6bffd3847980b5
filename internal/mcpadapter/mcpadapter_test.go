package mcpadapter

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/starkclaw/session-core/internal/activity"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/intent"
	"github.com/starkclaw/session-core/internal/keystore"
	"github.com/starkclaw/session-core/internal/network"
	"github.com/starkclaw/session-core/internal/policy"
	"github.com/starkclaw/session-core/internal/registry"
	"github.com/starkclaw/session-core/internal/rpcclient"
	"github.com/starkclaw/session-core/internal/signer"
)

func newTestAdapter(t *testing.T, rpcHandler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(rpcHandler)
	rpc := rpcclient.New(srv.URL)
	store := keystore.NewMemoryStore()
	log, err := activity.NewLog(store)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	owner, err := signer.NewLocalSigner(felt.FromUint64(0x777))
	if err != nil {
		t.Fatalf("NewLocalSigner: %v", err)
	}
	reg, err := registry.New(store, rpc, log, owner)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if _, err := reg.CreateLocal(registry.CreateLocalInput{
		TokenSymbol: network.USDC, SpendingLimit: big.NewInt(5_000_000), ValidForSeconds: 3600, Now: 1000,
	}); err != nil {
		t.Fatalf("CreateLocal: %v", err)
	}

	ev := policy.NewEvaluator(policy.Policy{PerTxCapCents: 10_000_00, DailySpendCapCents: 50_000_00})
	preparer := &intent.Preparer{
		Registry:        reg,
		Policy:          ev,
		RPC:             rpc,
		SupportedTokens: map[network.Symbol]struct{}{network.USDC: {}},
	}

	a := New(network.Sepolia, preparer, reg, rpc, log, ExecutionParams{
		AccountAddress: felt.MustFromHex("0xaa"),
		MaxFee:         felt.FromUint64(1),
		SignerMode:     "local",
		LocalSigner:    owner,
		Now:            func() int64 { return 1500 },
	})
	return a, srv
}

func argsRequest(name string, args map[string]interface{}) mcpproto.CallToolRequest {
	return mcpproto.CallToolRequest{
		Params: mcpproto.CallToolParams{Name: name, Arguments: args},
	}
}

func TestPrepareTransferHandlerReturnsPreparedAction(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":["0xf4240","0x0"]}`))
	})
	defer srv.Close()

	result, err := a.prepareTransferHandler(context.Background(), argsRequest("prepare_transfer", map[string]interface{}{
		"token": "USDC", "amount": "1.5", "to": "0xbeef", "amountUsdCents": float64(150),
	}))
	if err != nil {
		t.Fatalf("prepareTransferHandler: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %v", result.Content)
	}
	text := result.Content[0].(mcpproto.TextContent).Text
	var action intent.PreparedAction
	if err := json.Unmarshal([]byte(text), &action); err != nil {
		t.Fatalf("expected JSON-encoded PreparedAction, got %s: %v", text, err)
	}
	if action.AmountBaseUnits != "1500000" {
		t.Fatalf("unexpected amount base units: %s", action.AmountBaseUnits)
	}
}

func TestPrepareTransferHandlerRejectsMissingToken(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	result, err := a.prepareTransferHandler(context.Background(), argsRequest("prepare_transfer", map[string]interface{}{
		"amount": "1.5", "to": "0xbeef",
	}))
	if err != nil {
		t.Fatalf("prepareTransferHandler: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected an error result for a missing token")
	}
	if !strings.Contains(result.Content[0].(mcpproto.TextContent).Text, "INVALID_INPUT") {
		t.Fatalf("expected INVALID_INPUT in error text, got %v", result.Content)
	}
}

func TestExecuteTransferHandlerSubmitsAndReturnsTxHash(t *testing.T) {
	calls := 0
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":["0xf4240","0x0"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"transaction_hash":"0xcafe"}}`))
	})
	defer srv.Close()

	result, err := a.executeTransferHandler(context.Background(), argsRequest("execute_transfer", map[string]interface{}{
		"token": "USDC", "amount": "1.5", "to": "0xbeef", "amountUsdCents": float64(150),
	}))
	if err != nil {
		t.Fatalf("executeTransferHandler: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %v", result.Content)
	}
	text := result.Content[0].(mcpproto.TextContent).Text
	var res intent.ExecuteResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("expected JSON-encoded ExecuteResult, got %s: %v", text, err)
	}
	if res.TxHash.Hex() != felt.MustFromHex("0xcafe").Hex() {
		t.Fatalf("unexpected tx hash: %s", res.TxHash.Hex())
	}
}

func TestListSessionsHandlerReturnsCreatedSession(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	result, err := a.listSessionsHandler(context.Background(), argsRequest("list_sessions", nil))
	if err != nil {
		t.Fatalf("listSessionsHandler: %v", err)
	}
	text := result.Content[0].(mcpproto.TextContent).Text
	var creds []registry.SessionCredential
	if err := json.Unmarshal([]byte(text), &creds); err != nil {
		t.Fatalf("expected JSON-encoded session list, got %s: %v", text, err)
	}
	if len(creds) != 1 {
		t.Fatalf("expected one session, got %d", len(creds))
	}
}
