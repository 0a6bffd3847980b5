// Package mcpadapter exposes the Session Authority core as MCP tools:
// the boundary an externally owned LLM tool dispatcher calls through,
// never the dispatcher itself (spec's agent-runtime integration
// surface). It wraps the same Preparer/Registry that cmd/sessiond's
// HTTP control plane wraps — this package only adds MCP's tool-call
// envelope over it.
package mcpadapter

import (
	"context"
	"encoding/json"
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/starkclaw/session-core/internal/activity"
	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/intent"
	"github.com/starkclaw/session-core/internal/network"
	"github.com/starkclaw/session-core/internal/registry"
	"github.com/starkclaw/session-core/internal/rpcclient"
	"github.com/starkclaw/session-core/internal/signer"
)

// ExecutionParams carries the submission-time context the prepare step
// doesn't need but execute does: which account signs, with what nonce
// and fee cap, using which signer mode. Supplied once at Adapter
// construction because the agent runtime's tool-call arguments describe
// the transfer, not the wallet wiring.
type ExecutionParams struct {
	AccountAddress felt.Felt
	ChainID        felt.Felt
	MaxFee         felt.Felt
	SignerMode     string
	LocalSigner    signer.TransactionSigner
	RemoteSigner   signer.SessionTransactionSigner
	NonceFunc      func() felt.Felt
	Now            func() int64
}

// Adapter owns the MCP server and the domain objects its tool handlers
// call into.
type Adapter struct {
	mcpServer *mcpserver.MCPServer
	preparer  *intent.Preparer
	registry  *registry.Registry
	rpc       *rpcclient.Client
	log       *activity.Log
	exec      ExecutionParams
	networkID network.ID
}

// New builds an Adapter and registers its three tools: prepare_transfer,
// execute_transfer, list_sessions.
func New(networkID network.ID, preparer *intent.Preparer, reg *registry.Registry, rpc *rpcclient.Client, log *activity.Log, exec ExecutionParams) *Adapter {
	a := &Adapter{
		mcpServer: mcpserver.NewMCPServer("starkclaw-session-core", "1.0.0"),
		preparer:  preparer,
		registry:  reg,
		rpc:       rpc,
		log:       log,
		exec:      exec,
		networkID: networkID,
	}
	a.registerTools()
	return a
}

// Handler returns the MCP server's streamable HTTP handler, ready to be
// mounted by whatever process hosts this adapter.
func (a *Adapter) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(a.mcpServer)
}

func (a *Adapter) registerTools() {
	prepareTool := mcpproto.NewTool(
		"prepare_transfer",
		mcpproto.WithDescription("Validate and price an ERC-20 transfer against the caller's session policy, without submitting it"),
		mcpproto.WithString("token", mcpproto.Required(), mcpproto.Description("Token symbol, e.g. USDC")),
		mcpproto.WithString("amount", mcpproto.Required(), mcpproto.Description("Human-readable decimal amount")),
		mcpproto.WithString("to", mcpproto.Required(), mcpproto.Description("Recipient address, hex")),
		mcpproto.WithNumber("amountUsdCents", mcpproto.Description("Amount in USD cents, for spending-cap accounting")),
		mcpproto.WithString("sessionPublicKey", mcpproto.Description("Session public key to use, hex; omitted selects the most recently usable session")),
	)
	a.mcpServer.AddTool(prepareTool, a.prepareTransferHandler)

	executeTool := mcpproto.NewTool(
		"execute_transfer",
		mcpproto.WithDescription("Prepare and immediately submit an ERC-20 transfer, once the caller has already obtained approval for these exact terms"),
		mcpproto.WithString("token", mcpproto.Required(), mcpproto.Description("Token symbol, e.g. USDC")),
		mcpproto.WithString("amount", mcpproto.Required(), mcpproto.Description("Human-readable decimal amount")),
		mcpproto.WithString("to", mcpproto.Required(), mcpproto.Description("Recipient address, hex")),
		mcpproto.WithNumber("amountUsdCents", mcpproto.Description("Amount in USD cents, for spending-cap accounting")),
		mcpproto.WithString("sessionPublicKey", mcpproto.Description("Session public key to use, hex; omitted selects the most recently usable session")),
	)
	a.mcpServer.AddTool(executeTool, a.executeTransferHandler)

	listTool := mcpproto.NewTool(
		"list_sessions",
		mcpproto.WithDescription("List every stored session key and its current status"),
	)
	a.mcpServer.AddTool(listTool, a.listSessionsHandler)
}

func (a *Adapter) prepareTransferHandler(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	in, err := a.parseTransferArgs(req)
	if err != nil {
		return errorResult(err), nil
	}
	action, err := a.preparer.PrepareTransfer(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(action)
}

func (a *Adapter) executeTransferHandler(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	in, err := a.parseTransferArgs(req)
	if err != nil {
		return errorResult(err), nil
	}
	action, err := a.preparer.PrepareTransfer(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}

	nonce := felt.FromUint64(0)
	if a.exec.NonceFunc != nil {
		nonce = a.exec.NonceFunc()
	}
	now := in.Now
	if a.exec.Now != nil {
		now = a.exec.Now()
	}

	result, err := intent.ExecuteTransfer(ctx, a.rpc, a.log, intent.ExecuteInput{
		Action:         action,
		AccountAddress: a.exec.AccountAddress,
		Nonce:          nonce,
		MaxFee:         a.exec.MaxFee,
		LocalSigner:    a.exec.LocalSigner,
		RemoteSigner:   a.exec.RemoteSigner,
		SignerMode:     a.exec.SignerMode,
		ChainID:        a.exec.ChainID,
		ValidUntil:     action.Policy.ValidUntil,
		Now:            now,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result)
}

func (a *Adapter) listSessionsHandler(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	return jsonResult(a.registry.ListSessionKeys())
}

func (a *Adapter) parseTransferArgs(req mcpproto.CallToolRequest) (intent.PrepareTransferInput, error) {
	args := req.GetArguments()

	tokenStr, _ := args["token"].(string)
	if tokenStr == "" {
		return intent.PrepareTransferInput{}, coreerr.New(coreerr.CodeInvalidInput, "token is required", nil)
	}
	amountText, _ := args["amount"].(string)
	if amountText == "" {
		return intent.PrepareTransferInput{}, coreerr.New(coreerr.CodeInvalidInput, "amount is required", nil)
	}
	toStr, _ := args["to"].(string)
	to, err := felt.FromHex(toStr)
	if err != nil {
		return intent.PrepareTransferInput{}, coreerr.New(coreerr.CodeInvalidInput, "malformed recipient address", err)
	}

	var usdCents int64
	if v, ok := args["amountUsdCents"].(float64); ok {
		usdCents = int64(v)
	}

	var sessionPublicKey *felt.Felt
	if pk, ok := args["sessionPublicKey"].(string); ok && pk != "" {
		parsed, err := felt.FromHex(pk)
		if err != nil {
			return intent.PrepareTransferInput{}, coreerr.New(coreerr.CodeInvalidInput, "malformed sessionPublicKey", err)
		}
		sessionPublicKey = &parsed
	}

	now := int64(0)
	if a.exec.Now != nil {
		now = a.exec.Now()
	}

	return intent.PrepareTransferInput{
		NetworkID:        a.networkID,
		TokenSymbol:      network.Symbol(tokenStr),
		AmountText:       amountText,
		To:               to,
		SessionPublicKey: sessionPublicKey,
		AmountUSDCents:   usdCents,
		Now:              now,
	}, nil
}

func jsonResult(v interface{}) (*mcpproto.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResult(coreerr.New(coreerr.CodeInternal, "failed to encode tool result", err)), nil
	}
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{mcpproto.NewTextContent(string(raw))},
	}, nil
}

func errorResult(err error) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		IsError: true,
		Content: []mcpproto.Content{mcpproto.NewTextContent(string(coreerr.CodeOf(err)) + ": " + err.Error())},
	}
}
