// Package intent implements the Intent Preparer (spec §4.7): turning a
// user/agent transfer or swap request into a validated, immutable
// PreparedAction, and executing it once approved — selecting the local
// or remote signer per runtime mode, submitting through the RPC client,
// and recording the submission to the activity log immediately.
package intent

import (
	"context"
	"math/big"

	"github.com/starkclaw/session-core/internal/activity"
	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/network"
	"github.com/starkclaw/session-core/internal/policy"
	"github.com/starkclaw/session-core/internal/registry"
	"github.com/starkclaw/session-core/internal/rpcclient"
	"github.com/starkclaw/session-core/internal/signer"
)

// Kind classifies a PreparedAction.
type Kind string

const (
	KindERC20Transfer Kind = "erc20_transfer"
	KindSwap          Kind = "swap"
)

var (
	transferSelector  = registry.SelectorFromName("transfer")
	balanceOfSelector = registry.SelectorFromName("balanceOf")
)

// PolicySnapshot carries the session bound that produced this action,
// so the UI can explain a later denial without a second round trip.
type PolicySnapshot struct {
	SpendingLimitBaseUnits string
	ValidUntil             int64
}

// PreparedAction is the immutable result of Prepare{Transfer,Swap}
// (spec §3). Nothing in this package mutates it after construction.
type PreparedAction struct {
	Kind             Kind
	TokenSymbol      network.Symbol
	TokenAddress     felt.Felt
	To               felt.Felt
	Amount           string
	AmountBaseUnits  string
	BalanceBaseUnits string
	Calldata         []felt.Felt
	SessionPublicKey felt.Felt
	Policy           PolicySnapshot
	Warnings         []string

	// Swap-only fields, zero-valued for a transfer.
	RouteSummary            string
	ApprovalAmountBaseUnits string
	ApprovalTarget          felt.Felt
}

// PrepareTransferInput is the input to PrepareTransfer.
type PrepareTransferInput struct {
	NetworkID        network.ID
	TokenSymbol      network.Symbol
	AmountText       string
	To               felt.Felt
	SessionPublicKey *felt.Felt // nil selects the most-recent usable session
	AmountUSDCents   int64      // pricing is an external collaborator; caller supplies the converted figure
	Now              int64
}

// Preparer binds the registry, policy evaluator, network token list, and
// RPC client the preparer consults.
type Preparer struct {
	Registry        *registry.Registry
	Policy          *policy.Evaluator
	RPC             *rpcclient.Client
	SupportedTokens map[network.Symbol]struct{}
}

// PrepareTransfer implements spec §4.7 steps 1-7.
func (p *Preparer) PrepareTransfer(ctx context.Context, in PrepareTransferInput) (*PreparedAction, error) {
	token, err := network.ResolveToken(in.TokenSymbol)
	if err != nil {
		return nil, err
	}
	tokenAddress, err := token.AddressOn(in.NetworkID)
	if err != nil {
		return nil, err
	}

	amountBaseUnits, err := felt.ParseUnits(in.AmountText, token.Decimals)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "malformed amount", err)
	}

	cred, err := p.Registry.ResolveUsable(in.SessionPublicKey, in.Now)
	if err != nil {
		return nil, err
	}

	var warnings []string
	balanceBaseUnits, err := p.balanceOf(ctx, tokenAddress, cred.PublicKey)
	if err != nil {
		warnings = append(warnings, "could not verify on-chain balance: "+err.Error())
		balanceBaseUnits = big.NewInt(0)
	} else if amountBaseUnits.Cmp(balanceBaseUnits) > 0 {
		warnings = append(warnings, "amount exceeds the current on-chain balance")
	}

	amountU256, err := felt.U256FromBigInt(amountBaseUnits)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "amount out of range", err)
	}
	calldata := []felt.Felt{in.To, amountU256.Low, amountU256.High}

	sessionLimit, ok := new(big.Int).SetString(cred.SpendingLimitBaseUnits, 10)
	if !ok {
		sessionLimit = big.NewInt(0)
	}

	policyWarnings, err := p.Policy.Evaluate(policy.CheckInput{
		SessionPublicKey:              cred.PublicKey,
		TokenSymbol:                   in.TokenSymbol,
		SupportedTokens:               p.SupportedTokens,
		AmountBaseUnits:               amountBaseUnits,
		AmountUSDCents:                in.AmountUSDCents,
		TargetContract:                tokenAddress,
		SessionSpendingLimitBaseUnits: sessionLimit,
		Now:                           in.Now,
	})
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, policyWarnings...)

	if err := policy.CheckSessionAllowedContracts(cred.AllowedContracts, tokenAddress); err != nil {
		return nil, err
	}

	return &PreparedAction{
		Kind:             KindERC20Transfer,
		TokenSymbol:      in.TokenSymbol,
		TokenAddress:     tokenAddress,
		To:               in.To,
		Amount:           in.AmountText,
		AmountBaseUnits:  amountBaseUnits.String(),
		BalanceBaseUnits: balanceBaseUnits.String(),
		Calldata:         calldata,
		SessionPublicKey: cred.PublicKey,
		Policy: PolicySnapshot{
			SpendingLimitBaseUnits: cred.SpendingLimitBaseUnits,
			ValidUntil:             cred.ValidUntil,
		},
		Warnings: warnings,
	}, nil
}

func (p *Preparer) balanceOf(ctx context.Context, tokenAddress, owner felt.Felt) (*big.Int, error) {
	result, err := p.RPC.Call(ctx, tokenAddress, balanceOfSelector, []felt.Felt{owner})
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, coreerr.New(coreerr.CodeRPCError, "malformed balanceOf result", nil)
	}
	u := felt.U256{Low: result[0], High: result[1]}
	return u.BigInt(), nil
}

// Aggregator is a bounded-preset swap-quote source: its address set is
// fixed by configuration, never caller-supplied, so a compromised or
// malicious aggregator can never be substituted at request time.
type Aggregator interface {
	// Quote returns the amount of toToken received for selling
	// amountBaseUnits of fromToken, plus a human-readable route summary.
	Quote(ctx context.Context, routerAddress, fromToken, toToken felt.Felt, amountBaseUnits *big.Int) (outAmount *big.Int, routeSummary string, err error)
}

// PrepareSwapInput extends PrepareTransferInput with the sell/buy token
// pair and the preset aggregator router to quote against.
type PrepareSwapInput struct {
	PrepareTransferInput
	ToTokenSymbol network.Symbol
	RouterAddress felt.Felt
	Aggregator    Aggregator
}

// PrepareSwap extends transfer preparation with an aggregator quote and
// a bounded-approval hint: the approval amount is always the exact sell
// amount, never an unbounded MAX approval (spec §4.7).
func (p *Preparer) PrepareSwap(ctx context.Context, in PrepareSwapInput) (*PreparedAction, error) {
	fromToken, err := network.ResolveToken(in.TokenSymbol)
	if err != nil {
		return nil, err
	}
	toToken, err := network.ResolveToken(in.ToTokenSymbol)
	if err != nil {
		return nil, err
	}
	fromAddress, err := fromToken.AddressOn(in.NetworkID)
	if err != nil {
		return nil, err
	}
	toAddress, err := toToken.AddressOn(in.NetworkID)
	if err != nil {
		return nil, err
	}

	transferInput := in.PrepareTransferInput
	transferInput.To = in.RouterAddress
	action, err := p.PrepareTransfer(ctx, transferInput)
	if err != nil {
		return nil, err
	}

	sellAmount, ok := new(big.Int).SetString(action.AmountBaseUnits, 10)
	if !ok {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to re-parse prepared sell amount", nil)
	}

	_, routeSummary, err := in.Aggregator.Quote(ctx, in.RouterAddress, fromAddress, toAddress, sellAmount)
	if err != nil {
		action.Warnings = append(action.Warnings, "aggregator quote unavailable: "+err.Error())
	}

	action.Kind = KindSwap
	action.RouteSummary = routeSummary
	action.ApprovalAmountBaseUnits = action.AmountBaseUnits
	action.ApprovalTarget = in.RouterAddress
	action.Calldata = []felt.Felt{in.RouterAddress, felt.FromUint64(0), felt.FromUint64(0)}
	return action, nil
}

// ExecuteInput is the input to ExecuteTransfer.
type ExecuteInput struct {
	Action          *PreparedAction
	AccountAddress  felt.Felt
	Nonce           felt.Felt
	MaxFee          felt.Felt
	LocalSigner     signer.TransactionSigner // used when SignerMode != "remote"
	RemoteSigner    signer.SessionTransactionSigner
	SignerMode      string // "local" | "session" | "remote"
	ChainID         felt.Felt
	ValidUntil      int64
	RequestContext  signer.RequestContext
	SignerRequestID string
	MobileActionID  string
	Now             int64
}

// ExecuteResult is what the core surfaces to the UI after submission
// (spec §6: "Execute emits {txHash, executionStatus, revertReason?,
// signerMode, signerRequestId?, mobileActionId?}").
type ExecuteResult struct {
	TxHash          felt.Felt
	ExecutionStatus string
	SignerMode      string
	SignerRequestID string
	MobileActionID  string
}

// ExecuteTransfer signs and submits a prepared action's calldata as a
// single-call __execute__ transaction, persisting a pending activity
// record immediately and attaching correlation fields for the signer
// mode actually used.
func ExecuteTransfer(ctx context.Context, rpc *rpcclient.Client, log *activity.Log, in ExecuteInput) (*ExecuteResult, error) {
	call := rpcclient.InvokeCall{
		ContractAddress: in.Action.TokenAddress,
		Entrypoint:      transferSelector,
		Calldata:        in.Action.Calldata,
	}

	var sig signer.Signature
	var err error

	if in.SignerMode == "remote" {
		if in.RemoteSigner == nil {
			return nil, coreerr.New(coreerr.CodeInternal, "remote signer mode selected without a remote signer", nil)
		}
		req := signer.SessionTransactionRequest{
			AccountAddress: in.AccountAddress,
			ChainID:        in.ChainID,
			Nonce:          in.Nonce,
			ValidUntil:     in.ValidUntil,
			Calls: []signer.Call{{
				ContractAddress: call.ContractAddress,
				Entrypoint:      "transfer",
				Calldata:        call.Calldata,
			}},
			Context: in.RequestContext,
		}
		sig, err = in.RemoteSigner.SignSessionTransaction(ctx, req)
	} else {
		if in.LocalSigner == nil {
			return nil, coreerr.New(coreerr.CodeInternal, "local signer mode selected without a signer", nil)
		}
		hash := registry.ProvisionalTransactionHash([]felt.Felt{in.AccountAddress, in.Nonce, call.ContractAddress, call.Entrypoint})
		sig, err = in.LocalSigner.SignTransaction(ctx, hash)
	}
	if err != nil {
		return nil, err
	}

	txHash, err := rpc.Execute(ctx, in.AccountAddress, []rpcclient.InvokeCall{call}, sig, in.Nonce, in.MaxFee)
	if err != nil {
		return nil, err
	}

	kind := activity.KindTransferSubmitted
	if _, err := log.Append(kind, "Transfer submitted", in.Action.Amount+" "+string(in.Action.TokenSymbol), &txHash, activity.StatusPending, in.Now); err != nil {
		return nil, err
	}

	return &ExecuteResult{
		TxHash:          txHash,
		ExecutionStatus: string(activity.StatusPending),
		SignerMode:      in.SignerMode,
		SignerRequestID: in.SignerRequestID,
		MobileActionID:  in.MobileActionID,
	}, nil
}
