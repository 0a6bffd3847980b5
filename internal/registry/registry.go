// Package registry implements the Session Registry (spec §4.5): the
// lifecycle of session credentials — create, list, register on-chain,
// revoke, emergency-revoke-all, and on-chain validity queries. All
// mutating operations require an owner (local) signer, never a session
// signer, matching the account contract's own authorization split
// between administrative and session-scoped transactions.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starkclaw/session-core/internal/activity"
	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/keystore"
	"github.com/starkclaw/session-core/internal/network"
	"github.com/starkclaw/session-core/internal/retry"
	"github.com/starkclaw/session-core/internal/rpcclient"
	"github.com/starkclaw/session-core/internal/signer"
	"github.com/starkclaw/session-core/internal/typeddata"
)

// MaxSessionKeys bounds the number of concurrently stored session
// credentials (spec §4.5: "list size ≤ 4").
const MaxSessionKeys = 4

// MinValidForSeconds is the minimum lifetime a newly created session
// credential must be granted (spec §4.5: "validForSeconds ≥ 60").
const MinValidForSeconds = 60

// selectors is the fixed allowed_entrypoints set registered on-chain for
// every session key, hashed to their canonical entry-point selectors
// (spec §4.5: "{transfer, transferFrom, swap, execute}"). The set itself
// is not configurable per credential — the account contract enforces a
// single fixed surface for every session key, and per-contract narrowing
// happens only in the locally-stored allowedContracts list.
var selectors = []felt.Felt{
	SelectorFromName("transfer"),
	SelectorFromName("transferFrom"),
	SelectorFromName("swap"),
	SelectorFromName("execute"),
}

// selectorMask is Starknet's MASK_250 (2^250 - 1): entry-point selectors
// are starknet_keccak(name), i.e. the low 250 bits of keccak256(name).
var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// SelectorFromName computes a Starknet entry-point selector: the low 250
// bits of keccak256(name) (the starknet_keccak convention).
func SelectorFromName(name string) felt.Felt {
	digest := crypto.Keccak256Hash([]byte(name))
	masked := new(big.Int).And(new(big.Int).SetBytes(digest.Bytes()), selectorMask)
	f, _ := felt.FromBigInt(masked)
	return f
}

// SessionCredential is one session key's full local record (spec §3).
// PrivateKey is never populated by List; it is read separately, on
// demand, from its own namespaced keystore entry.
type SessionCredential struct {
	PublicKey              felt.Felt      `json:"publicKey"`
	TokenSymbol            network.Symbol `json:"tokenSymbol"`
	TokenAddress           felt.Felt      `json:"tokenAddress"`
	SpendingLimitBaseUnits string         `json:"spendingLimitBaseUnits"`
	ValidAfter             int64          `json:"validAfter"`
	ValidUntil             int64          `json:"validUntil"`
	AllowedContracts       []felt.Felt    `json:"allowedContracts,omitempty"`
	DerivationMethod       string         `json:"derivationMethod"`
	CreatedAt              int64          `json:"createdAt"`
	RegisteredAt           int64          `json:"registeredAt,omitempty"`
	RevokedAt              int64          `json:"revokedAt,omitempty"`
	LastTxHash             *felt.Felt     `json:"lastTxHash,omitempty"`
}

// IsRevoked reports whether the credential has been revoked locally.
func (c SessionCredential) IsRevoked() bool {
	return c.RevokedAt != 0
}

// LocallyValidAt reports whether now falls within [validAfter, validUntil)
// and the credential has not been locally revoked. This is the local
// half of the spec's "usable" predicate; IsValidOnchain supplies the
// other half.
func (c SessionCredential) LocallyValidAt(now int64) bool {
	return !c.IsRevoked() && now >= c.ValidAfter && now < c.ValidUntil
}

// derivationRandom and derivationMnemonicIndex are the two session-key
// derivation methods CreateLocal records against the credential, for the
// support/debugging audit trail — the mnemonic itself is never
// persisted, only which method produced the key.
const (
	derivationRandom        = "random"
	derivationMnemonicIndex = "mnemonic-index"
)

// CreateLocalInput is the input to CreateLocal. PrivateKey is normally
// left nil, letting CreateLocal generate 32 random bytes; callers doing
// mnemonic-backed onboarding derive the key themselves (via
// signer.NewLocalSignerFromMnemonic or an equivalent child derivation)
// and supply it here so it is recorded with DerivationMethod
// "mnemonic-index" instead of "random".
type CreateLocalInput struct {
	TokenSymbol      network.Symbol
	TokenAddress     felt.Felt
	SpendingLimit    *big.Int
	ValidForSeconds  int64
	AllowedContracts []felt.Felt
	PrivateKey       *felt.Felt
	Now              int64
}

// RegisterInput carries the on-chain context RegisterOnchain needs to
// build and submit the administrative transaction.
type RegisterInput struct {
	AccountAddress felt.Felt
	ChainID        felt.Felt
	Nonce          felt.Felt
	MaxFee         felt.Felt
}

// Registry manages the locally-stored session credential index and
// drives the account contract's administrative entrypoints through an
// owner signer and an RPC client.
type Registry struct {
	mu    sync.Mutex
	store keystore.Store
	rpc   *rpcclient.Client
	log   *activity.Log
	owner signer.Signer
	index []SessionCredential // unordered on disk; List sorts on read
}

// New constructs a Registry backed by store for persistence, rpc for
// on-chain calls, log for activity recording, and owner as the
// owner-authenticating signer for every administrative transaction.
func New(store keystore.Store, rpc *rpcclient.Client, log *activity.Log, owner signer.Signer) (*Registry, error) {
	r := &Registry{store: store, rpc: rpc, log: log, owner: owner}
	raw, ok, err := store.Get(keystore.KeySessionIndex)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to read session index", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.index); err != nil {
			return nil, coreerr.New(coreerr.CodeInternal, "corrupt session index", err)
		}
	}
	return r, nil
}

func (r *Registry) persistIndexLocked() error {
	raw, err := json.Marshal(r.index)
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to marshal session index", err)
	}
	return r.store.Set(keystore.KeySessionIndex, string(raw))
}

// ListSessionKeys returns every stored credential, sorted by createdAt
// descending (spec §4.5).
func (r *Registry) ListSessionKeys() []SessionCredential {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionCredential, len(r.index))
	copy(out, r.index)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// ResolveUsable returns the most-recent locally-valid, non-revoked
// credential, or the one matching publicKey if supplied. Does not
// itself consult on-chain validity — callers that need the full
// "usable" predicate (spec §3) should also call IsValidOnchain.
func (r *Registry) ResolveUsable(publicKey *felt.Felt, now int64) (SessionCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if publicKey != nil {
		for _, c := range r.index {
			if c.PublicKey.Equal(*publicKey) {
				if !c.LocallyValidAt(now) {
					return SessionCredential{}, coreerr.New(coreerr.CodeSessionExpired,
						"the requested session key is expired or revoked", nil)
				}
				return c, nil
			}
		}
		return SessionCredential{}, coreerr.New(coreerr.CodeSessionNotFound, "session key not found", nil)
	}

	var best *SessionCredential
	for i := range r.index {
		c := &r.index[i]
		if !c.LocallyValidAt(now) {
			continue
		}
		if best == nil || c.CreatedAt > best.CreatedAt {
			best = c
		}
	}
	if best == nil {
		return SessionCredential{}, coreerr.New(coreerr.CodeSessionNotFound, "no usable session key is available", nil)
	}
	return *best, nil
}

// SessionPrivateKey loads a session credential's private key from its
// namespaced keystore entry.
func (r *Registry) SessionPrivateKey(publicKey felt.Felt) (felt.Felt, error) {
	raw, ok, err := r.store.Get(keystore.SessionPrivateKeyName(publicKey.Hex()))
	if err != nil {
		return felt.Felt{}, coreerr.New(coreerr.CodeInternal, "failed to read session private key", err)
	}
	if !ok {
		return felt.Felt{}, coreerr.New(coreerr.CodeSessionNotFound, "session private key not found", nil)
	}
	return felt.FromHex(raw)
}

// CreateLocal generates a fresh session credential: 32 random bytes
// normalized to a curve scalar, the derived public key, persisted under
// its own namespaced keystore entry, and appended to the index.
func (r *Registry) CreateLocal(in CreateLocalInput) (SessionCredential, error) {
	if in.ValidForSeconds < MinValidForSeconds {
		return SessionCredential{}, coreerr.New(coreerr.CodeInvalidInput,
			fmt.Sprintf("validForSeconds must be at least %d", MinValidForSeconds), nil)
	}
	if in.SpendingLimit == nil || in.SpendingLimit.Sign() < 0 {
		return SessionCredential{}, coreerr.New(coreerr.CodeInvalidInput, "spending limit must be non-negative", nil)
	}
	if len(in.AllowedContracts) > typeddata.MaxAllowedTargets {
		return SessionCredential{}, coreerr.New(coreerr.CodeInvalidInput,
			fmt.Sprintf("at most %d allowed contracts may be specified", typeddata.MaxAllowedTargets), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.index) >= MaxSessionKeys {
		return SessionCredential{}, coreerr.New(coreerr.CodeInvalidInput,
			fmt.Sprintf("at most %d session keys may be stored at once", MaxSessionKeys), nil)
	}

	derivationMethod := derivationRandom
	var privateKey felt.Felt
	if in.PrivateKey != nil {
		privateKey = *in.PrivateKey
		derivationMethod = derivationMnemonicIndex
	} else {
		var raw [32]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return SessionCredential{}, coreerr.New(coreerr.CodeInternal, "failed to generate session key material", err)
		}
		var err error
		privateKey, err = felt.FromBytes32(raw)
		if err != nil {
			return SessionCredential{}, coreerr.New(coreerr.CodeInternal, "generated key material out of range", err)
		}
	}
	s, err := signer.NewLocalSigner(privateKey)
	if err != nil {
		return SessionCredential{}, coreerr.New(coreerr.CodeInternal, "failed to derive session public key", err)
	}
	publicKey := s.PublicKey()

	if err := r.store.Set(keystore.SessionPrivateKeyName(publicKey.Hex()), privateKey.Hex()); err != nil {
		return SessionCredential{}, coreerr.New(coreerr.CodeInternal, "failed to persist session private key", err)
	}

	cred := SessionCredential{
		PublicKey:              publicKey,
		TokenSymbol:            in.TokenSymbol,
		TokenAddress:           in.TokenAddress,
		SpendingLimitBaseUnits: in.SpendingLimit.String(),
		ValidAfter:             in.Now,
		ValidUntil:             in.Now + in.ValidForSeconds,
		AllowedContracts:       in.AllowedContracts,
		DerivationMethod:       derivationMethod,
		CreatedAt:              in.Now,
	}
	r.index = append(r.index, cred)
	if err := r.persistIndexLocked(); err != nil {
		return SessionCredential{}, err
	}
	return cred, nil
}

// RegisterOnchain invokes add_or_update_session_key for an existing
// local credential. Non-empty AllowedContracts is rejected: the account
// contract's fixed entrypoint surface has no per-contract restriction
// parameter, and silently dropping the caller's intended restriction
// would be worse than refusing outright (spec §4.5).
func (r *Registry) RegisterOnchain(ctx context.Context, publicKey felt.Felt, in RegisterInput, now int64) (felt.Felt, error) {
	r.mu.Lock()
	idx := -1
	for i, c := range r.index {
		if c.PublicKey.Equal(publicKey) {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return felt.Felt{}, coreerr.New(coreerr.CodeSessionNotFound, "session key not found", nil)
	}
	cred := r.index[idx]
	r.mu.Unlock()

	if len(cred.AllowedContracts) > 0 {
		return felt.Felt{}, coreerr.New(coreerr.CodeInvalidInput,
			"the on-chain API does not enforce per-contract restrictions; allowedContracts is local-only and cannot be registered", nil).
			WithHint("remove allowedContracts or enforce it client-side via the policy evaluator")
	}

	calldata := []felt.Felt{cred.PublicKey, felt.FromUint64(uint64(cred.ValidUntil)), felt.FromUint64(0)}
	calldata = append(calldata, felt.FromUint64(uint64(len(selectors))))
	calldata = append(calldata, selectors...)

	txHash, err := r.submitAdminCall(ctx, in, "add_or_update_session_key", calldata, now,
		activity.KindSessionRegistered, "Session key registered")
	if err != nil {
		return felt.Felt{}, err
	}

	r.mu.Lock()
	r.index[idx].RegisteredAt = now
	r.index[idx].LastTxHash = &txHash
	err = r.persistIndexLocked()
	r.mu.Unlock()
	return txHash, err
}

// RevokeOnchain invokes revoke_session_key and, on confirmation, marks
// the credential revoked and deletes its private key.
func (r *Registry) RevokeOnchain(ctx context.Context, publicKey felt.Felt, in RegisterInput, now int64) (felt.Felt, error) {
	calldata := []felt.Felt{publicKey}
	txHash, err := r.submitAdminCall(ctx, in, "revoke_session_key", calldata, now,
		activity.KindSessionRevoked, "Session key revoked")
	if err != nil {
		return felt.Felt{}, err
	}

	if err := r.awaitConfirmation(ctx, txHash); err != nil {
		return txHash, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.index {
		if c.PublicKey.Equal(publicKey) {
			r.index[i].RevokedAt = now
			r.index[i].LastTxHash = &txHash
			break
		}
	}
	if err := r.persistIndexLocked(); err != nil {
		return txHash, err
	}
	if err := r.store.Delete(keystore.SessionPrivateKeyName(publicKey.Hex())); err != nil {
		return txHash, coreerr.New(coreerr.CodeInternal, "failed to delete revoked session private key", err)
	}
	return txHash, nil
}

// EmergencyRevokeAllOnchain invokes emergency_revoke_all and, on
// confirmation, marks every credential revoked and wipes every private
// key.
func (r *Registry) EmergencyRevokeAllOnchain(ctx context.Context, in RegisterInput, now int64) (felt.Felt, error) {
	txHash, err := r.submitAdminCall(ctx, in, "emergency_revoke_all", nil, now,
		activity.KindEmergencyRevokeAll, "Emergency revoke-all executed")
	if err != nil {
		return felt.Felt{}, err
	}

	if err := r.awaitConfirmation(ctx, txHash); err != nil {
		return txHash, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.index {
		r.index[i].RevokedAt = now
		r.index[i].LastTxHash = &txHash
		if err := r.store.Delete(keystore.SessionPrivateKeyName(r.index[i].PublicKey.Hex())); err != nil {
			return txHash, coreerr.New(coreerr.CodeInternal, "failed to delete session private key during emergency revoke", err)
		}
	}
	if err := r.persistIndexLocked(); err != nil {
		return txHash, err
	}
	return txHash, nil
}

// submitAdminCall signs the given administrative call with the owner
// signer, submits it, and persists a pending activity record with the
// resulting tx hash before confirmation is awaited, per spec §4.5 ("
// transaction-hash persistence happens before awaiting confirmation").
func (r *Registry) submitAdminCall(ctx context.Context, in RegisterInput, entrypoint string, calldata []felt.Felt, now int64, kind activity.Kind, title string) (felt.Felt, error) {
	selector := SelectorFromName(entrypoint)
	calls := []rpcclient.InvokeCall{{ContractAddress: in.AccountAddress, Entrypoint: selector, Calldata: calldata}}

	hashPayload := append([]felt.Felt{in.AccountAddress, in.Nonce}, calldata...)
	txHash := ProvisionalTransactionHash(hashPayload)
	sig, err := r.owner.SignTransaction(ctx, txHash)
	if err != nil {
		return felt.Felt{}, err
	}

	submittedHash, err := r.rpc.Execute(ctx, in.AccountAddress, calls, sig, in.Nonce, in.MaxFee)
	if err != nil {
		return felt.Felt{}, err
	}

	if r.log != nil {
		if _, err := r.log.Append(kind, title, "", &submittedHash, activity.StatusPending, now); err != nil {
			return submittedHash, err
		}
	}
	return submittedHash, nil
}

func (r *Registry) awaitConfirmation(ctx context.Context, txHash felt.Felt) error {
	_, err := retry.WithRetry(ctx, retry.ConfirmationConfig, isPendingReceipt, func() (rpcclient.Receipt, error) {
		receipt, err := r.rpc.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			return rpcclient.Receipt{}, err
		}
		if receipt.Status == rpcclient.ExecutionPending {
			return rpcclient.Receipt{}, coreerr.New(coreerr.CodeUnavailable, "transaction still pending", nil)
		}
		if receipt.Status == rpcclient.ExecutionReverted {
			return receipt, coreerr.New(coreerr.CodeOnchainInvalid, "administrative transaction reverted", nil).
				WithDetails("revertReason", receipt.RevertReason)
		}
		return receipt, nil
	})
	return err
}

func isPendingReceipt(err error) bool {
	return coreerr.CodeOf(err) == coreerr.CodeUnavailable
}

// IsValidOnchain calls get_session_data and fails closed (returns false)
// on any RPC failure, per spec §4.5.
func (r *Registry) IsValidOnchain(ctx context.Context, accountAddress, publicKey felt.Felt, now int64) bool {
	result, err := r.rpc.Call(ctx, accountAddress, getSessionDataSelector, []felt.Felt{publicKey})
	if err != nil || len(result) < 3 {
		return false
	}
	validUntil := result[0].BigInt().Int64()
	maxCalls := result[1].BigInt().Int64()
	callsUsed := result[2].BigInt().Int64()
	return validUntil > now && callsUsed < maxCalls
}

var getSessionDataSelector = SelectorFromName("get_session_data")

// ProvisionalTransactionHash stands in for the account contract's actual
// transaction-hash computation (chain-specific, defined by the deployed
// class, and outside this subsystem's scope per spec §1) with a simple
// domain-separated keccak digest over the call's identifying fields —
// enough to give a local signer a stable, deterministic value to sign
// over before submission. Shared by the registry's administrative calls
// and the intent preparer's transfer/swap execution path.
func ProvisionalTransactionHash(fields []felt.Felt) felt.Felt {
	var buf []byte
	for _, f := range fields {
		b := f.Bytes32()
		buf = append(buf, b[:]...)
	}
	digest := crypto.Keccak256Hash(buf)
	masked := new(big.Int).And(new(big.Int).SetBytes(digest.Bytes()), selectorMask)
	f, _ := felt.FromBigInt(masked)
	return f
}
