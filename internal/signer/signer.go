// Package signer implements the two signer variants of spec §4.4: the
// local (owner and session) curve signer, and the remote keyring-proxy
// signer. No STARK-curve implementation exists anywhere in the retrieved
// example corpus, and inventing new cryptography is an explicit spec
// Non-goal (§1), so the signing primitive here is go-ethereum's secp256k1
// ECDSA stack (crypto.Sign, ecdsa.PrivateKey) — the one concrete signing
// stack the corpus supplies — standing in for the target chain's native
// curve. See DESIGN.md's Open Question entry for the full justification.
package signer

import (
	"context"

	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/typeddata"
)

// Signature is an ordered list of felts, exactly as it is placed on the
// wire in a Starknet transaction's signature field. Order is part of the
// contract: callers must never reorder or truncate it.
type Signature []felt.Felt

// signatureModeV2 is the fixed "v2" short-string felt signature_mode
// value the session signer appends to every signature, per spec §4.4.
// Short strings in the target VM are ASCII bytes packed big-endian into
// a felt; "v2" is 0x76 ('v'), 0x32 ('2').
var signatureModeV2 = felt.FromUint64(0x7632)

// specVersion2 is the fixed spec_version felt appended to every session
// signature.
var specVersion2 = felt.FromUint64(2)

// TransactionSigner signs a transaction hash for submission via
// __execute__. Both the local and session signer variants satisfy this,
// so the RPC client's execute path never needs to know which one it
// holds.
type TransactionSigner interface {
	SignTransaction(ctx context.Context, hash felt.Felt) (Signature, error)
}

// TypedDataSigner signs a SNIP-12 payload for session administration
// (register/revoke/emergency-revoke). Only the owner (local) signer is
// ever invoked this way by the registry (spec §4.5: "C4 (owner mode) to
// sign the on-chain administrative transactions"), but the session
// signer implements the same interface per spec §4.4's "every typed-data
// message" requirement.
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, payload *typeddata.Payload) (Signature, error)
}

// Signer is the full contract a concrete variant (local, session,
// remote) implements.
type Signer interface {
	TransactionSigner
	TypedDataSigner
	PublicKey() felt.Felt
}

func appendSessionMetadata(pubkey, r, s felt.Felt) Signature {
	return Signature{pubkey, r, s, signatureModeV2, specVersion2}
}
