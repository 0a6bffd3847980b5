package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/typeddata"
)

// SessionSigner is the strict-v2 session-key signer. Every transaction
// and every typed-data message it signs produces exactly the 5-felt
// signature [session_pubkey, r, s, signature_mode=v2, spec_version=2],
// never a bare 4-felt form (spec §4.4). The public key passed in MUST
// match the one derived from the private key; the registry is
// responsible for storing them together under the keystore's
// session_pk.<publicKey> namespace.
type SessionSigner struct {
	key       *ecdsa.PrivateKey
	publicKey felt.Felt
}

// NewSessionSigner constructs a SessionSigner. publicKey is the session
// credential's declared public key; it is used verbatim in every
// emitted signature rather than re-derived, so a mismatch between the
// supplied private and public key surfaces as an on-chain validation
// failure rather than a silent local substitution.
func NewSessionSigner(privateKey felt.Felt, publicKey felt.Felt) (*SessionSigner, error) {
	raw := privateKey.Bytes32()
	key, err := crypto.ToECDSA(raw[:])
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "invalid session private key", err)
	}
	return &SessionSigner{key: key, publicKey: publicKey}, nil
}

// PublicKey returns the session's declared public key felt.
func (s *SessionSigner) PublicKey() felt.Felt {
	return s.publicKey
}

// SignTransaction signs a transaction hash, returning the strict 5-felt
// session signature.
func (s *SessionSigner) SignTransaction(ctx context.Context, hash felt.Felt) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, coreerr.New(coreerr.CodeTransportTimeout, "signing request canceled", err)
	}
	b := hash.Bytes32()
	r, sVal, err := s.signDigest(b[:])
	if err != nil {
		return nil, err
	}
	return appendSessionMetadata(s.publicKey, r, sVal), nil
}

// SignTypedData signs a SNIP-12 payload, returning the strict 5-felt
// session signature.
func (s *SessionSigner) SignTypedData(ctx context.Context, payload *typeddata.Payload) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, coreerr.New(coreerr.CodeTransportTimeout, "signing request canceled", err)
	}
	raw, err := payload.Bytes()
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to serialize typed-data payload", err)
	}
	digest := crypto.Keccak256Hash(raw)
	r, sVal, err := s.signDigest(digest.Bytes())
	if err != nil {
		return nil, err
	}
	return appendSessionMetadata(s.publicKey, r, sVal), nil
}

func (s *SessionSigner) signDigest(digest []byte) (felt.Felt, felt.Felt, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return felt.Zero, felt.Zero, coreerr.New(coreerr.CodeInternal, "signing failed", err)
	}
	r := feltFromScalar(new(big.Int).SetBytes(sig[:32]))
	sVal := feltFromScalar(new(big.Int).SetBytes(sig[32:64]))
	return r, sVal, nil
}

var _ Signer = (*SessionSigner)(nil)
