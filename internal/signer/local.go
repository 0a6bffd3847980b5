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

// feltModulus is 2^252, used to fold a secp256k1 scalar (which can occupy
// up to 256 bits) into the felt domain. This is purely a representational
// convenience of the substitute signing primitive (see package doc); it
// has no bearing on the cryptographic soundness of the underlying
// ECDSA signature, which is computed over the full secp256k1 field.
var feltModulus = new(big.Int).Lsh(big.NewInt(1), 252)

func feltFromScalar(v *big.Int) felt.Felt {
	reduced := new(big.Int).Mod(v, feltModulus)
	f, _ := felt.FromBigInt(reduced)
	return f
}

// LocalSigner is the owner-path signer: it holds the account owner's
// private key directly and signs both raw transaction hashes (returning
// [r, s]) and SNIP-12 typed-data payloads for session administration.
// Deploy-account and declare transactions, and every register/revoke
// typed-data payload, route here — never to the session signer (spec
// §4.4, §4.5).
type LocalSigner struct {
	key       *ecdsa.PrivateKey
	publicKey felt.Felt
}

// NewLocalSigner constructs a LocalSigner from a raw private key felt.
func NewLocalSigner(privateKey felt.Felt) (*LocalSigner, error) {
	raw := privateKey.Bytes32()
	key, err := crypto.ToECDSA(raw[:])
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "invalid owner private key", err)
	}
	pub := feltFromScalar(key.PublicKey.X)
	return &LocalSigner{key: key, publicKey: pub}, nil
}

// PublicKey returns the owner's public key felt.
func (s *LocalSigner) PublicKey() felt.Felt {
	return s.publicKey
}

// SignTransaction signs a transaction hash, returning the owner
// signature shape [r, s].
func (s *LocalSigner) SignTransaction(ctx context.Context, hash felt.Felt) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, coreerr.New(coreerr.CodeTransportTimeout, "signing request canceled", err)
	}
	r, sVal, err := s.signHash(hash)
	if err != nil {
		return nil, err
	}
	return Signature{r, sVal}, nil
}

// SignTypedData signs a SNIP-12 payload for session administration,
// returning the same [r, s] owner shape.
func (s *LocalSigner) SignTypedData(ctx context.Context, payload *typeddata.Payload) (Signature, error) {
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
	return Signature{r, sVal}, nil
}

func (s *LocalSigner) signHash(hash felt.Felt) (felt.Felt, felt.Felt, error) {
	b := hash.Bytes32()
	return s.signDigest(b[:])
}

func (s *LocalSigner) signDigest(digest []byte) (felt.Felt, felt.Felt, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return felt.Zero, felt.Zero, coreerr.New(coreerr.CodeInternal, "signing failed", err)
	}
	r := feltFromScalar(new(big.Int).SetBytes(sig[:32]))
	sVal := feltFromScalar(new(big.Int).SetBytes(sig[32:64]))
	// In-process private key material exists only for the duration of
	// this call; callers that hold the felt originals are responsible
	// for their own overwrite-after-use.
	return r, sVal, nil
}

var _ Signer = (*LocalSigner)(nil)
