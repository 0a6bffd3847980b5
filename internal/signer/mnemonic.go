package signer

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/starkclaw/session-core/internal/coreerr"
)

// starknetDerivationPurpose and starknetDerivationCoinType lay out the
// BIP44 path this subsystem derives owner keys along:
// m/44'/9004'/0'/0/{accountIndex}. 9004 is SLIP-44's registered coin
// type for Starknet; the rest of the path mirrors BIP44's standard
// purpose/account/change levels.
const (
	starknetDerivationPurpose  = 44
	starknetDerivationCoinType = 9004
)

// NewMnemonic generates a fresh random BIP39 mnemonic phrase, for the
// opt-in mnemonic-backed owner onboarding path (never the default —
// createLocal's common case remains pure-random key generation).
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", coreerr.New(coreerr.CodeInternal, "failed to generate mnemonic entropy", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", coreerr.New(coreerr.CodeInternal, "failed to encode mnemonic", err)
	}
	return mnemonic, nil
}

// NewLocalSignerFromMnemonic derives an owner LocalSigner from a BIP39
// mnemonic phrase and account index, following
// m/44'/9004'/0'/0/{accountIndex}. The mnemonic itself is never
// persisted or logged by any caller in this subsystem; only the
// derivation method and account index are recorded (spec §4.5's session
// key derivation audit trail applies the same rule to session keys).
func NewLocalSignerFromMnemonic(mnemonic string, accountIndex uint32) (*LocalSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "invalid BIP39 mnemonic", nil)
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to derive master key from mnemonic seed", err)
	}
	key := master
	for _, index := range []uint32{
		bip32.FirstHardenedChild + starknetDerivationPurpose,
		bip32.FirstHardenedChild + starknetDerivationCoinType,
		bip32.FirstHardenedChild + 0,
		0,
		accountIndex,
	} {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, coreerr.New(coreerr.CodeInternal, "failed to derive owner key from mnemonic", err)
		}
	}

	ecdsaKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "derived key is not a valid private key", err)
	}
	privateKey := feltFromScalar(ecdsaKey.D)
	return NewLocalSigner(privateKey)
}
