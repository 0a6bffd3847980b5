// Package network defines the closed set of supported Starknet networks
// and the token registry the preparer and signer consult for addresses,
// chain IDs, and decimals.
package network

import (
	"fmt"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
)

// ID identifies a supported Starknet network. The set is closed per
// spec §3: {sepolia, mainnet}.
type ID string

const (
	Sepolia ID = "sepolia"
	Mainnet ID = "mainnet"
)

// Config carries the per-network RPC endpoint and chain ID.
type Config struct {
	ID         ID
	RPCURL     string
	ChainIDHex string
}

// registry is the closed set of supported networks. ChainIDHex values are
// the ASCII-encoding-as-felt short strings Starknet uses for chain IDs
// (e.g. "SN_SEPOLIA" encoded as a felt, rendered in hex).
var registry = map[ID]Config{
	Sepolia: {
		ID:         Sepolia,
		RPCURL:     "https://starknet-sepolia.public.blastapi.io/rpc/v0_7",
		ChainIDHex: "0x534e5f5345504f4c4941",
	},
	Mainnet: {
		ID:         Mainnet,
		RPCURL:     "https://starknet-mainnet.public.blastapi.io/rpc/v0_7",
		ChainIDHex: "0x534e5f4d41494e",
	},
}

// Resolve looks up a network's configuration, failing closed for any id
// outside the closed set.
func Resolve(id ID) (Config, error) {
	cfg, ok := registry[id]
	if !ok {
		return Config{}, coreerr.New(coreerr.CodeInvalidInput, fmt.Sprintf("unsupported network %q", id), nil)
	}
	return cfg, nil
}

// ChainIDFelt parses the network's chain ID into a Felt for typed-data
// domains and signature digests.
func (c Config) ChainIDFelt() (felt.Felt, error) {
	return felt.FromHex(c.ChainIDHex)
}

// Symbol identifies a supported token. The set is closed per spec §3.
type Symbol string

const (
	ETH  Symbol = "ETH"
	STRK Symbol = "STRK"
	USDC Symbol = "USDC"
)

// Token describes a supported token's decimals and per-network address.
// Decimals are immutable once registered.
type Token struct {
	Symbol          Symbol
	Decimals        int
	Name            string
	addressByNetwork map[ID]string
}

var tokenRegistry = map[Symbol]Token{
	ETH: {
		Symbol:   ETH,
		Decimals: 18,
		Name:     "Ether",
		addressByNetwork: map[ID]string{
			Sepolia: "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7",
			Mainnet: "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7",
		},
	},
	STRK: {
		Symbol:   STRK,
		Decimals: 18,
		Name:     "Starknet Token",
		addressByNetwork: map[ID]string{
			Sepolia: "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d",
			Mainnet: "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d",
		},
	},
	USDC: {
		Symbol:   USDC,
		Decimals: 6,
		Name:     "USD Coin",
		addressByNetwork: map[ID]string{
			Sepolia: "0x05a643907b9a4bc6a55e9069c4fd5fd1f5c79a22470690f75556c4736e34426",
			Mainnet: "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8",
		},
	},
}

// ResolveToken looks up a token descriptor by symbol.
func ResolveToken(symbol Symbol) (Token, error) {
	tok, ok := tokenRegistry[symbol]
	if !ok {
		return Token{}, coreerr.New(coreerr.CodeInvalidInput, fmt.Sprintf("unsupported token %q", symbol), nil)
	}
	return tok, nil
}

// AddressOn resolves the token's contract address on a given network,
// rejecting cross-network mismatches where the token has no address.
func (t Token) AddressOn(id ID) (felt.Felt, error) {
	hex, ok := t.addressByNetwork[id]
	if !ok {
		return felt.Felt{}, coreerr.New(coreerr.CodeInvalidInput,
			fmt.Sprintf("token %s is not available on network %s", t.Symbol, id), nil)
	}
	return felt.FromHex(hex)
}
