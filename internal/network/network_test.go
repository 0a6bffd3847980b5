package network

import "testing"

func TestResolveKnownNetworks(t *testing.T) {
	for _, id := range []ID{Sepolia, Mainnet} {
		cfg, err := Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", id, err)
		}
		if cfg.RPCURL == "" {
			t.Errorf("Resolve(%s) returned empty RPCURL", id)
		}
		if _, err := cfg.ChainIDFelt(); err != nil {
			t.Errorf("ChainIDFelt(%s): %v", id, err)
		}
	}
}

func TestResolveUnknownNetwork(t *testing.T) {
	if _, err := Resolve(ID("goerli")); err == nil {
		t.Fatalf("expected error for unsupported network")
	}
}

func TestResolveTokenAllSymbols(t *testing.T) {
	for _, sym := range []Symbol{ETH, STRK, USDC} {
		tok, err := ResolveToken(sym)
		if err != nil {
			t.Fatalf("ResolveToken(%s): %v", sym, err)
		}
		if tok.Decimals <= 0 {
			t.Errorf("ResolveToken(%s).Decimals = %d, want > 0", sym, tok.Decimals)
		}
		for _, id := range []ID{Sepolia, Mainnet} {
			if _, err := tok.AddressOn(id); err != nil {
				t.Errorf("%s.AddressOn(%s): %v", sym, id, err)
			}
		}
	}
}

func TestResolveTokenUnknownSymbol(t *testing.T) {
	if _, err := ResolveToken(Symbol("DAI")); err == nil {
		t.Fatalf("expected error for unsupported token")
	}
}

func TestAddressOnUnknownNetwork(t *testing.T) {
	tok, err := ResolveToken(ETH)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if _, err := tok.AddressOn(ID("goerli")); err == nil {
		t.Fatalf("expected cross-network mismatch error")
	}
}
