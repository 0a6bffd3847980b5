package signerconfig

import (
	"testing"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/keystore"
)

func storeWithCreds(t *testing.T, raw string) keystore.Store {
	t.Helper()
	store := keystore.NewMemoryStore()
	if err := store.Set(keystore.KeyRemoteSignerCred, raw); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return store
}

func TestLoadDefaultsToLocalMode(t *testing.T) {
	cfg, err := Load(Source{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeLocal {
		t.Fatalf("expected default mode local, got %s", cfg.Mode)
	}
	if cfg.RequestTimeoutMs != defaultRequestTimeoutMs {
		t.Fatalf("expected default request timeout, got %d", cfg.RequestTimeoutMs)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	_, err := Load(Source{Mode: "fast"})
	if coreerr.CodeOf(err) != coreerr.CodeInvalidInput {
		t.Fatalf("expected CodeInvalidInput, got %s", coreerr.CodeOf(err))
	}
}

func TestLoadRemoteRequiresProxyURL(t *testing.T) {
	_, err := Load(Source{Mode: ModeRemote})
	if coreerr.CodeOf(err) != coreerr.CodeConfigMissingProxy {
		t.Fatalf("expected CodeConfigMissingProxy, got %s", coreerr.CodeOf(err))
	}
}

func TestLoadRejectsInsecureTransport(t *testing.T) {
	store := storeWithCreds(t, `{"clientId":"c1","hmacSecret":"s1"}`)
	_, err := Load(Source{Mode: ModeRemote, ProxyURL: "http://proxy.example.com", Store: store})
	if coreerr.CodeOf(err) != coreerr.CodeConfigInsecure {
		t.Fatalf("expected CodeConfigInsecure, got %s", coreerr.CodeOf(err))
	}
}

func TestLoadAllowsLoopbackOverPlainHTTP(t *testing.T) {
	store := storeWithCreds(t, `{"clientId":"c1","hmacSecret":"s1"}`)
	cfg, err := Load(Source{Mode: ModeRemote, ProxyURL: "http://127.0.0.1:8787", Store: store})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProxyURL != "http://127.0.0.1:8787/" {
		t.Fatalf("expected normalized trailing slash, got %s", cfg.ProxyURL)
	}
}

func TestLoadNormalizesTrailingSlash(t *testing.T) {
	store := storeWithCreds(t, `{"clientId":"c1","hmacSecret":"s1"}`)
	cfg, err := Load(Source{Mode: ModeRemote, ProxyURL: "https://proxy.example.com/", Store: store})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProxyURL != "https://proxy.example.com/" {
		t.Fatalf("expected single trailing slash, got %s", cfg.ProxyURL)
	}
}

func TestLoadRejectsMissingMTLSInProduction(t *testing.T) {
	store := storeWithCreds(t, `{"clientId":"c1","hmacSecret":"s1"}`)
	_, err := Load(Source{Mode: ModeRemote, ProxyURL: "https://proxy.example.com", Production: true, Store: store})
	if coreerr.CodeOf(err) != coreerr.CodeConfigMTLSRequired {
		t.Fatalf("expected CodeConfigMTLSRequired, got %s", coreerr.CodeOf(err))
	}
}

func TestLoadAllowsProductionWithMTLSRequired(t *testing.T) {
	store := storeWithCreds(t, `{"clientId":"c1","hmacSecret":"s1","keyId":"k1"}`)
	cfg, err := Load(Source{Mode: ModeRemote, ProxyURL: "https://proxy.example.com", Production: true, MTLSRequired: true, Store: store})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientID != "c1" || cfg.HMACSecret != "s1" || cfg.KeyID != "k1" {
		t.Fatalf("unexpected credentials in config: %+v", cfg)
	}
}

func TestLoadFailsWhenCredentialsMissing(t *testing.T) {
	store := keystore.NewMemoryStore()
	_, err := Load(Source{Mode: ModeRemote, ProxyURL: "https://proxy.example.com", Store: store})
	if coreerr.CodeOf(err) != coreerr.CodeInvalidInput {
		t.Fatalf("expected CodeInvalidInput for missing credentials, got %s", coreerr.CodeOf(err))
	}
}

func TestLoadFailsWhenCredentialsIncomplete(t *testing.T) {
	store := storeWithCreds(t, `{"clientId":"c1"}`)
	_, err := Load(Source{Mode: ModeRemote, ProxyURL: "https://proxy.example.com", Store: store})
	if coreerr.CodeOf(err) != coreerr.CodeInvalidInput {
		t.Fatalf("expected CodeInvalidInput for incomplete credentials, got %s", coreerr.CodeOf(err))
	}
}

func TestLoadRejectsTooShortRequestTimeout(t *testing.T) {
	_, err := Load(Source{RequestTimeoutMs: 500})
	if coreerr.CodeOf(err) != coreerr.CodeInvalidInput {
		t.Fatalf("expected CodeInvalidInput for sub-1000ms timeout, got %s", coreerr.CodeOf(err))
	}
}
