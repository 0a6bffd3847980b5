// Package signerconfig implements the Remote-Signer Runtime Config
// loader (C10, spec §4.10): load-time validation of the knobs that
// decide whether the core signs session transactions in-process or
// hands them to a remote keyring-proxy enclave.
package signerconfig

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/keystore"
)

// Mode selects where session-transaction signing happens.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// credentials is the shape persisted under keystore.KeyRemoteSignerCred.
// clientId and hmacSecret are required once mode is remote; keyId is
// optional (spec §4.10).
type credentials struct {
	ClientID   string `json:"clientId"`
	HMACSecret string `json:"hmacSecret"`
	KeyID      string `json:"keyId,omitempty"`
}

// Source is the raw, unvalidated configuration Load consumes. Mode,
// ProxyURL, RequestTimeoutMs, Requester, and MTLSRequired come from
// whatever config surface the caller wires (env vars, a config file, a
// mobile app's settings store); credentials always come from the
// keystore, never from Source directly, per spec §4.10.
type Source struct {
	Mode             Mode
	ProxyURL         string
	RequestTimeoutMs int
	Requester        string
	MTLSRequired     bool
	Production       bool
	Store            keystore.Store
}

// Config is the immutable, validated result of Load. Nothing in this
// package mutates it after construction.
type Config struct {
	Mode             Mode
	ProxyURL         string // normalized, always ends in "/"
	ClientID         string
	HMACSecret       string
	KeyID            string
	RequestTimeoutMs int
	Requester        string
	MTLSRequired     bool
}

const defaultRequestTimeoutMs = 15_000

// Load validates src and, in remote mode, resolves signing credentials
// from the keystore, returning an immutable Config. Local mode never
// touches the keystore's remote-signer namespace.
func Load(src Source) (*Config, error) {
	mode := src.Mode
	if mode == "" {
		mode = ModeLocal
	}
	if mode != ModeLocal && mode != ModeRemote {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "unknown signer mode: "+string(mode), nil)
	}

	timeoutMs := src.RequestTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultRequestTimeoutMs
	} else if timeoutMs < 1000 {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "requestTimeoutMs must be >= 1000", nil)
	}

	cfg := &Config{
		Mode:             mode,
		RequestTimeoutMs: timeoutMs,
		Requester:        src.Requester,
		MTLSRequired:     src.MTLSRequired,
	}

	if mode == ModeLocal {
		return cfg, nil
	}

	if strings.TrimSpace(src.ProxyURL) == "" {
		return nil, coreerr.New(coreerr.CodeConfigMissingProxy, "remote signer mode requires a proxyUrl", nil)
	}

	normalized, err := normalizeProxyURL(src.ProxyURL)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "malformed proxyUrl", err)
	}
	if err := checkTransportPolicy(normalized); err != nil {
		return nil, err
	}
	cfg.ProxyURL = normalized

	if src.Production && !src.MTLSRequired {
		return nil, coreerr.New(coreerr.CodeConfigMTLSRequired, "production deployments must set mtlsRequired", nil)
	}

	creds, err := loadCredentials(src.Store)
	if err != nil {
		return nil, err
	}
	cfg.ClientID = creds.ClientID
	cfg.HMACSecret = creds.HMACSecret
	cfg.KeyID = creds.KeyID

	return cfg, nil
}

// normalizeProxyURL parses u and returns it with exactly one trailing
// slash (spec §4.10: "Normalizes proxyUrl to include trailing slash").
func normalizeProxyURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", coreerr.New(coreerr.CodeInvalidInput, "proxyUrl must be absolute", nil)
	}
	trimmed := strings.TrimRight(raw, "/")
	return trimmed + "/", nil
}

// checkTransportPolicy enforces spec §4.10's transport rule: the scheme
// must be https, or the host must be a loopback address — anything else
// (plaintext http to a non-loopback host) is rejected outright.
func checkTransportPolicy(normalized string) error {
	parsed, err := url.Parse(normalized)
	if err != nil {
		return coreerr.New(coreerr.CodeInvalidInput, "malformed proxyUrl", err)
	}
	if parsed.Scheme == "https" {
		return nil
	}
	host := parsed.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}
	return coreerr.New(coreerr.CodeConfigInsecure, "proxyUrl must be https or a loopback host", nil)
}

// loadCredentials reads and decodes the remote-signer credential blob
// from the keystore. Absence of the key, or of either required field, is
// a configuration error — there is no partial-credential fallback.
func loadCredentials(store keystore.Store) (credentials, error) {
	if store == nil {
		return credentials{}, coreerr.New(coreerr.CodeInternal, "remote signer mode requires a keystore", nil)
	}
	raw, ok, err := store.Get(keystore.KeyRemoteSignerCred)
	if err != nil {
		return credentials{}, coreerr.New(coreerr.CodeInternal, "failed to read remote signer credentials", err)
	}
	if !ok {
		return credentials{}, coreerr.New(coreerr.CodeInvalidInput, "no remote signer credentials configured", nil)
	}

	var creds credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return credentials{}, coreerr.New(coreerr.CodeInternal, "malformed remote signer credentials", err)
	}
	if creds.ClientID == "" || creds.HMACSecret == "" {
		return credentials{}, coreerr.New(coreerr.CodeInvalidInput, "remote signer credentials missing clientId or hmacSecret", nil)
	}
	return creds, nil
}
