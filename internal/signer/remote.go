package signer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
)

const sessionTransactionPath = "/v1/sign/session-transaction"

// Call is one contract invocation inside a session-transaction signing
// request.
type Call struct {
	ContractAddress felt.Felt
	Entrypoint      string
	Calldata        []felt.Felt
}

// RequestContext carries the caller-attribution fields the remote signer
// logs against its own audit trail (spec §4.4).
type RequestContext struct {
	Requester      string
	Tool           string
	Reason         string
	ClientID       string
	MobileActionID string
}

// SessionTransactionRequest is everything the keyring-proxy needs to sign
// a session-key transaction: it ships the call plan itself, rather than a
// precomputed hash, because the remote enclave computes and signs the
// transaction hash internally.
type SessionTransactionRequest struct {
	AccountAddress felt.Felt
	KeyID          string
	ChainID        felt.Felt
	Nonce          felt.Felt
	ValidUntil     int64
	Calls          []Call
	Context        RequestContext
}

// SessionTransactionSigner is the contract the remote signer exposes to
// the intent preparer's execute path. It is distinct from the narrow
// TransactionSigner (hash-only) interface the in-process signers
// implement, because the remote signing request contract (spec §4.4)
// ships full call/nonce/validity context, not a precomputed hash.
type SessionTransactionSigner interface {
	SignSessionTransaction(ctx context.Context, req SessionTransactionRequest) (Signature, error)
}

// RemoteSignerParams configures a RemoteSigner. ProxyURL must already be
// normalized with a trailing slash (internal/signerconfig does this at
// load time); HTTPClient defaults to http.DefaultClient if nil.
type RemoteSignerParams struct {
	ProxyURL       string
	ClientID       string
	HMACSecret     string
	KeyID          string
	Requester      string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// RemoteSigner is the keyring-proxy variant of the session signer: the
// scalar multiplication happens in a remote enclave, reached over an
// HMAC-SHA256-authenticated HTTP request. Modeled on the teacher's
// CDPClient.doRequest (signers/coinbase/client.go) for the
// context-bounded, header-authenticated HTTP call shape, with the bearer
// JWT swapped for this spec's raw HMAC canonical-payload scheme (spec
// §4.4) since the keyring proxy is not Coinbase's CDP API.
type RemoteSigner struct {
	params RemoteSignerParams

	mu            sync.Mutex
	lastPublicKey *felt.Felt
}

// NewRemoteSigner constructs a RemoteSigner. Never logs or returns the
// configured HMAC secret.
func NewRemoteSigner(params RemoteSignerParams) *RemoteSigner {
	if params.HTTPClient == nil {
		params.HTTPClient = http.DefaultClient
	}
	if params.RequestTimeout <= 0 {
		params.RequestTimeout = 15 * time.Second
	}
	return &RemoteSigner{params: params}
}

// PublicKey returns the most recently observed session public key, or
// the zero felt if no request has completed yet.
func (s *RemoteSigner) PublicKey() felt.Felt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPublicKey == nil {
		return felt.Zero
	}
	return *s.lastPublicKey
}

type wireCall struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

type wireContext struct {
	Requester      string `json:"requester"`
	Tool           string `json:"tool,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ClientID       string `json:"client_id"`
	MobileActionID string `json:"mobile_action_id,omitempty"`
}

type wireRequest struct {
	AccountAddress string      `json:"accountAddress"`
	KeyID          string      `json:"keyId,omitempty"`
	ChainID        string      `json:"chainId"`
	Nonce          string      `json:"nonce"`
	ValidUntil     int64       `json:"validUntil"`
	Calls          []wireCall  `json:"calls"`
	Context        wireContext `json:"context"`
}

type wireResponse struct {
	Signature        []string `json:"signature"`
	SessionPublicKey string   `json:"sessionPublicKey,omitempty"`
}

// SignSessionTransaction sends the signing request to the keyring proxy
// and validates the response against every mandatory check in spec
// §4.4, returning the strict 5-felt session signature.
func (s *RemoteSigner) SignSessionTransaction(ctx context.Context, req SessionTransactionRequest) (Signature, error) {
	now := time.Now()
	if req.ValidUntil <= now.Unix() {
		return nil, coreerr.New(coreerr.CodeSignerValidityExp, "session validity window already expired", nil).
			WithHint("create a new session or extend its validity before signing")
	}

	body := wireRequest{
		AccountAddress: req.AccountAddress.Hex(),
		KeyID:          req.KeyID,
		ChainID:        req.ChainID.Hex(),
		Nonce:          req.Nonce.Hex(),
		ValidUntil:     req.ValidUntil,
		Context: wireContext{
			Requester:      req.Context.Requester,
			Tool:           req.Context.Tool,
			Reason:         req.Context.Reason,
			ClientID:       s.params.ClientID,
			MobileActionID: req.Context.MobileActionID,
		},
	}
	for _, c := range req.Calls {
		calldata := make([]string, len(c.Calldata))
		for i, f := range c.Calldata {
			calldata[i] = f.Hex()
		}
		body.Calls = append(body.Calls, wireCall{
			ContractAddress: c.ContractAddress.Hex(),
			Entrypoint:      c.Entrypoint,
			Calldata:        calldata,
		})
	}

	rawBody, err := json.Marshal(body)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to marshal signing request", err)
	}

	signCtx, cancel := context.WithTimeout(ctx, s.params.RequestTimeout)
	defer cancel()

	httpReq, err := s.buildRequest(signCtx, rawBody)
	if err != nil {
		return nil, err
	}

	resp, err := s.params.HTTPClient.Do(httpReq)
	if err != nil {
		if signCtx.Err() != nil {
			return nil, coreerr.New(coreerr.CodeTransportTimeout, "signing request timed out", err)
		}
		return nil, coreerr.New(coreerr.CodeTransportError, "signing request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeTransportError, "failed to read signer response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, s.mapErrorResponse(resp.StatusCode, respBody)
	}

	var parsed wireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, coreerr.New(coreerr.CodeSignerMalformed, "signer response is not valid JSON", err)
	}

	return s.validateAndExtend(parsed, req.ValidUntil)
}

func (s *RemoteSigner) buildRequest(ctx context.Context, rawBody []byte) (*http.Request, error) {
	url := strings.TrimSuffix(s.params.ProxyURL, "/") + sessionTransactionPath

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to generate request nonce", err)
	}
	nonce := hex.EncodeToString(nonceBytes)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	bodyHash := sha256Hex(rawBody)

	payload := timestamp + "." + nonce + "." + http.MethodPost + "." + sessionTransactionPath + "." + bodyHash
	signature := hmacSha256Hex(s.params.HMACSecret, payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(rawBody))
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to construct signing request", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-keyring-request-id", uuid.NewString())
	httpReq.Header.Set("x-keyring-client-id", s.params.ClientID)
	httpReq.Header.Set("x-keyring-timestamp", timestamp)
	httpReq.Header.Set("x-keyring-nonce", nonce)
	httpReq.Header.Set("x-keyring-signature", signature)
	return httpReq, nil
}

func (s *RemoteSigner) mapErrorResponse(status int, body []byte) error {
	safeBody := redact(string(body), s.params.HMACSecret)
	switch {
	case status == http.StatusUnauthorized:
		if strings.Contains(strings.ToUpper(safeBody), "REPLAY") || strings.Contains(strings.ToUpper(safeBody), "NONCE") {
			return coreerr.New(coreerr.CodeSignerReplayNonce, "signer rejected the request nonce", nil).
				WithDetails("body", safeBody)
		}
		return coreerr.New(coreerr.CodeSignerAuthError, "signer authentication failed", nil).
			WithDetails("body", safeBody)
	case status >= 400 && status < 500:
		return coreerr.New(coreerr.CodeSignerPolicyDenied, "signer denied the request", nil).
			WithDetails("status", strconv.Itoa(status)).
			WithDetails("body", safeBody)
	default:
		return coreerr.New(coreerr.CodeTransportError, "signer returned a server error", nil).
			WithDetails("status", strconv.Itoa(status)).
			WithDetails("body", safeBody)
	}
}

func (s *RemoteSigner) validateAndExtend(resp wireResponse, validUntil int64) (Signature, error) {
	if len(resp.Signature) != 4 {
		return nil, coreerr.New(coreerr.CodeSignerMalformed,
			fmt.Sprintf("signer response must contain exactly 4 felts [pubkey, r, s, valid_until], got %d", len(resp.Signature)),
			nil)
	}

	parsed := make([]felt.Felt, 4)
	for i, hexStr := range resp.Signature {
		f, err := felt.FromHex(hexStr)
		if err != nil {
			return nil, coreerr.New(coreerr.CodeSignerMalformed, "signer response contains a malformed felt", err)
		}
		parsed[i] = f
	}
	pubkey, r, sVal, respValidUntilFelt := parsed[0], parsed[1], parsed[2], parsed[3]

	if resp.SessionPublicKey != "" {
		declared, err := felt.FromHex(resp.SessionPublicKey)
		if err != nil {
			return nil, coreerr.New(coreerr.CodeSignerMalformed, "signer response sessionPublicKey is malformed", err)
		}
		if !declared.Equal(pubkey) {
			return nil, coreerr.New(coreerr.CodeSignerMalformed,
				"signer response sessionPublicKey does not match signature pubkey felt", nil)
		}
	}

	wantValidUntil := felt.FromUint64(uint64(validUntil))
	if !respValidUntilFelt.Equal(wantValidUntil) {
		return nil, coreerr.New(coreerr.CodeSignerMalformed,
			"signer response valid_until does not match the request's valid_until", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPublicKey != nil && !s.lastPublicKey.Equal(pubkey) {
		return nil, coreerr.New(coreerr.CodeSignerPubkeyChanged,
			"signer returned a different session public key than a prior response", nil).
			WithHint("treat the session as compromised and revoke it")
	}
	s.lastPublicKey = &pubkey

	return appendSessionMetadata(pubkey, r, sVal), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSha256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// redact replaces any occurrence of secret in s with a placeholder, so a
// raw upstream error body never carries the HMAC secret back out through
// an error message or log line.
func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}

var _ SessionTransactionSigner = (*RemoteSigner)(nil)
