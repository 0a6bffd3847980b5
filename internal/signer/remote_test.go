package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
)

func testRequest(validUntil int64) SessionTransactionRequest {
	return SessionTransactionRequest{
		AccountAddress: felt.MustFromHex("0x1"),
		ChainID:        felt.MustFromHex("0x534e5f5345504f4c4941"),
		Nonce:          felt.FromUint64(1),
		ValidUntil:     validUntil,
		Calls: []Call{{
			ContractAddress: felt.MustFromHex("0x2"),
			Entrypoint:      "transfer",
			Calldata:        []felt.Felt{felt.MustFromHex("0x3"), felt.FromUint64(1), felt.Zero},
		}},
		Context: RequestContext{Requester: "mobile-app", Tool: "transfer", ClientID: "client-1"},
	}
}

func newSignerAgainst(t *testing.T, srv *httptest.Server) *RemoteSigner {
	t.Helper()
	return NewRemoteSigner(RemoteSignerParams{
		ProxyURL:       srv.URL + "/",
		ClientID:       "client-1",
		HMACSecret:     "test-hmac-secret",
		Requester:      "mobile-app",
		RequestTimeout: 2 * time.Second,
		HTTPClient:     srv.Client(),
	})
}

func TestRemoteSignerSuccessExtendsToFiveFelts(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{"x-keyring-client-id", "x-keyring-timestamp", "x-keyring-nonce", "x-keyring-signature"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing required header %s", h)
			}
		}
		resp := wireResponse{
			Signature:        []string{"0xaaa", "0xbbb", "0xccc", felt.FromUint64(uint64(validUntil)).Hex()},
			SessionPublicKey: "0xaaa",
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	sig, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil))
	if err != nil {
		t.Fatalf("SignSessionTransaction: %v", err)
	}
	if len(sig) != 5 {
		t.Fatalf("expected 5 felts, got %d", len(sig))
	}
	if !sig[0].Equal(felt.MustFromHex("0xaaa")) {
		t.Fatalf("expected first felt to be the response pubkey")
	}
	if !sig[3].Equal(signatureModeV2) || !sig[4].Equal(specVersion2) {
		t.Fatalf("expected trailing metadata felts to be mode=v2, spec_version=2")
	}
}

func TestRemoteSignerRejectsMalformedSignatureLength(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := wireResponse{Signature: []string{"0x11", "0x22", "0x33"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	_, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil))
	if err == nil {
		t.Fatalf("expected error for 3-element signature")
	}
	if coreerr.CodeOf(err) != coreerr.CodeSignerMalformed {
		t.Fatalf("expected CodeSignerMalformed, got %s", coreerr.CodeOf(err))
	}
	if got := err.Error(); !contains(got, "pubkey, r, s, valid_until") {
		t.Fatalf("expected error message to mention shape, got %q", got)
	}
}

func TestRemoteSignerDetectsPubkeyRotation(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).Unix()
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		pubkey := "0xaaa"
		if call == 2 {
			pubkey = "0xbbb"
		}
		resp := wireResponse{
			Signature: []string{pubkey, "0xbbb", "0xccc", felt.FromUint64(uint64(validUntil)).Hex()},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	if _, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil)); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil))
	if err == nil {
		t.Fatalf("expected error on pubkey rotation")
	}
	if coreerr.CodeOf(err) != coreerr.CodeSignerPubkeyChanged {
		t.Fatalf("expected CodeSignerPubkeyChanged, got %s", coreerr.CodeOf(err))
	}
}

func TestRemoteSignerRejectsAlreadyExpiredValidity(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	_, err := s.SignSessionTransaction(context.Background(), testRequest(time.Now().Add(-time.Minute).Unix()))
	if err == nil {
		t.Fatalf("expected error for already-expired validity window")
	}
	if coreerr.CodeOf(err) != coreerr.CodeSignerValidityExp {
		t.Fatalf("expected CodeSignerValidityExp, got %s", coreerr.CodeOf(err))
	}
	if hit {
		t.Fatalf("expected no network request for an already-expired validity window")
	}
}

func TestRemoteSignerMapsAuthFailure(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid signature"}`))
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	_, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil))
	if coreerr.CodeOf(err) != coreerr.CodeSignerAuthError {
		t.Fatalf("expected CodeSignerAuthError, got %s", coreerr.CodeOf(err))
	}
}

func TestRemoteSignerMapsReplayNonce(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"replay_nonce"}`))
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	_, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil))
	if coreerr.CodeOf(err) != coreerr.CodeSignerReplayNonce {
		t.Fatalf("expected CodeSignerReplayNonce, got %s", coreerr.CodeOf(err))
	}
}

func TestRemoteSignerMapsPolicyDenied(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"per-tx cap exceeded"}`))
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	_, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil))
	if coreerr.CodeOf(err) != coreerr.CodeSignerPolicyDenied {
		t.Fatalf("expected CodeSignerPolicyDenied, got %s", coreerr.CodeOf(err))
	}
}

func TestRemoteSignerNeverLeaksHMACSecret(t *testing.T) {
	validUntil := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"denied for secret test-hmac-secret"}`))
	}))
	defer srv.Close()

	s := newSignerAgainst(t, srv)
	_, err := s.SignSessionTransaction(context.Background(), testRequest(validUntil))
	if err == nil {
		t.Fatalf("expected error")
	}
	if contains(err.Error(), "test-hmac-secret") {
		t.Fatalf("error message leaked the HMAC secret: %s", err.Error())
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
