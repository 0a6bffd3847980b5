package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type wireRequest struct {
	Method string `json:"method"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireResponse struct {
	Result any        `json:"result,omitempty"`
	Error  *wireError `json:"error,omitempty"`
}

func rpcServer(t *testing.T, handler func(method string) wireResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(req.Method))
	}))
}

func writeContractClass(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session_account.json")
	if err := os.WriteFile(path, []byte(`{"sierra_program":[]}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func setBaseEnv(t *testing.T, srvURL, classPath string) {
	t.Helper()
	t.Setenv("STARKNET_DEPLOYER_ADDRESS", "0x1")
	t.Setenv("STARKNET_DEPLOYER_PRIVATE_KEY", "0x2")
	t.Setenv("STARKNET_RPC_URL", srvURL)
	t.Setenv("UPSTREAM_SESSION_ACCOUNT_PATH", classPath)
	t.Setenv("EXPECTED_SESSION_ACCOUNT_CLASS_HASH", "0xabc")
	t.Setenv("SESSION_ACCOUNT_COMPILED_CLASS_HASH", "0xdef")
	t.Setenv("DECLARE_DRY_RUN", "")
}

func TestLoadConfigRequiresDeployerAddress(t *testing.T) {
	t.Setenv("STARKNET_DEPLOYER_ADDRESS", "")
	t.Setenv("STARKNET_DEPLOYER_PRIVATE_KEY", "0x2")
	t.Setenv("UPSTREAM_SESSION_ACCOUNT_PATH", "/tmp/x")
	t.Setenv("EXPECTED_SESSION_ACCOUNT_CLASS_HASH", "0xabc")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("expected an error for a missing deployer address")
	}
}

func TestLoadConfigAllowsMissingCompiledHashInDryRun(t *testing.T) {
	t.Setenv("STARKNET_DEPLOYER_ADDRESS", "0x1")
	t.Setenv("STARKNET_DEPLOYER_PRIVATE_KEY", "0x2")
	t.Setenv("UPSTREAM_SESSION_ACCOUNT_PATH", "/tmp/x")
	t.Setenv("EXPECTED_SESSION_ACCOUNT_CLASS_HASH", "0xabc")
	t.Setenv("SESSION_ACCOUNT_COMPILED_CLASS_HASH", "")
	t.Setenv("DECLARE_DRY_RUN", "1")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !cfg.dryRun {
		t.Fatalf("expected dryRun to be true")
	}
}

func TestRunReturnsNilWhenAlreadyDeclared(t *testing.T) {
	srv := rpcServer(t, func(method string) wireResponse {
		if method != "starknet_getClass" {
			t.Fatalf("unexpected method %s", method)
		}
		return wireResponse{Result: map[string]any{"sierra_program": []any{}}}
	})
	defer srv.Close()

	setBaseEnv(t, srv.URL, writeContractClass(t))
	if err := run(); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunDryRunSkipsSubmission(t *testing.T) {
	calls := 0
	srv := rpcServer(t, func(method string) wireResponse {
		calls++
		if method != "starknet_getClass" {
			t.Fatalf("dry run should never call %s", method)
		}
		return wireResponse{Error: &wireError{Code: 28, Message: "Class hash not found"}}
	})
	defer srv.Close()

	setBaseEnv(t, srv.URL, writeContractClass(t))
	t.Setenv("DECLARE_DRY_RUN", "1")
	t.Setenv("SESSION_ACCOUNT_COMPILED_CLASS_HASH", "")
	if err := run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one RPC call in dry run, got %d", calls)
	}
}

func TestRunFailsOnClassHashMismatch(t *testing.T) {
	srv := rpcServer(t, func(method string) wireResponse {
		switch method {
		case "starknet_getClass":
			return wireResponse{Error: &wireError{Code: 28, Message: "Class hash not found"}}
		case "starknet_addDeclareTransaction":
			return wireResponse{Result: map[string]any{"class_hash": "0x999", "transaction_hash": "0x1"}}
		}
		t.Fatalf("unexpected method %s", method)
		return wireResponse{}
	})
	defer srv.Close()

	setBaseEnv(t, srv.URL, writeContractClass(t))
	err := run()
	if err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("expected a class hash mismatch error, got %v", err)
	}
}

func TestRunDeclaresAndAwaitsConfirmation(t *testing.T) {
	srv := rpcServer(t, func(method string) wireResponse {
		switch method {
		case "starknet_getClass":
			return wireResponse{Error: &wireError{Code: 28, Message: "Class hash not found"}}
		case "starknet_addDeclareTransaction":
			return wireResponse{Result: map[string]any{"class_hash": "0xabc", "transaction_hash": "0x1"}}
		case "starknet_getTransactionReceipt":
			return wireResponse{Result: map[string]any{"execution_status": "SUCCEEDED", "finality_status": "ACCEPTED_ON_L2"}}
		}
		t.Fatalf("unexpected method %s", method)
		return wireResponse{}
	})
	defer srv.Close()

	setBaseEnv(t, srv.URL, writeContractClass(t))
	if err := run(); err != nil {
		t.Fatalf("run: %v", err)
	}
}
