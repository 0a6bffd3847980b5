// Command declare is the class-hash declaration CLI (spec §6): it
// declares the upstream session-account Sierra contract class on a
// Starknet network, or confirms it is already declared, and fails loudly
// on a class-hash mismatch so CI never deploys session accounts against
// the wrong bytecode.
//
// Configuration is environment-variable driven, matching the teacher's
// examples/mcp and examples/gin command entrypoints' preference for
// flag.Parse-free, env-sourced configuration in deployment tooling:
//
//	STARKNET_DEPLOYER_ADDRESS           deployer account address, hex (required)
//	STARKNET_DEPLOYER_PRIVATE_KEY       deployer private key, hex (required)
//	STARKNET_RPC_URL                    JSON-RPC endpoint (default http://localhost:5050/rpc/v0_8)
//	UPSTREAM_SESSION_ACCOUNT_PATH       path to the Sierra contract_class JSON to declare (required)
//	EXPECTED_SESSION_ACCOUNT_CLASS_HASH expected class hash, hex (required)
//	SESSION_ACCOUNT_COMPILED_CLASS_HASH compiled class hash, hex (required unless -dry-run)
//	DECLARE_DRY_RUN                     "1" to print the planned declare transaction without submitting
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/registry"
	"github.com/starkclaw/session-core/internal/rpcclient"
	"github.com/starkclaw/session-core/internal/signer"
)

const defaultRPCURL = "http://localhost:5050/rpc/v0_8"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "declare: "+err.Error())
		os.Exit(1)
	}
}

type config struct {
	deployerAddress   felt.Felt
	deployerKey       felt.Felt
	rpcURL            string
	contractClassPath string
	expectedClassHash felt.Felt
	compiledClassHash felt.Felt
	dryRun            bool
}

func loadConfig() (config, error) {
	var cfg config
	var err error

	cfg.deployerAddress, err = requireFeltEnv("STARKNET_DEPLOYER_ADDRESS")
	if err != nil {
		return cfg, err
	}
	cfg.deployerKey, err = requireFeltEnv("STARKNET_DEPLOYER_PRIVATE_KEY")
	if err != nil {
		return cfg, err
	}
	cfg.rpcURL = os.Getenv("STARKNET_RPC_URL")
	if cfg.rpcURL == "" {
		cfg.rpcURL = defaultRPCURL
	}
	cfg.contractClassPath = os.Getenv("UPSTREAM_SESSION_ACCOUNT_PATH")
	if cfg.contractClassPath == "" {
		return cfg, fmt.Errorf("UPSTREAM_SESSION_ACCOUNT_PATH is required")
	}
	cfg.expectedClassHash, err = requireFeltEnv("EXPECTED_SESSION_ACCOUNT_CLASS_HASH")
	if err != nil {
		return cfg, err
	}
	cfg.dryRun = os.Getenv("DECLARE_DRY_RUN") == "1"

	compiledHex := os.Getenv("SESSION_ACCOUNT_COMPILED_CLASS_HASH")
	if compiledHex == "" {
		if !cfg.dryRun {
			return cfg, fmt.Errorf("SESSION_ACCOUNT_COMPILED_CLASS_HASH is required")
		}
	} else {
		cfg.compiledClassHash, err = felt.FromHex(compiledHex)
		if err != nil {
			return cfg, fmt.Errorf("SESSION_ACCOUNT_COMPILED_CLASS_HASH: %w", err)
		}
	}
	return cfg, nil
}

func requireFeltEnv(name string) (felt.Felt, error) {
	v := os.Getenv(name)
	if v == "" {
		return felt.Felt{}, fmt.Errorf("%s is required", name)
	}
	f, err := felt.FromHex(v)
	if err != nil {
		return felt.Felt{}, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	contractClass, err := os.ReadFile(cfg.contractClassPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cfg.contractClassPath, err)
	}
	if !json.Valid(contractClass) {
		return fmt.Errorf("%s does not contain valid JSON", cfg.contractClassPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcclient.DefaultTimeout)
	defer cancel()

	rpc := rpcclient.New(cfg.rpcURL)

	declared, err := rpc.ClassDeclared(ctx, cfg.expectedClassHash)
	if err != nil {
		return fmt.Errorf("checking existing declaration: %w", err)
	}
	if declared {
		fmt.Printf("class %s is already declared on %s\n", cfg.expectedClassHash.Hex(), cfg.rpcURL)
		return nil
	}

	if cfg.dryRun {
		fmt.Printf("dry run: would declare class %s from %s (not yet declared on %s)\n",
			cfg.expectedClassHash.Hex(), cfg.contractClassPath, cfg.rpcURL)
		return nil
	}
	if cfg.compiledClassHash == (felt.Felt{}) {
		return fmt.Errorf("SESSION_ACCOUNT_COMPILED_CLASS_HASH is required to submit a declare transaction")
	}

	owner, err := signer.NewLocalSigner(cfg.deployerKey)
	if err != nil {
		return fmt.Errorf("constructing deployer signer: %w", err)
	}

	nonce := felt.Zero // a fresh deployer account's first transaction; operators rotating declarations reuse a dedicated deployer account per spec §6's CLI contract
	maxFee := felt.FromUint64(1_000_000_000_000_000)

	hash := registry.ProvisionalTransactionHash([]felt.Felt{
		cfg.deployerAddress, nonce, cfg.expectedClassHash, cfg.compiledClassHash,
	})
	sig, err := owner.SignTransaction(ctx, hash)
	if err != nil {
		return fmt.Errorf("signing declare transaction: %w", err)
	}

	result, err := rpc.DeclareTransaction(ctx, cfg.deployerAddress, contractClass, cfg.compiledClassHash, sig, nonce, maxFee)
	if err != nil {
		return fmt.Errorf("submitting declare transaction: %w", err)
	}
	if result.ClassHash.Hex() != cfg.expectedClassHash.Hex() {
		return fmt.Errorf("class hash mismatch: node declared %s, expected %s", result.ClassHash.Hex(), cfg.expectedClassHash.Hex())
	}

	if err := awaitDeclaration(ctx, rpc, result.TransactionHash); err != nil {
		return fmt.Errorf("awaiting declare confirmation: %w", err)
	}

	fmt.Printf("declared class %s in transaction %s\n", result.ClassHash.Hex(), result.TransactionHash.Hex())
	return nil
}

func awaitDeclaration(ctx context.Context, rpc *rpcclient.Client, txHash felt.Felt) error {
	const pollInterval = 2 * time.Second
	for {
		receipt, err := rpc.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			// a freshly submitted tx hash not yet indexed by the node surfaces
			// as an RPC-level "not found" error, not a missing receipt; retry.
			var coreErr *coreerr.Error
			if errors.As(err, &coreErr) && coreErr.Code == coreerr.CodeRPCError {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(pollInterval):
					continue
				}
			}
			return err
		}
		switch receipt.Status {
		case rpcclient.ExecutionSucceeded:
			return nil
		case rpcclient.ExecutionReverted:
			return fmt.Errorf("declare transaction %s reverted: %s", txHash.Hex(), receipt.RevertReason)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
