// Command sessiond runs the Session Authority Subsystem's local HTTP
// control plane: the Core→UI boundary of spec §6, exposed over Gin
// instead of wired directly into a mobile app shell, so any local UI or
// agent process can drive session creation, transfer preparation and
// execution, and activity polling over HTTP.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/starkclaw/session-core/internal/activity"
	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/flags"
	"github.com/starkclaw/session-core/internal/intent"
	"github.com/starkclaw/session-core/internal/keystore"
	"github.com/starkclaw/session-core/internal/network"
	"github.com/starkclaw/session-core/internal/policy"
	"github.com/starkclaw/session-core/internal/poller"
	"github.com/starkclaw/session-core/internal/registry"
	"github.com/starkclaw/session-core/internal/rpcclient"
	"github.com/starkclaw/session-core/internal/signer"
)

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	rpcURL := flag.String("rpc-url", "http://localhost:5050/rpc/v0_8", "Starknet JSON-RPC endpoint")
	networkID := flag.String("network", string(network.Sepolia), "network id")
	keystorePath := flag.String("keystore-path", "./sessiond-keystore.jwe", "path to the JWE-sealed keystore file")
	keystoreKeyHex := flag.String("keystore-key-hex", "", "32-byte AES-256-GCM keystore key, hex-encoded (required)")
	accountAddressHex := flag.String("account-address", "", "session account contract address, hex (required)")
	chainIDHex := flag.String("chain-id", "0x534e5f5345504f4c4941", "Starknet chain id, hex (defaults to SN_SEPOLIA)")
	ownerPrivateKeyHex := flag.String("owner-private-key", "", "owner private key, hex (required)")
	perTxCapCents := flag.Int64("per-tx-cap-cents", 100_00, "per-transaction spending cap in USD cents")
	dailyCapCents := flag.Int64("daily-cap-cents", 500_00, "daily rolling spending cap in USD cents")
	verbose := flag.Bool("verbose", false, "log request/response tracing")
	flag.Parse()

	if *keystoreKeyHex == "" || *accountAddressHex == "" || *ownerPrivateKeyHex == "" {
		fmt.Fprintln(os.Stderr, "missing required flags: -keystore-key-hex, -account-address, -owner-private-key")
		os.Exit(1)
	}

	keystoreKey, err := hex.DecodeString(*keystoreKeyHex)
	if err != nil {
		log.Fatalf("malformed -keystore-key-hex: %v", err)
	}
	accountAddress, err := felt.FromHex(*accountAddressHex)
	if err != nil {
		log.Fatalf("malformed -account-address: %v", err)
	}
	chainID, err := felt.FromHex(*chainIDHex)
	if err != nil {
		log.Fatalf("malformed -chain-id: %v", err)
	}
	ownerPrivateKey, err := felt.FromHex(*ownerPrivateKeyHex)
	if err != nil {
		log.Fatalf("malformed -owner-private-key: %v", err)
	}

	store, err := keystore.NewFileStore(*keystorePath, keystoreKey)
	if err != nil {
		log.Fatalf("failed to open keystore: %v", err)
	}

	rpc := rpcclient.New(*rpcURL)

	actlog, err := activity.NewLog(store)
	if err != nil {
		log.Fatalf("failed to open activity log: %v", err)
	}

	owner, err := signer.NewLocalSigner(ownerPrivateKey)
	if err != nil {
		log.Fatalf("failed to derive owner signer: %v", err)
	}

	reg, err := registry.New(store, rpc, actlog, owner)
	if err != nil {
		log.Fatalf("failed to open session registry: %v", err)
	}

	ev := policy.NewEvaluator(policy.Policy{
		PerTxCapCents:      *perTxCapCents,
		DailySpendCapCents: *dailyCapCents,
	})

	featureFlags, err := flags.New(store)
	if err != nil {
		log.Fatalf("failed to open feature flags: %v", err)
	}

	preparer := &intent.Preparer{
		Registry:        reg,
		Policy:          ev,
		RPC:             rpc,
		SupportedTokens: map[network.Symbol]struct{}{network.USDC: {}},
	}

	s := &server{
		reg:            reg,
		preparer:       preparer,
		rpc:            rpc,
		log:            actlog,
		flags:          featureFlags,
		networkID:      network.ID(*networkID),
		accountAddress: accountAddress,
		chainID:        chainID,
		owner:          owner,
	}

	p := poller.New(rpc, actlog, nil, func() int64 { return time.Now().Unix() })
	go p.Run(context.Background())

	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	s.registerRoutes(r)

	log.Printf("sessiond listening on %s (network=%s)", *addr, *networkID)
	if err := r.Run(*addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

type server struct {
	reg            *registry.Registry
	preparer       *intent.Preparer
	rpc            *rpcclient.Client
	log            *activity.Log
	flags          *flags.Flags
	networkID      network.ID
	accountAddress felt.Felt
	chainID        felt.Felt
	owner          signer.Signer
}

func (s *server) registerRoutes(r *gin.Engine) {
	r.GET("/sessions", s.handleListSessions)
	r.POST("/sessions", s.handleCreateSession)
	r.POST("/sessions/:publicKey/register", s.handleRegisterSession)
	r.POST("/sessions/:publicKey/revoke", s.handleRevokeSession)
	r.POST("/sessions/emergency-revoke-all", s.handleEmergencyRevokeAll)
	r.POST("/transfers/prepare", s.handlePrepareTransfer)
	r.POST("/transfers/execute", s.handleExecuteTransfer)
	r.GET("/activity", s.handleListActivity)
	r.GET("/flags/:name", s.handleGetFlag)
	r.PUT("/flags/:name", s.handleSetFlag)
}

func (s *server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.ListSessionKeys())
}

type createSessionRequest struct {
	TokenSymbol     string `json:"tokenSymbol" binding:"required"`
	SpendingLimit   string `json:"spendingLimit" binding:"required"`
	ValidForSeconds int64  `json:"validForSeconds" binding:"required"`
}

func (s *server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed request body", err))
		return
	}
	limit, ok := new(big.Int).SetString(req.SpendingLimit, 10)
	if !ok {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed spendingLimit", nil))
		return
	}
	cred, err := s.reg.CreateLocal(registry.CreateLocalInput{
		TokenSymbol:     network.Symbol(req.TokenSymbol),
		SpendingLimit:   limit,
		ValidForSeconds: req.ValidForSeconds,
		Now:             time.Now().Unix(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cred)
}

func (s *server) handleRegisterSession(c *gin.Context) {
	pubKey, err := felt.FromHex(c.Param("publicKey"))
	if err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed publicKey", err))
		return
	}
	txHash, err := s.reg.RegisterOnchain(c.Request.Context(), pubKey, s.adminInput(), time.Now().Unix())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"txHash": txHash.Hex()})
}

func (s *server) handleRevokeSession(c *gin.Context) {
	pubKey, err := felt.FromHex(c.Param("publicKey"))
	if err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed publicKey", err))
		return
	}
	txHash, err := s.reg.RevokeOnchain(c.Request.Context(), pubKey, s.adminInput(), time.Now().Unix())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"txHash": txHash.Hex()})
}

func (s *server) handleEmergencyRevokeAll(c *gin.Context) {
	txHash, err := s.reg.EmergencyRevokeAllOnchain(c.Request.Context(), s.adminInput(), time.Now().Unix())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"txHash": txHash.Hex()})
}

func (s *server) adminInput() registry.RegisterInput {
	return registry.RegisterInput{
		AccountAddress: s.accountAddress,
		ChainID:        s.chainID,
		Nonce:          felt.FromUint64(0),
		MaxFee:         felt.FromUint64(1),
	}
}

type prepareTransferRequest struct {
	TokenSymbol      string `json:"tokenSymbol" binding:"required"`
	Amount           string `json:"amount" binding:"required"`
	To               string `json:"to" binding:"required"`
	AmountUSDCents   int64  `json:"amountUsdCents"`
	SessionPublicKey string `json:"sessionPublicKey"`
}

func (req prepareTransferRequest) toInput(networkID network.ID) (intent.PrepareTransferInput, error) {
	to, err := felt.FromHex(req.To)
	if err != nil {
		return intent.PrepareTransferInput{}, coreerr.New(coreerr.CodeInvalidInput, "malformed recipient address", err)
	}
	var sessionPublicKey *felt.Felt
	if req.SessionPublicKey != "" {
		pk, err := felt.FromHex(req.SessionPublicKey)
		if err != nil {
			return intent.PrepareTransferInput{}, coreerr.New(coreerr.CodeInvalidInput, "malformed sessionPublicKey", err)
		}
		sessionPublicKey = &pk
	}
	return intent.PrepareTransferInput{
		NetworkID:        networkID,
		TokenSymbol:      network.Symbol(req.TokenSymbol),
		AmountText:       req.Amount,
		To:               to,
		SessionPublicKey: sessionPublicKey,
		AmountUSDCents:   req.AmountUSDCents,
		Now:              time.Now().Unix(),
	}, nil
}

func (s *server) handlePrepareTransfer(c *gin.Context) {
	var req prepareTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed request body", err))
		return
	}
	in, err := req.toInput(s.networkID)
	if err != nil {
		writeError(c, err)
		return
	}
	action, err := s.preparer.PrepareTransfer(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

type executeTransferRequest struct {
	prepareTransferRequest
	Nonce  string `json:"nonce" binding:"required"`
	MaxFee string `json:"maxFee" binding:"required"`
}

func (s *server) handleExecuteTransfer(c *gin.Context) {
	var req executeTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed request body", err))
		return
	}
	in, err := req.prepareTransferRequest.toInput(s.networkID)
	if err != nil {
		writeError(c, err)
		return
	}
	action, err := s.preparer.PrepareTransfer(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}

	nonce, err := felt.FromHex(req.Nonce)
	if err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed nonce", err))
		return
	}
	maxFee, err := felt.FromHex(req.MaxFee)
	if err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed maxFee", err))
		return
	}

	result, err := intent.ExecuteTransfer(c.Request.Context(), s.rpc, s.log, intent.ExecuteInput{
		Action:         action,
		AccountAddress: s.accountAddress,
		Nonce:          nonce,
		MaxFee:         maxFee,
		LocalSigner:    s.owner,
		SignerMode:     "local",
		ChainID:        s.chainID,
		ValidUntil:     action.Policy.ValidUntil,
		Now:            time.Now().Unix(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (s *server) handleListActivity(c *gin.Context) {
	c.JSON(http.StatusOK, s.log.List())
}

func (s *server) handleGetFlag(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "enabled": s.flags.IsEnabled(c.Param("name"))})
}

type setFlagRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *server) handleSetFlag(c *gin.Context) {
	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, coreerr.New(coreerr.CodeInvalidInput, "malformed request body", err))
		return
	}
	if err := s.flags.Set(c.Param("name"), req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "enabled": s.flags.IsEnabled(c.Param("name"))})
}

// writeError maps a core error onto spec §6's "single-line human reason
// plus a machine code" DENY shape, using the HTTP status the teacher's
// mcp.PaymentError convention reserves for the matching failure class.
func writeError(c *gin.Context, err error) {
	code := coreerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case coreerr.CodeInvalidInput:
		status = http.StatusBadRequest
	case coreerr.CodePolicyDenied, coreerr.CodeEmergencyLockdown, coreerr.CodeOnchainInvalid,
		coreerr.CodeSignerPolicyDenied, coreerr.CodeSignerAuthError:
		status = http.StatusForbidden
	case coreerr.CodeSessionNotFound:
		status = http.StatusNotFound
	case coreerr.CodeSessionExpired, coreerr.CodeSignerValidityExp, coreerr.CodeSignerReplayNonce:
		status = http.StatusConflict
	case coreerr.CodeTransportTimeout, coreerr.CodeTransportError, coreerr.CodeRPCError, coreerr.CodeUnavailable:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
