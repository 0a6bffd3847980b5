// Package policy implements the pre-flight Policy Evaluator (spec §4.6):
// an ordered sequence of DENY checks applied to every PreparedAction
// before it may be signed and submitted, plus the daily rolling spend
// window the dailySpendCapUsd check consults.
package policy

import (
	"math/big"
	"sync"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/network"
)

// ContractAllowlistMode governs how an unlisted target contract is
// treated (spec §3).
type ContractAllowlistMode string

const (
	ModeTrustedOnly ContractAllowlistMode = "trusted-only"
	ModeWarn        ContractAllowlistMode = "warn"
	ModeOpen        ContractAllowlistMode = "open"
)

// Policy is the process-wide rule set. Mutations require owner
// authentication at the caller's layer; this package only evaluates and
// stores the current policy value.
type Policy struct {
	DailySpendCapCents    int64
	PerTxCapCents         int64
	AllowlistedRecipients map[felt.Felt]struct{}
	ContractAllowlistMode ContractAllowlistMode
	AllowedTargets        map[felt.Felt]struct{}
	AllowedTargetsPreset  string
	EmergencyLockdown     bool
}

// windowEntry is one (amount-cents, timestamp) pair in the daily rolling
// window (spec §4.6).
type windowEntry struct {
	amountCents int64
	timestamp   int64
}

const dayInSeconds = 24 * 60 * 60

// CheckInput is everything the evaluator needs to judge one
// PreparedAction.
type CheckInput struct {
	SessionPublicKey              felt.Felt
	TokenSymbol                   network.Symbol
	SupportedTokens               map[network.Symbol]struct{}
	AmountBaseUnits               *big.Int
	AmountUSDCents                int64
	TargetContract                felt.Felt
	SessionSpendingLimitBaseUnits *big.Int
	Now                           int64
}

// Evaluator holds the current policy and the per-session daily spend
// windows it checks dailySpendCapUsd against.
type Evaluator struct {
	mu      sync.Mutex
	policy  Policy
	windows map[felt.Felt][]windowEntry
}

// NewEvaluator constructs an Evaluator with an initial policy.
func NewEvaluator(p Policy) *Evaluator {
	return &Evaluator{policy: p, windows: make(map[felt.Felt][]windowEntry)}
}

// SetPolicy replaces the current policy wholesale. Tightening a bound
// (lower cap, smaller allow-list, enabling lockdown) can only turn
// previously-ALLOW inputs toward DENY, never the reverse, because
// Evaluate is a pure function of (policy, input) re-run from scratch on
// every call — spec §8 property 7.
func (e *Evaluator) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

func (e *Evaluator) evictLocked(publicKey felt.Felt, now int64) {
	entries := e.windows[publicKey]
	cutoff := now - dayInSeconds
	kept := entries[:0]
	for _, entry := range entries {
		if entry.timestamp > cutoff {
			kept = append(kept, entry)
		}
	}
	e.windows[publicKey] = kept
}

func (e *Evaluator) windowSumLocked(publicKey felt.Felt, now int64) int64 {
	e.evictLocked(publicKey, now)
	var sum int64
	for _, entry := range e.windows[publicKey] {
		sum += entry.amountCents
	}
	return sum
}

// RecordSpend appends a (amount-cents, timestamp) pair to the session's
// daily window. Call only after a transfer is actually submitted/
// confirmed, never speculatively during evaluation.
func (e *Evaluator) RecordSpend(publicKey felt.Felt, amountCents, now int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evictLocked(publicKey, now)
	e.windows[publicKey] = append(e.windows[publicKey], windowEntry{amountCents: amountCents, timestamp: now})
}

// Evaluate runs every DENY check, in order, against in. Returns
// accumulated warnings (never erasing them) on success, or a *coreerr.Error
// carrying a single user-facing reason and a stable machine code on
// denial.
func (e *Evaluator) Evaluate(in CheckInput) ([]string, error) {
	e.mu.Lock()
	p := e.policy
	e.mu.Unlock()

	if p.EmergencyLockdown {
		return nil, coreerr.New(coreerr.CodeEmergencyLockdown, "Emergency lockdown is enabled", nil)
	}

	if in.SupportedTokens != nil {
		if _, ok := in.SupportedTokens[in.TokenSymbol]; !ok {
			return nil, coreerr.New(coreerr.CodePolicyDenied, "token is not supported", nil).
				WithDetails("code", "TOKEN_NOT_SUPPORTED")
		}
	}

	if in.AmountBaseUnits == nil || in.AmountBaseUnits.Sign() <= 0 {
		return nil, coreerr.New(coreerr.CodePolicyDenied, "amount must be greater than zero", nil).
			WithDetails("code", "AMOUNT_NOT_POSITIVE")
	}

	if in.SessionSpendingLimitBaseUnits != nil && in.AmountBaseUnits.Cmp(in.SessionSpendingLimitBaseUnits) > 0 {
		return nil, coreerr.New(coreerr.CodePolicyDenied, "amount exceeds the session's spend limit", nil).
			WithDetails("code", "SPEND_LIMIT_EXCEEDED")
	}

	if p.PerTxCapCents > 0 && in.AmountUSDCents > p.PerTxCapCents {
		return nil, coreerr.New(coreerr.CodePolicyDenied,
			formatCapDenial(p.PerTxCapCents), nil).
			WithDetails("code", "PER_TX_CAP_EXCEEDED").
			WithDetails("capCents", itoa(p.PerTxCapCents))
	}

	if p.DailySpendCapCents > 0 {
		e.mu.Lock()
		projected := e.windowSumLocked(in.SessionPublicKey, in.Now) + in.AmountUSDCents
		e.mu.Unlock()
		if projected > p.DailySpendCapCents {
			return nil, coreerr.New(coreerr.CodePolicyDenied, "daily spend cap would be exceeded", nil).
				WithDetails("code", "DAILY_CAP_EXCEEDED")
		}
	}

	var warnings []string
	switch p.ContractAllowlistMode {
	case ModeTrustedOnly:
		if !inTargetSet(p.AllowedTargets, in.TargetContract) {
			return nil, coreerr.New(coreerr.CodePolicyDenied, "target contract is not on the trusted allow-list", nil).
				WithDetails("code", "CONTRACT_NOT_TRUSTED")
		}
	case ModeWarn:
		if !inTargetSet(p.AllowedTargets, in.TargetContract) {
			warnings = append(warnings, "target contract is not on the trusted allow-list")
		}
	case ModeOpen:
		// allow silently
	}

	return warnings, nil
}

// CheckSessionAllowedContracts applies the session credential's own
// allowedContracts list (spec §4.6 step 7), separate from the
// process-wide contract allow-list above. An empty list is a wildcard.
func CheckSessionAllowedContracts(allowedContracts []felt.Felt, target felt.Felt) error {
	if len(allowedContracts) == 0 {
		return nil
	}
	for _, c := range allowedContracts {
		if c.Equal(target) {
			return nil
		}
	}
	return coreerr.New(coreerr.CodePolicyDenied, "target contract is not in the session's allowed contracts", nil).
		WithDetails("code", "SESSION_CONTRACT_NOT_ALLOWED")
}

func inTargetSet(set map[felt.Felt]struct{}, target felt.Felt) bool {
	if set == nil {
		return false
	}
	_, ok := set[target]
	return ok
}

func formatCapDenial(capCents int64) string {
	return "amount exceeds the per-transaction cap of $" + formatCents(capCents)
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + itoa(cents/100) + "." + pad2(cents%100)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func pad2(v int64) string {
	s := itoa(v)
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
