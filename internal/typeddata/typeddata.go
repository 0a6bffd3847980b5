// Package typeddata builds SNIP-12 v2 typed-data payloads for session-key
// administration: registering, revoking, and emergency-revoking session
// keys. Field order within a message is part of what gets hashed and
// signed, so every builder here emits fields in a fixed, declared order —
// never derived from map iteration, which Go (correctly) randomizes for
// plain maps and which encoding/json alphabetizes for map keys.
//
// Strict v2 only: there is no parameter that can select a different
// domain version, and no code path in this package can emit one. Any
// version-1 compatibility shim is a regression, not a feature — a flag
// can be flipped by mistake, a missing code path cannot.
package typeddata

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/starkclaw/session-core/internal/felt"
)

// DomainName and DomainVersion are fixed; no caller can override them.
const (
	DomainName    = "Starkclaw"
	DomainVersion = "2"
)

// MaxAllowedTargets bounds the locally-stored allowed-contracts list that
// rides alongside RegisterSessionKey (spec §3, §4.5).
const MaxAllowedTargets = 4

// FieldType is one entry in a SNIP-12 type definition.
type FieldType struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Domain is the fixed SNIP-12 domain separator. Version and Name are
// always DomainVersion/DomainName; only ChainID and VerifyingContract vary
// per account and network.
type Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// field is one ordered key/value pair in a typed-data message.
type field struct {
	key   string
	value string
}

// orderedMessage preserves field insertion order through JSON
// serialization, unlike map[string]string which encoding/json always
// emits with alphabetized keys.
type orderedMessage []field

func (m orderedMessage) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Payload is the complete SNIP-12 typed-data structure: types, primary
// type, domain, and message, in the shape the account contract's
// __validate__ path (and any off-chain verifier) expects.
type Payload struct {
	Types       map[string][]FieldType `json:"types"`
	PrimaryType string                 `json:"primaryType"`
	Domain      Domain                 `json:"domain"`
	Message     orderedMessage         `json:"message"`
}

// Bytes serializes the payload deterministically: for any fixed input,
// repeated calls to the builders below followed by Bytes produce
// byte-identical output, in-process and across restarts, satisfying the
// SNIP-12 determinism property (spec §8.1).
func (p *Payload) Bytes() ([]byte, error) {
	return json.Marshal(p)
}

var domainType = []FieldType{
	{Name: "name", Type: "felt"},
	{Name: "version", Type: "felt"},
	{Name: "chainId", Type: "felt"},
	{Name: "verifyingContract", Type: "felt"},
}

func hexInt(v int64) string {
	if v < 0 {
		return "-0x" + strconv.FormatInt(-v, 16)
	}
	return "0x" + strconv.FormatInt(v, 16)
}

func newDomain(chainID, accountAddress felt.Felt) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID.Hex(),
		VerifyingContract: accountAddress.Hex(),
	}
}

// RegisterSessionKeyInput is the data bound into a RegisterSessionKey
// typed-data message.
type RegisterSessionKeyInput struct {
	ChainID            felt.Felt
	AccountAddress     felt.Felt
	SessionKey         felt.Felt
	ValidAfter         int64
	ValidUntil         int64
	SpendingLimit      felt.U256
	SpendingToken      felt.Felt
	AllowedContracts   []felt.Felt // up to MaxAllowedTargets; unused slots become the zero felt
}

// BuildRegisterSessionKey constructs the 10-field RegisterSessionKey
// payload in the exact field order the spec mandates: session_key,
// valid_after, valid_until, spending_limit_low, spending_limit_high,
// spending_token, allowed_contract_0..3.
func BuildRegisterSessionKey(in RegisterSessionKeyInput) *Payload {
	contracts := [MaxAllowedTargets]felt.Felt{}
	for i := 0; i < len(in.AllowedContracts) && i < MaxAllowedTargets; i++ {
		contracts[i] = in.AllowedContracts[i]
	}

	msg := orderedMessage{
		{key: "session_key", value: in.SessionKey.Hex()},
		{key: "valid_after", value: hexInt(in.ValidAfter)},
		{key: "valid_until", value: hexInt(in.ValidUntil)},
		{key: "spending_limit_low", value: in.SpendingLimit.Low.Hex()},
		{key: "spending_limit_high", value: in.SpendingLimit.High.Hex()},
		{key: "spending_token", value: in.SpendingToken.Hex()},
		{key: "allowed_contract_0", value: contracts[0].Hex()},
		{key: "allowed_contract_1", value: contracts[1].Hex()},
		{key: "allowed_contract_2", value: contracts[2].Hex()},
		{key: "allowed_contract_3", value: contracts[3].Hex()},
	}

	return &Payload{
		Types: map[string][]FieldType{
			"StarknetDomain": domainType,
			"RegisterSessionKey": {
				{Name: "session_key", Type: "felt"},
				{Name: "valid_after", Type: "felt"},
				{Name: "valid_until", Type: "felt"},
				{Name: "spending_limit_low", Type: "felt"},
				{Name: "spending_limit_high", Type: "felt"},
				{Name: "spending_token", Type: "felt"},
				{Name: "allowed_contract_0", Type: "felt"},
				{Name: "allowed_contract_1", Type: "felt"},
				{Name: "allowed_contract_2", Type: "felt"},
				{Name: "allowed_contract_3", Type: "felt"},
			},
		},
		PrimaryType: "RegisterSessionKey",
		Domain:      newDomain(in.ChainID, in.AccountAddress),
		Message:     msg,
	}
}

// RevokeSessionKeyInput is the data bound into a RevokeSessionKey message.
type RevokeSessionKeyInput struct {
	ChainID        felt.Felt
	AccountAddress felt.Felt
	SessionKey     felt.Felt
}

// BuildRevokeSessionKey constructs the single-field RevokeSessionKey
// payload.
func BuildRevokeSessionKey(in RevokeSessionKeyInput) *Payload {
	return &Payload{
		Types: map[string][]FieldType{
			"StarknetDomain": domainType,
			"RevokeSessionKey": {
				{Name: "session_key", Type: "felt"},
			},
		},
		PrimaryType: "RevokeSessionKey",
		Domain:      newDomain(in.ChainID, in.AccountAddress),
		Message: orderedMessage{
			{key: "session_key", value: in.SessionKey.Hex()},
		},
	}
}

// EmergencyRevokeAllInput is the data bound into an EmergencyRevokeAll
// message.
type EmergencyRevokeAllInput struct {
	ChainID        felt.Felt
	AccountAddress felt.Felt
	Nonce          felt.Felt
	Timestamp      int64
}

// BuildEmergencyRevokeAll constructs the EmergencyRevokeAll payload:
// nonce, timestamp, in that order.
func BuildEmergencyRevokeAll(in EmergencyRevokeAllInput) *Payload {
	return &Payload{
		Types: map[string][]FieldType{
			"StarknetDomain": domainType,
			"EmergencyRevokeAll": {
				{Name: "nonce", Type: "felt"},
				{Name: "timestamp", Type: "felt"},
			},
		},
		PrimaryType: "EmergencyRevokeAll",
		Domain:      newDomain(in.ChainID, in.AccountAddress),
		Message: orderedMessage{
			{key: "nonce", value: in.Nonce.Hex()},
			{key: "timestamp", value: hexInt(in.Timestamp)},
		},
	}
}
