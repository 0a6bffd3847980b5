// Package activity implements the append-only Activity Log (spec §4.9):
// every policy-relevant event — session lifecycle changes, transfer
// submission and confirmation — is recorded here, correlated by
// transaction hash, and durably capped at the 50 most recent records.
package activity

import (
	"encoding/json"
	"sync"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/keystore"
)

// MaxRecords is the durable and in-memory cap (spec §3, §4.9).
const MaxRecords = 50

// Kind classifies an activity record. The set is closed.
type Kind string

const (
	KindOnboarding         Kind = "onboarding"
	KindPolicyUpdated      Kind = "policy_updated"
	KindSessionCreated     Kind = "session_created"
	KindSessionRegistered  Kind = "session_registered"
	KindSessionRevoked     Kind = "session_revoked"
	KindEmergencyRevokeAll Kind = "emergency_revoke_all"
	KindTransferSubmitted  Kind = "transfer_submitted"
	KindTransferSucceeded  Kind = "transfer_succeeded"
	KindTransferReverted   Kind = "transfer_reverted"
)

// Status is a record's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusReverted  Status = "reverted"
	StatusUnknown   Status = "unknown"
)

func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusReverted || s == StatusUnknown
}

// Record is one entry in the activity log.
type Record struct {
	ID              uint64     `json:"id"`
	CreatedAt       int64      `json:"createdAt"`
	Kind            Kind       `json:"kind"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle,omitempty"`
	TxHash          *felt.Felt `json:"txHash,omitempty"`
	Status          Status     `json:"status"`
	ExecutionStatus string     `json:"executionStatus,omitempty"`
	RevertReason    string     `json:"revertReason,omitempty"`
}

// StatusUpdate is the mutable subset of a Record that polling applies.
type StatusUpdate struct {
	Status          Status
	ExecutionStatus string
	RevertReason    string
}

// Log is the append-only, keystore-backed activity log. Write-through:
// every mutation re-persists the full capped record set immediately.
type Log struct {
	mu      sync.Mutex
	store   keystore.Store
	records []Record // ascending by ID, oldest first
	nextID  uint64
}

// NewLog opens (or initializes) a Log backed by store, loading any
// previously persisted records under keystore.KeyActivityLog.
func NewLog(store keystore.Store) (*Log, error) {
	l := &Log{store: store}
	raw, ok, err := store.Get(keystore.KeyActivityLog)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to read activity log", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &l.records); err != nil {
			return nil, coreerr.New(coreerr.CodeInternal, "corrupt activity log", err)
		}
	}
	for _, r := range l.records {
		if r.ID >= l.nextID {
			l.nextID = r.ID + 1
		}
	}
	return l, nil
}

func (l *Log) persistLocked() error {
	raw, err := json.Marshal(l.records)
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to marshal activity log", err)
	}
	if err := l.store.Set(keystore.KeyActivityLog, string(raw)); err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to persist activity log", err)
	}
	return nil
}

// Append adds a new record with a monotonically increasing id, evicting
// the oldest record if the cap is exceeded.
func (l *Log) Append(kind Kind, title, subtitle string, txHash *felt.Felt, status Status, createdAt int64) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		ID:        l.nextID,
		CreatedAt: createdAt,
		Kind:      kind,
		Title:     title,
		Subtitle:  subtitle,
		TxHash:    txHash,
		Status:    status,
	}
	l.nextID++
	l.records = append(l.records, rec)
	if len(l.records) > MaxRecords {
		l.records = l.records[len(l.records)-MaxRecords:]
	}
	if err := l.persistLocked(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// UpdateByTxHash applies a status update to the record matching txHash.
// Idempotent: reapplying the same terminal status (and fields) twice is
// a no-op (spec §4.9, §8 property 8). Returns (updated, found).
func (l *Log) UpdateByTxHash(txHash felt.Felt, update StatusUpdate) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.records {
		rec := &l.records[i]
		if rec.TxHash == nil || !rec.TxHash.Equal(txHash) {
			continue
		}
		if rec.Status.terminal() &&
			rec.Status == update.Status &&
			rec.ExecutionStatus == update.ExecutionStatus &&
			rec.RevertReason == update.RevertReason {
			return *rec, true, nil
		}
		rec.Status = update.Status
		rec.ExecutionStatus = update.ExecutionStatus
		rec.RevertReason = update.RevertReason
		if err := l.persistLocked(); err != nil {
			return Record{}, true, err
		}
		return *rec, true, nil
	}
	return Record{}, false, nil
}

// List returns all records, most recently appended first.
func (l *Log) List() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	for i, rec := range l.records {
		out[len(l.records)-1-i] = rec
	}
	return out
}

// PendingWithTxHash returns every record currently in StatusPending that
// carries a transaction hash — the status poller's per-cycle work list.
func (l *Log) PendingWithTxHash() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for _, rec := range l.records {
		if rec.Status == StatusPending && rec.TxHash != nil {
			out = append(out, rec)
		}
	}
	return out
}
