package activity

import (
	"testing"

	"github.com/starkclaw/session-core/internal/felt"
	"github.com/starkclaw/session-core/internal/keystore"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	log, err := NewLog(keystore.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	a, _ := log.Append(KindOnboarding, "onboarded", "", nil, StatusSucceeded, 1)
	b, _ := log.Append(KindPolicyUpdated, "policy updated", "", nil, StatusSucceeded, 2)
	if b.ID <= a.ID {
		t.Fatalf("expected monotonic ids, got %d then %d", a.ID, b.ID)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	log, _ := NewLog(keystore.NewMemoryStore())
	_, _ = log.Append(KindOnboarding, "first", "", nil, StatusSucceeded, 1)
	_, _ = log.Append(KindPolicyUpdated, "second", "", nil, StatusSucceeded, 2)
	list := log.List()
	if len(list) != 2 || list[0].Title != "second" || list[1].Title != "first" {
		t.Fatalf("expected newest-first order, got %+v", list)
	}
}

func TestCapAt50EvictsOldest(t *testing.T) {
	log, _ := NewLog(keystore.NewMemoryStore())
	for i := 0; i < MaxRecords+5; i++ {
		_, _ = log.Append(KindTransferSubmitted, "tx", "", nil, StatusPending, int64(i))
	}
	list := log.List()
	if len(list) != MaxRecords {
		t.Fatalf("expected cap at %d, got %d", MaxRecords, len(list))
	}
	if list[len(list)-1].CreatedAt != 5 {
		t.Fatalf("expected oldest surviving record createdAt=5, got %d", list[len(list)-1].CreatedAt)
	}
}

func TestUpdateByTxHashIsIdempotentOnTerminalStatus(t *testing.T) {
	log, _ := NewLog(keystore.NewMemoryStore())
	tx := felt.FromUint64(0xabc)
	_, err := log.Append(KindTransferSubmitted, "send", "", &tx, StatusPending, 1)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	first, found, err := log.UpdateByTxHash(tx, StatusUpdate{Status: StatusSucceeded, ExecutionStatus: "SUCCEEDED"})
	if err != nil || !found {
		t.Fatalf("first update: found=%v err=%v", found, err)
	}
	second, found, err := log.UpdateByTxHash(tx, StatusUpdate{Status: StatusSucceeded, ExecutionStatus: "SUCCEEDED"})
	if err != nil || !found {
		t.Fatalf("second update: found=%v err=%v", found, err)
	}
	if first != second {
		t.Fatalf("expected idempotent update to produce an equal record: %+v vs %+v", first, second)
	}
}

func TestUpdateByTxHashUnknownHashReturnsNotFound(t *testing.T) {
	log, _ := NewLog(keystore.NewMemoryStore())
	_, found, err := log.UpdateByTxHash(felt.FromUint64(999), StatusUpdate{Status: StatusSucceeded})
	if err != nil {
		t.Fatalf("UpdateByTxHash: %v", err)
	}
	if found {
		t.Fatalf("expected not found for unknown tx hash")
	}
}

func TestPendingWithTxHashFiltersCorrectly(t *testing.T) {
	log, _ := NewLog(keystore.NewMemoryStore())
	tx := felt.FromUint64(1)
	_, _ = log.Append(KindTransferSubmitted, "pending with hash", "", &tx, StatusPending, 1)
	_, _ = log.Append(KindOnboarding, "no hash", "", nil, StatusPending, 2)
	_, _ = log.Append(KindTransferSucceeded, "already done", "", &tx, StatusSucceeded, 3)

	pending := log.PendingWithTxHash()
	if len(pending) != 1 || pending[0].Title != "pending with hash" {
		t.Fatalf("expected exactly one pending-with-hash record, got %+v", pending)
	}
}

func TestLogPersistsAcrossReopen(t *testing.T) {
	store := keystore.NewMemoryStore()
	log1, _ := NewLog(store)
	_, _ = log1.Append(KindOnboarding, "onboarded", "", nil, StatusSucceeded, 1)

	log2, err := NewLog(store)
	if err != nil {
		t.Fatalf("reopen NewLog: %v", err)
	}
	if len(log2.List()) != 1 {
		t.Fatalf("expected persisted record to survive reopen")
	}
}
