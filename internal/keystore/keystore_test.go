package keystore

import (
	"path/filepath"
	"testing"
)

func testKey() []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestMemoryStoreGetMissingReturnsNoError(t *testing.T) {
	s := NewMemoryStore()
	v, ok, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get on missing key must not error, got %v", err)
	}
	if ok || v != "" {
		t.Fatalf("expected ok=false for missing key, got ok=%v v=%q", ok, v)
	}
}

func TestMemoryStoreSetGetDelete(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set(KeyOwnerCredential, "secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(KeyOwnerCredential)
	if err != nil || !ok || v != "secret" {
		t.Fatalf("Get after Set = (%q, %v, %v), want (secret, true, nil)", v, ok, err)
	}
	if err := s.Delete(KeyOwnerCredential); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(KeyOwnerCredential); ok {
		t.Fatalf("expected key gone after Delete")
	}
}

func TestMemoryStoreReset(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Set(KeySessionIndex, "[]")
	_ = s.Set(SessionPrivateKeyName("0xabc"), "pk")
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok, _ := s.Get(KeySessionIndex); ok {
		t.Fatalf("expected session index gone after Reset")
	}
	if _, ok, _ := s.Get(SessionPrivateKeyName("0xabc")); ok {
		t.Fatalf("expected session private key gone after Reset")
	}
}

func TestSessionPrivateKeyNamespacing(t *testing.T) {
	name := SessionPrivateKeyName("0xabc123")
	if name != "starkclaw.session_pk.0xabc123" {
		t.Fatalf("unexpected namespaced key: %q", name)
	}
	if !IsSessionPrivateKeyName(name) {
		t.Fatalf("expected IsSessionPrivateKeyName to recognize %q", name)
	}
	if IsSessionPrivateKeyName(KeyOwnerCredential) {
		t.Fatalf("did not expect owner credential key to match session prefix")
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.jwe")
	key := testKey()

	s1, err := NewFileStore(path, key)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s1.Set(KeyOwnerCredential, "owner-secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Set(SessionPrivateKeyName("0xdef"), "session-secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s2, err := NewFileStore(path, key)
	if err != nil {
		t.Fatalf("reopen NewFileStore: %v", err)
	}
	v, ok, err := s2.Get(KeyOwnerCredential)
	if err != nil || !ok || v != "owner-secret" {
		t.Fatalf("Get after reopen = (%q, %v, %v)", v, ok, err)
	}
	v, ok, err = s2.Get(SessionPrivateKeyName("0xdef"))
	if err != nil || !ok || v != "session-secret" {
		t.Fatalf("Get session secret after reopen = (%q, %v, %v)", v, ok, err)
	}
}

func TestFileStoreRejectsWrongKeySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.jwe")
	if _, err := NewFileStore(path, []byte("too-short")); err == nil {
		t.Fatalf("expected error for undersized key")
	}
}

func TestFileStoreResetClearsAndIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.jwe")
	key := testKey()

	s, err := NewFileStore(path, key)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_ = s.Set(KeyFeatureFlags, `{"session_signer_v2":true}`)
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset must swallow failures and never error: %v", err)
	}
	if _, ok, _ := s.Get(KeyFeatureFlags); ok {
		t.Fatalf("expected flags gone after Reset")
	}
}

func TestFileStoreGetMissingReturnsNoError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.jwe")
	s, err := NewFileStore(path, testKey())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, ok, err := s.Get("nope"); ok || err != nil {
		t.Fatalf("expected (false, nil) for missing key, got (%v, %v)", ok, err)
	}
}
