// Package keystore implements the secure, namespaced secret store (spec
// §4.2): owner credential, per-session private keys, the session index,
// feature flags, and remote-signer credentials all live here under fixed
// namespaced keys, sealed at rest.
//
// Grounded on the teacher's encrypted-keystore path (evm/keystore.go,
// WithKeystore) for the "secrets never touch disk in the clear" posture,
// generalized from a single go-ethereum keystore file to an arbitrary
// string-keyed namespace because this core stores more than one kind of
// secret (owner key, N session keys, remote-signer HMAC credential, flags,
// activity).
package keystore


// Namespaced key names, exactly as listed in spec §6 "Persisted state
// layout". The version suffix is part of the key; a migration adds a new
// suffix and leaves old data in place for rollback, it never rewrites in
// place.
const (
	KeyOwnerCredential  = "starkclaw.wallet.v1"
	KeySessionIndex     = "starkclaw.session_keys.v1"
	KeyFeatureFlags     = "starkclaw.feature_flags.v1"
	KeyActivityLog      = "starkclaw.activity.v1"
	KeyRemoteSignerCred = "starkclaw.remote_signer.v1"

	sessionPrivateKeyPrefix = "starkclaw.session_pk."
)

// SessionPrivateKeyName returns the namespaced key under which a
// session's private key is stored, keyed by its public key per spec §4.2.
func SessionPrivateKeyName(publicKeyHex string) string {
	return sessionPrivateKeyPrefix + publicKeyHex
}

// IsSessionPrivateKeyName reports whether key is a per-session private
// key entry, for Reset's enumeration of what to wipe.
func IsSessionPrivateKeyName(key string) bool {
	return len(key) > len(sessionPrivateKeyPrefix) && key[:len(sessionPrivateKeyPrefix)] == sessionPrivateKeyPrefix
}

// Store is the secret-storage contract. Get MUST NOT return an error for
// a missing key — a missing key is reported by ok=false, never by err.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	// Reset wipes every namespaced key. In-memory state is cleared first;
	// any failure clearing the durable backing store afterward is
	// best-effort and swallowed, per spec §4.2.
	Reset() error
}
