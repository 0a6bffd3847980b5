// Package flags implements the Feature Flags store (C11, spec §4.11):
// a small, keystore-backed map of named booleans, with exactly one
// hard-enforced flag whose value the caller can never actually change.
package flags

import (
	"encoding/json"
	"sync"

	"github.com/starkclaw/session-core/internal/coreerr"
	"github.com/starkclaw/session-core/internal/keystore"
)

// SessionSignerV2 is hard-enforced on: IsEnabled always reports true for
// it, and Set silently coerces any attempt to disable it back to true
// (spec §4.11). Session credentials are always v2 signatures; there is
// no runtime path back to a legacy signing mode.
const SessionSignerV2 = "session_signer_v2"

// defaults holds the value returned for a flag that has never been set.
var defaults = map[string]bool{
	SessionSignerV2: true,
}

// Flags is a keystore-backed feature-flag store. The zero value is not
// usable; construct with New.
type Flags struct {
	mu    sync.Mutex
	store keystore.Store
	vals  map[string]bool
}

// New loads the persisted flag set from store, defaulting to an empty
// map if none has ever been written.
func New(store keystore.Store) (*Flags, error) {
	f := &Flags{store: store, vals: make(map[string]bool)}
	raw, ok, err := store.Get(keystore.KeyFeatureFlags)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeInternal, "failed to read feature flags", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &f.vals); err != nil {
			return nil, coreerr.New(coreerr.CodeInternal, "malformed feature flag state", err)
		}
	}
	f.vals[SessionSignerV2] = true
	return f, nil
}

// IsEnabled reports whether name is set. An unset flag falls back to
// its default (false unless a default is registered above).
func (f *Flags) IsEnabled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == SessionSignerV2 {
		return true
	}
	if v, ok := f.vals[name]; ok {
		return v
	}
	return defaults[name]
}

// Set persists name=value. Setting SessionSignerV2 to false is silently
// coerced to true (spec §4.11) rather than rejected — the caller's
// intent not to use v2 signatures cannot be honored, so persisting the
// flag as "enabled" keeps reads and writes consistent.
func (f *Flags) Set(name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == SessionSignerV2 {
		value = true
	}
	f.vals[name] = value
	return f.persistLocked()
}

// List returns a snapshot of every flag currently known, including
// hard-enforced defaults that were never explicitly set.
func (f *Flags) List() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.vals)+len(defaults))
	for name, v := range defaults {
		out[name] = v
	}
	for name, v := range f.vals {
		out[name] = v
	}
	return out
}

func (f *Flags) persistLocked() error {
	raw, err := json.Marshal(f.vals)
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to encode feature flags", err)
	}
	if err := f.store.Set(keystore.KeyFeatureFlags, string(raw)); err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to persist feature flags", err)
	}
	return nil
}
