package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/starkclaw/session-core/internal/coreerr"
)

// KeySize is the required length, in bytes, of a FileStore encryption
// key: AES-256-GCM via JWE direct encryption (spec §4.2, "OS-protected").
const KeySize = 32

// FileStore is a JWE-sealed, file-backed Store. The entire namespaced
// key/value map is serialized to JSON, sealed with AES-256-GCM via JWE
// direct encryption, and written as one compact-serialized token; nothing
// ever touches disk unencrypted. Modeled on the teacher's
// decrypt-on-load posture for its go-ethereum keystore file
// (evm/keystore.go, WithKeystore), generalized to JWE because this store
// holds an arbitrary namespaced map rather than a single keystore JSON
// blob.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  []byte
	data map[string]string
}

// NewFileStore opens (or initializes) a FileStore at path, encrypted
// with key. key must be exactly KeySize bytes. If path does not exist,
// the store starts empty; it is created on first Set or Reset.
func NewFileStore(path string, key []byte) (*FileStore, error) {
	if len(key) != KeySize {
		return nil, coreerr.New(coreerr.CodeInvalidInput, "keystore encryption key must be 32 bytes", nil)
	}
	fs := &FileStore{path: path, key: append([]byte(nil), key...), data: make(map[string]string)}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to read keystore file", err)
	}
	if len(raw) == 0 {
		return nil
	}
	obj, err := jose.ParseEncrypted(string(raw))
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to parse keystore file", err)
	}
	plaintext, err := obj.Decrypt(f.key)
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to decrypt keystore file", err)
	}
	var data map[string]string
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return coreerr.New(coreerr.CodeInternal, "corrupt keystore contents", err)
	}
	f.data = data
	return nil
}

// persist re-serializes and re-seals the entire map, overwriting path.
// Caller must hold f.mu.
func (f *FileStore) persist() error {
	plaintext, err := json.Marshal(f.data)
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to marshal keystore contents", err)
	}
	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: f.key}, nil)
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to initialize keystore cipher", err)
	}
	obj, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to seal keystore contents", err)
	}
	serialized, err := obj.CompactSerialize()
	if err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to serialize keystore contents", err)
	}
	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return coreerr.New(coreerr.CodeInternal, "failed to create keystore directory", err)
		}
	}
	if err := os.WriteFile(f.path, []byte(serialized), 0o600); err != nil {
		return coreerr.New(coreerr.CodeInternal, "failed to write keystore file", err)
	}
	return nil
}

// Get never errors on a missing key (spec §4.2): ok=false, err=nil.
func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, existed := f.data[key]
	f.data[key] = value
	if err := f.persist(); err != nil {
		if existed {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}
	prev := f.data[key]
	delete(f.data, key)
	if err := f.persist(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

// Reset wipes every namespaced key. In-memory state is cleared first;
// any failure removing or rewriting the backing file afterward is
// best-effort and swallowed, per spec §4.2.
func (f *FileStore) Reset() error {
	f.mu.Lock()
	f.data = make(map[string]string)
	_ = os.Remove(f.path)
	f.mu.Unlock()
	return nil
}

var _ Store = (*FileStore)(nil)
