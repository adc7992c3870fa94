package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
)

// SecureBackend is the OS-protected tier for master-key material. Unlike
// the other tiers it may be absent on a platform; callers must treat
// common.ErrSecureStorageUnavailable as "degrade the dependent feature",
// never as a store failure.
type SecureBackend interface {
	Backend

	// Available reports whether the secure tier can be used at all.
	Available() bool
}

// UnavailableSecure is the no-op secure backend used when no OS secret
// store can be reached. Reads report absence; writes fail with
// common.ErrSecureStorageUnavailable.
type UnavailableSecure struct{}

func (UnavailableSecure) Available() bool { return false }

func (UnavailableSecure) Get(context.Context, string) ([]byte, error) {
	return nil, common.ErrSecureStorageUnavailable
}

func (UnavailableSecure) Has(context.Context, string) (bool, error) {
	return false, nil
}

func (UnavailableSecure) Save(context.Context, string, []byte) error {
	return common.ErrSecureStorageUnavailable
}

func (UnavailableSecure) Remove(context.Context, string) error {
	return common.ErrSecureStorageUnavailable
}

// FileSecure is a secure backend for platforms without a keychain helper:
// values are AES-GCM-sealed under a per-device key file next to the store.
// The protection is only as strong as filesystem permissions, which is the
// same guarantee OS keyrings give on a logged-in desktop session.
type FileSecure struct {
	mu   sync.Mutex
	path string
	key  []byte
}

type sealedValue struct {
	Ciphertext string `json:"ct"`
	Nonce      string `json:"n"`
}

// NewFileSecure opens (creating on first use) a sealed secret store in dir.
func NewFileSecure(dir string) (*FileSecure, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	keyPath := filepath.Join(dir, "device.key")
	key, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		key = common.GenerateRandByteArray(32)
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &FileSecure{path: filepath.Join(dir, "secure.json"), key: key}, nil
}

func (s *FileSecure) Available() bool { return true }

func (s *FileSecure) load() (map[string]sealedValue, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]sealedValue), nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]sealedValue)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *FileSecure) store(values map[string]sealedValue) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileSecure) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return nil, err
	}
	sealed, ok := values[key]
	if !ok {
		return nil, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, err
	}
	return cryptox.OpenBytes(ciphertext, nonce, s.key)
}

func (s *FileSecure) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := values[key]
	return ok, nil
}

func (s *FileSecure) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}

	ciphertext, nonce, err := cryptox.SealBytes(value, s.key)
	if err != nil {
		return err
	}
	values[key] = sealedValue{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}
	return s.store(values)
}

func (s *FileSecure) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	delete(values, key)
	return s.store(values)
}
