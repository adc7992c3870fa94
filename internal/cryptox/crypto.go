// Package cryptox implements the cryptographic primitives the client relies
// on: master-key derivation from a password and KDF parameters, password
// hashing for local and server verification, and AES-GCM sealing of opaque
// values. Key placement and lifetime are owned by the state store, not here.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDFType selects the key-derivation function advertised by the server for
// an account.
type KDFType int

const (
	KDFTypePBKDF2 KDFType = iota
	KDFTypeArgon2id
)

// Default KDF parameters, used when the prelogin endpoint does not know the
// email (a user that has never registered).
const (
	DefaultPBKDF2Iterations  = 100000
	DefaultArgon2Iterations  = 3
	DefaultArgon2MemoryMiB   = 64
	DefaultArgon2Parallelism = 4
)

// KDFConfig carries the parameters needed to reproduce a master key.
type KDFConfig struct {
	Type        KDFType `json:"type"`
	Iterations  int     `json:"iterations"`
	Memory      int     `json:"memory,omitempty"`
	Parallelism int     `json:"parallelism,omitempty"`
}

// DefaultKDFConfig returns the fallback parameters for accounts whose KDF
// settings are not known yet.
func DefaultKDFConfig() KDFConfig {
	return KDFConfig{Type: KDFTypePBKDF2, Iterations: DefaultPBKDF2Iterations}
}

// HashPurpose distinguishes the password hash sent to the server from the
// one kept locally for unlock verification. The two must never be equal,
// otherwise a disk compromise would yield a server-valid credential.
type HashPurpose int

const (
	HashPurposeServerAuthorization HashPurpose = 1
	HashPurposeLocalAuthorization  HashPurpose = 2
)

// MakeKey derives the 32-byte master key from a password and salt (the
// normalized account email) using the given KDF parameters.
func MakeKey(password, salt []byte, cfg KDFConfig) ([]byte, error) {
	switch cfg.Type {
	case KDFTypePBKDF2:
		if cfg.Iterations <= 0 {
			return nil, fmt.Errorf("pbkdf2: invalid iteration count %d", cfg.Iterations)
		}
		return pbkdf2.Key(password, salt, cfg.Iterations, 32, sha256.New), nil
	case KDFTypeArgon2id:
		iterations := cfg.Iterations
		if iterations <= 0 {
			iterations = DefaultArgon2Iterations
		}
		memory := cfg.Memory
		if memory <= 0 {
			memory = DefaultArgon2MemoryMiB
		}
		parallelism := cfg.Parallelism
		if parallelism <= 0 {
			parallelism = DefaultArgon2Parallelism
		}
		saltHash := sha256.Sum256(salt)
		return argon2.IDKey(password, saltHash[:], uint32(iterations), uint32(memory)*1024, uint8(parallelism), 32), nil
	default:
		return nil, fmt.Errorf("unknown kdf type %d", cfg.Type)
	}
}

// HashPassword stretches the master key with the password as salt and
// returns a base64 hash. One round produces the server authorization hash,
// two rounds the local one.
func HashPassword(password, masterKey []byte, purpose HashPurpose) string {
	hash := pbkdf2.Key(masterKey, password, int(purpose), 32, sha256.New)
	return base64.StdEncoding.EncodeToString(hash)
}

// SealBytes encrypts plaintext with AES-GCM under key. The random 12-byte
// nonce is returned separately.
func SealBytes(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// OpenBytes reverses SealBytes.
func OpenBytes(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

// EncryptEntry serializes v to JSON and encrypts it using AES-GCM.
func EncryptEntry(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return SealBytes(plaintext, key)
}

// DecryptEntry decrypts ciphertext produced by EncryptEntry and unmarshals
// the result into v.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := OpenBytes(ciphertext, nonce, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}
