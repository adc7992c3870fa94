// Package storage provides the byte-value storage backends the state store
// is built on: a volatile in-memory map, a sqlite-backed disk store with
// separate sub-locations, and an OS-protected secure store for key
// material. Backends know nothing about accounts; they move opaque bytes.
package storage

import (
	"context"

	"github.com/dmitrijs2005/lockbox/internal/dbx"
)

// Backend is a byte/value store keyed by string.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// TxBinder is implemented by backends that can re-bind to a transactional
// handle, so writes spanning sibling backends commit atomically.
type TxBinder interface {
	Bind(q dbx.DBTX) Backend
}

// Lister is implemented by backends that can enumerate their keys. The
// state migrator needs it to discover legacy flat entries.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}
