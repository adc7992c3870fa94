// Package state implements the multi-account, multi-tier state store: the
// single source of truth for everything auth, sync, and the timeout sweep
// agree on. Accounts are persisted whole, one JSON record per disk
// sub-location; fields that must never reach disk are excluded from the
// record by the models' serialization tags, and token placement is decided
// per account from its vault-timeout action at write time.
package state

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/storage"
	"github.com/dmitrijs2005/lockbox/internal/dbx"
)

// Storage keys. The migrator writes the same layout, so these are shared.
const (
	KeyGlobal                = "global"
	KeyAuthenticatedAccounts = "authenticatedAccounts"
	KeyActiveUser            = "activeUserId"
	KeyAccountActivity       = "accountActivity"

	// KeyTempAccountSettings holds per-account settings rescued by the
	// migrator when no user id was discoverable yet. Consumed by the first
	// AddAccount after migration.
	KeyTempAccountSettings = "tempAccountSettings"
)

// Secure-storage key suffixes for the master-key variants.
const (
	SuffixAuto      = "_auto"
	SuffixBiometric = "_biometric"
)

// AccountKey is the disk key holding a user's account record.
func AccountKey(userID string) string { return "account_" + userID }

// MasterKeyName is the secure-storage key for a user's master key variant.
// Suffix is empty, SuffixAuto, or SuffixBiometric.
func MasterKeyName(userID, suffix string) string { return userID + "_masterkey" + suffix }

// useMemoryForTokens is the token tier policy: an account whose timeout
// action is "log out" (with a timeout actually set) must not leave tokens
// on disk, because exceeding the timeout has to be equivalent to never
// having persisted the session.
func useMemoryForTokens(a *models.Account) bool {
	return a.Settings.VaultTimeoutAction == models.VaultTimeoutActionLogOut &&
		a.Settings.VaultTimeout != nil
}

// persistedCopy builds the record that may be written to the given disk
// location. The local record never carries tokens; the session record
// carries them only when the tier policy allows, and always keeps the
// security stamp (it is an invalidation marker, not a credential).
func persistedCopy(a *models.Account, loc models.DiskLocation) *models.Account {
	out := *a
	switch {
	case loc == models.DiskLocationLocal:
		out.Tokens = models.AccountTokens{}
	case useMemoryForTokens(a):
		out.Tokens = models.AccountTokens{SecurityStamp: a.Tokens.SecurityStamp}
	}
	return &out
}

// getField reads one account field under the store lock. The second result
// reports whether the account is known; a missing account reads as the
// zero value.
func getField[T any](s *Store, userID string, read func(*models.Account) T) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		var zero T
		return zero, false
	}
	return read(a), true
}

// setField applies write to the in-memory account and, when persist is set,
// rewrites the account record in both disk locations. Rewriting the whole
// record is what keeps token placement honest: the persisted copy is
// recomputed from the account's current timeout action on every write.
func (s *Store) setField(ctx context.Context, userID string, persist bool, write func(*models.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil
	}
	write(a)
	if !persist {
		return nil
	}
	return s.persistAccountLocked(ctx, a)
}

func (s *Store) persistAccountLocked(ctx context.Context, a *models.Account) error {
	key := AccountKey(a.Profile.UserID)
	locs := []models.DiskLocation{models.DiskLocationLocal, models.DiskLocationSession}
	payloads := make([][]byte, len(locs))
	for i, loc := range locs {
		data, err := json.Marshal(persistedCopy(a, loc))
		if err != nil {
			return err
		}
		payloads[i] = data
	}

	// the two records describe one account; with a shared database they
	// are written in one transaction so a crash cannot split them
	lb, okLocal := s.local.(storage.TxBinder)
	sb, okSession := s.session.(storage.TxBinder)
	if s.db != nil && okLocal && okSession {
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := lb.Bind(tx).Save(ctx, key, payloads[0]); err != nil {
				return err
			}
			return sb.Bind(tx).Save(ctx, key, payloads[1])
		})
		if err != nil {
			return err
		}
		for i, loc := range locs {
			s.cache[cacheKey(loc, key)] = payloads[i]
		}
		return nil
	}

	for i, loc := range locs {
		if err := s.writeValue(ctx, onDisk(loc), key, payloads[i]); err != nil {
			return err
		}
	}
	return nil
}
