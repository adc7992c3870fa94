package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/messaging"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/storage"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

// Migrator upgrades a legacy on-disk layout before the store hydrates from
// it. The store does not trust the disk tiers until migration has run.
type Migrator interface {
	NeedsMigration(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error
}

// AccountsSnapshot is the payload broadcast on TopicAccountsUpdated.
type AccountsSnapshot struct {
	ActiveUserID string
	UserIDs      []string
}

// Store is the central accessor for account and global state across the
// memory, disk, and secure tiers. All exported methods are safe for
// concurrent use.
type Store struct {
	log logging.Logger
	bus *messaging.Bus

	local   storage.Backend
	session storage.Backend
	secure  storage.SecureBackend

	// db, when set, is the database both disk backends live in; account
	// record writes spanning the two sub-locations then commit atomically.
	db *sql.DB

	mu                    sync.Mutex
	accounts              map[string]*models.Account
	globals               *models.GlobalState
	activeUserID          string
	authenticatedAccounts []string
	accountActivity       map[string]time.Time

	// cache fronts the disk backends, keyed by location and storage key;
	// writes go through it so a read after a write always observes the
	// written value.
	cache map[string][]byte
}

func NewStore(local, session storage.Backend, secure storage.SecureBackend, bus *messaging.Bus, log logging.Logger) *Store {
	return &Store{
		log:             log.With("component", "state"),
		bus:             bus,
		local:           local,
		session:         session,
		secure:          secure,
		accounts:        make(map[string]*models.Account),
		globals:         &models.GlobalState{},
		accountActivity: make(map[string]time.Time),
		cache:           make(map[string][]byte),
	}
}

// UseDB enables transactional account persists: both sub-location records
// are written in one transaction on db instead of sequentially. Only valid
// when the disk backends are tables of db.
func (s *Store) UseDB(db *sql.DB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
}

// Init runs the migration gate and hydrates the store from disk. A failing
// migration halts startup: the disk layout cannot be trusted half-migrated.
func (s *Store) Init(ctx context.Context, m Migrator) error {
	if m != nil {
		needs, err := m.NeedsMigration(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrMigrationFailure, err)
		}
		if needs {
			if err := m.Migrate(ctx); err != nil {
				return fmt.Errorf("%w: %v", common.ErrMigrationFailure, err)
			}
		}
	}
	return s.hydrate(ctx)
}

func (s *Store) hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	globals := &models.GlobalState{}
	if err := s.readJSON(ctx, models.DiskLocationLocal, KeyGlobal, globals); err != nil {
		return err
	}
	s.globals = globals

	var authed []string
	if err := s.readJSON(ctx, models.DiskLocationLocal, KeyAuthenticatedAccounts, &authed); err != nil {
		return err
	}

	activity := make(map[string]time.Time)
	if err := s.readJSON(ctx, models.DiskLocationLocal, KeyAccountActivity, &activity); err != nil {
		return err
	}
	s.accountActivity = activity

	var active string
	if err := s.readJSON(ctx, models.DiskLocationLocal, KeyActiveUser, &active); err != nil {
		return err
	}

	s.accounts = make(map[string]*models.Account)
	s.authenticatedAccounts = nil
	for _, userID := range authed {
		a, err := s.diskAccountLocked(ctx, userID)
		if err != nil {
			return err
		}
		if a == nil {
			s.log.Warn(ctx, "authenticated account has no persisted record, dropping", "userId", userID)
			continue
		}
		s.accounts[userID] = a
		s.authenticatedAccounts = append(s.authenticatedAccounts, userID)
	}

	if _, ok := s.accounts[active]; ok {
		s.activeUserID = active
	} else {
		s.activeUserID = ""
	}
	return nil
}

// diskAccountLocked loads a user's persisted record, preferring the session
// copy (it may carry tokens) over the local one.
func (s *Store) diskAccountLocked(ctx context.Context, userID string) (*models.Account, error) {
	for _, loc := range []models.DiskLocation{models.DiskLocationSession, models.DiskLocationLocal} {
		a := &models.Account{}
		found, err := s.readJSONFound(ctx, loc, AccountKey(userID), a)
		if err != nil {
			return nil, err
		}
		if found && a.Profile.UserID != "" {
			if a.Tokens.AccessToken != "" {
				if claims, err := models.DecodeToken(a.Tokens.AccessToken); err == nil {
					a.Tokens.DecodedToken = claims
				} else {
					s.log.Warn(ctx, "persisted access token does not decode", "userId", userID)
				}
			}
			return a, nil
		}
	}
	return nil, nil
}

// priorAccountLocked finds an existing full record for the user, in memory
// or on disk. A record reset down to settings does not count.
func (s *Store) priorAccountLocked(ctx context.Context, userID string) (*models.Account, error) {
	if a, ok := s.accounts[userID]; ok {
		return a, nil
	}
	return s.diskAccountLocked(ctx, userID)
}

// AddAccount registers a freshly authenticated account: stamps the global
// environment URLs onto it, appends it to the authenticated list, scaffolds
// the disk records while preserving settings left by a prior session (or
// the migrator's temp stash), stamps activity, promotes it to active, and
// broadcasts the new account map. A re-login of a known user updates the
// existing record in place: the freshly asserted identity wins, but synced
// data, the last-sync marker, and settings all survive.
func (s *Store) AddAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := account.Profile.UserID
	if userID == "" {
		return fmt.Errorf("add account: missing user id")
	}

	if prior, err := s.priorAccountLocked(ctx, userID); err != nil {
		return err
	} else if prior != nil {
		lastSync, keyHash := prior.Profile.LastSync, prior.Profile.KeyHash
		prior.Profile = account.Profile
		prior.Profile.LastSync = lastSync
		if prior.Profile.KeyHash == "" {
			prior.Profile.KeyHash = keyHash
		}
		// SetTokens follows right behind; the old pair is already stale
		prior.Tokens = account.Tokens
		account = prior
	} else if settings, ok, err := s.residentSettingsLocked(ctx, userID); err != nil {
		return err
	} else if ok {
		account.Settings = settings
	}
	account.Settings.EnvironmentURLs = s.globals.EnvironmentURLs

	if !contains(s.authenticatedAccounts, userID) {
		s.authenticatedAccounts = append(s.authenticatedAccounts, userID)
	}
	if err := s.writeJSON(ctx, models.DiskLocationLocal, KeyAuthenticatedAccounts, s.authenticatedAccounts); err != nil {
		return err
	}

	s.accounts[userID] = account
	if err := s.persistAccountLocked(ctx, account); err != nil {
		return err
	}

	s.accountActivity[userID] = time.Now()
	if err := s.writeJSON(ctx, models.DiskLocationLocal, KeyAccountActivity, s.accountActivity); err != nil {
		return err
	}

	if err := s.setActiveUserLocked(ctx, userID); err != nil {
		return err
	}

	s.broadcastLocked()
	return nil
}

// residentSettingsLocked finds settings a prior session (or the migrator)
// left behind for this user. Locally-scoped preferences survive sign-out
// and must win over the defaults on a fresh login.
func (s *Store) residentSettingsLocked(ctx context.Context, userID string) (models.AccountSettings, bool, error) {
	for _, loc := range []models.DiskLocation{models.DiskLocationLocal, models.DiskLocationSession} {
		resident := &models.Account{}
		found, err := s.readJSONFound(ctx, loc, AccountKey(userID), resident)
		if err != nil {
			return models.AccountSettings{}, false, err
		}
		if found {
			return resident.Settings, true, nil
		}
	}

	// First account after a legacy migration that could not attribute
	// settings to a user id: consume the stash exactly once.
	var stashed models.AccountSettings
	found, err := s.readJSONFound(ctx, models.DiskLocationLocal, KeyTempAccountSettings, &stashed)
	if err != nil {
		return models.AccountSettings{}, false, err
	}
	if found {
		if err := s.removeValue(ctx, onDisk(models.DiskLocationLocal), KeyTempAccountSettings); err != nil {
			return models.AccountSettings{}, false, err
		}
		return stashed, true, nil
	}
	return models.AccountSettings{}, false, nil
}

// SetActiveUser switches the active account. The previous active user's
// decrypted data is cleared first: plaintext for a non-active account never
// stays in the working set.
func (s *Store) SetActiveUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setActiveUserLocked(ctx, userID); err != nil {
		return err
	}
	s.broadcastLocked()
	return nil
}

func (s *Store) setActiveUserLocked(ctx context.Context, userID string) error {
	if prev := s.activeUserID; prev != "" && prev != userID {
		if a, ok := s.accounts[prev]; ok {
			a.ClearDecryptedData()
		}
	}
	s.activeUserID = userID
	return s.writeJSON(ctx, models.DiskLocationLocal, KeyActiveUser, userID)
}

// Clean removes an account: de-authenticates it, elects a replacement
// active user if needed, resets the disk records down to settings, purges
// the secure-storage master-key variants, and drops it from memory.
func (s *Store) Clean(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[userID]; ok {
		a.Tokens = models.AccountTokens{}
		a.ClearDecryptedData()
	}
	delete(s.accountActivity, userID)
	if err := s.writeJSON(ctx, models.DiskLocationLocal, KeyAccountActivity, s.accountActivity); err != nil {
		return err
	}

	s.authenticatedAccounts = remove(s.authenticatedAccounts, userID)
	if err := s.writeJSON(ctx, models.DiskLocationLocal, KeyAuthenticatedAccounts, s.authenticatedAccounts); err != nil {
		return err
	}

	if s.activeUserID == userID {
		next := ""
		if len(s.authenticatedAccounts) > 0 {
			next = s.authenticatedAccounts[0]
		}
		if err := s.setActiveUserLocked(ctx, next); err != nil {
			return err
		}
	}

	for _, loc := range []models.DiskLocation{models.DiskLocationLocal, models.DiskLocationSession} {
		resident := &models.Account{}
		found, err := s.readJSONFound(ctx, loc, AccountKey(userID), resident)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		data, err := json.Marshal(resident.Reset())
		if err != nil {
			return err
		}
		if err := s.writeValue(ctx, onDisk(loc), AccountKey(userID), data); err != nil {
			return err
		}
	}

	for _, suffix := range []string{"", SuffixAuto, SuffixBiometric} {
		if err := s.secure.Remove(ctx, MasterKeyName(userID, suffix)); err != nil {
			if s.secure.Available() {
				return err
			}
			break
		}
	}

	delete(s.accounts, userID)
	s.broadcastLocked()
	return nil
}

func (s *Store) broadcastLocked() {
	snap := AccountsSnapshot{
		ActiveUserID: s.activeUserID,
		UserIDs:      append([]string(nil), s.authenticatedAccounts...),
	}
	s.bus.Send(messaging.TopicAccountsUpdated, snap)
}

// --- storage plumbing ---

// storeDefaults anchors the option resolution: requests that leave a field
// unset fall through to these.
var storeDefaults = models.StorageOptions{
	Location:     models.LocationPtr(models.StorageLocationDisk),
	DiskLocation: models.DiskLocationPtr(models.DiskLocationSession),
}

// onDisk requests the given disk sub-location.
func onDisk(loc models.DiskLocation) models.StorageOptions {
	return models.StorageOptions{DiskLocation: models.DiskLocationPtr(loc)}
}

// secureKey requests the OS secret store for a per-user master-key
// variant; the storage key is derived from the options, not the caller.
func secureKey(userID, suffix string) models.StorageOptions {
	return models.StorageOptions{UserID: userID, UseSecureStorage: true, KeySuffix: suffix}
}

func (s *Store) backend(loc models.DiskLocation) storage.Backend {
	if loc == models.DiskLocationLocal {
		return s.local
	}
	return s.session
}

func cacheKey(loc models.DiskLocation, key string) string {
	if loc == models.DiskLocationLocal {
		return "local/" + key
	}
	return "session/" + key
}

func (s *Store) readValue(ctx context.Context, opts models.StorageOptions, key string) ([]byte, error) {
	eff := opts.Reconcile(storeDefaults)
	if eff.UseSecureStorage {
		return s.secure.Get(ctx, MasterKeyName(eff.UserID, eff.KeySuffix))
	}
	loc := *eff.DiskLocation
	ck := cacheKey(loc, key)
	if v, ok := s.cache[ck]; ok {
		return v, nil
	}
	v, err := s.backend(loc).Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v != nil {
		s.cache[ck] = v
	}
	return v, nil
}

func (s *Store) writeValue(ctx context.Context, opts models.StorageOptions, key string, value []byte) error {
	eff := opts.Reconcile(storeDefaults)
	if eff.UseSecureStorage {
		return s.secure.Save(ctx, MasterKeyName(eff.UserID, eff.KeySuffix), value)
	}
	loc := *eff.DiskLocation
	if err := s.backend(loc).Save(ctx, key, value); err != nil {
		return err
	}
	s.cache[cacheKey(loc, key)] = value
	return nil
}

func (s *Store) removeValue(ctx context.Context, opts models.StorageOptions, key string) error {
	eff := opts.Reconcile(storeDefaults)
	if eff.UseSecureStorage {
		return s.secure.Remove(ctx, MasterKeyName(eff.UserID, eff.KeySuffix))
	}
	loc := *eff.DiskLocation
	if err := s.backend(loc).Remove(ctx, key); err != nil {
		return err
	}
	delete(s.cache, cacheKey(loc, key))
	return nil
}

// readJSON decodes a disk value into out. A missing or malformed value
// leaves out untouched: callers get the zero value, never a decode error.
func (s *Store) readJSON(ctx context.Context, loc models.DiskLocation, key string, out any) error {
	_, err := s.readJSONFound(ctx, loc, key, out)
	return err
}

func (s *Store) readJSONFound(ctx context.Context, loc models.DiskLocation, key string, out any) (bool, error) {
	data, err := s.readValue(ctx, onDisk(loc), key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn(ctx, "malformed state value, treating as absent", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func (s *Store) writeJSON(ctx context.Context, loc models.DiskLocation, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeValue(ctx, onDisk(loc), key, data)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
