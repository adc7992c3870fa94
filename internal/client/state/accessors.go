package state

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/common"
)

// --- aggregate reads ---

func (s *Store) ActiveUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeUserID
}

func (s *Store) AuthenticatedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authenticatedAccounts...)
}

// Account returns a value copy of a known account for inspection. Mutation
// goes through the typed setters.
func (s *Store) Account(userID string) (models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return models.Account{}, false
	}
	return *a, true
}

func (s *Store) IsAuthenticated(userID string) bool {
	v, _ := getField(s, userID, func(a *models.Account) bool { return a.IsAuthenticated() })
	return v
}

// IsLocked reports whether an authenticated account currently holds no
// usable key material.
func (s *Store) IsLocked(userID string) bool {
	v, ok := getField(s, userID, func(a *models.Account) bool {
		return a.IsAuthenticated() && a.Keys.DecryptedSymmetricKey == nil && a.Keys.MasterKey == nil
	})
	return ok && v
}

// --- globals ---

func (s *Store) RememberedEmail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globals.RememberedEmail
}

func (s *Store) SetRememberedEmail(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals.RememberedEmail = email
	return s.writeJSON(ctx, models.DiskLocationLocal, KeyGlobal, s.globals)
}

func (s *Store) EnvironmentURLs() models.EnvironmentURLs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globals.EnvironmentURLs
}

func (s *Store) SetEnvironmentURLs(ctx context.Context, urls models.EnvironmentURLs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals.EnvironmentURLs = urls
	return s.writeJSON(ctx, models.DiskLocationLocal, KeyGlobal, s.globals)
}

// TwoFactorToken is the remembered "remember me" token for an email.
func (s *Store) TwoFactorToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globals.TwoFactorToken(email)
}

func (s *Store) SetTwoFactorToken(ctx context.Context, email, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals.SetTwoFactorToken(email, token)
	return s.writeJSON(ctx, models.DiskLocationLocal, KeyGlobal, s.globals)
}

// --- tokens and session ---

func (s *Store) AccessToken(userID string) string {
	v, _ := getField(s, userID, func(a *models.Account) string { return a.Tokens.AccessToken })
	return v
}

func (s *Store) RefreshToken(userID string) string {
	v, _ := getField(s, userID, func(a *models.Account) string { return a.Tokens.RefreshToken })
	return v
}

func (s *Store) DecodedToken(userID string) *models.TokenClaims {
	v, _ := getField(s, userID, func(a *models.Account) *models.TokenClaims { return a.Tokens.DecodedToken })
	return v
}

// SetTokens stores the session token pair. Placement follows the account's
// current vault-timeout action; the persisted record is rewritten either
// way so a policy change takes effect on the next write.
func (s *Store) SetTokens(ctx context.Context, userID, accessToken, refreshToken string) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Tokens.AccessToken = accessToken
		a.Tokens.RefreshToken = refreshToken
		if accessToken == "" {
			a.Tokens.DecodedToken = nil
			return
		}
		if claims, err := models.DecodeToken(accessToken); err == nil {
			a.Tokens.DecodedToken = claims
		}
	})
}

func (s *Store) SecurityStamp(userID string) string {
	v, _ := getField(s, userID, func(a *models.Account) string { return a.Tokens.SecurityStamp })
	return v
}

func (s *Store) SetSecurityStamp(ctx context.Context, userID, stamp string) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Tokens.SecurityStamp = stamp
	})
}

// --- sync bookkeeping ---

func (s *Store) LastSync(userID string) (time.Time, bool) {
	raw, ok := getField(s, userID, func(a *models.Account) string { return a.Profile.LastSync })
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) SetLastSync(ctx context.Context, userID string, at time.Time) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Profile.LastSync = at.UTC().Format(time.RFC3339)
	})
}

// --- activity ---

func (s *Store) LastActive(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.accountActivity[userID]
	return t, ok
}

func (s *Store) SetLastActive(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[userID]; !ok {
		return nil
	}
	s.accountActivity[userID] = at
	return s.writeJSON(ctx, models.DiskLocationLocal, KeyAccountActivity, s.accountActivity)
}

// --- vault timeout ---

func (s *Store) VaultTimeout(userID string) *int {
	v, _ := getField(s, userID, func(a *models.Account) *int { return a.Settings.VaultTimeout })
	return v
}

func (s *Store) VaultTimeoutAction(userID string) models.VaultTimeoutAction {
	v, ok := getField(s, userID, func(a *models.Account) models.VaultTimeoutAction {
		return a.Settings.VaultTimeoutAction
	})
	if !ok || v == "" {
		return models.VaultTimeoutActionLock
	}
	return v
}

// SetVaultTimeoutOptions changes the timeout and its action together.
// Rewriting the whole account record relocates already-stored tokens into
// the tier the new action implies: tightening to "log out" erases the
// persisted copies, relaxing back to "lock" re-persists the in-memory pair
// without forcing re-authentication.
func (s *Store) SetVaultTimeoutOptions(ctx context.Context, userID string, timeout *int, action models.VaultTimeoutAction) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Settings.VaultTimeout = timeout
		a.Settings.VaultTimeoutAction = action
	})
}

// --- lock state ---

func (s *Store) EverBeenUnlocked(userID string) bool {
	v, _ := getField(s, userID, func(a *models.Account) bool { return a.Settings.EverBeenUnlocked })
	return v
}

func (s *Store) SetEverBeenUnlocked(ctx context.Context, userID string, v bool) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Settings.EverBeenUnlocked = v })
}

func (s *Store) BiometricLocked(userID string) bool {
	v, _ := getField(s, userID, func(a *models.Account) bool { return a.Settings.BiometricLocked })
	return v
}

func (s *Store) SetBiometricLocked(ctx context.Context, userID string, v bool) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Settings.BiometricLocked = v })
}

func (s *Store) BiometricUnlock(userID string) bool {
	v, _ := getField(s, userID, func(a *models.Account) bool { return a.Settings.BiometricUnlock })
	return v
}

// HasPinUnlock reports whether a PIN unlock path is configured, in either
// the restart-surviving or the transient variant.
func (s *Store) HasPinUnlock(userID string) bool {
	v, _ := getField(s, userID, func(a *models.Account) bool {
		return a.Settings.ProtectedPin != "" || a.Settings.PinProtected.Encrypted != ""
	})
	return v
}

// ClearDecryptedData drops all decrypted and derived material for an
// account, leaving encrypted data and settings intact. This is the state
// half of a vault lock.
func (s *Store) ClearDecryptedData(ctx context.Context, userID string) error {
	return s.setField(ctx, userID, false, func(a *models.Account) { a.ClearDecryptedData() })
}

// --- key material ---

func (s *Store) SetMasterKey(ctx context.Context, userID string, key []byte) error {
	return s.setField(ctx, userID, false, func(a *models.Account) { a.Keys.MasterKey = key })
}

func (s *Store) MasterKey(userID string) []byte {
	v, _ := getField(s, userID, func(a *models.Account) []byte { return a.Keys.MasterKey })
	return v
}

func (s *Store) SetKeyHash(ctx context.Context, userID, hash string) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Profile.KeyHash = hash })
}

func (s *Store) KeyHash(userID string) string {
	v, _ := getField(s, userID, func(a *models.Account) string { return a.Profile.KeyHash })
	return v
}

func (s *Store) SetEncryptedSymmetricKey(ctx context.Context, userID, key string) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Keys.EncryptedSymmetricKey = key })
}

func (s *Store) EncryptedSymmetricKey(userID string) string {
	v, _ := getField(s, userID, func(a *models.Account) string { return a.Keys.EncryptedSymmetricKey })
	return v
}

func (s *Store) SetDecryptedSymmetricKey(ctx context.Context, userID string, key []byte) error {
	return s.setField(ctx, userID, false, func(a *models.Account) { a.Keys.DecryptedSymmetricKey = key })
}

func (s *Store) DecryptedSymmetricKey(userID string) []byte {
	v, _ := getField(s, userID, func(a *models.Account) []byte { return a.Keys.DecryptedSymmetricKey })
	return v
}

func (s *Store) SetKeyPair(ctx context.Context, userID, publicKey, encryptedPrivateKey string) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Keys.PublicKey = publicKey
		a.Keys.EncryptedPrivateKey = encryptedPrivateKey
	})
}

func (s *Store) EncryptedPrivateKey(userID string) string {
	v, _ := getField(s, userID, func(a *models.Account) string { return a.Keys.EncryptedPrivateKey })
	return v
}

func (s *Store) SetAPIKeyCredentials(ctx context.Context, userID, clientID, clientSecret string) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Profile.APIKeyClientID = clientID
		a.Keys.APIKeyClientSecret = clientSecret
	})
}

// SecureStorageAvailable gates features that need the OS secret store.
func (s *Store) SecureStorageAvailable() bool {
	return s.secure.Available()
}

// MasterKeyB64 reads a master-key variant from secure storage. An absent
// secure tier reads as "no key": the dependent feature degrades instead of
// the store failing.
func (s *Store) MasterKeyB64(ctx context.Context, userID, suffix string) ([]byte, error) {
	raw, err := s.readValue(ctx, secureKey(userID, suffix), "")
	if err != nil {
		if errors.Is(err, common.ErrSecureStorageUnavailable) {
			return nil, nil
		}
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		s.log.Warn(ctx, "malformed secure-storage key, treating as absent", "suffix", suffix)
		return nil, nil
	}
	return key, nil
}

// SetMasterKeyB64 writes (or, with a nil key, removes) a master-key variant
// in secure storage.
func (s *Store) SetMasterKeyB64(ctx context.Context, userID, suffix string, key []byte) error {
	opts := secureKey(userID, suffix)
	var err error
	if key == nil {
		err = s.removeValue(ctx, opts, "")
	} else {
		err = s.writeValue(ctx, opts, "", []byte(base64.StdEncoding.EncodeToString(key)))
	}
	if errors.Is(err, common.ErrSecureStorageUnavailable) {
		s.log.Debug(ctx, "secure storage unavailable, skipping master key write", "suffix", suffix)
		return nil
	}
	return err
}

// --- profile flags ---

func (s *Store) SetHasPremiumPersonally(ctx context.Context, userID string, premium bool) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Profile.HasPremiumPersonally = &premium
	})
}

func (s *Store) SetForcePasswordReset(ctx context.Context, userID string, v bool) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Profile.ForcePasswordReset = v })
}

func (s *Store) UsesKeyConnector(userID string) bool {
	v, _ := getField(s, userID, func(a *models.Account) bool { return a.Profile.UsesKeyConnector })
	return v
}

func (s *Store) SetUsesKeyConnector(ctx context.Context, userID string, v bool) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Profile.UsesKeyConnector = v })
}

func (s *Store) ConvertAccountToKeyConnector(userID string) bool {
	v, _ := getField(s, userID, func(a *models.Account) bool { return a.Profile.ConvertAccountToKeyConnector })
	return v
}

func (s *Store) SetConvertAccountToKeyConnector(ctx context.Context, userID string, v bool) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Profile.ConvertAccountToKeyConnector = v })
}

// --- synced collections ---

func (s *Store) Organizations(userID string) map[string]models.Organization {
	v, _ := getField(s, userID, func(a *models.Account) map[string]models.Organization {
		return a.Data.Organizations
	})
	return v
}

func (s *Store) SetOrganizations(ctx context.Context, userID string, orgs map[string]models.Organization) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Data.Organizations = orgs })
}

func (s *Store) SetProviders(ctx context.Context, userID string, providers map[string]models.Provider) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Data.Providers = providers })
}

func (s *Store) Policies(userID string) map[string]models.Policy {
	v, _ := getField(s, userID, func(a *models.Account) map[string]models.Policy { return a.Data.Policies })
	return v
}

func (s *Store) SetPolicies(ctx context.Context, userID string, policies map[string]models.Policy) error {
	return s.setField(ctx, userID, true, func(a *models.Account) { a.Data.Policies = policies })
}

// SetEncryptedCaches replaces the synced encrypted entity caches. Decrypted
// sides are dropped: the plaintext no longer matches.
func (s *Store) SetEncryptedCaches(ctx context.Context, userID string, ciphers, folders, collections map[string]string) error {
	return s.setField(ctx, userID, true, func(a *models.Account) {
		a.Data.Ciphers = models.EncryptedCache{Encrypted: ciphers}
		a.Data.Folders = models.EncryptedCache{Encrypted: folders}
		a.Data.Collections = models.EncryptedCache{Encrypted: collections}
	})
}
