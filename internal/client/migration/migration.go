// Package migration upgrades a legacy flat key/value state layout into the
// typed account/global records the state store reads. It runs once at
// startup, before the store hydrates; a step that fails leaves the stored
// version untouched so the next start can retry.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/client/storage"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

// Legacy flat keys. Per-user entries carry a "_<userId>" suffix; the bare
// variants predate multi-account support and are attributed to no user.
const (
	legacyPrefixUserEmail      = "userEmail_"
	legacyPrefixKeyHash        = "keyHash_"
	legacyPrefixEncKey         = "encKey_"
	legacyPrefixEncPrivateKey  = "encPrivateKey_"
	legacyPrefixAccessToken    = "accessToken_"
	legacyPrefixRefreshToken   = "refreshToken_"
	legacyPrefixSecurityStamp  = "securityStamp_"
	legacyPrefixKdf            = "kdf_"
	legacyPrefixKdfIterations  = "kdfIterations_"
	legacyPrefixClientID       = "apiKeyClientId_"
	legacyPrefixClientSecret   = "apiKeyClientSecret_"
	legacyPrefixVaultTimeout   = "vaultTimeout_"
	legacyPrefixTimeoutAction  = "vaultTimeoutAction_"
	legacyPrefixPinProtected   = "pinProtectedKey_"
	legacyPrefixProtectedPin   = "protectedPin_"
	legacyPrefixBiometric      = "biometricUnlock_"
	legacyPrefixTwoFactorToken = "twoFactorToken_"

	legacyKeyActiveUser      = "activeUserId"
	legacyKeyRememberedEmail = "rememberedEmail"
	legacyKeyLocale          = "locale"
	legacyKeyTheme           = "theme"
	legacyKeyEnvironmentURLs = "environmentUrls"

	// Bare settings keys written before any login happened.
	legacyKeyVaultTimeout  = "vaultTimeout"
	legacyKeyTimeoutAction = "vaultTimeoutAction"
	legacyKeyPinProtected  = "pinProtectedKey"
	legacyKeyProtectedPin  = "protectedPin"
	legacyKeyBiometric     = "biometricUnlock"

	// Legacy secure-storage names, before the per-user suffix scheme.
	legacySecureMasterKey          = "masterkey"
	legacySecureMasterKeyAuto      = "masterkey_auto"
	legacySecureMasterKeyBiometric = "masterkey_biometric"
)

// LocalBackend is the disk backend the migrator works on. Enumeration is
// required: legacy layouts are discovered, not indexed.
type LocalBackend interface {
	storage.Backend
	storage.Lister
}

type Migrator struct {
	local  LocalBackend
	secure storage.SecureBackend
	log    logging.Logger
}

func NewMigrator(local LocalBackend, secure storage.SecureBackend, log logging.Logger) *Migrator {
	return &Migrator{local: local, secure: secure, log: log.With("component", "migration")}
}

func (m *Migrator) currentVersion(ctx context.Context) (models.StateVersion, error) {
	data, err := m.local.Get(ctx, state.KeyGlobal)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return models.StateVersionOne, nil
	}
	var globals models.GlobalState
	if err := json.Unmarshal(data, &globals); err != nil {
		return models.StateVersionOne, nil
	}
	if globals.StateVersion == 0 {
		return models.StateVersionOne, nil
	}
	return globals.StateVersion, nil
}

func (m *Migrator) setVersion(ctx context.Context, v models.StateVersion) error {
	globals := &models.GlobalState{}
	data, err := m.local.Get(ctx, state.KeyGlobal)
	if err != nil {
		return err
	}
	if data != nil {
		_ = json.Unmarshal(data, globals)
	}
	globals.StateVersion = v
	out, err := json.Marshal(globals)
	if err != nil {
		return err
	}
	return m.local.Save(ctx, state.KeyGlobal, out)
}

func (m *Migrator) NeedsMigration(ctx context.Context) (bool, error) {
	v, err := m.currentVersion(ctx)
	if err != nil {
		return false, err
	}
	return v < models.StateVersionLatest, nil
}

// Migrate applies the version-to-version steps strictly in order. The
// stored version advances only after a step succeeds, so a failing step
// can be retried on the next start.
func (m *Migrator) Migrate(ctx context.Context) error {
	steps := []struct {
		from models.StateVersion
		run  func(context.Context) error
	}{
		{models.StateVersionOne, m.migrateFlatKeys},
		{models.StateVersionTwo, m.backfillPremium},
		{models.StateVersionThree, m.dropObsoleteProfileFields},
	}

	for _, step := range steps {
		v, err := m.currentVersion(ctx)
		if err != nil {
			return err
		}
		if v != step.from {
			continue
		}
		m.log.Info(ctx, "applying state migration", "from", int(v), "to", int(v)+1)
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("migration step %d: %w", int(v), err)
		}
		if err := m.setVersion(ctx, v+1); err != nil {
			return err
		}
	}
	return nil
}

// migrateFlatKeys is the foundational step: collapse the flat legacy
// entries into one typed record per discovered user plus a typed global
// record. Settings that cannot be attributed to any user are stashed for
// the first account created afterwards.
func (m *Migrator) migrateFlatKeys(ctx context.Context) error {
	keys, err := m.local.Keys(ctx)
	if err != nil {
		return err
	}

	userIDs := discoverUserIDs(keys)
	globals, err := m.collectGlobals(ctx, keys)
	if err != nil {
		return err
	}

	var authed []string
	for _, userID := range userIDs {
		account, err := m.collectAccount(ctx, userID)
		if err != nil {
			return err
		}
		data, err := json.Marshal(account)
		if err != nil {
			return err
		}
		if err := m.local.Save(ctx, state.AccountKey(userID), data); err != nil {
			return err
		}
		authed = append(authed, userID)
	}

	if len(userIDs) == 0 {
		if err := m.stashOrphanSettings(ctx); err != nil {
			return err
		}
	}
	if len(userIDs) == 1 {
		if err := m.moveSecureKeys(ctx, userIDs[0]); err != nil {
			return err
		}
	}

	authedData, err := json.Marshal(authed)
	if err != nil {
		return err
	}
	if err := m.local.Save(ctx, state.KeyAuthenticatedAccounts, authedData); err != nil {
		return err
	}

	active, err := m.getString(ctx, legacyKeyActiveUser)
	if err != nil {
		return err
	}
	if active == "" && len(authed) > 0 {
		active = authed[0]
	}
	activeData, err := json.Marshal(active)
	if err != nil {
		return err
	}
	if err := m.local.Save(ctx, state.KeyActiveUser, activeData); err != nil {
		return err
	}

	globalData, err := json.Marshal(globals)
	if err != nil {
		return err
	}
	if err := m.local.Save(ctx, state.KeyGlobal, globalData); err != nil {
		return err
	}

	return m.removeLegacyKeys(ctx, keys)
}

func discoverUserIDs(keys []string) []string {
	var ids []string
	for _, key := range keys {
		if userID, ok := strings.CutPrefix(key, legacyPrefixUserEmail); ok {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (m *Migrator) collectGlobals(ctx context.Context, keys []string) (*models.GlobalState, error) {
	globals := &models.GlobalState{}

	var err error
	if globals.RememberedEmail, err = m.getString(ctx, legacyKeyRememberedEmail); err != nil {
		return nil, err
	}
	if globals.Locale, err = m.getString(ctx, legacyKeyLocale); err != nil {
		return nil, err
	}
	if globals.Theme, err = m.getString(ctx, legacyKeyTheme); err != nil {
		return nil, err
	}

	if data, err := m.local.Get(ctx, legacyKeyEnvironmentURLs); err != nil {
		return nil, err
	} else if data != nil {
		_ = json.Unmarshal(data, &globals.EnvironmentURLs)
	}

	// remembered two-factor tokens are keyed by email, recognizable by the
	// "@" a user id can never contain
	for _, key := range keys {
		email, ok := strings.CutPrefix(key, legacyPrefixTwoFactorToken)
		if !ok || !strings.Contains(email, "@") {
			continue
		}
		token, err := m.getString(ctx, key)
		if err != nil {
			return nil, err
		}
		globals.SetTwoFactorToken(email, token)
	}
	return globals, nil
}

func (m *Migrator) collectAccount(ctx context.Context, userID string) (*models.Account, error) {
	account := &models.Account{Profile: models.AccountProfile{UserID: userID}}

	var err error
	if account.Profile.Email, err = m.getString(ctx, legacyPrefixUserEmail+userID); err != nil {
		return nil, err
	}
	if account.Profile.KeyHash, err = m.getString(ctx, legacyPrefixKeyHash+userID); err != nil {
		return nil, err
	}
	if account.Profile.APIKeyClientID, err = m.getString(ctx, legacyPrefixClientID+userID); err != nil {
		return nil, err
	}
	if account.Keys.EncryptedSymmetricKey, err = m.getString(ctx, legacyPrefixEncKey+userID); err != nil {
		return nil, err
	}
	if account.Keys.EncryptedPrivateKey, err = m.getString(ctx, legacyPrefixEncPrivateKey+userID); err != nil {
		return nil, err
	}
	if account.Keys.APIKeyClientSecret, err = m.getString(ctx, legacyPrefixClientSecret+userID); err != nil {
		return nil, err
	}
	if account.Tokens.AccessToken, err = m.getString(ctx, legacyPrefixAccessToken+userID); err != nil {
		return nil, err
	}
	if account.Tokens.RefreshToken, err = m.getString(ctx, legacyPrefixRefreshToken+userID); err != nil {
		return nil, err
	}
	if account.Tokens.SecurityStamp, err = m.getString(ctx, legacyPrefixSecurityStamp+userID); err != nil {
		return nil, err
	}

	kdf, err := m.getInt(ctx, legacyPrefixKdf+userID)
	if err != nil {
		return nil, err
	}
	iterations, err := m.getInt(ctx, legacyPrefixKdfIterations+userID)
	if err != nil {
		return nil, err
	}
	if kdf != nil || iterations != nil {
		cfg := cryptox.DefaultKDFConfig()
		if kdf != nil {
			cfg.Type = cryptox.KDFType(*kdf)
		}
		if iterations != nil {
			cfg.Iterations = *iterations
		}
		account.Profile.KDF = cfg
	}

	settings, err := m.collectSettings(ctx, "_"+userID)
	if err != nil {
		return nil, err
	}
	account.Settings = settings
	return account, nil
}

func (m *Migrator) collectSettings(ctx context.Context, suffix string) (models.AccountSettings, error) {
	var settings models.AccountSettings

	timeout, err := m.getInt(ctx, legacyKeyVaultTimeout+suffix)
	if err != nil {
		return settings, err
	}
	settings.VaultTimeout = timeout

	action, err := m.getString(ctx, legacyKeyTimeoutAction+suffix)
	if err != nil {
		return settings, err
	}
	settings.VaultTimeoutAction = models.VaultTimeoutAction(action)

	pinProtected, err := m.getString(ctx, legacyKeyPinProtected+suffix)
	if err != nil {
		return settings, err
	}
	settings.PinProtected = models.EncString{Encrypted: pinProtected}

	if settings.ProtectedPin, err = m.getString(ctx, legacyKeyProtectedPin+suffix); err != nil {
		return settings, err
	}

	biometric, err := m.getString(ctx, legacyKeyBiometric+suffix)
	if err != nil {
		return settings, err
	}
	settings.BiometricUnlock = biometric == "true"
	return settings, nil
}

// stashOrphanSettings preserves bare settings written before any login:
// nothing to attribute them to yet, so they wait under a temp key for the
// first account created after migration.
func (m *Migrator) stashOrphanSettings(ctx context.Context) error {
	settings, err := m.collectSettings(ctx, "")
	if err != nil {
		return err
	}
	empty := settings.VaultTimeout == nil && settings.VaultTimeoutAction == "" &&
		settings.PinProtected.Encrypted == "" && settings.ProtectedPin == "" &&
		!settings.BiometricUnlock
	if empty {
		return nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return m.local.Save(ctx, state.KeyTempAccountSettings, data)
}

// moveSecureKeys renames the legacy un-suffixed secure-storage entries to
// the per-user scheme. Only possible when exactly one user was discovered;
// an ambiguous owner is left alone rather than guessed.
func (m *Migrator) moveSecureKeys(ctx context.Context, userID string) error {
	if !m.secure.Available() {
		return nil
	}
	moves := map[string]string{
		legacySecureMasterKey:          state.MasterKeyName(userID, ""),
		legacySecureMasterKeyAuto:      state.MasterKeyName(userID, state.SuffixAuto),
		legacySecureMasterKeyBiometric: state.MasterKeyName(userID, state.SuffixBiometric),
	}
	for from, to := range moves {
		value, err := m.secure.Get(ctx, from)
		if err != nil {
			return err
		}
		if value == nil {
			continue
		}
		if err := m.secure.Save(ctx, to, value); err != nil {
			return err
		}
		if err := m.secure.Remove(ctx, from); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) removeLegacyKeys(ctx context.Context, keys []string) error {
	prefixes := []string{
		legacyPrefixUserEmail, legacyPrefixKeyHash, legacyPrefixEncKey,
		legacyPrefixEncPrivateKey, legacyPrefixAccessToken, legacyPrefixRefreshToken,
		legacyPrefixSecurityStamp, legacyPrefixKdf, legacyPrefixKdfIterations,
		legacyPrefixClientID, legacyPrefixClientSecret, legacyPrefixVaultTimeout,
		legacyPrefixTimeoutAction, legacyPrefixPinProtected, legacyPrefixProtectedPin,
		legacyPrefixBiometric, legacyPrefixTwoFactorToken,
	}
	bare := []string{
		legacyKeyActiveUser, legacyKeyRememberedEmail, legacyKeyLocale,
		legacyKeyTheme, legacyKeyEnvironmentURLs, legacyKeyVaultTimeout,
		legacyKeyTimeoutAction, legacyKeyPinProtected, legacyKeyProtectedPin,
		legacyKeyBiometric,
	}

	for _, key := range keys {
		remove := false
		for _, b := range bare {
			if key == b {
				remove = true
				break
			}
		}
		if !remove {
			for _, p := range prefixes {
				if strings.HasPrefix(key, p) {
					remove = true
					break
				}
			}
		}
		if !remove {
			continue
		}
		if err := m.local.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// backfillPremium derives the premium flag from the access token for
// accounts migrated before the flag existed. Already-present values win.
func (m *Migrator) backfillPremium(ctx context.Context) error {
	return m.forEachAccount(ctx, func(account *models.Account) bool {
		if account.Profile.HasPremiumPersonally != nil || account.Tokens.AccessToken == "" {
			return false
		}
		claims, err := models.DecodeToken(account.Tokens.AccessToken)
		if err != nil {
			return false
		}
		premium := claims.Premium
		account.Profile.HasPremiumPersonally = &premium
		return true
	})
}

// dropObsoleteProfileFields removes everBeenUnlocked from the profile
// record. The field lives in settings now; a profile value left by an old
// client is carried over rather than lost. Works on the raw JSON because
// the typed profile no longer has the field.
func (m *Migrator) dropObsoleteProfileFields(ctx context.Context) error {
	ids, err := m.accountIDs(ctx)
	if err != nil {
		return err
	}
	for _, userID := range ids {
		data, err := m.local.Get(ctx, state.AccountKey(userID))
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		var record map[string]json.RawMessage
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		var profile map[string]json.RawMessage
		if err := json.Unmarshal(record["profile"], &profile); err != nil {
			continue
		}
		raw, ok := profile["everBeenUnlocked"]
		if !ok {
			continue
		}
		delete(profile, "everBeenUnlocked")

		var settings map[string]json.RawMessage
		if err := json.Unmarshal(record["settings"], &settings); err != nil {
			settings = make(map[string]json.RawMessage)
		}
		if _, present := settings["everBeenUnlocked"]; !present {
			settings["everBeenUnlocked"] = raw
		}

		if record["profile"], err = json.Marshal(profile); err != nil {
			return err
		}
		if record["settings"], err = json.Marshal(settings); err != nil {
			return err
		}
		out, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := m.local.Save(ctx, state.AccountKey(userID), out); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) accountIDs(ctx context.Context) ([]string, error) {
	data, err := m.local.Get(ctx, state.KeyAuthenticatedAccounts)
	if err != nil {
		return nil, err
	}
	var ids []string
	if data != nil {
		_ = json.Unmarshal(data, &ids)
	}
	return ids, nil
}

func (m *Migrator) forEachAccount(ctx context.Context, apply func(*models.Account) bool) error {
	ids, err := m.accountIDs(ctx)
	if err != nil {
		return err
	}
	for _, userID := range ids {
		data, err := m.local.Get(ctx, state.AccountKey(userID))
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		account := &models.Account{}
		if err := json.Unmarshal(data, account); err != nil {
			continue
		}
		if !apply(account) {
			continue
		}
		out, err := json.Marshal(account)
		if err != nil {
			return err
		}
		if err := m.local.Save(ctx, state.AccountKey(userID), out); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) getString(ctx context.Context, key string) (string, error) {
	data, err := m.local.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Migrator) getInt(ctx context.Context, key string) (*int, error) {
	raw, err := m.getString(ctx, key)
	if err != nil || raw == "" {
		return nil, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, nil
	}
	return &n, nil
}
