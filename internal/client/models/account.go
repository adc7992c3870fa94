package models

import (
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
)

// Account is one authenticated identity's full local footprint. It is
// persisted as JSON in the disk tiers; fields tagged "-" hold decrypted or
// derived material and therefore only ever live in process memory.
type Account struct {
	Profile  AccountProfile  `json:"profile"`
	Keys     AccountKeys     `json:"keys"`
	Tokens   AccountTokens   `json:"tokens"`
	Settings AccountSettings `json:"settings"`
	Data     AccountData     `json:"data"`
}

// AccountProfile describes the identity itself.
type AccountProfile struct {
	UserID                      string            `json:"userId"`
	Email                       string            `json:"email"`
	EmailVerified               bool              `json:"emailVerified"`
	KDF                         cryptox.KDFConfig `json:"kdf"`
	KeyHash                     string            `json:"keyHash"`
	APIKeyClientID              string            `json:"apiKeyClientId,omitempty"`
	HasPremiumPersonally        *bool             `json:"hasPremiumPersonally,omitempty"`
	ForcePasswordReset          bool              `json:"forcePasswordReset"`
	UsesKeyConnector            bool              `json:"usesKeyConnector"`
	ConvertAccountToKeyConnector bool             `json:"convertAccountToKeyConnector"`
	LastSync                    string            `json:"lastSync,omitempty"`
}

// AccountKeys carries key material. Decrypted variants never reach disk; the
// secure-storage master-key copies (auto/biometric unlock) are not part of
// this struct at all, they live under suffixed keys in the OS secret store.
type AccountKeys struct {
	EncryptedSymmetricKey string `json:"cryptoSymmetricKey,omitempty"`
	EncryptedPrivateKey   string `json:"privateKey,omitempty"`
	PublicKey             string `json:"publicKey,omitempty"`
	APIKeyClientSecret    string `json:"apiKeyClientSecret,omitempty"`
	LegacyEtmKey          string `json:"legacyEtmKey,omitempty"`

	MasterKey             []byte `json:"-"`
	DecryptedSymmetricKey []byte `json:"-"`
	DecryptedPrivateKey   []byte `json:"-"`
}

// AccountTokens holds the session tokens. Whether they are persisted at all
// depends on the account's vault-timeout action; the state store enforces
// that placement.
type AccountTokens struct {
	AccessToken   string `json:"accessToken,omitempty"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	SecurityStamp string `json:"securityStamp,omitempty"`

	DecodedToken *TokenClaims `json:"-"`
}

// EncString is an encrypted/decrypted value pair; the decrypted side is
// memory-only.
type EncString struct {
	Encrypted string `json:"encrypted,omitempty"`
	Decrypted []byte `json:"-"`
}

// AccountSettings are per-account preferences. They survive both lock and
// the reset performed on logout.
type AccountSettings struct {
	EnvironmentURLs    EnvironmentURLs     `json:"environmentUrls"`
	VaultTimeout       *int                `json:"vaultTimeout,omitempty"`
	VaultTimeoutAction VaultTimeoutAction  `json:"vaultTimeoutAction,omitempty"`
	PinProtected       EncString           `json:"pinProtected,omitempty"`
	ProtectedPin       string              `json:"protectedPin,omitempty"`
	BiometricUnlock    bool                `json:"biometricUnlock"`
	BiometricLocked    bool                `json:"biometricLocked"`
	EverBeenUnlocked   bool                `json:"everBeenUnlocked"`
	AlwaysOnTop        *bool               `json:"alwaysOnTop,omitempty"`
	EquivalentDomains  [][]string          `json:"equivalentDomains,omitempty"`
}

// EncryptedCache is a cached collection of vault entities: the encrypted
// side is synced to disk, the decrypted side is memory-only and is dropped
// on lock or account switch.
type EncryptedCache struct {
	Encrypted map[string]string `json:"encrypted,omitempty"`
	Decrypted map[string][]byte `json:"-"`
}

// AccountData is the locally cached server state for the account.
type AccountData struct {
	Ciphers       EncryptedCache          `json:"ciphers,omitempty"`
	Folders       EncryptedCache          `json:"folders,omitempty"`
	Collections   EncryptedCache          `json:"collections,omitempty"`
	Organizations map[string]Organization `json:"organizations,omitempty"`
	Providers     map[string]Provider     `json:"providers,omitempty"`
	Policies      map[string]Policy       `json:"policies,omitempty"`
	EventQueue    []Event                 `json:"eventQueue,omitempty"`
}

// Event is a queued audit event awaiting upload.
type Event struct {
	Type   int    `json:"type"`
	IDList string `json:"idList,omitempty"`
	Date   string `json:"date"`
}

// EnvironmentURLs point the account at a service deployment. The global
// values are stamped onto an account at login time.
type EnvironmentURLs struct {
	Base         string `json:"base,omitempty"`
	API          string `json:"api,omitempty"`
	Identity     string `json:"identity,omitempty"`
	KeyConnector string `json:"keyConnector,omitempty"`
}

// ClearDecryptedData drops everything derived or decrypted: key material
// and plaintext entity caches. Encrypted-on-disk data and settings remain.
func (a *Account) ClearDecryptedData() {
	a.Keys.MasterKey = nil
	a.Keys.DecryptedSymmetricKey = nil
	a.Keys.DecryptedPrivateKey = nil
	a.Settings.PinProtected.Decrypted = nil
	a.Data.Ciphers.Decrypted = nil
	a.Data.Folders.Decrypted = nil
	a.Data.Collections.Decrypted = nil
}

// Reset returns a fresh account that keeps only the persistent settings.
// Used when an account is removed: preferences survive sign-out.
func (a *Account) Reset() *Account {
	return &Account{Settings: a.Settings}
}

// IsAuthenticated reports whether the account still holds an access token.
func (a *Account) IsAuthenticated() bool {
	return a != nil && a.Tokens.AccessToken != ""
}
