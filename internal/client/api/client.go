// Package api defines the identity/API collaborator the session engine
// talks to: the token-exchange endpoint with its discriminated
// success/two-factor/CAPTCHA responses, the sync snapshot endpoints, and
// the key-connector endpoints. The HTTP implementation lives in http.go;
// everything above it depends only on the Client interface.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
)

// Client is the remote service surface consumed by auth, sync, and
// key-connector components.
type Client interface {
	// PostPrelogin looks up the KDF parameters advertised for an email.
	// Returns common.ErrNotFound when the email is unknown to the server.
	PostPrelogin(ctx context.Context, email string) (*PreloginResponse, error)

	// PostIdentityToken submits one of the three credential request shapes
	// and returns a discriminated response. Protocol-level continuations
	// (two-factor, CAPTCHA) are responses, not errors.
	PostIdentityToken(ctx context.Context, req *TokenRequest) (*IdentityResponse, error)

	// RefreshIdentityToken exchanges the refresh token for a new access
	// token, updating the tokens held by the transport.
	RefreshIdentityToken(ctx context.Context) error

	// GetAccountRevisionDate returns the server-side timestamp of the last
	// account mutation, used for the sync staleness check.
	GetAccountRevisionDate(ctx context.Context) (time.Time, error)

	// GetSync fetches the full account state snapshot.
	GetSync(ctx context.Context) (*SyncResponse, error)

	// Key-connector endpoints.
	GetUserKeyFromKeyConnector(ctx context.Context, url string) (string, error)
	PostUserKeyToKeyConnector(ctx context.Context, url, key string) error
	PostSetKeyConnectorKey(ctx context.Context, req *SetKeyConnectorKeyRequest) error
	PostConvertToKeyConnector(ctx context.Context) error

	// SetTokens points the transport at the session tokens to send and
	// refresh. Both may be empty for unauthenticated calls.
	SetTokens(accessToken, refreshToken string)

	// Tokens reports the pair the transport currently holds. A refresh
	// rotates the pair in place; callers persist it from here.
	Tokens() (accessToken, refreshToken string)
}

// PreloginResponse carries the KDF parameters for an email.
type PreloginResponse struct {
	KDF cryptox.KDFConfig `json:"kdf"`
}

// DeviceRequest identifies the client installation to the identity
// endpoint.
type DeviceRequest struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Type       int    `json:"type"`
}

// TokenTwoFactor is the second-factor portion of a token request.
type TokenTwoFactor struct {
	Provider models.TwoFactorProviderType `json:"provider"`
	Token    string                       `json:"token"`
	Remember bool                         `json:"remember"`
}

// TokenRequest is the identity token-exchange request. Exactly one
// credential group is populated, matching Kind.
type TokenRequest struct {
	Kind   models.CredentialKind `json:"kind"`
	Device DeviceRequest         `json:"device"`

	// Password credentials.
	Email              string `json:"email,omitempty"`
	MasterPasswordHash string `json:"masterPasswordHash,omitempty"`
	CaptchaResponse    string `json:"captchaResponse,omitempty"`

	// SSO credentials.
	Code         string `json:"code,omitempty"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
	RedirectURL  string `json:"redirectUri,omitempty"`

	// API-key credentials.
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`

	TwoFactor *TokenTwoFactor `json:"twoFactor,omitempty"`
}

// IdentityTokenResponse is the success branch of the token exchange.
type IdentityTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`

	// Key is the account's encrypted symmetric key; absent for a
	// brand-new SSO-provisioned user that has none yet.
	Key        string `json:"key,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`

	KDF                cryptox.KDFConfig `json:"kdf"`
	KeyConnectorURL    string            `json:"keyConnectorUrl,omitempty"`
	APIUseKeyConnector bool              `json:"apiUseKeyConnector,omitempty"`

	ResetMasterPassword bool `json:"resetMasterPassword,omitempty"`
	ForcePasswordReset  bool `json:"forcePasswordReset,omitempty"`

	// TwoFactorToken is the "remember me" token, present when the request
	// asked for one.
	TwoFactorToken string `json:"twoFactorToken,omitempty"`
}

// IdentityTwoFactorResponse is the continuation branch listing available
// providers.
type IdentityTwoFactorResponse struct {
	Providers          map[models.TwoFactorProviderType]models.TwoFactorProviderData `json:"providers"`
	CaptchaBypassToken string                                                        `json:"captchaBypassToken,omitempty"`
}

// IdentityCaptchaResponse is the continuation branch demanding a CAPTCHA.
type IdentityCaptchaResponse struct {
	SiteKey string `json:"siteKey"`
}

// IdentityResponse is the discriminated union returned by
// PostIdentityToken; exactly one field is non-nil.
type IdentityResponse struct {
	Token     *IdentityTokenResponse
	TwoFactor *IdentityTwoFactorResponse
	Captcha   *IdentityCaptchaResponse
}

// ProfileOrganizationResponse is the organization subset inside a profile.
type ProfileOrganizationResponse struct {
	ID              string                      `json:"id"`
	Name            string                      `json:"name"`
	Type            models.OrganizationUserType `json:"type"`
	UseKeyConnector bool                        `json:"useKeyConnector"`
	KeyConnectorURL string                      `json:"keyConnectorUrl,omitempty"`
}

// ProfileResponse is the profile portion of a sync snapshot.
type ProfileResponse struct {
	ID                 string                        `json:"id"`
	Email              string                        `json:"email"`
	EmailVerified      bool                          `json:"emailVerified"`
	Premium            bool                          `json:"premium"`
	Key                string                        `json:"key,omitempty"`
	PrivateKey         string                        `json:"privateKey,omitempty"`
	SecurityStamp      string                        `json:"securityStamp"`
	ForcePasswordReset bool                          `json:"forcePasswordReset"`
	UsesKeyConnector   bool                          `json:"usesKeyConnector"`
	Organizations      []ProfileOrganizationResponse `json:"organizations,omitempty"`
	Providers          []models.Provider             `json:"providers,omitempty"`
}

// EntityResponse is an opaque vault entity: the engine only needs its id
// and the raw encrypted body to cache; entity-specific services interpret
// the rest.
type EntityResponse struct {
	ID  string
	Raw json.RawMessage
}

func (e *EntityResponse) UnmarshalJSON(data []byte) error {
	var id struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	e.ID = id.ID
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e EntityResponse) MarshalJSON() ([]byte, error) {
	if e.Raw != nil {
		return e.Raw, nil
	}
	return json.Marshal(struct {
		ID string `json:"id"`
	}{ID: e.ID})
}

// SyncResponse is the full account state snapshot.
type SyncResponse struct {
	Profile     ProfileResponse `json:"profile"`
	Folders     []EntityResponse `json:"folders,omitempty"`
	Collections []EntityResponse `json:"collections,omitempty"`
	Ciphers     []EntityResponse `json:"ciphers,omitempty"`
	Policies    []models.Policy  `json:"policies,omitempty"`
	Domains     json.RawMessage  `json:"domains,omitempty"`
}

// SetKeyConnectorKeyRequest registers a synthesized key for a first-time
// SSO user converting straight to key connector.
type SetKeyConnectorKeyRequest struct {
	Key                 string            `json:"key"`
	KDF                 cryptox.KDFConfig `json:"kdf"`
	OrgIdentifier       string            `json:"orgIdentifier"`
	PublicKey           string            `json:"publicKey"`
	EncryptedPrivateKey string            `json:"encryptedPrivateKey"`
}
