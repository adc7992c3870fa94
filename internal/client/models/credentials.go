package models

// LoginCredentials is the tagged union of the three credential kinds. The
// auth orchestrator dispatches on Kind to pick a strategy.
type LoginCredentials interface {
	Kind() CredentialKind
}

// TwoFactorRequest carries a user-supplied second factor alongside a login
// or resumption attempt.
type TwoFactorRequest struct {
	Provider TwoFactorProviderType
	Token    string
	Remember bool
}

// PasswordCredentials authenticate with email and master password.
type PasswordCredentials struct {
	Email          string
	MasterPassword []byte
	CaptchaToken   string
	TwoFactor      *TwoFactorRequest
}

func (PasswordCredentials) Kind() CredentialKind { return CredentialKindPassword }

// SsoCredentials authenticate with an authorization code obtained from an
// external identity provider.
type SsoCredentials struct {
	Code         string
	CodeVerifier string
	RedirectURL  string
	OrgID        string
	TwoFactor    *TwoFactorRequest
}

func (SsoCredentials) Kind() CredentialKind { return CredentialKindSso }

// APIKeyCredentials authenticate with a client id/secret pair.
type APIKeyCredentials struct {
	ClientID     string
	ClientSecret string
}

func (APIKeyCredentials) Kind() CredentialKind { return CredentialKindAPIKey }
