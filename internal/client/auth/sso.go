package auth

import (
	"context"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
)

// ssoStrategy authenticates with an authorization code from an external
// identity provider. Key material comes from the token response, a key
// connector, or, for a first-time user, is synthesized on the spot.
type ssoStrategy struct {
	base
	creds models.SsoCredentials
}

func newSsoStrategy(b base, creds models.SsoCredentials) *ssoStrategy {
	return &ssoStrategy{base: b, creds: creds}
}

func (s *ssoStrategy) LogIn(ctx context.Context) (*models.AuthResult, error) {
	s.request = &api.TokenRequest{
		Kind:         models.CredentialKindSso,
		Device:       s.device,
		Code:         s.creds.Code,
		CodeVerifier: s.creds.CodeVerifier,
		RedirectURL:  s.creds.RedirectURL,
	}
	s.attachRememberedTwoFactor("", s.creds.TwoFactor)

	return s.submit(ctx, s.onSuccess)
}

func (s *ssoStrategy) LogInTwoFactor(ctx context.Context, twoFactor models.TwoFactorRequest, captchaResponse string) (*models.AuthResult, error) {
	return s.resume(ctx, twoFactor, captchaResponse, s.onSuccess)
}

func (s *ssoStrategy) onSuccess(ctx context.Context, userID string, tok *api.IdentityTokenResponse) error {
	if tok.KeyConnectorURL == "" {
		return nil
	}
	if tok.Key != "" {
		return s.kc.GetAndSetKey(ctx, userID, tok.KeyConnectorURL)
	}
	// brand-new user on a key-connector org: no key exists anywhere yet
	return s.kc.ConvertNewSsoUserToKeyConnector(ctx, userID, s.creds.OrgID, tok.KeyConnectorURL)
}
