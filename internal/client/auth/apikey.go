package auth

import (
	"context"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
)

// apiKeyStrategy authenticates with a client id/secret pair. API keys never
// go through two-factor, but the shared resumption path is kept for
// interface symmetry.
type apiKeyStrategy struct {
	base
	creds models.APIKeyCredentials
}

func newAPIKeyStrategy(b base, creds models.APIKeyCredentials) *apiKeyStrategy {
	return &apiKeyStrategy{base: b, creds: creds}
}

func (s *apiKeyStrategy) LogIn(ctx context.Context) (*models.AuthResult, error) {
	s.request = &api.TokenRequest{
		Kind:         models.CredentialKindAPIKey,
		Device:       s.device,
		ClientID:     s.creds.ClientID,
		ClientSecret: s.creds.ClientSecret,
	}
	return s.submit(ctx, s.onSuccess)
}

func (s *apiKeyStrategy) LogInTwoFactor(ctx context.Context, twoFactor models.TwoFactorRequest, captchaResponse string) (*models.AuthResult, error) {
	return s.resume(ctx, twoFactor, captchaResponse, s.onSuccess)
}

func (s *apiKeyStrategy) onSuccess(ctx context.Context, userID string, tok *api.IdentityTokenResponse) error {
	if err := s.store.SetAPIKeyCredentials(ctx, userID, s.creds.ClientID, s.creds.ClientSecret); err != nil {
		return err
	}
	if tok.APIUseKeyConnector && tok.KeyConnectorURL != "" {
		return s.kc.GetAndSetKey(ctx, userID, tok.KeyConnectorURL)
	}
	return nil
}
