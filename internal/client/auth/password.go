package auth

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
)

// passwordStrategy authenticates with email and master password. The
// password itself never leaves the process: the server sees only the
// server-purpose hash, and what is retained locally is the derived master
// key and the local-purpose hash.
type passwordStrategy struct {
	base
	creds models.PasswordCredentials

	masterKey []byte
	localHash string
}

func newPasswordStrategy(b base, creds models.PasswordCredentials) *passwordStrategy {
	return &passwordStrategy{base: b, creds: creds}
}

func (s *passwordStrategy) LogIn(ctx context.Context) (*models.AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(s.creds.Email))

	cfg, err := makePreloginKDF(ctx, s.api, email)
	if err != nil {
		return nil, err
	}
	masterKey, err := cryptox.MakeKey(s.creds.MasterPassword, []byte(email), cfg)
	if err != nil {
		return nil, err
	}
	s.masterKey = masterKey
	s.localHash = cryptox.HashPassword(s.creds.MasterPassword, masterKey, cryptox.HashPurposeLocalAuthorization)
	serverHash := cryptox.HashPassword(s.creds.MasterPassword, masterKey, cryptox.HashPurposeServerAuthorization)

	s.request = &api.TokenRequest{
		Kind:               models.CredentialKindPassword,
		Device:             s.device,
		Email:              email,
		MasterPasswordHash: serverHash,
		CaptchaResponse:    s.creds.CaptchaToken,
	}
	s.attachRememberedTwoFactor(email, s.creds.TwoFactor)

	return s.submit(ctx, s.onSuccess)
}

func (s *passwordStrategy) LogInTwoFactor(ctx context.Context, twoFactor models.TwoFactorRequest, captchaResponse string) (*models.AuthResult, error) {
	return s.resume(ctx, twoFactor, captchaResponse, s.onSuccess)
}

// onSuccess caches the derived key material for the unlock path.
func (s *passwordStrategy) onSuccess(ctx context.Context, userID string, _ *api.IdentityTokenResponse) error {
	if err := s.store.SetMasterKey(ctx, userID, s.masterKey); err != nil {
		return err
	}
	return s.store.SetKeyHash(ctx, userID, s.localHash)
}
