// Package auth implements the login strategies and the orchestrator that
// selects, holds, and expires them. One strategy per credential kind, each
// a small state machine that talks to the identity endpoint and populates
// the state store on success.
package auth

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/keyconnector"
	"github.com/dmitrijs2005/lockbox/internal/client/messaging"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

// Strategy is one credential kind's login state machine. A strategy that
// returned a two-factor continuation stays alive to resume via
// LogInTwoFactor.
type Strategy interface {
	LogIn(ctx context.Context) (*models.AuthResult, error)
	LogInTwoFactor(ctx context.Context, twoFactor models.TwoFactorRequest, captchaResponse string) (*models.AuthResult, error)
}

// base carries what every strategy shares: the collaborators, the pending
// token request (kept for two-factor resumption), and the response
// branching.
type base struct {
	api   api.Client
	store *state.Store
	kc    *keyconnector.Service
	bus   *messaging.Bus
	log   logging.Logger

	device  api.DeviceRequest
	request *api.TokenRequest
}

// attachRememberedTwoFactor adds a previously remembered "remember me"
// token for the email, unless the caller supplied an explicit factor.
func (b *base) attachRememberedTwoFactor(email string, explicit *models.TwoFactorRequest) {
	if explicit != nil {
		b.request.TwoFactor = &api.TokenTwoFactor{
			Provider: explicit.Provider,
			Token:    explicit.Token,
			Remember: explicit.Remember,
		}
		return
	}
	if email == "" {
		return
	}
	if token := b.store.TwoFactorToken(email); token != "" {
		b.request.TwoFactor = &api.TokenTwoFactor{
			Provider: models.TwoFactorProviderRemember,
			Token:    token,
		}
	}
}

// submit posts the pending token request and branches on the discriminated
// response. hook runs the strategy-specific post-login step once an account
// exists and key material is in place.
func (b *base) submit(ctx context.Context, hook func(ctx context.Context, userID string, tok *api.IdentityTokenResponse) error) (*models.AuthResult, error) {
	resp, err := b.api.PostIdentityToken(ctx, b.request)
	if err != nil {
		if api.IsProtocolError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("identity token exchange: %w", err)
	}

	switch {
	case resp.TwoFactor != nil:
		return &models.AuthResult{TwoFactorProviders: resp.TwoFactor.Providers}, nil
	case resp.Captcha != nil:
		return &models.AuthResult{CaptchaSiteKey: resp.Captcha.SiteKey}, nil
	case resp.Token != nil:
		return b.processTokenResponse(ctx, resp.Token, hook)
	default:
		return nil, fmt.Errorf("%w: empty identity response", common.ErrAuthenticationRejected)
	}
}

func (b *base) processTokenResponse(ctx context.Context, tok *api.IdentityTokenResponse, hook func(ctx context.Context, userID string, tok *api.IdentityTokenResponse) error) (*models.AuthResult, error) {
	claims, err := models.DecodeToken(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	userID := claims.UserID

	account := &models.Account{
		Profile: models.AccountProfile{
			UserID:             userID,
			Email:              claims.Email,
			EmailVerified:      claims.EmailVerified,
			KDF:                tok.KDF,
			ForcePasswordReset: tok.ForcePasswordReset,
		},
	}
	if err := b.store.AddAccount(ctx, account); err != nil {
		return nil, err
	}
	if err := b.store.SetTokens(ctx, userID, tok.AccessToken, tok.RefreshToken); err != nil {
		return nil, err
	}
	b.api.SetTokens(tok.AccessToken, tok.RefreshToken)

	// A brand-new SSO-provisioned user may have no vault key yet; key-pair
	// creation is deferred to the strategy hook in that case.
	if tok.Key != "" {
		if err := b.store.SetEncryptedSymmetricKey(ctx, userID, tok.Key); err != nil {
			return nil, err
		}
	}
	if tok.PrivateKey != "" {
		if err := b.store.SetKeyPair(ctx, userID, "", tok.PrivateKey); err != nil {
			return nil, err
		}
	}

	if hook != nil {
		if err := hook(ctx, userID, tok); err != nil {
			return nil, err
		}
	}

	if tok.TwoFactorToken != "" && claims.Email != "" {
		if err := b.store.SetTwoFactorToken(ctx, claims.Email, tok.TwoFactorToken); err != nil {
			return nil, err
		}
	}

	b.bus.Send(messaging.TopicLoggedIn, userID)
	return &models.AuthResult{
		ResetMasterPassword: tok.ResetMasterPassword,
		ForcePasswordReset:  tok.ForcePasswordReset,
	}, nil
}

// resume replays the held request with the supplied second factor (and
// CAPTCHA response, when the provider demanded one).
func (b *base) resume(ctx context.Context, twoFactor models.TwoFactorRequest, captchaResponse string, hook func(ctx context.Context, userID string, tok *api.IdentityTokenResponse) error) (*models.AuthResult, error) {
	b.request.TwoFactor = &api.TokenTwoFactor{
		Provider: twoFactor.Provider,
		Token:    twoFactor.Token,
		Remember: twoFactor.Remember,
	}
	if captchaResponse != "" {
		b.request.CaptchaResponse = captchaResponse
	}
	return b.submit(ctx, hook)
}
