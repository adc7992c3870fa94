package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login prompts for email and master password and authenticates. When the
// server answers with a two-factor continuation, the user is prompted for a
// code until the exchange reaches a terminal result or the pending session
// expires.
//
// The password byte slice is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	result, err := a.auth.LogIn(ctx, models.PasswordCredentials{
		Email:          email,
		MasterPassword: password,
	})
	if err != nil {
		if errors.Is(err, common.ErrAuthenticationRejected) {
			printlnFn("Invalid email or master password")
		} else {
			printlnFn("Login failed:", err.Error())
		}
		return err
	}

	if result.CaptchaSiteKey != "" {
		printlnFn("The server requires a captcha; log in through the web vault once and retry")
		return nil
	}

	for result.RequiresTwoFactor() {
		result, err = a.loginTwoFactor(ctx, result)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
	}

	printlnFn("Logged in as", email)
	a.touch(ctx)
	_, _ = a.sync.FullSync(ctx, true, false)
	return nil
}

// loginTwoFactor runs one prompt/submit round. A nil result with nil error
// means the user aborted.
func (a *App) loginTwoFactor(ctx context.Context, pending *models.AuthResult) (*models.AuthResult, error) {
	provider := pickProvider(pending)
	printlnFn("Two-step login required:", providerLabel(provider))

	code, err := getSimpleText(a.reader, "Enter verification code (empty to abort)", os.Stdout)
	if err != nil {
		return nil, err
	}
	if code == "" {
		printlnFn("Login aborted")
		return nil, nil
	}

	remember, err := getSimpleText(a.reader, "Remember this device? (y/N)", os.Stdout)
	if err != nil {
		return nil, err
	}

	result, err := a.auth.LogInTwoFactor(ctx, models.TwoFactorRequest{
		Provider: provider,
		Token:    code,
		Remember: strings.EqualFold(remember, "y"),
	}, "")
	if err != nil {
		if errors.Is(err, common.ErrSessionExpired) {
			printlnFn("Two-step login session expired, start over with 'login'")
			return nil, err
		}
		printlnFn("Verification failed:", err.Error())
		// pending state survives a rejected code, let the user retry
		return pending, nil
	}

	if !result.RequiresTwoFactor() {
		printlnFn("Logged in")
		a.touch(ctx)
		_, _ = a.sync.FullSync(ctx, true, false)
		return nil, nil
	}
	return result, nil
}

// pickProvider chooses the provider to prompt for. The authenticator app is
// the only one this client can complete locally, so it wins when offered.
func pickProvider(result *models.AuthResult) models.TwoFactorProviderType {
	if _, ok := result.TwoFactorProviders[models.TwoFactorProviderAuthenticator]; ok {
		return models.TwoFactorProviderAuthenticator
	}
	for provider := range result.TwoFactorProviders {
		return provider
	}
	return models.TwoFactorProviderAuthenticator
}

func providerLabel(provider models.TwoFactorProviderType) string {
	switch provider {
	case models.TwoFactorProviderAuthenticator:
		return "authenticator app"
	case models.TwoFactorProviderEmail:
		return "email code"
	case models.TwoFactorProviderYubiKey:
		return "YubiKey"
	case models.TwoFactorProviderDuo, models.TwoFactorProviderOrganizationDuo:
		return "Duo"
	case models.TwoFactorProviderWebAuthn:
		return "WebAuthn"
	default:
		return fmt.Sprintf("provider %d", provider)
	}
}

// Unlock re-derives the master key from the prompted password and compares
// its local hash with the one recorded at login. On match the key goes back
// into memory and the vault unlocks.
func (a *App) Unlock(ctx context.Context) error {
	userID := a.store.ActiveUserID()
	if userID == "" {
		printlnFn("Not logged in")
		return nil
	}
	if !a.store.IsLocked(userID) {
		printlnFn("Vault is not locked")
		return nil
	}

	account, ok := a.store.Account(userID)
	if !ok {
		printlnFn("Not logged in")
		return nil
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	email := strings.ToLower(strings.TrimSpace(account.Profile.Email))
	key, err := cryptox.MakeKey(password, []byte(email), account.Profile.KDF)
	if err != nil {
		return err
	}

	stored := a.store.KeyHash(userID)
	if stored == "" || cryptox.HashPassword(password, key, cryptox.HashPurposeLocalAuthorization) != stored {
		common.WipeByteArray(key)
		printlnFn("Invalid master password")
		return common.ErrAuthenticationRejected
	}

	if err := a.store.SetMasterKey(ctx, userID, key); err != nil {
		return err
	}
	if err := a.store.SetBiometricLocked(ctx, userID, false); err != nil {
		return err
	}
	if err := a.store.SetEverBeenUnlocked(ctx, userID, true); err != nil {
		return err
	}
	a.touch(ctx)
	printlnFn("Vault unlocked")
	return nil
}

// Lock locks the active account's vault immediately.
func (a *App) Lock(ctx context.Context) error {
	userID := a.store.ActiveUserID()
	if userID == "" {
		printlnFn("Not logged in")
		return nil
	}
	return a.timeout.Lock(ctx, userID)
}

// Sync forces a full sync and reports the outcome.
func (a *App) Sync(ctx context.Context) error {
	synced, err := a.sync.FullSync(ctx, true, true)
	if err != nil {
		printlnFn("Sync failed:", err.Error())
		return err
	}
	if synced {
		printlnFn("Sync complete")
	} else {
		printlnFn("Nothing to sync")
	}
	a.touch(ctx)
	return nil
}

// Status prints session details for the active account.
func (a *App) Status(ctx context.Context) error {
	userID := a.store.ActiveUserID()
	if userID == "" {
		printlnFn("Not logged in")
		return nil
	}
	account, ok := a.store.Account(userID)
	if !ok {
		printlnFn("Not logged in")
		return nil
	}

	printlnFn("User:      ", account.Profile.Email)
	if a.store.IsLocked(userID) {
		printlnFn("Vault:      locked")
	} else {
		printlnFn("Vault:      unlocked")
	}
	if at, ok := a.store.LastSync(userID); ok {
		printlnFn("Last sync: ", at.Format(time.RFC3339))
	} else {
		printlnFn("Last sync:  never")
	}
	if accounts := a.store.AuthenticatedAccounts(); len(accounts) > 1 {
		printlnFn("Accounts:  ", len(accounts))
	}
	return nil
}

// Logout ends the active account's session and wipes its state.
func (a *App) Logout(ctx context.Context) error {
	userID := a.store.ActiveUserID()
	if userID == "" {
		printlnFn("Not logged in")
		return nil
	}
	if err := a.auth.LogOut(ctx, userID); err != nil {
		printlnFn("Logout failed:", err.Error())
		return err
	}
	return nil
}