package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/keyconnector"
	"github.com/dmitrijs2005/lockbox/internal/client/messaging"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/client/storage"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func signTestToken(t *testing.T, userID, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// fakeAPI is an identity/API endpoint double. It verifies the
// server-purpose password hash and, when configured, demands and checks an
// authenticator code.
type fakeAPI struct {
	kdf          cryptox.KDFConfig
	preloginErr  error
	expectedHash string
	accessToken  string

	requireTwoFactor bool
	totpSecret       string
	rememberToken    string

	identityErr error
	lastRequest *api.TokenRequest
	tokenCalls  int
}

func (f *fakeAPI) PostPrelogin(ctx context.Context, email string) (*api.PreloginResponse, error) {
	if f.preloginErr != nil {
		return nil, f.preloginErr
	}
	return &api.PreloginResponse{KDF: f.kdf}, nil
}

func (f *fakeAPI) PostIdentityToken(ctx context.Context, req *api.TokenRequest) (*api.IdentityResponse, error) {
	f.tokenCalls++
	f.lastRequest = req
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	if f.expectedHash != "" && req.MasterPasswordHash != f.expectedHash {
		return nil, &api.ErrorResponse{StatusCode: 400, Message: "invalid_username_or_password"}
	}
	if f.requireTwoFactor {
		if req.TwoFactor == nil {
			return &api.IdentityResponse{TwoFactor: &api.IdentityTwoFactorResponse{
				Providers: map[models.TwoFactorProviderType]models.TwoFactorProviderData{
					models.TwoFactorProviderAuthenticator: {},
				},
			}}, nil
		}
		if req.TwoFactor.Provider == models.TwoFactorProviderAuthenticator &&
			!cryptox.ValidateTOTP(req.TwoFactor.Token, f.totpSecret) {
			return nil, &api.ErrorResponse{StatusCode: 400, Message: "invalid two-step token"}
		}
	}
	tok := &api.IdentityTokenResponse{
		AccessToken:  f.accessToken,
		RefreshToken: "refresh-1",
		ExpiresIn:    3600,
		Key:          "2.enc|sym|key",
		KDF:          f.kdf,
	}
	if f.requireTwoFactor && req.TwoFactor != nil && req.TwoFactor.Remember {
		tok.TwoFactorToken = f.rememberToken
	}
	return &api.IdentityResponse{Token: tok}, nil
}

func (f *fakeAPI) RefreshIdentityToken(ctx context.Context) error { return nil }

func (f *fakeAPI) GetAccountRevisionDate(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeAPI) GetSync(ctx context.Context) (*api.SyncResponse, error) { return nil, nil }

func (f *fakeAPI) GetUserKeyFromKeyConnector(ctx context.Context, url string) (string, error) {
	return "", nil
}

func (f *fakeAPI) PostUserKeyToKeyConnector(ctx context.Context, url, key string) error { return nil }

func (f *fakeAPI) PostSetKeyConnectorKey(ctx context.Context, req *api.SetKeyConnectorKeyRequest) error {
	return nil
}

func (f *fakeAPI) PostConvertToKeyConnector(ctx context.Context) error { return nil }

func (f *fakeAPI) SetTokens(accessToken, refreshToken string) {}

func (f *fakeAPI) Tokens() (string, string) { return "", "" }

func newTestService(t *testing.T, client api.Client) (*Service, *state.Store) {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus := messaging.NewBus()
	secure, err := storage.NewFileSecure(t.TempDir())
	require.NoError(t, err)
	store := state.NewStore(storage.NewMemory(), storage.NewMemory(), secure, bus, log)
	require.NoError(t, store.Init(context.Background(), nil))
	kc := keyconnector.NewService(client, store, log)
	return NewService(client, store, kc, bus, log), store
}

func passwordFake(t *testing.T, password, email string) *fakeAPI {
	t.Helper()
	cfg := cryptox.KDFConfig{Type: cryptox.KDFTypePBKDF2, Iterations: 5000}
	masterKey, err := cryptox.MakeKey([]byte(password), []byte(email), cfg)
	require.NoError(t, err)
	return &fakeAPI{
		kdf:          cfg,
		expectedHash: cryptox.HashPassword([]byte(password), masterKey, cryptox.HashPurposeServerAuthorization),
		accessToken:  signTestToken(t, "u1", email),
	}
}

func TestPasswordLogInSingleFactor(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	svc, store := newTestService(t, fake)

	result, err := svc.LogIn(context.Background(), models.PasswordCredentials{
		Email:          "A@B.com",
		MasterPassword: []byte("correct-horse"),
	})
	require.NoError(t, err)
	require.False(t, result.RequiresTwoFactor())
	require.False(t, result.RequiresCaptcha())

	require.Equal(t, "u1", store.ActiveUserID())
	require.NotEmpty(t, store.AccessToken("u1"))
	require.Equal(t, "2.enc|sym|key", store.EncryptedSymmetricKey("u1"))
	require.NotNil(t, store.MasterKey("u1"))
	require.NotEmpty(t, store.KeyHash("u1"))

	// plaintext password never reaches a persisted field
	a, ok := store.Account("u1")
	require.True(t, ok)
	require.NotContains(t, a.Profile.KeyHash, "correct-horse")
	require.NotEqual(t, "correct-horse", string(a.Keys.MasterKey))
}

func TestPasswordLogInRejected(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	svc, store := newTestService(t, fake)

	_, err := svc.LogIn(context.Background(), models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("wrong-password"),
	})
	require.ErrorIs(t, err, common.ErrAuthenticationRejected)
	require.Empty(t, store.AuthenticatedAccounts())
}

func TestTwoFactorFlow(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	fake.requireTwoFactor = true
	fake.totpSecret = testTOTPSecret
	fake.rememberToken = "remember-me-1"
	svc, store := newTestService(t, fake)
	ctx := context.Background()

	result, err := svc.LogIn(ctx, models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("correct-horse"),
	})
	require.NoError(t, err)
	require.True(t, result.RequiresTwoFactor())
	require.Contains(t, result.TwoFactorProviders, models.TwoFactorProviderAuthenticator)
	require.True(t, svc.AuthingWithPassword())

	code, err := cryptox.GenerateTOTP(testTOTPSecret, time.Now())
	require.NoError(t, err)

	result, err = svc.LogInTwoFactor(ctx, models.TwoFactorRequest{
		Provider: models.TwoFactorProviderAuthenticator,
		Token:    code,
		Remember: true,
	}, "")
	require.NoError(t, err)
	require.False(t, result.RequiresTwoFactor())

	require.Equal(t, "u1", store.ActiveUserID())
	require.Equal(t, "remember-me-1", store.TwoFactorToken("a@b.com"))

	// terminal result discards the pending strategy
	require.False(t, svc.AuthingWithPassword())
	_, err = svc.LogInTwoFactor(ctx, models.TwoFactorRequest{}, "")
	require.ErrorIs(t, err, common.ErrSessionExpired)
}

func TestTwoFactorWrongCodeKeepsSession(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	fake.requireTwoFactor = true
	fake.totpSecret = testTOTPSecret
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.LogIn(ctx, models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("correct-horse"),
	})
	require.NoError(t, err)

	_, err = svc.LogInTwoFactor(ctx, models.TwoFactorRequest{
		Provider: models.TwoFactorProviderAuthenticator,
		Token:    "000000",
	}, "")
	require.ErrorIs(t, err, common.ErrAuthenticationRejected)
	require.True(t, svc.AuthingWithPassword())

	code, err := cryptox.GenerateTOTP(testTOTPSecret, time.Now())
	require.NoError(t, err)
	_, err = svc.LogInTwoFactor(ctx, models.TwoFactorRequest{
		Provider: models.TwoFactorProviderAuthenticator,
		Token:    code,
	}, "")
	require.NoError(t, err)
}

func TestTwoFactorUnexpectedErrorClearsSession(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	fake.requireTwoFactor = true
	fake.totpSecret = testTOTPSecret
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.LogIn(ctx, models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("correct-horse"),
	})
	require.NoError(t, err)

	fake.identityErr = errors.New("connection reset")
	_, err = svc.LogInTwoFactor(ctx, models.TwoFactorRequest{
		Provider: models.TwoFactorProviderAuthenticator,
		Token:    "123456",
	}, "")
	require.Error(t, err)
	require.False(t, svc.AuthingWithPassword())
}

func TestTwoFactorAfterExpiry(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	fake.requireTwoFactor = true
	fake.totpSecret = testTOTPSecret
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.LogIn(ctx, models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("correct-horse"),
	})
	require.NoError(t, err)
	require.True(t, svc.AuthingWithPassword())

	// the session timer firing is equivalent to this
	svc.clearPending()

	code, err := cryptox.GenerateTOTP(testTOTPSecret, time.Now())
	require.NoError(t, err)
	_, err = svc.LogInTwoFactor(ctx, models.TwoFactorRequest{
		Provider: models.TwoFactorProviderAuthenticator,
		Token:    code,
	}, "")
	require.ErrorIs(t, err, common.ErrSessionExpired)
}

func TestStaleExpiryTimerKeepsNewerPendingSession(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	fake.requireTwoFactor = true
	fake.totpSecret = testTOTPSecret
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	creds := models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("correct-horse"),
	}
	_, err := svc.LogIn(ctx, creds)
	require.NoError(t, err)

	svc.mu.Lock()
	stale := svc.current
	svc.mu.Unlock()

	// a second login replaces the held strategy; the first timer then
	// fires late and must not discard the newer session
	_, err = svc.LogIn(ctx, creds)
	require.NoError(t, err)
	svc.expirePending(stale)
	require.True(t, svc.AuthingWithPassword())

	code, err := cryptox.GenerateTOTP(testTOTPSecret, time.Now())
	require.NoError(t, err)
	_, err = svc.LogInTwoFactor(ctx, models.TwoFactorRequest{
		Provider: models.TwoFactorProviderAuthenticator,
		Token:    code,
	}, "")
	require.NoError(t, err)
}

func TestRememberedTwoFactorTokenAttached(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	svc, store := newTestService(t, fake)
	ctx := context.Background()

	require.NoError(t, store.SetTwoFactorToken(ctx, "a@b.com", "remember-me-1"))

	_, err := svc.LogIn(ctx, models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("correct-horse"),
	})
	require.NoError(t, err)

	require.NotNil(t, fake.lastRequest.TwoFactor)
	require.Equal(t, models.TwoFactorProviderRemember, fake.lastRequest.TwoFactor.Provider)
	require.Equal(t, "remember-me-1", fake.lastRequest.TwoFactor.Token)
}

func TestAPIKeyLogIn(t *testing.T) {
	fake := &fakeAPI{accessToken: signTestToken(t, "u1", "a@b.com")}
	svc, store := newTestService(t, fake)

	result, err := svc.LogIn(context.Background(), models.APIKeyCredentials{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	})
	require.NoError(t, err)
	require.False(t, result.RequiresTwoFactor())

	a, ok := store.Account("u1")
	require.True(t, ok)
	require.Equal(t, "client-1", a.Profile.APIKeyClientID)
	require.Equal(t, "secret-1", a.Keys.APIKeyClientSecret)
	require.Equal(t, models.CredentialKindAPIKey, fake.lastRequest.Kind)
}

func TestMakePreloginKeyFallsBackOnNotFound(t *testing.T) {
	fake := &fakeAPI{preloginErr: &api.ErrorResponse{StatusCode: 404, Message: "Unknown email."}}
	svc, _ := newTestService(t, fake)

	key, cfg, err := svc.MakePreloginKey(context.Background(), []byte("correct-horse"), "new@b.com")
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Equal(t, cryptox.DefaultKDFConfig(), cfg)
}

func TestLogInEmitsLoggedInSignal(t *testing.T) {
	fake := passwordFake(t, "correct-horse", "a@b.com")
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus := messaging.NewBus()
	secure, err := storage.NewFileSecure(t.TempDir())
	require.NoError(t, err)
	store := state.NewStore(storage.NewMemory(), storage.NewMemory(), secure, bus, log)
	require.NoError(t, store.Init(context.Background(), nil))
	svc := NewService(fake, store, keyconnector.NewService(fake, store, log), bus, log)

	ch, cancel := bus.Subscribe()
	defer cancel()

	_, err = svc.LogIn(context.Background(), models.PasswordCredentials{
		Email:          "a@b.com",
		MasterPassword: []byte("correct-horse"),
	})
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Topic == messaging.TopicLoggedIn {
				require.Equal(t, "u1", msg.Payload)
				return
			}
		case <-deadline:
			t.Fatal("no loggedIn signal")
		}
	}
}
