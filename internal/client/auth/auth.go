package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/keyconnector"
	"github.com/dmitrijs2005/lockbox/internal/client/messaging"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

// sessionTimeout bounds how long a pending two-factor login may be resumed.
const sessionTimeout = 2 * time.Minute

// Service is the auth orchestrator: it dispatches on the credential kind to
// build a strategy, holds at most one in-flight strategy across a
// two-factor exchange, and expires it on a wall-clock timer.
type Service struct {
	api   api.Client
	store *state.Store
	kc    *keyconnector.Service
	bus   *messaging.Bus
	log   logging.Logger

	device api.DeviceRequest

	mu      sync.Mutex
	current Strategy
	expiry  *time.Timer
}

func NewService(client api.Client, store *state.Store, kc *keyconnector.Service, bus *messaging.Bus, log logging.Logger) *Service {
	return &Service{
		api:   client,
		store: store,
		kc:    kc,
		bus:   bus,
		log:   log.With("component", "auth"),
		device: api.DeviceRequest{
			Identifier: uuid.NewString(),
			Name:       "lockbox-cli",
			Type:       deviceTypeCLI,
		},
	}
}

const deviceTypeCLI = 23

func (s *Service) newBase() base {
	return base{
		api:    s.api,
		store:  s.store,
		kc:     s.kc,
		bus:    s.bus,
		log:    s.log,
		device: s.device,
	}
}

// LogIn starts a login with the given credentials. An intermediate result
// (two-factor) keeps the strategy alive for resumption until the session
// timer fires; a terminal result or any error discards it.
func (s *Service) LogIn(ctx context.Context, creds models.LoginCredentials) (*models.AuthResult, error) {
	var strategy Strategy
	switch c := creds.(type) {
	case models.PasswordCredentials:
		strategy = newPasswordStrategy(s.newBase(), c)
	case models.SsoCredentials:
		strategy = newSsoStrategy(s.newBase(), c)
	case models.APIKeyCredentials:
		strategy = newAPIKeyStrategy(s.newBase(), c)
	default:
		return nil, fmt.Errorf("unsupported credential kind %v", creds.Kind())
	}

	s.clearPending()

	result, err := strategy.LogIn(ctx)
	if err != nil {
		return nil, err
	}
	if result.RequiresTwoFactor() {
		s.holdPending(strategy)
	}
	return result, nil
}

// LogInTwoFactor resumes the held strategy with a second factor. A missing
// or expired strategy fails with ErrSessionExpired regardless of whether
// the supplied token would have been correct.
func (s *Service) LogInTwoFactor(ctx context.Context, twoFactor models.TwoFactorRequest, captchaResponse string) (*models.AuthResult, error) {
	s.mu.Lock()
	strategy := s.current
	s.mu.Unlock()
	if strategy == nil {
		return nil, common.ErrSessionExpired
	}

	result, err := strategy.LogInTwoFactor(ctx, twoFactor, captchaResponse)
	if err != nil {
		// a protocol-level rejection (wrong code) keeps the session open
		// for another attempt; anything else is unexpected and the pending
		// state cannot be trusted
		if !api.IsProtocolError(err) && !errors.Is(err, common.ErrAuthenticationRejected) {
			s.clearPending()
		}
		return nil, err
	}
	if !result.RequiresTwoFactor() && !result.RequiresCaptcha() {
		s.clearPending()
	}
	return result, nil
}

func (s *Service) holdPending(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.current = strategy
	s.expiry = time.AfterFunc(sessionTimeout, func() { s.expirePending(strategy) })
}

// expirePending is the timer callback. A stale timer can fire after its
// strategy was already replaced by a newer hold; only the strategy the
// timer was armed for is discarded.
func (s *Service) expirePending(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != strategy {
		return
	}
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.current = nil
}

func (s *Service) clearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.current = nil
}

func (s *Service) AuthingWithPassword() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.current.(*passwordStrategy)
	return ok
}

func (s *Service) AuthingWithSso() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.current.(*ssoStrategy)
	return ok
}

func (s *Service) AuthingWithAPIKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.current.(*apiKeyStrategy)
	return ok
}

// MakePreloginKey derives the master key for an email before any password
// is transmitted. The server may not know the email at all; that falls
// back to the default KDF parameters instead of failing.
func (s *Service) MakePreloginKey(ctx context.Context, masterPassword []byte, email string) ([]byte, cryptox.KDFConfig, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	cfg, err := makePreloginKDF(ctx, s.api, email)
	if err != nil {
		return nil, cryptox.KDFConfig{}, err
	}
	key, err := cryptox.MakeKey(masterPassword, []byte(email), cfg)
	if err != nil {
		return nil, cryptox.KDFConfig{}, err
	}
	return key, cfg, nil
}

// LogOut terminates a session: drops the account's state and emits the
// loggedOut signal.
func (s *Service) LogOut(ctx context.Context, userID string) error {
	if err := s.store.Clean(ctx, userID); err != nil {
		return err
	}
	s.bus.Send(messaging.TopicLoggedOut, userID)
	return nil
}

func makePreloginKDF(ctx context.Context, client api.Client, email string) (cryptox.KDFConfig, error) {
	resp, err := client.PostPrelogin(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return cryptox.DefaultKDFConfig(), nil
		}
		return cryptox.KDFConfig{}, err
	}
	return resp.KDF, nil
}
