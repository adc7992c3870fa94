// Package sync pulls the full account snapshot from the server and writes
// it through the state store. Executions are collapsed: concurrent callers
// share one fetch cycle, and a security-stamp change detected mid-sync
// terminates the session instead of applying the snapshot.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/keyconnector"
	"github.com/dmitrijs2005/lockbox/internal/client/messaging"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/logging"
	"github.com/dmitrijs2005/lockbox/internal/syncx"
)

const (
	flightKey = "fullSync"

	// refresh the access token when it is this close to expiring
	tokenRefreshWindow = 5 * time.Minute
)

// LogoutFunc terminates a session on the orchestrator's behalf when the
// server has invalidated it.
type LogoutFunc func(ctx context.Context, userID string) error

type Service struct {
	api    api.Client
	store  *state.Store
	kc     *keyconnector.Service
	bus    *messaging.Bus
	log    logging.Logger
	logout LogoutFunc

	flight syncx.Flight
	clock  func() time.Time
}

func NewService(client api.Client, store *state.Store, kc *keyconnector.Service, bus *messaging.Bus, logout LogoutFunc, log logging.Logger) *Service {
	return &Service{
		api:    client,
		store:  store,
		kc:     kc,
		bus:    bus,
		log:    log.With("component", "sync"),
		logout: logout,
		clock:  time.Now,
	}
}

// FullSync pulls the active account's state. Overlapping calls collapse
// into one fetch cycle; the second caller observes the first's result.
// With throwOnError unset, failures are reported through the completion
// signal and a false return instead of an error.
func (s *Service) FullSync(ctx context.Context, force, throwOnError bool) (bool, error) {
	v, err, _ := s.flight.Do(flightKey, func() (any, error) {
		return s.fullSync(ctx, force)
	})
	synced, _ := v.(bool)
	if err != nil {
		if throwOnError {
			return false, err
		}
		s.log.Warn(ctx, "sync failed", "error", err)
		return false, nil
	}
	return synced, nil
}

// fullSync is the single-flighted body. Exactly one completion signal is
// emitted per execution, however many callers collapsed into it.
func (s *Service) fullSync(ctx context.Context, force bool) (synced bool, err error) {
	defer func() {
		s.bus.Send(messaging.TopicSyncCompleted, synced && err == nil)
	}()

	userID := s.store.ActiveUserID()
	if userID == "" || !s.store.IsAuthenticated(userID) {
		return false, nil
	}

	s.bus.Send(messaging.TopicSyncStarted, userID)

	if !force {
		stale, err := s.needsSyncing(ctx, userID)
		if err != nil {
			return false, err
		}
		if !stale {
			// the skip still counts as having checked
			return false, s.store.SetLastSync(ctx, userID, s.clock())
		}
	}

	if s.store.DecodedToken(userID).ExpiresWithin(tokenRefreshWindow) {
		if err := s.api.RefreshIdentityToken(ctx); err != nil {
			s.log.Warn(ctx, "token refresh failed, continuing with current token", "error", err)
		} else if access, refresh := s.api.Tokens(); access != "" {
			// the rotated pair must outlive this process
			if err := s.store.SetTokens(ctx, userID, access, refresh); err != nil {
				return false, err
			}
		}
	}

	resp, err := s.api.GetSync(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch sync snapshot: %w", err)
	}

	if cached := s.store.SecurityStamp(userID); cached != "" && resp.Profile.SecurityStamp != cached {
		s.log.Warn(ctx, "security stamp changed, terminating session", "userId", userID)
		if s.logout != nil {
			if err := s.logout(ctx, userID); err != nil {
				s.log.Error(ctx, "forced logout failed", "error", err)
			}
		}
		return false, common.ErrStampMismatch
	}

	if err := s.applySnapshot(ctx, userID, resp); err != nil {
		return false, err
	}
	if err := s.checkKeyConnectorPolicy(ctx, userID); err != nil {
		return false, err
	}
	if err := s.store.SetLastSync(ctx, userID, s.clock()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) needsSyncing(ctx context.Context, userID string) (bool, error) {
	lastSync, ok := s.store.LastSync(userID)
	if !ok {
		return true, nil
	}
	revision, err := s.api.GetAccountRevisionDate(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch revision date: %w", err)
	}
	return revision.After(lastSync), nil
}

func (s *Service) applySnapshot(ctx context.Context, userID string, resp *api.SyncResponse) error {
	if err := s.store.SetSecurityStamp(ctx, userID, resp.Profile.SecurityStamp); err != nil {
		return err
	}
	if resp.Profile.Key != "" {
		if err := s.store.SetEncryptedSymmetricKey(ctx, userID, resp.Profile.Key); err != nil {
			return err
		}
	}
	if resp.Profile.PrivateKey != "" {
		if err := s.store.SetKeyPair(ctx, userID, "", resp.Profile.PrivateKey); err != nil {
			return err
		}
	}
	if err := s.store.SetHasPremiumPersonally(ctx, userID, resp.Profile.Premium); err != nil {
		return err
	}
	if err := s.store.SetForcePasswordReset(ctx, userID, resp.Profile.ForcePasswordReset); err != nil {
		return err
	}
	if err := s.store.SetUsesKeyConnector(ctx, userID, resp.Profile.UsesKeyConnector); err != nil {
		return err
	}

	orgs := make(map[string]models.Organization, len(resp.Profile.Organizations))
	for _, org := range resp.Profile.Organizations {
		orgs[org.ID] = models.Organization{
			ID:              org.ID,
			Name:            org.Name,
			Type:            org.Type,
			UseKeyConnector: org.UseKeyConnector,
			KeyConnectorURL: org.KeyConnectorURL,
		}
	}
	if err := s.store.SetOrganizations(ctx, userID, orgs); err != nil {
		return err
	}

	providers := make(map[string]models.Provider, len(resp.Profile.Providers))
	for _, p := range resp.Profile.Providers {
		providers[p.ID] = p
	}
	if err := s.store.SetProviders(ctx, userID, providers); err != nil {
		return err
	}

	policies := make(map[string]models.Policy, len(resp.Policies))
	for _, p := range resp.Policies {
		policies[p.ID] = p
	}
	if err := s.store.SetPolicies(ctx, userID, policies); err != nil {
		return err
	}

	return s.store.SetEncryptedCaches(ctx, userID,
		entityMap(resp.Ciphers), entityMap(resp.Folders), entityMap(resp.Collections))
}

func entityMap(entities []api.EntityResponse) map[string]string {
	out := make(map[string]string, len(entities))
	for _, e := range entities {
		out[e.ID] = string(e.Raw)
	}
	return out
}

// checkKeyConnectorPolicy flips the conversion flag when the user's
// organization now requires the key connector and the account is not on it.
func (s *Service) checkKeyConnectorPolicy(ctx context.Context, userID string) error {
	if !s.kc.UserNeedsMigration(ctx, userID) {
		if s.store.ConvertAccountToKeyConnector(userID) {
			return s.store.SetConvertAccountToKeyConnector(ctx, userID, false)
		}
		return nil
	}
	if err := s.store.SetConvertAccountToKeyConnector(ctx, userID, true); err != nil {
		return err
	}
	s.bus.Send(messaging.TopicConvertAccountToKeyConnector, userID)
	return nil
}
