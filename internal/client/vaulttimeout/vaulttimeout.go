// Package vaulttimeout is the inactivity policy engine: a periodic sweep
// over every known account that locks or logs out once the effective
// timeout is exceeded. The effective timeout is the user's setting capped
// by an organization policy, with owners and admins exempt from the cap.
package vaulttimeout

import (
	"context"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/messaging"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

const sweepInterval = 10 * time.Second

// LogoutFunc terminates a session when the timeout action demands it.
type LogoutFunc func(ctx context.Context, userID string) error

type Service struct {
	store  *state.Store
	bus    *messaging.Bus
	log    logging.Logger
	logout LogoutFunc

	interval time.Duration
	clock    func() time.Time
}

func NewService(store *state.Store, bus *messaging.Bus, logout LogoutFunc, log logging.Logger) *Service {
	return &Service{
		store:    store,
		bus:      bus,
		log:      log.With("component", "vaulttimeout"),
		logout:   logout,
		interval: sweepInterval,
		clock:    time.Now,
	}
}

// Run sweeps until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check evaluates every known account once. One account's failure never
// blocks evaluation of the others.
func (s *Service) Check(ctx context.Context) {
	for _, userID := range s.store.AuthenticatedAccounts() {
		if err := s.checkAccount(ctx, userID); err != nil {
			s.log.Error(ctx, "timeout evaluation failed", "userId", userID, "error", err)
		}
	}
}

func (s *Service) checkAccount(ctx context.Context, userID string) error {
	if !s.store.IsAuthenticated(userID) || s.store.IsLocked(userID) {
		return nil
	}

	minutes, ok := s.effectiveTimeout(userID)
	if !ok {
		return nil
	}

	lastActive, ok := s.store.LastActive(userID)
	if !ok {
		return nil
	}
	if s.clock().Sub(lastActive) < time.Duration(minutes)*time.Minute {
		return nil
	}

	return s.executeTimeoutAction(ctx, userID)
}

// effectiveTimeout resolves the account's timeout in minutes, capped by an
// enabled MaximumVaultTimeout policy unless the user owns or administers
// the issuing organization. The second result is false when timing out is
// disabled entirely.
func (s *Service) effectiveTimeout(userID string) (int, bool) {
	timeout := s.store.VaultTimeout(userID)
	userMinutes := -1
	if timeout != nil {
		userMinutes = *timeout
	}

	policyMinutes, hasPolicy := s.policyMaximum(userID)
	if hasPolicy {
		if userMinutes < 0 || policyMinutes < userMinutes {
			userMinutes = policyMinutes
		}
	}
	if userMinutes < 0 {
		return 0, false
	}
	return userMinutes, true
}

func (s *Service) policyMaximum(userID string) (int, bool) {
	orgs := s.store.Organizations(userID)
	best := 0
	found := false
	for _, policy := range s.store.Policies(userID) {
		if policy.Type != models.PolicyTypeMaximumVaultTimeout || !policy.Enabled {
			continue
		}
		minutes, ok := policy.TimeoutMinutes()
		if !ok {
			continue
		}
		if org, exists := orgs[policy.OrganizationID]; exists && org.IsOwnerOrAdmin() {
			continue
		}
		if !found || minutes < best {
			best = minutes
			found = true
		}
	}
	return best, found
}

func (s *Service) executeTimeoutAction(ctx context.Context, userID string) error {
	action := s.store.VaultTimeoutAction(userID)

	// a key-connector account with no local unlock path cannot be
	// meaningfully locked: nothing could ever unlock it again
	if action == models.VaultTimeoutActionLock && s.store.UsesKeyConnector(userID) &&
		!s.store.HasPinUnlock(userID) && !s.store.BiometricUnlock(userID) {
		action = models.VaultTimeoutActionLogOut
	}

	if action == models.VaultTimeoutActionLogOut {
		s.log.Info(ctx, "vault timeout exceeded, logging out", "userId", userID)
		if s.logout == nil {
			return nil
		}
		return s.logout(ctx, userID)
	}

	s.log.Info(ctx, "vault timeout exceeded, locking", "userId", userID)
	return s.Lock(ctx, userID)
}

// Lock clears all decrypted and derived material for the account,
// including the auto-unlock key in secure storage, leaving encrypted data
// and settings on disk, and signals the lock.
func (s *Service) Lock(ctx context.Context, userID string) error {
	if err := s.store.ClearDecryptedData(ctx, userID); err != nil {
		return err
	}
	if err := s.store.SetMasterKeyB64(ctx, userID, state.SuffixAuto, nil); err != nil {
		return err
	}
	if err := s.store.SetEverBeenUnlocked(ctx, userID, true); err != nil {
		return err
	}
	if err := s.store.SetBiometricLocked(ctx, userID, true); err != nil {
		return err
	}
	s.bus.Send(messaging.TopicLocked, userID)
	return nil
}

// SetVaultTimeoutOptions updates the timeout pair through the state store,
// which relocates or erases persisted tokens to match the new action.
func (s *Service) SetVaultTimeoutOptions(ctx context.Context, userID string, timeout *int, action models.VaultTimeoutAction) error {
	return s.store.SetVaultTimeoutOptions(ctx, userID, timeout, action)
}
