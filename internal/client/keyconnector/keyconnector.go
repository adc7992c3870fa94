// Package keyconnector talks to an organization-hosted key connector: a
// service that custodies a user's master key so SSO users never type a
// master password. It covers both directions, fetching the key during
// login and migrating an existing user's key up to the connector.
package keyconnector

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/models"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/common"
	"github.com/dmitrijs2005/lockbox/internal/cryptox"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

type Service struct {
	api   api.Client
	store *state.Store
	log   logging.Logger
}

func NewService(client api.Client, store *state.Store, log logging.Logger) *Service {
	return &Service{api: client, store: store, log: log.With("component", "keyconnector")}
}

// GetAndSetKey fetches the user's master key from the connector and places
// it in process memory.
func (s *Service) GetAndSetKey(ctx context.Context, userID, url string) error {
	encoded, err := s.api.GetUserKeyFromKeyConnector(ctx, url)
	if err != nil {
		return fmt.Errorf("key connector fetch: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("key connector returned malformed key: %w", err)
	}
	if err := s.store.SetMasterKey(ctx, userID, key); err != nil {
		return err
	}
	return s.store.SetUsesKeyConnector(ctx, userID, true)
}

// ConvertNewSsoUserToKeyConnector provisions key material for a first-time
// SSO user that has none: synthesize a master key, derive and seal a vault
// key under it, push the master key to the connector, and register the
// sealed key with the service.
func (s *Service) ConvertNewSsoUserToKeyConnector(ctx context.Context, userID, orgID, connectorURL string) error {
	masterKey := common.GenerateRandByteArray(32)
	symKey := common.GenerateRandByteArray(32)

	ciphertext, nonce, err := cryptox.SealBytes(symKey, masterKey)
	if err != nil {
		return err
	}
	encSymKey := base64.StdEncoding.EncodeToString(nonce) + "." + base64.StdEncoding.EncodeToString(ciphertext)

	keyPair, err := cryptox.MakeKeyPair(symKey)
	if err != nil {
		return err
	}

	if err := s.api.PostUserKeyToKeyConnector(ctx, connectorURL, base64.StdEncoding.EncodeToString(masterKey)); err != nil {
		return fmt.Errorf("key connector push: %w", err)
	}

	req := &api.SetKeyConnectorKeyRequest{
		Key:                 encSymKey,
		KDF:                 cryptox.DefaultKDFConfig(),
		OrgIdentifier:       orgID,
		PublicKey:           keyPair.PublicKey,
		EncryptedPrivateKey: keyPair.EncryptedPrivateKey,
	}
	if err := s.api.PostSetKeyConnectorKey(ctx, req); err != nil {
		return fmt.Errorf("register key connector key: %w", err)
	}

	if err := s.store.SetMasterKey(ctx, userID, masterKey); err != nil {
		return err
	}
	if err := s.store.SetEncryptedSymmetricKey(ctx, userID, encSymKey); err != nil {
		return err
	}
	if err := s.store.SetDecryptedSymmetricKey(ctx, userID, symKey); err != nil {
		return err
	}
	if err := s.store.SetKeyPair(ctx, userID, keyPair.PublicKey, keyPair.EncryptedPrivateKey); err != nil {
		return err
	}
	return s.store.SetUsesKeyConnector(ctx, userID, true)
}

// UserNeedsMigration reports whether an SSO-established session belongs to
// an organization that now requires the key connector while the account is
// not on it yet. Owners and admins are exempt: someone has to keep a
// master password to administer the connector itself.
func (s *Service) UserNeedsMigration(ctx context.Context, userID string) bool {
	claims := s.store.DecodedToken(userID)
	if !claims.IsExternal() {
		return false
	}
	if s.store.UsesKeyConnector(userID) {
		return false
	}
	return s.managingOrganization(userID) != nil
}

// managingOrganization finds the organization entitled to claim this user's
// key, if any.
func (s *Service) managingOrganization(userID string) *models.Organization {
	for _, org := range s.store.Organizations(userID) {
		if org.UseKeyConnector && !org.IsProviderUser && !org.IsOwnerOrAdmin() {
			return &org
		}
	}
	return nil
}

// MigrateUser pushes the current master key to the managing organization's
// connector and confirms the conversion with the service.
func (s *Service) MigrateUser(ctx context.Context, userID string) error {
	org := s.managingOrganization(userID)
	if org == nil {
		return fmt.Errorf("no organization manages user %s", userID)
	}

	masterKey := s.store.MasterKey(userID)
	if masterKey == nil {
		return fmt.Errorf("no master key in memory for user %s", userID)
	}

	if err := s.api.PostUserKeyToKeyConnector(ctx, org.KeyConnectorURL, base64.StdEncoding.EncodeToString(masterKey)); err != nil {
		return fmt.Errorf("key connector push: %w", err)
	}
	if err := s.api.PostConvertToKeyConnector(ctx); err != nil {
		return fmt.Errorf("convert to key connector: %w", err)
	}

	if err := s.store.SetUsesKeyConnector(ctx, userID, true); err != nil {
		return err
	}
	return s.store.SetConvertAccountToKeyConnector(ctx, userID, false)
}
