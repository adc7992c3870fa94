package models

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lockbox/internal/common"
)

func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestDecodeToken_ExtractsClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := makeToken(t, jwt.MapClaims{
		"sub":     "user-1",
		"email":   "a@b.com",
		"name":    "Alice",
		"premium": true,
		"amr":     []string{"external"},
		"exp":     exp.Unix(),
	})

	claims, err := DecodeToken(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "a@b.com", claims.Email)
	require.True(t, claims.Premium)
	require.True(t, claims.IsExternal())
	require.Equal(t, exp.Unix(), claims.ExpiresAt.Unix())
}

func TestDecodeToken_Malformed(t *testing.T) {
	_, err := DecodeToken("not-a-jwt")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestTokenClaims_ExpiresWithin(t *testing.T) {
	c := &TokenClaims{ExpiresAt: time.Now().Add(2 * time.Minute)}
	require.True(t, c.ExpiresWithin(5*time.Minute))
	require.False(t, c.ExpiresWithin(time.Minute))

	var nilClaims *TokenClaims
	require.False(t, nilClaims.ExpiresWithin(time.Minute))
}

func TestStorageOptions_Reconcile(t *testing.T) {
	defaults := StorageOptions{
		UserID:       "active-user",
		Location:     LocationPtr(StorageLocationDisk),
		DiskLocation: DiskLocationPtr(DiskLocationSession),
	}

	got := StorageOptions{UserID: "other-user"}.Reconcile(defaults)
	require.Equal(t, "other-user", got.UserID)
	require.Equal(t, StorageLocationDisk, *got.Location)
	require.Equal(t, DiskLocationSession, *got.DiskLocation)

	got = StorageOptions{Location: LocationPtr(StorageLocationMemory)}.Reconcile(defaults)
	require.Equal(t, "active-user", got.UserID)
	require.Equal(t, StorageLocationMemory, *got.Location)
}

func TestPolicy_TimeoutMinutes(t *testing.T) {
	p := Policy{Type: PolicyTypeMaximumVaultTimeout, Enabled: true, Data: map[string]any{"minutes": float64(30)}}
	m, ok := p.TimeoutMinutes()
	require.True(t, ok)
	require.Equal(t, 30, m)

	p.Enabled = false
	_, ok = p.TimeoutMinutes()
	require.False(t, ok)

	p = Policy{Type: PolicyTypeMaximumVaultTimeout, Enabled: true}
	_, ok = p.TimeoutMinutes()
	require.False(t, ok)
}

func TestAccount_ClearDecryptedData_KeepsEncrypted(t *testing.T) {
	a := &Account{}
	a.Keys.EncryptedSymmetricKey = "2.enc"
	a.Keys.MasterKey = []byte{1, 2, 3}
	a.Keys.DecryptedSymmetricKey = []byte{4, 5, 6}
	a.Data.Ciphers.Encrypted = map[string]string{"id": "ct"}
	a.Data.Ciphers.Decrypted = map[string][]byte{"id": []byte("pt")}

	a.ClearDecryptedData()

	require.Nil(t, a.Keys.MasterKey)
	require.Nil(t, a.Keys.DecryptedSymmetricKey)
	require.Nil(t, a.Data.Ciphers.Decrypted)
	require.Equal(t, "2.enc", a.Keys.EncryptedSymmetricKey)
	require.Equal(t, map[string]string{"id": "ct"}, a.Data.Ciphers.Encrypted)
}

func TestAccount_Reset_PreservesSettings(t *testing.T) {
	timeout := 15
	a := &Account{}
	a.Profile.UserID = "u1"
	a.Tokens.AccessToken = "tok"
	a.Settings.VaultTimeout = &timeout
	a.Settings.VaultTimeoutAction = VaultTimeoutActionLock

	reset := a.Reset()
	require.Empty(t, reset.Profile.UserID)
	require.Empty(t, reset.Tokens.AccessToken)
	require.Equal(t, &timeout, reset.Settings.VaultTimeout)
	require.False(t, reset.IsAuthenticated())
}

func TestGlobalState_TwoFactorTokens(t *testing.T) {
	var g GlobalState
	require.Empty(t, g.TwoFactorToken("a@b.com"))

	g.SetTwoFactorToken("a@b.com", "remember-me")
	require.Equal(t, "remember-me", g.TwoFactorToken("a@b.com"))

	g.SetTwoFactorToken("a@b.com", "")
	require.Empty(t, g.TwoFactorToken("a@b.com"))
}
