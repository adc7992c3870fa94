package cryptox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMakeKey_PBKDF2_Deterministic(t *testing.T) {
	cfg := KDFConfig{Type: KDFTypePBKDF2, Iterations: 5000}

	k1, err := MakeKey([]byte("correct-horse"), []byte("a@b.com"), cfg)
	require.NoError(t, err)
	require.Len(t, k1, 32)

	k2, err := MakeKey([]byte("correct-horse"), []byte("a@b.com"), cfg)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := MakeKey([]byte("wrong-horse"), []byte("a@b.com"), cfg)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestMakeKey_Argon2id_DefaultsApplied(t *testing.T) {
	cfg := KDFConfig{Type: KDFTypeArgon2id}

	k, err := MakeKey([]byte("pw"), []byte("user@example.com"), cfg)
	require.NoError(t, err)
	require.Len(t, k, 32)
}

func TestMakeKey_InvalidParameters(t *testing.T) {
	_, err := MakeKey([]byte("pw"), []byte("s"), KDFConfig{Type: KDFTypePBKDF2, Iterations: 0})
	require.Error(t, err)

	_, err = MakeKey([]byte("pw"), []byte("s"), KDFConfig{Type: KDFType(99)})
	require.Error(t, err)
}

func TestHashPassword_PurposesDiffer(t *testing.T) {
	key, err := MakeKey([]byte("pw"), []byte("a@b.com"), KDFConfig{Type: KDFTypePBKDF2, Iterations: 5000})
	require.NoError(t, err)

	server := HashPassword([]byte("pw"), key, HashPurposeServerAuthorization)
	local := HashPassword([]byte("pw"), key, HashPurposeLocalAuthorization)
	require.NotEmpty(t, server)
	require.NotEmpty(t, local)
	require.NotEqual(t, server, local)
}

func TestEncryptDecryptEntry_RoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	key := make([]byte, 32)
	ciphertext, nonce, err := EncryptEntry(payload{Name: "site", Count: 3}, key)
	require.NoError(t, err)

	var out payload
	require.NoError(t, DecryptEntry(ciphertext, nonce, key, &out))
	require.Equal(t, payload{Name: "site", Count: 3}, out)
}

func TestOpenBytes_WrongKeyFails(t *testing.T) {
	key := make([]byte, 32)
	ciphertext, nonce, err := SealBytes([]byte("secret"), key)
	require.NoError(t, err)

	other := make([]byte, 32)
	other[0] = 1
	_, err = OpenBytes(ciphertext, nonce, other)
	require.Error(t, err)
}

func TestMakeKeyPair_SealedPrivateKey(t *testing.T) {
	symKey := make([]byte, 32)
	kp, err := MakeKeyPair(symKey)
	require.NoError(t, err)
	require.NotEmpty(t, kp.PublicKey)
	require.NotEmpty(t, kp.EncryptedPrivateKey)
	require.NotEmpty(t, kp.PrivateKeyNonce)
}

func TestGenerateTOTP_MatchesValidate(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"

	code, err := GenerateTOTP(secret, time.Now())
	require.NoError(t, err)
	require.Len(t, code, 6)
	require.True(t, ValidateTOTP(code, secret))
}
