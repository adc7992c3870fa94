package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
)

// KeyPair holds a freshly generated asymmetric key pair: the public key in
// base64 DER form and the private key sealed under the account's symmetric
// key. Generated lazily for accounts provisioned without one (first-time
// SSO users).
type KeyPair struct {
	PublicKey           string
	EncryptedPrivateKey string
	PrivateKeyNonce     string
}

// MakeKeyPair generates an RSA-2048 key pair and seals the private key with
// AES-GCM under symKey.
func MakeKeyPair(symKey []byte) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	privDER := x509.MarshalPKCS1PrivateKey(priv)

	ciphertext, nonce, err := SealBytes(privDER, symKey)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PublicKey:           base64.StdEncoding.EncodeToString(pubDER),
		EncryptedPrivateKey: base64.StdEncoding.EncodeToString(ciphertext),
		PrivateKeyNonce:     base64.StdEncoding.EncodeToString(nonce),
	}, nil
}
