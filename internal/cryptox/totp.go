package cryptox

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTP computes the 6-digit authenticator code for a base32 secret
// at the given time. Used for the authenticator two-factor provider.
func GenerateTOTP(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(secret, at)
}

// ValidateTOTP reports whether code is the authenticator code for secret at
// the given time.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
