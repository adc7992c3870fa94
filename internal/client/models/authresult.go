package models

// TwoFactorProviderData is the server-supplied metadata for one available
// provider (email hint, Duo host, WebAuthn challenge and so on).
type TwoFactorProviderData map[string]any

// AuthResult is the outcome of a login step: either terminal (success,
// possibly with reset flags) or an intermediate continuation request for a
// second factor or CAPTCHA.
type AuthResult struct {
	TwoFactorProviders  map[TwoFactorProviderType]TwoFactorProviderData
	CaptchaSiteKey      string
	ResetMasterPassword bool
	ForcePasswordReset  bool
}

// RequiresTwoFactor reports whether the caller must continue with a second
// factor.
func (r *AuthResult) RequiresTwoFactor() bool {
	return len(r.TwoFactorProviders) > 0
}

// RequiresCaptcha reports whether the caller must solve a CAPTCHA and retry.
func (r *AuthResult) RequiresCaptcha() bool {
	return r.CaptchaSiteKey != ""
}
