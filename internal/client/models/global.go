package models

// GlobalState holds process-wide, account-independent preferences.
type GlobalState struct {
	StateVersion              StateVersion      `json:"stateVersion"`
	Locale                    string            `json:"locale,omitempty"`
	Theme                     string            `json:"theme,omitempty"`
	RememberedEmail           string            `json:"rememberedEmail,omitempty"`
	EnvironmentURLs           EnvironmentURLs   `json:"environmentUrls"`
	SsoCodeVerifier           string            `json:"ssoCodeVerifier,omitempty"`
	SsoOrganizationIdentifier string            `json:"ssoOrganizationIdentifier,omitempty"`
	SsoState                  string            `json:"ssoState,omitempty"`
	TwoFactorTokens           map[string]string `json:"twoFactorTokens,omitempty"`
	EnableTray                bool              `json:"enableTray"`
	EnableMinimizeToTray      bool              `json:"enableMinimizeToTray"`
	EnableCloseToTray         bool              `json:"enableCloseToTray"`
	OpenAtLogin               bool              `json:"openAtLogin"`
	AlwaysShowDock            bool              `json:"alwaysShowDock"`
	AlwaysOnTop               bool              `json:"alwaysOnTop"`
	Window                    *WindowState      `json:"window,omitempty"`
}

// WindowState remembers main-window geometry between runs.
type WindowState struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	X      int `json:"x"`
	Y      int `json:"y"`
}

// TwoFactorToken returns the remembered two-factor token for an email, if
// the user chose "remember me" on a previous login.
func (g *GlobalState) TwoFactorToken(email string) string {
	if g.TwoFactorTokens == nil {
		return ""
	}
	return g.TwoFactorTokens[email]
}

// SetTwoFactorToken records (or removes, when token is empty) a remembered
// two-factor token for an email.
func (g *GlobalState) SetTwoFactorToken(email, token string) {
	if token == "" {
		delete(g.TwoFactorTokens, email)
		return
	}
	if g.TwoFactorTokens == nil {
		g.TwoFactorTokens = make(map[string]string)
	}
	g.TwoFactorTokens[email] = token
}
