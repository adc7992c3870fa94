// Package models defines the client-side data model: the multi-part account
// record, process-wide global state, storage placement options, login
// credentials, and authentication results.
package models

// VaultTimeoutAction is the configured consequence of exceeding the
// inactivity timeout.
type VaultTimeoutAction string

const (
	VaultTimeoutActionLock   VaultTimeoutAction = "lock"
	VaultTimeoutActionLogOut VaultTimeoutAction = "logOut"
)

// CredentialKind discriminates the login credential union.
type CredentialKind int

const (
	CredentialKindPassword CredentialKind = iota
	CredentialKindSso
	CredentialKindAPIKey
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialKindPassword:
		return "password"
	case CredentialKindSso:
		return "sso"
	case CredentialKindAPIKey:
		return "apikey"
	default:
		return "unknown"
	}
}

// TwoFactorProviderType identifies a secondary authentication method.
type TwoFactorProviderType int

const (
	TwoFactorProviderAuthenticator   TwoFactorProviderType = 0
	TwoFactorProviderEmail           TwoFactorProviderType = 1
	TwoFactorProviderDuo             TwoFactorProviderType = 2
	TwoFactorProviderYubiKey         TwoFactorProviderType = 3
	TwoFactorProviderRemember        TwoFactorProviderType = 5
	TwoFactorProviderOrganizationDuo TwoFactorProviderType = 6
	TwoFactorProviderWebAuthn        TwoFactorProviderType = 7
)

// OrganizationUserType is the caller's role within an organization.
type OrganizationUserType int

const (
	OrganizationUserTypeOwner OrganizationUserType = 0
	OrganizationUserTypeAdmin OrganizationUserType = 1
	OrganizationUserTypeUser  OrganizationUserType = 2
)

// PolicyType identifies an organization policy kind. Only the kinds this
// subsystem evaluates are enumerated.
type PolicyType int

const (
	PolicyTypeMaximumVaultTimeout PolicyType = 9
)

// StateVersion is the migration checkpoint integer. Migrations only ever
// move forward.
type StateVersion int

const (
	StateVersionOne StateVersion = iota + 1
	StateVersionTwo
	StateVersionThree
	StateVersionFour

	StateVersionLatest = StateVersionFour
)
