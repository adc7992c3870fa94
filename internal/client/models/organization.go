package models

// Organization is the subset of organization state this subsystem reads:
// key-connector binding and the caller's role (owners are exempt from
// timeout caps).
type Organization struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name,omitempty"`
	Type               OrganizationUserType `json:"type"`
	UseKeyConnector    bool                 `json:"useKeyConnector"`
	KeyConnectorURL    string               `json:"keyConnectorUrl,omitempty"`
	IsProviderUser     bool                 `json:"isProviderUser,omitempty"`
}

// IsOwnerOrAdmin reports whether the user administers the organization.
// Such users are never clamped by the organization's timeout policy and are
// not forced onto key connector.
func (o Organization) IsOwnerOrAdmin() bool {
	return o.Type == OrganizationUserTypeOwner || o.Type == OrganizationUserTypeAdmin
}

// Provider mirrors the provider relationship needed for key caching.
type Provider struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Policy is an organization-enforced rule. Data carries kind-specific
// fields, e.g. {"minutes": 60} for MaximumVaultTimeout.
type Policy struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Type           PolicyType     `json:"type"`
	Enabled        bool           `json:"enabled"`
	Data           map[string]any `json:"data,omitempty"`
}

// TimeoutMinutes extracts the maximum-vault-timeout minutes from a policy,
// returning ok=false for other policy kinds or malformed data.
func (p Policy) TimeoutMinutes() (int, bool) {
	if p.Type != PolicyTypeMaximumVaultTimeout || !p.Enabled {
		return 0, false
	}
	v, ok := p.Data["minutes"]
	if !ok {
		return 0, false
	}
	switch m := v.(type) {
	case float64:
		return int(m), true
	case int:
		return m, true
	default:
		return 0, false
	}
}
