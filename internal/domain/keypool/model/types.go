package model

import (
	"sort"
	"time"
)

// ProviderName is one of the upstream vendors the IDE client knows how to talk
// to. The set is closed; names outside it are rejected.
type ProviderName string

const (
	ProviderAlibailian ProviderName = "alibailian"
	ProviderZAI        ProviderName = "zai"
	ProviderOpenRouter ProviderName = "openrouter"
	ProviderDeepSeek   ProviderName = "deepseek"
	ProviderMoonshot   ProviderName = "moonshotai"
	ProviderOwn        ProviderName = "ownProvider"
)

var knownProviders = map[ProviderName]struct{}{
	ProviderAlibailian: {},
	ProviderZAI:        {},
	ProviderOpenRouter: {},
	ProviderDeepSeek:   {},
	ProviderMoonshot:   {},
	ProviderOwn:        {},
}

// ParseProviderName reports whether s names a known provider.
func ParseProviderName(s string) (ProviderName, bool) {
	name := ProviderName(s)
	_, ok := knownProviders[name]
	return name, ok
}

// KnownProviders lists the enumeration in name order.
func KnownProviders() []ProviderName {
	names := make([]ProviderName, 0, len(knownProviders))
	for name := range knownProviders {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Unlimited marks a pool without a client cap.
const Unlimited = -1

// DisabledKey is sent in place of real credentials to banned or
// quota-exhausted users.
const DisabledKey = "DISABLED"

// Credential is what the client receives for one provider.
type Credential struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// Disabled reports whether the credential is the placeholder.
func (c Credential) Disabled() bool {
	return c.APIKey == DisabledKey
}

// ProviderCredentials maps provider to credential as exchanged on the wire.
type ProviderCredentials map[ProviderName]Credential

// Provider 上游凭据命名空间
type Provider struct {
	ID          uint         `json:"id"`
	Name        ProviderName `json:"name"`
	DisplayName string       `json:"display_name"`
	BaseURL     string       `json:"base_url"`
	Active      bool         `json:"is_active"`
	Priority    int          `json:"priority"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Pool 单个密钥及其容量
type Pool struct {
	ID             uint         `json:"id"`
	ProviderID     uint         `json:"provider_id"`
	Provider       ProviderName `json:"provider"`
	Name           string       `json:"name"`
	Secret         string       `json:"-"`
	Active         bool         `json:"is_active"`
	MaxClients     int          `json:"max_clients"`
	CurrentClients int          `json:"current_clients"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Unlimited reports whether the pool has no client cap.
func (p Pool) Unlimited() bool {
	return p.MaxClients == Unlimited
}

// HasCapacity reports whether another client fits.
func (p Pool) HasCapacity() bool {
	return p.Unlimited() || p.CurrentClients < p.MaxClients
}

// MaskedSecret keeps the first and last four characters.
func (p Pool) MaskedSecret() string {
	if len(p.Secret) <= 8 {
		return "****"
	}
	return p.Secret[:4] + "****" + p.Secret[len(p.Secret)-4:]
}

// Allocation 会话与密钥的绑定记录
type Allocation struct {
	ID          uint         `json:"id"`
	PoolID      uint         `json:"pool_id"`
	ProviderID  uint         `json:"provider_id"`
	Provider    ProviderName `json:"provider"`
	ClientID    string       `json:"client_id"`
	UserID      string       `json:"user_id,omitempty"`
	AllocatedAt time.Time    `json:"allocated_at"`
	ReleasedAt  *time.Time   `json:"released_at,omitempty"`
	Active      bool         `json:"is_active"`
}

// ProviderStatus is the per-provider usage aggregate.
type ProviderStatus struct {
	Name            ProviderName `json:"name"`
	DisplayName     string       `json:"display_name"`
	TotalKeys       int          `json:"total_keys"`
	UsedClients     int          `json:"used_clients"`
	MaxClients      int          `json:"max_clients"`
	HasInfinite     bool         `json:"has_infinite"`
	UsageRate       float64      `json:"usage_rate"`
	Remaining       int          `json:"remaining"`
	CapacityDisplay string       `json:"capacity_display"`
}

// StatusSummary totals across providers. TotalCapacity is -1 when any pool is unlimited.
type StatusSummary struct {
	TotalProviders int `json:"total_providers"`
	TotalPools     int `json:"total_pools"`
	TotalClients   int `json:"total_clients"`
	TotalCapacity  int `json:"total_capacity"`
}

// Status is the read-only view returned by the engine.
type Status struct {
	Providers []ProviderStatus `json:"provider_stats"`
	Summary   StatusSummary    `json:"summary"`
}
