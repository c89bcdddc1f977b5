// Package account provides the normalized upstream account record and the
// eligibility predicates applied during scheduling.
package account

import (
	"fmt"
	"strings"
)

// Type tags the provider/integration mode an account belongs to.
type Type string

const (
	TypeClaudeOAuth   Type = "claude-oauth"
	TypeClaudeConsole Type = "claude-console"
	TypeGemini        Type = "gemini"
	TypeOpenAI        Type = "openai"
	TypeBedrock       Type = "bedrock"
)

// AllTypes lists every supported account type tag.
var AllTypes = []Type{TypeClaudeOAuth, TypeClaudeConsole, TypeGemini, TypeOpenAI, TypeBedrock}

// IsValid reports whether t is a known account type.
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DefaultTargetHost returns the upstream API host serviced by accounts of
// this type. Accounts may override it with an explicit TargetHost.
func (t Type) DefaultTargetHost() string {
	switch t {
	case TypeClaudeOAuth, TypeClaudeConsole:
		return "api.anthropic.com"
	case TypeGemini:
		return "generativelanguage.googleapis.com"
	case TypeOpenAI:
		return "api.openai.com"
	case TypeBedrock:
		return "bedrock-runtime.us-east-1.amazonaws.com"
	default:
		return ""
	}
}

// Strategy is the tie-break algorithm applied within one priority tier.
type Strategy string

const (
	StrategyLeastRecent    Strategy = "least_recent"
	StrategyLeastUsed      Strategy = "least_used"
	StrategyRoundRobin     Strategy = "round_robin"
	StrategySequential     Strategy = "sequential"
	StrategyRandom         Strategy = "random"
	StrategyWeightedRandom Strategy = "weighted_random"
)

// DefaultStrategy is the system-wide fallback when an account carries no
// strategy of its own.
const DefaultStrategy = StrategyLeastRecent

// IsValid reports whether s is a known scheduling strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyLeastRecent, StrategyLeastUsed, StrategyRoundRobin,
		StrategySequential, StrategyRandom, StrategyWeightedRandom:
		return true
	}
	return false
}

const (
	// DefaultPriority is assumed when an account record carries no priority.
	DefaultPriority = 50
	// DefaultWeight is the weighted_random draw weight when unset.
	DefaultWeight = 1.0
)

// ProxySpec describes an optional outbound proxy in front of an account's
// upstream target.
type ProxySpec struct {
	Scheme   string `json:"scheme" yaml:"scheme"` // socks5, http, https
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Canonical returns a deterministic string form of the proxy descriptor,
// used for connection pool keying. A nil spec canonicalizes to "direct".
func (p *ProxySpec) Canonical() string {
	if p == nil {
		return "direct"
	}
	if p.Username != "" {
		return fmt.Sprintf("%s://%s@%s:%d", p.Scheme, p.Username, p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Scheme, p.Host, p.Port)
}

// Validate checks the descriptor fields.
func (p *ProxySpec) Validate() error {
	if p == nil {
		return nil
	}
	switch p.Scheme {
	case "socks5", "http", "https":
	default:
		return fmt.Errorf("proxy: unsupported scheme %q", p.Scheme)
	}
	if p.Host == "" {
		return fmt.Errorf("proxy: host must not be empty")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("proxy: port must be 1-65535, got %d", p.Port)
	}
	return nil
}

// Account is a provider account record normalized at scheduling time.
// It is read fresh from the directory on every scheduling pass; the scheduler
// never caches or mutates it beyond the usage write-back through the provider.
type Account struct {
	ID   string
	Type Type
	Name string

	// Scheduling inputs. Zero values mean "absent" and are resolved through
	// the Effective* accessors.
	Priority        int
	Strategy        Strategy
	Weight          float64
	SequentialOrder *int

	// Usage statistics, overlaid from the durable store by the provider.
	UsageCount        int64
	LastUsedAtNs      int64
	LastScheduledAtNs int64

	// Eligibility flags.
	Active      bool
	ErrorState  bool
	Blocked     bool
	Schedulable *bool // tri-state: nil/true eligible, explicit false excluded

	// Model support. Empty tier means unknown (treated as capable).
	// Nil SupportedModels means the provider publishes no model list.
	SubscriptionTier string
	SupportedModels  []string

	// Upstream target. Empty TargetHost falls back to the type default.
	TargetHost string
	Proxy      *ProxySpec
}

// Clone returns a deep copy. Providers hand out clones so a scheduling pass
// can never mutate the directory's record.
func (a *Account) Clone() *Account {
	cp := *a
	if a.SequentialOrder != nil {
		v := *a.SequentialOrder
		cp.SequentialOrder = &v
	}
	if a.Schedulable != nil {
		v := *a.Schedulable
		cp.Schedulable = &v
	}
	if a.SupportedModels != nil {
		cp.SupportedModels = append([]string(nil), a.SupportedModels...)
	}
	if a.Proxy != nil {
		p := *a.Proxy
		cp.Proxy = &p
	}
	return &cp
}

// EffectivePriority resolves the account priority, defaulting the zero value.
func (a *Account) EffectivePriority() int {
	if a.Priority == 0 {
		return DefaultPriority
	}
	return a.Priority
}

// EffectiveStrategy resolves the scheduling strategy against the given
// system default, falling back to DefaultStrategy when both are absent.
func (a *Account) EffectiveStrategy(systemDefault Strategy) Strategy {
	if a.Strategy.IsValid() {
		return a.Strategy
	}
	if systemDefault.IsValid() {
		return systemDefault
	}
	return DefaultStrategy
}

// EffectiveWeight resolves the weighted_random weight, defaulting non-positive
// values.
func (a *Account) EffectiveWeight() float64 {
	if a.Weight <= 0 {
		return DefaultWeight
	}
	return a.Weight
}

// EffectiveTargetHost resolves the upstream host for this account.
func (a *Account) EffectiveTargetHost() string {
	if a.TargetHost != "" {
		return a.TargetHost
	}
	return a.Type.DefaultTargetHost()
}

// IsSchedulable resolves the schedulable tri-state: absent counts as true.
func (a *Account) IsSchedulable() bool {
	return a.Schedulable == nil || *a.Schedulable
}

// StatusEligible reports whether the account's status flags allow selection.
// Rate-limit state and model support are checked separately.
func (a *Account) StatusEligible() bool {
	return a.Active && !a.ErrorState && !a.Blocked && a.IsSchedulable()
}

// opusIncapableTiers are subscription tiers known not to serve the opus
// model family.
var opusIncapableTiers = map[string]bool{
	"free": true,
	"pro":  true,
}

// SupportsModel reports whether the account can serve the requested model.
// An empty model matches everything. Models of the opus family are refused
// for subscription tiers known to lack them; providers that publish a
// supported-model list additionally require membership.
func (a *Account) SupportsModel(model string) bool {
	if model == "" {
		return true
	}
	if strings.Contains(strings.ToLower(model), "opus") && opusIncapableTiers[strings.ToLower(a.SubscriptionTier)] {
		return false
	}
	if a.SupportedModels != nil {
		for _, m := range a.SupportedModels {
			if m == model {
				return true
			}
		}
		return false
	}
	return true
}
