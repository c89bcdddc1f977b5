package directory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
)

// SeedFile is the on-disk account inventory loaded at boot.
type SeedFile struct {
	Accounts []SeedAccount `yaml:"accounts"`
	Groups   []SeedGroup   `yaml:"groups"`
}

type SeedAccount struct {
	ID               string   `yaml:"id"`
	Type             string   `yaml:"type"`
	Name             string   `yaml:"name"`
	Priority         int      `yaml:"priority"`
	Strategy         string   `yaml:"strategy"`
	Weight           float64  `yaml:"weight"`
	SequentialOrder  *int     `yaml:"sequential_order"`
	Active           *bool    `yaml:"active"`
	Schedulable      *bool    `yaml:"schedulable"`
	SubscriptionTier string   `yaml:"subscription_tier"`
	SupportedModels  []string `yaml:"supported_models"`
	TargetHost       string   `yaml:"target_host"`
	Proxy            *struct {
		Scheme   string `yaml:"scheme"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"proxy"`
}

type SeedGroup struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Members []struct {
		Type string `yaml:"type"`
		ID   string `yaml:"id"`
	} `yaml:"members"`
}

// LoadSeedFile reads and parses an account seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read seed file: %w", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("directory: parse seed file %s: %w", path, err)
	}
	return &sf, nil
}

// Apply registers every seeded account and group with the registry, creating
// store-backed providers per account type as needed. Invalid entries fail the
// whole load: a partially applied seed is worse than a loud boot failure.
func (sf *SeedFile) Apply(ctx context.Context, reg *Registry, newProvider func(account.Type) *StoreProvider) error {
	for i, sa := range sf.Accounts {
		a, err := sa.toAccount()
		if err != nil {
			return fmt.Errorf("directory: seed account %d: %w", i, err)
		}
		prov, ok := reg.Provider(a.Type)
		if !ok {
			sp := newProvider(a.Type)
			reg.Register(sp)
			prov = sp
		}
		sp, ok := prov.(*StoreProvider)
		if !ok {
			return fmt.Errorf("directory: provider for %q does not accept seeded accounts", a.Type)
		}
		if err := sp.Upsert(a); err != nil {
			return fmt.Errorf("directory: seed account %d: %w", i, err)
		}
	}

	for i, sg := range sf.Groups {
		g, err := sg.toGroup()
		if err != nil {
			return fmt.Errorf("directory: seed group %d: %w", i, err)
		}
		reg.RegisterGroup(&g)
	}
	return nil
}

func (sa SeedAccount) toAccount() (*account.Account, error) {
	if sa.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	typ := account.Type(sa.Type)
	if !typ.IsValid() {
		return nil, fmt.Errorf("account %s: unknown type %q", sa.ID, sa.Type)
	}
	a := &account.Account{
		ID:               sa.ID,
		Type:             typ,
		Name:             sa.Name,
		Priority:         sa.Priority,
		Weight:           sa.Weight,
		SequentialOrder:  sa.SequentialOrder,
		Active:           true,
		Schedulable:      sa.Schedulable,
		SubscriptionTier: sa.SubscriptionTier,
		SupportedModels:  sa.SupportedModels,
		TargetHost:       sa.TargetHost,
	}
	if sa.Active != nil {
		a.Active = *sa.Active
	}
	if sa.Strategy != "" {
		st := account.Strategy(sa.Strategy)
		if !st.IsValid() {
			return nil, fmt.Errorf("account %s: unknown strategy %q", sa.ID, sa.Strategy)
		}
		a.Strategy = st
	}
	if sa.Proxy != nil {
		a.Proxy = &account.ProxySpec{
			Scheme:   sa.Proxy.Scheme,
			Host:     sa.Proxy.Host,
			Port:     sa.Proxy.Port,
			Username: sa.Proxy.Username,
			Password: sa.Proxy.Password,
		}
		if err := a.Proxy.Validate(); err != nil {
			return nil, fmt.Errorf("account %s: %w", sa.ID, err)
		}
	}
	return a, nil
}

func (sg SeedGroup) toGroup() (Group, error) {
	if sg.ID == "" {
		return Group{}, fmt.Errorf("missing id")
	}
	g := Group{ID: sg.ID, Name: sg.Name}
	for j, m := range sg.Members {
		typ := account.Type(m.Type)
		if !typ.IsValid() {
			return Group{}, fmt.Errorf("group %s: member %d: unknown type %q", sg.ID, j, m.Type)
		}
		if m.ID == "" {
			return Group{}, fmt.Errorf("group %s: member %d: missing id", sg.ID, j)
		}
		g.Members = append(g.Members, GroupMember{Type: typ, ID: m.ID})
	}
	return g, nil
}
