package account

import "testing"

func TestEffectiveDefaults(t *testing.T) {
	a := &Account{ID: "a1", Type: TypeClaudeOAuth}

	if got := a.EffectivePriority(); got != DefaultPriority {
		t.Errorf("EffectivePriority: got %d, want %d", got, DefaultPriority)
	}
	if got := a.EffectiveStrategy(StrategyLeastRecent); got != StrategyLeastRecent {
		t.Errorf("EffectiveStrategy: got %s, want %s", got, StrategyLeastRecent)
	}
	if got := a.EffectiveWeight(); got != DefaultWeight {
		t.Errorf("EffectiveWeight: got %v, want %v", got, DefaultWeight)
	}
	if got := a.EffectiveTargetHost(); got != "api.anthropic.com" {
		t.Errorf("EffectiveTargetHost: got %s", got)
	}
}

func TestEffectiveExplicit(t *testing.T) {
	a := &Account{
		ID:         "a1",
		Type:       TypeGemini,
		Priority:   10,
		Strategy:   StrategyRoundRobin,
		Weight:     2.5,
		TargetHost: "custom.example.com",
	}

	if got := a.EffectivePriority(); got != 10 {
		t.Errorf("EffectivePriority: got %d, want 10", got)
	}
	if got := a.EffectiveStrategy(StrategyLeastRecent); got != StrategyRoundRobin {
		t.Errorf("EffectiveStrategy: got %s, want %s", got, StrategyRoundRobin)
	}
	if got := a.EffectiveWeight(); got != 2.5 {
		t.Errorf("EffectiveWeight: got %v, want 2.5", got)
	}
	if got := a.EffectiveTargetHost(); got != "custom.example.com" {
		t.Errorf("EffectiveTargetHost: got %s", got)
	}
}

func TestIsSchedulableTriState(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		flag *bool
		want bool
	}{
		{"absent", nil, true},
		{"explicit true", &yes, true},
		{"explicit false", &no, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Account{Schedulable: tt.flag}
			if got := a.IsSchedulable(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusEligible(t *testing.T) {
	no := false
	tests := []struct {
		name string
		acct Account
		want bool
	}{
		{"active clean", Account{Active: true}, true},
		{"inactive", Account{Active: false}, false},
		{"error state", Account{Active: true, ErrorState: true}, false},
		{"blocked", Account{Active: true, Blocked: true}, false},
		{"unschedulable", Account{Active: true, Schedulable: &no}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.acct.StatusEligible(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSupportsModel(t *testing.T) {
	tests := []struct {
		name  string
		acct  Account
		model string
		want  bool
	}{
		{"empty model matches all", Account{SubscriptionTier: "free"}, "", true},
		{"opus refused on free tier", Account{SubscriptionTier: "free"}, "claude-opus-4", false},
		{"opus refused on pro tier", Account{SubscriptionTier: "pro"}, "claude-3-opus", false},
		{"opus allowed on max tier", Account{SubscriptionTier: "max"}, "claude-opus-4", true},
		{"opus allowed with unknown tier", Account{}, "claude-opus-4", true},
		{"non-opus allowed on free tier", Account{SubscriptionTier: "free"}, "claude-sonnet-4", true},
		{"case-insensitive opus marker", Account{SubscriptionTier: "Pro"}, "Claude-OPUS-4", false},
		{
			"model list membership",
			Account{SupportedModels: []string{"gemini-pro", "gemini-flash"}},
			"gemini-pro",
			true,
		},
		{
			"model list miss",
			Account{SupportedModels: []string{"gemini-pro"}},
			"gemini-ultra",
			false,
		},
		{
			"opus gate applies before model list",
			Account{SubscriptionTier: "free", SupportedModels: []string{"claude-opus-4"}},
			"claude-opus-4",
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.acct.SupportsModel(tt.model); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProxySpecCanonical(t *testing.T) {
	tests := []struct {
		name string
		spec *ProxySpec
		want string
	}{
		{"nil is direct", nil, "direct"},
		{
			"no credentials",
			&ProxySpec{Scheme: "socks5", Host: "10.0.0.1", Port: 1080},
			"socks5://10.0.0.1:1080",
		},
		{
			"with username",
			&ProxySpec{Scheme: "http", Host: "proxy.example.com", Port: 8080, Username: "u", Password: "p"},
			"http://u@proxy.example.com:8080",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.Canonical(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProxySpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    *ProxySpec
		wantErr bool
	}{
		{"nil valid", nil, false},
		{"socks5 valid", &ProxySpec{Scheme: "socks5", Host: "h", Port: 1080}, false},
		{"https valid", &ProxySpec{Scheme: "https", Host: "h", Port: 443}, false},
		{"bad scheme", &ProxySpec{Scheme: "socks4", Host: "h", Port: 1080}, true},
		{"missing host", &ProxySpec{Scheme: "http", Port: 8080}, true},
		{"bad port", &ProxySpec{Scheme: "http", Host: "h", Port: 70000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestClone(t *testing.T) {
	order := 3
	no := false
	a := &Account{
		ID:              "a1",
		Type:            TypeOpenAI,
		SequentialOrder: &order,
		Schedulable:     &no,
		SupportedModels: []string{"gpt-4o"},
		Proxy:           &ProxySpec{Scheme: "http", Host: "h", Port: 8080},
	}
	c := a.Clone()

	*c.SequentialOrder = 9
	*c.Schedulable = true
	c.SupportedModels[0] = "changed"
	c.Proxy.Host = "changed"

	if *a.SequentialOrder != 3 || *a.Schedulable != false {
		t.Error("scalar pointer fields are shared between clone and original")
	}
	if a.SupportedModels[0] != "gpt-4o" {
		t.Error("SupportedModels slice is shared between clone and original")
	}
	if a.Proxy.Host != "h" {
		t.Error("Proxy is shared between clone and original")
	}
}
