package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/directory"
)

// accountView is the read model served for one account. Credentials never
// appear here; proxies are reduced to their canonical form.
type accountView struct {
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	Name             string   `json:"name,omitempty"`
	Priority         int      `json:"priority"`
	Strategy         string   `json:"strategy"`
	Weight           float64  `json:"weight"`
	UsageCount       int64    `json:"usage_count"`
	LastUsedAtNs     int64    `json:"last_used_at_ns"`
	Active           bool     `json:"active"`
	Schedulable      bool     `json:"schedulable"`
	SubscriptionTier string   `json:"subscription_tier,omitempty"`
	SupportedModels  []string `json:"supported_models,omitempty"`
	TargetHost       string   `json:"target_host"`
	Proxy            string   `json:"proxy"`
	RateLimited      bool     `json:"rate_limited"`
	RecoveryHoldOpen bool     `json:"recovery_hold_open"`
}

// HandleListAccounts lists every account across all providers with its
// usage overlay and current exclusion state.
func HandleListAccounts(reg *directory.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		views := []accountView{}
		reg.RangeProviders(func(p directory.Provider) bool {
			accounts, err := p.ListShared(r.Context())
			if err != nil {
				return true
			}
			for _, a := range accounts {
				limited, _ := p.IsRateLimited(r.Context(), a.ID)
				views = append(views, accountView{
					ID:               a.ID,
					Type:             string(a.Type),
					Name:             a.Name,
					Priority:         a.EffectivePriority(),
					Strategy:         string(a.Strategy),
					Weight:           a.EffectiveWeight(),
					UsageCount:       a.UsageCount,
					LastUsedAtNs:     a.LastUsedAtNs,
					Active:           a.Active,
					Schedulable:      a.IsSchedulable(),
					SubscriptionTier: a.SubscriptionTier,
					SupportedModels:  a.SupportedModels,
					TargetHost:       a.EffectiveTargetHost(),
					Proxy:            a.Proxy.Canonical(),
					RateLimited:      limited,
					RecoveryHoldOpen: reg.Recovery().Open(string(a.Type) + ":" + a.ID),
				})
			}
			return true
		})
		WriteJSON(w, http.StatusOK, views)
	})
}

type rateLimitRequest struct {
	Duration string `json:"duration"` // Go duration string, e.g. "5m"
}

// HandleSetRateLimit marks an account rate-limited for the given duration.
func HandleSetRateLimit(reg *directory.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sp, ok := storeProvider(reg, r)
		if !ok {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown account type")
			return
		}
		var body rateLimitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		d, err := time.ParseDuration(body.Duration)
		if err != nil || d <= 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", "duration must be a positive Go duration string")
			return
		}
		if err := sp.SetRateLimited(r.Context(), r.PathValue("id"), d); err != nil {
			WriteError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "rate-limited"})
	})
}

// HandleClearRateLimit clears an account's rate-limited state.
func HandleClearRateLimit(reg *directory.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sp, ok := storeProvider(reg, r)
		if !ok {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown account type")
			return
		}
		if err := sp.ClearRateLimit(r.Context(), r.PathValue("id")); err != nil {
			WriteError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	})
}

func storeProvider(reg *directory.Registry, r *http.Request) (*directory.StoreProvider, bool) {
	p, ok := reg.Provider(account.Type(r.PathValue("type")))
	if !ok {
		return nil, false
	}
	sp, ok := p.(*directory.StoreProvider)
	return sp, ok
}
