package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/connpool"
	"github.com/Await-d/claude-relay-service-sub004/internal/dispatcher"
	"github.com/Await-d/claude-relay-service-sub004/internal/scheduler"
)

type selectRequest struct {
	BoundAccountID   string `json:"bound_account_id"`
	BoundAccountType string `json:"bound_account_type"`
	GroupID          string `json:"group_id"`
	Fingerprint      string `json:"fingerprint"`
	Model            string `json:"model"`
}

func (req selectRequest) caller() scheduler.CallerConfig {
	return scheduler.CallerConfig{
		BoundAccountID:   req.BoundAccountID,
		BoundAccountType: account.Type(req.BoundAccountType),
		GroupID:          req.GroupID,
	}
}

// HandleSelect runs one scheduling pass and returns the chosen account
// without touching the connection pool. Useful for inspecting what the
// engine would do for a given caller.
func HandleSelect(engine *scheduler.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		sel, err := engine.SelectAccount(r.Context(), req.caller(), req.Fingerprint, req.Model)
		if err != nil {
			if errors.Is(err, scheduler.ErrNoEligibleAccount) {
				WriteError(w, http.StatusConflict, "NO_ELIGIBLE_ACCOUNT", err.Error())
				return
			}
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"account_id":   sel.AccountID,
			"account_type": string(sel.AccountType),
		})
	})
}

// HandleDispatch runs the full dispatch path: account selection plus
// connection acquisition for its upstream target.
func HandleDispatch(disp *dispatcher.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		d, err := disp.Dispatch(r.Context(), req.caller(), req.Fingerprint, req.Model)
		if err != nil {
			switch {
			case errors.Is(err, scheduler.ErrNoEligibleAccount):
				WriteError(w, http.StatusConflict, "NO_ELIGIBLE_ACCOUNT", err.Error())
			case errors.Is(err, connpool.ErrConnectionEstablish):
				WriteError(w, http.StatusBadGateway, "CONNECTION_ESTABLISH", err.Error())
			default:
				WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			}
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"request_id":   d.RequestID,
			"account_id":   d.AccountID,
			"account_type": string(d.AccountType),
			"target_host":  d.TargetHost,
			"pool_key":     d.PoolKey.String(),
		})
	})
}
