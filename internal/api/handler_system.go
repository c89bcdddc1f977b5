package api

import (
	"net/http"
	"time"
)

// SystemInfo describes the running build, injected by main.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// HandleSystemInfo serves build and uptime information.
func HandleSystemInfo(info SystemInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, struct {
			SystemInfo
			UptimeSeconds int64 `json:"uptime_seconds"`
		}{
			SystemInfo:    info,
			UptimeSeconds: int64(time.Since(info.StartedAt).Seconds()),
		})
	})
}
