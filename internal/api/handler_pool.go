package api

import (
	"net/http"

	"github.com/Await-d/claude-relay-service-sub004/internal/connpool"
)

// HandlePoolStats serves pool-wide statistics.
func HandlePoolStats(pool *connpool.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, pool.StatsAll())
	})
}

// HandlePoolEntry serves one entry's counters.
func HandlePoolEntry(pool *connpool.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := connpool.ParseKey(r.PathValue("key"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_KEY", err.Error())
			return
		}
		stats, ok := pool.Stats(key)
		if !ok {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", "no pooled entry for key")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	})
}

// HandlePoolFailures serves one key's in-window failure records.
func HandlePoolFailures(pool *connpool.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := connpool.ParseKey(r.PathValue("key"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_KEY", err.Error())
			return
		}
		records := pool.Failures(key)
		if records == nil {
			records = []connpool.FailureRecord{}
		}
		WriteJSON(w, http.StatusOK, records)
	})
}

// HandlePoolReset tears down one key's entry and failure history.
func HandlePoolReset(pool *connpool.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := connpool.ParseKey(r.PathValue("key"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_KEY", err.Error())
			return
		}
		pool.Reset(key)
		WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	})
}
