package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/Await-d/claude-relay-service-sub004/internal/connpool"
	"github.com/Await-d/claude-relay-service-sub004/internal/dispatcher"
	"github.com/Await-d/claude-relay-service-sub004/internal/directory"
	"github.com/Await-d/claude-relay-service-sub004/internal/scheduler"
)

// Server wraps the HTTP server and mux for the relayd admin API.
type Server struct {
	httpServer *http.Server
}

// NewServer creates the admin API server wired with all routes. An empty
// adminToken disables authentication (loopback deployments).
func NewServer(
	listenAddress string,
	port int,
	adminToken string,
	info SystemInfo,
	engine *scheduler.Engine,
	disp *dispatcher.Dispatcher,
	reg *directory.Registry,
	pool *connpool.Manager,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(info))

	authed.Handle("GET /api/v1/accounts", HandleListAccounts(reg))
	authed.Handle("POST /api/v1/accounts/{type}/{id}/rate-limit", HandleSetRateLimit(reg))
	authed.Handle("DELETE /api/v1/accounts/{type}/{id}/rate-limit", HandleClearRateLimit(reg))

	authed.Handle("POST /api/v1/select", HandleSelect(engine))
	authed.Handle("POST /api/v1/dispatch", HandleDispatch(disp))

	authed.Handle("GET /api/v1/pool/stats", HandlePoolStats(pool))
	authed.Handle("GET /api/v1/pool/{key}", HandlePoolEntry(pool))
	authed.Handle("GET /api/v1/pool/{key}/failures", HandlePoolFailures(pool))
	authed.Handle("POST /api/v1/pool/{key}/actions/reset", HandlePoolReset(pool))

	var protected http.Handler = authed
	if adminToken != "" {
		protected = AuthMiddleware(adminToken, authed)
	}
	mux.Handle("/api/v1/", protected)

	addr := net.JoinHostPort(listenAddress, strconv.Itoa(port))
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
	}
}

// ListenAndServe starts serving. Blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
