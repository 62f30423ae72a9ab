package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cuemby/selfstart/internal/config"
	"github.com/cuemby/selfstart/internal/orcherr"
)

// newServer builds the HTTP server over the public API surface:
// health, container lifecycle, discovery, scaling, proxy
// admin/forwarding, metrics, and the websocket event stream.
func newServer(cfg *config.Config, deps *dependencies, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	forwardLimiter := newPeerLimiter(20, 40)

	mux.HandleFunc("GET /health", handleHealth)

	mux.HandleFunc("GET /api/status", withAuth(cfg, deps.handleStatus))
	mux.HandleFunc("POST /api/start", withAuth(cfg, deps.handleStart))
	mux.HandleFunc("POST /api/stop", withAuth(cfg, deps.handleStop))
	mux.HandleFunc("GET /api/containers", withAuth(cfg, deps.handleContainers))
	mux.HandleFunc("GET /api/logs/{name}", withAuth(cfg, deps.handleLogs))

	mux.HandleFunc("GET /api/v2/discovery", withAuth(cfg, deps.handleDiscoveryList))
	mux.HandleFunc("GET /api/v2/discovery/{name}", withAuth(cfg, deps.handleDiscoveryGet))
	mux.HandleFunc("POST /api/v2/discovery/register", withAuth(cfg, deps.handleDiscoveryRegister))

	mux.HandleFunc("GET /api/v2/scaling/policies", withAuth(cfg, deps.handleScalingPoliciesList))
	mux.HandleFunc("POST /api/v2/scaling/policies", withAuth(cfg, deps.handleScalingPoliciesUpsert))
	mux.HandleFunc("POST /api/v2/scaling/{name}/scale", withAuth(cfg, deps.handleScalingScale))
	mux.HandleFunc("GET /api/v2/scaling/{name}/events", withAuth(cfg, deps.handleScalingEvents))

	mux.HandleFunc("GET /api/v2/proxy/targets", withAuth(cfg, deps.handleProxyTargetsList))
	mux.HandleFunc("POST /api/v2/proxy/targets", withAuth(cfg, deps.handleProxyTargetsRegister))
	mux.HandleFunc("POST /api/v2/proxy/targets/{name}/backends", withAuth(cfg, deps.handleProxyBackendAdd))
	mux.HandleFunc("DELETE /api/v2/proxy/targets/{name}/backends", withAuth(cfg, deps.handleProxyBackendRemove))
	mux.HandleFunc("POST /api/v2/proxy/targets/{name}/backends/maintenance", withAuth(cfg, deps.handleProxyBackendMaintenance))

	mux.HandleFunc("/proxy/{target}/{path...}", withRateLimit(forwardLimiter, deps.handleProxyForward))

	mux.HandleFunc("GET /api/v2/metrics", withAuth(cfg, deps.handleMetrics))
	mux.Handle("GET /api/v2/metrics/prometheus", promhttp.HandlerFor(prometheusRegistry(deps), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /ws/events", deps.wsHub.HandleWebSocket)

	return &http.Server{
		Addr:         cfg.APIHost + ":" + strconv.Itoa(cfg.APIPort),
		Handler:      logRequests(logger, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func prometheusRegistry(deps *dependencies) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range deps.autoscaler.Collectors() {
		reg.MustRegister(c)
	}
	return reg
}

// withAuth enforces ENABLE_AUTH's bearer token requirement, named
// "Authorization: Bearer <API_TOKEN>", before delegating to next.
func withAuth(cfg *config.Config, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.EnableAuth {
			next(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != cfg.APIToken {
			writeError(w, orcherr.Validation("api.auth", "", nil))
			return
		}
		next(w, r)
	}
}

func logRequests(logger zerolog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an orcherr.Kind to its HTTP status in the error
// taxonomy and writes a short JSON body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch orcherr.KindOf(err) {
	case orcherr.KindNotFound:
		status = http.StatusNotFound
	case orcherr.KindConflict:
		status = http.StatusConflict
	case orcherr.KindValidation:
		status = http.StatusBadRequest
	case orcherr.KindTimeout:
		status = http.StatusGatewayTimeout
	case orcherr.KindBackendError:
		status = http.StatusServiceUnavailable
	case orcherr.KindRuntimeError:
		status = http.StatusBadGateway
	case orcherr.KindStoreError:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
