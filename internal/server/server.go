// Package server wires the inbound API, the agent control plane, and the
// operational endpoints into one HTTP handler.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbgate/orbgate/internal/agents"
	"github.com/orbgate/orbgate/internal/api"
	"github.com/orbgate/orbgate/internal/config"
	"github.com/orbgate/orbgate/internal/gateway"
	"github.com/orbgate/orbgate/internal/serverstate"
)

// AgentWSPath is where target agents establish websocket connections.
const AgentWSPath = "/api/agents/connect"

// New constructs the HTTP handler for the gateway. reg may be nil when the
// outbound transport is HTTP and no agent plane is served. The prune loop
// for stale agents runs until ctx is done.
func New(ctx context.Context, gw *gateway.Gateway, reg *agents.Registry, iface string, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	r.Mount("/", api.NewRouter(gw, iface, cfg.APIKey))

	if reg != nil {
		r.Handle(AgentWSPath, agents.WSHandler(reg, cfg.AgentKey))
		go func() {
			ticker := time.NewTicker(agents.HeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					reg.PruneExpired(agents.HeartbeatExpiry)
				}
			}
		}()
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if serverstate.IsDraining() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		st := serverstate.Current()
		resp := map[string]any{"status": st.Status, "draining": st.Draining}
		if reg != nil {
			resp["agents"] = reg.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	if cfg.ResolvedMetricsAddr() == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
