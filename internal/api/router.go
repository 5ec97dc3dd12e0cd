// Package api is the inbound HTTP surface of the gateway: positional RPC
// calls in, IIOP-style structured exceptions out.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/orbgate/orbgate/internal/gateway"
)

// NewRouter builds the inbound call router. iface is the source interface
// name calls must address; apiKey enables bearer auth when non-empty.
func NewRouter(gw *gateway.Gateway, iface, apiKey string) chi.Router {
	r := chi.NewRouter()
	for _, m := range middlewareChain(apiKey) {
		r.Use(m)
	}
	r.Post("/rpc/{interface}/{operation}", CallHandler(gw, iface))
	return r
}
