// Package httpapi exposes the operational HTTP surface: the websocket
// entrypoint, a health probe, and a token-guarded admin API that talks to
// the hub through its inbox like any other caller.
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/auth"
	"github.com/emberlight/realtime-backend/internal/hub"
	"github.com/emberlight/realtime-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, verifier auth.Verifier, bans auth.BanStore, adminToken string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	api := &api{hub: h, log: log.Named("httpapi")}

	r := chi.NewRouter()
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, verifier, bans, log))

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(adminToken))
		r.Get("/stats", api.Stats)
		r.Get("/online", api.Online)
		r.Get("/channels", api.Channels)
		r.Post("/kick/{user}", api.Kick)
		r.Post("/announce", api.Announce)
	})
	return r
}

// bearerAuth guards the admin API with a shared token. An empty configured
// token disables the API entirely rather than leaving it open.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "admin api disabled", http.StatusForbidden)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
