package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/unitdeck/internal/registry"
)

// NewRouter creates a chi router with all API routes. It is mounted at
// {base}/api.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(deps Deps, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Unified view.
	r.Get("/services", h.ListServices)
	r.Get("/services/{name}", h.GetService)
	r.Post("/refresh", h.Refresh)
	r.Get("/status", h.RegistryStatus)

	// Live reads.
	r.Get("/services/{name}/status", h.UnitStatus)
	r.Get("/services/{name}/logs", h.UnitLogs)
	r.Get("/services/{name}/journal", h.UnitJournal)

	// Control.
	r.Post("/services/{name}/{action}", h.Control)
	r.Get("/operations", h.Operations)

	// Metadata and UI state.
	r.Put("/services/{name}/metadata", h.UpdateMetadata)
	r.Delete("/services/{name}/metadata", h.DeleteMetadata)
	r.Get("/toggle-states", h.ToggleStates)
	r.Post("/services/{name}/toggle", h.SetToggle)

	// Host.
	r.Get("/disk-usage", h.DiskUsage)
	r.Get("/ram-usage", h.RAMUsage)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// RootOptions configures NewRoot.
type RootOptions struct {
	BaseURL     string
	AuthEnabled bool
	AuthToken   string
	Events      http.Handler
}

// NewRoot builds the full HTTP handler: shared middleware, health checks and
// the API, all under BaseURL.
func NewRoot(deps Deps, opts RootOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)

	apiRouter := NewRouter(deps, opts.AuthEnabled, opts.AuthToken, opts.Events)
	mount := func(r chi.Router) {
		// Health check endpoints (unauthenticated).
		r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/health/ready", readyHandler(deps))
		r.Mount("/api", apiRouter)
	}

	if base := NormalizeBase(opts.BaseURL); base != "" {
		r.Route(base, mount)
	} else {
		mount(r)
	}
	return r
}

// NormalizeBase turns a configured base URL into a chi route prefix:
// "" and "/" mean the root, anything else gets one leading and no trailing
// slash.
func NormalizeBase(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return "/" + base
}

func readyHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st := deps.Registry.State(); st == registry.StateCold {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(st)})
			return
		}
		if deps.Store != nil {
			if err := deps.Store.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "metadata store unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
