package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the websocket endpoint under pathPrefix and the HTTP endpoints.
func NewRouter(pathPrefix string, ws http.Handler, h *HTTPHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Upgraded connections outlive any request timeout, so the websocket
	// route stays outside the timeout group.
	r.Handle(strings.TrimSuffix(pathPrefix, "/")+"/{gameID}", ws)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get(GamePath+"/{gameID}", h.HandleGetGame)
		r.Get("/stats", h.HandleStats)
		r.Get("/health", h.HandleHealth)
	})
	return r
}
