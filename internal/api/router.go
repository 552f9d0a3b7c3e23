package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkgraph/internal/pageservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *pageservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Pages CRUD.
	r.Get("/pages", h.ListPages)
	r.Post("/pages", h.CreatePage)
	r.Get("/pages/{id}", h.GetPage)
	r.Put("/pages/{id}", h.SavePage)
	r.Delete("/pages/{id}", h.DeletePage)

	// Link panels.
	r.Get("/pages/{id}/backlinks", h.Backlinks)
	r.Get("/pages/{id}/links", h.Links)

	// Resolution.
	r.Post("/links/resolve", h.ResolveLink)

	// Open documents.
	r.Delete("/sessions/{sid}", h.CloseSession)
	r.Route("/sessions/{sid}/documents/{id}", func(r chi.Router) {
		r.Post("/", h.OpenDocument)
		r.Get("/", h.GetDocument)
		r.Put("/", h.SaveDocument)
		r.Delete("/", h.CloseDocument)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
