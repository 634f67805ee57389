package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/linkvault/internal/logging"
	"github.com/pysugar/linkvault/internal/service"
)

// requestID tags every request context with a short hex id so handler
// logs can be correlated.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logging.GenerateRequestID()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// NewRouter builds the full route tree over the service facade.
func NewRouter(svc *service.Service) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", ProvidersHandler(svc))

		r.Route("/connect/{provider}", func(r chi.Router) {
			r.Get("/authorize", AuthorizeHandler(svc))
			r.Get("/callback", CallbackHandler(svc))
		})

		r.Route("/accounts/{provider}/{accountID}", func(r chi.Router) {
			r.Get("/test", TestConnectionHandler(svc))
			r.Post("/rediscover", RediscoverHandler(svc))
		})
	})

	return r
}
