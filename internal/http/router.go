package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/signoff/internal/logger"
)

type RouterOptions struct {
	Logger      zerolog.Logger
	TrustProxy  bool     // honour X-Forwarded-For for audit client IPs
	CORSOrigins []string // empty disables CORS
}

// NewRouter mounts the API with request ID, recovery, client IP and
// request logging middleware.
func NewRouter(api *API, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(ClientIPMiddleware(opts.TrustProxy))
	r.Use(logger.RequestLogger(opts.Logger))
	if len(opts.CORSOrigins) > 0 {
		r.Use(withCORS(opts.CORSOrigins))
	}

	r.Get("/healthz", api.Health)

	r.Route("/authorizations", func(r chi.Router) {
		r.Post("/", api.CreateAuthorization)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", api.GetAuthorization)
			r.Get("/signature", api.GetSignature)
			r.Post("/signature", api.SignWithCertificate)
			r.Post("/signature/electronic", api.SignElectronic)
			r.Post("/signature/verify", api.Reverify)
		})
	})

	return r
}

func withCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler
}
