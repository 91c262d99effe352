package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
)

// CORS returns middleware that applies the configured allowed origin policy.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Refresh-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Refresh-Token", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
