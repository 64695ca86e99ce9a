package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows read-only cross-origin access from any origin. The API only
// serves GET routes, so preflights for other methods are not advertised.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-Id",
			"traceparent",
		},
		ExposedHeaders: []string{"Link", "X-Request-Id"},
		MaxAge:         300,
	})
}
