package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/janisto/hello-api/internal/http/health"
	"github.com/janisto/hello-api/internal/http/hello"
)

// Register wires all HTTP routes. The health probe is mounted on the router
// directly; API operations go through huma.
func Register(router chi.Router, api huma.API) {
	router.Get("/health", health.Handler)

	hello.Register(api)
}
