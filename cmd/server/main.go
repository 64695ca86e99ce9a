package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/janisto/hello-api/internal/config"
	"github.com/janisto/hello-api/internal/http/routes"
	applog "github.com/janisto/hello-api/internal/platform/logging"
	"github.com/janisto/hello-api/internal/platform/metrics"
	appmiddleware "github.com/janisto/hello-api/internal/platform/middleware"
	"github.com/janisto/hello-api/internal/platform/respond"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

func main() {
	defer func() {
		if err := applog.Sync(); err != nil {
			applog.LogError(context.Background(), "logger sync error", err)
		}
	}()
	if err := applog.Err(); err != nil {
		applog.LogError(context.Background(), "logger init error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		applog.LogError(context.Background(), "invalid configuration", err)
		os.Exit(1)
	}
	if err := applog.SetLevel(cfg.LogLevel); err != nil {
		applog.LogError(context.Background(), "invalid log level", err, zap.String("level", cfg.LogLevel))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		applog.LogError(context.Background(), "server failed", err, zap.String("addr", cfg.Addr()))
		_ = applog.Sync()
		os.Exit(1)
	}
}

// run binds the listener and serves until ctx is cancelled. A bind failure is
// returned immediately.
func run(ctx context.Context, cfg config.Config) error {
	srv := newServer(cfg.Addr(), newRouter(cfg))

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return serve(ctx, srv, ln, cfg.ShutdownTimeout)
}

func serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		applog.LogInfo(context.Background(), "server listening", zap.String("addr", ln.Addr().String()))
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		applog.LogInfo(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	applog.LogInfo(context.Background(), "server exited")
	return nil
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10, // 64 KB
	}
}

func newRouter(cfg config.Config) chi.Router {
	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler())

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("hello_api")
	}

	// Base middleware stack
	router.Use(
		appmiddleware.Security("/api-docs"),
		appmiddleware.Vary(),
		appmiddleware.CORS(),
		appmiddleware.RequestID(),
		// RealIP trusts X-Real-IP and X-Forwarded-For. Only deploy behind a
		// proxy that overwrites them.
		chimiddleware.RealIP,
		chimiddleware.RequestSize(1<<20), // 1 MB limit
		applog.RequestLogger(),
		applog.AccessLogger(),
	)
	if m != nil {
		router.Use(m.Middleware())
	}
	router.Use(respond.Recoverer())

	api := humachi.New(router, newAPIConfig(Version))
	api.OpenAPI().OnAddOperation = append(api.OpenAPI().OnAddOperation, addCBORContent)

	routes.Register(router, api)
	if m != nil {
		router.Get("/metrics", m.Handler().ServeHTTP)
	}
	return router
}

func newAPIConfig(version string) huma.Config {
	cfg := huma.DefaultConfig("Hello API", version)
	cfg.DocsPath = "/api-docs"
	// Responses carry only the documented fields, no $schema link.
	cfg.CreateHooks = nil
	return cfg
}

// addCBORContent mirrors every application/json request and response body as
// application/cbor in the OpenAPI document.
func addCBORContent(_ *huma.OpenAPI, op *huma.Operation) {
	if op.RequestBody != nil && op.RequestBody.Content != nil {
		if jsonContent, ok := op.RequestBody.Content["application/json"]; ok {
			op.RequestBody.Content["application/cbor"] = jsonContent
		}
	}
	for _, resp := range op.Responses {
		if resp.Content == nil {
			continue
		}
		if jsonContent, ok := resp.Content["application/json"]; ok {
			resp.Content["application/cbor"] = jsonContent
		}
	}
}
