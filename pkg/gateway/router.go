package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/pathtmpl"
)

// DefaultPrefix is the path prefix resource routes are mounted under.
const DefaultPrefix = "/api"

// RouterConfig describes the inbound HTTP surface.
type RouterConfig struct {
	Prefix  string
	Routes  []domain.ResourceRoute
	Factory *Factory
	Auth    *AuthHandlers
	// Metrics is optional; nil disables /metrics and request metrics.
	Metrics *Metrics
	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready       func(ctx context.Context) error
	ServiceName string
	Logger      *slog.Logger
}

// NewRouter mounts the auth endpoints, every resource route in order, and the
// operational endpoints. Routes are matched in table order, so literal paths such as
// /users/profile must precede /users/{id}.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "taskgate"
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: router requires a handler factory", domain.ErrConfigInvalid)
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, domain.NormalizedError{
			StatusCode: http.StatusNotFound,
			Kind:       domain.KindClientError,
			Message:    "no route for " + r.URL.Path,
			RequestID:  RequestIDFromContext(r.Context()),
		})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, domain.NormalizedError{
			StatusCode: http.StatusMethodNotAllowed,
			Kind:       domain.KindClientError,
			Message:    "method " + r.Method + " not allowed",
			RequestID:  RequestIDFromContext(r.Context()),
		})
	})

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				WriteError(w, r, logger, &domain.UnavailableError{Err: err})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)

	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix(prefix).Subrouter()
	if cfg.Metrics != nil {
		api.Use(cfg.Metrics.MetricsMiddleware)
	}

	if cfg.Auth != nil {
		api.HandleFunc("/auth/login", cfg.Auth.Login).Methods(http.MethodPost)
		api.HandleFunc("/auth/register", cfg.Auth.Register).Methods(http.MethodPost)
		api.HandleFunc("/auth/logout", cfg.Auth.Logout).Methods(http.MethodPost)
		api.HandleFunc("/auth/session", cfg.Auth.Session).Methods(http.MethodGet)
	}

	for _, route := range cfg.Routes {
		if err := pathtmpl.Validate(route.Template); err != nil {
			return nil, fmt.Errorf("%w: route %q: %v", domain.ErrConfigInvalid, route.Label, err)
		}
		pattern, err := pathtmpl.Canonical(route.Template)
		if err != nil {
			return nil, fmt.Errorf("%w: route %q: %v", domain.ErrConfigInvalid, route.Label, err)
		}

		handlers := cfg.Factory.CreateHandlers(route)
		for _, method := range route.AllowedMethods() {
			h := handlers.For(method)
			if h == nil {
				continue
			}
			api.Handle(pattern, h).Methods(method).Name(route.Label + " " + method)
		}
		logger.Debug("route mounted", "label", route.Label, "path", prefix+pattern, "methods", route.AllowedMethods())
	}

	var handler http.Handler = router
	handler = AccessLogMiddleware(logger)(handler)
	handler = RequestIDMiddleware(handler)
	handler = otelhttp.NewHandler(handler, serviceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return handler, nil
}
