package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/pathtmpl"
	"github.com/polisai/taskgate/pkg/telemetry"
	"github.com/polisai/taskgate/pkg/upstream"
)

// DefaultMaxBodyBytes caps inbound request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Dispatcher sends an outbound request to the backend.
type Dispatcher interface {
	Execute(ctx context.Context, req domain.OutboundRequest) (*upstream.Response, error)
}

// ParamsFunc extracts route parameters from an inbound request.
type ParamsFunc func(r *http.Request) map[string]string

// Handlers holds one handler per verb. Verbs a route does not support are nil.
type Handlers struct {
	Get    http.HandlerFunc
	Post   http.HandlerFunc
	Put    http.HandlerFunc
	Patch  http.HandlerFunc
	Delete http.HandlerFunc
}

// For returns the handler for method, or nil.
func (h Handlers) For(method string) http.HandlerFunc {
	switch strings.ToUpper(method) {
	case http.MethodGet:
		return h.Get
	case http.MethodPost:
		return h.Post
	case http.MethodPut:
		return h.Put
	case http.MethodPatch:
		return h.Patch
	case http.MethodDelete:
		return h.Delete
	default:
		return nil
	}
}

// FactoryConfig holds the collaborators of a Factory.
type FactoryConfig struct {
	Dispatcher   Dispatcher
	BaseURL      string
	MaxBodyBytes int64
	Params       ParamsFunc
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Factory builds resource handlers. It holds no per-request state.
type Factory struct {
	dispatcher   Dispatcher
	baseURL      string
	maxBodyBytes int64
	params       ParamsFunc
	metrics      *Metrics
	logger       *slog.Logger
}

// NewFactory creates a Factory. Params defaults to gorilla/mux route variables.
func NewFactory(cfg FactoryConfig) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	params := cfg.Params
	if params == nil {
		params = mux.Vars
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Factory{
		dispatcher:   cfg.Dispatcher,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		maxBodyBytes: maxBody,
		params:       params,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// CreateHandlers builds the handlers for route. The same route always yields handlers
// with the same behaviour.
func (f *Factory) CreateHandlers(route domain.ResourceRoute) Handlers {
	var h Handlers
	for _, method := range route.AllowedMethods() {
		handler := f.handler(route, method)
		switch method {
		case http.MethodGet:
			h.Get = handler
		case http.MethodPost:
			h.Post = handler
		case http.MethodPut:
			h.Put = handler
		case http.MethodPatch:
			h.Patch = handler
		case http.MethodDelete:
			h.Delete = handler
		}
	}
	return h
}

func carriesBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func (f *Factory) handler(route domain.ResourceRoute, method string) http.HandlerFunc {
	logger := f.logger.With("resource", route.Template, "label", route.Label)

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		telemetry.AnnotateDispatch(trace.SpanFromContext(ctx), route.Template, route.Label)

		resp, err := f.dispatch(ctx, route, method, r)

		dm := telemetry.DispatchMetrics{
			Resource: route.Template,
			Method:   method,
			Duration: time.Since(start),
		}
		if resp != nil {
			dm.Attempts = resp.Attempts
			dm.Refreshed = resp.Refreshed
			dm.StatusCode = resp.StatusCode
			if resp.Refreshed {
				f.metrics.RecordAuthRecovery(route.Template, err == nil)
			}
		}
		if err == nil && resp.StatusCode >= 400 {
			err = &domain.BackendError{
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
				Method:     method,
				URL:        route.Template,
			}
		}

		if err != nil {
			if errors.Is(err, domain.ErrAuthExpired) {
				f.metrics.RecordAuthRecovery(route.Template, false)
			}
			ne := WriteError(w, r, logger, err)
			dm.StatusCode = ne.StatusCode
			dm.Kind = string(ne.Kind)
			f.metrics.RecordError(route.Template, ne.Kind)
			telemetry.RecordDispatch(ctx, dm)
			return
		}

		telemetry.RecordDispatch(ctx, dm)
		copyResponseHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		if len(resp.Body) > 0 && bodyAllowed(resp.StatusCode) {
			if _, werr := w.Write(resp.Body); werr != nil {
				logger.Debug("client went away while writing response", "error", werr)
			}
		}
	}
}

func (f *Factory) dispatch(ctx context.Context, route domain.ResourceRoute, method string, r *http.Request) (*upstream.Response, error) {
	var body []byte
	if carriesBody(method) && r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(nil, r.Body, f.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrBadRequest, f.maxBodyBytes)
			}
			return nil, fmt.Errorf("%w: unreadable request body", domain.ErrBadRequest)
		}
	}

	query, err := pathtmpl.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed query string", domain.ErrBadRequest)
	}

	path, err := pathtmpl.Resolve(route.Template, f.params(r), query)
	if err != nil {
		return nil, err
	}

	return f.dispatcher.Execute(ctx, domain.OutboundRequest{
		Method: method,
		URL:    f.baseURL + path,
		Header: forwardHeaders(r.Header),
		Body:   body,
	})
}
