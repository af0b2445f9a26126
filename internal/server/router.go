package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/invocation"
	gwmiddleware "github.com/clinigate/authgw/internal/middleware"
	"github.com/clinigate/authgw/internal/services/iam"
	"github.com/clinigate/authgw/internal/telemetry"
)

// RouterOptions controls the construction of the gateway HTTP router.
// IAM is required; every other field has a working default.
type RouterOptions struct {
	IAM iam.Service

	Logger        zerolog.Logger
	ServerMetrics *telemetry.ServerMetrics
	AuthMetrics   *telemetry.AuthMetrics

	// TokenSources are checked for bearer tokens before the Authorization header.
	TokenSources []auth.TokenSource

	// CORSOptions customises the access-control configuration. When nil,
	// DefaultCORSOptions() is applied.
	CORSOptions *cors.Options

	// Middleware are appended after the default middleware stack
	// (RequestID, RealIP, request logging, Recoverer, CORS).
	Middleware []func(http.Handler) http.Handler

	// ConnectInterceptors run after authentication and scope checks.
	ConnectInterceptors []connect.Interceptor

	// HealthHandler overrides the default /health handler.
	HealthHandler http.HandlerFunc

	// ExtraRoutes can register additional endpoints after the built-in handlers.
	// They run behind the authentication middleware.
	ExtraRoutes func(r chi.Router, guards gwmiddleware.Guards)
}

// DefaultCORSOptions returns the CORS policy for the given browser origins.
// Without origins, the local development front-ends are allowed.
func DefaultCORSOptions(origins ...string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Authorization",
			"Content-Type",
			"Connect-Protocol-Version",
			"Connect-Timeout-Ms",
			"Grpc-Timeout",
			"X-Grpc-Web",
			"X-User-Agent",
		},
		ExposedHeaders: []string{
			"Connect-Protocol-Version",
			"Grpc-Status",
			"Grpc-Message",
			"Grpc-Status-Details-Bin",
			"WWW-Authenticate",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with the shared middleware, CORS policy,
// login and whoami endpoints, and the Connect gateway service.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	errs := &invocation.Writer{Metrics: opts.AuthMetrics}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(opts.Logger, opts.ServerMetrics))
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	r.Post("/auth/login", HandleLogin(opts.IAM, errs))

	guards := gwmiddleware.Guards{Errors: errs}
	r.Group(func(r chi.Router) {
		r.Use(gwmiddleware.NewAuthnMiddleware(opts.IAM, errs, opts.TokenSources...))

		r.With(guards.RequireAuthenticated()).Get("/auth/whoami", HandleWhoAmI(errs))

		if opts.ExtraRoutes != nil {
			opts.ExtraRoutes(r, guards)
		}
	})

	MountGatewayService(r, opts, errs)

	return r
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over
// cleartext for Connect and gRPC clients.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
