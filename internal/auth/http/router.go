package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/parclabs/keygate/internal/auth/cache"
	"github.com/parclabs/keygate/internal/auth/service"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/pkg/httpx"
	"github.com/parclabs/keygate/pkg/jwtx"
	"github.com/parclabs/keygate/pkg/slogx"

	_ "github.com/parclabs/keygate/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	cache cache.Client

	Authenticator *service.ClientAuthenticator
	DPoPService   *service.DPoPService
	TokenService  *service.TokenService
	DeviceService *service.DeviceService
	PARService    *service.PARService
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st store.Store,
	c cache.Client,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		cache:        c,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.Middleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOAuth2()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Keygate Authorization Server API
//	@version		0.1.0
//	@description	OAuth2 authorization server protocol surface: token issuance with
//	@description	refresh token rotation, pushed authorization requests (RFC 9126),
//	@description	device authorization (RFC 8628) and DPoP sender constrained tokens
//	@description	(RFC 9449). Access tokens can be verified against the JWKS endpoint.
//
//	@contact.name	Parc Labs
//	@contact.url	https://github.com/parclabs/keygate
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8080
//	@BasePath		/
//
//	@schemes		http https
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOAuth2() {
	// POST /token - strict rate limit by IP (covers all grant types)
	tokenHandler := &TokenHandler{
		Authenticator: r.Authenticator,
		TokenService:  r.TokenService,
		DPoP:          r.DPoPService,
	}
	r.Mux.Handle("POST /v1/oauth2/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /par - strict rate limit (authenticated push of authorization
	// parameters)
	parHandler := &PARHandler{
		Authenticator: r.Authenticator,
		PARService:    r.PARService,
	}
	r.Mux.Handle("POST /v1/oauth2/par",
		httpx.Chain(parHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /device_authorization - moderate rate limit; polling happens
	// on the token endpoint, not here
	deviceHandler := &DeviceAuthorizationHandler{
		Authenticator: r.Authenticator,
		DeviceService: r.DeviceService,
	}
	r.Mux.Handle("POST /v1/oauth2/device_authorization",
		httpx.Chain(deviceHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /revoke - moderate rate limit
	revokeHandler := &RevokeHandler{
		Authenticator: r.Authenticator,
		TokenService:  r.TokenService,
	}
	r.Mux.Handle("POST /v1/oauth2/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems
	// may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.cache, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
