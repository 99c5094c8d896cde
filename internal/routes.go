package internal

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	"linkfolio/internal/analytics"
	"linkfolio/internal/config"
	"linkfolio/internal/events"
	"linkfolio/internal/http"
	"linkfolio/internal/http/middleware"
	"linkfolio/internal/pkg/geoip"
	"linkfolio/internal/visitors"
)

// publicCORSConfig is shared by every endpoint a profile page calls from
// the visitor's browser. Without configured origins the pages are served
// same-origin and any origin may read the public responses; with them, only
// those origins may call and identity cookies travel with the beacons.
func publicCORSConfig(origins []string) *cors.Config {
	corsCfg := &cors.Config{
		AllowOrigins: "*",
		AllowMethods: "POST,GET,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
	}
	if len(origins) > 0 {
		corsCfg.AllowOrigins = strings.Join(origins, ",")
		corsCfg.AllowCredentials = true
	}
	return corsCfg
}

// NewServerConfig is the cartridge server configuration MountRoutes expects.
// The global Sec-Fetch-Site check is off because the owner API is called
// server to server; browser routes install the check themselves.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableSecFetchSite = false
	return cfg
}

// browserOnly rejects state-changing requests that a browser did not send.
func browserOnly() fiber.Handler {
	return cartridgemiddleware.SecFetchSiteMiddleware(cartridgemiddleware.SecFetchSiteConfig{
		AllowedValues: []string{"cross-site", "same-site", "same-origin"},
		Methods:       []string{fiber.MethodPost},
	})
}

// Dependencies are the long-lived components the routes and workers share.
type Dependencies struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager cartridge.DBManager
	Store     *events.Store
	Tracker   *events.Tracker
	Engine    *analytics.Engine
	Geo       *geoip.Resolver
	// GeoDB is nil when no GeoLite database is available.
	GeoDB *geoip.MaxMindProvider
}

// NewDependencies builds the geo resolver, event store, tracker and
// analytics engine over dbManager.
func NewDependencies(cfg *config.Config, logger *slog.Logger, dbManager cartridge.DBManager) *Dependencies {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
	}

	var providers []geoip.Provider
	if deps.GeoDB = geoip.OpenMaxMind(cfg.GeoDBPath, logger); deps.GeoDB != nil {
		providers = append(providers, deps.GeoDB)
	}
	if cfg.GeoHTTPEnabled {
		providers = append(providers, geoip.NewHTTPProvider(geoip.HTTPProviderConfig{
			Endpoint:          cfg.GeoHTTPEndpoint,
			Timeout:           cfg.GeoHTTPTimeout(),
			RequestsPerMinute: cfg.GeoHTTPRequestsPerMinute,
		}))
	}
	deps.Geo = geoip.NewResolver(logger, cfg.GeoCacheTTL(), providers, geoip.WithTimeout(cfg.GeoHTTPTimeout()))

	deps.Store = events.NewStore(dbManager, logger)
	deps.Tracker = events.NewTracker(deps.Store, deps.Geo, logger, events.WithTrackTimeout(cfg.TrackTimeout()))
	deps.Engine = analytics.NewEngine(analytics.NewGormSource(dbManager), logger)
	return deps
}

// MountRoutes mounts every route of the service on srv.
func MountRoutes(srv *cartridge.Server, deps *Dependencies) {
	cfg := deps.Config
	origins := cfg.TrackingOriginList()
	cookies := visitors.CookieOptions{Secure: cfg.IsProduction(), CrossSite: len(origins) > 0}
	corsCfg := publicCORSConfig(origins)

	// Rate limiting would interfere with development and tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 120/min per IP covers a profile page load plus a burst of clicks.
	trackingRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))
	pageRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(60),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Tracking beacons: CORS runs before the Sec-Fetch-Site check, so its
	// 403s still carry CORS headers.
	trackingConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{trackingRateLimiter, browserOnly()},
		CORSConfig:       corsCfg,
	}

	publicPageConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{pageRateLimiter},
		CORSConfig:       corsCfg,
	}

	// Owner API callers are servers, not browsers.
	ownerAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.OwnerAPIKeyAuth(cfg.APIKeyHash, deps.Logger),
		},
	}

	noContent := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	// === ROOT ROUTES ===
	health := http.HealthIndexAction(deps.GeoDB != nil)
	srv.Get("/_health", health)
	srv.Head("/_health", health)
	srv.Get("/metrics", http.MetricsAction())

	// === PUBLIC PROFILE ===
	srv.Get("/u/:username", http.PublicProfileAction(deps.Tracker, cookies), publicPageConfig)

	// === TRACKING API ===
	srv.Post("/x/api/v1/views", http.TrackViewAction(deps.Tracker, cookies), trackingConfig)
	srv.Options("/x/api/v1/views", noContent, trackingConfig)
	srv.Post("/x/api/v1/clicks", http.TrackClickAction(deps.Tracker, cookies), trackingConfig)
	srv.Options("/x/api/v1/clicks", noContent, trackingConfig)

	// === OWNER API ===
	srv.Get("/api/v1/users/:userId/analytics", http.DashboardAction(deps.Engine), ownerAPIConfig)
	srv.Get("/api/v1/users/:userId/profile", http.ProfileShowAction, ownerAPIConfig)
	srv.Post("/api/v1/users/:userId/profile", http.ProfileUpdateAction, ownerAPIConfig)
}
