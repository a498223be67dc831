package api

import (
	"strings"

	"templaterepo/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. limiter may be nil to disable rate limiting.
func SetupRouter(handler *Handler, dispatcher *Dispatcher, limiter *RateLimiter, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Only trust X-Forwarded-For behind a known proxy.
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	// Global middleware
	e.Use(RequestLogger(nil))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/health", handler.HandleHealth)

	// Template API under the service prefix
	prefix := strings.TrimSuffix(cfg.ServicePrefix, "/")
	g := e.Group(prefix)
	if cfg.MaxUploadSize != "" {
		g.Use(middleware.BodyLimit(cfg.MaxUploadSize))
	}
	if limiter != nil {
		g.Use(limiter.Middleware())
	}
	g.Any("/:api", dispatcher.Dispatch)

	return e
}
