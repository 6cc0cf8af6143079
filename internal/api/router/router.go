package router

import (
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/handlers"
	"github/chapool/tx-signer/internal/api/httperrors"
	"github/chapool/tx-signer/internal/api/middleware"
)

// Init builds the echo instance and mounts every route on s.
func Init(s *api.Server) error {
	s.Echo = echo.New()

	s.Echo.Debug = s.Config.Echo.Debug
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Logger.SetOutput(&echoLogger{level: s.Config.Logger.RequestLevel, log: log.With().Str("component", "echo").Logger()})

	s.Echo.HTTPErrorHandler = httperrors.HTTPErrorHandler

	// ---
	// General middleware
	s.Echo.Pre(echoMiddleware.RemoveTrailingSlash())
	s.Echo.Use(echoMiddleware.Recover())
	s.Echo.Use(echoMiddleware.RequestID())
	s.Echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Level: s.Config.Logger.RequestLevel,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	s.Echo.Use(echoMiddleware.BodyLimit("1M"))

	if s.Config.Echo.EnableMetrics {
		s.Echo.Use(s.Metrics.Middleware())
	}

	if len(s.Config.Echo.APIKeys) == 0 {
		log.Warn().Msg("No management API keys configured, /api/v1 rejects every request")
	}

	s.Router = &api.Router{
		Routes:     nil, // will be populated by handlers.AttachAllRoutes(s)
		Root:       s.Echo.Group(""),
		Management: s.Echo.Group("/-"),
		APIV1:      s.Echo.Group("/api/v1", middleware.APIKeyAuth(s.Config.Echo.APIKeys)),
	}

	handlers.AttachAllRoutes(s)

	return nil
}
