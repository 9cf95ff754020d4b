// Package http assembles the engine's public HTTP surface: carrier
// webhooks, the media websocket endpoints, and the authenticated control
// API, all on one listener.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/config"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/service"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/signature"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/stream"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/transport/http/v1"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/transport/http/webhooks"
)

// maxBodySize caps every request body before any handler sees it.
const maxBodySize = "64K"

// NewServer creates and configures the HTTP server. It fails when a
// required verification key is absent; running without one would leave the
// webhook surface open.
func NewServer(cfg *config.Config, svc *service.Service, media *stream.Server, log *zap.Logger) (*echo.Echo, error) {
	tw, err := signature.NewTwilioVerifier(cfg.TwilioAuthToken)
	if err != nil {
		return nil, err
	}
	var tx *signature.TelnyxVerifier
	if cfg.VoiceCarrier == config.CarrierTelnyx {
		tx, err = signature.NewTelnyxVerifier(cfg.TelnyxPublicKey)
		if err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	// Handlers
	webhookHandler := webhooks.NewHandler(svc, cfg.PublicBaseURL, tw, tx, log)
	controlHandler := v1.NewHandler(svc, cfg.ControlAPIToken, log)

	// Register Routes
	webhookHandler.RegisterRoutes(e)
	controlHandler.RegisterRoutes(e)
	e.GET("/stream/twilio", media.HandleTwilio)
	e.GET("/stream/telnyx", media.HandleTelnyx)

	return e, nil
}
