// Package v1 is the authenticated control surface. The conversation
// controller drives live sessions through it: opening them, continuing them
// turn by turn in whichever mode they are in, and ending them.
package v1

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/service"
)

// Handler handles control API requests.
type Handler struct {
	svc   *service.Service
	token string
	log   *zap.Logger
}

// NewHandler creates a new control handler guarding its routes with token.
func NewHandler(svc *service.Service, token string, log *zap.Logger) *Handler {
	return &Handler{svc: svc, token: token, log: log}
}

// RegisterRoutes registers the control routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1", h.auth)

	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:session_id", h.GetSession)
	g.POST("/sessions/:session_id/continue", h.Continue)
	g.POST("/sessions/:session_id/speak", h.Speak)
	g.POST("/sessions/:session_id/end", h.EndSession)
	g.DELETE("/sessions/:session_id", h.EndSession)
	g.GET("/records/:session_id", h.GetRecord)

	e.GET("/health", h.Health)
}

// auth admits only requests bearing the control token. Failures answer 401
// with an empty body.
func (h *Handler) auth(next echo.HandlerFunc) echo.HandlerFunc {
	const prefix = "Bearer "
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
			return c.NoContent(http.StatusUnauthorized)
		}
		if subtle.ConstantTimeCompare([]byte(header[len(prefix):]), []byte(h.token)) != 1 {
			return c.NoContent(http.StatusUnauthorized)
		}
		return next(c)
	}
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
