package devserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/internal/auth"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewServer builds the HTTP server. With a nil signer the websocket endpoint
// accepts anonymous connections.
func NewServer(hub *Hub, signer *auth.Signer, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("Request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	InitRoutes(e, hub, signer, logger)
	return e
}

// InitRoutes initializes all routes
func InitRoutes(e *echo.Echo, hub *Hub, signer *auth.Signer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "interpreter-devserver",
			"clients": hub.ClientCount(),
		})
	})

	e.GET("/ws", func(c echo.Context) error {
		if signer == nil {
			return HandleWebSocket(hub, c, c.QueryParam("client_id"), logger)
		}
		return websocketWithAuth(hub, signer, c, logger)
	})
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *Hub, signer *auth.Signer, c echo.Context, logger *zap.Logger) error {
	// Extract JWT token from Authorization header only
	token, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		})
	}

	claims, err := signer.Validate(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	logger.Info("WebSocket connection authenticated", zap.String("clientID", claims.ClientID))
	return HandleWebSocket(hub, c, claims.ClientID, logger)
}
