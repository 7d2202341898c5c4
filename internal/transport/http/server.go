package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/peerwave/signalrelay/internal/config"
	"github.com/peerwave/signalrelay/internal/gateway"
	"github.com/peerwave/signalrelay/internal/store"
	"github.com/peerwave/signalrelay/internal/turn"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server: health check, REST API, and the
// signaling WebSocket endpoint.
func NewServer(gw *gateway.Gateway, issuer *turn.Issuer, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger), CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"})
	})

	turnHandlers := NewTurnHandlers(issuer, cfg.Turn.RateLimit, logger)
	roomHandlers := NewRoomHandlers(st, logger)

	api := router.Group("/api")
	{
		api.GET("/turn-credentials", turnHandlers.limit(), turnHandlers.Credentials)

		api.POST("/rooms", roomHandlers.CreateRoom)
		api.GET("/rooms", roomHandlers.ListRooms)
		api.GET("/rooms/:roomId", roomHandlers.GetRoom)
		api.PATCH("/rooms/:roomId", roomHandlers.UpdateRoom)
		api.DELETE("/rooms/:roomId", roomHandlers.DeleteRoom)
	}

	router.GET("/signal/:roomId", func(c *gin.Context) {
		gw.HandleUpgrade(c.Writer, c.Request, c.Param("roomId"), c.Query("clientId"))
	})

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
