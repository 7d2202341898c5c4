package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/peerwave/signalrelay/internal/turn"
)

// TurnHandlers serves relay credentials.
type TurnHandlers struct {
	issuer  *turn.Issuer
	limiter *rateLimiter
	log     *zerolog.Logger
}

// NewTurnHandlers creates the credential endpoint handlers with a
// per-caller rate limit.
func NewTurnHandlers(issuer *turn.Issuer, rateLimit int, logger *zerolog.Logger) *TurnHandlers {
	return &TurnHandlers{
		issuer:  issuer,
		limiter: newRateLimiter(rateLimit),
		log:     logger,
	}
}

func (h *TurnHandlers) limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.limiter.allow(c.ClientIP()) {
			h.log.Debug().Str("ip", c.ClientIP()).Msg("turn credential rate limit hit")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "Too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

// Credentials returns fresh time-limited relay credentials.
// GET /api/turn-credentials
func (h *TurnHandlers) Credentials(c *gin.Context) {
	c.JSON(http.StatusOK, h.issuer.Issue())
}
