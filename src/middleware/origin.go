package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/config"
)

// OriginMiddleware validates the Origin header against the vendor's
// allow-list. Vendors that never send an Origin header pass through; a
// mismatched one is a forged request.
func OriginMiddleware(vendors config.VendorProfiles) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := vendors.Get(c.Param("vendor"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown vendor"})
			c.Abort()
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" || len(profile.AllowedOrigins) == 0 {
			c.Next()
			return
		}

		for _, allowed := range profile.AllowedOrigins {
			if origin == allowed {
				c.Next()
				return
			}
		}

		log.Warn().
			Str("request_id", GetRequestID(c)).
			Str("client_ip", c.ClientIP()).
			Str("origin", origin).
			Msg("webhook request from unknown origin")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "origin not allowed"})
		c.Abort()
	}
}
