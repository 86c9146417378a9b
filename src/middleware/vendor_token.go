package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/config"
)

// VendorTokenKey is the context key for the validated vendor token
const VendorTokenKey = "vendor_token"

// CredentialValidator answers whether a vendor-supplied token belongs to any
// currently active tenant.
type CredentialValidator interface {
	IsValid(ctx context.Context, token string) (bool, error)
}

// VendorTokenMiddleware validates the vendor token header against the active
// tenant credentials. Runs after the signature guard so invalid tokens on
// forged requests never trigger a credential lookup.
func VendorTokenMiddleware(credentials CredentialValidator, vendors config.VendorProfiles) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := vendors.Get(c.Param("vendor"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown vendor"})
			c.Abort()
			return
		}

		token := c.GetHeader(profile.TokenHeader)
		if token == "" {
			rejectToken(c, "missing vendor token")
			return
		}

		valid, err := credentials.IsValid(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate token"})
			c.Abort()
			return
		}
		if !valid {
			rejectToken(c, "invalid vendor token")
			return
		}

		c.Set(VendorTokenKey, token)
		c.Next()
	}
}

func rejectToken(c *gin.Context, reason string) {
	log.Warn().
		Str("request_id", GetRequestID(c)).
		Str("client_ip", c.ClientIP()).
		Str("reason", reason).
		Msg("webhook request rejected")
	c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
	c.Abort()
}
