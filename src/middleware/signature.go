package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/config"
)

const signatureCachePrefix = "sigcache:"

// ReplayCache is the subset of shared-store operations used to reject
// signatures seen within the replay window.
type ReplayCache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// SignatureConfig configures the signature and replay guard.
type SignatureConfig struct {
	Secret       string
	ReplayWindow time.Duration
	MaxBodySize  int64
}

// SignatureMiddleware validates HMAC-SHA256 webhook signatures over the raw
// request body and rejects replays. The signature is computed over the exact
// bytes on the wire; the body is restored for downstream handlers.
//
// Three independent defenses run in order: constant-time signature
// comparison, timestamp freshness (when the vendor sends one), and the
// replay cache. Each failure short-circuits before the payload is parsed.
func SignatureMiddleware(replay ReplayCache, vendors config.VendorProfiles, cfg SignatureConfig) gin.HandlerFunc {
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = 5 * time.Minute
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 * 1024 * 1024
	}

	return func(c *gin.Context) {
		profile, ok := vendors.Get(c.Param("vendor"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown vendor"})
			c.Abort()
			return
		}

		signature := c.GetHeader(profile.SignatureHeader)
		if signature == "" {
			rejectSignature(c, http.StatusUnauthorized, "missing signature header")
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, cfg.MaxBodySize+1))
		if err != nil {
			rejectSignature(c, http.StatusBadRequest, "failed to read request body")
			return
		}
		if int64(len(body)) > cfg.MaxBodySize {
			rejectSignature(c, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}

		if !verifySignature(body, signature, cfg.Secret) {
			rejectSignature(c, http.StatusUnauthorized, "invalid signature")
			return
		}

		// Timestamp freshness bounds the replay surface even before the
		// cache is consulted.
		if ts := c.GetHeader(profile.TimestampHeader); ts != "" {
			if !timestampFresh(ts, cfg.ReplayWindow) {
				rejectSignature(c, http.StatusBadRequest, "stale or invalid timestamp")
				return
			}
		}

		// First use of a signature claims its cache slot; any further use
		// within the replay window is a replay.
		fresh, err := replay.SetNX(c.Request.Context(), signatureCachePrefix+signature, "1", cfg.ReplayWindow)
		if err != nil {
			log.Error().Err(err).Msg("signature cache unavailable")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			c.Abort()
			return
		}
		if !fresh {
			// Replayed delivery of an already accepted request. Answered with
			// 200 like dedup, so the vendor stops retrying; nothing reaches
			// the normalizer.
			log.Warn().
				Str("request_id", GetRequestID(c)).
				Str("client_ip", c.ClientIP()).
				Msg("signature replay detected")
			c.JSON(http.StatusOK, gin.H{"status": "ok", "duplicate": true})
			c.Abort()
			return
		}

		// Restore body for next handlers
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// verifySignature verifies HMAC-SHA256 over the raw body with a
// constant-time comparison.
func verifySignature(body []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// timestampFresh accepts unix seconds or milliseconds within the window.
func timestampFresh(value string, window time.Duration) bool {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}

	var ts time.Time
	if n >= 1_000_000_000_000 {
		ts = time.UnixMilli(n)
	} else {
		ts = time.Unix(n, 0)
	}

	age := time.Since(ts)
	if age < 0 {
		age = -age
	}
	return age <= window
}

func rejectSignature(c *gin.Context, status int, reason string) {
	// Security event: rejected before any parsing or side effects.
	log.Warn().
		Str("request_id", GetRequestID(c)).
		Str("client_ip", c.ClientIP()).
		Str("reason", reason).
		Msg("webhook request rejected")
	c.JSON(status, gin.H{"error": reason})
	c.Abort()
}
