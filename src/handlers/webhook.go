package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/middleware"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/normalizer"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/queue"
)

// Enqueuer accepts normalized events into the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, event *models.CanonicalEvent) error
}

// WebhookHandler handles webhook POST requests. By the time it runs, the
// request passed rate limiting, the origin allow-list, the signature/replay
// guard and credential validation.
type WebhookHandler struct {
	normalizer *normalizer.Normalizer
	enqueuer   Enqueuer
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(n *normalizer.Normalizer, enqueuer Enqueuer) *WebhookHandler {
	return &WebhookHandler{
		normalizer: n,
		enqueuer:   enqueuer,
	}
}

// HandleWebhook normalizes the vendor payload and enqueues the resulting
// event. The request thread returns as soon as the event is persisted;
// dispatch happens on the worker loop.
//
// Vendors treat any non-2xx as an invitation to retry harder, so duplicates
// and structurally unrecognized payloads still answer 200.
func (wh *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	event, err := wh.normalizer.Normalize("", body)
	if err != nil {
		wh.handleNormalizeError(c, err)
		return
	}

	if err := wh.enqueuer.Enqueue(c.Request.Context(), event); err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			log.Debug().
				Str("event_id", event.ID).
				Str("request_id", middleware.GetRequestID(c)).
				Msg("duplicate event ignored")
			c.JSON(http.StatusOK, gin.H{"status": "ok", "duplicate": true})
			return
		}
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to enqueue event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"event_id": event.ID,
	})
}

// handleNormalizeError resolves the soft-reject taxonomy: payloads that are
// not JSON at all are a client error, while valid JSON the mapping does not
// recognize is accepted and dropped, since a vendor retry cannot fix it.
func (wh *WebhookHandler) handleNormalizeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, normalizer.ErrUnparsable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable payload"})
	case errors.Is(err, normalizer.ErrUnknownEventType), errors.Is(err, normalizer.ErrMissingFields):
		log.Warn().
			Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Msg("payload dropped by normalizer")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ignored": true})
	default:
		log.Error().Err(err).Msg("normalizer failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process payload"})
	}
}
