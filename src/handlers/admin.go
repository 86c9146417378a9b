package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/middleware"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/normalizer"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/services"
)

// Requeuer re-admits a previously dead-lettered event into the queue.
type Requeuer interface {
	Requeue(ctx context.Context, event *models.CanonicalEvent) error
}

// AdminHandler serves the operator API: login and dead-letter inspection.
type AdminHandler struct {
	adminService      *services.AdminService
	deadLetterService *services.DeadLetterService
	auth              *middleware.AdminAuth
	normalizer        *normalizer.Normalizer
	requeuer          Requeuer
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(adminService *services.AdminService, deadLetterService *services.DeadLetterService, auth *middleware.AdminAuth, n *normalizer.Normalizer, requeuer Requeuer) *AdminHandler {
	return &AdminHandler{
		adminService:      adminService,
		deadLetterService: deadLetterService,
		auth:              auth,
		normalizer:        n,
		requeuer:          requeuer,
	}
}

// HandleLogin authenticates an operator and sets the session cookie
func (ah *AdminHandler) HandleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	admin, err := ah.adminService.AuthenticateAdmin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		log.Warn().
			Str("username", req.Username).
			Str("client_ip", c.ClientIP()).
			Msg("failed admin login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := ah.auth.GenerateToken(admin.ID, admin.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.SetCookie("admin_token", token, 24*60*60, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "token": token})
}

// HandleLogout clears the session cookie
func (ah *AdminHandler) HandleLogout(c *gin.Context) {
	c.SetCookie("admin_token", "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleListDeadLetters returns recent dead letters, newest first
func (ah *AdminHandler) HandleListDeadLetters(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	dls, err := ah.deadLetterService.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dead_letters": dls,
		"count":        len(dls),
	})
}

// HandleRequeueDeadLetter sends a dead-lettered event back through the queue
// with a fresh attempt budget.
func (ah *AdminHandler) HandleRequeueDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dead letter id"})
		return
	}

	dl, err := ah.deadLetterService.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrDeadLetterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dead letter"})
		return
	}

	event, err := ah.normalizer.Normalize(dl.TenantID, dl.Payload)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "dead letter payload no longer normalizable"})
		return
	}

	if err := ah.requeuer.Requeue(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue event"})
		return
	}

	if err := ah.deadLetterService.MarkRequeued(c.Request.Context(), id); err != nil {
		log.Warn().Err(err).Str("dead_letter_id", id.String()).Msg("failed to stamp requeued dead letter")
	}

	log.Info().
		Str("dead_letter_id", id.String()).
		Str("event_id", dl.EventID).
		Str("admin_id", c.GetString("admin_id")).
		Msg("dead letter requeued")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "event_id": dl.EventID})
}
