package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/database"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error {
	return f.err
}

func TestHandleWebhookHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHealthHandler(nil, &fakePinger{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/webhook/zapi/health", nil)
	handler.HandleWebhookHealth(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", response["status"])
	}
	if response["timestamp"] == nil {
		t.Error("expected timestamp in response")
	}
}

func TestHandleHealth_Unhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	// Nil pool: database check fails without a live connection.
	handler := NewHealthHandler(database.NewFromPool(nil), &fakePinger{err: errors.New("connection refused")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.HandleHealth(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestHandleReady_NotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHealthHandler(database.NewFromPool(nil), &fakePinger{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	handler.HandleReady(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}
