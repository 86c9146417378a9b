package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const testJWTSecret = "test-jwt-secret-at-least-32-chars-long"

func TestNewAdminAuth_ShortSecret(t *testing.T) {
	if _, err := NewAdminAuth("too-short"); err == nil {
		t.Error("expected error for secret under 32 characters")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	auth, err := NewAdminAuth(testJWTSecret)
	if err != nil {
		t.Fatalf("NewAdminAuth failed: %v", err)
	}

	adminID := uuid.New()
	token, err := auth.GenerateToken(adminID, "operator")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.AdminID != adminID.String() {
		t.Errorf("expected admin id %s, got %s", adminID, claims.AdminID)
	}
	if claims.Username != "operator" {
		t.Errorf("expected username 'operator', got %s", claims.Username)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	auth, _ := NewAdminAuth(testJWTSecret)
	other, _ := NewAdminAuth("a-completely-different-32-char-secret")

	token, err := auth.GenerateToken(uuid.New(), "operator")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token signed with a different secret must not validate")
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth, _ := NewAdminAuth(testJWTSecret)
	handler := auth.Middleware()

	t.Run("Bearer token accepted", func(t *testing.T) {
		token, _ := auth.GenerateToken(uuid.New(), "operator")

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/admin/deadletters", nil)
		c.Request.Header.Set("Authorization", "Bearer "+token)
		handler(c)

		if c.IsAborted() {
			t.Errorf("expected request to pass, got %d", w.Code)
		}
		if c.GetString("username") != "operator" {
			t.Errorf("expected username in context, got %q", c.GetString("username"))
		}
	})

	t.Run("Cookie accepted", func(t *testing.T) {
		token, _ := auth.GenerateToken(uuid.New(), "operator")

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/admin/deadletters", nil)
		c.Request.AddCookie(&http.Cookie{Name: "admin_token", Value: token})
		handler(c)

		if c.IsAborted() {
			t.Errorf("expected request to pass, got %d", w.Code)
		}
	})

	t.Run("Missing token rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/admin/deadletters", nil)
		handler(c)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
	})

	t.Run("Garbage token rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/admin/deadletters", nil)
		c.Request.Header.Set("Authorization", "Bearer not.a.jwt")
		handler(c)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
	})
}
