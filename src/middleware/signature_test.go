package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/config"
)

const testSecret = "test-webhook-secret"

// fakeReplayCache remembers every key it was asked to claim.
type fakeReplayCache struct {
	seen map[string]bool
	err  error
}

func newFakeReplayCache() *fakeReplayCache {
	return &fakeReplayCache{seen: make(map[string]bool)}
}

func (f *fakeReplayCache) SetNX(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func testVendors() config.VendorProfiles {
	return config.VendorProfiles{
		"zapi": {
			Name:            "zapi",
			SignatureHeader: "X-Zapi-Signature",
			TimestampHeader: "X-Timestamp",
			TokenHeader:     "Client-Token",
		},
	}
}

func signBody(body []byte) string {
	h := hmac.New(sha256.New, []byte(testSecret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func signatureTestContext(t *testing.T, body []byte, headers map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook/zapi", bytes.NewReader(body))
	c.Params = gin.Params{{Key: "vendor", Value: "zapi"}}
	for k, v := range headers {
		c.Request.Header.Set(k, v)
	}
	return c, w
}

func TestSignatureMiddleware_ValidSignature(t *testing.T) {
	body := []byte(`{"type": "ReceivedCallback"}`)
	c, w := signatureTestContext(t, body, map[string]string{
		"X-Zapi-Signature": signBody(body),
	})

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{Secret: testSecret})
	handler(c)

	if c.IsAborted() {
		t.Fatalf("expected request to pass, got %d: %s", w.Code, w.Body.String())
	}

	// Body must be readable again downstream.
	restored, err := io.ReadAll(c.Request.Body)
	if err != nil {
		t.Fatalf("failed to re-read body: %v", err)
	}
	if !bytes.Equal(restored, body) {
		t.Errorf("body not restored: got %q", restored)
	}
}

func TestSignatureMiddleware_InvalidSignature(t *testing.T) {
	body := []byte(`{"type": "ReceivedCallback"}`)
	c, w := signatureTestContext(t, body, map[string]string{
		"X-Zapi-Signature": "sha256=deadbeef",
	})

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{Secret: testSecret})
	handler(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestSignatureMiddleware_MissingSignature(t *testing.T) {
	c, w := signatureTestContext(t, []byte(`{}`), nil)

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{Secret: testSecret})
	handler(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestSignatureMiddleware_TamperedBody(t *testing.T) {
	signed := []byte(`{"amount": 10}`)
	tampered := []byte(`{"amount": 99}`)
	c, w := signatureTestContext(t, tampered, map[string]string{
		"X-Zapi-Signature": signBody(signed),
	})

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{Secret: testSecret})
	handler(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestSignatureMiddleware_ReplayRejected(t *testing.T) {
	body := []byte(`{"type": "ReceivedCallback"}`)
	replay := newFakeReplayCache()
	handler := SignatureMiddleware(replay, testVendors(), SignatureConfig{Secret: testSecret})

	first, _ := signatureTestContext(t, body, map[string]string{
		"X-Zapi-Signature": signBody(body),
	})
	handler(first)
	if first.IsAborted() {
		t.Fatal("first delivery should pass")
	}

	second, w := signatureTestContext(t, body, map[string]string{
		"X-Zapi-Signature": signBody(body),
	})
	handler(second)

	if !second.IsAborted() {
		t.Fatal("replay must not reach downstream handlers")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 for replay, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["duplicate"] != true {
		t.Errorf("expected duplicate flag, got %v", response)
	}
}

func TestSignatureMiddleware_StaleTimestamp(t *testing.T) {
	body := []byte(`{"type": "ReceivedCallback"}`)
	stale := time.Now().Add(-10 * time.Minute).Unix()
	c, w := signatureTestContext(t, body, map[string]string{
		"X-Zapi-Signature": signBody(body),
		"X-Timestamp":      strconv.FormatInt(stale, 10),
	})

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{
		Secret:       testSecret,
		ReplayWindow: 5 * time.Minute,
	})
	handler(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for stale timestamp, got %d", w.Code)
	}
}

func TestSignatureMiddleware_FreshTimestamp(t *testing.T) {
	body := []byte(`{"type": "ReceivedCallback"}`)
	c, w := signatureTestContext(t, body, map[string]string{
		"X-Zapi-Signature": signBody(body),
		"X-Timestamp":      strconv.FormatInt(time.Now().Unix(), 10),
	})

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{
		Secret:       testSecret,
		ReplayWindow: 5 * time.Minute,
	})
	handler(c)

	if c.IsAborted() {
		t.Errorf("expected request to pass, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSignatureMiddleware_UnknownVendor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook/nobody", nil)
	c.Params = gin.Params{{Key: "vendor", Value: "nobody"}}

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{Secret: testSecret})
	handler(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestSignatureMiddleware_BodyTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 2048)
	c, w := signatureTestContext(t, body, map[string]string{
		"X-Zapi-Signature": signBody(body),
	})

	handler := SignatureMiddleware(newFakeReplayCache(), testVendors(), SignatureConfig{
		Secret:      testSecret,
		MaxBodySize: 1024,
	})
	handler(c)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", w.Code)
	}
}

func TestVerifySignature_PrefixOptional(t *testing.T) {
	body := []byte(`payload`)
	h := hmac.New(sha256.New, []byte(testSecret))
	h.Write(body)
	bare := hex.EncodeToString(h.Sum(nil))

	if !verifySignature(body, bare, testSecret) {
		t.Error("bare hex signature should verify")
	}
	if !verifySignature(body, "sha256="+bare, testSecret) {
		t.Error("prefixed signature should verify")
	}
	if verifySignature(body, bare, "wrong-secret") {
		t.Error("signature must not verify under a different secret")
	}
}
