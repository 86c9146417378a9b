package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadVendorProfiles_Defaults(t *testing.T) {
	profiles, err := LoadVendorProfiles("")
	if err != nil {
		t.Fatalf("LoadVendorProfiles failed: %v", err)
	}

	zapi, ok := profiles.Get("zapi")
	if !ok {
		t.Fatal("expected built-in zapi profile")
	}
	if zapi.SignatureHeader != "X-Zapi-Signature" {
		t.Errorf("unexpected signature header: %s", zapi.SignatureHeader)
	}
	if zapi.TokenHeader != "Client-Token" {
		t.Errorf("unexpected token header: %s", zapi.TokenHeader)
	}
}

func TestLoadVendorProfiles_YAMLExtendsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	content := []byte(`vendors:
  - name: othervendor
    signature_header: X-Other-Signature
    token_header: X-Other-Token
    allowed_origins:
      - https://hooks.othervendor.example
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write vendor config: %v", err)
	}

	profiles, err := LoadVendorProfiles(path)
	if err != nil {
		t.Fatalf("LoadVendorProfiles failed: %v", err)
	}

	if _, ok := profiles.Get("zapi"); !ok {
		t.Error("YAML overrides must not drop the defaults")
	}

	other, ok := profiles.Get("othervendor")
	if !ok {
		t.Fatal("expected othervendor profile from YAML")
	}
	if other.SignatureHeader != "X-Other-Signature" {
		t.Errorf("unexpected signature header: %s", other.SignatureHeader)
	}
	if len(other.AllowedOrigins) != 1 {
		t.Errorf("expected 1 allowed origin, got %d", len(other.AllowedOrigins))
	}
}

func TestLoadVendorProfiles_HeaderFallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	content := []byte(`vendors:
  - name: minimal
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write vendor config: %v", err)
	}

	profiles, err := LoadVendorProfiles(path)
	if err != nil {
		t.Fatalf("LoadVendorProfiles failed: %v", err)
	}

	minimal, _ := profiles.Get("minimal")
	if minimal.SignatureHeader != "X-Webhook-Signature" {
		t.Errorf("expected default signature header, got %s", minimal.SignatureHeader)
	}
	if minimal.TimestampHeader != "X-Timestamp" {
		t.Errorf("expected default timestamp header, got %s", minimal.TimestampHeader)
	}
}

func TestLoadVendorProfiles_MissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	content := []byte(`vendors:
  - signature_header: X-Sig
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write vendor config: %v", err)
	}

	if _, err := LoadVendorProfiles(path); err == nil {
		t.Error("expected error for vendor entry without a name")
	}
}

func TestLoadVendorProfiles_MissingFile(t *testing.T) {
	if _, err := LoadVendorProfiles("/nonexistent/vendors.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
