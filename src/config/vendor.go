package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VendorProfile describes the transport contract of one webhook vendor:
// which headers carry the signature, timestamp and tenant token, and which
// origins are allowed to call the endpoint.
type VendorProfile struct {
	Name            string   `yaml:"name"`
	SignatureHeader string   `yaml:"signature_header"`
	TimestampHeader string   `yaml:"timestamp_header"`
	TokenHeader     string   `yaml:"token_header"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// VendorProfiles maps the vendor path segment to its profile.
type VendorProfiles map[string]VendorProfile

// defaultProfiles covers the messaging platform this service was built for.
// A YAML file can replace or extend the set without a rebuild.
func defaultProfiles() VendorProfiles {
	return VendorProfiles{
		"zapi": {
			Name:            "zapi",
			SignatureHeader: "X-Zapi-Signature",
			TimestampHeader: "X-Timestamp",
			TokenHeader:     "Client-Token",
			AllowedOrigins:  []string{"https://api.z-api.io"},
		},
	}
}

// LoadVendorProfiles reads vendor profiles from path, falling back to the
// built-in defaults when path is empty.
func LoadVendorProfiles(path string) (VendorProfiles, error) {
	profiles := defaultProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vendor config: %w", err)
	}

	var file struct {
		Vendors []VendorProfile `yaml:"vendors"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vendor config: %w", err)
	}

	for _, p := range file.Vendors {
		if p.Name == "" {
			return nil, fmt.Errorf("vendor config entry missing name")
		}
		if p.SignatureHeader == "" {
			p.SignatureHeader = "X-Webhook-Signature"
		}
		if p.TimestampHeader == "" {
			p.TimestampHeader = "X-Timestamp"
		}
		profiles[p.Name] = p
	}

	return profiles, nil
}

// Get returns the profile for a vendor path segment.
func (vp VendorProfiles) Get(vendor string) (VendorProfile, bool) {
	p, ok := vp[vendor]
	return p, ok
}
