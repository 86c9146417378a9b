package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a customer account owning one set of vendor credentials.
// The token is the inbound webhook credential and is never serialized.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
