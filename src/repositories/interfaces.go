package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
)

// TenantRepository defines the interface for tenant credential lookup
type TenantRepository interface {
	GetByToken(ctx context.Context, token string) (*models.Tenant, error)
}

// DeadLetterRepository defines the interface for dead-letter data access
type DeadLetterRepository interface {
	Create(ctx context.Context, dl *models.DeadLetter) error
	List(ctx context.Context, limit int) ([]models.DeadLetter, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error)
	MarkRequeued(ctx context.Context, id uuid.UUID) error
}

// AdminRepository defines the interface for admin user data access
type AdminRepository interface {
	Create(ctx context.Context, admin *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	UpdateLastLogin(ctx context.Context, adminID uuid.UUID) error
}
