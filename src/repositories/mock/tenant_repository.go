package mock

import (
	"context"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/repositories"
)

// TenantRepository is a mock implementation of repositories.TenantRepository
type TenantRepository struct {
	GetByTokenFunc func(ctx context.Context, token string) (*models.Tenant, error)

	// Call tracking
	Calls map[string][]interface{}
}

// NewTenantRepository creates a new mock tenant repository
func NewTenantRepository() *TenantRepository {
	return &TenantRepository{
		Calls: make(map[string][]interface{}),
	}
}

func (m *TenantRepository) GetByToken(ctx context.Context, token string) (*models.Tenant, error) {
	m.Calls["GetByToken"] = append(m.Calls["GetByToken"], token)
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token)
	}
	return nil, nil
}

var _ repositories.TenantRepository = (*TenantRepository)(nil)
