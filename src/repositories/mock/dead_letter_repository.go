package mock

import (
	"context"

	"github.com/google/uuid"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/repositories"
)

// DeadLetterRepository is a mock implementation of repositories.DeadLetterRepository
type DeadLetterRepository struct {
	CreateFunc       func(ctx context.Context, dl *models.DeadLetter) error
	ListFunc         func(ctx context.Context, limit int) ([]models.DeadLetter, error)
	GetByIDFunc      func(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error)
	MarkRequeuedFunc func(ctx context.Context, id uuid.UUID) error

	// Call tracking
	Calls map[string][]interface{}
}

// NewDeadLetterRepository creates a new mock dead-letter repository
func NewDeadLetterRepository() *DeadLetterRepository {
	return &DeadLetterRepository{
		Calls: make(map[string][]interface{}),
	}
}

func (m *DeadLetterRepository) Create(ctx context.Context, dl *models.DeadLetter) error {
	m.Calls["Create"] = append(m.Calls["Create"], dl)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, dl)
	}
	return nil
}

func (m *DeadLetterRepository) List(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	m.Calls["List"] = append(m.Calls["List"], limit)
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit)
	}
	return nil, nil
}

func (m *DeadLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error) {
	m.Calls["GetByID"] = append(m.Calls["GetByID"], id)
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *DeadLetterRepository) MarkRequeued(ctx context.Context, id uuid.UUID) error {
	m.Calls["MarkRequeued"] = append(m.Calls["MarkRequeued"], id)
	if m.MarkRequeuedFunc != nil {
		return m.MarkRequeuedFunc(ctx, id)
	}
	return nil
}

var _ repositories.DeadLetterRepository = (*DeadLetterRepository)(nil)
