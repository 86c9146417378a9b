package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/repositories"
)

// DeadLetterService persists and serves dead-lettered events. It is the
// queue's terminal sink and the admin API's data source.
type DeadLetterService struct {
	pool *pgxpool.Pool
	repo repositories.DeadLetterRepository
}

// NewDeadLetterService creates a new dead-letter service
func NewDeadLetterService(pool *pgxpool.Pool) *DeadLetterService {
	return &DeadLetterService{pool: pool}
}

// NewDeadLetterServiceWithRepo creates a new dead-letter service with a
// repository (for testing)
func NewDeadLetterServiceWithRepo(repo repositories.DeadLetterRepository) *DeadLetterService {
	return &DeadLetterService{repo: repo}
}

// Record stores a dead letter.
func (ds *DeadLetterService) Record(ctx context.Context, dl *models.DeadLetter) error {
	// Use repository if available (for testing)
	if ds.repo != nil {
		return ds.repo.Create(ctx, dl)
	}

	_, err := ds.pool.Exec(ctx,
		`INSERT INTO dead_letters (id, event_id, kind, tenant_id, payload, attempts, last_error, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dl.ID, dl.EventID, dl.Kind, dl.TenantID, dl.Payload, dl.Attempts, dl.LastError, dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}
	return nil
}

// List returns the most recent dead letters, newest first.
func (ds *DeadLetterService) List(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	// Use repository if available (for testing)
	if ds.repo != nil {
		return ds.repo.List(ctx, limit)
	}

	rows, err := ds.pool.Query(ctx,
		`SELECT id, event_id, kind, tenant_id, payload, attempts, last_error, failed_at, requeued_at
		 FROM dead_letters ORDER BY failed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var dls []models.DeadLetter
	for rows.Next() {
		var dl models.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.EventID, &dl.Kind, &dl.TenantID, &dl.Payload,
			&dl.Attempts, &dl.LastError, &dl.FailedAt, &dl.RequeuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dls = append(dls, dl)
	}

	return dls, rows.Err()
}

// GetByID retrieves one dead letter.
func (ds *DeadLetterService) GetByID(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error) {
	// Use repository if available (for testing)
	if ds.repo != nil {
		dl, err := ds.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if dl == nil {
			return nil, ErrDeadLetterNotFound
		}
		return dl, nil
	}

	var dl models.DeadLetter
	err := ds.pool.QueryRow(ctx,
		`SELECT id, event_id, kind, tenant_id, payload, attempts, last_error, failed_at, requeued_at
		 FROM dead_letters WHERE id = $1`,
		id,
	).Scan(&dl.ID, &dl.EventID, &dl.Kind, &dl.TenantID, &dl.Payload,
		&dl.Attempts, &dl.LastError, &dl.FailedAt, &dl.RequeuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letter: %w", err)
	}

	return &dl, nil
}

// MarkRequeued stamps a dead letter after an operator sent it back to the
// queue.
func (ds *DeadLetterService) MarkRequeued(ctx context.Context, id uuid.UUID) error {
	// Use repository if available (for testing)
	if ds.repo != nil {
		return ds.repo.MarkRequeued(ctx, id)
	}

	result, err := ds.pool.Exec(ctx,
		`UPDATE dead_letters SET requeued_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark dead letter requeued: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}
