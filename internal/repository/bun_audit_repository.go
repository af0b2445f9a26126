package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/clinigate/authgw/internal/db/models"
)

// BunAuditRepository implements AuditSink using Bun ORM
type BunAuditRepository struct {
	db *bun.DB
}

// NewBunAuditRepository creates a new Bun-based audit sink
func NewBunAuditRepository(db *bun.DB) *BunAuditRepository {
	return &BunAuditRepository{db: db}
}

// Record inserts an audit event
func (r *BunAuditRepository) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	_, err := r.db.NewInsert().
		Model(event).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// ListByTenant returns the most recent events for a tenant, newest first.
func (r *BunAuditRepository) ListByTenant(ctx context.Context, tenant string, limit int) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := r.db.NewSelect().
		Model(&events).
		Where("tenant_id = ?", tenant).
		Order("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
