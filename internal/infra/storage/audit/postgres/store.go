// Package postgres persists supervisor override audit records.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/storage"
)

var _ gate.AuditRepository = (*auditStore)(nil)

// DefaultListLimit caps ListOverrides when the caller passes no limit.
const DefaultListLimit = 50

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
	attribute.String("db.table", "override_audits"),
}

// auditStore implements gate.AuditRepository using PostgreSQL.
type auditStore struct {
	q      *queries
	tracer trace.Tracer
}

// NewAuditStore creates a PostgreSQL-backed audit repository with tracing.
func NewAuditStore(db DBTX, tracer trace.Tracer) *auditStore {
	return &auditStore{q: &queries{db: db}, tracer: tracer}
}

// SaveOverride persists rec. Saving the same record twice is a no-op.
func (s *auditStore) SaveOverride(ctx context.Context, rec gate.AuditRecord) error {
	dbAttrs := append(
		append([]attribute.KeyValue(nil), defaultDBAttributes...),
		attribute.String("audit_id", rec.ID.String()),
		attribute.String("session_id", rec.SessionID.String()),
		attribute.String("gate_id", rec.GateID),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_override", dbAttrs, func(ctx context.Context) error {
		_, err := s.q.insertOverrideAudit(ctx, insertOverrideAuditParams{
			ID:           pgtype.UUID{Bytes: rec.ID, Valid: true},
			SessionID:    pgtype.UUID{Bytes: rec.SessionID, Valid: true},
			GateID:       rec.GateID,
			SiteID:       rec.SiteID,
			PassedChecks: int32(rec.PassedChecks),
			TotalChecks:  int32(rec.TotalChecks),
			Reason:       rec.Reason,
			Operator:     rec.Operator,
			ApprovedAt:   pgtype.Timestamptz{Time: rec.Timestamp, Valid: true},
		})
		if err != nil {
			return fmt.Errorf("failed to save override audit: %w", err)
		}
		return nil
	})
}

// ListOverrides returns the newest records first. An empty gateID lists
// every gate.
func (s *auditStore) ListOverrides(ctx context.Context, gateID string, limit int) ([]gate.AuditRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	dbAttrs := append(
		append([]attribute.KeyValue(nil), defaultDBAttributes...),
		attribute.String("gate_id", gateID),
		attribute.Int("limit", limit),
	)

	var records []gate.AuditRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_overrides", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.listOverrideAudits(ctx, gateID, int32(limit))
		if err != nil {
			return fmt.Errorf("failed to list override audits: %w", err)
		}
		records = make([]gate.AuditRecord, 0, len(rows))
		for _, r := range rows {
			records = append(records, gate.AuditRecord{
				ID:           uuid.UUID(r.ID.Bytes),
				SessionID:    uuid.UUID(r.SessionID.Bytes),
				GateID:       r.GateID,
				SiteID:       r.SiteID,
				PassedChecks: int(r.PassedChecks),
				TotalChecks:  int(r.TotalChecks),
				Reason:       r.Reason,
				Operator:     r.Operator,
				Timestamp:    r.ApprovedAt.Time,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
