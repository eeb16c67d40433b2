package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

type queries struct{ db DBTX }

const insertOverrideAudit = `
INSERT INTO override_audits (
    id, session_id, gate_id, site_id, passed_checks, total_checks, reason, operator, approved_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`

type insertOverrideAuditParams struct {
	ID           pgtype.UUID
	SessionID    pgtype.UUID
	GateID       string
	SiteID       string
	PassedChecks int32
	TotalChecks  int32
	Reason       string
	Operator     string
	ApprovedAt   pgtype.Timestamptz
}

func (q *queries) insertOverrideAudit(ctx context.Context, arg insertOverrideAuditParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertOverrideAudit,
		arg.ID,
		arg.SessionID,
		arg.GateID,
		arg.SiteID,
		arg.PassedChecks,
		arg.TotalChecks,
		arg.Reason,
		arg.Operator,
		arg.ApprovedAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listOverrideAudits = `
SELECT id, session_id, gate_id, site_id, passed_checks, total_checks, reason, operator, approved_at
FROM override_audits
WHERE ($1::text = '' OR gate_id = $1)
ORDER BY approved_at DESC, id
LIMIT $2`

type overrideAuditRow struct {
	ID           pgtype.UUID
	SessionID    pgtype.UUID
	GateID       string
	SiteID       string
	PassedChecks int32
	TotalChecks  int32
	Reason       string
	Operator     string
	ApprovedAt   pgtype.Timestamptz
}

func (q *queries) listOverrideAudits(ctx context.Context, gateID string, limit int32) ([]overrideAuditRow, error) {
	rows, err := q.db.Query(ctx, listOverrideAudits, gateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []overrideAuditRow
	for rows.Next() {
		var i overrideAuditRow
		if err := rows.Scan(
			&i.ID,
			&i.SessionID,
			&i.GateID,
			&i.SiteID,
			&i.PassedChecks,
			&i.TotalChecks,
			&i.Reason,
			&i.Operator,
			&i.ApprovedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
