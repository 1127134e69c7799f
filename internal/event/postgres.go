package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresSink persists security events for audit export and dashboards.
// Implements Sink; also supports reading back by org.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink returns a sink writing to the security_events table.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write inserts one event. Details are stored as JSONB.
func (s *PostgresSink) Write(ctx context.Context, e *SecurityEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}
	const q = `INSERT INTO security_events (id, org_id, user_id, action, severity, details, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.db.ExecContext(ctx, q,
		e.ID,
		nullStr(e.OrgID),
		nullStr(e.UserID),
		e.Action,
		string(e.Severity),
		details,
		e.Timestamp,
	)
	return err
}

// ListByOrg returns events for the org, newest first, paginated by limit and
// offset. Used by the audit export surface.
func (s *PostgresSink) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*SecurityEvent, error) {
	const q = `SELECT id, COALESCE(org_id, ''), COALESCE(user_id, ''), action, severity, details, created_at
	           FROM security_events WHERE org_id = $1
	           ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		var severity string
		var details []byte
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.Action, &severity, &details, &ts); err != nil {
			return nil, err
		}
		e.Severity = Severity(severity)
		e.Timestamp = ts
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
