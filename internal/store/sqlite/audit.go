package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuditEntry records which user fields were written and by whom.
type AuditEntry struct {
	ID         int64
	UserID     string
	Fields     []string
	Source     string
	OccurredAt time.Time
}

// AppendAudit stores one entry and returns its id.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) (int64, error) {
	if e.UserID == "" {
		return 0, errors.New("audit entry without user id")
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return 0, fmt.Errorf("marshal audit fields: %w", err)
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (user_id, fields, source, occurred_at) VALUES (?, ?, ?, ?)`,
		e.UserID, string(fields), e.Source, occurred.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	return res.LastInsertId()
}

// ListAudit returns the newest entries first. An empty userID lists all users.
func (s *Store) ListAudit(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, fields, source, occurred_at FROM audit_log`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e        AuditEntry
			fields   string
			occurred int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &fields, &e.Source, &occurred); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return nil, fmt.Errorf("decode audit fields: %w", err)
		}
		e.OccurredAt = time.UnixMilli(occurred)
		out = append(out, e)
	}
	return out, rows.Err()
}
