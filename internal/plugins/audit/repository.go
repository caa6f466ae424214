package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/keyxmakerx/pipeline/internal/plugins/auth"
)

// AuditRepository defines the data access contract for the security log.
type AuditRepository interface {
	// Log inserts an entry and sets its ID.
	Log(ctx context.Context, entry *Entry) error

	// List returns entries matching the filter, newest first, plus the
	// total match count for pagination.
	List(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error)

	// ListByUser returns the newest entries for one account.
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)

	// Stats aggregates activity since the given time.
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Log inserts an entry. Nil details are stored as SQL NULL and an empty
// user ID as NULL so the row is not tied to an account.
func (r *auditRepository) Log(ctx context.Context, entry *Entry) error {
	var detailsJSON []byte
	if len(entry.Details) > 0 {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (user_id, email, action, ip_address, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sql.NullString{String: entry.UserID, Valid: entry.UserID != ""},
		entry.Email, entry.Action, entry.IP, detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting audit entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// whereClause builds the WHERE fragment and args for a filter.
func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Action != "" {
		conds = append(conds, "a.action = ?")
		args = append(args, f.Action)
	}
	if f.Email != "" {
		conds = append(conds, "a.email = ?")
		args = append(args, f.Email)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const selectEntries = `SELECT a.id, a.user_id, a.email, a.action, a.ip_address,
                              a.details, a.created_at,
                              COALESCE(u.display_name, '') AS user_name
                       FROM audit_log a
                       LEFT JOIN users u ON u.id = a.user_id`

// List returns a page of entries, newest first.
func (r *auditRepository) List(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error) {
	where, args := whereClause(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log a`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectEntries+where+` ORDER BY a.created_at DESC, a.id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListByUser returns the newest entries for an account.
func (r *auditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		selectEntries+` WHERE a.user_id = ? ORDER BY a.created_at DESC, a.id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing user audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Stats counts logins, failures and throttled attempts since the given time.
func (r *auditRepository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(action = ?), 0),
		        COALESCE(SUM(action IN (?, ?)), 0),
		        COALESCE(SUM(action = ?), 0)
		 FROM audit_log WHERE created_at >= ?`,
		auth.ActionLoginSucceeded, auth.ActionLoginFailed, auth.ActionCodeFailed, auth.ActionLoginThrottled, since,
	).Scan(&stats.Logins, &stats.FailedLogins, &stats.Throttled)
	if err != nil {
		return nil, fmt.Errorf("querying audit stats: %w", err)
	}

	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM audit_log`).Scan(&last); err != nil {
		return nil, fmt.Errorf("querying last audit event: %w", err)
	}
	if last.Valid {
		stats.LastEventAt = &last.Time
	}
	return stats, nil
}

// scanEntries scans rows produced by selectEntries.
func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var userID, detailsJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &userID, &e.Email, &e.Action, &e.IP,
			&detailsJSON, &e.CreatedAt, &e.UserName,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.UserID = userID.String

		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				// Keep the feed readable when a row holds bad JSON.
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}
