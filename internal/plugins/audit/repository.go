package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository defines the data access contract for the audit log. All SQL
// lives in the concrete implementation -- no SQL leaks out.
type Repository interface {
	// Log inserts a new audit entry into the database.
	Log(ctx context.Context, entry *Entry) error

	// List returns paginated audit entries matching the filter, most recent
	// first. Joins the users table to include the account email. Returns the
	// entries, total count (for pagination), and any error.
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]Entry, int, error)
}

// repository implements Repository with MariaDB queries.
type repository struct {
	db *sql.DB
}

// NewRepository creates a new repository backed by the given DB pool.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Log inserts a new audit entry. The details map is serialized to JSON
// before storage. Nil details are stored as SQL NULL.
func (r *repository) Log(ctx context.Context, entry *Entry) error {
	query := `INSERT INTO audit_log (user_id, identifier, action, ip, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		nullIfEmpty(entry.UserID), entry.Identifier, entry.Action,
		entry.IP, detailsJSON, entry.CreatedAt,
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

// List returns audit entries ordered by most recent first. Joins the users
// table to include the account email for the admin listing.
func (r *repository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Entry, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	if filter.Action != "" {
		where += " AND a.action = ?"
		args = append(args, filter.Action)
	}
	if filter.UserID != "" {
		where += " AND a.user_id = ?"
		args = append(args, filter.UserID)
	}

	countQuery := `SELECT COUNT(*) FROM audit_log a ` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT a.id, a.user_id, a.identifier, a.action, a.ip,
	                 a.details, a.created_at,
	                 COALESCE(u.email, '') AS user_email
	          FROM audit_log a
	          LEFT JOIN users u ON u.id = a.user_id
	          ` + where + `
	          ORDER BY a.created_at DESC, a.id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
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

// scanEntries scans rows from an audit_log query into Entry slices.
// Expects columns: id, user_id, identifier, action, ip, details,
// created_at, user_email.
func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var userID sql.NullString
		var detailsJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &userID, &e.Identifier, &e.Action, &e.IP,
			&detailsJSON, &e.CreatedAt, &e.UserEmail,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.UserID = userID.String

		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				// Non-fatal: surface the problem without breaking the feed.
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

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
