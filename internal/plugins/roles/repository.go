package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bazarhub/bazarhub/internal/apperror"
	"github.com/bazarhub/bazarhub/internal/plugins/auth"
)

// Repository defines the data access contract for role applications.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type Repository interface {
	// Create appends a new application and stamps the user's role columns
	// to (role, pending) in the same transaction.
	Create(ctx context.Context, app *Application) error

	// FindByID returns one application.
	FindByID(ctx context.Context, id string) (*Application, error)

	// ListByUser returns a user's applications, newest first.
	ListByUser(ctx context.Context, userID string) ([]Application, error)

	// ListPending returns pending applications for the admin queue, oldest
	// first, with the total count for pagination.
	ListPending(ctx context.Context, limit, offset int) ([]Application, int, error)

	// Review stamps the decision on the application and mirrors it onto
	// the users table in one transaction. Only pending applications can be
	// reviewed.
	Review(ctx context.Context, appID, reviewerID string, approve bool) error
}

// repository implements Repository with hand-written MariaDB queries.
type repository struct {
	db *sql.DB
}

// NewRepository creates a new role application repository.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// appColumns is the scan list shared by the Find/List queries.
const appColumns = `r.id, r.user_id, r.role, r.status,
	r.department, r.employee_code, r.shop_name, r.shop_address,
	COALESCE(r.description, ''), COALESCE(r.reviewed_by, ''), r.reviewed_at,
	r.created_at`

// Create inserts the application and sets the user's role columns to the
// applied role with pending status. Both writes happen in one transaction
// so a crash cannot leave an application the users table knows nothing
// about.
func (r *repository) Create(ctx context.Context, app *Application) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO role_data (id, user_id, role, status, department,
		     employee_code, shop_name, shop_address, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID, app.UserID, app.Role.String(), app.Status.String(),
		app.Department, app.EmployeeCode, app.ShopName, app.ShopAddress,
		app.Description, app.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting role application: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET role = ?, role_status = ? WHERE id = ?`,
		app.Role.String(), auth.RoleStatusPending.String(), app.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NewNotFound("user not found")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing role application: %w", err)
	}
	return nil
}

// FindByID returns one application, or apperror.NotFound.
func (r *repository) FindByID(ctx context.Context, id string) (*Application, error) {
	query := `SELECT ` + appColumns + `, COALESCE(u.email, '')
	          FROM role_data r
	          LEFT JOIN users u ON u.id = r.user_id
	          WHERE r.id = ?`

	app, err := scanApplication(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("role application not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying role application: %w", err)
	}
	return app, nil
}

// ListByUser returns a user's applications, newest first.
func (r *repository) ListByUser(ctx context.Context, userID string) ([]Application, error) {
	query := `SELECT ` + appColumns + `, ''
	          FROM role_data r
	          WHERE r.user_id = ?
	          ORDER BY r.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing role applications: %w", err)
	}
	defer rows.Close()

	return scanApplications(rows)
}

// ListPending returns the admin review queue, oldest application first so
// nobody waits forever behind newer submissions.
func (r *repository) ListPending(ctx context.Context, limit, offset int) ([]Application, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_data WHERE status = 'pending'`,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting pending applications: %w", err)
	}

	query := `SELECT ` + appColumns + `, COALESCE(u.email, '')
	          FROM role_data r
	          LEFT JOIN users u ON u.id = r.user_id
	          WHERE r.status = 'pending'
	          ORDER BY r.created_at ASC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing pending applications: %w", err)
	}
	defer rows.Close()

	apps, err := scanApplications(rows)
	if err != nil {
		return nil, 0, err
	}
	return apps, total, nil
}

// Review stamps the decision and mirrors it to the users table. The
// UPDATE's status = 'pending' guard makes concurrent reviews of the same
// application settle to exactly one winner.
func (r *repository) Review(ctx context.Context, appID, reviewerID string, approve bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	status := auth.RoleStatusRejected
	if approve {
		status = auth.RoleStatusApproved
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE role_data
		 SET status = ?, reviewed_by = ?, reviewed_at = NOW()
		 WHERE id = ? AND status = 'pending'`,
		status.String(), reviewerID, appID,
	)
	if err != nil {
		return fmt.Errorf("updating role application: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NewConflict("application already reviewed or unknown")
	}

	// Mirror the decision. Approval also stamps the role itself, so the
	// user row reflects the latest decision even when a newer application
	// overwrote users.role in the meantime. A rejection only marks the
	// status; permission checks require an approved status, so a rejected
	// applicant holds no new powers.
	mirror := `UPDATE users u
	           JOIN role_data r ON r.user_id = u.id AND r.id = ?
	           SET u.role_status = ?`
	if approve {
		mirror = `UPDATE users u
		          JOIN role_data r ON r.user_id = u.id AND r.id = ?
		          SET u.role_status = ?, u.role = r.role`
	}
	if _, err = tx.ExecContext(ctx, mirror, appID, status.String()); err != nil {
		return fmt.Errorf("updating user role status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing review: %w", err)
	}
	return nil
}

// --- Scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*Application, error) {
	app := &Application{}
	var reviewedAt sql.NullTime

	err := row.Scan(
		&app.ID, &app.UserID, &app.Role, &app.Status,
		&app.Department, &app.EmployeeCode, &app.ShopName, &app.ShopAddress,
		&app.Description, &app.ReviewedBy, &reviewedAt,
		&app.CreatedAt, &app.ApplicantEmail,
	)
	if err != nil {
		return nil, err
	}

	if reviewedAt.Valid {
		app.ReviewedAt = &reviewedAt.Time
	}
	return app, nil
}

func scanApplications(rows *sql.Rows) ([]Application, error) {
	var apps []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role application: %w", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role applications: %w", err)
	}
	return apps, nil
}
