package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/bazarhub/bazarhub/internal/apperror"
	"github.com/bazarhub/bazarhub/internal/plugins/otp"
)

// mysqlDuplicateEntry is the MariaDB error number for a UNIQUE violation.
const mysqlDuplicateEntry = 1062

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByPhone(ctx context.Context, countryCode, phone string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// SetChannelVerified flips email_verified or phone_verified after the
	// matching OTP sub-flow completes.
	SetChannelVerified(ctx context.Context, userID string, ch otp.Channel) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// userColumns is the scan list shared by the Find queries.
const userColumns = `id, email, country_code, phone, password_hash,
	first_name, last_name, role, role_status,
	email_verified, phone_verified, created_at, last_login_at`

// Create inserts a new user row. Duplicate email or phone surfaces as a
// conflict error: uniqueness is enforced by the table's UNIQUE keys, which
// is the only race-safe place to enforce it.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, email, country_code, phone, password_hash,
	              first_name, last_name, role, role_status,
	              email_verified, phone_verified, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		nullIfEmpty(user.CountryCode),
		nullIfEmpty(user.Phone),
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role.String(),
		user.RoleStatus.String(),
		user.EmailVerified,
		user.PhoneVerified,
		user.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return apperror.NewConflict("an account with this email or phone already exists")
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), "id")
}

// FindByEmail retrieves a user by their email address.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email), "email")
}

// FindByPhone retrieves a user by their country code and phone number.
// Returns apperror.NotFound if no user exists with this phone.
func (r *userRepository) FindByPhone(ctx context.Context, countryCode, phone string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE country_code = ? AND phone = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, countryCode, phone), "phone")
}

// UpdateLastLogin sets the last_login_at timestamp to now for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = NOW() WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}

	return nil
}

// UpdatePassword sets a new password hash for a user.
func (r *userRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// SetChannelVerified flips the verified flag for the channel.
func (r *userRepository) SetChannelVerified(ctx context.Context, userID string, ch otp.Channel) error {
	column := "email_verified"
	if ch == otp.ChannelPhone {
		column = "phone_verified"
	}

	query := `UPDATE users SET ` + column + ` = TRUE WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// scanOne scans a single user row, mapping sql.ErrNoRows to a NotFound.
func (r *userRepository) scanOne(row *sql.Row, by string) (*User, error) {
	user := &User{}
	var countryCode, phone sql.NullString
	var lastLogin sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.Email,
		&countryCode,
		&phone,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.RoleStatus,
		&user.EmailVerified,
		&user.PhoneVerified,
		&user.CreatedAt,
		&lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by %s: %w", by, err)
	}

	user.CountryCode = countryCode.String
	user.Phone = phone.String
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}

	return user, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
