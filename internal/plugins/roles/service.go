package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bazarhub/bazarhub/internal/apperror"
	"github.com/bazarhub/bazarhub/internal/plugins/audit"
	"github.com/bazarhub/bazarhub/internal/plugins/auth"
	"github.com/bazarhub/bazarhub/internal/sanitize"
)

// pendingPerPage is the admin queue page size.
const pendingPerPage = 25

// Free-text field length caps, matching the role_data columns.
const (
	maxDepartmentLen   = 100
	maxEmployeeCodeLen = 64
	maxShopNameLen     = 200
	maxShopAddressLen  = 500
	maxDescriptionLen  = 2000
)

// Service handles the role application workflow.
type Service interface {
	// Submit files an application for the role. Resubmission appends a new
	// application; it does not replace earlier ones.
	Submit(ctx context.Context, userID string, role auth.Role, req SubmitRequest, ip string) (*Application, error)

	// Mine returns the caller's application history, newest first.
	Mine(ctx context.Context, userID string) ([]Application, error)

	// Pending returns the admin review queue.
	Pending(ctx context.Context, page int) ([]Application, int, error)

	// Review records an admin's decision on a pending application.
	Review(ctx context.Context, reviewerID, appID string, approve bool, ip string) (*Application, error)
}

// service implements Service.
type service struct {
	repo  Repository
	audit audit.Service
}

// NewService creates the role application service.
func NewService(repo Repository, auditSvc audit.Service) Service {
	return &service{repo: repo, audit: auditSvc}
}

// Submit validates the role-specific fields, strips any HTML from free
// text, and files the application. The user's role columns flip to
// (role, pending) immediately.
func (s *service) Submit(ctx context.Context, userID string, role auth.Role, req SubmitRequest, ip string) (*Application, error) {
	app := &Application{
		ID:           uuid.NewString(),
		UserID:       userID,
		Role:         role,
		Status:       auth.RoleStatusPending,
		Department:   sanitize.Text(req.Department),
		EmployeeCode: sanitize.Text(req.EmployeeCode),
		ShopName:     sanitize.Text(req.ShopName),
		ShopAddress:  sanitize.Text(req.ShopAddress),
		Description:  sanitize.Text(req.Description),
		CreatedAt:    time.Now().UTC(),
	}

	if err := validateApplication(app); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, app); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating role application: %w", err))
	}

	s.audit.Record(audit.Entry{
		UserID:  userID,
		Action:  audit.ActionRoleSubmitted,
		IP:      ip,
		Details: map[string]any{"role": role.String(), "application_id": app.ID},
	})

	return app, nil
}

// Mine returns the caller's application history.
func (s *service) Mine(ctx context.Context, userID string) ([]Application, error) {
	apps, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing role applications: %w", err))
	}
	return apps, nil
}

// Pending returns one page of the admin review queue. Pages are 1-indexed.
func (s *service) Pending(ctx context.Context, page int) ([]Application, int, error) {
	if page < 1 {
		page = 1
	}

	apps, total, err := s.repo.ListPending(ctx, pendingPerPage, (page-1)*pendingPerPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing pending applications: %w", err))
	}
	return apps, total, nil
}

// Review records the decision and returns the application as it now
// stands. Reviewing a non-pending application is a conflict, not a
// second decision.
func (s *service) Review(ctx context.Context, reviewerID, appID string, approve bool, ip string) (*Application, error) {
	if err := s.repo.Review(ctx, appID, reviewerID, approve); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("reviewing application: %w", err))
	}

	app, err := s.repo.FindByID(ctx, appID)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("reloading application: %w", err))
	}

	s.audit.Record(audit.Entry{
		UserID: app.UserID,
		Action: audit.ActionRoleReviewed,
		IP:     ip,
		Details: map[string]any{
			"role":           app.Role.String(),
			"application_id": app.ID,
			"approved":       approve,
			"reviewed_by":    reviewerID,
		},
	})

	return app, nil
}

// validateApplication enforces the per-role required fields and the column
// length caps.
func validateApplication(app *Application) error {
	switch app.Role {
	case auth.RoleShopkeeper:
		if app.ShopName == "" {
			return apperror.NewValidation("shopName", "shop name is required")
		}
		if app.ShopAddress == "" {
			return apperror.NewValidation("shopAddress", "shop address is required")
		}
	case auth.RoleEmployee:
		if app.Department == "" {
			return apperror.NewValidation("department", "department is required")
		}
		if app.EmployeeCode == "" {
			return apperror.NewValidation("employeeCode", "employee code is required")
		}
	case auth.RoleAdmin:
		if app.Department == "" {
			return apperror.NewValidation("department", "department is required")
		}
	default:
		return apperror.NewValidation("role", "role must be admin, employee, or shopkeeper")
	}

	switch {
	case len(app.Department) > maxDepartmentLen:
		return apperror.NewValidation("department", "department is too long")
	case len(app.EmployeeCode) > maxEmployeeCodeLen:
		return apperror.NewValidation("employeeCode", "employee code is too long")
	case len(app.ShopName) > maxShopNameLen:
		return apperror.NewValidation("shopName", "shop name is too long")
	case len(app.ShopAddress) > maxShopAddressLen:
		return apperror.NewValidation("shopAddress", "shop address is too long")
	case len(app.Description) > maxDescriptionLen:
		return apperror.NewValidation("description", "description is too long")
	}

	return nil
}
