package roles

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bazarhub/bazarhub/internal/apperror"
	"github.com/bazarhub/bazarhub/internal/plugins/audit"
	"github.com/bazarhub/bazarhub/internal/plugins/auth"
)

// mockRepository lets each test override exactly the calls it cares about.
type mockRepository struct {
	createFn      func(ctx context.Context, app *Application) error
	findByIDFn    func(ctx context.Context, id string) (*Application, error)
	listByUserFn  func(ctx context.Context, userID string) ([]Application, error)
	listPendingFn func(ctx context.Context, limit, offset int) ([]Application, int, error)
	reviewFn      func(ctx context.Context, appID, reviewerID string, approve bool) error
}

func (m *mockRepository) Create(ctx context.Context, app *Application) error {
	if m.createFn != nil {
		return m.createFn(ctx, app)
	}
	return nil
}

func (m *mockRepository) FindByID(ctx context.Context, id string) (*Application, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("application not found")
}

func (m *mockRepository) ListByUser(ctx context.Context, userID string) ([]Application, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockRepository) ListPending(ctx context.Context, limit, offset int) ([]Application, int, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockRepository) Review(ctx context.Context, appID, reviewerID string, approve bool) error {
	if m.reviewFn != nil {
		return m.reviewFn(ctx, appID, reviewerID, approve)
	}
	return nil
}

// recordingAudit captures recorded actions for assertions.
type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(entry audit.Entry) {
	a.actions = append(a.actions, entry.Action)
}

func (a *recordingAudit) List(context.Context, audit.ListFilter, int) ([]audit.Entry, int, error) {
	return nil, 0, nil
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) *apperror.AppError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Fatalf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
	return appErr
}

func TestSubmit_ShopkeeperApplication(t *testing.T) {
	var created *Application
	repo := &mockRepository{
		createFn: func(ctx context.Context, app *Application) error {
			created = app
			return nil
		},
	}
	rec := &recordingAudit{}
	svc := NewService(repo, rec)

	app, err := svc.Submit(context.Background(), "user-1", auth.RoleShopkeeper, SubmitRequest{
		ShopName:    "Corner Bazaar",
		ShopAddress: "12 Market Street",
		Description: "Family grocery since 1998",
	}, "203.0.113.7")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if created == nil {
		t.Fatal("application never reached the repository")
	}
	if app.ID == "" {
		t.Error("expected a generated application id")
	}
	if app.Status != auth.RoleStatusPending {
		t.Errorf("expected pending status, got %s", app.Status)
	}
	if app.Role != auth.RoleShopkeeper {
		t.Errorf("expected shopkeeper role, got %s", app.Role)
	}
	if len(rec.actions) != 1 || rec.actions[0] != audit.ActionRoleSubmitted {
		t.Errorf("expected one role.submitted audit entry, got %v", rec.actions)
	}
}

func TestSubmit_RequiredFieldsPerRole(t *testing.T) {
	cases := []struct {
		name string
		role auth.Role
		req  SubmitRequest
	}{
		{"shopkeeper without shop name", auth.RoleShopkeeper, SubmitRequest{ShopAddress: "12 Market Street"}},
		{"shopkeeper without address", auth.RoleShopkeeper, SubmitRequest{ShopName: "Corner Bazaar"}},
		{"employee without department", auth.RoleEmployee, SubmitRequest{EmployeeCode: "E-100"}},
		{"employee without code", auth.RoleEmployee, SubmitRequest{Department: "Logistics"}},
		{"admin without department", auth.RoleAdmin, SubmitRequest{}},
		{"customer role not applicable", auth.RoleCustomer, SubmitRequest{}},
		{"unknown role", auth.Role("superuser"), SubmitRequest{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&mockRepository{}, &recordingAudit{})
			_, err := svc.Submit(context.Background(), "user-1", tc.role, tc.req, "203.0.113.7")
			assertAppError(t, err, 400)
		})
	}
}

func TestSubmit_StripsHTMLFromFreeText(t *testing.T) {
	svc := NewService(&mockRepository{}, &recordingAudit{})

	app, err := svc.Submit(context.Background(), "user-1", auth.RoleShopkeeper, SubmitRequest{
		ShopName:    "Corner <script>alert(1)</script>Bazaar",
		ShopAddress: "12 Market Street",
		Description: "<b>Family</b> grocery",
	}, "203.0.113.7")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if strings.Contains(app.ShopName, "<") || strings.Contains(app.ShopName, "script") {
		t.Errorf("shop name kept markup: %q", app.ShopName)
	}
	if strings.Contains(app.Description, "<") {
		t.Errorf("description kept markup: %q", app.Description)
	}
}

func TestSubmit_FieldLengthCaps(t *testing.T) {
	svc := NewService(&mockRepository{}, &recordingAudit{})

	_, err := svc.Submit(context.Background(), "user-1", auth.RoleShopkeeper, SubmitRequest{
		ShopName:    strings.Repeat("a", maxShopNameLen+1),
		ShopAddress: "12 Market Street",
	}, "203.0.113.7")
	assertAppError(t, err, 400)
}

func TestReview_ApprovedApplication(t *testing.T) {
	reviewed := time.Now().UTC()
	repo := &mockRepository{
		reviewFn: func(ctx context.Context, appID, reviewerID string, approve bool) error {
			if appID != "app-1" || reviewerID != "admin-1" || !approve {
				t.Errorf("unexpected review call: %s %s %v", appID, reviewerID, approve)
			}
			return nil
		},
		findByIDFn: func(ctx context.Context, id string) (*Application, error) {
			return &Application{
				ID:         "app-1",
				UserID:     "user-1",
				Role:       auth.RoleShopkeeper,
				Status:     auth.RoleStatusApproved,
				ReviewedBy: "admin-1",
				ReviewedAt: &reviewed,
			}, nil
		},
	}
	rec := &recordingAudit{}
	svc := NewService(repo, rec)

	app, err := svc.Review(context.Background(), "admin-1", "app-1", true, "203.0.113.7")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if app.Status != auth.RoleStatusApproved {
		t.Errorf("expected approved, got %s", app.Status)
	}
	if len(rec.actions) != 1 || rec.actions[0] != audit.ActionRoleReviewed {
		t.Errorf("expected one role.reviewed audit entry, got %v", rec.actions)
	}
}

func TestReview_AlreadyReviewedIsConflict(t *testing.T) {
	repo := &mockRepository{
		reviewFn: func(ctx context.Context, appID, reviewerID string, approve bool) error {
			return apperror.NewConflict("application already reviewed or unknown")
		},
	}
	svc := NewService(repo, &recordingAudit{})

	_, err := svc.Review(context.Background(), "admin-1", "app-1", false, "203.0.113.7")
	assertAppError(t, err, 409)
}

func TestPending_ClampsPage(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &mockRepository{
		listPendingFn: func(ctx context.Context, limit, offset int) ([]Application, int, error) {
			gotLimit, gotOffset = limit, offset
			return []Application{{ID: "app-1"}}, 1, nil
		},
	}
	svc := NewService(repo, &recordingAudit{})

	apps, total, err := svc.Pending(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if gotLimit != pendingPerPage || gotOffset != 0 {
		t.Errorf("expected first page query, got limit=%d offset=%d", gotLimit, gotOffset)
	}
	if len(apps) != 1 || total != 1 {
		t.Errorf("unexpected result: %d apps, total %d", len(apps), total)
	}

	if _, _, err := svc.Pending(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if gotOffset != 2*pendingPerPage {
		t.Errorf("expected offset %d for page 3, got %d", 2*pendingPerPage, gotOffset)
	}
}
