package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// perPage is the number of audit entries returned per page.
const perPage = 50

// Service handles business logic for the audit log. It validates inputs,
// enforces limits, and delegates persistence to the repository.
type Service interface {
	// Record writes an audit entry in the background. It never blocks the
	// caller and never returns an error: audit failures are logged and
	// swallowed so they cannot fail the operation being audited.
	Record(entry Entry)

	// List returns a paginated audit feed for admin review. Returns
	// entries, total count, and any error.
	List(ctx context.Context, filter ListFilter, page int) ([]Entry, int, error)
}

// service implements Service.
type service struct {
	repo Repository
}

// NewService creates a new audit service with the given repository.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// Record persists the entry on a detached context so it survives the
// request that produced it being canceled mid-write.
func (s *service) Record(entry Entry) {
	go func() {
		if entry.Action == "" {
			slog.Error("audit entry dropped: missing action")
			return
		}
		if err := s.repo.Log(context.Background(), &entry); err != nil {
			slog.Error("failed to write audit log entry",
				slog.String("action", entry.Action),
				slog.String("identifier", entry.Identifier),
				slog.Any("error", err),
			)
		}
	}()
}

// List returns the paginated audit feed. Pages are 1-indexed; invalid page
// numbers are clamped to 1.
func (s *service) List(ctx context.Context, filter ListFilter, page int) ([]Entry, int, error) {
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * perPage
	entries, total, err := s.repo.List(ctx, filter, perPage, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing audit entries: %w", err))
	}

	return entries, total, nil
}
