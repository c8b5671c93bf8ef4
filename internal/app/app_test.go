package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// fire runs the error handler against a fresh recorder and returns it.
func fire(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	a := &App{Echo: echo.New()}
	req := httptest.NewRequest(http.MethodPost, "/auth/send-otp", nil)
	rec := httptest.NewRecorder()
	a.errorHandler(err, a.Echo.NewContext(req, rec))
	return rec
}

func TestErrorHandler_RateLimited(t *testing.T) {
	rec := fire(t, apperror.NewRateLimited("try again later", 42*time.Second))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, want %q", got, "42")
	}
	if !strings.Contains(rec.Body.String(), "rate_limited") {
		t.Errorf("body missing error type: %s", rec.Body.String())
	}
}

func TestErrorHandler_RetryAfterToleratesNumericTypes(t *testing.T) {
	cases := []struct {
		name   string
		detail map[string]any
		want   string
	}{
		{"int64", map[string]any{"retry_after_seconds": int64(42)}, "42"},
		{"int", map[string]any{"retry_after_seconds": 42}, "42"},
		// A detail map that crossed a JSON boundary carries float64.
		{"float64", map[string]any{"retry_after_seconds": float64(42)}, "42"},
		{"absent", map[string]any{}, ""},
		{"nil detail", nil, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := fire(t, &apperror.AppError{
				Code:    http.StatusTooManyRequests,
				Type:    "rate_limited",
				Message: "try again later",
				Detail:  tc.detail,
			})

			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tc.want {
				t.Errorf("Retry-After = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestErrorHandler_InternalLeaksNothing(t *testing.T) {
	rec := fire(t, apperror.NewInternal(errSentinel("db exploded: password=hunter2")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Errorf("internal cause leaked to the client: %s", rec.Body.String())
	}
}

// errSentinel is a bare error for wrapping tests.
type errSentinel string

func (e errSentinel) Error() string { return string(e) }
