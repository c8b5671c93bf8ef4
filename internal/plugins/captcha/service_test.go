package captcha

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	_, client := newTestRedis(t)
	return NewService(NewRedisStore(client, 3, 2*time.Minute), 5*time.Minute)
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

func TestGenerate_ChallengeShape(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.Generate(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.Question) != 6 {
		t.Errorf("expected a 6-character question, got %q", resp.Question)
	}
	for _, r := range resp.Question {
		if !strings.ContainsRune(answerAlphabet, r) {
			t.Errorf("question contains %q, outside the uppercase alnum alphabet", r)
		}
	}

	// 32 random bytes, hex encoded.
	if len(resp.SessionID) != 64 {
		t.Errorf("expected a 64-character session id, got %d", len(resp.SessionID))
	}
}

func TestGenerate_SessionIDsUnique(t *testing.T) {
	svc := newTestService(t)
	seen := map[string]bool{}

	for i := 0; i < 50; i++ {
		resp, err := svc.Generate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if seen[resp.SessionID] {
			t.Fatal("duplicate session id generated")
		}
		seen[resp.SessionID] = true
	}
}

func TestVerify_QuestionIsTheAnswer(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	verdict, err := svc.Verify(ctx, resp.SessionID, strings.ToLower(resp.Question))
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.Valid {
		t.Error("expected the displayed text to verify (case-insensitively)")
	}
}

func TestVerify_WrongAnswerCountsDown(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	verdict, err := svc.Verify(ctx, resp.SessionID, "______")
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Valid {
		t.Fatal("wrong answer verified")
	}
	if verdict.AttemptsLeft != 2 {
		t.Errorf("expected 2 attempts left, got %d", verdict.AttemptsLeft)
	}
}

func TestVerify_UnknownSessionIsCaptchaError(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Verify(context.Background(), "bogus-session", "AB12CD")
	appErr := assertAppError(t, err, 400)
	if appErr.Type != "captcha_failed" {
		t.Errorf("expected captcha_failed, got %s", appErr.Type)
	}
}

func TestVerify_ExhaustionForcesRegeneration(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Verify(ctx, resp.SessionID, "______"); err != nil {
			t.Fatal(err)
		}
	}

	_, err = svc.Verify(ctx, resp.SessionID, resp.Question)
	appErr := assertAppError(t, err, 400)
	if appErr.Type != "captcha_failed" {
		t.Errorf("expected captcha_failed, got %s", appErr.Type)
	}
}

func TestRequireSolved(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Unsolved challenge is refused.
	err = svc.RequireSolved(ctx, resp.SessionID)
	assertAppError(t, err, 400)

	if _, err := svc.Verify(ctx, resp.SessionID, resp.Question); err != nil {
		t.Fatal(err)
	}

	// Solved challenge passes the read path repeatedly within the grace
	// window.
	for i := 0; i < 3; i++ {
		if err := svc.RequireSolved(ctx, resp.SessionID); err != nil {
			t.Fatalf("read %d: %v", i+1, err)
		}
	}
}
