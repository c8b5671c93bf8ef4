package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// captureSender records the last delivery instead of sending anything.
type captureSender struct {
	lastChannel     Channel
	lastDestination string
	lastCode        string
	sendCount       int
	failWith        error
}

func (s *captureSender) SendCode(ctx context.Context, ch Channel, destination, code string) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.lastChannel = ch
	s.lastDestination = destination
	s.lastCode = code
	s.sendCount++
	return nil
}

// newTestService wires a real ledger and challenge store on miniredis with
// a capturing sender.
func newTestService(t *testing.T) (Service, *captureSender) {
	t.Helper()
	_, client := newTestRedis(t)
	sender := &captureSender{}
	svc := NewService(
		NewRedisLedger(client, testPolicy()),
		NewRedisChallengeStore(client),
		sender,
		10*time.Minute,
	)
	return svc, sender
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

func TestService_SendAndVerifyRoundTrip(t *testing.T) {
	svc, sender := newTestService(t)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	result, err := svc.Send(ctx, id, ChannelEmail, PurposeLogin, "user@example.com")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.AttemptsLeft != 4 {
		t.Errorf("expected 4 sends left, got %d", result.AttemptsLeft)
	}
	if len(sender.lastCode) != 6 || !allDigits(sender.lastCode) {
		t.Fatalf("expected a 6-digit code, got %q", sender.lastCode)
	}

	if err := svc.Verify(ctx, id, ChannelEmail, PurposeLogin, sender.lastCode); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Consumed: the same code is spent.
	err = svc.Verify(ctx, id, ChannelEmail, PurposeLogin, sender.lastCode)
	assertAppError(t, err, 400)
}

func TestService_SendInsideCooldownRateLimited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if _, err := svc.Send(ctx, id, ChannelEmail, PurposeLogin, "user@example.com"); err != nil {
		t.Fatalf("first send: %v", err)
	}

	_, err := svc.Send(ctx, id, ChannelEmail, PurposeLogin, "user@example.com")
	appErr := assertAppError(t, err, 429)

	secs, ok := appErr.Detail["retry_after_seconds"].(int64)
	if !ok {
		t.Fatalf("expected retry_after_seconds detail, got %v", appErr.Detail)
	}
	if secs <= 0 || secs > 180 {
		t.Errorf("expected remaining cooldown within (0s, 180s], got %d", secs)
	}
}

func TestService_WrongCodeReportsAttemptsLeft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if _, err := svc.Send(ctx, id, ChannelEmail, PurposeLogin, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	err := svc.Verify(ctx, id, ChannelEmail, PurposeLogin, "000000")
	appErr := assertAppError(t, err, 400)
	if left, ok := appErr.Detail["attempts_left"].(int); !ok || left != 4 {
		t.Errorf("expected attempts_left 4, got %v", appErr.Detail)
	}
}

func TestService_FiveWrongCodesBlockFurtherVerifies(t *testing.T) {
	svc, sender := newTestService(t)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if _, err := svc.Send(ctx, id, ChannelEmail, PurposeLogin, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 4; i++ {
		err := svc.Verify(ctx, id, ChannelEmail, PurposeLogin, "000000")
		assertAppError(t, err, 400)
	}

	// The 5th failure raises the block.
	err := svc.Verify(ctx, id, ChannelEmail, PurposeLogin, "000000")
	assertAppError(t, err, 429)

	// Even the correct code is refused while blocked.
	err = svc.Verify(ctx, id, ChannelEmail, PurposeLogin, sender.lastCode)
	assertAppError(t, err, 429)

	// So is another send.
	_, err = svc.Send(ctx, id, ChannelEmail, PurposeLogin, "user@example.com")
	assertAppError(t, err, 429)
}

func TestService_VerifyRejectsMalformedCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	for _, code := range []string{"", "12345", "1234567", "12345a"} {
		err := svc.Verify(ctx, id, ChannelEmail, PurposeLogin, code)
		assertAppError(t, err, 400)
	}
}

func TestMaskDestination(t *testing.T) {
	cases := []struct {
		ch   Channel
		in   string
		want string
	}{
		{ChannelEmail, "jane.doe@example.com", "j******e@example.com"},
		{ChannelEmail, "ab@example.com", "**@example.com"},
		{ChannelEmail, "no-at-sign", "***"},
		{ChannelPhone, "5551234567", "******4567"},
		{ChannelPhone, "123", "***"},
	}
	for _, tc := range cases {
		if got := MaskDestination(tc.ch, tc.in); got != tc.want {
			t.Errorf("MaskDestination(%v, %q) = %q, want %q", tc.ch, tc.in, got, tc.want)
		}
	}
}
