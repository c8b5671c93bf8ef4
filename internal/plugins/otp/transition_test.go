package otp

import (
	"testing"
	"time"
)

// testPolicy mirrors the production defaults but is explicit here so the
// assertions below don't silently drift with config changes.
func testPolicy() Policy {
	return Policy{
		MaxSends:       5,
		MaxFailures:    5,
		MaxResends:     3,
		ResendCooldown: 3 * time.Minute,
		BlockDuration:  5 * time.Hour,
		OTPTTL:         10 * time.Minute,
	}
}

func TestTransition_FirstSendAllowed(t *testing.T) {
	now := time.Now()
	rec := Record{Identifier: "a@example.com", Channel: ChannelEmail}

	d := Transition(rec, EventSend, now, testPolicy())
	if !d.Allowed {
		t.Fatalf("first send denied: %+v", d)
	}
	if d.AttemptsLeft != 4 {
		t.Errorf("expected 4 sends left, got %d", d.AttemptsLeft)
	}
	if d.Record.SendAttempts != 1 {
		t.Errorf("expected 1 send attempt recorded, got %d", d.Record.SendAttempts)
	}
	if !d.Record.LastSendAt.Equal(now) {
		t.Errorf("expected LastSendAt = now")
	}
}

func TestTransition_ResendInsideCooldownDeniedWithoutCounting(t *testing.T) {
	now := time.Now()
	p := testPolicy()
	rec := Record{SendAttempts: 1, LastSendAt: now.Add(-time.Minute)}

	d := Transition(rec, EventSend, now, p)
	if d.Allowed {
		t.Fatal("resend inside cooldown was allowed")
	}
	if d.Reason != DenyCooldown {
		t.Fatalf("expected DenyCooldown, got %v", d.Reason)
	}
	// Exactly the remaining wait, so the client can render a countdown.
	if d.RetryAfter != 2*time.Minute {
		t.Errorf("expected retry after 2m, got %v", d.RetryAfter)
	}
	if d.Record.SendAttempts != 1 || d.Record.Resends != 0 {
		t.Errorf("cooldown denial mutated counters: %+v", d.Record)
	}
}

func TestTransition_ResendAfterCooldownCounts(t *testing.T) {
	now := time.Now()
	rec := Record{SendAttempts: 1, LastSendAt: now.Add(-4 * time.Minute)}

	d := Transition(rec, EventSend, now, testPolicy())
	if !d.Allowed {
		t.Fatalf("resend after cooldown denied: %+v", d)
	}
	if d.Record.Resends != 1 {
		t.Errorf("expected 1 resend recorded, got %d", d.Record.Resends)
	}
	if d.Record.SendAttempts != 2 {
		t.Errorf("expected 2 send attempts, got %d", d.Record.SendAttempts)
	}
}

func TestTransition_ResendCapDenied(t *testing.T) {
	now := time.Now()
	rec := Record{SendAttempts: 4, Resends: 3, LastSendAt: now.Add(-4 * time.Minute)}

	d := Transition(rec, EventSend, now, testPolicy())
	if d.Allowed {
		t.Fatal("resend past cap was allowed")
	}
	if d.Reason != DenyResendCap {
		t.Fatalf("expected DenyResendCap, got %v", d.Reason)
	}
	// Budget renews when the pending code expires: 10m TTL - 4m elapsed.
	if d.RetryAfter != 6*time.Minute {
		t.Errorf("expected retry after 6m, got %v", d.RetryAfter)
	}
	if d.Record.Resends != 3 {
		t.Errorf("cap denial mutated counters: %+v", d.Record)
	}
}

func TestTransition_ResendBudgetRenewsAfterCodeExpiry(t *testing.T) {
	now := time.Now()
	rec := Record{SendAttempts: 2, Resends: 3, LastSendAt: now.Add(-11 * time.Minute)}

	d := Transition(rec, EventSend, now, testPolicy())
	if !d.Allowed {
		t.Fatalf("send after code expiry denied: %+v", d)
	}
	if d.Record.Resends != 0 {
		t.Errorf("expected resend budget reset, got %d", d.Record.Resends)
	}
	// The overall send counter keeps accumulating toward the block.
	if d.Record.SendAttempts != 3 {
		t.Errorf("expected 3 send attempts, got %d", d.Record.SendAttempts)
	}
}

func TestTransition_FifthSendRaisesBlockAndRejectsItself(t *testing.T) {
	now := time.Now()
	p := testPolicy()
	rec := Record{SendAttempts: 4, Resends: 0, LastSendAt: now.Add(-11 * time.Minute)}

	d := Transition(rec, EventSend, now, p)
	if d.Allowed {
		t.Fatal("capping send was allowed")
	}
	if d.Reason != DenyBlocked {
		t.Fatalf("expected DenyBlocked, got %v", d.Reason)
	}
	if d.RetryAfter != p.BlockDuration {
		t.Errorf("expected retry after %v, got %v", p.BlockDuration, d.RetryAfter)
	}
	want := now.Add(p.BlockDuration)
	if !d.Record.BlockedUntil.Equal(want) {
		t.Errorf("expected BlockedUntil %v, got %v", want, d.Record.BlockedUntil)
	}
}

func TestTransition_VerifyFailuresAccumulateThenBlock(t *testing.T) {
	now := time.Now()
	p := testPolicy()
	rec := Record{}

	for i := 1; i <= 4; i++ {
		d := Transition(rec, EventVerifyFailure, now, p)
		if !d.Allowed {
			t.Fatalf("failure %d denied: %+v", i, d)
		}
		if d.AttemptsLeft != p.MaxFailures-i {
			t.Errorf("failure %d: expected %d attempts left, got %d", i, p.MaxFailures-i, d.AttemptsLeft)
		}
		rec = d.Record
	}

	// The 5th failure raises the block.
	d := Transition(rec, EventVerifyFailure, now, p)
	if d.Allowed {
		t.Fatal("5th failure was allowed")
	}
	if d.Reason != DenyBlocked {
		t.Fatalf("expected DenyBlocked, got %v", d.Reason)
	}
	if got := d.Record.BlockedUntil.Sub(now); got != p.BlockDuration {
		t.Errorf("expected a %v block, got %v", p.BlockDuration, got)
	}
}

func TestTransition_ActiveBlockRejectsEverySend(t *testing.T) {
	now := time.Now()
	rec := Record{BlockedUntil: now.Add(time.Hour)}

	for _, ev := range []Event{EventSend, EventVerifyFailure} {
		d := Transition(rec, ev, now, testPolicy())
		if d.Allowed {
			t.Fatalf("event %v allowed during block", ev)
		}
		if d.Reason != DenyBlocked {
			t.Fatalf("expected DenyBlocked, got %v", d.Reason)
		}
		if d.RetryAfter != time.Hour {
			t.Errorf("expected remaining 1h, got %v", d.RetryAfter)
		}
	}
}

func TestTransition_ElapsedBlockResetsCounters(t *testing.T) {
	now := time.Now()
	rec := Record{
		SendAttempts:   5,
		VerifyFailures: 5,
		Resends:        3,
		BlockedUntil:   now.Add(-time.Second),
	}

	d := Transition(rec, EventSend, now, testPolicy())
	if !d.Allowed {
		t.Fatalf("send after elapsed block denied: %+v", d)
	}
	if d.Record.SendAttempts != 1 || d.Record.VerifyFailures != 0 || d.Record.Resends != 0 {
		t.Errorf("expected a clean slate, got %+v", d.Record)
	}
	if !d.Record.BlockedUntil.IsZero() {
		t.Errorf("expected BlockedUntil cleared, got %v", d.Record.BlockedUntil)
	}
}

func TestTransition_SuccessResetsRecord(t *testing.T) {
	now := time.Now()
	rec := Record{
		Identifier:     "a@example.com",
		Channel:        ChannelEmail,
		SendAttempts:   3,
		VerifyFailures: 2,
		Resends:        1,
		LastSendAt:     now.Add(-time.Minute),
	}

	d := Transition(rec, EventVerifySuccess, now, testPolicy())
	if !d.Allowed {
		t.Fatalf("success denied: %+v", d)
	}
	if d.Record.SendAttempts != 0 || d.Record.VerifyFailures != 0 || d.Record.Resends != 0 {
		t.Errorf("expected counters cleared, got %+v", d.Record)
	}
	if d.Record.Identifier != rec.Identifier || d.Record.Channel != rec.Channel {
		t.Errorf("identity fields lost: %+v", d.Record)
	}
}

func TestRecord_StateAt(t *testing.T) {
	now := time.Now()

	clear := Record{}
	if got := clear.StateAt(now); got != StateClear {
		t.Errorf("expected clear, got %v", got)
	}

	warned := Record{VerifyFailures: 1}
	if got := warned.StateAt(now); got != StateWarned {
		t.Errorf("expected warned, got %v", got)
	}

	blocked := Record{SendAttempts: 5, BlockedUntil: now.Add(time.Hour)}
	if got := blocked.StateAt(now); got != StateBlocked {
		t.Errorf("expected blocked, got %v", got)
	}

	elapsed := Record{SendAttempts: 5, BlockedUntil: now.Add(-time.Hour)}
	if got := elapsed.StateAt(now); got != StateWarned {
		t.Errorf("expected warned after elapse, got %v", got)
	}
}
