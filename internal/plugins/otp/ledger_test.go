package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestRedis spins up an in-process Redis and returns a connected client.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLedger_FiveFailuresBlockForFiveHours(t *testing.T) {
	_, client := newTestRedis(t)
	ledger := NewRedisLedger(client, testPolicy())
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	for i := 1; i <= 4; i++ {
		d, err := ledger.RecordVerifyFailure(ctx, id, ChannelEmail)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("failure %d unexpectedly denied: %+v", i, d)
		}
	}

	d, err := ledger.RecordVerifyFailure(ctx, id, ChannelEmail)
	if err != nil {
		t.Fatalf("5th failure: %v", err)
	}
	if d.Allowed || d.Reason != DenyBlocked {
		t.Fatalf("expected block on 5th failure, got %+v", d)
	}

	blocked, remaining, err := ledger.IsBlocked(ctx, id, ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Fatal("expected identifier to be blocked")
	}
	if remaining < 4*time.Hour+59*time.Minute || remaining > 5*time.Hour {
		t.Errorf("expected ~5h remaining, got %v", remaining)
	}

	// Any further request, send included, is rejected while blocked.
	d, err = ledger.RecordSend(ctx, id, ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != DenyBlocked {
		t.Fatalf("expected send rejected during block, got %+v", d)
	}
}

func TestLedger_CooldownDenialDoesNotIncrement(t *testing.T) {
	_, client := newTestRedis(t)
	ledger := NewRedisLedger(client, testPolicy())
	ctx := context.Background()
	id := EmailIdentifier("cool@example.com")

	if _, err := ledger.RecordSend(ctx, id, ChannelEmail); err != nil {
		t.Fatal(err)
	}

	d, err := ledger.RecordSend(ctx, id, ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != DenyCooldown {
		t.Fatalf("expected cooldown denial, got %+v", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 3*time.Minute {
		t.Errorf("expected remaining cooldown within (0, 3m], got %v", d.RetryAfter)
	}

	rec, err := ledger.Get(ctx, id, ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.SendAttempts != 1 || rec.Resends != 0 {
		t.Errorf("cooldown denial mutated the stored record: %+v", rec)
	}
}

func TestLedger_SuccessResetsCounters(t *testing.T) {
	_, client := newTestRedis(t)
	ledger := NewRedisLedger(client, testPolicy())
	ctx := context.Background()
	id := EmailIdentifier("fresh@example.com")

	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordVerifyFailure(ctx, id, ChannelEmail); err != nil {
			t.Fatal(err)
		}
	}
	if err := ledger.RecordVerifySuccess(ctx, id, ChannelEmail); err != nil {
		t.Fatal(err)
	}

	rec, err := ledger.Get(ctx, id, ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("expected a record after success")
	}
	if rec.VerifyFailures != 0 || rec.SendAttempts != 0 {
		t.Errorf("expected counters reset, got %+v", rec)
	}
}

func TestLedger_BlockElapseResets(t *testing.T) {
	_, client := newTestRedis(t)
	policy := testPolicy()
	policy.BlockDuration = 50 * time.Millisecond
	ledger := NewRedisLedger(client, policy)
	ctx := context.Background()
	id := EmailIdentifier("parole@example.com")

	for i := 0; i < 5; i++ {
		if _, err := ledger.RecordVerifyFailure(ctx, id, ChannelEmail); err != nil {
			t.Fatal(err)
		}
	}
	if blocked, _, _ := ledger.IsBlocked(ctx, id, ChannelEmail); !blocked {
		t.Fatal("expected block after 5 failures")
	}

	time.Sleep(60 * time.Millisecond)

	// Serving the block wipes the slate: the next send starts at one.
	d, err := ledger.RecordSend(ctx, id, ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("send after elapsed block denied: %+v", d)
	}
	if d.Record.VerifyFailures != 0 || d.Record.SendAttempts != 1 {
		t.Errorf("expected reset counters, got %+v", d.Record)
	}
}

func TestLedger_ChannelsTrackedIndependently(t *testing.T) {
	_, client := newTestRedis(t)
	ledger := NewRedisLedger(client, testPolicy())
	ctx := context.Background()
	id := EmailIdentifier("both@example.com")

	for i := 0; i < 5; i++ {
		if _, err := ledger.RecordVerifyFailure(ctx, id, ChannelEmail); err != nil {
			t.Fatal(err)
		}
	}

	if blocked, _, _ := ledger.IsBlocked(ctx, id, ChannelEmail); !blocked {
		t.Fatal("expected email channel blocked")
	}
	if blocked, _, _ := ledger.IsBlocked(ctx, id, ChannelPhone); blocked {
		t.Fatal("phone channel must not inherit the email block")
	}

	d, err := ledger.RecordSend(ctx, id, ChannelPhone)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("phone send denied by email block: %+v", d)
	}
}
