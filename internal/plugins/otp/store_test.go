package otp

import (
	"context"
	"testing"
	"time"
)

func TestChallengeStore_ConsumeCorrectCodeOnce(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if err := store.Put(ctx, id, ChannelEmail, PurposeLogin, "123456", 10*time.Minute); err != nil {
		t.Fatal(err)
	}

	result, err := store.Consume(ctx, id, ChannelEmail, PurposeLogin, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeOK {
		t.Fatalf("expected ConsumeOK, got %v", result)
	}

	// Consumed on success: the same code never works twice.
	result, err = store.Consume(ctx, id, ChannelEmail, PurposeLogin, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeNotFound {
		t.Fatalf("expected ConsumeNotFound after consumption, got %v", result)
	}
}

func TestChallengeStore_WrongCodeLeavesChallengeAlive(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if err := store.Put(ctx, id, ChannelEmail, PurposeLogin, "123456", 10*time.Minute); err != nil {
		t.Fatal(err)
	}

	result, err := store.Consume(ctx, id, ChannelEmail, PurposeLogin, "654321")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeWrong {
		t.Fatalf("expected ConsumeWrong, got %v", result)
	}

	// The real code still works; failure budgets live in the ledger, not here.
	result, err = store.Consume(ctx, id, ChannelEmail, PurposeLogin, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeOK {
		t.Fatalf("expected ConsumeOK, got %v", result)
	}
}

func TestChallengeStore_NewCodeSupersedesOld(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if err := store.Put(ctx, id, ChannelEmail, PurposeReset, "111111", 10*time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, id, ChannelEmail, PurposeReset, "222222", 10*time.Minute); err != nil {
		t.Fatal(err)
	}

	result, err := store.Consume(ctx, id, ChannelEmail, PurposeReset, "111111")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeWrong {
		t.Fatalf("expected superseded code to fail as wrong, got %v", result)
	}

	result, err = store.Consume(ctx, id, ChannelEmail, PurposeReset, "222222")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeOK {
		t.Fatalf("expected fresh code to verify, got %v", result)
	}
}

func TestChallengeStore_PurposesAreIsolated(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if err := store.Put(ctx, id, ChannelEmail, PurposeLogin, "123456", 10*time.Minute); err != nil {
		t.Fatal(err)
	}

	// A login code can never satisfy a reset verification.
	result, err := store.Consume(ctx, id, ChannelEmail, PurposeReset, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeNotFound {
		t.Fatalf("expected ConsumeNotFound across purposes, got %v", result)
	}
}

func TestChallengeStore_ExpiredCodeNotFound(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()
	id := EmailIdentifier("user@example.com")

	if err := store.Put(ctx, id, ChannelEmail, PurposeLogin, "123456", time.Minute); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)

	result, err := store.Consume(ctx, id, ChannelEmail, PurposeLogin, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result != ConsumeNotFound {
		t.Fatalf("expected ConsumeNotFound after expiry, got %v", result)
	}
}
