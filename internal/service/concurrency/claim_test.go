package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

func TestLocalClaimerFirstClaimWins(t *testing.T) {
	c := NewLocalClaimer()
	ctx := context.Background()
	batch := uuid.New()

	ok, _ := c.Claim(ctx, "u1", batch, "CA1")
	if !ok {
		t.Fatalf("expected first claim to win")
	}
	if ok, _ := c.Claim(ctx, "u1", batch, "CA2"); ok {
		t.Fatalf("expected second caller to lose")
	}
	if ok, _ := c.Claim(ctx, "u1", batch, "CA1"); !ok {
		t.Fatalf("expected winner re-claim to succeed")
	}
	if ok, _ := c.Claim(ctx, "u1", uuid.New(), "CA3"); !ok {
		t.Fatalf("expected a new batch to have its own slot")
	}
}

func TestLocalClaimerConcurrentSingleWinner(t *testing.T) {
	c := NewLocalClaimer()
	batch := uuid.New()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, id := range []string{"CA1", "CA2", "CA3"} {
		wg.Add(1)
		go func(callID string) {
			defer wg.Done()
			if ok, _ := c.Claim(context.Background(), "u1", batch, callID); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestLocalClaimerReleaseOnlyByOwner(t *testing.T) {
	c := NewLocalClaimer()
	ctx := context.Background()
	batch := uuid.New()

	_, _ = c.Claim(ctx, "u1", batch, "CA1")
	_ = c.Release(ctx, "u1", batch, "CA2")
	if ok, _ := c.Claim(ctx, "u1", batch, "CA2"); ok {
		t.Fatalf("release by non-owner must not free the slot")
	}
	_ = c.Release(ctx, "u1", batch, "CA1")
	if ok, _ := c.Claim(ctx, "u1", batch, "CA2"); !ok {
		t.Fatalf("expected slot to be free after owner release")
	}
}

func TestNewClaimerSelectsStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	c, err := NewClaimer("", client, time.Minute)
	if err != nil {
		t.Fatalf("default store: %v", err)
	}
	if _, ok := c.(*RedisClaimer); !ok {
		t.Fatalf("expected redis claimer by default, got %T", c)
	}

	c, err = NewClaimer(StoreLocal, nil, time.Minute)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	if _, ok := c.(*LocalClaimer); !ok {
		t.Fatalf("expected local claimer, got %T", c)
	}

	if _, err := NewClaimer("memcached", client, time.Minute); err == nil {
		t.Fatalf("expected unknown store to be rejected")
	}
	if _, err := NewClaimer(StoreRedis, nil, time.Minute); err == nil {
		t.Fatalf("expected redis store without a client to be rejected")
	}
}
