package dedup

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// newTestRedis connects to the server named by TALKTOME_TEST_REDIS
// (host:port) or skips.
func newTestRedis(t *testing.T, ttl time.Duration) *Redis {
	t.Helper()
	addr := os.Getenv("TALKTOME_TEST_REDIS")
	if addr == "" {
		t.Skip("TALKTOME_TEST_REDIS not set")
	}
	r, err := NewRedis(context.Background(), RedisConfig{Addr: addr, TTL: ttl})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedis_ClaimRelease(t *testing.T) {
	r := newTestRedis(t, time.Minute)
	ctx := context.Background()
	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { r.Release(context.Background(), key) })

	if ok, err := r.Claim(ctx, key); err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	if ok, err := r.Claim(ctx, key); err != nil || ok {
		t.Fatalf("second claim = %v, %v", ok, err)
	}
	if err := r.Release(ctx, key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, err := r.Claim(ctx, key); err != nil || !ok {
		t.Fatalf("claim after release = %v, %v", ok, err)
	}

	ttl, err := r.client.TTL(ctx, redisKey(key)).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v", ttl)
	}
}

func TestRedis_WrapDropsRedelivery(t *testing.T) {
	r := newTestRedis(t, time.Minute)
	id := fmt.Sprintf("delivery-%d", time.Now().UnixNano())
	t.Cleanup(func() { r.Release(context.Background(), id) })

	handle, calls := counter(nil)
	h := Wrap(r, handle, nil)
	for range 3 {
		if err := h(context.Background(), protocol.Action{ActionID: "yes", DeliveryID: id}); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	if *calls != 1 {
		t.Errorf("calls = %d", *calls)
	}
}

func TestNewRedis_Unreachable(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected ping error")
	}
}
