package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/store/storetest"
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Documents {
		s, _ := setupTestRedis(t)
		return s
	})
}

func TestRedisStore_Layout(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()
	key := store.DirectoryKey(7, 900)

	if _, err := s.Create(ctx, key, "-1001;5:900"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := mr.HGet("pmrelay:doc:7:directory:900", "text"); got != "-1001;5:900" {
		t.Fatalf("unexpected hash text %q", got)
	}
	if got := mr.HGet("pmrelay:doc:7:directory:900", "version"); got != "1" {
		t.Fatalf("unexpected version %q", got)
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()
	if err := s.HealthPing(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := s.HealthPing(ctx); err == nil {
		t.Fatal("expected ping to fail after server shutdown")
	}
	if _, err := s.Load(ctx, store.DirectoryKey(7, 900)); err == nil || IsNotFound(err) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

func TestNew_BadURL(t *testing.T) {
	if _, err := New(context.Background(), "://nope"); err == nil {
		t.Fatal("expected parse error")
	}
}
