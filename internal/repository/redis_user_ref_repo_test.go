package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
)

func setupTestRedis(t *testing.T) (*RedisUserRefRepo, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	repo, err := NewRedisUserRefRepo("redis://"+s.Addr(), "test:")
	if err != nil {
		t.Fatalf("failed to create redis repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, s
}

func TestNewRedisUserRefRepo_PingSucceeds(t *testing.T) {
	repo, _ := setupTestRedis(t)

	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisUserRefRepo_InvalidURL(t *testing.T) {
	_, err := NewRedisUserRefRepo("://not-a-url", "")
	if err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestRedisUserRefRepo_GetMissing_ReturnsNil(t *testing.T) {
	repo, _ := setupTestRedis(t)

	got, err := repo.Get(context.Background(), "507f1f77bcf86cd799439011")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil snapshot, got %+v", got)
	}
}

func TestRedisUserRefRepo_PutThenGet(t *testing.T) {
	repo, s := setupTestRedis(t)
	ctx := context.Background()

	id := identifier.Identifier("507f1f77bcf86cd799439011")
	if err := repo.Put(ctx, model.UserSnapshot{ID: id, DisplayName: "Alice"}, false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.DisplayName != "Alice" || got.ID != id {
		t.Fatalf("Get = %+v, want Alice", got)
	}

	if v := s.HGet("test:id:"+id.String(), "synthesized"); v != "false" {
		t.Errorf("synthesized = %q, want %q", v, "false")
	}
	if ttl := s.TTL("test:id:" + id.String()); ttl != 0 {
		t.Errorf("entry should not expire, ttl = %v", ttl)
	}
}

func TestRedisUserRefRepo_PutOverwrites(t *testing.T) {
	repo, s := setupTestRedis(t)
	ctx := context.Background()

	id := identifier.Identifier("507f1f77bcf86cd799439011")
	if err := repo.Put(ctx, model.UserSnapshot{ID: id, DisplayName: "User-507f1"}, true); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := repo.Put(ctx, model.UserSnapshot{ID: id, DisplayName: "Alice"}, false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Alice")
	}
	if v := s.HGet("test:id:"+id.String(), "synthesized"); v != "false" {
		t.Errorf("synthesized = %q, want %q", v, "false")
	}
}

func TestRedisUserRefRepo_List_SortedByName(t *testing.T) {
	repo, _ := setupTestRedis(t)
	ctx := context.Background()

	entries := []model.UserSnapshot{
		{ID: "000000000000000000000003", DisplayName: "Carol"},
		{ID: "000000000000000000000001", DisplayName: "Alice"},
		{ID: "000000000000000000000002", DisplayName: "Bob"},
	}
	for _, e := range entries {
		if err := repo.Put(ctx, e, false); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(List) = %d, want 3", len(got))
	}
	want := []string{"Alice", "Bob", "Carol"}
	for i, name := range want {
		if got[i].DisplayName != name {
			t.Errorf("List[%d] = %q, want %q", i, got[i].DisplayName, name)
		}
	}
}

func TestRedisUserRefRepo_List_Empty(t *testing.T) {
	repo, _ := setupTestRedis(t)

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %d", len(got))
	}
}

func TestRedisUserRefRepo_ServerDown_ReturnsError(t *testing.T) {
	repo, s := setupTestRedis(t)
	s.Close()

	if _, err := repo.Get(context.Background(), "507f1f77bcf86cd799439011"); err == nil {
		t.Error("expected error when redis is unavailable")
	}
}
