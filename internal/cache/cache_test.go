package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"skywatch/internal/storage"
)

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) GetItem(context.Context, string) (string, error) {
	return "", errors.New("store down")
}
func (brokenStore) SetItem(context.Context, string, string) error { return errors.New("store down") }
func (brokenStore) RemoveItem(context.Context, string) error      { return errors.New("store down") }
func (brokenStore) Keys(context.Context) ([]string, error)        { return nil, errors.New("store down") }

type payload struct {
	Name string `json:"name"`
}

func testCache(store storage.Adapter) (*Cache, *time.Time) {
	now := time.UnixMilli(1700000000000)
	c := New(store, zerolog.Nop())
	c.Now = func() time.Time { return now }
	return c, &now
}

func TestSetAndGetRoundTrip(t *testing.T) {
	c, _ := testCache(storage.NewMemory())
	ctx := context.Background()
	c.SetWithTTL(ctx, "k", payload{Name: "fresh"}, time.Minute)
	var out payload
	if !c.Lookup(ctx, "k", false, &out) {
		t.Fatal("fresh entry missing")
	}
	if out.Name != "fresh" {
		t.Fatalf("got %q, want fresh", out.Name)
	}
}

func TestMissingKeyIsMiss(t *testing.T) {
	c, _ := testCache(storage.NewMemory())
	if _, ok := c.GetWithTTL(context.Background(), "absent", false); ok {
		t.Fatal("absent key reported as hit")
	}
}

func TestExpiredEntryEvicted(t *testing.T) {
	store := storage.NewMemory()
	c, now := testCache(store)
	ctx := context.Background()
	c.SetWithTTL(ctx, "k", payload{Name: "old"}, time.Minute)

	*now = now.Add(61 * time.Second)
	if _, ok := c.GetWithTTL(ctx, "k", false); ok {
		t.Fatal("expired entry served as fresh")
	}
	// Eviction removed the backing entry entirely.
	if _, err := store.GetItem(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired entry still stored, err = %v", err)
	}
}

func TestExpiredEntryServedWhenAllowed(t *testing.T) {
	c, now := testCache(storage.NewMemory())
	ctx := context.Background()
	c.SetWithTTL(ctx, "k", payload{Name: "stale"}, time.Minute)

	*now = now.Add(time.Hour)
	var out payload
	if !c.Lookup(ctx, "k", true, &out) {
		t.Fatal("stale read refused with allowExpired")
	}
	if out.Name != "stale" {
		t.Fatalf("got %q, want stale", out.Name)
	}
}

func TestEntryExactlyAtTTLIsFresh(t *testing.T) {
	c, now := testCache(storage.NewMemory())
	ctx := context.Background()
	c.SetWithTTL(ctx, "k", payload{Name: "edge"}, time.Minute)

	// age == ttl is not yet expired; expiry needs age > ttl.
	*now = now.Add(time.Minute)
	if _, ok := c.GetWithTTL(ctx, "k", false); !ok {
		t.Fatal("entry at exact TTL boundary reported expired")
	}
}

func TestClearPrefix(t *testing.T) {
	store := storage.NewMemory()
	c, _ := testCache(store)
	ctx := context.Background()
	c.SetWithTTL(ctx, "feeds:a", payload{}, time.Minute)
	c.SetWithTTL(ctx, "feeds:b", payload{}, time.Minute)
	c.SetWithTTL(ctx, "other:c", payload{}, time.Minute)

	c.ClearPrefix(ctx, "feeds:")
	if _, ok := c.GetWithTTL(ctx, "feeds:a", false); ok {
		t.Fatal("feeds:a survived ClearPrefix")
	}
	if _, ok := c.GetWithTTL(ctx, "feeds:b", false); ok {
		t.Fatal("feeds:b survived ClearPrefix")
	}
	if _, ok := c.GetWithTTL(ctx, "other:c", false); !ok {
		t.Fatal("other:c was cleared by mismatched prefix")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	store := storage.NewMemory()
	c, _ := testCache(store)
	ctx := context.Background()
	if err := store.SetItem(ctx, "k", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := c.GetWithTTL(ctx, "k", false); ok {
		t.Fatal("corrupt entry reported as hit")
	}
}

func TestBrokenStoreDegradesSilently(t *testing.T) {
	c, _ := testCache(brokenStore{})
	ctx := context.Background()
	// None of these may panic or error; the cache is best effort.
	c.SetWithTTL(ctx, "k", payload{Name: "x"}, time.Minute)
	if _, ok := c.GetWithTTL(ctx, "k", false); ok {
		t.Fatal("broken store reported a hit")
	}
	c.ClearPrefix(ctx, "feeds:")
}
