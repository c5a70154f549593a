package inmem

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestStoreMatchesModel runs random operation sequences on advisory records
// and checks every result against a plain map.
func TestStoreMatchesModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New()
		model := make(map[string]string)
		ctx := context.Background()

		keys := rapid.SampledFrom([]string{"a", "b", "c"})
		owners := rapid.SampledFrom([]string{"x", "y"})

		steps := rapid.IntRange(1, 50).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			key := keys.Draw(rt, "key")
			owner := owners.Draw(rt, "owner")
			held, exists := model[key]

			switch op := rapid.IntRange(0, 4).Draw(rt, "op"); op {
			case 0:
				ok, err := s.SetNX(ctx, key, owner, 0)
				if err != nil {
					rt.Fatalf("SetNX() error = %v", err)
				}
				if ok == exists {
					rt.Fatalf("SetNX(%q) = %v, record exists = %v", key, ok, exists)
				}
				if ok {
					model[key] = owner
				}
			case 1:
				value, found, err := s.Get(ctx, key)
				if err != nil {
					rt.Fatalf("Get() error = %v", err)
				}
				if found != exists || value != held {
					rt.Fatalf("Get(%q) = %q, %v, want %q, %v", key, value, found, held, exists)
				}
			case 2:
				ok, err := s.CompareAndDelete(ctx, key, owner)
				if err != nil {
					rt.Fatalf("CompareAndDelete() error = %v", err)
				}
				want := exists && held == owner
				if ok != want {
					rt.Fatalf("CompareAndDelete(%q, %q) = %v, want %v", key, owner, ok, want)
				}
				if ok {
					delete(model, key)
				}
			case 3:
				ok, err := s.CompareAndExpire(ctx, key, owner, time.Hour)
				if err != nil {
					rt.Fatalf("CompareAndExpire() error = %v", err)
				}
				if want := exists && held == owner; ok != want {
					rt.Fatalf("CompareAndExpire(%q, %q) = %v, want %v", key, owner, ok, want)
				}
			case 4:
				if err := s.Del(ctx, key); err != nil {
					rt.Fatalf("Del() error = %v", err)
				}
				delete(model, key)
			}

			if n := s.Len(); n != len(model) {
				rt.Fatalf("Len() = %d, want %d", n, len(model))
			}
		}
	})
}
