package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pmrelay/pmrelay/internal/store"
)

// Run exercises a minimal compliance suite against a store.Documents implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Documents) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	dirKey := store.DirectoryKey(42, 1001)
	logKey := store.CorrelationKey(42, -1001234)

	// Missing documents
	if _, err := s.Load(ctx, dirKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Load missing: want ErrNotFound, got %v", err)
	}
	if _, err := s.Save(ctx, dirKey, nil, "-1001234"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Save missing: want ErrNotFound, got %v", err)
	}
	if err := s.Reset(ctx, dirKey); err != nil {
		t.Fatalf("Reset missing: %v", err)
	}

	// Create and load
	created, err := s.Create(ctx, dirKey, "-1001234")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Text != "-1001234" || created.UpdatedAt.IsZero() {
		t.Fatalf("Create: got %+v", created)
	}
	got, err := s.Load(ctx, dirKey)
	if err != nil || got.Text != "-1001234" {
		t.Fatalf("Load: got=%+v err=%v", got, err)
	}

	// Save with and without prev
	text := "-1001234;5:v7_0_0_0_900:Zoë 🤖"
	saved, err := s.Save(ctx, dirKey, got, text)
	if err != nil || saved.Text != text {
		t.Fatalf("Save: got=%+v err=%v", saved, err)
	}
	if got, err := s.Load(ctx, dirKey); err != nil || got.Text != text {
		t.Fatalf("Load after Save: got=%+v err=%v", got, err)
	}
	text = "-1001234;5:900:Zoë 🤖"
	if _, err := s.Save(ctx, dirKey, nil, text); err != nil {
		t.Fatalf("Save nil prev: %v", err)
	}
	if got, err := s.Load(ctx, dirKey); err != nil || got.Text != text {
		t.Fatalf("Load after Save nil prev: got=%+v err=%v", got, err)
	}

	// Keys are independent
	if _, err := s.Load(ctx, logKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Load other key: want ErrNotFound, got %v", err)
	}
	if _, err := s.Create(ctx, logKey, "5-10:100"); err != nil {
		t.Fatalf("Create other key: %v", err)
	}
	if got, err := s.Load(ctx, dirKey); err != nil || got.Text != text {
		t.Fatalf("Load after other Create: got=%+v err=%v", got, err)
	}

	// Size limit
	tooLong := strings.Repeat("x", store.MaxTextLen+1)
	if _, err := s.Save(ctx, logKey, nil, tooLong); !errors.Is(err, store.ErrTooLarge) {
		t.Fatalf("Save too large: want ErrTooLarge, got %v", err)
	}
	if got, err := s.Load(ctx, logKey); err != nil || got.Text != "5-10:100" {
		t.Fatalf("Load after rejected Save: got=%+v err=%v", got, err)
	}
	full := strings.Repeat("y", store.MaxTextLen)
	if _, err := s.Save(ctx, logKey, nil, full); err != nil {
		t.Fatalf("Save at limit: %v", err)
	}

	// Create replaces
	if _, err := s.Create(ctx, logKey, "6-11:101"); err != nil {
		t.Fatalf("Create replace: %v", err)
	}
	if got, err := s.Load(ctx, logKey); err != nil || got.Text != "6-11:101" {
		t.Fatalf("Load after replace: got=%+v err=%v", got, err)
	}

	// Reset
	if err := s.Reset(ctx, dirKey); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := s.Load(ctx, dirKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Load after Reset: want ErrNotFound, got %v", err)
	}
	if _, err := s.Load(ctx, logKey); err != nil {
		t.Fatalf("Reset must not touch other keys: %v", err)
	}

	// LoadOrCreate
	b, fresh, err := store.LoadOrCreate(ctx, s, dirKey, "-1")
	if err != nil || !fresh || b.Text != "-1" {
		t.Fatalf("LoadOrCreate missing: b=%+v fresh=%v err=%v", b, fresh, err)
	}
	b, fresh, err = store.LoadOrCreate(ctx, s, dirKey, "-2")
	if err != nil || fresh || b.Text != "-1" {
		t.Fatalf("LoadOrCreate existing: b=%+v fresh=%v err=%v", b, fresh, err)
	}
}
