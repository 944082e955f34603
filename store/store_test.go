package store_test

import (
	"context"
	"errors"
	"github.com/jt05610/benchtop/store"
	"path/filepath"
	"testing"
)

func open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJournal(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	lines := [][3]string{{"a", "tx", "G28"}, {"b", "tx", "M105"}, {"a", "rx", "ok"}, {"a", "result", "ok"}}
	for _, l := range lines {
		if err := s.Record(ctx, l[0], "home_all", l[1], l[2]); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := s.Entries(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].Text != "G28" || entries[2].Direction != "result" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	tail, err := s.Tail(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Text != "ok" || tail[1].Direction != "result" {
		t.Fatalf("unexpected tail %+v", tail)
	}
}

func TestLocations(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	if _, err := s.SaveLocation(ctx, "beaker", 10, 20, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveLocation(ctx, "beaker", 11, 20, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveLocation(ctx, "anvil", 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	loc, err := s.Location(ctx, "beaker")
	if err != nil {
		t.Fatal(err)
	}
	if loc.X != 11 {
		t.Fatalf("expected overwritten X, got %v", loc.X)
	}
	all, err := s.Locations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "anvil" {
		t.Fatalf("unexpected locations %+v", all)
	}
	if err := s.DeleteLocation(ctx, "beaker"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Location(ctx, "beaker"); !errors.Is(err, store.ErrLocationNotFound) {
		t.Fatalf("expected ErrLocationNotFound, got %v", err)
	}
	if err := s.DeleteLocation(ctx, "beaker"); !errors.Is(err, store.ErrLocationNotFound) {
		t.Fatalf("expected ErrLocationNotFound, got %v", err)
	}
}
