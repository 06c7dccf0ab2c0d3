// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package factstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pdiddy/novel-engine/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertClosesOpenWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertFacts(ctx, 3, []types.Fact{
		{Subject: "mc.cultivation", Predicate: "realm", Value: "qi_refining", Hard: true},
	}); err != nil {
		t.Fatalf("UpsertFacts: %v", err)
	}
	if err := store.UpsertFacts(ctx, 12, []types.Fact{
		{Subject: "mc.cultivation", Predicate: "realm", Value: "foundation", Hard: true},
	}); err != nil {
		t.Fatalf("UpsertFacts: %v", err)
	}

	tests := []struct {
		name    string
		chapter int
		want    any
	}{
		{"before first fact", 2, nil},
		{"first window", 5, "qi_refining"},
		{"boundary chapter sees new value", 12, "foundation"},
		{"after replacement", 20, "foundation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := store.Snapshot(ctx, tt.chapter)
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			got := snap.Get("mc.cultivation", "realm")
			if got != tt.want {
				t.Errorf("chapter %d: got %v, want %v", tt.chapter, got, tt.want)
			}
		})
	}
}

func TestQueryFactsFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	facts := []types.Fact{
		{Subject: "mc.inventory", Predicate: "spirit_stones", Value: float64(40), Hard: true},
		{Subject: "mc.cultivation", Predicate: "realm", Value: "qi_refining", Hard: true},
		{Subject: "mc.mood", Predicate: "current", Value: "wary", Hard: false},
	}
	if err := store.UpsertFacts(ctx, 1, facts); err != nil {
		t.Fatalf("UpsertFacts: %v", err)
	}

	hard, err := store.QueryFacts(ctx, 1, FactFilter{}, true)
	if err != nil {
		t.Fatalf("QueryFacts hard: %v", err)
	}
	if len(hard) != 2 {
		t.Errorf("got %d hard facts, want 2", len(hard))
	}

	bySubject, err := store.QueryFacts(ctx, 1, FactFilter{Subject: "mc.inventory"}, false)
	if err != nil {
		t.Fatalf("QueryFacts by subject: %v", err)
	}
	if len(bySubject) != 1 || bySubject[0].Predicate != "spirit_stones" {
		t.Errorf("unexpected subject query result: %+v", bySubject)
	}
	if bySubject[0].Confidence != 1.0 {
		t.Errorf("got confidence %v, want default 1.0", bySubject[0].Confidence)
	}
}

func TestInvalidateFact(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertFacts(ctx, 1, []types.Fact{
		{Subject: "mc.status", Predicate: "poisoned", Value: true, Hard: true},
	}); err != nil {
		t.Fatalf("UpsertFacts: %v", err)
	}
	facts, err := store.QueryFacts(ctx, 1, FactFilter{Subject: "mc.status"}, false)
	if err != nil || len(facts) != 1 {
		t.Fatalf("QueryFacts: %v (%d facts)", err, len(facts))
	}

	if err := store.InvalidateFact(ctx, facts[0].ID, 4, "antidote administered"); err != nil {
		t.Fatalf("InvalidateFact: %v", err)
	}

	snap, err := store.Snapshot(ctx, 8)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Get("mc.status", "poisoned") != nil {
		t.Error("invalidated fact still visible in snapshot")
	}
}

func TestSeedFromCanonIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	canon := types.Canon{
		HardRules: []types.HardRule{
			{Key: "system.warehouse.accessible", Value: false},
			{Key: "mc.cultivation.realm", Value: "mortal"},
		},
		SoftFacts: []types.SoftFact{
			{Key: types.CanonProtagonistName, Value: "Lin Fan"},
			{Key: types.CanonProtagonistAliases, Value: []any{"Ash", "the scavenger"}},
		},
	}

	for i := 0; i < 2; i++ {
		if err := store.SeedFromCanon(ctx, canon); err != nil {
			t.Fatalf("SeedFromCanon pass %d: %v", i+1, err)
		}
	}

	facts, err := store.QueryFacts(ctx, 0, FactFilter{Subject: "system.warehouse"}, false)
	if err != nil {
		t.Fatalf("QueryFacts: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("got %d facts for seeded key, want 1", len(facts))
	}

	aliases, err := store.Aliases(ctx, "Lin Fan")
	if err != nil {
		t.Fatalf("Aliases: %v", err)
	}
	if len(aliases) != 3 || aliases[0] != "Lin Fan" {
		t.Errorf("unexpected aliases: %v", aliases)
	}
}

func TestRenameEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	event := types.RenameEvent{
		CanonicalName: "Lin Fan",
		NewName:       "Sword Demon",
		Reason:        "adopted after the sect tournament",
		Chapter:       42,
	}
	if err := store.AddRenameEvent(ctx, event); err != nil {
		t.Fatalf("AddRenameEvent: %v", err)
	}

	aliases, err := store.Aliases(ctx, "Lin Fan")
	if err != nil {
		t.Fatalf("Aliases: %v", err)
	}
	if len(aliases) != 2 || aliases[1] != "Sword Demon" {
		t.Errorf("unexpected aliases after rename: %v", aliases)
	}

	events, err := store.RenameEvents(ctx, "Lin Fan")
	if err != nil {
		t.Fatalf("RenameEvents: %v", err)
	}
	if len(events) != 1 || events[0].NewName != "Sword Demon" || events[0].Chapter != 42 {
		t.Errorf("unexpected rename events: %+v", events)
	}
}
