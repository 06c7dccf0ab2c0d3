// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package factstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pdiddy/novel-engine/pkg/types"
)

// UpsertEntity registers an entity under its canonical name, merging the
// given aliases into any already recorded.
func (s *Store) UpsertEntity(ctx context.Context, canonicalName, entityType string, aliases []string) error {
	existing, _, err := s.entityAliases(ctx, canonicalName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	merged := mergeAliases(existing, aliases)
	aliasesJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding aliases for %q: %w", canonicalName, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (canonical_name, type, aliases, rename_events)
		 VALUES (?, ?, ?, '[]')
		 ON CONFLICT(canonical_name) DO UPDATE SET
			type = excluded.type,
			aliases = excluded.aliases`,
		canonicalName, entityType, string(aliasesJSON),
	); err != nil {
		return fmt.Errorf("upserting entity %q: %w", canonicalName, err)
	}
	return nil
}

// Aliases returns every name the entity has gone by, canonical name first.
// An unknown entity yields just the name it was asked about.
func (s *Store) Aliases(ctx context.Context, canonicalName string) ([]string, error) {
	aliases, _, err := s.entityAliases(ctx, canonicalName)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{canonicalName}, nil
	}
	if err != nil {
		return nil, err
	}
	return append([]string{canonicalName}, aliases...), nil
}

// AddRenameEvent records that an entity took a new name in a chapter. The
// new name joins the alias list so later chapters may use either form.
func (s *Store) AddRenameEvent(ctx context.Context, event types.RenameEvent) error {
	aliases, events, err := s.entityAliases(ctx, event.CanonicalName)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.UpsertEntity(ctx, event.CanonicalName, "character", nil); err != nil {
			return err
		}
		aliases, events = nil, nil
	} else if err != nil {
		return err
	}

	aliases = mergeAliases(aliases, []string{event.NewName})
	events = append(events, event)

	aliasesJSON, err := json.Marshal(aliases)
	if err != nil {
		return fmt.Errorf("encoding aliases for %q: %w", event.CanonicalName, err)
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encoding rename events for %q: %w", event.CanonicalName, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE entities SET aliases = ?, rename_events = ? WHERE canonical_name = ?`,
		string(aliasesJSON), string(eventsJSON), event.CanonicalName,
	); err != nil {
		return fmt.Errorf("recording rename event for %q: %w", event.CanonicalName, err)
	}
	return nil
}

// RenameEvents returns the rename history for an entity, oldest first.
func (s *Store) RenameEvents(ctx context.Context, canonicalName string) ([]types.RenameEvent, error) {
	_, events, err := s.entityAliases(ctx, canonicalName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return events, err
}

func (s *Store) entityAliases(ctx context.Context, canonicalName string) ([]string, []types.RenameEvent, error) {
	var aliasesJSON, eventsJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT aliases, rename_events FROM entities WHERE canonical_name = ?`, canonicalName,
	).Scan(&aliasesJSON, &eventsJSON)
	if err != nil {
		return nil, nil, err
	}

	var aliases []string
	if aliasesJSON.Valid && aliasesJSON.String != "" {
		if err := json.Unmarshal([]byte(aliasesJSON.String), &aliases); err != nil {
			return nil, nil, fmt.Errorf("decoding aliases for %q: %w", canonicalName, err)
		}
	}
	var events []types.RenameEvent
	if eventsJSON.Valid && eventsJSON.String != "" {
		if err := json.Unmarshal([]byte(eventsJSON.String), &events); err != nil {
			return nil, nil, fmt.Errorf("decoding rename events for %q: %w", canonicalName, err)
		}
	}
	return aliases, events, nil
}

func mergeAliases(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	var merged []string
	for _, list := range [][]string{existing, incoming} {
		for _, alias := range list {
			if alias == "" || seen[alias] {
				continue
			}
			seen[alias] = true
			merged = append(merged, alias)
		}
	}
	if merged == nil {
		merged = []string{}
	}
	return merged
}
