// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package factstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdiddy/novel-engine/pkg/types"
)

// FactFilter narrows fact queries.
type FactFilter struct {
	Subject   string
	Predicate string
}

// UpsertFacts commits facts established in a chapter. For each fact the
// open validity window of any existing fact with the same subject and
// predicate is closed at chapterNum before the new fact is inserted, so a
// snapshot never sees two values for one key. The whole batch runs in one
// transaction with an audit event per fact.
func (s *Store) UpsertFacts(ctx context.Context, chapterNum int, facts []types.Fact) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, fact := range facts {
		if _, err := tx.ExecContext(ctx,
			`UPDATE facts SET valid_to_chapter = ?
			 WHERE subject = ? AND predicate = ? AND valid_to_chapter IS NULL`,
			chapterNum, fact.Subject, fact.Predicate,
		); err != nil {
			return fmt.Errorf("closing validity window for %s.%s: %w", fact.Subject, fact.Predicate, err)
		}

		valueJSON, err := json.Marshal(fact.Value)
		if err != nil {
			return fmt.Errorf("encoding value for %s.%s: %w", fact.Subject, fact.Predicate, err)
		}
		qualifiersJSON, err := json.Marshal(orEmpty(fact.Qualifiers))
		if err != nil {
			return fmt.Errorf("encoding qualifiers for %s.%s: %w", fact.Subject, fact.Predicate, err)
		}

		validFrom := fact.ValidFrom
		if validFrom == 0 {
			validFrom = chapterNum
		}
		sourceChapter := fact.SourceChapter
		if sourceChapter == 0 {
			sourceChapter = chapterNum
		}
		confidence := fact.Confidence
		if confidence == 0 {
			confidence = 1.0
		}

		var validTo any
		if fact.ValidTo > 0 {
			validTo = fact.ValidTo
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO facts (subject, predicate, object_value, qualifiers,
				valid_from_chapter, valid_to_chapter, source_chapter, confidence, hard_flag)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fact.Subject, fact.Predicate, string(valueJSON), string(qualifiersJSON),
			validFrom, validTo, sourceChapter, confidence, boolInt(fact.Hard),
		)
		if err != nil {
			return fmt.Errorf("inserting fact %s.%s: %w", fact.Subject, fact.Predicate, err)
		}

		factID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading fact id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fact_events (fact_id, chapter_num, action, reason) VALUES (?, ?, ?, ?)`,
			factID, chapterNum, "upsert", "chapter_commit",
		); err != nil {
			return fmt.Errorf("recording fact event: %w", err)
		}
	}

	return tx.Commit()
}

// QueryFacts returns facts valid at chapterNum, optionally filtered by
// subject and predicate. hardOnly restricts the result to hard facts.
func (s *Store) QueryFacts(ctx context.Context, chapterNum int, filter FactFilter, hardOnly bool) ([]types.Fact, error) {
	clauses := []string{
		"valid_from_chapter <= ?",
		"(valid_to_chapter IS NULL OR valid_to_chapter > ?)",
	}
	args := []any{chapterNum, chapterNum}

	if hardOnly {
		clauses = append(clauses, "hard_flag = 1")
	}
	if filter.Subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, filter.Subject)
	}
	if filter.Predicate != "" {
		clauses = append(clauses, "predicate = ?")
		args = append(args, filter.Predicate)
	}

	query := `SELECT fact_id, subject, predicate, object_value, qualifiers,
		valid_from_chapter, valid_to_chapter, source_chapter, confidence, hard_flag
		FROM facts WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY subject, predicate, valid_from_chapter`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	var facts []types.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// Snapshot builds the hard state visible at chapterNum:
// subject → predicate → value.
func (s *Store) Snapshot(ctx context.Context, chapterNum int) (types.Snapshot, error) {
	facts, err := s.QueryFacts(ctx, chapterNum, FactFilter{}, true)
	if err != nil {
		return nil, err
	}

	snapshot := make(types.Snapshot)
	for _, fact := range facts {
		preds, ok := snapshot[fact.Subject]
		if !ok {
			preds = make(map[string]any)
			snapshot[fact.Subject] = preds
		}
		preds[fact.Predicate] = fact.Value
	}
	return snapshot, nil
}

// InvalidateFact closes a fact's validity window with an audit reason.
func (s *Store) InvalidateFact(ctx context.Context, factID int64, chapterNum int, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE facts SET valid_to_chapter = ? WHERE fact_id = ?`, chapterNum, factID,
	); err != nil {
		return fmt.Errorf("invalidating fact %d: %w", factID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fact_events (fact_id, chapter_num, action, reason) VALUES (?, ?, ?, ?)`,
		factID, chapterNum, "invalidate", reason,
	); err != nil {
		return fmt.Errorf("recording invalidation event: %w", err)
	}
	return tx.Commit()
}

// SeedFromCanon inserts canon hard rules as chapter-0 facts and registers
// the protagonist entity with its aliases. Seeding is idempotent: keys
// that already have facts are left alone.
func (s *Store) SeedFromCanon(ctx context.Context, canon types.Canon) error {
	for _, rule := range canon.HardRules {
		subject, predicate, ok := splitRuleKey(rule.Key)
		if !ok {
			continue
		}
		existing, err := s.QueryFacts(ctx, 0, FactFilter{Subject: subject, Predicate: predicate}, false)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		if err := s.UpsertFacts(ctx, 0, []types.Fact{{
			Subject:   subject,
			Predicate: predicate,
			Value:     rule.Value,
			Hard:      true,
		}}); err != nil {
			return err
		}
	}

	if canonical := canon.SoftString(types.CanonProtagonistName); canonical != "" {
		aliases := canon.SoftStrings(types.CanonProtagonistAliases)
		if err := s.UpsertEntity(ctx, canonical, "character", aliases); err != nil {
			return err
		}
	}
	return nil
}

// splitRuleKey splits "system.warehouse.accessible" into subject
// "system.warehouse" and predicate "accessible".
func splitRuleKey(key string) (subject, predicate string, ok bool) {
	idx := strings.LastIndex(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func scanFact(rows *sql.Rows) (types.Fact, error) {
	var (
		fact           types.Fact
		valueJSON      sql.NullString
		qualifiersJSON sql.NullString
		validTo        sql.NullInt64
		hardFlag       int
	)
	if err := rows.Scan(&fact.ID, &fact.Subject, &fact.Predicate, &valueJSON, &qualifiersJSON,
		&fact.ValidFrom, &validTo, &fact.SourceChapter, &fact.Confidence, &hardFlag); err != nil {
		return types.Fact{}, fmt.Errorf("scanning fact: %w", err)
	}

	if valueJSON.Valid {
		if err := json.Unmarshal([]byte(valueJSON.String), &fact.Value); err != nil {
			return types.Fact{}, fmt.Errorf("decoding fact value: %w", err)
		}
	}
	if qualifiersJSON.Valid && qualifiersJSON.String != "" {
		if err := json.Unmarshal([]byte(qualifiersJSON.String), &fact.Qualifiers); err != nil {
			return types.Fact{}, fmt.Errorf("decoding fact qualifiers: %w", err)
		}
	}
	if validTo.Valid {
		fact.ValidTo = int(validTo.Int64)
	}
	fact.Hard = hardFlag == 1
	return fact, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
