// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides the Postgres-backed calendar item store: the
// durable record of events derived from a syllabus, keyed by syllabus and
// user.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syllabuskitty/engine/internal/models"
)

// db is the slice of pgxpool.Pool the store uses; tests stand a mock behind
// it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CalendarItemStore persists derived calendar items in Postgres.
type CalendarItemStore struct {
	pool db
}

// NewCalendarItemStore creates a calendar item store backed by the given
// Postgres pool. It ensures the calendar_items table exists on creation.
func NewCalendarItemStore(ctx context.Context, pool *pgxpool.Pool) (*CalendarItemStore, error) {
	s := &CalendarItemStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure calendar item schema: %w", err)
	}
	slog.Info("calendar item store initialised")
	return s, nil
}

func (s *CalendarItemStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS calendar_items (
			id           UUID PRIMARY KEY,
			syllabus_id  TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			course_name  TEXT DEFAULT '',
			event_json   JSONB NOT NULL,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_items_syllabus_user ON calendar_items(syllabus_id, user_id);
		CREATE INDEX IF NOT EXISTS idx_items_kind ON calendar_items(kind);
	`)
	return err
}

const insertItemSQL = `
	INSERT INTO calendar_items (id, syllabus_id, user_id, kind, course_name, event_json)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// Store persists a batch of calendar items. It attempts a single batch
// insert first; on any failure it falls back to inserting items one at a
// time, continuing past individual failures, and errors only when zero
// items could be persisted. One malformed row must not lose the rest of
// the syllabus.
func (s *CalendarItemStore) Store(ctx context.Context, items []models.CalendarItem) error {
	if len(items) == 0 {
		return nil
	}

	batchErr := s.storeBatch(ctx, items)
	if batchErr == nil {
		return nil
	}

	slog.Warn("batch insert of calendar items failed, retrying individually",
		"count", len(items),
		"error", batchErr,
	)

	succeeded := 0
	var lastErr error
	for _, item := range items {
		if err := s.insertOne(ctx, item); err != nil {
			lastErr = err
			slog.Error("calendar item insert failed",
				"item_id", item.ID,
				"summary", item.Event.Summary,
				"error", err,
			)
			continue
		}
		succeeded++
	}

	if succeeded == 0 {
		return fmt.Errorf("all %d calendar item inserts failed: %w", len(items), lastErr)
	}

	slog.Info("calendar items persisted with partial success",
		"succeeded", succeeded,
		"failed", len(items)-succeeded,
	)
	return nil
}

// storeBatch inserts all items in a single transaction.
func (s *CalendarItemStore) storeBatch(ctx context.Context, items []models.CalendarItem) error {
	batch := &pgx.Batch{}
	for _, item := range items {
		eventJSON, err := json.Marshal(item.Event)
		if err != nil {
			return fmt.Errorf("marshal event payload for %s: %w", item.ID, err)
		}
		batch.Queue(insertItemSQL, item.ID, item.SyllabusID, item.UserID, string(item.Kind), item.CourseName, eventJSON)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range items {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *CalendarItemStore) insertOne(ctx context.Context, item models.CalendarItem) error {
	eventJSON, err := json.Marshal(item.Event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertItemSQL,
		item.ID, item.SyllabusID, item.UserID, string(item.Kind), item.CourseName, eventJSON)
	return err
}

// Fetch returns the calendar items for a syllabus, filtered by the
// requesting user. Items are never visible cross-user.
func (s *CalendarItemStore) Fetch(ctx context.Context, syllabusID, userID string) ([]models.CalendarItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, syllabus_id, user_id, kind, course_name, event_json, created_at
		FROM calendar_items
		WHERE syllabus_id = $1 AND user_id = $2
		ORDER BY created_at, id
	`, syllabusID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// collectItems scans rows into calendar items.
func collectItems(rows pgx.Rows) ([]models.CalendarItem, error) {
	var items []models.CalendarItem
	for rows.Next() {
		var item models.CalendarItem
		var kind string
		var eventJSON []byte
		if err := rows.Scan(&item.ID, &item.SyllabusID, &item.UserID, &kind, &item.CourseName, &eventJSON, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Kind = models.ItemKind(kind)
		if err := json.Unmarshal(eventJSON, &item.Event); err != nil {
			return nil, fmt.Errorf("unmarshal event payload for %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
