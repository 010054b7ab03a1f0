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

// Package notify builds, stores, and dispatches advance-notice reminder
// schedules for assessment calendar items.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// db is the slice of pgxpool.Pool the store uses; tests stand a mock behind
// it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Schedule statuses. Scheduled rows are pending; sending marks a claimed
// row mid-dispatch; sent and failed are terminal.
const (
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
)

// Schedule is one pending or resolved reminder for an assessment item.
type Schedule struct {
	ID               int64
	UserID           string
	SyllabusID       string
	CalendarItemID   string
	CourseName       string
	EventTitle       string
	EventType        string
	EventDate        string // human formatted, shown in the reminder
	NotificationDate time.Time
	Status           string
	RecipientEmail   string
	RecipientName    string
	DaysAdvance      int
	ErrorMessage     string
	ClaimedAt        *time.Time
	SentAt           *time.Time
	FailedAt         *time.Time
	CreatedAt        time.Time
}

// ScheduleStore persists notification schedules in Postgres.
type ScheduleStore struct {
	pool db
}

// NewScheduleStore creates a schedule store backed by the given Postgres
// pool. It ensures the notification_schedules table exists on creation.
func NewScheduleStore(ctx context.Context, pool *pgxpool.Pool) (*ScheduleStore, error) {
	s := &ScheduleStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure notification schedule schema: %w", err)
	}
	slog.Info("notification schedule store initialised")
	return s, nil
}

func (s *ScheduleStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS notification_schedules (
			id                BIGSERIAL PRIMARY KEY,
			user_id           TEXT NOT NULL,
			syllabus_id       TEXT NOT NULL,
			calendar_item_id  UUID NOT NULL,
			course_name       TEXT DEFAULT '',
			event_title       TEXT NOT NULL,
			event_type        TEXT NOT NULL,
			event_date        TEXT NOT NULL,
			notification_date TIMESTAMPTZ NOT NULL,
			status            TEXT NOT NULL DEFAULT 'scheduled',
			recipient_email   TEXT NOT NULL,
			recipient_name    TEXT DEFAULT '',
			days_advance      INT NOT NULL,
			error_message     TEXT DEFAULT '',
			claimed_at        TIMESTAMPTZ,
			sent_at           TIMESTAMPTZ,
			failed_at         TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_due ON notification_schedules(status, notification_date);
		CREATE INDEX IF NOT EXISTS idx_schedules_user ON notification_schedules(user_id, syllabus_id);
	`)
	return err
}

const insertScheduleSQL = `
	INSERT INTO notification_schedules
		(user_id, syllabus_id, calendar_item_id, course_name, event_title,
		 event_type, event_date, notification_date, status,
		 recipient_email, recipient_name, days_advance)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// InsertBatch persists a batch of schedules. On batch failure it falls back
// to inserting rows one at a time, continuing past individual failures, and
// errors only when zero rows could be persisted.
func (s *ScheduleStore) InsertBatch(ctx context.Context, schedules []Schedule) error {
	if len(schedules) == 0 {
		return nil
	}

	batchErr := s.insertAll(ctx, schedules)
	if batchErr == nil {
		return nil
	}

	slog.Warn("batch insert of notification schedules failed, retrying individually",
		"count", len(schedules),
		"error", batchErr,
	)

	succeeded := 0
	var lastErr error
	for _, sched := range schedules {
		if err := s.insertOne(ctx, sched); err != nil {
			lastErr = err
			slog.Error("notification schedule insert failed",
				"calendar_item_id", sched.CalendarItemID,
				"event_title", sched.EventTitle,
				"error", err,
			)
			continue
		}
		succeeded++
	}

	if succeeded == 0 {
		return fmt.Errorf("all %d notification schedule inserts failed: %w", len(schedules), lastErr)
	}
	return nil
}

func (s *ScheduleStore) insertAll(ctx context.Context, schedules []Schedule) error {
	batch := &pgx.Batch{}
	for _, sched := range schedules {
		batch.Queue(insertScheduleSQL, scheduleArgs(sched)...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range schedules {
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

func (s *ScheduleStore) insertOne(ctx context.Context, sched Schedule) error {
	_, err := s.pool.Exec(ctx, insertScheduleSQL, scheduleArgs(sched)...)
	return err
}

func scheduleArgs(sched Schedule) []interface{} {
	return []interface{}{
		sched.UserID, sched.SyllabusID, sched.CalendarItemID, sched.CourseName,
		sched.EventTitle, sched.EventType, sched.EventDate,
		sched.NotificationDate.UTC(), StatusScheduled,
		sched.RecipientEmail, sched.RecipientName, sched.DaysAdvance,
	}
}

const selectScheduleSQL = `
	SELECT id, user_id, syllabus_id, calendar_item_id, course_name,
	       event_title, event_type, event_date, notification_date, status,
	       recipient_email, recipient_name, days_advance, error_message,
	       claimed_at, sent_at, failed_at, created_at
	FROM notification_schedules
`

// ListDue returns schedules whose notification date falls inside
// [now, now+window) and that have not been claimed yet.
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time, window time.Duration) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, selectScheduleSQL+`
		WHERE status = $1 AND notification_date >= $2 AND notification_date < $3
		ORDER BY notification_date, id
	`, StatusScheduled, now.UTC(), now.UTC().Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListByUser returns all schedules for a user, optionally filtered by
// syllabus, newest notification first.
func (s *ScheduleStore) ListByUser(ctx context.Context, userID, syllabusID string) ([]Schedule, error) {
	query := selectScheduleSQL + ` WHERE user_id = $1`
	args := []interface{}{userID}
	if syllabusID != "" {
		query += ` AND syllabus_id = $2`
		args = append(args, syllabusID)
	}
	query += ` ORDER BY notification_date DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// Claim moves a schedule from scheduled to sending and stamps the claim
// time. It returns false when another dispatcher got there first; the loser
// must not send.
func (s *ScheduleStore) Claim(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_schedules
		SET status = $1, claimed_at = NOW()
		WHERE id = $2 AND status = $3
	`, StatusSending, id, StatusScheduled)
	if err != nil {
		return false, fmt.Errorf("claim schedule %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimStale returns schedules claimed before the given cutoff to
// scheduled. A dispatcher killed between Claim and MarkSent/MarkFailed
// leaves its row in sending; without this the row would never be listed as
// due again.
func (s *ScheduleStore) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_schedules
		SET status = $1, claimed_at = NULL
		WHERE status = $2 AND claimed_at < $3
	`, StatusScheduled, StatusSending, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSent records a successful delivery. Terminal.
func (s *ScheduleStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_schedules
		SET status = $1, sent_at = $2
		WHERE id = $3
	`, StatusSent, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark schedule %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed records a delivery failure. Terminal; failed schedules are
// never retried by the sweep.
func (s *ScheduleStore) MarkFailed(ctx context.Context, id int64, at time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_schedules
		SET status = $1, failed_at = $2, error_message = $3
		WHERE id = $4
	`, StatusFailed, at.UTC(), reason, id)
	if err != nil {
		return fmt.Errorf("mark schedule %d failed: %w", id, err)
	}
	return nil
}

func collectSchedules(rows pgx.Rows) ([]Schedule, error) {
	var schedules []Schedule
	for rows.Next() {
		var sched Schedule
		if err := rows.Scan(
			&sched.ID, &sched.UserID, &sched.SyllabusID, &sched.CalendarItemID,
			&sched.CourseName, &sched.EventTitle, &sched.EventType, &sched.EventDate,
			&sched.NotificationDate, &sched.Status,
			&sched.RecipientEmail, &sched.RecipientName, &sched.DaysAdvance,
			&sched.ErrorMessage, &sched.ClaimedAt, &sched.SentAt, &sched.FailedAt, &sched.CreatedAt,
		); err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}
