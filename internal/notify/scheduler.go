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

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syllabuskitty/engine/internal/classify"
	"github.com/syllabuskitty/engine/internal/models"
)

// eventDateFormat is the human-readable due date shown in reminders,
// rendered in the engine's display timezone.
const eventDateFormat = "January 02, 2006 at 03:04 PM"

// Recipient identifies who a schedule's reminder goes to.
type Recipient struct {
	UserID string
	Email  string
	Name   string
}

// ScheduleInserter is the slice of ScheduleStore the scheduler needs.
type ScheduleInserter interface {
	InsertBatch(ctx context.Context, schedules []Schedule) error
}

// Scheduler derives notification schedules from assessment calendar items.
type Scheduler struct {
	store ScheduleInserter
	loc   *time.Location
	now   func() time.Time
}

// NewScheduler creates a scheduler that renders due dates in loc.
func NewScheduler(store ScheduleInserter, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store: store,
		loc:   loc,
		now:   time.Now,
	}
}

// BuildSchedules derives one schedule per qualifying assessment item. An
// item qualifies when its start resolves to a timestamp and the resulting
// notification date (start minus the advance window) is strictly in the
// future. Past-due and unresolvable items are skipped, never errored.
func (s *Scheduler) BuildSchedules(items []models.CalendarItem, rcpt Recipient, daysAdvance int) []Schedule {
	now := s.now()

	var schedules []Schedule
	for _, item := range items {
		if item.Kind != models.KindAssessment {
			continue
		}

		start, err := item.Event.Start.Resolve()
		if err != nil {
			slog.Warn("skipping schedule for item with unresolvable start",
				"item_id", item.ID,
				"summary", item.Event.Summary,
				"error", err,
			)
			continue
		}

		notifyAt := start.Add(-time.Duration(daysAdvance) * 24 * time.Hour).UTC()
		if !notifyAt.After(now) {
			continue
		}

		schedules = append(schedules, Schedule{
			UserID:           rcpt.UserID,
			SyllabusID:       item.SyllabusID,
			CalendarItemID:   item.ID,
			CourseName:       item.CourseName,
			EventTitle:       classify.CleanTitle(item.Event.Summary),
			EventType:        classify.AssessmentType(item.Event.Summary),
			EventDate:        start.In(s.loc).Format(eventDateFormat),
			NotificationDate: notifyAt,
			Status:           StatusScheduled,
			RecipientEmail:   rcpt.Email,
			RecipientName:    rcpt.Name,
			DaysAdvance:      daysAdvance,
		})
	}
	return schedules
}

// Schedule builds and persists schedules for the given items, returning how
// many were stored.
func (s *Scheduler) Schedule(ctx context.Context, items []models.CalendarItem, rcpt Recipient, daysAdvance int) (int, error) {
	schedules := s.BuildSchedules(items, rcpt, daysAdvance)
	if len(schedules) == 0 {
		return 0, nil
	}
	if err := s.store.InsertBatch(ctx, schedules); err != nil {
		return 0, fmt.Errorf("persist %d notification schedules: %w", len(schedules), err)
	}
	slog.Info("notification schedules created",
		"user_id", rcpt.UserID,
		"count", len(schedules),
		"days_advance", daysAdvance,
	)
	return len(schedules), nil
}
