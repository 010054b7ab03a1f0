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
	"github.com/syllabuskitty/engine/internal/mail"
	"github.com/syllabuskitty/engine/internal/models"
)

// ScheduleClaimer is the slice of ScheduleStore the dispatcher needs.
type ScheduleClaimer interface {
	ListDue(ctx context.Context, now time.Time, window time.Duration) ([]Schedule, error)
	Claim(ctx context.Context, id int64) (bool, error)
	ReclaimStale(ctx context.Context, before time.Time) (int64, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, at time.Time, reason string) error
}

// ReminderSender delivers one composed reminder. Implemented by mail.Sender.
type ReminderSender interface {
	SendReminder(ctx context.Context, to string, r mail.Reminder) (string, error)
}

// Deduper gates reminder delivery per calendar item. Seen is consulted
// before a send; Mark is called only after a send succeeds, so a failed
// delivery leaves the key free for the other path to retry. Implemented by
// dedup.Filter.
type Deduper interface {
	Seen(ctx context.Context, calendarItemID string) (bool, error)
	Mark(ctx context.Context, calendarItemID string) error
}

// defaultWindow matches the hourly sweep cadence: each run picks up
// everything due in the next hour.
const defaultWindow = time.Hour

// staleClaimAge bounds how long a schedule may sit in sending before a
// sweep returns it to scheduled. A dispatcher killed between claiming and
// marking must not strand the row forever.
const staleClaimAge = 15 * time.Minute

// Dispatcher claims due schedules and sends their reminders.
type Dispatcher struct {
	store  ScheduleClaimer
	sender ReminderSender
	dedup  Deduper
	window time.Duration
	now    func() time.Time
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Store  ScheduleClaimer
	Sender ReminderSender
	Dedup  Deduper

	// Window is the due-date horizon per sweep. Defaults to one hour.
	Window time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Dispatcher{
		store:  cfg.Store,
		sender: cfg.Sender,
		dedup:  cfg.Dedup,
		window: window,
		now:    time.Now,
	}
}

// SweepResult accounts for one sweep run.
type SweepResult struct {
	TotalDue int `json:"total_due"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// SendDue claims and dispatches every schedule due within the sweep window.
// Each schedule is claimed before sending so concurrent sweeps never
// double-send; claim losers are skipped. A dedup hit (the reminder already
// went out through the immediate check) marks the schedule sent without
// re-sending; the dedup key is marked only after a successful send, so a
// failed immediate send never blocks the sweep. Send failures are terminal:
// the schedule is marked failed and never retried.
func (d *Dispatcher) SendDue(ctx context.Context) (SweepResult, error) {
	now := d.now()

	// Return schedules stranded in sending by a dispatcher that died between
	// claiming and marking. They go back to scheduled and get picked up like
	// any other due row.
	if n, err := d.store.ReclaimStale(ctx, now.Add(-staleClaimAge)); err != nil {
		slog.Error("stale claim reclaim failed", "error", err)
	} else if n > 0 {
		slog.Warn("reclaimed stale claims", "count", n)
	}

	due, err := d.store.ListDue(ctx, now, d.window)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due schedules: %w", err)
	}

	result := SweepResult{TotalDue: len(due)}
	for _, sched := range due {
		claimed, err := d.store.Claim(ctx, sched.ID)
		if err != nil {
			slog.Error("schedule claim failed", "schedule_id", sched.ID, "error", err)
			result.Skipped++
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		seen, err := d.dedup.Seen(ctx, sched.CalendarItemID)
		if err != nil {
			// Dedup store unreachable: send anyway. A possible duplicate
			// beats a silently dropped reminder.
			slog.Warn("dedup check failed, sending anyway",
				"schedule_id", sched.ID,
				"error", err,
			)
			seen = false
		}
		if seen {
			if err := d.store.MarkSent(ctx, sched.ID, d.now()); err != nil {
				slog.Error("mark sent after dedup hit failed", "schedule_id", sched.ID, "error", err)
			}
			result.Skipped++
			continue
		}

		if err := d.send(ctx, sched); err != nil {
			slog.Error("reminder send failed",
				"schedule_id", sched.ID,
				"recipient", sched.RecipientEmail,
				"error", err,
			)
			if markErr := d.store.MarkFailed(ctx, sched.ID, d.now(), err.Error()); markErr != nil {
				slog.Error("mark failed failed", "schedule_id", sched.ID, "error", markErr)
			}
			result.Failed++
			continue
		}

		if err := d.dedup.Mark(ctx, sched.CalendarItemID); err != nil {
			slog.Error("dedup mark failed", "schedule_id", sched.ID, "error", err)
		}
		if err := d.store.MarkSent(ctx, sched.ID, d.now()); err != nil {
			slog.Error("mark sent failed", "schedule_id", sched.ID, "error", err)
		}
		result.Sent++
	}

	slog.Info("notification sweep complete",
		"total_due", result.TotalDue,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, sched Schedule) error {
	reminder := mail.Reminder{
		UserName:   sched.RecipientName,
		EventTitle: sched.EventTitle,
		CourseName: sched.CourseName,
		EventDate:  sched.EventDate,
		EventType:  sched.EventType,
		DaysUntil:  sched.DaysAdvance,
	}
	_, err := d.sender.SendReminder(ctx, sched.RecipientEmail, reminder)
	return err
}

// ImmediateCheck scans just-created assessment items for due dates already
// inside the advance window and sends their reminders right away instead of
// waiting for the sweep. The shared dedup key keeps the sweep from sending
// the same reminder again later.
func (d *Dispatcher) ImmediateCheck(ctx context.Context, items []models.CalendarItem, rcpt Recipient, daysAdvance int, loc *time.Location) SweepResult {
	if loc == nil {
		loc = time.UTC
	}
	now := d.now()
	horizon := now.Add(time.Duration(daysAdvance) * 24 * time.Hour)

	var result SweepResult
	for _, item := range items {
		if item.Kind != models.KindAssessment {
			continue
		}
		start, err := item.Event.Start.Resolve()
		if err != nil {
			continue
		}
		if start.Before(now) || start.After(horizon) {
			continue
		}
		result.TotalDue++

		seen, err := d.dedup.Seen(ctx, item.ID)
		if err != nil {
			slog.Warn("dedup check failed on immediate reminder, sending anyway",
				"item_id", item.ID,
				"error", err,
			)
			seen = false
		}
		if seen {
			result.Skipped++
			continue
		}

		daysUntil := int(start.Sub(now).Hours() / 24)
		if daysUntil < 0 {
			daysUntil = 0
		}

		reminder := mail.Reminder{
			UserName:       rcpt.Name,
			EventTitle:     classify.CleanTitle(item.Event.Summary),
			CourseName:     item.CourseName,
			EventDate:      start.In(loc).Format(eventDateFormat),
			EventType:      classify.AssessmentType(item.Event.Summary),
			DaysUntil:      daysUntil,
			AdditionalInfo: "This assessment was found when you created your calendar and is due soon!",
		}
		if _, err := d.sender.SendReminder(ctx, rcpt.Email, reminder); err != nil {
			// The key stays unmarked so the sweep still delivers this
			// reminder when its schedule comes due.
			slog.Error("immediate reminder send failed",
				"item_id", item.ID,
				"recipient", rcpt.Email,
				"error", err,
			)
			result.Failed++
			continue
		}
		if err := d.dedup.Mark(ctx, item.ID); err != nil {
			slog.Error("dedup mark failed on immediate reminder", "item_id", item.ID, "error", err)
		}
		result.Sent++
	}

	if result.TotalDue > 0 {
		slog.Info("immediate reminder check complete",
			"user_id", rcpt.UserID,
			"due_now", result.TotalDue,
			"sent", result.Sent,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
	}
	return result
}
