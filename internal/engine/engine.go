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

// Package engine orchestrates one extraction run end to end: normalize the
// collaborator payload, derive typed items, persist them, materialize the
// external calendar, build the notification schedule, and fire any
// reminders that are already due.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syllabuskitty/engine/internal/classify"
	"github.com/syllabuskitty/engine/internal/extraction"
	"github.com/syllabuskitty/engine/internal/gcal"
	"github.com/syllabuskitty/engine/internal/models"
	"github.com/syllabuskitty/engine/internal/notify"
)

// ItemStore is the persistence seam for derived calendar items.
type ItemStore interface {
	Store(ctx context.Context, items []models.CalendarItem) error
	Fetch(ctx context.Context, syllabusID, userID string) ([]models.CalendarItem, error)
}

// CalendarAPIFactory builds a calendar API client authenticated as the
// requesting user. Tokens arrive per request and are never stored.
type CalendarAPIFactory func(ctx context.Context, accessToken string) gcal.CalendarAPI

// ImmediateDispatcher fires reminders for items already inside the advance
// window at creation time. Implemented by notify.Dispatcher.
type ImmediateDispatcher interface {
	ImmediateCheck(ctx context.Context, items []models.CalendarItem, rcpt notify.Recipient, daysAdvance int, loc *time.Location) notify.SweepResult
}

// Engine wires the derivation pipeline together.
type Engine struct {
	items       ItemStore
	calendarAPI CalendarAPIFactory
	scheduler   *notify.Scheduler
	dispatcher  ImmediateDispatcher
	timeZone    string
	loc         *time.Location
	daysAdvance int
}

// Config configures an Engine.
type Config struct {
	Items       ItemStore
	CalendarAPI CalendarAPIFactory
	Scheduler   *notify.Scheduler
	Dispatcher  ImmediateDispatcher

	// TimeZone is the IANA zone for new calendars and reminder display.
	TimeZone string

	// DaysAdvance is the default notification lead time in days.
	DaysAdvance int
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}
	return &Engine{
		items:       cfg.Items,
		calendarAPI: cfg.CalendarAPI,
		scheduler:   cfg.Scheduler,
		dispatcher:  cfg.Dispatcher,
		timeZone:    cfg.TimeZone,
		loc:         loc,
		daysAdvance: cfg.DaysAdvance,
	}, nil
}

// ProcessRequest is one extraction run for one user's syllabus.
type ProcessRequest struct {
	SyllabusID    string
	UserID        string
	UserEmail     string
	UserName      string
	AccessToken   string
	RawExtraction string

	// DaysAdvance overrides the engine default when positive.
	DaysAdvance int
}

// ProcessResult summarizes one run. Counts are per stage; a partially
// failed stage still lets the run continue.
type ProcessResult struct {
	CourseName     string             `json:"course_name"`
	Verdict        extraction.Verdict `json:"verdict"`
	Notes          []string           `json:"notes,omitempty"`
	ItemsDerived   int                `json:"items_derived"`
	ItemsStored    int                `json:"items_stored"`
	CalendarID     string             `json:"calendar_id"`
	Fallback       bool               `json:"fallback"`
	EventsCreated  int                `json:"events_created"`
	EventsFailed   int                `json:"events_failed"`
	Scheduled      int                `json:"notifications_scheduled"`
	ImmediateSent  int                `json:"immediate_reminders_sent"`
	FailedSummary  []string           `json:"failed_events,omitempty"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
}

// Process runs the full pipeline. A *extraction.FormatError means the
// payload was unusable; storage failure aborts before any external calls.
// Everything past storage uses partial-failure accounting and never aborts
// the run.
func (e *Engine) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	norm, err := extraction.Normalize(req.RawExtraction)
	if err != nil {
		return nil, err
	}

	items, deriveNotes := extraction.BuildItems(req.SyllabusID, req.UserID, norm.Payload)

	result := &ProcessResult{
		CourseName:   norm.Payload.CourseName,
		Verdict:      norm.Verdict,
		Notes:        append(norm.Notes, deriveNotes...),
		ItemsDerived: len(items),
	}

	if len(items) == 0 {
		slog.Info("extraction yielded no calendar items",
			"syllabus_id", req.SyllabusID,
			"course", result.CourseName,
		)
		return result, nil
	}

	if err := e.items.Store(ctx, items); err != nil {
		return nil, fmt.Errorf("store calendar items: %w", err)
	}
	result.ItemsStored = len(items)

	api := e.calendarAPI(ctx, req.AccessToken)
	mat := gcal.NewMaterializer(api, e.timeZone)
	matRes := mat.Materialize(ctx, result.CourseName, items)

	result.CalendarID = matRes.CalendarID
	result.Fallback = matRes.Fallback
	result.FallbackReason = matRes.FallbackReason
	result.EventsCreated = len(matRes.Created)
	result.EventsFailed = len(matRes.Failed)
	for _, f := range matRes.Failed {
		result.FailedSummary = append(result.FailedSummary, f.Summary)
	}

	daysAdvance := req.DaysAdvance
	if daysAdvance <= 0 {
		daysAdvance = e.daysAdvance
	}
	rcpt := notify.Recipient{
		UserID: req.UserID,
		Email:  req.UserEmail,
		Name:   req.UserName,
	}

	scheduled, err := e.scheduler.Schedule(ctx, items, rcpt, daysAdvance)
	if err != nil {
		// Items and events already exist; report the run with the
		// scheduling failure noted rather than failing it outright.
		slog.Error("notification scheduling failed",
			"syllabus_id", req.SyllabusID,
			"error", err,
		)
		result.Notes = append(result.Notes, fmt.Sprintf("notification scheduling failed: %v", err))
	}
	result.Scheduled = scheduled

	immediate := e.dispatcher.ImmediateCheck(ctx, items, rcpt, daysAdvance, e.loc)
	result.ImmediateSent = immediate.Sent

	slog.Info("extraction run complete",
		"syllabus_id", req.SyllabusID,
		"user_id", req.UserID,
		"course", result.CourseName,
		"verdict", result.Verdict,
		"items", result.ItemsStored,
		"events_created", result.EventsCreated,
		"events_failed", result.EventsFailed,
		"scheduled", result.Scheduled,
		"immediate_sent", result.ImmediateSent,
	)
	return result, nil
}

// Deadlines returns the stored assessment items for a syllabus in due-date
// order, plus the recurring meetings in weekday order.
func (e *Engine) Deadlines(ctx context.Context, syllabusID, userID string) (assessments, meetings []models.CalendarItem, err error) {
	items, err := e.items.Fetch(ctx, syllabusID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch calendar items: %w", err)
	}
	for _, item := range items {
		switch item.Kind {
		case models.KindAssessment:
			assessments = append(assessments, item)
		case models.KindRecurringMeeting:
			meetings = append(meetings, item)
		}
	}
	classify.SortAssessments(assessments)
	classify.SortMeetings(meetings)
	return assessments, meetings, nil
}
