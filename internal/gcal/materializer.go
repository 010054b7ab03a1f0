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

package gcal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/syllabuskitty/engine/internal/models"
)

// CalendarAPI is the slice of the calendar service the materializer needs.
// Implemented by Client.
type CalendarAPI interface {
	CreateCalendar(ctx context.Context, name, timeZone string) (string, error)
	InsertEvent(ctx context.Context, calendarID string, event models.EventPayload, sourceKey string) (string, error)
}

// sourceKeyNamespace is the UUID namespace for deterministic external-event
// source keys.
var sourceKeyNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// CreatedEvent records one successfully materialized item.
type CreatedEvent struct {
	ItemID  string
	EventID string
	Summary string
	Event   models.EventPayload
}

// FailedEvent records one item the calendar service rejected.
type FailedEvent struct {
	ItemID  string
	Summary string
	Error   string
}

// Result is the created/failed partition of one materialization run.
type Result struct {
	CalendarID   string
	CalendarName string
	Created      []CreatedEvent
	Failed       []FailedEvent

	// Fallback is set when calendar creation failed and events were
	// inserted into the account's primary calendar instead.
	// FallbackReason preserves the triggering error for diagnostics.
	Fallback       bool
	FallbackReason string
}

// Materializer pushes calendar items into the external calendar service.
type Materializer struct {
	api      CalendarAPI
	timeZone string
}

// NewMaterializer creates a materializer targeting the given API with the
// given default calendar timezone.
func NewMaterializer(api CalendarAPI, timeZone string) *Materializer {
	return &Materializer{api: api, timeZone: timeZone}
}

// Materialize creates a dedicated calendar named after the course and
// inserts every item's event payload into it. Individual insert failures
// never abort the batch; each item lands in either Created or Failed. When
// calendar creation itself fails (for example, insufficient account
// privilege) every event is inserted into the primary calendar instead and
// the result is tagged as a fallback.
func (m *Materializer) Materialize(ctx context.Context, courseName string, items []models.CalendarItem) Result {
	result := Result{CalendarName: courseName}

	calendarID, err := m.api.CreateCalendar(ctx, courseName, m.timeZone)
	if err != nil {
		slog.Warn("calendar creation failed, falling back to primary calendar",
			"course", courseName,
			"error", err,
		)
		result.Fallback = true
		result.FallbackReason = err.Error()
		calendarID = PrimaryCalendarID
	}
	result.CalendarID = calendarID

	for _, item := range items {
		eventID, err := m.api.InsertEvent(ctx, calendarID, item.Event, SourceKey(item))
		if err != nil {
			result.Failed = append(result.Failed, FailedEvent{
				ItemID:  item.ID,
				Summary: item.Event.Summary,
				Error:   err.Error(),
			})
			slog.Error("event insert failed",
				"calendar_id", calendarID,
				"summary", item.Event.Summary,
				"error", err,
			)
			continue
		}
		result.Created = append(result.Created, CreatedEvent{
			ItemID:  item.ID,
			EventID: eventID,
			Summary: item.Event.Summary,
			Event:   item.Event,
		})
	}

	slog.Info("materialization complete",
		"course", courseName,
		"calendar_id", calendarID,
		"created", len(result.Created),
		"failed", len(result.Failed),
		"fallback", result.Fallback,
	)

	return result
}

// SourceKey derives a deterministic key for an item's external event from
// its owning syllabus, user, kind, summary, and start. Re-running derivation
// for the same syllabus produces the same key for the same event, so
// duplicates created by re-materialization carry matching keys.
func SourceKey(item models.CalendarItem) string {
	seed := fmt.Sprintf("%s|%s|%s|%s|%s",
		item.SyllabusID, item.UserID, item.Kind, item.Event.Summary, item.Event.Start.DateTime)
	return uuid.NewSHA1(sourceKeyNamespace, []byte(seed)).String()
}
