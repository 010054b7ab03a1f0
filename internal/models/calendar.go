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

// Package models defines the data structures shared across the engine.
package models

import (
	"fmt"
	"time"
)

// ItemKind distinguishes one-time graded deliverables from recurring
// class meetings.
type ItemKind string

const (
	KindAssessment       ItemKind = "assessment"
	KindRecurringMeeting ItemKind = "recurring_event"
)

// EventDateTime is one endpoint of an event in external-calendar format.
// Either DateTime (with an optional IANA TimeZone) or Date is set.
type EventDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Resolve parses the endpoint into a time.Time. Timestamps without an
// explicit UTC offset are interpreted in TimeZone (UTC if absent), matching
// what the extraction collaborator emits.
func (e EventDateTime) Resolve() (time.Time, error) {
	if e.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, e.DateTime); err == nil {
			return t, nil
		}
		loc := time.UTC
		if e.TimeZone != "" {
			if l, err := time.LoadLocation(e.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("2006-01-02T15:04:05", e.DateTime, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse event dateTime %q: %w", e.DateTime, err)
		}
		return t, nil
	}
	if e.Date != "" {
		t, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse event date %q: %w", e.Date, err)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("event has no start timestamp")
}

// EventPayload is the opaque event body pushed to the external calendar
// service. Field names match the service's wire format.
type EventPayload struct {
	Summary     string        `json:"summary"`
	Description string        `json:"description,omitempty"`
	Start       EventDateTime `json:"start"`
	End         EventDateTime `json:"end"`
	Recurrence  []string      `json:"recurrence,omitempty"`
	Location    string        `json:"location,omitempty"`
}

// CalendarItem is a derived, typed record owned by (user, syllabus).
// Items are created once per extraction run and never mutated.
//
// Invariants: Assessment items never carry a recurrence rule;
// RecurringMeeting items carry exactly one.
type CalendarItem struct {
	ID         string
	SyllabusID string
	UserID     string
	Kind       ItemKind
	CourseName string
	Event      EventPayload
	CreatedAt  time.Time
}
