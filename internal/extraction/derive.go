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

package extraction

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/syllabuskitty/engine/internal/models"
)

// BuildItems derives typed calendar items from a normalized payload,
// enforcing the kind invariants:
//
//   - Assessment items never carry a recurrence rule (extras are stripped).
//   - RecurringMeeting items carry exactly one rule (the first is kept when
//     several are present; events without any rule are skipped).
//
// Returned notes describe every enforcement action taken.
func BuildItems(syllabusID, userID string, p Payload) ([]models.CalendarItem, []string) {
	var items []models.CalendarItem
	var notes []string

	for _, ev := range p.Assessments.Events {
		if len(ev.Recurrence) > 0 {
			notes = append(notes, fmt.Sprintf("assessment %q carried a recurrence rule; stripped", ev.Summary))
			ev.Recurrence = nil
		}
		items = append(items, newItem(syllabusID, userID, models.KindAssessment, p.CourseName, ev))
	}

	for _, ev := range p.Recurring.Events {
		switch {
		case len(ev.Recurrence) == 0:
			notes = append(notes, fmt.Sprintf("recurring event %q had no recurrence rule; skipped", ev.Summary))
			continue
		case len(ev.Recurrence) > 1:
			notes = append(notes, fmt.Sprintf("recurring event %q had %d recurrence rules; kept the first", ev.Summary, len(ev.Recurrence)))
			ev.Recurrence = ev.Recurrence[:1]
		}
		items = append(items, newItem(syllabusID, userID, models.KindRecurringMeeting, p.CourseName, ev))
	}

	return items, notes
}

func newItem(syllabusID, userID string, kind models.ItemKind, courseName string, ev models.EventPayload) models.CalendarItem {
	return models.CalendarItem{
		ID:         uuid.NewString(),
		SyllabusID: syllabusID,
		UserID:     userID,
		Kind:       kind,
		CourseName: courseName,
		Event:      ev,
	}
}
