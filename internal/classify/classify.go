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

// Package classify provides pure text classification for derived calendar
// items: assessment weights, canonical event types, day-of-week extraction
// from recurrence rules, display-title cleaning, and display sort order.
// Every function is total — unknown input maps to a fallback value, never
// an error.
package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/teambition/rrule-go"

	"github.com/syllabuskitty/engine/internal/models"
)

var (
	weightRe = regexp.MustCompile(`(\d+)%`)

	// leadingMarkerRe strips decorative marker glyphs (emoji prefixes)
	// from event summaries.
	leadingMarkerRe = regexp.MustCompile(`^[^\w\s]+\s*`)

	// weightSuffixRe strips a trailing "(NN%)..." weight suffix.
	weightSuffixRe = regexp.MustCompile(`\s*\(\d+%\).*$`)
)

// dayNames maps RRULE BYDAY codes to full day names.
var dayNames = map[string]string{
	"MO": "Monday",
	"TU": "Tuesday",
	"WE": "Wednesday",
	"TH": "Thursday",
	"FR": "Friday",
	"SA": "Saturday",
	"SU": "Sunday",
}

// dayOrdinals orders full day names Monday=0 … Sunday=6 for display sorting.
var dayOrdinals = map[string]int{
	"Monday":    0,
	"Tuesday":   1,
	"Wednesday": 2,
	"Thursday":  3,
	"Friday":    4,
	"Saturday":  5,
	"Sunday":    6,
}

// unknownDayOrdinal sorts items with an undetermined day last.
const unknownDayOrdinal = 7

// Weight extracts an assessment weight percentage from the summary and
// description. The first "NN%" match wins. Returns nil when no weight is
// present — nil is distinct from an explicit 0% weight.
func Weight(summary, description string) *int {
	m := weightRe.FindStringSubmatch(summary + " " + description)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// AssessmentType maps a free-text summary to a canonical assessment type.
// Keyword precedence is fixed; the generic "Assessment" is the fallback.
func AssessmentType(summary string) string {
	lower := strings.ToLower(summary)
	switch {
	case containsAny(lower, "exam", "midterm", "final"):
		return "Exam"
	case strings.Contains(lower, "quiz"):
		return "Quiz"
	case strings.Contains(lower, "project"):
		return "Project"
	case containsAny(lower, "assignment", "homework"):
		return "Assignment"
	case strings.Contains(lower, "presentation"):
		return "Presentation"
	case containsAny(lower, "essay", "paper"):
		return "Paper"
	default:
		return "Assessment"
	}
}

// MeetingType maps a free-text summary to a canonical recurring-meeting type.
func MeetingType(summary string) string {
	lower := strings.ToLower(summary)
	switch {
	case strings.Contains(lower, "lecture"):
		return "Lecture"
	case strings.Contains(lower, "lab"):
		return "Lab"
	case strings.Contains(lower, "tutorial"):
		return "Tutorial"
	case containsAny(lower, "dgd", "discussion"):
		return "DGD"
	case strings.Contains(lower, "office"):
		return "Office Hours"
	default:
		return "Class"
	}
}

// DaysOfWeek extracts full day names from the BYDAY component of the first
// parseable recurrence rule. Multiple days are joined with ", ". Rules that
// cannot be parsed, or that carry no weekday set, yield "Unknown".
func DaysOfWeek(recurrence []string) string {
	for _, rule := range recurrence {
		opt, err := rrule.StrToROption(strings.TrimPrefix(rule, "RRULE:"))
		if err != nil || len(opt.Byweekday) == 0 {
			continue
		}
		names := make([]string, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			if name, ok := dayNames[wd.String()]; ok {
				names = append(names, name)
			} else {
				names = append(names, wd.String())
			}
		}
		return strings.Join(names, ", ")
	}
	return "Unknown"
}

// CleanTitle produces a display title from an event summary by stripping a
// leading marker-glyph run and a trailing weight suffix. Each strip is
// independent — either, both, or neither may apply.
func CleanTitle(summary string) string {
	cleaned := leadingMarkerRe.ReplaceAllString(summary, "")
	cleaned = weightSuffixRe.ReplaceAllString(cleaned, "")
	return cleaned
}

// SortAssessments orders assessment items ascending by due timestamp.
// Items whose start cannot be resolved sort last.
func SortAssessments(items []models.CalendarItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, erri := items[i].Event.Start.Resolve()
		tj, errj := items[j].Event.Start.Resolve()
		if erri != nil {
			return false
		}
		if errj != nil {
			return true
		}
		return ti.Before(tj)
	})
}

// SortMeetings orders recurring-meeting items by (day-of-week ordinal
// Monday=0…Sunday=6, start time). Items whose day could not be determined
// sort last.
func SortMeetings(items []models.CalendarItem) {
	sort.SliceStable(items, func(i, j int) bool {
		oi := firstDayOrdinal(items[i].Event.Recurrence)
		oj := firstDayOrdinal(items[j].Event.Recurrence)
		if oi != oj {
			return oi < oj
		}
		return items[i].Event.Start.DateTime < items[j].Event.Start.DateTime
	})
}

// firstDayOrdinal returns the ordinal of the first BYDAY weekday in the
// recurrence rules, or unknownDayOrdinal when none can be determined.
func firstDayOrdinal(recurrence []string) int {
	days := DaysOfWeek(recurrence)
	if days == "Unknown" {
		return unknownDayOrdinal
	}
	first := strings.SplitN(days, ", ", 2)[0]
	if ord, ok := dayOrdinals[first]; ok {
		return ord
	}
	return unknownDayOrdinal
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
