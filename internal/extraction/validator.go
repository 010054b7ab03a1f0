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

// Package extraction validates and repairs the payload produced by the AI
// extraction collaborator, then derives typed calendar items from it.
//
// The collaborator is asked for a JSON array of exactly three objects
// (original extraction, assessment events, recurring events) but real
// responses arrive fenced in markdown, truncated to two elements, or as a
// single bare object. Normalize tolerates every shape it can and reports a
// FormatError only when the text is unparseable after fence stripping.
package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syllabuskitty/engine/internal/models"
)

// CourseNamePlaceholder is the terminal fallback when no block names the course.
const CourseNamePlaceholder = "Unknown Course"

// FormatError reports an extraction payload that could not be parsed even
// after repair. It is fatal to the request and never retried.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("extraction payload is not valid JSON: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Verdict tags how much repair the payload needed.
type Verdict string

const (
	// VerdictValid means the payload arrived as the expected 3-element array.
	VerdictValid Verdict = "valid"
	// VerdictRepaired means the payload deviated and a best-effort
	// structure was synthesized. Repair notes describe what happened.
	VerdictRepaired Verdict = "repaired"
)

// EventBlock is one of the two calendar-event objects in the payload.
type EventBlock struct {
	CourseName string                `json:"course_name"`
	Events     []models.EventPayload `json:"events"`
}

// Payload is the normalized extraction triple. The Events slices are always
// non-nil.
type Payload struct {
	Original    json.RawMessage
	Assessments EventBlock
	Recurring   EventBlock

	// CourseName is resolved through the fallback chain:
	// assessment block → recurring block → original extraction → placeholder.
	CourseName string
}

// Result pairs a normalized payload with its repair verdict.
type Result struct {
	Payload Payload
	Verdict Verdict
	Notes   []string
}

// Normalize parses the raw collaborator output into a normalized triple.
// Parse failures are recovered once by stripping code-fence markers; a
// second failure returns a *FormatError.
func Normalize(raw string) (*Result, error) {
	trimmed := strings.TrimSpace(raw)

	var root json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &root); err != nil {
		stripped := stripCodeFences(trimmed)
		if err2 := json.Unmarshal([]byte(stripped), &root); err2 != nil {
			return nil, &FormatError{Err: err2}
		}
	}

	res := &Result{Verdict: VerdictValid}

	switch firstByte(root) {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(root, &elems); err != nil {
			return nil, &FormatError{Err: err}
		}
		res.normalizeSequence(elems)
	case '{':
		res.normalizeObject(root)
	default:
		return nil, &FormatError{Err: fmt.Errorf("payload is neither an array nor an object")}
	}

	if res.Payload.Assessments.Events == nil {
		res.Payload.Assessments.Events = []models.EventPayload{}
	}
	if res.Payload.Recurring.Events == nil {
		res.Payload.Recurring.Events = []models.EventPayload{}
	}
	res.Payload.CourseName = res.resolveCourseName()

	return res, nil
}

// normalizeSequence handles array payloads of any length.
func (r *Result) normalizeSequence(elems []json.RawMessage) {
	switch {
	case len(elems) >= 3:
		r.Payload.Original = elems[0]
		r.decodeBlock(elems[1], &r.Payload.Assessments, "assessment")
		r.decodeBlock(elems[2], &r.Payload.Recurring, "recurring")
		if len(elems) > 3 {
			r.repair(fmt.Sprintf("payload had %d elements; extras ignored", len(elems)))
		}
	case len(elems) == 2:
		r.Payload.Original = elems[0]
		r.decodeBlock(elems[1], &r.Payload.Assessments, "assessment")
		r.repair("payload had 2 elements; recurring block defaulted to empty")
	case len(elems) == 1:
		r.repair("payload was a 1-element array")
		r.normalizeObject(elems[0])
	default:
		r.repair("payload was an empty array")
	}
}

// normalizeObject handles a single bare object: one carrying an "events" key
// is treated as an ad-hoc assessment block, anything else as the original
// extraction with empty event blocks.
func (r *Result) normalizeObject(obj json.RawMessage) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(obj, &probe); err != nil {
		r.repair("single object unparseable as mapping; treated as original extraction")
		r.Payload.Original = obj
		return
	}

	if _, ok := probe["events"]; ok {
		r.decodeBlock(obj, &r.Payload.Assessments, "assessment")
		r.repair("payload was a single object with events; treated as assessment block")
		return
	}

	r.Payload.Original = obj
	r.repair("payload was a single object without events; treated as original extraction")
}

// decodeBlock unmarshals one event block, tolerating malformed blocks by
// leaving them empty with a repair note.
func (r *Result) decodeBlock(raw json.RawMessage, dst *EventBlock, name string) {
	if err := json.Unmarshal(raw, dst); err != nil {
		r.repair(fmt.Sprintf("%s block malformed (%v); treated as empty", name, err))
		*dst = EventBlock{Events: []models.EventPayload{}}
	}
}

func (r *Result) repair(note string) {
	r.Verdict = VerdictRepaired
	r.Notes = append(r.Notes, note)
}

// resolveCourseName walks the fixed fallback chain.
func (r *Result) resolveCourseName() string {
	if name := strings.TrimSpace(r.Payload.Assessments.CourseName); name != "" {
		return name
	}
	if name := strings.TrimSpace(r.Payload.Recurring.CourseName); name != "" {
		return name
	}
	if name := courseNameFromOriginal(r.Payload.Original); name != "" {
		return name
	}
	return CourseNamePlaceholder
}

// courseNameFromOriginal digs a course name out of the original-extraction
// object: a top-level course_name, else the first extracted title span.
func courseNameFromOriginal(original json.RawMessage) string {
	if len(original) == 0 {
		return ""
	}

	var obj struct {
		CourseName        string `json:"course_name"`
		ExtractedSections struct {
			Title []struct {
				Text string `json:"text"`
			} `json:"title"`
		} `json:"extracted_sections"`
	}
	if err := json.Unmarshal(original, &obj); err != nil {
		return ""
	}

	if name := strings.TrimSpace(obj.CourseName); name != "" {
		return name
	}
	if len(obj.ExtractedSections.Title) > 0 {
		return strings.TrimSpace(obj.ExtractedSections.Title[0].Text)
	}
	return ""
}

// stripCodeFences removes leading/trailing markdown code-fence markers.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstByte returns the first non-whitespace byte of a JSON value.
func firstByte(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
