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

// Package mail composes due-date reminder emails and sends them through the
// external mail service.
package mail

import (
	"fmt"
	"strings"
)

// Reminder holds everything needed to compose one reminder email.
type Reminder struct {
	UserName       string
	EventTitle     string
	CourseName     string
	EventDate      string // human formatted, localized
	EventType      string
	DaysUntil      int
	AdditionalInfo string
}

// typeEmoji decorates the subject line per event type. Keys are lowercase.
var typeEmoji = map[string]string{
	"assignment":   "📝",
	"exam":         "📝",
	"quiz":         "❓",
	"project":      "🚀",
	"midterm":      "📝",
	"final":        "📝",
	"lab":          "🧪",
	"presentation": "🎤",
}

const defaultEmoji = "📅"

// urgency returns the copy label and accent color for a days-until value.
// The tiering is presentation only; no business logic depends on it.
func urgency(daysUntil int) (label, color string) {
	switch {
	case daysUntil == 0:
		return "TODAY!", "#ff0000"
	case daysUntil == 1:
		return "tomorrow!", "#ff4444"
	case daysUntil <= 3:
		return fmt.Sprintf("in %d days!", daysUntil), "#ff8800"
	case daysUntil <= 7:
		return fmt.Sprintf("in %d days", daysUntil), "#ffaa00"
	default:
		return fmt.Sprintf("in %d days", daysUntil), "#0066cc"
	}
}

// Compose renders the reminder into subject, HTML body, and plain-text body.
func (r Reminder) Compose() (subject, htmlBody, textBody string) {
	emoji, ok := typeEmoji[strings.ToLower(r.EventType)]
	if !ok {
		emoji = defaultEmoji
	}
	urgencyLabel, urgencyColor := urgency(r.DaysUntil)

	userName := r.UserName
	if userName == "" {
		userName = "Student"
	}

	subject = fmt.Sprintf("%s %s - %s %s", emoji, r.CourseName, r.EventTitle, urgencyLabel)

	additionalHTML := ""
	if r.AdditionalInfo != "" {
		additionalHTML = fmt.Sprintf(`<div style="margin: 15px 0; padding: 15px; background-color: #e8f4f8; border-radius: 5px;"><strong>Additional Info:</strong><br>%s</div>`, r.AdditionalInfo)
	}

	htmlBody = fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: %[1]s;">%[2]s Course Reminder</h2>
    <p>Hi %[3]s,</p>
    <div style="background-color: #f8f9fa; padding: 20px; border-radius: 8px; border-left: 4px solid %[1]s;">
      <h3 style="margin: 0 0 10px 0; color: %[1]s;">%[4]s</h3>
      <p style="margin: 5px 0;"><strong>Course:</strong> %[5]s</p>
      <p style="margin: 5px 0;"><strong>Due:</strong> %[6]s</p>
      <p style="margin: 5px 0;"><strong>Type:</strong> %[7]s</p>
      <p style="margin: 15px 0 5px 0; font-size: 18px; color: %[1]s;"><strong>Coming up %[8]s</strong></p>
    </div>
    %[9]s
    <div style="margin: 30px 0;">
      <p>🍀 Good luck with your %[10]s!</p>
      <p style="font-size: 14px; color: #666;">This is an automated reminder from Syllabus Kitty.</p>
    </div>
    <hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
    <p style="font-size: 12px; color: #888; text-align: center;">🐱 Syllabus Kitty - Never miss an assignment again!</p>
  </div>
</body>
</html>`,
		urgencyColor, emoji, userName, r.EventTitle, r.CourseName,
		r.EventDate, r.EventType, urgencyLabel, additionalHTML, strings.ToLower(r.EventType))

	textBody = strings.TrimSpace(fmt.Sprintf(`%s %s Reminder

Hi %s,

%s is %s
📅 %s
📚 %s
Type: %s

%s

Good luck with your %s! 🍀

---
🐱 Syllabus Kitty - Never miss an assignment again!`,
		emoji, r.CourseName, userName, r.EventTitle, urgencyLabel,
		r.EventDate, r.CourseName, r.EventType, r.AdditionalInfo, strings.ToLower(r.EventType)))

	return subject, htmlBody, textBody
}
