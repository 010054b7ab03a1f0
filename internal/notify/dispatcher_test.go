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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/syllabuskitty/engine/internal/mail"
	"github.com/syllabuskitty/engine/internal/models"
)

// --- Mock schedule store ---

type mockScheduleStore struct {
	mu        sync.Mutex
	schedules map[int64]*Schedule
	claimFail map[int64]bool // schedules another dispatcher already claimed
}

func newMockScheduleStore(schedules ...Schedule) *mockScheduleStore {
	m := &mockScheduleStore{
		schedules: make(map[int64]*Schedule),
		claimFail: make(map[int64]bool),
	}
	for i := range schedules {
		s := schedules[i]
		m.schedules[s.ID] = &s
	}
	return m
}

func (m *mockScheduleStore) ListDue(_ context.Context, now time.Time, window time.Duration) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Schedule
	for _, s := range m.schedules {
		if s.Status == StatusScheduled &&
			!s.NotificationDate.Before(now) && s.NotificationDate.Before(now.Add(window)) {
			due = append(due, *s)
		}
	}
	return due, nil
}

func (m *mockScheduleStore) Claim(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimFail[id] {
		return false, nil
	}
	s, ok := m.schedules[id]
	if !ok || s.Status != StatusScheduled {
		return false, nil
	}
	s.Status = StatusSending
	at := fixedNow()
	s.ClaimedAt = &at
	return true, nil
}

func (m *mockScheduleStore) ReclaimStale(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.schedules {
		if s.Status == StatusSending && s.ClaimedAt != nil && s.ClaimedAt.Before(before) {
			s.Status = StatusScheduled
			s.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *mockScheduleStore) MarkSent(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.schedules[id]
	s.Status = StatusSent
	s.SentAt = &at
	return nil
}

func (m *mockScheduleStore) MarkFailed(_ context.Context, id int64, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.schedules[id]
	s.Status = StatusFailed
	s.FailedAt = &at
	s.ErrorMessage = reason
	return nil
}

func (m *mockScheduleStore) status(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[id].Status
}

// --- Mock sender ---

type mockSender struct {
	mu      sync.Mutex
	sent    []mail.Reminder
	sendErr error
}

func (m *mockSender) SendReminder(_ context.Context, to string, r mail.Reminder) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, r)
	return "msg-1", nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// --- Mock dedup ---

type mockDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMockDedup() *mockDedup {
	return &mockDedup{seen: make(map[string]bool)}
}

func (m *mockDedup) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.seen[id], nil
}

func (m *mockDedup) Mark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.seen[id] = true
	return nil
}

func (m *mockDedup) markSeen(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
}

func dueSchedule(id int64, itemID string, notifyAt time.Time) Schedule {
	return Schedule{
		ID:               id,
		UserID:           "user-1",
		SyllabusID:       "syl-1",
		CalendarItemID:   itemID,
		CourseName:       "CSI2110",
		EventTitle:       "Assignment 1 Due",
		EventType:        "Assignment",
		EventDate:        "February 14, 2026 at 11:59 PM",
		NotificationDate: notifyAt,
		Status:           StatusScheduled,
		RecipientEmail:   "student@example.com",
		RecipientName:    "Alex",
		DaysAdvance:      10,
	}
}

func testDispatcher(store ScheduleClaimer, sender ReminderSender, dd Deduper) *Dispatcher {
	d := NewDispatcher(DispatcherConfig{Store: store, Sender: sender, Dedup: dd})
	d.now = fixedNow
	return d
}

// TestSendDue_SendsAndMarks verifies the claim-send-mark flow for a due
// schedule.
func TestSendDue_SendsAndMarks(t *testing.T) {
	store := newMockScheduleStore(dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute)))
	sender := &mockSender{}

	d := testDispatcher(store, sender, newMockDedup())
	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}

	if result.Sent != 1 || result.Failed != 0 || result.Skipped != 0 {
		t.Errorf("result = %+v, want 1 sent", result)
	}
	if store.status(1) != StatusSent {
		t.Errorf("status = %q, want sent", store.status(1))
	}
	if sender.sentCount() != 1 {
		t.Errorf("sender delivered %d, want 1", sender.sentCount())
	}
}

// TestSendDue_SecondRunIsIdempotent verifies a second sweep sends nothing:
// the schedule is already terminal.
func TestSendDue_SecondRunIsIdempotent(t *testing.T) {
	store := newMockScheduleStore(dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute)))
	sender := &mockSender{}

	d := testDispatcher(store, sender, newMockDedup())
	if _, err := d.SendDue(context.Background()); err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}

	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if result.TotalDue != 0 || result.Sent != 0 {
		t.Errorf("second sweep = %+v, want nothing due", result)
	}
	if sender.sentCount() != 1 {
		t.Errorf("sender delivered %d total, want 1", sender.sentCount())
	}
}

// TestSendDue_ClaimLoserSkips verifies a schedule claimed by another
// dispatcher is skipped, not sent.
func TestSendDue_ClaimLoserSkips(t *testing.T) {
	store := newMockScheduleStore(dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute)))
	store.claimFail[1] = true
	sender := &mockSender{}

	d := testDispatcher(store, sender, newMockDedup())
	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}

	if result.Skipped != 1 || result.Sent != 0 {
		t.Errorf("result = %+v, want 1 skipped", result)
	}
	if sender.sentCount() != 0 {
		t.Errorf("sender delivered %d, want 0", sender.sentCount())
	}
}

// TestSendDue_DedupHitMarksSentWithoutSending verifies a reminder already
// delivered through the immediate check is not re-sent; the schedule still
// reaches the sent terminal state.
func TestSendDue_DedupHitMarksSentWithoutSending(t *testing.T) {
	store := newMockScheduleStore(dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute)))
	sender := &mockSender{}
	dd := newMockDedup()
	dd.markSeen("item-1")

	d := testDispatcher(store, sender, dd)
	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}

	if result.Skipped != 1 || result.Sent != 0 {
		t.Errorf("result = %+v, want 1 skipped", result)
	}
	if store.status(1) != StatusSent {
		t.Errorf("status = %q, want sent after dedup hit", store.status(1))
	}
	if sender.sentCount() != 0 {
		t.Errorf("sender delivered %d, want 0", sender.sentCount())
	}
}

// TestSendDue_FailureIsTerminal verifies a send failure marks the schedule
// failed and the rest of the batch continues.
func TestSendDue_FailureIsTerminal(t *testing.T) {
	store := newMockScheduleStore(dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute)))
	sender := &mockSender{sendErr: errors.New("mail service down")}

	d := testDispatcher(store, sender, newMockDedup())
	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}

	if result.Failed != 1 {
		t.Errorf("result = %+v, want 1 failed", result)
	}
	if store.status(1) != StatusFailed {
		t.Errorf("status = %q, want failed", store.status(1))
	}

	// Failed is terminal: a later sweep must not pick it up again.
	result2, _ := d.SendDue(context.Background())
	if result2.TotalDue != 0 {
		t.Errorf("failed schedule re-listed: %+v", result2)
	}
}

// TestSendDue_WindowExcludesLater verifies schedules beyond the sweep
// horizon are left alone.
func TestSendDue_WindowExcludesLater(t *testing.T) {
	store := newMockScheduleStore(
		dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute)),
		dueSchedule(2, "item-2", fixedNow().Add(3*time.Hour)),
	)
	sender := &mockSender{}

	d := testDispatcher(store, sender, newMockDedup())
	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}

	if result.TotalDue != 1 || result.Sent != 1 {
		t.Errorf("result = %+v, want exactly the in-window schedule", result)
	}
	if store.status(2) != StatusScheduled {
		t.Errorf("out-of-window status = %q, want still scheduled", store.status(2))
	}
}

// TestImmediateCheck_SendsDueSoon verifies assessments inside the advance
// window get an immediate reminder and share the dedup key with the sweep.
func TestImmediateCheck_SendsDueSoon(t *testing.T) {
	sender := &mockSender{}
	dd := newMockDedup()
	d := testDispatcher(newMockScheduleStore(), sender, dd)

	items := []models.CalendarItem{
		{
			ID:         "item-soon",
			Kind:       models.KindAssessment,
			CourseName: "CSI2110",
			Event: models.EventPayload{
				Summary: "Quiz 1 (5%)",
				Start:   models.EventDateTime{DateTime: fixedNow().Add(48 * time.Hour).Format(time.RFC3339)},
			},
		},
		{
			ID:         "item-far",
			Kind:       models.KindAssessment,
			CourseName: "CSI2110",
			Event: models.EventPayload{
				Summary: "Final Exam (40%)",
				Start:   models.EventDateTime{DateTime: fixedNow().Add(30 * 24 * time.Hour).Format(time.RFC3339)},
			},
		},
	}

	rcpt := Recipient{UserID: "user-1", Email: "student@example.com", Name: "Alex"}
	result := d.ImmediateCheck(context.Background(), items, rcpt, 10, time.UTC)

	if result.Sent != 1 {
		t.Fatalf("result = %+v, want 1 sent", result)
	}

	sender.mu.Lock()
	r := sender.sent[0]
	sender.mu.Unlock()

	if r.EventTitle != "Quiz 1" {
		t.Errorf("title = %q, want cleaned title", r.EventTitle)
	}
	if r.DaysUntil != 2 {
		t.Errorf("days until = %d, want 2", r.DaysUntil)
	}
	if r.AdditionalInfo == "" {
		t.Error("immediate reminder missing the creation-time note")
	}

	// The sweep must now see the item as already notified.
	seen, _ := dd.Seen(context.Background(), "item-soon")
	if !seen {
		t.Error("immediate send did not mark the dedup key")
	}
}

// TestImmediateCheck_SkipsAlreadyNotified verifies the dedup gate applies to
// the immediate path too.
func TestImmediateCheck_SkipsAlreadyNotified(t *testing.T) {
	sender := &mockSender{}
	dd := newMockDedup()
	dd.markSeen("item-1")
	d := testDispatcher(newMockScheduleStore(), sender, dd)

	items := []models.CalendarItem{{
		ID:   "item-1",
		Kind: models.KindAssessment,
		Event: models.EventPayload{
			Summary: "Quiz 1",
			Start:   models.EventDateTime{DateTime: fixedNow().Add(24 * time.Hour).Format(time.RFC3339)},
		},
	}}

	result := d.ImmediateCheck(context.Background(), items, Recipient{Email: "a@b.c"}, 10, time.UTC)
	if result.Skipped != 1 || result.Sent != 0 {
		t.Errorf("result = %+v, want 1 skipped", result)
	}
	if sender.sentCount() != 0 {
		t.Errorf("sender delivered %d, want 0", sender.sentCount())
	}
}

// TestImmediateCheck_FailedSendLeavesSweepToDeliver verifies a failed
// immediate send does not consume the dedup key: the scheduled sweep must
// still deliver the reminder once the mail service recovers.
func TestImmediateCheck_FailedSendLeavesSweepToDeliver(t *testing.T) {
	store := newMockScheduleStore(dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute)))
	sender := &mockSender{sendErr: errors.New("mail service down")}
	dd := newMockDedup()
	d := testDispatcher(store, sender, dd)

	items := []models.CalendarItem{{
		ID:         "item-1",
		Kind:       models.KindAssessment,
		CourseName: "CSI2110",
		Event: models.EventPayload{
			Summary: "Quiz 1 (5%)",
			Start:   models.EventDateTime{DateTime: fixedNow().Add(48 * time.Hour).Format(time.RFC3339)},
		},
	}}

	rcpt := Recipient{UserID: "user-1", Email: "student@example.com", Name: "Alex"}
	immediate := d.ImmediateCheck(context.Background(), items, rcpt, 10, time.UTC)
	if immediate.Failed != 1 || immediate.Sent != 0 {
		t.Fatalf("immediate result = %+v, want 1 failed", immediate)
	}
	if seen, _ := dd.Seen(context.Background(), "item-1"); seen {
		t.Fatal("failed immediate send consumed the dedup key")
	}

	// Mail service recovers before the sweep runs.
	sender.mu.Lock()
	sender.sendErr = nil
	sender.mu.Unlock()

	sweep, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}
	if sweep.Sent != 1 || sweep.Skipped != 0 {
		t.Errorf("sweep result = %+v, want 1 sent", sweep)
	}
	if store.status(1) != StatusSent {
		t.Errorf("status = %q, want sent", store.status(1))
	}
	if sender.sentCount() != 1 {
		t.Errorf("sender delivered %d, want exactly 1", sender.sentCount())
	}
}

// TestSendDue_ReclaimsStaleClaims verifies a schedule stranded in sending by
// a dispatcher that died mid-run is returned to scheduled and delivered by
// the next sweep.
func TestSendDue_ReclaimsStaleClaims(t *testing.T) {
	stranded := dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute))
	stranded.Status = StatusSending
	claimedAt := fixedNow().Add(-time.Hour)
	stranded.ClaimedAt = &claimedAt

	store := newMockScheduleStore(stranded)
	sender := &mockSender{}

	d := testDispatcher(store, sender, newMockDedup())
	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}

	if result.Sent != 1 {
		t.Errorf("result = %+v, want the reclaimed schedule sent", result)
	}
	if store.status(1) != StatusSent {
		t.Errorf("status = %q, want sent", store.status(1))
	}
}

// TestSendDue_FreshClaimIsNotReclaimed verifies a claim younger than the
// stale horizon is left in sending: another dispatcher may still be working
// on it.
func TestSendDue_FreshClaimIsNotReclaimed(t *testing.T) {
	inFlight := dueSchedule(1, "item-1", fixedNow().Add(10*time.Minute))
	inFlight.Status = StatusSending
	claimedAt := fixedNow().Add(-time.Minute)
	inFlight.ClaimedAt = &claimedAt

	store := newMockScheduleStore(inFlight)
	sender := &mockSender{}

	d := testDispatcher(store, sender, newMockDedup())
	result, err := d.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue failed: %v", err)
	}

	if result.TotalDue != 0 || result.Sent != 0 {
		t.Errorf("result = %+v, want in-flight claim untouched", result)
	}
	if store.status(1) != StatusSending {
		t.Errorf("status = %q, want still sending", store.status(1))
	}
	if sender.sentCount() != 0 {
		t.Errorf("sender delivered %d, want 0", sender.sentCount())
	}
}
