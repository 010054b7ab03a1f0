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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockDB drives the schedule store through its individual-insert fallback:
// Begin always fails, so every row goes through Exec, where per-row failures
// can be injected by calendar item ID. A fixed tag can be set to exercise
// the conditional UPDATE paths.
type mockDB struct {
	mu       sync.Mutex
	inserted []string // calendar item IDs of rows that landed
	failItem string   // calendar item ID whose insert fails
	execErr  error    // fails every Exec when set
	tag      *pgconn.CommandTag
}

func newTestDB() *mockDB {
	return &mockDB{}
}

func (m *mockDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.execErr != nil {
		return pgconn.CommandTag{}, m.execErr
	}
	if m.tag != nil {
		return *m.tag, nil
	}
	itemID, _ := args[2].(string)
	if m.failItem != "" && itemID == m.failItem {
		return pgconn.CommandTag{}, errors.New("value too long for type character varying")
	}
	m.inserted = append(m.inserted, itemID)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *mockDB) Begin(_ context.Context) (pgx.Tx, error) {
	return nil, errors.New("connection reset by peer")
}

func (m *mockDB) insertedItems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inserted...)
}

func (m *mockDB) returnTag(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag := pgconn.NewCommandTag(s)
	m.tag = &tag
}

// TestInsertBatch_PartialFailureKeepsRest verifies one bad row does not lose
// the rest of the batch: the other schedules land individually and the
// caller gets no error.
func TestInsertBatch_PartialFailureKeepsRest(t *testing.T) {
	m := newTestDB()
	m.failItem = "item-2"
	s := &ScheduleStore{pool: m}

	notifyAt := time.Date(2026, 2, 5, 4, 59, 0, 0, time.UTC)
	schedules := []Schedule{
		dueSchedule(1, "item-1", notifyAt),
		dueSchedule(2, "item-2", notifyAt),
		dueSchedule(3, "item-3", notifyAt),
	}
	if err := s.InsertBatch(context.Background(), schedules); err != nil {
		t.Fatalf("InsertBatch returned error on partial failure: %v", err)
	}

	got := m.insertedItems()
	if len(got) != 2 || got[0] != "item-1" || got[1] != "item-3" {
		t.Errorf("inserted = %v, want the two good rows", got)
	}
}

// TestInsertBatch_AllFailuresError verifies the store errors only when zero
// schedules could be persisted.
func TestInsertBatch_AllFailuresError(t *testing.T) {
	m := newTestDB()
	m.execErr = errors.New("relation does not exist")
	s := &ScheduleStore{pool: m}

	schedules := []Schedule{dueSchedule(1, "item-1", time.Now())}
	if err := s.InsertBatch(context.Background(), schedules); err == nil {
		t.Fatal("InsertBatch succeeded with every insert failing")
	}
	if len(m.insertedItems()) != 0 {
		t.Errorf("inserted = %v, want none", m.insertedItems())
	}
}

// TestClaim_ReportsWinnerAndLoser verifies Claim maps the conditional
// update's row count onto the win/lose result.
func TestClaim_ReportsWinnerAndLoser(t *testing.T) {
	m := newTestDB()
	s := &ScheduleStore{pool: m}

	m.returnTag("UPDATE 1")
	won, err := s.Claim(context.Background(), 1)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !won {
		t.Error("claim of a scheduled row reported lost")
	}

	m.returnTag("UPDATE 0")
	won, err = s.Claim(context.Background(), 1)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if won {
		t.Error("claim of an already-claimed row reported won")
	}
}

// TestReclaimStale_ReportsCount verifies ReclaimStale surfaces how many
// stranded rows went back to scheduled.
func TestReclaimStale_ReportsCount(t *testing.T) {
	m := newTestDB()
	s := &ScheduleStore{pool: m}

	m.returnTag("UPDATE 2")
	n, err := s.ReclaimStale(context.Background(), time.Now().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reclaimed = %d, want 2", n)
	}
}
