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

// Package dedup tracks sent reminders in Redis with a TTL. The immediate
// check at calendar-creation time and the hourly due sweep can both pick up
// the same calendar item; a sender consults Seen before delivering and calls
// Mark only after a successful send, so a failed delivery never consumes the
// key. The window between check and mark means concurrent senders can at
// worst deliver the same reminder twice; they can never lose one.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a sent reminder. Reminders fire at
	// most notification-advance days before the due date (10 by default), so
	// 14 days comfortably outlives every overlap window.
	DefaultTTL = 14 * 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "kitty:notified:"
)

// Filter tracks which calendar items have already been notified.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// Seen reports whether a reminder has already been sent for the calendar
// item. Read-only; never consumes the key.
func (f *Filter) Seen(ctx context.Context, calendarItemID string) (bool, error) {
	n, err := f.rdb.Exists(ctx, keyPrefix+calendarItemID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}
	return n > 0, nil
}

// Mark records that a reminder went out for the calendar item. Call only
// after a successful send.
func (f *Filter) Mark(ctx context.Context, calendarItemID string) error {
	if err := f.rdb.Set(ctx, keyPrefix+calendarItemID, 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}
	return nil
}
