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

// Package gcal provides a client for the external calendar service and the
// materializer that pushes derived calendar items into it with
// partial-failure accounting.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/syllabuskitty/engine/internal/models"
)

// DefaultBaseURL is the production calendar API endpoint.
const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// PrimaryCalendarID addresses the account's default calendar.
const PrimaryCalendarID = "primary"

// defaultCallTimeout bounds each external call; a timeout counts as a
// per-item failure, never a batch-fatal error.
const defaultCallTimeout = 30 * time.Second

// Client talks to the external calendar service over HTTP.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	callTimeout time.Duration
}

// NewClient creates a calendar client. The http.Client is expected to carry
// the user's OAuth credentials (see NewUserHTTPClient).
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		callTimeout: defaultCallTimeout,
	}
}

// NewUserHTTPClient builds an HTTP client that authenticates with the
// user's access token. Tokens arrive per request from the auth collaborator
// and are never stored.
func NewUserHTTPClient(ctx context.Context, accessToken string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return oauth2.NewClient(ctx, src)
}

// CreateCalendar creates a dedicated calendar with the given name and
// returns its ID.
func (c *Client) CreateCalendar(ctx context.Context, name, timeZone string) (string, error) {
	body := map[string]string{
		"summary":     name,
		"description": fmt.Sprintf("Calendar for %s", name),
		"timeZone":    timeZone,
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, c.baseURL+"/calendars", body, &result); err != nil {
		return "", fmt.Errorf("create calendar %q: %w", name, err)
	}
	return result.ID, nil
}

// eventBody wraps the stored payload with the service-side extras added at
// insert time.
type eventBody struct {
	models.EventPayload
	ExtendedProperties *extendedProperties `json:"extendedProperties,omitempty"`
}

type extendedProperties struct {
	Private map[string]string `json:"private"`
}

// InsertEvent inserts one event into the given calendar and returns the
// created event's ID. sourceKey, when non-empty, is attached to the event's
// private extended properties so duplicates from re-runs can be reconciled
// externally.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event models.EventPayload, sourceKey string) (string, error) {
	body := eventBody{EventPayload: event}
	if sourceKey != "" {
		body.ExtendedProperties = &extendedProperties{
			Private: map[string]string{"sourceKey": sourceKey},
		}
	}

	var result struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, calendarID)
	if err := c.post(ctx, url, body, &result); err != nil {
		return "", fmt.Errorf("insert event %q: %w", event.Summary, err)
	}
	return result.ID, nil
}

// post issues a JSON POST with the client's per-call timeout and decodes a
// JSON response.
func (c *Client) post(ctx context.Context, url string, body, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("calendar API returned HTTP %d: %s", resp.StatusCode, snippet)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
