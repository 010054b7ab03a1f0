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

// Package httpapi exposes the derivation engine over HTTP: one processing
// endpoint fed by the extraction collaborator, read endpoints for derived
// deadlines and schedules, and operational endpoints for the notification
// sweep and health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/syllabuskitty/engine/internal/classify"
	"github.com/syllabuskitty/engine/internal/engine"
	"github.com/syllabuskitty/engine/internal/extraction"
	"github.com/syllabuskitty/engine/internal/models"
	"github.com/syllabuskitty/engine/internal/notify"
)

// ScheduleLister is the read slice of the schedule store the API needs.
type ScheduleLister interface {
	ListByUser(ctx context.Context, userID, syllabusID string) ([]notify.Schedule, error)
}

// Sweeper triggers one dispatch run. Implemented by notify.Dispatcher.
type Sweeper interface {
	SendDue(ctx context.Context) (notify.SweepResult, error)
}

// HealthFunc reports backing-store reachability.
type HealthFunc func(ctx context.Context) error

// Handler serves the engine's HTTP API.
type Handler struct {
	engine    *engine.Engine
	schedules ScheduleLister
	sweeper   Sweeper
	health    HealthFunc
}

// NewHandler creates an API handler.
func NewHandler(eng *engine.Engine, schedules ScheduleLister, sweeper Sweeper, health HealthFunc) *Handler {
	return &Handler{
		engine:    eng,
		schedules: schedules,
		sweeper:   sweeper,
		health:    health,
	}
}

// processRequest is the POST /v1/process body.
type processRequest struct {
	SyllabusID    string `json:"syllabus_id"`
	UserID        string `json:"user_id"`
	UserEmail     string `json:"user_email"`
	UserName      string `json:"user_name"`
	AccessToken   string `json:"access_token"`
	RawExtraction string `json:"raw_extraction"`
	DaysAdvance   int    `json:"days_advance,omitempty"`
}

// ServeProcess handles POST /v1/process: one full derivation run.
func (h *Handler) ServeProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SyllabusID == "" || req.UserID == "" || req.RawExtraction == "" {
		writeError(w, http.StatusBadRequest, "syllabus_id, user_id, and raw_extraction are required")
		return
	}

	result, err := h.engine.Process(r.Context(), engine.ProcessRequest{
		SyllabusID:    req.SyllabusID,
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		UserName:      req.UserName,
		AccessToken:   req.AccessToken,
		RawExtraction: req.RawExtraction,
		DaysAdvance:   req.DaysAdvance,
	})
	if err != nil {
		var formatErr *extraction.FormatError
		if errors.As(err, &formatErr) {
			writeError(w, http.StatusUnprocessableEntity, formatErr.Error())
			return
		}
		slog.Error("process request failed",
			"syllabus_id", req.SyllabusID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// deadlineView decorates one assessment item for display.
type deadlineView struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Type      string               `json:"type"`
	Weight    *int                 `json:"weight,omitempty"`
	Start     models.EventDateTime `json:"start"`
	Due       string               `json:"due,omitempty"`
	DaysUntil *int                 `json:"days_until,omitempty"`
	Location  string               `json:"location,omitempty"`
	CreatedAt string               `json:"created_at"`
}

// dueDateFormat matches the reminder display format.
const dueDateFormat = "January 02, 2006 at 03:04 PM"

// meetingView decorates one recurring meeting for display.
type meetingView struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Type       string               `json:"type"`
	Days       string               `json:"days"`
	Start      models.EventDateTime `json:"start"`
	End        models.EventDateTime `json:"end"`
	Recurrence []string             `json:"recurrence"`
	Location   string               `json:"location,omitempty"`
}

// ServeDeadlines handles GET /v1/deadlines: the assessment items for one
// syllabus in due-date order. An optional days parameter narrows the view
// to deadlines inside that look-ahead window.
func (h *Handler) ServeDeadlines(w http.ResponseWriter, r *http.Request) {
	syllabusID, userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	lookahead := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		lookahead = n
	}

	assessments, _, err := h.engine.Deadlines(r.Context(), syllabusID, userID)
	if err != nil {
		slog.Error("deadlines lookup failed", "syllabus_id", syllabusID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	now := time.Now()
	views := make([]deadlineView, 0, len(assessments))
	for _, item := range assessments {
		view := deadlineView{
			ID:        item.ID,
			Title:     classify.CleanTitle(item.Event.Summary),
			Type:      classify.AssessmentType(item.Event.Summary),
			Weight:    classify.Weight(item.Event.Summary, item.Event.Description),
			Start:     item.Event.Start,
			Location:  item.Event.Location,
			CreatedAt: item.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}

		if start, err := item.Event.Start.Resolve(); err == nil {
			view.Due = start.Format(dueDateFormat)
			days := int(start.Sub(now).Hours() / 24)
			view.DaysUntil = &days
			if lookahead > 0 && (start.Before(now) || days > lookahead) {
				continue
			}
		} else if lookahead > 0 {
			// Unresolvable starts cannot be placed in a window.
			continue
		}

		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deadlines": views})
}

// ServeSchedule handles GET /v1/schedule: the recurring meetings for one
// syllabus in weekday order.
func (h *Handler) ServeSchedule(w http.ResponseWriter, r *http.Request) {
	syllabusID, userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	_, meetings, err := h.engine.Deadlines(r.Context(), syllabusID, userID)
	if err != nil {
		slog.Error("schedule lookup failed", "syllabus_id", syllabusID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	views := make([]meetingView, 0, len(meetings))
	for _, item := range meetings {
		views = append(views, meetingView{
			ID:         item.ID,
			Title:      classify.CleanTitle(item.Event.Summary),
			Type:       classify.MeetingType(item.Event.Summary),
			Days:       classify.DaysOfWeek(item.Event.Recurrence),
			Start:      item.Event.Start,
			End:        item.Event.End,
			Recurrence: item.Event.Recurrence,
			Location:   item.Event.Location,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedule": views})
}

// ServeNotifications handles GET /v1/notifications: a user's reminder
// schedules, optionally filtered by syllabus.
func (h *Handler) ServeNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	syllabusID := r.URL.Query().Get("syllabus_id")

	schedules, err := h.schedules.ListByUser(r.Context(), userID, syllabusID)
	if err != nil {
		slog.Error("notification lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if schedules == nil {
		schedules = []notify.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": schedules})
}

// ServeSweep handles POST /v1/notifications/sweep: one on-demand dispatch
// run, same semantics as the cron sweep.
func (h *Handler) ServeSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := h.sweeper.SendDue(r.Context())
	if err != nil {
		slog.Error("on-demand sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ServeHealth handles GET /health.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireOwner extracts and validates the (syllabus_id, user_id) pair every
// read endpoint scopes by.
func requireOwner(w http.ResponseWriter, r *http.Request) (syllabusID, userID string, ok bool) {
	syllabusID = r.URL.Query().Get("syllabus_id")
	userID = r.URL.Query().Get("user_id")
	if syllabusID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "syllabus_id and user_id are required")
		return "", "", false
	}
	return syllabusID, userID, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the API HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/process", handler.ServeProcess)
	mux.HandleFunc("/v1/deadlines", handler.ServeDeadlines)
	mux.HandleFunc("/v1/schedule", handler.ServeSchedule)
	mux.HandleFunc("/v1/notifications", handler.ServeNotifications)
	mux.HandleFunc("/v1/notifications/sweep", handler.ServeSweep)
	mux.HandleFunc("/health", handler.ServeHealth)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind API port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("API server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("API server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	return ready, nil
}
