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

// Syllabus Kitty — Derivation Engine
//
// Entry point for the calendar-item derivation and notification service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Builds the mail sender from the sending account's OAuth credentials
//  4. Starts the hourly notification sweep
//  5. Serves the processing and read API
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/syllabuskitty/engine/internal/config"
	"github.com/syllabuskitty/engine/internal/dedup"
	"github.com/syllabuskitty/engine/internal/engine"
	"github.com/syllabuskitty/engine/internal/gcal"
	"github.com/syllabuskitty/engine/internal/httpapi"
	"github.com/syllabuskitty/engine/internal/mail"
	"github.com/syllabuskitty/engine/internal/notify"
	"github.com/syllabuskitty/engine/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting Syllabus Kitty derivation engine")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"time_zone", cfg.TimeZone,
		"advance_days", cfg.NotificationAdvanceDays,
		"sweep_spec", cfg.SweepSpec,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	items, err := store.NewCalendarItemStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise calendar item store", "error", err)
		os.Exit(1)
	}

	schedules, err := notify.NewScheduleStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise notification schedule store", "error", err)
		os.Exit(1)
	}

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Mail Sender (process-level OAuth client credentials) ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Mail.ClientID,
		ClientSecret: cfg.Mail.ClientSecret,
		TokenURL:     cfg.Mail.TokenURL,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.send"},
	}
	sender := mail.NewSender(mail.SenderConfig{
		HTTPClient: creds.Client(ctx),
		BaseURL:    cfg.GmailBaseURL,
		From:       cfg.Mail.From,
	})

	// --- Notification Pipeline ---
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		slog.Error("invalid time zone", "zone", cfg.TimeZone, "error", err)
		os.Exit(1)
	}
	scheduler := notify.NewScheduler(schedules, loc)
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Store:  schedules,
		Sender: sender,
		Dedup:  filter,
		Window: cfg.SweepWindow,
	})

	// --- Engine ---
	eng, err := engine.New(engine.Config{
		Items: items,
		CalendarAPI: func(ctx context.Context, accessToken string) gcal.CalendarAPI {
			return gcal.NewClient(gcal.NewUserHTTPClient(ctx, accessToken), cfg.CalendarBaseURL)
		},
		Scheduler:   scheduler,
		Dispatcher:  dispatcher,
		TimeZone:    cfg.TimeZone,
		DaysAdvance: cfg.NotificationAdvanceDays,
	})
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	// --- Hourly Notification Sweep ---
	c := cron.New()
	if _, err := c.AddFunc(cfg.SweepSpec, func() {
		if _, err := dispatcher.SendDue(ctx); err != nil {
			slog.Error("scheduled sweep failed", "error", err)
		}
	}); err != nil {
		slog.Error("invalid sweep spec", "spec", cfg.SweepSpec, "error", err)
		os.Exit(1)
	}
	c.Start()

	// --- API Server ---
	health := func(ctx context.Context) error {
		if err := pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres unhealthy: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
		return nil
	}
	handler := httpapi.NewHandler(eng, schedules, dispatcher, health)
	ready, err := httpapi.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start API server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("derivation engine ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	cronCtx := c.Stop()
	<-cronCtx.Done()

	rdb.Close()
	pgPool.Close()

	slog.Info("derivation engine stopped")
}
