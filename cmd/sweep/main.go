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

// Syllabus Kitty — One-Shot Notification Sweep
//
// Standalone CLI tool that runs a single dispatch pass over due
// notification schedules. Intended for cron-less deployments and for
// draining a backlog after downtime.
//
// Usage:
//
//	go run ./cmd/sweep/ [--window 2h]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/syllabuskitty/engine/internal/config"
	"github.com/syllabuskitty/engine/internal/dedup"
	"github.com/syllabuskitty/engine/internal/mail"
	"github.com/syllabuskitty/engine/internal/notify"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	windowFlag := flag.String("window", "", "Due-date horizon (e.g. 2h); defaults to the configured sweep window")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	window := cfg.SweepWindow
	if *windowFlag != "" {
		window, err = time.ParseDuration(*windowFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --window duration %q: %v\n", *windowFlag, err)
			os.Exit(1)
		}
	}

	slog.Info("starting one-shot notification sweep", "window", window)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	schedules, err := notify.NewScheduleStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise notification schedule store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Mail Sender ---
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

	// --- Run Sweep ---
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Store:  schedules,
		Sender: sender,
		Dedup:  filter,
		Window: window,
	})

	result, err := dispatcher.SendDue(ctx)
	if err != nil {
		slog.Error("sweep failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("sweep complete",
		"total_due", result.TotalDue,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
}
