// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/testrig/dut"
	"github.com/bureau-foundation/testrig/history"
	"github.com/bureau-foundation/testrig/lib/clock"
)

func testStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(history.Config{
		Path:   filepath.Join(t.TempDir(), "history.db"),
		Clock:  clock.Real(),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordJobPersistsPerAttemptRows(t *testing.T) {
	store := testStore(t)
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	err := recordJob(store, "flash", dut.FinCM3, "os.img.gz", "", func(record dut.AttemptFunc) error {
		record(dut.AttemptResult{
			Index: 0, Started: base, Finished: base.Add(5 * time.Minute),
			Err: errors.New("block device attach timed out"),
		})
		record(dut.AttemptResult{
			Index: 1, Started: base.Add(5 * time.Minute), Finished: base.Add(7 * time.Minute),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("recordJob: %v", err)
	}

	jobs, err := store.RecentJobs(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Outcome != history.OutcomeSuccess {
		t.Fatalf("jobs = %+v, want one successful flash", jobs)
	}

	attempts, err := store.JobAttempts(context.Background(), jobs[0].ID)
	if err != nil {
		t.Fatalf("JobAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempt rows = %d, want 2", len(attempts))
	}
	if attempts[0].Index != 0 || attempts[0].Outcome != history.OutcomeFailure ||
		attempts[0].Error == "" {
		t.Errorf("attempt 0 = %+v, want recorded failure at index 0", attempts[0])
	}
	if attempts[1].Index != 1 || attempts[1].Outcome != history.OutcomeSuccess {
		t.Errorf("attempt 1 = %+v, want success at index 1", attempts[1])
	}
}

func TestRecordJobFallsBackToSingleAttemptRow(t *testing.T) {
	// Operations without their own attempt reporting (power cycles)
	// still land one row mirroring the job, at index 0.
	store := testStore(t)
	opErr := errors.New("rail fault")

	err := recordJob(store, "power-on", dut.JetsonTX2, "", "", func(dut.AttemptFunc) error {
		return opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("recordJob error = %v, want %v", err, opErr)
	}

	jobs, err := store.RecentJobs(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Outcome != history.OutcomeFailure {
		t.Fatalf("jobs = %+v, want one failed power-on", jobs)
	}

	attempts, err := store.JobAttempts(context.Background(), jobs[0].ID)
	if err != nil {
		t.Fatalf("JobAttempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Index != 0 {
		t.Fatalf("attempts = %+v, want a single row at index 0", attempts)
	}
	if attempts[0].Outcome != history.OutcomeFailure || attempts[0].Error != "rail fault" {
		t.Errorf("attempt = %+v, want the operation's failure recorded", attempts[0])
	}
}
