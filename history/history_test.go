// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/testrig/lib/clock"
)

func openTestStore(t *testing.T) (*Store, *clock.ManualClock) {
	t.Helper()

	clk := clock.Manual(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	store, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "history.db"),
		Clock:  clk,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store, clk
}

func TestJobLifecycle(t *testing.T) {
	store, clk := openTestStore(t)
	ctx := context.Background()

	jobID, err := store.BeginJob(ctx, "flash", "fincm3", "balena.img.gz", "ab12")
	if err != nil {
		t.Fatalf("BeginJob: %v", err)
	}

	// Running: no finish time, no outcome.
	jobs, err := store.RecentJobs(ctx, 10)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	running := jobs[0]
	if running.ID != jobID || running.Kind != "flash" || running.Family != "fincm3" {
		t.Errorf("job = %+v", running)
	}
	if !running.Finished.IsZero() || running.Outcome != "" {
		t.Errorf("running job has terminal state: %+v", running)
	}

	clk.Advance(3 * time.Minute)
	if err := store.FinishJob(ctx, jobID, OutcomeSuccess, ""); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	jobs, err = store.RecentJobs(ctx, 10)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	finished := jobs[0]
	if finished.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %q, want success", finished.Outcome)
	}
	if got := finished.Finished.Sub(finished.Started); got != 3*time.Minute {
		t.Errorf("duration = %v, want 3m", got)
	}
}

func TestFinishUnknownJobFails(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.FinishJob(context.Background(), 99, OutcomeFailure, "x"); err == nil {
		t.Error("FinishJob(99) succeeded, want error")
	}
}

func TestAttemptsRecordedInOrder(t *testing.T) {
	store, clk := openTestStore(t)
	ctx := context.Background()

	jobID, err := store.BeginJob(ctx, "flash", "fincm3", "img", "")
	if err != nil {
		t.Fatalf("BeginJob: %v", err)
	}

	for index, outcome := range []Outcome{OutcomeFailure, OutcomeSuccess} {
		started := clk.Now()
		clk.Advance(time.Minute)
		attempt := Attempt{
			JobID: jobID, Index: index + 1,
			Started: started, Finished: clk.Now(),
			Outcome: outcome,
		}
		if outcome == OutcomeFailure {
			attempt.Error = "block device did not attach"
		}
		if err := store.RecordAttempt(ctx, attempt); err != nil {
			t.Fatalf("RecordAttempt %d: %v", index+1, err)
		}
	}

	attempts, err := store.JobAttempts(ctx, jobID)
	if err != nil {
		t.Fatalf("JobAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(attempts))
	}
	if attempts[0].Outcome != OutcomeFailure || attempts[0].Error == "" {
		t.Errorf("attempt 1 = %+v", attempts[0])
	}
	if attempts[1].Outcome != OutcomeSuccess || attempts[1].Index != 2 {
		t.Errorf("attempt 2 = %+v", attempts[1])
	}
}

func TestRecentJobsNewestFirst(t *testing.T) {
	store, clk := openTestStore(t)
	ctx := context.Background()

	for _, family := range []string{"raspberrypi3", "intelnuc", "jetsontx2"} {
		if _, err := store.BeginJob(ctx, "power-on", family, "", ""); err != nil {
			t.Fatalf("BeginJob(%s): %v", family, err)
		}
		clk.Advance(time.Hour)
	}

	jobs, err := store.RecentJobs(ctx, 2)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].Family != "jetsontx2" || jobs[1].Family != "intelnuc" {
		t.Errorf("order = %s, %s; want jetsontx2, intelnuc", jobs[0].Family, jobs[1].Family)
	}
}

func TestPruneRemovesOldFinishedJobs(t *testing.T) {
	store, clk := openTestStore(t)
	ctx := context.Background()

	oldID, err := store.BeginJob(ctx, "flash", "ts4900", "img", "")
	if err != nil {
		t.Fatalf("BeginJob: %v", err)
	}
	if err := store.FinishJob(ctx, oldID, OutcomeSuccess, ""); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	if err := store.RecordAttempt(ctx, Attempt{
		JobID: oldID, Index: 1, Started: clk.Now(), Finished: clk.Now(),
		Outcome: OutcomeSuccess,
	}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	// A still-running job from the same era must survive the prune.
	runningID, err := store.BeginJob(ctx, "flash", "ts4900", "img", "")
	if err != nil {
		t.Fatalf("BeginJob: %v", err)
	}

	clk.Advance(40 * 24 * time.Hour)
	recentID, err := store.BeginJob(ctx, "flash", "ts4900", "img", "")
	if err != nil {
		t.Fatalf("BeginJob: %v", err)
	}
	if err := store.FinishJob(ctx, recentID, OutcomeFailure, "boom"); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	pruned, err := store.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d jobs, want 1", pruned)
	}

	jobs, err := store.RecentJobs(ctx, 10)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs after prune, want 2", len(jobs))
	}
	for _, job := range jobs {
		if job.ID == oldID {
			t.Error("pruned job still listed")
		}
	}
	if _, err := store.JobAttempts(ctx, runningID); err != nil {
		t.Fatalf("JobAttempts: %v", err)
	}

	// The cascade removed the old job's attempts.
	attempts, err := store.JobAttempts(ctx, oldID)
	if err != nil {
		t.Fatalf("JobAttempts(old): %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("old job kept %d attempts after prune", len(attempts))
	}
}
