package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewCronJob(t *testing.T) {
	job := NewCronJob("reconcile", Cron("0 0 3 * * *"), Payload{Action: ActionReconcile})
	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Name != "reconcile" {
		t.Errorf("name = %q, want reconcile", job.Name)
	}
	if !job.Enabled {
		t.Error("job should be enabled by default")
	}
	if job.Payload.Action != ActionReconcile {
		t.Errorf("action = %q, want %q", job.Payload.Action, ActionReconcile)
	}
	if job.Schedule.Kind != KindCron {
		t.Errorf("kind = %q, want cron", job.Schedule.Kind)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		sch     Schedule
		wantErr bool
	}{
		{Cron("0 30 4 * * *"), false},
		{Cron("@every 1m"), false},
		{Cron("0 4 * * *"), true},
		{Cron("invalid"), true},
		{Every(time.Minute), false},
		{Schedule{Kind: KindEvery}, true},
		{Schedule{Kind: "at"}, true},
	}
	for _, tt := range tests {
		err := ValidateSchedule(tt.sch)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSchedule(%+v) error = %v, wantErr %v", tt.sch, err, tt.wantErr)
		}
	}
}

func TestService_AddAndListJobs(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "jobs.json")
	s := NewService(storePath)

	job, err := s.AddJob("reminders", Every(time.Minute), Payload{Action: ActionReminders})
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if job.Name != "reminders" {
		t.Errorf("name = %q, want reminders", job.Name)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}

	data, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var stored []CronJob
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stored) != 1 || stored[0].Payload.Action != ActionReminders {
		t.Errorf("stored = %+v", stored)
	}

	if _, err := s.AddJob("broken", Cron("nope"), Payload{Action: ActionPurge}); err == nil {
		t.Error("expected invalid schedule to be rejected")
	}
}

func TestService_EnsureJob(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	first, err := s.EnsureJob("purge", Cron("0 30 4 * * *"), Payload{Action: ActionPurge})
	if err != nil {
		t.Fatalf("EnsureJob error: %v", err)
	}
	again, err := s.EnsureJob("purge", Cron("0 30 4 * * *"), Payload{Action: ActionPurge})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("EnsureJob created a second job: %s vs %s", again.ID, first.ID)
	}

	changed, err := s.EnsureJob("purge", Cron("0 0 5 * * *"), Payload{Action: ActionPurge})
	if err != nil {
		t.Fatal(err)
	}
	if changed.ID != first.ID || changed.Schedule.Expr != "0 0 5 * * *" {
		t.Errorf("changed = %+v", changed)
	}
	if len(s.ListJobs()) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(s.ListJobs()))
	}
}

func TestService_RemoveJob(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	job, _ := s.AddJob("to-remove", Every(time.Minute), Payload{Action: ActionRecurring})
	if !s.RemoveJob(job.ID) {
		t.Error("RemoveJob should return true")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("jobs should be empty after removal")
	}
	if s.RemoveJob("nonexistent") {
		t.Error("RemoveJob should return false for nonexistent job")
	}
}

func TestService_EnableJob(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	job, _ := s.AddJob("toggle", Every(time.Minute), Payload{Action: ActionRecurring})

	updated, err := s.EnableJob(job.ID, false)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if updated.Enabled {
		t.Error("job should be disabled")
	}

	if _, err := s.EnableJob("nonexistent", true); err == nil {
		t.Error("expected error for nonexistent job")
	}
}

func TestService_StartStop(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	cancel()
	s.Stop()
}

func TestService_Start_ParentCancelInvokesStop(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		stopped := s.cancel == nil && s.stopCh == nil
		s.mu.Unlock()
		if stopped {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	s.Stop()
	t.Fatal("expected parent context cancellation to trigger Stop")
}

func TestService_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "jobs.json")

	s1 := NewService(storePath)
	s1.AddJob("recurring", Every(time.Minute), Payload{Action: ActionRecurring})
	s1.AddJob("reconcile", Cron("0 0 3 * * *"), Payload{Action: ActionReconcile})

	s2 := NewService(storePath)
	jobs := s2.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("loaded %d jobs, want 2", len(jobs))
	}
	if jobs[1].Schedule.Expr != "0 0 3 * * *" {
		t.Errorf("expr = %q", jobs[1].Schedule.Expr)
	}
}

func TestService_ExecuteJob_RecordsState(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	var gotAction string
	s.OnJob = func(ctx context.Context, job CronJob) (string, error) {
		gotAction = job.Payload.Action
		return "reconciled 3 tasks", nil
	}
	job, _ := s.AddJob("reconcile", Cron("0 0 3 * * *"), Payload{Action: ActionReconcile})

	if err := s.RunNow("reconcile"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if gotAction != ActionReconcile {
		t.Errorf("action = %q", gotAction)
	}
	jobs := s.ListJobs()
	if jobs[0].ID != job.ID || jobs[0].State.LastStatus != statusOK || jobs[0].State.Runs != 1 {
		t.Errorf("state = %+v", jobs[0].State)
	}

	s.OnJob = func(ctx context.Context, job CronJob) (string, error) {
		return "", errors.New("database is locked")
	}
	s.RunNow("reconcile")
	jobs = s.ListJobs()
	if jobs[0].State.LastStatus != statusError || jobs[0].State.LastError != "database is locked" {
		t.Errorf("state = %+v", jobs[0].State)
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestService_ExecuteJob_NoHandler(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))
	s.AddJob("idle", Every(time.Minute), Payload{Action: ActionRecurring})
	if err := s.RunNow("idle"); err != nil {
		t.Fatal(err)
	}
	if s.ListJobs()[0].State.Runs != 0 {
		t.Error("job without handler should not record a run")
	}
}

func TestService_TickLoop_EverySchedule(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))
	s.tick = 20 * time.Millisecond

	var executeCount atomic.Int32
	s.OnJob = func(ctx context.Context, job CronJob) (string, error) {
		executeCount.Add(1)
		return "tick", nil
	}

	job := NewCronJob("fast-tick", Schedule{Kind: KindEvery, EveryMs: 50}, Payload{Action: ActionReminders})
	job.State.LastRunAtMs = time.Now().UnixMilli() - 100
	s.jobs = append(s.jobs, job)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for executeCount.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	if executeCount.Load() < 2 {
		t.Fatalf("expected repeated executions, got %d", executeCount.Load())
	}

	countAfterStop := executeCount.Load()
	time.Sleep(200 * time.Millisecond)
	if executeCount.Load() != countAfterStop {
		t.Fatalf("tickLoop should stop after Stop; count changed from %d to %d", countAfterStop, executeCount.Load())
	}
}

func TestService_DisabledJobSkipped(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	job := NewCronJob("off", Every(time.Millisecond), Payload{Action: ActionReminders})
	job.Enabled = false
	s.jobs = append(s.jobs, job)

	if due := s.dueIntervalJobs(time.Now().UnixMilli()); len(due) != 0 {
		t.Errorf("disabled job reported due: %+v", due)
	}
}

func TestService_CronRegistration(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "jobs.json")

	jobs := []CronJob{
		{ID: "bad-cron", Name: "invalid", Enabled: true, Schedule: Schedule{Kind: KindCron, Expr: "invalid"}},
		{ID: "hourly", Name: "hourly", Enabled: true, Schedule: Cron("0 0 * * * *"), Payload: Payload{Action: ActionReconcile}},
	}
	data, _ := json.MarshalIndent(jobs, "", "  ")
	os.WriteFile(storePath, data, 0644)

	s := NewService(storePath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Errorf("Start should not error on invalid cron: %v", err)
	}

	s.mu.Lock()
	_, badRegistered := s.entryMap["bad-cron"]
	_, goodRegistered := s.entryMap["hourly"]
	s.mu.Unlock()
	if badRegistered {
		t.Error("invalid cron job should not be registered")
	}
	if !goodRegistered {
		t.Error("valid cron job should be registered")
	}

	if _, err := s.EnableJob("hourly", false); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	_, stillRegistered := s.entryMap["hourly"]
	s.mu.Unlock()
	if stillRegistered {
		t.Error("disabling should remove the cron entry")
	}

	if !s.RemoveJob("bad-cron") {
		t.Error("RemoveJob should succeed")
	}
	s.Stop()
}

func TestService_CronFires(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	var fired atomic.Int32
	s.OnJob = func(ctx context.Context, job CronJob) (string, error) {
		fired.Add(1)
		return "", nil
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if _, err := s.AddJob("every-second", Cron("* * * * * *"), Payload{Action: ActionReconcile}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Error("cron job never fired")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 10); got != strings.Repeat("x", 10)+"..." {
		t.Errorf("truncate = %q", got)
	}
}
