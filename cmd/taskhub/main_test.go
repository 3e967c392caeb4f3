package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/taskhub/internal/config"
	"github.com/stellarlinkco/taskhub/internal/cron"
	"github.com/stellarlinkco/taskhub/internal/store"
)

func setupHome(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	for _, key := range []string{"TASKHUB_HOST", "TASKHUB_PORT", "TASKHUB_DB_PATH", "TASKHUB_JWT_SECRET", "TASKHUB_TELEGRAM_TOKEN", "TASKHUB_TELEGRAM_CHAT_ID", "TASKHUB_SCHEDULER_ENABLED", "TASKHUB_RETENTION_DAYS"} {
		t.Setenv(key, "")
	}
	passwordFlag, adminFlag, forceFlag = "", false, false
	return tmpDir
}

func newCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func TestRunOnboard(t *testing.T) {
	tmpDir := setupHome(t)

	cmd, out := newCmd()
	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("unexpected output: %s", out.String())
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Auth.Secret) != 64 {
		t.Errorf("secret length = %d, want 64", len(cfg.Auth.Secret))
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".taskhub", "data")); err != nil {
		t.Errorf("data dir was not created: %v", err)
	}

	cmd, out = newCmd()
	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("second runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", out.String())
	}
	again, _ := config.LoadConfig()
	if again.Auth.Secret != cfg.Auth.Secret {
		t.Error("secret changed on second onboard")
	}
}

func TestRunServe_NoSecret(t *testing.T) {
	setupHome(t)
	cmd, _ := newCmd()
	err := runServe(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "JWT secret not set") {
		t.Errorf("expected missing secret error, got %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	setupHome(t)

	cmd, out := newCmd()
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	for _, want := range []string{"JWT secret: not set", "Listen: 0.0.0.0:18790", "not created yet", "access=5m0s"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, out.String())
		}
	}

	passwordFlag = "pw"
	if err := runUserAdd(cmd, []string{"alice"}); err != nil {
		t.Fatal(err)
	}
	cmd, out = newCmd()
	if err := runStatus(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "no users") || strings.Contains(out.String(), "not created yet") {
		t.Errorf("status output after user add:\n%s", out.String())
	}
}

func TestRunStatus_InvalidConfig(t *testing.T) {
	tmpDir := setupHome(t)
	os.MkdirAll(filepath.Join(tmpDir, ".taskhub"), 0755)
	os.WriteFile(filepath.Join(tmpDir, ".taskhub", "config.json"), []byte("{bad"), 0644)

	cmd, out := newCmd()
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), "Config: error") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunUserAdd(t *testing.T) {
	setupHome(t)

	cmd, _ := newCmd()
	if err := runUserAdd(cmd, []string{"alice"}); err == nil {
		t.Error("expected error without password")
	}

	passwordFlag, adminFlag = "secret", true
	cmd, out := newCmd()
	if err := runUserAdd(cmd, []string{"alice"}); err != nil {
		t.Fatalf("runUserAdd error: %v", err)
	}
	if !strings.Contains(out.String(), "Created user alice") || !strings.Contains(out.String(), "admin=true") {
		t.Errorf("unexpected output: %s", out.String())
	}
	if err := runUserAdd(cmd, []string{"alice"}); err == nil {
		t.Error("expected error for duplicate username")
	}
}

const fixture = `
users:
  - username: alice
    password: pw
spaces:
  - name: Home
    members: [alice]
tasks:
  - key: a
    name: First
    space: Home
    author: alice
    progress: 50
  - key: b
    name: Second
    space: Home
    author: alice
    depends_on: [a]
`

func TestRunSeedAndRecompute(t *testing.T) {
	tmpDir := setupHome(t)
	path := filepath.Join(tmpDir, "fixture.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0644); err != nil {
		t.Fatal(err)
	}

	cmd, out := newCmd()
	if err := runSeed(cmd, []string{path}); err != nil {
		t.Fatalf("runSeed error: %v", err)
	}
	if !strings.Contains(out.String(), "1 users, 1 spaces") || !strings.Contains(out.String(), "2 tasks") {
		t.Errorf("unexpected output: %s", out.String())
	}

	cmd, out = newCmd()
	if err := runSeed(cmd, []string{path}); err != nil {
		t.Fatalf("second runSeed error: %v", err)
	}
	if !strings.Contains(out.String(), "skipping") {
		t.Errorf("expected skip, got: %s", out.String())
	}

	cmd, out = newCmd()
	if err := runRecompute(cmd, nil); err != nil {
		t.Fatalf("runRecompute error: %v", err)
	}
	if !strings.Contains(out.String(), "Recomputed") {
		t.Errorf("unexpected output: %s", out.String())
	}

	cfg, _ := config.LoadConfig()
	st, err := store.NewEngine(cfg.Database.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{Search: "Second"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ProgressDependencies != 50 || tasks[0].IsReady {
		t.Errorf("Second = %+v", tasks)
	}
}

func TestRunSeed_MissingFile(t *testing.T) {
	tmpDir := setupHome(t)
	cmd, _ := newCmd()
	if err := runSeed(cmd, []string{filepath.Join(tmpDir, "nope.yaml")}); err == nil {
		t.Error("expected error for missing fixture")
	}
}

func TestRunJobs(t *testing.T) {
	setupHome(t)

	cmd, out := newCmd()
	if err := runJobs(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No jobs yet") {
		t.Errorf("unexpected output: %s", out.String())
	}

	svc := cron.NewService(cronStorePath())
	if _, err := svc.AddJob("reminders", cron.Every(time.Minute), cron.Payload{Action: cron.ActionReminders}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddJob("reconcile", cron.Cron("0 0 3 * * *"), cron.Payload{Action: cron.ActionReconcile}); err != nil {
		t.Fatal(err)
	}

	cmd, out = newCmd()
	if err := runJobs(cmd, nil); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{cron.ActionReminders, "every 60s", cron.ActionReconcile, "0 0 3 * * *", "never run"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("jobs output missing %q:\n%s", want, out.String())
		}
	}
}

func TestInit(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "onboard", "status", "user", "seed", "recompute", "jobs"} {
		if !names[want] {
			t.Errorf("missing command %q", want)
		}
	}
	if userAddCmd.Flags().Lookup("password") == nil || seedCmd.Flags().Lookup("force") == nil {
		t.Error("expected password and force flags")
	}
}
