package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stellarlinkco/taskhub/internal/auth"
	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

const demo = `
users:
  - username: alice
    password: s3cret
    admin: true
  - username: bob
    password: hunter2
spaces:
  - name: Build
    members: [alice, bob]
    settings:
      color: blue
statuses:
  - name: Done
    settings:
      progress_on_set: 100
      is_completed: true
categories:
  - name: Construction
locations:
  - name: Site A
    address: 1 Main St
    space: Build
links:
  - title: Plans
    url: https://example.com/plans
    space: Build
tasks:
  - key: frame
    name: Frame walls
    space: Build
    author: alice
    depends_on: [foundation]
    categories: [Construction]
    links: [Plans]
    location: Site A
  - key: foundation
    name: Pour foundation
    space: Build
    author: bob
    assignee: bob
    status: Done
    priority: 8
    deadline: 2026-06-01T17:00:00Z
    notifications:
      on_complete: [log]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTracker(t *testing.T) (*store.Engine, *tracker.Service) {
	t.Helper()
	st, err := store.NewEngine(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, tracker.NewService(st, nil)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "demo.yaml", demo)
	fx, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if len(fx.Users) != 2 || len(fx.Tasks) != 2 {
		t.Fatalf("users=%d tasks=%d, want 2 and 2", len(fx.Users), len(fx.Tasks))
	}
	if fx.Tasks[1].Deadline == nil || fx.Tasks[1].Deadline.Year() != 2026 {
		t.Errorf("deadline = %v", fx.Tasks[1].Deadline)
	}
	if fx.Statuses[0].Settings["is_completed"] != true {
		t.Errorf("status settings = %v", fx.Statuses[0].Settings)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "bad.yaml", "users: [unterminated")
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "parse fixture") {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_DirectoryMergesInNameOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "b.yml", "users:\n  - username: second\n    password: x\n")
	writeFile(t, dir, "a.yaml", "users:\n  - username: first\n    password: x\n")
	writeFile(t, dir, "notes.txt", "users: nope")
	if err := os.Mkdir(filepath.Join(dir, "nested.yaml"), 0755); err != nil {
		t.Fatal(err)
	}

	fx, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(fx.Users) != 2 || fx.Users[0].Username != "first" || fx.Users[1].Username != "second" {
		t.Fatalf("users = %+v", fx.Users)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	t.Parallel()

	fx, err := Load("  ")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(fx.Tasks) != 0 {
		t.Errorf("expected empty fixture")
	}
}

func TestOrderTasks(t *testing.T) {
	t.Parallel()

	ordered, err := orderTasks([]TaskFixture{
		{Key: "c", DependsOn: []string{"b"}},
		{Key: "b", DependsOn: []string{"a"}},
		{Key: "a"},
		{Name: "loose"},
	})
	if err != nil {
		t.Fatalf("orderTasks error: %v", err)
	}
	var keys []string
	for _, tf := range ordered {
		keys = append(keys, tf.Key+tf.Name)
	}
	if got := strings.Join(keys, ","); got != "a,loose,b,c" {
		t.Errorf("order = %s, want a,loose,b,c", got)
	}

	if _, err := orderTasks([]TaskFixture{{Key: "a", DependsOn: []string{"b"}}, {Key: "b", DependsOn: []string{"a"}}}); err == nil {
		t.Error("expected cycle error")
	}
	if _, err := orderTasks([]TaskFixture{{Key: "a"}, {Key: "a"}}); err == nil {
		t.Error("expected duplicate key error")
	}
	if _, err := orderTasks([]TaskFixture{{Key: "a", DependsOn: []string{"zzz"}}}); err == nil {
		t.Error("expected unknown key error")
	}
}

func TestApply(t *testing.T) {
	st, svc := newTracker(t)
	ctx := context.Background()

	fx, err := LoadFile(writeFile(t, t.TempDir(), "demo.yaml", demo))
	if err != nil {
		t.Fatal(err)
	}
	res, err := Apply(ctx, st, svc, fx)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	want := Result{Users: 2, Spaces: 1, Statuses: 1, Categories: 1, Locations: 1, Links: 1, Tasks: 2}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}

	alice, err := st.UserByName(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !alice.IsAdmin || !auth.CheckPassword(alice.PasswordHash, "s3cret") {
		t.Errorf("alice = %+v", alice)
	}

	tasks, err := svc.ListTasks(ctx, nil, store.TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	byName := make(map[string]store.Task, len(tasks))
	for _, task := range tasks {
		byName[task.Name] = task
	}
	foundation, frame := byName["Pour foundation"], byName["Frame walls"]
	if foundation.Progress != 100 || foundation.Priority != 8 {
		t.Errorf("foundation = %+v", foundation)
	}
	if len(frame.Dependencies) != 1 || frame.Dependencies[0] != foundation.ID {
		t.Errorf("frame dependencies = %v", frame.Dependencies)
	}
	if frame.ProgressDependencies != 100 || !frame.IsReady {
		t.Errorf("frame progress_dependencies=%d ready=%v", frame.ProgressDependencies, frame.IsReady)
	}
	if frame.LocationID == nil || len(frame.Categories) != 1 || len(frame.Links) != 1 {
		t.Errorf("frame refs = %+v", frame)
	}
}

func TestApply_ExistingUsersReused(t *testing.T) {
	st, svc := newTracker(t)
	ctx := context.Background()

	hash, _ := auth.HashPassword("old")
	if _, err := st.CreateUser(ctx, "alice", hash, false); err != nil {
		t.Fatal(err)
	}
	res, err := Apply(ctx, st, svc, &Fixture{Users: []UserFixture{{Username: "alice", Password: "new"}}})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if res.Users != 0 {
		t.Errorf("created %d users, want 0", res.Users)
	}
}

func TestApply_UnknownReferences(t *testing.T) {
	st, svc := newTracker(t)
	ctx := context.Background()

	base := Fixture{
		Users:  []UserFixture{{Username: "alice", Password: "pw"}},
		Spaces: []SpaceFixture{{Name: "S", Members: []string{"alice"}}},
	}

	fx := base
	fx.Tasks = []TaskFixture{{Name: "t", Space: "S", Author: "alice", Status: "Nope"}}
	if _, err := Apply(ctx, st, svc, &fx); err == nil || !strings.Contains(err.Error(), `unknown status "Nope"`) {
		t.Errorf("expected unknown status error, got %v", err)
	}

	if _, err := Apply(ctx, st, svc, &Fixture{Spaces: []SpaceFixture{{Name: "X"}}}); err == nil {
		t.Error("expected error for space without members")
	}
	if _, err := Apply(ctx, st, svc, &Fixture{Users: []UserFixture{{Username: "carol"}}}); err == nil {
		t.Error("expected error for user without password")
	}
}
