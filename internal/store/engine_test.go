package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "taskhub.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func schemaObjectExists(t *testing.T, e *Engine, name, kind string) bool {
	t.Helper()
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n > 0
}

func TestNewEngine(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "taskhub.db")

	e, err := NewEngine(dbPath)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Idempotent reopen against the same path.
	e2, err := NewEngine(dbPath)
	if err != nil {
		t.Fatalf("NewEngine reopen error: %v", err)
	}
	defer e2.Close()
}

func TestInitSchema(t *testing.T) {
	e := newTestEngine(t)

	for _, table := range []string{"users", "spaces", "space_users", "statuses", "categories", "locations",
		"links", "files", "tasks", "task_dependencies", "task_categories", "task_links", "task_tags",
		"tasks_fts", "history", "reminder_deliveries"} {
		if !schemaObjectExists(t, e, table, "table") {
			t.Fatalf("expected table %q to exist", table)
		}
	}
	for _, index := range []string{"idx_spaces_name", "idx_statuses_name", "idx_dependencies_reverse", "idx_tasks_space"} {
		if !schemaObjectExists(t, e, index, "index") {
			t.Fatalf("expected index %q to exist", index)
		}
	}

	var version int
	if err := e.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("expected user_version=%d, got %d", SchemaVersion, version)
	}
}

func TestUsersAndMembership(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	empty, err := e.IsEmpty(ctx)
	if err != nil || !empty {
		t.Fatalf("IsEmpty = %v, %v; want true", empty, err)
	}

	alice, err := e.CreateUser(ctx, " alice ", "hash", true)
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if alice.Username != "alice" {
		t.Fatalf("username not trimmed: %q", alice.Username)
	}
	bob, err := e.CreateUser(ctx, "bob", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	got, err := e.UserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("UserByName error: %v", err)
	}
	if got.ID != alice.ID || !got.IsAdmin {
		t.Fatalf("unexpected user: %+v", got)
	}
	if _, err := e.UserByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	space := &Space{Name: "Ops", Users: []int64{alice.ID}}
	if err := e.CreateSpace(ctx, space, &alice.ID); err != nil {
		t.Fatalf("CreateSpace error: %v", err)
	}

	member, err := e.IsSpaceMember(ctx, space.ID, alice.ID)
	if err != nil || !member {
		t.Fatalf("alice should be a member: %v %v", member, err)
	}
	member, err = e.IsSpaceMember(ctx, space.ID, bob.ID)
	if err != nil || member {
		t.Fatalf("bob should not be a member: %v %v", member, err)
	}

	space.Users = []int64{alice.ID, bob.ID}
	if err := e.UpdateSpace(ctx, space, &alice.ID); err != nil {
		t.Fatalf("UpdateSpace error: %v", err)
	}
	spaces, err := e.MemberSpaces(ctx, bob.ID)
	if err != nil {
		t.Fatalf("MemberSpaces error: %v", err)
	}
	if len(spaces) != 1 || spaces[0] != space.ID {
		t.Fatalf("unexpected member spaces: %v", spaces)
	}
}

func TestNameTakenFoldsCase(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s := &Status{Name: "In Progress"}
	if err := e.CreateStatus(ctx, s, nil); err != nil {
		t.Fatalf("CreateStatus error: %v", err)
	}

	taken, err := e.NameTaken(ctx, "statuses", "status_name", "in progress", 0, true)
	if err != nil || !taken {
		t.Fatalf("expected case-insensitive match: %v %v", taken, err)
	}
	taken, err = e.NameTaken(ctx, "statuses", "status_name", "in progress", s.ID, true)
	if err != nil || taken {
		t.Fatalf("own row must be excluded: %v %v", taken, err)
	}

	if err := e.CreateStatus(ctx, &Status{Name: "IN PROGRESS"}, nil); err == nil {
		t.Fatal("expected unique index to reject duplicate status name")
	}
}

func TestCatalogHistory(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	c := &Category{Name: "Bug"}
	if err := e.CreateCategory(ctx, c, nil); err != nil {
		t.Fatalf("CreateCategory error: %v", err)
	}
	c.Description = "defects"
	if err := e.UpdateCategory(ctx, c, nil); err != nil {
		t.Fatalf("UpdateCategory error: %v", err)
	}
	if err := e.DeleteCategory(ctx, c.ID, nil); err != nil {
		t.Fatalf("DeleteCategory error: %v", err)
	}
	if _, err := e.GetCategory(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := e.DeleteCategory(ctx, c.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	history, err := e.History(ctx, EntityCategory, c.ID)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(history))
	}
	for i, want := range []string{ActionCreate, ActionUpdate, ActionDelete} {
		if history[i].Action != want {
			t.Fatalf("history[%d].Action = %q, want %q", i, history[i].Action, want)
		}
	}
}

func TestBuildFTSMatchQuery(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"   ":               "",
		"deploy":            `"deploy"*`,
		"Deploy API":        `"deploy"* AND "api"*`,
		"api OR drop(*)":    `"api"* AND "drop"*`,
		"not and or":        "",
		"deploy deploy api": `"deploy"* AND "api"*`,
	}
	for in, want := range cases {
		if got := buildFTSMatchQuery(in); got != want {
			t.Fatalf("buildFTSMatchQuery(%q) = %q, want %q", in, got, want)
		}
	}
}
