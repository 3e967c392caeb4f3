package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is written to PRAGMA user_version after initSchema.
const SchemaVersion = 1

// timeLayout sorts lexicographically, which the range filters rely on.
const timeLayout = "2006-01-02T15:04:05.000000Z"

var ErrNotFound = errors.New("not found")

type Engine struct {
	db *sql.DB
	mu sync.Mutex
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	// PRAGMAs are per connection; a single connection keeps them in effect
	// and matches SQLite's single-writer model.
	e.db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			space_name TEXT NOT NULL,
			space_settings TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_spaces_name ON spaces(space_name COLLATE NOCASE)`,
		`CREATE TABLE IF NOT EXISTS space_users (
			space_id INTEGER NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (space_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_space_users_user ON space_users(user_id)`,
		`CREATE TABLE IF NOT EXISTS statuses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			status_name TEXT NOT NULL,
			status_description TEXT NOT NULL DEFAULT '',
			status_settings TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_statuses_name ON statuses(status_name COLLATE NOCASE)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category_name TEXT NOT NULL,
			category_description TEXT NOT NULL DEFAULT '',
			category_settings TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_name ON categories(category_name COLLATE NOCASE)`,
		`CREATE TABLE IF NOT EXISTS locations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			location_name TEXT NOT NULL,
			location_description TEXT NOT NULL DEFAULT '',
			location_address TEXT NOT NULL DEFAULT '',
			location_space INTEGER NOT NULL REFERENCES spaces(id) ON DELETE CASCADE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_name ON locations(location_name COLLATE NOCASE)`,
		`CREATE TABLE IF NOT EXISTS links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			link_title TEXT NOT NULL UNIQUE,
			link_description TEXT NOT NULL DEFAULT '',
			link_url TEXT NOT NULL UNIQUE,
			link_space INTEGER NOT NULL REFERENCES spaces(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT NOT NULL UNIQUE,
			file_description TEXT NOT NULL DEFAULT '',
			file_upload TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 5,
			status_id INTEGER REFERENCES statuses(id) ON DELETE SET NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			progress_dependencies INTEGER NOT NULL DEFAULT 100,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			start_date TEXT,
			end_date TEXT,
			deadline TEXT,
			deleted_at TEXT,
			location_id INTEGER REFERENCES locations(id) ON DELETE SET NULL,
			author_id INTEGER NOT NULL REFERENCES users(id),
			last_editor_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
			assignee_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
			complexity INTEGER NOT NULL DEFAULT 5,
			risk_level TEXT NOT NULL DEFAULT 'low',
			is_ready INTEGER NOT NULL DEFAULT 1,
			is_recurring INTEGER NOT NULL DEFAULT 0,
			needs_approval INTEGER NOT NULL DEFAULT 0,
			is_template INTEGER NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			estimated_duration INTEGER,
			actual_duration INTEGER,
			quality_rating INTEGER,
			budget REAL,
			cancel_reason TEXT NOT NULL DEFAULT '',
			time_intervals TEXT NOT NULL DEFAULT '{}',
			reminders TEXT NOT NULL DEFAULT '[]',
			notifications TEXT NOT NULL DEFAULT '{}',
			repeat_interval INTEGER,
			next_activation TEXT,
			space_id INTEGER NOT NULL REFERENCES spaces(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_name ON tasks(task_name)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_ready ON tasks(is_ready)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks(deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_space ON tasks(space_id, is_deleted)`,
		`CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			depends_on_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			PRIMARY KEY (task_id, depends_on_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dependencies_reverse ON task_dependencies(depends_on_id)`,
		`CREATE TABLE IF NOT EXISTS task_categories (
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			PRIMARY KEY (task_id, category_id)
		)`,
		`CREATE TABLE IF NOT EXISTS task_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			link_id INTEGER NOT NULL REFERENCES links(id) ON DELETE CASCADE,
			description TEXT NOT NULL DEFAULT '',
			UNIQUE (task_id, link_id)
		)`,
		`CREATE TABLE IF NOT EXISTS task_tags (
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			PRIMARY KEY (task_id, tag)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
			task_name,
			description,
			cancel_reason,
			tags,
			tokenize='unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			actor_id INTEGER,
			snapshot TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_entity ON history(entity, entity_id, id)`,
		`CREATE TABLE IF NOT EXISTS reminder_deliveries (
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			reminder_at TEXT NOT NULL,
			method TEXT NOT NULL,
			delivered_at TEXT NOT NULL,
			PRIMARY KEY (task_id, reminder_at, method)
		)`,
		fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion),
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// IsEmpty reports whether no user has been created yet.
func (e *Engine) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&n); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return n == 0, nil
}

// NameTaken reports whether column already holds name in table, ignoring
// the row excludeID. fold compares case-insensitively.
func (e *Engine) NameTaken(ctx context.Context, table, column, name string, excludeID int64, fold bool) (bool, error) {
	cmp := column + ` = ?`
	if fold {
		cmp = column + ` = ? COLLATE NOCASE`
	}
	q := `SELECT COUNT(1) FROM ` + table + ` WHERE ` + cmp + ` AND id != ?`
	var n int
	if err := e.db.QueryRowContext(ctx, q, strings.TrimSpace(name), excludeID).Scan(&n); err != nil {
		return false, fmt.Errorf("check %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// Exists reports whether table has a row with the given id.
func (e *Engine) Exists(ctx context.Context, table string, id int64) (bool, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table+` WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check %s %d: %w", table, id, err)
	}
	return n > 0, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}

// queryBatchSize caps the ids bound into one IN list, below SQLite's
// host parameter limit.
var queryBatchSize = 500

// chunkIDs splits ids into consecutive slices of at most queryBatchSize.
func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > queryBatchSize {
		chunks = append(chunks, ids[:queryBatchSize])
		ids = ids[queryBatchSize:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func scanNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func jsonText(raw []byte, fallback string) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return fallback
	}
	return s
}

// now is truncated to the stored precision so in-memory values compare
// equal to what is read back.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// MissingIDs returns the ids that have no row in table, in input order.
func (e *Engine) MissingIDs(ctx context.Context, table string, ids []int64) ([]int64, error) {
	return e.missing(ctx, `SELECT id FROM `+table+` WHERE id IN (%s)`, ids)
}

func (e *Engine) missing(ctx context.Context, query string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	present := make(map[int64]bool, len(ids))
	for _, chunk := range chunkIDs(ids) {
		rows, err := e.db.QueryContext(ctx, fmt.Sprintf(query, placeholders(len(chunk))), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query existing ids: %w", err)
		}
		found, err := scanIDs(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			present[id] = true
		}
	}
	var out []int64
	for _, id := range ids {
		if !present[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
