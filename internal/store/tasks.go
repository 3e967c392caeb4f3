package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const taskColumns = `t.id, t.task_name, t.description, t.priority, t.status_id, t.progress, t.progress_dependencies,
	t.created_at, t.updated_at, t.start_date, t.end_date, t.deadline, t.deleted_at,
	t.location_id, t.author_id, t.last_editor_id, t.assignee_id, t.complexity, t.risk_level,
	t.is_ready, t.is_recurring, t.needs_approval, t.is_template, t.is_deleted,
	t.estimated_duration, t.actual_duration, t.quality_rating, t.budget, t.cancel_reason,
	t.time_intervals, t.reminders, t.notifications, t.repeat_interval, t.next_activation, t.space_id`

// taskOrderings maps the accepted ordering keys to columns.
var taskOrderings = map[string]string{
	"created_at": "t.created_at",
	"updated_at": "t.updated_at",
	"start_date": "t.start_date",
	"end_date":   "t.end_date",
	"deadline":   "t.deadline",
	"priority":   "t.priority",
	"progress":   "t.progress",
	"complexity": "t.complexity",
}

// DefaultTaskOrdering is applied when a list request names none.
const DefaultTaskOrdering = "-created_at"

// ValidTaskOrdering reports whether ordering is an accepted sort key.
func ValidTaskOrdering(ordering string) bool {
	_, ok := taskOrderings[strings.TrimPrefix(ordering, "-")]
	return ok
}

// InsertTask stores a new task with its relation sets, search document and
// a creation history entry. CreatedAt and UpdatedAt are set here.
func (e *Engine) InsertTask(ctx context.Context, t *Task, actorID *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert task: %w", err)
	}
	defer tx.Rollback()

	normalizeTask(t)
	t.CreatedAt = now()
	t.UpdatedAt = t.CreatedAt
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (
			task_name, description, priority, status_id, progress,
			created_at, updated_at, start_date, end_date, deadline, deleted_at,
			location_id, author_id, last_editor_id, assignee_id, complexity, risk_level,
			is_recurring, needs_approval, is_template, is_deleted,
			estimated_duration, actual_duration, quality_rating, budget, cancel_reason,
			time_intervals, reminders, notifications, repeat_interval, next_activation, space_id,
			progress_dependencies, is_ready
		) VALUES (`+placeholders(34)+`)
	`, append(taskArgs(t), t.ProgressDependencies, boolToInt(t.IsReady))...)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	if err := writeTaskRelations(ctx, tx, t); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, EntityTask, t.ID, ActionCreate, actorID, t, taskHistoryExcluded...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert task: %w", err)
	}
	return nil
}

// UpdateTask rewrites the stored columns of t, replaces its relation sets
// and records an update history entry. UpdatedAt is set here.
// progress_dependencies and is_ready are left alone; only ApplyProgress
// writes them.
func (e *Engine) UpdateTask(ctx context.Context, t *Task, actorID *int64) error {
	return e.updateTask(ctx, t, ActionUpdate, actorID)
}

// SoftDeleteTask flags the task as deleted and records a delete entry.
func (e *Engine) SoftDeleteTask(ctx context.Context, t *Task, actorID *int64) error {
	at := now()
	t.IsDeleted = true
	t.DeletedAt = &at
	return e.updateTask(ctx, t, ActionDelete, actorID)
}

func (e *Engine) updateTask(ctx context.Context, t *Task, action string, actorID *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update task: %w", err)
	}
	defer tx.Rollback()

	normalizeTask(t)
	t.UpdatedAt = now()
	args := append(taskArgs(t), t.ID)
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			task_name = ?, description = ?, priority = ?, status_id = ?, progress = ?,
			created_at = ?, updated_at = ?, start_date = ?, end_date = ?, deadline = ?, deleted_at = ?,
			location_id = ?, author_id = ?, last_editor_id = ?, assignee_id = ?, complexity = ?, risk_level = ?,
			is_recurring = ?, needs_approval = ?, is_template = ?, is_deleted = ?,
			estimated_duration = ?, actual_duration = ?, quality_rating = ?, budget = ?, cancel_reason = ?,
			time_intervals = ?, reminders = ?, notifications = ?, repeat_interval = ?, next_activation = ?, space_id = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := writeTaskRelations(ctx, tx, t); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, EntityTask, t.ID, action, actorID, t, taskHistoryExcluded...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update task: %w", err)
	}
	return nil
}

func normalizeTask(t *Task) {
	t.Name = strings.TrimSpace(t.Name)
	if t.RiskLevel == "" {
		t.RiskLevel = "low"
	}
	t.TimeIntervals = json.RawMessage(jsonText(t.TimeIntervals, "{}"))
	t.Reminders = json.RawMessage(jsonText(t.Reminders, "[]"))
	t.Notifications = json.RawMessage(jsonText(t.Notifications, "{}"))
	t.Dependencies = uniqueIDs(t.Dependencies)
	t.Categories = uniqueIDs(t.Categories)
	t.Links = uniqueIDs(t.Links)

	tags := make([]string, 0, len(t.Tags))
	seen := make(map[string]struct{}, len(t.Tags))
	for _, tag := range t.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	t.Tags = tags
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func taskArgs(t *Task) []any {
	var budget any
	if t.Budget != nil {
		budget = *t.Budget
	}
	return []any{
		t.Name, t.Description, t.Priority, nullInt64(t.StatusID), t.Progress,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullTime(t.StartDate), nullTime(t.EndDate), nullTime(t.Deadline), nullTime(t.DeletedAt),
		nullInt64(t.LocationID), t.AuthorID, nullInt64(t.LastEditorID), nullInt64(t.AssigneeID), t.Complexity, t.RiskLevel,
		boolToInt(t.IsRecurring), boolToInt(t.NeedsApproval), boolToInt(t.IsTemplate), boolToInt(t.IsDeleted),
		nullInt(t.EstimatedDuration), nullInt(t.ActualDuration), nullInt(t.QualityRating), budget, t.CancelReason,
		string(t.TimeIntervals), string(t.Reminders), string(t.Notifications), nullInt(t.RepeatInterval), nullTime(t.NextActivation), t.SpaceID,
	}
}

func writeTaskRelations(ctx context.Context, tx *sql.Tx, t *Task) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clear dependencies: %w", err)
	}
	for _, dep := range t.Dependencies {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)`, t.ID, dep); err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_categories WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for _, c := range t.Categories {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_categories (task_id, category_id) VALUES (?, ?)`, t.ID, c); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
	}

	// Existing task links keep their id and description.
	if len(t.Links) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_links WHERE task_id = ?`, t.ID); err != nil {
			return fmt.Errorf("clear task links: %w", err)
		}
	} else {
		args := append([]any{t.ID}, int64Args(t.Links)...)
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_links WHERE task_id = ? AND link_id NOT IN (`+placeholders(len(t.Links))+`)`, args...); err != nil {
			return fmt.Errorf("prune task links: %w", err)
		}
		for _, l := range t.Links {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_links (task_id, link_id, description) VALUES (?, ?, '')`, t.ID, l); err != nil {
				return fmt.Errorf("insert task link: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range t.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_tags (task_id, tag) VALUES (?, ?)`, t.ID, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks_fts WHERE rowid = ?`, t.ID); err != nil {
		return fmt.Errorf("clear search document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks_fts (rowid, task_name, description, cancel_reason, tags) VALUES (?, ?, ?, ?, ?)
	`, searchDocument(t)...); err != nil {
		return fmt.Errorf("index task: %w", err)
	}
	return nil
}

// GetTask returns the task with its relation sets, including soft-deleted
// tasks.
func (e *Engine) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := e.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	tasks := []Task{*t}
	if err := e.loadTaskRelations(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

// ListTasks returns the tasks matching f with their relation sets.
func (e *Engine) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	where := make([]string, 0, 16)
	args := make([]any, 0, 16)
	from := `tasks t`

	if q := buildFTSMatchQuery(f.Search); q != "" {
		from = `tasks t JOIN tasks_fts ON tasks_fts.rowid = t.id`
		where = append(where, `tasks_fts MATCH ?`)
		args = append(args, q)
	} else if strings.TrimSpace(f.Search) != "" {
		// Nothing searchable survived sanitising.
		return []Task{}, nil
	}
	if !f.IncludeDeleted {
		where = append(where, `t.is_deleted = 0`)
	}
	if f.MemberID != 0 {
		where = append(where, `t.space_id IN (SELECT space_id FROM space_users WHERE user_id = ?)`)
		args = append(args, f.MemberID)
	}

	eqInt := func(col string, v *int64) {
		if v != nil {
			where = append(where, col+` = ?`)
			args = append(args, *v)
		}
	}
	eqInt("t.space_id", f.SpaceID)
	eqInt("t.status_id", f.StatusID)
	eqInt("t.author_id", f.AuthorID)
	eqInt("t.assignee_id", f.AssigneeID)
	eqInt("t.location_id", f.LocationID)

	eqBool := func(col string, v *bool) {
		if v != nil {
			where = append(where, col+` = ?`)
			args = append(args, boolToInt(*v))
		}
	}
	eqBool("t.is_ready", f.IsReady)
	eqBool("t.is_recurring", f.IsRecurring)
	eqBool("t.needs_approval", f.NeedsApproval)
	eqBool("t.is_template", f.IsTemplate)

	if f.RiskLevel != "" {
		where = append(where, `t.risk_level = ?`)
		args = append(args, f.RiskLevel)
	}

	bound := func(col, op string, v *int) {
		if v != nil {
			where = append(where, col+` `+op+` ?`)
			args = append(args, *v)
		}
	}
	bound("t.priority", ">=", f.MinPriority)
	bound("t.priority", "<=", f.MaxPriority)
	bound("t.progress", ">=", f.MinProgress)
	bound("t.progress", "<=", f.MaxProgress)
	bound("t.complexity", ">=", f.MinComplexity)
	bound("t.complexity", "<=", f.MaxComplexity)

	timeBound := func(col, op string, v *time.Time) {
		if v != nil {
			where = append(where, col+` `+op+` ?`)
			args = append(args, formatTime(*v))
		}
	}
	timeBound("t.start_date", ">=", f.StartAfter)
	timeBound("t.start_date", "<=", f.StartBefore)
	timeBound("t.end_date", ">=", f.EndAfter)
	timeBound("t.end_date", "<=", f.EndBefore)
	timeBound("t.deadline", ">=", f.DeadlineAfter)
	timeBound("t.deadline", "<=", f.DeadlineBefore)

	ordering := f.Ordering
	if !ValidTaskOrdering(ordering) {
		ordering = DefaultTaskOrdering
	}
	dir := "ASC"
	if strings.HasPrefix(ordering, "-") {
		dir = "DESC"
	}
	col := taskOrderings[strings.TrimPrefix(ordering, "-")]

	q := `SELECT ` + taskColumns + ` FROM ` + from
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY ` + col + ` ` + dir + `, t.id ` + dir
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		q += ` LIMIT -1 OFFSET ?`
		args = append(args, f.Offset)
	}

	tasks, err := e.queryTasks(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if err := e.loadTaskRelations(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (e *Engine) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	result := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return result, nil
}

func (e *Engine) loadTaskRelations(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	index := make(map[int64]*Task, len(tasks))
	ids := make([]int64, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		t.Dependencies = []int64{}
		t.Categories = []int64{}
		t.Links = []int64{}
		t.Tags = []string{}
		index[t.ID] = t
		ids = append(ids, t.ID)
	}
	in := placeholders(len(ids))
	args := int64Args(ids)

	pairs := func(q string, add func(t *Task, v int64)) error {
		rows, err := e.db.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("query task relations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, v int64
			if err := rows.Scan(&id, &v); err != nil {
				return fmt.Errorf("scan task relation: %w", err)
			}
			add(index[id], v)
		}
		return rows.Err()
	}

	if err := pairs(`SELECT task_id, depends_on_id FROM task_dependencies WHERE task_id IN (`+in+`) ORDER BY depends_on_id`,
		func(t *Task, v int64) { t.Dependencies = append(t.Dependencies, v) }); err != nil {
		return err
	}
	if err := pairs(`SELECT task_id, category_id FROM task_categories WHERE task_id IN (`+in+`) ORDER BY category_id`,
		func(t *Task, v int64) { t.Categories = append(t.Categories, v) }); err != nil {
		return err
	}
	if err := pairs(`SELECT task_id, link_id FROM task_links WHERE task_id IN (`+in+`) ORDER BY link_id`,
		func(t *Task, v int64) { t.Links = append(t.Links, v) }); err != nil {
		return err
	}

	rows, err := e.db.QueryContext(ctx, `SELECT task_id, tag FROM task_tags WHERE task_id IN (`+in+`) ORDER BY rowid`, args...)
	if err != nil {
		return fmt.Errorf("query task tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return fmt.Errorf("scan task tag: %w", err)
		}
		index[id].Tags = append(index[id].Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate task tags: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status, location, lastEditor, assignee sql.NullInt64
	var estimated, actual, quality, repeat sql.NullInt64
	var budget sql.NullFloat64
	var created, updated string
	var start, end, deadline, deleted, nextActivation sql.NullString
	var ready, recurring, approval, template, isDeleted int
	var timeIntervals, reminders, notifications string
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Priority, &status, &t.Progress, &t.ProgressDependencies,
		&created, &updated, &start, &end, &deadline, &deleted,
		&location, &t.AuthorID, &lastEditor, &assignee, &t.Complexity, &t.RiskLevel,
		&ready, &recurring, &approval, &template, &isDeleted,
		&estimated, &actual, &quality, &budget, &t.CancelReason,
		&timeIntervals, &reminders, &notifications, &repeat, &nextActivation, &t.SpaceID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.StatusID = scanNullInt64(status)
	t.LocationID = scanNullInt64(location)
	t.LastEditorID = scanNullInt64(lastEditor)
	t.AssigneeID = scanNullInt64(assignee)
	t.EstimatedDuration = scanNullInt(estimated)
	t.ActualDuration = scanNullInt(actual)
	t.QualityRating = scanNullInt(quality)
	t.RepeatInterval = scanNullInt(repeat)
	if budget.Valid {
		b := budget.Float64
		t.Budget = &b
	}
	t.IsReady = ready == 1
	t.IsRecurring = recurring == 1
	t.NeedsApproval = approval == 1
	t.IsTemplate = template == 1
	t.IsDeleted = isDeleted == 1
	t.TimeIntervals = json.RawMessage(timeIntervals)
	t.Reminders = json.RawMessage(reminders)
	t.Notifications = json.RawMessage(notifications)

	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&t.StartDate, start},
		{&t.EndDate, end},
		{&t.Deadline, deadline},
		{&t.DeletedAt, deleted},
		{&t.NextActivation, nextActivation},
	} {
		if *f.dst, err = scanNullTime(f.src); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// DependencyGraph returns every dependency edge as task id -> prerequisites.
func (e *Engine) DependencyGraph(ctx context.Context) (map[int64][]int64, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT task_id, depends_on_id FROM task_dependencies ORDER BY task_id, depends_on_id`)
	if err != nil {
		return nil, fmt.Errorf("query dependency graph: %w", err)
	}
	defer rows.Close()

	graph := make(map[int64][]int64)
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scan dependency edge: %w", err)
		}
		graph[from] = append(graph[from], to)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependency graph: %w", err)
	}
	return graph, nil
}

// TaskIDs returns the ids of all tasks that are not soft-deleted.
func (e *Engine) TaskIDs(ctx context.Context) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id FROM tasks WHERE is_deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query task ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// DueRecurringTasks returns recurring tasks whose next activation is at or
// before t.
func (e *Engine) DueRecurringTasks(ctx context.Context, t time.Time) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE is_deleted = 0 AND is_recurring = 1
		  AND repeat_interval IS NOT NULL AND repeat_interval > 0
		  AND next_activation IS NOT NULL AND next_activation <= ?
		ORDER BY id
	`, formatTime(t))
	if err != nil {
		return nil, fmt.Errorf("query due recurring tasks: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// TasksWithReminders returns live tasks whose reminder list is not empty.
func (e *Engine) TasksWithReminders(ctx context.Context) ([]Task, error) {
	tasks, err := e.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.is_deleted = 0 AND t.reminders != '[]' ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	if err := e.loadTaskRelations(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// PurgeDeletedTasks hard-deletes tasks soft-deleted before cutoff and
// returns their ids.
func (e *Engine) PurgeDeletedTasks(ctx context.Context, cutoff time.Time) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE is_deleted = 1 AND deleted_at IS NOT NULL AND deleted_at < ?`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query purgeable tasks: %w", err)
	}
	ids, err := scanIDs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	in := placeholders(len(ids))
	args := int64Args(ids)
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks_fts WHERE rowid IN (`+in+`)`, args...); err != nil {
		return nil, fmt.Errorf("purge search documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id IN (`+in+`)`, args...); err != nil {
		return nil, fmt.Errorf("purge tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purge: %w", err)
	}
	return ids, nil
}

// MissingTasks returns the ids that do not name a live task.
func (e *Engine) MissingTasks(ctx context.Context, ids []int64) ([]int64, error) {
	return e.missing(ctx, `SELECT id FROM tasks WHERE is_deleted = 0 AND id IN (%s)`, ids)
}
