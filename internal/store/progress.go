package store

import (
	"context"
	"fmt"
)

// DependentsOf returns the ids of tasks that list id as a dependency.
func (e *Engine) DependentsOf(ctx context.Context, id int64) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT task_id FROM task_dependencies WHERE depends_on_id = ? ORDER BY task_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query dependents: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// DependencyProgress returns, for each requested task, the progress values
// of its live dependencies. Tasks without live dependencies map to an
// empty slice.
func (e *Engine) DependencyProgress(ctx context.Context, ids []int64) (map[int64][]int, error) {
	result := make(map[int64][]int, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	for _, id := range ids {
		result[id] = []int{}
	}

	for _, chunk := range chunkIDs(ids) {
		if err := e.dependencyProgress(ctx, chunk, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *Engine) dependencyProgress(ctx context.Context, ids []int64, result map[int64][]int) error {
	rows, err := e.db.QueryContext(ctx, `
		SELECT d.task_id, t.progress
		FROM task_dependencies d
		JOIN tasks t ON t.id = d.depends_on_id
		WHERE d.task_id IN (`+placeholders(len(ids))+`) AND t.is_deleted = 0
		ORDER BY d.task_id, d.depends_on_id
	`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("query dependency progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var progress int
		if err := rows.Scan(&id, &progress); err != nil {
			return fmt.Errorf("scan dependency progress: %w", err)
		}
		result[id] = append(result[id], progress)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate dependency progress: %w", err)
	}
	return nil
}

// ApplyProgress writes the derived dependency fields in one transaction.
// It touches only progress_dependencies and is_ready: no history, no
// updated_at, no search index.
func (e *Engine) ApplyProgress(ctx context.Context, updates []ProgressUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply progress: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET progress_dependencies = ?, is_ready = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare apply progress: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.ProgressDependencies, boolToInt(u.IsReady), u.TaskID); err != nil {
			return fmt.Errorf("apply progress to task %d: %w", u.TaskID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply progress: %w", err)
	}
	return nil
}
