package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Entity names used in the history table.
const (
	EntitySpace    = "space"
	EntityStatus   = "status"
	EntityCategory = "category"
	EntityLocation = "location"
	EntityLink     = "link"
	EntityFile     = "file"
	EntityTask     = "task"
	EntityTaskLink = "task_link"
)

// taskHistoryExcluded never reach a task's history snapshot.
var taskHistoryExcluded = []string{"is_deleted", "deleted_at"}

func appendHistory(ctx context.Context, tx *sql.Tx, entity string, id int64, action string, actorID *int64, v any, exclude ...string) error {
	snapshot, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", entity, err)
	}
	for _, path := range exclude {
		snapshot, err = sjson.DeleteBytes(snapshot, path)
		if err != nil {
			return fmt.Errorf("strip %s from %s snapshot: %w", path, entity, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (entity, entity_id, action, actor_id, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entity, id, action, nullInt64(actorID), string(snapshot), formatTime(now()))
	if err != nil {
		return fmt.Errorf("write %s history: %w", entity, err)
	}
	return nil
}

// History returns the audit trail of one entity, oldest first.
func (e *Engine) History(ctx context.Context, entity string, id int64) ([]HistoryEntry, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, entity, entity_id, action, actor_id, snapshot, created_at
		FROM history
		WHERE entity = ? AND entity_id = ?
		ORDER BY id ASC
	`, entity, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	result := make([]HistoryEntry, 0)
	for rows.Next() {
		var h HistoryEntry
		var actor sql.NullInt64
		var snapshot, created string
		if err := rows.Scan(&h.ID, &h.Entity, &h.EntityID, &h.Action, &actor, &snapshot, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.ActorID = scanNullInt64(actor)
		h.Snapshot = json.RawMessage(snapshot)
		if h.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return result, nil
}
