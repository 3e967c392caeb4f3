package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func (e *Engine) CreateSpace(ctx context.Context, s *Space, actorID *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create space: %w", err)
	}
	defer tx.Rollback()

	s.Name = strings.TrimSpace(s.Name)
	s.Settings = json.RawMessage(jsonText(s.Settings, "{}"))
	s.CreatedAt = now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO spaces (space_name, space_settings, created_at) VALUES (?, ?, ?)
	`, s.Name, string(s.Settings), formatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert space: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("space id: %w", err)
	}
	if err := replaceSpaceUsers(ctx, tx, s.ID, s.Users); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, EntitySpace, s.ID, ActionCreate, actorID, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create space: %w", err)
	}
	return nil
}

func (e *Engine) UpdateSpace(ctx context.Context, s *Space, actorID *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update space: %w", err)
	}
	defer tx.Rollback()

	s.Name = strings.TrimSpace(s.Name)
	s.Settings = json.RawMessage(jsonText(s.Settings, "{}"))
	res, err := tx.ExecContext(ctx, `UPDATE spaces SET space_name = ?, space_settings = ? WHERE id = ?`,
		s.Name, string(s.Settings), s.ID)
	if err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := replaceSpaceUsers(ctx, tx, s.ID, s.Users); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, EntitySpace, s.ID, ActionUpdate, actorID, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update space: %w", err)
	}
	return nil
}

func (e *Engine) DeleteSpace(ctx context.Context, id int64, actorID *int64) error {
	return e.deleteRow(ctx, "spaces", EntitySpace, id, actorID)
}

func (e *Engine) GetSpace(ctx context.Context, id int64) (*Space, error) {
	row := e.db.QueryRowContext(ctx, `SELECT id, space_name, space_settings, created_at FROM spaces WHERE id = ?`, id)
	s, err := scanSpace(row)
	if err != nil {
		return nil, err
	}
	if s.Users, err = e.spaceUsers(ctx, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) ListSpaces(ctx context.Context) ([]Space, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id, space_name, space_settings, created_at FROM spaces ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	result := make([]Space, 0)
	for rows.Next() {
		s, err := scanSpace(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, *s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}

	for i := range result {
		if result[i].Users, err = e.spaceUsers(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *Engine) spaceUsers(ctx context.Context, spaceID int64) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT user_id FROM space_users WHERE space_id = ? ORDER BY user_id`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("query space users: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func replaceSpaceUsers(ctx context.Context, tx *sql.Tx, spaceID int64, users []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM space_users WHERE space_id = ?`, spaceID); err != nil {
		return fmt.Errorf("clear space users: %w", err)
	}
	for _, uid := range users {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO space_users (space_id, user_id) VALUES (?, ?)`, spaceID, uid); err != nil {
			return fmt.Errorf("insert space user: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpace(row rowScanner) (*Space, error) {
	var s Space
	var settings, created string
	if err := row.Scan(&s.ID, &s.Name, &settings, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan space: %w", err)
	}
	s.Settings = json.RawMessage(settings)
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = t
	return &s, nil
}

// deleteRow removes one row and records its last state in history.
func (e *Engine) deleteRow(ctx context.Context, table, entity string, id int64, actorID *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s: %w", entity, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", entity, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := appendHistory(ctx, tx, entity, id, ActionDelete, actorID, map[string]int64{"id": id}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %s: %w", entity, err)
	}
	return nil
}
