package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (e *Engine) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	created := now()
	res, err := e.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin, created_at)
		VALUES (?, ?, ?, ?)
	`, strings.TrimSpace(username), passwordHash, boolToInt(isAdmin), formatTime(created))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &User{ID: id, Username: strings.TrimSpace(username), PasswordHash: passwordHash, IsAdmin: isAdmin, CreatedAt: created}, nil
}

func (e *Engine) SetUserPassword(ctx context.Context, id int64, passwordHash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (e *Engine) UserByID(ctx context.Context, id int64) (*User, error) {
	return e.queryUser(ctx, `WHERE id = ?`, id)
}

func (e *Engine) UserByName(ctx context.Context, username string) (*User, error) {
	return e.queryUser(ctx, `WHERE username = ?`, strings.TrimSpace(username))
}

func (e *Engine) queryUser(ctx context.Context, where string, arg any) (*User, error) {
	row := e.db.QueryRowContext(ctx, `SELECT id, username, password_hash, is_admin, created_at FROM users `+where, arg)
	var u User
	var admin int
	var created string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &admin, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsAdmin = admin == 1
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}

func (e *Engine) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id, username, is_admin, created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	result := make([]User, 0)
	for rows.Next() {
		var u User
		var admin int
		var created string
		if err := rows.Scan(&u.ID, &u.Username, &admin, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.IsAdmin = admin == 1
		if u.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return result, nil
}

// IsSpaceMember reports whether the user belongs to the space.
func (e *Engine) IsSpaceMember(ctx context.Context, spaceID, userID int64) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM space_users WHERE space_id = ? AND user_id = ?`, spaceID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

// MemberSpaces returns the ids of every space the user belongs to.
func (e *Engine) MemberSpaces(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT space_id FROM space_users WHERE user_id = ? ORDER BY space_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query member spaces: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
