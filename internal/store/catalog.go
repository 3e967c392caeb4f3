package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// write runs fn in a transaction and appends a history row for the entity
// whose id fn returns.
func (e *Engine) write(ctx context.Context, entity, action string, actorID *int64, v any, fn func(tx *sql.Tx) (int64, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s write: %w", entity, err)
	}
	defer tx.Rollback()

	id, err := fn(tx)
	if err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, entity, id, action, actorID, v); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s write: %w", entity, err)
	}
	return nil
}

func mustAffect(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Statuses

func (e *Engine) CreateStatus(ctx context.Context, s *Status, actorID *int64) error {
	s.Name = strings.TrimSpace(s.Name)
	s.Settings = json.RawMessage(jsonText(s.Settings, "{}"))
	return e.write(ctx, EntityStatus, ActionCreate, actorID, s, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO statuses (status_name, status_description, status_settings) VALUES (?, ?, ?)
		`, s.Name, s.Description, string(s.Settings))
		if err != nil {
			return 0, fmt.Errorf("insert status: %w", err)
		}
		s.ID, err = res.LastInsertId()
		return s.ID, err
	})
}

func (e *Engine) UpdateStatus(ctx context.Context, s *Status, actorID *int64) error {
	s.Name = strings.TrimSpace(s.Name)
	s.Settings = json.RawMessage(jsonText(s.Settings, "{}"))
	return e.write(ctx, EntityStatus, ActionUpdate, actorID, s, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE statuses SET status_name = ?, status_description = ?, status_settings = ? WHERE id = ?
		`, s.Name, s.Description, string(s.Settings), s.ID)
		if err != nil {
			return 0, fmt.Errorf("update status: %w", err)
		}
		return s.ID, mustAffect(res)
	})
}

func (e *Engine) DeleteStatus(ctx context.Context, id int64, actorID *int64) error {
	return e.deleteRow(ctx, "statuses", EntityStatus, id, actorID)
}

func (e *Engine) GetStatus(ctx context.Context, id int64) (*Status, error) {
	var s Status
	var settings string
	err := e.db.QueryRowContext(ctx, `
		SELECT id, status_name, status_description, status_settings FROM statuses WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &s.Description, &settings)
	if err != nil {
		return nil, notFound(err)
	}
	s.Settings = json.RawMessage(settings)
	return &s, nil
}

func (e *Engine) ListStatuses(ctx context.Context) ([]Status, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, status_name, status_description, status_settings FROM statuses ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	result := make([]Status, 0)
	for rows.Next() {
		var s Status
		var settings string
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &settings); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		s.Settings = json.RawMessage(settings)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return result, nil
}

// Categories

func (e *Engine) CreateCategory(ctx context.Context, c *Category, actorID *int64) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Settings = json.RawMessage(jsonText(c.Settings, "{}"))
	return e.write(ctx, EntityCategory, ActionCreate, actorID, c, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO categories (category_name, category_description, category_settings) VALUES (?, ?, ?)
		`, c.Name, c.Description, string(c.Settings))
		if err != nil {
			return 0, fmt.Errorf("insert category: %w", err)
		}
		c.ID, err = res.LastInsertId()
		return c.ID, err
	})
}

func (e *Engine) UpdateCategory(ctx context.Context, c *Category, actorID *int64) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Settings = json.RawMessage(jsonText(c.Settings, "{}"))
	return e.write(ctx, EntityCategory, ActionUpdate, actorID, c, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE categories SET category_name = ?, category_description = ?, category_settings = ? WHERE id = ?
		`, c.Name, c.Description, string(c.Settings), c.ID)
		if err != nil {
			return 0, fmt.Errorf("update category: %w", err)
		}
		return c.ID, mustAffect(res)
	})
}

func (e *Engine) DeleteCategory(ctx context.Context, id int64, actorID *int64) error {
	return e.deleteRow(ctx, "categories", EntityCategory, id, actorID)
}

func (e *Engine) GetCategory(ctx context.Context, id int64) (*Category, error) {
	var c Category
	var settings string
	err := e.db.QueryRowContext(ctx, `
		SELECT id, category_name, category_description, category_settings FROM categories WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Description, &settings)
	if err != nil {
		return nil, notFound(err)
	}
	c.Settings = json.RawMessage(settings)
	return &c, nil
}

func (e *Engine) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, category_name, category_description, category_settings FROM categories ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	result := make([]Category, 0)
	for rows.Next() {
		var c Category
		var settings string
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &settings); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Settings = json.RawMessage(settings)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return result, nil
}

// Locations

func (e *Engine) CreateLocation(ctx context.Context, l *Location, actorID *int64) error {
	l.Name = strings.TrimSpace(l.Name)
	return e.write(ctx, EntityLocation, ActionCreate, actorID, l, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO locations (location_name, location_description, location_address, location_space)
			VALUES (?, ?, ?, ?)
		`, l.Name, l.Description, l.Address, l.SpaceID)
		if err != nil {
			return 0, fmt.Errorf("insert location: %w", err)
		}
		l.ID, err = res.LastInsertId()
		return l.ID, err
	})
}

func (e *Engine) UpdateLocation(ctx context.Context, l *Location, actorID *int64) error {
	l.Name = strings.TrimSpace(l.Name)
	return e.write(ctx, EntityLocation, ActionUpdate, actorID, l, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE locations
			SET location_name = ?, location_description = ?, location_address = ?, location_space = ?
			WHERE id = ?
		`, l.Name, l.Description, l.Address, l.SpaceID, l.ID)
		if err != nil {
			return 0, fmt.Errorf("update location: %w", err)
		}
		return l.ID, mustAffect(res)
	})
}

func (e *Engine) DeleteLocation(ctx context.Context, id int64, actorID *int64) error {
	return e.deleteRow(ctx, "locations", EntityLocation, id, actorID)
}

func (e *Engine) GetLocation(ctx context.Context, id int64) (*Location, error) {
	var l Location
	err := e.db.QueryRowContext(ctx, `
		SELECT id, location_name, location_description, location_address, location_space FROM locations WHERE id = ?
	`, id).Scan(&l.ID, &l.Name, &l.Description, &l.Address, &l.SpaceID)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (e *Engine) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, location_name, location_description, location_address, location_space FROM locations ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	result := make([]Location, 0)
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.Address, &l.SpaceID); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return result, nil
}

// Links

func (e *Engine) CreateLink(ctx context.Context, l *Link, actorID *int64) error {
	l.Title = strings.TrimSpace(l.Title)
	l.URL = strings.TrimSpace(l.URL)
	return e.write(ctx, EntityLink, ActionCreate, actorID, l, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO links (link_title, link_description, link_url, link_space) VALUES (?, ?, ?, ?)
		`, l.Title, l.Description, l.URL, l.SpaceID)
		if err != nil {
			return 0, fmt.Errorf("insert link: %w", err)
		}
		l.ID, err = res.LastInsertId()
		return l.ID, err
	})
}

func (e *Engine) UpdateLink(ctx context.Context, l *Link, actorID *int64) error {
	l.Title = strings.TrimSpace(l.Title)
	l.URL = strings.TrimSpace(l.URL)
	return e.write(ctx, EntityLink, ActionUpdate, actorID, l, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE links SET link_title = ?, link_description = ?, link_url = ?, link_space = ? WHERE id = ?
		`, l.Title, l.Description, l.URL, l.SpaceID, l.ID)
		if err != nil {
			return 0, fmt.Errorf("update link: %w", err)
		}
		return l.ID, mustAffect(res)
	})
}

func (e *Engine) DeleteLink(ctx context.Context, id int64, actorID *int64) error {
	return e.deleteRow(ctx, "links", EntityLink, id, actorID)
}

func (e *Engine) GetLink(ctx context.Context, id int64) (*Link, error) {
	var l Link
	err := e.db.QueryRowContext(ctx, `
		SELECT id, link_title, link_description, link_url, link_space FROM links WHERE id = ?
	`, id).Scan(&l.ID, &l.Title, &l.Description, &l.URL, &l.SpaceID)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (e *Engine) ListLinks(ctx context.Context) ([]Link, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, link_title, link_description, link_url, link_space FROM links ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	result := make([]Link, 0)
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.Title, &l.Description, &l.URL, &l.SpaceID); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return result, nil
}

// Files

func (e *Engine) CreateFile(ctx context.Context, f *File, actorID *int64) error {
	f.Name = strings.TrimSpace(f.Name)
	return e.write(ctx, EntityFile, ActionCreate, actorID, f, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO files (file_name, file_description, file_upload, file_size) VALUES (?, ?, ?, ?)
		`, f.Name, f.Description, f.Upload, f.Size)
		if err != nil {
			return 0, fmt.Errorf("insert file: %w", err)
		}
		f.ID, err = res.LastInsertId()
		return f.ID, err
	})
}

func (e *Engine) UpdateFile(ctx context.Context, f *File, actorID *int64) error {
	f.Name = strings.TrimSpace(f.Name)
	return e.write(ctx, EntityFile, ActionUpdate, actorID, f, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE files SET file_name = ?, file_description = ?, file_upload = ?, file_size = ? WHERE id = ?
		`, f.Name, f.Description, f.Upload, f.Size, f.ID)
		if err != nil {
			return 0, fmt.Errorf("update file: %w", err)
		}
		return f.ID, mustAffect(res)
	})
}

func (e *Engine) DeleteFile(ctx context.Context, id int64, actorID *int64) error {
	return e.deleteRow(ctx, "files", EntityFile, id, actorID)
}

func (e *Engine) GetFile(ctx context.Context, id int64) (*File, error) {
	var f File
	err := e.db.QueryRowContext(ctx, `
		SELECT id, file_name, file_description, file_upload, file_size FROM files WHERE id = ?
	`, id).Scan(&f.ID, &f.Name, &f.Description, &f.Upload, &f.Size)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (e *Engine) ListFiles(ctx context.Context) ([]File, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, file_name, file_description, file_upload, file_size FROM files ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	result := make([]File, 0)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Upload, &f.Size); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return result, nil
}

// Task links

func (e *Engine) CreateTaskLink(ctx context.Context, tl *TaskLink, actorID *int64) error {
	return e.write(ctx, EntityTaskLink, ActionCreate, actorID, tl, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO task_links (task_id, link_id, description) VALUES (?, ?, ?)
		`, tl.TaskID, tl.LinkID, tl.Description)
		if err != nil {
			return 0, fmt.Errorf("insert task link: %w", err)
		}
		tl.ID, err = res.LastInsertId()
		return tl.ID, err
	})
}

func (e *Engine) UpdateTaskLink(ctx context.Context, tl *TaskLink, actorID *int64) error {
	return e.write(ctx, EntityTaskLink, ActionUpdate, actorID, tl, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE task_links SET task_id = ?, link_id = ?, description = ? WHERE id = ?
		`, tl.TaskID, tl.LinkID, tl.Description, tl.ID)
		if err != nil {
			return 0, fmt.Errorf("update task link: %w", err)
		}
		return tl.ID, mustAffect(res)
	})
}

func (e *Engine) DeleteTaskLink(ctx context.Context, id int64, actorID *int64) error {
	return e.deleteRow(ctx, "task_links", EntityTaskLink, id, actorID)
}

func (e *Engine) GetTaskLink(ctx context.Context, id int64) (*TaskLink, error) {
	var tl TaskLink
	err := e.db.QueryRowContext(ctx, `
		SELECT id, task_id, link_id, description FROM task_links WHERE id = ?
	`, id).Scan(&tl.ID, &tl.TaskID, &tl.LinkID, &tl.Description)
	if err != nil {
		return nil, notFound(err)
	}
	return &tl, nil
}

// TaskLinkPairExists reports whether (taskID, linkID) is already linked by
// a row other than excludeID.
func (e *Engine) TaskLinkPairExists(ctx context.Context, taskID, linkID, excludeID int64) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM task_links WHERE task_id = ? AND link_id = ? AND id != ?
	`, taskID, linkID, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check task link pair: %w", err)
	}
	return n > 0, nil
}

func (e *Engine) ListTaskLinks(ctx context.Context) ([]TaskLink, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id, task_id, link_id, description FROM task_links ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list task links: %w", err)
	}
	defer rows.Close()

	result := make([]TaskLink, 0)
	for rows.Next() {
		var tl TaskLink
		if err := rows.Scan(&tl.ID, &tl.TaskID, &tl.LinkID, &tl.Description); err != nil {
			return nil, fmt.Errorf("scan task link: %w", err)
		}
		result = append(result, tl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task links: %w", err)
	}
	return result, nil
}
