package store

import (
	"context"
	"fmt"
)

// MarkReminderDelivered records a delivery. It reports false when the
// reminder had already been recorded.
func (e *Engine) MarkReminderDelivered(ctx context.Context, d ReminderDelivery) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reminder_deliveries (task_id, reminder_at, method, delivered_at)
		VALUES (?, ?, ?, ?)
	`, d.TaskID, formatTime(d.ReminderAt), d.Method, formatTime(now()))
	if err != nil {
		return false, fmt.Errorf("record reminder delivery: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReminderDelivered reports whether the reminder was already sent.
func (e *Engine) ReminderDelivered(ctx context.Context, d ReminderDelivery) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM reminder_deliveries WHERE task_id = ? AND reminder_at = ? AND method = ?
	`, d.TaskID, formatTime(d.ReminderAt), d.Method).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check reminder delivery: %w", err)
	}
	return n > 0, nil
}
