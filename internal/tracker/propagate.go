package tracker

import (
	"context"
	"fmt"
	"log"

	"github.com/stellarlinkco/taskhub/internal/store"
)

// progressStore is the slice of the store the propagator needs.
type progressStore interface {
	DependentsOf(ctx context.Context, id int64) ([]int64, error)
	DependencyProgress(ctx context.Context, ids []int64) (map[int64][]int, error)
	ApplyProgress(ctx context.Context, updates []store.ProgressUpdate) error
	TaskIDs(ctx context.Context) ([]int64, error)
}

// Propagator keeps progress_dependencies and is_ready in step with the
// progress of each task's dependencies. Writes go through ApplyProgress,
// which never re-enters the task save path.
type Propagator struct {
	store progressStore
}

func NewPropagator(st progressStore) *Propagator {
	return &Propagator{store: st}
}

// Aggregate derives (progress_dependencies, is_ready) from the progress
// values of a task's live dependencies. No dependencies means 100 and
// ready; otherwise the truncated mean, ready only at exactly 100.
func Aggregate(progress []int) (int, bool) {
	if len(progress) == 0 {
		return 100, true
	}
	sum := 0
	for _, p := range progress {
		sum += p
	}
	avg := sum / len(progress)
	return avg, avg == 100
}

// RecordTaskSaved recomputes every task that depends on taskID.
func (p *Propagator) RecordTaskSaved(ctx context.Context, taskID int64) error {
	dependents, err := p.store.DependentsOf(ctx, taskID)
	if err != nil {
		return fmt.Errorf("find dependents of task %d: %w", taskID, err)
	}
	return p.recompute(ctx, dependents)
}

// RecordDependenciesChanged recomputes taskID's own derived fields.
func (p *Propagator) RecordDependenciesChanged(ctx context.Context, taskID int64) error {
	return p.recompute(ctx, []int64{taskID})
}

// Reconcile recomputes every live task and returns how many were written.
func (p *Propagator) Reconcile(ctx context.Context) (int, error) {
	ids, err := p.store.TaskIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}
	if err := p.recompute(ctx, ids); err != nil {
		return 0, err
	}
	log.Printf("[tracker] reconciled %d tasks", len(ids))
	return len(ids), nil
}

func (p *Propagator) recompute(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	progress, err := p.store.DependencyProgress(ctx, ids)
	if err != nil {
		return fmt.Errorf("load dependency progress: %w", err)
	}
	updates := make([]store.ProgressUpdate, 0, len(ids))
	for _, id := range ids {
		avg, ready := Aggregate(progress[id])
		updates = append(updates, store.ProgressUpdate{TaskID: id, ProgressDependencies: avg, IsReady: ready})
	}
	if err := p.store.ApplyProgress(ctx, updates); err != nil {
		return fmt.Errorf("apply dependency progress: %w", err)
	}
	return nil
}
