package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/taskhub/internal/bus"
	"github.com/stellarlinkco/taskhub/internal/store"
)

// NewTask returns a task carrying the creation defaults.
func NewTask() store.Task {
	return store.Task{
		Priority:             5,
		Complexity:           5,
		RiskLevel:            "low",
		ProgressDependencies: 100,
		IsReady:              true,
	}
}

// GetTask returns a live task visible to actor.
func (s *Service) GetTask(ctx context.Context, actor *store.User, id int64) (*store.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsDeleted {
		return nil, store.ErrNotFound
	}
	ok, err := s.canAccessSpace(ctx, actor, t.SpaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

// ListTasks lists live tasks in the actor's spaces.
func (s *Service) ListTasks(ctx context.Context, actor *store.User, f store.TaskFilter) ([]store.Task, error) {
	if f.Ordering != "" && !store.ValidTaskOrdering(f.Ordering) {
		return nil, fieldError("ordering", fmt.Sprintf("%q is not a valid ordering", f.Ordering))
	}
	if actor != nil {
		f.MemberID = actor.ID
	}
	f.IncludeDeleted = false
	return s.store.ListTasks(ctx, f)
}

// TaskHistory returns the audit trail of a task, including one that has
// been soft-deleted.
func (s *Service) TaskHistory(ctx context.Context, actor *store.User, id int64) ([]store.HistoryEntry, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.canAccessSpace(ctx, actor, t.SpaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.store.History(ctx, store.EntityTask, id)
}

// CreateTask validates and stores a new task authored by actor, then
// brings the derived dependency fields up to date.
func (s *Service) CreateTask(ctx context.Context, actor *store.User, in store.Task) (*store.Task, error) {
	if actor == nil {
		return nil, errors.New("create task: acting user required")
	}

	t := in
	t.ID = 0
	t.AuthorID = actor.ID
	t.LastEditorID = nil
	t.IsDeleted = false
	t.DeletedAt = nil
	t.ProgressDependencies = 100
	t.IsReady = true

	v := &ValidationError{}
	status, err := s.loadStatus(ctx, t.StatusID, v)
	if err != nil {
		return nil, err
	}
	if p, ok := progressOnSet(status); ok {
		t.Progress = p
	}
	validateTaskFields(&t, status, v)
	if err := s.validateTaskRefs(ctx, actor, &t, nil, v); err != nil {
		return nil, err
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.store.InsertTask(ctx, &t, actorID(actor)); err != nil {
		return nil, err
	}
	if err := s.propagator.RecordDependenciesChanged(ctx, t.ID); err != nil {
		return nil, err
	}
	if err := s.propagator.RecordTaskSaved(ctx, t.ID); err != nil {
		return nil, err
	}

	saved, err := s.store.GetTask(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.publish(bus.Event{Type: bus.TaskCreated, SpaceID: saved.SpaceID, Task: saved, ActorID: actorID(actor)})
	return saved, nil
}

// UpdateTask replaces the writable fields of an existing task with those of
// in. Managed fields are kept from the stored row.
func (s *Service) UpdateTask(ctx context.Context, actor *store.User, in store.Task) (*store.Task, error) {
	prev, err := s.GetTask(ctx, actor, in.ID)
	if err != nil {
		return nil, err
	}

	t := in
	t.ID = prev.ID
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = prev.UpdatedAt
	t.AuthorID = prev.AuthorID
	t.ProgressDependencies = prev.ProgressDependencies
	t.IsReady = prev.IsReady
	t.IsDeleted = false
	t.DeletedAt = nil
	t.LastEditorID = prev.LastEditorID
	if actor != nil {
		t.LastEditorID = actorID(actor)
	}

	v := &ValidationError{}
	status, err := s.loadStatus(ctx, t.StatusID, v)
	if err != nil {
		return nil, err
	}
	statusChanged := !sameID(prev.StatusID, t.StatusID)
	if statusChanged {
		if p, ok := progressOnSet(status); ok {
			t.Progress = p
		}
	}
	validateTaskFields(&t, status, v)
	if err := s.validateTaskRefs(ctx, actor, &t, prev.Dependencies, v); err != nil {
		return nil, err
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateTask(ctx, &t, actorID(actor)); err != nil {
		return nil, err
	}
	if !sameSet(prev.Dependencies, t.Dependencies) {
		if err := s.propagator.RecordDependenciesChanged(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	if err := s.propagator.RecordTaskSaved(ctx, t.ID); err != nil {
		return nil, err
	}

	saved, err := s.store.GetTask(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	evType := bus.TaskUpdated
	if statusChanged && statusCompletes(status) {
		evType = bus.TaskCompleted
	}
	s.publish(bus.Event{Type: evType, SpaceID: saved.SpaceID, Task: saved, ActorID: actorID(actor)})
	return saved, nil
}

// DeleteTask soft-deletes a task. Its dependents stop counting it.
func (s *Service) DeleteTask(ctx context.Context, actor *store.User, id int64) error {
	t, err := s.GetTask(ctx, actor, id)
	if err != nil {
		return err
	}
	if actor != nil {
		t.LastEditorID = actorID(actor)
	}
	if err := s.store.SoftDeleteTask(ctx, t, actorID(actor)); err != nil {
		return err
	}
	if err := s.propagator.RecordTaskSaved(ctx, t.ID); err != nil {
		return err
	}
	s.publish(bus.Event{Type: bus.TaskDeleted, SpaceID: t.SpaceID, Task: t, ActorID: actorID(actor)})
	return nil
}

// AddDependency makes taskID depend on dependsOn.
func (s *Service) AddDependency(ctx context.Context, actor *store.User, taskID, dependsOn int64) (*store.Task, error) {
	t, err := s.GetTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	t.Dependencies = append(t.Dependencies, dependsOn)
	return s.UpdateTask(ctx, actor, *t)
}

// RemoveDependency drops dependsOn from taskID's dependency set.
func (s *Service) RemoveDependency(ctx context.Context, actor *store.User, taskID, dependsOn int64) (*store.Task, error) {
	t, err := s.GetTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	deps := make([]int64, 0, len(t.Dependencies))
	found := false
	for _, d := range t.Dependencies {
		if d == dependsOn {
			found = true
			continue
		}
		deps = append(deps, d)
	}
	if !found {
		return nil, store.ErrNotFound
	}
	t.Dependencies = deps
	return s.UpdateTask(ctx, actor, *t)
}

// SetDependencies replaces taskID's dependency set.
func (s *Service) SetDependencies(ctx context.Context, actor *store.User, taskID int64, deps []int64) (*store.Task, error) {
	t, err := s.GetTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	t.Dependencies = deps
	return s.UpdateTask(ctx, actor, *t)
}

func (s *Service) loadStatus(ctx context.Context, id *int64, v *ValidationError) (*store.Status, error) {
	if id == nil {
		return nil, nil
	}
	status, err := s.store.GetStatus(ctx, *id)
	if errors.Is(err, store.ErrNotFound) {
		v.Add("status", fmt.Sprintf("invalid pk %d - object does not exist", *id))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

// validateTaskRefs checks every reference t holds. stored is the dependency
// set already persisted for t; those edges stay valid after their target is
// soft-deleted.
func (s *Service) validateTaskRefs(ctx context.Context, actor *store.User, t *store.Task, stored []int64, v *ValidationError) error {
	if err := s.checkSpaceField(ctx, actor, "task_space", t.SpaceID, v); err != nil {
		return err
	}

	if t.LocationID != nil {
		loc, err := s.store.GetLocation(ctx, *t.LocationID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			v.Add("location", fmt.Sprintf("invalid pk %d - object does not exist", *t.LocationID))
		case err != nil:
			return err
		case loc.SpaceID != t.SpaceID:
			v.Add("location", "location must belong to the task's space")
		}
	}

	if t.AssigneeID != nil {
		ok, err := s.store.Exists(ctx, "users", *t.AssigneeID)
		if err != nil {
			return err
		}
		if !ok {
			v.Add("assignee", fmt.Sprintf("invalid pk %d - object does not exist", *t.AssigneeID))
		}
	}

	missing, err := s.store.MissingIDs(ctx, "categories", t.Categories)
	if err != nil {
		return err
	}
	for _, id := range missing {
		v.Add("categories", fmt.Sprintf("invalid pk %d - object does not exist", id))
	}

	for _, id := range t.Links {
		link, err := s.store.GetLink(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			v.Add("links", fmt.Sprintf("invalid pk %d - object does not exist", id))
		case err != nil:
			return err
		case link.SpaceID != t.SpaceID:
			v.Add("links", fmt.Sprintf("link %d belongs to a different space", id))
		}
	}

	return s.validateDependencies(ctx, t, stored, v)
}

func (s *Service) validateDependencies(ctx context.Context, t *store.Task, stored []int64, v *ValidationError) error {
	if len(t.Dependencies) == 0 {
		return nil
	}
	for _, d := range t.Dependencies {
		if t.ID != 0 && d == t.ID {
			v.Add("dependencies", cycleMessage([]int64{t.ID, t.ID}))
			return nil
		}
	}
	missing, err := s.store.MissingTasks(ctx, addedIDs(stored, t.Dependencies))
	if err != nil {
		return err
	}
	for _, id := range missing {
		v.Add("dependencies", fmt.Sprintf("invalid pk %d - object does not exist", id))
	}
	if len(missing) > 0 || t.ID == 0 {
		// Nothing can depend on a task that does not exist yet.
		return nil
	}

	graph, err := s.store.DependencyGraph(ctx)
	if err != nil {
		return err
	}
	if path := dependencyCycle(graph, t.ID, t.Dependencies); path != nil {
		v.Add("dependencies", cycleMessage(path))
	}
	return nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// addedIDs returns the ids of next that are not in prev.
func addedIDs(prev, next []int64) []int64 {
	known := make(map[int64]bool, len(prev))
	for _, id := range prev {
		known[id] = true
	}
	var added []int64
	for _, id := range next {
		if !known[id] {
			added = append(added, id)
		}
	}
	return added
}

func sameSet(a, b []int64) bool {
	set := make(map[int64]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	other := make(map[int64]bool, len(b))
	for _, id := range b {
		if !set[id] {
			return false
		}
		other[id] = true
	}
	return len(other) == len(set)
}

// ActivateRecurring restarts recurring tasks whose next activation has
// passed: progress goes back to 0 and next_activation moves forward by
// whole repeat intervals until it lies in the future.
func (s *Service) ActivateRecurring(ctx context.Context) (int, error) {
	now := s.now().UTC()
	ids, err := s.store.DueRecurringTasks(ctx, now)
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, id := range ids {
		t, err := s.store.GetTask(ctx, id)
		if err != nil {
			log.Printf("[tracker] load recurring task %d: %v", id, err)
			continue
		}
		if t.RepeatInterval == nil || *t.RepeatInterval < 1 || t.NextActivation == nil {
			continue
		}
		step := time.Duration(*t.RepeatInterval) * time.Minute
		next := *t.NextActivation
		for !next.After(now) {
			next = next.Add(step)
		}
		t.Progress = 0
		t.NextActivation = &next
		if _, err := s.UpdateTask(ctx, nil, *t); err != nil {
			log.Printf("[tracker] activate recurring task %d: %v", id, err)
			continue
		}
		activated++
	}
	return activated, nil
}

// DispatchReminders publishes one reminder event for every due reminder
// that has not been delivered yet. A delivery is recorded only once the
// event has been accepted.
func (s *Service) DispatchReminders(ctx context.Context) (int, error) {
	now := s.now().UTC()
	tasks, err := s.store.TasksWithReminders(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range tasks {
		t := &tasks[i]
		for _, r := range gjson.ParseBytes(t.Reminders).Array() {
			at, ok := parseJSONTime(r.Get("time"))
			method := r.Get("method").String()
			if !ok || method == "" || at.After(now) {
				continue
			}
			d := store.ReminderDelivery{TaskID: t.ID, ReminderAt: at, Method: method}
			done, err := s.store.ReminderDelivered(ctx, d)
			if err != nil {
				return sent, err
			}
			if done {
				continue
			}
			if !s.publish(bus.Event{Type: bus.TaskReminder, SpaceID: t.SpaceID, Task: t, Method: method}) {
				// Left unrecorded so the next run retries it.
				log.Printf("[tracker] reminder for task %d via %s not queued", t.ID, method)
				continue
			}
			if _, err := s.store.MarkReminderDelivered(ctx, d); err != nil {
				return sent, err
			}
			sent++
		}
	}
	return sent, nil
}

// PurgeDeleted hard-deletes tasks soft-deleted longer than retention ago.
// A non-positive retention disables purging.
func (s *Service) PurgeDeleted(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	ids, err := s.store.PurgeDeletedTasks(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		log.Printf("[tracker] purged %d deleted tasks", len(ids))
	}
	return len(ids), nil
}
