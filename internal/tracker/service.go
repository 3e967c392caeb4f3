package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/stellarlinkco/taskhub/internal/bus"
	"github.com/stellarlinkco/taskhub/internal/store"
)

// Publisher receives task change events after they are committed. Publish
// reports whether the event was accepted for delivery.
type Publisher interface {
	Publish(ev bus.Event) bool
}

// Service is the write path for every entity. Each mutating call takes the
// acting user explicitly; a nil actor is the system (scheduled jobs).
type Service struct {
	store      *store.Engine
	propagator *Propagator
	events     Publisher
	now        func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st *store.Engine, events Publisher, opts ...Option) *Service {
	s := &Service{
		store:      st,
		propagator: NewPropagator(st),
		events:     events,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Propagator exposes the dependency propagator for maintenance callers.
func (s *Service) Propagator() *Propagator {
	return s.propagator
}

func (s *Service) publish(ev bus.Event) bool {
	if s.events == nil {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	return s.events.Publish(ev)
}

func actorID(actor *store.User) *int64 {
	if actor == nil {
		return nil
	}
	id := actor.ID
	return &id
}

// canAccessSpace reports whether actor may see and change data of the
// space. The system actor may access everything.
func (s *Service) canAccessSpace(ctx context.Context, actor *store.User, spaceID int64) (bool, error) {
	if actor == nil {
		return true, nil
	}
	ok, err := s.store.IsSpaceMember(ctx, spaceID, actor.ID)
	if err != nil {
		return false, fmt.Errorf("check space access: %w", err)
	}
	return ok, nil
}

// checkSpaceField validates that spaceID names a space the actor belongs to.
func (s *Service) checkSpaceField(ctx context.Context, actor *store.User, field string, spaceID int64, v *ValidationError) error {
	if spaceID == 0 {
		v.Add(field, "this field is required")
		return nil
	}
	exists, err := s.store.Exists(ctx, "spaces", spaceID)
	if err != nil {
		return err
	}
	if !exists {
		v.Add(field, fmt.Sprintf("invalid pk %d - object does not exist", spaceID))
		return nil
	}
	ok, err := s.canAccessSpace(ctx, actor, spaceID)
	if err != nil {
		return err
	}
	if !ok {
		v.Add(field, "you are not a member of this space")
	}
	return nil
}
