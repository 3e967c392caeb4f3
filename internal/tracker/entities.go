package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarlinkco/taskhub/internal/store"
)

func (s *Service) uniqueName(ctx context.Context, table, column, field, name string, excludeID int64, fold bool, v *ValidationError) error {
	if v.Has(field) {
		return nil
	}
	taken, err := s.store.NameTaken(ctx, table, column, name, excludeID, fold)
	if err != nil {
		return err
	}
	if taken {
		v.Add(field, "an object with this name already exists")
	}
	return nil
}

func (s *Service) memberSpaces(ctx context.Context, actor *store.User) (map[int64]bool, error) {
	if actor == nil {
		return nil, nil
	}
	ids, err := s.store.MemberSpaces(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// visible reports whether spaceID is in the member set; a nil set is the
// system actor, which sees everything.
func visible(set map[int64]bool, spaceID int64) bool {
	return set == nil || set[spaceID]
}

func (s *Service) requireSpace(ctx context.Context, actor *store.User, spaceID int64) error {
	ok, err := s.canAccessSpace(ctx, actor, spaceID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// Spaces

// ListSpaces returns the spaces the actor belongs to; admins see all.
func (s *Service) ListSpaces(ctx context.Context, actor *store.User) ([]store.Space, error) {
	all, err := s.store.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.IsAdmin {
		return all, nil
	}
	set, err := s.memberSpaces(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := make([]store.Space, 0, len(all))
	for _, sp := range all {
		if set[sp.ID] {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *Service) GetSpace(ctx context.Context, actor *store.User, id int64) (*store.Space, error) {
	sp, err := s.store.GetSpace(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != nil && !actor.IsAdmin {
		if err := s.requireSpace(ctx, actor, id); err != nil {
			return nil, err
		}
	}
	return sp, nil
}

// CreateSpace stores a new space; the creator always becomes a member.
func (s *Service) CreateSpace(ctx context.Context, actor *store.User, in store.Space) (*store.Space, error) {
	sp := in
	sp.ID = 0
	if actor != nil {
		sp.Users = append(sp.Users, actor.ID)
	}
	sp.Users = dedupe(sp.Users)
	if err := s.validateSpace(ctx, &sp); err != nil {
		return nil, err
	}
	if err := s.store.CreateSpace(ctx, &sp, actorID(actor)); err != nil {
		return nil, err
	}
	return s.store.GetSpace(ctx, sp.ID)
}

func (s *Service) UpdateSpace(ctx context.Context, actor *store.User, in store.Space) (*store.Space, error) {
	prev, err := s.GetSpace(ctx, actor, in.ID)
	if err != nil {
		return nil, err
	}
	sp := in
	sp.CreatedAt = prev.CreatedAt
	sp.Users = dedupe(sp.Users)
	if err := s.validateSpace(ctx, &sp); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSpace(ctx, &sp, actorID(actor)); err != nil {
		return nil, err
	}
	return s.store.GetSpace(ctx, sp.ID)
}

// DeleteSpace removes the space with its tasks, locations and links.
func (s *Service) DeleteSpace(ctx context.Context, actor *store.User, id int64) error {
	if _, err := s.GetSpace(ctx, actor, id); err != nil {
		return err
	}
	return s.store.DeleteSpace(ctx, id, actorID(actor))
}

func (s *Service) validateSpace(ctx context.Context, sp *store.Space) error {
	v := &ValidationError{}
	validateName("space_name", sp.Name, maxNameLen, v)
	validateSettingsObject("space_settings", sp.Settings, v)
	if err := s.uniqueName(ctx, "spaces", "space_name", "space_name", sp.Name, sp.ID, true, v); err != nil {
		return err
	}
	missing, err := s.store.MissingIDs(ctx, "users", sp.Users)
	if err != nil {
		return err
	}
	for _, id := range missing {
		v.Add("space_users", fmt.Sprintf("invalid pk %d - object does not exist", id))
	}
	return v.Err()
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Statuses

func (s *Service) ListStatuses(ctx context.Context) ([]store.Status, error) {
	return s.store.ListStatuses(ctx)
}

func (s *Service) GetStatus(ctx context.Context, id int64) (*store.Status, error) {
	return s.store.GetStatus(ctx, id)
}

func (s *Service) CreateStatus(ctx context.Context, actor *store.User, in store.Status) (*store.Status, error) {
	st := in
	st.ID = 0
	if err := s.validateStatus(ctx, &st); err != nil {
		return nil, err
	}
	if err := s.store.CreateStatus(ctx, &st, actorID(actor)); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) UpdateStatus(ctx context.Context, actor *store.User, in store.Status) (*store.Status, error) {
	if _, err := s.store.GetStatus(ctx, in.ID); err != nil {
		return nil, err
	}
	st := in
	if err := s.validateStatus(ctx, &st); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, &st, actorID(actor)); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) DeleteStatus(ctx context.Context, actor *store.User, id int64) error {
	return s.store.DeleteStatus(ctx, id, actorID(actor))
}

func (s *Service) validateStatus(ctx context.Context, st *store.Status) error {
	v := &ValidationError{}
	validateName("status_name", st.Name, maxStatusNameLen, v)
	validateStatusSettings(st.Settings, v)
	if err := s.uniqueName(ctx, "statuses", "status_name", "status_name", st.Name, st.ID, true, v); err != nil {
		return err
	}
	return v.Err()
}

// Categories

func (s *Service) ListCategories(ctx context.Context) ([]store.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) GetCategory(ctx context.Context, id int64) (*store.Category, error) {
	return s.store.GetCategory(ctx, id)
}

func (s *Service) CreateCategory(ctx context.Context, actor *store.User, in store.Category) (*store.Category, error) {
	c := in
	c.ID = 0
	if err := s.validateCategory(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.store.CreateCategory(ctx, &c, actorID(actor)); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) UpdateCategory(ctx context.Context, actor *store.User, in store.Category) (*store.Category, error) {
	if _, err := s.store.GetCategory(ctx, in.ID); err != nil {
		return nil, err
	}
	c := in
	if err := s.validateCategory(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCategory(ctx, &c, actorID(actor)); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) DeleteCategory(ctx context.Context, actor *store.User, id int64) error {
	return s.store.DeleteCategory(ctx, id, actorID(actor))
}

func (s *Service) validateCategory(ctx context.Context, c *store.Category) error {
	v := &ValidationError{}
	validateName("category_name", c.Name, maxNameLen, v)
	validateSettingsObject("category_settings", c.Settings, v)
	if err := s.uniqueName(ctx, "categories", "category_name", "category_name", c.Name, c.ID, true, v); err != nil {
		return err
	}
	return v.Err()
}

// Locations

func (s *Service) ListLocations(ctx context.Context, actor *store.User) ([]store.Location, error) {
	all, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	set, err := s.memberSpaces(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := make([]store.Location, 0, len(all))
	for _, l := range all {
		if visible(set, l.SpaceID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Service) GetLocation(ctx context.Context, actor *store.User, id int64) (*store.Location, error) {
	l, err := s.store.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireSpace(ctx, actor, l.SpaceID); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) CreateLocation(ctx context.Context, actor *store.User, in store.Location) (*store.Location, error) {
	l := in
	l.ID = 0
	if err := s.validateLocation(ctx, actor, &l); err != nil {
		return nil, err
	}
	if err := s.store.CreateLocation(ctx, &l, actorID(actor)); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Service) UpdateLocation(ctx context.Context, actor *store.User, in store.Location) (*store.Location, error) {
	if _, err := s.GetLocation(ctx, actor, in.ID); err != nil {
		return nil, err
	}
	l := in
	if err := s.validateLocation(ctx, actor, &l); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLocation(ctx, &l, actorID(actor)); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Service) DeleteLocation(ctx context.Context, actor *store.User, id int64) error {
	if _, err := s.GetLocation(ctx, actor, id); err != nil {
		return err
	}
	return s.store.DeleteLocation(ctx, id, actorID(actor))
}

func (s *Service) validateLocation(ctx context.Context, actor *store.User, l *store.Location) error {
	v := &ValidationError{}
	validateName("location_name", l.Name, maxNameLen, v)
	if len([]rune(l.Address)) > maxAddressLen {
		v.Add("location_address", fmt.Sprintf("ensure this field has no more than %d characters", maxAddressLen))
	}
	if err := s.checkSpaceField(ctx, actor, "location_space", l.SpaceID, v); err != nil {
		return err
	}
	if err := s.uniqueName(ctx, "locations", "location_name", "location_name", l.Name, l.ID, true, v); err != nil {
		return err
	}
	return v.Err()
}

// Links

func (s *Service) ListLinks(ctx context.Context, actor *store.User) ([]store.Link, error) {
	all, err := s.store.ListLinks(ctx)
	if err != nil {
		return nil, err
	}
	set, err := s.memberSpaces(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := make([]store.Link, 0, len(all))
	for _, l := range all {
		if visible(set, l.SpaceID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Service) GetLink(ctx context.Context, actor *store.User, id int64) (*store.Link, error) {
	l, err := s.store.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireSpace(ctx, actor, l.SpaceID); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) CreateLink(ctx context.Context, actor *store.User, in store.Link) (*store.Link, error) {
	l := in
	l.ID = 0
	if err := s.validateLink(ctx, actor, &l); err != nil {
		return nil, err
	}
	if err := s.store.CreateLink(ctx, &l, actorID(actor)); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Service) UpdateLink(ctx context.Context, actor *store.User, in store.Link) (*store.Link, error) {
	if _, err := s.GetLink(ctx, actor, in.ID); err != nil {
		return nil, err
	}
	l := in
	if err := s.validateLink(ctx, actor, &l); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLink(ctx, &l, actorID(actor)); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Service) DeleteLink(ctx context.Context, actor *store.User, id int64) error {
	if _, err := s.GetLink(ctx, actor, id); err != nil {
		return err
	}
	return s.store.DeleteLink(ctx, id, actorID(actor))
}

func (s *Service) validateLink(ctx context.Context, actor *store.User, l *store.Link) error {
	v := &ValidationError{}
	validateName("link_title", l.Title, maxNameLen, v)
	validateURL(l.URL, v)
	if err := s.checkSpaceField(ctx, actor, "link_space", l.SpaceID, v); err != nil {
		return err
	}
	if err := s.uniqueName(ctx, "links", "link_title", "link_title", l.Title, l.ID, false, v); err != nil {
		return err
	}
	if err := s.uniqueName(ctx, "links", "link_url", "link_url", l.URL, l.ID, false, v); err != nil {
		return err
	}
	return v.Err()
}

// Files

func (s *Service) ListFiles(ctx context.Context) ([]store.File, error) {
	return s.store.ListFiles(ctx)
}

func (s *Service) GetFile(ctx context.Context, id int64) (*store.File, error) {
	return s.store.GetFile(ctx, id)
}

func (s *Service) CreateFile(ctx context.Context, actor *store.User, in store.File) (*store.File, error) {
	f := in
	f.ID = 0
	if err := s.validateFileRecord(ctx, &f); err != nil {
		return nil, err
	}
	if err := s.store.CreateFile(ctx, &f, actorID(actor)); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Service) UpdateFile(ctx context.Context, actor *store.User, in store.File) (*store.File, error) {
	if _, err := s.store.GetFile(ctx, in.ID); err != nil {
		return nil, err
	}
	f := in
	if err := s.validateFileRecord(ctx, &f); err != nil {
		return nil, err
	}
	if err := s.store.UpdateFile(ctx, &f, actorID(actor)); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Service) DeleteFile(ctx context.Context, actor *store.User, id int64) error {
	return s.store.DeleteFile(ctx, id, actorID(actor))
}

func (s *Service) validateFileRecord(ctx context.Context, f *store.File) error {
	v := &ValidationError{}
	validateName("file_name", f.Name, maxNameLen, v)
	validateFile(f, v)
	if err := s.uniqueName(ctx, "files", "file_name", "file_name", f.Name, f.ID, false, v); err != nil {
		return err
	}
	return v.Err()
}

// Task links

func (s *Service) ListTaskLinks(ctx context.Context, actor *store.User) ([]store.TaskLink, error) {
	all, err := s.store.ListTaskLinks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.TaskLink, 0, len(all))
	for _, tl := range all {
		if _, err := s.GetTask(ctx, actor, tl.TaskID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, tl)
	}
	return out, nil
}

func (s *Service) GetTaskLink(ctx context.Context, actor *store.User, id int64) (*store.TaskLink, error) {
	tl, err := s.store.GetTaskLink(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetTask(ctx, actor, tl.TaskID); err != nil {
		return nil, err
	}
	return tl, nil
}

func (s *Service) CreateTaskLink(ctx context.Context, actor *store.User, in store.TaskLink) (*store.TaskLink, error) {
	tl := in
	tl.ID = 0
	if err := s.validateTaskLink(ctx, actor, &tl); err != nil {
		return nil, err
	}
	if err := s.store.CreateTaskLink(ctx, &tl, actorID(actor)); err != nil {
		return nil, err
	}
	return &tl, nil
}

func (s *Service) UpdateTaskLink(ctx context.Context, actor *store.User, in store.TaskLink) (*store.TaskLink, error) {
	if _, err := s.GetTaskLink(ctx, actor, in.ID); err != nil {
		return nil, err
	}
	tl := in
	if err := s.validateTaskLink(ctx, actor, &tl); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTaskLink(ctx, &tl, actorID(actor)); err != nil {
		return nil, err
	}
	return &tl, nil
}

func (s *Service) DeleteTaskLink(ctx context.Context, actor *store.User, id int64) error {
	if _, err := s.GetTaskLink(ctx, actor, id); err != nil {
		return err
	}
	return s.store.DeleteTaskLink(ctx, id, actorID(actor))
}

func (s *Service) validateTaskLink(ctx context.Context, actor *store.User, tl *store.TaskLink) error {
	v := &ValidationError{}

	task, err := s.GetTask(ctx, actor, tl.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		v.Add("task", fmt.Sprintf("invalid pk %d - object does not exist", tl.TaskID))
	} else if err != nil {
		return err
	}
	link, err := s.store.GetLink(ctx, tl.LinkID)
	if errors.Is(err, store.ErrNotFound) {
		v.Add("link", fmt.Sprintf("invalid pk %d - object does not exist", tl.LinkID))
	} else if err != nil {
		return err
	}
	if task != nil && link != nil {
		if task.SpaceID != link.SpaceID {
			v.Add("link", "task and link must belong to the same space")
		}
		dup, err := s.store.TaskLinkPairExists(ctx, tl.TaskID, tl.LinkID, tl.ID)
		if err != nil {
			return err
		}
		if dup {
			v.Add("link", "this link is already attached to the task")
		}
	}
	return v.Err()
}

// History returns the audit trail of one entity visible to actor.
func (s *Service) History(ctx context.Context, actor *store.User, entity string, id int64) ([]store.HistoryEntry, error) {
	var err error
	switch entity {
	case store.EntityTask:
		return s.TaskHistory(ctx, actor, id)
	case store.EntitySpace:
		_, err = s.GetSpace(ctx, actor, id)
	case store.EntityLocation:
		_, err = s.GetLocation(ctx, actor, id)
	case store.EntityLink:
		_, err = s.GetLink(ctx, actor, id)
	case store.EntityTaskLink:
		_, err = s.GetTaskLink(ctx, actor, id)
	}
	if err != nil {
		return nil, err
	}
	return s.store.History(ctx, entity, id)
}
