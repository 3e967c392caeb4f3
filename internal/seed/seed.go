package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/taskhub/internal/auth"
	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

// Fixture is the YAML document of demo or bootstrap data.
type Fixture struct {
	Users      []UserFixture     `yaml:"users"`
	Spaces     []SpaceFixture    `yaml:"spaces"`
	Statuses   []CatalogFixture  `yaml:"statuses"`
	Categories []CatalogFixture  `yaml:"categories"`
	Locations  []LocationFixture `yaml:"locations"`
	Links      []LinkFixture     `yaml:"links"`
	Tasks      []TaskFixture     `yaml:"tasks"`
}

type UserFixture struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

type SpaceFixture struct {
	Name     string         `yaml:"name"`
	Members  []string       `yaml:"members"`
	Settings map[string]any `yaml:"settings"`
}

type CatalogFixture struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Settings    map[string]any `yaml:"settings"`
}

type LocationFixture struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Address     string `yaml:"address"`
	Space       string `yaml:"space"`
}

type LinkFixture struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
	Space       string `yaml:"space"`
}

// TaskFixture refers to other records by name; DependsOn uses task keys.
type TaskFixture struct {
	Key         string     `yaml:"key"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Space       string     `yaml:"space"`
	Author      string     `yaml:"author"`
	Assignee    string     `yaml:"assignee"`
	Status      string     `yaml:"status"`
	Location    string     `yaml:"location"`
	Categories  []string   `yaml:"categories"`
	Links       []string   `yaml:"links"`
	DependsOn   []string   `yaml:"depends_on"`
	Tags        []string   `yaml:"tags"`
	Priority    int        `yaml:"priority"`
	Complexity  int        `yaml:"complexity"`
	Progress    int        `yaml:"progress"`
	RiskLevel   string     `yaml:"risk_level"`
	StartDate   *time.Time `yaml:"start_date"`
	EndDate     *time.Time `yaml:"end_date"`
	Deadline    *time.Time `yaml:"deadline"`

	Notifications map[string][]string `yaml:"notifications"`
}

// Result counts what Apply created.
type Result struct {
	Users      int
	Spaces     int
	Statuses   int
	Categories int
	Locations  int
	Links      int
	Tasks      int
}

func (r Result) String() string {
	return fmt.Sprintf("%d users, %d spaces, %d statuses, %d categories, %d locations, %d links, %d tasks",
		r.Users, r.Spaces, r.Statuses, r.Categories, r.Locations, r.Links, r.Tasks)
}

// LoadFile parses one fixture file.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %q: %w", path, err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %q: %w", path, err)
	}
	return &fx, nil
}

// Load reads path, which may be a single file or a directory of *.yaml and
// *.yml files merged in name order.
func Load(path string) (*Fixture, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &Fixture{}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat fixtures %q: %w", path, err)
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures dir %q: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	merged := &Fixture{}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		fx, err := LoadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		merged.merge(fx)
	}
	return merged, nil
}

func (f *Fixture) merge(o *Fixture) {
	f.Users = append(f.Users, o.Users...)
	f.Spaces = append(f.Spaces, o.Spaces...)
	f.Statuses = append(f.Statuses, o.Statuses...)
	f.Categories = append(f.Categories, o.Categories...)
	f.Locations = append(f.Locations, o.Locations...)
	f.Links = append(f.Links, o.Links...)
	f.Tasks = append(f.Tasks, o.Tasks...)
}

type loader struct {
	store *store.Engine
	svc   *tracker.Service

	users      map[string]*store.User
	spaces     map[string]int64
	statuses   map[string]int64
	categories map[string]int64
	locations  map[string]int64
	links      map[string]int64
	tasks      map[string]int64
}

// Apply writes fx through the tracker service so every record is
// validated and dependency progress is propagated.
func Apply(ctx context.Context, st *store.Engine, svc *tracker.Service, fx *Fixture) (Result, error) {
	l := &loader{
		store:      st,
		svc:        svc,
		users:      make(map[string]*store.User),
		spaces:     make(map[string]int64),
		statuses:   make(map[string]int64),
		categories: make(map[string]int64),
		locations:  make(map[string]int64),
		links:      make(map[string]int64),
		tasks:      make(map[string]int64),
	}
	var res Result

	for _, u := range fx.Users {
		created, err := l.user(ctx, u)
		if err != nil {
			return res, err
		}
		if created {
			res.Users++
		}
	}

	for _, sp := range fx.Spaces {
		if len(sp.Members) == 0 {
			return res, fmt.Errorf("space %q: at least one member is required", sp.Name)
		}
		owner, err := l.lookupUser(sp.Members[0])
		if err != nil {
			return res, fmt.Errorf("space %q: %w", sp.Name, err)
		}
		in := store.Space{Name: sp.Name, Settings: rawJSON(sp.Settings)}
		for _, m := range sp.Members {
			u, err := l.lookupUser(m)
			if err != nil {
				return res, fmt.Errorf("space %q: %w", sp.Name, err)
			}
			in.Users = append(in.Users, u.ID)
		}
		created, err := svc.CreateSpace(ctx, owner, in)
		if err != nil {
			return res, fmt.Errorf("space %q: %w", sp.Name, err)
		}
		l.spaces[sp.Name] = created.ID
		res.Spaces++
	}

	for _, c := range fx.Statuses {
		created, err := svc.CreateStatus(ctx, nil, store.Status{Name: c.Name, Description: c.Description, Settings: rawJSON(c.Settings)})
		if err != nil {
			return res, fmt.Errorf("status %q: %w", c.Name, err)
		}
		l.statuses[c.Name] = created.ID
		res.Statuses++
	}

	for _, c := range fx.Categories {
		created, err := svc.CreateCategory(ctx, nil, store.Category{Name: c.Name, Description: c.Description, Settings: rawJSON(c.Settings)})
		if err != nil {
			return res, fmt.Errorf("category %q: %w", c.Name, err)
		}
		l.categories[c.Name] = created.ID
		res.Categories++
	}

	for _, loc := range fx.Locations {
		spaceID, err := lookup(l.spaces, "space", loc.Space)
		if err != nil {
			return res, fmt.Errorf("location %q: %w", loc.Name, err)
		}
		created, err := svc.CreateLocation(ctx, nil, store.Location{Name: loc.Name, Description: loc.Description, Address: loc.Address, SpaceID: spaceID})
		if err != nil {
			return res, fmt.Errorf("location %q: %w", loc.Name, err)
		}
		l.locations[loc.Name] = created.ID
		res.Locations++
	}

	for _, link := range fx.Links {
		spaceID, err := lookup(l.spaces, "space", link.Space)
		if err != nil {
			return res, fmt.Errorf("link %q: %w", link.Title, err)
		}
		created, err := svc.CreateLink(ctx, nil, store.Link{Title: link.Title, Description: link.Description, URL: link.URL, SpaceID: spaceID})
		if err != nil {
			return res, fmt.Errorf("link %q: %w", link.Title, err)
		}
		l.links[link.Title] = created.ID
		res.Links++
	}

	ordered, err := orderTasks(fx.Tasks)
	if err != nil {
		return res, err
	}
	for _, tf := range ordered {
		if err := l.task(ctx, tf); err != nil {
			return res, err
		}
		res.Tasks++
	}

	log.Printf("[seed] loaded %s", res)
	return res, nil
}

func (l *loader) user(ctx context.Context, u UserFixture) (bool, error) {
	existing, err := l.store.UserByName(ctx, u.Username)
	if err == nil {
		l.users[u.Username] = existing
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if u.Password == "" {
		return false, fmt.Errorf("user %q: password is required", u.Username)
	}
	hash, err := auth.HashPassword(u.Password)
	if err != nil {
		return false, err
	}
	created, err := l.store.CreateUser(ctx, u.Username, hash, u.Admin)
	if err != nil {
		return false, fmt.Errorf("user %q: %w", u.Username, err)
	}
	l.users[u.Username] = created
	return true, nil
}

func (l *loader) lookupUser(name string) (*store.User, error) {
	u, ok := l.users[name]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", name)
	}
	return u, nil
}

func (l *loader) task(ctx context.Context, tf TaskFixture) error {
	label := tf.Key
	if label == "" {
		label = tf.Name
	}
	fail := func(err error) error { return fmt.Errorf("task %q: %w", label, err) }

	author, err := l.lookupUser(tf.Author)
	if err != nil {
		return fail(err)
	}

	in := tracker.NewTask()
	in.Name = tf.Name
	in.Description = tf.Description
	in.Tags = tf.Tags
	in.Progress = tf.Progress
	in.StartDate = tf.StartDate
	in.EndDate = tf.EndDate
	in.Deadline = tf.Deadline
	if tf.Priority != 0 {
		in.Priority = tf.Priority
	}
	if tf.Complexity != 0 {
		in.Complexity = tf.Complexity
	}
	if tf.RiskLevel != "" {
		in.RiskLevel = tf.RiskLevel
	}
	if len(tf.Notifications) > 0 {
		data, err := json.Marshal(tf.Notifications)
		if err != nil {
			return fail(err)
		}
		in.Notifications = data
	}

	if in.SpaceID, err = lookup(l.spaces, "space", tf.Space); err != nil {
		return fail(err)
	}
	if tf.Assignee != "" {
		u, err := l.lookupUser(tf.Assignee)
		if err != nil {
			return fail(err)
		}
		in.AssigneeID = &u.ID
	}
	if in.StatusID, err = optional(l.statuses, "status", tf.Status); err != nil {
		return fail(err)
	}
	if in.LocationID, err = optional(l.locations, "location", tf.Location); err != nil {
		return fail(err)
	}
	if in.Categories, err = lookupAll(l.categories, "category", tf.Categories); err != nil {
		return fail(err)
	}
	if in.Links, err = lookupAll(l.links, "link", tf.Links); err != nil {
		return fail(err)
	}
	if in.Dependencies, err = lookupAll(l.tasks, "task", tf.DependsOn); err != nil {
		return fail(err)
	}

	created, err := l.svc.CreateTask(ctx, author, in)
	if err != nil {
		return fail(err)
	}
	if tf.Key != "" {
		l.tasks[tf.Key] = created.ID
	}
	return nil
}

// orderTasks returns tasks with every task after the ones it depends on.
// Tasks without dependencies keep their file order.
func orderTasks(tasks []TaskFixture) ([]TaskFixture, error) {
	keys := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Key == "" {
			continue
		}
		if keys[t.Key] {
			return nil, fmt.Errorf("duplicate task key %q", t.Key)
		}
		keys[t.Key] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !keys[dep] {
				return nil, fmt.Errorf("task %q depends on unknown key %q", t.Name, dep)
			}
		}
	}

	placed := make(map[string]bool, len(tasks))
	done := make([]bool, len(tasks))
	ordered := make([]TaskFixture, 0, len(tasks))
	for len(ordered) < len(tasks) {
		progressed := false
		for i, t := range tasks {
			if done[i] || !allPlaced(placed, t.DependsOn) {
				continue
			}
			done[i] = true
			progressed = true
			ordered = append(ordered, t)
			if t.Key != "" {
				placed[t.Key] = true
			}
		}
		if !progressed {
			return nil, errors.New("task dependencies form a cycle")
		}
	}
	return ordered, nil
}

func allPlaced(placed map[string]bool, keys []string) bool {
	for _, k := range keys {
		if !placed[k] {
			return false
		}
	}
	return true
}

func lookup(m map[string]int64, kind, name string) (int64, error) {
	id, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", kind, name)
	}
	return id, nil
}

func optional(m map[string]int64, kind, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	id, err := lookup(m, kind, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func lookupAll(m map[string]int64, kind string, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, err := lookup(m, kind, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func rawJSON(v map[string]any) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

