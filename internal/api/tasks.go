package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, actor *store.User) {
	f, err := parseTaskFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	if f.Limit == 0 {
		f.Limit = s.pageSize
	}
	tasks, err := s.svc.ListTasks(r.Context(), actor, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// parseTaskFilter reads the task list query parameters. Every malformed
// parameter is reported, not just the first.
func parseTaskFilter(q url.Values) (store.TaskFilter, error) {
	p := queryParser{values: q, errs: &tracker.ValidationError{}}
	f := store.TaskFilter{
		SpaceID:       p.id("task_space"),
		StatusID:      p.id("status"),
		AuthorID:      p.id("author"),
		AssigneeID:    p.id("assignee"),
		LocationID:    p.id("location"),
		IsReady:       p.boolean("is_ready"),
		IsRecurring:   p.boolean("is_recurring"),
		NeedsApproval: p.boolean("needs_approval"),
		IsTemplate:    p.boolean("is_template"),
		RiskLevel:     strings.TrimSpace(q.Get("risk_level")),

		MinPriority:   p.integer("min_priority"),
		MaxPriority:   p.integer("max_priority"),
		MinProgress:   p.integer("min_progress"),
		MaxProgress:   p.integer("max_progress"),
		MinComplexity: p.integer("complexity_min"),
		MaxComplexity: p.integer("complexity_max"),

		StartAfter:     p.timestamp("start_date_after"),
		StartBefore:    p.timestamp("start_date_before"),
		EndAfter:       p.timestamp("end_date_after"),
		EndBefore:      p.timestamp("end_date_before"),
		DeadlineAfter:  p.timestamp("deadline_after"),
		DeadlineBefore: p.timestamp("deadline_before"),

		Search:   strings.TrimSpace(q.Get("search")),
		Ordering: strings.TrimSpace(q.Get("ordering")),
	}
	if limit := p.integer("limit"); limit != nil {
		if *limit < 1 {
			p.errs.Add("limit", "must be a positive integer")
		} else {
			f.Limit = *limit
		}
	}
	if offset := p.integer("offset"); offset != nil {
		if *offset < 0 {
			p.errs.Add("offset", "must not be negative")
		} else {
			f.Offset = *offset
		}
	}
	return f, p.errs.Err()
}

type queryParser struct {
	values url.Values
	errs   *tracker.ValidationError
}

func (p queryParser) id(key string) *int64 {
	raw := p.values.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.errs.Add(key, fmt.Sprintf("%q is not a valid id", raw))
		return nil
	}
	return &v
}

func (p queryParser) integer(key string) *int {
	raw := p.values.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs.Add(key, "enter a whole number")
		return nil
	}
	return &v
}

func (p queryParser) boolean(key string) *bool {
	raw := p.values.Get(key)
	if raw == "" {
		return nil
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		v := true
		return &v
	case "false", "0", "no":
		v := false
		return &v
	}
	p.errs.Add(key, "enter true or false")
	return nil
}

// timestamp accepts RFC 3339 timestamps or plain dates.
func (p queryParser) timestamp(key string) *time.Time {
	raw := p.values.Get(key)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if v, err := time.Parse(layout, raw); err == nil {
			v = v.UTC()
			return &v
		}
	}
	p.errs.Add(key, "enter a valid date/time")
	return nil
}

type dependencyRequest struct {
	DependsOn    int64   `json:"depends_on"`
	Dependencies []int64 `json:"dependencies"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request, actor *store.User) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req dependencyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DependsOn <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"depends_on": {"this field is required"}})
		return
	}
	task, err := s.svc.AddDependency(r.Context(), actor, id, req.DependsOn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSetDependencies(w http.ResponseWriter, r *http.Request, actor *store.User) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req dependencyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.svc.SetDependencies(r.Context(), actor, id, req.Dependencies)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request, actor *store.User) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	dep, err := pathID(r, "dep")
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.svc.RemoveDependency(r.Context(), actor, id, dep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
