package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/taskhub/internal/auth"
	"github.com/stellarlinkco/taskhub/internal/bus"
	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

type testAPI struct {
	t        *testing.T
	srv      *httptest.Server
	store    *store.Engine
	svc      *tracker.Service
	events   *bus.EventBus
	hub      *Hub
	owner    string
	outsider string
	spaceID  int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewEngine(filepath.Join(t.TempDir(), "taskhub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	events := bus.NewEventBus(64)
	svc := tracker.NewService(st, events)
	am, err := auth.NewManager(auth.Config{Secret: "test-secret", Issuer: "taskhub"})
	require.NoError(t, err)

	hub := NewHub(st)
	hub.Attach(events)
	dispatchCtx, cancel := context.WithCancel(ctx)
	go events.Dispatch(dispatchCtx)

	server := NewServer(svc, st, am, WithHub(hub), WithPageSize(50))
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		cancel()
	})

	a := &testAPI{t: t, srv: srv, store: st, svc: svc, events: events, hub: hub}
	a.owner = a.createUser(am, "owner", "owner-pass")
	a.outsider = a.createUser(am, "outsider", "outsider-pass")

	var space store.Space
	a.doJSON(http.MethodPost, "/api/spaces/", a.owner, map[string]any{"space_name": "Main"}, http.StatusCreated, &space)
	a.spaceID = space.ID
	return a
}

func (a *testAPI) createUser(am *auth.Manager, name, password string) string {
	a.t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(a.t, err)
	u, err := a.store.CreateUser(context.Background(), name, hash, false)
	require.NoError(a.t, err)
	pair, err := am.IssuePair(u)
	require.NoError(a.t, err)
	return pair.Access
}

func (a *testAPI) do(method, path, token string, body any) *http.Response {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	return resp
}

func (a *testAPI) doJSON(method, path, token string, body any, wantStatus int, out any) {
	a.t.Helper()
	resp := a.do(method, path, token, body)
	defer resp.Body.Close()
	require.Equal(a.t, wantStatus, resp.StatusCode, "%s %s", method, path)
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func (a *testAPI) createTask(name string, extra map[string]any) store.Task {
	a.t.Helper()
	body := map[string]any{"task_name": name, "task_space": a.spaceID}
	for k, v := range extra {
		body[k] = v
	}
	var task store.Task
	a.doJSON(http.MethodPost, "/api/tasks/", a.owner, body, http.StatusCreated, &task)
	return task
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestTokenEndpoints(t *testing.T) {
	a := newTestAPI(t)

	var pair auth.Pair
	a.doJSON(http.MethodPost, "/api/token/", "", map[string]string{"username": "owner", "password": "owner-pass"}, http.StatusOK, &pair)
	require.NotEmpty(t, pair.Access)
	require.NotEmpty(t, pair.Refresh)

	var detail map[string]string
	a.doJSON(http.MethodPost, "/api/token/", "", map[string]string{"username": "owner", "password": "nope"}, http.StatusUnauthorized, &detail)
	assert.Equal(t, auth.ErrInvalidCredentials.Error(), detail["detail"])

	var refreshed map[string]string
	a.doJSON(http.MethodPost, "/api/token/refresh/", "", map[string]string{"refresh": pair.Refresh}, http.StatusOK, &refreshed)
	assert.NotEmpty(t, refreshed["access"])

	a.doJSON(http.MethodPost, "/api/token/refresh/", "", map[string]string{"refresh": pair.Access}, http.StatusUnauthorized, nil)
	a.doJSON(http.MethodPost, "/api/token/verify/", "", map[string]string{"token": refreshed["access"]}, http.StatusOK, nil)
	a.doJSON(http.MethodPost, "/api/token/verify/", "", map[string]string{"token": "garbage"}, http.StatusUnauthorized, nil)

	a.doJSON(http.MethodGet, "/api/spaces/", refreshed["access"], nil, http.StatusOK, nil)
}

func TestRequiresAuthentication(t *testing.T) {
	a := newTestAPI(t)
	a.doJSON(http.MethodGet, "/api/tasks/", "", nil, http.StatusUnauthorized, nil)
	a.doJSON(http.MethodGet, "/api/tasks/", "not-a-jwt", nil, http.StatusUnauthorized, nil)
}

func TestTaskPropagationOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	dep := a.createTask("Pour foundation", nil)
	task := a.createTask("Frame walls", map[string]any{"dependencies": []int64{dep.ID}})
	assert.Equal(t, 0, task.ProgressDependencies)
	assert.False(t, task.IsReady)
	assert.Equal(t, 5, task.Priority, "creation defaults apply to omitted fields")

	var patched store.Task
	a.doJSON(http.MethodPatch, fmt.Sprintf("/api/tasks/%d/", dep.ID), a.owner, map[string]any{"progress": 100}, http.StatusOK, &patched)
	assert.Equal(t, "Pour foundation", patched.Name, "PATCH keeps omitted fields")
	assert.Equal(t, 100, patched.Progress)

	var got store.Task
	a.doJSON(http.MethodGet, fmt.Sprintf("/api/tasks/%d/", task.ID), a.owner, nil, http.StatusOK, &got)
	assert.Equal(t, 100, got.ProgressDependencies)
	assert.True(t, got.IsReady)
}

func TestManagedFieldsIgnored(t *testing.T) {
	a := newTestAPI(t)
	task := a.createTask("Managed", map[string]any{"is_ready": false, "progress_dependencies": 3, "author": 999})
	assert.True(t, task.IsReady)
	assert.Equal(t, 100, task.ProgressDependencies)
	assert.NotEqual(t, int64(999), task.AuthorID)
}

func TestValidationErrorsAreFieldMaps(t *testing.T) {
	a := newTestAPI(t)
	var fields map[string][]string
	a.doJSON(http.MethodPost, "/api/tasks/", a.owner, map[string]any{
		"task_name":  "",
		"task_space": a.spaceID,
		"priority":   11,
	}, http.StatusBadRequest, &fields)
	assert.Contains(t, fields, "task_name")
	assert.Contains(t, fields, "priority")

	resp := a.do(http.MethodPost, "/api/tasks/", a.owner, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDependencyEndpoints(t *testing.T) {
	a := newTestAPI(t)
	first := a.createTask("first", nil)
	second := a.createTask("second", map[string]any{"dependencies": []int64{first.ID}})

	var fields map[string][]string
	a.doJSON(http.MethodPost, fmt.Sprintf("/api/tasks/%d/dependencies/", first.ID), a.owner,
		map[string]any{"depends_on": second.ID}, http.StatusBadRequest, &fields)
	require.Contains(t, fields, "dependencies")
	assert.Contains(t, fields["dependencies"][0], "cycle")

	third := a.createTask("third", map[string]any{"progress": 50})
	var updated store.Task
	a.doJSON(http.MethodPost, fmt.Sprintf("/api/tasks/%d/dependencies/", second.ID), a.owner,
		map[string]any{"depends_on": third.ID}, http.StatusOK, &updated)
	assert.ElementsMatch(t, []int64{first.ID, third.ID}, updated.Dependencies)
	assert.Equal(t, 25, updated.ProgressDependencies)

	a.doJSON(http.MethodDelete, fmt.Sprintf("/api/tasks/%d/dependencies/%d/", second.ID, first.ID), a.owner, nil, http.StatusOK, &updated)
	assert.Equal(t, []int64{third.ID}, updated.Dependencies)
	assert.Equal(t, 50, updated.ProgressDependencies)

	a.doJSON(http.MethodDelete, fmt.Sprintf("/api/tasks/%d/dependencies/%d/", second.ID, first.ID), a.owner, nil, http.StatusNotFound, nil)

	a.doJSON(http.MethodPut, fmt.Sprintf("/api/tasks/%d/dependencies/", second.ID), a.owner,
		map[string]any{"dependencies": []int64{}}, http.StatusOK, &updated)
	assert.Empty(t, updated.Dependencies)
	assert.True(t, updated.IsReady)
}

func TestTaskScopingAndDelete(t *testing.T) {
	a := newTestAPI(t)
	task := a.createTask("private", nil)
	path := fmt.Sprintf("/api/tasks/%d/", task.ID)

	a.doJSON(http.MethodGet, path, a.outsider, nil, http.StatusNotFound, nil)
	var list []store.Task
	a.doJSON(http.MethodGet, "/api/tasks/", a.outsider, nil, http.StatusOK, &list)
	assert.Empty(t, list)

	a.doJSON(http.MethodDelete, path, a.owner, nil, http.StatusNoContent, nil)
	a.doJSON(http.MethodGet, path, a.owner, nil, http.StatusNotFound, nil)

	var history []store.HistoryEntry
	a.doJSON(http.MethodGet, path+"history/", a.owner, nil, http.StatusOK, &history)
	require.Len(t, history, 2)
	assert.Equal(t, store.ActionDelete, history[1].Action)

	a.doJSON(http.MethodGet, "/api/tasks/abc/", a.owner, nil, http.StatusNotFound, nil)
}

func TestPatchAfterDependencyDeleted(t *testing.T) {
	a := newTestAPI(t)
	done := a.createTask("done", map[string]any{"progress": 100})
	dropped := a.createTask("dropped", nil)
	task := a.createTask("dependent", map[string]any{"dependencies": []int64{done.ID, dropped.ID}})
	assert.Equal(t, 50, task.ProgressDependencies)

	a.doJSON(http.MethodDelete, fmt.Sprintf("/api/tasks/%d/", dropped.ID), a.owner, nil, http.StatusNoContent, nil)

	var patched store.Task
	a.doJSON(http.MethodPatch, fmt.Sprintf("/api/tasks/%d/", task.ID), a.owner, map[string]any{"description": "still editable"}, http.StatusOK, &patched)
	assert.Equal(t, "still editable", patched.Description)
	assert.Equal(t, 100, patched.ProgressDependencies)
	assert.True(t, patched.IsReady)

	var fields map[string][]string
	a.doJSON(http.MethodPost, fmt.Sprintf("/api/tasks/%d/dependencies/", done.ID), a.owner,
		map[string]any{"depends_on": dropped.ID}, http.StatusBadRequest, &fields)
	assert.Contains(t, fields, "dependencies")
}

func TestTaskListQuery(t *testing.T) {
	a := newTestAPI(t)
	blocker := a.createTask("Order steel beams", map[string]any{"priority": 9})
	a.createTask("Install beams", map[string]any{"dependencies": []int64{blocker.ID}, "priority": 2})

	var list []store.Task
	a.doJSON(http.MethodGet, "/api/tasks/?is_ready=false", a.owner, nil, http.StatusOK, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Install beams", list[0].Name)

	a.doJSON(http.MethodGet, "/api/tasks/?ordering=priority", a.owner, nil, http.StatusOK, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "Install beams", list[0].Name)

	a.doJSON(http.MethodGet, "/api/tasks/?search=steel", a.owner, nil, http.StatusOK, &list)
	require.Len(t, list, 1)
	assert.Equal(t, blocker.ID, list[0].ID)

	a.doJSON(http.MethodGet, "/api/tasks/?limit=1&ordering=-priority", a.owner, nil, http.StatusOK, &list)
	require.Len(t, list, 1)
	assert.Equal(t, blocker.ID, list[0].ID)

	var fields map[string][]string
	a.doJSON(http.MethodGet, "/api/tasks/?ordering=name&limit=0&is_ready=maybe", a.owner, nil, http.StatusBadRequest, &fields)
	assert.Contains(t, fields, "limit")
	assert.Contains(t, fields, "is_ready")
}

func TestParseTaskFilter(t *testing.T) {
	q := map[string][]string{
		"task_space":       {"3"},
		"min_priority":     {"2"},
		"deadline_before":  {"2026-06-01"},
		"start_date_after": {"2026-05-01T10:00:00+02:00"},
		"offset":           {"20"},
	}
	f, err := parseTaskFilter(q)
	require.NoError(t, err)
	require.NotNil(t, f.SpaceID)
	assert.Equal(t, int64(3), *f.SpaceID)
	assert.Equal(t, 2, *f.MinPriority)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), *f.DeadlineBefore)
	assert.Equal(t, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC), *f.StartAfter)
	assert.Equal(t, 20, f.Offset)

	_, err = parseTaskFilter(map[string][]string{"status": {"x"}, "end_date_after": {"soon"}})
	var verr *tracker.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "status")
	assert.Contains(t, verr.Fields, "end_date_after")
}

func TestCatalogResources(t *testing.T) {
	a := newTestAPI(t)

	var status store.Status
	a.doJSON(http.MethodPost, "/api/statuses/", a.owner, map[string]any{
		"status_name":     "Done",
		"status_settings": map[string]any{"progress_on_set": 100, "is_completed": true},
	}, http.StatusCreated, &status)

	var renamed store.Status
	a.doJSON(http.MethodPut, fmt.Sprintf("/api/statuses/%d/", status.ID), a.owner, map[string]any{"status_description": "finished"}, http.StatusOK, &renamed)
	assert.Equal(t, "Done", renamed.Name)
	assert.Equal(t, "finished", renamed.Description)

	var statuses []store.Status
	a.doJSON(http.MethodGet, "/api/statuses/", a.outsider, nil, http.StatusOK, &statuses)
	assert.Len(t, statuses, 1)

	var link store.Link
	a.doJSON(http.MethodPost, "/api/links/", a.owner, map[string]any{
		"link_title": "Runbook", "link_url": "https://example.com/runbook", "link_space": a.spaceID,
	}, http.StatusCreated, &link)
	var links []store.Link
	a.doJSON(http.MethodGet, "/api/links/", a.outsider, nil, http.StatusOK, &links)
	assert.Empty(t, links)

	task := a.createTask("with link", nil)
	var tl store.TaskLink
	a.doJSON(http.MethodPost, "/api/task-links/", a.owner, map[string]any{"task": task.ID, "link": link.ID, "description": "ops"}, http.StatusCreated, &tl)
	var got store.Task
	a.doJSON(http.MethodGet, fmt.Sprintf("/api/tasks/%d/", task.ID), a.owner, nil, http.StatusOK, &got)
	assert.Equal(t, []int64{link.ID}, got.Links)

	a.doJSON(http.MethodDelete, fmt.Sprintf("/api/categories/%d/", 404), a.owner, nil, http.StatusNotFound, nil)

	var history []store.HistoryEntry
	a.doJSON(http.MethodGet, fmt.Sprintf("/api/statuses/%d/history/", status.ID), a.owner, nil, http.StatusOK, &history)
	assert.Len(t, history, 2)
}

func TestEventStream(t *testing.T) {
	a := newTestAPI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/events?token=" + a.owner
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return a.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	task := a.createTask("streamed", nil)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev bus.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, bus.TaskCreated, ev.Type)
	assert.Equal(t, a.spaceID, ev.SpaceID)
	require.NotNil(t, ev.Task)
	assert.Equal(t, task.ID, ev.Task.ID)
}

func TestEventStreamRejectsAnonymous(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(http.MethodGet, "/api/events", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type fakeMembers map[int64]bool

func (f fakeMembers) IsSpaceMember(_ context.Context, spaceID, _ int64) (bool, error) {
	return f[spaceID], nil
}

func TestHubFiltersBySpace(t *testing.T) {
	h := NewHub(fakeMembers{1: true})
	c := &streamClient{id: "c", user: &store.User{ID: 1}, send: make(chan []byte, 4)}
	h.clients.Store(c.id, c)

	h.Broadcast(bus.Event{Type: bus.TaskUpdated, SpaceID: 2, Task: &store.Task{ID: 1}})
	h.Broadcast(bus.Event{Type: bus.TaskReminder, SpaceID: 1, Task: &store.Task{ID: 1}})
	assert.Empty(t, c.send)

	h.Broadcast(bus.Event{Type: bus.TaskUpdated, SpaceID: 1, Task: &store.Task{ID: 1}})
	assert.Len(t, c.send, 1)
}
