package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/stellarlinkco/taskhub/internal/auth"
	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

const (
	defaultPageSize = 100
	maxBodyBytes    = 1 << 20
)

// Server exposes the tracker service over HTTP.
type Server struct {
	svc      *tracker.Service
	store    *store.Engine
	auth     *auth.Manager
	hub      *Hub
	pageSize int

	httpServer *http.Server
}

type Option func(*Server)

// WithPageSize sets the default task page size when a request has no limit.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithHub enables the websocket change stream.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

func NewServer(svc *tracker.Service, st *store.Engine, am *auth.Manager, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		store:    st,
		auth:     am,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/token/{$}", s.handleToken)
	mux.HandleFunc("POST /api/token/refresh/{$}", s.handleTokenRefresh)
	mux.HandleFunc("POST /api/token/verify/{$}", s.handleTokenVerify)

	mountResource(mux, s, "spaces", resource[store.Space]{
		entity: store.EntitySpace,
		list:   s.svc.ListSpaces,
		get:    s.svc.GetSpace,
		create: s.svc.CreateSpace,
		update: s.svc.UpdateSpace,
		remove: s.svc.DeleteSpace,
		setID:  func(v *store.Space, id int64) { v.ID = id },
	})
	mountResource(mux, s, "statuses", resource[store.Status]{
		entity: store.EntityStatus,
		list:   global(s.svc.ListStatuses),
		get:    globalGet(s.svc.GetStatus),
		create: s.svc.CreateStatus,
		update: s.svc.UpdateStatus,
		remove: s.svc.DeleteStatus,
		setID:  func(v *store.Status, id int64) { v.ID = id },
	})
	mountResource(mux, s, "categories", resource[store.Category]{
		entity: store.EntityCategory,
		list:   global(s.svc.ListCategories),
		get:    globalGet(s.svc.GetCategory),
		create: s.svc.CreateCategory,
		update: s.svc.UpdateCategory,
		remove: s.svc.DeleteCategory,
		setID:  func(v *store.Category, id int64) { v.ID = id },
	})
	mountResource(mux, s, "locations", resource[store.Location]{
		entity: store.EntityLocation,
		list:   s.svc.ListLocations,
		get:    s.svc.GetLocation,
		create: s.svc.CreateLocation,
		update: s.svc.UpdateLocation,
		remove: s.svc.DeleteLocation,
		setID:  func(v *store.Location, id int64) { v.ID = id },
	})
	mountResource(mux, s, "links", resource[store.Link]{
		entity: store.EntityLink,
		list:   s.svc.ListLinks,
		get:    s.svc.GetLink,
		create: s.svc.CreateLink,
		update: s.svc.UpdateLink,
		remove: s.svc.DeleteLink,
		setID:  func(v *store.Link, id int64) { v.ID = id },
	})
	mountResource(mux, s, "files", resource[store.File]{
		entity: store.EntityFile,
		list:   global(s.svc.ListFiles),
		get:    globalGet(s.svc.GetFile),
		create: s.svc.CreateFile,
		update: s.svc.UpdateFile,
		remove: s.svc.DeleteFile,
		setID:  func(v *store.File, id int64) { v.ID = id },
	})
	mountResource(mux, s, "task-links", resource[store.TaskLink]{
		entity: store.EntityTaskLink,
		list:   s.svc.ListTaskLinks,
		get:    s.svc.GetTaskLink,
		create: s.svc.CreateTaskLink,
		update: s.svc.UpdateTaskLink,
		remove: s.svc.DeleteTaskLink,
		setID:  func(v *store.TaskLink, id int64) { v.ID = id },
	})
	mountResource(mux, s, "tasks", resource[store.Task]{
		entity: store.EntityTask,
		blank:  tracker.NewTask,
		get:    s.svc.GetTask,
		create: s.svc.CreateTask,
		update: s.svc.UpdateTask,
		remove: s.svc.DeleteTask,
		setID:  func(v *store.Task, id int64) { v.ID = id },
	})
	mux.Handle("GET /api/tasks/{$}", s.authed(s.handleListTasks))
	mux.Handle("PUT /api/tasks/{id}/dependencies/{$}", s.authed(s.handleSetDependencies))
	mux.Handle("POST /api/tasks/{id}/dependencies/{$}", s.authed(s.handleAddDependency))
	mux.Handle("DELETE /api/tasks/{id}/dependencies/{dep}/{$}", s.authed(s.handleRemoveDependency))

	if s.hub != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}

	return logRequests(mux)
}

// Start listens on addr in the background.
// Start binds addr and serves in the background. Bind errors are returned.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[api] listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	log.Printf("[api] stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func global[T any](fn func(context.Context) ([]T, error)) func(context.Context, *store.User) ([]T, error) {
	return func(ctx context.Context, _ *store.User) ([]T, error) {
		return fn(ctx)
	}
}

func globalGet[T any](fn func(context.Context, int64) (*T, error)) func(context.Context, *store.User, int64) (*T, error) {
	return func(ctx context.Context, _ *store.User, id int64) (*T, error) {
		return fn(ctx, id)
	}
}
