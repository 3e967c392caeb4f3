package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/stellarlinkco/taskhub/internal/store"
)

// resource binds the CRUD operations of one entity kind to HTTP.
type resource[T any] struct {
	entity string
	blank  func() T
	list   func(ctx context.Context, actor *store.User) ([]T, error)
	get    func(ctx context.Context, actor *store.User, id int64) (*T, error)
	create func(ctx context.Context, actor *store.User, in T) (*T, error)
	update func(ctx context.Context, actor *store.User, in T) (*T, error)
	remove func(ctx context.Context, actor *store.User, id int64) error
	setID  func(v *T, id int64)
}

func mountResource[T any](mux *http.ServeMux, s *Server, kind string, res resource[T]) {
	base := "/api/" + kind + "/"
	if res.list != nil {
		mux.Handle("GET "+base+"{$}", s.authed(res.handleList))
	}
	mux.Handle("POST "+base+"{$}", s.authed(res.handleCreate))
	mux.Handle("GET "+base+"{id}/{$}", s.authed(res.handleGet))
	mux.Handle("PUT "+base+"{id}/{$}", s.authed(res.handleUpdate))
	mux.Handle("PATCH "+base+"{id}/{$}", s.authed(res.handleUpdate))
	mux.Handle("DELETE "+base+"{id}/{$}", s.authed(res.handleDelete))
	mux.Handle("GET "+base+"{id}/history/{$}", s.authed(s.historyHandler(res.entity)))
}

func (res resource[T]) handleList(w http.ResponseWriter, r *http.Request, actor *store.User) {
	items, err := res.list(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (res resource[T]) handleGet(w http.ResponseWriter, r *http.Request, actor *store.User) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := res.get(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (res resource[T]) handleCreate(w http.ResponseWriter, r *http.Request, actor *store.User) {
	var in T
	if res.blank != nil {
		in = res.blank()
	}
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	res.setID(&in, 0)
	created, err := res.create(r.Context(), actor, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdate serves PUT and PATCH alike: the body is merged onto the
// current representation, so omitted fields keep their values.
func (res resource[T]) handleUpdate(w http.ResponseWriter, r *http.Request, actor *store.User) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	current, err := res.get(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := decodeBody(w, r, current); err != nil {
		writeError(w, err)
		return
	}
	res.setID(current, id)
	updated, err := res.update(r.Context(), actor, *current)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (res resource[T]) handleDelete(w http.ResponseWriter, r *http.Request, actor *store.User) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := res.remove(r.Context(), actor, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) historyHandler(entity string) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, actor *store.User) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		history, err := s.svc.History(r.Context(), actor, entity, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if history == nil {
			history = []store.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, store.ErrNotFound
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &badRequest{msg: "request body is empty"}
		}
		return &badRequest{msg: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}
