package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/taskhub/internal/bus"
	"github.com/stellarlinkco/taskhub/internal/store"
)

const (
	streamSubscriber = "stream"
	clientBufSize    = 32
	writeTimeout     = 5 * time.Second
)

// MembershipChecker answers whether a user may see a space.
type MembershipChecker interface {
	IsSpaceMember(ctx context.Context, spaceID, userID int64) (bool, error)
}

type streamClient struct {
	id   string
	user *store.User
	conn *websocket.Conn
	send chan []byte
}

// Hub fans task events out to connected websocket clients, each receiving
// only events of spaces it belongs to.
type Hub struct {
	members MembershipChecker
	clients sync.Map
	nextID  atomic.Int64
}

func NewHub(members MembershipChecker) *Hub {
	return &Hub{members: members}
}

// Attach subscribes the hub to b.
func (h *Hub) Attach(b *bus.EventBus) {
	b.Subscribe(streamSubscriber, h.Broadcast)
}

// Broadcast queues ev for every client allowed to see it. Slow clients lose
// events instead of stalling the bus.
func (h *Hub) Broadcast(ev bus.Event) {
	if ev.Type == bus.TaskReminder {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[stream] marshal event: %v", err)
		return
	}
	h.clients.Range(func(_, value any) bool {
		c := value.(*streamClient)
		if !h.allowed(c.user, ev.SpaceID) {
			return true
		}
		select {
		case c.send <- data:
		default:
			log.Printf("[stream] client %s is slow, dropping %s", c.id, ev.Type)
		}
		return true
	})
}

func (h *Hub) allowed(user *store.User, spaceID int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	ok, err := h.members.IsSpaceMember(ctx, spaceID, user.ID)
	if err != nil {
		log.Printf("[stream] membership check for user %d: %v", user.ID, err)
		return false
	}
	return ok
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	n := 0
	h.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (h *Hub) Close() {
	h.clients.Range(func(key, value any) bool {
		c := value.(*streamClient)
		c.conn.CloseNow()
		h.clients.Delete(key)
		return true
	})
}

func (h *Hub) serve(ctx context.Context, user *store.User, conn *websocket.Conn) {
	c := &streamClient{
		id:   fmt.Sprintf("stream-%d", h.nextID.Add(1)),
		user: user,
		conn: conn,
		send: make(chan []byte, clientBufSize),
	}
	h.clients.Store(c.id, c)
	log.Printf("[stream] client connected: %s (user %d)", c.id, user.ID)

	defer func() {
		h.clients.Delete(c.id)
		conn.CloseNow()
		log.Printf("[stream] client disconnected: %s", c.id)
	}()

	// The stream is one-way; CloseRead drains control frames and cancels
	// ctx once the peer goes away.
	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// handleEvents upgrades to a websocket. Browsers cannot set headers on the
// upgrade, so the token may also arrive as ?token=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	user, err := s.authenticate(r, token)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[stream] websocket accept error: %v", err)
		return
	}
	s.hub.serve(r.Context(), user, conn)
}
