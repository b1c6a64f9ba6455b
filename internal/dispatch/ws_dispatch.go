package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-matching/internal/collab"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// WSSession represents a connected user session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ctx context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// WSRegistry holds one session per user id (drivers and passengers alike).
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for id, closing any session it replaces.
func (r *WSRegistry) Add(id string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.sessions[id]
	r.sessions[id] = &WSSession{conn: conn}
	r.mu.Unlock()
	if old != nil && old.conn != conn {
		_ = old.conn.Close()
	}
}

// Remove drops the session for id if it still belongs to conn.
func (r *WSRegistry) Remove(id string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.conn == conn {
		delete(r.sessions, id)
	}
}

func (r *WSRegistry) Connected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

func (r *WSRegistry) Notify(ctx context.Context, recipient string, msg collab.Message) error {
	r.mu.RLock()
	s, ok := r.sessions[recipient]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ctx, msg); err != nil {
		r.Remove(recipient, s.conn)
		_ = s.conn.Close()
		return err
	}
	return nil
}
