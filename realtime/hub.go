package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/molliey/taskboard/domain"
)

// Hub is the session registry and broadcast fan-out. It tracks live
// sessions, their project subscription and per-project membership, and
// delivers outbound messages to every session subscribed to a project —
// including the originator, so the originator's UI update path is
// identical to remote clients'.
type Hub struct {
	queueSize int

	mu       sync.RWMutex
	sessions map[string]*Session
	projects map[string]map[*Session]struct{}
}

// NewHub creates a Hub whose sessions carry outbound queues of queueSize
// messages (a default is applied when queueSize <= 0).
func NewHub(queueSize int) *Hub {
	return &Hub{
		queueSize: queueSize,
		sessions:  make(map[string]*Session),
		projects:  make(map[string]map[*Session]struct{}),
	}
}

// NewSession wraps an accepted connection in a Session and registers it.
// The session is not yet subscribed to any project.
func (h *Hub) NewSession(userID string, conn *websocket.Conn) *Session {
	s := newSession(userID, conn, h.queueSize)
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	return s
}

// Subscribe moves s onto projectID, returning the project it previously
// belonged to ("" when none). Membership changes emit a user_count message
// to the affected projects.
func (h *Hub) Subscribe(s *Session, projectID string) (prev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev = s.ProjectID()
	if prev == projectID {
		return prev
	}
	if prev != "" {
		h.removeLocked(s, prev)
	}
	set, ok := h.projects[projectID]
	if !ok {
		set = make(map[*Session]struct{})
		h.projects[projectID] = set
	}
	set[s] = struct{}{}
	s.setProject(projectID)
	h.notifyUserCountLocked(projectID)
	return prev
}

// Drop removes s from the registry entirely and returns the project it was
// subscribed to and the number of sessions remaining on it.
func (h *Hub) Drop(s *Session) (projectID string, remaining int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.ID)
	projectID = s.ProjectID()
	if projectID != "" {
		h.removeLocked(s, projectID)
		s.setProject("")
		remaining = len(h.projects[projectID])
		h.notifyUserCountLocked(projectID)
	}
	return projectID, remaining
}

// Count returns the number of sessions subscribed to projectID.
func (h *Hub) Count(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.projects[projectID])
}

// Broadcast delivers data to every session subscribed to projectID.
// Delivery is a non-blocking enqueue per session; a session whose bounded
// queue overflows is forcibly disconnected and must resynchronize via a
// full snapshot on reconnect. No other session's delivery is delayed.
func (h *Hub) Broadcast(projectID string, data []byte) {
	var overflowed []*Session
	h.mu.RLock()
	for s := range h.projects[projectID] {
		if !s.enqueue(data) {
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range overflowed {
		err := &domain.CapacityError{SessionID: s.ID}
		log.Warnf("disconnecting session %s (user %s): %v", s.ID, s.UserID, err)
		s.close()
	}
}

// BroadcastEvent encodes an applied board event and fans it out. It
// implements the store's Broadcaster contract and is invoked in sequence
// order per project.
func (h *Hub) BroadcastEvent(ev domain.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		log.Errorf("encode event %s seq %d: %v", ev.Type, ev.Seq, err)
		return
	}
	h.Broadcast(ev.ProjectID, data)
}

func (h *Hub) removeLocked(s *Session, projectID string) {
	set := h.projects[projectID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.projects, projectID)
	}
}

func (h *Hub) notifyUserCountLocked(projectID string) {
	set := h.projects[projectID]
	data, err := encodeMessage(domain.EventUserCount, userCountPayload{Count: len(set)})
	if err != nil {
		log.Errorf("encode user_count: %v", err)
		return
	}
	for s := range set {
		s.enqueue(data)
	}
}
