package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// writeWait bounds a single outbound frame write.
	writeWait = 10 * time.Second
	// pongWait is the idle window: a connection with no pong (or other
	// read activity) within it is proactively dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultQueueSize = 256
)

// Session is one live client connection and its project subscription.
// Outbound delivery goes through a bounded queue drained by writeLoop, so
// a slow or dead peer never blocks fan-out to other sessions.
type Session struct {
	ID     string
	UserID string

	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	projectID string

	once   sync.Once
	closed chan struct{}
}

func newSession(userID string, conn *websocket.Conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, queueSize),
		closed: make(chan struct{}),
	}
}

// ProjectID returns the project this session is subscribed to, or "".
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

func (s *Session) setProject(id string) {
	s.mu.Lock()
	s.projectID = id
	s.mu.Unlock()
}

// enqueue queues data for delivery without blocking. It reports false when
// the outbound queue is full; messages for an already-closed session are
// dropped silently.
func (s *Session) enqueue(data []byte) bool {
	select {
	case <-s.closed:
		return true
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// close tears the connection down once; safe to call from any goroutine.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.closed)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// writeLoop drains the outbound queue onto the connection and keeps the
// peer alive with periodic pings.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case <-s.closed:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debugf("session %s write: %v", s.ID, err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop reads client messages and dispatches them through the router
// until the connection drops or idles out.
func (s *Session) readLoop(r *Router) {
	defer func() {
		r.dropSession(s)
		s.close()
	}()
	s.conn.SetReadLimit(inboundMaxSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("session %s read: %v", s.ID, err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		r.handle(s, data)
	}
}
