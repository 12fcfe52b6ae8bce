package realtime

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/molliey/taskboard/domain"
)

var bg = context.Background()

// Store is the board state store contract the router dispatches against.
type Store interface {
	Apply(ctx context.Context, projectID, actor string, op domain.Operation) (domain.Event, error)
	Sync(ctx context.Context, projectID string, register func(domain.Snapshot) error) error
	Snapshot(ctx context.Context, projectID string) (domain.Snapshot, error)
	Release(projectID string)
}

// EventWriter receives successfully applied events for asynchronous
// persistence. Enqueue must never block; it reports false when the event
// was dropped.
type EventWriter interface {
	Enqueue(ev domain.Event) bool
}

// Router parses and validates inbound protocol messages, dispatches them
// to the board store on behalf of a session and selects the fan-out set.
// A malformed message costs the sender an error acknowledgment, never the
// connection; no client input crashes the process.
type Router struct {
	store  Store
	hub    *Hub
	writer EventWriter // optional
}

// NewRouter creates a Router. writer may be nil when persistence is
// disabled.
func NewRouter(store Store, hub *Hub, writer EventWriter) *Router {
	return &Router{store: store, hub: hub, writer: writer}
}

func (r *Router) handle(s *Session, data []byte) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		r.sendError(s, &domain.ProtocolError{Reason: "malformed envelope"})
		return
	}
	switch env.Type {
	case msgSubscribeProject:
		r.subscribe(s, env.Payload)
	case msgRequestBoardSync:
		r.resync(s, env.Payload)
	case msgCreateTask, msgMoveTask, msgUpdateTask, msgDeleteTask:
		r.mutate(s, env)
	default:
		r.sendError(s, &domain.ProtocolError{Reason: "unknown message type " + env.Type})
	}
}

// subscribe switches the session onto a project and sends the full-state
// snapshot. Subscription registration and snapshot capture happen under
// the project's lock, so no incremental event can slot in between: the
// snapshot is always the first project message the session receives, and
// every event after it carries a strictly greater sequence number.
func (r *Router) subscribe(s *Session, payload []byte) {
	var p subscribePayload
	if err := sonic.Unmarshal(payload, &p); err != nil || p.ProjectID == "" {
		r.sendError(s, &domain.ProtocolError{Reason: "subscribe_project requires projectId"})
		return
	}
	if s.ProjectID() == p.ProjectID {
		// Already subscribed; treat as a resync request.
		r.sendSnapshot(s, p.ProjectID)
		return
	}
	prev := ""
	err := r.store.Sync(bg, p.ProjectID, func(snap domain.Snapshot) error {
		data, err := encodeMessage(domain.EventBoardSync, snap)
		if err != nil {
			return err
		}
		if !s.enqueue(data) {
			return &domain.CapacityError{SessionID: s.ID}
		}
		prev = r.hub.Subscribe(s, p.ProjectID)
		return nil
	})
	if err != nil {
		var cpe *domain.CapacityError
		if errors.As(err, &cpe) {
			// The queue that overflowed is the only channel back to this
			// client; an ack cannot get through it. Disconnect, like any
			// other overflowing session.
			log.Warnf("disconnecting session %s (user %s): %v", s.ID, s.UserID, err)
			s.close()
			return
		}
		r.sendError(s, err)
		return
	}
	if prev != "" {
		r.store.Release(prev)
	}
}

// resync re-sends the full snapshot of the session's subscribed project.
// The requested projectId must match the subscription; a session cannot
// read another project's board through this path.
func (r *Router) resync(s *Session, payload []byte) {
	var p subscribePayload
	if err := sonic.Unmarshal(payload, &p); err != nil || p.ProjectID == "" {
		r.sendError(s, &domain.ProtocolError{Reason: "request_board_sync requires projectId"})
		return
	}
	if s.ProjectID() != p.ProjectID {
		r.sendError(s, &domain.ProtocolError{Reason: "not subscribed to project " + p.ProjectID})
		return
	}
	r.sendSnapshot(s, p.ProjectID)
}

// mutate translates a task message into a board operation against the
// session's subscribed project. The subscription context selects the
// target project; clients cannot name an arbitrary one.
func (r *Router) mutate(s *Session, env Envelope) {
	projectID := s.ProjectID()
	if projectID == "" {
		r.sendError(s, &domain.ProtocolError{Reason: "not subscribed to a project"})
		return
	}
	op, err := decodeOperation(env)
	if err != nil {
		r.sendError(s, err)
		return
	}
	ev, err := r.store.Apply(bg, projectID, s.UserID, op)
	if err != nil {
		r.sendError(s, err)
		if domain.IsNotFound(err) || domain.IsConflict(err) {
			// Attach the authoritative state so the client can self-heal.
			r.sendSnapshot(s, projectID)
		}
		return
	}
	if r.writer != nil && !r.writer.Enqueue(ev) {
		log.Warnf("persist queue full, dropped %s seq %d for project %s", ev.Type, ev.Seq, ev.ProjectID)
	}
}

func decodeOperation(env Envelope) (domain.Operation, error) {
	switch env.Type {
	case msgCreateTask:
		var p createTaskPayload
		if err := sonic.Unmarshal(env.Payload, &p); err != nil {
			return nil, &domain.ProtocolError{Reason: "malformed create_task payload"}
		}
		if p.Column == "" || p.Task.Title == "" {
			return nil, &domain.ProtocolError{Reason: "create_task requires column and task title"}
		}
		if !domain.KnownColumn(p.Column) {
			return nil, &domain.ProtocolError{Reason: "unknown column " + p.Column}
		}
		return domain.CreateTask{Column: p.Column, Task: p.Task}, nil
	case msgMoveTask:
		var p moveTaskPayload
		if err := sonic.Unmarshal(env.Payload, &p); err != nil {
			return nil, &domain.ProtocolError{Reason: "malformed move_task payload"}
		}
		if p.TaskID == "" || p.FromColumn == "" || p.ToColumn == "" {
			return nil, &domain.ProtocolError{Reason: "move_task requires taskId, fromColumn and toColumn"}
		}
		if !domain.KnownColumn(p.FromColumn) {
			return nil, &domain.ProtocolError{Reason: "unknown column " + p.FromColumn}
		}
		if !domain.KnownColumn(p.ToColumn) {
			return nil, &domain.ProtocolError{Reason: "unknown column " + p.ToColumn}
		}
		return domain.MoveTask{TaskID: p.TaskID, FromColumn: p.FromColumn, ToColumn: p.ToColumn, TargetIndex: p.TargetPosition}, nil
	case msgUpdateTask:
		var p updateTaskPayload
		if err := sonic.Unmarshal(env.Payload, &p); err != nil {
			return nil, &domain.ProtocolError{Reason: "malformed update_task payload"}
		}
		if p.TaskID == "" {
			return nil, &domain.ProtocolError{Reason: "update_task requires taskId"}
		}
		return domain.UpdateTask{TaskID: p.TaskID, Fields: p.Fields}, nil
	case msgDeleteTask:
		var p deleteTaskPayload
		if err := sonic.Unmarshal(env.Payload, &p); err != nil {
			return nil, &domain.ProtocolError{Reason: "malformed delete_task payload"}
		}
		if p.TaskID == "" || p.Column == "" {
			return nil, &domain.ProtocolError{Reason: "delete_task requires taskId and column"}
		}
		if !domain.KnownColumn(p.Column) {
			return nil, &domain.ProtocolError{Reason: "unknown column " + p.Column}
		}
		return domain.DeleteTask{TaskID: p.TaskID, Column: p.Column}, nil
	}
	return nil, &domain.ProtocolError{Reason: "unknown message type " + env.Type}
}

func (r *Router) sendSnapshot(s *Session, projectID string) {
	snap, err := r.store.Snapshot(bg, projectID)
	if err != nil {
		r.sendError(s, err)
		return
	}
	data, err := encodeMessage(domain.EventBoardSync, snap)
	if err != nil {
		log.Errorf("encode snapshot for %s: %v", projectID, err)
		return
	}
	s.enqueue(data)
}

func (r *Router) sendError(s *Session, err error) {
	data, mErr := encodeMessage(domain.EventError, errorPayload{Code: domain.ErrorCode(err), Message: err.Error()})
	if mErr != nil {
		log.Errorf("encode error message: %v", mErr)
		return
	}
	s.enqueue(data)
}

// dropSession unregisters a disconnected session and releases its project
// pin, allowing idle board state to be evicted.
func (r *Router) dropSession(s *Session) {
	projectID, _ := r.hub.Drop(s)
	if projectID != "" {
		r.store.Release(projectID)
	}
}
