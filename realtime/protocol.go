package realtime

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/molliey/taskboard/domain"
)

// inboundMaxSize bounds a single client message.
const inboundMaxSize = 64 * 1024 // 64 KiB

// Inbound message types.
const (
	msgSubscribeProject = "subscribe_project"
	msgCreateTask       = "create_task"
	msgMoveTask         = "move_task"
	msgUpdateTask       = "update_task"
	msgDeleteTask       = "delete_task"
	msgRequestBoardSync = "request_board_sync"
)

// Envelope is the wire format for every message in either direction.
type Envelope struct {
	Type      string                 `json:"type"`
	Payload   sonic.NoCopyRawMessage `json:"payload"`
	Timestamp string                 `json:"timestamp"`
}

type subscribePayload struct {
	ProjectID string `json:"projectId"`
}

type createTaskPayload struct {
	Column string      `json:"column"`
	Task   domain.Task `json:"task"`
}

type moveTaskPayload struct {
	TaskID         string `json:"taskId"`
	FromColumn     string `json:"fromColumn"`
	ToColumn       string `json:"toColumn"`
	TargetPosition int    `json:"targetPosition"`
}

type updateTaskPayload struct {
	TaskID string            `json:"taskId"`
	Fields domain.TaskFields `json:"fields"`
}

type deleteTaskPayload struct {
	TaskID string `json:"taskId"`
	Column string `json:"column"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type userCountPayload struct {
	Count int `json:"count"`
}

// encodeMessage wraps payload in the protocol envelope and marshals it.
func encodeMessage(typ string, payload any) ([]byte, error) {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return sonic.Marshal(&env)
}

// encodeEvent marshals an applied board event for fan-out. The event type
// becomes the envelope type.
func encodeEvent(ev domain.Event) ([]byte, error) {
	return encodeMessage(ev.Type, ev)
}
