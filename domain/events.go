package domain

// Message types broadcast to sessions.
const (
	EventTaskCreated = "task_created"
	EventTaskMoved   = "task_moved"
	EventTaskUpdated = "task_updated"
	EventTaskDeleted = "task_deleted"
	EventBoardSync   = "board_sync"
	EventUserCount   = "user_count"
	EventError       = "error"
)

// Event describes one applied board mutation. It carries the authoritative
// resulting task and position rather than a client-side diff, so every
// subscriber converges on the same value even under concurrent moves. Seq
// is the project's sequence number stamped when the mutation was applied;
// subscribers observe events in strictly increasing Seq order.
type Event struct {
	Type       string `json:"-"`
	ProjectID  string `json:"projectId"`
	Seq        uint64 `json:"sequence"`
	Actor      string `json:"actor,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	Task       *Task  `json:"task,omitempty"`
	Column     string `json:"column,omitempty"`
	FromColumn string `json:"fromColumn,omitempty"`
	ToColumn   string `json:"toColumn,omitempty"`
	// Renumbered is set when applying the operation renumbered the target
	// column's ranks 1..N before inserting. Replicas apply the same
	// deterministic renumbering so positions stay convergent.
	Renumbered bool `json:"renumbered,omitempty"`
}
