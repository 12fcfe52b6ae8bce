package domain

// Operation is a requested mutation of a project's board. Operations are
// validated against the current authoritative state when applied; see the
// board package.
type Operation interface {
	Kind() string
}

// CreateTask adds a task to a column. A zero Task.Position appends to the
// end of the column; a positive value is treated as the desired rank and
// the applied event carries the authoritative rank actually assigned.
type CreateTask struct {
	Column string
	Task   Task
}

func (CreateTask) Kind() string { return "create_task" }

// MoveTask relocates a task from one column to another (or within one).
// FromColumn is the column the client believes currently owns the task;
// a mismatch means the client's view was stale and the move is rejected.
// TargetIndex is the intended insertion index in ToColumn after removal,
// clamped to the column bounds.
type MoveTask struct {
	TaskID      string
	FromColumn  string
	ToColumn    string
	TargetIndex int
}

func (MoveTask) Kind() string { return "move_task" }

// UpdateTask applies a partial field update to a task.
type UpdateTask struct {
	TaskID string
	Fields TaskFields
}

func (UpdateTask) Kind() string { return "update_task" }

// DeleteTask removes a task from the column the client believes owns it.
type DeleteTask struct {
	TaskID string
	Column string
}

func (DeleteTask) Kind() string { return "delete_task" }
