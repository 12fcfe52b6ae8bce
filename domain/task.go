package domain

import "time"

// Workflow stage names. The board always carries exactly these columns, in
// this order; the realtime core never creates or destroys columns.
const (
	ColumnTodo       = "TO DO"
	ColumnInProgress = "IN PROGRESS"
	ColumnInReview   = "IN REVIEW"
	ColumnDone       = "DONE"
)

// ColumnNames lists the workflow stages in board order.
var ColumnNames = []string{ColumnTodo, ColumnInProgress, ColumnInReview, ColumnDone}

// KnownColumn reports whether name is one of the fixed workflow stages.
func KnownColumn(name string) bool {
	for _, n := range ColumnNames {
		if n == name {
			return true
		}
	}
	return false
}

// Task represents a single board item. Position is the task's rank within
// its column; a task with a zero Position on create is appended.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tag         string     `json:"tag,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	Position    float64    `json:"position"`
}

// TaskFields carries a partial task update; nil fields are left untouched.
type TaskFields struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Tag         *string    `json:"tag,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssigneeID  *string    `json:"assigneeId,omitempty"`
}

// Column holds the ordered task sequence of one workflow stage. Slice order
// is rendering order and always agrees with ascending Position.
type Column struct {
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// Board is the authoritative state of one project.
type Board struct {
	ProjectID string   `json:"projectId"`
	Columns   []Column `json:"columns"`
}

// NewBoard returns an empty board with the fixed workflow columns.
func NewBoard(projectID string) *Board {
	b := &Board{ProjectID: projectID, Columns: make([]Column, len(ColumnNames))}
	for i, name := range ColumnNames {
		b.Columns[i] = Column{Name: name, Tasks: []Task{}}
	}
	return b
}

// Column returns the named column, or nil when the name is not a workflow
// stage of this board.
func (b *Board) Column(name string) *Column {
	for i := range b.Columns {
		if b.Columns[i].Name == name {
			return &b.Columns[i]
		}
	}
	return nil
}

// FindTask locates a task by ID and returns its column name and index.
func (b *Board) FindTask(taskID string) (column string, index int, ok bool) {
	for i := range b.Columns {
		for j := range b.Columns[i].Tasks {
			if b.Columns[i].Tasks[j].ID == taskID {
				return b.Columns[i].Name, j, true
			}
		}
	}
	return "", 0, false
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	out := &Board{ProjectID: b.ProjectID, Columns: make([]Column, len(b.Columns))}
	for i := range b.Columns {
		tasks := make([]Task, len(b.Columns[i].Tasks))
		copy(tasks, b.Columns[i].Tasks)
		out.Columns[i] = Column{Name: b.Columns[i].Name, Tasks: tasks}
	}
	return out
}

// Snapshot is a full copy of a project's board tagged with the sequence
// number current at capture time.
type Snapshot struct {
	ProjectID string   `json:"projectId"`
	Seq       uint64   `json:"sequence"`
	Columns   []Column `json:"columns"`
}

// User is a directory entry resolved for display purposes only.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
