package board

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/molliey/taskboard/domain"
)

// Loader supplies board state from the persistence collaborator. Projects
// are created externally and loaded lazily on first subscription.
type Loader interface {
	LoadProject(ctx context.Context, projectID string) (*domain.Board, error)
}

// Broadcaster receives every applied event. The store invokes it while
// still holding the project's mutation lock, so events reach it in strictly
// increasing sequence order per project.
type Broadcaster interface {
	BroadcastEvent(ev domain.Event)
}

// Store owns the authoritative in-memory board of every loaded project.
// All mutation goes through Apply. A per-project mutex serializes mutation,
// sequence stamping and broadcast hand-off, so two clients editing
// different projects never contend while operations within one project are
// applied strictly one at a time in arrival order.
type Store struct {
	loader Loader
	bc     Broadcaster

	mu       sync.Mutex
	projects map[string]*project
}

type project struct {
	mu      sync.Mutex
	board   *domain.Board
	seq     uint64
	refs    int
	evicted bool
}

// NewStore creates a Store backed by the given loader. bc may be nil, in
// which case applied events are returned but not fanned out.
func NewStore(loader Loader, bc Broadcaster) *Store {
	return &Store{
		loader:   loader,
		bc:       bc,
		projects: make(map[string]*project),
	}
}

func (s *Store) get(projectID string) *project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		p = &project{}
		s.projects[projectID] = p
	}
	return p
}

// acquire returns the project with its mutex held, loading the board from
// the persistence collaborator when it is not resident. A pointer fetched
// from the map can lose a race with the last session's Release; such a
// project is marked evicted under its lock, and acquire retries against
// the map rather than pinning the orphaned object. Without the recheck a
// racing subscriber could snapshot the old sequence while later applies
// restart at 1, and its replica would drop every broadcast as stale.
func (s *Store) acquire(ctx context.Context, projectID string) (*project, error) {
	for {
		p := s.get(projectID)
		p.mu.Lock()
		if p.evicted {
			p.mu.Unlock()
			continue
		}
		if p.board == nil {
			b, err := s.loader.LoadProject(ctx, projectID)
			if err != nil {
				p.mu.Unlock()
				return nil, err
			}
			p.board = b
		}
		return p, nil
	}
}

// Apply validates op against the current board state, mutates it, stamps
// the project's next sequence number and hands the resulting event to the
// broadcaster before the project lock is released. It fails with
// NotFoundError or ConflictError without mutating anything.
func (s *Store) Apply(ctx context.Context, projectID, actor string, op domain.Operation) (domain.Event, error) {
	p, err := s.acquire(ctx, projectID)
	if err != nil {
		return domain.Event{}, err
	}
	defer p.mu.Unlock()

	ev, err := apply(p.board, op)
	if err != nil {
		return domain.Event{}, err
	}
	p.seq++
	ev.ProjectID = projectID
	ev.Seq = p.seq
	ev.Actor = actor
	if s.bc != nil {
		s.bc.BroadcastEvent(ev)
	}
	return ev, nil
}

// Sync loads the project if necessary, captures a snapshot and runs
// register with it under the project lock, then pins the project as
// referenced by one more session. Because broadcasts also run under that
// lock, anything register enqueues is ordered strictly before every event
// with a higher sequence number.
func (s *Store) Sync(ctx context.Context, projectID string, register func(domain.Snapshot) error) error {
	p, err := s.acquire(ctx, projectID)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	if err := register(snapshotLocked(projectID, p)); err != nil {
		return err
	}
	p.refs++
	return nil
}

// Release drops one session reference. The project's in-memory state is
// evicted when no referencing sessions remain.
func (s *Store) Release(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return
	}
	p.mu.Lock()
	p.refs--
	if p.refs <= 0 {
		p.evicted = true
		delete(s.projects, projectID)
	}
	p.mu.Unlock()
}

// Snapshot returns a read-only copy of the project's board without pinning
// it. Used for resync requests and the REST read surface.
func (s *Store) Snapshot(ctx context.Context, projectID string) (domain.Snapshot, error) {
	p, err := s.acquire(ctx, projectID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer p.mu.Unlock()
	return snapshotLocked(projectID, p), nil
}

func snapshotLocked(projectID string, p *project) domain.Snapshot {
	return domain.Snapshot{
		ProjectID: projectID,
		Seq:       p.seq,
		Columns:   p.board.Clone().Columns,
	}
}

// apply mutates b according to op and returns the event describing the
// change. It either fully applies the operation or leaves b untouched.
func apply(b *domain.Board, op domain.Operation) (domain.Event, error) {
	switch o := op.(type) {
	case domain.CreateTask:
		return applyCreate(b, o)
	case domain.MoveTask:
		return applyMove(b, o)
	case domain.UpdateTask:
		return applyUpdate(b, o)
	case domain.DeleteTask:
		return applyDelete(b, o)
	default:
		return domain.Event{}, &domain.ProtocolError{Reason: "unsupported operation " + op.Kind()}
	}
}

func applyCreate(b *domain.Board, op domain.CreateTask) (domain.Event, error) {
	col := b.Column(op.Column)
	if col == nil {
		return domain.Event{}, &domain.NotFoundError{Kind: "column", ID: op.Column}
	}
	t := op.Task
	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if cur, _, ok := b.FindTask(t.ID); ok {
		return domain.Event{}, &domain.ConflictError{TaskID: t.ID, Expected: op.Column, Actual: cur}
	}
	var idx int
	if t.Position > 0 {
		idx = insertIndexForRank(col, t.Position)
	} else {
		idx = len(col.Tasks)
	}
	rank, renumbered := insertRank(col, idx)
	t.Position = rank
	insertTask(col, idx, t)
	tc := t
	return domain.Event{Type: domain.EventTaskCreated, TaskID: t.ID, Task: &tc, Column: col.Name, Renumbered: renumbered}, nil
}

func applyMove(b *domain.Board, op domain.MoveTask) (domain.Event, error) {
	cur, idx, ok := b.FindTask(op.TaskID)
	if !ok {
		return domain.Event{}, &domain.NotFoundError{Kind: "task", ID: op.TaskID}
	}
	if cur != op.FromColumn {
		// The task moved under the client; its local view was stale.
		return domain.Event{}, &domain.ConflictError{TaskID: op.TaskID, Expected: op.FromColumn, Actual: cur}
	}
	dst := b.Column(op.ToColumn)
	if dst == nil {
		return domain.Event{}, &domain.NotFoundError{Kind: "column", ID: op.ToColumn}
	}
	// Remove-then-insert under the project lock: the task is never
	// observable in two columns or in none.
	t := removeTask(b.Column(cur), idx)
	rank, renumbered := insertRank(dst, op.TargetIndex)
	t.Position = rank
	insertTask(dst, op.TargetIndex, t)
	tc := t
	return domain.Event{
		Type:       domain.EventTaskMoved,
		TaskID:     t.ID,
		Task:       &tc,
		FromColumn: op.FromColumn,
		ToColumn:   op.ToColumn,
		Renumbered: renumbered,
	}, nil
}

func applyUpdate(b *domain.Board, op domain.UpdateTask) (domain.Event, error) {
	cur, idx, ok := b.FindTask(op.TaskID)
	if !ok {
		return domain.Event{}, &domain.NotFoundError{Kind: "task", ID: op.TaskID}
	}
	col := b.Column(cur)
	t := &col.Tasks[idx]
	f := op.Fields
	if f.Title != nil {
		t.Title = *f.Title
	}
	if f.Description != nil {
		t.Description = *f.Description
	}
	if f.Tag != nil {
		t.Tag = *f.Tag
	}
	if f.DueDate != nil {
		t.DueDate = f.DueDate
	}
	if f.AssigneeID != nil {
		t.AssigneeID = *f.AssigneeID
	}
	tc := *t
	return domain.Event{Type: domain.EventTaskUpdated, TaskID: t.ID, Task: &tc, Column: cur}, nil
}

func applyDelete(b *domain.Board, op domain.DeleteTask) (domain.Event, error) {
	cur, idx, ok := b.FindTask(op.TaskID)
	if !ok {
		return domain.Event{}, &domain.NotFoundError{Kind: "task", ID: op.TaskID}
	}
	if cur != op.Column {
		return domain.Event{}, &domain.ConflictError{TaskID: op.TaskID, Expected: op.Column, Actual: cur}
	}
	removeTask(b.Column(cur), idx)
	return domain.Event{Type: domain.EventTaskDeleted, TaskID: op.TaskID, Column: cur}, nil
}
