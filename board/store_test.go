package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/molliey/taskboard/domain"
)

type stubLoader struct {
	mu     sync.Mutex
	boards map[string]*domain.Board
	calls  int
	err    error
}

func (l *stubLoader) LoadProject(_ context.Context, projectID string) (*domain.Board, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	if b, ok := l.boards[projectID]; ok {
		return b.Clone(), nil
	}
	return domain.NewBoard(projectID), nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBroadcaster) BroadcastEvent(ev domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) Events() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Event, len(b.events))
	copy(out, b.events)
	return out
}

func newTestStore() (*Store, *recordingBroadcaster) {
	bc := &recordingBroadcaster{}
	return NewStore(&stubLoader{}, bc), bc
}

func mustApply(t *testing.T, s *Store, projectID string, op domain.Operation) domain.Event {
	t.Helper()
	ev, err := s.Apply(context.Background(), projectID, "user-1", op)
	if err != nil {
		t.Fatalf("apply %s: %v", op.Kind(), err)
	}
	return ev
}

func TestCreateTasksAppendInOrder(t *testing.T) {
	s, bc := newTestStore()
	for i := 1; i <= 3; i++ {
		mustApply(t, s, "p1", domain.CreateTask{
			Column: domain.ColumnTodo,
			Task:   domain.Task{ID: fmt.Sprintf("T%d", i), Title: fmt.Sprintf("task %d", i)},
		})
	}
	snap, err := s.Snapshot(context.Background(), "p1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var got []string
	for _, task := range snap.Columns[0].Tasks {
		got = append(got, task.ID)
	}
	want := []string{"T1", "T2", "T3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column order = %v, want %v", got, want)
		}
	}
	events := bc.Events()
	if len(events) != 3 {
		t.Fatalf("broadcast %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.Type != domain.EventTaskCreated {
			t.Fatalf("event %d type = %s", i, ev.Type)
		}
	}
}

func TestMoveTaskConflictWhenStale(t *testing.T) {
	s, _ := newTestStore()
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T1", Title: "t"}})

	// Client A's move applies first.
	mustApply(t, s, "p1", domain.MoveTask{TaskID: "T1", FromColumn: domain.ColumnTodo, ToColumn: domain.ColumnDone})

	// Client B still believes T1 is in TO DO.
	_, err := s.Apply(context.Background(), "p1", "user-2", domain.MoveTask{TaskID: "T1", FromColumn: domain.ColumnTodo, ToColumn: domain.ColumnInProgress})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce *domain.ConflictError
	if !errors.As(err, &ce) || ce.Actual != domain.ColumnDone {
		t.Fatalf("conflict error = %v, want actual column DONE", err)
	}

	// The rejected operation must not have mutated anything.
	snap, _ := s.Snapshot(context.Background(), "p1")
	col, _, ok := snapshotFind(snap, "T1")
	if !ok || col != domain.ColumnDone {
		t.Fatalf("T1 in %q, want DONE", col)
	}
}

func TestMoveUnknownTaskNotFound(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Apply(context.Background(), "p1", "u", domain.MoveTask{TaskID: "nope", FromColumn: domain.ColumnTodo, ToColumn: domain.ColumnDone})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskInExactlyOneColumn(t *testing.T) {
	s, _ := newTestStore()
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T1", Title: "t"}})
	moves := []domain.MoveTask{
		{TaskID: "T1", FromColumn: domain.ColumnTodo, ToColumn: domain.ColumnInProgress},
		{TaskID: "T1", FromColumn: domain.ColumnInProgress, ToColumn: domain.ColumnInReview},
		{TaskID: "T1", FromColumn: domain.ColumnInReview, ToColumn: domain.ColumnDone},
		{TaskID: "T1", FromColumn: domain.ColumnDone, ToColumn: domain.ColumnTodo},
	}
	for _, mv := range moves {
		mustApply(t, s, "p1", mv)
		snap, _ := s.Snapshot(context.Background(), "p1")
		count := 0
		for _, col := range snap.Columns {
			for _, task := range col.Tasks {
				if task.ID == "T1" {
					count++
				}
			}
		}
		if count != 1 {
			t.Fatalf("T1 appears %d times after move to %s", count, mv.ToColumn)
		}
	}
}

func TestMoveWithinColumnReorders(t *testing.T) {
	s, _ := newTestStore()
	for _, id := range []string{"T1", "T2", "T3"} {
		mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: id, Title: id}})
	}
	// Move T3 to the head of its own column. The index is interpreted
	// against the column with T3 already removed.
	mustApply(t, s, "p1", domain.MoveTask{TaskID: "T3", FromColumn: domain.ColumnTodo, ToColumn: domain.ColumnTodo, TargetIndex: 0})
	snap, _ := s.Snapshot(context.Background(), "p1")
	got := taskIDs(snap.Columns[0])
	want := []string{"T3", "T1", "T2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUpdateTaskPartialFields(t *testing.T) {
	s, bc := newTestStore()
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T1", Title: "old", Tag: "BILLING"}})
	title := "new title"
	ev := mustApply(t, s, "p1", domain.UpdateTask{TaskID: "T1", Fields: domain.TaskFields{Title: &title}})
	if ev.Task.Title != "new title" || ev.Task.Tag != "BILLING" {
		t.Fatalf("updated task = %+v", ev.Task)
	}
	last := bc.Events()[len(bc.Events())-1]
	if last.Type != domain.EventTaskUpdated || last.Task.Title != "new title" {
		t.Fatalf("broadcast = %+v", last)
	}
}

func TestDeleteTaskColumnMismatchConflicts(t *testing.T) {
	s, _ := newTestStore()
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T1", Title: "t"}})
	_, err := s.Apply(context.Background(), "p1", "u", domain.DeleteTask{TaskID: "T1", Column: domain.ColumnDone})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	mustApply(t, s, "p1", domain.DeleteTask{TaskID: "T1", Column: domain.ColumnTodo})
	if _, err := s.Apply(context.Background(), "p1", "u", domain.DeleteTask{TaskID: "T1", Column: domain.ColumnTodo}); !domain.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestCreateDuplicateIDConflicts(t *testing.T) {
	s, _ := newTestStore()
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T1", Title: "t"}})
	_, err := s.Apply(context.Background(), "p1", "u", domain.CreateTask{Column: domain.ColumnDone, Task: domain.Task{ID: "T1", Title: "again"}})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateAssignsIDWhenMissing(t *testing.T) {
	s, _ := newTestStore()
	ev := mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{Title: "t"}})
	if ev.Task.ID == "" {
		t.Fatal("expected generated task id")
	}
}

func TestSequenceIsPerProject(t *testing.T) {
	s, bc := newTestStore()
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "A", Title: "a"}})
	mustApply(t, s, "p2", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "B", Title: "b"}})
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "C", Title: "c"}})
	seqs := map[string][]uint64{}
	for _, ev := range bc.Events() {
		seqs[ev.ProjectID] = append(seqs[ev.ProjectID], ev.Seq)
	}
	if seqs["p1"][0] != 1 || seqs["p1"][1] != 2 || seqs["p2"][0] != 1 {
		t.Fatalf("sequences = %v", seqs)
	}
}

func TestConcurrentAppliesKeepSequenceContiguous(t *testing.T) {
	s, bc := newTestStore()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Apply(context.Background(), "p1", "u", domain.CreateTask{
				Column: domain.ColumnTodo,
				Task:   domain.Task{ID: fmt.Sprintf("T%d", i), Title: "t"},
			})
		}(i)
	}
	wg.Wait()
	events := bc.Events()
	if len(events) != n {
		t.Fatalf("broadcast %d events, want %d", len(events), n)
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d: broadcast order diverged from sequence order", i, ev.Seq)
		}
	}
}

func TestSyncSnapshotMatchesSequence(t *testing.T) {
	s, _ := newTestStore()
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T1", Title: "t"}})
	mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T2", Title: "t"}})
	var snap domain.Snapshot
	if err := s.Sync(context.Background(), "p1", func(got domain.Snapshot) error {
		snap = got
		return nil
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	defer s.Release("p1")
	if snap.Seq != 2 {
		t.Fatalf("snapshot seq = %d, want 2", snap.Seq)
	}
	if len(snap.Columns[0].Tasks) != 2 {
		t.Fatalf("snapshot tasks = %d, want 2", len(snap.Columns[0].Tasks))
	}
}

func TestSyncRegisterFailureDoesNotPin(t *testing.T) {
	loader := &stubLoader{}
	s := NewStore(loader, nil)
	wantErr := errors.New("queue full")
	if err := s.Sync(context.Background(), "p1", func(domain.Snapshot) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("sync error = %v, want %v", err, wantErr)
	}
	// The project was never pinned; a release from a later subscriber
	// must still evict cleanly.
	if err := s.Sync(context.Background(), "p1", func(domain.Snapshot) error { return nil }); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	s.Release("p1")
}

func TestReleaseEvictsIdleProject(t *testing.T) {
	loader := &stubLoader{}
	s := NewStore(loader, nil)
	if err := s.Sync(context.Background(), "p1", func(domain.Snapshot) error { return nil }); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("loader calls = %d, want 1", loader.calls)
	}
	// A second subscriber does not reload.
	if err := s.Sync(context.Background(), "p1", func(domain.Snapshot) error { return nil }); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("loader calls = %d, want 1", loader.calls)
	}
	s.Release("p1")
	// Still one subscriber: state stays resident.
	if _, err := s.Snapshot(context.Background(), "p1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("loader calls = %d, want 1", loader.calls)
	}
	s.Release("p1")
	// No subscribers remain: the next access reloads.
	if _, err := s.Snapshot(context.Background(), "p1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("loader calls = %d, want 2 after eviction", loader.calls)
	}
}

func TestLoadErrorSurfaces(t *testing.T) {
	loader := &stubLoader{err: errors.New("table offline")}
	s := NewStore(loader, nil)
	if _, err := s.Apply(context.Background(), "p1", "u", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{Title: "t"}}); err == nil {
		t.Fatal("expected load error")
	}
}

func snapshotFind(snap domain.Snapshot, taskID string) (string, int, bool) {
	for _, col := range snap.Columns {
		for i, task := range col.Tasks {
			if task.ID == taskID {
				return col.Name, i, true
			}
		}
	}
	return "", 0, false
}

func taskIDs(col domain.Column) []string {
	out := make([]string, len(col.Tasks))
	for i, task := range col.Tasks {
		out[i] = task.ID
	}
	return out
}

func TestAcquireRefusesProjectOrphanedByRelease(t *testing.T) {
	bc := &recordingBroadcaster{}
	s := NewStore(&stubLoader{}, bc)
	if err := s.Sync(context.Background(), "p1", func(domain.Snapshot) error { return nil }); err != nil {
		t.Fatalf("sync: %v", err)
	}
	for i := 1; i <= 3; i++ {
		mustApply(t, s, "p1", domain.CreateTask{
			Column: domain.ColumnTodo,
			Task:   domain.Task{ID: fmt.Sprintf("T%d", i), Title: "t"},
		})
	}

	// A concurrent subscriber reads the map entry first, and only then
	// contends for the project lock. If the last session's Release runs in
	// between, that pointer is an orphan: pinning it would hand out a
	// snapshot at seq 3 while the next Apply restarts a fresh entry at 1.
	stale := s.get("p1")
	s.Release("p1")

	stale.mu.Lock()
	evicted := stale.evicted
	stale.mu.Unlock()
	if !evicted {
		t.Fatal("released project not marked evicted")
	}

	p, err := s.acquire(context.Background(), "p1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if p == stale {
		p.mu.Unlock()
		t.Fatal("acquire pinned the orphaned project object")
	}
	p.mu.Unlock()

	var snapSeq uint64
	if err := s.Sync(context.Background(), "p1", func(snap domain.Snapshot) error {
		snapSeq = snap.Seq
		return nil
	}); err != nil {
		t.Fatalf("resync: %v", err)
	}
	ev := mustApply(t, s, "p1", domain.CreateTask{Column: domain.ColumnTodo, Task: domain.Task{ID: "T4", Title: "t"}})
	if ev.Seq != snapSeq+1 {
		t.Fatalf("broadcast seq = %d after snapshot seq %d, want %d", ev.Seq, snapSeq, snapSeq+1)
	}
}
