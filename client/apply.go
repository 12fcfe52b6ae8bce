package client

import (
	log "github.com/sirupsen/logrus"

	"github.com/molliey/taskboard/domain"
)

// applySnapshot replaces the replica wholesale. Applying the same snapshot
// twice yields the same state.
func (c *Client) applySnapshot(snap domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := &domain.Board{ProjectID: snap.ProjectID, Columns: snap.Columns}
	c.board = b.Clone()
	c.seq = snap.Seq
	c.synced = true
}

// applyEvent folds one incremental event into the replica. Events arriving
// before the snapshot, or already reflected in it, are ignored; a sequence
// gap marks the replica stale and asks the caller to resynchronize.
func (c *Client) applyEvent(ev domain.Event) (needResync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.synced {
		return false
	}
	if ev.Seq <= c.seq {
		return false
	}
	if ev.Seq != c.seq+1 {
		log.Warnf("sequence gap on project %s: have %d, got %d", ev.ProjectID, c.seq, ev.Seq)
		c.synced = false
		return true
	}
	switch ev.Type {
	case domain.EventTaskCreated:
		if ev.Renumbered {
			c.renumber(ev.Column)
		}
		c.insertTask(ev.Column, *ev.Task)
	case domain.EventTaskMoved:
		c.removeTask(ev.TaskID)
		if ev.Renumbered {
			c.renumber(ev.ToColumn)
		}
		c.insertTask(ev.ToColumn, *ev.Task)
	case domain.EventTaskUpdated:
		c.replaceTask(*ev.Task)
	case domain.EventTaskDeleted:
		c.removeTask(ev.TaskID)
	}
	c.seq = ev.Seq
	return false
}

// insertTask places t into the named column by ascending position, after
// any task with an equal position.
func (c *Client) insertTask(column string, t domain.Task) {
	col := c.board.Column(column)
	if col == nil {
		return
	}
	idx := len(col.Tasks)
	for i := range col.Tasks {
		if col.Tasks[i].Position > t.Position {
			idx = i
			break
		}
	}
	col.Tasks = append(col.Tasks, domain.Task{})
	copy(col.Tasks[idx+1:], col.Tasks[idx:])
	col.Tasks[idx] = t
}

func (c *Client) removeTask(taskID string) {
	column, idx, ok := c.board.FindTask(taskID)
	if !ok {
		return
	}
	col := c.board.Column(column)
	col.Tasks = append(col.Tasks[:idx], col.Tasks[idx+1:]...)
}

// renumber mirrors the server's deterministic rank renumbering: the named
// column's tasks are re-ranked 1..N in current order.
func (c *Client) renumber(column string) {
	col := c.board.Column(column)
	if col == nil {
		return
	}
	for i := range col.Tasks {
		col.Tasks[i].Position = float64(i + 1)
	}
}

func (c *Client) replaceTask(t domain.Task) {
	column, idx, ok := c.board.FindTask(t.ID)
	if !ok {
		return
	}
	c.board.Column(column).Tasks[idx] = t
}
