package board

import "github.com/molliey/taskboard/domain"

const (
	// baseRank is assigned to the first task of an empty column.
	baseRank = 1.0
	// minRankGap is the renormalization threshold: when the gap between
	// the would-be neighbors drops below it, the whole column is
	// renumbered 1..N by current order before inserting.
	minRankGap = 1e-6
)

// appendRank returns the rank for a task appended to the end of col.
func appendRank(col *domain.Column) float64 {
	if len(col.Tasks) == 0 {
		return baseRank
	}
	return col.Tasks[len(col.Tasks)-1].Position + 1
}

// insertRank computes a rank strictly between the neighbors of insertion
// index idx, renumbering the column first when fractional precision is
// exhausted. idx is clamped to [0, len(col.Tasks)]. The renumbered result
// is reported so the broadcast event can instruct replicas to mirror it.
func insertRank(col *domain.Column, idx int) (rank float64, renumbered bool) {
	if idx < 0 {
		idx = 0
	}
	if idx >= len(col.Tasks) {
		return appendRank(col), false
	}
	if idx == 0 {
		if col.Tasks[0].Position < minRankGap {
			renumber(col)
			renumbered = true
		}
		return col.Tasks[0].Position / 2, renumbered
	}
	if col.Tasks[idx].Position-col.Tasks[idx-1].Position < minRankGap {
		renumber(col)
		renumbered = true
	}
	return (col.Tasks[idx-1].Position + col.Tasks[idx].Position) / 2, renumbered
}

// renumber rewrites the column's ranks to 1..N in current order.
func renumber(col *domain.Column) {
	for i := range col.Tasks {
		col.Tasks[i].Position = float64(i + 1)
	}
}

// insertIndexForRank returns the slice index at which a task with the given
// rank belongs. Equal ranks sort after existing ones, so ties are broken by
// insertion order.
func insertIndexForRank(col *domain.Column, rank float64) int {
	for i := range col.Tasks {
		if col.Tasks[i].Position > rank {
			return i
		}
	}
	return len(col.Tasks)
}

// insertTask places t into col at index idx.
func insertTask(col *domain.Column, idx int, t domain.Task) {
	if idx < 0 {
		idx = 0
	}
	if idx > len(col.Tasks) {
		idx = len(col.Tasks)
	}
	col.Tasks = append(col.Tasks, domain.Task{})
	copy(col.Tasks[idx+1:], col.Tasks[idx:])
	col.Tasks[idx] = t
}

// removeTask removes the task at index idx from col and returns it.
func removeTask(col *domain.Column, idx int) domain.Task {
	t := col.Tasks[idx]
	col.Tasks = append(col.Tasks[:idx], col.Tasks[idx+1:]...)
	return t
}
