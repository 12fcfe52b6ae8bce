package board

import (
	"testing"

	"github.com/molliey/taskboard/domain"
)

func columnWithRanks(ranks ...float64) *domain.Column {
	col := &domain.Column{Name: domain.ColumnTodo, Tasks: make([]domain.Task, len(ranks))}
	for i, r := range ranks {
		col.Tasks[i] = domain.Task{ID: string(rune('a' + i)), Position: r}
	}
	return col
}

func TestAppendRank(t *testing.T) {
	if got := appendRank(columnWithRanks()); got != 1 {
		t.Fatalf("empty column append rank = %v, want 1", got)
	}
	if got := appendRank(columnWithRanks(1, 2.5)); got != 3.5 {
		t.Fatalf("append rank = %v, want 3.5", got)
	}
}

func TestInsertRankMidpoint(t *testing.T) {
	col := columnWithRanks(1, 2)
	rank, renumbered := insertRank(col, 1)
	if renumbered {
		t.Fatal("unexpected renumbering")
	}
	if rank != 1.5 {
		t.Fatalf("rank = %v, want 1.5", rank)
	}
}

func TestInsertRankHead(t *testing.T) {
	col := columnWithRanks(4)
	rank, renumbered := insertRank(col, 0)
	if renumbered {
		t.Fatal("unexpected renumbering")
	}
	if rank != 2 {
		t.Fatalf("rank = %v, want 2", rank)
	}
}

func TestInsertRankClampsIndex(t *testing.T) {
	col := columnWithRanks(1, 2)
	if rank, _ := insertRank(col, 99); rank != 3 {
		t.Fatalf("past-end rank = %v, want 3", rank)
	}
	if rank, _ := insertRank(col, -5); rank != 0.5 {
		t.Fatalf("negative index rank = %v, want 0.5", rank)
	}
}

func TestInsertRankRenumbersWhenGapExhausted(t *testing.T) {
	col := columnWithRanks(1, 1+1e-9, 2)
	rank, renumbered := insertRank(col, 1)
	if !renumbered {
		t.Fatal("expected renumbering")
	}
	// After renumbering the ranks are 1, 2, 3; the insert goes between
	// the first two.
	if rank != 1.5 {
		t.Fatalf("rank = %v, want 1.5", rank)
	}
	want := []float64{1, 2, 3}
	for i, w := range want {
		if col.Tasks[i].Position != w {
			t.Fatalf("task %d rank = %v, want %v", i, col.Tasks[i].Position, w)
		}
	}
}

func TestInsertRankRenumbersAtHead(t *testing.T) {
	col := columnWithRanks(1e-9, 1)
	rank, renumbered := insertRank(col, 0)
	if !renumbered {
		t.Fatal("expected renumbering")
	}
	if rank != 0.5 {
		t.Fatalf("rank = %v, want 0.5", rank)
	}
}

func TestRepeatedHeadInsertsStayOrdered(t *testing.T) {
	col := columnWithRanks()
	for i := 0; i < 60; i++ {
		rank, _ := insertRank(col, 0)
		insertTask(col, 0, domain.Task{ID: string(rune(i)), Position: rank})
	}
	for i := 1; i < len(col.Tasks); i++ {
		if col.Tasks[i-1].Position >= col.Tasks[i].Position {
			t.Fatalf("ranks not strictly increasing at %d: %v >= %v", i, col.Tasks[i-1].Position, col.Tasks[i].Position)
		}
	}
}

func TestInsertIndexForRankTiesAppendLast(t *testing.T) {
	col := columnWithRanks(1, 2, 3)
	if idx := insertIndexForRank(col, 2); idx != 2 {
		t.Fatalf("tie index = %d, want 2", idx)
	}
	if idx := insertIndexForRank(col, 10); idx != 3 {
		t.Fatalf("past-end index = %d, want 3", idx)
	}
}
