// Package kanban computes task ordering on a four-column board.
//
// A Board holds, for each status column, the ordered list of task IDs. After
// any mutation, Cards renumbers every column so positions are consecutive
// integers starting at 0. Diff reports which rows actually need writing, so a
// drag touches only the cards whose column or position changed.
package kanban

import (
	"fmt"
	"sort"

	"github.com/23026475/trackit/internal/models"
)

// Card is the persisted placement of a task.
type Card struct {
	ID       string
	Status   models.TaskStatus
	Position int
}

// Board is the ordered set of task IDs per column.
type Board struct {
	columns map[models.TaskStatus][]string
}

// New returns an empty board with all columns present.
func New() *Board {
	b := &Board{columns: make(map[models.TaskStatus][]string, len(models.BoardColumns))}
	for _, s := range models.BoardColumns {
		b.columns[s] = nil
	}
	return b
}

// FromCards builds a board from stored placements. Cards are ordered by
// position, ties broken by ID, so a board with duplicate or sparse positions
// still has a deterministic order.
func FromCards(cards []Card) (*Board, error) {
	sorted := make([]Card, len(cards))
	copy(sorted, cards)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})

	b := New()
	seen := make(map[string]bool, len(sorted))
	for _, c := range sorted {
		if !c.Status.Valid() {
			return nil, fmt.Errorf("task %s has invalid status %q", c.ID, c.Status)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("task %s appears twice", c.ID)
		}
		seen[c.ID] = true
		b.columns[c.Status] = append(b.columns[c.Status], c.ID)
	}
	return b, nil
}

// Column returns the ordered IDs in a column.
func (b *Board) Column(status models.TaskStatus) []string {
	col := b.columns[status]
	out := make([]string, len(col))
	copy(out, col)
	return out
}

// Locate returns the column and index of a task.
func (b *Board) Locate(id string) (models.TaskStatus, int, bool) {
	for _, s := range models.BoardColumns {
		for i, cid := range b.columns[s] {
			if cid == id {
				return s, i, true
			}
		}
	}
	return "", 0, false
}

// Append places a task at the bottom of a column.
func (b *Board) Append(id string, status models.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	if _, _, ok := b.Locate(id); ok {
		return fmt.Errorf("task %s already on board", id)
	}
	b.columns[status] = append(b.columns[status], id)
	return nil
}

// Remove takes a task off the board. Returns false if it was not present.
func (b *Board) Remove(id string) bool {
	status, idx, ok := b.Locate(id)
	if !ok {
		return false
	}
	col := b.columns[status]
	b.columns[status] = append(col[:idx:idx], col[idx+1:]...)
	return true
}

// Move relocates a task to index within the target column. The index is
// interpreted against the target column with the task already removed and is
// clamped to [0, len]. Moving within the same column reorders it.
func (b *Board) Move(id string, to models.TaskStatus, index int) error {
	if !to.Valid() {
		return fmt.Errorf("invalid status %q", to)
	}
	if !b.Remove(id) {
		return fmt.Errorf("task %s not on board", id)
	}
	b.insert(id, to, index)
	return nil
}

// MoveNextTo places a task directly before or after an anchor task, taking
// the anchor's column.
func (b *Board) MoveNextTo(id, anchorID string, after bool) error {
	if id == anchorID {
		return fmt.Errorf("task %s cannot be placed next to itself", id)
	}
	if _, _, ok := b.Locate(anchorID); !ok {
		return fmt.Errorf("task %s not on board", anchorID)
	}
	if !b.Remove(id) {
		return fmt.Errorf("task %s not on board", id)
	}
	status, idx, _ := b.Locate(anchorID)
	if after {
		idx++
	}
	b.insert(id, status, idx)
	return nil
}

func (b *Board) insert(id string, to models.TaskStatus, index int) {
	col := b.columns[to]
	if index < 0 {
		index = 0
	}
	if index > len(col) {
		index = len(col)
	}
	col = append(col, "")
	copy(col[index+1:], col[index:])
	col[index] = id
	b.columns[to] = col
}

// Cards returns every placement with consecutive positions per column.
func (b *Board) Cards() []Card {
	var out []Card
	for _, s := range models.BoardColumns {
		for i, id := range b.columns[s] {
			out = append(out, Card{ID: id, Status: s, Position: i})
		}
	}
	return out
}

// Diff returns the cards in after whose status or position differs from
// before. Cards absent from before are always included.
func Diff(before []Card, after *Board) []Card {
	prev := make(map[string]Card, len(before))
	for _, c := range before {
		prev[c.ID] = c
	}
	var changed []Card
	for _, c := range after.Cards() {
		if p, ok := prev[c.ID]; ok && p.Status == c.Status && p.Position == c.Position {
			continue
		}
		changed = append(changed, c)
	}
	return changed
}
