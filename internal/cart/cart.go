// Package cart holds not-yet-submitted order lines for one session. The
// store is process-local and ephemeral; a JSON snapshot per session keeps
// unsent lines alive across a restart.
package cart

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mesa-pos/api/internal/database"
)

// Line is a client-local pending line. Identity is the generated ID;
// merge identity among unsent lines is (Name, ComposedSelection).
type Line struct {
	ID                string                     `json:"id"`
	Name              string                     `json:"name"`
	UnitPrice         decimal.Decimal            `json:"unit_price"`
	Quantity          int32                      `json:"quantity"`
	Note              string                     `json:"note,omitempty"`
	ComposedSelection database.ComposedSelection `json:"composed_selection,omitempty"`
	Sent              bool                       `json:"sent"`
}

func (l Line) mergeKey() string {
	return l.Name + "\x00" + l.ComposedSelection.Key()
}

// Store is the cart for a single session.
type Store struct {
	mu           sync.Mutex
	lines        []Line
	total        decimal.Decimal
	snapshotPath string // empty disables persistence
}

// NewStore creates a Store, restoring a previous snapshot when one exists.
// A missing or corrupt snapshot loads as an empty cart.
func NewStore(snapshotPath string) *Store {
	s := &Store{snapshotPath: snapshotPath, total: decimal.Zero}
	s.load()
	return s
}

// Add merges the line into an existing unsent line with the same
// (name, composed selection), or inserts it with a fresh id. Returns the
// resulting line.
func (s *Store) Add(line Line) Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line.Quantity < 1 {
		line.Quantity = 1
	}
	key := line.mergeKey()
	for i := range s.lines {
		if !s.lines[i].Sent && s.lines[i].mergeKey() == key {
			s.lines[i].Quantity += line.Quantity
			s.afterMutation()
			return s.lines[i]
		}
	}
	line.ID = uuid.NewString()
	line.Sent = false
	s.lines = append(s.lines, line)
	s.afterMutation()
	return line
}

// UpdateQuantity replaces the line's quantity; qty <= 0 removes the line.
// No-op when the id is unknown.
func (s *Store) UpdateQuantity(id string, qty int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(id, &qty, nil)
}

// UpdateNote replaces the line's note. No-op when the id is unknown.
func (s *Store) UpdateNote(id, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(id, nil, &note)
}

// Update replaces quantity and note together.
func (s *Store) Update(id string, qty int32, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(id, &qty, &note)
}

func (s *Store) updateLocked(id string, qty *int32, note *string) {
	for i := range s.lines {
		if s.lines[i].ID != id {
			continue
		}
		if qty != nil {
			if *qty <= 0 {
				s.lines = append(s.lines[:i], s.lines[i+1:]...)
				s.afterMutation()
				return
			}
			s.lines[i].Quantity = *qty
		}
		if note != nil {
			s.lines[i].Note = *note
		}
		s.afterMutation()
		return
	}
}

// Remove deletes the line regardless of sent state. Removing a sent line
// is local cleanup only; the durable order is untouched.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].ID == id {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			s.afterMutation()
			return
		}
	}
}

// Get returns the line with the given id.
func (s *Store) Get(id string) (Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.ID == id {
			return l, true
		}
	}
	return Line{}, false
}

// Pending returns the unsent lines in insertion order.
func (s *Store) Pending() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Line
	for _, l := range s.lines {
		if !l.Sent {
			out = append(out, l)
		}
	}
	return out
}

// Lines returns a copy of all lines.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// MarkAllPendingSent flips every unsent line to sent. Called right after a
// successful push to the ledger so a retry never double-sends.
func (s *Store) MarkAllPendingSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		s.lines[i].Sent = true
	}
	s.afterMutation()
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.afterMutation()
}

// Total is the cached sum of unit_price*quantity over all current lines.
// It is recomputed inside every mutation, never left stale.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) afterMutation() {
	total := decimal.Zero
	for _, l := range s.lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity)))
	}
	s.total = total
	s.save()
}

// --- snapshot persistence ---

type snapshot struct {
	Lines []Line `json:"lines"`
}

func (s *Store) load() {
	if s.snapshotPath == "" {
		return
	}
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("cart snapshot %s corrupt, starting empty: %v", s.snapshotPath, err)
		return
	}
	s.lines = snap.Lines
	total := decimal.Zero
	for _, l := range s.lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity)))
	}
	s.total = total
}

func (s *Store) save() {
	if s.snapshotPath == "" {
		return
	}
	data, err := json.Marshal(snapshot{Lines: s.lines})
	if err != nil {
		log.Printf("ERROR: marshal cart snapshot: %v", err)
		return
	}
	if err := os.WriteFile(s.snapshotPath, data, 0o644); err != nil {
		log.Printf("ERROR: write cart snapshot %s: %v", s.snapshotPath, err)
	}
}
