package engine

import (
	"fmt"
	"math"
	"sort"
)

// Sample is the last known position of an identity
type Sample struct {
	Center Point `json:"center"`
	Frame  int   `json:"frame"`
}

// Session is the per-run state shared by every rule: the global
// at-most-one-violation-per-identity set and the position map.
// A Session is owned by one goroutine; it is not safe for concurrent use.
type Session struct {
	ID        string
	violated  map[string]struct{}
	positions map[string]Sample
}

// NewSession creates an empty session
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		violated:  make(map[string]struct{}),
		positions: make(map[string]Sample),
	}
}

// HasViolated reports whether identity already produced a violation
func (s *Session) HasViolated(identity string) bool {
	_, ok := s.violated[identity]
	return ok
}

// MarkViolated adds identity to the exclusion set.
// It returns false if the identity was already present.
func (s *Session) MarkViolated(identity string) bool {
	if s.HasViolated(identity) {
		return false
	}
	s.violated[identity] = struct{}{}
	return true
}

// ViolatedCount returns the size of the exclusion set
func (s *Session) ViolatedCount() int {
	return len(s.violated)
}

// Violated returns the excluded identities in sorted order
func (s *Session) Violated() []string {
	ids := make([]string, 0, len(s.violated))
	for id := range s.violated {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdatePosition overwrites the single retained sample for identity
func (s *Session) UpdatePosition(identity string, center Point, frame int) {
	s.positions[identity] = Sample{Center: center, Frame: frame}
}

// Previous returns the retained sample for identity
func (s *Session) Previous(identity string) (Sample, bool) {
	sample, ok := s.positions[identity]
	return sample, ok
}

// TrackedCount returns the number of identities with a retained sample
func (s *Session) TrackedCount() int {
	return len(s.positions)
}

// IdentityResolver derives positional identities from a grid.
// Two vehicles of the same type in one cell share an identity and a vehicle
// that crosses a cell boundary gets a new one; IoU association or a Kalman
// tracker would replace this.
type IdentityResolver struct {
	CellSize float64
}

// NewIdentityResolver creates a resolver with the given grid cell size
func NewIdentityResolver(cellSize float64) IdentityResolver {
	return IdentityResolver{CellSize: cellSize}
}

// Resolve returns type_col_row for the cell holding the bbox top-left corner
func (r IdentityResolver) Resolve(class Class, box BBox) string {
	col := int(math.Floor(box.X1 / r.CellSize))
	row := int(math.Floor(box.Y1 / r.CellSize))
	return fmt.Sprintf("%s_%d_%d", class, col, row)
}
