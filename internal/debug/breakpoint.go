package debug

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target"
)

// Breakpoint is one enabled breakpoint. A breakpoint set on a line with
// no executable location carries no ID and no triggers; it installs
// nothing but reports where it would have been.
type Breakpoint struct {
	// ID is empty when nothing was installed.
	ID string

	Script script.ID
	Line   int

	// Triggers are the low-level location triggers backing this
	// breakpoint, one per executable location on the line.
	Triggers []target.TriggerID
}

// Installed reports how many executable locations the breakpoint is
// attached to.
func (b Breakpoint) Installed() int { return len(b.Triggers) }

// breakpointSet is the registry of enabled breakpoints. Callers hold
// the host lock.
type breakpointSet struct {
	nextID    int
	order     []string
	byID      map[string]*Breakpoint
	byTrigger map[target.TriggerID]*Breakpoint
}

func newBreakpointSet() *breakpointSet {
	return &breakpointSet{
		byID:      make(map[string]*Breakpoint),
		byTrigger: make(map[target.TriggerID]*Breakpoint),
	}
}

// add installs location triggers for every location and registers the
// resulting breakpoint. Zero locations yield an uninstalled breakpoint
// and no registry entry.
func (s *breakpointSet) add(proc target.Process, sid script.ID, line int, locs []target.Location) (Breakpoint, error) {
	bp := &Breakpoint{Script: sid, Line: line}
	if len(locs) == 0 {
		return *bp, nil
	}

	for _, loc := range locs {
		id, err := proc.SetLocationTrigger(loc)
		if err != nil {
			for _, t := range bp.Triggers {
				_ = proc.ClearTrigger(t)
			}
			return Breakpoint{Script: sid, Line: line}, fmt.Errorf("install location trigger: %w", err)
		}
		bp.Triggers = append(bp.Triggers, id)
	}

	s.nextID++
	bp.ID = fmt.Sprintf("bp-%d", s.nextID)
	s.order = append(s.order, bp.ID)
	s.byID[bp.ID] = bp
	for _, t := range bp.Triggers {
		s.byTrigger[t] = bp
	}
	return *bp, nil
}

// remove clears the breakpoint's triggers. Removing an unknown id is a
// no-op.
func (s *breakpointSet) remove(proc target.Process, id string) {
	bp, ok := s.byID[id]
	if !ok {
		return
	}
	for _, t := range bp.Triggers {
		_ = proc.ClearTrigger(t)
		delete(s.byTrigger, t)
	}
	delete(s.byID, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// removeAll clears every breakpoint.
func (s *breakpointSet) removeAll(proc target.Process) {
	for _, id := range slices.Clone(s.order) {
		s.remove(proc, id)
	}
}

// byTriggerID resolves the breakpoint a fired trigger belongs to.
func (s *breakpointSet) byTriggerID(id target.TriggerID) (*Breakpoint, bool) {
	bp, ok := s.byTrigger[id]
	return bp, ok
}

// list returns breakpoints in installation order.
func (s *breakpointSet) list() []Breakpoint {
	out := make([]Breakpoint, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}
