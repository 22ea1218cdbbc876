// Package script maintains the registry of scripts discovered in the
// debugged target and the two-way mapping between script-level
// positions and the target's executable locations.
//
// Code units arrive from initial enumeration and from code-load events,
// including units compiled while paused (the post-evaluation diff).
// Several code units can belong to one script: identity is decided by
// source name plus a content hash, so a function compiled inside an
// already known file joins that file's script instead of minting a new
// one.
package script

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nitish854/ncdbg/internal/target"
)

// ID identifies a registered script. IDs are assigned in observation
// order and never reused within a session.
type ID int

// Position is a script-level source position.
type Position struct {
	Script ID
	Line   int
}

// Script describes one registered script.
type Script struct {
	ID ID

	// Name is the source name the target reported, typically a path.
	Name string

	// Hash is a short content hash of the source text.
	Hash string

	// Source is the full source text.
	Source string

	// Lines are the breakable source lines, ascending.
	Lines []int
}

// Option configures a Registry.
type Option func(*Registry)

// WithPauseMatcher installs the predicate that decides whether a source
// line holds an in-script pause statement. Without one, no line is ever
// reported as a pause statement.
func WithPauseMatcher(match func(lineText string) bool) Option {
	return func(r *Registry) { r.pauseMatch = match }
}

// Registry implements the scanner collaborator. All methods are safe
// for concurrent use. Lookups that miss return empty results, never
// errors.
type Registry struct {
	mu         sync.RWMutex
	pauseMatch func(string) bool

	nextID  ID
	byKey   map[string]*entry         // name+hash -> script
	byID    map[ID]*entry             // script id -> script
	byCode  map[target.CodeRef]*entry // code unit -> owning script
	seen    map[target.CodeRef]bool
}

type entry struct {
	script     Script
	lineLocs   map[int][]target.Location // source line -> executable locations
	pauseLines map[int]bool
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		nextID: 1,
		byKey:  make(map[string]*entry),
		byID:   make(map[ID]*entry),
		byCode: make(map[target.CodeRef]*entry),
		seen:   make(map[target.CodeRef]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers one code unit. It returns the owning script and
// whether that script is newly registered by this call. Re-observing a
// known unit is a no-op.
func (r *Registry) Observe(ref target.CodeRef, info target.CodeInfo) (Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byCode[ref]; ok {
		return e.script, false
	}

	key := info.Name + "\x00" + hashSource(info.Source)
	e, ok := r.byKey[key]
	created := false
	if !ok {
		e = &entry{
			script: Script{
				ID:     r.nextID,
				Name:   info.Name,
				Hash:   hashSource(info.Source),
				Source: info.Source,
			},
			lineLocs:   make(map[int][]target.Location),
			pauseLines: make(map[int]bool),
		}
		r.nextID++
		r.byKey[key] = e
		r.byID[e.script.ID] = e
		r.markPauseLines(e, info.Source)
		created = true
	}

	r.byCode[ref] = e
	r.seen[ref] = true
	for _, loc := range info.Lines {
		e.lineLocs[loc.Line] = append(e.lineLocs[loc.Line], loc)
	}
	e.script.Lines = sortedLines(e.lineLocs)
	return e.script, created
}

// Observed reports whether ref has already been registered.
func (r *Registry) Observed(ref target.CodeRef) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen[ref]
}

// ByID returns the script with the given id.
func (r *Registry) ByID(id ID) (Script, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Script{}, false
	}
	return e.script, true
}

// ByName returns the script most recently registered under name.
func (r *Registry) ByName(name string) (Script, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entry
	for _, e := range r.byID {
		if e.script.Name != name {
			continue
		}
		if best == nil || e.script.ID > best.script.ID {
			best = e
		}
	}
	if best == nil {
		return Script{}, false
	}
	return best.script, true
}

// Scripts returns all registered scripts in id order.
func (r *Registry) Scripts() []Script {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := maps.Keys(r.byID)
	slices.Sort(ids)
	out := make([]Script, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id].script)
	}
	return out
}

// LocationsForLine resolves a script line to its executable locations.
// An unknown script or a line with no executable code yields nil.
func (r *Registry) LocationsForLine(id ID, line int) []target.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil
	}
	locs := e.lineLocs[line]
	out := make([]target.Location, len(locs))
	copy(out, locs)
	return out
}

// PositionFor maps an executable location back to a script position.
func (r *Registry) PositionFor(loc target.Location) (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byCode[loc.Code]
	if !ok {
		return Position{}, false
	}
	return Position{Script: e.script.ID, Line: loc.Line}, true
}

// IsPauseLine reports whether the given script line holds an in-script
// pause statement.
func (r *Registry) IsPauseLine(id ID, line int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	return e.pauseLines[line]
}

func (r *Registry) markPauseLines(e *entry, source string) {
	if r.pauseMatch == nil {
		return
	}
	for i, line := range strings.Split(source, "\n") {
		if r.pauseMatch(line) {
			e.pauseLines[i+1] = true
		}
	}
}

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:8])
}

func sortedLines(lineLocs map[int][]target.Location) []int {
	lines := maps.Keys(lineLocs)
	slices.Sort(lines)
	return lines
}
