package frontend

import (
	"sync"

	"github.com/nitish854/ncdbg/internal/debug"
	"github.com/nitish854/ncdbg/internal/value"
)

// refTable maps the protocol's integer handles onto pause-scoped
// identities: variablesReference to object handle, DAP frame id to
// frame descriptor. The table empties when the target resumes, but the
// counter never rewinds, so a handle from an ended pause can only
// miss, never alias a new identity.
type refTable struct {
	mu      sync.Mutex
	nextRef int

	objByRef map[int]value.ObjectID
	refByObj map[value.ObjectID]int

	frameByRef map[int]debug.FrameID
	refByFrame map[debug.FrameID]int

	// scopeFrames links a local-scope reference to its frame, for
	// variable assignment.
	scopeFrames map[int]debug.FrameID
}

func newRefTable() *refTable {
	t := &refTable{}
	t.resetLocked()
	return t
}

func (t *refTable) resetLocked() {
	t.objByRef = make(map[int]value.ObjectID)
	t.refByObj = make(map[value.ObjectID]int)
	t.frameByRef = make(map[int]debug.FrameID)
	t.refByFrame = make(map[debug.FrameID]int)
	t.scopeFrames = make(map[int]debug.FrameID)
}

// reset drops every handle. Called when the target resumes.
func (t *refTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// varRef returns the stable reference for an object handle, assigning
// one on first sight.
func (t *refTable) varRef(id value.ObjectID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ref, ok := t.refByObj[id]; ok {
		return ref
	}
	t.nextRef++
	t.objByRef[t.nextRef] = id
	t.refByObj[id] = t.nextRef
	return t.nextRef
}

func (t *refTable) object(ref int) (value.ObjectID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.objByRef[ref]
	return id, ok
}

func (t *refTable) frameRef(id debug.FrameID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ref, ok := t.refByFrame[id]; ok {
		return ref
	}
	t.nextRef++
	t.frameByRef[t.nextRef] = id
	t.refByFrame[id] = t.nextRef
	return t.nextRef
}

func (t *refTable) frame(ref int) (debug.FrameID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.frameByRef[ref]
	return id, ok
}

func (t *refTable) bindScopeFrame(ref int, id debug.FrameID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scopeFrames[ref] = id
}

func (t *refTable) scopeFrame(ref int) (debug.FrameID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.scopeFrames[ref]
	return id, ok
}
