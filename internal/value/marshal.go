package value

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nitish854/ncdbg/internal/target"
)

var log = logrus.WithField("component", "value")

// idSeq mints process-unique object ids across all pauses.
var idSeq atomic.Int64

func nextObjectID() ObjectID {
	return ObjectID("obj-" + strconv.FormatInt(idSeq.Add(1), 10))
}

// Marshaller converts target values into nodes. It is bound to one
// pause: it caches nodes by native identity so the same reference
// always marshals to the same ObjectID, and it pins every reference it
// exposes so the target's collector cannot reclaim it while the handle
// is live. Release unpins everything not promoted to session lifetime.
//
// Safe for concurrent use.
type Marshaller struct {
	mu       sync.Mutex
	proc     target.Process
	retained *Retained

	byIdentity map[uint64]Node
	refs       map[ObjectID]target.ObjectRef
	kept       map[ObjectID]bool
	released   bool
}

// NewMarshaller returns a marshaller pinning through proc. retained may
// be nil when no session-lifetime promotion is needed.
func NewMarshaller(proc target.Process, retained *Retained) *Marshaller {
	return &Marshaller{
		proc:       proc,
		retained:   retained,
		byIdentity: make(map[uint64]Node),
		refs:       make(map[ObjectID]target.ObjectRef),
		kept:       make(map[ObjectID]bool),
	}
}

// Marshal converts one target value. Boxed scalars unwrap to their
// primitive; complex references get a stable ObjectID.
func (m *Marshaller) Marshal(v target.Value) Node {
	switch tv := v.(type) {
	case nil, target.Undefined, target.Null:
		return EmptyNode{}
	case target.Prim:
		return SimpleValue{Value: tv.Val}
	case target.ObjectRef:
		if tv.Boxed != nil {
			return m.Marshal(tv.Boxed)
		}
		return m.marshalRef(tv)
	default:
		log.Warnf("marshal: unhandled value type %T", v)
		return EmptyNode{}
	}
}

// Lazy returns a node that marshals fetch's result on first access.
func (m *Marshaller) Lazy(fetch func() target.Value) *LazyNode {
	return NewLazy(func() Node {
		return m.Marshal(fetch())
	})
}

func (m *Marshaller) marshalRef(ref target.ObjectRef) Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		// The pause ended under this call: mint a node no lookup can
		// resolve and pin nothing.
		return nodeForRef(nextObjectID(), ref)
	}

	if node, ok := m.byIdentity[ref.ID]; ok {
		return node
	}

	id := nextObjectID()
	if err := m.proc.PinObject(ref); err != nil {
		log.WithError(err).Warn("failed to pin object, handle may go stale")
	}

	node := nodeForRef(id, ref)
	m.byIdentity[ref.ID] = node
	m.refs[id] = ref
	return node
}

func nodeForRef(id ObjectID, ref target.ObjectRef) Node {
	switch ref.Class {
	case target.ClassArray:
		return ArrayNode{ID: id, Size: ref.Length}
	case target.ClassFunction:
		return FunctionNode{ID: id, Name: ref.Name, Source: ref.Source}
	case target.ClassDate:
		return DateNode{ID: id, Display: ref.Source}
	case target.ClassRegExp:
		return RegExpNode{ID: id, Pattern: ref.Source}
	case target.ClassError:
		ev := ErrorValue{ID: id}
		if ref.Exception != nil {
			ev.Data = exceptionData(*ref.Exception)
			ev.Native = ref.Exception.Native
		}
		return ev
	case target.ClassScope:
		return ScopeObject{ID: id, Name: ref.Name, Kind: ref.ScopeKind}
	default:
		return ObjectNode{ID: id}
	}
}

func exceptionData(info target.ExceptionInfo) ExceptionData {
	return ExceptionData{
		Message:    info.Message,
		TypeName:   info.TypeName,
		StackTrace: info.StackTrace,
		SourceName: info.SourceName,
		Line:       info.Line,
	}
}

// Ref resolves an ObjectID back to its target reference, consulting
// the session store for promoted ids.
func (m *Marshaller) Ref(id ObjectID) (target.ObjectRef, bool) {
	m.mu.Lock()
	ref, ok := m.refs[id]
	m.mu.Unlock()
	if ok {
		return ref, true
	}
	if m.retained != nil {
		return m.retained.Ref(id)
	}
	return target.ObjectRef{}, false
}

// Retain promotes id to session lifetime: its pin survives the pause
// and the id stays resolvable through the session store.
func (m *Marshaller) Retain(id ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	ref, ok := m.refs[id]
	if !ok {
		return
	}
	m.kept[id] = true
	if m.retained != nil {
		m.retained.put(id, ref)
	}
}

// Release unpins every reference this pause exposed, except promoted
// ones, and drops all caches. Marshalling afterwards yields nodes that
// resolve to nothing; Retain becomes a no-op.
func (m *Marshaller) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	for id, ref := range m.refs {
		if m.kept[id] {
			continue
		}
		if err := m.proc.UnpinObject(ref); err != nil {
			log.WithError(err).Debug("failed to unpin object")
		}
	}
	m.byIdentity = nil
	m.refs = nil
	m.kept = nil
}

// Retained is the session-lifetime store for promoted object ids. Ids
// land here when a pause's marshaller retains them (uncaught error
// payloads, most notably) and stay resolvable until Close.
type Retained struct {
	mu   sync.Mutex
	proc target.Process
	refs map[ObjectID]target.ObjectRef
}

// NewRetained returns an empty session store unpinning through proc.
func NewRetained(proc target.Process) *Retained {
	return &Retained{proc: proc, refs: make(map[ObjectID]target.ObjectRef)}
}

func (r *Retained) put(id ObjectID, ref target.ObjectRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[id] = ref
}

// Ref resolves a promoted id.
func (r *Retained) Ref(id ObjectID) (target.ObjectRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.refs[id]
	return ref, ok
}

// Close unpins every promoted reference.
func (r *Retained) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.refs {
		if err := r.proc.UnpinObject(ref); err != nil {
			log.WithError(err).Debug("failed to unpin retained object")
		}
	}
	r.refs = make(map[ObjectID]target.ObjectRef)
}
