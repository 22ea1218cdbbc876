package debug

import (
	"fmt"
	"sync"

	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

// FrameID identifies one stack frame descriptor of one pause.
type FrameID string

// Frame describes one frame of the paused thread's stack.
type Frame struct {
	ID FrameID

	// Name is the function name, when the target knows one.
	Name string

	// This is the receiver value, marshalled on first access.
	This *value.LazyNode

	// Scopes is the scope chain, innermost first.
	Scopes []value.ScopeObject

	// Position is the script position; HasPosition is false for
	// frames belonging to runtime machinery outside any known script.
	// Such frames still appear so stack depth stays accurate.
	Position    script.Position
	HasPosition bool

	// AtPauseStatement reports whether the frame sits on an in-script
	// pause statement.
	AtPauseStatement bool

	native target.FrameRef
}

// Property is one enumerated property of an object. Accessor
// properties carry their getter's result; a failing getter degrades to
// a diagnostic string value.
type Property struct {
	Name     string
	Value    value.Node
	Writable bool
	IsOwn    bool
}

type propsKey struct {
	id            value.ObjectID
	ownOnly       bool
	accessorsOnly bool
}

// PausedContext is the snapshot of one pause. It is created when the
// dispatcher decides to pause and destroyed on resume; at most one
// exists at a time. Consumers read and mutate paused state only
// through it, and a context whose pause has ended fails every
// operation with ErrNotPaused rather than racing the resume.
type PausedContext struct {
	thread target.ThreadRef
	reason notify.PauseReason

	// loc is the event location that caused the pause; pos is its
	// script mapping when one exists.
	loc    target.Location
	pos    script.Position
	hasPos bool

	// errPayload carries the marshalled exception for exception
	// pauses; uncaught marks payloads that will propagate out of the
	// script.
	errPayload value.Node
	uncaught   bool

	marshaller *value.Marshaller
	extractor  *value.Extractor

	// baseline is the set of code units loaded at suspend time. Units
	// appearing after (compiled during in-pause evaluation) are
	// reconciled with the script registry when the pause ends.
	baseline map[target.CodeRef]bool

	mu     sync.Mutex
	done   bool
	frames []*Frame
	props  map[propsKey][]Property
}

// ended reports whether the pause is over.
func (c *PausedContext) ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// finish marks the pause over and lifts the reclamation suppression of
// every value it exposed, except promoted ones.
func (c *PausedContext) finish() {
	c.mu.Lock()
	c.done = true
	c.frames = nil
	c.props = nil
	c.mu.Unlock()
	c.marshaller.Release()
}

// Frames returns the frame descriptors, innermost first, building them
// on first access.
func (c *PausedContext) Frames(h *Host) ([]*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil, ErrNotPaused
	}
	if c.frames == nil {
		frames, err := c.buildFrames(h)
		if err != nil {
			return nil, err
		}
		c.frames = frames
	}
	out := make([]*Frame, len(c.frames))
	copy(out, c.frames)
	return out, nil
}

func (c *PausedContext) buildFrames(h *Host) ([]*Frame, error) {
	native, err := h.proc.Frames(c.thread)
	if err != nil {
		return nil, fmt.Errorf("read stack: %w", err)
	}

	frames := make([]*Frame, 0, len(native))
	for _, nf := range native {
		frame := &Frame{
			ID:     h.nextFrameID(),
			Name:   nf.Name,
			native: nf,
		}
		if pos, ok := h.scripts.PositionFor(nf.Location); ok {
			frame.Position = pos
			frame.HasPosition = true
			frame.AtPauseStatement = h.scripts.IsPauseLine(pos.Script, pos.Line)
		}
		this := nf.This
		frame.This = c.marshaller.Lazy(func() target.Value { return this })

		scopes, err := h.proc.FrameScopes(nf)
		if err != nil {
			log.WithError(err).Warn("failed to read frame scopes")
		}
		for _, s := range scopes {
			node := c.marshaller.Marshal(s.Object)
			sc, ok := node.(value.ScopeObject)
			if !ok {
				log.Warnf("scope marshalled to %T, skipping", node)
				continue
			}
			frame.Scopes = append(frame.Scopes, sc)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// frameByID resolves a frame of this pause. Frames must have been
// built.
func (c *PausedContext) frameByID(id FrameID) (*Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// invalidateFrames drops the cached frame list so the next access
// rebuilds it, after restart-frame changed the native stack.
func (c *PausedContext) invalidateFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// properties enumerates an object's properties, serving repeated
// requests from the per-pause cache when the object is a script-domain
// value. Host-runtime objects are never cached: they can mutate
// concurrently on threads the pause does not stop.
func (c *PausedContext) properties(h *Host, id value.ObjectID, ownOnly, accessorsOnly bool) ([]Property, error) {
	ref, ok := c.marshaller.Ref(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	key := propsKey{id: id, ownOnly: ownOnly, accessorsOnly: accessorsOnly}
	cacheable := ref.Class != target.ClassHost

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil, ErrNotPaused
	}
	if cacheable {
		if cached, ok := c.props[key]; ok {
			c.mu.Unlock()
			return cached, nil
		}
	}
	c.mu.Unlock()

	descs, err := h.inter.OwnProperties(ref, ownOnly, accessorsOnly)
	if err != nil {
		log.WithError(err).Warn("property enumeration failed")
		return nil, nil
	}

	props := make([]Property, 0, len(descs))
	for _, d := range descs {
		props = append(props, Property{
			Name:     d.Name,
			Value:    c.propertyValue(h, d, ref),
			Writable: d.Writable || (d.Kind == target.AccessorProperty && d.Setter != nil),
			IsOwn:    d.IsOwn,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil, ErrNotPaused
	}
	if cacheable {
		if c.props == nil {
			c.props = make(map[propsKey][]Property)
		}
		c.props[key] = props
	}
	return props, nil
}

func (c *PausedContext) propertyValue(h *Host, d target.PropertyDescriptor, owner target.ObjectRef) value.Node {
	if d.Kind == target.DataProperty {
		return c.marshaller.Marshal(d.Value)
	}
	if d.Getter == nil {
		return value.EmptyNode{}
	}
	v, err := h.inter.InvokeGetter(c.thread, *d.Getter, owner)
	if err != nil {
		return value.SimpleValue{Value: fmt.Sprintf("<getter error: %s>", err)}
	}
	return c.marshaller.Marshal(v)
}
