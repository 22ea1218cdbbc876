// Package debug implements the debugger core: the event dispatcher
// with its pause/resume controller, the breakpoint and step state
// machine, the paused-state snapshot, and the operations a front end
// calls while the target is suspended.
//
// # Architecture
//
//	                 ┌────────────────────────────────────┐
//	  target.Batch   │               Host                 │
//	  ─────────────▶ │  dispatch loop (single goroutine)  │
//	                 │   ├─ per-trigger handlers (steps)  │
//	                 │   ├─ breakpoint classification     │
//	                 │   └─ exception classification      │
//	                 └──────────────┬─────────────────────┘
//	                                │ pause decision
//	                                ▼
//	                 ┌────────────────────────────────────┐
//	                 │           PausedContext            │
//	                 │  marshaller + extractor per pause  │
//	                 │  lazy frame list, property cache   │
//	                 └──────────────┬─────────────────────┘
//	                                │ outward events
//	                                ▼
//	                          notify.Hub (async)
//
// # Dispatch Semantics
//
// Batches resolve atomically: every event in a batch is classified
// before the target is resumed, and the target resumes only when no
// event asked to pause. While a pause is active, new pause-worthy
// events are acknowledged and ignored; code-load events are still
// forwarded to the script registry. An internal error while handling
// one event logs and counts as a resume vote, never as a crash.
//
// # Basic Usage
//
//	host := debug.New(proc, interact, registry, hub)
//	host.Start()
//	defer host.Close()
//
//	bp, err := host.SetBreakpoint("main.lua", 12)
//	// ... front end drives Resume / Step / Evaluate ...
//	<-host.Done()
//
// # Thread Safety
//
// Client operations (evaluate, inspect, resume, breakpoints) are safe
// to call concurrently with dispatch. They snapshot the current
// PausedContext, and every operation on a context whose pause has
// ended fails with ErrNotPaused, so "pause ended while I was working"
// is an ordinary detectable condition rather than a race.
package debug
