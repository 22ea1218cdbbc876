// Package luavm is the reference debug target: an in-process gopher-lua
// VM exposed through the target.Process and target.Interaction
// contracts.
//
// gopher-lua has no native line hook, so the target instruments the
// script source before compiling it: every line that can begin a
// statement is prefixed with a call to a reserved hook function
// carrying its own line number. The rewrite never adds or removes
// lines, so positions reported by the VM match the original source.
// Lines the rewriter cannot prove to be statement starts are left
// alone; breakpoints on them never fire. Best effort by construction.
//
// # Architecture
//
//	┌─────────────┐  Events()/Resume()  ┌──────────────────────────┐
//	│ debug core   │◄───────────────────│ driver goroutine (Run)    │
//	│ (dispatch)   │                    │  PCall → hook → report    │
//	│              │───────────────────►│  parked: serves vmCalls   │
//	└─────────────┘  Frames/Evaluate/…  └──────────────────────────┘
//
// All LState access happens on the driver goroutine. When the hook
// reports a batch it parks on a channel and serves frame reads,
// evaluations, and property enumeration inline until every suspension
// has been lifted. Trigger bookkeeping, code unit tables, and the
// object registry are plain Go data guarded by a mutex and need no
// driver round trip.
//
// # Basic Usage
//
//	proc := luavm.New(luavm.WithConsole(printLine))
//	if _, err := proc.LoadScript("job.lua", source); err != nil {
//	    return err
//	}
//	host := debug.New(proc, proc, registry, hub)
//	go proc.Run()
//
// # Thread Safety
//
// Process methods are safe to call from any goroutine. Methods that
// touch the VM are only valid while the target is suspended and return
// target.ErrNotSuspended otherwise.
package luavm
