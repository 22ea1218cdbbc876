// Package frontend exposes the debugger to clients over the Debug
// Adapter Protocol.
//
// A Server accepts one client at a time, over TCP or an arbitrary
// duplex stream (stdio). Each connection becomes a session: a read
// loop answering DAP requests with debugger operations, and an event
// pump translating the debugger's outward notifications into DAP
// events.
//
// # Architecture
//
//	┌────────────┐  requests   ┌─────────────────────────┐
//	│ DAP client │────────────▶│ session                 │
//	│ (editor)   │◀────────────│  read loop → debug.Host │
//	└────────────┘  responses, │  event pump ← notify.Hub│
//	                events     └─────────────────────────┘
//
// Paused-state identities are session-scoped: object graph handles map
// to variablesReference integers and frame descriptors to DAP frame
// ids through a per-session table that is discarded when the target
// resumes. Handle integers are never reused within a session, so a
// stale client reference can only miss, not alias.
//
// # Session Lifecycle
//
// The client opens with initialize; the response advertises
// capabilities and the session begins forwarding debugger events,
// starting with the replayed initialized notification. Breakpoint
// configuration follows, then configurationDone starts target
// execution. A disconnect request (or a dropped connection) ends the
// session; unless the client asked to terminate the target, the
// debugger is reset so the next client starts clean.
//
// # Basic Usage
//
//	srv := frontend.New(host, hub, frontend.WithRunner(runScript))
//
//	ln, err := net.Listen("tcp", "127.0.0.1:4711")
//	if err != nil {
//		return err
//	}
//	if err := srv.Serve(ln); err != nil {
//		return err
//	}
//
// # Thread Safety
//
// Requests are handled sequentially on the session's read loop. The
// event pump runs concurrently and shares only the connection writer,
// which is serialized internally.
package frontend
