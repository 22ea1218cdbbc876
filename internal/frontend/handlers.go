package frontend

import (
	"encoding/json"
	"errors"

	"github.com/google/go-dap"
	"github.com/tidwall/gjson"

	"github.com/nitish854/ncdbg/internal/debug"
	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target"
	"github.com/nitish854/ncdbg/internal/value"
)

// Exception breakpoint filters advertised through capabilities.
const (
	exceptionFilterUncaught = "uncaught"
	exceptionFilterCaught   = "caught"
)

func (sess *session) onInitialize(req *dap.InitializeRequest) {
	resp := &dap.InitializeResponse{Response: newResponse(req.Request)}
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsSetVariable:              true,
		SupportsRestartFrame:             true,
		SupportsEvaluateForHovers:        true,
		SupportsLoadedSourcesRequest:     true,
		ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
			{Filter: exceptionFilterUncaught, Label: "Uncaught script errors", Default: true},
			{Filter: exceptionFilterCaught, Label: "All script errors"},
		},
	}
	sess.send(resp)
	sess.startPump()
}

// onLaunch acknowledges the launch. The target and its script are fixed
// when the debugger starts, so the arguments only cross-check the
// client's expectation; execution begins at configurationDone.
func (sess *session) onLaunch(req *dap.LaunchRequest) {
	if prog := gjson.GetBytes(req.Arguments, "program"); prog.Exists() {
		if _, ok := sess.host.ScriptByName(prog.String()); !ok {
			log.WithField("program", prog.String()).Debug("launch names a script the target did not load")
		}
	}
	if gjson.GetBytes(req.Arguments, "stopOnEntry").Bool() {
		log.Debug("stopOnEntry requested; not supported, ignoring")
	}
	sess.send(&dap.LaunchResponse{Response: newResponse(req.Request)})
}

func (sess *session) onAttach(req *dap.AttachRequest) {
	sess.send(&dap.AttachResponse{Response: newResponse(req.Request)})
}

func (sess *session) onConfigurationDone(req *dap.ConfigurationDoneRequest) {
	sess.send(&dap.ConfigurationDoneResponse{Response: newResponse(req.Request)})
	sess.server.startTarget()
}

// onSetBreakpoints applies replace-all semantics per source: breakpoints
// previously set in the named script and absent from the request are
// removed.
func (sess *session) onSetBreakpoints(req *dap.SetBreakpointsRequest) {
	resp := &dap.SetBreakpointsResponse{Response: newResponse(req.Request)}
	results := make([]dap.Breakpoint, len(req.Arguments.Breakpoints))

	sc, ok := sess.findScript(req.Arguments.Source)
	if !ok {
		for i, want := range req.Arguments.Breakpoints {
			results[i] = dap.Breakpoint{Verified: false, Line: want.Line, Message: "unknown script"}
		}
		resp.Body.Breakpoints = results
		sess.send(resp)
		return
	}

	for _, bp := range sess.host.Breakpoints() {
		if bp.Script == sc.ID {
			sess.host.RemoveBreakpoint(bp.ID)
		}
	}

	src := sourceFor(sc)
	for i, want := range req.Arguments.Breakpoints {
		bp, err := sess.host.SetBreakpoint(sc.ID, want.Line)
		if err != nil {
			results[i] = dap.Breakpoint{Verified: false, Line: want.Line, Message: err.Error()}
			continue
		}
		results[i] = dap.Breakpoint{Verified: bp.Installed() > 0, Line: want.Line, Source: &src}
		if bp.ID != "" {
			results[i].Id = sess.breakpointRef(bp.ID)
		} else {
			results[i].Message = "no executable code on line"
		}
	}
	resp.Body.Breakpoints = results
	sess.send(resp)
}

func (sess *session) onSetExceptionBreakpoints(req *dap.SetExceptionBreakpointsRequest) {
	mode := debug.ExceptionsNever
	for _, f := range req.Arguments.Filters {
		switch f {
		case exceptionFilterCaught:
			mode = debug.ExceptionsAll
		case exceptionFilterUncaught:
			if mode != debug.ExceptionsAll {
				mode = debug.ExceptionsUncaught
			}
		}
	}
	sess.host.SetExceptionPauseMode(mode)
	sess.send(&dap.SetExceptionBreakpointsResponse{Response: newResponse(req.Request)})
}

func (sess *session) onThreads(req *dap.ThreadsRequest) {
	resp := &dap.ThreadsResponse{Response: newResponse(req.Request)}
	resp.Body.Threads = []dap.Thread{sess.currentThread()}
	sess.send(resp)
}

func (sess *session) onStackTrace(req *dap.StackTraceRequest) {
	frames, err := sess.host.Frames()
	if err != nil {
		sess.sendHostError(req.Request, err)
		return
	}

	total := len(frames)
	start := req.Arguments.StartFrame
	if start < 0 || start > total {
		start = total
	}
	end := total
	if req.Arguments.Levels > 0 && start+req.Arguments.Levels < total {
		end = start + req.Arguments.Levels
	}

	out := make([]dap.StackFrame, 0, end-start)
	for _, f := range frames[start:end] {
		sf := dap.StackFrame{Id: sess.refs.frameRef(f.ID), Name: f.Name}
		if sf.Name == "" {
			sf.Name = "(anonymous)"
		}
		if f.HasPosition {
			sf.Line = f.Position.Line
			if sc, ok := sess.host.Script(f.Position.Script); ok {
				src := sourceFor(sc)
				sf.Source = &src
			}
		}
		out = append(out, sf)
	}

	resp := &dap.StackTraceResponse{Response: newResponse(req.Request)}
	resp.Body = dap.StackTraceResponseBody{StackFrames: out, TotalFrames: total}
	sess.send(resp)
}

func (sess *session) onScopes(req *dap.ScopesRequest) {
	frame, err := sess.frameFor(req.Arguments.FrameId)
	if err != nil {
		sess.sendHostError(req.Request, err)
		return
	}

	scopes := make([]dap.Scope, 0, len(frame.Scopes)+1)
	for _, sc := range frame.Scopes {
		scope := dap.Scope{
			Name:               scopeTitle(sc),
			VariablesReference: sess.refs.varRef(sc.ID),
			Expensive:          sc.Kind == target.ScopeGlobal,
		}
		if sc.Kind == target.ScopeLocal {
			scope.PresentationHint = "locals"
			sess.refs.bindScopeFrame(scope.VariablesReference, frame.ID)
		}
		scopes = append(scopes, scope)
	}
	if frame.This != nil {
		if c, ok := frame.This.Resolve().(value.Complex); ok {
			scopes = append(scopes, dap.Scope{
				Name:               "This",
				VariablesReference: sess.refs.varRef(c.NodeID()),
			})
		}
	}

	resp := &dap.ScopesResponse{Response: newResponse(req.Request)}
	resp.Body = dap.ScopesResponseBody{Scopes: scopes}
	sess.send(resp)
}

func (sess *session) onVariables(req *dap.VariablesRequest) {
	id, ok := sess.refs.object(req.Arguments.VariablesReference)
	if !ok {
		sess.sendError(req.Request, errUnknownRef, "unknown variablesReference")
		return
	}

	props, err := sess.host.Properties(id, false, false)
	if err != nil {
		sess.sendHostError(req.Request, err)
		return
	}

	vars := make([]dap.Variable, 0, len(props))
	for _, p := range props {
		if !matchVariableFilter(req.Arguments.Filter, p.Name) {
			continue
		}
		vars = append(vars, sess.variableFor(p.Name, p.Value))
	}
	vars = pageVariables(vars, req.Arguments.Start, req.Arguments.Count)

	resp := &dap.VariablesResponse{Response: newResponse(req.Request)}
	resp.Body = dap.VariablesResponseBody{Variables: vars}
	sess.send(resp)
}

// onSetVariable writes through the owning frame. Only references handed
// out as a frame's local scope are writable.
func (sess *session) onSetVariable(req *dap.SetVariableRequest) {
	fid, ok := sess.refs.scopeFrame(req.Arguments.VariablesReference)
	if !ok {
		sess.sendError(req.Request, errUnknownRef, "only local variables can be assigned")
		return
	}

	node, err := sess.host.SetFrameLocal(fid, req.Arguments.Name, req.Arguments.Value)
	if err != nil {
		if errors.Is(err, target.ErrNoSuchLocal) {
			sess.sendError(req.Request, errUnknownRef, "no local named "+req.Arguments.Name)
			return
		}
		sess.sendHostError(req.Request, err)
		return
	}

	resp := &dap.SetVariableResponse{Response: newResponse(req.Request)}
	resp.Body = dap.SetVariableResponseBody{Value: value.Describe(node), Type: value.TypeName(node)}
	if c, ok := resolved(node).(value.Complex); ok {
		resp.Body.VariablesReference = sess.refs.varRef(c.NodeID())
	}
	sess.send(resp)
}

func (sess *session) onEvaluate(req *dap.EvaluateRequest) {
	fid, err := sess.evalFrame(req.Arguments.FrameId)
	if err != nil {
		sess.sendHostError(req.Request, err)
		return
	}

	node, err := sess.host.Evaluate(fid, req.Arguments.Expression, nil)
	if err != nil {
		var evalErr *debug.EvalError
		if errors.As(err, &evalErr) {
			sess.sendError(req.Request, errEvalFailed, value.Describe(evalErr.Value))
			return
		}
		sess.sendHostError(req.Request, err)
		return
	}

	resp := &dap.EvaluateResponse{Response: newResponse(req.Request)}
	resp.Body = dap.EvaluateResponseBody{Result: value.Describe(node), Type: value.TypeName(node)}
	if req.Arguments.Context == "clipboard" {
		if text, ok := sess.extractText(node); ok {
			resp.Body.Result = text
		}
	}
	if c, ok := resolved(node).(value.Complex); ok {
		resp.Body.VariablesReference = sess.refs.varRef(c.NodeID())
	}
	if arr, ok := resolved(node).(value.ArrayNode); ok {
		resp.Body.IndexedVariables = arr.Size
	}
	sess.send(resp)
}

// extractText renders a full object-graph extraction for copy-style
// evaluation contexts.
func (sess *session) extractText(node value.Node) (string, bool) {
	plain, err := sess.host.Extract(node)
	if err != nil {
		return "", false
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (sess *session) onContinue(req *dap.ContinueRequest) {
	if err := sess.host.Resume(); err != nil {
		sess.sendHostError(req.Request, err)
		return
	}
	resp := &dap.ContinueResponse{Response: newResponse(req.Request)}
	resp.Body.AllThreadsContinued = true
	sess.send(resp)
}

func (sess *session) onNext(req *dap.NextRequest) {
	if err := sess.host.Step(target.StepOver); err != nil {
		sess.sendHostError(req.Request, err)
		return
	}
	sess.send(&dap.NextResponse{Response: newResponse(req.Request)})
}

func (sess *session) onStepIn(req *dap.StepInRequest) {
	if err := sess.host.Step(target.StepInto); err != nil {
		sess.sendHostError(req.Request, err)
		return
	}
	sess.send(&dap.StepInResponse{Response: newResponse(req.Request)})
}

func (sess *session) onStepOut(req *dap.StepOutRequest) {
	if err := sess.host.Step(target.StepOut); err != nil {
		sess.sendHostError(req.Request, err)
		return
	}
	sess.send(&dap.StepOutResponse{Response: newResponse(req.Request)})
}

// onPause rejects the request: the target only surfaces pause sites it
// reaches on its own, there is no preemptive suspension.
func (sess *session) onPause(req *dap.PauseRequest) {
	sess.sendError(req.Request, errUnsupported, "target cannot be paused on demand")
}

func (sess *session) onRestartFrame(req *dap.RestartFrameRequest) {
	fid, ok := sess.refs.frame(req.Arguments.FrameId)
	if !ok {
		sess.sendError(req.Request, errUnknownFrame, "unknown frame")
		return
	}
	if _, err := sess.host.RestartFrame(fid); err != nil {
		sess.sendHostError(req.Request, err)
		return
	}
	sess.send(&dap.RestartFrameResponse{Response: newResponse(req.Request)})

	// The stack was rebuilt; the client refetches it in response to
	// this stop.
	evt := &dap.StoppedEvent{Event: newEvent("stopped")}
	evt.Body.Reason = "restart"
	evt.Body.ThreadId = sess.currentThread().Id
	evt.Body.AllThreadsStopped = true
	sess.send(evt)
}

func (sess *session) onLoadedSources(req *dap.LoadedSourcesRequest) {
	scripts := sess.host.Scripts()
	sources := make([]dap.Source, len(scripts))
	for i, sc := range scripts {
		sources[i] = sourceFor(sc)
	}
	resp := &dap.LoadedSourcesResponse{Response: newResponse(req.Request)}
	resp.Body = dap.LoadedSourcesResponseBody{Sources: sources}
	sess.send(resp)
}

func (sess *session) onSource(req *dap.SourceRequest) {
	ref := req.Arguments.SourceReference
	if ref == 0 && req.Arguments.Source != nil {
		ref = req.Arguments.Source.SourceReference
	}
	sc, ok := scriptForSourceRef(sess.host, ref)
	if !ok {
		sess.sendError(req.Request, errUnknownScript, "unknown source reference")
		return
	}
	resp := &dap.SourceResponse{Response: newResponse(req.Request)}
	resp.Body = dap.SourceResponseBody{Content: sc.Source}
	sess.send(resp)
}

func (sess *session) onDisconnect(req *dap.DisconnectRequest) {
	terminate := req.Arguments != nil && req.Arguments.TerminateDebuggee
	sess.send(&dap.DisconnectResponse{Response: newResponse(req.Request)})
	if terminate {
		if err := sess.host.Close(); err != nil {
			log.WithError(err).Warn("terminate on disconnect failed")
		}
	}
}

// findScript resolves a DAP source descriptor to a registered script,
// by path, by name, then by source reference.
func (sess *session) findScript(src dap.Source) (script.Script, bool) {
	if src.Path != "" {
		if sc, ok := sess.host.ScriptByName(src.Path); ok {
			return sc, true
		}
	}
	if src.Name != "" {
		if sc, ok := sess.host.ScriptByName(src.Name); ok {
			return sc, true
		}
	}
	return scriptForSourceRef(sess.host, src.SourceReference)
}

// frameFor resolves a DAP frame id against the current pause.
func (sess *session) frameFor(ref int) (*debug.Frame, error) {
	fid, ok := sess.refs.frame(ref)
	if !ok {
		return nil, debug.ErrNoSuchFrame
	}
	frames, err := sess.host.Frames()
	if err != nil {
		return nil, err
	}
	for _, f := range frames {
		if f.ID == fid {
			return f, nil
		}
	}
	return nil, debug.ErrNoSuchFrame
}

// evalFrame picks the evaluation frame: the named one, or the top of
// the stack when the client did not scope the expression.
func (sess *session) evalFrame(ref int) (debug.FrameID, error) {
	if ref != 0 {
		fid, ok := sess.refs.frame(ref)
		if !ok {
			return "", debug.ErrNoSuchFrame
		}
		return fid, nil
	}
	frames, err := sess.host.Frames()
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", debug.ErrNoSuchFrame
	}
	return frames[0].ID, nil
}
