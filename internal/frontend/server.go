package frontend

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/nitish854/ncdbg/internal/debug"
	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/value"
)

var log = logrus.WithField("component", "frontend")

// Server bridges Debug Adapter Protocol clients to the debugger host.
// One client is served at a time; when its session ends the debugger
// is reset so the next client starts from a clean slate.
type Server struct {
	host *debug.Host
	hub  *notify.Hub

	runner  func() error
	runOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithRunner installs the function that starts target execution. It
// runs on its own goroutine, once, triggered by the first
// configurationDone request of the server's lifetime.
func WithRunner(run func() error) Option {
	return func(s *Server) { s.runner = run }
}

// New returns a server exposing host over DAP. Events published on hub
// reach the connected client as DAP events.
func New(host *debug.Host, hub *notify.Hub, opts ...Option) *Server {
	s := &Server{host: host, hub: hub}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts clients from l until the listener closes. Connections
// are served sequentially.
func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.WithField("remote", conn.RemoteAddr().String()).Info("client connected")
		if err := s.ServeConn(conn); err != nil {
			log.WithError(err).Debug("session ended with error")
		}
	}
}

// ServeConn serves a single client over conn, which may be any duplex
// stream: a TCP connection or a stdin/stdout pair. It returns when the
// client disconnects or the stream fails, after resetting the debugger
// for the next client. Target termination requested by the client is
// honored before the reset and makes the reset a no-op.
func (s *Server) ServeConn(conn io.ReadWriteCloser) error {
	sess := &session{
		server: s,
		host:   s.host,
		hub:    s.hub,
		conn:   conn,
		reader: bufio.NewReader(conn),
		refs:   newRefTable(),
		bpIDs:  make(map[string]int),
		thread: dap.Thread{Id: 1, Name: "main"},
	}
	err := sess.run()
	sess.close()
	if rerr := s.host.Reset(); rerr != nil && !errors.Is(rerr, debug.ErrHostClosed) {
		log.WithError(rerr).Warn("post-session reset failed")
	}
	return err
}

// startTarget fires the runner. Reconnecting clients send their own
// configurationDone; only the first one starts execution.
func (s *Server) startTarget() {
	if s.runner == nil {
		return
	}
	s.runOnce.Do(func() {
		go func() {
			if err := s.runner(); err != nil {
				log.WithError(err).Error("target run failed")
			}
		}()
	})
}

// session is one connected client.
type session struct {
	server *Server
	host   *debug.Host
	hub    *notify.Hub
	conn   io.ReadWriteCloser
	reader *bufio.Reader

	refs *refTable

	writeMu sync.Mutex

	mu       sync.Mutex
	bpIDs    map[string]int
	bpSeq    int
	thread   dap.Thread
	sub      *notify.Subscription
	pumpDone chan struct{}
}

// run reads and answers requests until the stream ends or the client
// disconnects.
func (sess *session) run() error {
	for {
		msg, err := dap.ReadProtocolMessage(sess.reader)
		if err != nil {
			var decodeErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &decodeErr) {
				sess.sendUnsupported(decodeErr.Seq, decodeErr.FieldValue)
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if sess.handle(msg) {
			return nil
		}
	}
}

// handle dispatches one incoming message. It reports whether the
// session should end.
func (sess *session) handle(msg dap.Message) bool {
	request, ok := msg.(dap.RequestMessage)
	if !ok {
		return false
	}
	log.WithField("command", request.GetRequest().Command).Debug("request")

	switch req := msg.(type) {
	case *dap.InitializeRequest:
		sess.onInitialize(req)
	case *dap.LaunchRequest:
		sess.onLaunch(req)
	case *dap.AttachRequest:
		sess.onAttach(req)
	case *dap.ConfigurationDoneRequest:
		sess.onConfigurationDone(req)
	case *dap.SetBreakpointsRequest:
		sess.onSetBreakpoints(req)
	case *dap.SetExceptionBreakpointsRequest:
		sess.onSetExceptionBreakpoints(req)
	case *dap.ThreadsRequest:
		sess.onThreads(req)
	case *dap.StackTraceRequest:
		sess.onStackTrace(req)
	case *dap.ScopesRequest:
		sess.onScopes(req)
	case *dap.VariablesRequest:
		sess.onVariables(req)
	case *dap.SetVariableRequest:
		sess.onSetVariable(req)
	case *dap.EvaluateRequest:
		sess.onEvaluate(req)
	case *dap.ContinueRequest:
		sess.onContinue(req)
	case *dap.NextRequest:
		sess.onNext(req)
	case *dap.StepInRequest:
		sess.onStepIn(req)
	case *dap.StepOutRequest:
		sess.onStepOut(req)
	case *dap.PauseRequest:
		sess.onPause(req)
	case *dap.RestartFrameRequest:
		sess.onRestartFrame(req)
	case *dap.LoadedSourcesRequest:
		sess.onLoadedSources(req)
	case *dap.SourceRequest:
		sess.onSource(req)
	case *dap.DisconnectRequest:
		sess.onDisconnect(req)
		return true
	default:
		r := request.GetRequest()
		sess.sendError(*r, errUnsupported, "unsupported command: "+r.Command)
	}
	return false
}

// close tears the session down: the pump stops before the connection
// closes so no write races the shutdown.
func (sess *session) close() {
	sess.mu.Lock()
	sub, pumpDone := sess.sub, sess.pumpDone
	sess.sub = nil
	sess.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		<-pumpDone
	}
	if err := sess.conn.Close(); err != nil {
		log.WithError(err).Debug("connection close failed")
	}
}

// startPump attaches the session to the notification hub. Subscribing
// after the initialize response keeps protocol order: the replayed
// initialized notification cannot overtake the handshake.
func (sess *session) startPump() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.sub != nil {
		return
	}
	sess.sub = sess.hub.Subscribe()
	sess.pumpDone = make(chan struct{})
	go sess.pump(sess.sub, sess.pumpDone)
}

func (sess *session) pump(sub *notify.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.C {
		sess.forward(ev)
	}
}

// forward translates one debugger notification into its DAP event.
func (sess *session) forward(ev notify.Event) {
	switch ev := ev.(type) {
	case notify.InitializedEvent:
		sess.send(&dap.InitializedEvent{Event: newEvent("initialized")})
	case notify.PausedEvent:
		sess.forwardPause(ev)
	case notify.ResumedEvent:
		sess.refs.reset()
		evt := &dap.ContinuedEvent{Event: newEvent("continued")}
		evt.Body.ThreadId = sess.currentThread().Id
		evt.Body.AllThreadsContinued = true
		sess.send(evt)
	case notify.UncaughtErrorEvent:
		evt := &dap.OutputEvent{Event: newEvent("output")}
		evt.Body.Category = "stderr"
		evt.Body.Output = "Uncaught " + value.Describe(ev.Error) + "\n"
		sess.send(evt)
	case notify.ConsoleEvent:
		evt := &dap.OutputEvent{Event: newEvent("output")}
		evt.Body.Category = "stdout"
		evt.Body.Output = ev.Line + "\n"
		sess.send(evt)
	case notify.ClosedEvent:
		sess.send(&dap.TerminatedEvent{Event: newEvent("terminated")})
	}
}

func (sess *session) forwardPause(ev notify.PausedEvent) {
	sess.mu.Lock()
	sess.thread = dap.Thread{Id: int(ev.Thread.ID), Name: ev.Thread.Name}
	sess.mu.Unlock()

	evt := &dap.StoppedEvent{Event: newEvent("stopped")}
	evt.Body.Reason = stopReason(ev.Reason)
	evt.Body.Description = ev.Reason.String()
	evt.Body.ThreadId = int(ev.Thread.ID)
	evt.Body.AllThreadsStopped = true
	if ev.Error != nil {
		evt.Body.Text = value.Describe(ev.Error)
	}
	sess.send(evt)
}

func (sess *session) currentThread() dap.Thread {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.thread
}

// breakpointRef maps a debugger breakpoint id to this session's DAP
// breakpoint id.
func (sess *session) breakpointRef(id string) int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if ref, ok := sess.bpIDs[id]; ok {
		return ref
	}
	sess.bpSeq++
	sess.bpIDs[id] = sess.bpSeq
	return sess.bpSeq
}

// send writes one message to the client. Writes from the read loop and
// the pump are serialized here.
func (sess *session) send(msg dap.Message) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := dap.WriteProtocolMessage(sess.conn, msg); err != nil {
		log.WithError(err).Debug("write failed")
	}
}

func newResponse(req dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           name,
	}
}

// Error response ids, in the adapter's private range.
const (
	errUnsupported   = 9000
	errNotPaused     = 9001
	errUnknownRef    = 9002
	errUnknownFrame  = 9003
	errUnknownScript = 9004
	errEvalFailed    = 9005
	errSessionEnded  = 9006
	errRestartFailed = 9007
	errInternal      = 9099
)

func (sess *session) sendError(req dap.Request, id int, format string) {
	resp := &dap.ErrorResponse{Response: newResponse(req)}
	resp.Success = false
	resp.Message = format
	resp.Body.Error = &dap.ErrorMessage{Id: id, Format: format, ShowUser: true}
	sess.send(resp)
}

// sendUnsupported answers a request whose command the decoder does not
// know.
func (sess *session) sendUnsupported(seq int, command string) {
	resp := &dap.ErrorResponse{Response: dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      seq,
		Command:         command,
		Success:         false,
		Message:         "unsupported command",
	}}
	resp.Body.Error = &dap.ErrorMessage{Id: errUnsupported, Format: "unsupported command: " + command}
	sess.send(resp)
}

// sendHostError maps a debugger operation error onto a failed
// response.
func (sess *session) sendHostError(req dap.Request, err error) {
	switch {
	case errors.Is(err, debug.ErrNotPaused):
		sess.sendError(req, errNotPaused, "target is not paused")
	case errors.Is(err, debug.ErrHostClosed):
		sess.sendError(req, errSessionEnded, "debug session has ended")
	case errors.Is(err, debug.ErrNoSuchFrame):
		sess.sendError(req, errUnknownFrame, "unknown frame")
	case errors.Is(err, debug.ErrUnknownObject):
		sess.sendError(req, errUnknownRef, "unknown object reference")
	case errors.Is(err, debug.ErrFrameNotLocatable):
		sess.sendError(req, errRestartFailed, "frame can no longer be located")
	default:
		sess.sendError(req, errInternal, err.Error())
	}
}
