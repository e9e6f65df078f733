package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/luadap/internal/debugger"
	"github.com/dshills/luadap/internal/log"
	"github.com/dshills/luadap/internal/script"
)

// mainThreadID is the single synthetic thread every session reports: one
// interpreter goroutine per session, never more (see Non-goals).
const mainThreadID = 1

// Session serves exactly one DAP connection: one transport, one Session
// Controller, one script engine, one interpreter goroutine. Nothing here
// is shared across connections.
type Session struct {
	id        string
	transport Transport
	log       *log.Logger

	seqMu sync.Mutex
	seq   int

	engine     *script.Engine
	controller *debugger.Controller

	pauseOnEntryDefault bool

	handlers map[string]func(*Request)
}

// NewSession wires a fresh Controller/Engine pair around transport. Every
// accepted connection gets its own Session; pauseOnEntryDefault comes from
// the adapter's configuration and is overridden per-launch by the client's
// own launch arguments.
func NewSession(transport Transport, logger *log.Logger, pauseOnEntryDefault bool) *Session {
	id := uuid.NewString()
	s := &Session{
		id:                  id,
		transport:           transport,
		log:                 logger.WithSession(id),
		engine:              script.New(),
		pauseOnEntryDefault: pauseOnEntryDefault,
	}
	s.controller = debugger.New(s.engine, s)
	s.handlers = map[string]func(*Request){
		"initialize":         s.onInitialize,
		"launch":             s.onLaunch,
		"configurationDone":  s.onConfigurationDone,
		"setBreakpoints":     s.onSetBreakpoints,
		"continue":           s.onContinue,
		"next":               s.onNext,
		"stepIn":             s.onStepIn,
		"stepOut":            s.onStepOut,
		"pause":              s.onPause,
		"threads":            s.onThreads,
		"stackTrace":         s.onStackTrace,
		"scopes":             s.onScopes,
		"variables":          s.onVariables,
		"setVariable":        s.onSetVariable,
		"evaluate":           s.onEvaluate,
		"disconnect":         s.onDisconnect,
		"terminate":          s.onDisconnect,
	}
	return s
}

// Serve runs the read loop until the client disconnects or the transport
// fails. It always releases the engine's Lua state on the way out.
func (s *Session) Serve() error {
	defer s.engine.Close()
	for {
		msg, err := s.transport.Receive()
		if err != nil {
			return err
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg.Content, &env); err != nil {
			s.log.Warn("malformed message: %v", err)
			continue
		}
		if env.Type != "request" {
			continue
		}

		var req Request
		if err := json.Unmarshal(msg.Content, &req); err != nil {
			s.log.Warn("malformed request: %v", err)
			continue
		}

		reqLog := s.log.WithRequest(req.Command, req.Seq)

		fn, ok := s.handlers[req.Command]
		if !ok {
			reqLog.Warn("unknown command")
			s.replyError(&req, fmt.Errorf("unknown command: %s", req.Command), codeUnknownCommand)
			continue
		}
		reqLog.Debug("dispatching request")
		fn(&req)

		if req.Command == "disconnect" || req.Command == "terminate" {
			return nil
		}
	}
}

func (s *Session) nextSeq() int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *Session) send(v any) {
	content, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal outgoing message: %v", err)
		return
	}
	if err := s.transport.Send(&Message{Content: content}); err != nil {
		s.log.Warn("send: %v", err)
	}
}

func (s *Session) sendEvent(event string, body any) {
	raw, _ := json.Marshal(body)
	s.send(Event{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           event,
		Body:            raw,
	})
}

func (s *Session) reply(req *Request, body any) {
	raw, _ := json.Marshal(body)
	s.send(Response{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
		Command:         req.Command,
		Body:            raw,
	})
}

func (s *Session) replyError(req *Request, err error, c code) {
	body, _ := sjson.SetBytes([]byte(`{}`), "error", ErrorMessage{ID: int(c), Format: err.Error()})
	s.send(Response{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Success:         false,
		Command:         req.Command,
		Message:         err.Error(),
		Body:            body,
	})
}

func (s *Session) fail(req *Request, err error) {
	s.replyError(req, err, codeFor(err))
}

func (s *Session) onInitialize(req *Request) {
	body, err := json.Marshal(Capabilities{
		SupportsConfigurationDoneRequest:  true,
		SupportsConditionalBreakpoints:    true,
		SupportsHitConditionalBreakpoints: true,
		SupportsLogPoints:                 true,
		SupportsSetVariable:               true,
		SupportsEvaluateForHovers:         true,
		SupportsTerminateRequest:          true,
	})
	if err != nil {
		s.replyError(req, err, codeProcessing)
		return
	}
	s.send(Response{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
		Command:         req.Command,
		Body:            body,
	})
	s.sendEvent("initialized", struct{}{})
}

func (s *Session) onLaunch(req *Request) {
	var args LaunchRequestArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyError(req, err, codeMalformedArguments)
		return
	}
	sourceID := args.SourceID
	if sourceID == "" {
		sourceID = "main"
	}

	pauseOnEntry := s.pauseOnEntryDefault
	if args.NoDebug {
		pauseOnEntry = false
	}
	if v := gjson.GetBytes(req.Arguments, "pauseOnEntry"); v.Exists() {
		pauseOnEntry = v.Bool()
	}

	s.log.WithFields(map[string]any{
		"sourceID":     sourceID,
		"pauseOnEntry": pauseOnEntry,
		"programBytes": len(args.Program),
	}).Info("launching script")

	if err := s.controller.Execute(context.Background(), sourceID, args.Program, pauseOnEntry); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, struct{}{})
}

func (s *Session) onConfigurationDone(req *Request) {
	if err := s.controller.NotifyUIReady(); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, struct{}{})
}

func (s *Session) onSetBreakpoints(req *Request) {
	var args SetBreakpointsArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyError(req, err, codeMalformedArguments)
		return
	}

	sourceID := args.Source.Path
	if sourceID == "" {
		sourceID = args.Source.Name
	}
	s.controller.ClearBreakpointsForSource(sourceID)

	out := make([]Breakpoint, 0, len(args.Breakpoints))
	for _, sbp := range args.Breakpoints {
		pos := debugger.Position{Line: sbp.Line}
		snapped, err := s.controller.SetBreakpoint(sourceID, pos, sbp.Condition, sbp.HitCondition, sbp.LogMessage)
		if err != nil {
			out = append(out, Breakpoint{Verified: false, Message: err.Error(), Line: sbp.Line})
			continue
		}
		out = append(out, Breakpoint{Verified: true, Line: snapped.Line})
	}
	s.reply(req, SetBreakpointsResponseBody{Breakpoints: out})
}

func (s *Session) onContinue(req *Request) {
	if err := s.controller.Run(); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, ContinueResponseBody{AllThreadsContinued: true})
}

func (s *Session) onNext(req *Request) {
	if err := s.controller.StepOver(); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, struct{}{})
}

func (s *Session) onStepIn(req *Request) {
	if err := s.controller.StepInto(); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, struct{}{})
}

func (s *Session) onStepOut(req *Request) {
	if err := s.controller.StepOut(); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, struct{}{})
}

func (s *Session) onPause(req *Request) {
	if err := s.controller.Pause(); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, struct{}{})
}

func (s *Session) onThreads(req *Request) {
	s.reply(req, ThreadsResponseBody{Threads: []Thread{{ID: mainThreadID, Name: "main"}}})
}

func (s *Session) onStackTrace(req *Request) {
	info := s.controller.CurrentInfo()
	if info == nil {
		s.fail(req, fmt.Errorf("%w: stackTrace requires a paused session", debugger.ErrInvalidState))
		return
	}

	frames := make([]StackFrame, 0, len(info.Frames))
	for _, f := range info.Frames {
		frames = append(frames, StackFrame{
			ID:     f.ID,
			Name:   f.Name,
			Source: &Source{Path: f.SourceID, Name: f.SourceID},
			Line:   f.Line,
		})
	}
	s.reply(req, StackTraceResponseBody{StackFrames: frames, TotalFrames: len(frames)})
}

func (s *Session) onScopes(req *Request) {
	var args ScopesArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyError(req, err, codeMalformedArguments)
		return
	}

	info := s.controller.CurrentInfo()
	if info == nil {
		s.fail(req, fmt.Errorf("%w: scopes requires a paused session", debugger.ErrInvalidState))
		return
	}

	var scopes []Scope
	for i := range info.Frames {
		frame := info.Frames[i]
		if frame.ID != args.FrameID {
			continue
		}
		if frame.Scope != nil {
			handle := s.controller.Variables().AddScope(frame.Scope, &frame)
			scopes = append(scopes, Scope{Name: "Locals", VariablesReference: handle})
		}
		break
	}
	globalsHandle := s.controller.Variables().AddScope(s.engine.Globals(), nil)
	scopes = append(scopes, Scope{Name: "Globals", VariablesReference: globalsHandle, Expensive: true})

	s.reply(req, ScopesResponseBody{Scopes: scopes})
}

func (s *Session) onVariables(req *Request) {
	var args VariablesArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyError(req, err, codeMalformedArguments)
		return
	}

	children, err := s.controller.Variables().Children(args.VariablesReference)
	if err != nil {
		s.fail(req, err)
		return
	}

	vars := make([]Variable, 0, len(children))
	for _, c := range children {
		vars = append(vars, Variable{
			Name:               c.Name,
			Value:              displayValue(c),
			Type:               c.Type,
			VariablesReference: c.Handle,
		})
	}
	s.reply(req, VariablesResponseBody{Variables: vars})
}

func (s *Session) onSetVariable(req *Request) {
	var args SetVariableArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyError(req, err, codeMalformedArguments)
		return
	}

	vi, err := s.controller.Variables().SetVariable(args.VariablesReference, args.Name, args.Value)
	if err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, SetVariableResponseBody{Value: displayValue(vi), Type: vi.Type, VariablesReference: vi.Handle})
}

func (s *Session) onEvaluate(req *Request) {
	var args EvaluateArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyError(req, err, codeMalformedArguments)
		return
	}

	result, err := s.controller.Evaluate(args.Expression)
	if err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, EvaluateResponseBody{Result: result})
}

func (s *Session) onDisconnect(req *Request) {
	if err := s.controller.Terminate(); err != nil {
		s.fail(req, err)
		return
	}
	s.reply(req, struct{}{})
}

// displayValue renders a materialized ValueInfo the way a DAP client
// expects a Variable.value string: a literal for primitives/functions, a
// bracketed placeholder for expandable handles.
func displayValue(v debugger.ValueInfo) string {
	switch v.Kind {
	case debugger.ValueNull:
		return "nil"
	case debugger.ValuePrimitive, debugger.ValueFunction:
		return v.Display
	case debugger.ValueArray:
		return "[array]"
	case debugger.ValueGetter:
		return "<getter>"
	default:
		return "[object]"
	}
}

// Stopped implements debugger.EventSink.
func (s *Session) Stopped(reason debugger.StopReason, info debugger.DebugInformation) {
	s.sendEvent("stopped", StoppedEventBody{Reason: string(reason), ThreadID: mainThreadID, AllThreadsStopped: true})
}

// Continued implements debugger.EventSink.
func (s *Session) Continued() {
	s.sendEvent("continued", ContinuedEventBody{ThreadID: mainThreadID, AllThreadsContinued: true})
}

// LogPoint implements debugger.EventSink.
func (s *Session) LogPoint(message string, info debugger.DebugInformation) {
	body, _ := sjson.SetBytes([]byte(`{}`), "category", "console")
	body, _ = sjson.SetBytes(body, "output", message+"\n")
	body, _ = sjson.SetBytes(body, "data.session", s.id)
	s.send(Event{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           "output",
		Body:            body,
	})
}

// Done implements debugger.EventSink.
func (s *Session) Done() {
	s.sendEvent("exited", ExitedEventBody{ExitCode: 0})
	s.sendEvent("terminated", TerminatedEventBody{})
}

// Cancelled implements debugger.EventSink.
func (s *Session) Cancelled() {
	s.sendEvent("terminated", TerminatedEventBody{})
}

// Fault implements debugger.EventSink.
func (s *Session) Fault(err error) {
	s.log.WithField("code", codeFor(err).String()).Error("engine fault: %v", err)
	body, _ := sjson.SetBytes([]byte(`{}`), "category", "stderr")
	body, _ = sjson.SetBytes(body, "output", err.Error()+"\n")
	s.send(Event{
		ProtocolMessage: ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           "output",
		Body:            body,
	})
	s.sendEvent("terminated", TerminatedEventBody{})
}
