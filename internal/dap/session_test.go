package dap

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dshills/luadap/internal/log"
)

type wireMsg struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	Event      string          `json:"event"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
	RequestSeq int             `json:"request_seq"`
}

type testClient struct {
	t         *testing.T
	transport Transport
	seq       int
	msgs      chan wireMsg
}

func newTestClient(t *testing.T, transport Transport) *testClient {
	t.Helper()
	c := &testClient{t: t, transport: transport, msgs: make(chan wireMsg, 64)}
	go func() {
		for {
			m, err := transport.Receive()
			if err != nil {
				close(c.msgs)
				return
			}
			var w wireMsg
			if err := json.Unmarshal(m.Content, &w); err != nil {
				continue
			}
			c.msgs <- w
		}
	}()
	return c
}

func (c *testClient) send(command string, args any) {
	c.seq++
	req := Request{ProtocolMessage: ProtocolMessage{Seq: c.seq, Type: "request"}, Command: command}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			c.t.Fatalf("marshal arguments for %s: %v", command, err)
		}
		req.Arguments = raw
	}
	raw, err := json.Marshal(req)
	if err != nil {
		c.t.Fatalf("marshal request %s: %v", command, err)
	}
	if err := c.transport.Send(&Message{Content: raw}); err != nil {
		c.t.Fatalf("send %s: %v", command, err)
	}
}

func (c *testClient) await(pred func(wireMsg) bool, what string) wireMsg {
	c.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-c.msgs:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", what)
			}
			if pred(m) {
				return m
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (c *testClient) response(command string) wireMsg {
	return c.await(func(m wireMsg) bool { return m.Type == "response" && m.Command == command }, "response "+command)
}

func (c *testClient) event(name string) wireMsg {
	return c.await(func(m wireMsg) bool { return m.Type == "event" && m.Event == name }, "event "+name)
}

func newSessionPipe(t *testing.T, pauseOnEntryDefault bool) (*testClient, chan error) {
	t.Helper()
	clientConn, adapterConn := pipeConn()
	t.Cleanup(func() { clientConn.Close(); adapterConn.Close() })

	session := NewSession(NewRawTransport(adapterConn), log.Null, pauseOnEntryDefault)
	done := make(chan error, 1)
	go func() { done <- session.Serve() }()

	c := newTestClient(t, NewRawTransport(clientConn))
	c.send("initialize", InitializeRequestArguments{AdapterID: "test"})
	c.response("initialize")
	c.event("initialized")
	return c, done
}

func TestSessionPauseOnEntryEndToEnd(t *testing.T) {
	c, done := newSessionPipe(t, false)

	c.send("launch", LaunchRequestArguments{Program: "x = 1\ny = 2\n", SourceID: "main", PauseOnEntry: true})
	c.response("launch")

	c.send("configurationDone", nil)
	c.response("configurationDone")

	stopped := c.event("stopped")
	var body StoppedEventBody
	if err := json.Unmarshal(stopped.Body, &body); err != nil {
		t.Fatalf("unmarshal stopped body: %v", err)
	}
	if body.Reason != "entry" {
		t.Fatalf("stopped reason = %q, want entry", body.Reason)
	}

	c.send("next", NextArguments{ThreadID: mainThreadID})
	c.response("next")
	c.event("continued")
	c.event("stopped")

	c.send("continue", ContinueArguments{ThreadID: mainThreadID})
	c.response("continue")
	c.event("continued")
	c.event("exited")
	c.event("terminated")

	c.send("disconnect", nil)
	c.response("disconnect")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after disconnect")
	}
}

func TestSessionDebuggerStatementEndToEnd(t *testing.T) {
	c, _ := newSessionPipe(t, false)

	c.send("launch", LaunchRequestArguments{Program: "x = 1\ndebugger()\ny = 2\n", SourceID: "main"})
	c.response("launch")

	c.send("configurationDone", nil)
	c.response("configurationDone")

	stopped := c.event("stopped")
	var body StoppedEventBody
	if err := json.Unmarshal(stopped.Body, &body); err != nil {
		t.Fatalf("unmarshal stopped body: %v", err)
	}
	if body.Reason != "debugger_statement" {
		t.Fatalf("stopped reason = %q, want debugger_statement", body.Reason)
	}

	c.send("continue", ContinueArguments{ThreadID: mainThreadID})
	c.response("continue")
	c.event("exited")

	c.send("disconnect", nil)
	c.response("disconnect")
}

func TestSessionUnknownCommandGetsErrorResponseNotDisconnect(t *testing.T) {
	c, _ := newSessionPipe(t, false)

	c.send("notARealCommand", nil)
	resp := c.response("notARealCommand")
	if resp.Success {
		t.Fatal("expected an unsuccessful response for an unknown command")
	}

	// The connection must still be alive: a follow-up request still gets
	// answered, proving the unknown command did not drop the session.
	c.send("threads", nil)
	resp = c.response("threads")
	if !resp.Success {
		t.Fatalf("threads response = %+v, want success after an unknown command", resp)
	}
}

func TestSessionSetBreakpointsIsIdempotentPerSource(t *testing.T) {
	c, _ := newSessionPipe(t, false)

	c.send("launch", LaunchRequestArguments{Program: "x = 1\ny = 2\nz = 3\n", SourceID: "main"})
	c.response("launch")

	args := SetBreakpointsArguments{
		Source:      Source{Path: "main"},
		Breakpoints: []SourceBreakpoint{{Line: 2}},
	}

	c.send("setBreakpoints", args)
	first := c.response("setBreakpoints")
	c.send("setBreakpoints", args)
	second := c.response("setBreakpoints")

	var firstBody, secondBody SetBreakpointsResponseBody
	if err := json.Unmarshal(first.Body, &firstBody); err != nil {
		t.Fatalf("unmarshal first response: %v", err)
	}
	if err := json.Unmarshal(second.Body, &secondBody); err != nil {
		t.Fatalf("unmarshal second response: %v", err)
	}

	if len(firstBody.Breakpoints) != 1 || len(secondBody.Breakpoints) != 1 {
		t.Fatalf("expected one verified breakpoint both times, got %+v and %+v", firstBody, secondBody)
	}
	if firstBody.Breakpoints[0] != secondBody.Breakpoints[0] {
		t.Fatalf("setBreakpoints was not idempotent: %+v vs %+v", firstBody.Breakpoints[0], secondBody.Breakpoints[0])
	}
}

func TestSessionInspectionRequestsWhilePaused(t *testing.T) {
	c, _ := newSessionPipe(t, true)

	c.send("launch", LaunchRequestArguments{Program: "local x = 42\ny = x + 1\n", SourceID: "main"})
	c.response("launch")
	c.send("configurationDone", nil)
	c.response("configurationDone")
	c.event("stopped") // entry

	c.send("threads", nil)
	threadsResp := c.response("threads")
	var threadsBody ThreadsResponseBody
	if err := json.Unmarshal(threadsResp.Body, &threadsBody); err != nil {
		t.Fatalf("unmarshal threads body: %v", err)
	}
	if len(threadsBody.Threads) != 1 || threadsBody.Threads[0].ID != mainThreadID {
		t.Fatalf("threads = %+v, want exactly one thread with id %d", threadsBody, mainThreadID)
	}

	c.send("stackTrace", StackTraceArguments{ThreadID: mainThreadID})
	stResp := c.response("stackTrace")
	var stBody StackTraceResponseBody
	if err := json.Unmarshal(stResp.Body, &stBody); err != nil {
		t.Fatalf("unmarshal stackTrace body: %v", err)
	}
	if len(stBody.StackFrames) == 0 {
		t.Fatal("expected at least one stack frame while paused")
	}
	frameID := stBody.StackFrames[0].ID

	c.send("scopes", ScopesArguments{FrameID: frameID})
	scopesResp := c.response("scopes")
	var scopesBody ScopesResponseBody
	if err := json.Unmarshal(scopesResp.Body, &scopesBody); err != nil {
		t.Fatalf("unmarshal scopes body: %v", err)
	}
	if len(scopesBody.Scopes) < 1 {
		t.Fatal("expected at least a Globals scope")
	}

	var globalsRef int
	for _, sc := range scopesBody.Scopes {
		if sc.Name == "Globals" {
			globalsRef = sc.VariablesReference
		}
	}
	if globalsRef == 0 {
		t.Fatal("expected a Globals scope with a non-zero variables reference")
	}

	c.send("variables", VariablesArguments{VariablesReference: globalsRef})
	varsResp := c.response("variables")
	var varsBody VariablesResponseBody
	if err := json.Unmarshal(varsResp.Body, &varsBody); err != nil {
		t.Fatalf("unmarshal variables body: %v", err)
	}

	c.send("evaluate", EvaluateArguments{Expression: "1 + 1"})
	evalResp := c.response("evaluate")
	var evalBody EvaluateResponseBody
	if err := json.Unmarshal(evalResp.Body, &evalBody); err != nil {
		t.Fatalf("unmarshal evaluate body: %v", err)
	}
	if evalBody.Result != "2" {
		t.Fatalf("evaluate result = %q, want 2", evalBody.Result)
	}

	c.send("disconnect", nil)
	c.response("disconnect")
}
