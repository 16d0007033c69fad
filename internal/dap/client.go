package dap

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/pkg/types"
)

// ErrClosed is returned for requests outstanding when the connection ends.
var ErrClosed = stderrors.New("DAP connection closed")

// ResponseError is a response with success=false.
type ResponseError struct {
	Command string
	Message string
	// Body is the structured error, if the adapter sent one.
	Body *dap.ErrorMessage
}

func (e *ResponseError) Error() string {
	if e.Body != nil && e.Body.Format != "" {
		return fmt.Sprintf("%s failed: %s", e.Command, e.Body.Format)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// Code returns the adapter error code carried in the error body.
func (e *ResponseError) Code() string {
	if e.Body == nil {
		return ""
	}
	return e.Body.Variables["code"]
}

// Client is the front-end side of a DAP connection. Every received message
// is recorded in arrival order; events additionally wait in an inbox until a
// WaitForEvent call consumes them.
type Client struct {
	transport *Transport
	logger    *zap.Logger

	// Response handling
	pendingRequests map[int]chan dap.Message
	pendMu          sync.Mutex

	// Event handling
	mu      sync.Mutex
	history []dap.Message
	inbox   []dap.EventMessage
	arrived chan struct{}

	// Capabilities from initialize response
	capabilities dap.Capabilities

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a new DAP client with the given transport
func NewClient(transport *Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		transport:       transport,
		logger:          logger,
		pendingRequests: make(map[int]chan dap.Message),
		arrived:         make(chan struct{}),
		done:            make(chan struct{}),
	}

	// Start the message reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	return c
}

// readLoop continuously reads messages from the transport until it fails.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)

	for {
		msg, err := c.transport.Receive()
		if err != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if stderrors.As(err, &fieldErr) {
				c.logger.Warn("undecodable DAP message", zap.Error(err))
				continue
			}
			c.logger.Debug("DAP read loop ended", zap.Error(err))
			c.failPending()
			return
		}
		c.handleMessage(msg)
	}
}

// handleMessage routes incoming messages to the appropriate handler
func (c *Client) handleMessage(msg dap.Message) {
	c.mu.Lock()
	c.history = append(c.history, msg)
	if ev, ok := msg.(dap.EventMessage); ok {
		c.inbox = append(c.inbox, ev)
		close(c.arrived)
		c.arrived = make(chan struct{})
	}
	c.mu.Unlock()

	resp, ok := msg.(dap.ResponseMessage)
	if !ok {
		return
	}
	requestSeq := resp.GetResponse().RequestSeq
	c.pendMu.Lock()
	if ch, ok := c.pendingRequests[requestSeq]; ok {
		ch <- msg
		delete(c.pendingRequests, requestSeq)
	}
	c.pendMu.Unlock()
}

func (c *Client) failPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for seq, ch := range c.pendingRequests {
		close(ch)
		delete(c.pendingRequests, seq)
	}
}

// sendRequest sends a request and waits for the response
func (c *Client) sendRequest(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	respCh := make(chan dap.Message, 1)

	// The response cannot be routed before the request is registered:
	// handleMessage needs pendMu, which is held until then.
	c.pendMu.Lock()
	seq, err := c.transport.Send(req)
	if err != nil {
		c.pendMu.Unlock()
		return nil, err
	}
	c.pendingRequests[seq] = respCh
	c.pendMu.Unlock()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-c.done:
		select {
		case resp, ok := <-respCh:
			if ok {
				return resp, nil
			}
		default:
		}
		return nil, ErrClosed
	case <-ctx.Done():
		c.pendMu.Lock()
		delete(c.pendingRequests, seq)
		c.pendMu.Unlock()
		return nil, ctx.Err()
	}
}

// roundTrip sends req and returns its successful response as R.
func roundTrip[R dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (R, error) {
	var zero R
	command := req.GetRequest().Command

	msg, err := c.sendRequest(ctx, req)
	if err != nil {
		return zero, err
	}
	if er, ok := msg.(*dap.ErrorResponse); ok {
		return zero, &ResponseError{Command: command, Message: er.Message, Body: er.Body.Error}
	}
	resp, ok := msg.(R)
	if !ok {
		return zero, fmt.Errorf("unexpected response type for %s: %T", command, msg)
	}
	if r := resp.GetResponse(); !r.Success {
		return zero, &ResponseError{Command: command, Message: r.Message}
	}
	return resp, nil
}

// Do sends any request, including ones without a typed method, and returns
// its response.
func (c *Client) Do(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	return roundTrip[dap.ResponseMessage](ctx, c, req)
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Initialize sends the initialize request
func (c *Client) Initialize(ctx context.Context, clientID string) (*dap.InitializeResponse, error) {
	req := &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:               clientID,
			AdapterID:              "cuda-gdb",
			Locale:                 "en-US",
			LinesStartAt1:          true,
			ColumnsStartAt1:        true,
			PathFormat:             "path",
			SupportsVariableType:   true,
			SupportsVariablePaging: true,
		},
	}
	resp, err := roundTrip[*dap.InitializeResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	c.capabilities = resp.Body
	return resp, nil
}

// Launch sends a launch request. The adapter answers before the program
// runs; it starts at ConfigurationDone.
func (c *Client) Launch(ctx context.Context, args any) (*dap.LaunchResponse, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch args: %w", err)
	}
	req := &dap.LaunchRequest{Request: newRequest("launch"), Arguments: argsJSON}
	return roundTrip[*dap.LaunchResponse](ctx, c, req)
}

// Attach sends an attach request
func (c *Client) Attach(ctx context.Context, args any) (*dap.AttachResponse, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attach args: %w", err)
	}
	req := &dap.AttachRequest{Request: newRequest("attach"), Arguments: argsJSON}
	return roundTrip[*dap.AttachResponse](ctx, c, req)
}

// ConfigurationDone signals that breakpoints are set and the program may run.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	req := &dap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}
	_, err := roundTrip[*dap.ConfigurationDoneResponse](ctx, c, req)
	return err
}

// Disconnect ends the session.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &dap.DisconnectRequest{
		Request:   newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
	}
	_, err := roundTrip[*dap.DisconnectResponse](ctx, c, req)
	return err
}

// Threads lists the host threads and the active device thread.
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	resp, err := roundTrip[*dap.ThreadsResponse](ctx, c, &dap.ThreadsRequest{Request: newRequest("threads")})
	if err != nil {
		return nil, err
	}
	return resp.Body.Threads, nil
}

// StackTrace gets the stack trace for a thread
func (c *Client) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, int, error) {
	req := &dap.StackTraceRequest{
		Request: newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: startFrame,
			Levels:     levels,
		},
	}
	resp, err := roundTrip[*dap.StackTraceResponse](ctx, c, req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body.StackFrames, resp.Body.TotalFrames, nil
}

// Scopes gets the scopes for a stack frame
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	req := &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	}
	resp, err := roundTrip[*dap.ScopesResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

// Variables gets the children of a variable reference. count == 0 means all.
func (c *Client) Variables(ctx context.Context, variablesRef, start, count int) ([]dap.Variable, error) {
	req := &dap.VariablesRequest{
		Request: newRequest("variables"),
		Arguments: dap.VariablesArguments{
			VariablesReference: variablesRef,
			Start:              start,
			Count:              count,
		},
	}
	resp, err := roundTrip[*dap.VariablesResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// Evaluate evaluates an expression in a frame. evalContext is "watch",
// "hover" or "repl".
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	req := &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	}
	resp, err := roundTrip[*dap.EvaluateResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return &resp.Body, nil
}

// SetVariable writes a child of a variable reference.
func (c *Client) SetVariable(ctx context.Context, variablesRef int, name, value string) (*dap.SetVariableResponseBody, error) {
	req := &dap.SetVariableRequest{
		Request: newRequest("setVariable"),
		Arguments: dap.SetVariableArguments{
			VariablesReference: variablesRef,
			Name:               name,
			Value:              value,
		},
	}
	resp, err := roundTrip[*dap.SetVariableResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return &resp.Body, nil
}

// SetBreakpoints replaces the breakpoints of a source file.
func (c *Client) SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	req := &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: breakpoints,
		},
	}
	resp, err := roundTrip[*dap.SetBreakpointsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// SetFunctionBreakpoints replaces all function breakpoints.
func (c *Client) SetFunctionBreakpoints(ctx context.Context, breakpoints []dap.FunctionBreakpoint) ([]dap.Breakpoint, error) {
	req := &dap.SetFunctionBreakpointsRequest{
		Request:   newRequest("setFunctionBreakpoints"),
		Arguments: dap.SetFunctionBreakpointsArguments{Breakpoints: breakpoints},
	}
	resp, err := roundTrip[*dap.SetFunctionBreakpointsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// Continue resumes execution
func (c *Client) Continue(ctx context.Context, threadID int) error {
	req := &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}
	_, err := roundTrip[*dap.ContinueResponse](ctx, c, req)
	return err
}

// Next steps over
func (c *Client) Next(ctx context.Context, threadID int) error {
	req := &dap.NextRequest{
		Request:   newRequest("next"),
		Arguments: dap.NextArguments{ThreadId: threadID},
	}
	_, err := roundTrip[*dap.NextResponse](ctx, c, req)
	return err
}

// StepIn steps into
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	req := &dap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: dap.StepInArguments{ThreadId: threadID},
	}
	_, err := roundTrip[*dap.StepInResponse](ctx, c, req)
	return err
}

// StepOut steps out
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	req := &dap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: dap.StepOutArguments{ThreadId: threadID},
	}
	_, err := roundTrip[*dap.StepOutResponse](ctx, c, req)
	return err
}

// Pause pauses execution
func (c *Client) Pause(ctx context.Context, threadID int) error {
	req := &dap.PauseRequest{
		Request:   newRequest("pause"),
		Arguments: dap.PauseArguments{ThreadId: threadID},
	}
	_, err := roundTrip[*dap.PauseResponse](ctx, c, req)
	return err
}

// ChangeCudaFocus switches focus to target, or only reports the current
// focus when target is nil. The returned focus is nil when none is set.
func (c *Client) ChangeCudaFocus(ctx context.Context, target *types.CudaFocus) (*types.CudaFocus, error) {
	req := &types.ChangeCudaFocusRequest{
		Request:   newRequest(types.CommandChangeCudaFocus),
		Arguments: types.ChangeCudaFocusArguments{Focus: target},
	}
	resp, err := roundTrip[*types.ChangeCudaFocusResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Focus, nil
}

// Capabilities returns the capabilities reported by initialize.
func (c *Client) Capabilities() dap.Capabilities {
	return c.capabilities
}

// WaitForEvent consumes and returns the oldest unconsumed event with one of
// the given names, waiting for one to arrive if necessary.
func (c *Client) WaitForEvent(ctx context.Context, names ...string) (dap.EventMessage, error) {
	for {
		c.mu.Lock()
		for i, ev := range c.inbox {
			if slices.Contains(names, ev.GetEvent().Event) {
				c.inbox = append(c.inbox[:i:i], c.inbox[i+1:]...)
				c.mu.Unlock()
				return ev, nil
			}
		}
		arrived := c.arrived
		c.mu.Unlock()

		select {
		case <-arrived:
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s event: %w", strings.Join(names, " or "), ctx.Err())
		}
	}
}

// DrainEvents consumes every queued event with one of the given names, or
// every queued event when no name is given.
func (c *Client) DrainEvents(names ...string) []dap.EventMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var drained, kept []dap.EventMessage
	for _, ev := range c.inbox {
		if len(names) == 0 || slices.Contains(names, ev.GetEvent().Event) {
			drained = append(drained, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	c.inbox = kept
	return drained
}

// WaitForStopped consumes the next stopped event.
func (c *Client) WaitForStopped(ctx context.Context) (*dap.StoppedEvent, error) {
	ev, err := c.WaitForEvent(ctx, "stopped")
	if err != nil {
		return nil, err
	}
	stopped, ok := ev.(*dap.StoppedEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected stopped event type: %T", ev)
	}
	return stopped, nil
}

// History returns every message received so far, in arrival order.
func (c *Client) History() []dap.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dap.Message(nil), c.history...)
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the client connection
func (c *Client) Close() error {
	err := c.transport.Close()
	c.wg.Wait()
	return err
}
