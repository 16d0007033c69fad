package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-dap"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/focus"
	"github.com/ctagard/cuda-dap/internal/launchconfig"
	"github.com/ctagard/cuda-dap/internal/logging"
	"github.com/ctagard/cuda-dap/internal/mi"
	"github.com/ctagard/cuda-dap/internal/mutation"
	"github.com/ctagard/cuda-dap/internal/resolver"
	"github.com/ctagard/cuda-dap/internal/startup"
	"github.com/ctagard/cuda-dap/internal/version"
	"github.com/ctagard/cuda-dap/pkg/types"
)

func newResponse(req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

// dispatch handles one request. Handlers return the response to write or
// an error that becomes an error response; work registered with later runs
// after the response is written.
func (s *Session) dispatch(ctx context.Context, in inbound) {
	if in.fieldErr != nil {
		req := &dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: in.fieldErr.Seq, Type: "request"},
			Command:         in.fieldErr.FieldValue,
		}
		if in.fieldErr.FieldName != "command" {
			s.sendError(req, errors.InvalidParameter(in.fieldErr.FieldName, in.fieldErr.FieldValue, "a decodable "+in.fieldErr.SubType))
			return
		}
		s.sendError(req, errors.Unsupported(in.fieldErr.FieldValue))
		return
	}

	rm, ok := in.msg.(dap.RequestMessage)
	if !ok {
		s.logger.Debug("ignoring non-request message", zap.String("type", fmt.Sprintf("%T", in.msg)))
		return
	}
	req := rm.GetRequest()
	s.logger.Debug("request", zap.String("command", req.Command), zap.Int("seq", req.Seq))

	resp, err := s.handle(ctx, in.msg)
	if err != nil {
		s.logger.Debug("request failed", zap.String("command", req.Command), zap.Error(err))
		s.sendError(req, err)
	} else {
		s.send(resp)
	}

	after := s.after
	s.after = nil
	for _, fn := range after {
		fn(ctx)
	}
}

func (s *Session) handle(ctx context.Context, msg dap.Message) (dap.Message, error) {
	switch req := msg.(type) {
	case *dap.InitializeRequest:
		return s.onInitialize(req)
	case *dap.LaunchRequest:
		return s.onStart(ctx, &req.Request, launchconfig.RequestLaunch, req.Arguments)
	case *dap.AttachRequest:
		return s.onStart(ctx, &req.Request, launchconfig.RequestAttach, req.Arguments)
	case *dap.SetBreakpointsRequest:
		return s.onSetBreakpoints(ctx, req)
	case *dap.SetFunctionBreakpointsRequest:
		return s.onSetFunctionBreakpoints(ctx, req)
	case *dap.SetExceptionBreakpointsRequest:
		return &dap.SetExceptionBreakpointsResponse{Response: newResponse(&req.Request)}, nil
	case *dap.ConfigurationDoneRequest:
		return s.onConfigurationDone(ctx, req)
	case *dap.ThreadsRequest:
		return s.onThreads(req)
	case *dap.StackTraceRequest:
		return s.onStackTrace(ctx, req)
	case *dap.ScopesRequest:
		return s.onScopes(ctx, req)
	case *dap.VariablesRequest:
		return s.onVariables(ctx, req)
	case *dap.SetVariableRequest:
		return s.onSetVariable(ctx, req)
	case *dap.EvaluateRequest:
		return s.onEvaluate(ctx, req)
	case *dap.ContinueRequest:
		if err := s.resume(ctx, "-exec-continue", 0); err != nil {
			return nil, err
		}
		return &dap.ContinueResponse{
			Response: newResponse(&req.Request),
			Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
		}, nil
	case *dap.NextRequest:
		if err := s.resume(ctx, "-exec-next", req.Arguments.ThreadId); err != nil {
			return nil, err
		}
		return &dap.NextResponse{Response: newResponse(&req.Request)}, nil
	case *dap.StepInRequest:
		if err := s.resume(ctx, "-exec-step", req.Arguments.ThreadId); err != nil {
			return nil, err
		}
		return &dap.StepInResponse{Response: newResponse(&req.Request)}, nil
	case *dap.StepOutRequest:
		if err := s.resume(ctx, "-exec-finish", req.Arguments.ThreadId); err != nil {
			return nil, err
		}
		return &dap.StepOutResponse{Response: newResponse(&req.Request)}, nil
	case *dap.PauseRequest:
		return s.onPause(ctx, req)
	case *dap.DisconnectRequest:
		return s.onDisconnect(req)
	case *dap.TerminateRequest:
		return s.onTerminate(req)
	case *types.ChangeCudaFocusRequest:
		return s.onChangeCudaFocus(ctx, req)
	case dap.RequestMessage:
		return nil, errors.Unsupported(req.GetRequest().Command)
	default:
		return nil, errors.Unsupported(fmt.Sprintf("%T", msg))
	}
}

// sendError writes a failed response. The error code and category travel in
// the message variables; environment problems are flagged for display.
func (s *Session) sendError(req *dap.Request, err error) {
	de := errors.FromError(err)
	resp := &dap.ErrorResponse{
		Response: newResponse(req),
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{
				Id:     errors.ID(de.Code),
				Format: strings.NewReplacer("{", "(", "}", ")").Replace(de.Error()),
				Variables: map[string]string{
					"code":     string(de.Code),
					"category": string(de.Category()),
				},
				ShowUser: de.Category() == errors.CategoryEnvironment,
			},
		},
	}
	resp.Success = false
	resp.Message = de.Message
	s.send(resp)
}

// requireBackend fails requests that need a live backend.
func (s *Session) requireBackend(command string) error {
	if s.client == nil {
		return errors.NotLaunched(command)
	}
	if s.backendGone {
		return errors.BackendExited(nil)
	}
	return nil
}

// requireStopped fails requests that inspect program state.
func (s *Session) requireStopped(command string) error {
	if err := s.requireBackend(command); err != nil {
		return err
	}
	if !s.tracker.Stopped() || s.running {
		return errors.NotStopped(command)
	}
	return nil
}

func (s *Session) onInitialize(req *dap.InitializeRequest) (dap.Message, error) {
	s.logger.Info("initialize",
		zap.String("client", req.Arguments.ClientID),
		zap.String("adapter", version.String()))
	return &dap.InitializeResponse{
		Response: newResponse(&req.Request),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest:  true,
			SupportsFunctionBreakpoints:       true,
			SupportsConditionalBreakpoints:    true,
			SupportsHitConditionalBreakpoints: true,
			SupportsEvaluateForHovers:         true,
			SupportsSetVariable:               true,
			SupportsTerminateRequest:          true,
			SupportTerminateDebuggee:          true,
		},
	}, nil
}

// onStart handles launch and attach. Either the backend ends up started,
// configured and running every startup command, or nothing of it is left.
func (s *Session) onStart(ctx context.Context, req *dap.Request, kind launchconfig.Request, raw json.RawMessage) (dap.Message, error) {
	if s.client != nil {
		return nil, errors.InvalidParameter("request", req.Command, "a single launch or attach per session")
	}

	args, err := launchconfig.Decode(raw, kind)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.SessionLogger(s.base, args.VerboseLogging, args.LogFile)
	if err != nil {
		return nil, errors.ConfigInvalid("logFile", err.Error())
	}
	s.logger, s.closeLog = logger, closeLog
	if len(args.Extra) > 0 {
		s.logger.Debug("unrecognized launch arguments", zap.Any("extra", args.Extra))
	}
	if args.TestMode {
		s.logger.Info("test mode")
	}

	targetKind, err := backend.ParseTargetKind(args.TargetKind)
	if err != nil {
		return nil, errors.ConfigInvalid("targetKind", err.Error())
	}
	if targetKind == backend.TargetGeneric {
		if err := backend.ValidatePlatform(s.opts.GOOS); err != nil {
			return nil, err
		}
	}

	override := args.DebuggerPath
	if override == "" {
		override = s.opts.Config.DebuggerOverride(targetKind == backend.TargetQNX)
	}
	path, err := backend.Locate(override, targetKind, s.opts.Config.SearchPaths)
	if err != nil {
		return nil, err
	}

	overrides, err := args.EnvOverrides()
	if err != nil {
		return nil, err
	}

	s.request, s.args = kind, args
	s.target = newTarget(targetKind, kind, args, s.opts.Clock, s.logger)
	s.logger.Info("starting backend",
		zap.String("debugger", path),
		zap.String("target", s.target.Name()),
		zap.String("program", args.Program))

	client, err := s.target.StartBackend(ctx, s.opts.Spawner, backend.StartOptions{
		Path:        path,
		Interpreter: s.opts.Config.MIInterpreter,
		Dir:         args.Cwd,
		Env:         backend.BuildEnv(s.opts.Environ, overrides),
	})
	if err != nil {
		return nil, err
	}
	s.client = client
	s.res = resolver.New(client, s.logger)
	s.mutator = mutation.New(s.res, s.sendInvalidated, s.logger)

	if err := s.prepare(ctx); err != nil {
		return nil, s.abortStart(err)
	}

	s.setStatus(types.SessionStatusStopped)
	s.later(func(context.Context) {
		s.sendEvent(&dap.InitializedEvent{Event: newEvent("initialized")})
	})
	if kind == launchconfig.RequestAttach {
		return &dap.AttachResponse{Response: newResponse(req)}, nil
	}
	return &dap.LaunchResponse{Response: newResponse(req)}, nil
}

// prepare brings a freshly started backend to the point where breakpoints
// can be set.
func (s *Session) prepare(ctx context.Context) error {
	banner, err := backend.Banner(ctx, s.client)
	if err != nil {
		return err
	}
	info, err := version.ParseBackend(banner)
	if err != nil {
		s.logger.Debug("unrecognized debugger banner", zap.Error(err))
	} else {
		s.logger.Info("backend", zap.Stringer("version", info.Version))
	}
	if warning := info.Check(s.opts.Config.MinBackendVersion); warning != "" {
		s.output("console", warning)
	}

	settings := []string{"-gdb-set mi-async on"}
	if s.args.OnAPIError != "" {
		settings = append(settings, "set cuda api_failures "+s.args.OnAPIError)
	}
	if s.args.Sysroot != "" {
		settings = append(settings, "set sysroot "+s.args.Sysroot)
	}
	for _, c := range settings {
		if _, err := s.client.Execute(ctx, c); err != nil {
			return errors.CommandFailed(c, c, 0, err)
		}
	}

	setup := make([]startup.Command, len(s.args.SetupCommands))
	for i, c := range s.args.SetupCommands {
		setup[i] = startup.Command{Text: c.Text, Description: c.Description, IgnoreFailures: c.IgnoreFailures}
	}
	if err := startup.Run(ctx, s.client, s.args.InitCommands, setup, s.logger); err != nil {
		return err
	}
	return s.target.ConfigureLaunch(ctx, s.client)
}

// abortStart tears down a partially started session and returns the error
// that caused it. Teardown failures are logged, not reported.
func (s *Session) abortStart(cause error) error {
	s.logger.Warn("launch failed, tearing down", zap.Error(cause))
	if err := s.stopBackend(false); err != nil {
		s.logger.Warn("teardown after failed launch", zap.Error(err))
	}
	return cause
}

// abortConfiguration tears down a session whose program never started
// running. The failed response goes out before terminated.
func (s *Session) abortConfiguration(cause error) error {
	cause = s.abortStart(cause)
	s.backendGone = true
	s.running = false
	s.later(func(context.Context) { s.sendTerminated() })
	return cause
}

// stopBackend ends the backend, detaching from the program first when
// detach is set, and releases the target. The backend's exit is still
// reported by the loop if it is running.
func (s *Session) stopBackend(detach bool) error {
	if s.client == nil {
		return nil
	}
	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if detach && !s.backendGone {
		if s.running {
			if _, err := s.client.Execute(ctx, "-exec-interrupt"); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if _, err := s.client.Execute(ctx, "-target-detach"); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.client.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.target.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Session) onConfigurationDone(ctx context.Context, req *dap.ConfigurationDoneRequest) (dap.Message, error) {
	if err := s.requireBackend(req.Command); err != nil {
		return nil, err
	}
	if s.configured {
		return &dap.ConfigurationDoneResponse{Response: newResponse(&req.Request)}, nil
	}
	s.configured = true

	if s.args.StopAtEntry && s.request == launchconfig.RequestLaunch && !s.args.Remote() {
		if _, err := s.client.Execute(ctx, "-break-insert -t main"); err != nil {
			return nil, s.abortConfiguration(errors.CommandFailed("stopAtEntry breakpoint", "-break-insert -t main", 0, err))
		}
	}
	s.resumeRequested = true
	if err := s.target.Run(ctx, s.client); err != nil {
		s.resumeRequested = false
		return nil, s.abortConfiguration(err)
	}
	s.running = true
	s.tracker.MarkRunning()
	s.setStatus(types.SessionStatusRunning)
	return &dap.ConfigurationDoneResponse{Response: newResponse(&req.Request)}, nil
}

// insertBreakpoint inserts one breakpoint and describes the result.
func (s *Session) insertBreakpoint(ctx context.Context, location, condition, hitCondition string) dap.Breakpoint {
	cmd := "-break-insert -f"
	if condition != "" {
		cmd += " -c " + mi.Quote(condition)
	}
	if hitCondition != "" {
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimLeft(hitCondition, ">=")))
		if err != nil || n < 1 {
			return dap.Breakpoint{Verified: false, Message: fmt.Sprintf("unsupported hit condition %q", hitCondition)}
		}
		if n > 1 {
			cmd += fmt.Sprintf(" -i %d", n-1)
		}
	}
	cmd += " " + mi.QuoteIfNeeded(location)

	reply, err := s.client.Execute(ctx, cmd)
	if err != nil {
		return dap.Breakpoint{Verified: false, Message: err.Error()}
	}
	bkpt := reply.Results.Tuple("bkpt")
	bp := dap.Breakpoint{}
	bp.Id, _ = bkpt.Int("number")
	bp.Verified = bkpt.String("pending") == "" && bkpt.String("addr") != "<PENDING>"
	if line, ok := bkpt.Int("line"); ok {
		bp.Line = line
	}
	if path := bkpt.String("fullname"); path != "" {
		bp.Source = &dap.Source{Path: path}
	}
	return bp
}

func (s *Session) deleteBreakpoints(ctx context.Context, numbers []int) {
	if len(numbers) == 0 {
		return
	}
	ids := make([]string, len(numbers))
	for i, n := range numbers {
		ids[i] = strconv.Itoa(n)
	}
	if _, err := s.client.Execute(ctx, "-break-delete "+strings.Join(ids, " ")); err != nil {
		s.logger.Debug("break-delete failed", zap.Ints("breakpoints", numbers), zap.Error(err))
	}
}

func (s *Session) onSetBreakpoints(ctx context.Context, req *dap.SetBreakpointsRequest) (dap.Message, error) {
	if err := s.requireBackend(req.Command); err != nil {
		return nil, err
	}
	if err := s.target.CheckBreakpoints(s.running); err != nil {
		return nil, err
	}
	path := req.Arguments.Source.Path
	if path == "" {
		return nil, errors.InvalidParameter("source.path", path, "a source file path")
	}

	s.deleteBreakpoints(ctx, s.sourceBreakpoints[path])
	var numbers []int
	result := make([]dap.Breakpoint, 0, len(req.Arguments.Breakpoints))
	for _, sb := range req.Arguments.Breakpoints {
		bp := s.insertBreakpoint(ctx, fmt.Sprintf("%s:%d", path, sb.Line), sb.Condition, sb.HitCondition)
		if bp.Id != 0 {
			numbers = append(numbers, bp.Id)
		}
		if bp.Line == 0 {
			bp.Line = sb.Line
		}
		if bp.Source == nil {
			bp.Source = &dap.Source{Path: path}
		}
		result = append(result, bp)
	}
	s.sourceBreakpoints[path] = numbers

	return &dap.SetBreakpointsResponse{
		Response: newResponse(&req.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: result},
	}, nil
}

func (s *Session) onSetFunctionBreakpoints(ctx context.Context, req *dap.SetFunctionBreakpointsRequest) (dap.Message, error) {
	if err := s.requireBackend(req.Command); err != nil {
		return nil, err
	}
	if err := s.target.CheckBreakpoints(s.running); err != nil {
		return nil, err
	}

	s.deleteBreakpoints(ctx, s.functionBreakpoints)
	s.functionBreakpoints = nil
	result := make([]dap.Breakpoint, 0, len(req.Arguments.Breakpoints))
	for _, fb := range req.Arguments.Breakpoints {
		bp := s.insertBreakpoint(ctx, fb.Name, fb.Condition, fb.HitCondition)
		if bp.Id != 0 {
			s.functionBreakpoints = append(s.functionBreakpoints, bp.Id)
		}
		result = append(result, bp)
	}

	return &dap.SetFunctionBreakpointsResponse{
		Response: newResponse(&req.Request),
		Body:     dap.SetFunctionBreakpointsResponseBody{Breakpoints: result},
	}, nil
}

func (s *Session) onThreads(req *dap.ThreadsRequest) (dap.Message, error) {
	threads := []dap.Thread{}
	if s.res != nil {
		threads = s.res.Threads().Threads()
	}
	return &dap.ThreadsResponse{
		Response: newResponse(&req.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}, nil
}

func (s *Session) onStackTrace(ctx context.Context, req *dap.StackTraceRequest) (dap.Message, error) {
	if err := s.requireStopped(req.Command); err != nil {
		return nil, err
	}
	args := req.Arguments
	frames, total, err := s.res.StackTrace(ctx, args.ThreadId, args.StartFrame, args.Levels)
	if err != nil {
		return nil, err
	}
	return &dap.StackTraceResponse{
		Response: newResponse(&req.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: frames, TotalFrames: total},
	}, nil
}

func (s *Session) onScopes(ctx context.Context, req *dap.ScopesRequest) (dap.Message, error) {
	if err := s.requireStopped(req.Command); err != nil {
		return nil, err
	}
	scopes, err := s.res.ScopesFor(ctx, req.Arguments.FrameId)
	if err != nil {
		return nil, err
	}
	return &dap.ScopesResponse{
		Response: newResponse(&req.Request),
		Body:     dap.ScopesResponseBody{Scopes: scopes},
	}, nil
}

func (s *Session) onVariables(ctx context.Context, req *dap.VariablesRequest) (dap.Message, error) {
	if err := s.requireStopped(req.Command); err != nil {
		return nil, err
	}
	vars, err := s.res.Variables(ctx, req.Arguments.VariablesReference)
	if err != nil {
		return nil, err
	}

	start, count := req.Arguments.Start, req.Arguments.Count
	if start > len(vars) {
		start = len(vars)
	}
	end := len(vars)
	if count > 0 && start+count < end {
		end = start + count
	}
	out := make([]dap.Variable, 0, end-start)
	for _, v := range vars[start:end] {
		out = append(out, v.DAP())
	}
	return &dap.VariablesResponse{
		Response: newResponse(&req.Request),
		Body:     dap.VariablesResponseBody{Variables: out},
	}, nil
}

func (s *Session) onSetVariable(ctx context.Context, req *dap.SetVariableRequest) (dap.Message, error) {
	if err := s.requireStopped(req.Command); err != nil {
		return nil, err
	}
	args := req.Arguments
	res, err := s.mutator.SetVariable(ctx, args.VariablesReference, args.Name, args.Value)
	if err != nil {
		return nil, err
	}
	return &dap.SetVariableResponse{
		Response: newResponse(&req.Request),
		Body:     dap.SetVariableResponseBody{Value: res.Value, Type: res.Type},
	}, nil
}

func (s *Session) onEvaluate(ctx context.Context, req *dap.EvaluateRequest) (dap.Message, error) {
	args := req.Arguments
	if args.Context == "repl" && strings.HasPrefix(args.Expression, "`") {
		return s.onConsoleCommand(ctx, req)
	}
	if err := s.requireStopped(req.Command); err != nil {
		return nil, err
	}

	frameID := args.FrameId
	if frameID == 0 {
		id, err := s.focusedFrame(ctx)
		if err != nil {
			return nil, err
		}
		frameID = id
	}
	v, err := s.res.Evaluate(ctx, frameID, args.Expression)
	if err != nil {
		return nil, err
	}
	return &dap.EvaluateResponse{
		Response: newResponse(&req.Request),
		Body: dap.EvaluateResponseBody{
			Result:             v.Value,
			Type:               v.Type,
			VariablesReference: v.Ref,
		},
	}, nil
}

// focusedFrame returns the top frame of the focused thread.
func (s *Session) focusedFrame(ctx context.Context) (int, error) {
	threadID := s.res.Threads().IDFor(s.tracker.Get())
	frames, _, err := s.res.StackTrace(ctx, threadID, 0, 1)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, errors.UnknownReference("frame", 0)
	}
	return frames[0].Id, nil
}

// onConsoleCommand passes a backtick-prefixed REPL line to the backend
// console. The command may have moved the backend's focus, so it is read
// back afterwards.
func (s *Session) onConsoleCommand(ctx context.Context, req *dap.EvaluateRequest) (dap.Message, error) {
	if err := s.requireBackend(req.Command); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(strings.TrimPrefix(req.Arguments.Expression, "`"))
	reply, err := s.client.Execute(ctx, text)
	if err != nil {
		return nil, errors.EvaluationFailed(text, err)
	}

	if s.tracker.Stopped() && !s.running {
		s.res.Forget()
		if f, err := s.readFocus(ctx); err != nil {
			s.logger.Debug("focus query after console command failed", zap.Error(err))
		} else {
			s.tracker.Refresh(f)
		}
	}

	return &dap.EvaluateResponse{
		Response: newResponse(&req.Request),
		Body:     dap.EvaluateResponseBody{Result: strings.TrimRight(reply.ConsoleText(), "\n")},
	}, nil
}

// readFocus asks the backend where it is now: the CUDA focus if a kernel
// is focused, the selected host thread otherwise.
func (s *Session) readFocus(ctx context.Context) (focus.Focus, error) {
	coord, err := s.res.QueryFocus(ctx)
	if err != nil {
		return focus.Focus{}, err
	}
	s.res.Threads().SetActiveDevice(coord)
	if coord != nil {
		return focus.Device(*coord), nil
	}
	id, err := s.res.SelectedHostThread(ctx)
	if err != nil {
		return focus.Focus{}, err
	}
	return focus.Host(id), nil
}

// resume runs an execution command. Every variable reference dies with the
// stop it was issued in.
func (s *Session) resume(ctx context.Context, command string, threadID int) error {
	if err := s.requireStopped(command); err != nil {
		return err
	}
	opts := ""
	if threadID != 0 {
		o, err := s.res.ExecOptions(ctx, threadID)
		if err != nil {
			return err
		}
		opts = o
	}

	s.res.Invalidate(ctx)
	s.resumeRequested = true
	if _, err := s.client.Execute(ctx, command+opts); err != nil {
		s.resumeRequested = false
		return err
	}
	s.running = true
	s.tracker.MarkRunning()
	s.setStatus(types.SessionStatusRunning)
	return nil
}

func (s *Session) onPause(ctx context.Context, req *dap.PauseRequest) (dap.Message, error) {
	if err := s.requireBackend(req.Command); err != nil {
		return nil, err
	}
	if s.running {
		s.pausePending = true
		if _, err := s.client.Execute(ctx, "-exec-interrupt"); err != nil {
			s.pausePending = false
			return nil, err
		}
	}
	return &dap.PauseResponse{Response: newResponse(&req.Request)}, nil
}

func (s *Session) onDisconnect(req *dap.DisconnectRequest) (dap.Message, error) {
	detach := s.target != nil && s.target.Detach()
	if req.Arguments != nil && req.Arguments.TerminateDebuggee {
		detach = false
	}
	if err := s.stopBackend(detach); err != nil {
		s.logger.Warn("disconnect", zap.Error(err))
	}
	s.finished = true
	return &dap.DisconnectResponse{Response: newResponse(&req.Request)}, nil
}

// onTerminate ends the program with the backend; the exit is reported as a
// terminated event by the loop.
func (s *Session) onTerminate(req *dap.TerminateRequest) (dap.Message, error) {
	if err := s.requireBackend(req.Command); err != nil {
		return nil, err
	}
	if err := s.stopBackend(false); err != nil {
		s.logger.Warn("terminate", zap.Error(err))
	}
	return &dap.TerminateResponse{Response: newResponse(&req.Request)}, nil
}

func (s *Session) onChangeCudaFocus(ctx context.Context, req *types.ChangeCudaFocusRequest) (dap.Message, error) {
	resp := &types.ChangeCudaFocusResponse{Response: newResponse(&req.Request)}
	if req.Arguments.Focus == nil {
		resp.Body.Focus = s.tracker.Get().Wire()
		return resp, nil
	}

	if err := s.requireBackend(req.Command); err != nil {
		return nil, err
	}
	target, err := focus.FromWire(req.Arguments.Focus)
	if err != nil {
		return nil, err
	}
	f, err := s.tracker.Set(ctx, target, s.res)
	if err != nil {
		return nil, err
	}
	resp.Body.Focus = f.Wire()
	return resp, nil
}
