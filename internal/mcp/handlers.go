package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-dap"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	cdap "github.com/ctagard/cuda-dap/internal/dap"
	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/launchconfig"
	"github.com/ctagard/cuda-dap/internal/mi"
	"github.com/ctagard/cuda-dap/pkg/types"
)

const (
	// requestTimeout bounds a single protocol round trip.
	requestTimeout = 30 * time.Second
	// defaultWait is how long execution tools wait for a stop.
	defaultWait = 30 * time.Second
	// snapshotScopeFrames is how many top frames get their scopes listed.
	snapshotScopeFrames = 3
	// snapshotVariables caps the variables listed per scope.
	snapshotVariables = 50
)

// stopEvents end a wait for execution to come to rest.
var stopEvents = []string{"stopped", "terminated"}

// Session Management Handlers

func (s *Server) handleDebugLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.start(ctx, request, launchconfig.RequestLaunch)
}

func (s *Server) handleDebugAttach(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.start(ctx, request, launchconfig.RequestAttach)
}

// start runs the whole startup handshake for launch and attach: initialize,
// the request itself, initial breakpoints and configurationDone.
func (s *Server) start(ctx context.Context, request mcp.CallToolRequest, kind launchconfig.Request) (*mcp.CallToolResult, error) {
	args, err := s.startArguments(request, kind)
	if err != nil {
		return toolError(err)
	}

	sourceBreakpoints, err := parseInitialBreakpoints(request.GetString("breakpoints", ""))
	if err != nil {
		return toolError(err)
	}
	functionBreakpoints, err := parseFunctionNames(request.GetString("functionBreakpoints", ""))
	if err != nil {
		return toolError(err)
	}

	program, _ := args["program"].(string)
	sess, err := s.registry.Create(kind, program)
	if err != nil {
		return toolError(err)
	}
	logger := s.logger.With(zap.String("session", sess.ID))

	fail := func(err error) (*mcp.CallToolResult, error) {
		if terr := s.registry.Terminate(sess.ID, true); terr != nil {
			logger.Debug("cleanup after failed start", zap.Error(terr))
		}
		return toolError(err)
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client := sess.Client()
	if _, err := client.Initialize(rctx, "cuda-dap-mcp"); err != nil {
		return fail(err)
	}
	if kind == launchconfig.RequestAttach {
		_, err = client.Attach(rctx, args)
	} else {
		_, err = client.Launch(rctx, args)
	}
	if err != nil {
		return fail(err)
	}
	if _, err := client.WaitForEvent(rctx, "initialized"); err != nil {
		return fail(err)
	}

	verified := make(map[string]any)
	for path, lines := range sourceBreakpoints {
		bps := lo.Map(lines, func(line int, _ int) dap.SourceBreakpoint {
			return dap.SourceBreakpoint{Line: line}
		})
		result, err := client.SetBreakpoints(rctx, path, bps)
		if err != nil {
			return fail(err)
		}
		verified[path] = breakpointList(result)
	}
	if len(functionBreakpoints) > 0 {
		result, err := client.SetFunctionBreakpoints(rctx, functionBreakpoints)
		if err != nil {
			return fail(err)
		}
		verified["functions"] = breakpointList(result)
	}

	if err := client.ConfigurationDone(rctx); err != nil {
		return fail(err)
	}
	logger.Info("session started", zap.String("request", string(kind)), zap.String("program", program))

	result := map[string]any{
		"sessionId": sess.ID,
		"request":   string(kind),
		"program":   program,
	}
	if len(verified) > 0 {
		result["breakpoints"] = verified
	}

	stopAtEntry, _ := args["stopAtEntry"].(bool)
	if kind == launchconfig.RequestLaunch && (stopAtEntry || len(verified) > 0) {
		for k, v := range waitForStop(ctx, sess, defaultWait) {
			result[k] = v
		}
	} else {
		result["status"] = string(sess.Status())
	}
	return jsonResult(result)
}

// startArguments builds the launch or attach arguments from a launch.json
// entry, if one is named, overlaid with the direct tool arguments.
func (s *Server) startArguments(request mcp.CallToolRequest, kind launchconfig.Request) (map[string]any, error) {
	args := make(map[string]any)

	if name := request.GetString("configName", ""); name != "" {
		fromFile, err := loadConfiguration(request, name, kind)
		if err != nil {
			return nil, err
		}
		args = fromFile
	}

	for _, key := range []string{"program", "args", "cwd", "onAPIError", "debuggerPath"} {
		if v := request.GetString(key, ""); v != "" {
			args[key] = v
		}
	}
	if request.GetBool("stopAtEntry", false) {
		args["stopAtEntry"] = true
	}
	if pid := request.GetFloat("pid", 0); pid > 0 {
		args["processId"] = int(pid)
	}

	switch kind {
	case launchconfig.RequestLaunch:
		if args["program"] == nil && args["target"] == nil {
			return nil, errors.MissingParameter("program",
				"Specify the path to the CUDA executable to debug. Alternatively, use configName to load from launch.json.")
		}
	case launchconfig.RequestAttach:
		if args["processId"] == nil && args["target"] == nil {
			return nil, errors.MissingParameter("pid",
				"Specify the process ID to attach to. Alternatively, use configName to load an attach configuration from launch.json.")
		}
	}
	return args, nil
}

// loadConfiguration finds, checks and resolves a launch.json entry.
func loadConfiguration(request mcp.CallToolRequest, name string, kind launchconfig.Request) (map[string]any, error) {
	workspace := request.GetString("workspace", "")
	path := request.GetString("configPath", "")
	if path == "" {
		found, err := launchconfig.Discover(workspace)
		if err != nil {
			return nil, errors.ConfigInvalid("configPath", err.Error())
		}
		path = found
	}
	if workspace == "" {
		workspace = launchconfig.WorkspaceFolder(path)
	}

	lj, err := launchconfig.LoadFromPath(path)
	if err != nil {
		return nil, errors.ConfigInvalid("configPath", err.Error())
	}
	cfg, err := launchconfig.FindConfiguration(lj, name)
	if err != nil {
		return nil, errors.ConfigInvalid("configName", err.Error())
	}
	if cfg.Request != kind {
		return nil, errors.InvalidParameter("configName", name, fmt.Sprintf("a %s configuration", kind))
	}
	if err := cfg.Resolve(&launchconfig.ResolutionContext{WorkspaceFolder: workspace}); err != nil {
		return nil, errors.ConfigInvalid("configName", err.Error())
	}

	var args map[string]any
	if err := json.Unmarshal(cfg.Raw, &args); err != nil {
		return nil, errors.ConfigInvalid("configName", err.Error())
	}
	return args, nil
}

func (s *Server) handleDebugDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return toolError(errors.MissingParameter("sessionId", "Provide the sessionId returned from debug_launch or debug_attach."))
	}

	terminate := request.GetBool("terminateDebuggee", false)
	if err := s.registry.Terminate(sessionID, terminate); err != nil {
		return toolError(err)
	}

	return jsonResult(map[string]any{
		"status":    "disconnected",
		"sessionId": sessionID,
	})
}

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := lo.Map(s.registry.List(), func(sess *Session, _ int) map[string]any {
		return map[string]any{
			"id":        sess.ID,
			"request":   string(sess.Request),
			"program":   sess.Program,
			"status":    string(sess.Status()),
			"createdAt": sess.CreatedAt.Format(time.RFC3339),
		}
	})

	return jsonResult(map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleDebugListConfigs lists the cuda-gdb configurations of a launch.json file
func (s *Server) handleDebugListConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("configPath", "")
	if path == "" {
		found, err := launchconfig.Discover(request.GetString("workspace", ""))
		if err != nil {
			return toolError(errors.ConfigInvalid("configPath", err.Error()))
		}
		path = found
	}

	lj, err := launchconfig.LoadFromPath(path)
	if err != nil {
		return toolError(errors.ConfigInvalid("configPath", err.Error()))
	}

	configs := launchconfig.ListConfigurations(lj)
	if configs == nil {
		configs = []launchconfig.ConfigurationInfo{}
	}
	return jsonResult(map[string]any{
		"configPath":     path,
		"configurations": configs,
	})
}

// Inspection Handlers

func (s *Server) handleDebugSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	var threadID int
	if tid := request.GetFloat("threadId", 0); tid > 0 {
		threadID = int(tid)
	}
	depth := int(request.GetFloat("maxStackDepth", 10))
	expand := request.GetBool("expandVariables", true)

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return jsonResult(snapshot(rctx, sess, threadID, depth, expand))
}

// snapshot gathers everything observable about a session in one value.
// Inspection is skipped unless the program is stopped.
func snapshot(ctx context.Context, sess *Session, threadID, depth int, expand bool) map[string]any {
	client := sess.Client()
	status := sess.Status()
	result := map[string]any{
		"sessionId": sess.ID,
		"status":    string(status),
	}

	if focus, err := client.ChangeCudaFocus(ctx, nil); err == nil {
		result["focus"] = focus
	}
	if info := systemInfo(sess); info != nil {
		result["devices"] = info.Devices
	}

	output, events := drainEvents(sess)
	if output != "" {
		result["output"] = output
	}
	if len(events) > 0 {
		result["events"] = events
	}

	if status != types.SessionStatusStopped {
		return result
	}

	threads, err := client.Threads(ctx)
	if err != nil {
		result["error"] = err.Error()
		return result
	}

	threadsInfo := make([]map[string]any, 0, len(threads))
	stacks := make(map[string]any)
	scopes := make(map[string]any)
	variables := make(map[string]any)

	for _, thread := range threads {
		if threadID != 0 && thread.Id != threadID {
			continue
		}
		threadsInfo = append(threadsInfo, map[string]any{
			"id":   thread.Id,
			"name": thread.Name,
		})

		frames, _, err := client.StackTrace(ctx, thread.Id, 0, depth)
		if err != nil {
			continue
		}

		framesList := make([]map[string]any, len(frames))
		for i, f := range frames {
			frame := map[string]any{
				"id":   f.Id,
				"name": f.Name,
				"line": f.Line,
			}
			if f.Source != nil {
				frame["source"] = map[string]any{
					"path": f.Source.Path,
					"name": f.Source.Name,
				}
			}
			framesList[i] = frame

			if i >= snapshotScopeFrames {
				continue
			}
			frameScopes, err := client.Scopes(ctx, f.Id)
			if err != nil {
				continue
			}
			scopesList := make([]map[string]any, len(frameScopes))
			for j, scope := range frameScopes {
				scopesList[j] = map[string]any{
					"name":               scope.Name,
					"variablesReference": scope.VariablesReference,
				}
				if !expand || scope.VariablesReference == 0 || scope.Expensive {
					continue
				}
				vars, err := client.Variables(ctx, scope.VariablesReference, 0, snapshotVariables)
				if err != nil {
					continue
				}
				variables[strconv.Itoa(scope.VariablesReference)] = variableList(vars)
			}
			scopes[strconv.Itoa(f.Id)] = scopesList
		}
		stacks[strconv.Itoa(thread.Id)] = framesList
	}

	result["threads"] = threadsInfo
	result["stacks"] = stacks
	result["scopes"] = scopes
	if expand {
		result["variables"] = variables
	}
	return result
}

// systemInfo returns the most recent device topology the session reported.
func systemInfo(sess *Session) *types.SystemInfo {
	history := sess.Client().History()
	for i := len(history) - 1; i >= 0; i-- {
		if ev, ok := history[i].(*types.SystemInfoEvent); ok {
			return ev.Body.SystemInfo
		}
	}
	return nil
}

// drainEvents consumes queued events, returning the program output they
// carried and the names of the others.
func drainEvents(sess *Session) (string, []string) {
	var output strings.Builder
	var names []string
	for _, ev := range sess.Client().DrainEvents() {
		if out, ok := ev.(*dap.OutputEvent); ok {
			output.WriteString(out.Body.Output)
			continue
		}
		names = append(names, ev.GetEvent().Event)
	}
	return output.String(), names
}

// handleDebugEvaluate consolidates single and batch expression evaluation
func (s *Server) handleDebugEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	client := sess.Client()

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	// Zero selects the focused frame.
	frameID := int(request.GetFloat("frameId", 0))

	if expressionsJSON := request.GetString("expressions", ""); expressionsJSON != "" {
		var expressions []string
		if err := json.Unmarshal([]byte(expressionsJSON), &expressions); err != nil {
			return toolError(errors.InvalidParameter("expressions", expressionsJSON, `a JSON array of strings, e.g. ["i", "blockIdx.x"]`))
		}

		results := make([]map[string]any, len(expressions))
		for i, expr := range expressions {
			result, err := client.Evaluate(rctx, expr, frameID, "watch")
			if err != nil {
				results[i] = map[string]any{
					"expression": expr,
					"error":      err.Error(),
				}
				continue
			}
			results[i] = map[string]any{
				"expression":         expr,
				"result":             result.Result,
				"type":               result.Type,
				"variablesReference": result.VariablesReference,
			}
		}

		return jsonResult(map[string]any{
			"evaluations": results,
		})
	}

	expression, err := request.RequireString("expression")
	if err != nil {
		return toolError(errors.MissingParameter("expression",
			"Provide either 'expression' for a single evaluation (e.g., \"threadIdx.x\") or 'expressions' for batch evaluation (e.g., [\"i\", \"n\"])."))
	}

	result, err := client.Evaluate(rctx, expression, frameID, request.GetString("context", "watch"))
	if err != nil {
		return toolError(err)
	}

	return jsonResult(map[string]any{
		"result":             result.Result,
		"type":               result.Type,
		"variablesReference": result.VariablesReference,
	})
}

func (s *Server) handleDebugCudaFocus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	target, err := focusTarget(request)
	if err != nil {
		return toolError(err)
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	focus, err := sess.Client().ChangeCudaFocus(rctx, target)
	if err != nil {
		return toolError(err)
	}

	return jsonResult(map[string]any{
		"focus": focus,
	})
}

// focusTarget builds the requested focus, or nil when the call only queries.
func focusTarget(request mcp.CallToolRequest) (*types.CudaFocus, error) {
	args := request.GetArguments()
	has := func(key string) bool {
		_, ok := args[key]
		return ok
	}

	switch {
	case has("hostThreadId"):
		return types.HostFocus(int(request.GetFloat("hostThreadId", 0))), nil

	case has("sm") || has("warp") || has("lane"):
		sm := int(request.GetFloat("sm", 0))
		warp := int(request.GetFloat("warp", 0))
		lane := int(request.GetFloat("lane", 0))
		return &types.CudaFocus{Type: types.FocusTypeHardware, Sm: &sm, Warp: &warp, Lane: &lane}, nil

	case has("block") || has("thread"):
		block, err := parseDim3("block", request.GetString("block", ""))
		if err != nil {
			return nil, err
		}
		thread, err := parseDim3("thread", request.GetString("thread", ""))
		if err != nil {
			return nil, err
		}
		return types.SoftwareFocus(block, thread), nil
	}
	return nil, nil
}

// parseDim3 reads "x", "x,y" or "x,y,z"; missing components are zero.
func parseDim3(param, text string) (types.Dim3, error) {
	var d types.Dim3
	text = strings.Trim(strings.TrimSpace(text), "()")
	if text == "" {
		return d, nil
	}
	parts := strings.Split(text, ",")
	if len(parts) > 3 {
		return d, errors.InvalidParameter(param, text, "up to three comma-separated integers, e.g. '1,0,0'")
	}
	dst := []*int{&d.X, &d.Y, &d.Z}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return d, errors.InvalidParameter(param, text, "up to three comma-separated non-negative integers, e.g. '1,0,0'")
		}
		*dst[i] = n
	}
	return d, nil
}

// Control Handlers

func (s *Server) handleDebugBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	client := sess.Client()

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if functionsJSON := request.GetString("functions", ""); functionsJSON != "" {
		var bps []dap.FunctionBreakpoint
		if err := json.Unmarshal([]byte(functionsJSON), &bps); err != nil {
			return toolError(errors.InvalidParameter("functions", functionsJSON, `a JSON array like [{"name": "myKernel"}]`))
		}
		result, err := client.SetFunctionBreakpoints(rctx, bps)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{
			"breakpoints": breakpointList(result),
		})
	}

	path, err := request.RequireString("path")
	if err != nil {
		return toolError(errors.MissingParameter("path", "Provide the source file path, or 'functions' for function breakpoints."))
	}
	var bps []dap.SourceBreakpoint
	if breakpointsJSON := request.GetString("breakpoints", ""); breakpointsJSON != "" {
		if err := json.Unmarshal([]byte(breakpointsJSON), &bps); err != nil {
			return toolError(errors.InvalidParameter("breakpoints", breakpointsJSON, `a JSON array like [{"line": 12, "condition": "i == 3"}]`))
		}
	}

	result, err := client.SetBreakpoints(rctx, path, bps)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{
		"path":        path,
		"breakpoints": breakpointList(result),
	})
}

func (s *Server) handleDebugStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	threadID, err := request.RequireFloat("threadId")
	if err != nil {
		return toolError(errors.MissingParameter("threadId", "Use a thread id from debug_snapshot."))
	}
	stepType, err := request.RequireString("type")
	if err != nil {
		return toolError(errors.MissingParameter("type", "Use 'over', 'into' or 'out'."))
	}

	client := sess.Client()
	var step func(context.Context, int) error
	switch stepType {
	case "over":
		step = client.Next
	case "into":
		step = client.StepIn
	case "out":
		step = client.StepOut
	default:
		return toolError(errors.InvalidParameter("type", stepType, "'over', 'into', or 'out'"))
	}

	return s.resumeAndWait(ctx, request, sess, func(ctx context.Context) error {
		return step(ctx, int(threadID))
	})
}

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	client := sess.Client()

	resume := func(ctx context.Context) error {
		return client.Continue(ctx, 0)
	}
	if !request.GetBool("wait", true) {
		sess.Client().DrainEvents(stopEvents...)
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := resume(rctx); err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{
			"status": string(sess.Status()),
		})
	}
	return s.resumeAndWait(ctx, request, sess, resume)
}

// resumeAndWait resumes execution and waits for the program to come to rest
// again, dropping stop events left over from earlier.
func (s *Server) resumeAndWait(ctx context.Context, request mcp.CallToolRequest, sess *Session, resume func(context.Context) error) (*mcp.CallToolResult, error) {
	sess.Client().DrainEvents(stopEvents...)

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := resume(rctx); err != nil {
		return toolError(err)
	}

	return jsonResult(waitForStop(ctx, sess, waitTimeout(request)))
}

// waitForStop describes how execution came to rest, or reports the program
// still running once timeout passes.
func waitForStop(ctx context.Context, sess *Session, timeout time.Duration) map[string]any {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ev, err := sess.Client().WaitForEvent(wctx, stopEvents...)
	if err != nil {
		return map[string]any{
			"status": string(sess.Status()),
			"note":   fmt.Sprintf("no stop within %s; use debug_pause or debug_snapshot", timeout),
		}
	}

	switch ev := ev.(type) {
	case *dap.StoppedEvent:
		result := map[string]any{
			"status": "stopped",
			"reason": ev.Body.Reason,
		}
		if ev.Body.ThreadId != 0 {
			result["threadId"] = ev.Body.ThreadId
		}
		if ev.Body.Description != "" {
			result["description"] = ev.Body.Description
		}
		return result
	default:
		return map[string]any{
			"status": string(types.SessionStatusTerminated),
		}
	}
}

func waitTimeout(request mcp.CallToolRequest) time.Duration {
	if secs := request.GetFloat("timeout", 0); secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultWait
}

func (s *Server) handleDebugPause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	sess.Client().DrainEvents(stopEvents...)
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := sess.Client().Pause(rctx, 0); err != nil {
		return toolError(err)
	}

	return jsonResult(waitForStop(ctx, sess, waitTimeout(request)))
}

func (s *Server) handleDebugSetVariable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	ref, err := request.RequireFloat("variablesReference")
	if err != nil {
		return toolError(errors.MissingParameter("variablesReference", "Use a variablesReference from debug_snapshot."))
	}
	name, err := request.RequireString("name")
	if err != nil {
		return toolError(errors.MissingParameter("name", "Provide the variable name."))
	}
	value, err := request.RequireString("value")
	if err != nil {
		return toolError(errors.MissingParameter("value", "Provide the new value."))
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	result, err := sess.Client().SetVariable(rctx, int(ref), name, value)
	if err != nil {
		return toolError(err)
	}

	return jsonResult(map[string]any{
		"value":              result.Value,
		"type":               result.Type,
		"variablesReference": result.VariablesReference,
	})
}

func (s *Server) handleDebugRunToLine(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(errors.MissingParameter("path", "Provide the source file path."))
	}
	line, err := request.RequireFloat("line")
	if err != nil {
		return toolError(errors.MissingParameter("line", "Provide the line number."))
	}
	client := sess.Client()

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	location := fmt.Sprintf("%s:%d", path, int(line))
	if _, err := client.Evaluate(rctx, "`-break-insert -t "+mi.QuoteIfNeeded(location), 0, "repl"); err != nil {
		return toolError(err)
	}

	client.DrainEvents(stopEvents...)
	if err := client.Continue(rctx, 0); err != nil {
		return toolError(err)
	}

	stop := waitForStop(ctx, sess, waitTimeout(request))
	if stop["status"] != "stopped" {
		return jsonResult(stop)
	}
	threadID, _ := stop["threadId"].(int)
	sctx, scancel := context.WithTimeout(ctx, requestTimeout)
	defer scancel()
	result := snapshot(sctx, sess, threadID, 10, true)
	result["stop"] = stop
	return jsonResult(result)
}

func (s *Server) handleDebugExecuteCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	command, err := request.RequireString("command")
	if err != nil {
		return toolError(errors.MissingParameter("command", "Provide a cuda-gdb command, e.g. 'info cuda kernels'."))
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	result, err := sess.Client().Evaluate(rctx, "`"+command, 0, "repl")
	if err != nil {
		return toolError(err)
	}

	return jsonResult(map[string]any{
		"output": result.Result,
	})
}

// Helper functions

func (s *Server) getSession(request mcp.CallToolRequest) (*Session, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errors.MissingParameter("sessionId", "Provide the sessionId returned from debug_launch or debug_attach. Use debug_list_sessions to see active sessions.")
	}
	return s.registry.Get(sessionID)
}

// parseInitialBreakpoints reads {"path": [lines...]}.
func parseInitialBreakpoints(text string) (map[string][]int, error) {
	if text == "" {
		return nil, nil
	}
	var bps map[string][]int
	if err := json.Unmarshal([]byte(text), &bps); err != nil {
		return nil, errors.InvalidParameter("breakpoints", text, `a JSON object like {"/src/kernel.cu": [12, 40]}`)
	}
	return bps, nil
}

func parseFunctionNames(text string) ([]dap.FunctionBreakpoint, error) {
	if text == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(text), &names); err != nil {
		return nil, errors.InvalidParameter("functionBreakpoints", text, `a JSON array like ["myKernel"]`)
	}
	return lo.Map(names, func(name string, _ int) dap.FunctionBreakpoint {
		return dap.FunctionBreakpoint{Name: name}
	}), nil
}

func breakpointList(bps []dap.Breakpoint) []map[string]any {
	return lo.Map(bps, func(bp dap.Breakpoint, _ int) map[string]any {
		entry := map[string]any{
			"id":       bp.Id,
			"verified": bp.Verified,
			"line":     bp.Line,
		}
		if bp.Message != "" {
			entry["message"] = bp.Message
		}
		return entry
	})
}

func variableList(vars []dap.Variable) []map[string]any {
	return lo.Map(vars, func(v dap.Variable, _ int) map[string]any {
		return map[string]any{
			"name":               v.Name,
			"value":              v.Value,
			"type":               v.Type,
			"variablesReference": v.VariablesReference,
		}
	})
}

// toolError reports err to the caller, prefixed with its error code when it
// has one.
func toolError(err error) (*mcp.CallToolResult, error) {
	msg := err.Error()
	var de *errors.DebugError
	var re *cdap.ResponseError
	switch {
	case stderrors.As(err, &de):
		msg = fmt.Sprintf("%s: %s", de.Code, msg)
	case stderrors.As(err, &re) && re.Code() != "":
		msg = fmt.Sprintf("%s: %s", re.Code(), msg)
	}
	return mcp.NewToolResultError(msg), nil
}

func jsonResult(data any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
