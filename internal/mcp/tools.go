package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the debug tool set
func (s *Server) registerTools() {
	// Session Management
	s.registerDebugLaunch()
	s.registerDebugAttach()
	s.registerDebugDisconnect()
	s.registerDebugListSessions()
	s.registerDebugListConfigs()

	// Inspection
	s.registerDebugSnapshot()
	s.registerDebugEvaluate()
	s.registerDebugCudaFocus()

	// Control
	s.registerDebugBreakpoints()
	s.registerDebugStep()
	s.registerDebugContinue()
	s.registerDebugPause()
	s.registerDebugSetVariable()
	s.registerDebugRunToLine()
	s.registerDebugExecuteCommand()
}

// launchConfigOptions are shared by debug_launch and debug_attach.
func launchConfigOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("configPath",
			mcp.Description("Path to launch.json file. Auto-discovers from workspace if not provided."),
		),
		mcp.WithString("configName",
			mcp.Description("Name of a cuda-gdb configuration in launch.json. If provided, loads settings from launch.json."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace root for variable resolution (e.g., ${workspaceFolder}) and config discovery."),
		),
		mcp.WithString("debuggerPath",
			mcp.Description("Path to cuda-gdb. Defaults to the configured path, then PATH and the CUDA toolkit."),
		),
		mcp.WithString("breakpoints",
			mcp.Description("JSON object mapping source paths to line arrays, set before the program starts: {\"/src/kernel.cu\": [12, 40]}"),
		),
		mcp.WithString("functionBreakpoints",
			mcp.Description("JSON array of function names to break on before the program starts: [\"myKernel\"]"),
		),
	}
}

// Session Management Tools

func (s *Server) registerDebugLaunch() {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Launch a CUDA program under cuda-gdb. Can use direct arguments OR reference a VS Code launch.json configuration. Returns sessionId needed for all other tools. With stopAtEntry or breakpoints, waits for the first stop."),
		mcp.WithString("program",
			mcp.Description("Path to the executable to debug. Not required if configName is provided."),
		),
		mcp.WithString("args",
			mcp.Description("Program arguments as a single shell-quoted string"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory for the program"),
		),
		mcp.WithBoolean("stopAtEntry",
			mcp.Description("Stop at main (default: false)"),
		),
		mcp.WithString("onAPIError",
			mcp.Description("CUDA API failure policy: 'stop', 'hide' or 'ignore'"),
		),
	}
	opts = append(opts, launchConfigOptions()...)
	s.mcpServer.AddTool(mcp.NewTool("debug_launch", opts...), s.handleDebugLaunch)
}

func (s *Server) registerDebugAttach() {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Attach cuda-gdb to a running process. Can use direct arguments OR reference a VS Code launch.json configuration."),
		mcp.WithNumber("pid",
			mcp.Description("Process ID to attach to. Not required if configName is provided."),
		),
		mcp.WithString("program",
			mcp.Description("Executable of the process, used for symbols"),
		),
	}
	opts = append(opts, launchConfigOptions()...)
	s.mcpServer.AddTool(mcp.NewTool("debug_attach", opts...), s.handleDebugAttach)
}

func (s *Server) registerDebugDisconnect() {
	tool := mcp.NewTool("debug_disconnect",
		mcp.WithDescription("Disconnect from a debug session. A launched program is terminated; an attached one is detached unless terminateDebuggee is true."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID to disconnect from"),
		),
		mcp.WithBoolean("terminateDebuggee",
			mcp.Description("Terminate the debugged process (default: false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugDisconnect)
}

func (s *Server) registerDebugListSessions() {
	tool := mcp.NewTool("debug_list_sessions",
		mcp.WithDescription("List all active debug sessions"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListSessions)
}

func (s *Server) registerDebugListConfigs() {
	tool := mcp.NewTool("debug_list_configs",
		mcp.WithDescription("List the cuda-gdb configurations of a launch.json file."),
		mcp.WithString("configPath",
			mcp.Description("Path to launch.json file"),
		),
		mcp.WithString("workspace",
			mcp.Description("Directory to search upwards from for .vscode/launch.json (default: current directory)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListConfigs)
}

// Inspection Tools

func (s *Server) registerDebugSnapshot() {
	tool := mcp.NewTool("debug_snapshot",
		mcp.WithDescription("Get complete debug state in ONE call: status, CUDA focus, threads (host threads and the focused device thread), stack traces, scopes, variables and GPU devices. This is the primary inspection tool. Also returns program output received since the last call."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("threadId",
			mcp.Description("Specific thread ID, or omit for all threads"),
		),
		mcp.WithNumber("maxStackDepth",
			mcp.Description("Maximum stack depth to return (default: 10)"),
		),
		mcp.WithBoolean("expandVariables",
			mcp.Description("Expand the variables of the top frames (default: true)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugSnapshot)
}

func (s *Server) registerDebugEvaluate() {
	tool := mcp.NewTool("debug_evaluate",
		mcp.WithDescription("Evaluate one or more expressions in the focused frame. Supports single expression OR batch mode for multiple expressions at once. On device code, expressions see the focused CUDA thread."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("expression",
			mcp.Description("Single expression to evaluate (e.g., 'threadIdx.x', 'a[i] * 2')"),
		),
		mcp.WithString("expressions",
			mcp.Description("JSON array of expressions for batch evaluation: [\"i\", \"blockIdx.x\"]"),
		),
		mcp.WithNumber("frameId",
			mcp.Description("Stack frame ID for context (default: top frame of the focus)"),
		),
		mcp.WithString("context",
			mcp.Description("Evaluation context: 'watch', 'hover', or 'repl' (default: 'watch')"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugEvaluate)
}

func (s *Server) registerDebugCudaFocus() {
	tool := mcp.NewTool("debug_cuda_focus",
		mcp.WithDescription("Query or switch the CUDA focus. Give block and thread for a software coordinate, sm, warp and lane for a hardware coordinate, or hostThreadId for a host thread. With none of them, returns the current focus. Switching requires the program to be stopped."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("block",
			mcp.Description("Block index as 'x,y,z' (missing components are 0)"),
		),
		mcp.WithString("thread",
			mcp.Description("Thread index as 'x,y,z' (missing components are 0)"),
		),
		mcp.WithNumber("sm",
			mcp.Description("Streaming multiprocessor"),
		),
		mcp.WithNumber("warp",
			mcp.Description("Warp on the SM"),
		),
		mcp.WithNumber("lane",
			mcp.Description("Lane in the warp"),
		),
		mcp.WithNumber("hostThreadId",
			mcp.Description("Host thread ID to focus"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugCudaFocus)
}

// Control Tools

func (s *Server) registerDebugBreakpoints() {
	tool := mcp.NewTool("debug_breakpoints",
		mcp.WithDescription("Set breakpoints in a source file, or on functions. Supports conditional breakpoints with 'condition' field. Note: This REPLACES all breakpoints in the file (or all function breakpoints) - include all desired breakpoints in each call."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("path",
			mcp.Description("The source file path. Required unless functions is given."),
		),
		mcp.WithString("breakpoints",
			mcp.Description("JSON array of breakpoints: [{line: number, condition?: string, hitCondition?: string}]"),
		),
		mcp.WithString("functions",
			mcp.Description("JSON array of function breakpoints: [{name: string, condition?: string}]"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugBreakpoints)
}

func (s *Server) registerDebugStep() {
	tool := mcp.NewTool("debug_step",
		mcp.WithDescription("Execute a step command and wait for the next stop. Use type='over' to step to next line, 'into' to enter function calls, 'out' to exit current function. Stepping a device thread steps its warp."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("threadId",
			mcp.Required(),
			mcp.Description("The thread ID to step"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Step type: 'over' (next line), 'into' (enter function), 'out' (exit function)"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for the stop (default: 30)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStep)
}

func (s *Server) registerDebugContinue() {
	tool := mcp.NewTool("debug_continue",
		mcp.WithDescription("Continue program execution. With wait=true, blocks until the next stop or program end."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the program to stop or exit (default: true)"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait (default: 30)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugContinue)
}

func (s *Server) registerDebugPause() {
	tool := mcp.NewTool("debug_pause",
		mcp.WithDescription("Pause program execution. Use when program is running and you need to inspect state."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugPause)
}

func (s *Server) registerDebugSetVariable() {
	tool := mcp.NewTool("debug_set_variable",
		mcp.WithDescription("Modify the value of a variable while stopped. Use variablesReference from debug_snapshot to identify the container. Every variables reference handed out before the write becomes stale; take a new snapshot afterwards."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("variablesReference",
			mcp.Required(),
			mcp.Description("The variables reference containing the variable (from debug_snapshot)"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("The variable name to modify"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("The new value to set"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugSetVariable)
}

func (s *Server) registerDebugRunToLine() {
	tool := mcp.NewTool("debug_run_to_line",
		mcp.WithDescription("Run until execution reaches a specific line. Sets a temporary breakpoint, continues, waits for the stop and returns a snapshot."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("The source file path"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("The line number to run to"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait (default: 30)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugRunToLine)
}

func (s *Server) registerDebugExecuteCommand() {
	tool := mcp.NewTool("debug_execute_command",
		mcp.WithDescription("Execute a cuda-gdb CLI command and return its console output. "+
			"Examples: 'info cuda kernels', 'info cuda warps', 'cuda block 1 thread 3', 'x/4wx &a'. "+
			"Focus switches made this way are picked up by the session."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The debugger command to execute"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugExecuteCommand)
}
