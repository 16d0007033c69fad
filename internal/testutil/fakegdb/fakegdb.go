// Package fakegdb simulates enough of cuda-gdb's machine interface to run
// the adapter end to end without a GPU: a program that stops in main,
// launches one kernel and exits.
package fakegdb

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/focus"
	"github.com/ctagard/cuda-dap/internal/mi"
	"github.com/ctagard/cuda-dap/pkg/types"
)

type runState int

const (
	stateLoaded runState = iota
	stateStopped
	stateRunning
	stateExited
)

type breakpoint struct {
	number    int
	line      int
	temporary bool
	cond      string
	ignore    int
	hits      int
	pending   bool
}

type varobj struct {
	v   *value
	typ string
}

// target is what a query addresses: a host thread or a device coordinate.
type target struct {
	device bool
	thread int
	coord  focus.Coordinate
}

type simulator struct {
	opts Options
	prog *Program
	conn *Conn

	state    runState
	pos      int
	bkpts    map[int]*breakpoint
	nextBkpt int

	// cudaFocus is the device coordinate while stopped in the kernel.
	cudaFocus *focus.Coordinate
	// hostSelected is set when a host thread was selected explicitly.
	hostSelected bool
	// hostThread is the thread -thread-select picked, zero for the main one.
	hostThread int

	host       *scope
	hostRegs   *registers
	devices    map[focus.Coordinate]*scope
	deviceRegs map[focus.Coordinate]*registers
	conv       map[string]*value
	varobjs    map[string]*varobj
	nextVar    int
}

func newSimulator(opts Options, conn *Conn) *simulator {
	return &simulator{
		opts:       opts,
		prog:       opts.Program,
		conn:       conn,
		bkpts:      make(map[int]*breakpoint),
		host:       hostScope(),
		hostRegs:   hostRegisters(),
		devices:    make(map[focus.Coordinate]*scope),
		deviceRegs: make(map[focus.Coordinate]*registers),
		conv:       make(map[string]*value),
		varobjs:    make(map[string]*varobj),
	}
}

func (s *simulator) emit(line string) {
	s.conn.emit(line)
}

func (s *simulator) done(token string, fields ...field) {
	if len(fields) == 0 {
		s.emit(token + "^done")
		return
	}
	s.emit(token + "^done," + encodeResults(fields))
}

func (s *simulator) fail(token, msg string) {
	s.emit(token + "^error,msg=" + mi.Quote(msg))
}

func (s *simulator) console(text string) {
	s.emit("~" + mi.Quote(text))
}

func (s *simulator) handle(token, command string) {
	for prefix, msg := range s.opts.FailCommands {
		if strings.HasPrefix(command, prefix) {
			s.fail(token, msg)
			return
		}
	}

	if !strings.HasPrefix(command, "-") {
		s.consoleCommand(token, command)
		return
	}

	args, err := shellquote.Split(command)
	if err != nil || len(args) == 0 {
		s.fail(token, fmt.Sprintf("Unable to parse command %q", command))
		return
	}
	name, args := args[0], args[1:]

	switch name {
	case "-gdb-version":
		for _, line := range strings.SplitAfter(s.opts.Banner, "\n") {
			if line != "" {
				s.console(line)
			}
		}
		s.done(token)
	case "-gdb-set", "-environment-cd", "-file-exec-and-symbols", "-exec-arguments",
		"-enable-pretty-printing", "-inferior-tty-set":
		s.done(token)
	case "-gdb-exit":
		s.emit(token + "^exit")
		s.conn.terminate(backend.ExitEvent{Kind: backend.ExitNormal})
	case "-break-insert":
		s.breakInsert(token, args)
	case "-break-delete":
		s.breakDelete(token, args)
	case "-exec-run":
		s.run(token)
	case "-exec-continue":
		s.resume(token, "continue")
	case "-exec-next", "-exec-step":
		s.resume(token, "step")
	case "-exec-finish":
		s.resume(token, "finish")
	case "-exec-interrupt":
		s.interrupt(token)
	case "-target-attach", "-target-select":
		s.attach(token)
	case "-target-detach":
		s.detach(token)
	case "-thread-info":
		s.threadInfo(token)
	case "-thread-select":
		s.threadSelect(token, args)
	case "-stack-list-frames":
		s.stackListFrames(token, args)
	case "-stack-list-variables":
		s.stackListVariables(token, args)
	case "-var-create":
		s.varCreate(token, args)
	case "-var-list-children":
		s.varListChildren(token, args)
	case "-var-assign":
		s.varAssign(token, args)
	case "-var-delete":
		s.varDelete(token, args)
	case "-data-list-register-names":
		s.registerNames(token, args)
	case "-data-list-register-values":
		s.registerValues(token, args)
	case "-data-evaluate-expression":
		s.evaluate(token, args)
	default:
		s.fail(token, fmt.Sprintf("Undefined MI command: %s", strings.TrimPrefix(name, "-")))
	}
}

var (
	blockThreadPattern = regexp.MustCompile(`^cuda block \((\d+),(\d+),(\d+)\) thread \((\d+),(\d+),(\d+)\)$`)
	hardwarePattern    = regexp.MustCompile(`^cuda sm (\d+) warp (\d+) lane (\d+)$`)
	threadOnlyPattern  = regexp.MustCompile(`^cuda thread (\d+)$`)
)

func (s *simulator) consoleCommand(token, command string) {
	command = strings.TrimSpace(command)
	switch {
	case command == "cuda block thread":
		if !s.deviceSelected() {
			s.fail(token, "Focus not set on any active CUDA kernel.")
			return
		}
		c := *s.cudaFocus
		s.console(fmt.Sprintf("block %s, thread %s\n", c.Block, c.Thread))
		s.done(token)
	case blockThreadPattern.MatchString(command):
		m := atoiAll(blockThreadPattern.FindStringSubmatch(command)[1:])
		s.switchFocus(token, focus.Coordinate{
			Block:  types.Dim3{X: m[0], Y: m[1], Z: m[2]},
			Thread: types.Dim3{X: m[3], Y: m[4], Z: m[5]},
		})
	case threadOnlyPattern.MatchString(command):
		m := atoiAll(threadOnlyPattern.FindStringSubmatch(command)[1:])
		c := focus.Coordinate{Thread: types.Dim3{X: m[0]}}
		if s.cudaFocus != nil {
			c.Block = s.cudaFocus.Block
		}
		s.switchFocus(token, c)
	case hardwarePattern.MatchString(command):
		m := atoiAll(hardwarePattern.FindStringSubmatch(command)[1:])
		if m[0] != 0 || m[1] != 0 {
			s.fail(token, "Request cannot be satisfied. CUDA focus unchanged.")
			return
		}
		s.switchFocus(token, focus.Coordinate{Thread: types.Dim3{X: m[2]}})
	case command == "info cuda devices":
		s.infoDevices(token)
	case strings.HasPrefix(command, "set "):
		expr := strings.TrimPrefix(command, "set ")
		expr = strings.TrimPrefix(expr, "var ")
		if strings.HasPrefix(expr, "$") {
			if _, err := s.evaluator(s.current()).eval(expr); err != nil {
				s.fail(token, err.Error())
				return
			}
		}
		s.done(token)
	case strings.HasPrefix(command, "print ") || strings.HasPrefix(command, "p "):
		_, expr, _ := strings.Cut(command, " ")
		v, err := s.evaluator(s.current()).eval(expr)
		if err != nil {
			s.fail(token, err.Error())
			return
		}
		s.console(fmt.Sprintf("$1 = %s\n", v.display()))
		s.done(token)
	case strings.HasPrefix(command, "symbol-file") || command == "load" || strings.HasPrefix(command, "load "):
		s.done(token)
	default:
		word, _, _ := strings.Cut(command, " ")
		s.fail(token, fmt.Sprintf("Undefined command: %q.  Try \"help\".", word))
	}
}

func atoiAll(ss []string) []int {
	out := make([]int, len(ss))
	for i, v := range ss {
		out[i], _ = strconv.Atoi(v)
	}
	return out
}

func (s *simulator) atDevice() bool {
	return s.state == stateStopped && s.prog.Path[s.pos].Device
}

func (s *simulator) deviceSelected() bool {
	return s.atDevice() && s.cudaFocus != nil && !s.hostSelected
}

func (s *simulator) switchFocus(token string, c focus.Coordinate) {
	if !s.atDevice() {
		s.fail(token, "Focus not set on any active CUDA kernel.")
		return
	}
	if c.Block != (types.Dim3{}) || c.Thread.Y != 0 || c.Thread.Z != 0 ||
		c.Thread.X < 0 || c.Thread.X >= s.prog.BlockDim {
		s.fail(token, "Request cannot be satisfied. CUDA focus unchanged.")
		return
	}
	s.cudaFocus = &c
	s.hostSelected = false
	s.console(switchingLine(c))
	s.done(token)
}

func switchingLine(c focus.Coordinate) string {
	return fmt.Sprintf("[Switching focus to CUDA kernel 0, grid 1, block %s, thread %s, device 0, sm 0, warp 0, lane %d]\n",
		c.Block, c.Thread, c.Thread.X)
}

func (s *simulator) infoDevices(token string) {
	s.console("  Dev PCI Bus/Dev ID                Name Description SM Type SMs Warps/SM Lanes/Warp Max Regs/Lane Active SMs Mask\n")
	s.console("*   0        01:00.0 NVIDIA GeForce RTX 3080    GA102-A   sm_86  68       48         32           256 0x00000000000000000000000000000000\n")
	s.done(token)
}

// Breakpoints

func (s *simulator) breakInsert(token string, args []string) {
	bp := &breakpoint{}
	force := false
	var location string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			force = true
		case "-t":
			bp.temporary = true
		case "-c":
			i++
			if i < len(args) {
				bp.cond = args[i]
			}
		case "-i":
			i++
			if i < len(args) {
				bp.ignore, _ = strconv.Atoi(args[i])
			}
		default:
			location = args[i]
		}
	}

	file, lineText, hasLine := strings.Cut(location, ":")
	switch {
	case !hasLine:
		line := 0
		for _, loc := range s.prog.Path {
			if loc.Func == location {
				line = loc.Line
				break
			}
		}
		if line == 0 {
			s.fail(token, fmt.Sprintf("Function %q not defined.", location))
			return
		}
		bp.line = line
	case filepath.Base(file) != filepath.Base(s.prog.Source):
		if !force {
			s.fail(token, fmt.Sprintf("No source file named %s.", file))
			return
		}
		bp.pending = true
	default:
		n, err := strconv.Atoi(lineText)
		if err != nil {
			s.fail(token, fmt.Sprintf("malformed linespec error: unexpected string, %q", lineText))
			return
		}
		bp.line = n
	}

	s.nextBkpt++
	bp.number = s.nextBkpt
	s.bkpts[bp.number] = bp

	disp := "keep"
	if bp.temporary {
		disp = "del"
	}
	fields := tuple{
		kv("number", strconv.Itoa(bp.number)),
		kv("type", "breakpoint"),
		kv("disp", disp),
		kv("enabled", "y"),
	}
	if bp.pending {
		fields = append(fields, kv("addr", "<PENDING>"), kv("pending", location))
	} else {
		fields = append(fields,
			kv("addr", fmt.Sprintf("0x%x", 0x401000+bp.line)),
			kv("file", filepath.Base(s.prog.Source)),
			kv("fullname", s.prog.Source),
			kv("line", strconv.Itoa(bp.line)))
	}
	if bp.cond != "" {
		fields = append(fields, kv("cond", bp.cond))
	}
	fields = append(fields, kv("times", "0"), kv("original-location", location))
	s.done(token, kv("bkpt", fields))
}

func (s *simulator) breakDelete(token string, args []string) {
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			s.fail(token, "Args must be numbers or '$' variables.")
			return
		}
		if _, ok := s.bkpts[n]; !ok {
			s.fail(token, fmt.Sprintf("No breakpoint number %d.", n))
			return
		}
	}
	for _, a := range args {
		n, _ := strconv.Atoi(a)
		delete(s.bkpts, n)
	}
	s.done(token)
}

// hit returns the breakpoint that stops the program at location i, after
// applying conditions and ignore counts.
func (s *simulator) hit(i int) *breakpoint {
	loc := s.prog.Path[i]
	var numbers []int
	for n, bp := range s.bkpts {
		if !bp.pending && bp.line == loc.Line {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		bp := s.bkpts[n]
		if bp.cond != "" {
			v, err := s.evaluator(s.contextAt(i)).eval(bp.cond)
			if err != nil || v.scalar == "0" {
				continue
			}
		}
		if bp.ignore > 0 {
			bp.ignore--
			continue
		}
		bp.hits++
		return bp
	}
	return nil
}

// Execution

func (s *simulator) run(token string) {
	if s.state != stateLoaded {
		s.fail(token, "The program being debugged has been started already.")
		return
	}
	s.emit(`=thread-group-started,id="i1",pid="4242"`)
	s.emit(fmt.Sprintf(`=thread-created,id="%d",group-id="i1"`, HostThreadID))
	s.emit(fmt.Sprintf(`=thread-created,id="%d",group-id="i1"`, HelperThreadID))
	s.emit(token + "^running")
	s.emit(`*running,thread-id="all"`)
	s.seek(0)
}

func (s *simulator) attach(token string) {
	if s.state != stateLoaded {
		s.fail(token, "A program is being debugged already.")
		return
	}
	s.emit(`=thread-group-started,id="i1",pid="4242"`)
	s.emit(fmt.Sprintf(`=thread-created,id="%d",group-id="i1"`, HostThreadID))
	s.emit(fmt.Sprintf(`=thread-created,id="%d",group-id="i1"`, HelperThreadID))
	s.state = stateStopped
	s.pos = 0
	s.hostSelected = true
	s.done(token)
}

func (s *simulator) detach(token string) {
	if !s.started() {
		s.fail(token, "The program is not being run.")
		return
	}
	s.state = stateExited
	s.cudaFocus = nil
	s.emit(fmt.Sprintf(`=thread-exited,id="%d",group-id="i1"`, HelperThreadID))
	s.emit(fmt.Sprintf(`=thread-exited,id="%d",group-id="i1"`, HostThreadID))
	s.emit(`=thread-group-exited,id="i1"`)
	s.done(token)
}

func (s *simulator) resume(token, how string) {
	switch s.state {
	case stateLoaded, stateExited:
		s.fail(token, "The program is not being run.")
		return
	case stateRunning:
		s.fail(token, "Selected thread is running.")
		return
	}
	s.emit(token + "^running")
	s.emit(`*running,thread-id="all"`)
	s.state = stateRunning

	if how == "continue" {
		s.seek(s.pos + 1)
		return
	}
	next := s.pos + 1
	if next >= len(s.prog.Path) {
		s.exit()
		return
	}
	if bp := s.hit(next); bp != nil {
		s.stopAt(next, "breakpoint-hit", bp)
		return
	}
	reason := "end-stepping-range"
	if how == "finish" {
		reason = "function-finished"
	}
	s.stopAt(next, reason, nil)
}

// seek runs from location i to the next breakpoint, or to the end.
func (s *simulator) seek(i int) {
	s.state = stateRunning
	for ; i < len(s.prog.Path); i++ {
		if bp := s.hit(i); bp != nil {
			s.stopAt(i, "breakpoint-hit", bp)
			return
		}
	}
	if s.prog.RunForever {
		s.pos = len(s.prog.Path) - 1
		return
	}
	s.exit()
}

func (s *simulator) interrupt(token string) {
	if s.state != stateRunning {
		s.fail(token, "The program is not being run.")
		return
	}
	s.done(token)
	s.stopAt(s.pos, "signal-received", nil)
}

func (s *simulator) stopAt(i int, reason string, bp *breakpoint) {
	s.pos = i
	s.state = stateStopped
	loc := s.prog.Path[i]

	s.cudaFocus = nil
	s.hostSelected = false
	s.hostThread = 0
	if loc.Device {
		c := focus.Coordinate{}
		s.cudaFocus = &c
		s.console(switchingLine(c))
	}

	fields := []field{kv("reason", reason)}
	if bp != nil {
		disp := "keep"
		if bp.temporary {
			disp = "del"
		}
		fields = append(fields, kv("disp", disp), kv("bkptno", strconv.Itoa(bp.number)))
		if bp.temporary {
			delete(s.bkpts, bp.number)
		}
	}
	if reason == "signal-received" {
		fields = append(fields, kv("signal-name", "SIGINT"), kv("signal-meaning", "Interrupt"))
	}
	fields = append(fields,
		kv("frame", s.frameTuple(0, loc)),
		kv("thread-id", strconv.Itoa(HostThreadID)),
		kv("stopped-threads", "all"))
	s.emit("*stopped," + encodeResults(fields))
}

func (s *simulator) exit() {
	s.state = stateExited
	s.cudaFocus = nil
	for _, line := range s.prog.Output {
		s.emit(line)
	}
	s.emit(fmt.Sprintf(`=thread-exited,id="%d",group-id="i1"`, HelperThreadID))
	s.emit(fmt.Sprintf(`=thread-exited,id="%d",group-id="i1"`, HostThreadID))
	s.emit(`*stopped,reason="exited-normally"`)
	s.emit(`=thread-group-exited,id="i1",exit-code="0"`)
}

// Threads and frames

func (s *simulator) started() bool {
	return s.state == stateStopped || s.state == stateRunning
}

func (s *simulator) threadInfo(token string) {
	if !s.started() {
		s.done(token, kv("threads", list{}))
		return
	}
	state := "stopped"
	if s.state == stateRunning {
		state = "running"
	}
	threads := list{
		tuple{kv("id", "1"), kv("target-id", "Thread 0x7ffff7d8a000 (LWP 4242)"), kv("name", "variables"), kv("state", state)},
		tuple{kv("id", "2"), kv("target-id", "Thread 0x7ffff5fff000 (LWP 4243)"), kv("name", "cuda-EvtHandlr"), kv("state", state)},
	}
	current := HostThreadID
	if s.hostThread != 0 {
		current = s.hostThread
	}
	s.done(token, kv("threads", threads), kv("current-thread-id", strconv.Itoa(current)))
}

func (s *simulator) threadSelect(token string, args []string) {
	if len(args) != 1 {
		s.fail(token, "-thread-select: USAGE: threadnum.")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || !s.started() || (n != HostThreadID && n != HelperThreadID) {
		s.fail(token, fmt.Sprintf("Invalid thread id: %s", args[0]))
		return
	}
	s.hostSelected = true
	s.hostThread = n
	s.done(token, kv("new-thread-id", args[0]))
}

// options extracts --thread and --frame, returning the remaining arguments.
func options(args []string) (thread, frame int, rest []string) {
	thread, frame = -1, 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--thread":
			i++
			if i < len(args) {
				thread, _ = strconv.Atoi(args[i])
			}
		case "--frame":
			i++
			if i < len(args) {
				frame, _ = strconv.Atoi(args[i])
			}
		default:
			rest = append(rest, args[i])
		}
	}
	return thread, frame, rest
}

// resolve returns the target addressed by an explicit --thread, or the
// selected one.
func (s *simulator) resolve(thread int) (target, error) {
	if thread >= 0 {
		if !s.started() || (thread != HostThreadID && thread != HelperThreadID) {
			return target{}, fmt.Errorf("Invalid thread id: %d", thread)
		}
		s.hostSelected = true
		return target{thread: thread}, nil
	}
	return s.current(), nil
}

func (s *simulator) current() target {
	if s.deviceSelected() {
		return target{device: true, coord: *s.cudaFocus}
	}
	return target{thread: HostThreadID}
}

// contextAt is the target a breakpoint condition at location i sees.
func (s *simulator) contextAt(i int) target {
	if s.prog.Path[i].Device {
		return target{device: true}
	}
	return target{thread: HostThreadID}
}

func (s *simulator) scopeOf(ctx target, frame int) *scope {
	if frame != 0 {
		return newScope()
	}
	if ctx.device {
		sc, ok := s.devices[ctx.coord]
		if !ok {
			sc = deviceScope(ctx.coord)
			s.devices[ctx.coord] = sc
		}
		return sc
	}
	if ctx.thread != HostThreadID {
		return newScope()
	}
	return s.host
}

func (s *simulator) registersOf(ctx target) *registers {
	if ctx.device {
		r, ok := s.deviceRegs[ctx.coord]
		if !ok {
			r = deviceRegisters(ctx.coord)
			s.deviceRegs[ctx.coord] = r
		}
		return r
	}
	return s.hostRegs
}

func (s *simulator) evaluator(ctx target) *evaluator {
	return &evaluator{scope: s.scopeOf(ctx, 0), regs: s.registersOf(ctx), conv: s.conv}
}

func (s *simulator) frameTuple(level int, loc Location) tuple {
	return tuple{
		kv("level", strconv.Itoa(level)),
		kv("addr", fmt.Sprintf("0x%x", 0x401000+loc.Line)),
		kv("func", loc.Func),
		kv("file", filepath.Base(s.prog.Source)),
		kv("fullname", s.prog.Source),
		kv("line", strconv.Itoa(loc.Line)),
	}
}

func libraryFrame(level int, fn string) tuple {
	return tuple{
		kv("level", strconv.Itoa(level)),
		kv("addr", "0x7ffff7829d90"),
		kv("func", fn),
		kv("from", "/lib/x86_64-linux-gnu/libc.so.6"),
	}
}

// hostLocation is where the main thread is while the program sits at the
// current location.
func (s *simulator) hostLocation() Location {
	for i := s.pos; i >= 0; i-- {
		if !s.prog.Path[i].Device {
			return s.prog.Path[i]
		}
	}
	return Location{Func: "main", Line: MainLine}
}

func (s *simulator) stackListFrames(token string, args []string) {
	if s.state != stateStopped {
		if s.state == stateRunning {
			s.fail(token, "Selected thread is running.")
		} else {
			s.fail(token, "No stack.")
		}
		return
	}
	thread, _, _ := options(args)
	ctx, err := s.resolve(thread)
	if err != nil {
		s.fail(token, err.Error())
		return
	}

	var frames list
	switch {
	case ctx.device:
		frames = list{kv("frame", s.frameTuple(0, s.prog.Path[s.pos]))}
	case ctx.thread == HelperThreadID:
		frames = list{kv("frame", libraryFrame(0, "__poll")), kv("frame", libraryFrame(1, "start_thread"))}
	default:
		frames = list{kv("frame", s.frameTuple(0, s.hostLocation())), kv("frame", libraryFrame(1, "__libc_start_main"))}
	}
	s.done(token, kv("stack", frames))
}

func (s *simulator) stackListVariables(token string, args []string) {
	if s.state != stateStopped {
		s.fail(token, "No frame selected.")
		return
	}
	thread, frame, _ := options(args)
	ctx, err := s.resolve(thread)
	if err != nil {
		s.fail(token, err.Error())
		return
	}
	sc := s.scopeOf(ctx, frame)
	vars := make(list, 0, len(sc.names))
	for _, name := range sc.names {
		t := tuple{kv("name", name)}
		if sc.args[name] {
			t = append(t, kv("arg", "1"))
		}
		vars = append(vars, t)
	}
	s.done(token, kv("variables", vars))
}

// Variable objects

func (s *simulator) varCreate(token string, args []string) {
	thread, frame, rest := options(args)
	if len(rest) != 3 {
		s.fail(token, "-var-create: Usage: NAME FRAME EXPRESSION.")
		return
	}
	ctx, err := s.resolve(thread)
	if err != nil {
		s.fail(token, err.Error())
		return
	}
	ev := &evaluator{scope: s.scopeOf(ctx, frame), regs: s.registersOf(ctx), conv: s.conv}
	v, err := ev.eval(rest[2])
	if err != nil {
		s.fail(token, "-var-create: unable to create variable object")
		return
	}
	s.nextVar++
	name := fmt.Sprintf("var%d", s.nextVar)
	s.varobjs[name] = &varobj{v: v, typ: v.typ}
	fields := []field{
		kv("name", name),
		kv("numchild", strconv.Itoa(len(v.children()))),
		kv("value", v.display()),
		kv("type", v.typ),
	}
	if !ctx.device {
		fields = append(fields, kv("thread-id", strconv.Itoa(ctx.thread)))
	}
	fields = append(fields, kv("has_more", "0"))
	s.done(token, fields...)
}

func (s *simulator) varListChildren(token string, args []string) {
	var name string
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			name = a
		}
	}
	obj, ok := s.varobjs[name]
	if !ok {
		s.fail(token, "Variable object not found")
		return
	}
	kids := obj.v.children()
	children := make(list, 0, len(kids))
	for _, c := range kids {
		childName := name + "." + c.exp
		if _, ok := s.varobjs[childName]; !ok {
			s.varobjs[childName] = &varobj{v: c.v, typ: c.typ}
		}
		t := tuple{
			kv("name", childName),
			kv("exp", c.exp),
			kv("numchild", strconv.Itoa(len(c.v.children()))),
		}
		if c.typ != "" {
			t = append(t, kv("value", c.v.display()), kv("type", c.typ))
		}
		children = append(children, kv("child", t))
	}
	s.done(token, kv("numchild", strconv.Itoa(len(kids))), kv("children", children), kv("has_more", "0"))
}

func (s *simulator) varAssign(token string, args []string) {
	if len(args) != 2 {
		s.fail(token, "-var-assign: Usage: NAME EXPRESSION.")
		return
	}
	obj, ok := s.varobjs[args[0]]
	if !ok {
		s.fail(token, "Variable object not found")
		return
	}
	src, err := s.evaluator(s.current()).eval(args[1])
	if err != nil {
		s.fail(token, err.Error())
		return
	}
	if err := obj.v.assign(src); err != nil {
		s.fail(token, err.Error())
		return
	}
	s.done(token, kv("value", obj.v.display()))
}

func (s *simulator) varDelete(token string, args []string) {
	if len(args) == 0 {
		s.fail(token, "-var-delete: Usage: [-c] EXPRESSION.")
		return
	}
	name := args[len(args)-1]
	if _, ok := s.varobjs[name]; !ok {
		s.fail(token, "Variable object not found")
		return
	}
	deleted := 0
	for n := range s.varobjs {
		if n == name || strings.HasPrefix(n, name+".") {
			delete(s.varobjs, n)
			deleted++
		}
	}
	s.done(token, kv("ndeleted", strconv.Itoa(deleted)))
}

// VarObjects returns the names of the live variable objects.
func (c *Conn) VarObjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.sim.varobjs))
	for n := range c.sim.varobjs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registers and expressions

func (s *simulator) registerNames(token string, args []string) {
	if s.state != stateStopped {
		s.fail(token, "No registers.")
		return
	}
	thread, _, _ := options(args)
	ctx, err := s.resolve(thread)
	if err != nil {
		s.fail(token, err.Error())
		return
	}
	regs := s.registersOf(ctx)
	names := make(list, len(regs.names))
	for i, n := range regs.names {
		names[i] = n
	}
	s.done(token, kv("register-names", names))
}

func (s *simulator) registerValues(token string, args []string) {
	if s.state != stateStopped {
		s.fail(token, "No registers.")
		return
	}
	thread, _, rest := options(args)
	ctx, err := s.resolve(thread)
	if err != nil {
		s.fail(token, err.Error())
		return
	}
	regs := s.registersOf(ctx)
	if len(rest) > 0 {
		rest = rest[1:] // format
	}
	values := list{}
	for _, a := range rest {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 || n >= len(regs.names) || regs.names[n] == "" {
			s.fail(token, fmt.Sprintf("bad register number %s", a))
			return
		}
		values = append(values, tuple{kv("number", a), kv("value", regs.values[regs.names[n]])})
	}
	s.done(token, kv("register-values", values))
}

func (s *simulator) evaluate(token string, args []string) {
	thread, frame, rest := options(args)
	if len(rest) != 1 {
		s.fail(token, "-data-evaluate-expression: Usage: -data-evaluate-expression expression")
		return
	}
	ctx, err := s.resolve(thread)
	if err != nil {
		s.fail(token, err.Error())
		return
	}
	ev := &evaluator{conv: s.conv}
	if s.state == stateStopped {
		ev.scope = s.scopeOf(ctx, frame)
		ev.regs = s.registersOf(ctx)
	}
	v, err := ev.eval(rest[0])
	if err != nil {
		s.fail(token, err.Error())
		return
	}
	s.done(token, kv("value", v.display()))
}
