package fakegdb

import (
	"strconv"

	"github.com/ctagard/cuda-dap/internal/focus"
)

// Source layout of the default program.
const (
	SourceFile      = "/src/variables.cu"
	KernelName      = "kernel"
	KernelLine      = 12
	MainLine        = 40
	AfterLaunchLine = 45
	HostThreadID    = 1
	HelperThreadID  = 2
	ProgramOutput   = "kernel done"
)

// Location is one place the program can stop at.
type Location struct {
	Func   string
	Line   int
	Device bool
}

// Program is the simulated debuggee: it visits Path in order and exits
// after the last location.
type Program struct {
	Source string
	Path   []Location
	// BlockDim is the number of threads in the only block of the kernel.
	BlockDim int
	// RunForever keeps the program running after its last breakpoint until
	// it is interrupted.
	RunForever bool
	// Output is printed by the program before it exits.
	Output []string
}

// DefaultProgram launches one kernel from main.
func DefaultProgram() *Program {
	return &Program{
		Source: SourceFile,
		Path: []Location{
			{Func: "main", Line: MainLine},
			{Func: KernelName, Line: KernelLine, Device: true},
			{Func: "main", Line: AfterLaunchLine},
		},
		BlockDim: 4,
		Output:   []string{ProgramOutput},
	}
}

func hostScope() *scope {
	s := newScope()
	s.add("argc", intVal(1), true)
	s.add("x", intVal(3), false)
	s.add("a", structVal("S",
		member{"i", intVal(1)},
		member{"f", floatVal(2.5)}), false)
	s.add("a2", structVal("S",
		member{"i", intVal(7)},
		member{"f", floatVal(8.5)}), false)
	p := structVal("Point",
		member{"x", intVal(10)},
		member{"y", intVal(20)})
	p.class = true
	s.add("p", p, false)
	return s
}

func deviceScope(c focus.Coordinate) *scope {
	s := newScope()
	s.add("threadNum", intVal(c.Thread.X), false)
	elems := make([]*value, 4)
	for i := range elems {
		elems[i] = intVal(i * 10)
	}
	s.add("sdata", &value{typ: "int [4]", elems: elems}, false)
	return s
}

func hostRegisters() *registers {
	return &registers{
		names: []string{"rax", "rbx", "rcx", "rdx", "rip", "", "eflags"},
		values: map[string]string{
			"rax":    "0x1c",
			"rbx":    "0x0",
			"rcx":    "21",
			"rdx":    "13",
			"rip":    "0x401136",
			"eflags": "0x246",
		},
	}
}

func deviceRegisters(c focus.Coordinate) *registers {
	return &registers{
		names: []string{"R0", "R1", "R2", "R3", "UR0", "P0", "", "pc"},
		values: map[string]string{
			"R0":  strconv.Itoa(c.Thread.X),
			"R1":  "0",
			"R2":  "4",
			"R3":  "0",
			"UR0": "0",
			"P0":  "1",
			"pc":  "0x7fffd3e0",
		},
	}
}
