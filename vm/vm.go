package vm

import (
	"bufio"
	"fmt"
	"math/rand"
)

// vm.go defines the interpreter's central state (spec §4, §5): ten general
// registers, a bounded value stack, a memory-pointer stack, the current
// memory cursor (M/Mparent), a call stack of local-variable tables, and a
// stack of active iterators. Unlike the teacher's single global VM, every
// piece of mutable state here is threaded through one *VM value so multiple
// programs can run independently in the same process.

const (
	numRegisters      = 10
	defaultStackLimit = 4096
	defaultCallLimit  = 1024
)

// callFrame is one activation record on the call stack (spec §4.6 CALL_R/
// RET): the instruction to resume at, the callee's locals table (also boxed
// as a Value so LOCAL can point the cursor at it), the pc of the CALL_R
// instruction that pushed this frame (so RET can stash its final locals
// capacity back into that instruction's rparam, the spec's inline cache),
// and the caller's staged arguments to restore on return.
//
// callFrame is always referenced through a pointer so LOCAL's cursor stays
// valid across further CALL_R pushes, which may reallocate vm.callStack's
// backing array.
type callFrame struct {
	ReturnPC    int
	Locals      *Table
	LocalsValue Value
	CallPC      int
	File        string
	Line        int
	SavedArgs   []Value
}

// iterFrame is one entry on the iterator stack (spec §4.6 ILOAD family): a
// snapshot of the table's entries at the moment the iterator opened, a
// cursor into that snapshot, and whether it was opened in "wrapper" mode
// (spec's Open Question 2 — ILOAD takes an explicit operand for this rather
// than reusing the stale eval latch).
type iterFrame struct {
	table     *Table
	entries   []HashEntry
	cursor    int
	isWrapper bool
}

// VM holds one program's complete execution state.
type VM struct {
	registers [numRegisters]Value

	valueStack    []Value
	valueStackTop int

	memPtrStack []*Value
	cursor      *Value // M: pointer to the value currently being navigated
	cursorParent *Table // Mparent: the table M was last loaded from (nil after MLOAD/MLOADS/LOCAL)

	programMemory      *Table // root table; holds "args" and program-defined globals
	programMemoryValue Value  // programMemory boxed as a Value, for MLOAD's cursor reset

	callStack []*callFrame

	iterStack []iterFrame

	alloc *Allocator

	// program image
	instructions []Instruction
	strings      []string
	lineMeta     []lineMetaEntry
	fileMeta     []fileMetaEntry

	pc      int
	running bool

	// evalLatch holds the last value EVAL_R computed truthy/falsy for,
	// consumed by JMPT_L/JMPF_L (spec §4.6).
	evalLatch Value

	sysTable map[int]SysFunc

	// fcallFns/fcallIndex back FLOAD_R/FCALL_N (spec §4.6, §6.4): FLOAD_R
	// resolves a function name (read from a register) to its dense index
	// into fcallFns, and FCALL_N reads that index back off the value stack.
	fcallFns   []SysFunc
	fcallIndex map[string]int

	// callArgs is the argument list staged for the call frame currently
	// executing, checked by OPT_PVAL (spec §4.6).
	callArgs []Value

	debug  bool
	stdout func(string)

	// SYS_* support state (syscall.go).
	openFiles      map[int]*openFile
	nextFileHandle int
	clipboard      string
	rng            *rand.Rand
	stdinBuf       *bufio.Reader
}

// SysFunc is the shape of both SYS_N_N entries and FCALL_N-registered
// extension functions: fixed or variable argument count in, one Value out.
type SysFunc func(vm *VM, args []Value) (Value, error)

// NewVM constructs a VM with a fresh allocator and an empty root table,
// ready to load a program into.
func NewVM(heapBytes int) *VM {
	vm := &VM{
		alloc:        NewAllocator(heapBytes),
		valueStack:   make([]Value, defaultStackLimit),
		sysTable:     make(map[int]SysFunc),
		fcallIndex:   make(map[string]int),
		stdout:       func(s string) { fmt.Print(s) },
	}
	vm.programMemory = vm.alloc.NewTable(8)
	vm.programMemoryValue = TableValue(vm.programMemory)
	vm.installGC()
	installSysTable(vm)
	return vm
}

// cursorValue returns the value the current memory pointer refers to, or
// Unset if there is none (spec §4.6 "no current memory pointer" error
// condition feeds off this).
func (vm *VM) cursorValue() Value {
	if vm.cursor == nil {
		return Unset()
	}
	return *vm.cursor
}

// SetDebug toggles whether step logs each dispatched opcode
// (spec's CLI "run --debug" mode).
func (vm *VM) SetDebug(on bool) { vm.debug = on }

// SetOutput overrides where console-output system calls (SYS_PLN and
// friends) write text; tests substitute a buffer here.
func (vm *VM) SetOutput(fn func(string)) { vm.stdout = fn }

// Register reads register r (0-9).
func (vm *VM) Register(r int) Value { return vm.registers[r] }

// SetRegister writes register r (0-9).
func (vm *VM) SetRegister(r int, v Value) { vm.registers[r] = v }

func (vm *VM) pushValue(v Value) error {
	if vm.valueStackTop >= len(vm.valueStack) {
		return errStackOverflow
	}
	vm.valueStack[vm.valueStackTop] = v
	vm.valueStackTop++
	return nil
}

func (vm *VM) popValue() (Value, error) {
	if vm.valueStackTop == 0 {
		return Unset(), errStackUnderflow
	}
	vm.valueStackTop--
	v := vm.valueStack[vm.valueStackTop]
	vm.valueStack[vm.valueStackTop] = Unset()
	return v, nil
}

func (vm *VM) pushMemPtr(v *Value) error {
	if len(vm.memPtrStack) >= defaultStackLimit {
		return errStackOverflow
	}
	vm.memPtrStack = append(vm.memPtrStack, v)
	return nil
}

func (vm *VM) popMemPtr() (*Value, error) {
	n := len(vm.memPtrStack)
	if n == 0 {
		return nil, errStackUnderflow
	}
	v := vm.memPtrStack[n-1]
	vm.memPtrStack = vm.memPtrStack[:n-1]
	return v, nil
}

func (vm *VM) stackTrace() []StackFrame {
	trace := make([]StackFrame, 0, len(vm.callStack)+1)
	file, line := vm.currentSourcePos()
	trace = append(trace, StackFrame{Instruction: vm.pc, File: file, Line: line})
	for i := len(vm.callStack) - 1; i >= 0; i-- {
		f := vm.callStack[i]
		trace = append(trace, StackFrame{Instruction: f.ReturnPC, File: f.File, Line: f.Line})
	}
	return trace
}
