package vm

// instruction.go defines the in-memory instruction representation and the
// binary program format of spec §4.1: a debug flag, a heap-size hint, two
// parallel metadata arrays (line numbers and source file names, each
// recorded only where they change), a string table, and the instruction
// array itself.

// Instruction is one decoded bytecode instruction. Lparam/Rparam carry
// whichever operand kind Op's signature requires: a register index, a
// literal number, an index into the string table, or a resolved
// instruction index (for label operands, post-linking).
type Instruction struct {
	Op     Opcode
	LKind  OperandKind
	RKind  OperandKind
	Lparam int32 // register index, string-table index, or resolved label
	Rparam int32
	Lnum   float64 // literal number operand, when LKind == OperandNum
	Rnum   float64
}

// lineMetaEntry records that, from InstructionIndex onward, the active
// source line is Line (spec §4.1's line-number metadata array: entries are
// sparse, the line for a given pc is the most recent entry at or before it).
type lineMetaEntry struct {
	InstructionIndex int
	Line             int
}

// fileMetaEntry is the same sparse-run-length scheme for source file names.
type fileMetaEntry struct {
	InstructionIndex int
	File             string
}

// lineAt finds the line number active at instruction index pc.
func lineAt(meta []lineMetaEntry, pc int) int {
	line := 0
	for _, m := range meta {
		if m.InstructionIndex > pc {
			break
		}
		line = m.Line
	}
	return line
}

// fileAt finds the source file active at instruction index pc.
func fileAt(meta []fileMetaEntry, pc int) string {
	file := ""
	for _, m := range meta {
		if m.InstructionIndex > pc {
			break
		}
		file = m.File
	}
	return file
}

// currentSourcePos reports the file/line active at the VM's current pc, for
// stack traces (spec §6.5).
func (vm *VM) currentSourcePos() (string, int) {
	return fileAt(vm.fileMeta, vm.pc), lineAt(vm.lineMeta, vm.pc)
}

// Program is a fully assembled, linked program ready to load into a VM.
type Program struct {
	DebugFlag    bool
	HeapSizeHint int
	Strings      []string
	Instructions []Instruction
	LineMeta     []lineMetaEntry
	FileMeta     []fileMetaEntry
}

// Load installs a program into the VM, replacing any previously loaded one.
// HeapSizeHint is advisory only by this point: the allocator is already
// constructed by the time a program is loaded, so callers that want the
// program's hint honored (spec §4.1) must read it before calling NewVM.
func (vm *VM) Load(p *Program) {
	vm.instructions = p.Instructions
	vm.strings = p.Strings
	vm.lineMeta = p.LineMeta
	vm.fileMeta = p.FileMeta
	vm.debug = vm.debug || p.DebugFlag
	vm.pc = 0
	vm.running = true
}

func (vm *VM) stringAt(idx int32) string {
	if int(idx) < 0 || int(idx) >= len(vm.strings) {
		return ""
	}
	return vm.strings[idx]
}
