package vm

import (
	"fmt"
	"io"
)

// DumpProgram prints a compiled program's string table, instruction stream,
// and debug metadata, grounded on asm.c's "-d" dump switch and the
// teacher's printProgram.
func DumpProgram(w io.Writer, p *Program) {
	fmt.Fprintf(w, "debug=%v heapHint=%d\n", p.DebugFlag, p.HeapSizeHint)

	fmt.Fprintf(w, "strings (%d):\n", len(p.Strings))
	for i, s := range p.Strings {
		fmt.Fprintf(w, "  %4d %q\n", i, s)
	}

	fmt.Fprintf(w, "instructions (%d):\n", len(p.Instructions))
	for i, instr := range p.Instructions {
		line := lineAt(p.LineMeta, i)
		file := fileAt(p.FileMeta, i)
		fmt.Fprintf(w, "  %04d %-24s l=%v r=%v  %s:%d\n", i, instr.Op, operandString(instr.LKind, instr.Lparam, instr.Lnum), operandString(instr.RKind, instr.Rparam, instr.Rnum), file, line)
	}
}

func operandString(kind OperandKind, iparam int32, fparam float64) string {
	switch kind {
	case OperandNone:
		return "-"
	case OperandNum:
		return fmt.Sprintf("%g", fparam)
	default:
		return fmt.Sprintf("%d", iparam)
	}
}
