package vm

import "fmt"

// link.go implements spec §4.2.2: after optimization, rewrite every
// negative (unresolved) label-id operand into its label's absolute,
// optimized instruction index.

func link(a *Assembler) error {
	resolvedByID := make(map[int32]int, len(a.labels))
	for _, l := range a.labels {
		resolvedByID[l.id] = l.instruction
	}

	for i := range a.instructions {
		instr := &a.instructions[i]
		if !labelOperandOpcodes[instr.Op] {
			continue
		}
		if instr.LKind == OperandLbl && instr.Lparam < 0 {
			target, ok := resolvedByID[-instr.Lparam]
			if !ok {
				return errAssembly(a.curFile, a.curLine, fmt.Errorf("%w: id %d", errDanglingLabelRef, -instr.Lparam))
			}
			instr.Lparam = int32(target)
		}
		if instr.RKind == OperandLbl && instr.Rparam < 0 {
			target, ok := resolvedByID[-instr.Rparam]
			if !ok {
				return errAssembly(a.curFile, a.curLine, fmt.Errorf("%w: id %d", errDanglingLabelRef, -instr.Rparam))
			}
			instr.Rparam = int32(target)
		}
	}
	return nil
}
