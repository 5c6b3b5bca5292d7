package vm

// call.go implements CALL_R/RET (spec §4.6): invoking a label as a function
// pushes a new call frame with a fresh locals table, pre-sized from the
// capacity hint parked in the call instruction's own rparam; RET pops the
// frame and stashes the locals table's final size back into that same
// instruction, so the next call through this call site starts pre-sized
// (a mild inline cache, same idea as a monomorphic call-site cache).

// doCall executes CALL_R: instr.Lparam is the register holding the callee
// label. instr.Rparam doubles as the capacity hint for the callee's locals
// table — the assembler seeds it to 1 at emission time, and RET overwrites
// it in place with the actual final size after each call through this site.
func (vm *VM) doCall(instr Instruction) error {
	target := vm.registers[instr.Lparam]
	if target.Kind != KindLabel {
		return errWrongKind
	}
	if len(vm.callStack) >= defaultCallLimit {
		return errCallStackOverflow
	}

	capacityHint := int(instr.Rparam)
	if capacityHint <= 0 {
		capacityHint = 1
	}
	locals := vm.alloc.NewTable(capacityHint)

	// vm.pc was already advanced past this CALL_R by step(); pc-1 is the
	// instruction whose rparam RET will refine.
	callPC := vm.pc - 1

	file, line := vm.currentSourcePos()
	vm.callStack = append(vm.callStack, &callFrame{
		ReturnPC:    vm.pc,
		Locals:      locals,
		LocalsValue: TableValue(locals),
		CallPC:      callPC,
		File:        file,
		Line:        line,
		SavedArgs:   vm.callArgs,
	})

	vm.callArgs = append([]Value(nil), vm.valueStack[:vm.valueStackTop]...)
	vm.valueStackTop = 0

	vm.pc = int(target.Lbl)
	return nil
}

// doReturn executes RET: pops the active call frame, resumes execution at
// its saved return address, and refines the originating CALL_R's capacity
// hint. Returning with an empty call stack halts the program, matching
// top-level RET acting like END.
func (vm *VM) doReturn() error {
	if len(vm.callStack) == 0 {
		vm.running = false
		return nil
	}
	top := vm.callStack[len(vm.callStack)-1]
	vm.callStack = vm.callStack[:len(vm.callStack)-1]

	if top.CallPC >= 0 && top.CallPC < len(vm.instructions) {
		vm.instructions[top.CallPC].Rparam = int32(top.Locals.Len())
	}

	vm.pc = top.ReturnPC
	vm.callArgs = top.SavedArgs
	return nil
}
