package vm

// iterator.go implements the ILOAD family (spec §4.6): opening an iterator
// snapshots a table's entries, locks the table against key deletion for as
// long as the iterator is open, and lets IVAL_R/IKEY_R/ISTEP/IHAS walk the
// snapshot. IPUSH/IPOP additionally (re)lock the table for nested-iterator
// safety when a wrapper iterator re-enters the same table.

// doILoad executes ILOAD: it snapshots the table currently under the cursor
// (not a register operand). instr.Lparam (per spec's Open Question 2) is an
// explicit 0/1 operand selecting wrapper mode, replacing the original's
// reuse of the stale EVAL_R latch.
func (vm *VM) doILoad(instr Instruction) {
	cur := vm.cursorValue()
	if cur.Kind != KindTable || cur.Tbl == nil {
		vm.iterStack = append(vm.iterStack, iterFrame{})
		return
	}
	cur.Tbl.Lock()
	vm.iterStack = append(vm.iterStack, iterFrame{
		table:     cur.Tbl,
		entries:   cur.Tbl.Entries(),
		cursor:    0,
		isWrapper: instr.Lparam != 0,
	})
}

func (vm *VM) topIter() (*iterFrame, bool) {
	if len(vm.iterStack) == 0 {
		return nil, false
	}
	return &vm.iterStack[len(vm.iterStack)-1], true
}

func (vm *VM) iterHasCurrent() bool {
	it, ok := vm.topIter()
	if !ok || it.table == nil {
		return false
	}
	return it.cursor >= 0 && it.cursor < len(it.entries)
}

func (vm *VM) iterCurrentValue() Value {
	it, ok := vm.topIter()
	if !ok || !vm.iterHasCurrent() {
		return Unset()
	}
	return it.entries[it.cursor].Data.(Value)
}

func (vm *VM) iterCurrentKey() Value {
	it, ok := vm.topIter()
	if !ok || !vm.iterHasCurrent() {
		return Unset()
	}
	if it.isWrapper {
		return Unset()
	}
	k := it.entries[it.cursor].Key
	if k.IsString {
		return String(k.Str)
	}
	return Number(float64(k.Int))
}
