package vm

// gc.go wires the Allocator's generic mark-and-sweep (mm.go) to the VM's
// concrete root set, per spec §4.4's "Roots" list. It is the Go analogue of
// renv.c registering a mark function with MM_SetMarkAndSweepFunction and a
// table destructor with MM_SetDestructorFunction(1, ...).

// installGC wires the VM's root walk and table destructor into its
// allocator, and must run once after both are constructed.
func (vm *VM) installGC() {
	vm.alloc.SetMarkFunction(vm.markRoots)
	vm.alloc.SetDestructor(typeTable, func(payload any) {
		t, ok := payload.(*Table)
		if !ok || t == nil {
			return
		}
		// The destructor clears the entries so any string payloads release
		// per spec §4.4 ("strings are released by the table destructor").
		t.entries = NewHashTable()
	})
}

// markTable marks t alive and, if this is the first time it has been seen
// this cycle, recurses into its children. The marked flag on t.cell is the
// visited-set, so cycles terminate naturally.
func (vm *VM) markTable(t *Table) {
	if t == nil || t.cell == nil || t.cell.marked {
		return
	}
	t.cell.marked = true
	for _, child := range t.Children() {
		vm.markTable(child)
	}
}

func (vm *VM) markValue(v Value) {
	if v.Kind == KindTable {
		vm.markTable(v.Tbl)
	}
}

// markRoots implements spec §4.4's root set:
//   - all 10 registers, if holding a table
//   - all occupied value-stack slots
//   - program memory (the root table)
//   - every call-stack frame's locals table (always visited)
//   - the current memory pointer's value, if a table
//   - every entry of the memory-pointer stack
//   - every table referenced by a live iterator's snapshot
//   - the eval latch and every pending call's staged arguments, since both
//     can be the only live reference to a table between the instructions
//     that produce and consume them
func (vm *VM) markRoots() {
	for _, r := range vm.registers {
		vm.markValue(r)
	}
	for i := 0; i < vm.valueStackTop; i++ {
		vm.markValue(vm.valueStack[i])
	}
	vm.markTable(vm.programMemory)
	for _, frame := range vm.callStack {
		vm.markTable(frame.Locals)
		for _, v := range frame.SavedArgs {
			vm.markValue(v)
		}
	}
	if cur := vm.cursorValue(); cur.Kind == KindTable {
		vm.markTable(cur.Tbl)
	}
	for _, mp := range vm.memPtrStack {
		vm.markValue(*mp)
	}
	for _, it := range vm.iterStack {
		vm.markTable(it.table)
	}
	vm.markValue(vm.evalLatch)
	for _, v := range vm.callArgs {
		vm.markValue(v)
	}
}

// GC runs an explicit collection cycle (the GC opcode, spec §4.6).
func (vm *VM) GC() {
	vm.alloc.GarbageCollect()
}
