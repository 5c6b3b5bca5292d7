package vm

import (
	"fmt"
	"math"
)

// exec.go is the VM's dispatch loop, a single switch over Opcode mirroring
// the teacher's execNextInstruction — fetch, advance pc, dispatch — but
// over Instruction/Value instead of raw register words, and recovering
// VMError (the memory manager's fatal path, spec §7.4) instead of letting it
// unwind past Run.

// Run executes instructions until END, a runtime error, or a VMError fatal
// failure. It returns the runtime error (if any); a VMError raised by the
// allocator is recovered here and returned as-is, without a stack trace,
// since the program cannot continue after it.
func (vm *VM) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if fatal, ok := r.(*VMError); ok {
				err = fatal
				return
			}
			panic(r)
		}
	}()
	for vm.running {
		if rerr := vm.step(); rerr != nil {
			return &RuntimeError{Cause: rerr, Trace: vm.stackTrace()}
		}
	}
	return nil
}

// step executes exactly one instruction, for the CLI's --debug single-step
// mode as well as Run's loop.
func (vm *VM) step() error {
	if vm.pc < 0 || vm.pc >= len(vm.instructions) {
		vm.running = false
		return nil
	}
	instr := vm.instructions[vm.pc]
	if vm.debug {
		file, line := vm.currentSourcePos()
		fmt.Printf("%04d %s:%d %s\n", vm.pc, file, line, instr.Op)
	}
	vm.pc++

	switch instr.Op {
	case NOP:

	case END:
		vm.running = false

	case ASSERT_R_R:
		if !vm.registers[instr.Lparam].Truthy() {
			return fmt.Errorf("%s", vm.registers[instr.Rparam].ToString())
		}

	case RTE_R:
		return fmt.Errorf("%s", vm.registers[instr.Lparam].ToString())

	case MDUMP:
		vm.stdout(fmt.Sprintf("M=%s\n", vm.cursorValue().ToString()))
	case RDUMP:
		for i, r := range vm.registers {
			vm.stdout(fmt.Sprintf("@%d=%s\n", i, r.ToString()))
		}
	case SDUMP:
		for i := vm.valueStackTop - 1; i >= 0; i-- {
			vm.stdout(fmt.Sprintf("[%d]=%s\n", i, vm.valueStack[i].ToString()))
		}

	case MADD_S:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		cur.Tbl.Ensure(vm.stringAt(instr.Lparam))

	case MADD_N:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		cur.Tbl.EnsureInt(int64(instr.Lnum))

	case MADD_R:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		key := vm.registers[instr.Lparam]
		if key.Kind == KindString {
			cur.Tbl.Ensure(key.Str)
		} else {
			cur.Tbl.EnsureInt(int64(key.ToNumber()))
		}

	case MLOAD_S:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		key := vm.stringAt(instr.Lparam)
		vm.cursorParent = cur.Tbl
		vm.cursor = cur.Tbl.Slot(key)

	case MLOAD_N:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		vm.cursorParent = cur.Tbl
		vm.cursor = cur.Tbl.SlotInt(int64(instr.Lnum))

	case MLOAD_R:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		key := vm.registers[instr.Lparam]
		vm.cursorParent = cur.Tbl
		if key.Kind == KindString {
			vm.cursor = cur.Tbl.Slot(key.Str)
		} else {
			vm.cursor = cur.Tbl.SlotInt(int64(key.ToNumber()))
		}

	case MLOAD:
		vm.cursor = &vm.programMemoryValue
		vm.cursorParent = nil

	case MLOADS:
		vm.cursor = &vm.registers[0]
		vm.cursorParent = nil

	case MSET_S:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		cur.Tbl.Set(vm.stringAt(instr.Lparam), vm.registers[instr.Rparam])

	case MSET_N:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		cur.Tbl.SetInt(int64(instr.Lnum), vm.registers[instr.Rparam])

	case MSET_L:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		cur.Tbl.Set(vm.stringAt(instr.Rparam), Label(instr.Lparam))

	case MSET_R:
		cur := vm.cursorValue()
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		key := vm.registers[instr.Lparam]
		val := vm.registers[instr.Rparam]
		if key.Kind == KindString {
			cur.Tbl.Set(key.Str, val)
		} else {
			cur.Tbl.SetInt(int64(key.ToNumber()), val)
		}

	case MCLR:
		if vm.cursor != nil {
			*vm.cursor = Unset()
		}

	case MGET_R:
		vm.registers[instr.Lparam] = vm.cursorValue()

	case MPUSH:
		if err := vm.pushMemPtr(vm.cursor); err != nil {
			return err
		}

	case MPOP:
		ptr, err := vm.popMemPtr()
		if err != nil {
			return err
		}
		vm.cursor = ptr

	case MSWAP:
		if len(vm.memPtrStack) == 0 {
			return errStackUnderflow
		}
		top := len(vm.memPtrStack) - 1
		vm.memPtrStack[top], vm.cursor = vm.cursor, vm.memPtrStack[top]

	case CLR_R:
		vm.registers[instr.Lparam] = Unset()

	case MOVE_R_S:
		vm.registers[instr.Lparam] = String(vm.stringAt(instr.Rparam))
	case MOVE_R_N:
		vm.registers[instr.Lparam] = Number(instr.Rnum)
	case MOVE_R_L:
		vm.registers[instr.Lparam] = Label(instr.Rparam)
	case MOVE_R_R:
		vm.registers[instr.Lparam] = vm.registers[instr.Rparam]

	case JMP_L:
		vm.pc = int(instr.Lparam)

	case EVAL_R:
		vm.evalLatch = vm.registers[instr.Lparam]

	case JMPT_L:
		if vm.evalLatch.Truthy() {
			vm.pc = int(instr.Lparam)
		}
	case JMPF_L:
		if !vm.evalLatch.Truthy() {
			vm.pc = int(instr.Lparam)
		}
	case JMPET_R_L:
		if vm.registers[instr.Lparam].Truthy() {
			vm.pc = int(instr.Rparam)
		}
	case JMPEF_R_L:
		if !vm.registers[instr.Lparam].Truthy() {
			vm.pc = int(instr.Rparam)
		}

	case PUSH_R:
		if err := vm.pushValue(vm.registers[instr.Lparam]); err != nil {
			return err
		}
	case PUSH_N:
		if err := vm.pushValue(Number(instr.Lnum)); err != nil {
			return err
		}
	case PUSH_S:
		if err := vm.pushValue(String(vm.stringAt(instr.Lparam))); err != nil {
			return err
		}
	case PUSH_L:
		if err := vm.pushValue(Label(instr.Lparam)); err != nil {
			return err
		}
	case POP_R:
		v, err := vm.popValue()
		if err != nil {
			return err
		}
		vm.registers[instr.Lparam] = v
	case SWAP_R:
		if vm.valueStackTop == 0 {
			return errStackUnderflow
		}
		top := vm.valueStackTop - 1
		vm.valueStack[top], vm.registers[instr.Lparam] = vm.registers[instr.Lparam], vm.valueStack[top]
	case SPOP_R_R:
		v, err := vm.popValue()
		if err != nil {
			return err
		}
		vm.registers[instr.Lparam] = v
		v2, err := vm.popValue()
		if err != nil {
			return err
		}
		vm.registers[instr.Rparam] = v2

	case OR_R_R:
		vm.registers[instr.Lparam] = Number(boolNum(vm.registers[instr.Lparam].Truthy() || vm.registers[instr.Rparam].Truthy()))
	case AND_R_R:
		vm.registers[instr.Lparam] = Number(boolNum(vm.registers[instr.Lparam].Truthy() && vm.registers[instr.Rparam].Truthy()))

	case EQL_R_R:
		vm.registers[instr.Lparam] = Number(boolNum(Equal(vm.registers[instr.Lparam], vm.registers[instr.Rparam])))
	case NEQL_R_R:
		vm.registers[instr.Lparam] = Number(boolNum(!Equal(vm.registers[instr.Lparam], vm.registers[instr.Rparam])))
	case LESS_R_R:
		c, ok := Compare(vm.registers[instr.Lparam], vm.registers[instr.Rparam])
		vm.registers[instr.Lparam] = Number(boolNum(ok && c < 0))
	case GRE_R_R:
		c, ok := Compare(vm.registers[instr.Lparam], vm.registers[instr.Rparam])
		vm.registers[instr.Lparam] = Number(boolNum(ok && c > 0))
	case LEQL_R_R:
		c, ok := Compare(vm.registers[instr.Lparam], vm.registers[instr.Rparam])
		vm.registers[instr.Lparam] = Number(boolNum(ok && c <= 0))
	case GEQL_R_R:
		c, ok := Compare(vm.registers[instr.Lparam], vm.registers[instr.Rparam])
		vm.registers[instr.Lparam] = Number(boolNum(ok && c >= 0))

	case ADD_R_R:
		a, b := vm.registers[instr.Lparam], vm.registers[instr.Rparam]
		if a.Kind == KindString || b.Kind == KindString {
			vm.registers[instr.Lparam] = String(a.ToString() + b.ToString())
		} else if err := vm.arith(instr, func(a, b float64) float64 { return a + b }); err != nil {
			return err
		}
	case SUB_R_R:
		if err := vm.arith(instr, func(a, b float64) float64 { return a - b }); err != nil {
			return err
		}
	case MUL_R_R:
		if err := vm.arith(instr, func(a, b float64) float64 { return a * b }); err != nil {
			return err
		}
	case DIV_R_R:
		if err := vm.arith(instr, func(a, b float64) float64 { return a / b }); err != nil {
			return err
		}
	case MOD_R_R:
		if err := vm.arith(instr, euclideanMod); err != nil {
			return err
		}

	case SPEQL:
		a, err := vm.popValue()
		if err != nil {
			return err
		}
		vm.registers[0] = Number(boolNum(Equal(a, vm.registers[0])))
	case SPNEQL:
		a, err := vm.popValue()
		if err != nil {
			return err
		}
		vm.registers[0] = Number(boolNum(!Equal(a, vm.registers[0])))
	case SPLESS:
		if err := vm.spCompare(func(c int, ok bool) bool { return ok && c < 0 }); err != nil {
			return err
		}
	case SPGRE:
		if err := vm.spCompare(func(c int, ok bool) bool { return ok && c > 0 }); err != nil {
			return err
		}
	case SPLEQL:
		if err := vm.spCompare(func(c int, ok bool) bool { return ok && c <= 0 }); err != nil {
			return err
		}
	case SPGEQL:
		if err := vm.spCompare(func(c int, ok bool) bool { return ok && c >= 0 }); err != nil {
			return err
		}

	case SPADD:
		a, err := vm.popValue()
		if err != nil {
			return err
		}
		b := vm.registers[0]
		if a.Kind == KindString || b.Kind == KindString {
			vm.registers[0] = String(a.ToString() + b.ToString())
		} else {
			vm.registers[0] = Number(a.ToNumber() + b.ToNumber())
		}
	case SPSUB:
		if err := vm.spArith(func(a, b float64) float64 { return a - b }); err != nil {
			return err
		}
	case SPMUL:
		if err := vm.spArith(func(a, b float64) float64 { return a * b }); err != nil {
			return err
		}
	case SPDIV:
		if err := vm.spArith(func(a, b float64) float64 { return a / b }); err != nil {
			return err
		}
	case SPMOD:
		if err := vm.spArith(euclideanMod); err != nil {
			return err
		}

	case NEG_R:
		vm.registers[instr.Lparam] = Number(-vm.registers[instr.Lparam].ToNumber())

	case CTBL_R:
		vm.registers[instr.Lparam] = TableValue(vm.alloc.NewTable(8))
	case LPTBL_R:
		vm.registers[instr.Lparam] = TableValue(vm.programMemory)

	case STR_R_R:
		vm.registers[instr.Rparam] = String(vm.registers[instr.Lparam].ToString())
	case STR_R:
		vm.registers[instr.Lparam] = String(vm.registers[instr.Lparam].ToString())
	case NUM_R_R:
		vm.registers[instr.Rparam] = Number(vm.registers[instr.Lparam].ToNumber())
	case NUM_R:
		vm.registers[instr.Lparam] = Number(vm.registers[instr.Lparam].ToNumber())
	case INT_R_R:
		vm.registers[instr.Rparam] = Number(math.Trunc(vm.registers[instr.Lparam].ToNumber()))
	case INT_R:
		vm.registers[instr.Lparam] = Number(math.Trunc(vm.registers[instr.Lparam].ToNumber()))

	case SIZE_R_R, LEN_R_R:
		v := vm.registers[instr.Lparam]
		var n int
		switch v.Kind {
		case KindTable:
			n = v.Tbl.Len()
		case KindString:
			n = len(v.Str)
		}
		vm.registers[instr.Rparam] = Number(float64(n))

	case NOT_R:
		vm.registers[instr.Lparam] = Number(boolNum(!vm.registers[instr.Lparam].Truthy()))

	case MDEL_S:
		if cur := vm.cursorValue(); cur.Kind == KindTable {
			if cur.Tbl.Locked() {
				return errTableLocked
			}
			cur.Tbl.Delete(vm.stringAt(instr.Lparam))
		}
	case MDEL_N:
		if cur := vm.cursorValue(); cur.Kind == KindTable {
			if cur.Tbl.Locked() {
				return errTableLocked
			}
			cur.Tbl.DeleteInt(int64(instr.Lnum))
		}
	case MDEL_R:
		if cur := vm.cursorValue(); cur.Kind == KindTable {
			if cur.Tbl.Locked() {
				return errTableLocked
			}
			key := vm.registers[instr.Lparam]
			if key.Kind == KindString {
				cur.Tbl.Delete(key.Str)
			} else {
				cur.Tbl.DeleteInt(int64(key.ToNumber()))
			}
		}

	case GC:
		vm.GC()

	case CPY_R_R:
		vm.registers[instr.Rparam] = vm.deepCopy(vm.registers[instr.Lparam])

	case CALL_R:
		if err := vm.doCall(instr); err != nil {
			return err
		}

	case RET:
		if err := vm.doReturn(); err != nil {
			return err
		}

	case LOCAL:
		if len(vm.callStack) == 0 {
			vm.cursor = &vm.programMemoryValue
		} else {
			vm.cursor = &vm.callStack[len(vm.callStack)-1].LocalsValue
		}
		vm.cursorParent = nil

	case OPT_PVAL:
		if int(instr.Lnum) != len(vm.callArgs) {
			name := vm.stringAt(instr.Rparam)
			return fmt.Errorf("%w: %s expected %d arguments but got %d", errArityMismatch, name, int(instr.Lnum), len(vm.callArgs))
		}

	case ILOAD:
		vm.doILoad(instr)
	case IHAS:
		vm.registers[instr.Lparam] = Number(boolNum(vm.iterHasCurrent()))
	case IVAL_R:
		vm.registers[instr.Lparam] = vm.iterCurrentValue()
	case IKEY_R:
		vm.registers[instr.Lparam] = vm.iterCurrentKey()
	case IPUSH:
		if len(vm.iterStack) == 0 {
			return errNoActiveIterator
		}
		it := &vm.iterStack[len(vm.iterStack)-1]
		it.table.Lock()
	case IPOP:
		if len(vm.iterStack) == 0 {
			return errNoActiveIterator
		}
		top := vm.iterStack[len(vm.iterStack)-1]
		top.table.Unlock()
		vm.iterStack = vm.iterStack[:len(vm.iterStack)-1]
	case ISTEP:
		if len(vm.iterStack) == 0 {
			return errNoActiveIterator
		}
		vm.iterStack[len(vm.iterStack)-1].cursor++
	case IDEL:
		if len(vm.iterStack) == 0 {
			return errNoActiveIterator
		}
		top := vm.iterStack[len(vm.iterStack)-1]
		if top.table != nil {
			top.table.Unlock()
		}
		vm.iterStack = vm.iterStack[:len(vm.iterStack)-1]

	case ABS_R:
		vm.unary(instr, math.Abs)
	case COS_R:
		vm.unary(instr, math.Cos)
	case SIN_R:
		vm.unary(instr, math.Sin)
	case TAN_R:
		vm.unary(instr, math.Tan)
	case ACOS_R:
		vm.unary(instr, math.Acos)
	case ASIN_R:
		vm.unary(instr, math.Asin)
	case ATAN_R:
		vm.unary(instr, math.Atan)
	case ATAN2_R_R:
		vm.registers[instr.Lparam] = Number(math.Atan2(vm.registers[instr.Lparam].ToNumber(), vm.registers[instr.Rparam].ToNumber()))
	case LOG_R:
		vm.unary(instr, math.Log)
	case SGN_R:
		vm.unary(instr, func(f float64) float64 {
			switch {
			case f > 0:
				return 1
			case f < 0:
				return -1
			default:
				return 0
			}
		})
	case SQR_R:
		vm.unary(instr, math.Sqrt)
	case POW_R_R:
		vm.registers[instr.Lparam] = Number(math.Pow(vm.registers[instr.Lparam].ToNumber(), vm.registers[instr.Rparam].ToNumber()))
	case FLOOR_R:
		vm.unary(instr, math.Floor)
	case CEIL_R:
		vm.unary(instr, math.Ceil)
	case ROUND_R:
		vm.unary(instr, math.Round)
	case RAD_R:
		vm.unary(instr, func(f float64) float64 { return f * math.Pi / 180 })
	case DEG_R:
		vm.unary(instr, func(f float64) float64 { return f * 180 / math.Pi })
	case MIN_R_R:
		vm.registers[instr.Lparam] = Number(math.Min(vm.registers[instr.Lparam].ToNumber(), vm.registers[instr.Rparam].ToNumber()))
	case MAX_R_R:
		vm.registers[instr.Lparam] = Number(math.Max(vm.registers[instr.Lparam].ToNumber(), vm.registers[instr.Rparam].ToNumber()))

	case TYPE_R_R:
		vm.registers[instr.Rparam] = String(vm.registers[instr.Lparam].Kind.String())

	case SYS_N_N:
		if err := vm.doSysCall(instr); err != nil {
			return err
		}

	case FLOAD_R:
		name := vm.registers[instr.Lparam].ToString()
		if idx, ok := vm.fcallIndex[name]; ok {
			vm.registers[instr.Lparam] = Number(float64(idx))
		} else {
			vm.registers[instr.Lparam] = Unset()
		}

	case FCALL_N:
		if err := vm.doFCall(instr); err != nil {
			return err
		}

	case OPT_LOADSINGLEVAR_R_S, OPT_LOADSINGLEVARG_R_S:
		cur := vm.cursorValue()
		if instr.Op == OPT_LOADSINGLEVARG_R_S {
			cur = vm.programMemoryValue
		}
		if cur.Kind != KindTable {
			return errBadMemoryNav
		}
		v, _ := cur.Tbl.Get(vm.stringAt(instr.Rparam))
		vm.registers[instr.Lparam] = v

	default:
		return fmt.Errorf("vm: unimplemented opcode %s", instr.Op)
	}

	return nil
}

// euclideanMod implements MOD_R_R's "%" semantics (spec §4.6): x - floor(x/y)*y,
// not Go's truncated math.Mod, so the result always has y's sign.
func euclideanMod(x, y float64) float64 {
	return x - math.Floor(x/y)*y
}

// spArith implements the SPADD/SPSUB/SPMUL/SPDIV/SPMOD family: pop the top
// of the value stack as the left operand, R0 as the right, leave the result
// in R0.
func (vm *VM) spArith(fn func(a, b float64) float64) error {
	a, err := vm.popValue()
	if err != nil {
		return err
	}
	b := vm.registers[0]
	vm.registers[0] = Number(fn(a.ToNumber(), b.ToNumber()))
	return nil
}

// spCompare implements the SPLESS/SPGRE/SPLEQL/SPGEQL family: pop the top of
// the value stack as the left operand, Compare it against R0, leave the
// boolean result in R0.
func (vm *VM) spCompare(fromCompare func(c int, ok bool) bool) error {
	a, err := vm.popValue()
	if err != nil {
		return err
	}
	c, ok := Compare(a, vm.registers[0])
	vm.registers[0] = Number(boolNum(fromCompare(c, ok)))
	return nil
}

func (vm *VM) arith(instr Instruction, fn func(a, b float64) float64) error {
	a := vm.registers[instr.Lparam].ToNumber()
	b := vm.registers[instr.Rparam].ToNumber()
	vm.registers[instr.Lparam] = Number(fn(a, b))
	return nil
}

func (vm *VM) unary(instr Instruction, fn func(float64) float64) {
	vm.registers[instr.Lparam] = Number(fn(vm.registers[instr.Lparam].ToNumber()))
}

// deepCopy implements CPY_R_R's recursive table copy (spec §4.6): tables
// copy their own entries recursively, everything else is returned unchanged
// (strings and numbers are already copy-by-value in this Value model).
func (vm *VM) deepCopy(v Value) Value {
	if v.Kind != KindTable || v.Tbl == nil {
		return v
	}
	nt := vm.alloc.NewTable(v.Tbl.Len())
	for _, e := range v.Tbl.Entries() {
		copied := vm.deepCopy(e.Data.(Value))
		if e.Key.IsString {
			nt.Set(e.Key.Str, copied)
		} else {
			nt.SetInt(e.Key.Int, copied)
		}
	}
	return TableValue(nt)
}
