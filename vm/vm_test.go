package vm

import (
	"math"
	"strings"
	"testing"
)

// vm_test.go covers the end-to-end scenarios of spec §8, following the
// teacher's test shape (vm_test.go in the original): inline assembly-source
// fixtures, a small assert helper, no assertion library.

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// runSource assembles source, loads it into a fresh VM, runs it to
// completion, and returns the VM (for register/table inspection) and
// whatever it wrote to stdout.
func runSource(t *testing.T, source string) (*VM, string) {
	t.Helper()
	prog, err := Assemble(source)
	assert(t, err == nil, "assemble failed: %v", err)

	machine := NewVM(0)
	var out strings.Builder
	machine.SetOutput(func(s string) { out.WriteString(s) })
	machine.Load(prog)

	runErr := machine.Run()
	assert(t, runErr == nil, "run failed: %v", runErr)
	return machine, out.String()
}

// runSourceExpectError is runSource's counterpart for fixtures expected to
// fail at runtime; it returns the error instead of asserting success.
func runSourceExpectError(t *testing.T, source string) error {
	t.Helper()
	prog, err := Assemble(source)
	assert(t, err == nil, "assemble failed: %v", err)

	machine := NewVM(0)
	machine.SetOutput(func(string) {})
	machine.Load(prog)
	return machine.Run()
}

// Scenario 1: hello world.
func TestHelloWorld(t *testing.T) {
	_, out := runSource(t, `
		push "hello\n"
		sys 0 1
		end
	`)
	assert(t, out == "hello\n", "stdout = %q, want %q", out, "hello\n")
}

// Scenario 2: arithmetic and coercion — string + number concatenates.
func TestArithmeticCoercion(t *testing.T) {
	_, out := runSource(t, `
		move @0 "3"
		move @1 4
		add  @0 @1
		str  @0
		push @0
		sys 0 1
		end
	`)
	assert(t, out == "34", "stdout = %q, want %q (concat, not 7)", out, "34")
}

// The SP* family pops its left operand off the value stack and combines it
// with R0, leaving the result in R0 — a fused form of POP_R + the
// corresponding *_R_R opcode.
func TestStackPopOperatorFusions(t *testing.T) {
	_, out := runSource(t, `
		move @0 3
		move @1 10
		push @1
		spsub
		str  @0
		push @0
		sys 0 1
		end
	`)
	assert(t, out == "7", "stdout = %q, want %q (stack operand 10 minus R0's 3)", out, "7")
}

// ASSERT_R_R raises the message in r1 verbatim when r0 is falsy; it is not
// an equality check between the two registers.
func TestAssertRaisesMessageRegisterWhenFalsy(t *testing.T) {
	err := runSourceExpectError(t, `
		move @0 0
		move @1 "custom failure"
		assert @0 @1
		end
	`)
	assert(t, err != nil, "expected a falsy assertion to raise a runtime error")
	assert(t, strings.Contains(err.Error(), "custom failure"),
		"error %q should contain the message register's string, not a fixed message", err.Error())
}

// MOD_R_R follows spec §4.6's Euclidean remainder (x - floor(x/y)*y), not Go's
// truncated math.Mod, so a negative left-hand side still yields a
// non-negative result for a positive modulus.
func TestModIsEuclideanNotTruncated(t *testing.T) {
	_, out := runSource(t, `
		move @0 -1
		move @1 4
		mod  @0 @1
		str  @0
		push @0
		sys 0 1
		end
	`)
	assert(t, out == "3", "stdout = %q, want %q (-1 mod 4 == 3, not -1)", out, "3")
}

// Scenario 3: function call with arity check via OPT_PVAL.
func TestFunctionArityMismatch(t *testing.T) {
	err := runSourceExpectError(t, `
		move @1 42
		push @1
		move @0 f
		call @0
		end
	f:
		pval 2 "f"
		ret
	`)
	assert(t, err != nil, "expected an arity-mismatch runtime error, got nil")
	assert(t, strings.Contains(err.Error(), "f expected 2 arguments but got 1"),
		"error %q does not report the expected/got counts", err.Error())
}

// Scenario 4: table iteration forbids deletion while an iterator holds the
// table locked.
func TestIteratorDeletionForbidden(t *testing.T) {
	err := runSourceExpectError(t, `
		ctbl @0
		mload
		mset "t" @0
		mload "t"
		move @1 1
		mset "a" @1
		move @1 2
		mset "b" @1
		move @1 3
		mset "c" @1
		iload 0
		mdel "a"
		end
	`)
	assert(t, err != nil, "expected a table-locked runtime error, got nil")
	assert(t, strings.Contains(err.Error(), "locked"),
		"error %q does not mention the table being locked", err.Error())
}

// Scenario 5: GC reclaims an unreachable nested table once its only
// reference (a register) is cleared and an explicit collection runs.
func TestGCReclaimsUnreachableTable(t *testing.T) {
	machine, _ := runSource(t, `
		ctbl @0
		mload
		mset "tmp" @0
		mload "tmp"
		ctbl @1
		mset "child" @1
		mload
		mdel "tmp"
		clr @0
		clr @1
		gc
		end
	`)
	live := machine.alloc.LiveCount(typeTable)
	// Only program memory itself should remain: T was reachable solely
	// through register 0 and program memory's "tmp" key, and its child
	// through T and register 1, all of which are gone by the time GC runs.
	assert(t, live == 1, "expected 1 live table after GC (program memory only), got %d", live)
}

// Scenario 6: the MOVE_R_N + PUSH_R -> PUSH_N fusion must not corrupt a
// label that resolves to the fused instruction, and the loop must still
// run (we bound it with a counter rather than actually looping forever).
func TestPeepholeJumpResolutionUnderFusion(t *testing.T) {
	prog, err := Assemble(`
		move @1 0
	loop:
		move @0 0
		push @0
		pop  @0
		move @2 1
		add  @1 @2
		move @3 5
		gre  @3 @1
		eval @3
		jmpt loop
		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)

	sawFusedPush := false
	for _, instr := range prog.Instructions {
		if instr.Op == PUSH_N {
			sawFusedPush = true
		}
	}
	_ = sawFusedPush // the fusion is opportunistic; the real assertion is below.

	machine := NewVM(0)
	machine.SetOutput(func(string) {})
	machine.Load(prog)
	runErr := machine.Run()
	assert(t, runErr == nil, "run failed: %v", runErr)
	assert(t, !machine.running, "program should have reached END")
}

// MLOAD resets the cursor to program memory, independent of any register.
func TestMLoadResetsToProgramMemory(t *testing.T) {
	_, out := runSource(t, `
		mload
		move @0 7
		mset "x" @0
		mload "x"
		mget @1
		str @1
		push @1
		sys 0 1
		end
	`)
	assert(t, out == "7", "stdout = %q, want %q", out, "7")
}

// LOCAL redirects the cursor to the active call frame's locals table, and
// that table is distinct per call and from program memory.
func TestLocalRedirectsToCallFrameLocals(t *testing.T) {
	_, out := runSource(t, `
		move @0 f
		call @0
		end
	f:
		local
		move @1 9
		mset "x" @1
		mload "x"
		mget @1
		str @1
		push @1
		sys 0 1
		ret
	`)
	assert(t, out == "9", "stdout = %q, want %q", out, "9")
}

// A table's locals live only as long as its call frame: a second call to
// the same function gets a fresh, empty locals table rather than seeing the
// previous call's leftover variables. If locals were shared, the second
// call would see the "seen" key left behind by the first and report size 1
// instead of 0.
func TestLocalsAreNotSharedAcrossCalls(t *testing.T) {
	_, out := runSource(t, `
		move @0 f
		call @0
		move @0 f
		call @0
		end
	f:
		local
		mget @1
		size @1 @2
		str @2
		push @2
		sys 0 1
		madd "seen"
		ret
	`)
	assert(t, out == "00", "stdout = %q, want %q (fresh locals each call)", out, "00")
}

// ILOAD snapshots the table under the cursor, not a register operand.
func TestILoadSnapshotsCursorTable(t *testing.T) {
	machine, _ := runSource(t, `
		ctbl @0
		mload
		mset "t" @0
		mload "t"
		move @1 10
		mset "a" @1
		iload 0
		ihas @2
		ival @3
		idel
		end
	`)
	assert(t, machine.registers[2].Truthy(), "expected IHAS to report an entry")
	assert(t, machine.registers[3].ToNumber() == 10, "expected IVAL to report 10, got %v", machine.registers[3].ToNumber())
}

// CALL_R's capacity-hint inline cache is stashed into the call instruction's
// own rparam by RET, not a side table, so it must be visible by reading the
// instruction back out of the loaded program after a call completes.
func TestCallCapacityInlineCache(t *testing.T) {
	prog, err := Assemble(`
		move @0 f
		call @0
		end
	f:
		local
		madd "a"
		madd "b"
		madd "c"
		ret
	`)
	assert(t, err == nil, "assemble failed: %v", err)

	callPC := -1
	for i, instr := range prog.Instructions {
		if instr.Op == CALL_R {
			callPC = i
		}
	}
	assert(t, callPC >= 0, "expected to find a CALL_R instruction")
	assert(t, prog.Instructions[callPC].Rparam == 1, "initial capacity hint should be the assembler's default of 1, got %d", prog.Instructions[callPC].Rparam)

	machine := NewVM(0)
	machine.SetOutput(func(string) {})
	machine.Load(prog)
	runErr := machine.Run()
	assert(t, runErr == nil, "run failed: %v", runErr)
	assert(t, machine.instructions[callPC].Rparam == 3, "expected RET to stash the locals table's final size (3) back into CALL_R's rparam, got %d", machine.instructions[callPC].Rparam)
}

// "number" is a 64-bit float (spec §3), so division by zero is not a
// runtime error: DIV_R_R and MOD_R_R let the float arithmetic run to its
// natural IEEE-754 conclusion.
func TestDivAndModByZeroDoNotError(t *testing.T) {
	machine, _ := runSource(t, `
		move @0 1
		move @1 0
		div  @0 @1
		end
	`)
	got := machine.registers[0].ToNumber()
	assert(t, math.IsInf(got, 1), "expected DIV_R_R by zero to yield +Inf, got %v", got)

	machine, _ = runSource(t, `
		move @0 1
		move @1 0
		mod  @0 @1
		end
	`)
	got = machine.registers[0].ToNumber()
	assert(t, math.IsNaN(got), "expected MOD_R_R by zero to yield NaN, got %v", got)
}

// The SP* fused forms get the same treatment as their *_R_R counterparts.
func TestStackPopDivAndModByZeroDoNotError(t *testing.T) {
	machine, _ := runSource(t, `
		move @0 0
		move @1 5
		push @1
		spdiv
		end
	`)
	got := machine.registers[0].ToNumber()
	assert(t, math.IsInf(got, 1), "expected SPDIV by zero to yield +Inf, got %v", got)

	machine, _ = runSource(t, `
		move @0 0
		move @1 5
		push @1
		spmod
		end
	`)
	got = machine.registers[0].ToNumber()
	assert(t, math.IsNaN(got), "expected SPMOD by zero to yield NaN, got %v", got)
}

// MCLR clears whatever the cursor addresses regardless of its prior kind,
// not only when it happens to hold a table.
func TestMCLRUnconditionallyClearsCursor(t *testing.T) {
	machine, _ := runSource(t, `
		mload
		move @0 5
		mset "x" @0
		mload "x"
		mclr
		mget @1
		end
	`)
	assert(t, machine.registers[1].Kind == KindUnset, "expected MCLR to clear a number-kind cursor, got %v", machine.registers[1])
}

// IKEY_R reports unset for a wrapper-mode iterator, even though the
// snapshotted entries do have real keys.
func TestWrapperModeIteratorReportsUnsetKey(t *testing.T) {
	machine, _ := runSource(t, `
		ctbl @0
		mload
		mset "t" @0
		mload "t"
		move @1 10
		mset "a" @1
		iload 1
		ikey @2
		end
	`)
	assert(t, machine.registers[2].Kind == KindUnset, "expected IKEY_R to report unset in wrapper mode, got %v", machine.registers[2])
}

// Non-wrapper iteration still reports the real key, so the wrapper check
// above is actually exercising the flag and not just always returning unset.
func TestNonWrapperModeIteratorReportsRealKey(t *testing.T) {
	machine, _ := runSource(t, `
		ctbl @0
		mload
		mset "t" @0
		mload "t"
		move @1 10
		mset "a" @1
		iload 0
		ikey @2
		end
	`)
	assert(t, machine.registers[2].Kind == KindString && machine.registers[2].Str == "a",
		"expected IKEY_R to report the real key \"a\" outside wrapper mode, got %v", machine.registers[2])
}

// FLOAD_R resolves a name already sitting in a register to its dense
// registration index (or unset if the name was never registered), and
// FCALL_N dispatches through that index read back off the value stack at
// position -argCount.
func TestFLoadAndFCallDispatchThroughResolvedIndex(t *testing.T) {
	prog, err := Assemble(`
		move @0 "double"
		fload @0
		push @0
		move @1 21
		push @1
		fcall 2
		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)

	machine := NewVM(0)
	machine.SetOutput(func(string) {})
	machine.RegisterFCall("double", func(vm *VM, args []Value) (Value, error) {
		return Number(args[0].ToNumber() * 2), nil
	})
	machine.Load(prog)
	runErr := machine.Run()
	assert(t, runErr == nil, "run failed: %v", runErr)
	assert(t, machine.registers[0].ToNumber() == 42,
		"expected FCALL_N to dispatch through the resolved index and leave 42 in R0, got %v", machine.registers[0].ToNumber())
}

// An unregistered name resolves to unset, never an error.
func TestFLoadUnregisteredNameYieldsUnset(t *testing.T) {
	machine, _ := runSource(t, `
		move @0 "nosuchfunction"
		fload @0
		end
	`)
	assert(t, machine.registers[0].Kind == KindUnset,
		"expected FLOAD_R to leave an unregistered name as unset, got %v", machine.registers[0])
}
