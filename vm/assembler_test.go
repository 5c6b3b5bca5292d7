package vm

import (
	"strings"
	"testing"
)

func TestAssembleEmptySourceYieldsOnlyEnd(t *testing.T) {
	prog, err := Assemble("")
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, len(prog.Instructions) == 1, "expected exactly 1 instruction, got %d", len(prog.Instructions))
	assert(t, prog.Instructions[0].Op == END, "expected the sole instruction to be END, got %v", prog.Instructions[0].Op)
}

func TestAssembleOutOfRangeRegisterFails(t *testing.T) {
	_, err := Assemble(`move @10 1`)
	assert(t, err != nil, "expected @10 to be rejected at parse time")
}

func TestAssembleDanglingLabelReferenceFails(t *testing.T) {
	_, err := Assemble(`
		move @0 nowhere
		end
	`)
	assert(t, err != nil, "expected a reference to an undefined label to fail assembly")
	assert(t, strings.Contains(err.Error(), "nowhere"), "error %q should name the dangling label", err.Error())
}

func TestAssembleDuplicateLabelFails(t *testing.T) {
	_, err := Assemble(`
	a:
		end
	a:
		end
	`)
	assert(t, err != nil, "expected redefining a label to fail assembly")
}

func TestAssembleForwardLabelReferenceResolves(t *testing.T) {
	prog, err := Assemble(`
		move @0 target
		jmp target
		end
	target:
		nop
	`)
	assert(t, err == nil, "assemble failed: %v", err)

	var moveIdx = -1
	for i, instr := range prog.Instructions {
		if instr.Op == MOVE_R_L {
			moveIdx = i
		}
	}
	assert(t, moveIdx >= 0, "expected to find the MOVE_R_L instruction")

	targetIdx := -1
	for i, instr := range prog.Instructions {
		if instr.Op == NOP {
			targetIdx = i
		}
	}
	assert(t, targetIdx > 0, "expected to find the NOP instruction at the target label")
	assert(t, prog.Instructions[moveIdx].Rparam == int32(targetIdx),
		"expected MOVE_R_L's label operand to resolve to instruction %d, got %d", targetIdx, prog.Instructions[moveIdx].Rparam)
}

func TestAssembleOverloadResolutionPicksOperandKind(t *testing.T) {
	prog, err := Assemble(`
		mset "k" @1
		mset 7 @1
		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, prog.Instructions[0].Op == MSET_S, "expected a string key to resolve to MSET_S, got %v", prog.Instructions[0].Op)
	assert(t, prog.Instructions[1].Op == MSET_N, "expected a numeric key to resolve to MSET_N, got %v", prog.Instructions[1].Op)
}

func TestAssembleUnknownCommandFails(t *testing.T) {
	_, err := Assemble(`bogus @0`)
	assert(t, err != nil, "expected an unknown mnemonic to fail assembly")
}

func TestAssembleTooManyOperandsFails(t *testing.T) {
	_, err := Assemble(`move @0 1 2`)
	assert(t, err != nil, "expected more than two operands to fail assembly")
}

func TestAssembleIntOperandTruncatesTowardZero(t *testing.T) {
	prog, err := Assemble(`
		iload 1.9
		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, prog.Instructions[0].Op == ILOAD, "expected an ILOAD instruction, got %v", prog.Instructions[0].Op)
	assert(t, prog.Instructions[0].Lparam == 1, "expected 1.9 to truncate to 1, got %d", prog.Instructions[0].Lparam)
}

func TestAssembleStringInterningDedups(t *testing.T) {
	prog, err := Assemble(`
		madd "dup"
		mset "dup" @0
		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, len(prog.Strings) == 1, "expected the repeated string literal to intern once, got %d entries: %v", len(prog.Strings), prog.Strings)
}

func TestAssembleCallRparamSeededToOne(t *testing.T) {
	prog, err := Assemble(`
		move @0 f
		call @0
		end
	f:
		ret
	`)
	assert(t, err == nil, "assemble failed: %v", err)
	found := false
	for _, instr := range prog.Instructions {
		if instr.Op == CALL_R {
			found = true
			assert(t, instr.Rparam == 1, "expected CALL_R's rparam to seed to 1, got %d", instr.Rparam)
		}
	}
	assert(t, found, "expected to find a CALL_R instruction")
}

func TestAssembleCommentsAndBlankLinesIgnored(t *testing.T) {
	prog, err := Assemble(`
		; a comment line
		nop ; trailing comment

		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, len(prog.Instructions) == 3, "expected NOP, the explicit END, and the implicit trailing END, got %d instructions", len(prog.Instructions))
	assert(t, prog.Instructions[0].Op == NOP, "expected the first instruction to be NOP, got %v", prog.Instructions[0].Op)
}

// Peephole fusion must not change what a program does; this program's first
// two instructions are exactly the MOVE_R_N + PUSH_R -> PUSH_N fusion target (spec §4.2.1). The
// instruction count must shrink relative to the unfused form with no fusion
// opportunity (used as a negative control).
func TestAssemblePeepholeFusionShrinksMatchingSequence(t *testing.T) {
	fused, err := Assemble(`
		move @0 5
		push @0
		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)

	unfused, err := Assemble(`
		move @0 5
		pop @0
		end
	`)
	assert(t, err == nil, "assemble failed: %v", err)

	assert(t, len(fused.Instructions) < len(unfused.Instructions),
		"expected the MOVE_R_N+PUSH_R sequence to fuse to fewer instructions than an equivalent-length non-fusible sequence: fused=%d unfused=%d",
		len(fused.Instructions), len(unfused.Instructions))

	sawPushN := false
	for _, instr := range fused.Instructions {
		if instr.Op == PUSH_N {
			sawPushN = true
		}
	}
	assert(t, sawPushN, "expected the fused program to contain a PUSH_N instruction")
}
