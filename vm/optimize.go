package vm

// optimize.go implements the peephole pass of spec §4.2.1: fold short
// idiomatic instruction runs into specialization opcodes, then slide every
// label and debug-metadata index down by however many instructions each
// fusion removed. The original (pre-optimization) instruction index
// recorded on every label at definition time is exactly what lets this
// pass work after repeated fusions without losing track of anything.

type fusionRule struct {
	length int
	match  func(window []Instruction) bool
	build  func(window []Instruction) Instruction
}

var fusionRules = []fusionRule{
	// MPUSH, MLOAD, MLOAD_S s, MGET_R r, MPOP -> OPT_LOADSINGLEVARG_R_S r, s
	{
		length: 5,
		match: func(w []Instruction) bool {
			return w[0].Op == MPUSH && w[1].Op == MLOAD && w[2].Op == MLOAD_S &&
				w[3].Op == MGET_R && w[4].Op == MPOP
		},
		build: func(w []Instruction) Instruction {
			return Instruction{Op: OPT_LOADSINGLEVARG_R_S, LKind: OperandReg, RKind: OperandStr,
				Lparam: w[3].Lparam, Rparam: w[2].Lparam}
		},
	},
	// MPUSH, MLOAD_S s, MGET_R r, MPOP -> OPT_LOADSINGLEVAR_R_S r, s
	{
		length: 4,
		match: func(w []Instruction) bool {
			return w[0].Op == MPUSH && w[1].Op == MLOAD_S && w[2].Op == MGET_R && w[3].Op == MPOP
		},
		build: func(w []Instruction) Instruction {
			return Instruction{Op: OPT_LOADSINGLEVAR_R_S, LKind: OperandReg, RKind: OperandStr,
				Lparam: w[2].Lparam, Rparam: w[1].Lparam}
		},
	},
	// MOVE_R_N r, n; PUSH_R r -> PUSH_N n
	{
		length: 2,
		match: func(w []Instruction) bool {
			return w[0].Op == MOVE_R_N && w[1].Op == PUSH_R && w[1].Lparam == w[0].Lparam
		},
		build: func(w []Instruction) Instruction {
			return Instruction{Op: PUSH_N, LKind: OperandNum, Lnum: w[0].Rnum}
		},
	},
	// MOVE_R_S r, s; PUSH_R r -> PUSH_S s
	{
		length: 2,
		match: func(w []Instruction) bool {
			return w[0].Op == MOVE_R_S && w[1].Op == PUSH_R && w[1].Lparam == w[0].Lparam
		},
		build: func(w []Instruction) Instruction {
			return Instruction{Op: PUSH_S, LKind: OperandStr, Lparam: w[0].Rparam}
		},
	},
	// MOVE_R_L r, l; PUSH_R r -> PUSH_L l
	{
		length: 2,
		match: func(w []Instruction) bool {
			return w[0].Op == MOVE_R_L && w[1].Op == PUSH_R && w[1].Lparam == w[0].Lparam
		},
		build: func(w []Instruction) Instruction {
			return Instruction{Op: PUSH_L, LKind: OperandLbl, Lparam: w[0].Rparam}
		},
	},
	// idempotent-pair collapses: STR_R_R r, r -> STR_R r (and NUM_R_R, INT_R_R)
	{
		length: 1,
		match: func(w []Instruction) bool {
			return (w[0].Op == STR_R_R || w[0].Op == NUM_R_R || w[0].Op == INT_R_R) && w[0].Lparam == w[0].Rparam
		},
		build: func(w []Instruction) Instruction {
			op := map[Opcode]Opcode{STR_R_R: STR_R, NUM_R_R: NUM_R, INT_R_R: INT_R}[w[0].Op]
			return Instruction{Op: op, LKind: OperandReg, Lparam: w[0].Lparam}
		},
	},
}

// optimize runs the peephole pass over a.instructions in place, rewriting
// a.labels' resolved instruction indices and a.lineMeta/a.fileMeta to match
// the post-fusion stream.
func optimize(a *Assembler) {
	old := a.instructions
	oldToNew := make([]int, len(old)+1)

	var out []Instruction
	i := 0
	for i < len(old) {
		fused := false
		for _, rule := range fusionRules {
			if rule.length == 1 {
				continue // single-instruction collapses handled after multi-instruction fusions
			}
			if i+rule.length > len(old) {
				continue
			}
			window := old[i : i+rule.length]
			if rule.match(window) {
				newIdx := len(out)
				out = append(out, rule.build(window))
				for k := 0; k < rule.length; k++ {
					oldToNew[i+k] = newIdx
				}
				i += rule.length
				fused = true
				break
			}
		}
		if fused {
			continue
		}

		matchedSingle := false
		for _, rule := range fusionRules {
			if rule.length != 1 {
				continue
			}
			if rule.match(old[i : i+1]) {
				newIdx := len(out)
				out = append(out, rule.build(old[i:i+1]))
				oldToNew[i] = newIdx
				matchedSingle = true
				break
			}
		}
		if matchedSingle {
			i++
			continue
		}

		oldToNew[i] = len(out)
		out = append(out, old[i])
		i++
	}
	oldToNew[len(old)] = len(out)

	a.instructions = out

	for _, l := range a.labels {
		if l.resolved {
			l.instruction = oldToNew[l.originalInstr]
		}
	}

	remapLine := make([]lineMetaEntry, 0, len(a.lineMeta))
	for _, m := range a.lineMeta {
		remapLine = append(remapLine, lineMetaEntry{InstructionIndex: oldToNew[clampIdx(m.InstructionIndex, len(old))], Line: m.Line})
	}
	a.lineMeta = dedupLineMeta(remapLine)

	remapFile := make([]fileMetaEntry, 0, len(a.fileMeta))
	for _, m := range a.fileMeta {
		remapFile = append(remapFile, fileMetaEntry{InstructionIndex: oldToNew[clampIdx(m.InstructionIndex, len(old))], File: m.File})
	}
	a.fileMeta = dedupFileMeta(remapFile)
}

func clampIdx(idx, max int) int {
	if idx > max {
		return max
	}
	if idx < 0 {
		return 0
	}
	return idx
}

func dedupLineMeta(in []lineMetaEntry) []lineMetaEntry {
	out := in[:0:0]
	for _, m := range in {
		if n := len(out); n > 0 && (out[n-1].InstructionIndex == m.InstructionIndex || out[n-1].Line == m.Line) {
			if out[n-1].InstructionIndex == m.InstructionIndex {
				out[n-1].Line = m.Line
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

func dedupFileMeta(in []fileMetaEntry) []fileMetaEntry {
	out := in[:0:0]
	for _, m := range in {
		if n := len(out); n > 0 && (out[n-1].InstructionIndex == m.InstructionIndex || out[n-1].File == m.File) {
			if out[n-1].InstructionIndex == m.InstructionIndex {
				out[n-1].File = m.File
			}
			continue
		}
		out = append(out, m)
	}
	return out
}
