package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// assembler.go is the textual-listing compiler (spec §4.2), grounded on
// asm.c's ASM_Compile: tokenize a line, gather up to two operands, resolve
// the command against asmCommands' overload list (an ASM_INT slot accepts
// an ASM_NUM token via truncation, same relaxation asm.c applies), track
// labels as forward-declarable symbols, and intern strings into a dense
// index space.

// Assembler holds all per-compilation state: the growing instruction list,
// the string pool, the label table, and source-position bookkeeping.
type Assembler struct {
	instructions []Instruction
	strings      []string
	stringIdx    map[string]int32
	labels       map[string]*labelEntry
	lineMeta     []lineMetaEntry
	fileMeta     []fileMetaEntry
	curFile      string
	curLine      int
	errs         []error
}

type labelEntry struct {
	id                int32 // positive, assigned on first mention
	resolved          bool
	instruction       int // resolved instruction index, once defined
	originalInstr     int // pre-optimization instruction index, for §4.2.1 bookkeeping
}

// NewAssembler creates an empty assembler ready to Compile source lines.
func NewAssembler() *Assembler {
	return &Assembler{
		stringIdx: make(map[string]int32),
		labels:    make(map[string]*labelEntry),
		curLine:   1,
	}
}

// Compile assembles the given source text into a linked, optimized Program.
// It is the equivalent of asm.c's full pipeline: parse, optimize, link.
func (a *Assembler) Compile(source string) (*Program, error) {
	for _, line := range strings.Split(source, "\n") {
		a.compileLine(line)
		a.curLine++
	}
	if len(a.errs) > 0 {
		return nil, a.errs[0]
	}
	for name, l := range a.labels {
		if !l.resolved {
			a.errs = append(a.errs, errAssembly(a.curFile, a.curLine, fmt.Errorf("%w: %q", errDanglingLabelRef, name)))
		}
	}
	if len(a.errs) > 0 {
		return nil, a.errs[0]
	}

	a.instructions = append(a.instructions, Instruction{Op: END})

	optimize(a)
	if err := link(a); err != nil {
		return nil, err
	}

	return &Program{
		Strings:      a.strings,
		Instructions: a.instructions,
		LineMeta:     a.lineMeta,
		FileMeta:     a.fileMeta,
	}, nil
}

func (a *Assembler) fail(err error) {
	a.errs = append(a.errs, errAssembly(a.curFile, a.curLine, err))
}

func (a *Assembler) compileLine(line string) {
	toks := lexLine(line)
	if len(toks) == 0 {
		return
	}

	switch toks[0].kind {
	case tokErr:
		a.fail(fmt.Errorf("%s", toks[0].str))
		return
	case tokLineDirective:
		if n, err := strconv.Atoi(toks[0].str); err == nil {
			a.curLine = n
			a.recordLineMeta()
		}
		return
	case tokFileDirective:
		a.curFile = toks[0].str
		a.recordFileMeta()
		return
	case tokLabelDef:
		a.defineLabel(toks[0].str)
		return
	}

	a.recordLineMeta()
	a.recordFileMeta()

	name := strings.ToLower(toks[0].str)
	sigs, ok := asmCommands[name]
	if !ok {
		a.fail(fmt.Errorf("%w: %q", errUnknownCommand, toks[0].str))
		return
	}

	operands := toks[1:]
	if len(operands) > 2 {
		a.fail(fmt.Errorf("%w: %q takes at most two operands", errNoMatchingOverload, name))
		return
	}

	sig, ok := a.resolveOverload(sigs, operands)
	if !ok {
		a.fail(fmt.Errorf("%w: %q", errNoMatchingOverload, name))
		return
	}

	instr := Instruction{Op: sig.op, LKind: sig.lkind, RKind: sig.rkind}
	if len(operands) > 0 {
		a.bindOperand(&instr, sig.lkind, operands[0], true)
	}
	if len(operands) > 1 {
		a.bindOperand(&instr, sig.rkind, operands[1], false)
	}

	// CALL_R's rparam isn't a real operand: it's the locals-capacity inline
	// cache (spec §4.6), seeded to 1 here and refined in place by RET after
	// each call through this site.
	if sig.op == CALL_R {
		instr.Rparam = 1
	}

	a.instructions = append(a.instructions, instr)
}

// resolveOverload scans sigs in declaration order for the first entry whose
// operand-kind signature matches the tokenized operands, applying the
// ASM_INT-accepts-ASM_NUM relaxation.
func (a *Assembler) resolveOverload(sigs []asmSig, operands []token) (asmSig, bool) {
	want := func(kind OperandKind, tok token) bool {
		switch kind {
		case OperandNone:
			return false
		case OperandReg:
			return tok.kind == tokReg
		case OperandNum:
			return tok.kind == tokNum
		case OperandInt:
			return tok.kind == tokNum
		case OperandStr:
			return tok.kind == tokStr
		case OperandLbl:
			return tok.kind == tokLabelRef
		}
		return false
	}
	for _, sig := range sigs {
		need := 0
		if sig.lkind != OperandNone {
			need++
		}
		if sig.rkind != OperandNone {
			need++
		}
		if need != len(operands) {
			continue
		}
		ok := true
		if sig.lkind != OperandNone && !want(sig.lkind, operands[0]) {
			ok = false
		}
		if ok && sig.rkind != OperandNone && !want(sig.rkind, operands[1]) {
			ok = false
		}
		if ok {
			return sig, true
		}
	}
	return asmSig{}, false
}

func (a *Assembler) bindOperand(instr *Instruction, kind OperandKind, tok token, left bool) {
	switch kind {
	case OperandReg:
		if left {
			instr.Lparam = int32(tok.reg)
		} else {
			instr.Rparam = int32(tok.reg)
		}
	case OperandNum:
		if left {
			instr.Lnum = tok.num
		} else {
			instr.Rnum = tok.num
		}
	case OperandInt:
		if left {
			instr.Lparam = int32(tok.num)
		} else {
			instr.Rparam = int32(tok.num)
		}
	case OperandStr:
		idx := a.intern(tok.str)
		if left {
			instr.Lparam = idx
		} else {
			instr.Rparam = idx
		}
	case OperandLbl:
		id := a.labelRef(tok.str)
		if left {
			instr.Lparam = id
		} else {
			instr.Rparam = id
		}
	}
}

// intern returns s's dense string-table index, adding it if new.
func (a *Assembler) intern(s string) int32 {
	if idx, ok := a.stringIdx[s]; ok {
		return idx
	}
	idx := int32(len(a.strings))
	a.strings = append(a.strings, s)
	a.stringIdx[s] = idx
	return idx
}

// labelRef returns the negated id of name's label entry, creating it on
// first mention (spec §4.2: "assigned a fresh positive id on first textual
// occurrence... emitted parameter is the negation of the id").
func (a *Assembler) labelRef(name string) int32 {
	l, ok := a.labels[name]
	if !ok {
		l = &labelEntry{id: int32(len(a.labels) + 1)}
		a.labels[name] = l
	}
	return -l.id
}

func (a *Assembler) defineLabel(name string) {
	l, ok := a.labels[name]
	if !ok {
		l = &labelEntry{id: int32(len(a.labels) + 1)}
		a.labels[name] = l
	}
	if l.resolved {
		a.fail(fmt.Errorf("%w: %q", errDuplicateLabel, name))
		return
	}
	l.resolved = true
	l.instruction = len(a.instructions)
	l.originalInstr = len(a.instructions)
}

func (a *Assembler) recordLineMeta() {
	n := len(a.lineMeta)
	if n > 0 && a.lineMeta[n-1].InstructionIndex == len(a.instructions) {
		a.lineMeta[n-1].Line = a.curLine
		return
	}
	if n > 0 && a.lineMeta[n-1].Line == a.curLine {
		return
	}
	a.lineMeta = append(a.lineMeta, lineMetaEntry{InstructionIndex: len(a.instructions), Line: a.curLine})
}

func (a *Assembler) recordFileMeta() {
	n := len(a.fileMeta)
	if n > 0 && a.fileMeta[n-1].InstructionIndex == len(a.instructions) {
		a.fileMeta[n-1].File = a.curFile
		return
	}
	if n > 0 && a.fileMeta[n-1].File == a.curFile {
		return
	}
	a.fileMeta = append(a.fileMeta, fileMetaEntry{InstructionIndex: len(a.instructions), File: a.curFile})
}

// Assemble is the package-level convenience entry point.
func Assemble(source string) (*Program, error) {
	return NewAssembler().Compile(source)
}
