package vm

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// binary.go implements the on-disk program format of spec §4.1: a
// little-endian, packed encoding of the debug flag, heap-size hint, line
// and filename metadata, string table, and instruction stream. Each
// Instruction's lparam/rparam are written as the widest representation
// (8 bytes) that can hold either an int32 or an f64, since the opcode alone
// decides which interpretation applies at load time.

const defaultHeapSizeHint = 16 * 1024 * 1024

// EncodeProgram serializes p per spec §4.1's binary layout.
func EncodeProgram(p *Program) []byte {
	var buf bytes.Buffer

	flag := byte(0)
	if p.DebugFlag {
		flag = 1
	}
	buf.WriteByte(flag)

	writeU32(&buf, uint32(p.HeapSizeHint))

	writeU32(&buf, uint32(len(p.LineMeta)))
	for _, m := range p.LineMeta {
		writeI32(&buf, int32(m.InstructionIndex))
		writeI32(&buf, int32(m.Line))
	}

	writeU32(&buf, uint32(len(p.FileMeta)))
	for _, m := range p.FileMeta {
		writeI32(&buf, int32(m.InstructionIndex))
		writeLenPrefixed(&buf, m.File)
	}

	writeU32(&buf, uint32(len(p.Strings)))
	for _, s := range p.Strings {
		writeLenPrefixed(&buf, s)
	}

	writeU32(&buf, uint32(len(p.Instructions)))
	for _, instr := range p.Instructions {
		writeU16(&buf, uint16(instr.Op))
		writeParam(&buf, instr.LKind, instr.Lparam, instr.Lnum)
		writeParam(&buf, instr.RKind, instr.Rparam, instr.Rnum)
	}

	return buf.Bytes()
}

// DecodeProgram parses the spec §4.1 binary layout. Opcode/operand-kind
// pairing (which 8-byte slot means "int32" vs "f64") is recovered from each
// opcode's static shape, as reported by operandShape.
func DecodeProgram(r io.Reader) (*Program, error) {
	br := newByteReader(r)

	flag, err := br.readByte()
	if err != nil {
		return nil, errLoad(err)
	}

	heapHint, err := br.readU32()
	if err != nil {
		return nil, errLoad(err)
	}

	lineCount, err := br.readU32()
	if err != nil {
		return nil, errLoad(err)
	}
	lineMeta := make([]lineMetaEntry, lineCount)
	for i := range lineMeta {
		idx, err := br.readI32()
		if err != nil {
			return nil, errLoad(err)
		}
		line, err := br.readI32()
		if err != nil {
			return nil, errLoad(err)
		}
		lineMeta[i] = lineMetaEntry{InstructionIndex: int(idx), Line: int(line)}
	}

	fileCount, err := br.readU32()
	if err != nil {
		return nil, errLoad(err)
	}
	fileMeta := make([]fileMetaEntry, fileCount)
	for i := range fileMeta {
		idx, err := br.readI32()
		if err != nil {
			return nil, errLoad(err)
		}
		s, err := br.readLenPrefixed()
		if err != nil {
			return nil, errLoad(err)
		}
		fileMeta[i] = fileMetaEntry{InstructionIndex: int(idx), File: s}
	}

	stringCount, err := br.readU32()
	if err != nil {
		return nil, errLoad(err)
	}
	strs := make([]string, stringCount)
	for i := range strs {
		s, err := br.readLenPrefixed()
		if err != nil {
			return nil, errLoad(err)
		}
		strs[i] = s
	}

	instrCount, err := br.readU32()
	if err != nil {
		return nil, errLoad(err)
	}
	instrs := make([]Instruction, instrCount)
	for i := range instrs {
		opRaw, err := br.readU16()
		if err != nil {
			return nil, errLoad(err)
		}
		op := Opcode(opRaw)
		if op >= opcodeCount {
			return nil, errLoad(errBadMagic)
		}
		lkind, rkind := operandShape(op)
		instr := Instruction{Op: op, LKind: lkind, RKind: rkind}
		if err := readParam(br, lkind, &instr.Lparam, &instr.Lnum); err != nil {
			return nil, errLoad(err)
		}
		if err := readParam(br, rkind, &instr.Rparam, &instr.Rnum); err != nil {
			return nil, errLoad(err)
		}
		instrs[i] = instr
	}

	return &Program{
		DebugFlag:    flag != 0,
		HeapSizeHint: int(heapHint),
		Strings:      strs,
		Instructions: instrs,
		LineMeta:     lineMeta,
		FileMeta:     fileMeta,
	}, nil
}

func writeParam(buf *bytes.Buffer, kind OperandKind, iparam int32, fparam float64) {
	if kind == OperandNum {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(fparam))
		buf.Write(tmp[:])
		return
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(iparam))
	buf.Write(tmp[:])
}

func readParam(br *byteReader, kind OperandKind, iparam *int32, fparam *float64) error {
	raw, err := br.readBytes(8)
	if err != nil {
		return err
	}
	if kind == OperandNum {
		*fparam = math.Float64frombits(binary.LittleEndian.Uint64(raw))
		return nil
	}
	*iparam = int32(binary.LittleEndian.Uint32(raw[:4]))
	return nil
}

// operandShape reports the static operand-kind signature of every opcode,
// used by the loader to know which 8-byte slot interpretation to apply
// (the binary format itself carries no per-instruction tag for this).
func operandShape(op Opcode) (OperandKind, OperandKind) {
	for _, sigs := range asmCommands {
		for _, sig := range sigs {
			if sig.op == op {
				return sig.lkind, sig.rkind
			}
		}
	}
	return OperandNone, OperandNone
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}

func writeLenPrefixed(buf *bytes.Buffer, s string) {
	writeI32(buf, int32(len(s)))
	buf.WriteString(s)
}

// byteReader is a minimal cursor over an io.Reader used only by DecodeProgram.
type byteReader struct {
	r io.Reader
}

func newByteReader(r io.Reader) *byteReader { return &byteReader{r: r} }

func (b *byteReader) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, errTruncatedBinary
	}
	return buf, nil
}

func (b *byteReader) readByte() (byte, error) {
	buf, err := b.readBytes(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *byteReader) readU16() (uint16, error) {
	buf, err := b.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (b *byteReader) readU32() (uint32, error) {
	buf, err := b.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (b *byteReader) readI32() (int32, error) {
	v, err := b.readU32()
	return int32(v), err
}

func (b *byteReader) readLenPrefixed() (string, error) {
	n, err := b.readI32()
	if err != nil {
		return "", err
	}
	buf, err := b.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
