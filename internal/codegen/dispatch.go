package codegen

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wasmforge/wasmforge/internal/arch"
	"github.com/wasmforge/wasmforge/internal/leb128"
	"github.com/wasmforge/wasmforge/internal/opstack"
	"github.com/wasmforge/wasmforge/internal/wasm"
)

// Compile drives a single function body's bytecode through the lowering
// primitives defined elsewhere in this package, one opcode at a time:
// constant-fold or defer where
// possible, else lower straight to native code. No intermediate
// representation is ever built — each opcode is consumed and discarded as
// soon as it has been lowered or folded.
func (b *Backend) Compile(body []byte) error {
	r := bytes.NewReader(body)
	for r.Len() > 0 {
		op, err := readOpcode(r)
		if err != nil {
			return err
		}
		if err := b.dispatch(r, op); err != nil {
			return fmt.Errorf("codegen: opcode 0x%x: %w", uint16(op), err)
		}
	}
	return nil
}

func readOpcode(r *bytes.Reader) (wasm.Opcode, error) {
	c, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if wasm.Opcode(c) == wasm.OpcodeMiscPrefix {
		sub, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, err
		}
		return wasm.Opcode(0x100) | wasm.Opcode(sub), nil
	}
	return wasm.Opcode(c), nil
}

func decU32(r *bytes.Reader) (uint32, error) { v, _, err := leb128.DecodeUint32(r); return v, err }
func decI32(r *bytes.Reader) (int32, error)  { v, _, err := leb128.DecodeInt32(r); return v, err }
func decI64(r *bytes.Reader) (int64, error)  { v, _, err := leb128.DecodeInt64(r); return v, err }

// dispatch handles one already-read opcode. When the current path is
// unreachable (b.Reachable == false), every opcode except the structured
// control-flow markers (block/loop/if/else/end) is skipped after consuming
// its immediates, mirroring its Skip-state behavior: no native
// code is emitted for dead code, but the byte stream still has to be walked
// correctly to find the matching end.
func (b *Backend) dispatch(r *bytes.Reader, op wasm.Opcode) error {
	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		sig, err := readBlockType(r)
		if err != nil {
			return err
		}
		pos := uint64(0) // a concrete byte offset is filled in by internal/compiler's driver, which tracks consumed-byte count across calls
		kind := opstack.BlockKindBlock
		switch op {
		case wasm.OpcodeLoop:
			kind = opstack.BlockKindLoop
		case wasm.OpcodeIf:
			kind = opstack.BlockKindIfBlock
		}
		blk := b.EnterBlock(kind, sig, pos)
		if op == wasm.OpcodeIf && b.Reachable {
			// A zero condition skips the then-branch: the jump resolves to
			// the else entry if one appears, else to the block end.
			cond := b.Stack.Pop()
			condReg := b.materialize(cond, arch.NilRegister)
			b.releaseIfScratch(cond)
			b.compareWithZero(condReg, arch.TypeI32)
			blk.ElseBranch = b.Asm.CompileConditionalJump(arch.CondEq)
		}
		return nil

	case wasm.OpcodeElse:
		return b.EnterElse()

	case wasm.OpcodeEnd:
		return b.EndBlock()
	}

	if !b.Reachable {
		return b.skipImmediates(r, op)
	}

	switch op {
	case wasm.OpcodeUnreachable:
		return b.Unreachable()
	case wasm.OpcodeNop:
		return nil

	case wasm.OpcodeBr:
		depth, err := decU32(r)
		if err != nil {
			return err
		}
		return b.Br(depth, 0)
	case wasm.OpcodeBrIf:
		depth, err := decU32(r)
		if err != nil {
			return err
		}
		return b.BrIf(depth, 0)
	case wasm.OpcodeBrTable:
		count, err := decU32(r)
		if err != nil {
			return err
		}
		targets := make([]uint32, count)
		for i := range targets {
			if targets[i], err = decU32(r); err != nil {
				return err
			}
		}
		def, err := decU32(r)
		if err != nil {
			return err
		}
		return b.BrTable(targets, def, 0)
	case wasm.OpcodeReturn:
		return b.Return()

	case wasm.OpcodeCall:
		idx, err := decU32(r)
		if err != nil {
			return err
		}
		return b.lowerCall(idx)
	case wasm.OpcodeCallIndirect:
		typeIdx, err := decU32(r)
		if err != nil {
			return err
		}
		if _, err := decU32(r); err != nil { // table index, always 0 in the subset modeled here
			return err
		}
		return b.lowerCallIndirect(typeIdx)

	case wasm.OpcodeDrop:
		e := b.Stack.Pop()
		b.releaseIfScratch(e)
		return nil
	case wasm.OpcodeSelect:
		return b.lowerSelect()

	case wasm.OpcodeLocalGet:
		idx, err := decU32(r)
		if err != nil {
			return err
		}
		b.Stack.Push(opstack.NewLocal(idx, b.Func.Locals.Types[idx]))
		return nil
	case wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
		idx, err := decU32(r)
		if err != nil {
			return err
		}
		return b.lowerLocalSet(idx, op == wasm.OpcodeLocalTee)
	case wasm.OpcodeGlobalGet:
		idx, err := decU32(r)
		if err != nil {
			return err
		}
		b.Stack.Push(opstack.NewGlobal(idx, b.Module.GlobalSection[idx].ValType.MachineType()))
		return nil
	case wasm.OpcodeGlobalSet:
		idx, err := decU32(r)
		if err != nil {
			return err
		}
		return b.lowerGlobalSet(idx)

	case wasm.OpcodeI32Const:
		v, err := decI32(r)
		if err != nil {
			return err
		}
		b.Stack.Push(opstack.NewConstant(arch.TypeI32, int64(v)))
		return nil
	case wasm.OpcodeI64Const:
		v, err := decI64(r)
		if err != nil {
			return err
		}
		b.Stack.Push(opstack.NewConstant(arch.TypeI64, v))
		return nil
	case wasm.OpcodeF32Const:
		var buf [4]byte
		if _, err := r.Read(buf[:]); err != nil {
			return err
		}
		b.Stack.Push(opstack.NewConstant(arch.TypeF32, int64(binary.LittleEndian.Uint32(buf[:]))))
		return nil
	case wasm.OpcodeF64Const:
		var buf [8]byte
		if _, err := r.Read(buf[:]); err != nil {
			return err
		}
		b.Stack.Push(opstack.NewConstant(arch.TypeF64, int64(binary.LittleEndian.Uint64(buf[:]))))
		return nil

	case wasm.OpcodeMemorySize:
		if _, err := r.ReadByte(); err != nil { // reserved memory-index byte
			return err
		}
		return b.lowerMemorySize()
	case wasm.OpcodeMemoryGrow:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		return b.lowerMemoryGrow()
	}

	if spec, ok := memOpTable[op]; ok {
		arg, err := readMemArg(r)
		if err != nil {
			return err
		}
		mode := MemoryMode{BoundsChecked: b.BoundsChecked || b.Info.NonMMU}
		if spec.isLoad {
			return b.LowerLoad(spec.mt, spec.width, spec.signed, arg, mode)
		}
		return b.LowerStore(spec.mt, spec.width, arg, mode)
	}

	if spec, ok := opTable[op]; ok {
		switch spec.shape {
		case shapeBinary:
			return b.LowerBinary(spec.op, spec.mt)
		case shapeUnary:
			return b.LowerUnaryDispatch(spec.op, spec.mt)
		case shapeCompare:
			return b.LowerCompare(spec.op, spec.mt)
		case shapeConvert:
			return b.LowerConvert(spec.op, spec.mt, spec.to)
		}
	}

	return fmt.Errorf("codegen: unhandled opcode")
}

// skipImmediates consumes op's immediate operands without touching the
// compile-time stack or emitting anything, for dead-code regions between an
// br/unreachable and the next else/end. This intentionally duplicates the
// immediate-shape knowledge dispatch already has rather than threading a
// "no-op mode" flag through every lowering function.
func (b *Backend) skipImmediates(r *bytes.Reader, op wasm.Opcode) error {
	switch op {
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet, wasm.OpcodeCall, wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		_, err := decU32(r)
		return err
	case wasm.OpcodeCallIndirect:
		if _, err := decU32(r); err != nil {
			return err
		}
		_, err := decU32(r)
		return err
	case wasm.OpcodeBrTable:
		count, err := decU32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < count; i++ {
			if _, err := decU32(r); err != nil {
				return err
			}
		}
		_, err = decU32(r)
		return err
	case wasm.OpcodeI32Const:
		_, err := decI32(r)
		return err
	case wasm.OpcodeI64Const:
		_, err := decI64(r)
		return err
	case wasm.OpcodeF32Const:
		_, err := r.Seek(4, 1)
		return err
	case wasm.OpcodeF64Const:
		_, err := r.Seek(8, 1)
		return err
	default:
		if _, ok := memOpTable[op]; ok {
			_, err := readMemArg(r)
			return err
		}
		return nil // no immediates
	}
}

func readBlockType(r *bytes.Reader) (int32, error) {
	peek, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch peek {
	case wasm.BlockTypeEmpty, byte(wasm.ValueTypeI32), byte(wasm.ValueTypeI64),
		byte(wasm.ValueTypeF32), byte(wasm.ValueTypeF64), byte(wasm.ValueTypeFuncref), byte(wasm.ValueTypeExternref):
		return int32(peek), nil
	}
	if err := r.UnreadByte(); err != nil {
		return 0, err
	}
	idx, _, err := leb128.DecodeInt33AsInt64(r)
	return int32(idx), err
}

func readMemArg(r *bytes.Reader) (MemArg, error) {
	align, err := decU32(r)
	if err != nil {
		return MemArg{}, err
	}
	offset, err := decU32(r)
	if err != nil {
		return MemArg{}, err
	}
	return MemArg{Align: align, Offset: offset}, nil
}

// opShape distinguishes how dispatch drives a non-memory, non-control
// opcode through the lowering primitives.
type opShape byte

const (
	shapeBinary opShape = iota
	shapeUnary
	shapeCompare
	shapeConvert
)

type opSpec struct {
	shape opShape
	op    arch.SemanticOp
	mt    arch.MachineType
	to    arch.MachineType // shapeConvert only
}

type memOpSpec struct {
	isLoad bool
	mt     arch.MachineType
	width  int // accessed bytes in memory: 1, 2, 4, or 8
	signed bool
}

var memOpTable = map[wasm.Opcode]memOpSpec{
	wasm.OpcodeI32Load: {true, arch.TypeI32, 4, false}, wasm.OpcodeI64Load: {true, arch.TypeI64, 8, false},
	wasm.OpcodeF32Load: {true, arch.TypeF32, 4, false}, wasm.OpcodeF64Load: {true, arch.TypeF64, 8, false},
	wasm.OpcodeI32Load8S: {true, arch.TypeI32, 1, true}, wasm.OpcodeI32Load8U: {true, arch.TypeI32, 1, false},
	wasm.OpcodeI32Load16S: {true, arch.TypeI32, 2, true}, wasm.OpcodeI32Load16U: {true, arch.TypeI32, 2, false},
	wasm.OpcodeI64Load8S: {true, arch.TypeI64, 1, true}, wasm.OpcodeI64Load8U: {true, arch.TypeI64, 1, false},
	wasm.OpcodeI64Load16S: {true, arch.TypeI64, 2, true}, wasm.OpcodeI64Load16U: {true, arch.TypeI64, 2, false},
	wasm.OpcodeI64Load32S: {true, arch.TypeI64, 4, true}, wasm.OpcodeI64Load32U: {true, arch.TypeI64, 4, false},

	wasm.OpcodeI32Store: {false, arch.TypeI32, 4, false}, wasm.OpcodeI64Store: {false, arch.TypeI64, 8, false},
	wasm.OpcodeF32Store: {false, arch.TypeF32, 4, false}, wasm.OpcodeF64Store: {false, arch.TypeF64, 8, false},
	wasm.OpcodeI32Store8: {false, arch.TypeI32, 1, false}, wasm.OpcodeI32Store16: {false, arch.TypeI32, 2, false},
	wasm.OpcodeI64Store8: {false, arch.TypeI64, 1, false}, wasm.OpcodeI64Store16: {false, arch.TypeI64, 2, false},
	wasm.OpcodeI64Store32: {false, arch.TypeI64, 4, false},
}

var opTable = map[wasm.Opcode]opSpec{
	wasm.OpcodeI32Add: {shapeBinary, arch.OpAdd, arch.TypeI32, 0}, wasm.OpcodeI64Add: {shapeBinary, arch.OpAdd, arch.TypeI64, 0},
	wasm.OpcodeI32Sub: {shapeBinary, arch.OpSub, arch.TypeI32, 0}, wasm.OpcodeI64Sub: {shapeBinary, arch.OpSub, arch.TypeI64, 0},
	wasm.OpcodeI32Mul: {shapeBinary, arch.OpMul, arch.TypeI32, 0}, wasm.OpcodeI64Mul: {shapeBinary, arch.OpMul, arch.TypeI64, 0},
	wasm.OpcodeI32DivS: {shapeBinary, arch.OpDivS, arch.TypeI32, 0}, wasm.OpcodeI64DivS: {shapeBinary, arch.OpDivS, arch.TypeI64, 0},
	wasm.OpcodeI32DivU: {shapeBinary, arch.OpDivU, arch.TypeI32, 0}, wasm.OpcodeI64DivU: {shapeBinary, arch.OpDivU, arch.TypeI64, 0},
	wasm.OpcodeI32RemS: {shapeBinary, arch.OpRemS, arch.TypeI32, 0}, wasm.OpcodeI64RemS: {shapeBinary, arch.OpRemS, arch.TypeI64, 0},
	wasm.OpcodeI32RemU: {shapeBinary, arch.OpRemU, arch.TypeI32, 0}, wasm.OpcodeI64RemU: {shapeBinary, arch.OpRemU, arch.TypeI64, 0},
	wasm.OpcodeI32And: {shapeBinary, arch.OpAnd, arch.TypeI32, 0}, wasm.OpcodeI64And: {shapeBinary, arch.OpAnd, arch.TypeI64, 0},
	wasm.OpcodeI32Or: {shapeBinary, arch.OpOr, arch.TypeI32, 0}, wasm.OpcodeI64Or: {shapeBinary, arch.OpOr, arch.TypeI64, 0},
	wasm.OpcodeI32Xor: {shapeBinary, arch.OpXor, arch.TypeI32, 0}, wasm.OpcodeI64Xor: {shapeBinary, arch.OpXor, arch.TypeI64, 0},
	wasm.OpcodeI32Shl: {shapeBinary, arch.OpShl, arch.TypeI32, 0}, wasm.OpcodeI64Shl: {shapeBinary, arch.OpShl, arch.TypeI64, 0},
	wasm.OpcodeI32ShrS: {shapeBinary, arch.OpShrS, arch.TypeI32, 0}, wasm.OpcodeI64ShrS: {shapeBinary, arch.OpShrS, arch.TypeI64, 0},
	wasm.OpcodeI32ShrU: {shapeBinary, arch.OpShrU, arch.TypeI32, 0}, wasm.OpcodeI64ShrU: {shapeBinary, arch.OpShrU, arch.TypeI64, 0},
	wasm.OpcodeI32Rotl: {shapeBinary, arch.OpRotl, arch.TypeI32, 0}, wasm.OpcodeI64Rotl: {shapeBinary, arch.OpRotl, arch.TypeI64, 0},
	wasm.OpcodeI32Rotr: {shapeBinary, arch.OpRotr, arch.TypeI32, 0}, wasm.OpcodeI64Rotr: {shapeBinary, arch.OpRotr, arch.TypeI64, 0},

	wasm.OpcodeF32Add: {shapeBinary, arch.OpFAdd, arch.TypeF32, 0}, wasm.OpcodeF64Add: {shapeBinary, arch.OpFAdd, arch.TypeF64, 0},
	wasm.OpcodeF32Sub: {shapeBinary, arch.OpFSub, arch.TypeF32, 0}, wasm.OpcodeF64Sub: {shapeBinary, arch.OpFSub, arch.TypeF64, 0},
	wasm.OpcodeF32Mul: {shapeBinary, arch.OpFMul, arch.TypeF32, 0}, wasm.OpcodeF64Mul: {shapeBinary, arch.OpFMul, arch.TypeF64, 0},
	wasm.OpcodeF32Div: {shapeBinary, arch.OpFDiv, arch.TypeF32, 0}, wasm.OpcodeF64Div: {shapeBinary, arch.OpFDiv, arch.TypeF64, 0},
	wasm.OpcodeF32Min: {shapeBinary, arch.OpFMin, arch.TypeF32, 0}, wasm.OpcodeF64Min: {shapeBinary, arch.OpFMin, arch.TypeF64, 0},
	wasm.OpcodeF32Max: {shapeBinary, arch.OpFMax, arch.TypeF32, 0}, wasm.OpcodeF64Max: {shapeBinary, arch.OpFMax, arch.TypeF64, 0},
	wasm.OpcodeF32Copysign: {shapeBinary, arch.OpFCopysign, arch.TypeF32, 0}, wasm.OpcodeF64Copysign: {shapeBinary, arch.OpFCopysign, arch.TypeF64, 0},

	wasm.OpcodeI32Clz: {shapeUnary, arch.OpClz, arch.TypeI32, 0}, wasm.OpcodeI64Clz: {shapeUnary, arch.OpClz, arch.TypeI64, 0},
	wasm.OpcodeI32Ctz: {shapeUnary, arch.OpCtz, arch.TypeI32, 0}, wasm.OpcodeI64Ctz: {shapeUnary, arch.OpCtz, arch.TypeI64, 0},
	wasm.OpcodeI32Popcnt: {shapeUnary, arch.OpPopcnt, arch.TypeI32, 0}, wasm.OpcodeI64Popcnt: {shapeUnary, arch.OpPopcnt, arch.TypeI64, 0},
	wasm.OpcodeI32Eqz: {shapeUnary, arch.OpEqz, arch.TypeI32, 0}, wasm.OpcodeI64Eqz: {shapeUnary, arch.OpEqz, arch.TypeI64, 0},

	wasm.OpcodeF32Abs: {shapeUnary, arch.OpFAbs, arch.TypeF32, 0}, wasm.OpcodeF64Abs: {shapeUnary, arch.OpFAbs, arch.TypeF64, 0},
	wasm.OpcodeF32Neg: {shapeUnary, arch.OpFNeg, arch.TypeF32, 0}, wasm.OpcodeF64Neg: {shapeUnary, arch.OpFNeg, arch.TypeF64, 0},
	wasm.OpcodeF32Ceil: {shapeUnary, arch.OpFCeil, arch.TypeF32, 0}, wasm.OpcodeF64Ceil: {shapeUnary, arch.OpFCeil, arch.TypeF64, 0},
	wasm.OpcodeF32Floor: {shapeUnary, arch.OpFFloor, arch.TypeF32, 0}, wasm.OpcodeF64Floor: {shapeUnary, arch.OpFFloor, arch.TypeF64, 0},
	wasm.OpcodeF32Trunc: {shapeUnary, arch.OpFTrunc, arch.TypeF32, 0}, wasm.OpcodeF64Trunc: {shapeUnary, arch.OpFTrunc, arch.TypeF64, 0},
	wasm.OpcodeF32Nearest: {shapeUnary, arch.OpFNearest, arch.TypeF32, 0}, wasm.OpcodeF64Nearest: {shapeUnary, arch.OpFNearest, arch.TypeF64, 0},
	wasm.OpcodeF32Sqrt: {shapeUnary, arch.OpFSqrt, arch.TypeF32, 0}, wasm.OpcodeF64Sqrt: {shapeUnary, arch.OpFSqrt, arch.TypeF64, 0},

	wasm.OpcodeI32Eq: {shapeCompare, arch.OpEq, arch.TypeI32, 0}, wasm.OpcodeI64Eq: {shapeCompare, arch.OpEq, arch.TypeI64, 0},
	wasm.OpcodeI32Ne: {shapeCompare, arch.OpNe, arch.TypeI32, 0}, wasm.OpcodeI64Ne: {shapeCompare, arch.OpNe, arch.TypeI64, 0},
	wasm.OpcodeI32LtS: {shapeCompare, arch.OpLtS, arch.TypeI32, 0}, wasm.OpcodeI64LtS: {shapeCompare, arch.OpLtS, arch.TypeI64, 0},
	wasm.OpcodeI32LtU: {shapeCompare, arch.OpLtU, arch.TypeI32, 0}, wasm.OpcodeI64LtU: {shapeCompare, arch.OpLtU, arch.TypeI64, 0},
	wasm.OpcodeI32GtS: {shapeCompare, arch.OpGtS, arch.TypeI32, 0}, wasm.OpcodeI64GtS: {shapeCompare, arch.OpGtS, arch.TypeI64, 0},
	wasm.OpcodeI32GtU: {shapeCompare, arch.OpGtU, arch.TypeI32, 0}, wasm.OpcodeI64GtU: {shapeCompare, arch.OpGtU, arch.TypeI64, 0},
	wasm.OpcodeI32LeS: {shapeCompare, arch.OpLeS, arch.TypeI32, 0}, wasm.OpcodeI64LeS: {shapeCompare, arch.OpLeS, arch.TypeI64, 0},
	wasm.OpcodeI32LeU: {shapeCompare, arch.OpLeU, arch.TypeI32, 0}, wasm.OpcodeI64LeU: {shapeCompare, arch.OpLeU, arch.TypeI64, 0},
	wasm.OpcodeI32GeS: {shapeCompare, arch.OpGeS, arch.TypeI32, 0}, wasm.OpcodeI64GeS: {shapeCompare, arch.OpGeS, arch.TypeI64, 0},
	wasm.OpcodeI32GeU: {shapeCompare, arch.OpGeU, arch.TypeI32, 0}, wasm.OpcodeI64GeU: {shapeCompare, arch.OpGeU, arch.TypeI64, 0},

	wasm.OpcodeF32Eq: {shapeCompare, arch.OpFEq, arch.TypeF32, 0}, wasm.OpcodeF64Eq: {shapeCompare, arch.OpFEq, arch.TypeF64, 0},
	wasm.OpcodeF32Ne: {shapeCompare, arch.OpFNe, arch.TypeF32, 0}, wasm.OpcodeF64Ne: {shapeCompare, arch.OpFNe, arch.TypeF64, 0},
	wasm.OpcodeF32Lt: {shapeCompare, arch.OpFLt, arch.TypeF32, 0}, wasm.OpcodeF64Lt: {shapeCompare, arch.OpFLt, arch.TypeF64, 0},
	wasm.OpcodeF32Gt: {shapeCompare, arch.OpFGt, arch.TypeF32, 0}, wasm.OpcodeF64Gt: {shapeCompare, arch.OpFGt, arch.TypeF64, 0},
	wasm.OpcodeF32Le: {shapeCompare, arch.OpFLe, arch.TypeF32, 0}, wasm.OpcodeF64Le: {shapeCompare, arch.OpFLe, arch.TypeF64, 0},
	wasm.OpcodeF32Ge: {shapeCompare, arch.OpFGe, arch.TypeF32, 0}, wasm.OpcodeF64Ge: {shapeCompare, arch.OpFGe, arch.TypeF64, 0},

	wasm.OpcodeI32WrapI64: {shapeConvert, arch.OpWrap, arch.TypeI64, arch.TypeI32},
	wasm.OpcodeI64ExtendI32S: {shapeConvert, arch.OpExtendS, arch.TypeI32, arch.TypeI64},
	wasm.OpcodeI64ExtendI32U: {shapeConvert, arch.OpExtendU, arch.TypeI32, arch.TypeI64},
	wasm.OpcodeI32Extend8S: {shapeConvert, arch.OpExtend8S, arch.TypeI32, arch.TypeI32},
	wasm.OpcodeI32Extend16S: {shapeConvert, arch.OpExtend16S, arch.TypeI32, arch.TypeI32},
	wasm.OpcodeI64Extend8S: {shapeConvert, arch.OpExtend8S, arch.TypeI64, arch.TypeI64},
	wasm.OpcodeI64Extend16S: {shapeConvert, arch.OpExtend16S, arch.TypeI64, arch.TypeI64},
	wasm.OpcodeI64Extend32S: {shapeConvert, arch.OpExtend32S, arch.TypeI64, arch.TypeI64},

	wasm.OpcodeI32TruncF32S: {shapeConvert, arch.OpTruncFToIS, arch.TypeF32, arch.TypeI32},
	wasm.OpcodeI32TruncF32U: {shapeConvert, arch.OpTruncFToIU, arch.TypeF32, arch.TypeI32},
	wasm.OpcodeI32TruncF64S: {shapeConvert, arch.OpTruncFToIS, arch.TypeF64, arch.TypeI32},
	wasm.OpcodeI32TruncF64U: {shapeConvert, arch.OpTruncFToIU, arch.TypeF64, arch.TypeI32},
	wasm.OpcodeI64TruncF32S: {shapeConvert, arch.OpTruncFToIS, arch.TypeF32, arch.TypeI64},
	wasm.OpcodeI64TruncF32U: {shapeConvert, arch.OpTruncFToIU, arch.TypeF32, arch.TypeI64},
	wasm.OpcodeI64TruncF64S: {shapeConvert, arch.OpTruncFToIS, arch.TypeF64, arch.TypeI64},
	wasm.OpcodeI64TruncF64U: {shapeConvert, arch.OpTruncFToIU, arch.TypeF64, arch.TypeI64},

	wasm.OpcodeF32ConvertI32S: {shapeConvert, arch.OpConvertIToFS, arch.TypeI32, arch.TypeF32},
	wasm.OpcodeF32ConvertI32U: {shapeConvert, arch.OpConvertIToFU, arch.TypeI32, arch.TypeF32},
	wasm.OpcodeF32ConvertI64S: {shapeConvert, arch.OpConvertIToFS, arch.TypeI64, arch.TypeF32},
	wasm.OpcodeF32ConvertI64U: {shapeConvert, arch.OpConvertIToFU, arch.TypeI64, arch.TypeF32},
	wasm.OpcodeF64ConvertI32S: {shapeConvert, arch.OpConvertIToFS, arch.TypeI32, arch.TypeF64},
	wasm.OpcodeF64ConvertI32U: {shapeConvert, arch.OpConvertIToFU, arch.TypeI32, arch.TypeF64},
	wasm.OpcodeF64ConvertI64S: {shapeConvert, arch.OpConvertIToFS, arch.TypeI64, arch.TypeF64},
	wasm.OpcodeF64ConvertI64U: {shapeConvert, arch.OpConvertIToFU, arch.TypeI64, arch.TypeF64},

	wasm.OpcodeF32DemoteF64:  {shapeConvert, arch.OpDemote, arch.TypeF64, arch.TypeF32},
	wasm.OpcodeF64PromoteF32: {shapeConvert, arch.OpPromote, arch.TypeF32, arch.TypeF64},

	wasm.OpcodeI32ReinterpretF32: {shapeConvert, arch.OpReinterpretFtoI, arch.TypeF32, arch.TypeI32},
	wasm.OpcodeI64ReinterpretF64: {shapeConvert, arch.OpReinterpretFtoI, arch.TypeF64, arch.TypeI64},
	wasm.OpcodeF32ReinterpretI32: {shapeConvert, arch.OpReinterpretItoF, arch.TypeI32, arch.TypeF32},
	wasm.OpcodeF64ReinterpretI64: {shapeConvert, arch.OpReinterpretItoF, arch.TypeI64, arch.TypeF64},
}
