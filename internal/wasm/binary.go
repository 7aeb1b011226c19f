package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/wasmforge/wasmforge/internal/leb128"
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6d}

const binaryVersion = 1

type sectionID byte

const (
	sectionCustom sectionID = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
)

// CodeSection holds a function body's raw instruction bytes, sliced out of
// the original binary so the driver can stream-decode it lazily per
// function without holding the whole module's code in a second copy.
type CodeSection struct {
	LocalTypes []LocalTypeRun
	Body       []byte // from just after the locals vector to (not including) the closing 0x0b
}

// LocalTypeRun mirrors the (count, type) run-length pairs the binary
// format uses to declare locals.
type LocalTypeRun struct {
	Count uint32
	Type  ValueType
}

// DecodedModule is the parsed Module plus the per-function raw code slices
// the driver will walk opcode-by-opcode.
type DecodedModule struct {
	*Module
	Code []CodeSection
}

// Decode parses a Wasm binary module: validates the magic/version, then
// parses each section in canonical order.
func Decode(bin []byte) (*DecodedModule, error) {
	if len(bin) < 8 {
		return nil, fmt.Errorf("invalid binary: too short")
	}
	if !bytes.Equal(bin[0:4], magic[:]) {
		return nil, fmt.Errorf("invalid binary: bad magic")
	}
	if v := binary.LittleEndian.Uint32(bin[4:8]); v != binaryVersion {
		return nil, fmt.Errorf("invalid binary: unsupported version %d", v)
	}

	d := &decoder{r: bytes.NewReader(bin[8:])}
	m := &Module{}
	dm := &DecodedModule{Module: m}

	var lastSection sectionID = sectionCustom
	for d.r.Len() > 0 {
		idByte, err := d.readByte()
		if err != nil {
			return nil, err
		}
		id := sectionID(idByte)
		size, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, fmt.Errorf("section %d: size: %w", id, err)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return nil, fmt.Errorf("section %d: payload: %w", id, err)
		}
		sd := &decoder{r: bytes.NewReader(payload)}

		if id != sectionCustom {
			if id <= lastSection {
				return nil, fmt.Errorf("invalid binary: section %d out of canonical order", id)
			}
			lastSection = id
		}

		switch id {
		case sectionCustom:
			if err := decodeCustomSection(sd, m); err != nil {
				return nil, err
			}
		case sectionType:
			if m.TypeSection, err = decodeTypeSection(sd); err != nil {
				return nil, err
			}
		case sectionImport:
			if err := decodeImportSection(sd, m); err != nil {
				return nil, err
			}
		case sectionFunction:
			if err := decodeFunctionSection(sd, m); err != nil {
				return nil, err
			}
		case sectionTable:
			if err := decodeTableSection(sd, m); err != nil {
				return nil, err
			}
		case sectionMemory:
			if err := decodeMemorySection(sd, m); err != nil {
				return nil, err
			}
		case sectionGlobal:
			if err := decodeGlobalSection(sd, m); err != nil {
				return nil, err
			}
		case sectionExport:
			if err := decodeExportSection(sd, m); err != nil {
				return nil, err
			}
		case sectionStart:
			idx, _, err := leb128.DecodeUint32(sd.r)
			if err != nil {
				return nil, err
			}
			m.StartFunction = &idx
		case sectionElement:
			if err := decodeElementSection(sd, m); err != nil {
				return nil, err
			}
		case sectionCode:
			if dm.Code, err = decodeCodeSection(sd); err != nil {
				return nil, err
			}
		case sectionData:
			if err := decodeDataSection(sd, m); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("invalid binary: unknown section id %d", id)
		}
	}

	if len(dm.Code) != len(m.FunctionSection)-m.NumImportedFunctions {
		return nil, fmt.Errorf("invalid binary: code section count mismatch")
	}
	sort.Slice(m.ExportSection, func(i, j int) bool { return m.ExportSection[i].Name < m.ExportSection[j].Name })
	return dm, nil
}

type decoder struct{ r *bytes.Reader }

func (d *decoder) readByte() (byte, error) { return d.r.ReadByte() }

func (d *decoder) readBytes(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(d.r, buf)
	return buf, err
}

func (d *decoder) readName() (string, error) {
	n, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return "", err
	}
	b, err := d.readBytes(n)
	return string(b), err
}

func (d *decoder) readValueType() (ValueType, error) {
	b, err := d.readByte()
	return ValueType(b), err
}

func decodeTypeSection(d *decoder) ([]*FunctionType, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, err
	}
	types := make([]*FunctionType, count)
	for i := range types {
		form, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if form != 0x60 {
			return nil, fmt.Errorf("invalid func type form 0x%x", form)
		}
		params, err := decodeValueTypeVec(d)
		if err != nil {
			return nil, err
		}
		results, err := decodeValueTypeVec(d)
		if err != nil {
			return nil, err
		}
		types[i] = &FunctionType{Params: params, Results: results}
	}
	return types, nil
}

func decodeValueTypeVec(d *decoder) ([]ValueType, error) {
	n, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, err
	}
	out := make([]ValueType, n)
	for i := range out {
		if out[i], err = d.readValueType(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeLimits(d *decoder) (min uint32, max *uint32, err error) {
	flag, err := d.readByte()
	if err != nil {
		return 0, nil, err
	}
	if min, _, err = leb128.DecodeUint32(d.r); err != nil {
		return 0, nil, err
	}
	if flag == 1 {
		var m uint32
		if m, _, err = leb128.DecodeUint32(d.r); err != nil {
			return 0, nil, err
		}
		max = &m
	}
	return min, max, nil
}

func decodeImportSection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mod, err := d.readName()
		if err != nil {
			return err
		}
		name, err := d.readName()
		if err != nil {
			return err
		}
		kind, err := d.readByte()
		if err != nil {
			return err
		}
		switch kind {
		case 0x00: // func
			idx, _, err := leb128.DecodeUint32(d.r)
			if err != nil {
				return err
			}
			m.FunctionSection = append(m.FunctionSection, FunctionDefinition{
				TypeIndex: idx, IsImported: true, ImportedAs: mod + "." + name, NativeIndex: -1,
			})
			m.NumImportedFunctions++
		case 0x01: // table
			elem, err := d.readValueType()
			if err != nil {
				return err
			}
			min, max, err := decodeLimits(d)
			if err != nil {
				return err
			}
			m.TableSection = append(m.TableSection, TableType{ElemType: elem, Min: min, Max: max})
		case 0x02: // memory
			min, max, err := decodeLimits(d)
			if err != nil {
				return err
			}
			m.MemorySection = &MemoryType{Min: min, Max: max, MaxPages: limitsMaxPages(max)}
		case 0x03: // global
			vt, err := d.readValueType()
			if err != nil {
				return err
			}
			mutByte, err := d.readByte()
			if err != nil {
				return err
			}
			m.GlobalSection = append(m.GlobalSection, GlobalDefinition{
				GlobalType: GlobalType{ValType: vt, Mutable: mutByte == 1},
				IsImported: true,
			})
			m.NumImportedGlobals++
		default:
			return fmt.Errorf("invalid import kind 0x%x", kind)
		}
	}
	return nil
}

func limitsMaxPages(max *uint32) uint32 {
	if max != nil {
		return *max
	}
	return 65536 // MVP ceiling: 4GiB address space / 64KiB pages
}

func decodeFunctionSection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return err
		}
		m.FunctionSection = append(m.FunctionSection, FunctionDefinition{TypeIndex: idx, NativeIndex: -1})
	}
	return nil
}

func decodeTableSection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		elem, err := d.readValueType()
		if err != nil {
			return err
		}
		min, max, err := decodeLimits(d)
		if err != nil {
			return err
		}
		m.TableSection = append(m.TableSection, TableType{ElemType: elem, Min: min, Max: max})
	}
	return nil
}

func decodeMemorySection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if count != 1 {
		return fmt.Errorf("only a single memory is supported")
	}
	min, max, err := decodeLimits(d)
	if err != nil {
		return err
	}
	m.MemorySection = &MemoryType{Min: min, Max: max, MaxPages: limitsMaxPages(max)}
	return nil
}

func decodeConstExpr(d *decoder) (ConstExpr, error) {
	opByte, err := d.readByte()
	if err != nil {
		return ConstExpr{}, err
	}
	op := Opcode(opByte)
	var ce ConstExpr
	ce.Opcode = op
	switch op {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(d.r)
		if err != nil {
			return ce, err
		}
		ce.I64 = int64(v)
	case OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(d.r)
		if err != nil {
			return ce, err
		}
		ce.I64 = v
	case OpcodeF32Const:
		b, err := d.readBytes(4)
		if err != nil {
			return ce, err
		}
		ce.I64 = int64(binary.LittleEndian.Uint32(b))
	case OpcodeF64Const:
		b, err := d.readBytes(8)
		if err != nil {
			return ce, err
		}
		ce.I64 = int64(binary.LittleEndian.Uint64(b))
	case OpcodeGlobalGet:
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return ce, err
		}
		ce.GlobalIndex = idx
	default:
		return ce, fmt.Errorf("unsupported const expr opcode 0x%x", opByte)
	}
	end, err := d.readByte()
	if err != nil {
		return ce, err
	}
	if Opcode(end) != OpcodeEnd {
		return ce, fmt.Errorf("const expr not terminated by end")
	}
	return ce, nil
}

func decodeGlobalSection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		vt, err := d.readValueType()
		if err != nil {
			return err
		}
		mutByte, err := d.readByte()
		if err != nil {
			return err
		}
		init, err := decodeConstExpr(d)
		if err != nil {
			return err
		}
		m.GlobalSection = append(m.GlobalSection, GlobalDefinition{
			GlobalType: GlobalType{ValType: vt, Mutable: mutByte == 1},
			Init:       init,
		})
	}
	return nil
}

func decodeExportSection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := d.readName()
		if err != nil {
			return err
		}
		kindByte, err := d.readByte()
		if err != nil {
			return err
		}
		idx, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return err
		}
		m.ExportSection = append(m.ExportSection, Export{Name: name, Kind: ExportKind(kindByte), Index: idx})
	}
	return nil
}

func decodeElementSection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flag, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return err
		}
		if flag != 0 {
			return fmt.Errorf("only active element segments with table index 0 are supported")
		}
		off, err := decodeConstExpr(d)
		if err != nil {
			return err
		}
		n, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return err
		}
		funcs := make([]uint32, n)
		for j := range funcs {
			if funcs[j], _, err = leb128.DecodeUint32(d.r); err != nil {
				return err
			}
		}
		m.ElementSection = append(m.ElementSection, ElementSegment{TableIndex: 0, Offset: off, FuncIndex: funcs})
	}
	return nil
}

func decodeDataSection(d *decoder, m *Module) error {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flag, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return err
		}
		if flag != 0 {
			return fmt.Errorf("only active data segments with memory index 0 are supported")
		}
		off, err := decodeConstExpr(d)
		if err != nil {
			return err
		}
		n, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return err
		}
		init, err := d.readBytes(n)
		if err != nil {
			return err
		}
		m.DataSection = append(m.DataSection, DataSegment{MemoryIndex: 0, Offset: off, Init: init})
	}
	return nil
}

func decodeCodeSection(d *decoder) ([]CodeSection, error) {
	count, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return nil, err
	}
	out := make([]CodeSection, count)
	for i := range out {
		bodySize, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, err
		}
		bodyBytes, err := d.readBytes(bodySize)
		if err != nil {
			return nil, err
		}
		bd := &decoder{r: bytes.NewReader(bodyBytes)}
		localCount, _, err := leb128.DecodeUint32(bd.r)
		if err != nil {
			return nil, err
		}
		locals := make([]LocalTypeRun, localCount)
		for j := range locals {
			n, _, err := leb128.DecodeUint32(bd.r)
			if err != nil {
				return nil, err
			}
			vt, err := bd.readValueType()
			if err != nil {
				return nil, err
			}
			locals[j] = LocalTypeRun{Count: n, Type: vt}
		}
		rest := bodyBytes[len(bodyBytes)-bd.r.Len():]
		if len(rest) == 0 || rest[len(rest)-1] != byte(OpcodeEnd) {
			return nil, fmt.Errorf("function body not terminated by end")
		}
		out[i] = CodeSection{LocalTypes: locals, Body: rest[:len(rest)-1]}
	}
	return out, nil
}

func decodeCustomSection(d *decoder, m *Module) error {
	name, err := d.readName()
	if err != nil {
		return err
	}
	if name != "name" {
		return nil // unrecognized custom sections are skipped, not an error
	}
	ns := &NameSection{FunctionNames: map[uint32]string{}, LocalNames: map[uint32]map[uint32]string{}}
	for d.r.Len() > 0 {
		subID, err := d.readByte()
		if err != nil {
			return nil // malformed trailing custom data is tolerated
		}
		size, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil
		}
		payload, err := d.readBytes(size)
		if err != nil {
			return nil
		}
		sd := &decoder{r: bytes.NewReader(payload)}
		switch subID {
		case 0: // module name
			if ns.ModuleName, err = sd.readName(); err != nil {
				return nil
			}
		case 1: // function names
			n, _, err := leb128.DecodeUint32(sd.r)
			if err != nil {
				return nil
			}
			for i := uint32(0); i < n; i++ {
				idx, _, err := leb128.DecodeUint32(sd.r)
				if err != nil {
					return nil
				}
				nm, err := sd.readName()
				if err != nil {
					return nil
				}
				ns.FunctionNames[idx] = nm
			}
		case 2: // local names
			n, _, err := leb128.DecodeUint32(sd.r)
			if err != nil {
				return nil
			}
			for i := uint32(0); i < n; i++ {
				fidx, _, err := leb128.DecodeUint32(sd.r)
				if err != nil {
					return nil
				}
				localCount, _, err := leb128.DecodeUint32(sd.r)
				if err != nil {
					return nil
				}
				names := make(map[uint32]string, localCount)
				for j := uint32(0); j < localCount; j++ {
					lidx, _, err := leb128.DecodeUint32(sd.r)
					if err != nil {
						return nil
					}
					nm, err := sd.readName()
					if err != nil {
						return nil
					}
					names[lidx] = nm
				}
				ns.LocalNames[fidx] = names
			}
		}
	}
	m.NameSection = ns
	return nil
}

// DecodeF32/DecodeF64 reinterpret the bit patterns ConstExpr.I64 carries
// for floating point constants.
func DecodeF32Bits(bits int64) float32 { return math.Float32frombits(uint32(bits)) }
func DecodeF64Bits(bits int64) float64 { return math.Float64frombits(uint64(bits)) }
