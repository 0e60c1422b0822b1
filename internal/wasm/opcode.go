package wasm

import "github.com/yamt/toywasm-sub002/api"

// Opcode is the leading byte of a Wasm instruction. Three bytes introduce
// extended instruction spaces, each decoded as opcode followed by a
// LEB128 sub-opcode: 0xfc (bulk memory / table / saturating truncation),
// 0xfd (SIMD, decode-only: execution is optional per this runtime's
// non-goals) and 0xfe (threads/atomics).
type Opcode = byte

const (
	OpcodeUnreachable Opcode = 0x00
	OpcodeNop         Opcode = 0x01
	OpcodeBlock       Opcode = 0x02
	OpcodeLoop        Opcode = 0x03
	OpcodeIf          Opcode = 0x04
	OpcodeElse        Opcode = 0x05
	OpcodeEnd         Opcode = 0x0b
	OpcodeBr          Opcode = 0x0c
	OpcodeBrIf        Opcode = 0x0d
	OpcodeBrTable     Opcode = 0x0e
	OpcodeReturn      Opcode = 0x0f
	OpcodeCall        Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11

	OpcodeDrop     Opcode = 0x1a
	OpcodeSelect   Opcode = 0x1b
	OpcodeSelectT  Opcode = 0x1c // typed select (reference types proposal)

	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24

	OpcodeTableGet Opcode = 0x25
	OpcodeTableSet Opcode = 0x26

	OpcodeI32Load    Opcode = 0x28
	OpcodeI64Load    Opcode = 0x29
	OpcodeF32Load    Opcode = 0x2a
	OpcodeF64Load    Opcode = 0x2b
	OpcodeI32Load8S  Opcode = 0x2c
	OpcodeI32Load8U  Opcode = 0x2d
	OpcodeI32Load16S Opcode = 0x2e
	OpcodeI32Load16U Opcode = 0x2f
	OpcodeI64Load8S  Opcode = 0x30
	OpcodeI64Load8U  Opcode = 0x31
	OpcodeI64Load16S Opcode = 0x32
	OpcodeI64Load16U Opcode = 0x33
	OpcodeI64Load32S Opcode = 0x34
	OpcodeI64Load32U Opcode = 0x35
	OpcodeI32Store   Opcode = 0x36
	OpcodeI64Store   Opcode = 0x37
	OpcodeF32Store   Opcode = 0x38
	OpcodeF64Store   Opcode = 0x39
	OpcodeI32Store8  Opcode = 0x3a
	OpcodeI32Store16 Opcode = 0x3b
	OpcodeI64Store8  Opcode = 0x3c
	OpcodeI64Store16 Opcode = 0x3d
	OpcodeI64Store32 Opcode = 0x3e

	OpcodeMemorySize Opcode = 0x3f
	OpcodeMemoryGrow Opcode = 0x40

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	// 0x45-0xc4: comparison/numeric/conversion instructions. These take
	// no immediates, so the validator/interpreter only need their type
	// signature, computed centrally in numeric.go (see numericSignature).
	OpcodeI32Eqz  Opcode = 0x45
	OpcodeI32Eq   Opcode = 0x46
	OpcodeI32Ne   Opcode = 0x47
	OpcodeI32LtS  Opcode = 0x48
	OpcodeI32LtU  Opcode = 0x49
	OpcodeI32GtS  Opcode = 0x4a
	OpcodeI32GtU  Opcode = 0x4b
	OpcodeI32LeS  Opcode = 0x4c
	OpcodeI32LeU  Opcode = 0x4d
	OpcodeI32GeS  Opcode = 0x4e
	OpcodeI32GeU  Opcode = 0x4f

	OpcodeI32Add  Opcode = 0x6a
	OpcodeI32Sub  Opcode = 0x6b
	OpcodeI32Mul  Opcode = 0x6c
	OpcodeI32DivS Opcode = 0x6d
	OpcodeI32DivU Opcode = 0x6e
	OpcodeI32RemS Opcode = 0x6f
	OpcodeI32RemU Opcode = 0x70
	OpcodeI32And  Opcode = 0x71
	OpcodeI32Or   Opcode = 0x72
	OpcodeI32Xor  Opcode = 0x73
	OpcodeI32Shl  Opcode = 0x74
	OpcodeI32ShrS Opcode = 0x75
	OpcodeI32ShrU Opcode = 0x76
	OpcodeI32Rotl Opcode = 0x77
	OpcodeI32Rotr Opcode = 0x78

	OpcodeI64Add  Opcode = 0x7c
	OpcodeI64Sub  Opcode = 0x7d
	OpcodeI64Mul  Opcode = 0x7e
	OpcodeI64DivS Opcode = 0x7f
	OpcodeI64DivU Opcode = 0x80
	OpcodeI64RemS Opcode = 0x81
	OpcodeI64RemU Opcode = 0x82

	OpcodeRefNull   Opcode = 0xd0
	OpcodeRefIsNull Opcode = 0xd1
	OpcodeRefFunc   Opcode = 0xd2

	OpcodeMiscPrefix Opcode = 0xfc
	OpcodeSIMDPrefix Opcode = 0xfd
	OpcodeAtomicPrefix Opcode = 0xfe
)

// MiscOpcode is a sub-opcode under OpcodeMiscPrefix (0xfc): the bulk
// memory/table operations and saturating truncation.
type MiscOpcode = uint32

const (
	MiscOpcodeI32TruncSatF32S MiscOpcode = 0
	MiscOpcodeI32TruncSatF32U MiscOpcode = 1
	MiscOpcodeI32TruncSatF64S MiscOpcode = 2
	MiscOpcodeI32TruncSatF64U MiscOpcode = 3
	MiscOpcodeI64TruncSatF32S MiscOpcode = 4
	MiscOpcodeI64TruncSatF32U MiscOpcode = 5
	MiscOpcodeI64TruncSatF64S MiscOpcode = 6
	MiscOpcodeI64TruncSatF64U MiscOpcode = 7

	MiscOpcodeMemoryInit MiscOpcode = 8
	MiscOpcodeDataDrop   MiscOpcode = 9
	MiscOpcodeMemoryCopy MiscOpcode = 10
	MiscOpcodeMemoryFill MiscOpcode = 11
	MiscOpcodeTableInit  MiscOpcode = 12
	MiscOpcodeElemDrop   MiscOpcode = 13
	MiscOpcodeTableCopy  MiscOpcode = 14
	MiscOpcodeTableGrow  MiscOpcode = 15
	MiscOpcodeTableSize  MiscOpcode = 16
	MiscOpcodeTableFill  MiscOpcode = 17
)

// AtomicOpcode is a sub-opcode under OpcodeAtomicPrefix (0xfe): the
// threads proposal's atomic memory operations.
type AtomicOpcode = uint32

const (
	AtomicOpcodeMemoryAtomicNotify AtomicOpcode = 0x00
	AtomicOpcodeMemoryAtomicWait32 AtomicOpcode = 0x01
	AtomicOpcodeMemoryAtomicWait64 AtomicOpcode = 0x02
	AtomicOpcodeFence              AtomicOpcode = 0x03

	AtomicOpcodeI32AtomicLoad  AtomicOpcode = 0x10
	AtomicOpcodeI64AtomicLoad  AtomicOpcode = 0x11
	AtomicOpcodeI32AtomicStore AtomicOpcode = 0x17
	AtomicOpcodeI64AtomicStore AtomicOpcode = 0x18

	AtomicOpcodeI32AtomicRmwAdd AtomicOpcode = 0x1e
	AtomicOpcodeI64AtomicRmwAdd AtomicOpcode = 0x1f
)

// BlockTypeKind selects which of the three block type encodings a
// BlockType uses.
type BlockTypeKind byte

const (
	// BlockTypeEmpty is the `0x40` encoding: no params, no results.
	BlockTypeEmpty BlockTypeKind = iota
	// BlockTypeValue is a single immediate api.ValueType result.
	BlockTypeValue
	// BlockTypeIndex is a signed LEB128 index into the module's type
	// section, the multi-value proposal's general form.
	BlockTypeIndex
)

// BlockType describes the type of a block/loop/if: either immediate
// value type forms (empty, or a single result type) or an index into the
// module's type section for the multi-value proposal's general form.
type BlockType struct {
	Kind      BlockTypeKind
	ValType   api.ValueType // valid when Kind == BlockTypeValue
	TypeIndex Index         // valid when Kind == BlockTypeIndex
}

// FunctionType resolves bt against m's type section, synthesising a
// FunctionType for the empty/single-value forms.
func (bt BlockType) FunctionType(m *Module) FunctionType {
	switch bt.Kind {
	case BlockTypeEmpty:
		return FunctionType{}
	case BlockTypeValue:
		return FunctionType{Results: []api.ValueType{bt.ValType}}
	default:
		return m.Types[bt.TypeIndex]
	}
}
