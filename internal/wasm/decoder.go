package wasm

import (
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/leb128"
)

var wasmMagic = [4]byte{0x00, 'a', 's', 'm'}

const wasmVersion = uint32(1)

// sectionID identifies a top-level section of the binary format.
type sectionID byte

const (
	sectionCustom    sectionID = 0
	sectionType      sectionID = 1
	sectionImport    sectionID = 2
	sectionFunction  sectionID = 3
	sectionTable     sectionID = 4
	sectionMemory    sectionID = 5
	sectionGlobal    sectionID = 6
	sectionExport    sectionID = 7
	sectionStart     sectionID = 8
	sectionElement   sectionID = 9
	sectionCode      sectionID = 10
	sectionData      sectionID = 11
	sectionDataCount sectionID = 12
)

// reader is a cursor over a module's binary with offset tracking, so
// every DecodeError can report the byte offset at which it occurred (the
// `offset` field toywasm's `ptr2pc` makes available to the C repl/xlog).
type reader struct {
	b   []byte
	pos uint32
}

func (r *reader) offset() uint32 { return r.pos }

func (r *reader) remaining() []byte { return r.b[r.pos:] }

func (r *reader) requireByte() (byte, error) {
	if int(r.pos) >= len(r.b) {
		return 0, newDecodeError(r.pos, DecodeErrorTruncated, "unexpected end of section")
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) requireBytes(n uint32) ([]byte, error) {
	if uint64(r.pos)+uint64(n) > uint64(len(r.b)) {
		return nil, newDecodeError(r.pos, DecodeErrorTruncated, "need %d bytes, only %d remain", n, len(r.b)-int(r.pos))
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) u32() (uint32, error) {
	v, n, err := leb128.LoadUint32(r.remaining())
	if err != nil {
		return 0, newDecodeError(r.pos, DecodeErrorLEBOverflow, "%s", err)
	}
	r.pos += uint32(n)
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, n, err := leb128.LoadInt32(r.remaining())
	if err != nil {
		return 0, newDecodeError(r.pos, DecodeErrorLEBOverflow, "%s", err)
	}
	r.pos += uint32(n)
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, n, err := leb128.LoadInt64(r.remaining())
	if err != nil {
		return 0, newDecodeError(r.pos, DecodeErrorLEBOverflow, "%s", err)
	}
	r.pos += uint32(n)
	return v, nil
}

func (r *reader) f32() (uint32, error) {
	b, err := r.requireBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *reader) f64() (uint64, error) {
	b, err := r.requireBytes(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.requireBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newDecodeError(r.pos, DecodeErrorUTF8, "import/export name is not valid utf-8")
	}
	return string(b), nil
}

func (r *reader) valueType() (api.ValueType, error) {
	b, err := r.requireByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeV128, api.ValueTypeFuncref, api.ValueTypeExternref:
		return b, nil
	default:
		return 0, newDecodeError(r.pos-1, DecodeErrorBadSectionID, "invalid value type %#x", b)
	}
}

func (r *reader) limits() (Limits, error) {
	flags, err := r.requireByte()
	if err != nil {
		return Limits{}, err
	}
	min, err := r.u32()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: min, Shared: flags&0x02 != 0}
	if flags&0x01 != 0 {
		max, err := r.u32()
		if err != nil {
			return Limits{}, err
		}
		l.Max, l.HasMax = max, true
	}
	return l, nil
}

func (r *reader) tableType() (TableType, error) {
	et, err := r.valueType()
	if err != nil {
		return TableType{}, err
	}
	if !api.IsReferenceType(et) {
		return TableType{}, newDecodeError(r.pos, DecodeErrorBadSectionID, "table element type must be a reference type")
	}
	lim, err := r.limits()
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: et, Limits: lim}, nil
}

func (r *reader) globalType() (GlobalType, error) {
	vt, err := r.valueType()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.requireByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut != byte(GlobalConst) && mut != byte(GlobalVar) {
		return GlobalType{}, newDecodeError(r.pos-1, DecodeErrorBadSectionID, "invalid global mutability %#x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == byte(GlobalVar)}, nil
}

func (r *reader) functionType() (FunctionType, error) {
	tag, err := r.requireByte()
	if err != nil {
		return FunctionType{}, err
	}
	if tag != 0x60 {
		return FunctionType{}, newDecodeError(r.pos-1, DecodeErrorBadSectionID, "function type must start with 0x60, got %#x", tag)
	}
	params, err := r.valueTypeVec()
	if err != nil {
		return FunctionType{}, err
	}
	results, err := r.valueTypeVec()
	if err != nil {
		return FunctionType{}, err
	}
	return FunctionType{Params: params, Results: results}, nil
}

func (r *reader) valueTypeVec() ([]api.ValueType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]api.ValueType, n)
	for i := range out {
		out[i], err = r.valueType()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Decode parses a complete Wasm binary into an unvalidated Module. Callers
// must run Validate before instantiating. log defaults to
// logrus.StandardLogger() if nil.
func Decode(bin []byte, log *logrus.Logger) (*Module, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &reader{b: bin}
	magic, err := r.requireBytes(4)
	if err != nil {
		return nil, err
	}
	if magic[0] != wasmMagic[0] || magic[1] != wasmMagic[1] || magic[2] != wasmMagic[2] || magic[3] != wasmMagic[3] {
		return nil, newDecodeError(0, DecodeErrorBadMagic, "not a wasm binary: bad magic %x", magic)
	}
	version, err := r.f32() // version is 4 raw LE bytes, not LEB128
	if err != nil {
		return nil, err
	}
	if version != wasmVersion {
		return nil, newDecodeError(4, DecodeErrorBadVersion, "unsupported wasm version %d", version)
	}

	m := &Module{DataCount: -1, Bin: bin}
	var lastID sectionID = 0
	sawDataCount := false
	for int(r.pos) < len(bin) {
		id, err := r.requireByte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		payloadStart := r.pos
		payloadEnd := uint64(payloadStart) + uint64(size)
		if payloadEnd > uint64(len(bin)) {
			return nil, newDecodeError(r.pos, DecodeErrorLengthMismatch, "section %d size %d exceeds remaining input", id, size)
		}
		sec := sectionID(id)
		if sec != sectionCustom {
			if sec <= lastID && sec != sectionDataCount {
				// Known sections (other than custom) must appear at
				// most once, in increasing id order; datacount may sit
				// between section 11 and 10's usual neighbors so we
				// don't over-enforce its exact position here.
				return nil, newDecodeError(payloadStart, DecodeErrorBadSectionID, "section %d out of order (after %d)", sec, lastID)
			}
			if sec != sectionDataCount {
				lastID = sec
			}
		}
		sub := &reader{b: bin[:payloadEnd], pos: payloadStart}
		log.WithField("section", sec).WithField("size", size).Trace("decoding section")
		switch sec {
		case sectionCustom:
			// Unknown/custom sections are skipped per spec.md §4.1.
		case sectionType:
			if err := decodeTypeSection(sub, m); err != nil {
				return nil, err
			}
		case sectionImport:
			if err := decodeImportSection(sub, m); err != nil {
				return nil, err
			}
		case sectionFunction:
			if err := decodeFunctionSection(sub, m); err != nil {
				return nil, err
			}
		case sectionTable:
			if err := decodeTableSection(sub, m); err != nil {
				return nil, err
			}
		case sectionMemory:
			if err := decodeMemorySection(sub, m); err != nil {
				return nil, err
			}
		case sectionGlobal:
			if err := decodeGlobalSection(sub, m); err != nil {
				return nil, err
			}
		case sectionExport:
			if err := decodeExportSection(sub, m); err != nil {
				return nil, err
			}
		case sectionStart:
			idx, err := sub.u32()
			if err != nil {
				return nil, err
			}
			m.HasStart, m.Start = true, idx
		case sectionElement:
			if err := decodeElementSection(sub, m); err != nil {
				return nil, err
			}
		case sectionCode:
			if err := decodeCodeSection(sub, m); err != nil {
				return nil, err
			}
		case sectionData:
			if err := decodeDataSection(sub, m); err != nil {
				return nil, err
			}
		case sectionDataCount:
			n, err := sub.u32()
			if err != nil {
				return nil, err
			}
			m.DataCount = int64(n)
			sawDataCount = true
		default:
			return nil, newDecodeError(payloadStart-1, DecodeErrorBadSectionID, "unknown section id %d", id)
		}
		if sec != sectionCustom && sub.pos != uint32(payloadEnd) {
			return nil, newDecodeError(sub.pos, DecodeErrorLengthMismatch, "section %d: declared size %d does not match consumed %d bytes", id, size, sub.pos-payloadStart)
		}
		r.pos = uint32(payloadEnd)
	}
	if sawDataCount && m.DataCount != int64(len(m.Datas)) {
		return nil, newDecodeError(r.pos, DecodeErrorLengthMismatch, "datacount section (%d) does not match data section length (%d)", m.DataCount, len(m.Datas))
	}
	return m, nil
}

func decodeTypeSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Types = make([]FunctionType, n)
	for i := range m.Types {
		m.Types[i], err = r.functionType()
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeImportSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, n)
	for i := range m.Imports {
		imp := &m.Imports[i]
		imp.Module, err = r.name()
		if err != nil {
			return err
		}
		imp.Name, err = r.name()
		if err != nil {
			return err
		}
		kind, err := r.requireByte()
		if err != nil {
			return err
		}
		imp.Kind = ImportKind(kind)
		switch imp.Kind {
		case ImportKindFunc:
			imp.DescFunc, err = r.u32()
			m.NumImportedFuncs++
		case ImportKindTable:
			imp.DescTable, err = r.tableType()
			m.NumImportedTables++
		case ImportKindMemory:
			imp.DescMemory, err = r.limits()
			m.NumImportedMems++
		case ImportKindGlobal:
			imp.DescGlobal, err = r.globalType()
			m.NumImportedGlobals++
		default:
			return newDecodeError(r.pos-1, DecodeErrorBadSectionID, "invalid import kind %#x", kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeFunctionSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.FuncTypeIndexes = make([]Index, n)
	m.Funcs = make([]Func, n)
	for i := range m.FuncTypeIndexes {
		m.FuncTypeIndexes[i], err = r.u32()
		if err != nil {
			return err
		}
		m.Funcs[i].TypeIndex = m.FuncTypeIndexes[i]
	}
	return nil
}

func decodeTableSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, n)
	for i := range m.Tables {
		m.Tables[i], err = r.tableType()
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeMemorySection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Mems = make([]Limits, n)
	for i := range m.Mems {
		m.Mems[i], err = r.limits()
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeGlobalSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, n)
	for i := range m.Globals {
		m.Globals[i].Type, err = r.globalType()
		if err != nil {
			return err
		}
		m.Globals[i].Init, err = r.constExpr()
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeExportSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, n)
	seen := make(map[string]bool, n)
	for i := range m.Exports {
		e := &m.Exports[i]
		e.Name, err = r.name()
		if err != nil {
			return err
		}
		if seen[e.Name] {
			return newDecodeError(r.pos, DecodeErrorLengthMismatch, "duplicate export name %q", e.Name)
		}
		seen[e.Name] = true
		kind, err := r.requireByte()
		if err != nil {
			return err
		}
		e.Kind = ExportKind(kind)
		e.Index, err = r.u32()
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeElementSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Elems = make([]Element, n)
	for i := range m.Elems {
		el := &m.Elems[i]
		flags, err := r.u32()
		if err != nil {
			return err
		}
		switch flags {
		case 0: // active, table 0, expr offset, vec(funcidx)
			el.Mode, el.Table, el.Type = ElementModeActive, 0, api.ValueTypeFuncref
			if el.Offset, err = r.constExpr(); err != nil {
				return err
			}
			if el.Funcs, err = r.indexVec(); err != nil {
				return err
			}
		case 1: // passive, elemkind, vec(funcidx)
			el.Mode, el.Type = ElementModePassive, api.ValueTypeFuncref
			if _, err = r.requireByte(); err != nil { // elemkind, always 0x00
				return err
			}
			if el.Funcs, err = r.indexVec(); err != nil {
				return err
			}
		case 2: // active, tableidx, expr offset, elemkind, vec(funcidx)
			el.Mode, el.Type = ElementModeActive, api.ValueTypeFuncref
			if el.Table, err = r.u32(); err != nil {
				return err
			}
			if el.Offset, err = r.constExpr(); err != nil {
				return err
			}
			if _, err = r.requireByte(); err != nil {
				return err
			}
			if el.Funcs, err = r.indexVec(); err != nil {
				return err
			}
		case 3: // declarative, elemkind, vec(funcidx)
			el.Mode, el.Type = ElementModeDeclarative, api.ValueTypeFuncref
			if _, err = r.requireByte(); err != nil {
				return err
			}
			if el.Funcs, err = r.indexVec(); err != nil {
				return err
			}
		case 4: // active, table 0, expr offset, vec(expr)
			el.Mode, el.Table, el.Type = ElementModeActive, 0, api.ValueTypeFuncref
			if el.Offset, err = r.constExpr(); err != nil {
				return err
			}
			if el.InitExprs, err = r.exprVec(); err != nil {
				return err
			}
		case 5: // passive, reftype, vec(expr)
			el.Mode = ElementModePassive
			if el.Type, err = r.valueType(); err != nil {
				return err
			}
			if el.InitExprs, err = r.exprVec(); err != nil {
				return err
			}
		case 6: // active, tableidx, expr offset, reftype, vec(expr)
			el.Mode = ElementModeActive
			if el.Table, err = r.u32(); err != nil {
				return err
			}
			if el.Offset, err = r.constExpr(); err != nil {
				return err
			}
			if el.Type, err = r.valueType(); err != nil {
				return err
			}
			if el.InitExprs, err = r.exprVec(); err != nil {
				return err
			}
		case 7: // declarative, reftype, vec(expr)
			el.Mode = ElementModeDeclarative
			if el.Type, err = r.valueType(); err != nil {
				return err
			}
			if el.InitExprs, err = r.exprVec(); err != nil {
				return err
			}
		default:
			return newDecodeError(r.pos, DecodeErrorBadSectionID, "invalid element segment flags %d", flags)
		}
	}
	return nil
}

func (r *reader) indexVec() ([]Index, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Index, n)
	for i := range out {
		out[i], err = r.u32()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *reader) exprVec() ([]Expr, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Expr, n)
	for i := range out {
		e, err := r.constExpr()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func decodeCodeSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	if int(n) != len(m.Funcs) {
		return newDecodeError(r.pos, DecodeErrorLengthMismatch, "code section has %d entries, function section declared %d", n, len(m.Funcs))
	}
	for i := range m.Funcs {
		f := &m.Funcs[i]
		bodySize, err := r.u32()
		if err != nil {
			return err
		}
		bodyStart := r.pos
		bodyEnd := uint64(bodyStart) + uint64(bodySize)
		if bodyEnd > uint64(len(r.b)) {
			return newDecodeError(r.pos, DecodeErrorLengthMismatch, "function body size exceeds code section")
		}
		nchunks, err := r.u32()
		if err != nil {
			return err
		}
		f.Locals = make([]LocalChunk, nchunks)
		var nlocals uint64
		for j := range f.Locals {
			count, err := r.u32()
			if err != nil {
				return err
			}
			t, err := r.valueType()
			if err != nil {
				return err
			}
			f.Locals[j] = LocalChunk{Type: t, Count: count}
			nlocals += uint64(count)
		}
		if nlocals > 1<<20 {
			return newDecodeError(r.pos, DecodeErrorLengthMismatch, "function declares too many locals (%d)", nlocals)
		}
		f.NumLocals = uint32(nlocals)
		f.Body = Expr{Start: r.pos, End: uint32(bodyEnd)}
		r.pos = uint32(bodyEnd)
	}
	return nil
}

func decodeDataSection(r *reader, m *Module) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	m.Datas = make([]Data, n)
	for i := range m.Datas {
		d := &m.Datas[i]
		flags, err := r.u32()
		if err != nil {
			return err
		}
		switch flags {
		case 0:
			d.Mode = DataModeActive
			if d.Offset, err = r.constExpr(); err != nil {
				return err
			}
		case 1:
			d.Mode = DataModePassive
		case 2:
			d.Mode = DataModeActive
			if d.Memory, err = r.u32(); err != nil {
				return err
			}
			if d.Offset, err = r.constExpr(); err != nil {
				return err
			}
		default:
			return newDecodeError(r.pos, DecodeErrorBadSectionID, "invalid data segment flags %d", flags)
		}
		size, err := r.u32()
		if err != nil {
			return err
		}
		d.Init, err = r.requireBytes(size)
		if err != nil {
			return err
		}
	}
	return nil
}

// constExpr reads a constant expression: a sequence restricted to
// t.const/ref.null/ref.func/global.get terminated by `end`, per spec.md
// §4.3 step 5. Decode does not typecheck the expression (the validator
// does, in Validate); here we only need to find its byte extent.
func (r *reader) constExpr() (Expr, error) {
	start := r.pos
	for {
		op, err := r.requireByte()
		if err != nil {
			return Expr{}, err
		}
		switch op {
		case OpcodeEnd:
			return Expr{Start: start, End: r.pos}, nil
		case OpcodeI32Const:
			if _, err := r.i32(); err != nil {
				return Expr{}, err
			}
		case OpcodeI64Const:
			if _, err := r.i64(); err != nil {
				return Expr{}, err
			}
		case OpcodeF32Const:
			if _, err := r.f32(); err != nil {
				return Expr{}, err
			}
		case OpcodeF64Const:
			if _, err := r.f64(); err != nil {
				return Expr{}, err
			}
		case OpcodeRefNull:
			if _, err := r.valueType(); err != nil {
				return Expr{}, err
			}
		case OpcodeRefFunc:
			if _, err := r.u32(); err != nil {
				return Expr{}, err
			}
		case OpcodeGlobalGet:
			if _, err := r.u32(); err != nil {
				return Expr{}, err
			}
		case OpcodeI32Add, OpcodeI64Add, OpcodeI32Sub, OpcodeI64Sub, OpcodeI32Mul, OpcodeI64Mul:
			// extended-const proposal; harmless to allow the bytes
			// through at decode time, the validator enforces the
			// const-expr whitelist precisely.
		default:
			return Expr{}, newDecodeError(r.pos-1, DecodeErrorBadSectionID, "opcode %#x is not valid in a constant expression", op)
		}
	}
}
