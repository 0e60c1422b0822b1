package wasm

import (
	"github.com/yamt/toywasm-sub002/internal/leb128"
)

// Encode re-serializes a decoded Module back into a Wasm binary. It is
// test-support code for the decoder's round-trip property (§8 of
// SPEC_FULL.md), grounded on original_source/module_writer.c's section
// writer shape: a byte-counting pass is unnecessary here since Go slices
// grow on demand, but the section-by-section structure mirrors the C
// writer's write_type_section/write_import_section/... sequence.
//
// Encode is not a general-purpose writer: it round-trips exactly what
// Decode can produce, including raw function/constant-expression bodies
// taken verbatim from Module.Bin, which Decode always populates for a
// module it successfully parsed.
func Encode(m *Module) []byte {
	out := append([]byte{}, wasmMagic[:]...)
	out = appendU32LE(out, wasmVersion)

	if len(m.Types) > 0 {
		out = appendSection(out, sectionType, encodeTypeSection(m))
	}
	if len(m.Imports) > 0 {
		out = appendSection(out, sectionImport, encodeImportSection(m))
	}
	if len(m.FuncTypeIndexes) > 0 {
		out = appendSection(out, sectionFunction, encodeFunctionSection(m))
	}
	if len(m.Tables) > 0 {
		out = appendSection(out, sectionTable, encodeTableSection(m))
	}
	if len(m.Mems) > 0 {
		out = appendSection(out, sectionMemory, encodeMemorySection(m))
	}
	if len(m.Globals) > 0 {
		out = appendSection(out, sectionGlobal, encodeGlobalSection(m))
	}
	if len(m.Exports) > 0 {
		out = appendSection(out, sectionExport, encodeExportSection(m))
	}
	if m.HasStart {
		out = appendSection(out, sectionStart, leb128.EncodeUint32(m.Start))
	}
	if len(m.Elems) > 0 {
		out = appendSection(out, sectionElement, encodeElementSection(m))
	}
	if m.DataCount >= 0 {
		out = appendSection(out, sectionDataCount, leb128.EncodeUint32(uint32(m.DataCount)))
	}
	if len(m.Funcs) > 0 {
		out = appendSection(out, sectionCode, encodeCodeSection(m))
	}
	if len(m.Datas) > 0 {
		out = appendSection(out, sectionData, encodeDataSection(m))
	}
	return out
}

func appendU32LE(out []byte, v uint32) []byte {
	return append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendSection(out []byte, id sectionID, payload []byte) []byte {
	out = append(out, byte(id))
	out = append(out, leb128.EncodeUint32(uint32(len(payload)))...)
	return append(out, payload...)
}

func encodeName(out []byte, s string) []byte {
	out = append(out, leb128.EncodeUint32(uint32(len(s)))...)
	return append(out, s...)
}

func encodeLimits(out []byte, l Limits) []byte {
	flags := byte(0)
	if l.HasMax {
		flags |= 0x01
	}
	if l.Shared {
		flags |= 0x02
	}
	out = append(out, flags)
	out = append(out, leb128.EncodeUint32(l.Min)...)
	if l.HasMax {
		out = append(out, leb128.EncodeUint32(l.Max)...)
	}
	return out
}

func encodeTableType(out []byte, t TableType) []byte {
	out = append(out, t.ElemType)
	return encodeLimits(out, t.Limits)
}

func encodeGlobalType(out []byte, t GlobalType) []byte {
	out = append(out, t.ValType)
	if t.Mutable {
		return append(out, byte(GlobalVar))
	}
	return append(out, byte(GlobalConst))
}

func encodeFunctionType(out []byte, ft FunctionType) []byte {
	out = append(out, 0x60)
	out = append(out, leb128.EncodeUint32(uint32(len(ft.Params)))...)
	out = append(out, ft.Params...)
	out = append(out, leb128.EncodeUint32(uint32(len(ft.Results)))...)
	out = append(out, ft.Results...)
	return out
}

// encodeExpr re-emits expr's bytes verbatim from the module's source
// binary; the decoder never copies instruction bytes out of Bin, so this
// is the only way to recover them.
func encodeExpr(out []byte, m *Module, e Expr) []byte {
	return append(out, m.Bin[e.Start:e.End]...)
}

func encodeTypeSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Types)))...)
	for _, ft := range m.Types {
		out = encodeFunctionType(out, ft)
	}
	return out
}

func encodeImportSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Imports)))...)
	for _, imp := range m.Imports {
		out = encodeName(out, imp.Module)
		out = encodeName(out, imp.Name)
		out = append(out, byte(imp.Kind))
		switch imp.Kind {
		case ImportKindFunc:
			out = append(out, leb128.EncodeUint32(imp.DescFunc)...)
		case ImportKindTable:
			out = encodeTableType(out, imp.DescTable)
		case ImportKindMemory:
			out = encodeLimits(out, imp.DescMemory)
		case ImportKindGlobal:
			out = encodeGlobalType(out, imp.DescGlobal)
		}
	}
	return out
}

func encodeFunctionSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.FuncTypeIndexes)))...)
	for _, idx := range m.FuncTypeIndexes {
		out = append(out, leb128.EncodeUint32(idx)...)
	}
	return out
}

func encodeTableSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Tables)))...)
	for _, t := range m.Tables {
		out = encodeTableType(out, t)
	}
	return out
}

func encodeMemorySection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Mems)))...)
	for _, l := range m.Mems {
		out = encodeLimits(out, l)
	}
	return out
}

func encodeGlobalSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Globals)))...)
	for _, g := range m.Globals {
		out = encodeGlobalType(out, g.Type)
		out = encodeExpr(out, m, g.Init)
	}
	return out
}

func encodeExportSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Exports)))...)
	for _, e := range m.Exports {
		out = encodeName(out, e.Name)
		out = append(out, byte(e.Kind))
		out = append(out, leb128.EncodeUint32(e.Index)...)
	}
	return out
}

func encodeIndexVec(out []byte, idxs []Index) []byte {
	out = append(out, leb128.EncodeUint32(uint32(len(idxs)))...)
	for _, i := range idxs {
		out = append(out, leb128.EncodeUint32(i)...)
	}
	return out
}

// encodeElementSection picks, per segment, the flags encoding simplest
// for what the decoder produced: funcidx-vector segments always use the
// direct-funcidx forms (0/2/3) rather than the general expr-vector forms,
// mirroring what an active Funcs-populated Element came from.
func encodeElementSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Elems)))...)
	for _, el := range m.Elems {
		switch {
		case el.Mode == ElementModeActive && el.Table == 0 && el.Funcs != nil:
			out = append(out, leb128.EncodeUint32(0)...)
			out = encodeExpr(out, m, el.Offset)
			out = encodeIndexVec(out, el.Funcs)
		case el.Mode == ElementModePassive && el.Funcs != nil:
			out = append(out, leb128.EncodeUint32(1)...)
			out = append(out, 0x00)
			out = encodeIndexVec(out, el.Funcs)
		case el.Mode == ElementModeActive && el.Funcs != nil:
			out = append(out, leb128.EncodeUint32(2)...)
			out = append(out, leb128.EncodeUint32(el.Table)...)
			out = encodeExpr(out, m, el.Offset)
			out = append(out, 0x00)
			out = encodeIndexVec(out, el.Funcs)
		case el.Mode == ElementModeDeclarative && el.Funcs != nil:
			out = append(out, leb128.EncodeUint32(3)...)
			out = append(out, 0x00)
			out = encodeIndexVec(out, el.Funcs)
		case el.Mode == ElementModeActive && el.Table == 0:
			out = append(out, leb128.EncodeUint32(4)...)
			out = encodeExpr(out, m, el.Offset)
			out = encodeExprVec(out, m, el.InitExprs)
		case el.Mode == ElementModePassive:
			out = append(out, leb128.EncodeUint32(5)...)
			out = append(out, el.Type)
			out = encodeExprVec(out, m, el.InitExprs)
		case el.Mode == ElementModeActive:
			out = append(out, leb128.EncodeUint32(6)...)
			out = append(out, leb128.EncodeUint32(el.Table)...)
			out = encodeExpr(out, m, el.Offset)
			out = append(out, el.Type)
			out = encodeExprVec(out, m, el.InitExprs)
		default: // ElementModeDeclarative with InitExprs
			out = append(out, leb128.EncodeUint32(7)...)
			out = append(out, el.Type)
			out = encodeExprVec(out, m, el.InitExprs)
		}
	}
	return out
}

func encodeExprVec(out []byte, m *Module, exprs []Expr) []byte {
	out = append(out, leb128.EncodeUint32(uint32(len(exprs)))...)
	for _, e := range exprs {
		out = encodeExpr(out, m, e)
	}
	return out
}

func encodeCodeSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Funcs)))...)
	for _, f := range m.Funcs {
		var body []byte
		body = append(body, leb128.EncodeUint32(uint32(len(f.Locals)))...)
		for _, lc := range f.Locals {
			body = append(body, leb128.EncodeUint32(lc.Count)...)
			body = append(body, lc.Type)
		}
		body = append(body, m.Bin[f.Body.Start:f.Body.End]...)
		out = append(out, leb128.EncodeUint32(uint32(len(body)))...)
		out = append(out, body...)
	}
	return out
}

func encodeDataSection(m *Module) []byte {
	var out []byte
	out = append(out, leb128.EncodeUint32(uint32(len(m.Datas)))...)
	for _, d := range m.Datas {
		switch {
		case d.Mode == DataModeActive && d.Memory == 0:
			out = append(out, leb128.EncodeUint32(0)...)
			out = encodeExpr(out, m, d.Offset)
		case d.Mode == DataModePassive:
			out = append(out, leb128.EncodeUint32(1)...)
		default:
			out = append(out, leb128.EncodeUint32(2)...)
			out = append(out, leb128.EncodeUint32(d.Memory)...)
			out = encodeExpr(out, m, d.Offset)
		}
		out = append(out, leb128.EncodeUint32(uint32(len(d.Init)))...)
		out = append(out, d.Init...)
	}
	return out
}
