// Package wasmbuild hand-assembles minimal Wasm binaries for tests, the
// same role the teacher's internal/testing/binaryencoding plays: §8's
// end-to-end scenarios need concrete module bytes, and no .wast parser is
// in scope (SPEC_FULL.md §10), so tests build the handful of bytes they
// need directly.
package wasmbuild

import (
	"github.com/yamt/toywasm-sub002/api"
	"github.com/yamt/toywasm-sub002/internal/leb128"
)

// FuncType is a (params) -> (results) signature.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Import is one entry of the import section. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type Import struct {
	Module, Name string
	Kind         byte // matches wasm.ImportKind
	FuncTypeIdx  uint32
	Mem          Limits
	Table        Table
	Global       GlobalType
}

// Limits is a memory/table size range.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// Table is a table's element type and size limits.
type Table struct {
	ElemType api.ValueType
	Limits   Limits
}

// GlobalType is a global's value type and mutability.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// Func is a defined function: its type, its locals (one entry per
// declared local, not run-length-encoded — fine for the small bodies
// tests need), and its raw instruction bytes (including the trailing
// `end`).
type Func struct {
	TypeIdx uint32
	Locals  []api.ValueType
	Body    []byte
}

// Global is a defined global: its type and constant-expression
// initialiser bytes (including the trailing `end`).
type Global struct {
	Type GlobalType
	Init []byte
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte // matches wasm.ExportKind
	Index uint32
}

// Elem is an active, table-0, funcref element segment (flags == 0), the
// only shape tests need.
type Elem struct {
	Offset []byte // constant expression bytes, including `end`
	Funcs  []uint32
}

// Module is a declarative description of everything Encode needs to
// assemble a binary; every field is optional.
type Module struct {
	Types   []FuncType
	Imports []Import
	Funcs   []Func
	Tables  []Table
	Mems    []Limits
	Globals []Global
	Exports []Export
	Elems   []Elem
	Start   *uint32
}

func u32(v uint32) []byte { return leb128.EncodeUint32(v) }

func vec(n int) []byte { return u32(uint32(n)) }

func name(s string) []byte {
	b := append(vec(len(s)), s...)
	return b
}

func limits(l Limits) []byte {
	if l.HasMax {
		return append(append([]byte{0x01}, u32(l.Min)...), u32(l.Max)...)
	}
	return append([]byte{0x00}, u32(l.Min)...)
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, u32(uint32(len(payload)))...)
	return append(out, payload...)
}

// Encode assembles m into a complete `\0asm` binary.
func Encode(m Module) []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	if len(m.Types) > 0 {
		var p []byte
		p = append(p, vec(len(m.Types))...)
		for _, t := range m.Types {
			p = append(p, 0x60)
			p = append(p, vec(len(t.Params))...)
			p = append(p, t.Params...)
			p = append(p, vec(len(t.Results))...)
			p = append(p, t.Results...)
		}
		out = append(out, section(1, p)...)
	}

	if len(m.Imports) > 0 {
		var p []byte
		p = append(p, vec(len(m.Imports))...)
		for _, imp := range m.Imports {
			p = append(p, name(imp.Module)...)
			p = append(p, name(imp.Name)...)
			p = append(p, imp.Kind)
			switch imp.Kind {
			case 0x00:
				p = append(p, u32(imp.FuncTypeIdx)...)
			case 0x01:
				p = append(p, imp.Table.ElemType)
				p = append(p, limits(imp.Table.Limits)...)
			case 0x02:
				p = append(p, limits(imp.Mem)...)
			case 0x03:
				p = append(p, imp.Global.ValType)
				p = append(p, boolByte(imp.Global.Mutable))
			}
		}
		out = append(out, section(2, p)...)
	}

	if len(m.Funcs) > 0 {
		var p []byte
		p = append(p, vec(len(m.Funcs))...)
		for _, f := range m.Funcs {
			p = append(p, u32(f.TypeIdx)...)
		}
		out = append(out, section(3, p)...)
	}

	if len(m.Tables) > 0 {
		var p []byte
		p = append(p, vec(len(m.Tables))...)
		for _, t := range m.Tables {
			p = append(p, t.ElemType)
			p = append(p, limits(t.Limits)...)
		}
		out = append(out, section(4, p)...)
	}

	if len(m.Mems) > 0 {
		var p []byte
		p = append(p, vec(len(m.Mems))...)
		for _, l := range m.Mems {
			p = append(p, limits(l)...)
		}
		out = append(out, section(5, p)...)
	}

	if len(m.Globals) > 0 {
		var p []byte
		p = append(p, vec(len(m.Globals))...)
		for _, g := range m.Globals {
			p = append(p, g.Type.ValType)
			p = append(p, boolByte(g.Type.Mutable))
			p = append(p, g.Init...)
		}
		out = append(out, section(6, p)...)
	}

	if len(m.Exports) > 0 {
		var p []byte
		p = append(p, vec(len(m.Exports))...)
		for _, e := range m.Exports {
			p = append(p, name(e.Name)...)
			p = append(p, e.Kind)
			p = append(p, u32(e.Index)...)
		}
		out = append(out, section(7, p)...)
	}

	if m.Start != nil {
		out = append(out, section(8, u32(*m.Start))...)
	}

	if len(m.Elems) > 0 {
		var p []byte
		p = append(p, vec(len(m.Elems))...)
		for _, e := range m.Elems {
			p = append(p, u32(0)...) // flags: active, table 0, funcidx vec
			p = append(p, e.Offset...)
			p = append(p, vec(len(e.Funcs))...)
			for _, fi := range e.Funcs {
				p = append(p, u32(fi)...)
			}
		}
		out = append(out, section(9, p)...)
	}

	if len(m.Funcs) > 0 {
		var p []byte
		p = append(p, vec(len(m.Funcs))...)
		for _, f := range m.Funcs {
			var body []byte
			body = append(body, vec(len(f.Locals))...)
			for _, lt := range f.Locals {
				body = append(body, u32(1)...)
				body = append(body, lt)
			}
			body = append(body, f.Body...)
			p = append(p, vec(len(body))...)
			p = append(p, body...)
		}
		out = append(out, section(10, p)...)
	}

	return out
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// I32Const returns the bytes for `i32.const v`.
func I32Const(v int32) []byte {
	return append([]byte{0x41}, leb128.EncodeInt32(v)...)
}
