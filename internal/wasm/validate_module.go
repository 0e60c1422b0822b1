package wasm

import (
	"github.com/sirupsen/logrus"

	"github.com/yamt/toywasm-sub002/api"
)

// ValidateModule runs every per-function and per-constant-expression check
// spec.md §4.3 requires before a Module may be instantiated: each defined
// function body, and every global/element-offset/data-offset constant
// expression against its expected type. Each function's resolved
// ExprExecInfo (jump table, select widths, stack high-watermarks) is
// written back into m.Funcs[i].Body.Info, matching toywasm's validate-once,
// run-many-times model: a Module is only ever fully validated one time,
// regardless of how many Instances get built from it.
func ValidateModule(m *Module, log *logrus.Logger, generateJumps bool) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for i := range m.Funcs {
		ei, err := ValidateFunction(m, Index(i), &m.Funcs[i], log, generateJumps)
		if err != nil {
			return err
		}
		m.Funcs[i].Body.Info = ei
	}
	for i := range m.Globals {
		g := &m.Globals[i]
		if err := ValidateConstExpr(m, g.Init, g.Type.ValType); err != nil {
			return err
		}
	}
	for i := range m.Elems {
		e := &m.Elems[i]
		if e.Mode == ElementModeActive {
			if err := ValidateConstExpr(m, e.Offset, api.ValueTypeI32); err != nil {
				return err
			}
		}
		for _, ie := range e.InitExprs {
			if err := ValidateConstExpr(m, ie, e.Type); err != nil {
				return err
			}
		}
	}
	for i := range m.Datas {
		d := &m.Datas[i]
		if d.Mode == DataModeActive {
			if err := ValidateConstExpr(m, d.Offset, api.ValueTypeI32); err != nil {
				return err
			}
		}
	}
	if m.HasStart {
		ft := m.FunctionType(m.Start)
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return newValidationError(0, "start function must have type () -> ()")
		}
	}
	return nil
}
