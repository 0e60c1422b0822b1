package wasm

// ExportsAsImportObject exposes every export of an already-instantiated
// inst as an ImportObject under moduleName, letting a CLI chain multiple
// `--load`ed modules together (module B importing from module A) without
// either module being aware it's being composed this way. Grounded on
// toywasm's CLI --register, which does the same thing one level up in
// repl_state.
func ExportsAsImportObject(moduleName string, inst *Instance) (*ImportObject, error) {
	io := NewImportObject(moduleName)
	for _, ex := range inst.Module.Exports {
		switch ex.Kind {
		case ExportKindFunc:
			io.Entries[ex.Name] = ImportEntry{Kind: ImportKindFunc, Func: inst.Funcs[ex.Index]}
		case ExportKindTable:
			io.Entries[ex.Name] = ImportEntry{Kind: ImportKindTable, Table: inst.Tables[ex.Index]}
		case ExportKindMemory:
			io.Entries[ex.Name] = ImportEntry{Kind: ImportKindMemory, Mem: inst.Mems[ex.Index]}
		case ExportKindGlobal:
			io.Entries[ex.Name] = ImportEntry{Kind: ImportKindGlobal, Global: inst.Globals[ex.Index]}
		}
	}
	return io, nil
}
