// Command wasmrt is a thin CLI driver over the embedder API in the
// top-level toywasm package: spec.md §6 calls the CLI out of scope for
// the core's test/invariant surface, so this file is deliberately a
// small consumer of instance_create/instance_execute_func, not a second
// implementation of anything.
//
// Grounded on original_source/cli/main.c's option set (--invoke, --load,
// --register, --repl, --wasi, --wasi-dir) and, for the flag/command
// plumbing itself, the teacher pack's use of spf13/cobra (e.g.
// open-policy-agent/opa/cmd).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	toywasm "github.com/yamt/toywasm-sub002"
	"github.com/yamt/toywasm-sub002/internal/wasm"
)

// version is overridden at link time (-ldflags "-X main.version=...") by a
// release build; "dev" is what a plain `go build` produces.
var version = "dev"

type cliOptions struct {
	invoke   string
	loads    []string
	register []string
	wasi     bool
	wasiDirs []string
	trace    bool
	repl     bool
	showVer  bool
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	cmd := &cobra.Command{
		Use:   "wasmrt [flags] MODULE",
		Short: "Run a WebAssembly module",
		Long:  "wasmrt loads, links, and runs a WebAssembly module through the toywasm embedder API.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if opts.showVer {
				fmt.Println(version)
				return nil
			}
			var mainPath string
			if len(args) == 1 {
				mainPath = args[0]
			}
			code, err := run(opts, mainPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(code)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.invoke, "invoke", "", "invoke the named export after loading (default: _start)")
	flags.StringArrayVar(&opts.loads, "load", nil, "load an additional module before the main one (repeatable)")
	flags.StringArrayVar(&opts.register, "register", nil, "name under which the previous --load's exports are visible to later modules (repeatable)")
	flags.BoolVar(&opts.wasi, "wasi", false, "link the module against wasi_snapshot_preview1")
	flags.StringArrayVar(&opts.wasiDirs, "wasi-dir", nil, "preopen a host directory for the wasi guest (repeatable)")
	flags.BoolVar(&opts.trace, "trace", false, "enable debug-level execution tracing")
	flags.BoolVar(&opts.repl, "repl", false, "read invocations interactively from stdin instead of running _start")
	flags.BoolVar(&opts.showVer, "version", false, "print the version and exit")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires a Runtime, optionally a WASI host module, loads/links every
// requested module, and either invokes one export or drops into the repl
// loop. It returns the process exit code: the guest's wasi exit code on a
// clean proc_exit, 0 on a normal return, or non-zero on load/link/trap
// failure.
func run(opts *cliOptions, mainPath string) (int, error) {
	log := logrus.StandardLogger()
	if opts.trace {
		log.SetLevel(logrus.DebugLevel)
	}
	rt := toywasm.NewRuntime(toywasm.NewConfig(toywasm.WithLogger(log)))

	imports := toywasm.NewImportObject("env")
	var wasiHandle *toywasm.WASI
	if opts.wasi {
		wasiHandle = rt.NewWASI(os.Args, os.Environ())
		for _, dir := range opts.wasiDirs {
			if _, err := wasiHandle.PrestatAdd(dir); err != nil {
				return 1, fmt.Errorf("wasi-dir %s: %w", dir, err)
			}
		}
		wasiImports, err := toywasm.ImportObjectForWASI(wasiHandle)
		if err != nil {
			return 1, err
		}
		imports = imports.Chain(wasiImports)
	}

	for i, path := range opts.loads {
		name := fmt.Sprintf("module%d", i)
		if i < len(opts.register) && opts.register[i] != "" {
			name = opts.register[i]
		}
		exports, err := loadAndExport(rt, imports, path, name)
		if err != nil {
			return 1, fmt.Errorf("--load %s: %w", path, err)
		}
		imports = imports.Chain(exports)
	}

	if mainPath == "" {
		if opts.repl {
			return replLoop(rt, nil, imports)
		}
		return 0, nil
	}

	bin, err := os.ReadFile(mainPath)
	if err != nil {
		return 1, err
	}
	m, err := rt.CompileModule(bin)
	if err != nil {
		return 1, err
	}
	inst, err := rt.Instantiate(m, imports)
	if err != nil {
		return 1, err
	}

	if opts.repl {
		return replLoop(rt, inst, imports)
	}

	name := opts.invoke
	if name == "" {
		name = "_start"
	}
	idx, ok := m.FindExport(name, toywasm.ExportKindFunc)
	if !ok {
		return 1, fmt.Errorf("no such export: %s", name)
	}
	results, err := invokeAndPrint(rt, inst, idx, nil)
	if err != nil {
		if wasiHandle != nil {
			if code, exited := wasiHandle.ExitCode(); exited {
				return code, nil
			}
		}
		return 1, err
	}
	_ = results
	return 0, nil
}

// loadAndExport loads path as an auxiliary module, links it against the
// imports accumulated so far, instantiates it, and re-exposes its exports
// under name so a later --load can import from it — mirroring
// repl_register's "make this module's exports visible by name".
func loadAndExport(rt *toywasm.Runtime, imports *toywasm.ImportObject, path, name string) (*toywasm.ImportObject, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := rt.CompileModule(bin)
	if err != nil {
		return nil, err
	}
	inst, err := rt.Instantiate(m, imports)
	if err != nil {
		return nil, err
	}
	return wasm.ExportsAsImportObject(name, inst.Module())
}

// invokeAndPrint runs idx to completion, following Restart statuses via
// ExecuteContinue (a host call suspended and resumed) until a terminal
// OK or Trap is reached, printing results on success.
func invokeAndPrint(rt *toywasm.Runtime, inst *toywasm.Instance, idx wasm.Index, args []uint64) ([]uint64, error) {
	ctx := rt.NewExecContext()
	results, status, err := ctx.ExecuteFunc(inst, idx, args)
	for status == toywasm.StatusRestart {
		results, status, err = ctx.ExecuteContinue()
	}
	if status == toywasm.StatusTrap || err != nil {
		return nil, err
	}
	for _, r := range results {
		fmt.Println(r)
	}
	return results, nil
}

// replLoop implements --repl: a thin line-reader over instance_execute_func,
// one "funcname arg0 arg1 ..." invocation per line, matching
// original_source/cli/repl.c's interactive loop without reimplementing its
// state machine.
func replLoop(rt *toywasm.Runtime, inst *toywasm.Instance, imports *toywasm.ImportObject) (int, error) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("wasmrt> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if inst == nil {
			fmt.Fprintln(os.Stderr, "no module loaded")
			continue
		}
		name := fields[0]
		args, err := parseArgs(fields[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		idx, ok := findExportByName(inst, name)
		if !ok {
			fmt.Fprintf(os.Stderr, "no such export: %s\n", name)
			continue
		}
		if _, err := invokeAndPrint(rt, inst, idx, args); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return 0, nil
}

func parseArgs(fields []string) ([]uint64, error) {
	args := make([]uint64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", f, err)
		}
		args = append(args, uint64(v))
	}
	return args, nil
}

func findExportByName(inst *toywasm.Instance, name string) (wasm.Index, bool) {
	for _, ex := range inst.Module().Module.Exports {
		if ex.Kind == wasm.ExportKindFunc && ex.Name == name {
			return ex.Index, true
		}
	}
	return 0, false
}
