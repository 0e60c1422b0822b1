package toywasm

import (
	"github.com/sirupsen/logrus"
)

// Config controls how a Runtime decodes, validates, and executes modules.
// Following the teacher's RuntimeConfig pattern, it is built via functional
// options and is not modified once passed to NewRuntime; the Runtime keeps
// the pointer it is given rather than a clone.
type Config struct {
	wasmThreads          bool
	jumpTable            bool
	maxFrames            int
	maxStackCells        int
	cooperativeScheduler bool
	maxConcurrentThreads int
	logger               *logrus.Logger
}

// defaultConfig mirrors toywasm's compiled-in defaults: jump-table dispatch
// on (faster, and what a release build of toywasm uses), the threads flag
// off, and frame/stack ceiling values that the interpreter does not read
// (see WithWasmThreads, WithMaxFrames and WithMaxStackCells).
var defaultConfig = Config{
	wasmThreads:          false,
	jumpTable:            true,
	maxFrames:            8192,
	maxStackCells:        1 << 20,
	cooperativeScheduler: false,
	maxConcurrentThreads: 64,
	logger:               logrus.StandardLogger(),
}

// NewConfig returns a Config set to toywasm's defaults; apply opts to
// override individual fields.
func NewConfig(opts ...func(*Config)) *Config {
	c := defaultConfig
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// WithWasmThreads sets the Config's threads flag (off by default). Nothing
// reads the flag: atomic instructions are decoded, validated and executed
// whether it is set or not.
func WithWasmThreads(enabled bool) func(*Config) {
	return func(c *Config) { c.wasmThreads = enabled }
}

// WithJumpTable selects between the validator's precomputed jump table
// (default) and a linear end/else scan for branch resolution. Grounded on
// toywasm's CONFIG_TOYWASM_USE_JUMP_TABLE build-time switch, exposed here
// as a runtime Config so both strategies stay exercised by one binary's
// tests.
func WithJumpTable(enabled bool) func(*Config) {
	return func(c *Config) { c.jumpTable = enabled }
}

// WithMaxFrames sets the Config's frame ceiling. The interpreter does not
// read it: call depth is bounded by the interpreter's fixed maxCallDepth
// (8192), and exceeding that traps with TrapCallStackExhausted.
func WithMaxFrames(n int) func(*Config) {
	return func(c *Config) { c.maxFrames = n }
}

// WithMaxStackCells sets the Config's operand-stack ceiling. The
// interpreter does not read it and puts no limit on the operand stack's
// Cell count.
func WithMaxStackCells(n int) func(*Config) {
	return func(c *Config) { c.maxStackCells = n }
}

// WithCooperativeScheduler sets the Config's cooperative-scheduler flag.
// Nothing reads the flag: spawned threads always run on a goroutine of
// their own through the cluster, never as tasks on internal/cluster's
// Scheduler.
func WithCooperativeScheduler(enabled bool) func(*Config) {
	return func(c *Config) { c.cooperativeScheduler = enabled }
}

// WithMaxConcurrentThreads bounds how many wasi-threads thread_spawn calls
// may run at once; further spawns block until a slot frees up rather than
// failing, mirroring an OS thread pool under memory pressure.
func WithMaxConcurrentThreads(n int) func(*Config) {
	return func(c *Config) { c.maxConcurrentThreads = n }
}

// WithLogger overrides the *logrus.Logger every component logs through.
// A nil logger is rejected silently in favor of the default, rather than
// leaving the Runtime with no logger at all.
func WithLogger(log *logrus.Logger) func(*Config) {
	return func(c *Config) {
		if log != nil {
			c.logger = log
		}
	}
}
