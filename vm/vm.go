package vm

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// VM is the top-level engine instance: the shared, process-wide state
// every Thread reads from (well-known types, the interned string table,
// the safepoint coordinator, the method initializer, and the opcode
// dispatcher) plus the tunables and native capability callbacks a host
// supplies at construction. Mirrors the teacher's top-level run/exec
// entry point, generalized from "one hard-coded program" to "one
// configurable engine instance a host embeds".
type VM struct {
	log         *logrus.Logger
	config      Config
	types       *WellKnownTypes
	strings     *StringPool
	safepoints  *SafepointCoordinator
	initializer *MethodInitializer
	dispatch    Dispatcher
	intrinsics  Intrinsics

	nextThreadID atomic.Uint64
}

// Option customizes a VM at construction, the same functional-options
// shape the teacher's CLI layer uses to build up its own run configuration
// from flags before constructing the thing it actually runs.
type Option func(*VM)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(v *VM) { v.config = cfg }
}

// WithIntrinsics overrides DefaultIntrinsics with host-supplied callbacks.
func WithIntrinsics(in Intrinsics) Option {
	return func(v *VM) { v.intrinsics = in }
}

// WithDispatcher overrides the default field/member/call/operator
// dispatcher, for a host that implements its own object model.
func WithDispatcher(d Dispatcher) Option {
	return func(v *VM) { v.dispatch = d }
}

// WithStrings overrides the VM's default (empty) string pool, for a host
// that needs to share one pool between a Module's token resolution
// (Module.StringFromToken interns into it) and the running VM (LoadString
// reads back out of it).
func WithStrings(pool *StringPool) Option {
	return func(v *VM) { v.strings = pool }
}

// WithTokenResolver installs resolver as the TokenResolver every method
// this VM initializes is parsed against; without one, methods can only
// use opcodes that carry no token operand (locals, constants, branches,
// arithmetic) and any token-carrying instruction fails to parse.
func WithTokenResolver(resolver TokenResolver) Option {
	return func(v *VM) { v.initializer = NewMethodInitializer(resolver, NewRefSignaturePool()) }
}

// WithLogger overrides the default logrus.Logger (text formatter at
// Config.LogLevel), the way the teacher's CLI lets a caller inject a
// pre-configured logger instead of always building its own.
func WithLogger(log *logrus.Logger) Option {
	return func(v *VM) { v.log = log }
}

// New constructs a VM ready to run threads. Without WithTokenResolver, the
// VM parses methods against noTokenResolver, which rejects any
// token-carrying instruction — sufficient for the text assembler's
// token-free subset (module_asm.go) and for tests that only exercise locals,
// arithmetic, and control flow.
func New(opts ...Option) *VM {
	v := &VM{
		config:     DefaultConfig(),
		types:      NewWellKnownTypes(),
		safepoints: NewSafepointCoordinator(),
		intrinsics: DefaultIntrinsics(),
	}
	v.strings = NewStringPool(v.types.String)
	v.dispatch = newDefaultDispatcher()
	v.initializer = NewMethodInitializer(noTokenResolver{}, NewRefSignaturePool())

	for _, opt := range opts {
		opt(v)
	}

	if v.log == nil {
		v.log = logrus.New()
		if level, err := logrus.ParseLevel(v.config.LogLevel); err == nil {
			v.log.SetLevel(level)
		}
	}
	return v
}

// Types returns the VM's well-known primitive/string type set.
func (v *VM) Types() *WellKnownTypes { return v.types }

// Strings returns the VM's interned string pool.
func (v *VM) Strings() *StringPool { return v.strings }

// Safepoints returns the VM's GC-cooperation coordinator.
func (v *VM) Safepoints() *SafepointCoordinator { return v.safepoints }

// Log returns the VM's logger.
func (v *VM) Log() *logrus.Logger { return v.log }

// Config returns the VM's tunables.
func (v *VM) Config() Config { return v.config }

// Intrinsics returns the VM's native capability callbacks.
func (v *VM) Intrinsics() Intrinsics { return v.intrinsics }

// NewThread creates and registers a new thread bound to this VM, ready
// for Evaluate calls. Callers must call StopThread when the thread is
// done running so the safepoint coordinator stops waiting on it.
func (v *VM) NewThread() *Thread {
	id := v.nextThreadID.Add(1)
	t := NewThread(v, id)
	v.safepoints.register(t)
	t.state.Store(int32(ThreadRunning))
	return t
}

// StopThread unregisters t from the safepoint coordinator and marks it
// stopped. Safe to call even if a GC cycle is waiting on other threads:
// unregistering broadcasts so a concurrent SuspendForGC rechecks.
func (v *VM) StopThread(t *Thread) {
	t.state.Store(int32(ThreadStopped))
	v.safepoints.unregister(t)
}

// noTokenResolver is the TokenResolver a VM constructed without
// WithTokenResolver parses methods against: every lookup fails, so a
// method using a token-carrying opcode reports a clear initialization
// error rather than silently resolving to a zero value.
type noTokenResolver struct{}

func (noTokenResolver) TypeFromToken(uint32) (*Type, error) {
	return nil, &MethodInitError{Kind: InitErrorUnresolvedTokenID, Detail: "no token resolver configured (use vm.WithTokenResolver)"}
}
func (noTokenResolver) StringFromToken(uint32) (uint32, error) {
	return 0, &MethodInitError{Kind: InitErrorUnresolvedTokenID, Detail: "no token resolver configured (use vm.WithTokenResolver)"}
}
func (noTokenResolver) MethodFromToken(uint32) (*Member, error) {
	return nil, &MethodInitError{Kind: InitErrorUnresolvedTokenID, Detail: "no token resolver configured (use vm.WithTokenResolver)"}
}
func (noTokenResolver) MethodOverloadFromToken(uint32, int) (*MethodOverload, error) {
	return nil, &MethodInitError{Kind: InitErrorUnresolvedTokenID, Detail: "no token resolver configured (use vm.WithTokenResolver)"}
}
func (noTokenResolver) FieldFromToken(uint32, bool) (*Field, error) {
	return nil, &MethodInitError{Kind: InitErrorUnresolvedTokenID, Detail: "no token resolver configured (use vm.WithTokenResolver)"}
}
func (noTokenResolver) EnsureConstructible(*Type, int) error {
	return &MethodInitError{Kind: InitErrorUnresolvedTokenID, Detail: "no token resolver configured (use vm.WithTokenResolver)"}
}
