package vm

import (
	"sync"
	"sync/atomic"
)

// This file describes the external collaborators the engine consumes but
// does not itself implement: modules, types, members and debug symbols.
// A hosting program supplies concrete implementations (typically backed by
// a loaded module file); the engine only needs the shape below to resolve
// tokens, check accessibility, and dispatch operators. Module loading and
// type-system internals are out of scope (spec.md §1 Non-goals).

// Accessibility mirrors the visibility modifiers a member can declare.
type Accessibility uint8

const (
	AccessPrivate Accessibility = iota
	AccessProtected
	AccessPublic
)

// Type is the minimal contract the engine needs from a runtime type: its
// identity, its supertype chain for subtype checks, and whether it is one
// of the built-in primitive representations (so the engine can decide
// in-line payload vs object-pointer storage for a Value).
type Type struct {
	Name        string
	Primitive   bool
	Supertype   *Type
	Fields      []*Field
	Methods     map[string]*Member
	Constructor *MethodOverload
}

// IsSubtypeOf walks the supertype chain. Every type is a subtype of
// itself.
func (t *Type) IsSubtypeOf(other *Type) bool {
	for cur := t; cur != nil; cur = cur.Supertype {
		if cur == other {
			return true
		}
	}
	return false
}

// Field describes one storage slot inside an object's layout.
type Field struct {
	Name       string
	Offset     uintptr
	Static     bool
	Access     Accessibility
	Owner      *Type
}

// Member is a named, possibly overloaded, callable or field slot resolved
// from a token. MethodFromToken/FieldFromToken (see methodparser.go)
// return values shaped like this.
type Member struct {
	Name      string
	Access    Accessibility
	Overloads []*MethodOverload
}

// TryBlockKind distinguishes a catch handler from a finally handler.
type TryBlockKind uint8

const (
	TryBlockCatch TryBlockKind = iota
	TryBlockFinally
)

// TryBlock describes one protected region of a method body together with
// its handler. CatchType is nil for TryBlockFinally.
type TryBlock struct {
	Kind        TryBlockKind
	StartOffset uint32
	EndOffset   uint32
	HandlerOffset uint32
	CatchType   *Type // only meaningful when Kind == TryBlockCatch
}

// Contains reports whether offset off falls inside this block's protected
// range. off must be in the same stream as the block's offsets: original
// offsets for MethodOverload.TryBlocks, emitted offsets for the
// translated blocks the interpreter scans.
func (b *TryBlock) Contains(off uint32) bool {
	return off >= b.StartOffset && off < b.EndOffset
}

// DebugSymbols maps original source-stream offsets to line numbers, for
// StackTraceFormatter.
type DebugSymbols struct {
	// Offsets and Lines are parallel, sorted ascending by Offsets.
	Offsets []uint32
	Lines   []uint32
}

// LineAt returns the source line covering the original offset off, or 0 if
// no symbol covers it.
func (d *DebugSymbols) LineAt(off uint32) uint32 {
	if d == nil || len(d.Offsets) == 0 {
		return 0
	}
	line := uint32(0)
	for i, o := range d.Offsets {
		if o > off {
			break
		}
		line = d.Lines[i]
	}
	return line
}

// MethodOverload is one resolved, arity-specific overload of a named
// method: its declared signature, its source bytecode (before
// initialization) and, once MethodInitializer has run, its emitted
// MethodBuffer.
type MethodOverload struct {
	Name       string
	DeclType   *Type // nil for free/static functions
	IsStatic   bool
	ArgCount   int
	IsVariadic bool
	LocalCount int

	// SourceBody is the method's original (unoptimized) instruction
	// stream, produced by a module loader. It is consumed once by
	// MethodParser/MethodInitializer and never touched again afterward.
	SourceBody []byte
	TryBlocks  []*TryBlock
	Debug      *DebugSymbols

	initOnce     sync.Once
	initErr      error
	refSignature *RefSignature
	body         atomic.Pointer[emittedBody]
}

// emittedBody is the initialized, ready-to-execute form of a method,
// installed atomically by MethodInitializer.Initialize.
type emittedBody struct {
	buffer    []byte
	maxStack  int
	tryBlocks []*TryBlock
	// callSites is indexed by the resolved-index operand every
	// Call/StaticCall/Apply/StaticApply/NewObject instruction emits, so
	// the interpreter can recover the statically-resolved overload (or,
	// for NewObject, type) a call site targets without re-encoding a
	// pointer-sized operand into the byte stream.
	callSites []callSite
}

// callSite is one entry of an emittedBody's call-site table.
type callSite struct {
	Overload *MethodOverload
	Member   *Member
	Type     *Type
}

// EnsureInitialized runs mi.Initialize on m exactly once, regardless of
// how many goroutines call this concurrently for the same method; every
// caller blocks until the single initializing goroutine finishes and then
// observes the same result (success or the same error). This is the
// lazy, idempotent, thread-safe protocol spec.md's component design calls
// for around MethodInitializer.
func (m *MethodOverload) EnsureInitialized(mi *MethodInitializer) error {
	m.initOnce.Do(func() {
		m.initErr = mi.Initialize(m)
	})
	return m.initErr
}

// installBody publishes body so concurrent readers (other threads about
// to execute m) see either the old, uninitialized state or the fully
// emitted one, never a partially written body.
func (m *MethodOverload) installBody(body *emittedBody) {
	m.body.Store(body)
}

// Body returns the method's emitted form, or nil if EnsureInitialized has
// not completed successfully yet.
func (m *MethodOverload) Body() *emittedBody {
	return m.body.Load()
}

// IsInitialized reports whether this overload's body has been emitted.
func (m *MethodOverload) IsInitialized() bool {
	return m.body.Load() != nil
}
