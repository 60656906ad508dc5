package vm

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ThreadFlags records per-thread state outside the coarse ThreadState,
// mirroring thread.h's ThreadFlags. There is exactly one flag: whether
// the thread is in an unmanaged region. SPEC_FULL.md's Open Question
// decision #1 treats nested entry as a hard error rather than silently
// flattening, so the flag itself stays a plain bool instead of a counter.
type ThreadFlags struct {
	inUnmanagedRegion atomic.Bool
}

// Thread is one managed execution context: the interpreter loop that
// Evaluate runs on the calling goroutine (NewThread starts none), its own
// frame stack, and its own slice of the safepoint protocol. Mirrors ee/thread.h's Thread.
type Thread struct {
	vm          *VM
	id          uint64
	state       atomic.Int32
	flags       ThreadFlags
	frame       *StackFrame
	log         *logrus.Entry

	// unwinds is the thread's save stack of in-progress try/finally
	// unwinds: each entry is either a thrown managed error or a `leave`
	// working its way out through enclosing finally clauses, pushed on
	// entry to a finally and popped by the endfinally that resumes it.
	// Kept as a Thread-owned slice, not threaded through the native Go
	// call stack, so every saved error Value stays reachable from the
	// thread's root set for the duration of the finally (spec.md §9).
	unwinds []finallyUnwind

	// caught is the stack of currently-active caught error values, for
	// `rethrow` to recover the value a catch clause is handling without
	// needing it to still be sitting on the eval stack.
	caught []Value
}

// threadContextKey is the context.Context key a thread registers itself
// under, giving native callback boundaries (Intrinsics) a way to recover
// the calling Thread without relying on OS/goroutine-local storage.
type threadContextKey struct{}

// threadRegistry is declared as the fallback lookup for code that only
// has a goroutine identity and no context.Context to hand (SPEC_FULL.md
// supplement #5): Go exposes no stable goroutine id, so it is keyed by
// the Thread's own pointer instead. Nothing in this package stores to or
// reads from it; VM.NewThread and VM.StopThread leave it untouched.
var threadRegistry sync.Map // map[*Thread]struct{}

// NewThread creates a thread bound to vm, not yet running.
func NewThread(vm *VM, id uint64) *Thread {
	t := &Thread{vm: vm, id: id, log: vm.log.WithField("thread", id)}
	t.state.Store(int32(ThreadCreated))
	return t
}

// CurrentThread recovers the calling Thread from ctx, if one was
// registered via (*Thread).Context.
func CurrentThread(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadContextKey{}).(*Thread)
	return t, ok
}

// Context returns a context carrying t as the current thread, for
// handing to Intrinsics callbacks.
func (t *Thread) Context(parent context.Context) context.Context {
	return context.WithValue(parent, threadContextKey{}, t)
}

func (t *Thread) State() ThreadState   { return ThreadState(t.state.Load()) }
func (t *Thread) CurrentFrame() *StackFrame { return t.frame }
func (t *Thread) VM() *VM              { return t.vm }

// IsInUnmanagedRegion reports whether the thread has announced it is
// about to call out to native code and will not touch managed state or
// reach a safepoint until it returns.
func (t *Thread) IsInUnmanagedRegion() bool { return t.flags.inUnmanagedRegion.Load() }

// IsSuspendedForGC reports whether the GC may treat this thread as
// stopped: either it is literally parked at a safepoint, or it has
// announced an unmanaged region (and so cannot be touching the managed
// heap regardless of its native-side progress).
func (t *Thread) IsSuspendedForGC() bool {
	return t.State() == ThreadSuspendedByGC || t.IsInUnmanagedRegion()
}

// EnterUnmanagedRegion announces that t is about to call into native code
// and will not observe GC-safepoint requests until LeaveUnmanagedRegion.
// Re-entering while already in an unmanaged region is a hard error
// (SPEC_FULL.md Open Question decision #1): the flag is explicitly
// non-nestable, so a caller that needs nesting has a caller-side bug.
func (t *Thread) EnterUnmanagedRegion() error {
	if !t.flags.inUnmanagedRegion.CompareAndSwap(false, true) {
		return ErrNestedUnmanagedRegion
	}
	t.vm.safepoints.noteSuspended()
	return nil
}

// LeaveUnmanagedRegion ends an unmanaged region begun by
// EnterUnmanagedRegion, blocking first if a GC cycle is in progress
// (mirroring the safepoint check every other safepoint performs).
func (t *Thread) LeaveUnmanagedRegion() {
	t.vm.safepoints.waitForResume(t)
	t.flags.inUnmanagedRegion.Store(false)
}

// safepoint is called before dispatching each instruction and on
// Evaluate's entry. If the GC has a pending suspend request and the
// thread is not in an unmanaged region, it parks until the request
// clears.
func (t *Thread) safepoint() {
	if t.vm.safepoints.PendingRequest() != RequestSuspendForGC {
		return
	}
	if t.IsInUnmanagedRegion() {
		return
	}
	t.state.Store(int32(ThreadSuspendedByGC))
	t.vm.safepoints.noteSuspended()
	t.vm.safepoints.waitForResume(t)
	t.state.Store(int32(ThreadRunning))
}

// unwindSignal is how Evaluate's instruction loop communicates a
// non-local exit (return, uncaught throw reaching the frame boundary, or
// a leave whose target lies outside the current method) back to its
// driving loop without using panic/recover for ordinary control flow.
type unwindSignal int

const (
	unwindNone unwindSignal = iota
	unwindReturn
	unwindThrow
	// unwindLeave marks a `leave`: execOne has already computed the
	// final jump target and stashed it in the nextIP return value; run
	// still has to consult the try-block table before actually jumping,
	// in case one or more enclosing finallys lie between here and there.
	unwindLeave
	// unwindEndFinally marks an `endfinally`: run must consult
	// whichever finallyUnwind is on top of the thread's save stack to
	// know whether to resume a leave, resume a thrown error's
	// propagation, or (stack empty) just fall through.
	unwindEndFinally
)

// Evaluate runs method to completion on this thread with the given
// arguments and returns its result value, or the error it raised
// uncaught. It is the engine's interpreter loop, mirroring Thread's
// opcode-dispatch loop (ee/thread.opcodes.cpp in the source this was
// ported from).
func (t *Thread) Evaluate(method *MethodOverload, args []Value) (Value, error) {
	t.safepoint()

	if err := method.EnsureInitialized(t.vm.initializer); err != nil {
		return Value{}, err
	}
	body := method.Body()

	frame := NewStackFrame(method, args, method.LocalCount, body.maxStack+t.vm.config.InitialStackCapacity, t.frame)
	t.frame = frame
	defer func() { t.frame = frame.Prev }()

	result, err := t.run(frame, body)
	if err != nil {
		t.log.WithError(err).WithField("method", method.Name).Debug("uncaught error leaving method")
	}
	return result, err
}

// run drives the fetch-decode-execute loop over one frame's emitted
// body, handling try/catch/finally unwinding by consulting the method's
// TryBlock table directly (innermost-first, matching source order)
// rather than encoding handler search into the byte stream itself.
func (t *Thread) run(frame *StackFrame, body *emittedBody) (Value, error) {
	ip := 0
	buf := body.buffer

	for {
		t.safepoint()

		op := opcode(buf[ip])
		nextIP, signal, result, thrown := t.execOne(frame, buf, ip, op)

		switch signal {
		case unwindReturn:
			return result, nil

		case unwindThrow:
			handlerIP, ok := t.dispatchThrow(frame, body, uint32(ip), 0, thrown)
			if !ok {
				return Value{}, thrown
			}
			ip = handlerIP
			continue

		case unwindLeave:
			// execOne has already resolved the leave's final byte
			// offset and returned it as nextIP; dispatchLeave decides
			// whether any enclosing finally must run first.
			if handlerIP, ok := t.dispatchLeave(frame, uint32(ip), 0, nextIP, body); ok {
				ip = handlerIP
				continue
			}
			ip = nextIP
			continue

		case unwindEndFinally:
			if len(t.unwinds) == 0 {
				// A stray endfinally with no unwind in progress simply
				// falls through to whatever follows it.
				ip = nextIP
				continue
			}
			top := t.unwinds[len(t.unwinds)-1]
			t.unwinds = t.unwinds[:len(t.unwinds)-1]
			if top.isLeave {
				// Discard the marker this finally's entry pushed, per
				// Shift's contract: drop exactly that slot without
				// disturbing anything the enclosing method already had
				// below it.
				frame.Shift(0)
				if handlerIP, ok := t.dispatchLeave(frame, top.fromOffset, top.nextIdx, top.target, body); ok {
					ip = handlerIP
					continue
				}
				ip = top.target
				continue
			}
			if handlerIP, ok := t.dispatchThrow(frame, body, top.fromOffset, top.nextIdx, top.err); ok {
				ip = handlerIP
				continue
			}
			return Value{}, top.err
		}
		ip = nextIP
	}
}

// finallyUnwind is one in-progress walk through a method's enclosing
// finally clauses: either a thrown managed error propagating outward, or
// a `leave` unwinding out of one or more protected regions on its way to
// Target. Thread keeps these as an explicit stack (mirroring the
// source's save-stack threaded through native frames, see spec.md §9's
// GC-visibility requirement) so the endfinally that ends each finally's
// execution can resume exactly the search that was interrupted to enter
// it, however many finallys deep that search has gone.
type finallyUnwind struct {
	isLeave bool

	err      error // non-nil when propagating a thrown error
	errValue Value // the thrown value itself, kept reachable for the GC root walker

	fromOffset uint32 // ip (leave) or throw site (error) the search started from
	target     int    // leave's final destination; meaningless for an error
	nextIdx    int    // body.tryBlocks index to resume scanning from
}

// scanTryBlocks returns the first try block at or after index start whose
// protected range contains offset, and its index, so a resumed scan (from
// an endfinally) can continue exactly where the previous one stopped
// rather than re-matching blocks already handled.
func scanTryBlocks(body *emittedBody, offset uint32, start int) (*TryBlock, int, bool) {
	for i := start; i < len(body.tryBlocks); i++ {
		if body.tryBlocks[i].Contains(offset) {
			return body.tryBlocks[i], i, true
		}
	}
	return nil, 0, false
}

// dispatchThrow looks for the next try block (starting at index start,
// matching spec.md §4.9's "first match wins" rule) enclosing offset. A
// matching catch empties the frame's eval stack, pushes the caught value
// (leaving height 1), and remembers it for `rethrow`. A matching finally
// empties the stack, pushes a finallyUnwind recording where to resume
// the search, and hands control to the finally's handler. Reports false
// if no enclosing try block is left, meaning thrown propagates out of the
// method uncaught.
func (t *Thread) dispatchThrow(frame *StackFrame, body *emittedBody, offset uint32, start int, thrown error) (int, bool) {
	errVal, isManaged := thrown.(interface{ Value() Value })
	for {
		tb, idx, ok := scanTryBlocks(body, offset, start)
		if !ok {
			return 0, false
		}
		switch tb.Kind {
		case TryBlockCatch:
			var v Value
			if tb.CatchType != nil {
				if !isManaged {
					start = idx + 1
					continue
				}
				v = errVal.Value()
				if v.Type == nil || !v.Type.IsSubtypeOf(tb.CatchType) {
					start = idx + 1
					continue
				}
			} else if isManaged {
				v = errVal.Value()
			}
			frame.ResetTo(0)
			frame.Push(v)
			t.caught = append(t.caught, v)
			return int(tb.HandlerOffset), true
		case TryBlockFinally:
			var v Value
			if isManaged {
				v = errVal.Value()
			}
			frame.ResetTo(0)
			t.unwinds = append(t.unwinds, finallyUnwind{
				err: thrown, errValue: v, fromOffset: offset, nextIdx: idx + 1,
			})
			return int(tb.HandlerOffset), true
		}
	}
}

// dispatchLeave looks for the next finally block (starting at index
// start) whose protected range encloses fromOffset but not target: one
// the leave is actually unwinding out of. A finally whose range also
// contains target has not been exited and must not run. Reports false
// once no further enclosing finally remains, meaning control may jump
// straight to target.
//
// Unlike a thrown error's finally entry, a leave's finally entry does not
// reset the eval stack: leave only ever fires at a statement boundary, so
// the stack is already at the height the enclosing method expects. It
// does push a Null marker on top, recording that a finally-for-leave is
// in progress; the matching endfinally discards exactly that marker with
// frame.Shift(0), leaving anything below (whatever the enclosing method
// had already pushed) untouched.
func (t *Thread) dispatchLeave(frame *StackFrame, fromOffset uint32, start int, target int, body *emittedBody) (int, bool) {
	for i := start; i < len(body.tryBlocks); i++ {
		tb := body.tryBlocks[i]
		if tb.Kind != TryBlockFinally {
			continue
		}
		if !tb.Contains(fromOffset) || tb.Contains(uint32(target)) {
			continue
		}
		frame.Push(Null)
		t.unwinds = append(t.unwinds, finallyUnwind{
			isLeave: true, fromOffset: fromOffset, nextIdx: i + 1, target: target,
		})
		return int(tb.HandlerOffset), true
	}
	return 0, false
}

// managedError lets a thrown Go error carry the original Value pushed by
// a `throw` instruction, so dispatchThrow can match it against a catch
// block's declared type.
type managedError struct {
	v     Value
	trace []traceEntry
}

func (e *managedError) Error() string { return "vm: unhandled managed error" }
func (e *managedError) Value() Value  { return e.v }

// traceEntry is one frame of a StackTraceFormatter-ready call chain.
// execOne's throw and rethrow cases leave managedError.trace empty;
// nothing in this package fills it.
type traceEntry struct {
	Method *MethodOverload
	Offset uint32
}

// execOne dispatches exactly one instruction at buf[ip] against frame,
// returning the next instruction pointer (when execution falls through
// normally) or an unwind signal plus its payload.
func (t *Thread) execOne(frame *StackFrame, buf []byte, ip int, op opcode) (nextIP int, signal unwindSignal, result Value, thrown error) {
	pos := ip + 1
	readU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[pos:])
		pos += 4
		return v
	}
	readU16 := func() uint16 {
		v := binary.LittleEndian.Uint16(buf[pos:])
		pos += 2
		return v
	}
	readU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(buf[pos:])
		pos += 8
		return v
	}
	readByte := func() byte {
		v := buf[pos]
		pos++
		return v
	}

	switch op {
	case opcodeNop:
		// no-op
	case opcodeLoadLocal:
		slot := readU32()
		frame.Push(frame.Locals[slot])
	case opcodeStoreLocal:
		slot := readU32()
		frame.Locals[slot] = frame.Pop()
	case opcodeMoveLocal:
		from := readU32()
		to := readU32()
		frame.Locals[to] = frame.Locals[from]
	case opcodeLoadLocalRef:
		slot := readU32()
		frame.Push(RefTo(KindLocalRef, &frame.Locals[slot]))
	case opcodeStoreLocalRef:
		slot := readU32()
		ref := frame.Pop()
		frame.Locals[slot] = *ref.Deref()
	case opcodeLoadFromRef:
		ref := frame.Pop()
		if ref.Lock != nil {
			ref.Lock.Lock()
			v := *ref.Deref()
			ref.Lock.Unlock()
			frame.Push(v)
		} else {
			frame.Push(*ref.Deref())
		}
	case opcodeStoreToRef:
		val := frame.Pop()
		ref := frame.Pop()
		if ref.Lock != nil {
			ref.Lock.Lock()
			*ref.Deref() = val
			ref.Lock.Unlock()
		} else {
			*ref.Deref() = val
		}
	case opcodeDup:
		frame.Push(frame.Peek(0))
	case opcodeLoadNull:
		frame.Push(Null)
	case opcodeLoadBool:
		frame.Push(NewBool(t.vm.types.Bool, readByte() != 0))
	case opcodeLoadInt:
		frame.Push(NewInt(t.vm.types.Int, int64(readU64())))
	case opcodeLoadUInt:
		frame.Push(NewUInt(t.vm.types.UInt, readU64()))
	case opcodeLoadReal:
		frame.Push(Value{Kind: KindPrimitive, Type: t.vm.types.Real, Raw: readU64()})
	case opcodeLoadString:
		id := readU32()
		frame.Push(t.vm.strings.Get(id))
	case opcodeLoadArgCount:
		frame.Push(NewInt(t.vm.types.Int, int64(len(frame.Args))))
	case opcodeLoadField, opcodeStoreField, opcodeLoadFieldRef,
		opcodeLoadStaticField, opcodeStoreStaticField, opcodeLoadStaticFieldRef,
		opcodeLoadMember, opcodeStoreMember, opcodeLoadMemberRef,
		opcodeLoadIndex, opcodeStoreIndex,
		opcodeCall, opcodeCallMember, opcodeStaticCall, opcodeApply, opcodeStaticApply, opcodeNewObject,
		opcodeOperator, opcodeUnaryOperator, opcodeCompareEq, opcodeCompare, opcodeConcat:
		// These dispatch through the host's type/member/operator tables
		// (module.go's Type/Field/Member contracts); the host VM fills
		// in its dispatch function pointers at construction (see
		// vm.go's VM.dispatch), since the concrete object layout and
		// operator tables are module-loader concerns out of this core's
		// scope (spec.md §1).
		nextIP, signal, result, thrown = t.vm.dispatch.Exec(t, frame, op, buf, &pos)
		return nextIP, signal, result, thrown
	case opcodeBranch:
		off := int32(readU32())
		return pos + int(off), unwindNone, Value{}, nil
	case opcodeBranchIfNull:
		off := int32(readU32())
		if frame.Pop().IsNull() {
			return pos + int(off), unwindNone, Value{}, nil
		}
	case opcodeBranchIfNotNull:
		off := int32(readU32())
		if !frame.Pop().IsNull() {
			return pos + int(off), unwindNone, Value{}, nil
		}
	case opcodeBranchIfFalse:
		off := int32(readU32())
		if !frame.Pop().IsTrue() {
			return pos + int(off), unwindNone, Value{}, nil
		}
	case opcodeBranchIfTrue:
		off := int32(readU32())
		if frame.Pop().IsTrue() {
			return pos + int(off), unwindNone, Value{}, nil
		}
	case opcodeBranchCompare:
		flag := readByte()
		off := int32(readU32())
		cmpOp := CompareOp(flag &^ 0x80)
		invert := flag&0x80 != 0
		rhs := frame.Pop()
		lhs := frame.Pop()
		holds := t.vm.dispatch.Compare(lhs, rhs, cmpOp)
		if holds == invert {
			// fallthrough, no branch
		} else {
			return pos + int(off), unwindNone, Value{}, nil
		}
	case opcodeSwitch:
		count := readU32()
		// table entries are 4-byte aligned relative to the method body
		for pos%4 != 0 {
			pos++
		}
		idx := frame.Pop().Int()
		if idx >= 0 && uint32(idx) < count {
			entryPos := pos + int(idx)*4
			off := int32(binary.LittleEndian.Uint32(buf[entryPos:]))
			return pos + int(count)*4 + int(off), unwindNone, Value{}, nil
		}
		pos += int(count) * 4
	case opcodeLeave:
		// The target is only a candidate here; run() consults the
		// try-block table before actually jumping, since one or more
		// enclosing finally clauses may lie between ip and target.
		off := int32(readU32())
		return pos + int(off), unwindLeave, Value{}, nil
	case opcodeEndFinally:
		return pos, unwindEndFinally, Value{}, nil
	case opcodeReturn:
		return pos, unwindReturn, frame.Pop(), nil
	case opcodeReturnNull:
		return pos, unwindReturn, Null, nil
	case opcodeThrow:
		v := frame.Pop()
		return pos, unwindThrow, Value{}, &managedError{v: v}
	case opcodeRethrow:
		var v Value
		if n := len(t.caught); n > 0 {
			v = t.caught[n-1]
			t.caught = t.caught[:n-1]
		}
		return pos, unwindThrow, Value{}, &managedError{v: v}
	default:
		return pos, unwindThrow, Value{}, fmt.Errorf("vm: unknown opcode 0x%02x at offset %d", byte(op), ip)
	}
	return pos, unwindNone, Value{}, nil
}
