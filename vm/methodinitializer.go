package vm

// MethodInitializer turns a method's freshly parsed intermediate stream
// into an executable one: it computes the stack height preceding every
// instruction (rejecting methods whose stack shape is inconsistent along
// any two paths reaching the same instruction), applies the peephole
// folds that remove now-redundant instructions, and emits the final
// byte stream a StackFrame can execute. Mirrors ee/methodinitializer.h's
// MethodInitializer.
type MethodInitializer struct {
	resolver TokenResolver
	refSigPool *RefSignaturePool
}

func NewMethodInitializer(resolver TokenResolver, pool *RefSignaturePool) *MethodInitializer {
	return &MethodInitializer{resolver: resolver, refSigPool: pool}
}

// Initialize parses, analyzes, folds and emits method's body, installing
// the result as method's emittedBody. Safe to call concurrently on
// distinct methods; callers are responsible for serializing concurrent
// initialization of the *same* method (MethodOverload.EnsureInitialized
// does this with a sync.Once-style gate).
func (mi *MethodInitializer) Initialize(method *MethodOverload) error {
	builder := NewMethodBuilder()
	if err := ParseInto(method, builder, mi.resolver, mi.refSigPool); err != nil {
		return err
	}

	stack := newSymbolicStack(mi.refSigPool)
	if err := mi.calculateStackHeights(method, builder, stack); err != nil {
		return err
	}

	mi.foldPeephole(builder)

	buf, maxStack, callSites, err := mi.writeInitializedBody(method, builder)
	if err != nil {
		return err
	}

	tryBlocks, err := mi.finalizeTryBlockOffsets(method, builder, builder.ComputeOffsets(), uint32(len(buf)))
	if err != nil {
		return err
	}
	method.installBody(&emittedBody{buffer: buf, maxStack: maxStack, tryBlocks: tryBlocks, callSites: callSites})
	return nil
}

// calculateStackHeights is the analyzer driver: a worklist of
// (builder-index, stack-shape) pairs seeded from the method entry point
// and every try/catch/finally handler entry, walked until no instruction
// is left unvisited. EnqueueInitialBranches seeds the worklist;
// VerifyStackHeight re-checks consistency whenever two paths reach the
// same instruction.
func (mi *MethodInitializer) calculateStackHeights(method *MethodOverload, builder *MethodBuilder, stack StackManager) error {
	if err := mi.enqueueInitialBranches(method, builder, stack); err != nil {
		return err
	}

	for {
		index := stack.DequeueBranch()
		if index == noBranch {
			return nil
		}
		if err := mi.walkFrom(method, builder, stack, index); err != nil {
			return err
		}
	}
}

// enqueueInitialBranches seeds the worklist with the method's entry point
// (stack height 0) and every try block's handler entry: catch handlers
// start with exactly one value (the active error) on the stack, finally
// handlers start with zero.
func (mi *MethodInitializer) enqueueInitialBranches(method *MethodOverload, builder *MethodBuilder, stack StackManager) error {
	if builder.Len() > 0 {
		stack.EnqueueBranchWithHeight(0, 0)
	}
	for _, tb := range method.TryBlocks {
		idx, ok := builder.FindIndex(tb.HandlerOffset)
		if !ok {
			return newInitError(InitErrorInvalidBranchOffset, method, tb.HandlerOffset, "try block handler target does not begin an instruction")
		}
		switch tb.Kind {
		case TryBlockCatch:
			stack.EnqueueBranchWithHeight(1, idx)
		case TryBlockFinally:
			stack.EnqueueBranchWithHeight(0, idx)
		}
	}
	return nil
}

// walkFrom simulates straight-line execution starting at index (with
// stack already restored to the shape recorded for this branch),
// following every branch target it meets by enqueuing it, and stopping
// at the first instruction it has already visited with a matching
// height, a terminal instruction (return/throw/leave/unconditional
// branch), or the end of the method.
func (mi *MethodInitializer) walkFrom(method *MethodOverload, builder *MethodBuilder, stack StackManager, index int) error {
	for index < builder.Len() {
		height := stack.GetStackHeight()
		if recorded := builder.GetStackHeight(index); recorded != unvisitedStackHeight {
			if err := mi.verifyStackHeight(method, builder, recorded, height, index); err != nil {
				return err
			}
			return nil // already walked from here onward
		}
		builder.SetStackHeight(index, height)

		instr := builder.Get(index)
		flags := instr.Flags()

		if flags.Has(FlagAcceptsRefs) {
			// Reference-accepting instructions record the ref
			// signature of the operands they are about to consume,
			// for the interpreter to validate against the callee's
			// declared signature at dispatch time.
			builder.SetRefSignature(index, stack.GetRefSignature(int(instr.StackChange().Removed)))
		}

		pushRef := flags.Has(FlagPushesRef)
		if !stack.ApplyStackChange(instr.StackChange(), pushRef) {
			return newInitError(InitErrorInsufficientStackHeight, method, builder.OriginalOffset(index), "")
		}

		switch b := instr.(type) {
		case *Branch:
			target, err := mi.resolveTarget(method, builder, index, b.Target)
			if err != nil {
				return err
			}
			stack.EnqueueBranch(target)
			return nil // unconditional: no fall-through
		case *CondBranch:
			target, err := mi.resolveTarget(method, builder, index, b.Target)
			if err != nil {
				return err
			}
			stack.EnqueueBranch(target)
		case *BranchCompare:
			target, err := mi.resolveTarget(method, builder, index, b.Target)
			if err != nil {
				return err
			}
			stack.EnqueueBranch(target)
		case *Switch:
			for _, t := range b.Targets {
				target, err := mi.resolveTarget(method, builder, index, t)
				if err != nil {
					return err
				}
				stack.EnqueueBranch(target)
			}
		case *Leave:
			target, err := mi.resolveTarget(method, builder, index, b.Target)
			if err != nil {
				return err
			}
			stack.EnqueueBranch(target)
			return nil
		case *Return, *ReturnNull, *Throw, *Rethrow, *EndFinally:
			return nil
		}

		index++
	}
	return nil
}

// resolveTarget translates a branch's relative JumpTarget, expressed
// relative to the end of the branch instruction itself (the usual
// bytecode convention: offset 0 means "fall through"), into a builder
// index.
func (mi *MethodInitializer) resolveTarget(method *MethodOverload, builder *MethodBuilder, fromIndex int, target JumpTarget) (int, error) {
	base := int64(builder.OriginalOffset(fromIndex)) + int64(builder.OriginalSize(fromIndex))
	absolute := uint32(base + int64(target.Offset))
	idx, ok := builder.FindIndex(absolute)
	if !ok {
		return 0, newInitError(InitErrorInvalidBranchOffset, method, absolute, "branch target does not begin an instruction")
	}
	return idx, nil
}

func (mi *MethodInitializer) verifyStackHeight(method *MethodOverload, builder *MethodBuilder, recorded, actual, index int) error {
	if recorded != actual {
		return newInitError(InitErrorInconsistentStack, method, builder.OriginalOffset(index), "")
	}
	return nil
}

// foldPeephole applies the four local peephole folds to builder in a
// single forward pass: store-fold, dup+store-local fusion and load-fold
// each look one instruction back from a StoreLocal; compare+branch fusion
// looks one instruction back from a conditional branch. Each fold is independently named and
// testable (SPEC_FULL.md supplement #3).
func (mi *MethodInitializer) foldPeephole(builder *MethodBuilder) {
	for i := 1; i < builder.Len(); i++ {
		if builder.IsMarkedForRemoval(i) {
			continue
		}
		if mi.tryUpdateConditionalBranch(builder, i) {
			continue
		}
		if mi.tryFoldDupStoreLocal(builder, i) {
			continue
		}
		if mi.tryFoldLoadStoreMove(builder, i) {
			continue
		}
		mi.tryUpdateInputOutput(builder, i)
	}
}

// tryUpdateInputOutput is the store-fold: a producer with HAS_OUTPUT
// immediately followed, with no incoming branch at the store, by a plain
// (non-ref) StoreLocal consuming exactly its one produced value folds
// into a single builder entry that emits the producer and the store back
// to back; at run time the value is still pushed and then popped into the
// slot.
func (mi *MethodInitializer) tryUpdateInputOutput(builder *MethodBuilder, index int) bool {
	store, ok := builder.Get(index).(*StoreLocal)
	if !ok {
		return false
	}
	if builder.Get(index).Flags().Has(FlagHasIncomingBranches) {
		return false
	}
	prevIdx := index - 1
	prev := builder.Get(prevIdx)
	if builder.IsMarkedForRemoval(prevIdx) {
		return false
	}
	if !prev.Flags().Has(FlagHasOutput) || prev.StackChange().Added != 1 {
		return false
	}
	if prev.Flags().Has(FlagBranch) || prev.Flags().Has(FlagSwitch) {
		// Folding across a branch instruction would change control
		// flow; never eligible.
		return false
	}
	builder.SetInstruction(index, &storeFoldedInstr{producer: prev, slot: store.Slot}, true)
	return true
}

// tryFoldDupStoreLocal fuses an exact Dup immediately followed by a
// StoreLocal (with no incoming branch into the store) into one
// DupStoreLocal instruction.
func (mi *MethodInitializer) tryFoldDupStoreLocal(builder *MethodBuilder, index int) bool {
	store, ok := builder.Get(index).(*StoreLocal)
	if !ok || store.Flags().Has(FlagHasIncomingBranches) {
		return false
	}
	prevIdx := index - 1
	if builder.IsMarkedForRemoval(prevIdx) {
		return false
	}
	if _, ok := builder.Get(prevIdx).(*Dup); !ok {
		return false
	}
	builder.SetInstruction(index, NewDupStoreLocal(store.Slot), true)
	return true
}

// tryFoldLoadStoreMove folds a plain LoadLocal immediately followed by a
// StoreLocal (no incoming branch at the store) into one MoveLocal,
// avoiding the intervening stack round-trip.
func (mi *MethodInitializer) tryFoldLoadStoreMove(builder *MethodBuilder, index int) bool {
	store, ok := builder.Get(index).(*StoreLocal)
	if !ok || store.Flags().Has(FlagHasIncomingBranches) {
		return false
	}
	prevIdx := index - 1
	if builder.IsMarkedForRemoval(prevIdx) {
		return false
	}
	load, ok := builder.Get(prevIdx).(*LoadLocal)
	if !ok {
		return false
	}
	builder.SetInstruction(index, NewMoveLocal(load.Slot, store.Slot), true)
	return true
}

// tryUpdateConditionalBranch is the compare+branch fusion: an eq/cmp
// instruction immediately followed by a conditional branch that consumes
// exactly its boolean result, with no incoming branch at the branch
// instruction, collapses into one BranchCompare.
func (mi *MethodInitializer) tryUpdateConditionalBranch(builder *MethodBuilder, index int) bool {
	cond, ok := builder.Get(index).(*CondBranch)
	if !ok || cond.Flags().Has(FlagHasIncomingBranches) {
		return false
	}
	if cond.Kind != condIfFalse && cond.Kind != condIfTrue {
		return false
	}
	prevIdx := index - 1
	if builder.IsMarkedForRemoval(prevIdx) {
		return false
	}
	prev := builder.Get(prevIdx)
	if !IsBranchComparisonOperator(prev.Opcode()) {
		return false
	}

	var op CompareOp
	switch p := prev.(type) {
	case *Eq:
		op = CompareEqual
	case *Compare:
		op = p.Op
	default:
		return false
	}

	invert := cond.Kind == condIfFalse
	builder.SetInstruction(index, NewBranchCompare(op, invert, cond.Target), true)
	return true
}

// storeFoldedInstr wraps a value-producing instruction so that, once
// emitted, it is immediately followed by a store into slot: the pop/push
// the unfolded [producer, StoreLocal] pair performed collapses into one
// logical step at the emitted-stream level, though it still costs two
// opcode dispatches at run time (the interpreter still executes producer
// then a store). The saving is entirely in instruction count and the
// analyzer's bookkeeping, not dispatch count; a real bytecode-to-bytecode
// peephole pass over a register machine could do better, but the
// underlying producer shapes here vary too much to special-case further.
type storeFoldedInstr struct {
	producer Instruction
	slot     LocalOffset
}

func (s *storeFoldedInstr) Opcode() IntermediateOpcode { return s.producer.Opcode() }
func (s *storeFoldedInstr) Flags() InstrFlags {
	return (s.producer.Flags() &^ FlagHasOutput) | FlagStoreLocal
}
func (s *storeFoldedInstr) ArgsSize() int { return s.producer.ArgsSize() + 5 }
func (s *storeFoldedInstr) StackChange() StackChange {
	sc := s.producer.StackChange()
	return StackChange{Removed: sc.Removed, Added: 0}
}
func (s *storeFoldedInstr) Emit(buf *MethodBuffer) {
	s.producer.Emit(buf)
	buf.WriteByte(byte(opcodeStoreLocal))
	buf.WriteUint32(uint32(s.slot))
}

// writeInitializedBody performs the final removal compaction, patches
// every resolved-call-site index (Call/StaticCall/Apply/StaticApply/
// NewObject) now that the builder is frozen, and translates every branch
// target from a builder index back to a final relative byte offset. It
// returns the emitted stream and one more than the highest stack height
// the analyzer recorded, which StackFrame uses to size its eval stack
// slice.
func (mi *MethodInitializer) writeInitializedBody(method *MethodOverload, builder *MethodBuilder) ([]byte, int, []callSite, error) {
	maxStack := 0
	for i := 0; i < builder.Len(); i++ {
		if h := builder.GetStackHeight(i); h > maxStack {
			maxStack = h
		}
	}

	callSites := mi.resolveCallSites(builder)
	mi.relinkBranchTargets(builder)

	offsets := builder.ComputeOffsets()
	mi.patchFinalOffsets(builder, offsets)

	buf := builder.PerformRemovals()
	return buf, maxStack + 1, callSites, nil
}

// patchFinalOffsets converts every branch-carrying instruction's
// index-form JumpTarget into the relative byte offset it must encode in
// the emitted stream, now that every surviving instruction's final
// position is known.
func (mi *MethodInitializer) patchFinalOffsets(builder *MethodBuilder, offsets []uint32) {
	relativeFrom := func(fromIndex, toIndex int) int32 {
		fromEnd := int64(offsets[fromIndex]) + int64(1+builder.Get(fromIndex).ArgsSize())
		return int32(int64(offsets[toIndex]) - fromEnd)
	}
	for i := 0; i < builder.Len(); i++ {
		switch b := builder.Get(i).(type) {
		case *Branch:
			b.Target = JumpFromOffset(relativeFrom(i, b.Target.Index))
		case *CondBranch:
			b.Target = JumpFromOffset(relativeFrom(i, b.Target.Index))
		case *BranchCompare:
			b.Target = JumpFromOffset(relativeFrom(i, b.Target.Index))
		case *Leave:
			b.Target = JumpFromOffset(relativeFrom(i, b.Target.Index))
		case *Switch:
			for j, t := range b.Targets {
				b.Targets[j] = JumpFromOffset(relativeFrom(i, t.Index))
			}
		}
	}
}

// resolveCallSites assigns every statically- or member-resolved call-like
// instruction a stable index into the method's call-site table and
// returns that table; the interpreter recovers the actual target
// (overload, member, or type) at dispatch time by indexing into it with
// the resolvedIndex the emitted instruction carries, rather than
// re-encoding a pointer-sized operand into the byte stream. Resolution
// of the target itself already happened at parse time
// (MethodParser's calls to TokenResolver.MethodOverloadFromToken and
// friends); this pass only assigns the dense index each instruction's
// Emit will encode.
func (mi *MethodInitializer) resolveCallSites(builder *MethodBuilder) []callSite {
	var sites []callSite
	add := func(site callSite) uint32 {
		idx := uint32(len(sites))
		sites = append(sites, site)
		return idx
	}
	for i := 0; i < builder.Len(); i++ {
		switch instr := builder.Get(i).(type) {
		case *Call:
			instr.SetResolvedIndex(add(callSite{Overload: instr.Overload}))
		case *StaticCall:
			instr.SetResolvedIndex(add(callSite{Overload: instr.Overload}))
		case *Apply:
			instr.SetResolvedIndex(add(callSite{Member: instr.Member}))
		case *StaticApply:
			instr.SetResolvedIndex(add(callSite{Member: instr.Member}))
		case *NewObject:
			instr.SetResolvedIndex(add(callSite{Type: instr.Type}))
		}
	}
	return sites
}

// relinkBranchTargets rewrites every branch-carrying instruction's
// JumpTarget from an original-stream offset to the builder index it
// resolves to, so PerformRemovals's final offset translation (which
// operates on indices) can compute the correct relative byte offset even
// though removed instructions shifted everything after them.
func (mi *MethodInitializer) relinkBranchTargets(builder *MethodBuilder) {
	for i := 0; i < builder.Len(); i++ {
		switch b := builder.Get(i).(type) {
		case *Branch:
			b.Target = mi.toIndexTarget(builder, i, b.Target)
		case *CondBranch:
			b.Target = mi.toIndexTarget(builder, i, b.Target)
		case *BranchCompare:
			b.Target = mi.toIndexTarget(builder, i, b.Target)
		case *Leave:
			b.Target = mi.toIndexTarget(builder, i, b.Target)
		case *Switch:
			for j := range b.Targets {
				b.Targets[j] = mi.toIndexTarget(builder, i, b.Targets[j])
			}
		}
	}
}

func (mi *MethodInitializer) toIndexTarget(builder *MethodBuilder, fromIndex int, target JumpTarget) JumpTarget {
	if target.UseIdx {
		return target
	}
	base := int64(builder.OriginalOffset(fromIndex)) + int64(builder.OriginalSize(fromIndex))
	absolute := uint32(base + int64(target.Offset))
	idx, ok := builder.FindIndex(absolute)
	if !ok {
		return target
	}
	return JumpFromIndex(idx)
}

// finalizeTryBlockOffsets translates each try block's original-stream
// offsets into offsets within the final emitted stream, walking the same
// builder-index pipeline patchFinalOffsets uses for branch targets: a
// peephole fold anywhere before or inside a protected region shifts every
// subsequent final offset away from its original-stream position, so
// StartOffset, EndOffset, and HandlerOffset must each be translated, not
// merely copied. offsets is the per-builder-index final byte offset table
// ComputeOffsets produced; finalLen is the length of the fully emitted
// stream, needed for the one offset a builder index can never name: a try
// block's EndOffset sitting exactly at the method's closing boundary.
func (mi *MethodInitializer) finalizeTryBlockOffsets(method *MethodOverload, builder *MethodBuilder, offsets []uint32, finalLen uint32) ([]*TryBlock, error) {
	translate := func(original uint32) (uint32, error) {
		if original == builder.StreamLength() {
			return finalLen, nil
		}
		idx, ok := builder.FindIndex(original)
		if !ok {
			return 0, newInitError(InitErrorInvalidBranchOffset, method, original, "try block offset does not begin an instruction")
		}
		return offsets[idx], nil
	}

	out := make([]*TryBlock, len(method.TryBlocks))
	for i, tb := range method.TryBlocks {
		start, err := translate(tb.StartOffset)
		if err != nil {
			return nil, err
		}
		end, err := translate(tb.EndOffset)
		if err != nil {
			return nil, err
		}
		handler, err := translate(tb.HandlerOffset)
		if err != nil {
			return nil, err
		}
		out[i] = &TryBlock{
			Kind:          tb.Kind,
			StartOffset:   start,
			EndOffset:     end,
			HandlerOffset: handler,
			CatchType:     tb.CatchType,
		}
	}
	return out, nil
}

// finalizeDebugSymbolOffsets is a no-op in this port: DebugSymbols.LineAt
// looks up the nearest offset not exceeding a given point and is
// consulted using original-stream offsets (StackTraceFormatter looks up
// StackFrame.PrevInstr, an original-stream offset, not a final emitted
// one), so no translation table needs to be built here.
func (mi *MethodInitializer) finalizeDebugSymbolOffsets(method *MethodOverload) {}
