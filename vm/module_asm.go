package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Module is a minimal, in-memory TokenResolver: a flat set of
// name-indexed type/field/member/string tables an embedder (or a test)
// populates directly instead of loading from a module file, since a real
// module format is a module-loader concern out of this core's scope
// (spec.md §1). Assembler resolves every name reference in an assembly
// source string against one of these tables at assemble time, so by the
// time MethodParser runs, every operand is already a dense token index
// into one of Module's slices.
type Module struct {
	pool *StringPool

	types   []*Type
	typeIdx map[string]uint32

	fields   []*Field
	fieldIdx map[string]uint32

	members   []*Member
	memberIdx map[string]uint32

	consts []string
}

// NewModule creates an empty Module whose interned string constants
// resolve through pool (typically a VM's Strings()).
func NewModule(pool *StringPool) *Module {
	return &Module{
		pool:      pool,
		typeIdx:   make(map[string]uint32),
		fieldIdx:  make(map[string]uint32),
		memberIdx: make(map[string]uint32),
	}
}

// RegisterType adds t, addressable in assembly source by t.Name.
func (m *Module) RegisterType(t *Type) {
	m.typeIdx[t.Name] = uint32(len(m.types))
	m.types = append(m.types, t)
}

// RegisterField adds f, addressable in assembly source by f.Name. Field
// names must be unique within a Module; a real module's fields would be
// additionally qualified by declaring type, which this flat table
// deliberately does not model.
func (m *Module) RegisterField(f *Field) {
	m.fieldIdx[f.Name] = uint32(len(m.fields))
	m.fields = append(m.fields, f)
}

// RegisterMember adds mem, addressable in assembly source by mem.Name.
func (m *Module) RegisterMember(mem *Member) {
	m.memberIdx[mem.Name] = uint32(len(m.members))
	m.members = append(m.members, mem)
}

func (m *Module) typeToken(name string) (uint32, error) {
	idx, ok := m.typeIdx[name]
	if !ok {
		return 0, fmt.Errorf("vm: unknown type %q", name)
	}
	return idx, nil
}

// typeNamed resolves name directly to the registered *Type, for assembly
// directives (like .catch) that need the Type itself rather than a token
// index into an emitted operand.
func (m *Module) typeNamed(name string) (*Type, error) {
	idx, ok := m.typeIdx[name]
	if !ok {
		return nil, fmt.Errorf("vm: unknown type %q", name)
	}
	return m.types[idx], nil
}

func (m *Module) fieldToken(name string) (uint32, error) {
	idx, ok := m.fieldIdx[name]
	if !ok {
		return 0, fmt.Errorf("vm: unknown field %q", name)
	}
	return idx, nil
}

func (m *Module) memberToken(name string) (uint32, error) {
	idx, ok := m.memberIdx[name]
	if !ok {
		return 0, fmt.Errorf("vm: unknown member %q", name)
	}
	return idx, nil
}

// internString returns the constant-pool index for s, adding it if this
// is the first time Module has seen it.
func (m *Module) internString(s string) uint32 {
	for i, existing := range m.consts {
		if existing == s {
			return uint32(i)
		}
	}
	m.consts = append(m.consts, s)
	return uint32(len(m.consts) - 1)
}

func (m *Module) TypeFromToken(token uint32) (*Type, error) {
	if int(token) >= len(m.types) {
		return nil, fmt.Errorf("vm: type token %d out of range", token)
	}
	return m.types[token], nil
}

func (m *Module) StringFromToken(token uint32) (uint32, error) {
	if int(token) >= len(m.consts) {
		return 0, fmt.Errorf("vm: string token %d out of range", token)
	}
	return m.pool.Intern(m.consts[token]), nil
}

func (m *Module) MethodFromToken(token uint32) (*Member, error) {
	if int(token) >= len(m.members) {
		return nil, fmt.Errorf("vm: method token %d out of range", token)
	}
	return m.members[token], nil
}

func (m *Module) MethodOverloadFromToken(token uint32, argCount int) (*MethodOverload, error) {
	member, err := m.MethodFromToken(token)
	if err != nil {
		return nil, err
	}
	ov := resolveOverload(member, argCount)
	if ov == nil {
		return nil, fmt.Errorf("vm: no overload of %q accepts %d arguments", member.Name, argCount)
	}
	return ov, nil
}

func (m *Module) FieldFromToken(token uint32, shouldBeStatic bool) (*Field, error) {
	if int(token) >= len(m.fields) {
		return nil, fmt.Errorf("vm: field token %d out of range", token)
	}
	f := m.fields[token]
	if f.Static != shouldBeStatic {
		return nil, fmt.Errorf("vm: field %q staticness mismatch (static=%v, wanted %v)", f.Name, f.Static, shouldBeStatic)
	}
	return f, nil
}

func (m *Module) EnsureConstructible(t *Type, argCount int) error {
	if t.Constructor == nil {
		return fmt.Errorf("vm: type %s has no constructor", t.Name)
	}
	if t.Constructor.ArgCount != argCount && !(t.Constructor.IsVariadic && argCount >= t.Constructor.ArgCount) {
		return fmt.Errorf("vm: type %s constructor does not accept %d arguments", t.Name, argCount)
	}
	return nil
}

// commentPattern strips a trailing `# ...` comment from an assembly
// source line, the same comment-stripping step the teacher's
// preprocessLine applies before tokenizing.
var commentPattern = regexp.MustCompile(`#.*$`)

var escapeSeqReplacements = map[string]string{
	`\n`: "\n",
	`\t`: "\t",
	`\\`: `\`,
	`\"`: `"`,
}

func unescapeString(s string) string {
	for orig, repl := range escapeSeqReplacements {
		s = strings.ReplaceAll(s, orig, repl)
	}
	return s
}

// mnemonicArgBytes is the fixed operand width, in bytes, every mnemonic
// but "switch" writes into the source stream (the opcode byte itself is
// not counted, matching MethodOverload.SourceBody's own convention).
// switch's width depends on its declared table length and is computed
// separately in sizeOf.
var mnemonicArgBytes = map[string]int{
	"nop": 0,
	"ldloc": 4, "stloc": 4, "ldlocref": 4, "stlocref": 4,
	"ldfromref": 0, "storetoref": 0, "dup": 0,
	"ldnull": 0, "ldfalse": 0, "ldtrue": 0,
	"ldint": 8, "lduint": 8, "ldreal": 8, "ldstr": 4, "ldargc": 0,
	"ldfld": 4, "stfld": 4, "ldfldref": 4,
	"ldsfld": 4, "stsfld": 4, "ldsfldref": 4,
	"ldmem": 0, "stmem": 0, "ldmemref": 0,
	"ldidx": 2, "stidx": 2,
	"br": 4, "brnull": 4, "brnotnull": 4, "brfalse": 4, "brtrue": 4,
	"eq": 0, "cmplt": 0, "cmple": 0, "cmpgt": 0, "cmpge": 0,
	"leave": 4, "endfinally": 0, "ret": 0, "retnull": 0, "throw": 0, "rethrow": 0,
	"call": 6, "callmember": 2, "scall": 6, "apply": 4, "sapply": 4, "newobj": 6,
	"add": 1, "sub": 1, "mul": 1, "div": 1, "mod": 1,
	"and": 1, "or": 1, "xor": 1, "shl": 1, "shr": 1,
	"neg": 1, "pos": 1, "not": 1, "bnot": 1,
	"concat": 2,
}

// asmInstr is one decoded assembly-source line: its mnemonic, raw
// textual operands, and the byte offset and size it occupies in the
// assembled source stream. The offset/size are known before any label
// reference is resolved, since every operand shape but switch's jump
// table has a size independent of what it names.
type asmInstr struct {
	mnemonic string
	args     []string
	offset   uint32
	size     int
}

// Assembler turns a line-oriented text bytecode syntax into a
// MethodOverload's SourceBody, resolving named field/type/member
// references against a Module and label references into relative byte
// offsets — the same two-stage job the teacher's compile.go/parse.go do
// for its own flat mnemonic syntax (strip comments and labels first,
// then encode each line), adapted here to a richer, token-addressed
// instruction set.
type Assembler struct {
	module *Module
}

func NewAssembler(module *Module) *Assembler { return &Assembler{module: module} }

// Assemble parses src (one instruction or `label:` per line, `#` starts
// a line comment) into a byte stream suitable for MethodOverload.SourceBody.
// A source using .try/.catch/.finally/.endtry directives assembles fine
// through this entry point too, but its try blocks are discarded; callers
// that need them should use AssembleWithTryBlocks instead.
func (a *Assembler) Assemble(src string) ([]byte, error) {
	body, _, err := a.AssembleWithTryBlocks(src)
	return body, err
}

// AssembleWithTryBlocks is Assemble plus the method's try-block table,
// built from any .try/.catch/.finally/.endtry directives in src. The
// offsets recorded are positions in the assembled source stream, exactly
// the space MethodOverload.TryBlocks is declared in; MethodInitializer
// translates them into final emitted-stream offsets at Initialize time.
func (a *Assembler) AssembleWithTryBlocks(src string) ([]byte, []*TryBlock, error) {
	lines, labels, tryBlocks, err := a.scan(src)
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	for _, ln := range lines {
		if err := a.emit(&buf, ln, labels); err != nil {
			return nil, nil, fmt.Errorf("vm: assembling %q at offset %d: %w", ln.mnemonic, ln.offset, err)
		}
	}
	return buf.Bytes(), tryBlocks, nil
}

// pendingTryClause is one handler clause (`.catch` or `.finally`) declared
// inside an still-open `.try` region. Its own offset is known as soon as
// the scanner reaches it; the protected range it and its sibling clauses
// guard is only known once `.endtry` closes the region.
type pendingTryClause struct {
	kind      TryBlockKind
	catchType string
	offset    uint32
}

// openTryBlock tracks one `.try` region while the scanner walks src.
type openTryBlock struct {
	start   uint32
	clauses []pendingTryClause
}

func (a *Assembler) scan(src string) ([]asmInstr, map[string]uint32, []*TryBlock, error) {
	labels := make(map[string]uint32)
	var out []asmInstr
	var tryBlocks []*TryBlock
	var openStack []*openTryBlock
	offset := uint32(0)
	for _, raw := range strings.Split(src, "\n") {
		line := commentPattern.ReplaceAllString(raw, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			labels[strings.TrimSuffix(line, ":")] = offset
			continue
		}
		if strings.HasPrefix(line, ".") {
			if err := a.scanDirective(line, offset, &openStack, &tryBlocks); err != nil {
				return nil, nil, nil, fmt.Errorf("vm: line %q: %w", line, err)
			}
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		mnemonic := parts[0]
		var args []string
		if len(parts) > 1 {
			rest := strings.TrimSpace(parts[1])
			if mnemonic == "ldstr" {
				args = []string{rest}
			} else {
				args = strings.Fields(rest)
			}
		}

		size, err := a.sizeOf(mnemonic, args)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("vm: line %q: %w", line, err)
		}
		out = append(out, asmInstr{mnemonic: mnemonic, args: args, offset: offset, size: size})
		offset += uint32(1 + size)
	}
	if len(openStack) > 0 {
		return nil, nil, nil, fmt.Errorf("unterminated .try block")
	}
	return out, labels, tryBlocks, nil
}

// scanDirective handles one `.try`/`.catch [Type]`/`.finally`/`.endtry`
// line. `.endtry` closes the innermost open region and appends one
// *TryBlock per clause it declared, all sharing the region's protected
// range ([start, first clause's offset)); closing innermost-first this
// way is exactly the order body.tryBlocks must be scanned in at run time.
func (a *Assembler) scanDirective(line string, offset uint32, openStack *[]*openTryBlock, finished *[]*TryBlock) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".try":
		*openStack = append(*openStack, &openTryBlock{start: offset})
	case ".catch", ".finally":
		if len(*openStack) == 0 {
			return fmt.Errorf("%s outside of .try", fields[0])
		}
		top := (*openStack)[len(*openStack)-1]
		clause := pendingTryClause{offset: offset}
		if fields[0] == ".catch" {
			clause.kind = TryBlockCatch
			if len(fields) > 1 {
				clause.catchType = fields[1]
			}
		} else {
			clause.kind = TryBlockFinally
		}
		top.clauses = append(top.clauses, clause)
	case ".endtry":
		n := len(*openStack)
		if n == 0 {
			return fmt.Errorf(".endtry without matching .try")
		}
		top := (*openStack)[n-1]
		*openStack = (*openStack)[:n-1]
		if len(top.clauses) == 0 {
			return fmt.Errorf(".try block has no .catch or .finally clause")
		}
		protectedEnd := top.clauses[0].offset
		for _, clause := range top.clauses {
			tb := &TryBlock{
				Kind:          clause.kind,
				StartOffset:   top.start,
				EndOffset:     protectedEnd,
				HandlerOffset: clause.offset,
			}
			if clause.kind == TryBlockCatch && clause.catchType != "" {
				t, err := a.module.typeNamed(clause.catchType)
				if err != nil {
					return err
				}
				tb.CatchType = t
			}
			*finished = append(*finished, tb)
		}
	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
	return nil
}

func (a *Assembler) sizeOf(mnemonic string, args []string) (int, error) {
	if mnemonic == "switch" {
		if len(args) == 0 {
			return 0, fmt.Errorf("switch requires a target count followed by that many labels")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, err
		}
		return 4 + 4*n, nil
	}
	size, ok := mnemonicArgBytes[mnemonic]
	if !ok {
		return 0, fmt.Errorf("unknown mnemonic %q", mnemonic)
	}
	return size, nil
}

func (a *Assembler) emit(buf *bytes.Buffer, ln asmInstr, labels map[string]uint32) error {
	var scratch [8]byte
	writeOp := func(op sourceOpcode) { buf.WriteByte(byte(op)) }
	writeU16 := func(v uint16) { binary.LittleEndian.PutUint16(scratch[:2], v); buf.Write(scratch[:2]) }
	writeU32 := func(v uint32) { binary.LittleEndian.PutUint32(scratch[:4], v); buf.Write(scratch[:4]) }
	writeU64 := func(v uint64) { binary.LittleEndian.PutUint64(scratch[:8], v); buf.Write(scratch[:8]) }
	writeI32 := func(v int32) { writeU32(uint32(v)) }

	arg := func(i int) (string, error) {
		if i >= len(ln.args) {
			return "", fmt.Errorf("missing operand %d", i)
		}
		return ln.args[i], nil
	}
	argInt := func(i int) (int64, error) {
		s, err := arg(i)
		if err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 0, 64)
	}
	argUint := func(i int) (uint64, error) {
		s, err := arg(i)
		if err != nil {
			return 0, err
		}
		return strconv.ParseUint(s, 0, 64)
	}
	argFloat := func(i int) (float64, error) {
		s, err := arg(i)
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	labelOffset := func(i int) (int32, error) {
		name, err := arg(i)
		if err != nil {
			return 0, err
		}
		target, ok := labels[name]
		if !ok {
			return 0, fmt.Errorf("undefined label %q", name)
		}
		base := int64(ln.offset) + int64(1+ln.size)
		return int32(int64(target) - base), nil
	}

	switch ln.mnemonic {
	case "nop":
		writeOp(srcNop)
	case "ldloc":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcLoadLocal)
		writeU32(uint32(n))
	case "stloc":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcStoreLocal)
		writeU32(uint32(n))
	case "ldlocref":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcLoadLocalRef)
		writeU32(uint32(n))
	case "stlocref":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcStoreLocalRef)
		writeU32(uint32(n))
	case "ldfromref":
		writeOp(srcLoadFromRef)
	case "storetoref":
		writeOp(srcStoreToRef)
	case "dup":
		writeOp(srcDup)
	case "ldnull":
		writeOp(srcLoadNull)
	case "ldfalse":
		writeOp(srcLoadFalse)
	case "ldtrue":
		writeOp(srcLoadTrue)
	case "ldint":
		n, err := argInt(0)
		if err != nil {
			return err
		}
		writeOp(srcLoadInt)
		writeU64(uint64(n))
	case "lduint":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcLoadUInt)
		writeU64(n)
	case "ldreal":
		f, err := argFloat(0)
		if err != nil {
			return err
		}
		writeOp(srcLoadReal)
		writeU64(NewReal(nil, f).Raw)
	case "ldstr":
		s, err := arg(0)
		if err != nil {
			return err
		}
		s = strings.Trim(s, `"`)
		writeOp(srcLoadString)
		writeU32(a.module.internString(unescapeString(s)))
	case "ldargc":
		writeOp(srcLoadArgCount)
	case "ldfld", "stfld", "ldfldref", "ldsfld", "stsfld", "ldsfldref":
		name, err := arg(0)
		if err != nil {
			return err
		}
		token, err := a.module.fieldToken(name)
		if err != nil {
			return err
		}
		switch ln.mnemonic {
		case "ldfld":
			writeOp(srcLoadField)
		case "stfld":
			writeOp(srcStoreField)
		case "ldfldref":
			writeOp(srcLoadFieldRef)
		case "ldsfld":
			writeOp(srcLoadStaticField)
		case "stsfld":
			writeOp(srcStoreStaticField)
		case "ldsfldref":
			writeOp(srcLoadStaticFieldRef)
		}
		writeU32(token)
	case "ldmem":
		writeOp(srcLoadMember)
	case "stmem":
		writeOp(srcStoreMember)
	case "ldmemref":
		writeOp(srcLoadMemberRef)
	case "ldidx":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcLoadIndex)
		writeU16(uint16(n))
	case "stidx":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcStoreIndex)
		writeU16(uint16(n))
	case "br", "brnull", "brnotnull", "brfalse", "brtrue", "leave":
		off, err := labelOffset(0)
		if err != nil {
			return err
		}
		switch ln.mnemonic {
		case "br":
			writeOp(srcBranch)
		case "brnull":
			writeOp(srcBranchIfNull)
		case "brnotnull":
			writeOp(srcBranchIfNotNull)
		case "brfalse":
			writeOp(srcBranchIfFalse)
		case "brtrue":
			writeOp(srcBranchIfTrue)
		case "leave":
			writeOp(srcLeave)
		}
		writeI32(off)
	case "eq":
		writeOp(srcEq)
	case "cmplt":
		writeOp(srcCompareLt)
	case "cmple":
		writeOp(srcCompareLte)
	case "cmpgt":
		writeOp(srcCompareGt)
	case "cmpge":
		writeOp(srcCompareGte)
	case "switch":
		n, err := argInt(0)
		if err != nil {
			return err
		}
		writeOp(srcSwitch)
		writeU32(uint32(n))
		for i := int64(0); i < n; i++ {
			off, err := labelOffset(int(1 + i))
			if err != nil {
				return err
			}
			writeI32(off)
		}
	case "endfinally":
		writeOp(srcEndFinally)
	case "ret":
		writeOp(srcReturn)
	case "retnull":
		writeOp(srcReturnNull)
	case "throw":
		writeOp(srcThrow)
	case "rethrow":
		writeOp(srcRethrow)
	case "call", "scall":
		name, err := arg(0)
		if err != nil {
			return err
		}
		argCount, err := argUint(1)
		if err != nil {
			return err
		}
		token, err := a.module.memberToken(name)
		if err != nil {
			return err
		}
		if ln.mnemonic == "call" {
			writeOp(srcCall)
		} else {
			writeOp(srcStaticCall)
		}
		writeU16(uint16(argCount))
		writeU32(token)
	case "callmember":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcCallMember)
		writeU16(uint16(n))
	case "apply", "sapply":
		name, err := arg(0)
		if err != nil {
			return err
		}
		token, err := a.module.memberToken(name)
		if err != nil {
			return err
		}
		if ln.mnemonic == "apply" {
			writeOp(srcApply)
		} else {
			writeOp(srcStaticApply)
		}
		writeU32(token)
	case "newobj":
		name, err := arg(0)
		if err != nil {
			return err
		}
		argCount, err := argUint(1)
		if err != nil {
			return err
		}
		token, err := a.module.typeToken(name)
		if err != nil {
			return err
		}
		writeOp(srcNewObject)
		writeU16(uint16(argCount))
		writeU32(token)
	case "add", "sub", "mul", "div", "mod", "and", "or", "xor", "shl", "shr":
		writeOp(srcOperator)
		buf.WriteByte(byte(binaryOpOf(ln.mnemonic)))
	case "neg", "pos", "not", "bnot":
		writeOp(srcUnaryOperator)
		buf.WriteByte(byte(unaryOpOf(ln.mnemonic)))
	case "concat":
		n, err := argUint(0)
		if err != nil {
			return err
		}
		writeOp(srcConcat)
		writeU16(uint16(n))
	default:
		return fmt.Errorf("unknown mnemonic %q", ln.mnemonic)
	}
	return nil
}

func binaryOpOf(mnemonic string) BinaryOp {
	switch mnemonic {
	case "add":
		return OpAdd
	case "sub":
		return OpSub
	case "mul":
		return OpMul
	case "div":
		return OpDiv
	case "mod":
		return OpMod
	case "and":
		return OpAnd
	case "or":
		return OpOr
	case "xor":
		return OpXor
	case "shl":
		return OpShiftLeft
	case "shr":
		return OpShiftRight
	}
	return OpAdd
}

func unaryOpOf(mnemonic string) UnaryOp {
	switch mnemonic {
	case "neg":
		return UnaryNegate
	case "pos":
		return UnaryPlus
	case "not":
		return UnaryNot
	case "bnot":
		return UnaryBitwiseNot
	}
	return UnaryNot
}
