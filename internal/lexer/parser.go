package lexer

import (
	"fmt"

	"gscript/internal/code"
	"gscript/internal/diag"
	"gscript/internal/value"
)

// Parser is a single-token-lookahead (plus one token of pushback for
// the table-constructor `name =` sniff) recursive-descent parser
// driving internal/code's compiler API directly as it recognizes
// grammar productions. There is no separate AST: every rule both
// recognizes and emits.
type Parser struct {
	sc     *Scanner
	tok    Token
	ahead  *Token
	aheadErr error

	f      *fstate
	strs   *value.Strings
	source string
}

// Compile parses src (named source, for diagnostics) into a
// top-level Prototype: a vararg function with no parameters and one
// automatic "_ENV" upvalue. internal/vm binds that outermost upvalue
// directly to the global table when it creates the root closure; it
// is never captured from a parent here.
func Compile(source, src string, strs *value.Strings) (*code.Prototype, error) {
	proto := code.NewPrototype(source)
	proto.IsVararg_ = true
	root := newFstate(proto, nil, strs)
	p := &Parser{sc: NewScanner(source, src), f: root, strs: strs, source: source}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.parseBlock(); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, p.errf("unexpected %v, expected end of file", p.tok)
	}
	p.f.fs.EmitABC(code.OpReturn, 0, 1, 0, p.tok.Line)
	return proto, nil
}

// --- token plumbing ---

func (p *Parser) advance() error {
	if p.ahead != nil {
		p.tok = *p.ahead
		err := p.aheadErr
		p.ahead, p.aheadErr = nil, nil
		return err
	}
	tok, err := p.sc.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// peekIsAssign looks one token past the current Name, without losing
// it, to disambiguate a table constructor's `name = expr` hash field
// from a bare positional `name` expression (both start identically).
func (p *Parser) peekIsAssign() bool {
	if p.ahead == nil {
		tok, err := p.sc.Next()
		p.ahead = &tok
		p.aheadErr = err
	}
	return p.aheadErr == nil && p.ahead.Kind == TokAssign
}

func (p *Parser) accept(k TokenKind) (bool, error) {
	if p.tok.Kind == k {
		return true, p.advance()
	}
	return false, nil
}

func (p *Parser) expect(k TokenKind, what string) error {
	if p.tok.Kind != k {
		return p.errf("expected %s, got %v", what, p.tok)
	}
	return p.advance()
}

func (p *Parser) expectName() (string, error) {
	if p.tok.Kind != TokName {
		return "", p.errf("expected name, got %v", p.tok)
	}
	s := p.tok.Str
	return s, p.advance()
}

func (p *Parser) errf(format string, args ...any) error {
	return diag.Syntax(p.source, p.tok.Line, fmt.Errorf(format, args...))
}

type parseErr string

func (e parseErr) Error() string { return string(e) }

var (
	errCannotAssign            = parseErr("cannot assign to this expression")
	errExpectedStatement       = parseErr("syntax error: expression has no effect as a statement")
	errBreakOutsideLoop        = parseErr("break outside a loop")
)

// --- blocks and statements ---

func blockFollow(k TokenKind) bool {
	switch k {
	case TokEOF, TokEnd, TokElse, TokElseif, TokUntil:
		return true
	}
	return false
}

func (p *Parser) parseBlock() error {
	mark := p.f.enterBlock()
	for !blockFollow(p.tok.Kind) {
		if p.tok.Kind == TokReturn {
			if err := p.parseReturn(); err != nil {
				return err
			}
			break
		}
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	p.f.leaveBlock(mark)
	return nil
}

func (p *Parser) parseStatement() error {
	switch p.tok.Kind {
	case TokSemi:
		return p.advance()
	case TokIf:
		return p.parseIf()
	case TokWhile:
		return p.parseWhile()
	case TokDo:
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseBlock(); err != nil {
			return err
		}
		return p.expect(TokEnd, "'end'")
	case TokFor:
		return p.parseFor()
	case TokRepeat:
		return p.parseRepeat()
	case TokFunction:
		return p.parseFunctionStat()
	case TokLocal:
		return p.parseLocal()
	case TokBreak:
		return p.parseBreak()
	default:
		return p.parseExprStat()
	}
}

func (p *Parser) parseReturn() error {
	line := p.tok.Line
	if err := p.advance(); err != nil {
		return err
	}
	first := p.f.fs.FreeReg
	nret, isMulti := 0, false
	if !blockFollow(p.tok.Kind) && p.tok.Kind != TokSemi {
		n, multi, err := p.parseExplistToRegs()
		if err != nil {
			return err
		}
		nret, isMulti = n, multi
	}
	b := nret + 1
	if isMulti {
		b = 0
	}
	p.f.fs.EmitABC(code.OpReturn, first, b, 0, line)
	_, err := p.accept(TokSemi)
	return err
}

func (p *Parser) parseBreak() error {
	line := p.tok.Line
	if err := p.advance(); err != nil {
		return err
	}
	if len(p.f.loops) == 0 {
		return diag.Syntax(p.source, line, errBreakOutsideLoop)
	}
	lp := p.f.loops[len(p.f.loops)-1]
	jmp := p.f.fs.EmitJump(line)
	lp.breakList = p.f.fs.Concat(lp.breakList, jmp)
	return nil
}

// parseIf compiles if/elseif*/else/end, threading each clause's
// false-exit into the next clause's test and every true-clause's
// completion into a shared escape list patched to the statement's
// end.
func (p *Parser) parseIf() error {
	if err := p.advance(); err != nil {
		return err
	}
	escapeList := code.NoJump
	for {
		cond, err := p.parseExpr(0)
		if err != nil {
			return err
		}
		if err := p.f.fs.GoIfTrue(&cond); err != nil {
			return err
		}
		if err := p.expect(TokThen, "'then'"); err != nil {
			return err
		}
		if err := p.parseBlock(); err != nil {
			return err
		}
		if p.tok.Kind == TokElse || p.tok.Kind == TokElseif {
			jmp := p.f.fs.EmitJump(p.tok.Line)
			escapeList = p.f.fs.Concat(escapeList, jmp)
		}
		p.f.fs.PatchToHere(cond.F)
		if p.tok.Kind != TokElseif {
			break
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
	if ok, err := p.accept(TokElse); err != nil {
		return err
	} else if ok {
		if err := p.parseBlock(); err != nil {
			return err
		}
	}
	p.f.fs.PatchToHere(escapeList)
	return p.expect(TokEnd, "'end'")
}

func (p *Parser) parseWhile() error {
	line := p.tok.Line
	if err := p.advance(); err != nil {
		return err
	}
	top := p.f.fs.JumpTo()
	cond, err := p.parseExpr(0)
	if err != nil {
		return err
	}
	if err := p.f.fs.GoIfTrue(&cond); err != nil {
		return err
	}
	if err := p.expect(TokDo, "'do'"); err != nil {
		return err
	}
	lp := &loopCtx{breakList: code.NoJump, nactvar: p.f.fs.NActVar}
	p.f.loops = append(p.f.loops, lp)
	if err := p.parseBlock(); err != nil {
		return err
	}
	p.f.loops = p.f.loops[:len(p.f.loops)-1]
	back := p.f.fs.EmitJump(line)
	p.f.fs.Patch(back, top, code.NoRegister)
	exit := p.f.fs.Concat(cond.F, lp.breakList)
	p.f.fs.PatchToHere(exit)
	return p.expect(TokEnd, "'end'")
}

// parseRepeat compiles repeat/until, whose condition can see the
// body's locals: the block does not close until after `until`'s
// expression is parsed.
func (p *Parser) parseRepeat() error {
	if err := p.advance(); err != nil {
		return err
	}
	top := p.f.fs.JumpTo()
	mark := p.f.enterBlock()
	lp := &loopCtx{breakList: code.NoJump, nactvar: p.f.fs.NActVar}
	p.f.loops = append(p.f.loops, lp)
	for !blockFollow(p.tok.Kind) {
		if p.tok.Kind == TokReturn {
			if err := p.parseReturn(); err != nil {
				return err
			}
			break
		}
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	if err := p.expect(TokUntil, "'until'"); err != nil {
		return err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return err
	}
	if err := p.f.fs.GoIfTrue(&cond); err != nil {
		return err
	}
	p.f.fs.Patch(cond.F, top, code.NoRegister)
	p.f.loops = p.f.loops[:len(p.f.loops)-1]
	p.f.leaveBlock(mark)
	p.f.fs.PatchToHere(lp.breakList)
	return nil
}

func (p *Parser) parseFor() error {
	if err := p.advance(); err != nil {
		return err
	}
	name, err := p.expectName()
	if err != nil {
		return err
	}
	if p.tok.Kind == TokAssign {
		return p.parseNumericFor(name)
	}
	return p.parseGenericFor(name)
}

// parseNumericFor compiles `for name = init, limit[, step] do ...
// end` into FORPREP/FORLOOP around the body: the three control values
// and the visible loop variable occupy four consecutive registers,
// base..base+3.
func (p *Parser) parseNumericFor(name string) error {
	line := p.tok.Line
	if err := p.advance(); err != nil { // '='
		return err
	}
	if err := p.compileForExpr(); err != nil {
		return err
	}
	if err := p.expect(TokComma, "','"); err != nil {
		return err
	}
	if err := p.compileForExpr(); err != nil {
		return err
	}
	if ok, err := p.accept(TokComma); err != nil {
		return err
	} else if ok {
		if err := p.compileForExpr(); err != nil {
			return err
		}
	} else {
		one := code.NewIntExpr(1)
		if err := p.f.fs.ToNextReg(&one); err != nil {
			return err
		}
	}
	base := p.f.fs.FreeReg - 3
	if err := p.expect(TokDo, "'do'"); err != nil {
		return err
	}
	mark := p.f.enterBlock()
	if _, err := p.f.declareLocal(name); err != nil {
		return err
	}
	prepPC, err := p.f.fs.EmitAsBx(code.OpForPrep, base, code.NoJump, line)
	if err != nil {
		return err
	}
	lp := &loopCtx{breakList: code.NoJump, nactvar: p.f.fs.NActVar}
	p.f.loops = append(p.f.loops, lp)
	if err := p.parseBlock(); err != nil {
		return err
	}
	p.f.loops = p.f.loops[:len(p.f.loops)-1]
	p.f.leaveBlock(mark)
	p.f.fs.Patch(prepPC, p.f.fs.JumpTo(), code.NoRegister)
	loopPC, err := p.f.fs.EmitAsBx(code.OpForLoop, base, code.NoJump, p.tok.Line)
	if err != nil {
		return err
	}
	p.f.fs.Patch(loopPC, prepPC+1, code.NoRegister)
	p.f.fs.PatchToHere(lp.breakList)
	return p.expect(TokEnd, "'end'")
}

func (p *Parser) compileForExpr() error {
	e, err := p.parseExpr(0)
	if err != nil {
		return err
	}
	return p.f.fs.ToNextReg(&e)
}

// parseGenericFor compiles `for names in explist do ... end` using
// TFORCALL/TFORLOOP: the iterator function, invariant state and
// control variable occupy three control registers ahead of the
// visible loop variables.
func (p *Parser) parseGenericFor(firstName string) error {
	names := []string{firstName}
	for {
		ok, err := p.accept(TokComma)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		n, err := p.expectName()
		if err != nil {
			return err
		}
		names = append(names, n)
	}
	if err := p.expect(TokIn, "'in'"); err != nil {
		return err
	}
	base := p.f.fs.FreeReg
	if err := p.parseAdjustedExplist(3); err != nil {
		return err
	}
	if err := p.expect(TokDo, "'do'"); err != nil {
		return err
	}
	mark := p.f.enterBlock()
	for _, nm := range names {
		if _, err := p.f.declareLocal(nm); err != nil {
			return err
		}
	}
	lp := &loopCtx{breakList: code.NoJump, nactvar: p.f.fs.NActVar}
	p.f.loops = append(p.f.loops, lp)
	top := p.f.fs.JumpTo()
	if err := p.parseBlock(); err != nil {
		return err
	}
	p.f.loops = p.f.loops[:len(p.f.loops)-1]
	p.f.leaveBlock(mark)
	p.f.fs.EmitABC(code.OpTForCall, base, 0, len(names), p.tok.Line)
	loopPC, err := p.f.fs.EmitAsBx(code.OpTForLoop, base+2, code.NoJump, p.tok.Line)
	if err != nil {
		return err
	}
	p.f.fs.Patch(loopPC, top, code.NoRegister)
	p.f.fs.PatchToHere(lp.breakList)
	return p.expect(TokEnd, "'end'")
}

func (p *Parser) parseLocal() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.Kind == TokFunction {
		return p.parseLocalFunction()
	}
	var names []string
	for {
		n, err := p.expectName()
		if err != nil {
			return err
		}
		names = append(names, n)
		ok, err := p.accept(TokComma)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	base := p.f.fs.FreeReg
	if ok, err := p.accept(TokAssign); err != nil {
		return err
	} else if ok {
		if err := p.parseAdjustedExplist(len(names)); err != nil {
			return err
		}
	} else {
		p.f.fs.Nil(base, len(names), p.tok.Line)
		if err := p.f.fs.Reserve(len(names)); err != nil {
			return err
		}
	}
	for i, nm := range names {
		p.f.activateLocal(nm, base+i)
	}
	return nil
}

// parseLocalFunction declares the name before compiling the body, so
// the function can recurse by name.
func (p *Parser) parseLocalFunction() error {
	if err := p.advance(); err != nil { // 'function'
		return err
	}
	name, err := p.expectName()
	if err != nil {
		return err
	}
	reg, err := p.f.declareLocal(name)
	if err != nil {
		return err
	}
	closure, err := p.parseFuncBody(false)
	if err != nil {
		return err
	}
	return p.f.fs.ExpToReg(&closure, reg)
}

// parseFunctionStat compiles `function a.b.c:method(...) ... end`
// sugar: each dotted segment materializes the running target into a
// register and re-indexes; a trailing `:name` also declares an
// implicit "self" parameter.
func (p *Parser) parseFunctionStat() error {
	if err := p.advance(); err != nil {
		return err
	}
	name, err := p.expectName()
	if err != nil {
		return err
	}
	target, err := p.f.resolveVar(name)
	if err != nil {
		return err
	}
	isMethod := false
loop:
	for {
		switch p.tok.Kind {
		case TokDot, TokColon:
			method := p.tok.Kind == TokColon
			if err := p.advance(); err != nil {
				return err
			}
			field, err := p.expectName()
			if err != nil {
				return err
			}
			reg, err := p.f.fs.ToAnyReg(&target)
			if err != nil {
				return err
			}
			idx, err := p.f.fs.StringConstant(p.strs, field)
			if err != nil {
				return err
			}
			target = code.IndexedExpr(reg, false, code.RKAsK(idx))
			if method {
				isMethod = true
				break loop
			}
		default:
			break loop
		}
	}
	closure, err := p.parseFuncBody(isMethod)
	if err != nil {
		return err
	}
	return p.f.fs.Store(&target, &closure)
}

// parseFuncBody compiles a function literal's parameter list and
// block into a fresh nested Prototype/fstate, producing a CLOSURE
// descriptor in the enclosing function.
func (p *Parser) parseFuncBody(isMethod bool) (code.ExprDesc, error) {
	line := p.tok.Line
	if err := p.expect(TokLParen, "'('"); err != nil {
		return code.ExprDesc{}, err
	}
	childProto := code.NewPrototype(p.source)
	parent := p.f
	child := newFstate(childProto, parent, p.strs)
	p.f = child
	nparams := 0
	if isMethod {
		if _, err := p.f.declareLocal("self"); err != nil {
			return code.ExprDesc{}, err
		}
		nparams = 1
	}
	isVararg := false
	if p.tok.Kind != TokRParen {
		for {
			if p.tok.Kind == TokDot3 {
				isVararg = true
				if err := p.advance(); err != nil {
					return code.ExprDesc{}, err
				}
				break
			}
			nm, err := p.expectName()
			if err != nil {
				return code.ExprDesc{}, err
			}
			if _, err := p.f.declareLocal(nm); err != nil {
				return code.ExprDesc{}, err
			}
			nparams++
			ok, err := p.accept(TokComma)
			if err != nil {
				return code.ExprDesc{}, err
			}
			if !ok {
				break
			}
		}
	}
	if err := p.expect(TokRParen, "')'"); err != nil {
		return code.ExprDesc{}, err
	}
	childProto.NumParams_ = nparams
	childProto.IsVararg_ = isVararg
	if err := p.parseBlock(); err != nil {
		return code.ExprDesc{}, err
	}
	endLine := p.tok.Line
	if err := p.expect(TokEnd, "'end'"); err != nil {
		return code.ExprDesc{}, err
	}
	child.fs.EmitABC(code.OpReturn, 0, 1, 0, endLine)
	p.f = parent
	idx := len(parent.fs.Proto.Protos)
	parent.fs.Proto.Protos = append(parent.fs.Proto.Protos, childProto)
	pc := parent.fs.EmitABx(code.OpClosure, 0, idx, line)
	return code.NewRelocableExpr(pc), nil
}

// parseExprStat compiles either an assignment (one or more suffixed
// lvalues followed by '=' and an explist) or a bare call statement.
func (p *Parser) parseExprStat() error {
	line := p.tok.Line
	e, err := p.parseSuffixedExpr()
	if err != nil {
		return err
	}
	if p.tok.Kind == TokAssign || p.tok.Kind == TokComma {
		return p.parseAssignment(e, line)
	}
	if e.Kind != code.ECall {
		return diag.Syntax(p.source, line, errExpectedStatement)
	}
	p.f.fs.SetMultiResults(&e, 0)
	return nil
}

func (p *Parser) parseAssignment(first code.ExprDesc, line int) error {
	targets := []code.ExprDesc{first}
	for p.tok.Kind == TokComma {
		if err := p.advance(); err != nil {
			return err
		}
		e, err := p.parseSuffixedExpr()
		if err != nil {
			return err
		}
		if e.Kind != code.ELocal && e.Kind != code.EUpval && e.Kind != code.EIndexed {
			return diag.Syntax(p.source, line, errCannotAssign)
		}
		targets = append(targets, e)
	}
	if err := p.expect(TokAssign, "'='"); err != nil {
		return err
	}
	fs := p.f.fs
	base := fs.FreeReg
	e, err := p.parseExpr(0)
	if err != nil {
		return err
	}
	// One target, one value: store straight into the target with no
	// staging register. A local target gets its LOADK/MOVE emitted
	// directly at its own register instead of a temp followed by a
	// MOVE.
	if len(targets) == 1 && p.tok.Kind != TokComma {
		if e.Kind == code.ECall || e.Kind == code.EVararg {
			fs.SetOneResult(&e)
		}
		return fs.Store(&targets[0], &e)
	}
	n := 0
	for {
		if e.Kind == code.ECall || e.Kind == code.EVararg {
			fs.SetOneResult(&e)
		}
		if err := fs.ToNextReg(&e); err != nil {
			return err
		}
		n++
		ok, err := p.accept(TokComma)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if e, err = p.parseExpr(0); err != nil {
			return err
		}
	}
	for n < len(targets) {
		nilE := code.NewNilExpr()
		if err := fs.ToNextReg(&nilE); err != nil {
			return err
		}
		n++
	}
	if n > len(targets) {
		fs.FreeReg = base + len(targets)
	}
	for i := len(targets) - 1; i >= 0; i-- {
		v := code.NewNonRelocExpr(base + i)
		if err := fs.Store(&targets[i], &v); err != nil {
			return err
		}
	}
	return nil
}

// --- expression lists ---

// parseExplistToRegs compiles a comma-separated expression list into
// consecutive registers, leaving the final expression's multi-result
// nature (a trailing call or `...`) intact for the caller to resolve
// via SetMultiResults/SetOneResult.
func (p *Parser) parseExplistToRegs() (int, bool, error) {
	fs := p.f.fs
	n := 0
	var last code.ExprDesc
	for {
		e, err := p.parseExpr(0)
		if err != nil {
			return 0, false, err
		}
		if n > 0 {
			if err := fs.ToNextReg(&last); err != nil {
				return 0, false, err
			}
		}
		last = e
		n++
		ok, err := p.accept(TokComma)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			break
		}
	}
	isMulti := last.Kind == code.ECall || last.Kind == code.EVararg
	if isMulti {
		fs.SetMultiResults(&last, -1)
	} else if err := fs.ToNextReg(&last); err != nil {
		return 0, false, err
	}
	return n, isMulti, nil
}

// parseAdjustedExplist parses an explist and leaves exactly want
// values in the registers starting at the FreeReg held on entry:
// missing trailing values become nil, and a trailing call/vararg is
// truncated to its first result rather than expanded. Used by local
// declarations and generic-for's control triple.
func (p *Parser) parseAdjustedExplist(want int) error {
	fs := p.f.fs
	base := fs.FreeReg
	n := 0
	for {
		e, err := p.parseExpr(0)
		if err != nil {
			return err
		}
		if e.Kind == code.ECall || e.Kind == code.EVararg {
			fs.SetOneResult(&e)
		}
		if err := fs.ToNextReg(&e); err != nil {
			return err
		}
		n++
		ok, err := p.accept(TokComma)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	for n < want {
		nilE := code.NewNilExpr()
		if err := fs.ToNextReg(&nilE); err != nil {
			return err
		}
		n++
	}
	if n > want {
		fs.FreeReg = base + want
	}
	return nil
}

// --- expressions: precedence climbing ---

type binOp struct{ left, right int }

func binPriority(k TokenKind) (binOp, bool) {
	switch k {
	case TokOr:
		return binOp{1, 1}, true
	case TokAnd:
		return binOp{2, 2}, true
	case TokLt, TokGt, TokLe, TokGe, TokNe, TokEq:
		return binOp{3, 3}, true
	case TokPipe:
		return binOp{4, 4}, true
	case TokTilde:
		return binOp{5, 5}, true
	case TokAmp:
		return binOp{6, 6}, true
	case TokShl, TokShr:
		return binOp{7, 7}, true
	case TokDot2:
		return binOp{9, 8}, true // right-assoc
	case TokPlus, TokMinus:
		return binOp{10, 10}, true
	case TokStar, TokSlash, TokSlash2, TokPercent:
		return binOp{11, 11}, true
	case TokCaret:
		return binOp{14, 13}, true // right-assoc, binds tighter than unary
	}
	return binOp{}, false
}

const unaryPriority = 12

func (p *Parser) parseExpr(limit int) (code.ExprDesc, error) {
	var e code.ExprDesc
	var err error
	switch p.tok.Kind {
	case TokNot, TokMinus, TokHash, TokTilde:
		op := p.tok.Kind
		line := p.tok.Line
		if err := p.advance(); err != nil {
			return code.ExprDesc{}, err
		}
		operand, err := p.parseExpr(unaryPriority)
		if err != nil {
			return code.ExprDesc{}, err
		}
		e, err = p.applyUnary(op, &operand, line)
		if err != nil {
			return code.ExprDesc{}, err
		}
	default:
		e, err = p.parseSimpleExpr()
		if err != nil {
			return code.ExprDesc{}, err
		}
	}
	for {
		bp, ok := binPriority(p.tok.Kind)
		if !ok || bp.left <= limit {
			break
		}
		op := p.tok.Kind
		line := p.tok.Line
		if err := p.advance(); err != nil {
			return code.ExprDesc{}, err
		}
		e, err = p.applyBinary(op, e, line, bp.right)
		if err != nil {
			return code.ExprDesc{}, err
		}
	}
	return e, nil
}

func (p *Parser) applyUnary(op TokenKind, e *code.ExprDesc, line int) (code.ExprDesc, error) {
	fs := p.f.fs
	switch op {
	case TokNot:
		if err := fs.Not(e); err != nil {
			return code.ExprDesc{}, err
		}
		return *e, nil
	case TokMinus:
		if folded, ok := code.FoldUnary(code.OpUnm, e); ok {
			return folded, nil
		}
		return p.emitUnaryOp(code.OpUnm, e, line)
	case TokTilde:
		if folded, ok := code.FoldUnary(code.OpBNot, e); ok {
			return folded, nil
		}
		return p.emitUnaryOp(code.OpBNot, e, line)
	case TokHash:
		return p.emitUnaryOp(code.OpLen, e, line)
	}
	return code.ExprDesc{}, p.errf("unreachable unary operator")
}

func (p *Parser) emitUnaryOp(op code.Op, e *code.ExprDesc, line int) (code.ExprDesc, error) {
	fs := p.f.fs
	if err := fs.DischargeVars(e); err != nil {
		return code.ExprDesc{}, err
	}
	reg, err := fs.ToAnyReg(e)
	if err != nil {
		return code.ExprDesc{}, err
	}
	fs.Free(reg)
	pc := fs.EmitABC(op, 0, reg, 0, line)
	return code.NewRelocableExpr(pc), nil
}

func (p *Parser) applyBinary(op TokenKind, e1 code.ExprDesc, line, rightPrio int) (code.ExprDesc, error) {
	fs := p.f.fs
	switch op {
	case TokAnd:
		if err := fs.AndCompileLHS(&e1); err != nil {
			return code.ExprDesc{}, err
		}
		e2, err := p.parseExpr(rightPrio)
		if err != nil {
			return code.ExprDesc{}, err
		}
		code.AndCompileRHS(fs, &e1, &e2)
		return e1, nil
	case TokOr:
		if err := fs.OrCompileLHS(&e1); err != nil {
			return code.ExprDesc{}, err
		}
		e2, err := p.parseExpr(rightPrio)
		if err != nil {
			return code.ExprDesc{}, err
		}
		code.OrCompileRHS(fs, &e1, &e2)
		return e1, nil
	case TokDot2:
		if err := fs.ToNextReg(&e1); err != nil {
			return code.ExprDesc{}, err
		}
		e2, err := p.parseExpr(rightPrio)
		if err != nil {
			return code.ExprDesc{}, err
		}
		if err := fs.ToNextReg(&e2); err != nil {
			return code.ExprDesc{}, err
		}
		r1, r2 := e1.Info, e2.Info
		fs.Free(r2)
		fs.Free(r1)
		pc := fs.EmitABC(code.OpConcat, 0, r1, r2, line)
		return code.NewRelocableExpr(pc), nil
	case TokEq, TokNe, TokLt, TokLe, TokGt, TokGe:
		e2, err := p.parseExpr(rightPrio)
		if err != nil {
			return code.ExprDesc{}, err
		}
		return p.applyComparison(op, e1, e2, line)
	default:
		e2, err := p.parseExpr(rightPrio)
		if err != nil {
			return code.ExprDesc{}, err
		}
		return p.applyArith(op, e1, e2, line)
	}
}

func freeRK(fs *code.FuncState, rk int) {
	if !code.IsK(rk) {
		fs.Free(rk)
	}
}

func (p *Parser) applyComparison(op TokenKind, e1, e2 code.ExprDesc, line int) (code.ExprDesc, error) {
	fs := p.f.fs
	switch op {
	case TokGt, TokGe:
		r1, err := fs.ToRK(&e1)
		if err != nil {
			return code.ExprDesc{}, err
		}
		r2, err := fs.ToRK(&e2)
		if err != nil {
			return code.ExprDesc{}, err
		}
		freeRK(fs, r2)
		freeRK(fs, r1)
		cop := code.CmpLT
		if op == TokGe {
			cop = code.CmpLE
		}
		return fs.Comparison(cop, r2, r1, line) // a > b ≡ b < a
	case TokNe:
		r1, err := fs.ToRK(&e1)
		if err != nil {
			return code.ExprDesc{}, err
		}
		r2, err := fs.ToRK(&e2)
		if err != nil {
			return code.ExprDesc{}, err
		}
		freeRK(fs, r2)
		freeRK(fs, r1)
		cmp, err := fs.Comparison(code.CmpEQ, r1, r2, line)
		if err != nil {
			return code.ExprDesc{}, err
		}
		if err := fs.Not(&cmp); err != nil { // a ~= b ≡ ¬(a == b)
			return code.ExprDesc{}, err
		}
		return cmp, nil
	default:
		cop := code.CmpEQ
		if op == TokLt {
			cop = code.CmpLT
		} else if op == TokLe {
			cop = code.CmpLE
		}
		r1, err := fs.ToRK(&e1)
		if err != nil {
			return code.ExprDesc{}, err
		}
		r2, err := fs.ToRK(&e2)
		if err != nil {
			return code.ExprDesc{}, err
		}
		freeRK(fs, r2)
		freeRK(fs, r1)
		return fs.Comparison(cop, r1, r2, line)
	}
}

func (p *Parser) applyArith(op TokenKind, e1, e2 code.ExprDesc, line int) (code.ExprDesc, error) {
	fs := p.f.fs
	opc := arithOpcode(op)
	if folded, ok := code.FoldArith(opc, &e1, &e2); ok {
		return folded, nil
	}
	r1, err := fs.ToRK(&e1)
	if err != nil {
		return code.ExprDesc{}, err
	}
	r2, err := fs.ToRK(&e2)
	if err != nil {
		return code.ExprDesc{}, err
	}
	freeRK(fs, r2)
	freeRK(fs, r1)
	pc := fs.EmitABC(opc, 0, r1, r2, line)
	return code.NewRelocableExpr(pc), nil
}

func arithOpcode(k TokenKind) code.Op {
	switch k {
	case TokPlus:
		return code.OpAdd
	case TokMinus:
		return code.OpSub
	case TokStar:
		return code.OpMul
	case TokSlash:
		return code.OpDiv
	case TokSlash2:
		return code.OpIDiv
	case TokPercent:
		return code.OpMod
	case TokCaret:
		return code.OpPow
	case TokAmp:
		return code.OpBAnd
	case TokPipe:
		return code.OpBOr
	case TokTilde:
		return code.OpBXor
	case TokShl:
		return code.OpShl
	case TokShr:
		return code.OpShr
	}
	return code.OpAdd
}

// --- simple / primary / suffixed expressions ---

func (p *Parser) parseSimpleExpr() (code.ExprDesc, error) {
	switch p.tok.Kind {
	case TokInt:
		v := p.tok.Int
		return code.NewIntExpr(v), p.advance()
	case TokFloat:
		v := p.tok.Flt
		return code.NewFloatExpr(v), p.advance()
	case TokString:
		s := p.tok.Str
		if err := p.advance(); err != nil {
			return code.ExprDesc{}, err
		}
		idx, err := p.f.fs.StringConstant(p.strs, s)
		if err != nil {
			return code.ExprDesc{}, err
		}
		return code.NewKExpr(idx), nil
	case TokNil:
		return code.NewNilExpr(), p.advance()
	case TokTrue:
		return code.NewTrueExpr(), p.advance()
	case TokFalse:
		return code.NewFalseExpr(), p.advance()
	case TokDot3:
		line := p.tok.Line
		if err := p.advance(); err != nil {
			return code.ExprDesc{}, err
		}
		pc := p.f.fs.EmitABC(code.OpVararg, 0, 2, 0, line)
		return code.NewVarargExpr(pc), nil
	case TokLBrace:
		return p.parseTableConstructor()
	case TokFunction:
		if err := p.advance(); err != nil {
			return code.ExprDesc{}, err
		}
		return p.parseFuncBody(false)
	default:
		return p.parseSuffixedExpr()
	}
}

func (p *Parser) parsePrimaryExpr() (code.ExprDesc, error) {
	switch p.tok.Kind {
	case TokLParen:
		if err := p.advance(); err != nil {
			return code.ExprDesc{}, err
		}
		e, err := p.parseExpr(0)
		if err != nil {
			return code.ExprDesc{}, err
		}
		if err := p.expect(TokRParen, "')'"); err != nil {
			return code.ExprDesc{}, err
		}
		if e.Kind == code.ECall || e.Kind == code.EVararg {
			p.f.fs.SetOneResult(&e) // a parenthesized expr always truncates to one value
		}
		return e, nil
	case TokName:
		nm := p.tok.Str
		if err := p.advance(); err != nil {
			return code.ExprDesc{}, err
		}
		return p.f.resolveVar(nm)
	}
	return code.ExprDesc{}, p.errf("unexpected symbol %v", p.tok)
}

func (p *Parser) parseSuffixedExpr() (code.ExprDesc, error) {
	e, err := p.parsePrimaryExpr()
	if err != nil {
		return code.ExprDesc{}, err
	}
	for {
		switch p.tok.Kind {
		case TokDot:
			if err := p.advance(); err != nil {
				return code.ExprDesc{}, err
			}
			field, err := p.expectName()
			if err != nil {
				return code.ExprDesc{}, err
			}
			if e, err = p.indexField(e, field); err != nil {
				return code.ExprDesc{}, err
			}
		case TokLBracket:
			if err := p.advance(); err != nil {
				return code.ExprDesc{}, err
			}
			key, err := p.parseExpr(0)
			if err != nil {
				return code.ExprDesc{}, err
			}
			if err := p.expect(TokRBracket, "']'"); err != nil {
				return code.ExprDesc{}, err
			}
			if e, err = p.indexExpr(e, &key); err != nil {
				return code.ExprDesc{}, err
			}
		case TokColon:
			if err := p.advance(); err != nil {
				return code.ExprDesc{}, err
			}
			method, err := p.expectName()
			if err != nil {
				return code.ExprDesc{}, err
			}
			idx, err := p.f.fs.StringConstant(p.strs, method)
			if err != nil {
				return code.ExprDesc{}, err
			}
			key := code.NewKExpr(idx)
			if err := p.f.fs.Self(&e, &key); err != nil {
				return code.ExprDesc{}, err
			}
			if e, err = p.finishCall(e, true); err != nil {
				return code.ExprDesc{}, err
			}
		case TokLParen, TokString, TokLBrace:
			if e, err = p.finishCall(e, false); err != nil {
				return code.ExprDesc{}, err
			}
		default:
			return e, nil
		}
	}
}

func (p *Parser) indexField(e code.ExprDesc, field string) (code.ExprDesc, error) {
	fs := p.f.fs
	reg, err := fs.ToAnyReg(&e)
	if err != nil {
		return code.ExprDesc{}, err
	}
	idx, err := fs.StringConstant(p.strs, field)
	if err != nil {
		return code.ExprDesc{}, err
	}
	return code.IndexedExpr(reg, false, code.RKAsK(idx)), nil
}

func (p *Parser) indexExpr(e code.ExprDesc, key *code.ExprDesc) (code.ExprDesc, error) {
	fs := p.f.fs
	reg, err := fs.ToAnyReg(&e)
	if err != nil {
		return code.ExprDesc{}, err
	}
	rk, err := fs.ToRK(key)
	if err != nil {
		return code.ExprDesc{}, err
	}
	return code.IndexedExpr(reg, false, rk), nil
}

// finishCall compiles a call's argument list and emits CALL. selfCall
// indicates fn is already Self()'d (function at fn.Info, receiver at
// fn.Info+1): the implicit receiver counts as one more argument than
// parseArgs reports.
func (p *Parser) finishCall(fn code.ExprDesc, selfCall bool) (code.ExprDesc, error) {
	fs := p.f.fs
	line := p.tok.Line
	base := fn.Info
	if !selfCall {
		if err := fs.ToNextReg(&fn); err != nil {
			return code.ExprDesc{}, err
		}
		base = fn.Info
	}
	nargs, isMulti, err := p.parseArgs()
	if err != nil {
		return code.ExprDesc{}, err
	}
	if selfCall {
		nargs++
	}
	b := nargs + 1
	if isMulti {
		b = 0
	}
	pc := fs.EmitABC(code.OpCall, base, b, 2, line)
	fs.FreeReg = base + 1
	return code.NewCallExpr(pc), nil
}

func (p *Parser) parseArgs() (int, bool, error) {
	switch p.tok.Kind {
	case TokLParen:
		if err := p.advance(); err != nil {
			return 0, false, err
		}
		if p.tok.Kind == TokRParen {
			return 0, false, p.advance()
		}
		n, isMulti, err := p.parseExplistToRegs()
		if err != nil {
			return 0, false, err
		}
		return n, isMulti, p.expect(TokRParen, "')'")
	case TokString:
		s := p.tok.Str
		if err := p.advance(); err != nil {
			return 0, false, err
		}
		idx, err := p.f.fs.StringConstant(p.strs, s)
		if err != nil {
			return 0, false, err
		}
		e := code.NewKExpr(idx)
		return 1, false, p.f.fs.ToNextReg(&e)
	case TokLBrace:
		e, err := p.parseTableConstructor()
		if err != nil {
			return 0, false, err
		}
		return 1, false, p.f.fs.ToNextReg(&e)
	}
	return 0, false, p.errf("function arguments expected")
}

// parseTableConstructor compiles a `{ ... }` literal via
// code.TableConstructor, dispatching each entry to AddArrayField
// (bare positional expressions) or a direct SETTABLE
// (bracketed/named hash fields).
func (p *Parser) parseTableConstructor() (code.ExprDesc, error) {
	line := p.tok.Line
	if err := p.expect(TokLBrace, "'{'"); err != nil {
		return code.ExprDesc{}, err
	}
	fs := p.f.fs
	tc, err := code.NewTableConstructor(fs, line)
	if err != nil {
		return code.ExprDesc{}, err
	}
	for p.tok.Kind != TokRBrace {
		switch {
		case p.tok.Kind == TokLBracket:
			if err := p.advance(); err != nil {
				return code.ExprDesc{}, err
			}
			key, err := p.parseExpr(0)
			if err != nil {
				return code.ExprDesc{}, err
			}
			if err := p.expect(TokRBracket, "']'"); err != nil {
				return code.ExprDesc{}, err
			}
			if err := p.expect(TokAssign, "'='"); err != nil {
				return code.ExprDesc{}, err
			}
			val, err := p.parseExpr(0)
			if err != nil {
				return code.ExprDesc{}, err
			}
			if err := p.emitHashField(tc, &key, &val); err != nil {
				return code.ExprDesc{}, err
			}
		case p.tok.Kind == TokName && p.peekIsAssign():
			field := p.tok.Str
			if err := p.advance(); err != nil { // name
				return code.ExprDesc{}, err
			}
			if err := p.advance(); err != nil { // '='
				return code.ExprDesc{}, err
			}
			idx, err := fs.StringConstant(p.strs, field)
			if err != nil {
				return code.ExprDesc{}, err
			}
			key := code.NewKExpr(idx)
			val, err := p.parseExpr(0)
			if err != nil {
				return code.ExprDesc{}, err
			}
			if err := p.emitHashField(tc, &key, &val); err != nil {
				return code.ExprDesc{}, err
			}
		default:
			val, err := p.parseExpr(0)
			if err != nil {
				return code.ExprDesc{}, err
			}
			if err := fs.ToNextReg(&val); err != nil {
				return code.ExprDesc{}, err
			}
			if err := tc.AddArrayField(); err != nil {
				return code.ExprDesc{}, err
			}
		}
		ok, err := p.accept(TokComma)
		if err != nil {
			return code.ExprDesc{}, err
		}
		if !ok {
			ok2, err := p.accept(TokSemi)
			if err != nil {
				return code.ExprDesc{}, err
			}
			if !ok2 {
				break
			}
		}
	}
	if err := p.expect(TokRBrace, "'}'"); err != nil {
		return code.ExprDesc{}, err
	}
	if err := tc.Close(); err != nil {
		return code.ExprDesc{}, err
	}
	return code.NewNonRelocExpr(tc.Reg()), nil
}

func (p *Parser) emitHashField(tc *code.TableConstructor, key, val *code.ExprDesc) error {
	fs := p.f.fs
	krk, err := fs.ToRK(key)
	if err != nil {
		return err
	}
	vrk, err := fs.ToRK(val)
	if err != nil {
		return err
	}
	fs.EmitABC(code.OpSetTable, tc.Reg(), krk, vrk, fs.CurrentLine())
	freeRK(fs, vrk)
	freeRK(fs, krk)
	tc.AddHashField()
	return nil
}
