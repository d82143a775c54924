package expr

import (
	"math/big"
	"time"

	"github.com/dotrongnhan/saplgo/value"
)

// Expr is one node of a compiled expression tree (spec.md §4.2: "A
// compiled expression is one of: literal, variable reference, ...").
// Compilation (turning SAPL source text into this tree) is an external
// collaborator's responsibility (spec.md §6.1); this package only
// evaluates already-compiled trees.
type Expr interface {
	Eval(ec *EvalContext) value.Value
}

// Literal is a constant value.
type Literal struct {
	Value value.Value
}

func (l *Literal) Eval(ec *EvalContext) value.Value { return l.Value }

// Var is a variable reference: `subject`, `action`, `resource`,
// `environment`, or a name bound by `var` in a policy body / pdp.json.
type Var struct {
	Name string
}

func (v *Var) Eval(ec *EvalContext) value.Value { return ec.Variable(v.Name) }

// Current is `@`. Compile rejects any "current" node reachable outside a
// subtemplate's template (spec.md §4.2 invariant ii), so this Eval-time
// check is only reached by a tree built by hand rather than through
// Compile.
type Current struct{ Loc value.Location }

func (c *Current) Eval(ec *EvalContext) value.Value {
	v, ok := ec.Current()
	if !ok {
		return value.Err("scope", "'@' referenced outside a filter/subtemplate/condition body").At(c.Loc, value.Metadata{Location: &c.Loc})
	}
	return v
}

// Index is `#`.
type Index struct{ Loc value.Location }

func (i *Index) Eval(ec *EvalContext) value.Value {
	idx, ok := ec.Index()
	if !ok {
		return value.Err("scope", "'#' referenced outside an iteration").At(i.Loc, value.Metadata{Location: &i.Loc})
	}
	return value.NumberFromInt(idx)
}

// Key, Idx, Slice, Wildcard, IndexUnion, AttrUnion, RecKey, RecIndex,
// RecWildcard, ExprStep form the path step chain (spec.md §4.2.1).

type Key struct {
	Base Expr
	Name string
}

func (s *Key) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	return KeyStep(base, s.Name)
}

type Idx struct {
	Base  Expr
	Index Expr
}

func (s *Idx) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	idx := s.Index.Eval(ec)
	if idx.IsError() {
		return idx
	}
	return IndexStep(base, idx)
}

type Slice struct {
	Base             Expr
	From, To, Step   Expr // nil means "not specified"
}

func (s *Slice) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	from, to, step := value.UNDEFINED, value.UNDEFINED, value.UNDEFINED
	if s.From != nil {
		from = s.From.Eval(ec)
	}
	if s.To != nil {
		to = s.To.Eval(ec)
	}
	if s.Step != nil {
		step = s.Step.Eval(ec)
	}
	return SliceStep(base, from, to, step)
}

type Wildcard struct{ Base Expr }

func (s *Wildcard) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	return WildcardStep(base)
}

type IndexUnion struct {
	Base    Expr
	Indices []Expr
}

func (s *IndexUnion) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	vals := make([]value.Value, len(s.Indices))
	for i, e := range s.Indices {
		vals[i] = e.Eval(ec)
		if vals[i].IsError() {
			return vals[i]
		}
	}
	return IndexUnionStep(base, vals)
}

type AttrUnion struct {
	Base Expr
	Keys []string
}

func (s *AttrUnion) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	return AttributeUnionStep(base, s.Keys)
}

type RecKey struct {
	Base Expr
	Name string
	Loc  value.Location
}

func (s *RecKey) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	return RecursiveKeyStep(ec, base, s.Name, s.Loc)
}

type RecIndex struct {
	Base  Expr
	Index int64
	Loc   value.Location
}

func (s *RecIndex) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	return RecursiveIndexStep(ec, base, s.Index, s.Loc)
}

type RecWildcard struct {
	Base Expr
	Loc  value.Location
}

func (s *RecWildcard) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	if base.IsError() {
		return base
	}
	return RecursiveWildcardStep(ec, base, s.Loc)
}

type ExprStep struct {
	Base    Expr
	Operand Expr
}

func (s *ExprStep) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	operand := s.Operand.Eval(ec)
	return ExpressionStep(base, operand)
}

// SimpleFilter is `base |- [each] fn(args...)` (spec.md §4.2.2).
type SimpleFilter struct {
	Base Expr
	Each bool
	Fn   FilterFunc
	Args []Expr
}

func (f *SimpleFilter) Eval(ec *EvalContext) value.Value {
	base := f.Base.Eval(ec)
	args := make([]value.Value, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.Eval(ec)
	}
	return ApplySimpleFilter(ec, base, f.Each, f.Fn, args)
}

// ExtendedFilter is `base |- { target : fn, ... }` (spec.md §4.2.2).
type ExtendedFilter struct {
	Base    Expr
	Entries []FilterEntry
}

func (f *ExtendedFilter) Eval(ec *EvalContext) value.Value {
	base := f.Base.Eval(ec)
	return ApplyExtendedFilter(ec, base, f.Entries)
}

// Subtemplate is `base :: template` (spec.md §4.2.2).
type Subtemplate struct {
	Base     Expr
	Template Expr
}

func (s *Subtemplate) Eval(ec *EvalContext) value.Value {
	base := s.Base.Eval(ec)
	return EvalSubtemplate(ec, base, s.Template)
}

// Conditional is `if cond then a else b`.
type Conditional struct {
	If, Then, Else Expr
}

func (c *Conditional) Eval(ec *EvalContext) value.Value {
	cond := c.If.Eval(ec)
	if cond.IsError() {
		return cond
	}
	if cond.IsTrue() {
		return c.Then.Eval(ec)
	}
	if c.Else == nil {
		return value.UNDEFINED
	}
	return c.Else.Eval(ec)
}

// FuncCall invokes a function resolved through the FunctionBroker (spec.md
// §4.2.3).
type FuncCall struct {
	Name string
	Args []Expr
	Loc  value.Location
}

func (f *FuncCall) Eval(ec *EvalContext) value.Value {
	args := make([]value.Value, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.Eval(ec)
		if args[i].IsError() {
			return args[i]
		}
	}
	if ec.Functions == nil {
		return value.Err("function", "invalid function name").At(f.Loc, value.Metadata{Location: &f.Loc})
	}
	fn, minArity, maxArity, ok := ec.Functions.Resolve(f.Name)
	if !ok {
		return value.Err("function", "invalid function name").At(f.Loc, value.Metadata{Location: &f.Loc})
	}
	if len(args) < minArity || (maxArity >= 0 && len(args) > maxArity) {
		return value.Errorf("function", "%s expects between %d and %d arguments, got %d", f.Name, minArity, maxArity, len(args)).At(f.Loc, value.Metadata{Location: &f.Loc})
	}
	return fn(args)
}

// AttrCall invokes an attribute resolved through the AttributeBroker
// (spec.md §4.2.3). entity is the expression the attribute is invoked on
// (`entity.<prefix>.name(args)`); it is recorded for tracing.
type AttrCall struct {
	Entity Expr
	Name   string
	Args   []Expr
	Loc    value.Location
}

func (a *AttrCall) Eval(ec *EvalContext) value.Value {
	entity := value.UNDEFINED
	if a.Entity != nil {
		entity = a.Entity.Eval(ec)
		if entity.IsError() {
			return entity
		}
	}
	args := make([]value.Value, len(a.Args))
	for i, arg := range a.Args {
		args[i] = arg.Eval(ec)
		if args[i].IsError() {
			return args[i]
		}
	}
	if ec.Attributes == nil {
		return value.Err("attribute", "invalid attribute name").At(a.Loc, value.Metadata{Location: &a.Loc})
	}
	stream, ok := ec.Attributes.Resolve(a.Name, entity, args)
	if !ok {
		return value.Err("attribute", "invalid attribute name").At(a.Loc, value.Metadata{Location: &a.Loc})
	}

	result := value.UNDEFINED
	cancel := stream.Subscribe(ec.Sub, func(v value.Value) {
		result = v
		if ec.OnAttribute != nil {
			ec.OnAttribute(AttributeRecord{
				Name:            a.Name,
				ConfigurationID: ec.ConfigurationID,
				Entity:          entity,
				Arguments:       args,
				RetrievedAt:     time.Now(),
				Value:           v,
			})
		}
	})
	_ = cancel // one-shot evaluation: caller owns stream lifetime via ec.Sub
	return result
}

// BinaryOp covers arithmetic/comparison/logical binary operators.
type BinaryOp struct {
	Op    string
	Left  Expr
	Right Expr
	Loc   value.Location
}

func (b *BinaryOp) Eval(ec *EvalContext) value.Value {
	switch b.Op {
	case "&&", "and":
		l := b.Left.Eval(ec)
		if l.IsError() {
			return l
		}
		if !l.IsTrue() {
			return value.FALSE
		}
		r := b.Right.Eval(ec)
		if r.IsError() {
			return r
		}
		return value.Boolean(r.IsTrue())
	case "||", "or":
		l := b.Left.Eval(ec)
		if l.IsError() {
			return l
		}
		if l.IsTrue() {
			return value.TRUE
		}
		r := b.Right.Eval(ec)
		if r.IsError() {
			return r
		}
		return value.Boolean(r.IsTrue())
	}

	l := b.Left.Eval(ec)
	if l.IsError() {
		return l
	}
	r := b.Right.Eval(ec)
	if r.IsError() {
		return r
	}
	meta := l.Metadata().Merge(r.Metadata())

	switch b.Op {
	case "==":
		return value.Boolean(value.Equal(l, r)).WithMetadata(meta)
	case "!=":
		return value.Boolean(!value.Equal(l, r)).WithMetadata(meta)
	}

	if !l.IsNumber() || !r.IsNumber() {
		return value.Errorf("arithmetic", "operator %s requires numbers, got %s and %s", b.Op, l.Kind(), r.Kind()).At(b.Loc, meta)
	}
	lr, _ := l.Rat()
	rr, _ := r.Rat()
	switch b.Op {
	case "+":
		return value.NumberFromRat(new(big.Rat).Add(lr, rr)).WithMetadata(meta)
	case "-":
		return value.NumberFromRat(new(big.Rat).Sub(lr, rr)).WithMetadata(meta)
	case "*":
		return value.NumberFromRat(new(big.Rat).Mul(lr, rr)).WithMetadata(meta)
	case "/":
		if rr.Sign() == 0 {
			return value.Err("arithmetic", "division by zero").At(b.Loc, meta)
		}
		return value.NumberFromRat(new(big.Rat).Quo(lr, rr)).WithMetadata(meta)
	case "<":
		return value.Boolean(lr.Cmp(rr) < 0).WithMetadata(meta)
	case "<=":
		return value.Boolean(lr.Cmp(rr) <= 0).WithMetadata(meta)
	case ">":
		return value.Boolean(lr.Cmp(rr) > 0).WithMetadata(meta)
	case ">=":
		return value.Boolean(lr.Cmp(rr) >= 0).WithMetadata(meta)
	default:
		return value.Errorf("operator", "unknown operator %s", b.Op).At(b.Loc, meta)
	}
}

// UnaryOp covers `!`/`not` and unary `-`.
type UnaryOp struct {
	Op   string
	Expr Expr
	Loc  value.Location
}

func (u *UnaryOp) Eval(ec *EvalContext) value.Value {
	v := u.Expr.Eval(ec)
	if v.IsError() {
		return v
	}
	switch u.Op {
	case "!", "not":
		return value.Boolean(!v.IsTrue())
	case "-":
		if !v.IsNumber() {
			return value.Errorf("arithmetic", "unary - requires a number, got %s", v.Kind()).At(u.Loc, v.Metadata())
		}
		r, _ := v.Rat()
		return value.NumberFromRat(new(big.Rat).Neg(r))
	default:
		return value.Errorf("operator", "unknown unary operator %s", u.Op).At(u.Loc, v.Metadata())
	}
}
