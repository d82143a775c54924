package expr

import (
	"encoding/json"
	"fmt"

	"github.com/dotrongnhan/saplgo/value"
)

// Node is the JSON interchange representation of a compiled expression.
// The spec treats the SAPL-text-to-AST compiler as an external
// collaborator (spec.md §6.1); this package defines the wire shape that
// external collaborator is expected to produce, since no concrete SAPL
// grammar is specified. Configuration sources and tests build Node trees
// directly or decode them from `*.sapl` documents authored as JSON.
type Node struct {
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
	Name  string          `json:"name,omitempty"`

	Base    *Node   `json:"base,omitempty"`
	Left    *Node   `json:"left,omitempty"`
	Right   *Node   `json:"right,omitempty"`
	Operand *Node   `json:"operand,omitempty"`
	Args    []*Node `json:"args,omitempty"`

	// path steps
	Key     string  `json:"key,omitempty"`
	Index   *Node   `json:"index,omitempty"`
	From    *Node   `json:"from,omitempty"`
	To      *Node   `json:"to,omitempty"`
	Step    *Node   `json:"step,omitempty"`
	Indices []*Node `json:"indices,omitempty"`
	Keys    []string `json:"keys,omitempty"`

	// filters
	Each     bool         `json:"each,omitempty"`
	Fn       string       `json:"fn,omitempty"`
	Entries  []FilterJSON `json:"entries,omitempty"`
	Template *Node        `json:"template,omitempty"`

	// conditional / function / attribute
	If     *Node  `json:"if,omitempty"`
	Then   *Node  `json:"then,omitempty"`
	ElseN  *Node  `json:"else,omitempty"`
	Entity *Node  `json:"entity,omitempty"`
}

// FilterJSON is one entry of an extended filter (`{"target":[...],"fn":
// "...", "args":[...]}`); a condition step is a target step carrying
// `"cond": <Node>`.
type FilterJSON struct {
	Target []TargetStepJSON `json:"target"`
	Fn     string           `json:"fn"`
	Args   []*Node          `json:"args,omitempty"`
}

// TargetStepJSON is one step of an extended-filter target path.
type TargetStepJSON struct {
	Key   string `json:"key,omitempty"`
	Index *int64 `json:"index,omitempty"`
	Cond  *Node  `json:"cond,omitempty"`
}

// Compile turns a Node tree into an evaluable Expr, resolving filter
// function names against cc's import table. Unresolved filter function
// names are deferred to evaluation time per spec.md §4.2.4 ("Unresolved
// references evaluate to Error at the position of use, not at compile
// time") by substituting a function that always produces that Error. A
// top-level Node is compiled outside any `@` scope (spec.md §4.2
// invariant ii); `@` only comes into scope inside a subtemplate's
// template, which compileNode tracks with inScope.
func Compile(n *Node, cc *CompilationContext) (Expr, error) {
	return compileNode(n, cc, false)
}

func compileNode(n *Node, cc *CompilationContext, inScope bool) (Expr, error) {
	if n == nil {
		return &Literal{Value: value.UNDEFINED}, nil
	}
	switch n.Op {
	case "literal":
		v, err := value.FromJSON(n.Value)
		if err != nil {
			return nil, fmt.Errorf("expr: literal: %w", err)
		}
		return &Literal{Value: v}, nil
	case "var":
		return &Var{Name: n.Name}, nil
	case "current":
		if !inScope {
			return nil, fmt.Errorf("expr: '@' referenced outside a filter/subtemplate/condition body")
		}
		return &Current{}, nil
	case "index":
		return &Index{}, nil
	case "key":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &Key{Base: base, Name: n.Key}, nil
	case "idx":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		idx, err := compileNode(n.Index, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &Idx{Base: base, Index: idx}, nil
	case "slice":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		from, err := compileOptional(n.From, cc, inScope)
		if err != nil {
			return nil, err
		}
		to, err := compileOptional(n.To, cc, inScope)
		if err != nil {
			return nil, err
		}
		step, err := compileOptional(n.Step, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &Slice{Base: base, From: from, To: to, Step: step}, nil
	case "wildcard":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &Wildcard{Base: base}, nil
	case "indexUnion":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		idxs := make([]Expr, len(n.Indices))
		for i, idxNode := range n.Indices {
			idxs[i], err = compileNode(idxNode, cc, inScope)
			if err != nil {
				return nil, err
			}
		}
		return &IndexUnion{Base: base, Indices: idxs}, nil
	case "attrUnion":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &AttrUnion{Base: base, Keys: n.Keys}, nil
	case "recKey":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &RecKey{Base: base, Name: n.Key}, nil
	case "recIndex":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		var idx int64
		if n.Index != nil {
			idxExpr, err := compileNode(n.Index, cc, inScope)
			if err != nil {
				return nil, err
			}
			lit, ok := idxExpr.(*Literal)
			if ok {
				idx, _ = lit.Value.Int()
			}
		}
		return &RecIndex{Base: base, Index: idx}, nil
	case "recWildcard":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &RecWildcard{Base: base}, nil
	case "exprStep":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		operand, err := compileNode(n.Operand, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &ExprStep{Base: base, Operand: operand}, nil
	case "filter":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		args, err := compileList(n.Args, cc, inScope)
		if err != nil {
			return nil, err
		}
		fn, ok := ResolveFilterFunc(cc, n.Fn)
		if !ok {
			fnName := n.Fn
			fn = func(value.Value, []value.Value) value.Value {
				return value.Errorf("function", "invalid function name: %s", fnName)
			}
		}
		return &SimpleFilter{Base: base, Each: n.Each, Fn: fn, Args: args}, nil
	case "filterExt":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		entries := make([]FilterEntry, len(n.Entries))
		for i, e := range n.Entries {
			steps := make([]FilterTargetStep, len(e.Target))
			for j, t := range e.Target {
				switch {
				case t.Cond != nil:
					// Target condition predicates must be static: `@` is
					// rejected here unconditionally, regardless of any
					// enclosing subtemplate scope (spec.md §4.2.2, §9
					// "Filter `[?(…)]` static restriction").
					condExpr, err := compileNode(t.Cond, cc, false)
					if err != nil {
						return nil, err
					}
					steps[j] = FilterTargetStep{Condition: condExpr}
				case t.Index != nil:
					steps[j] = FilterTargetStep{HasIndex: true, Index: *t.Index}
				default:
					steps[j] = FilterTargetStep{HasKey: true, Key: t.Key}
				}
			}
			fn, ok := ResolveFilterFunc(cc, e.Fn)
			if !ok {
				fnName := e.Fn
				fn = func(value.Value, []value.Value) value.Value {
					return value.Errorf("function", "invalid function name: %s", fnName)
				}
			}
			args, err := compileList(e.Args, cc, inScope)
			if err != nil {
				return nil, err
			}
			entries[i] = FilterEntry{Steps: steps, Fn: fn, Args: args}
		}
		return &ExtendedFilter{Base: base, Entries: entries}, nil
	case "subtemplate":
		base, err := compileNode(n.Base, cc, inScope)
		if err != nil {
			return nil, err
		}
		// The template is evaluated once per element with `@` rebound to
		// that element (spec.md §4.2.2); it is the only construct that
		// actually puts `@` in scope.
		tmpl, err := compileNode(n.Template, cc, true)
		if err != nil {
			return nil, err
		}
		return &Subtemplate{Base: base, Template: tmpl}, nil
	case "cond":
		ifE, err := compileNode(n.If, cc, inScope)
		if err != nil {
			return nil, err
		}
		thenE, err := compileNode(n.Then, cc, inScope)
		if err != nil {
			return nil, err
		}
		elseE, err := compileOptional(n.ElseN, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &Conditional{If: ifE, Then: thenE, Else: elseE}, nil
	case "func":
		args, err := compileList(n.Args, cc, inScope)
		if err != nil {
			return nil, err
		}
		name := n.Name
		if cc != nil {
			name = cc.Resolve(name)
		}
		return &FuncCall{Name: name, Args: args}, nil
	case "attr":
		entity, err := compileOptional(n.Entity, cc, inScope)
		if err != nil {
			return nil, err
		}
		args, err := compileList(n.Args, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &AttrCall{Entity: entity, Name: n.Name, Args: args}, nil
	case "not":
		operand, err := compileNode(n.Operand, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: "!", Expr: operand}, nil
	case "neg":
		operand, err := compileNode(n.Operand, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: "-", Expr: operand}, nil
	case "==", "!=", "<", "<=", ">", ">=", "+", "-", "*", "/", "&&", "||", "and", "or":
		left, err := compileNode(n.Left, cc, inScope)
		if err != nil {
			return nil, err
		}
		right, err := compileNode(n.Right, cc, inScope)
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: n.Op, Left: left, Right: right}, nil
	default:
		return nil, fmt.Errorf("expr: unknown op %q", n.Op)
	}
}

func compileOptional(n *Node, cc *CompilationContext, inScope bool) (Expr, error) {
	if n == nil {
		return nil, nil
	}
	return compileNode(n, cc, inScope)
}

func compileList(ns []*Node, cc *CompilationContext, inScope bool) ([]Expr, error) {
	out := make([]Expr, len(ns))
	for i, n := range ns {
		e, err := compileNode(n, cc, inScope)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
