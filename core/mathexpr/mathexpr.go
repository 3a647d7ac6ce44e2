// Package mathexpr implements MathTerm, the pure numeric expression tree
// used by QueryExpr's Compare node and by derived/computed columns.
package mathexpr

import (
	"fmt"
	"math"

	"github.com/relicstore/ibis/core/errorsx"
)

// BinOp identifies a binary arithmetic/bitwise operator.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpBitOr
	OpBitAnd
)

func (op BinOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpPow:
		return "**"
	case OpBitOr:
		return "|"
	case OpBitAnd:
		return "&"
	default:
		return fmt.Sprintf("BinOp(%d)", int(op))
	}
}

// Env resolves row-indexed column values for Variable nodes. Columns
// supply this; MathTerm stays independent of the column/partition layer
// so it can be unit tested in isolation, mirroring how the teacher's
// expr.Expr tree is decoupled from VDBE's runtime registers.
type Env interface {
	Value(col string, row int) (v float64, isNull bool, err error)
}

// MathTerm is the pure numeric expression sum type. Nodes are immutable
// once built: Simplify/Fold return new trees rather than mutating
// children in place (spec's "boxed children, not mutable aliased
// pointers" rule), unlike the teacher's single mutable Expr struct this
// is grounded on.
type MathTerm interface {
	// Eval evaluates the term for one row. A NULL operand propagates to a
	// NULL result, matching SQL arithmetic's NULL-propagation rule the
	// teacher's compare.go documents for comparisons.
	Eval(row int, env Env) (value float64, isNull bool, err error)
	// IsConstant reports whether the term contains no Variable reference.
	IsConstant() bool
	String() string
}

// Number is a constant literal.
type Number struct{ Value float64 }

func (n Number) Eval(int, Env) (float64, bool, error) { return n.Value, false, nil }
func (n Number) IsConstant() bool                      { return true }
func (n Number) String() string                        { return fmt.Sprintf("%g", n.Value) }

// Variable references a column's value at the row under evaluation.
type Variable struct{ Column string }

func (v Variable) Eval(row int, env Env) (float64, bool, error) {
	if env == nil {
		return 0, false, errorsx.NewStateViolation("mathexpr.Variable.Eval", "no Env supplied")
	}
	return env.Value(v.Column, row)
}
func (v Variable) IsConstant() bool { return false }
func (v Variable) String() string   { return v.Column }

// Negate is unary minus.
type Negate struct{ X MathTerm }

func (n Negate) Eval(row int, env Env) (float64, bool, error) {
	v, null, err := n.X.Eval(row, env)
	if err != nil || null {
		return 0, null, err
	}
	return -v, false, nil
}
func (n Negate) IsConstant() bool { return n.X.IsConstant() }
func (n Negate) String() string   { return fmt.Sprintf("(-%s)", n.X.String()) }

// BinExpr is a binary operator node.
type BinExpr struct {
	Op          BinOp
	Left, Right MathTerm
}

func (b BinExpr) Eval(row int, env Env) (float64, bool, error) {
	lv, lnull, err := b.Left.Eval(row, env)
	if err != nil {
		return 0, false, err
	}
	rv, rnull, err := b.Right.Eval(row, env)
	if err != nil {
		return 0, false, err
	}
	if lnull || rnull {
		return 0, true, nil
	}
	switch b.Op {
	case OpAdd:
		return lv + rv, false, nil
	case OpSub:
		return lv - rv, false, nil
	case OpMul:
		return lv * rv, false, nil
	case OpDiv:
		if rv == 0 {
			return 0, true, nil
		}
		return lv / rv, false, nil
	case OpMod:
		if rv == 0 {
			return 0, true, nil
		}
		return math.Mod(lv, rv), false, nil
	case OpPow:
		return math.Pow(lv, rv), false, nil
	case OpBitOr:
		return float64(int64(lv) | int64(rv)), false, nil
	case OpBitAnd:
		return float64(int64(lv) & int64(rv)), false, nil
	default:
		return 0, false, errorsx.NewStateViolation("mathexpr.BinExpr.Eval", fmt.Sprintf("unknown op %v", b.Op))
	}
}
func (b BinExpr) IsConstant() bool { return b.Left.IsConstant() && b.Right.IsConstant() }
func (b BinExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op.String(), b.Right.String())
}

// Func1 is a unary math function call (acos, sin, log, sqrt, abs, …).
type Func1 struct {
	Name string
	Arg  MathTerm
}

var func1Table = map[string]func(float64) float64{
	"abs":   math.Abs,
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"exp":   math.Exp,
	"log":   math.Log,
	"log10": math.Log10,
	"log2":  math.Log2,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.Round,
}

func (f Func1) Eval(row int, env Env) (float64, bool, error) {
	fn, ok := func1Table[f.Name]
	if !ok {
		return 0, false, errorsx.NewStateViolation("mathexpr.Func1.Eval", "unknown function "+f.Name)
	}
	v, null, err := f.Arg.Eval(row, env)
	if err != nil || null {
		return 0, null, err
	}
	return fn(v), false, nil
}
func (f Func1) IsConstant() bool { return f.Arg.IsConstant() }
func (f Func1) String() string   { return fmt.Sprintf("%s(%s)", f.Name, f.Arg.String()) }

// Func2 is a binary math function call (pow, atan2, mod, …).
type Func2 struct {
	Name string
	A, B MathTerm
}

var func2Table = map[string]func(a, b float64) float64{
	"pow":   math.Pow,
	"atan2": math.Atan2,
	"mod":   math.Mod,
	"min": func(a, b float64) float64 {
		if a < b {
			return a
		}
		return b
	},
	"max": func(a, b float64) float64 {
		if a > b {
			return a
		}
		return b
	},
}

func (f Func2) Eval(row int, env Env) (float64, bool, error) {
	fn, ok := func2Table[f.Name]
	if !ok {
		return 0, false, errorsx.NewStateViolation("mathexpr.Func2.Eval", "unknown function "+f.Name)
	}
	av, anull, err := f.A.Eval(row, env)
	if err != nil {
		return 0, false, err
	}
	bv, bnull, err := f.B.Eval(row, env)
	if err != nil {
		return 0, false, err
	}
	if anull || bnull {
		return 0, true, nil
	}
	return fn(av, bv), false, nil
}
func (f Func2) IsConstant() bool { return f.A.IsConstant() && f.B.IsConstant() }
func (f Func2) String() string {
	return fmt.Sprintf("%s(%s, %s)", f.Name, f.A.String(), f.B.String())
}

// inverseOf maps Func1 names whose composition with their inverse
// cancels to the identity (cos∘acos, exp∘log, …), used by Fold's
// inverse-function cancellation when PreserveInputExpressions is false.
var inverseOf = map[string]string{
	"acos": "cos", "cos": "acos",
	"asin": "sin", "sin": "asin",
	"atan": "tan", "tan": "atan",
	"log": "exp", "exp": "log",
}

// Fold constant-folds term into a Number wherever every operand beneath a
// node is itself constant, and applies inverse-function cancellation
// (f(f⁻¹(x)) → x) when preserveInputExpressions is false. It never
// mutates term's children; it builds new nodes.
func Fold(term MathTerm, preserveInputExpressions bool) MathTerm {
	switch t := term.(type) {
	case Number:
		return t
	case Variable:
		return t
	case Negate:
		x := Fold(t.X, preserveInputExpressions)
		if n, ok := x.(Number); ok {
			return Number{Value: -n.Value}
		}
		return Negate{X: x}
	case BinExpr:
		l := Fold(t.Left, preserveInputExpressions)
		r := Fold(t.Right, preserveInputExpressions)
		folded := BinExpr{Op: t.Op, Left: l, Right: r}
		if ln, lok := l.(Number); lok {
			if _, rok := r.(Number); rok {
				v, null, err := folded.Eval(0, nil)
				if err == nil && !null {
					return Number{Value: v}
				}
				_ = ln
			}
		}
		return folded
	case Func1:
		arg := Fold(t.Arg, preserveInputExpressions)
		if !preserveInputExpressions {
			if inner, ok := arg.(Func1); ok && inverseOf[t.Name] == inner.Name {
				return inner.Arg
			}
		}
		if n, ok := arg.(Number); ok {
			if fn, ok := func1Table[t.Name]; ok {
				return Number{Value: fn(n.Value)}
			}
		}
		return Func1{Name: t.Name, Arg: arg}
	case Func2:
		a := Fold(t.A, preserveInputExpressions)
		b := Fold(t.B, preserveInputExpressions)
		if an, aok := a.(Number); aok {
			if bn, bok := b.(Number); bok {
				if fn, ok := func2Table[t.Name]; ok {
					return Number{Value: fn(an.Value, bn.Value)}
				}
			}
		}
		return Func2{Name: t.Name, A: a, B: b}
	default:
		return term
	}
}
