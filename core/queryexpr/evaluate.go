package queryexpr

import (
	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/core/mathexpr"
)

// ColumnEvaluator is the per-column evaluation contract: "ask the
// Column's Index to produce a Bitvector" (spec §4.4.3), one method per
// leaf predicate kind. core/column implements this directly against its
// loaded Index.
type ColumnEvaluator interface {
	EvaluateRange(r ContinuousRange) (*bitvector.Bitvector, error)
	EvaluateDiscrete(r DiscreteRange) (*bitvector.Bitvector, error)
	EvaluateStringEq(p StringEq) (*bitvector.Bitvector, error)
	EvaluateMultiString(p MultiString) (*bitvector.Bitvector, error)
	EvaluateAnyOf(p AnyOf) (*bitvector.Bitvector, error)
}

// Columns resolves column names to their evaluator and supplies the
// tree-wide context (row count, MathTerm Env, join resolution) Evaluate
// needs for nodes that are not single-column range predicates.
type Columns interface {
	Column(name string) (ColumnEvaluator, error)
	NRows() int
	MathEnv() mathexpr.Env
	// EvaluateJoin resolves a Join node. A Columns implementation with no
	// join support may return a StateViolation error.
	EvaluateJoin(leftColumn, rightColumn string) (*bitvector.Bitvector, error)
}

// Evaluate walks e, delegating each leaf predicate to cols and combining
// results by the boolean tree structure, short-circuiting whenever an
// intermediate result is provably all-zero (spec §4.4.3).
func Evaluate(e QueryExpr, cols Columns) (*bitvector.Bitvector, error) {
	switch t := e.(type) {
	case And:
		l, err := Evaluate(t.Left, cols)
		if err != nil {
			return nil, err
		}
		if l.Cnt() == 0 {
			return l, nil
		}
		r, err := Evaluate(t.Right, cols)
		if err != nil {
			return nil, err
		}
		return bitvector.And(l, r)
	case Or:
		l, err := Evaluate(t.Left, cols)
		if err != nil {
			return nil, err
		}
		r, err := Evaluate(t.Right, cols)
		if err != nil {
			return nil, err
		}
		return bitvector.Or(l, r)
	case Xor:
		l, err := Evaluate(t.Left, cols)
		if err != nil {
			return nil, err
		}
		r, err := Evaluate(t.Right, cols)
		if err != nil {
			return nil, err
		}
		return bitvector.Xor(l, r)
	case AndNot:
		l, err := Evaluate(t.Left, cols)
		if err != nil {
			return nil, err
		}
		if l.Cnt() == 0 {
			return l, nil
		}
		r, err := Evaluate(t.Right, cols)
		if err != nil {
			return nil, err
		}
		return bitvector.Minus(l, r)
	case Not:
		x, err := Evaluate(t.X, cols)
		if err != nil {
			return nil, err
		}
		return x.Not(), nil
	case ContinuousRange:
		col, err := cols.Column(t.Column)
		if err != nil {
			return nil, err
		}
		return col.EvaluateRange(t)
	case DiscreteRange:
		col, err := cols.Column(t.Column)
		if err != nil {
			return nil, err
		}
		return col.EvaluateDiscrete(t)
	case StringEq:
		col, err := cols.Column(t.Column)
		if err != nil {
			return nil, err
		}
		return col.EvaluateStringEq(t)
	case MultiString:
		col, err := cols.Column(t.Column)
		if err != nil {
			return nil, err
		}
		return col.EvaluateMultiString(t)
	case AnyOf:
		col, err := cols.Column(t.Column)
		if err != nil {
			return nil, err
		}
		return col.EvaluateAnyOf(t)
	case Compare:
		return evaluateCompare(t, cols)
	case Join:
		return cols.EvaluateJoin(t.LeftColumn, t.RightColumn)
	default:
		return nil, errorsx.NewStateViolation("queryexpr.Evaluate", "unknown node type")
	}
}

// evaluateCompare scans every row since a Compare node wraps arbitrary
// MathTerms rather than a single indexed column; NULL on either side
// makes the comparison false, mirroring SQL's three-valued logic the
// teacher's compare.go documents.
func evaluateCompare(c Compare, cols Columns) (*bitvector.Bitvector, error) {
	env := cols.MathEnv()
	n := cols.NRows()
	out := bitvector.New(n)
	for row := 0; row < n; row++ {
		lv, lnull, err := c.Left.Eval(row, env)
		if err != nil {
			return nil, err
		}
		rv, rnull, err := c.Right.Eval(row, env)
		if err != nil {
			return nil, err
		}
		if lnull || rnull {
			continue
		}
		if compareMatches(c.Op, lv, rv) {
			out.SetBit(row)
		}
	}
	return out, nil
}

func compareMatches(op CompareOp, l, r float64) bool {
	switch op {
	case OpLT:
		return l < r
	case OpLE:
		return l <= r
	case OpGT:
		return l > r
	case OpGE:
		return l >= r
	case OpEQ:
		return l == r
	case OpNE:
		return l != r
	default:
		return false
	}
}
