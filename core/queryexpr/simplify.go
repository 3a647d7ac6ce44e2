package queryexpr

import (
	"math"

	"github.com/relicstore/ibis/core/mathexpr"
)

// emptyRange is a distinguished ContinuousRange value that denotes "no
// rows", used internally so Simplify can propagate emptiness upward
// without a separate sentinel node type.
var emptyRange = ContinuousRange{Lo: 0, Hi: 0, HasLo: true, HasHi: true}

func isEmpty(e QueryExpr) bool { return e.IsEmpty() }

// Simplify applies the pure rewrite rules of spec §4.4.1: recursive
// simplification, empty-range pruning, same-column range fusion,
// affine-comparison reduction, and MathTerm constant folding (with
// inverse-function cancellation gated by preserveInputExpressions).
func Simplify(e QueryExpr, preserveInputExpressions bool) QueryExpr {
	switch t := e.(type) {
	case And:
		l := Simplify(t.Left, preserveInputExpressions)
		r := Simplify(t.Right, preserveInputExpressions)
		if isEmpty(l) || isEmpty(r) {
			return emptyRange
		}
		if fused, ok := fuseAnd(l, r); ok {
			return fused
		}
		return And{Left: l, Right: r}
	case Or:
		l := Simplify(t.Left, preserveInputExpressions)
		r := Simplify(t.Right, preserveInputExpressions)
		if isEmpty(l) {
			return r
		}
		if isEmpty(r) {
			return l
		}
		return Or{Left: l, Right: r}
	case Xor:
		l := Simplify(t.Left, preserveInputExpressions)
		r := Simplify(t.Right, preserveInputExpressions)
		return Xor{Left: l, Right: r}
	case AndNot:
		l := Simplify(t.Left, preserveInputExpressions)
		r := Simplify(t.Right, preserveInputExpressions)
		if isEmpty(l) {
			return emptyRange
		}
		if isEmpty(r) {
			return l
		}
		if equalLeaf(l, r) {
			return emptyRange // a ANDNOT a == empty
		}
		return AndNot{Left: l, Right: r}
	case Not:
		x := Simplify(t.X, preserveInputExpressions)
		if inner, ok := x.(Not); ok {
			return inner.X // NOT NOT a == a
		}
		return Not{X: x}
	case Compare:
		return simplifyCompare(t, preserveInputExpressions)
	default:
		return e
	}
}

// fuseAnd tries to combine l and r into a single range predicate when
// they (or a range reachable through an And chain) constrain the same
// column, per §4.4.1's "fuse two range predicates on the same column
// under AND into a single intersected range (six cases)".
func fuseAnd(l, r QueryExpr) (QueryExpr, bool) {
	lr, lok := l.(ContinuousRange)
	rr, rok := r.(ContinuousRange)
	if lok && rok && lr.Column == rr.Column {
		return intersectRanges(lr, rr), true
	}
	// Descend into an And chain on one side looking for a fusable sibling,
	// so (a AND b) AND c fuses c into whichever of a/b shares its column.
	if la, ok := l.(And); ok && rok {
		if fused, ok := fuseAnd(la.Right, r); ok {
			return And{Left: la.Left, Right: fused}, true
		}
		if fused, ok := fuseAnd(la.Left, r); ok {
			return And{Left: fused, Right: la.Right}, true
		}
	}
	if ra, ok := r.(And); ok && lok {
		if fused, ok := fuseAnd(l, ra.Left); ok {
			return And{Left: fused, Right: ra.Right}, true
		}
		if fused, ok := fuseAnd(l, ra.Right); ok {
			return And{Left: ra.Left, Right: fused}, true
		}
	}
	return nil, false
}

// intersectRanges covers all six combinations spec §4.4.1 names
// (two-sided∩two-sided, two-sided∩one-sided-lower, two-sided∩one-sided-
// upper, lower∩lower, upper∩upper, lower∩upper/equality) uniformly: a
// half-open interval is the pair (inclusive lower, exclusive upper), so
// intersection is just the tighter bound on each side, taken
// independently of which side either operand left unbounded.
func intersectRanges(a, b ContinuousRange) ContinuousRange {
	out := ContinuousRange{Column: a.Column}
	switch {
	case a.HasLo && b.HasLo:
		out.Lo, out.HasLo = math.Max(a.Lo, b.Lo), true
	case a.HasLo:
		out.Lo, out.HasLo = a.Lo, true
	case b.HasLo:
		out.Lo, out.HasLo = b.Lo, true
	}
	switch {
	case a.HasHi && b.HasHi:
		out.Hi, out.HasHi = math.Min(a.Hi, b.Hi), true
	case a.HasHi:
		out.Hi, out.HasHi = a.Hi, true
	case b.HasHi:
		out.Hi, out.HasHi = b.Hi, true
	}
	return out
}

// equalLeaf reports structural equality for the leaf predicate types
// Simplify can prove redundant (a AND NOT a); compound nodes are never
// considered equal here since proving that in general isn't worth it.
func equalLeaf(l, r QueryExpr) bool {
	switch a := l.(type) {
	case ContinuousRange:
		b, ok := r.(ContinuousRange)
		return ok && a.Column == b.Column && a.HasLo == b.HasLo && a.HasHi == b.HasHi &&
			a.Lo == b.Lo && a.Hi == b.Hi
	case StringEq:
		b, ok := r.(StringEq)
		return ok && a.Column == b.Column && a.Value == b.Value
	default:
		return false
	}
}

// affineTerm returns (column, a, b, true) when term is equivalent to
// a*x+b for a single Variable x, walking Negate/BinExpr(Add,Sub,Mul)
// nodes against Number literals. It does not attempt general symbolic
// simplification — only the shapes a query planner would plausibly
// produce.
func affineTerm(term mathexpr.MathTerm) (column string, a, b float64, ok bool) {
	switch t := term.(type) {
	case mathexpr.Variable:
		return t.Column, 1, 0, true
	case mathexpr.Negate:
		col, ta, tb, ok := affineTerm(t.X)
		if !ok {
			return "", 0, 0, false
		}
		return col, -ta, -tb, true
	case mathexpr.BinExpr:
		if n, isNum := t.Left.(mathexpr.Number); isNum {
			col, ta, tb, ok := affineTerm(t.Right)
			if !ok {
				return "", 0, 0, false
			}
			switch t.Op {
			case mathexpr.OpAdd:
				return col, ta, tb + n.Value, true
			case mathexpr.OpSub: // n - (a*x+b) = -a*x + (n-b)
				return col, -ta, n.Value - tb, true
			case mathexpr.OpMul:
				return col, ta * n.Value, tb * n.Value, true
			}
		}
		if n, isNum := t.Right.(mathexpr.Number); isNum {
			col, ta, tb, ok := affineTerm(t.Left)
			if !ok {
				return "", 0, 0, false
			}
			switch t.Op {
			case mathexpr.OpAdd:
				return col, ta, tb + n.Value, true
			case mathexpr.OpSub:
				return col, ta, tb - n.Value, true
			case mathexpr.OpMul:
				return col, ta * n.Value, tb * n.Value, true
			case mathexpr.OpDiv:
				if n.Value != 0 {
					return col, ta / n.Value, tb / n.Value, true
				}
			}
		}
	}
	return "", 0, 0, false
}

// simplifyCompare constant-folds both sides and, when one side reduces
// to a bare Number and the other is affine in a single column, rewrites
// the comparison into a ContinuousRange by inverting a*x+b (§4.4.1's
// "reduce compRange ... by inverting the affine map").
func simplifyCompare(c Compare, preserveInputExpressions bool) QueryExpr {
	l := mathexpr.Fold(c.Left, preserveInputExpressions)
	r := mathexpr.Fold(c.Right, preserveInputExpressions)
	folded := Compare{Left: l, Right: r, Op: c.Op}

	if ln, ok := l.(mathexpr.Number); ok {
		if col, a, b, aok := affineTerm(r); aok {
			if rng, ok := invertAffine(col, a, b, flipOp(c.Op), ln.Value); ok {
				return rng
			}
		}
	}
	if rn, ok := r.(mathexpr.Number); ok {
		if col, a, b, aok := affineTerm(l); aok {
			if rng, ok := invertAffine(col, a, b, c.Op, rn.Value); ok {
				return rng
			}
		}
	}
	return folded
}

func flipOp(op CompareOp) CompareOp {
	switch op {
	case OpLT:
		return OpGT
	case OpLE:
		return OpGE
	case OpGT:
		return OpLT
	case OpGE:
		return OpLE
	default:
		return op
	}
}

// invertAffine solves a*x+b op target for x, returning the equivalent
// ContinuousRange. a == 0 is not invertible (the comparison no longer
// references the column) and is left to the caller.
func invertAffine(column string, a, b float64, op CompareOp, target float64) (ContinuousRange, bool) {
	if a == 0 {
		return ContinuousRange{}, false
	}
	x := (target - b) / a
	effOp := op
	if a < 0 {
		effOp = flipOp(op)
	}
	switch effOp {
	case OpEQ:
		return NewPointRange(column, x), true
	case OpLT: // column < x
		return NewContinuousRange(column, OpUndefined, 0, OpLT, x), true
	case OpLE: // column <= x
		return NewContinuousRange(column, OpUndefined, 0, OpLE, x), true
	case OpGT: // column > x  ==  x < column
		return NewContinuousRange(column, OpLT, x, OpUndefined, 0), true
	case OpGE: // column >= x  ==  x <= column
		return NewContinuousRange(column, OpLE, x, OpUndefined, 0), true
	default:
		return ContinuousRange{}, false
	}
}
