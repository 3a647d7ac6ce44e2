package queryexpr

import (
	"testing"

	"github.com/relicstore/ibis/core/mathexpr"
)

func TestSimplifyPrunesEmptyAnd(t *testing.T) {
	empty := NewContinuousRange("age", OpLE, 10, OpLE, 5) // Lo=10 > Hi-ish, empty
	other := NewPointRange("age", 3)
	got := Simplify(And{Left: empty, Right: other}, false)
	if !got.IsEmpty() {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestSimplifyDropsEmptyOrOperand(t *testing.T) {
	empty := DiscreteRange{Column: "x", Values: nil}
	kept := NewPointRange("age", 3)
	got := Simplify(Or{Left: empty, Right: kept}, false)
	if got != QueryExpr(kept) {
		t.Fatalf("expected bare kept range, got %#v", got)
	}
}

func TestSimplifyFusesSameColumnRanges(t *testing.T) {
	a := NewContinuousRange("age", OpGE, 10, OpUndefined, 0) // age >= 10
	b := NewContinuousRange("age", OpUndefined, 0, OpLT, 20) // age < 20
	got := Simplify(And{Left: a, Right: b}, false)
	r, ok := got.(ContinuousRange)
	if !ok {
		t.Fatalf("expected fused ContinuousRange, got %T", got)
	}
	if r.Lo != 10 || r.Hi != 20 || !r.HasLo || !r.HasHi {
		t.Errorf("got range %+v", r)
	}
}

func TestSimplifyFusesThroughAndChain(t *testing.T) {
	a := NewContinuousRange("age", OpGE, 10, OpUndefined, 0)
	b := StringEq{Column: "name", Value: "bob"}
	c := NewContinuousRange("age", OpUndefined, 0, OpLT, 20)
	got := Simplify(And{Left: And{Left: a, Right: b}, Right: c}, false)
	and, ok := got.(And)
	if !ok {
		t.Fatalf("expected And, got %T (%s)", got, got)
	}
	// one side should be the fused age range, the other the StringEq.
	var rangeSide ContinuousRange
	var sawString bool
	for _, side := range []QueryExpr{and.Left, and.Right} {
		switch v := side.(type) {
		case ContinuousRange:
			rangeSide = v
		case StringEq:
			sawString = true
		}
	}
	if !sawString {
		t.Fatalf("expected StringEq to survive fusion, got %s", got)
	}
	if rangeSide.Lo != 10 || rangeSide.Hi != 20 {
		t.Errorf("got fused range %+v", rangeSide)
	}
}

func TestSimplifyDoubleNegation(t *testing.T) {
	a := NewPointRange("age", 3)
	got := Simplify(Not{X: Not{X: a}}, false)
	if got != QueryExpr(a) {
		t.Fatalf("expected NOT NOT a == a, got %s", got)
	}
}

func TestSimplifyAndNotSelfIsEmpty(t *testing.T) {
	a := NewPointRange("age", 3)
	got := Simplify(AndNot{Left: a, Right: a}, false)
	if !got.IsEmpty() {
		t.Fatalf("expected a ANDNOT a == empty, got %s", got)
	}
}

func TestSimplifyAffineReduction(t *testing.T) {
	// (2*x + 1) < 11  =>  x < 5
	term := Compare{
		Left: mathexpr.BinExpr{
			Op:    mathexpr.OpAdd,
			Left:  mathexpr.BinExpr{Op: mathexpr.OpMul, Left: mathexpr.Number{Value: 2}, Right: mathexpr.Variable{Column: "x"}},
			Right: mathexpr.Number{Value: 1},
		},
		Op:    OpLT,
		Right: mathexpr.Number{Value: 11},
	}
	got := Simplify(term, false)
	r, ok := got.(ContinuousRange)
	if !ok {
		t.Fatalf("expected ContinuousRange, got %T (%s)", got, got)
	}
	if r.Column != "x" || !r.HasHi || r.Hi != 5 || r.HasLo {
		t.Errorf("got %+v", r)
	}
}

func TestSimplifyAffineReductionNegativeSlopeFlipsOp(t *testing.T) {
	// (-x + 10) > 4  =>  -x > -6  =>  x < 6
	term := Compare{
		Left: mathexpr.BinExpr{
			Op:    mathexpr.OpAdd,
			Left:  mathexpr.Negate{X: mathexpr.Variable{Column: "x"}},
			Right: mathexpr.Number{Value: 10},
		},
		Op:    OpGT,
		Right: mathexpr.Number{Value: 4},
	}
	got := Simplify(term, false)
	r, ok := got.(ContinuousRange)
	if !ok {
		t.Fatalf("expected ContinuousRange, got %T (%s)", got, got)
	}
	if r.Column != "x" || !r.HasHi || r.Hi != 6 {
		t.Errorf("got %+v", r)
	}
}

func TestSimplifyConstantFoldsCompare(t *testing.T) {
	term := Compare{
		Left:  mathexpr.BinExpr{Op: mathexpr.OpMul, Left: mathexpr.Number{Value: 2}, Right: mathexpr.Number{Value: 3}},
		Op:    OpEQ,
		Right: mathexpr.Number{Value: 6},
	}
	got := Simplify(term, false)
	c, ok := got.(Compare)
	if !ok {
		t.Fatalf("expected Compare (no column to reduce to), got %T", got)
	}
	n, ok := c.Left.(mathexpr.Number)
	if !ok || n.Value != 6 {
		t.Errorf("expected folded Number(6), got %#v", c.Left)
	}
}
