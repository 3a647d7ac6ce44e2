package mathexpr

import (
	"math"
	"testing"
)

type fakeEnv map[string][]float64

func (e fakeEnv) Value(col string, row int) (float64, bool, error) {
	vals, ok := e[col]
	if !ok || row >= len(vals) {
		return 0, true, nil
	}
	return vals[row], false, nil
}

func TestBinExprArithmetic(t *testing.T) {
	env := fakeEnv{"x": {3, 4, 5}}
	term := BinExpr{Op: OpMul, Left: Variable{Column: "x"}, Right: Number{Value: 2}}
	for row, want := range []float64{6, 8, 10} {
		v, null, err := term.Eval(row, env)
		if err != nil || null {
			t.Fatalf("row %d: err=%v null=%v", row, err, null)
		}
		if v != want {
			t.Errorf("row %d: got %v want %v", row, v, want)
		}
	}
}

func TestDivisionByZeroIsNull(t *testing.T) {
	term := BinExpr{Op: OpDiv, Left: Number{Value: 1}, Right: Number{Value: 0}}
	_, null, err := term.Eval(0, nil)
	if err != nil || !null {
		t.Fatalf("expected null result, got err=%v null=%v", err, null)
	}
}

func TestNullPropagation(t *testing.T) {
	env := fakeEnv{} // "x" not present -> NULL
	term := BinExpr{Op: OpAdd, Left: Variable{Column: "x"}, Right: Number{Value: 1}}
	_, null, err := term.Eval(0, env)
	if err != nil || !null {
		t.Fatalf("expected null, got err=%v null=%v", err, null)
	}
}

func TestFoldConstantFolding(t *testing.T) {
	term := BinExpr{
		Op:   OpAdd,
		Left: BinExpr{Op: OpMul, Left: Number{Value: 2}, Right: Number{Value: 3}},
		Right: Number{Value: 4},
	}
	folded := Fold(term, false)
	n, ok := folded.(Number)
	if !ok {
		t.Fatalf("expected Number, got %T", folded)
	}
	if n.Value != 10 {
		t.Errorf("got %v want 10", n.Value)
	}
}

func TestFoldPreservesVariables(t *testing.T) {
	term := BinExpr{Op: OpAdd, Left: Variable{Column: "x"}, Right: Number{Value: 1}}
	folded := Fold(term, false)
	if folded.IsConstant() {
		t.Errorf("expected non-constant result, got %s", folded.String())
	}
}

func TestFoldInverseCancellation(t *testing.T) {
	term := Func1{Name: "cos", Arg: Func1{Name: "acos", Arg: Variable{Column: "x"}}}
	folded := Fold(term, false)
	v, ok := folded.(Variable)
	if !ok {
		t.Fatalf("expected cancellation to Variable, got %T (%s)", folded, folded.String())
	}
	if v.Column != "x" {
		t.Errorf("got column %q want x", v.Column)
	}
}

func TestFoldPreserveInputExpressionsDisablesInverseCancellation(t *testing.T) {
	term := Func1{Name: "cos", Arg: Func1{Name: "acos", Arg: Variable{Column: "x"}}}
	folded := Fold(term, true)
	if _, ok := folded.(Variable); ok {
		t.Fatal("expected cancellation to be suppressed when preserveInputExpressions is true")
	}
}

func TestFunc1Eval(t *testing.T) {
	term := Func1{Name: "sqrt", Arg: Number{Value: 16}}
	v, null, err := term.Eval(0, nil)
	if err != nil || null {
		t.Fatalf("err=%v null=%v", err, null)
	}
	if v != 4 {
		t.Errorf("got %v want 4", v)
	}
}

func TestFunc2Eval(t *testing.T) {
	term := Func2{Name: "pow", A: Number{Value: 2}, B: Number{Value: 10}}
	v, _, err := term.Eval(0, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if v != 1024 {
		t.Errorf("got %v want 1024", v)
	}
}

func TestUnknownFunc1ReturnsError(t *testing.T) {
	term := Func1{Name: "bogus", Arg: Number{Value: 1}}
	if _, _, err := term.Eval(0, nil); err == nil {
		t.Fatal("expected error for unknown function")
	}
}

func TestNegateInfinity(t *testing.T) {
	term := Negate{X: Number{Value: math.Inf(1)}}
	v, null, err := term.Eval(0, nil)
	if err != nil || null {
		t.Fatalf("err=%v null=%v", err, null)
	}
	if !math.IsInf(v, -1) {
		t.Errorf("got %v want -Inf", v)
	}
}
