// Package queryexpr implements QueryExpr, the boolean predicate tree
// evaluated against a partition's columns. Nodes are immutable values
// (boxed children, never mutated in place), retargeted from the teacher's
// SQL scalar Expr sum type to bitmap range predicates.
package queryexpr

import (
	"fmt"
	"math"
	"sort"

	"github.com/relicstore/ibis/core/index"
	"github.com/relicstore/ibis/core/mathexpr"
)

// CompareOp reuses the index package's scalar comparison enum so range
// bounds and index lookups share one vocabulary.
type CompareOp = index.CompareOp

const (
	OpUndefined = index.OpUndefined
	OpLT        = index.OpLT
	OpLE        = index.OpLE
	OpGT        = index.OpGT
	OpGE        = index.OpGE
	OpEQ        = index.OpEQ
	OpNE        = index.OpNE
)

// QueryExpr is the predicate tree sum type.
type QueryExpr interface {
	// IsEmpty reports whether this node is statically known to match no
	// rows, without touching any column data.
	IsEmpty() bool
	String() string
}

// --- logical combinators ---

type And struct{ Left, Right QueryExpr }
type Or struct{ Left, Right QueryExpr }
type Xor struct{ Left, Right QueryExpr }
type AndNot struct{ Left, Right QueryExpr } // Left AND NOT Right
type Not struct{ X QueryExpr }

func (And) IsEmpty() bool    { return false } // resolved by Simplify, not structurally
func (Or) IsEmpty() bool     { return false }
func (Xor) IsEmpty() bool    { return false }
func (AndNot) IsEmpty() bool { return false }
func (Not) IsEmpty() bool    { return false }

func (a And) String() string    { return fmt.Sprintf("(%s AND %s)", a.Left, a.Right) }
func (o Or) String() string     { return fmt.Sprintf("(%s OR %s)", o.Left, o.Right) }
func (x Xor) String() string    { return fmt.Sprintf("(%s XOR %s)", x.Left, x.Right) }
func (a AndNot) String() string { return fmt.Sprintf("(%s ANDNOT %s)", a.Left, a.Right) }
func (n Not) String() string    { return fmt.Sprintf("(NOT %s)", n.X) }

// --- continuous range ---

// ContinuousRange is a half-open value interval [Lo, Hi) on one column,
// after the canonicalization spec §6 mandates: a strict lower bound
// `lower < x` is rewritten to an inclusive one at the next representable
// float above lower, and an inclusive upper bound `x <= upper` is
// rewritten to a strict one at the next representable float above upper.
// LowOp/HighOp record the operators as given (OpUndefined for an
// unbounded side) purely for String(); Lo/Hi/HasLo/HasHi are the
// canonical bounds every evaluator and cost model actually consumes.
type ContinuousRange struct {
	Column          string
	LowOp, HighOp   CompareOp
	LowRaw, HighRaw float64
	Lo, Hi          float64
	HasLo, HasHi    bool
}

// NewContinuousRange builds a canonicalized range. lop relates lower to
// the column: OpLE/OpLT read as lower lop x, and OpGE/OpGT as x lop
// lower, so OpLE and OpGE give an inclusive lower bound and OpLT and
// OpGT a strict one. hop relates the column to upper (x hop upper).
// Pass OpUndefined with either operand to leave that side unbounded.
func NewContinuousRange(column string, lop CompareOp, lower float64, hop CompareOp, upper float64) ContinuousRange {
	r := ContinuousRange{Column: column, LowOp: lop, HighOp: hop, LowRaw: lower, HighRaw: upper}
	switch lop {
	case OpLE, OpGE:
		r.Lo, r.HasLo = lower, true
	case OpLT, OpGT:
		r.Lo, r.HasLo = math.Nextafter(lower, math.Inf(1)), true
	}
	switch hop {
	case OpLT:
		r.Hi, r.HasHi = upper, true
	case OpLE:
		r.Hi, r.HasHi = math.Nextafter(upper, math.Inf(1)), true
	}
	return r
}

// NewPointRange builds the canonical [v, v+ε) encoding of C = v.
func NewPointRange(column string, v float64) ContinuousRange {
	return NewContinuousRange(column, OpLE, v, OpLE, v)
}

func (r ContinuousRange) IsEmpty() bool {
	return r.HasLo && r.HasHi && r.Lo >= r.Hi
}

func (r ContinuousRange) String() string {
	lo := "-inf"
	if r.HasLo {
		lo = fmt.Sprintf("%g", r.Lo)
	}
	hi := "+inf"
	if r.HasHi {
		hi = fmt.Sprintf("%g", r.Hi)
	}
	return fmt.Sprintf("%s in [%s, %s)", r.Column, lo, hi)
}

// --- discrete range ---

// DiscreteRange is an IN-predicate over a sorted, deduplicated set of
// values (spec §4.4.4's normalization).
type DiscreteRange struct {
	Column string
	Values []float64
}

// NewDiscreteRange sorts and dedupes values, per §4.4.4.
func NewDiscreteRange(column string, values []float64) DiscreteRange {
	vs := append([]float64(nil), values...)
	sort.Float64s(vs)
	out := vs[:0]
	for i, v := range vs {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return DiscreteRange{Column: column, Values: out}
}

// RestrictRange prunes values outside [lo, hi), per §4.4.4.
func (d DiscreteRange) RestrictRange(lo, hi float64) DiscreteRange {
	out := make([]float64, 0, len(d.Values))
	for _, v := range d.Values {
		if v >= lo && v < hi {
			out = append(out, v)
		}
	}
	return DiscreteRange{Column: d.Column, Values: out}
}

func (d DiscreteRange) IsEmpty() bool { return len(d.Values) == 0 }

func (d DiscreteRange) String() string {
	return fmt.Sprintf("%s IN %v", d.Column, d.Values)
}

// --- string predicates ---

type StringEq struct {
	Column string
	Value  string
}

func (StringEq) IsEmpty() bool      { return false }
func (s StringEq) String() string   { return fmt.Sprintf("%s = %q", s.Column, s.Value) }

// MultiString is C IN {set of string values}.
type MultiString struct {
	Column string
	Values []string
}

func (m MultiString) IsEmpty() bool    { return len(m.Values) == 0 }
func (m MultiString) String() string   { return fmt.Sprintf("%s IN %v", m.Column, m.Values) }

// AnyOf is a generic "row carries any of these opaque match keys"
// predicate over a keyword-indexed column; it differs from MultiString
// only in intent (an externally supplied candidate set, e.g. from a
// join probe, rather than a literal IN-list) and is evaluated the same
// way, via ColumnEvaluator.EvaluateAnyOf.
type AnyOf struct {
	Column string
	Keys   []string
}

func (a AnyOf) IsEmpty() bool  { return len(a.Keys) == 0 }
func (a AnyOf) String() string { return fmt.Sprintf("%s ANYOF %v", a.Column, a.Keys) }

// --- arithmetic comparison ---

// Compare wraps a MathTerm on each side of a scalar comparison operator,
// evaluated row-by-row rather than through an Index.
type Compare struct {
	Left  mathexpr.MathTerm
	Op    CompareOp
	Right mathexpr.MathTerm
}

func (Compare) IsEmpty() bool { return false }
func (c Compare) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Left, opSymbol(c.Op), c.Right)
}

func opSymbol(op CompareOp) string {
	switch op {
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpEQ:
		return "="
	case OpNE:
		return "!="
	default:
		return "?"
	}
}

// --- join ---

// Join is an equi-join condition between two columns, resolved by the
// Columns registry passed to Evaluate (spec names the node but does not
// define its evaluation further; resolution is an external collaborator
// concern the same way select/where parsing is, per spec §1).
type Join struct {
	LeftColumn, RightColumn string
}

func (Join) IsEmpty() bool    { return false }
func (j Join) String() string { return fmt.Sprintf("%s JOIN %s", j.LeftColumn, j.RightColumn) }
