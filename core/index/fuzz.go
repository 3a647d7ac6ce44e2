package index

import (
	"io"
	"sort"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/storage"
)

// Fuzz is the range-equality cascade index variant: fine per-value
// bitmaps exactly as in Relic, plus a coarse layer of overlapping
// "ambit" bitmaps that let a range query touch O(range/w) coarse
// bitmaps instead of O(range) fine ones, at the cost of a bounded excess
// that gets subtracted back out at the query's edges.
type Fuzz struct {
	ib     *IndexBase
	values []float64 // sorted ascending, unique, len == NObs (fine values)

	w   int   // coarse window width in coarse-bin units (nc/2)
	tb  []int // coarse-bin indices tiling [0,nc] in steps of w
	tbf []int // tb mapped through cbounds into fine-bin boundaries
}

// OpenFuzz opens a Fuzz index file.
func OpenFuzz(fm *storage.FileManager, path string) (*Fuzz, error) {
	ib, err := openIndexFile(fm, path, func(h fileHeader) int {
		return 8 * int(h.NObs)
	}, true)
	if err != nil {
		return nil, err
	}
	f := &Fuzz{ib: ib, values: decodeFloat64Header(ib.variantHeader)}
	f.buildTiling()
	return f, nil
}

func (f *Fuzz) buildTiling() {
	nc := f.ib.NCoarse()
	if nc == 0 {
		return
	}
	w := nc / 2
	if w < 1 {
		w = 1
	}
	f.w = w

	cbounds := f.ib.CoarseBounds()
	var tb []int
	for j := 0; j < nc; j += w {
		tb = append(tb, j)
	}
	if len(tb) == 0 || tb[len(tb)-1] != nc {
		tb = append(tb, nc)
	}
	f.tb = tb
	f.tbf = make([]int, len(tb))
	for i, j := range tb {
		f.tbf[i] = cbounds[j]
	}
}

// WriteFuzzIndex serializes a Fuzz index: values must be sorted ascending
// and unique (one fine bitmap per value, as in Relic). nc controls the
// coarse layer's bin count; cbounds is computed internally by
// partitioning [0,len(values)) into nc groups of roughly equal summed
// bitmap bytes, and coarse bitmap C_j is the OR of fine bins
// [cbounds[j], cbounds[min(j+nc/2,nc)]).
func WriteFuzzIndex(w io.Writer, nrows int, values []float64, bitmaps []*bitvector.Bitvector, nc int) error {
	if nc < 2 {
		nc = 2
	}
	if nc > len(bitmaps) {
		nc = len(bitmaps)
	}
	cbounds := partitionByBytes(bitmapByteSizes(bitmaps), nc)

	half := nc / 2
	if half < 1 {
		half = 1
	}
	coarseBitmaps := make([]*bitvector.Bitvector, nc)
	for j := 0; j < nc; j++ {
		end := j + half
		if end > nc {
			end = nc
		}
		acc, err := bitvector.OrAll(bitmaps[cbounds[j]:cbounds[end]]...)
		if err != nil {
			return err
		}
		coarseBitmaps[j] = acc
	}

	return writeIndexFile(w, buildSpec{
		Tag:           TagFuzz,
		NRows:         uint32(nrows),
		VariantHeader: encodeFloat64Header(values),
		Bitmaps:       bitmaps,
		Coarse: &coarseBuildSpec{
			CBounds: cbounds,
			Bitmaps: coarseBitmaps,
		},
	})
}

func bitmapByteSizes(bvs []*bitvector.Bitvector) []int64 {
	out := make([]int64, len(bvs))
	for i, bv := range bvs {
		out[i] = int64(bv.Bytes())
	}
	return out
}

// partitionByBytes partitions [0, len(sizes)) into nc ascending-index
// groups, each targeting roughly total/nc summed bytes, returning the
// nc+1 boundaries.
func partitionByBytes(sizes []int64, nc int) []int {
	k := len(sizes)
	if nc <= 0 {
		nc = 1
	}
	if nc > k {
		nc = k
	}
	total := int64(0)
	for _, s := range sizes {
		total += s
	}
	target := total / int64(nc)
	if target == 0 {
		target = 1
	}

	bounds := make([]int, 0, nc+1)
	bounds = append(bounds, 0)
	acc := int64(0)
	for i := 0; i < k && len(bounds) < nc; i++ {
		acc += sizes[i]
		if acc >= target {
			bounds = append(bounds, i+1)
			acc = 0
		}
	}
	for len(bounds) < nc {
		bounds = append(bounds, k)
	}
	bounds = append(bounds, k)
	return bounds
}

func (f *Fuzz) NRows() int { return f.ib.NRows() }
func (f *Fuzz) Tag() Tag   { return TagFuzz }

func (f *Fuzz) valueRange(op CompareOp, x float64) (int, int) {
	k := len(f.values)
	switch op {
	case OpEQ:
		lo := sort.SearchFloat64s(f.values, x)
		hi := lo
		for hi < k && f.values[hi] == x {
			hi++
		}
		return lo, hi
	case OpLT:
		return 0, sort.SearchFloat64s(f.values, x)
	case OpLE:
		hi := sort.Search(k, func(i int) bool { return f.values[i] > x })
		return 0, hi
	case OpGT:
		lo := sort.Search(k, func(i int) bool { return f.values[i] > x })
		return lo, k
	case OpGE:
		return sort.SearchFloat64s(f.values, x), k
	default:
		return 0, 0
	}
}

// coarseUnion ORs together the stepped, non-overlapping coarse bitmaps
// whose tiling positions span [s, e) in f.tb/f.tbf. Positions index into
// f.tb, which holds the actual coarse-bin index (a multiple of f.w) for
// each tiling boundary.
func (f *Fuzz) coarseUnion(s, e int) (*bitvector.Bitvector, error) {
	if s >= e {
		return bitvector.New(f.NRows()), nil
	}
	bvs := make([]*bitvector.Bitvector, 0, e-s)
	for i := s; i < e; i++ {
		bv, err := f.ib.CoarseBody(f.tb[i])
		if err != nil {
			return nil, err
		}
		bvs = append(bvs, bv)
	}
	return bitvector.OrAll(bvs...)
}

func (f *Fuzz) coarseBytes(s, e int) int64 {
	if s >= e {
		return 0
	}
	var total int64
	for i := s; i < e; i++ {
		j := f.tb[i]
		total += f.ib.CoarseBytesRange(j, j+1)
	}
	return total
}

// tileIndexAtOrBefore returns the largest tiling position i with
// f.tbf[i] <= x (the tile boundary at or before x, for overshoot-left
// constructions).
func (f *Fuzz) tileIndexAtOrBefore(x int) int {
	i := sort.Search(len(f.tbf), func(i int) bool { return f.tbf[i] > x })
	return i - 1
}

// tileIndexAtOrAfter returns the smallest tiling position i with
// f.tbf[i] >= x.
func (f *Fuzz) tileIndexAtOrAfter(x int) int {
	return sort.Search(len(f.tbf), func(i int) bool { return f.tbf[i] >= x })
}

// fuzzPlan describes one of the five cascade cost options for answering
// a fine-bin range query [lo, hi).
type fuzzPlan struct {
	name string
	cost int64
	eval func() (*bitvector.Bitvector, error)
}

// plans returns the five cost options from spec §4.3.3 for fine range
// [lo, hi): fine-only, coarse-with-exact-edges ("direct edges"), and the
// three coarse-with-overshoot variants that subtract excess at one or
// both edges.
func (f *Fuzz) plans(lo, hi int) []fuzzPlan {
	out := []fuzzPlan{
		{
			name: "fine",
			cost: f.ib.BytesRange(lo, hi),
			eval: func() (*bitvector.Bitvector, error) { return f.ib.OrRange(lo, hi) },
		},
	}

	if len(f.tbf) == 0 {
		return out
	}

	// "direct edges": tiles that fit strictly within [lo, hi), plus fine
	// leftovers at both edges.
	s2 := f.tileIndexAtOrAfter(lo)
	e2 := f.tileIndexAtOrBefore(hi)
	if s2 >= 0 && e2 >= 0 && s2 <= e2 && s2 < len(f.tbf) && e2 < len(f.tbf) {
		leftLo, leftHi := lo, f.tbf[s2]
		rightLo, rightHi := f.tbf[e2], hi
		cost := f.coarseBytes(s2, e2) + f.ib.BytesRange(leftLo, leftHi) + f.ib.BytesRange(rightLo, rightHi)
		out = append(out, fuzzPlan{
			name: "direct-edges",
			cost: cost,
			eval: func() (*bitvector.Bitvector, error) {
				mid, err := f.coarseUnion(s2, e2)
				if err != nil {
					return nil, err
				}
				left, err := f.ib.OrRange(leftLo, leftHi)
				if err != nil {
					return nil, err
				}
				right, err := f.ib.OrRange(rightLo, rightHi)
				if err != nil {
					return nil, err
				}
				if err := mid.OrInPlace(left); err != nil {
					return nil, err
				}
				if err := mid.OrInPlace(right); err != nil {
					return nil, err
				}
				return mid, nil
			},
		})
	}

	// Overshoot variants need a tile boundary at-or-before lo (s) and
	// at-or-after hi (e); both undershoot counterparts (s2, e2) are
	// reused from above where valid.
	s := f.tileIndexAtOrBefore(lo)
	e := f.tileIndexAtOrAfter(hi)

	// Strict s < e2 is required: the coarse window must span at least one
	// tile so its right edge tbf[e2] lands at or past lo, otherwise
	// subtracting the left excess and then re-adding the "right leftover"
	// from tbf[e2] would reintroduce the very rows just excluded.
	if s >= 0 && e2 >= 0 && s < e2 && s < len(f.tbf) && e2 < len(f.tbf) {
		leftExcessLo, leftExcessHi := f.tbf[s], lo
		rightLo, rightHi := f.tbf[e2], hi
		cost := f.coarseBytes(s, e2) + f.ib.BytesRange(leftExcessLo, leftExcessHi) + f.ib.BytesRange(rightLo, rightHi)
		out = append(out, fuzzPlan{
			name: "complement-left",
			cost: cost,
			eval: func() (*bitvector.Bitvector, error) {
				mid, err := f.coarseUnion(s, e2)
				if err != nil {
					return nil, err
				}
				excess, err := f.ib.OrRange(leftExcessLo, leftExcessHi)
				if err != nil {
					return nil, err
				}
				if err := mid.MinusInPlace(excess); err != nil {
					return nil, err
				}
				right, err := f.ib.OrRange(rightLo, rightHi)
				if err != nil {
					return nil, err
				}
				if err := mid.OrInPlace(right); err != nil {
					return nil, err
				}
				return mid, nil
			},
		})
	}

	// Symmetric strict inequality: the window must span at least one tile
	// so its left edge tbf[s2] lands at or before hi.
	if s2 >= 0 && e >= 0 && s2 < e && s2 < len(f.tbf) && e < len(f.tbf) {
		leftLo, leftHi := lo, f.tbf[s2]
		rightExcessLo, rightExcessHi := hi, f.tbf[e]
		cost := f.ib.BytesRange(leftLo, leftHi) + f.coarseBytes(s2, e) + f.ib.BytesRange(rightExcessLo, rightExcessHi)
		out = append(out, fuzzPlan{
			name: "complement-right",
			cost: cost,
			eval: func() (*bitvector.Bitvector, error) {
				mid, err := f.coarseUnion(s2, e)
				if err != nil {
					return nil, err
				}
				excess, err := f.ib.OrRange(rightExcessLo, rightExcessHi)
				if err != nil {
					return nil, err
				}
				if err := mid.MinusInPlace(excess); err != nil {
					return nil, err
				}
				left, err := f.ib.OrRange(leftLo, leftHi)
				if err != nil {
					return nil, err
				}
				if err := mid.OrInPlace(left); err != nil {
					return nil, err
				}
				return mid, nil
			},
		})
	}

	if s >= 0 && e >= 0 && s <= e && s < len(f.tbf) && e < len(f.tbf) {
		leftExcessLo, leftExcessHi := f.tbf[s], lo
		rightExcessLo, rightExcessHi := hi, f.tbf[e]
		cost := f.coarseBytes(s, e) + f.ib.BytesRange(leftExcessLo, leftExcessHi) + f.ib.BytesRange(rightExcessLo, rightExcessHi)
		out = append(out, fuzzPlan{
			name: "complement-both",
			cost: cost,
			eval: func() (*bitvector.Bitvector, error) {
				mid, err := f.coarseUnion(s, e)
				if err != nil {
					return nil, err
				}
				leftExcess, err := f.ib.OrRange(leftExcessLo, leftExcessHi)
				if err != nil {
					return nil, err
				}
				if err := mid.MinusInPlace(leftExcess); err != nil {
					return nil, err
				}
				rightExcess, err := f.ib.OrRange(rightExcessLo, rightExcessHi)
				if err != nil {
					return nil, err
				}
				if err := mid.MinusInPlace(rightExcess); err != nil {
					return nil, err
				}
				return mid, nil
			},
		})
	}

	return out
}

// bestPlan picks the minimum-cost plan, preferring "fine-only" when it
// is within 1% of the true minimum (spec's tie-breaking rule: simplicity
// wins close calls).
func bestPlan(plans []fuzzPlan) fuzzPlan {
	best := plans[0]
	for _, p := range plans[1:] {
		if p.cost < best.cost {
			best = p
		}
	}
	if plans[0].cost > 0 && float64(plans[0].cost) <= float64(best.cost)*1.01 {
		return plans[0]
	}
	return best
}

func (f *Fuzz) evaluateFineRange(lo, hi int) (*bitvector.Bitvector, error) {
	plans := f.plans(lo, hi)
	return bestPlan(plans).eval()
}

func (f *Fuzz) Evaluate(op CompareOp, operand float64) (*bitvector.Bitvector, error) {
	if op == OpNE {
		lo, hi := f.valueRange(OpEQ, operand)
		left, err := f.evaluateFineRange(0, lo)
		if err != nil {
			return nil, err
		}
		right, err := f.evaluateFineRange(hi, len(f.values))
		if err != nil {
			return nil, err
		}
		return bitvector.Or(left, right)
	}
	lo, hi := f.valueRange(op, operand)
	return f.evaluateFineRange(lo, hi)
}

func (f *Fuzz) EvaluateIn(operands []float64) (*bitvector.Bitvector, error) {
	acc := bitvector.New(f.NRows())
	for _, x := range operands {
		lo, hi := f.valueRange(OpEQ, x)
		bv, err := f.evaluateFineRange(lo, hi)
		if err != nil {
			return nil, err
		}
		if err := acc.OrInPlace(bv); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (f *Fuzz) EstimateCost(op CompareOp, operand float64) float64 {
	if op == OpNE {
		lo, hi := f.valueRange(OpEQ, operand)
		return float64(bestPlan(f.plans(0, lo)).cost + bestPlan(f.plans(hi, len(f.values))).cost)
	}
	lo, hi := f.valueRange(op, operand)
	return float64(bestPlan(f.plans(lo, hi)).cost)
}
