package index

import (
	"io"
	"sort"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/storage"
)

// Relic is the equality-per-value index variant: one bitmap B_i per
// distinct ascending-sorted value v_i, with C = v_i rows set in B_i.
type Relic struct {
	ib     *IndexBase
	values []float64 // sorted ascending, unique, len == NObs
}

// OpenRelic opens a Relic index file, eagerly parsing the sorted value
// array (the variant header) alongside the common fixed header.
func OpenRelic(fm *storage.FileManager, path string) (*Relic, error) {
	ib, err := openIndexFile(fm, path, func(h fileHeader) int {
		return 8 * int(h.NObs)
	}, false)
	if err != nil {
		return nil, err
	}
	values := decodeFloat64Header(ib.variantHeader)
	return &Relic{ib: ib, values: values}, nil
}

// WriteRelicIndex serializes a Relic index: values must already be sorted
// ascending and unique, with len(bitmaps) == len(values).
func WriteRelicIndex(w io.Writer, nrows int, values []float64, bitmaps []*bitvector.Bitvector) error {
	return writeIndexFile(w, buildSpec{
		Tag:           TagRelic,
		NRows:         uint32(nrows),
		VariantHeader: encodeFloat64Header(values),
		Bitmaps:       bitmaps,
	})
}

func (r *Relic) NRows() int { return r.ib.NRows() }
func (r *Relic) Tag() Tag   { return TagRelic }

// valueRange returns [lo, hi) over r.values matching op against x.
func (r *Relic) valueRange(op CompareOp, x float64) (int, int) {
	k := len(r.values)
	switch op {
	case OpEQ:
		lo := sort.SearchFloat64s(r.values, x)
		hi := lo
		for hi < k && r.values[hi] == x {
			hi++
		}
		return lo, hi
	case OpLT:
		return 0, sort.SearchFloat64s(r.values, x)
	case OpLE:
		hi := sort.Search(k, func(i int) bool { return r.values[i] > x })
		return 0, hi
	case OpGT:
		lo := sort.Search(k, func(i int) bool { return r.values[i] > x })
		return lo, k
	case OpGE:
		return sort.SearchFloat64s(r.values, x), k
	default:
		return 0, 0
	}
}

func (r *Relic) Evaluate(op CompareOp, operand float64) (*bitvector.Bitvector, error) {
	if op == OpNE {
		lo, hi := r.valueRange(OpEQ, operand)
		left, err := r.ib.OrRange(0, lo)
		if err != nil {
			return nil, err
		}
		right, err := r.ib.OrRange(hi, len(r.values))
		if err != nil {
			return nil, err
		}
		return bitvector.Or(left, right)
	}
	lo, hi := r.valueRange(op, operand)
	return r.ib.OrRange(lo, hi)
}

func (r *Relic) EvaluateIn(operands []float64) (*bitvector.Bitvector, error) {
	acc := bitvector.New(r.NRows())
	for _, x := range operands {
		lo, hi := r.valueRange(OpEQ, x)
		bv, err := r.ib.OrRange(lo, hi)
		if err != nil {
			return nil, err
		}
		if err := acc.OrInPlace(bv); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (r *Relic) EstimateCost(op CompareOp, operand float64) float64 {
	if op == OpNE {
		lo, hi := r.valueRange(OpEQ, operand)
		return float64(r.ib.BytesRange(0, lo) + r.ib.BytesRange(hi, len(r.values)))
	}
	lo, hi := r.valueRange(op, operand)
	return float64(r.ib.BytesRange(lo, hi))
}

// Values returns the sorted distinct value array (read-only).
func (r *Relic) Values() []float64 { return r.values }

func encodeFloat64Header(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		putFloat64LE(buf[i*8:], v)
	}
	return buf
}

func decodeFloat64Header(buf []byte) []float64 {
	n := len(buf) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = getFloat64LE(buf[i*8:])
	}
	return out
}
