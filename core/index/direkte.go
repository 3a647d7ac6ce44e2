package index

import (
	"io"
	"math"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/storage"
)

// Direkte is the direct/dense-domain index variant: bitmap index i
// directly covers rows where C == base+i, for a small non-negative
// integer domain. No value array is stored; evaluation uses arithmetic
// in place of Relic's binary search.
type Direkte struct {
	ib   *IndexBase
	base float64 // value encoded by bitmap 0
}

// OpenDirekte opens a Direkte index file; the variant header is a single
// float64 giving the domain's minimum value.
func OpenDirekte(fm *storage.FileManager, path string) (*Direkte, error) {
	ib, err := openIndexFile(fm, path, func(h fileHeader) int { return 8 }, false)
	if err != nil {
		return nil, err
	}
	return &Direkte{ib: ib, base: getFloat64LE(ib.variantHeader)}, nil
}

// WriteDirekteIndex serializes a Direkte index; bitmaps[i] must cover
// rows where C == base+i.
func WriteDirekteIndex(w io.Writer, nrows int, base float64, bitmaps []*bitvector.Bitvector) error {
	hdr := make([]byte, 8)
	putFloat64LE(hdr, base)
	return writeIndexFile(w, buildSpec{
		Tag:           TagDirekte,
		NRows:         uint32(nrows),
		VariantHeader: hdr,
		Bitmaps:       bitmaps,
	})
}

func (d *Direkte) NRows() int { return d.ib.NRows() }
func (d *Direkte) Tag() Tag   { return TagDirekte }

func (d *Direkte) domain() int { return d.ib.NObs() }

// indexRange returns [lo, hi) into the bitmap domain matching op against
// x, clamped to [0, domain()].
func (d *Direkte) indexRange(op CompareOp, x float64) (int, int) {
	n := d.domain()
	switch op {
	case OpEQ:
		i := int(math.Round(x - d.base))
		if i < 0 || i >= n || float64(i)+d.base != x {
			return 0, 0
		}
		return i, i + 1
	case OpLT:
		return 0, clamp(int(math.Ceil(x-d.base)), 0, n)
	case OpLE:
		return 0, clamp(int(math.Floor(x-d.base))+1, 0, n)
	case OpGT:
		return clamp(int(math.Floor(x-d.base))+1, 0, n), n
	case OpGE:
		return clamp(int(math.Ceil(x-d.base)), 0, n), n
	default:
		return 0, 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (d *Direkte) Evaluate(op CompareOp, operand float64) (*bitvector.Bitvector, error) {
	if op == OpNE {
		lo, hi := d.indexRange(OpEQ, operand)
		left, err := d.ib.OrRange(0, lo)
		if err != nil {
			return nil, err
		}
		right, err := d.ib.OrRange(hi, d.domain())
		if err != nil {
			return nil, err
		}
		return bitvector.Or(left, right)
	}
	lo, hi := d.indexRange(op, operand)
	return d.ib.OrRange(lo, hi)
}

func (d *Direkte) EvaluateIn(operands []float64) (*bitvector.Bitvector, error) {
	acc := bitvector.New(d.NRows())
	for _, x := range operands {
		lo, hi := d.indexRange(OpEQ, x)
		bv, err := d.ib.OrRange(lo, hi)
		if err != nil {
			return nil, err
		}
		if err := acc.OrInPlace(bv); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (d *Direkte) EstimateCost(op CompareOp, operand float64) float64 {
	if op == OpNE {
		lo, hi := d.indexRange(OpEQ, operand)
		return float64(d.ib.BytesRange(0, lo) + d.ib.BytesRange(hi, d.domain()))
	}
	lo, hi := d.indexRange(op, operand)
	return float64(d.ib.BytesRange(lo, hi))
}
