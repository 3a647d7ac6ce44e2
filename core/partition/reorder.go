package partition

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/relicstore/ibis/core/column"
	"github.com/relicstore/ibis/core/errorsx"
)

// Reorder implements spec §4.6's reorder: integer-valued columns with
// more than one distinct value become ordering keys, sorted ascending by
// range width; a permutation is built by iteratively sub-sorting each
// segment left by the previous key, then every column file (keys and
// non-keys alike) is rewritten in the composed order. Stale index files
// are dropped, same as PurgeInactive, since their row numbering no longer
// matches.
func (p *Partition) Reorder() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(Receiving); err != nil {
		return err
	}

	n := p.meta.NumberOfRows
	keys, values, err := p.rangeWidthKeys(n)
	if err != nil {
		p.fail(err)
		return err
	}

	perm := segmentedSortPermutation(n, keys, values)

	for _, cm := range p.meta.Columns {
		if err := rewriteColumnByPermutation(p.dir, cm, perm); err != nil {
			p.fail(err)
			return err
		}
		dropStaleIndex(p.dir, cm.Name)
		p.fm.Evict(filepath.Join(p.dir, cm.Name))
	}
	if len(p.rids) > 0 {
		newRIDs := make([]RID, n)
		for i, row := range perm {
			newRIDs[i] = p.rids[row]
		}
		if err := writeRIDs(p.dir, newRIDs); err != nil {
			p.fail(err)
			return err
		}
		p.rids = newRIDs
	}

	p.rebuildColumns()
	p.state = Stable
	logTransition(p.dir, Receiving, Stable, "reordered_keys", len(keys))
	return nil
}

// rangeWidthKeys scans every integer-typed column for its row values,
// keeping those with more than one distinct value, sorted ascending by
// (max-min) range width.
func (p *Partition) rangeWidthKeys(n int) (keys []string, values map[string][]float64, err error) {
	values = make(map[string][]float64)
	type cand struct {
		name  string
		width float64
	}
	var cands []cand

	for _, cm := range p.meta.Columns {
		switch cm.DataType {
		case column.TypeByte, column.TypeShort, column.TypeInt, column.TypeLong:
		default:
			continue
		}
		c := p.columns[cm.Name]
		vals := make([]float64, n)
		seen := make(map[float64]struct{})
		min, max := 0.0, 0.0
		first := true
		for row := 0; row < n; row++ {
			v, isNull, err := c.Value(row)
			if err != nil {
				return nil, nil, err
			}
			if isNull {
				continue
			}
			vals[row] = v
			seen[v] = struct{}{}
			if first || v < min {
				min = v
			}
			if first || v > max {
				max = v
			}
			first = false
		}
		if len(seen) <= 1 {
			continue
		}
		values[cm.Name] = vals
		cands = append(cands, cand{cm.Name, max - min})
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].width < cands[j].width })
	for _, c := range cands {
		keys = append(keys, c.name)
	}
	return keys, values, nil
}

// segmentedSortPermutation builds the row permutation that, applied in
// order for each key column, stably sorts each segment produced by the
// previous key's pass.
func segmentedSortPermutation(n int, keys []string, values map[string][]float64) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	segments := [][2]int{{0, n}}

	for _, key := range keys {
		vals := values[key]
		var next [][2]int
		for _, seg := range segments {
			s, e := seg[0], seg[1]
			sub := perm[s:e]
			sort.SliceStable(sub, func(i, j int) bool { return vals[sub[i]] < vals[sub[j]] })

			segStart := s
			for i := s + 1; i < e; i++ {
				if vals[perm[i]] != vals[perm[i-1]] {
					next = append(next, [2]int{segStart, i})
					segStart = i
				}
			}
			next = append(next, [2]int{segStart, e})
		}
		segments = next
	}
	return perm
}

// rewriteColumnByPermutation rewrites dir/cm.Name so row i of the new
// file holds the data that used to be at row perm[i].
func rewriteColumnByPermutation(dir string, cm ColumnMeta, perm []int) error {
	path := filepath.Join(dir, cm.Name)

	if width, ok := cm.DataType.FixedWidth(); ok {
		buf, err := os.ReadFile(path)
		if err != nil {
			return errorsx.NewIoError("read", path, err)
		}
		out := make([]byte, len(buf))
		for i, row := range perm {
			copy(out[i*width:(i+1)*width], buf[row*width:(row+1)*width])
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return errorsx.NewIoError("write", path, err)
		}
		return nil
	}

	records, err := column.ReadTextRecords(path)
	if err != nil {
		return err
	}
	out := make([]string, len(perm))
	for i, row := range perm {
		out[i] = records[row]
	}
	return column.WriteTextRecords(path, out)
}
