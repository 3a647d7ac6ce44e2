package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/storage"
)

// bitmapsForValues groups row indices by their value in vals (assumed to
// align with the sorted distinct slice returned alongside) and returns one
// bitmap per distinct value, suitable for WriteRelicIndex/WriteFuzzIndex.
func bitmapsForValues(t *testing.T, vals []float64) (distinct []float64, bitmaps []*bitvector.Bitvector) {
	t.Helper()
	n := len(vals)
	seen := map[float64][]int{}
	for i, v := range vals {
		seen[v] = append(seen[v], i)
	}
	for v := range seen {
		distinct = append(distinct, v)
	}
	sortFloat64s(distinct)
	for _, v := range distinct {
		bv := bitvector.New(n)
		for _, row := range seen[v] {
			bv.SetBit(row)
		}
		bitmaps = append(bitmaps, bv)
	}
	return distinct, bitmaps
}

func sortFloat64s(vals []float64) {
	for i := 1; i < len(vals); i++ {
		for j := i; j > 0 && vals[j-1] > vals[j]; j-- {
			vals[j-1], vals[j] = vals[j], vals[j-1]
		}
	}
}

// writeTempIndex writes buf to a fresh temp file under t.TempDir and opens
// it through an isolated FileManager, registering cleanup.
func writeTempIndex(t *testing.T, name string, buf []byte) (*storage.FileManager, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write temp index: %v", err)
	}
	fm := storage.NewFileManager(storage.DefaultFileManagerConfig())
	return fm, path
}

// bruteForceMatches returns the row indices where values[i] satisfies op
// against operand, for test oracle comparisons.
func bruteForceMatches(values []float64, op CompareOp, operand float64) []int {
	var out []int
	for i, v := range values {
		var ok bool
		switch op {
		case OpLT:
			ok = v < operand
		case OpLE:
			ok = v <= operand
		case OpGT:
			ok = v > operand
		case OpGE:
			ok = v >= operand
		case OpEQ:
			ok = v == operand
		case OpNE:
			ok = v != operand
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func bitsSet(bv *bitvector.Bitvector) []int {
	var out []int
	for i := 0; i < bv.Len(); i++ {
		if bv.GetBit(i) {
			out = append(out, i)
		}
	}
	return out
}

func intSlicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
