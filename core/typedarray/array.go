// Package typedarray implements Array[T], a generic typed view over a
// core/storage.Storage buffer. It is the fixed-width column-data
// counterpart to Bitvector: where Bitvector stores a compressed boolean
// sequence, Array[T] stores N values of a scalar type T packed
// contiguously, with in-place sort and selection routines that operate
// directly on the backing buffer.
package typedarray

import (
	"unsafe"

	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/core/storage"
)

// Numeric is the set of scalar element types Array[T] supports.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Array is a fixed-length, fixed-width typed view over a Storage buffer.
// It does not own the buffer: callers construct an Array over a Storage
// they already hold a reference to, and are responsible for releasing
// that Storage when done.
type Array[T Numeric] struct {
	st *storage.Storage
	n  int
}

// New allocates a fresh heap-backed Array of length n, zero-valued.
func New[T Numeric](n int) (*Array[T], error) {
	var zero T
	width := int(unsafe.Sizeof(zero))
	st, err := storage.NewHeap(n * width)
	if err != nil {
		return nil, err
	}
	return &Array[T]{st: st, n: n}, nil
}

// Wrap constructs an Array view of length n over an existing Storage,
// which must be at least n*sizeof(T) bytes. The Array does not retain st;
// the caller owns its lifetime.
func Wrap[T Numeric](st *storage.Storage, n int) (*Array[T], error) {
	var zero T
	width := int(unsafe.Sizeof(zero))
	if st.Len() < n*width {
		return nil, errorsx.NewSizeMismatch(st.Len(), n*width)
	}
	return &Array[T]{st: st, n: n}, nil
}

// Len returns the number of elements.
func (a *Array[T]) Len() int { return a.n }

// Storage returns the backing Storage.
func (a *Array[T]) Storage() *storage.Storage { return a.st }

// slice reinterprets the backing bytes as a []T of length a.n. This
// relies on the buffer's native byte order matching the platform's, the
// same assumption the teacher's btree/varint.go leaf encoders make for
// in-memory page buffers (on-disk column files instead use an explicit
// little-endian codec, see column.go).
func (a *Array[T]) slice() []T {
	var zero T
	width := int(unsafe.Sizeof(zero))
	raw := a.st.Bytes()
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/width)[:a.n]
}

// Get returns the value at index i.
func (a *Array[T]) Get(i int) T {
	return a.slice()[i]
}

// Set writes value at index i. The caller must have already confirmed
// exclusive ownership of the backing Storage (e.g. via PrepareForWrite)
// before mutating a shared Array.
func (a *Array[T]) Set(i int, v T) {
	a.slice()[i] = v
}

// Slice returns the live []T view, for callers that want bulk access
// (e.g. bulk comparisons in an Index builder). Mutating it mutates the
// backing Storage directly.
func (a *Array[T]) Slice() []T {
	return a.slice()
}

// --- Sorting -----------------------------------------------------------

// Sort sorts the array in place in ascending order using an introsort
// (quicksort with median-of-three pivoting, falling back to heapsort past
// a recursion-depth bound, with insertion sort for small partitions) —
// the same three-tier hybrid the teacher's planner favors for bounded
// worst-case behavior over plain quicksort.
func (a *Array[T]) Sort() {
	s := a.slice()
	introsort(s, 2*floorLog2(len(s)))
}

const insertionThreshold = 16

func introsort[T Numeric](s []T, depthLimit int) {
	for len(s) > insertionThreshold {
		if depthLimit == 0 {
			heapsort(s)
			return
		}
		depthLimit--
		p := partition(s)
		// Recurse into the smaller side, loop over the larger, bounding
		// stack depth to O(log n).
		if p < len(s)-p {
			introsort(s[:p], depthLimit)
			s = s[p+1:]
		} else {
			introsort(s[p+1:], depthLimit)
			s = s[:p]
		}
	}
	insertionSort(s)
}

func insertionSort[T Numeric](s []T) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

// partition picks a median-of-three pivot, moves it to the end, and
// Lomuto-partitions the rest around it, returning the pivot's final index.
func partition[T Numeric](s []T) int {
	lo, hi, mid := 0, len(s)-1, len(s)/2
	medianOfThree(s, lo, mid, hi)
	s[mid], s[hi] = s[hi], s[mid]
	pivot := s[hi]

	i := lo
	for j := lo; j < hi; j++ {
		if s[j] < pivot {
			s[i], s[j] = s[j], s[i]
			i++
		}
	}
	s[i], s[hi] = s[hi], s[i]
	return i
}

func medianOfThree[T Numeric](s []T, lo, mid, hi int) {
	if s[mid] < s[lo] {
		s[mid], s[lo] = s[lo], s[mid]
	}
	if s[hi] < s[lo] {
		s[hi], s[lo] = s[lo], s[hi]
	}
	if s[hi] < s[mid] {
		s[hi], s[mid] = s[mid], s[hi]
	}
}

func heapsort[T Numeric](s []T) {
	n := len(s)
	for i := n/2 - 1; i >= 0; i-- {
		siftDown(s, i, n)
	}
	for i := n - 1; i > 0; i-- {
		s[0], s[i] = s[i], s[0]
		siftDown(s, 0, i)
	}
}

func siftDown[T Numeric](s []T, root, n int) {
	for {
		child := 2*root + 1
		if child >= n {
			return
		}
		if child+1 < n && s[child+1] > s[child] {
			child++
		}
		if s[root] >= s[child] {
			return
		}
		s[root], s[child] = s[child], s[root]
		root = child
	}
}

func floorLog2(n int) int {
	if n <= 1 {
		return 0
	}
	log := 0
	for n > 1 {
		n >>= 1
		log++
	}
	return log
}

// --- Selection -----------------------------------------------------------

// Quickselect partitions idx (a permutation of [0, Len())) in place so
// that idx[:k] holds the indices of the k smallest elements of a (in
// unspecified order within the split) and idx[k] names the k-th smallest
// element overall — the classic BFPRT-free quickselect, finding a k-th
// element without a full sort.
func (a *Array[T]) Quickselect(idx []int, k int) error {
	if k < 0 || k >= len(idx) {
		return errorsx.NewSizeMismatch(k, len(idx))
	}
	s := a.slice()
	lo, hi := 0, len(idx)-1
	for lo < hi {
		p := partitionIndices(s, idx, lo, hi)
		switch {
		case k == p:
			return nil
		case k < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
	return nil
}

// partitionIndices Lomuto-partitions idx[lo:hi+1] by the values s[idx[i]],
// using s[idx[hi]] as pivot, returning the pivot's final position.
func partitionIndices[T Numeric](s []T, idx []int, lo, hi int) int {
	pivot := s[idx[hi]]
	i := lo
	for j := lo; j < hi; j++ {
		if s[idx[j]] < pivot {
			idx[i], idx[j] = idx[j], idx[i]
			i++
		}
	}
	idx[i], idx[hi] = idx[hi], idx[i]
	return i
}
