package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/core/storage"
)

// headerSize is the fixed 16-byte prefix common to every variant: 5-byte
// magic, tag byte, offset-width byte, reserved byte, uint32 nrows, uint32
// nobs.
const headerSize = 16

var magicPrefix = [5]byte{'#', 'I', 'B', 'I', 'S'}

type fileHeader struct {
	Tag         Tag
	OffsetWidth int // 4 or 8
	NRows       uint32
	NObs        uint32
}

// writeHeader writes the fixed 16-byte header.
func writeHeader(w io.Writer, h fileHeader) error {
	var buf [headerSize]byte
	copy(buf[0:5], magicPrefix[:])
	buf[5] = byte(h.Tag)
	buf[6] = byte(h.OffsetWidth)
	buf[7] = 0x00
	binary.LittleEndian.PutUint32(buf[8:12], h.NRows)
	binary.LittleEndian.PutUint32(buf[12:16], h.NObs)
	if _, err := w.Write(buf[:]); err != nil {
		return errorsx.NewIoError("write", "", err)
	}
	return nil
}

// readHeader parses the fixed header from the start of buf.
func readHeader(buf []byte) (fileHeader, error) {
	if len(buf) < headerSize {
		return fileHeader{}, errorsx.NewCorruptIndex("", "file shorter than header", nil)
	}
	if !bytes.Equal(buf[0:5], magicPrefix[:]) {
		return fileHeader{}, errorsx.NewCorruptIndex("", fmt.Sprintf("bad magic %q", buf[0:5]), nil)
	}
	width := int(buf[6])
	if width != 4 && width != 8 {
		return fileHeader{}, errorsx.NewCorruptIndex("", fmt.Sprintf("invalid offset width %d", width), nil)
	}
	return fileHeader{
		Tag:         Tag(buf[5]),
		OffsetWidth: width,
		NRows:       binary.LittleEndian.Uint32(buf[8:12]),
		NObs:        binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// writeOffsetTable writes nobs+1 little-endian offsets of the configured
// width.
func writeOffsetTable(w io.Writer, width int, offsets []uint64) error {
	buf := make([]byte, width)
	for _, off := range offsets {
		if width == 4 {
			binary.LittleEndian.PutUint32(buf, uint32(off))
		} else {
			binary.LittleEndian.PutUint64(buf, off)
		}
		if _, err := w.Write(buf); err != nil {
			return errorsx.NewIoError("write", "", err)
		}
	}
	return nil
}

func readOffsetTable(buf []byte, width int, n int) ([]uint64, error) {
	need := width * n
	if len(buf) < need {
		return nil, errorsx.NewCorruptIndex("", "offset table runs past end of buffer", nil)
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		if width == 4 {
			out[i] = uint64(binary.LittleEndian.Uint32(buf[i*4:]))
		} else {
			out[i] = binary.LittleEndian.Uint64(buf[i*8:])
		}
	}
	return out, nil
}

// PeekTag reads just enough of path to report its variant tag, so a
// caller holding no prior knowledge of the column's index kind (core/
// column, rebuilding after a CorruptIndex) can dispatch to the right
// Open* constructor.
func PeekTag(fm *storage.FileManager, path string) (Tag, error) {
	st, err := fm.GetFileSegment(path, 0, int64(headerSize))
	if err != nil {
		return 0, err
	}
	defer st.Release()
	h, err := readHeader(st.Bytes())
	if err != nil {
		return 0, err
	}
	return h.Tag, nil
}

// IndexBase is the shared file-layout machinery every variant embeds: the
// fixed header, the variant-specific header blob, the offset table, and
// lazy on-demand bitmap-body decoding through a FileManager-owned
// Storage. Adapted from the teacher's pager.Pager (eager header parse,
// lazy page body fetch) composed with btree.Btree's offset/cell-table
// walk.
type IndexBase struct {
	mu sync.Mutex

	path string
	st   *storage.Storage // whole file, retained

	header        fileHeader
	variantHeader []byte // bytes between offset 16 and the start of the offset table
	offsets       []uint64

	bodiesStart int64 // absolute offset where bitmap bodies begin (== last offset table entry's base)
	bodies      map[int]*bitvector.Bitvector

	coarse *coarseTrailer // nil if this file has no coarse trailer
}

// coarseTrailer holds a Fuzz index's coarse layer, parsed eagerly like
// the rest of the header since queries need cbounds to route to the
// cascade's cost options.
type coarseTrailer struct {
	nc      int
	cbounds []int    // nc+1 fine-bin boundaries
	coffs   []uint64 // ncb+1 absolute offsets for coarse bitmap bodies
	ncb     int
	start   int64
	cache   map[int]*bitvector.Bitvector
}

// openIndexFile maps path via fm, parses the fixed header + variant
// header + offset table, and returns an IndexBase ready for lazy body
// access. variantHeaderLen is supplied by the caller (each variant knows
// its own header's size once nrows/nobs are known) together with a
// parseCoarse flag (only Fuzz carries a coarse trailer).
func openIndexFile(fm *storage.FileManager, path string, variantHeaderLen func(h fileHeader) int, parseCoarse bool) (*IndexBase, error) {
	st, err := fm.GetFile(path)
	if err != nil {
		return nil, err
	}

	buf := st.Bytes()
	h, err := readHeader(buf)
	if err != nil {
		st.Release()
		return nil, err
	}

	vhLen := variantHeaderLen(h)
	vhStart := headerSize
	vhEnd := vhStart + vhLen
	if vhEnd > len(buf) {
		st.Release()
		return nil, errorsx.NewCorruptIndex(path, "variant header runs past end of file", nil)
	}
	variantHeader := buf[vhStart:vhEnd]

	offsets, err := readOffsetTable(buf[vhEnd:], h.OffsetWidth, int(h.NObs)+1)
	if err != nil {
		st.Release()
		return nil, err
	}

	ib := &IndexBase{
		path:          path,
		st:            st,
		header:        h,
		variantHeader: variantHeader,
		offsets:       offsets,
		bodies:        make(map[int]*bitvector.Bitvector),
	}

	if parseCoarse {
		trailerStart := int64(offsets[len(offsets)-1])
		if int(trailerStart) < len(buf) {
			ct, err := parseCoarseTrailer(buf[trailerStart:], trailerStart)
			if err != nil {
				st.Release()
				return nil, err
			}
			ib.coarse = ct
		}
	}

	return ib, nil
}

// Close releases the backing Storage.
func (ib *IndexBase) Close() error {
	return ib.st.Release()
}

// NRows returns N.
func (ib *IndexBase) NRows() int { return int(ib.header.NRows) }

// NObs returns the number of encoded bitmaps.
func (ib *IndexBase) NObs() int { return int(ib.header.NObs) }

// Tag returns the variant tag.
func (ib *IndexBase) Tag() Tag { return ib.header.Tag }

// Body lazily decodes and caches fine bitmap i.
func (ib *IndexBase) Body(i int) (*bitvector.Bitvector, error) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if bv, ok := ib.bodies[i]; ok {
		return bv, nil
	}
	if i < 0 || i+1 >= len(ib.offsets) {
		return nil, errorsx.NewCorruptIndex(ib.path, fmt.Sprintf("bitmap index %d out of range", i), nil)
	}
	lo, hi := ib.offsets[i], ib.offsets[i+1]
	buf := ib.st.Bytes()
	if hi > uint64(len(buf)) || lo > hi {
		return nil, errorsx.NewCorruptIndex(ib.path, fmt.Sprintf("bitmap %d body [%d,%d) out of bounds", i, lo, hi), nil)
	}
	bv, err := bitvector.Decode(buf[lo:hi])
	if err != nil {
		return nil, err
	}
	ib.bodies[i] = bv
	return bv, nil
}

// HasCoarse reports whether this index file carries a coarse trailer.
func (ib *IndexBase) HasCoarse() bool { return ib.coarse != nil }

// CoarseBounds returns the nc+1 fine-bin boundaries of the coarse layer.
func (ib *IndexBase) CoarseBounds() []int {
	if ib.coarse == nil {
		return nil
	}
	return ib.coarse.cbounds
}

// NCoarse returns nc, the number of coarse bins.
func (ib *IndexBase) NCoarse() int {
	if ib.coarse == nil {
		return 0
	}
	return ib.coarse.nc
}

// CoarseBody lazily decodes and caches coarse bitmap j.
func (ib *IndexBase) CoarseBody(j int) (*bitvector.Bitvector, error) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if ib.coarse == nil {
		return nil, errorsx.NewCorruptIndex(ib.path, "index has no coarse trailer", nil)
	}
	if bv, ok := ib.coarse.cache[j]; ok {
		return bv, nil
	}
	if j < 0 || j+1 >= len(ib.coarse.coffs) {
		return nil, errorsx.NewCorruptIndex(ib.path, fmt.Sprintf("coarse bitmap index %d out of range", j), nil)
	}
	lo, hi := ib.coarse.coffs[j], ib.coarse.coffs[j+1]
	buf := ib.st.Bytes()
	if hi > uint64(len(buf)) || lo > hi {
		return nil, errorsx.NewCorruptIndex(ib.path, fmt.Sprintf("coarse bitmap %d body out of bounds", j), nil)
	}
	bv, err := bitvector.Decode(buf[lo:hi])
	if err != nil {
		return nil, err
	}
	ib.coarse.cache[j] = bv
	return bv, nil
}

// CoarseBytesRange sums the serialized byte cost of coarse bitmaps [lo, hi).
func (ib *IndexBase) CoarseBytesRange(lo, hi int) int64 {
	if ib.coarse == nil || lo >= hi || lo < 0 || hi >= len(ib.coarse.coffs) {
		return 0
	}
	return int64(ib.coarse.coffs[hi] - ib.coarse.coffs[lo])
}

// OrRange ORs together bitmaps [lo, hi).
func (ib *IndexBase) OrRange(lo, hi int) (*bitvector.Bitvector, error) {
	if lo >= hi {
		return bitvector.New(ib.NRows()), nil
	}
	bvs := make([]*bitvector.Bitvector, 0, hi-lo)
	for i := lo; i < hi; i++ {
		bv, err := ib.Body(i)
		if err != nil {
			return nil, err
		}
		bvs = append(bvs, bv)
	}
	return bitvector.OrAll(bvs...)
}

// BytesRange sums the serialized byte cost of bitmaps [lo, hi) without
// decoding them, read straight from the offset table.
func (ib *IndexBase) BytesRange(lo, hi int) int64 {
	if lo >= hi || lo < 0 || hi >= len(ib.offsets) {
		return 0
	}
	return int64(ib.offsets[hi] - ib.offsets[lo])
}

func parseCoarseTrailer(buf []byte, base int64) (*coarseTrailer, error) {
	if len(buf) < 4 {
		return nil, errorsx.NewCorruptIndex("", "truncated coarse trailer", nil)
	}
	nc := int(binary.LittleEndian.Uint32(buf[0:4]))
	off := 4
	need := (nc + 1) * 4
	if len(buf) < off+need {
		return nil, errorsx.NewCorruptIndex("", "truncated coarse bounds", nil)
	}
	cbounds := make([]int, nc+1)
	for i := 0; i <= nc; i++ {
		cbounds[i] = int(binary.LittleEndian.Uint32(buf[off+i*4:]))
	}
	off += need

	if len(buf) < off+4 {
		return nil, errorsx.NewCorruptIndex("", "truncated coarse bitmap count", nil)
	}
	ncb := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	coffsNeed := (ncb + 1) * 8
	if len(buf) < off+coffsNeed {
		return nil, errorsx.NewCorruptIndex("", "truncated coarse offset table", nil)
	}
	// coffs are absolute file offsets, the same convention as the primary
	// offset table, so no base adjustment is needed here.
	coffs := make([]uint64, ncb+1)
	for i := 0; i <= ncb; i++ {
		coffs[i] = binary.LittleEndian.Uint64(buf[off+i*8:])
	}

	return &coarseTrailer{
		nc:      nc,
		cbounds: cbounds,
		coffs:   coffs,
		ncb:     ncb,
		start:   base,
		cache:   make(map[int]*bitvector.Bitvector),
	}, nil
}
