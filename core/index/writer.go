package index

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/errorsx"
)

// buildSpec describes everything needed to serialize one index file: the
// fixed header fields, the variant-specific header blob, the fine
// bitmaps, and an optional coarse trailer (Fuzz only).
type buildSpec struct {
	Tag           Tag
	NRows         uint32
	OffsetWidth   int // 4 or 8; 0 defaults to 4
	VariantHeader []byte
	Bitmaps       []*bitvector.Bitvector
	Coarse        *coarseBuildSpec
}

type coarseBuildSpec struct {
	CBounds []int
	Bitmaps []*bitvector.Bitvector
}

// writeIndexFile serializes spec to w in the format §4.3.5/§6 describe:
// header, variant header, offset table, bitmap bodies, optional coarse
// trailer.
func writeIndexFile(w io.Writer, spec buildSpec) error {
	width := spec.OffsetWidth
	if width == 0 {
		width = 4
	}

	// Serialize every fine bitmap body up front so exact byte offsets are
	// known before the offset table is written.
	bodies := make([][]byte, len(spec.Bitmaps))
	for i, bv := range spec.Bitmaps {
		var buf bytes.Buffer
		if _, err := bv.Write(&buf); err != nil {
			return err
		}
		bodies[i] = buf.Bytes()
	}

	headerLen := int64(headerSize + len(spec.VariantHeader))
	offsetTableLen := int64(width * (len(bodies) + 1))

	offsets := make([]uint64, len(bodies)+1)
	pos := uint64(headerLen) + uint64(offsetTableLen)
	for i, body := range bodies {
		offsets[i] = pos
		pos += uint64(len(body))
	}
	offsets[len(bodies)] = pos

	if err := writeHeader(w, fileHeader{
		Tag:         spec.Tag,
		OffsetWidth: width,
		NRows:       spec.NRows,
		NObs:        uint32(len(bodies)),
	}); err != nil {
		return err
	}
	if _, err := w.Write(spec.VariantHeader); err != nil {
		return errorsx.NewIoError("write", "", err)
	}
	if err := writeOffsetTable(w, width, offsets); err != nil {
		return err
	}
	for _, body := range bodies {
		if _, err := w.Write(body); err != nil {
			return errorsx.NewIoError("write", "", err)
		}
	}

	if spec.Coarse != nil {
		if err := writeCoarseTrailer(w, pos, spec.Coarse); err != nil {
			return err
		}
	}

	return nil
}

func writeCoarseTrailer(w io.Writer, base uint64, cs *coarseBuildSpec) error {
	coarseBodies := make([][]byte, len(cs.Bitmaps))
	for i, bv := range cs.Bitmaps {
		var buf bytes.Buffer
		if _, err := bv.Write(&buf); err != nil {
			return err
		}
		coarseBodies[i] = buf.Bytes()
	}

	nc := len(cs.CBounds) - 1
	var hdr bytes.Buffer
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(nc))
	hdr.Write(u32[:])
	for _, b := range cs.CBounds {
		binary.LittleEndian.PutUint32(u32[:], uint32(b))
		hdr.Write(u32[:])
	}
	binary.LittleEndian.PutUint32(u32[:], uint32(len(coarseBodies)))
	hdr.Write(u32[:])

	coffsLen := uint64(8 * (len(coarseBodies) + 1))
	coffs := make([]uint64, len(coarseBodies)+1)
	pos := base + uint64(hdr.Len()) + coffsLen
	for i, body := range coarseBodies {
		coffs[i] = pos
		pos += uint64(len(body))
	}
	coffs[len(coarseBodies)] = pos

	var coffsBuf bytes.Buffer
	for _, off := range coffs {
		var u64 [8]byte
		binary.LittleEndian.PutUint64(u64[:], off)
		coffsBuf.Write(u64[:])
	}

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return errorsx.NewIoError("write", "", err)
	}
	if _, err := w.Write(coffsBuf.Bytes()); err != nil {
		return errorsx.NewIoError("write", "", err)
	}
	for _, body := range coarseBodies {
		if _, err := w.Write(body); err != nil {
			return errorsx.NewIoError("write", "", err)
		}
	}
	return nil
}
