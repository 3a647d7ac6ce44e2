package index

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/dict"
	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/core/storage"
)

// Keywords is the term-document index variant: a Dictionary of terms plus
// one bitmap per term, and a reserved "any term" bitmap B0. It does not
// implement the CompareOp-based Index interface — term matching is a
// string lookup, not a numeric range predicate — so QueryExpr's StringEq
// and MultiString nodes call Search/SearchAny directly rather than going
// through Evaluate.
type Keywords struct {
	ib   *IndexBase
	dict *dict.Dictionary
}

// OpenKeywords opens a Keywords index file. The variant header is a
// uint32 byte length followed by a serialized Dictionary (core/dict's
// varint-length-prefixed string format).
func OpenKeywords(fm *storage.FileManager, path string) (*Keywords, error) {
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

	if len(buf) < headerSize+4 {
		st.Release()
		return nil, errorsx.NewCorruptIndex(path, "truncated keywords dictionary length", nil)
	}
	dictLen := int(binary.LittleEndian.Uint32(buf[headerSize:]))
	dictStart := headerSize + 4
	dictEnd := dictStart + dictLen
	if dictEnd > len(buf) {
		st.Release()
		return nil, errorsx.NewCorruptIndex(path, "dictionary runs past end of file", nil)
	}
	d, err := dict.Read(bytes.NewReader(buf[dictStart:dictEnd]))
	if err != nil {
		st.Release()
		return nil, err
	}

	offsets, err := readOffsetTable(buf[dictEnd:], h.OffsetWidth, int(h.NObs)+1)
	if err != nil {
		st.Release()
		return nil, err
	}

	ib := &IndexBase{
		path:    path,
		st:      st,
		header:  h,
		offsets: offsets,
		bodies:  make(map[int]*bitvector.Bitvector),
	}
	return &Keywords{ib: ib, dict: d}, nil
}

// WriteKeywordsIndex serializes a Keywords index. bitmaps must be indexed
// by dictionary id (bitmaps[0] is B0, the any-term mask; bitmaps[i] for
// i >= 1 is the bitmap for the term with dictionary id i), so
// len(bitmaps) == d.Len()+1.
func WriteKeywordsIndex(w io.Writer, nrows int, d *dict.Dictionary, bitmaps []*bitvector.Bitvector) error {
	var dictBuf bytes.Buffer
	if err := d.Write(&dictBuf); err != nil {
		return err
	}

	bodies := make([][]byte, len(bitmaps))
	for i, bv := range bitmaps {
		var buf bytes.Buffer
		if _, err := bv.Write(&buf); err != nil {
			return err
		}
		bodies[i] = buf.Bytes()
	}

	const width = 4
	headerLen := int64(headerSize + 4 + dictBuf.Len())
	offsetTableLen := int64(width * (len(bodies) + 1))
	offsets := make([]uint64, len(bodies)+1)
	pos := uint64(headerLen) + uint64(offsetTableLen)
	for i, body := range bodies {
		offsets[i] = pos
		pos += uint64(len(body))
	}
	offsets[len(bodies)] = pos

	if err := writeHeader(w, fileHeader{
		Tag:         TagKeywords,
		OffsetWidth: width,
		NRows:       uint32(nrows),
		NObs:        uint32(len(bodies)),
	}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(dictBuf.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errorsx.NewIoError("write", "", err)
	}
	if _, err := w.Write(dictBuf.Bytes()); err != nil {
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
	return nil
}

func (k *Keywords) NRows() int { return k.ib.NRows() }
func (k *Keywords) Tag() Tag   { return TagKeywords }

// Dictionary exposes the underlying term dictionary, read-only.
func (k *Keywords) Dictionary() *dict.Dictionary { return k.dict }

// Search looks up term and returns its bitmap, or an all-zero bitmap of
// size NRows if the term is not in the dictionary.
func (k *Keywords) Search(term string) (*bitvector.Bitvector, error) {
	id, ok := k.dict.Lookup(term)
	if !ok {
		return bitvector.New(k.NRows()), nil
	}
	return k.ib.Body(int(id))
}

// SearchAny ORs the bitmaps for every term in terms (MultiString / "OR of
// keywords" semantics).
func (k *Keywords) SearchAny(terms []string) (*bitvector.Bitvector, error) {
	acc := bitvector.New(k.NRows())
	for _, term := range terms {
		bv, err := k.Search(term)
		if err != nil {
			return nil, err
		}
		if err := acc.OrInPlace(bv); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// AnyTerm returns B0, the mask of rows carrying at least one term.
func (k *Keywords) AnyTerm() (*bitvector.Bitvector, error) {
	return k.ib.Body(0)
}

// TermDocEntry is one parsed line of a term-document list: a term and the
// raw (unmapped) document/row ids naming it.
type TermDocEntry struct {
	Term string   `@Ident ":"`
	IDs  []string `@Number ("," @Number)*`
}

type termDocFile struct {
	Entries []TermDocEntry `@@*`
}

var termDocLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(#|--)[^\r\n]*`},
	{Name: "Continuation", Pattern: `\\[ \t]*\r?\n`},
	{Name: "Colon", Pattern: `:`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Number", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[^\s:,#]+`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "Newline", Pattern: `[\r\n]+`},
})

var termDocParser = participle.MustBuild[termDocFile](
	participle.Lexer(termDocLexer),
	participle.Elide("Comment", "Continuation", "Whitespace", "Newline"),
)

// ParseTermDocList parses a term-document list file: lines of the form
// `term : id1, id2, …`, with `\` line continuation and `#`/`--` comments.
func ParseTermDocList(data []byte) ([]TermDocEntry, error) {
	f, err := termDocParser.ParseBytes("", data)
	if err != nil {
		return nil, errorsx.NewCorruptIndex("", "term-document list: "+err.Error(), err)
	}
	return f.Entries, nil
}

// BuildKeywordsIndex turns parsed term-document entries into a Dictionary
// and its aligned bitmap set (bitmaps[0] == B0). When idColumn is
// non-nil, each entry's raw ids are rerouted through it: idColumn must be
// sorted ascending, and a raw id is mapped to the row at its sorted
// position (spec's "id-column reroutes ids through a sorted-position
// mapping"). When idColumn is nil, raw ids are used directly as row
// indices.
func BuildKeywordsIndex(nrows int, entries []TermDocEntry, idColumn []uint64) (*dict.Dictionary, []*bitvector.Bitvector, error) {
	d := dict.New()
	for _, e := range entries {
		d.Insert(e.Term)
	}

	bitmaps := make([]*bitvector.Bitvector, d.Len()+1)
	for i := range bitmaps {
		bitmaps[i] = bitvector.New(nrows)
	}

	anyTerm := bitmaps[0]
	for _, e := range entries {
		id, _ := d.Lookup(e.Term)
		bv := bitmaps[id]
		for _, raw := range e.IDs {
			docID, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, nil, errorsx.NewCorruptIndex("", "invalid document id "+raw, err)
			}
			row, ok := resolveRow(docID, idColumn, nrows)
			if !ok {
				continue
			}
			bv.SetBit(row)
			anyTerm.SetBit(row)
		}
	}

	return d, bitmaps, nil
}

func resolveRow(docID uint64, idColumn []uint64, nrows int) (int, bool) {
	if idColumn == nil {
		if docID >= uint64(nrows) {
			return 0, false
		}
		return int(docID), true
	}
	pos := sort.Search(len(idColumn), func(i int) bool { return idColumn[i] >= docID })
	if pos >= len(idColumn) || idColumn[pos] != docID {
		return 0, false
	}
	return pos, true
}
