// Package column implements Column, the owner of one partition column's
// data file and its lazily-loaded Index. It adapts core/index's variants
// into core/queryexpr's ColumnEvaluator contract and streams row data for
// append/purge mutations.
package column

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"sync"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/dict"
	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/core/index"
	"github.com/relicstore/ibis/core/queryexpr"
	"github.com/relicstore/ibis/core/storage"
)

// Column owns one partition column's raw data file path and, once
// loaded, its Index. A Column loads at most one Index per lifetime
// (spec §4.5): the first Evaluate* call opens it and every later call
// reuses the cached handle.
type Column struct {
	Name     string
	DataType DataType
	Dir      string
	fm       *storage.FileManager

	mu       sync.Mutex
	numeric  index.Index     // set once loaded, for non-keyword types
	keywords *index.Keywords // set once loaded, for TypeCategory/TypeText
	loadErr  error
	loaded   bool
}

// New returns a Column bound to dir/name (+".idx"/"...") but loads
// nothing yet.
func New(fm *storage.FileManager, dir, name string, dt DataType) *Column {
	return &Column{Name: name, DataType: dt, Dir: dir, fm: fm}
}

func (c *Column) dataPath() string { return filepath.Join(c.Dir, c.Name) }
func (c *Column) indexPath() string { return filepath.Join(c.Dir, c.Name+".idx") }
func (c *Column) termsPath() string { return filepath.Join(c.Dir, c.Name+".terms") }

// ensureIndex lazily opens the column's index file, picking the variant
// Open* constructor from the on-disk tag for numeric columns, or
// OpenKeywords for category/text columns.
func (c *Column) ensureIndex() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.loadErr
	}
	c.loaded = true

	if c.DataType.IsKeyword() {
		k, err := index.OpenKeywords(c.fm, c.indexPath())
		if err != nil {
			c.loadErr = err
			return err
		}
		c.keywords = k
		return nil
	}

	tag, err := index.PeekTag(c.fm, c.indexPath())
	if err != nil {
		c.loadErr = err
		return err
	}
	var idx index.Index
	switch tag {
	case index.TagRelic:
		idx, err = index.OpenRelic(c.fm, c.indexPath())
	case index.TagDirekte:
		idx, err = index.OpenDirekte(c.fm, c.indexPath())
	case index.TagFuzz:
		idx, err = index.OpenFuzz(c.fm, c.indexPath())
	default:
		err = errorsx.NewCorruptIndex(c.indexPath(), "unexpected variant tag for numeric column", nil)
	}
	if err != nil {
		c.loadErr = err
		return err
	}
	c.numeric = idx
	return nil
}

// NRows returns the row count of the column's loaded index.
func (c *Column) NRows() (int, error) {
	if err := c.ensureIndex(); err != nil {
		return 0, err
	}
	if c.keywords != nil {
		return c.keywords.NRows(), nil
	}
	return c.numeric.NRows(), nil
}

// Dictionary exposes the term dictionary of a keyword-indexed column, or
// nil for a numeric one.
func (c *Column) Dictionary() (*dict.Dictionary, error) {
	if err := c.ensureIndex(); err != nil {
		return nil, err
	}
	if c.keywords == nil {
		return nil, nil
	}
	return c.keywords.Dictionary(), nil
}

// --- queryexpr.ColumnEvaluator ---

func (c *Column) EvaluateRange(r queryexpr.ContinuousRange) (*bitvector.Bitvector, error) {
	if err := c.ensureIndex(); err != nil {
		return nil, err
	}
	if c.numeric == nil {
		return nil, errorsx.NewStateViolation("column.EvaluateRange", "column "+c.Name+" is not numeric")
	}
	var lowBV, highBV *bitvector.Bitvector
	var err error
	if r.HasLo {
		lowBV, err = c.numeric.Evaluate(index.OpGE, r.Lo)
		if err != nil {
			return nil, err
		}
	}
	if r.HasHi {
		highBV, err = c.numeric.Evaluate(index.OpLT, r.Hi)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case lowBV != nil && highBV != nil:
		return bitvector.And(lowBV, highBV)
	case lowBV != nil:
		return lowBV, nil
	case highBV != nil:
		return highBV, nil
	default:
		// Fully unbounded range: every row matches.
		return bitvector.New(c.numeric.NRows()).Not(), nil
	}
}

func (c *Column) EvaluateDiscrete(r queryexpr.DiscreteRange) (*bitvector.Bitvector, error) {
	if err := c.ensureIndex(); err != nil {
		return nil, err
	}
	if c.numeric == nil {
		return nil, errorsx.NewStateViolation("column.EvaluateDiscrete", "column "+c.Name+" is not numeric")
	}
	return c.numeric.EvaluateIn(r.Values)
}

func (c *Column) EvaluateStringEq(p queryexpr.StringEq) (*bitvector.Bitvector, error) {
	if err := c.ensureIndex(); err != nil {
		return nil, err
	}
	if c.keywords == nil {
		return nil, errorsx.NewStateViolation("column.EvaluateStringEq", "column "+c.Name+" is not keyword-indexed")
	}
	return c.keywords.Search(p.Value)
}

func (c *Column) EvaluateMultiString(p queryexpr.MultiString) (*bitvector.Bitvector, error) {
	if err := c.ensureIndex(); err != nil {
		return nil, err
	}
	if c.keywords == nil {
		return nil, errorsx.NewStateViolation("column.EvaluateMultiString", "column "+c.Name+" is not keyword-indexed")
	}
	return c.keywords.SearchAny(p.Values)
}

func (c *Column) EvaluateAnyOf(p queryexpr.AnyOf) (*bitvector.Bitvector, error) {
	if err := c.ensureIndex(); err != nil {
		return nil, err
	}
	if c.keywords == nil {
		return nil, errorsx.NewStateViolation("column.EvaluateAnyOf", "column "+c.Name+" is not keyword-indexed")
	}
	return c.keywords.SearchAny(p.Keys)
}

// Value reads the raw numeric value at row for MathTerm evaluation
// (queryexpr.Compare nodes). Category columns report their dictionary id
// as a float64; text columns have no numeric value and return NULL.
func (c *Column) Value(row int) (float64, bool, error) {
	if c.DataType == TypeText {
		return 0, true, nil
	}
	width, ok := c.DataType.FixedWidth()
	if !ok {
		return 0, true, nil
	}
	st, err := c.fm.GetFileSegment(c.dataPath(), int64(row*width), int64(width))
	if err != nil {
		return 0, false, err
	}
	defer st.Release()
	buf := st.Bytes()
	if len(buf) < width {
		return 0, false, errorsx.NewCorruptIndex(c.dataPath(), "short read for row value", nil)
	}
	return decodeValue(c.DataType, buf), false, nil
}

func decodeValue(dt DataType, buf []byte) float64 {
	switch dt {
	case TypeByte:
		return float64(int8(buf[0]))
	case TypeShort:
		return float64(int16(binary.LittleEndian.Uint16(buf)))
	case TypeInt:
		return float64(int32(binary.LittleEndian.Uint32(buf)))
	case TypeLong, TypeCategory:
		return float64(int64(binary.LittleEndian.Uint64(buf)))
	case TypeFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case TypeDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	default:
		return 0
	}
}
