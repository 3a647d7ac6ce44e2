package partition

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/relicstore/ibis/core/column"
	"github.com/relicstore/ibis/core/errorsx"
)

// ColumnMeta is one column's entry in -part.txt's Begin Column/End Column
// block.
type ColumnMeta struct {
	Name     string
	DataType column.DataType
	Minimum  *float64
	Maximum  *float64
}

// Metadata is the parsed contents of a partition's -part.txt file.
type Metadata struct {
	DataSetName     string
	NumberOfColumns int
	NumberOfRows    int
	Timestamp       time.Time
	Columns         []ColumnMeta
}

// Column returns the metadata entry for name, or ok=false if absent.
func (m *Metadata) Column(name string) (ColumnMeta, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

// --- grammar ---

type metaLine struct {
	BeginHeader string `(  @BeginHeader`
	EndHeader   string ` | @EndHeader`
	BeginColumn string ` | @BeginColumn`
	EndColumn   string ` | @EndColumn`
	Property    string ` | @Property )`
}

type metaFile struct {
	Lines []metaLine `@@*`
}

var metaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\r\n]*`},
	{Name: "BeginHeader", Pattern: `(?i)BEGIN HEADER`},
	{Name: "EndHeader", Pattern: `(?i)END HEADER`},
	{Name: "BeginColumn", Pattern: `(?i)Begin Column`},
	{Name: "EndColumn", Pattern: `(?i)End Column`},
	{Name: "Property", Pattern: `[a-zA-Z][a-zA-Z0-9_.]*[ \t]*=[^\r\n]*`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "Newline", Pattern: `[\r\n]+`},
})

var metaParser = participle.MustBuild[metaFile](
	participle.Lexer(metaLexer),
	participle.Elide("Comment", "Whitespace", "Newline"),
)

// ParseMetadata parses a -part.txt file: BEGIN HEADER/END HEADER framing
// top-level key=value pairs, and one Begin Column/End Column block per
// column.
func ParseMetadata(data []byte) (*Metadata, error) {
	f, err := metaParser.ParseBytes("", data)
	if err != nil {
		return nil, errorsx.NewCorruptIndex("-part.txt", "metadata parse: "+err.Error(), err)
	}

	m := &Metadata{}
	var cur *ColumnMeta
	inHeader := false

	for _, line := range f.Lines {
		switch {
		case line.BeginHeader != "":
			inHeader = true
		case line.EndHeader != "":
			inHeader = false
		case line.BeginColumn != "":
			cur = &ColumnMeta{}
		case line.EndColumn != "":
			if cur != nil {
				m.Columns = append(m.Columns, *cur)
				cur = nil
			}
		case line.Property != "":
			key, value, ok := splitProperty(line.Property)
			if !ok {
				continue
			}
			if cur != nil {
				if err := setColumnField(cur, key, value); err != nil {
					return nil, err
				}
				continue
			}
			if inHeader {
				if err := setHeaderField(m, key, value); err != nil {
					return nil, err
				}
			}
		}
	}
	return m, nil
}

func splitProperty(prop string) (key, value string, ok bool) {
	idx := strings.Index(prop, "=")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(prop[:idx]), strings.TrimSpace(prop[idx+1:]), true
}

func setHeaderField(m *Metadata, key, value string) error {
	switch key {
	case "DataSet.Name":
		m.DataSetName = value
	case "Number_of_columns":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errorsx.NewCorruptIndex("-part.txt", "invalid Number_of_columns", err)
		}
		m.NumberOfColumns = n
	case "Number_of_rows":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errorsx.NewCorruptIndex("-part.txt", "invalid Number_of_rows", err)
		}
		m.NumberOfRows = n
	case "Timestamp":
		ts, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return errorsx.NewCorruptIndex("-part.txt", "invalid Timestamp", err)
		}
		m.Timestamp = ts
	}
	return nil
}

func setColumnField(c *ColumnMeta, key, value string) error {
	switch key {
	case "name":
		c.Name = value
	case "data_type":
		dt, err := column.ParseDataType(value)
		if err != nil {
			return errorsx.NewCorruptIndex("-part.txt", err.Error(), err)
		}
		c.DataType = dt
	case "minimum":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errorsx.NewCorruptIndex("-part.txt", "invalid minimum", err)
		}
		c.Minimum = &v
	case "maximum":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errorsx.NewCorruptIndex("-part.txt", "invalid maximum", err)
		}
		c.Maximum = &v
	}
	return nil
}

// WriteMetadata serializes m in the same format ParseMetadata accepts.
func WriteMetadata(m *Metadata) []byte {
	var b bytes.Buffer
	fmt.Fprintln(&b, "BEGIN HEADER")
	fmt.Fprintf(&b, "DataSet.Name = %s\n", m.DataSetName)
	fmt.Fprintf(&b, "Number_of_columns = %d\n", m.NumberOfColumns)
	fmt.Fprintf(&b, "Number_of_rows = %d\n", m.NumberOfRows)
	fmt.Fprintf(&b, "Timestamp = %s\n", m.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintln(&b, "END HEADER")

	cols := make([]ColumnMeta, len(m.Columns))
	copy(cols, m.Columns)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })

	for _, c := range cols {
		fmt.Fprintln(&b, "Begin Column")
		fmt.Fprintf(&b, "name = %s\n", c.Name)
		fmt.Fprintf(&b, "data_type = %s\n", c.DataType.String())
		if c.Minimum != nil {
			fmt.Fprintf(&b, "minimum = %s\n", strconv.FormatFloat(*c.Minimum, 'g', -1, 64))
		}
		if c.Maximum != nil {
			fmt.Fprintf(&b, "maximum = %s\n", strconv.FormatFloat(*c.Maximum, 'g', -1, 64))
		}
		fmt.Fprintln(&b, "End Column")
	}
	return b.Bytes()
}
