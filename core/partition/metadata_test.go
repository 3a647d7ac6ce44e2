package partition

import (
	"testing"
	"time"

	"github.com/relicstore/ibis/core/column"
)

func TestParseMetadataRoundTrip(t *testing.T) {
	minAge := 1.0
	maxAge := 99.0
	m := &Metadata{
		DataSetName:     "people",
		NumberOfColumns: 2,
		NumberOfRows:    10,
		Timestamp:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Columns: []ColumnMeta{
			{Name: "age", DataType: column.TypeInt, Minimum: &minAge, Maximum: &maxAge},
			{Name: "name", DataType: column.TypeText},
		},
	}

	data := WriteMetadata(m)
	got, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}

	if got.DataSetName != "people" || got.NumberOfColumns != 2 || got.NumberOfRows != 10 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(m.Timestamp) {
		t.Errorf("timestamp mismatch: got %v want %v", got.Timestamp, m.Timestamp)
	}
	if len(got.Columns) != 2 {
		t.Fatalf("got %d columns want 2", len(got.Columns))
	}
	age, ok := got.Column("age")
	if !ok {
		t.Fatal("missing age column")
	}
	if age.DataType != column.TypeInt || age.Minimum == nil || *age.Minimum != 1.0 || age.Maximum == nil || *age.Maximum != 99.0 {
		t.Errorf("age column mismatch: %+v", age)
	}
	name, ok := got.Column("name")
	if !ok || name.DataType != column.TypeText {
		t.Errorf("name column mismatch: %+v", name)
	}
}

func TestParseMetadataIgnoresComments(t *testing.T) {
	data := []byte("# a comment\nBEGIN HEADER\nDataSet.Name = x\nNumber_of_columns = 0\nNumber_of_rows = 0\nTimestamp = 2026-01-01T00:00:00Z\nEND HEADER\n")
	m, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if m.DataSetName != "x" {
		t.Errorf("got %q want x", m.DataSetName)
	}
}
