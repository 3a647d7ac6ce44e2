package partition

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/column"
	"github.com/relicstore/ibis/core/index"
	"github.com/relicstore/ibis/core/queryexpr"
	"github.com/relicstore/ibis/core/storage"
)

// writeRelicIndexFor builds a real Relic index over vals and writes it to
// dir/name+".idx", the same on-disk layout core/column's lazy loader
// expects for numeric columns.
func writeRelicIndexFor(t *testing.T, dir, name string, vals []int32) {
	t.Helper()
	floats := make([]float64, len(vals))
	for i, v := range vals {
		floats[i] = float64(v)
	}
	distinctSet := make(map[float64]struct{})
	for _, v := range floats {
		distinctSet[v] = struct{}{}
	}
	distinct := make([]float64, 0, len(distinctSet))
	for v := range distinctSet {
		distinct = append(distinct, v)
	}
	sort.Float64s(distinct)

	bitmaps := make([]*bitvector.Bitvector, len(distinct))
	for i, dv := range distinct {
		bv := bitvector.New(len(vals))
		for row, v := range floats {
			if v == dv {
				bv.SetBit(row)
			}
		}
		bitmaps[i] = bv
	}

	var buf bytes.Buffer
	if err := index.WriteRelicIndex(&buf, len(vals), distinct, bitmaps); err != nil {
		t.Fatalf("WriteRelicIndex: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".idx"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
}

// writeIntColumn writes vals as little-endian int32 rows to dir/name.
func writeIntColumn(t *testing.T, dir, name string, vals []int32) {
	t.Helper()
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeTextColumnFile(t *testing.T, dir, name string, vals []string) {
	t.Helper()
	if err := column.WriteTextRecords(filepath.Join(dir, name), vals); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func intMeta(ages []int32, names []string) *Metadata {
	return &Metadata{
		DataSetName:     "people",
		NumberOfColumns: 2,
		NumberOfRows:    len(ages),
		Columns: []ColumnMeta{
			{Name: "age", DataType: column.TypeInt},
			{Name: "name", DataType: column.TypeText},
		},
	}
}

func newFM() *storage.FileManager {
	return storage.NewFileManager(storage.DefaultFileManagerConfig())
}

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ages := []int32{10, 20, 30}
	names := []string{"a", "b", "c"}
	writeIntColumn(t, dir, "age", ages)
	writeTextColumnFile(t, dir, "name", names)

	fm := newFM()
	p, err := Create(fm, dir, intMeta(ages, names))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.State() != Stable {
		t.Fatalf("got state %v want Stable", p.State())
	}
	if p.NRows() != 3 {
		t.Fatalf("got %d rows want 3", p.NRows())
	}

	p2, err := Open(fm, dir, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p2.NRows() != 3 || p2.State() != Stable {
		t.Fatalf("reopened partition mismatch: rows=%d state=%v", p2.NRows(), p2.State())
	}

	col, err := p2.Column("age")
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	v, isNull, err := col.(*column.Column).Value(1)
	if err != nil || isNull || v != 20 {
		t.Fatalf("Value(1) = %v, %v, %v; want 20, false, nil", v, isNull, err)
	}

	if _, err := p2.Column("nope"); err == nil {
		t.Error("expected UnknownColumn error for missing column")
	}
}

func TestAppendInPlace(t *testing.T) {
	dir := t.TempDir()
	ages := []int32{1, 2}
	names := []string{"x", "y"}
	writeIntColumn(t, dir, "age", ages)
	writeTextColumnFile(t, dir, "name", names)

	fm := newFM()
	p, err := Create(fm, dir, intMeta(ages, names))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	srcDir := t.TempDir()
	srcAges := []int32{1, 2, 3, 4}
	srcNames := []string{"x", "y", "z", "w"}
	writeIntColumn(t, srcDir, "age", srcAges)
	writeTextColumnFile(t, srcDir, "name", srcNames)
	if err := writeMetadata(srcDir, intMeta(srcAges, srcNames)); err != nil {
		t.Fatalf("writeMetadata(src): %v", err)
	}

	n, err := p.Append(srcDir)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d new rows want 2", n)
	}
	if p.State() != Stable {
		t.Fatalf("got state %v want Stable", p.State())
	}
	if p.NRows() != 4 {
		t.Fatalf("got %d rows want 4", p.NRows())
	}

	col, _ := p.Column("age")
	v, _, err := col.(*column.Column).Value(3)
	if err != nil || v != 4 {
		t.Fatalf("Value(3) = %v, %v; want 4", v, err)
	}
}

func TestAppendTwoDirectoryCommit(t *testing.T) {
	activeDir := t.TempDir()
	backupDir := t.TempDir()
	ages := []int32{1, 2}
	names := []string{"x", "y"}
	writeIntColumn(t, activeDir, "age", ages)
	writeTextColumnFile(t, activeDir, "name", names)

	fm := newFM()
	p, err := Create(fm, activeDir, intMeta(ages, names))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.backupDir = backupDir
	if err := p.makeBackupCopy(); err != nil {
		t.Fatalf("makeBackupCopy: %v", err)
	}

	srcDir := t.TempDir()
	srcAges := []int32{1, 2, 3}
	srcNames := []string{"x", "y", "z"}
	writeIntColumn(t, srcDir, "age", srcAges)
	writeTextColumnFile(t, srcDir, "name", srcNames)
	if err := writeMetadata(srcDir, intMeta(srcAges, srcNames)); err != nil {
		t.Fatalf("writeMetadata(src): %v", err)
	}

	n, err := p.Append(srcDir)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d new rows want 1", n)
	}
	if p.State() != Transition {
		t.Fatalf("got state %v want Transition", p.State())
	}

	if err := p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if p.State() != Stable {
		t.Fatalf("got state %v want Stable", p.State())
	}
	if p.NRows() != 3 {
		t.Fatalf("got %d rows want 3", p.NRows())
	}
	col, _ := p.Column("age")
	v, _, err := col.(*column.Column).Value(2)
	if err != nil || v != 3 {
		t.Fatalf("Value(2) = %v, %v; want 3", v, err)
	}
}

func TestAppendTwoDirectoryRollback(t *testing.T) {
	activeDir := t.TempDir()
	backupDir := t.TempDir()
	ages := []int32{1, 2}
	names := []string{"x", "y"}
	writeIntColumn(t, activeDir, "age", ages)
	writeTextColumnFile(t, activeDir, "name", names)

	fm := newFM()
	p, err := Create(fm, activeDir, intMeta(ages, names))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.backupDir = backupDir
	if err := p.makeBackupCopy(); err != nil {
		t.Fatalf("makeBackupCopy: %v", err)
	}
	origDir := p.dir

	srcDir := t.TempDir()
	srcAges := []int32{1, 2, 3}
	srcNames := []string{"x", "y", "z"}
	writeIntColumn(t, srcDir, "age", srcAges)
	writeTextColumnFile(t, srcDir, "name", srcNames)
	if err := writeMetadata(srcDir, intMeta(srcAges, srcNames)); err != nil {
		t.Fatalf("writeMetadata(src): %v", err)
	}

	if _, err := p.Append(srcDir); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if p.State() != Transition {
		t.Fatalf("got state %v want Transition", p.State())
	}

	if err := p.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if p.State() != Stable {
		t.Fatalf("got state %v want Stable", p.State())
	}
	if p.NRows() != 2 {
		t.Fatalf("got %d rows want 2 (unchanged by rollback)", p.NRows())
	}
	if p.dir != origDir {
		t.Errorf("active dir should be restored to %s, got %s", origDir, p.dir)
	}
}

func TestPurgeInactive(t *testing.T) {
	dir := t.TempDir()
	ages := []int32{1, 2, 3, 4}
	names := []string{"a", "b", "c", "d"}
	writeIntColumn(t, dir, "age", ages)
	writeTextColumnFile(t, dir, "name", names)

	fm := newFM()
	p, err := Create(fm, dir, intMeta(ages, names))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.mask.ClearBit(1)
	p.mask.ClearBit(3)
	if err := writeMask(p.dir, p.mask); err != nil {
		t.Fatalf("writeMask: %v", err)
	}

	n, err := p.PurgeInactive()
	if err != nil {
		t.Fatalf("PurgeInactive: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d surviving rows want 2", n)
	}
	if p.NRows() != 2 {
		t.Fatalf("got %d rows want 2", p.NRows())
	}

	col, _ := p.Column("age")
	v0, _, err := col.(*column.Column).Value(0)
	if err != nil || v0 != 1 {
		t.Fatalf("Value(0) = %v, %v; want 1", v0, err)
	}
	v1, _, err := col.(*column.Column).Value(1)
	if err != nil || v1 != 3 {
		t.Fatalf("Value(1) = %v, %v; want 3", v1, err)
	}

	records, err := column.ReadTextRecords(filepath.Join(p.dir, "name"))
	if err != nil {
		t.Fatalf("ReadTextRecords: %v", err)
	}
	if len(records) != 2 || records[0] != "a" || records[1] != "c" {
		t.Fatalf("got %v want [a c]", records)
	}

	for row := 0; row < p.mask.Len(); row++ {
		if !p.mask.GetBit(row) {
			t.Errorf("row %d should be active after purge", row)
		}
	}
}

func TestReorderSortsByRangeWidth(t *testing.T) {
	dir := t.TempDir()
	ages := []int32{30, 10, 20, 10}
	names := []string{"old", "young1", "mid", "young2"}
	writeIntColumn(t, dir, "age", ages)
	writeTextColumnFile(t, dir, "name", names)

	fm := newFM()
	p, err := Create(fm, dir, intMeta(ages, names))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := p.Reorder(); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if p.State() != Stable {
		t.Fatalf("got state %v want Stable", p.State())
	}

	col, _ := p.Column("age")
	var got []float64
	for row := 0; row < p.NRows(); row++ {
		v, _, err := col.(*column.Column).Value(row)
		if err != nil {
			t.Fatalf("Value(%d): %v", row, err)
		}
		got = append(got, v)
	}
	want := []float64{10, 10, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want ascending %v", got, want)
		}
	}

	records, err := column.ReadTextRecords(filepath.Join(p.dir, "name"))
	if err != nil {
		t.Fatalf("ReadTextRecords: %v", err)
	}
	gotNames := make(map[string]bool)
	for _, r := range records {
		gotNames[r] = true
	}
	for _, n := range names {
		if !gotNames[n] {
			t.Errorf("missing name %q after reorder", n)
		}
	}
	if len(records) != 4 {
		t.Fatalf("got %d records want 4", len(records))
	}
	if records[1] != "young1" && records[1] != "young2" {
		t.Errorf("row 1 (age 10) should carry one of the young names, got %q", records[1])
	}
}

func TestEvaluateAppliesActiveMask(t *testing.T) {
	dir := t.TempDir()
	ages := []int32{1, 2, 3}
	names := []string{"a", "b", "c"}
	writeIntColumn(t, dir, "age", ages)
	writeTextColumnFile(t, dir, "name", names)
	writeRelicIndexFor(t, dir, "age", ages)

	fm := newFM()
	p, err := Create(fm, dir, intMeta(ages, names))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.mask.ClearBit(0)
	if err := writeMask(p.dir, p.mask); err != nil {
		t.Fatalf("writeMask: %v", err)
	}

	expr := queryexpr.NewContinuousRange("age", queryexpr.OpGE, 0, queryexpr.OpLT, 100)
	bv, err := p.Evaluate(expr)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if bv.GetBit(0) {
		t.Error("row 0 is inactive, should not appear in results")
	}
	if !bv.GetBit(1) || !bv.GetBit(2) {
		t.Error("active rows 1 and 2 should appear in results")
	}
}
