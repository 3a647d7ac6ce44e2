// Package partition implements Partition, the on-disk mutation unit
// spec.md §3.8 and §4.6 describe: a directory of column files plus an
// active-row mask and metadata, mutated through a STABLE/RECEIVING/
// PRETRANSITION/TRANSITION/POSTTRANSITION/UNKNOWN state machine.
package partition

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/column"
	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/core/mathexpr"
	"github.com/relicstore/ibis/core/queryexpr"
	"github.com/relicstore/ibis/core/storage"

	"github.com/relicstore/ibis/internal/logging"
)

const (
	metadataFile = "-part.txt"
	maskFile     = "-part.msk"
)

// Partition owns one active directory, an optional backup directory, and
// the Columns built from its metadata. A Partition with no BackupDir can
// only append1 (in-place, not rollback-able); one with a BackupDir
// append2s (copy-on-write, rollback-able).
type Partition struct {
	fm *storage.FileManager

	mu        sync.Mutex
	dir       string
	backupDir string
	state     State
	meta      *Metadata
	mask      *bitvector.Bitvector
	rids      []RID
	columns   map[string]*column.Column
}

// Open reads an existing partition directory's metadata and mask and
// builds (unloaded) Column handles for every column metadata names.
// backupDir may be empty if this partition has no rollback capability.
func Open(fm *storage.FileManager, dir, backupDir string) (*Partition, error) {
	meta, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}
	mask, err := readMask(dir, meta.NumberOfRows)
	if err != nil {
		return nil, err
	}
	rids, err := readRIDs(dir)
	if err != nil {
		return nil, err
	}

	p := &Partition{
		fm:        fm,
		dir:       dir,
		backupDir: backupDir,
		state:     Stable,
		meta:      meta,
		mask:      mask,
		rids:      rids,
		columns:   make(map[string]*column.Column),
	}
	p.rebuildColumns()
	return p, nil
}

// Create initializes a new partition directory: writes -part.txt and an
// all-ones -part.msk for meta.NumberOfRows rows. The column data/index
// files themselves are produced by an external ingestion step (spec.md
// §1's CSVIngestor, out of scope here) and must already exist at dir.
func Create(fm *storage.FileManager, dir string, meta *Metadata) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errorsx.NewIoError("mkdir", dir, err)
	}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}
	mask := bitvector.New(meta.NumberOfRows).Not()
	if err := writeMask(dir, mask); err != nil {
		return nil, err
	}
	return Open(fm, dir, "")
}

func (p *Partition) rebuildColumns() {
	p.columns = make(map[string]*column.Column, len(p.meta.Columns))
	for _, cm := range p.meta.Columns {
		p.columns[cm.Name] = column.New(p.fm, p.dir, cm.Name, cm.DataType)
	}
}

// State returns the current state-machine node.
func (p *Partition) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// NRows returns the partition's current row count (spec's N, shared by
// every column's bitmaps).
func (p *Partition) NRows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta.NumberOfRows
}

// Metadata returns a copy of the partition's current metadata, for
// inspection tooling (cmd/ibis's partition inspect/index rebuild paths).
func (p *Partition) Metadata() Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := *p.meta
	m.Columns = append([]ColumnMeta{}, p.meta.Columns...)
	return m
}

// Dir returns the partition's current active directory.
func (p *Partition) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// --- metadata/mask I/O ---

func readMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, metadataFile)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A crash mid-append can leave the live metadata file missing;
			// fall back to the compressed snapshot taken before the
			// mutation started.
			if rerr := restoreMetadataSnapshot(dir); rerr == nil {
				if buf2, err2 := os.ReadFile(path); err2 == nil {
					return ParseMetadata(buf2)
				}
			}
		}
		return nil, errorsx.NewIoError("read", path, err)
	}
	return ParseMetadata(buf)
}

func writeMetadata(dir string, m *Metadata) error {
	path := filepath.Join(dir, metadataFile)
	if err := os.WriteFile(path, WriteMetadata(m), 0o644); err != nil {
		return errorsx.NewIoError("write", path, err)
	}
	return nil
}

func readMask(dir string, nrows int) (*bitvector.Bitvector, error) {
	path := filepath.Join(dir, maskFile)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bitvector.New(nrows).Not(), nil
		}
		return nil, errorsx.NewIoError("read", path, err)
	}
	bv, err := bitvector.Decode(buf)
	if err != nil {
		return nil, err
	}
	return bv, nil
}

func writeMask(dir string, mask *bitvector.Bitvector) error {
	path := filepath.Join(dir, maskFile)
	f, err := os.Create(path)
	if err != nil {
		return errorsx.NewIoError("create", path, err)
	}
	defer f.Close()
	if _, err := mask.Write(f); err != nil {
		return errorsx.NewIoError("write", path, err)
	}
	return nil
}

// --- queryexpr.Columns wiring ---

// Column resolves a column name into a queryexpr.ColumnEvaluator, or
// UnknownColumn if the partition has no such column (spec §7).
func (p *Partition) Column(name string) (queryexpr.ColumnEvaluator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.columns[name]
	if !ok {
		return nil, errorsx.NewUnknownColumn(name)
	}
	return c, nil
}

// MathEnv adapts the partition's columns into a mathexpr.Env for
// queryexpr.Compare evaluation.
func (p *Partition) MathEnv() mathexpr.Env { return (*mathEnv)(p) }

type mathEnv Partition

func (e *mathEnv) Value(col string, row int) (float64, bool, error) {
	p := (*Partition)(e)
	p.mu.Lock()
	c, ok := p.columns[col]
	p.mu.Unlock()
	if !ok {
		return 0, false, errorsx.NewUnknownColumn(col)
	}
	return c.Value(row)
}

// EvaluateJoin is not implemented: cross-column join resolution is an
// external collaborator concern (spec.md §1's TableFacade), not something
// a single Partition can resolve on its own.
func (p *Partition) EvaluateJoin(left, right string) (*bitvector.Bitvector, error) {
	return nil, errorsx.NewStateViolation("EvaluateJoin", "partition has no join resolver")
}

// Evaluate runs a query expression against this partition's columns and
// intersects the result with the active-row mask, so purged/inactive rows
// never surface in results.
func (p *Partition) Evaluate(e queryexpr.QueryExpr) (*bitvector.Bitvector, error) {
	bv, err := queryexpr.Evaluate(e, p)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	mask := p.mask
	p.mu.Unlock()
	return bitvector.And(bv, mask)
}

func logTransition(dir string, from, to State, args ...any) {
	logging.PartitionTransition(dir, from.String(), to.String(), args...)
}
