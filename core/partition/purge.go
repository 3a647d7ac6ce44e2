package partition

import (
	"os"
	"path/filepath"

	"github.com/relicstore/ibis/core/bitvector"
)

// PurgeInactive rewrites every column file retaining only the rows marked
// active in the current mask, then resets the mask to all-ones at the new
// (smaller) row count. Stale index files are removed since their bitmaps
// no longer correspond to any row numbering; rebuilding them from the
// purged column data is an ingestion-pipeline concern (spec.md §1, out of
// scope here).
func (p *Partition) PurgeInactive() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(Receiving); err != nil {
		return 0, err
	}

	buf := make([]byte, 64*1024)
	// SaveSelected reads the column's own file in p.dir, so the kept rows
	// go to a scratch directory first and are then renamed over it.
	tmpDir, err := os.MkdirTemp(p.dir, ".purge-")
	if err != nil {
		p.fail(err)
		return 0, err
	}
	defer os.RemoveAll(tmpDir)
	nSaved := 0
	for _, cm := range p.meta.Columns {
		c := p.columns[cm.Name]
		n, err := c.SaveSelected(p.mask, tmpDir, buf)
		if err != nil {
			p.fail(err)
			return 0, err
		}
		if err := os.Rename(filepath.Join(tmpDir, cm.Name), filepath.Join(p.dir, cm.Name)); err != nil {
			p.fail(err)
			return 0, err
		}
		nSaved = n
		dropStaleIndex(p.dir, cm.Name)
	}

	newMeta := *p.meta
	newMeta.Columns = append([]ColumnMeta{}, p.meta.Columns...)
	newMeta.NumberOfRows = nSaved
	if err := writeMetadata(p.dir, &newMeta); err != nil {
		p.fail(err)
		return 0, err
	}
	newMask := bitvector.New(nSaved).Not()
	if err := writeMask(p.dir, newMask); err != nil {
		p.fail(err)
		return 0, err
	}

	p.meta = &newMeta
	p.mask = newMask
	p.rebuildColumns()
	for _, cm := range p.meta.Columns {
		p.fm.Evict(filepath.Join(p.dir, cm.Name))
	}
	p.state = Stable
	logTransition(p.dir, Receiving, Stable, "purged_to_rows", nSaved)
	return nSaved, nil
}

func dropStaleIndex(dir, name string) {
	_ = os.Remove(filepath.Join(dir, name+".idx"))
}
