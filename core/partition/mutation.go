package partition

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	"github.com/relicstore/ibis/core/bitvector"
	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/internal/logging"
)

// Append ingests the new rows present in srcDir (an already-built
// partition-shaped directory with the same columns, spec.md §1's
// CSVIngestor out of scope here) beyond this partition's current row
// count. It dispatches to the in-place append1 path when this Partition
// has no backup directory, or the copy-on-write append2 path otherwise,
// which lands in the Transition state awaiting an explicit Commit or
// Rollback call.
func (p *Partition) Append(srcDir string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.backupDir == "" {
		return p.appendInPlace(srcDir)
	}
	return p.appendTwoDirectory(srcDir)
}

func (p *Partition) appendInPlace(srcDir string) (int, error) {
	if err := p.enter(Receiving); err != nil {
		return 0, err
	}

	nNew, err := p.copyNewRows(p.dir, srcDir)
	if err != nil {
		p.fail(err)
		return 0, err
	}
	if nNew == 0 {
		p.state = Stable
		return 0, nil
	}

	nOld := p.meta.NumberOfRows
	if err := p.extendActiveState(p.dir, nOld, nNew); err != nil {
		p.fail(err)
		return 0, err
	}

	p.state = Stable
	logTransition(p.dir, Receiving, Stable, "rows_appended", nNew)
	return nNew, nil
}

func (p *Partition) appendTwoDirectory(srcDir string) (int, error) {
	if err := p.enter(Receiving); err != nil {
		return 0, err
	}

	nOld := p.meta.NumberOfRows
	if err := p.enter(Pretransition); err != nil {
		return 0, err
	}

	if err := snapshotMetadata(p.backupDir); err != nil {
		p.fail(err)
		return 0, err
	}

	nNew, err := p.copyNewRows(p.backupDir, srcDir)
	if err != nil {
		p.fail(err)
		return 0, err
	}
	if nNew == 0 {
		p.state = Stable
		return 0, nil
	}
	if err := p.extendActiveState(p.backupDir, nOld, nNew); err != nil {
		p.fail(err)
		return 0, err
	}

	if err := p.enter(Transition); err != nil {
		return 0, err
	}
	p.swapDirs()
	logTransition(p.dir, Pretransition, Transition, "rows_appended", nNew)
	return nNew, nil
}

// copyNewRows streams every column's new rows (srcMeta's row count minus
// this partition's current count) from srcDir into destDir, returning the
// number of rows copied.
func (p *Partition) copyNewRows(destDir, srcDir string) (int, error) {
	srcMeta, err := readMetadata(srcDir)
	if err != nil {
		return 0, err
	}
	nOld := p.meta.NumberOfRows
	nNew := srcMeta.NumberOfRows - nOld
	if nNew <= 0 {
		return 0, nil
	}

	buf := make([]byte, 64*1024)
	for _, cm := range p.meta.Columns {
		c := p.columns[cm.Name]
		if _, err := c.Append(destDir, srcDir, nOld, nNew, buf); err != nil {
			return 0, err
		}
	}
	return nNew, nil
}

// extendActiveState extends dir's mask and RID file by nNew newly-active
// rows and rewrites dir's metadata row count, after its column files have
// already been extended by copyNewRows.
func (p *Partition) extendActiveState(dir string, nOld, nNew int) error {
	oldMask, err := readMask(dir, nOld)
	if err != nil {
		return err
	}
	newMask := bitvector.New(nOld + nNew)
	for i := 0; i < nOld; i++ {
		if oldMask.GetBit(i) {
			newMask.SetBit(i)
		}
	}
	for i := nOld; i < nOld+nNew; i++ {
		newMask.SetBit(i)
	}
	if err := writeMask(dir, newMask); err != nil {
		return err
	}

	if existing, err := readRIDs(dir); err != nil {
		return err
	} else if existing != nil {
		if _, err := appendRIDs(dir, existing, nNew); err != nil {
			return err
		}
	}

	newMeta := *p.meta
	newMeta.Columns = append([]ColumnMeta{}, p.meta.Columns...)
	newMeta.NumberOfRows = nOld + nNew
	if err := writeMetadata(dir, &newMeta); err != nil {
		return err
	}

	if dir == p.dir {
		p.meta = &newMeta
		p.mask = newMask
	}
	return nil
}

// swapDirs exchanges the active/backup roles and reloads this
// Partition's in-memory state from the new active directory.
func (p *Partition) swapDirs() {
	p.dir, p.backupDir = p.backupDir, p.dir
	p.reload()
}

func (p *Partition) reload() {
	meta, err := readMetadata(p.dir)
	if err != nil {
		p.fail(err)
		return
	}
	mask, err := readMask(p.dir, meta.NumberOfRows)
	if err != nil {
		p.fail(err)
		return
	}
	rids, err := readRIDs(p.dir)
	if err != nil {
		p.fail(err)
		return
	}
	p.meta = meta
	p.mask = mask
	p.rids = rids
	p.rebuildColumns()
}

// Commit finalizes a Transition left by append2, verifying the new
// active directory's mask length matches its declared row count before
// landing back in Stable. It then re-syncs the backup directory to
// mirror the (now committed) active directory, so the next append2 call
// can again copy-on-write against a backup that already mirrors n_old
// rows.
func (p *Partition) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(Posttransition); err != nil {
		return err
	}
	if p.mask.Len() != p.meta.NumberOfRows {
		err := errorsx.NewCorruptIndex(p.dir, "mask length does not match committed row count", nil)
		p.fail(err)
		return err
	}
	if err := p.enter(Stable); err != nil {
		return err
	}
	logTransition(p.dir, Posttransition, Stable)

	if err := p.makeBackupCopy(); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

// Rollback undoes a Transition left by append2: swap the active/backup
// roles back, discarding the attempted append.
func (p *Partition) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Transition {
		return errorsx.NewStateViolation("rollback", p.state.String())
	}
	p.swapDirs()
	p.state = Stable
	logTransition(p.dir, Transition, Stable, "rollback", true)
	return nil
}

// enter validates and performs a state transition, recording it in the
// partition log.
func (p *Partition) enter(to State) error {
	if err := requireTransition(p.state, to); err != nil {
		return err
	}
	from := p.state
	p.state = to
	logTransition(p.dir, from, to)
	return nil
}

// fail marks the partition UNKNOWN after a mutation failure and attempts
// the spec's "any failure -> UNKNOWN -> makeBackupCopy -> STABLE"
// recovery: re-mirroring the backup directory from the still-good active
// directory. If no backup directory exists (append1) there is nothing to
// resync and the partition is left UNKNOWN for operator attention.
func (p *Partition) fail(err error) {
	p.state = Unknown
	logging.Error("partition_mutation_failed", "dir", p.dir, "error", err.Error())
	if p.backupDir == "" {
		return
	}
	if merr := p.makeBackupCopy(); merr == nil {
		p.state = Stable
		logTransition(p.dir, Unknown, Stable, "recovered_via", "makeBackupCopy")
	}
}

// makeBackupCopy re-mirrors the backup directory from the current active
// directory's column files, metadata, mask, and RIDs.
func (p *Partition) makeBackupCopy() error {
	if err := os.MkdirAll(p.backupDir, 0o755); err != nil {
		return errorsx.NewIoError("mkdir", p.backupDir, err)
	}
	for _, cm := range p.meta.Columns {
		if err := copyFile(filepath.Join(p.dir, cm.Name), filepath.Join(p.backupDir, cm.Name)); err != nil {
			return err
		}
		copyFileIfExists(filepath.Join(p.dir, cm.Name+".idx"), filepath.Join(p.backupDir, cm.Name+".idx"))
		copyFileIfExists(filepath.Join(p.dir, cm.Name+".terms"), filepath.Join(p.backupDir, cm.Name+".terms"))
	}
	if err := writeMetadata(p.backupDir, p.meta); err != nil {
		return err
	}
	if err := writeMask(p.backupDir, p.mask); err != nil {
		return err
	}
	if len(p.rids) > 0 {
		if err := writeRIDs(p.backupDir, p.rids); err != nil {
			return err
		}
	}
	return snapshotMetadata(p.backupDir)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errorsx.NewIoError("open", src, err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return errorsx.NewIoError("create", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errorsx.NewIoError("copy", dest, err)
	}
	return nil
}

// copyFileIfExists copies src to dest, silently doing nothing if src is
// absent (index/terms files are not guaranteed to exist for every
// column).
func copyFileIfExists(src, dest string) {
	if _, err := os.Stat(src); err != nil {
		return
	}
	_ = copyFile(src, dest)
}

// snapshotMetadata compresses backupDir's current -part.txt into a
// "-part.txt.xz" side file, a cheap crash-recovery net: if a copy-on-write
// append fails partway through mutating the backup directory, the
// metadata (though not the column data) can still be restored without
// redoing the whole copy.
func snapshotMetadata(backupDir string) error {
	path := filepath.Join(backupDir, metadataFile)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errorsx.NewIoError("read", path, err)
	}

	snapPath := path + ".xz"
	f, err := os.Create(snapPath)
	if err != nil {
		return errorsx.NewIoError("create", snapPath, err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		return errorsx.NewIoError("xz", snapPath, err)
	}
	if _, err := xw.Write(buf); err != nil {
		return errorsx.NewIoError("xz", snapPath, err)
	}
	if err := xw.Close(); err != nil {
		return errorsx.NewIoError("xz", snapPath, err)
	}
	return nil
}

// restoreMetadataSnapshot recovers backupDir's -part.txt from its xz
// snapshot. readMetadata calls it whenever a directory's live metadata
// file is missing; a missing snapshot is not an error.
func restoreMetadataSnapshot(backupDir string) error {
	snapPath := filepath.Join(backupDir, metadataFile+".xz")
	f, err := os.Open(snapPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errorsx.NewIoError("open", snapPath, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return errorsx.NewIoError("xz", snapPath, err)
	}
	buf, err := io.ReadAll(xr)
	if err != nil {
		return errorsx.NewIoError("xz", snapPath, err)
	}
	path := filepath.Join(backupDir, metadataFile)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errorsx.NewIoError("write", path, err)
	}
	return nil
}
