package partition

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/relicstore/ibis/core/errorsx"
)

// RID is a partition row identifier: spec's 16-byte RID is exactly
// uuid.UUID's underlying array.
type RID = uuid.UUID

// NewRID generates a fresh random RID for a newly-appended row.
func NewRID() RID { return uuid.New() }

const ridsFile = "rids"

// readRIDs reads dir/rids, returning nil if the file does not exist (RIDs
// are optional per spec §6).
func readRIDs(dir string) ([]RID, error) {
	path := filepath.Join(dir, ridsFile)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errorsx.NewIoError("read", path, err)
	}
	if len(buf)%16 != 0 {
		return nil, errorsx.NewCorruptIndex(path, "rids file length not a multiple of 16", nil)
	}
	rids := make([]RID, len(buf)/16)
	for i := range rids {
		copy(rids[i][:], buf[i*16:(i+1)*16])
	}
	return rids, nil
}

// writeRIDs overwrites dir/rids with rids.
func writeRIDs(dir string, rids []RID) error {
	path := filepath.Join(dir, ridsFile)
	buf := make([]byte, 16*len(rids))
	for i, r := range rids {
		copy(buf[i*16:], r[:])
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errorsx.NewIoError("write", path, err)
	}
	return nil
}

// appendRIDs appends n freshly generated RIDs to dir/rids, returning the
// generated ids. It always rewrites dir/rids with existing followed by
// the fresh ids; whether RIDs are in use is decided by the caller.
func appendRIDs(dir string, existing []RID, n int) ([]RID, error) {
	fresh := make([]RID, n)
	for i := range fresh {
		fresh[i] = NewRID()
	}
	all := append(append([]RID{}, existing...), fresh...)
	if err := writeRIDs(dir, all); err != nil {
		return nil, err
	}
	return fresh, nil
}
