// Package dict implements Dictionary, the bidirectional string<->id
// mapping shared by every string-valued Column and by the Keywords index
// variant's term table.
package dict

import (
	"bufio"
	"io"
	"sync"

	"github.com/relicstore/ibis/core/errorsx"
)

// NullID is the reserved id for the NULL/missing value. Real strings are
// always assigned ids starting at 1.
const NullID uint64 = 0

// Dictionary is a bidirectional string<->id map. Ids are assigned in
// first-insertion order starting at 1, and once assigned are stable for
// the lifetime of the dictionary: Lookup/Insert never renumber an
// existing entry, matching the append-only growth a partition's string
// columns rely on (an id baked into a bitmap index must keep meaning the
// same string forever).
type Dictionary struct {
	mu sync.RWMutex

	byString map[string]uint64
	byID     []string // byID[0] unused (reserved for NullID)
}

// New returns an empty Dictionary with id 0 reserved for NULL.
func New() *Dictionary {
	return &Dictionary{
		byString: make(map[string]uint64),
		byID:     []string{""}, // index 0 is the NULL placeholder
	}
}

// Lookup returns the id for s and true if s is already present.
func (d *Dictionary) Lookup(s string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byString[s]
	return id, ok
}

// Insert returns the id for s, assigning a new one if s is not already
// present.
func (d *Dictionary) Insert(s string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byString[s]; ok {
		return id
	}
	id := uint64(len(d.byID))
	d.byID = append(d.byID, s)
	d.byString[s] = id
	return id
}

// String returns the string for id, or "" and false if id is unassigned
// or is NullID.
func (d *Dictionary) String(id uint64) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id == NullID || id >= uint64(len(d.byID)) {
		return "", false
	}
	return d.byID[id], true
}

// Len returns the number of non-NULL entries.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID) - 1
}

// Strings returns every assigned string in id order (index 0 is the NULL
// placeholder and is omitted), used by index builders that need to walk
// the dictionary's distinct values sorted by insertion order before
// re-sorting by value.
func (d *Dictionary) Strings() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.byID)-1)
	copy(out, d.byID[1:])
	return out
}

// Write serializes the dictionary as a sequence of varint-length-prefixed
// strings in id order (NULL's empty placeholder at id 0 is included so
// Read can recover ids without a separate count prefix beyond EOF).
func (d *Dictionary) Write(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var lenBuf [10]byte
	for _, s := range d.byID {
		n := putVarint(lenBuf[:], uint64(len(s)))
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return errorsx.NewIoError("write", "", err)
		}
		if _, err := bw.WriteString(s); err != nil {
			return errorsx.NewIoError("write", "", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return errorsx.NewIoError("flush", "", err)
	}
	return nil
}

// Read reconstructs a Dictionary from the format Write produces.
func Read(r io.Reader) (*Dictionary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errorsx.NewIoError("read", "", err)
	}

	d := &Dictionary{byString: make(map[string]uint64)}
	off := 0
	id := uint64(0)
	for off < len(data) {
		strLen, n := getVarint(data[off:])
		if n == 0 {
			return nil, errorsx.NewCorruptIndex("", "truncated dictionary length prefix", nil)
		}
		off += n
		if off+int(strLen) > len(data) {
			return nil, errorsx.NewCorruptIndex("", "dictionary string runs past end of buffer", nil)
		}
		s := string(data[off : off+int(strLen)])
		off += int(strLen)

		d.byID = append(d.byID, s)
		if id != NullID {
			d.byString[s] = id
		}
		id++
	}
	if len(d.byID) == 0 {
		d.byID = []string{""}
	}
	return d, nil
}

// EncodedLen returns the serialized byte size Write would produce,
// without doing the write, for callers sizing a preallocated Storage.
func (d *Dictionary) EncodedLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, s := range d.byID {
		total += varintLen(uint64(len(s))) + len(s)
	}
	return total
}
