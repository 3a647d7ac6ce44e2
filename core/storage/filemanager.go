package storage

import (
	"container/list"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/zeebo/blake3"

	"github.com/relicstore/ibis/core/errorsx"
	"github.com/relicstore/ibis/internal/logging"
)

// segmentKey identifies a mapped byte range of a file. Two requests for
// the same path+range are deduped to the same underlying mapping, the way
// FileManager is specified to.
type segmentKey struct {
	path string
	off  int64
	n    int64 // 0 means "whole file"
}

// FileManagerConfig bounds the FileManager's resident mapping budget.
type FileManagerConfig struct {
	// MaxBytes is the total resident mapped-byte budget before LRU
	// eviction kicks in. 0 means unlimited.
	MaxBytes int64
}

// DefaultFileManagerConfig matches the partition defaults in
// internal/config.
func DefaultFileManagerConfig() FileManagerConfig {
	return FileManagerConfig{MaxBytes: 256 << 20}
}

// entry is one FileManager cache node: a live mapping plus the bytes
// charged against the budget for it.
type entry struct {
	key     segmentKey
	storage *Storage
	nBytes  int64
}

// FileManager is the process-wide cache of open file mappings. Index
// bodies and column data files are opened through it so repeated Column
// or Index opens against the same file share one mapping instead of
// re-mmapping, and so the resident mapped-byte budget is enforced
// globally rather than per caller. Modeled on the teacher's generic LRU
// Cache[K,V] (core/cache/cache.go), specialized here to track byte size
// rather than entry count since mapped segments vary enormously in size.
type FileManager struct {
	mu sync.Mutex

	cfg FileManagerConfig

	byKey     map[segmentKey]*list.Element
	lru       *list.List // front = most recently used
	usedBytes int64
}

var (
	defaultManager     *FileManager
	defaultManagerOnce sync.Once
)

// Default returns the process-wide FileManager singleton.
func Default() *FileManager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewFileManager(DefaultFileManagerConfig())
	})
	return defaultManager
}

// NewFileManager constructs a standalone FileManager; most callers should
// use Default() instead, reserving this for tests that want isolation.
func NewFileManager(cfg FileManagerConfig) *FileManager {
	return &FileManager{
		cfg:   cfg,
		byKey: make(map[segmentKey]*list.Element),
		lru:   list.New(),
	}
}

// GetFile maps the entire file at path, sharing an existing mapping if one
// is already resident.
func (fm *FileManager) GetFile(path string) (*Storage, error) {
	return fm.GetFileSegment(path, 0, 0)
}

// GetFileSegment maps the byte range [off, off+n) of the file at path (n
// == 0 means "whole file"), sharing an existing mapping for the same
// path+range when one is resident, and retaining it on the caller's
// behalf. The caller must Release the returned Storage when done.
func (fm *FileManager) GetFileSegment(path string, off, n int64) (*Storage, error) {
	key := segmentKey{path: path, off: off, n: n}

	fm.mu.Lock()
	if el, ok := fm.byKey[key]; ok {
		fm.lru.MoveToFront(el)
		st := el.Value.(*entry).storage
		fm.mu.Unlock()
		return st.Retain(), nil
	}
	fm.mu.Unlock()

	st, nBytes, err := fm.mapSegment(path, off, n)
	if err != nil {
		return nil, err
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	// Another goroutine may have raced us to mapping the same segment;
	// prefer the one already resident and drop ours.
	if el, ok := fm.byKey[key]; ok {
		fm.lru.MoveToFront(el)
		existing := el.Value.(*entry).storage
		fm.mu.Unlock()
		_ = st.Release()
		fm.mu.Lock()
		return existing.Retain(), nil
	}

	el := fm.lru.PushFront(&entry{key: key, storage: st, nBytes: nBytes})
	fm.byKey[key] = el
	fm.usedBytes += nBytes

	fm.evictLocked()

	return st.Retain(), nil
}

func (fm *FileManager) mapSegment(path string, off, n int64) (*Storage, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errorsx.NewIoError("open", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 0, errorsx.NewIoError("stat", path, err)
	}

	size := n
	if size == 0 {
		size = fi.Size() - off
	}
	if off < 0 || size < 0 || off+size > fi.Size() {
		return nil, 0, errorsx.NewCorruptIndex(path, fmt.Sprintf("segment [%d,%d) out of bounds for file of size %d", off, off+size, fi.Size()), nil)
	}

	m, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, off)
	if err != nil {
		return nil, 0, errorsx.NewIoError("mmap", path, err)
	}

	return NewMapped(m, path), size, nil
}

// evictLocked drops least-recently-used mappings until usedBytes is under
// budget, or only one mapping remains resident. Must be called with fm.mu
// held.
func (fm *FileManager) evictLocked() {
	if fm.cfg.MaxBytes <= 0 {
		return
	}
	for fm.usedBytes > fm.cfg.MaxBytes && fm.lru.Len() > 1 {
		back := fm.lru.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		// Never evict a mapping another caller is actively holding:
		// FileManager's own cache entry always retained it once, so a
		// refcount above that floor means a live borrower.
		if e.storage.RefCount() > 1 {
			return
		}
		fm.lru.Remove(back)
		delete(fm.byKey, e.key)
		fm.usedBytes -= e.nBytes
		_ = e.storage.Release()
		logging.StorageEviction(e.key.path, e.nBytes)
	}
}

// Evict forcibly drops a resident mapping for path (all segments),
// regardless of budget; used by partition purge/reorder to ensure stale
// mappings of a removed or replaced file are not reused.
func (fm *FileManager) Evict(path string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for key, el := range fm.byKey {
		if key.path != path {
			continue
		}
		e := el.Value.(*entry)
		fm.lru.Remove(el)
		delete(fm.byKey, key)
		fm.usedBytes -= e.nBytes
		_ = e.storage.Release()
	}
}

// UsedBytes reports the current resident mapped-byte total.
func (fm *FileManager) UsedBytes() int64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.usedBytes
}

// ContentHash returns the blake3 digest of buf. FileManager keys its
// mappings by path and byte range only and does not call it.
func ContentHash(buf []byte) [32]byte {
	return blake3.Sum256(buf)
}
