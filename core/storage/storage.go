// Package storage provides the Storage buffer type: a reference-counted
// byte region that is either heap-allocated or backed by a memory-mapped
// file segment. Column bodies, bitvectors, and dictionaries all sit on top
// of a Storage so that large read-only column data can be mapped once and
// shared across every Array view and Index that reads it, while mutating
// code gets copy-on-write semantics instead of stepping on a shared
// mapping.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"

	"github.com/relicstore/ibis/core/errorsx"
)

// Storage is a reference-counted byte buffer. Two or more Array/Index
// views may hold the same *Storage; MarkForWriting enforces that a view
// which wants to mutate in place first confirms it holds the only
// reference, copying otherwise.
type Storage struct {
	mu sync.Mutex

	data []byte
	mm   mmap.MMap // non-nil when isFileMapped

	isFileMapped bool
	path         string // source path, set only when isFileMapped

	refcount int32
}

// NewHeap allocates an n-byte heap-backed Storage, zero-filled.
func NewHeap(n int) (*Storage, error) {
	if n < 0 {
		return nil, errorsx.NewBadAlloc("storage.NewHeap", int64(n), nil)
	}
	return &Storage{data: make([]byte, n), refcount: 1}, nil
}

// NewFromBytes wraps an existing heap byte slice without copying it. The
// caller must not retain a mutable alias to buf.
func NewFromBytes(buf []byte) *Storage {
	return &Storage{data: buf, refcount: 1}
}

// NewMapped wraps a real memory-mapped file segment (via edsrzf/mmap-go),
// recording the source path so FileManager can dedup by path+range.
func NewMapped(m mmap.MMap, path string) *Storage {
	return &Storage{data: []byte(m), mm: m, isFileMapped: true, path: path, refcount: 1}
}

// Bytes returns the underlying byte slice. Callers must not retain it
// across a Retain/Release pair they do not own, nor write into it unless
// they have confirmed exclusivity via PrepareForWrite.
func (s *Storage) Bytes() []byte { return s.data }

// Len returns the size of the buffer in bytes.
func (s *Storage) Len() int { return len(s.data) }

// IsFileMapped reports whether this Storage is backed by a live mmap
// segment rather than a heap allocation.
func (s *Storage) IsFileMapped() bool { return s.isFileMapped }

// Path returns the source file path for a mapped Storage, or "" for a heap
// buffer.
func (s *Storage) Path() string { return s.path }

// Retain increments the reference count and returns s, mirroring the
// teacher's RefCount bump on a shared page (core/sqlite/internal/pager
// DbPage.RefCount).
func (s *Storage) Retain() *Storage {
	atomic.AddInt32(&s.refcount, 1)
	return s
}

// RefCount returns the current reference count.
func (s *Storage) RefCount() int32 {
	return atomic.LoadInt32(&s.refcount)
}

// Release decrements the reference count. When it drops to zero and the
// Storage is file-mapped, the mapping is unmapped.
func (s *Storage) Release() error {
	if atomic.AddInt32(&s.refcount, -1) > 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mm != nil {
		if err := s.mm.Unmap(); err != nil {
			return errorsx.NewIoError("munmap", s.path, err)
		}
		s.mm = nil
	}
	s.data = nil
	return nil
}

// PrepareForWrite returns a Storage the caller may safely mutate in place:
// itself if it holds the only reference (refcount == 1) and is heap
// buffered, or else a fresh private heap copy. This is the "nosharing"
// rule from the mutation design: any Storage with more than one live
// reference, or backed by a read-only mapping, must be copied before a
// caller writes into it.
func (s *Storage) PrepareForWrite() (*Storage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isFileMapped && atomic.LoadInt32(&s.refcount) == 1 {
		return s, nil
	}

	cp := make([]byte, len(s.data))
	copy(cp, s.data)
	return &Storage{data: cp, refcount: 1}, nil
}

// Slice returns a new Storage sharing the same underlying bytes over
// [off, off+n), bumping the parent's reference count. The returned
// Storage's Release does not unmap anything itself; it decrements the
// shared parent refcount which was bumped here.
func (s *Storage) Slice(off, n int) (*Storage, error) {
	if off < 0 || n < 0 || off+n > len(s.data) {
		return nil, errorsx.NewIoError("slice", s.path, errorsx.ErrSizeMismatch)
	}
	s.Retain()
	return &Storage{
		data:         s.data[off : off+n : off+n],
		isFileMapped: s.isFileMapped,
		path:         s.path,
		refcount:     1,
	}, nil
}
