package storage

import "testing"

func TestNewHeapZeroFilled(t *testing.T) {
	s, err := NewHeap(64)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 64 {
		t.Fatalf("Len() = %d, want 64", s.Len())
	}
	for i, b := range s.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestRetainReleaseRefcount(t *testing.T) {
	s, _ := NewHeap(8)
	if s.RefCount() != 1 {
		t.Fatalf("RefCount() = %d, want 1", s.RefCount())
	}
	s.Retain()
	if s.RefCount() != 2 {
		t.Fatalf("RefCount() = %d, want 2", s.RefCount())
	}
	if err := s.Release(); err != nil {
		t.Fatal(err)
	}
	if s.RefCount() != 1 {
		t.Fatalf("RefCount() = %d, want 1", s.RefCount())
	}
}

func TestPrepareForWriteSharedCopies(t *testing.T) {
	s, _ := NewHeap(16)
	s.Bytes()[0] = 0xAB
	s.Retain() // simulate a second live view

	writable, err := s.PrepareForWrite()
	if err != nil {
		t.Fatal(err)
	}
	if writable == s {
		t.Fatal("expected PrepareForWrite to copy when refcount > 1")
	}
	if writable.Bytes()[0] != 0xAB {
		t.Fatal("expected copy to preserve existing contents")
	}

	writable.Bytes()[0] = 0xCD
	if s.Bytes()[0] != 0xAB {
		t.Fatal("mutating the copy must not affect the original")
	}
}

func TestPrepareForWriteSoleOwnerReusesBuffer(t *testing.T) {
	s, _ := NewHeap(16)
	writable, err := s.PrepareForWrite()
	if err != nil {
		t.Fatal(err)
	}
	if writable != s {
		t.Fatal("expected PrepareForWrite to return the same Storage when sole owner")
	}
}

func TestSliceSharesParentAndRetains(t *testing.T) {
	s, _ := NewHeap(32)
	for i := range s.Bytes() {
		s.Bytes()[i] = byte(i)
	}

	sl, err := s.Slice(8, 4)
	if err != nil {
		t.Fatal(err)
	}
	if s.RefCount() != 2 {
		t.Fatalf("parent RefCount() = %d, want 2 after Slice", s.RefCount())
	}
	want := []byte{8, 9, 10, 11}
	for i, b := range sl.Bytes() {
		if b != want[i] {
			t.Fatalf("slice byte %d = %d, want %d", i, b, want[i])
		}
	}
}

func TestSliceOutOfBounds(t *testing.T) {
	s, _ := NewHeap(10)
	if _, err := s.Slice(8, 5); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}
