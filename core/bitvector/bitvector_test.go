package bitvector

import (
	"bytes"
	"math/rand"
	"testing"
)

func bitsOf(bv *Bitvector) []bool {
	out := make([]bool, bv.Len())
	for i := range out {
		out[i] = bv.GetBit(i)
	}
	return out
}

func randomBits(n int, seed int64) []bool {
	r := rand.New(rand.NewSource(seed))
	out := make([]bool, n)
	for i := range out {
		out[i] = r.Intn(4) == 0 // sparse, like a real equality bitmap
	}
	return out
}

func TestNewIsAllZero(t *testing.T) {
	bv := New(500)
	if bv.Cnt() != 0 {
		t.Fatalf("Cnt() = %d, want 0", bv.Cnt())
	}
	for i := 0; i < 500; i++ {
		if bv.GetBit(i) {
			t.Fatalf("bit %d set in fresh zero bitvector", i)
		}
	}
}

func TestSetClearBit(t *testing.T) {
	bv := New(100)
	bv.SetBit(5)
	bv.SetBit(63)
	bv.SetBit(99)
	if !bv.GetBit(5) || !bv.GetBit(63) || !bv.GetBit(99) {
		t.Fatal("expected bits 5, 63, 99 set")
	}
	if bv.Cnt() != 3 {
		t.Fatalf("Cnt() = %d, want 3", bv.Cnt())
	}
	bv.ClearBit(63)
	if bv.GetBit(63) {
		t.Fatal("bit 63 still set after ClearBit")
	}
	if bv.Cnt() != 2 {
		t.Fatalf("Cnt() = %d, want 2", bv.Cnt())
	}
}

func TestFromBitsRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 30, 31, 32, 62, 63, 64, 1000, 1001} {
		bits := randomBits(n, int64(n))
		bv := FromBits(bits)
		if bv.Len() != n {
			t.Fatalf("n=%d: Len() = %d", n, bv.Len())
		}
		got := bitsOf(bv)
		for i := range bits {
			if got[i] != bits[i] {
				t.Fatalf("n=%d: bit %d = %v, want %v", n, i, got[i], bits[i])
			}
		}
	}
}

func TestCntMatchesPopcount(t *testing.T) {
	bits := randomBits(10_000, 42)
	bv := FromBits(bits)
	want := 0
	for _, b := range bits {
		if b {
			want++
		}
	}
	if bv.Cnt() != want {
		t.Fatalf("Cnt() = %d, want %d", bv.Cnt(), want)
	}
}

func TestAllOnesCompressesToFill(t *testing.T) {
	bits := make([]bool, 10_000)
	for i := range bits {
		bits[i] = true
	}
	bv := FromBits(bits)
	if bv.Cnt() != 10_000 {
		t.Fatalf("Cnt() = %d, want 10000", bv.Cnt())
	}
	// A long uniform run should collapse to a handful of fill words, not
	// one word per 31 bits.
	if len(bv.words) > 5 {
		t.Errorf("expected compressed all-ones run, got %d words", len(bv.words))
	}
}

func TestOrAndXorMinus(t *testing.T) {
	n := 2000
	ba := randomBits(n, 1)
	bb := randomBits(n, 2)
	a := FromBits(ba)
	b := FromBits(bb)

	or, err := Or(a, b)
	if err != nil {
		t.Fatal(err)
	}
	and, err := And(a, b)
	if err != nil {
		t.Fatal(err)
	}
	xor, err := Xor(a, b)
	if err != nil {
		t.Fatal(err)
	}
	minus, err := Minus(a, b)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		wantOr := ba[i] || bb[i]
		wantAnd := ba[i] && bb[i]
		wantXor := ba[i] != bb[i]
		wantMinus := ba[i] && !bb[i]
		if or.GetBit(i) != wantOr {
			t.Fatalf("OR bit %d = %v, want %v", i, or.GetBit(i), wantOr)
		}
		if and.GetBit(i) != wantAnd {
			t.Fatalf("AND bit %d = %v, want %v", i, and.GetBit(i), wantAnd)
		}
		if xor.GetBit(i) != wantXor {
			t.Fatalf("XOR bit %d = %v, want %v", i, xor.GetBit(i), wantXor)
		}
		if minus.GetBit(i) != wantMinus {
			t.Fatalf("MINUS bit %d = %v, want %v", i, minus.GetBit(i), wantMinus)
		}
	}
}

func TestNot(t *testing.T) {
	n := 777
	bits := randomBits(n, 3)
	a := FromBits(bits)
	not := a.Not()
	for i := 0; i < n; i++ {
		if not.GetBit(i) == bits[i] {
			t.Fatalf("bit %d unchanged under Not", i)
		}
	}
}

func TestIdempotence(t *testing.T) {
	a := FromBits(randomBits(500, 7))
	or, _ := Or(a, a)
	and, _ := And(a, a)
	for i := 0; i < a.Len(); i++ {
		if or.GetBit(i) != a.GetBit(i) || and.GetBit(i) != a.GetBit(i) {
			t.Fatalf("idempotence failed at bit %d", i)
		}
	}
}

func TestAssociativity(t *testing.T) {
	n := 900
	a := FromBits(randomBits(n, 11))
	b := FromBits(randomBits(n, 12))
	c := FromBits(randomBits(n, 13))

	abThenC, _ := Or(mustOr(t, a, b), c)
	aThenBC, _ := Or(a, mustOr(t, b, c))
	for i := 0; i < n; i++ {
		if abThenC.GetBit(i) != aThenBC.GetBit(i) {
			t.Fatalf("OR not associative at bit %d", i)
		}
	}
}

func mustOr(t *testing.T, a, b *Bitvector) *Bitvector {
	t.Helper()
	r, err := Or(a, b)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestDeMorgan(t *testing.T) {
	n := 640
	a := FromBits(randomBits(n, 21))
	b := FromBits(randomBits(n, 22))

	notOr := mustOr(t, a, b).Not()
	andOfNots, err := And(a.Not(), b.Not())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if notOr.GetBit(i) != andOfNots.GetBit(i) {
			t.Fatalf("De Morgan (OR) failed at bit %d", i)
		}
	}
}

func TestInclusionExclusion(t *testing.T) {
	n := 3100
	a := FromBits(randomBits(n, 31))
	b := FromBits(randomBits(n, 32))

	or := mustOr(t, a, b)
	and, err := And(a, b)
	if err != nil {
		t.Fatal(err)
	}
	xor, err := Xor(a, b)
	if err != nil {
		t.Fatal(err)
	}
	// |A ∪ B| counted via OR must equal |A XOR B| + |A AND B|.
	if or.Cnt() != xor.Cnt()+and.Cnt() {
		t.Fatalf("inclusion-exclusion failed: OR.Cnt()=%d, XOR.Cnt()+AND.Cnt()=%d", or.Cnt(), xor.Cnt()+and.Cnt())
	}
}

func TestSizeMismatchError(t *testing.T) {
	a := New(100)
	b := New(101)
	if _, err := Or(a, b); err == nil {
		t.Fatal("expected size mismatch error")
	}
	if _, err := And(a, b); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestWriteDecodeRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 31, 32, 1000, 5000} {
		bits := randomBits(n, int64(n)+99)
		bv := FromBits(bits)

		var buf bytes.Buffer
		if _, err := bv.Write(&buf); err != nil {
			t.Fatalf("n=%d: Write: %v", n, err)
		}
		decoded, err := Decode(buf.Bytes())
		if err != nil {
			t.Fatalf("n=%d: Decode: %v", n, err)
		}
		if decoded.Len() != n {
			t.Fatalf("n=%d: decoded Len() = %d", n, decoded.Len())
		}
		for i := 0; i < n; i++ {
			if decoded.GetBit(i) != bits[i] {
				t.Fatalf("n=%d: decoded bit %d mismatch", n, i)
			}
		}
	}
}

func TestDecodeRejectsMisalignedPayload(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected corrupt index error for misaligned payload")
	}
}

func TestOrAll(t *testing.T) {
	n := 300
	bvs := []*Bitvector{
		FromBits(randomBits(n, 101)),
		FromBits(randomBits(n, 102)),
		FromBits(randomBits(n, 103)),
	}
	got, err := OrAll(bvs...)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		want := bvs[0].GetBit(i) || bvs[1].GetBit(i) || bvs[2].GetBit(i)
		if got.GetBit(i) != want {
			t.Fatalf("OrAll bit %d = %v, want %v", i, got.GetBit(i), want)
		}
	}
	if empty, err := OrAll(); err != nil || empty.Len() != 0 {
		t.Fatalf("OrAll() with no args = (%v, %v), want empty bitvector, nil", empty, err)
	}
}

func TestCanonicalCompressionIsStable(t *testing.T) {
	// Building the same bit pattern two different ways (direct FromBits
	// vs bit-by-bit mutation) must converge to the same compressed form,
	// confirming the merge pass is canonical rather than order-dependent.
	bits := randomBits(4000, 55)
	direct := FromBits(bits)

	built := New(4000)
	for i, set := range bits {
		if set {
			built.SetBit(i)
		}
	}

	if len(direct.words) != len(built.words) {
		t.Fatalf("word counts differ: direct=%d built=%d", len(direct.words), len(built.words))
	}
	for i := range direct.words {
		if direct.words[i] != built.words[i] {
			t.Fatalf("word %d differs: direct=%x built=%x", i, direct.words[i], built.words[i])
		}
	}
}
