// Package bitvector implements a WAH-style compressed run-length bitmap:
// an ordered bit sequence of fixed logical size N stored as a sequence of
// 32-bit words, each either a literal (31 payload bits) or a fill (a run of
// all-zero or all-one 31-bit groups). Boolean operators fully expand both
// operands into one literal per 31-bit group, combine them group by group,
// and re-encode the result; they do not walk the compressed streams with
// cursors, so their cost is proportional to N rather than to the
// compressed size. A final merge pass coalesces adjacent compatible words
// so the compressed form stays canonical.
package bitvector

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/relicstore/ibis/core/errorsx"
)

// wordBits is the number of payload bits per literal word (W-1 for a
// 32-bit word).
const wordBits = 31

// maxFillLen is the largest run length a single fill word can encode.
const maxFillLen = 1<<30 - 1

// word flag bits, mirroring the teacher's PageFlag-style bit layout
// (core/sqlite/internal/pager/page.go): bit 31 distinguishes literal/fill,
// bit 30 (fills only) carries the fill value.
const (
	flagFill  = uint32(1) << 31
	flagValue = uint32(1) << 30
)

func isFill(w uint32) bool  { return w&flagFill != 0 }
func fillValue(w uint32) bool { return w&flagValue != 0 }
func fillLen(w uint32) uint32 { return w &^ (flagFill | flagValue) }

func makeFill(value bool, length uint32) uint32 {
	w := flagFill | length
	if value {
		w |= flagValue
	}
	return w
}

// Bitvector is a compressed, ordered bit sequence of declared length N.
type Bitvector struct {
	n int // declared logical size

	words []uint32 // compressed WAH words, not including the active tail

	// active is the final partial 31-bit group, valid in its low
	// activeBits bits; activeBits is 0 when N is an exact multiple of
	// wordBits (no active tail).
	active     uint32
	activeBits int
}

// New returns an all-zero bitvector of logical length n.
func New(n int) *Bitvector {
	if n < 0 {
		n = 0
	}
	bv := &Bitvector{n: n}
	bv.normalizeActive()
	return bv
}

// normalizeActive ensures words/active/activeBits together describe
// exactly n bits, adding trailing zero fills or an active tail as needed.
func (b *Bitvector) normalizeActive() {
	full := b.n / wordBits
	rem := b.n % wordBits
	b.activeBits = rem
	if rem == 0 {
		b.active = 0
	}
	if len(b.words) == 0 {
		b.words = splitFill(false, uint32(full))
	}
}

// Len returns the declared logical size N.
func (b *Bitvector) Len() int { return b.n }

// bitAt returns the value of absolute bit index i (false when i is out of
// range), locating its 31-bit group by walking the compressed words and
// expanding fills virtually. It is intentionally a linear scan: callers needing random access at scale
// should decode once (per spec §4.1's "no random access without decoding"
// non-goal) rather than repeatedly seek through compressed words.
func (b *Bitvector) bitAt(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	full := i / wordBits
	bit := uint(i % wordBits)

	pos := 0
	for _, w := range b.words {
		if isFill(w) {
			length := int(fillLen(w))
			if full < pos+length {
				return fillValue(w)
			}
			pos += length
		} else {
			if full == pos {
				return (w>>bit)&1 != 0
			}
			pos++
		}
	}
	if full == pos {
		return (b.active>>bit)&1 != 0
	}
	return false
}

// GetBit returns the value of bit i, 0 <= i < N.
func (b *Bitvector) GetBit(i int) bool {
	return b.bitAt(i)
}

// group is one literal-or-fill entry of the compressed representation;
// groups() lists them in order, words first and then the active tail as a
// final literal.
type group struct {
	isLiteral bool
	bits      uint32 // valid when isLiteral
	fillValue bool   // valid when !isLiteral
	length    int    // number of 31-bit groups (1 for a literal)
}

func (b *Bitvector) groups() []group {
	out := make([]group, 0, len(b.words)+1)
	for _, w := range b.words {
		if isFill(w) {
			out = append(out, group{isLiteral: false, fillValue: fillValue(w), length: int(fillLen(w))})
		} else {
			out = append(out, group{isLiteral: true, bits: w, length: 1})
		}
	}
	if b.activeBits > 0 {
		out = append(out, group{isLiteral: true, bits: b.active, length: 1})
	}
	return out
}

// rebuildFromLiterals re-derives words/active/activeBits from an expanded
// literal sequence (one uint32 of up to wordBits valid low bits per full
// 31-bit group, in order), then runs the coalescing pass.
func (b *Bitvector) rebuildFromLiterals(lits []uint32, totalBits int) {
	b.n = totalBits
	full := totalBits / wordBits
	rem := totalBits % wordBits

	words := make([]uint32, 0, full)
	for i := 0; i < full; i++ {
		words = append(words, lits[i])
	}
	b.words = coalesce(words)

	b.activeBits = rem
	if rem > 0 {
		b.active = lits[full] & ((1 << uint(rem)) - 1)
	} else {
		b.active = 0
	}
}

// coalesce merges adjacent literal words into fills where every literal in
// the run is all-zero or all-one, and merges adjacent same-value fills.
// This is the "final pass" spec §3.1/§4.1 requires for canonical form.
func coalesce(words []uint32) []uint32 {
	out := make([]uint32, 0, len(words))
	i := 0
	for i < len(words) {
		w := words[i]
		if isFill(w) {
			// Merge consecutive fills of the same value.
			total := fillLen(w)
			val := fillValue(w)
			j := i + 1
			for j < len(words) && isFill(words[j]) && fillValue(words[j]) == val {
				total += fillLen(words[j])
				j++
			}
			out = append(out, splitFill(val, total)...)
			i = j
			continue
		}
		if w == 0 || w == wordBits31Ones() {
			val := w != 0
			total := uint32(1)
			j := i + 1
			for j < len(words) {
				wj := words[j]
				if isFill(wj) {
					break
				}
				if val && wj != wordBits31Ones() {
					break
				}
				if !val && wj != 0 {
					break
				}
				total++
				j++
			}
			if total > 1 {
				out = append(out, splitFill(val, total)...)
			} else {
				out = append(out, w)
			}
			i = j
			continue
		}
		out = append(out, w)
		i++
	}
	return out
}

func wordBits31Ones() uint32 { return (uint32(1) << wordBits) - 1 }

// splitFill emits one or more fill words encoding a run of `total` 31-bit
// groups all equal to val, respecting maxFillLen.
func splitFill(val bool, total uint32) []uint32 {
	if total == 0 {
		return nil
	}
	var out []uint32
	for total > 0 {
		chunk := total
		if chunk > maxFillLen {
			chunk = maxFillLen
		}
		out = append(out, makeFill(val, chunk))
		total -= chunk
	}
	return out
}

// SetBit sets bit i to 1. This decodes, mutates, and re-encodes; callers
// doing many mutations should build from a literal buffer and call
// FromBits instead.
func (b *Bitvector) SetBit(i int) {
	b.writeBit(i, true)
}

// ClearBit sets bit i to 0.
func (b *Bitvector) ClearBit(i int) {
	b.writeBit(i, false)
}

func (b *Bitvector) writeBit(i int, value bool) {
	if i < 0 || i >= b.n {
		return
	}
	lits := b.expandLiterals()
	full := i / wordBits
	bit := uint(i % wordBits)
	if value {
		lits[full] |= 1 << bit
	} else {
		lits[full] &^= 1 << bit
	}
	b.rebuildFromLiterals(lits, b.n)
}

// expandLiterals fully decodes the bitvector into one uint32 per 31-bit
// group (the active tail included), used by mutation paths.
func (b *Bitvector) expandLiterals() []uint32 {
	full := b.n / wordBits
	rem := b.n % wordBits
	total := full
	if rem > 0 {
		total++
	}
	out := make([]uint32, total)
	idx := 0
	for _, w := range b.words {
		if isFill(w) {
			val := uint32(0)
			if fillValue(w) {
				val = wordBits31Ones()
			}
			for k := uint32(0); k < fillLen(w); k++ {
				out[idx] = val
				idx++
			}
		} else {
			out[idx] = w
			idx++
		}
	}
	if rem > 0 {
		out[idx] = b.active
	}
	return out
}

// FromBits builds a Bitvector of length n from a caller-provided slice of
// bool values (len(bits) must equal n); used by tests and by index
// builders assembling a bitmap row-by-row.
func FromBits(bits []bool) *Bitvector {
	n := len(bits)
	full := n / wordBits
	rem := n % wordBits
	total := full
	if rem > 0 {
		total++
	}
	lits := make([]uint32, total)
	for i, set := range bits {
		if !set {
			continue
		}
		lits[i/wordBits] |= 1 << uint(i%wordBits)
	}
	bv := &Bitvector{}
	bv.rebuildFromLiterals(lits, n)
	return bv
}

// Cnt returns the number of set bits (popcount), O(compressed size).
func (b *Bitvector) Cnt() int {
	cnt := 0
	for _, w := range b.words {
		if isFill(w) {
			if fillValue(w) {
				cnt += int(fillLen(w)) * wordBits
			}
		} else {
			cnt += popcount31(w)
		}
	}
	cnt += popcount31(b.active) // active bits above activeBits are always 0
	return cnt
}

func popcount31(w uint32) int {
	count := 0
	for w != 0 {
		w &= w - 1
		count++
	}
	return count
}

func combine(a, b *Bitvector, op func(x, y uint32) uint32, opName string) (*Bitvector, error) {
	if a.n != b.n {
		return nil, errorsx.NewSizeMismatch(a.n, b.n)
	}
	la := a.expandLiterals()
	lb := b.expandLiterals()
	out := make([]uint32, len(la))
	for i := range la {
		out[i] = op(la[i], lb[i]) & literalMaskFor(i, a.n)
	}
	res := &Bitvector{}
	res.rebuildFromLiterals(out, a.n)
	return res, nil
}

func literalMaskFor(groupIdx, n int) uint32 {
	full := n / wordBits
	if groupIdx < full {
		return wordBits31Ones()
	}
	rem := n % wordBits
	if rem == 0 {
		return wordBits31Ones()
	}
	return (1 << uint(rem)) - 1
}

// Or returns a new bitvector equal to a OR b. Both must have equal N.
func Or(a, b *Bitvector) (*Bitvector, error) {
	return combine(a, b, func(x, y uint32) uint32 { return x | y }, "or")
}

// And returns a new bitvector equal to a AND b.
func And(a, b *Bitvector) (*Bitvector, error) {
	return combine(a, b, func(x, y uint32) uint32 { return x & y }, "and")
}

// Xor returns a new bitvector equal to a XOR b.
func Xor(a, b *Bitvector) (*Bitvector, error) {
	return combine(a, b, func(x, y uint32) uint32 { return x ^ y }, "xor")
}

// Minus returns a new bitvector equal to a AND NOT b (ANDNOT).
func Minus(a, b *Bitvector) (*Bitvector, error) {
	return combine(a, b, func(x, y uint32) uint32 { return x &^ y }, "minus")
}

// OrInPlace replaces a's contents with a OR b.
func (a *Bitvector) OrInPlace(b *Bitvector) error {
	res, err := Or(a, b)
	if err != nil {
		return err
	}
	*a = *res
	return nil
}

// AndInPlace replaces a's contents with a AND b.
func (a *Bitvector) AndInPlace(b *Bitvector) error {
	res, err := And(a, b)
	if err != nil {
		return err
	}
	*a = *res
	return nil
}

// XorInPlace replaces a's contents with a XOR b.
func (a *Bitvector) XorInPlace(b *Bitvector) error {
	res, err := Xor(a, b)
	if err != nil {
		return err
	}
	*a = *res
	return nil
}

// MinusInPlace replaces a's contents with a AND NOT b.
func (a *Bitvector) MinusInPlace(b *Bitvector) error {
	res, err := Minus(a, b)
	if err != nil {
		return err
	}
	*a = *res
	return nil
}

// Not returns the logical complement of b, same length N.
func (b *Bitvector) Not() *Bitvector {
	lits := b.expandLiterals()
	for i := range lits {
		lits[i] = ^lits[i] & literalMaskFor(i, b.n)
	}
	res := &Bitvector{}
	res.rebuildFromLiterals(lits, b.n)
	return res
}

// OrAll ORs together a slice of equal-length bitvectors, short-circuiting
// to an empty result for an empty slice. Used by index variants to union a
// contiguous bitmap range (spec §4.3.1/§4.3.2 "OR of B_lo..B_hi").
func OrAll(bvs ...*Bitvector) (*Bitvector, error) {
	if len(bvs) == 0 {
		return New(0), nil
	}
	acc := bvs[0]
	for _, b := range bvs[1:] {
		var err error
		acc, err = Or(acc, b)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Bytes returns the compressed serialized byte count: one uint32 per
// compressed word plus the trailer.
func (b *Bitvector) Bytes() int {
	return len(b.words)*4 + trailerSize
}

// trailerSize is sizeof(uint32 N) + sizeof(uint32 active) + sizeof(uint32 activeBits).
const trailerSize = 12

// Write serializes the bitvector as a sequence of little-endian W-bit words
// followed by a trailer containing N and the active-word tail, per spec
// §4.1.
func (b *Bitvector) Write(w io.Writer) (int, error) {
	buf := make([]byte, 4*(len(b.words)+3))
	for i, word := range b.words {
		binary.LittleEndian.PutUint32(buf[i*4:], word)
	}
	off := len(b.words) * 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(b.n))
	binary.LittleEndian.PutUint32(buf[off+4:], b.active)
	binary.LittleEndian.PutUint32(buf[off+8:], uint32(b.activeBits))
	n, err := w.Write(buf)
	if err != nil {
		return n, errorsx.NewIoError("write", "", err)
	}
	return n, nil
}

// Decode reverses Write: data is the raw byte payload as produced by
// Write (compressed words + trailer).
func Decode(data []byte) (*Bitvector, error) {
	if len(data) < trailerSize || (len(data)-trailerSize)%4 != 0 {
		return nil, errorsx.NewCorruptIndex("", fmt.Sprintf("bitvector payload length %d is not word+trailer aligned", len(data)), nil)
	}
	nWords := (len(data) - trailerSize) / 4
	words := make([]uint32, nWords)
	for i := 0; i < nWords; i++ {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	off := nWords * 4
	n := int(binary.LittleEndian.Uint32(data[off:]))
	active := binary.LittleEndian.Uint32(data[off+4:])
	activeBits := int(binary.LittleEndian.Uint32(data[off+8:]))

	bv := &Bitvector{
		n:          n,
		words:      words,
		active:     active,
		activeBits: activeBits,
	}
	return bv, nil
}
