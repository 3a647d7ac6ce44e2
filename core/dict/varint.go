package dict

// putVarint and getVarint implement the same big-endian, continuation-bit
// variable-length integer encoding as the teacher's
// core/sqlite/internal/btree/varint.go (7 payload bits per byte, high bit
// set on every byte but the last), reimplemented here as a plain
// loop rather than the teacher's unrolled fast-path ladder since
// Dictionary strings are short and the straight-line version is all the
// throughput this path needs.

func putVarint(p []byte, v uint64) int {
	var groups [10]byte // least-significant 7-bit group first
	n := 0
	groups[n] = byte(v & 0x7f)
	n++
	v >>= 7
	for v > 0 {
		groups[n] = byte(v & 0x7f)
		n++
		v >>= 7
	}
	// Emit most-significant group first; every byte but the last (the
	// least-significant group) carries the continuation bit.
	for i := 0; i < n; i++ {
		b := groups[n-1-i]
		if i < n-1 {
			b |= 0x80
		}
		p[i] = b
	}
	return n
}

func getVarint(p []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(p) && i < 10; i++ {
		v = (v << 7) | uint64(p[i]&0x7f)
		if p[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

func varintLen(v uint64) int {
	n := 1
	v >>= 7
	for v > 0 {
		n++
		v >>= 7
	}
	return n
}
