package index

import (
	"encoding/binary"
	"math"
)

func putFloat64LE(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

func getFloat64LE(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}
