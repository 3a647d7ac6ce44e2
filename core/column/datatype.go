package column

import "fmt"

// DataType is a column's on-disk value kind, spec §6's single-letter tag
// set: byte, short, int, long, float, double, category, text.
type DataType byte

const (
	TypeByte     DataType = 'B'
	TypeShort    DataType = 'S'
	TypeInt      DataType = 'I'
	TypeLong     DataType = 'L'
	TypeFloat    DataType = 'F'
	TypeDouble   DataType = 'D'
	TypeCategory DataType = 'K'
	TypeText     DataType = 'T'
)

func (t DataType) String() string { return string(byte(t)) }

// Valid reports whether t is one of the eight tags spec §6 defines.
func (t DataType) Valid() bool {
	switch t {
	case TypeByte, TypeShort, TypeInt, TypeLong, TypeFloat, TypeDouble, TypeCategory, TypeText:
		return true
	default:
		return false
	}
}

// IsKeyword reports whether t is indexed by a Keywords term-document
// index (category/text) rather than a numeric Relic/Direkte/Fuzz index.
func (t DataType) IsKeyword() bool { return t == TypeCategory || t == TypeText }

// FixedWidth returns the on-disk byte width of one value for every
// fixed-width type, and ok=false for TypeText (length-prefixed, no fixed
// width). TypeCategory stores a dictionary id per row as a uint64, same
// width as TypeLong.
func (t DataType) FixedWidth() (width int, ok bool) {
	switch t {
	case TypeByte:
		return 1, true
	case TypeShort:
		return 2, true
	case TypeInt:
		return 4, true
	case TypeFloat:
		return 4, true
	case TypeLong, TypeCategory:
		return 8, true
	case TypeDouble:
		return 8, true
	default:
		return 0, false
	}
}

// ParseDataType maps a single-character tag to its DataType.
func ParseDataType(s string) (DataType, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("column: invalid data_type %q", s)
	}
	t := DataType(s[0])
	if !t.Valid() {
		return 0, fmt.Errorf("column: unknown data_type %q", s)
	}
	return t, nil
}
