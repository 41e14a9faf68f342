// Package wire implements the structured payload codec: the tagged-union
// Value grammar, the numeric-array sidechannel, and type-hint wrapping, all
// carried over MessagePack via vmihailenco/msgpack/v5.
package wire

// Value is the closed tagged union every structured payload is built from:
// nil, bool, int64, float64, string, []byte, []Value, map[string]Value, or
// *NDArray. Nothing outside this package should type-assert on a Value other
// than through the constructors and the single switch in codec.go.
type Value any

// NDArray is the numeric-array sidechannel form: a row-major byte buffer
// tagged with its element dtype and shape.
type NDArray struct {
	Dtype string
	Shape []int
	Data  []byte
}

// Supported dtypes for NDArray.Dtype.
const (
	DtypeUint8   = "uint8"
	DtypeInt16   = "int16"
	DtypeInt32   = "int32"
	DtypeInt64   = "int64"
	DtypeFloat32 = "float32"
	DtypeFloat64 = "float64"
)

// dtypeSize returns the byte width of one element of dtype, or 0 if unknown.
func dtypeSize(dtype string) int {
	switch dtype {
	case DtypeUint8:
		return 1
	case DtypeInt16:
		return 2
	case DtypeInt32, DtypeFloat32:
		return 4
	case DtypeInt64, DtypeFloat64:
		return 8
	default:
		return 0
	}
}

// shapeProduct returns the element count implied by shape (1 for an empty
// shape, i.e. a scalar).
func shapeProduct(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Constructors. Kept thin on purpose: callers build Values through these
// rather than sprinkling `any` literals through calling code.
func Nil() Value                   { return nil }
func Bool(b bool) Value            { return b }
func Int(i int64) Value            { return i }
func Float(f float64) Value        { return f }
func Str(s string) Value           { return s }
func Bytes(b []byte) Value         { return b }
func List(items ...Value) Value    { return []Value(items) }
func Map(m map[string]Value) Value { return m }
func Array(arr *NDArray) Value      { return arr }
