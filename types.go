package nitros

import "github.com/nitros-io/nitros/internal/wire"

// Value is the structured payload type sent and received over a topic: nil,
// bool, int64, float64, string, []byte, []Value, map[string]Value, or
// *NDArray. See internal/wire for the constructors (nitros.Str, nitros.Int,
// ...) re-exported below.
type Value = wire.Value

// NDArray is a row-major numeric array, the payload type required by
// WithCompression("image") and WithCompression("pointcloud") publishers.
type NDArray = wire.NDArray

// Compression mode names accepted by WithCompression.
const (
	CompressionNone       = ""
	CompressionImage      = "image"
	CompressionPointcloud = "pointcloud"
)

// Value constructors, re-exported from internal/wire for callers that don't
// want to import an internal package directly.
var (
	Nil   = wire.Nil
	Bool  = wire.Bool
	Int   = wire.Int
	Float = wire.Float
	Str   = wire.Str
	Bytes = wire.Bytes
	List  = wire.List
	Map   = wire.Map
	Array = wire.Array
)
