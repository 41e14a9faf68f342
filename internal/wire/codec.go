package wire

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nitros-io/nitros/internal/nerrors"
)

const maxEncodeDepth = 64

// Reserved keys of the two mapping shapes decode recognizes and unwraps: the
// ndarray sidechannel and the type-hint wrapper.
const (
	keyNDArray = "__ndarray"
	keyDtype   = "dtype"
	keyShape   = "shape"
	keyData    = "data"
	keyType    = "__type"
)

// Encode applies type-hint wrapping, then converts v into a MessagePack byte
// string. Numeric arrays are emitted via their sidechannel form; the encoder
// never recurses into the raw array bytes.
//
// Type-hint wrapping follows the mapping shape of v: if v is itself a
// mapping (a map[string]Value, or an *NDArray via its sidechannel form),
// __type is merged in as a sibling key. Any other value is wrapped as
// {__type: hint, data: v}.
func Encode(v Value, typeHint string) ([]byte, error) {
	conv, err := toWire(v, map[uintptr]bool{}, 0)
	if err != nil {
		return nil, err
	}
	if typeHint != "" {
		conv = applyTypeHint(conv, typeHint)
	}
	// Map keys are emitted in sorted order so identical input always yields
	// identical bytes, independent of Go's randomized map iteration.
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(conv); err != nil {
		return nil, nerrors.NewEncodeInvalidType("wire.Encode", err)
	}
	return buf.Bytes(), nil
}

// applyTypeHint merges __type into conv if conv is already a mapping
// (plain map or the NDArray sidechannel form), otherwise wraps conv as
// {__type: hint, data: conv}.
func applyTypeHint(conv any, typeHint string) any {
	if m, ok := conv.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[keyType] = typeHint
		return out
	}
	return map[string]any{keyType: typeHint, keyData: conv}
}

// toWire converts a Value into the plain interface{} tree msgpack marshals,
// detecting cycles in map/slice values via pointer identity and bounding
// recursion depth.
func toWire(v Value, visited map[uintptr]bool, depth int) (any, error) {
	if depth > maxEncodeDepth {
		return nil, nerrors.NewEncodeInvalidType("wire.toWire", fmt.Errorf("max nesting depth exceeded"))
	}
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t, nil
	case []byte:
		return t, nil
	case *NDArray:
		if t == nil {
			return nil, nil
		}
		return map[string]any{
			keyNDArray: true,
			keyDtype:   t.Dtype,
			keyShape:   t.Shape,
			keyData:    t.Data,
		}, nil
	case []Value:
		ptr := reflect.ValueOf(t).Pointer()
		if ptr != 0 {
			if visited[ptr] {
				return nil, nerrors.NewEncodeInvalidType("wire.toWire", fmt.Errorf("cyclic list value"))
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		out := make([]any, len(t))
		for i, item := range t {
			conv, err := toWire(item, visited, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]Value:
		ptr := reflect.ValueOf(t).Pointer()
		if ptr != 0 {
			if visited[ptr] {
				return nil, nerrors.NewEncodeInvalidType("wire.toWire", fmt.Errorf("cyclic map value"))
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			conv, err := toWire(item, visited, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, nerrors.NewEncodeInvalidType("wire.toWire", fmt.Errorf("unsupported value type %T", v))
	}
}

// Decode reverses Encode: unpacks the MessagePack byte string, then unwraps
// the ndarray sidechannel or type-hint wrapping if present.
func Decode(b []byte) (Value, error) {
	var raw any
	if err := msgpack.Unmarshal(b, &raw); err != nil {
		return nil, nerrors.NewDecodeError("wire.Decode", nerrors.DecodeMalformed, err)
	}
	return fromWire(raw, 0)
}

func fromWire(raw any, depth int) (Value, error) {
	if depth > maxEncodeDepth {
		return nil, nerrors.NewDecodeError("wire.fromWire", nerrors.DecodeMalformed, fmt.Errorf("max nesting depth exceeded"))
	}
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return t, nil
	case []byte:
		return t, nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			conv, err := fromWire(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		return decodeMapping(t, depth)
	case map[any]any:
		// msgpack may decode into map[interface{}]interface{} for non-string
		// keyed maps; re-key onto strings since our wire grammar only emits
		// string-keyed mappings.
		conv := make(map[string]any, len(t))
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, nerrors.NewDecodeError("wire.fromWire", nerrors.DecodeMalformed, fmt.Errorf("non-string map key %v", k))
			}
			conv[ks] = v
		}
		return decodeMapping(conv, depth)
	default:
		return nil, nerrors.NewDecodeError("wire.fromWire", nerrors.DecodeMalformed, fmt.Errorf("unrecognized decoded type %T", raw))
	}
}

// decodeMapping recognizes the two reserved shapes (ndarray sidechannel,
// type-hint wrapper) and otherwise decodes the mapping's values in place.
func decodeMapping(m map[string]any, depth int) (Value, error) {
	if isTrue, ok := m[keyNDArray]; ok {
		if b, _ := isTrue.(bool); b {
			return decodeNDArray(m)
		}
	}
	if len(m) == 2 {
		if _, hasType := m[keyType]; hasType {
			if data, hasData := m[keyData]; hasData {
				return fromWire(data, depth+1)
			}
		}
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		conv, err := fromWire(v, depth+1)
		if err != nil {
			return nil, err
		}
		out[k] = conv
	}
	return out, nil
}

// decodeNDArray reconstructs an *NDArray from its sidechannel mapping,
// copying the payload into a freshly owned buffer and validating that its
// length matches the product of the declared shape.
func decodeNDArray(m map[string]any) (Value, error) {
	dtype, ok := m[keyDtype].(string)
	if !ok {
		return nil, nerrors.NewDecodeError("wire.decodeNDArray", nerrors.DecodeMalformed, fmt.Errorf("missing dtype"))
	}
	size := dtypeSize(dtype)
	if size == 0 {
		return nil, nerrors.NewDecodeError("wire.decodeNDArray", nerrors.DecodeUnknownDtype, fmt.Errorf("unknown dtype %q", dtype))
	}
	rawShape, ok := m[keyShape].([]any)
	if !ok {
		return nil, nerrors.NewDecodeError("wire.decodeNDArray", nerrors.DecodeMalformed, fmt.Errorf("missing shape"))
	}
	shape := make([]int, len(rawShape))
	for i, d := range rawShape {
		n, err := toInt(d)
		if err != nil {
			return nil, nerrors.NewDecodeError("wire.decodeNDArray", nerrors.DecodeMalformed, err)
		}
		shape[i] = n
	}
	rawData, ok := m[keyData].([]byte)
	if !ok {
		return nil, nerrors.NewDecodeError("wire.decodeNDArray", nerrors.DecodeMalformed, fmt.Errorf("missing data"))
	}
	wantLen := shapeProduct(shape) * size
	if len(rawData) != wantLen {
		return nil, nerrors.NewDecodeError("wire.decodeNDArray", nerrors.DecodeArrayShapeMismatch,
			fmt.Errorf("data length %d does not match shape product %d", len(rawData), wantLen))
	}
	owned := make([]byte, len(rawData))
	copy(owned, rawData)
	return &NDArray{Dtype: dtype, Shape: shape, Data: owned}, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("non-integer shape dimension %v (%T)", v, v)
	}
}
