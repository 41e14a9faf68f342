package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pierrec/lz4/v3"

	"github.com/nitros-io/nitros/internal/nerrors"
	"github.com/nitros-io/nitros/internal/wire"
)

const pointcloudScale = 1000.0

// lz4FrameWriter pairs an lz4.Writer with the header bytes already written to
// the underlying sink, mirroring the archive package's lz4Writer: a small
// wrapper whose Close flushes the LZ4 frame trailer.
type lz4FrameWriter struct {
	sink *bytes.Buffer
	lzw  *lz4.Writer
}

func newLZ4FrameWriter(sink *bytes.Buffer) *lz4FrameWriter {
	w := &lz4FrameWriter{sink: sink, lzw: lz4.NewWriter(sink)}
	return w
}

func (w *lz4FrameWriter) Write(p []byte) (int, error) { return w.lzw.Write(p) }
func (w *lz4FrameWriter) Close() error                 { return w.lzw.Close() }

// CompressPointcloud quantizes a float32/float64 NDArray (interpreted in
// meters) to int16 millimeters and LZ4-frames the body. Lossy: 1 mm
// quantization, value range +/-32.767 m.
func CompressPointcloud(arr *wire.NDArray) ([]byte, error) {
	if arr == nil {
		return nil, nerrors.NewCompressCodecFailure("compress.CompressPointcloud", fmt.Errorf("nil array"))
	}
	quantized, err := quantizeToInt16(arr)
	if err != nil {
		return nil, nerrors.NewCompressCodecFailure("compress.CompressPointcloud", err)
	}

	var out bytes.Buffer
	shapeBytes := make([]byte, 4*len(arr.Shape))
	for i, d := range arr.Shape {
		binary.BigEndian.PutUint32(shapeBytes[i*4:], uint32(int32(d)))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(shapeBytes)))
	out.Write(lenBuf[:])
	out.Write(shapeBytes)

	fw := newLZ4FrameWriter(&out)
	body := make([]byte, len(quantized)*2)
	for i, v := range quantized {
		binary.BigEndian.PutUint16(body[i*2:], uint16(v))
	}
	if _, err := fw.Write(body); err != nil {
		return nil, nerrors.NewCompressCodecFailure("compress.CompressPointcloud", err)
	}
	if err := fw.Close(); err != nil {
		return nil, nerrors.NewCompressCodecFailure("compress.CompressPointcloud", err)
	}
	return out.Bytes(), nil
}

// DecompressPointcloud reverses CompressPointcloud, dividing back into
// float32 meters.
func DecompressPointcloud(b []byte) (*wire.NDArray, error) {
	if len(b) < 4 {
		return nil, nerrors.NewCompressCodecFailure("compress.DecompressPointcloud", fmt.Errorf("truncated header"))
	}
	shapeByteLen := binary.BigEndian.Uint32(b[0:4])
	if uint32(len(b)) < 4+shapeByteLen {
		return nil, nerrors.NewCompressCodecFailure("compress.DecompressPointcloud", fmt.Errorf("truncated shape"))
	}
	shapeBytes := b[4 : 4+shapeByteLen]
	if shapeByteLen%4 != 0 {
		return nil, nerrors.NewCompressCodecFailure("compress.DecompressPointcloud", fmt.Errorf("shape byte length %d not a multiple of 4", shapeByteLen))
	}
	shape := make([]int, shapeByteLen/4)
	for i := range shape {
		shape[i] = int(int32(binary.BigEndian.Uint32(shapeBytes[i*4:])))
	}

	lzr := lz4.NewReader(bytes.NewReader(b[4+shapeByteLen:]))
	body, err := io.ReadAll(lzr)
	if err != nil {
		return nil, nerrors.NewCompressCodecFailure("compress.DecompressPointcloud", err)
	}
	if len(body)%2 != 0 {
		return nil, nerrors.NewCompressCodecFailure("compress.DecompressPointcloud", fmt.Errorf("odd-length int16 body"))
	}
	n := len(body) / 2
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		mm := int16(binary.BigEndian.Uint16(body[i*2:]))
		meters := float32(mm) / pointcloudScale
		bits := math.Float32bits(meters)
		binary.BigEndian.PutUint32(out[i*4:], bits)
	}
	return &wire.NDArray{Dtype: wire.DtypeFloat32, Shape: shape, Data: out}, nil
}

// quantizeToInt16 multiplies every element by 1000 and rounds to the nearest
// int16, reading from a float32 or float64 row-major buffer.
func quantizeToInt16(arr *wire.NDArray) ([]int16, error) {
	n := 1
	for _, d := range arr.Shape {
		n *= d
	}
	switch arr.Dtype {
	case wire.DtypeFloat32:
		if len(arr.Data) != n*4 {
			return nil, fmt.Errorf("data length %d does not match shape product*4 (%d)", len(arr.Data), n*4)
		}
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			bits := binary.BigEndian.Uint32(arr.Data[i*4:])
			f := math.Float32frombits(bits)
			out[i] = roundToInt16(float64(f) * pointcloudScale)
		}
		return out, nil
	case wire.DtypeFloat64:
		if len(arr.Data) != n*8 {
			return nil, fmt.Errorf("data length %d does not match shape product*8 (%d)", len(arr.Data), n*8)
		}
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			bits := binary.BigEndian.Uint64(arr.Data[i*8:])
			f := math.Float64frombits(bits)
			out[i] = roundToInt16(f * pointcloudScale)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected float32 or float64 array, got %s", arr.Dtype)
	}
}

func roundToInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}
