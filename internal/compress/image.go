// Package compress implements the two opaque payload codecs selected by a
// publisher's compression mode: "image" (lossy JPEG) and "pointcloud" (lossy
// int16 quantization framed with LZ4).
package compress

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/nitros-io/nitros/internal/nerrors"
	"github.com/nitros-io/nitros/internal/wire"
)

const jpegQuality = 80

// CompressImage encodes a 2D (grayscale) or 3D (RGB, row-major, 3 channels)
// uint8 NDArray as a JPEG byte string. Lossy.
func CompressImage(arr *wire.NDArray) ([]byte, error) {
	if arr == nil || arr.Dtype != wire.DtypeUint8 {
		return nil, nerrors.NewCompressCodecFailure("compress.CompressImage", fmt.Errorf("expected uint8 array, got %v", dtypeOf(arr)))
	}
	img, err := decodeToImage(arr)
	if err != nil {
		return nil, nerrors.NewCompressCodecFailure("compress.CompressImage", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, nerrors.NewCompressCodecFailure("compress.CompressImage", err)
	}
	return buf.Bytes(), nil
}

// DecompressImage decodes a JPEG byte string back into a uint8 NDArray. The
// result is necessarily lossy relative to the original source array.
func DecompressImage(b []byte) (*wire.NDArray, error) {
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, nerrors.NewCompressCodecFailure("compress.DecompressImage", err)
	}
	return encodeFromImage(img), nil
}

func dtypeOf(arr *wire.NDArray) string {
	if arr == nil {
		return "<nil>"
	}
	return arr.Dtype
}

// decodeToImage builds a stdlib image.Image from a row-major uint8 array of
// shape [H, W] (grayscale) or [H, W, 3] (RGB).
func decodeToImage(arr *wire.NDArray) (image.Image, error) {
	switch len(arr.Shape) {
	case 2:
		h, w := arr.Shape[0], arr.Shape[1]
		if len(arr.Data) != h*w {
			return nil, fmt.Errorf("data length %d does not match shape [%d %d]", len(arr.Data), h, w)
		}
		img := image.NewGray(image.Rect(0, 0, w, h))
		copy(img.Pix, arr.Data)
		return img, nil
	case 3:
		h, w, c := arr.Shape[0], arr.Shape[1], arr.Shape[2]
		if c != 3 {
			return nil, fmt.Errorf("unsupported channel count %d", c)
		}
		if len(arr.Data) != h*w*c {
			return nil, fmt.Errorf("data length %d does not match shape [%d %d %d]", len(arr.Data), h, w, c)
		}
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		src := arr.Data
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				si := (y*w + x) * 3
				di := img.PixOffset(x, y)
				img.Pix[di+0] = src[si+0]
				img.Pix[di+1] = src[si+1]
				img.Pix[di+2] = src[si+2]
				img.Pix[di+3] = 0xff
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported shape %v (expected 2D or 3D)", arr.Shape)
	}
}

// encodeFromImage converts a decoded image.Image back into a row-major uint8
// NDArray, preserving grayscale vs. RGB based on the decoded color model.
func encodeFromImage(img image.Image) *wire.NDArray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if isGray(img) {
		data := make([]byte, h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gr, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				data[y*w+x] = byte(gr >> 8)
			}
		}
		return &wire.NDArray{Dtype: wire.DtypeUint8, Shape: []int{h, w}, Data: data}
	}
	data := make([]byte, h*w*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*w + x) * 3
			data[i+0] = byte(r >> 8)
			data[i+1] = byte(g >> 8)
			data[i+2] = byte(b >> 8)
		}
	}
	return &wire.NDArray{Dtype: wire.DtypeUint8, Shape: []int{h, w, 3}, Data: data}
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	default:
		return false
	}
}
