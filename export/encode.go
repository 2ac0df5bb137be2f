package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/moviola-io/moviola/types"
)

// ErrShortPixelBuffer is returned when a frame's payload is smaller than
// its dimensions and stride imply.
var ErrShortPixelBuffer = errors.New("pixel buffer shorter than frame dimensions")

// EncodeFrame serializes a frame for export. 8-bit packed formats become
// PNG; any other format is passed through as the raw payload with a .raw
// extension.
func EncodeFrame(frame *types.CachedFrame, node types.OutputNode) (data []byte, ext, contentType string, err error) {
	switch frame.Format {
	case "RGB24":
		data, err = encodeRGB24(frame, node.Width, node.Height)
		return data, ".png", "image/png", err
	case "GRAY8":
		data, err = encodeGray8(frame, node.Width, node.Height)
		return data, ".png", "image/png", err
	default:
		return frame.Pixels, ".raw", "application/octet-stream", nil
	}
}

func strideOf(frame *types.CachedFrame, rowBytes int) int {
	if frame.Stride > 0 {
		return frame.Stride
	}
	return rowBytes
}

func encodeRGB24(frame *types.CachedFrame, width, height int) ([]byte, error) {
	stride := strideOf(frame, width*3)
	if len(frame.Pixels) < (height-1)*stride+width*3 {
		return nil, fmt.Errorf("%w: have %d bytes for %dx%d stride %d",
			ErrShortPixelBuffer, len(frame.Pixels), width, height, stride)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := frame.Pixels[y*stride:]
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: row[x*3],
				G: row[x*3+1],
				B: row[x*3+2],
				A: 0xff,
			})
		}
	}
	return encodePNG(img)
}

func encodeGray8(frame *types.CachedFrame, width, height int) ([]byte, error) {
	stride := strideOf(frame, width)
	if len(frame.Pixels) < (height-1)*stride+width {
		return nil, fmt.Errorf("%w: have %d bytes for %dx%d stride %d",
			ErrShortPixelBuffer, len(frame.Pixels), width, height, stride)
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+width], frame.Pixels[y*stride:])
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}
