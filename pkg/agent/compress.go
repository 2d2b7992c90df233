package agent

import (
	"bytes"
	"image"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"
)

// compressScreenshot downscales a PNG by the given factor and re-encodes it.
// Any decode or encode failure returns the original bytes untouched.
func compressScreenshot(data []byte, scale float64) []byte {
	if len(data) == 0 || scale <= 0 || scale >= 1 {
		return data
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Error("screenshot decode failed, keeping original", "err", err)
		return data
	}

	bounds := src.Bounds()
	w := int(float64(bounds.Dx()) * scale)
	h := int(float64(bounds.Dy()) * scale)
	if w < 1 || h < 1 {
		return data
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		slog.Error("screenshot re-encode failed, keeping original", "err", err)
		return data
	}

	slog.Info("screenshot compressed",
		"original_kb", len(data)/1024, "compressed_kb", buf.Len()/1024)
	return buf.Bytes()
}
