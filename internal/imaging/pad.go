// Package imaging holds the small amount of pixel work the gateway does
// itself: padding a provider result onto a canvas with the aspect ratio the
// client asked for.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"
)

// canvasFill is the neutral studio background used for padded borders.
var canvasFill = color.RGBA{R: 245, G: 245, B: 245, A: 255}

// Ratio is a positive width:height aspect ratio.
type Ratio struct {
	W int
	H int
}

// ParseRatio parses strings like "16:9" or "4:5". Both terms must be
// positive integers.
func ParseRatio(s string) (Ratio, error) {
	w, h, ok := strings.Cut(s, ":")
	if !ok {
		return Ratio{}, fmt.Errorf("invalid aspect ratio %q: want W:H", s)
	}
	wv, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || wv <= 0 {
		return Ratio{}, fmt.Errorf("invalid aspect ratio width in %q", s)
	}
	hv, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || hv <= 0 {
		return Ratio{}, fmt.Errorf("invalid aspect ratio height in %q", s)
	}
	return Ratio{W: wv, H: hv}, nil
}

// PadToAspect letterboxes the encoded image onto a canvas with the given
// ratio, centering the original. The image is never cropped or scaled; if it
// already matches the ratio, the input is returned unchanged. Output is PNG
// unless the input was JPEG.
func PadToAspect(data []byte, mimeType string, ratio Ratio) ([]byte, string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	// Cross-multiplied comparison avoids float drift for exact matches.
	if w*ratio.H == h*ratio.W {
		return data, mimeType, nil
	}

	canvasW, canvasH := w, h
	if w*ratio.H > h*ratio.W {
		canvasH = w * ratio.H / ratio.W
	} else {
		canvasW = h * ratio.W / ratio.H
	}

	dst := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(canvasFill), image.Point{}, draw.Src)
	offset := image.Pt((canvasW-w)/2, (canvasH-h)/2)
	draw.Draw(dst, bounds.Add(offset).Sub(bounds.Min), src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	outType := "image/png"
	if mimeType == "image/jpeg" {
		outType = "image/jpeg"
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 92})
	} else {
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode padded image: %w", err)
	}
	return buf.Bytes(), outType, nil
}
