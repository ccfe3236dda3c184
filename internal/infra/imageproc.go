package infra

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// FramePreprocessor shrinks and brightens frames before they are uploaded.
type FramePreprocessor struct {
	MaxSize        int     // Longest edge in pixels; 0 keeps the original size
	BrightnessGain float64 // Channel multiplier; 1.0 or 0 leaves pixels unchanged
	Quality        int     // JPEG quality; 0 means 90
}

// Process returns a JPEG of data resized to fit MaxSize with the gain applied.
// Images that need no change are returned as-is.
func (p FramePreprocessor) Process(data []byte) ([]byte, error) {
	gain := p.BrightnessGain
	needGain := gain > 0 && gain != 1.0
	if p.MaxSize <= 0 && !needGain {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	needResize := p.MaxSize > 0 && (cfg.Width > p.MaxSize || cfg.Height > p.MaxSize)
	if !needResize && !needGain {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var out draw.Image
	if needResize {
		w, h := fitWithin(cfg.Width, cfg.Height, p.MaxSize)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		out = dst
	} else {
		dst := image.NewRGBA(src.Bounds())
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		out = dst
	}

	if needGain {
		applyGain(out.(*image.RGBA), gain)
	}

	quality := p.Quality
	if quality <= 0 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales w x h so the longest edge equals limit, keeping the aspect ratio.
func fitWithin(w, h, limit int) (int, int) {
	if w >= h {
		return limit, max(h*limit/w, 1)
	}
	return max(w*limit/h, 1), limit
}

func applyGain(img *image.RGBA, gain float64) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: scaleChannel(c.R, gain),
				G: scaleChannel(c.G, gain),
				B: scaleChannel(c.B, gain),
				A: c.A,
			})
		}
	}
}

func scaleChannel(v uint8, gain float64) uint8 {
	f := float64(v) * gain
	if f > 255 {
		return 255
	}
	return uint8(f)
}
