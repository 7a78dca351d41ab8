// Package quality computes a cheap luminance signal over captured frames to
// flag blank (all-dark or washed-out) images. The signal is advisory: a
// blank frame is still stored.
package quality

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"gonum.org/v1/gonum/stat"
)

// sampleGrid limits luminance sampling to at most sampleGrid^2 pixels so the
// check stays cheap on large frames.
const sampleGrid = 64

type Signal struct {
	MeanLuma float64 // 0 (black) to 1 (white)
	StdDev   float64
	Samples  int
}

// Blank reports whether the frame is effectively featureless: mean luminance
// within threshold of full black or full white.
func (s *Signal) Blank(threshold float64) bool {
	return s.MeanLuma < threshold || s.MeanLuma > 1-threshold
}

// Measure decodes the image and samples its luminance on a coarse grid.
func Measure(data []byte) (*Signal, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	stepX, stepY := w/sampleGrid, h/sampleGrid
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	var lumas []float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma on 16-bit channel values
			luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			lumas = append(lumas, luma/65535)
		}
	}

	return &Signal{
		MeanLuma: stat.Mean(lumas, nil),
		StdDev:   stat.StdDev(lumas, nil),
		Samples:  len(lumas),
	}, nil
}
