package quality

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestMeasureBlack(t *testing.T) {
	sig, err := Measure(encodePNG(t, color.Black))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if sig.MeanLuma > 0.001 {
		t.Errorf("black image MeanLuma = %f", sig.MeanLuma)
	}
	if !sig.Blank(0.02) {
		t.Error("black image not reported blank")
	}
}

func TestMeasureWhite(t *testing.T) {
	sig, err := Measure(encodePNG(t, color.White))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if sig.MeanLuma < 0.999 {
		t.Errorf("white image MeanLuma = %f", sig.MeanLuma)
	}
	if !sig.Blank(0.02) {
		t.Error("white image not reported blank")
	}
}

func TestMeasureMidGray(t *testing.T) {
	sig, err := Measure(encodePNG(t, color.Gray{Y: 128}))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if sig.Blank(0.02) {
		t.Errorf("mid-gray image reported blank, MeanLuma = %f", sig.MeanLuma)
	}
}

func TestMeasureGarbage(t *testing.T) {
	if _, err := Measure([]byte("not an image")); err == nil {
		t.Error("Measure accepted garbage data")
	}
}
