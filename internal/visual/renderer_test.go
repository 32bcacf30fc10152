package visual

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func testLandmarks(visibility float64) types.LandmarkSet {
	ls := make(types.LandmarkSet, types.NumLandmarks)
	for i := range ls {
		ls[i] = types.Landmark{
			X:          0.2 + 0.6*float64(i)/float64(types.NumLandmarks),
			Y:          0.2 + 0.6*float64(i%11)/11,
			Visibility: visibility,
		}
	}
	return ls
}

var squatDefs = []types.AngleDef{
	{Name: "right_knee", A: types.LandmarkRightHip, B: types.LandmarkRightKnee, C: types.LandmarkRightAnkle},
	{Name: "left_knee", A: types.LandmarkLeftHip, B: types.LandmarkLeftKnee, C: types.LandmarkLeftAnkle},
}

func TestDecodeDownscalesWideFrames(t *testing.T) {
	r := NewRenderer(320, 0.5)
	img, err := r.Decode(encodeTestJPEG(t, 640, 480))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Dx(); got != 320 {
		t.Fatalf("width = %d, want 320", got)
	}
	if got := img.Bounds().Dy(); got != 240 {
		t.Fatalf("height = %d, want 240 (aspect preserved)", got)
	}
}

func TestDecodeLeavesSmallFramesAlone(t *testing.T) {
	r := NewRenderer(640, 0.5)
	img, err := r.Decode(encodeTestJPEG(t, 320, 240))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Dx(); got != 320 {
		t.Fatalf("width = %d, want 320", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	r := NewRenderer(640, 0.5)
	if _, err := r.Decode([]byte("definitely not a jpeg")); err == nil {
		t.Fatal("expected an error for a non-image payload")
	}
}

func TestRenderProducesValidJPEG(t *testing.T) {
	r := NewRenderer(640, 0.5)
	img, err := r.Decode(encodeTestJPEG(t, 320, 240))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := r.Render(img, testLandmarks(0.9), squatDefs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("overlay is not a valid jpeg: %v", err)
	}
	if decoded.Bounds().Dx() != 320 {
		t.Fatalf("overlay width = %d", decoded.Bounds().Dx())
	}
}

func TestRenderDrawsBones(t *testing.T) {
	r := NewRenderer(0, 0.5)
	base := image.NewRGBA(image.Rect(0, 0, 200, 200))
	out, err := r.Render(base, testLandmarks(0.9), squatDefs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode overlay: %v", err)
	}
	// A black canvas with a skeleton drawn on it must contain colored pixels.
	colored := 0
	b := decoded.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cr, cg, cb, _ := decoded.At(x, y).RGBA()
			if cr > 0x2000 || cg > 0x2000 || cb > 0x2000 {
				colored++
			}
		}
	}
	if colored == 0 {
		t.Fatal("no skeleton pixels found on the overlay")
	}
}

func TestRenderIncompleteSetIsPassthrough(t *testing.T) {
	r := NewRenderer(0, 0.5)
	base := image.NewRGBA(image.Rect(0, 0, 64, 64))
	out, err := r.Render(base, types.LandmarkSet{}, squatDefs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("passthrough is not a valid jpeg: %v", err)
	}
}
