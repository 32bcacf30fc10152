// Package visual renders skeleton overlays onto client frames.
package visual

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

const jpegQuality = 75

var (
	boneColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255} // Green
	jointColor = color.RGBA{R: 255, G: 0, B: 0, A: 255} // Red
	dimColor   = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

// Renderer draws landmark skeletons over decoded frames. Frames wider than
// maxWidth are downscaled before drawing to bound encode cost.
type Renderer struct {
	maxWidth      int
	minVisibility float64
}

// NewRenderer creates a renderer. maxWidth <= 0 disables downscaling.
func NewRenderer(maxWidth int, minVisibility float64) *Renderer {
	return &Renderer{maxWidth: maxWidth, minVisibility: minVisibility}
}

// Decode parses a frame payload into an image. Frames wider than the
// configured maximum are downscaled preserving aspect ratio.
func (r *Renderer) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return r.downscale(img), nil
}

func (r *Renderer) downscale(img image.Image) image.Image {
	b := img.Bounds()
	if r.maxWidth <= 0 || b.Dx() <= r.maxWidth {
		return img
	}
	h := b.Dy() * r.maxWidth / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, r.maxWidth, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// Render draws the skeleton for the given landmark set onto a copy of img
// and returns it as JPEG. Bones are the landmark pairs referenced by the
// exercise's angle definitions; joints are drawn over them. Landmarks below
// the visibility floor are drawn dimmed and their bones are skipped.
func (r *Renderer) Render(img image.Image, landmarks types.LandmarkSet, defs []types.AngleDef) ([]byte, error) {
	if !landmarks.Complete() {
		return encodeJPEG(img)
	}

	b := img.Bounds()
	canvas := image.NewRGBA(b)
	xdraw.Draw(canvas, b, img, b.Min, xdraw.Src)
	w, h := b.Dx(), b.Dy()

	// Landmark coordinates are normalized to [0,1].
	px := func(idx int) (int, int) {
		lm := landmarks[idx]
		return b.Min.X + int(lm.X*float64(w)), b.Min.Y + int(lm.Y*float64(h))
	}

	joints := make(map[int]bool)
	for _, def := range defs {
		joints[def.A] = true
		joints[def.B] = true
		joints[def.C] = true
		for _, bone := range [2][2]int{{def.A, def.B}, {def.B, def.C}} {
			if landmarks[bone[0]].Visibility < r.minVisibility ||
				landmarks[bone[1]].Visibility < r.minVisibility {
				continue
			}
			x0, y0 := px(bone[0])
			x1, y1 := px(bone[1])
			drawLine(canvas, x0, y0, x1, y1, boneColor)
		}
	}
	for idx := range joints {
		c := jointColor
		if landmarks[idx].Visibility < r.minVisibility {
			c = dimColor
		}
		x, y := px(idx)
		drawCircle(canvas, x, y, 4, c)
	}

	return encodeJPEG(canvas)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// drawLine rasterizes a 2px line with the classic Bresenham walk.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		setThick(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

func setThick(img *image.RGBA, x, y int, c color.RGBA) {
	setPixel(img, x, y, c)
	setPixel(img, x+1, y, c)
	setPixel(img, x, y+1, c)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if !image.Pt(x, y).In(img.Bounds()) {
		return
	}
	img.SetRGBA(x, y, c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
