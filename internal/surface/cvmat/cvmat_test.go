package cvmat

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
	"github.com/dudu/lipfilter/internal/landmark/landmarktest"
)

func overlayAlpha(t *testing.T, c *Canvas, x, y int) uint8 {
	t.Helper()
	pix, err := c.mat.DataPtrUint8()
	require.NoError(t, err)
	return pix[(y*c.w+x)*4+3]
}

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func TestCanvasFillRingEvenOdd(t *testing.T) {
	c := NewCanvas(40, 40)
	defer c.Close()

	outer := geometry.ClosedPolyline([]geometry.Vec{{X: 5, Y: 5}, {X: 35, Y: 5}, {X: 35, Y: 35}, {X: 5, Y: 35}})
	inner := geometry.ClosedPolyline([]geometry.Vec{{X: 15, Y: 15}, {X: 25, Y: 15}, {X: 25, Y: 25}, {X: 15, Y: 25}})
	c.FillRing([]geometry.Path{outer, inner}, color.NRGBA{R: 200, A: 255})

	assert.Equal(t, uint8(255), overlayAlpha(t, c, 10, 10), "ring")
	assert.Equal(t, uint8(0), overlayAlpha(t, c, 20, 20), "hole")
	assert.Equal(t, uint8(0), overlayAlpha(t, c, 2, 2), "outside")

	c.Clear()
	assert.Equal(t, uint8(0), overlayAlpha(t, c, 10, 10))
}

func TestCanvasSoftEllipseFades(t *testing.T) {
	c := NewCanvas(60, 60)
	defer c.Close()

	c.FillEllipse(compositor.Ellipse{Center: geometry.Vec{X: 30, Y: 30}, RX: 10, RY: 10, Soft: true}, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	center := overlayAlpha(t, c, 30, 30)
	edge := overlayAlpha(t, c, 39, 30)
	assert.Greater(t, center, edge)
	assert.Equal(t, uint8(0), overlayAlpha(t, c, 55, 55))
}

func TestTargetNoEffectLeavesOverlayEmpty(t *testing.T) {
	target := NewTarget(200, 200, false)
	defer target.Close()
	comp := compositor.NewSeeded(compositor.DefaultConfig(), 1)
	style := compositor.DefaultStyle()
	style.Color = compositor.NoEffect

	comp.Draw(target.Overlay(), landmarktest.DefaultMouth.Set(), geometry.DrawArea{W: 200, H: 200}, style)
	out := target.Present().(*image.RGBA)
	for _, v := range out.Pix {
		if !assert.Zero(t, v) {
			break
		}
	}
}

func TestTargetDrawsLipsAroundOpening(t *testing.T) {
	target := NewTarget(600, 600, false)
	defer target.Close()
	comp := compositor.NewSeeded(compositor.DefaultConfig(), 1)
	m := landmarktest.DefaultMouth

	comp.Draw(target.Overlay(), m.Set(), geometry.DrawArea{W: 600, H: 600}, compositor.DefaultStyle())

	cx, cy := int(m.CX*600), int(m.CY*600)
	assert.Equal(t, uint8(0), overlayAlpha(t, target.overlay, cx, cy), "mouth opening stays clear")
	assert.Greater(t, overlayAlpha(t, target.overlay, cx, cy+25), uint8(100), "lower lip tinted")
	assert.Greater(t, overlayAlpha(t, target.overlay, cx, cy-25), uint8(100), "upper lip tinted")
	assert.Equal(t, uint8(0), overlayAlpha(t, target.overlay, 10, 10))

	out := target.Present().(*image.RGBA)
	assert.Positive(t, out.RGBAAt(cx, cy+25).A)
	assert.Zero(t, out.RGBAAt(cx, cy).A)
}

func TestTargetMirrorsAndClears(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 20; x++ {
			frame.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	target := NewTarget(100, 100, true)
	defer target.Close()
	target.DrawFrame(frame, geometry.Resolve(100, 100, 100, 100), 1)
	out := target.Present().(*image.RGBA)

	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(95, 50), "left edge shows on the right")
	assert.Equal(t, uint8(0), out.RGBAAt(5, 50).R)
	assert.Same(t, out, target.Snapshot())

	// Begin keeps the presented frame until the next Present
	target.Begin()
	assert.Same(t, out, target.Snapshot())

	target.Clear()
	for _, v := range target.Snapshot().(*image.RGBA).Pix {
		if !assert.Zero(t, v) {
			break
		}
	}
}

func TestTargetBrightnessDimsVideo(t *testing.T) {
	target := NewTarget(10, 10, false)
	defer target.Close()
	target.DrawFrame(uniform(10, 10, color.RGBA{R: 200, G: 200, B: 200, A: 255}), geometry.DrawArea{W: 10, H: 10}, 0.5)
	px := target.Present().(*image.RGBA).RGBAAt(5, 5)
	assert.InDelta(t, 100, int(px.R), 2)
	assert.InDelta(t, 128, int(px.A), 2)
}

func TestTargetCoverFitCrops(t *testing.T) {
	// a 200x100 source into a 100x100 target is scaled to 200x100 and centered
	frame := uniform(200, 100, color.RGBA{G: 255, A: 255})
	for y := 0; y < 100; y++ {
		for x := 0; x < 50; x++ {
			frame.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	target := NewTarget(100, 100, false)
	defer target.Close()
	area := geometry.Resolve(100, 100, 200, 100)
	target.DrawFrame(frame, area, 1)
	out := target.Present().(*image.RGBA)

	assert.Equal(t, uint8(255), out.RGBAAt(50, 50).G)
	assert.Equal(t, uint8(0), out.RGBAAt(50, 50).R, "the red left quarter is cropped away")
}
