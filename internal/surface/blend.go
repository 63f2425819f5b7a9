package surface

import (
	"image"
	"image/color"
	"math"

	"github.com/dudu/lipfilter/internal/compositor"
)

// Order is the byte order of a 4-channel pixel buffer
type Order int

const (
	RGBA Order = iota // image.RGBA
	BGRA              // OpenCV CV_8UC4
)

// Pixel buffers here are 4 bytes per pixel with premultiplied alpha in the
// last byte. Color channel order does not matter for the separable modes,
// so the same code serves RGBA images and BGRA mats.

// CompositePix blends src onto dst in place. Both slices have equal length.
func CompositePix(dst, src []uint8, mode compositor.BlendMode) {
	for i := 0; i+3 < len(src) && i+3 < len(dst); i += 4 {
		sa := src[i+3]
		if sa == 0 && src[i] == 0 && src[i+1] == 0 && src[i+2] == 0 {
			continue
		}
		switch mode {
		case compositor.BlendLighter:
			for c := 0; c < 4; c++ {
				v := int(dst[i+c]) + int(src[i+c])
				if v > 255 {
					v = 255
				}
				dst[i+c] = uint8(v)
			}
		case compositor.BlendSourceOver:
			inv := 255 - int(sa)
			for c := 0; c < 4; c++ {
				dst[i+c] = uint8(min(255, int(src[i+c])+div255(int(dst[i+c])*inv)))
			}
		default:
			separable(dst[i:i+4], src[i:i+4], blendFunc(mode))
		}
	}
}

// separable applies a W3C separable blend function to one premultiplied pixel:
//
//	co = cs*(1-ab) + cb*(1-as) + as*ab*B(Cb, Cs)
//	ao = as + ab*(1-as)
func separable(dst, src []uint8, b func(cb, cs float64) float64) {
	as := float64(src[3]) / 255
	ab := float64(dst[3]) / 255
	for c := 0; c < 3; c++ {
		cs := float64(src[c]) / 255
		cb := float64(dst[c]) / 255
		var mixed float64
		if as > 0 && ab > 0 {
			mixed = as * ab * b(cb/ab, cs/as)
		}
		dst[c] = to8(cs*(1-ab) + cb*(1-as) + mixed)
	}
	dst[3] = to8(as + ab*(1-as))
}

func blendFunc(mode compositor.BlendMode) func(cb, cs float64) float64 {
	switch mode {
	case compositor.BlendScreen:
		return screen
	case compositor.BlendOverlay:
		return func(cb, cs float64) float64 { return hardLight(cs, cb) }
	case compositor.BlendSoftLight:
		return softLight
	default:
		return func(_, cs float64) float64 { return cs }
	}
}

func screen(cb, cs float64) float64 {
	return cb + cs - cb*cs
}

// hardLight is overlay with the layers swapped; overlay(cb, cs) = hardLight(cs, cb)
func hardLight(cb, cs float64) float64 {
	if cs <= 0.5 {
		return cb * 2 * cs
	}
	return screen(cb, 2*cs-1)
}

func softLight(cb, cs float64) float64 {
	if cs <= 0.5 {
		return cb - (1-2*cs)*cb*(1-cb)
	}
	var d float64
	if cb <= 0.25 {
		d = ((16*cb-12)*cb + 4) * cb
	} else {
		d = math.Sqrt(cb)
	}
	return cb + (2*cs-1)*(d-cb)
}

// CoverPix paints the opaque color c over dst wherever cov is non-zero,
// scaled by alpha. cov has one byte per pixel.
func CoverPix(dst, cov []uint8, c color.NRGBA, alpha float64, order Order) {
	r, g, b := int(c.R), int(c.G), int(c.B)
	if order == BGRA {
		r, b = b, r
	}
	for p, m := range cov {
		if m == 0 {
			continue
		}
		a := int(math.Round(float64(m) * alpha))
		if a <= 0 {
			continue
		}
		over(dst[p*4:p*4+4], r, g, b, a)
	}
}

// over paints the opaque color (r,g,b) at alpha a/255 over one premultiplied pixel
func over(px []uint8, r, g, b, a int) {
	inv := 255 - a
	px[0] = uint8(div255(r*a + int(px[0])*inv))
	px[1] = uint8(div255(g*a + int(px[1])*inv))
	px[2] = uint8(div255(b*a + int(px[2])*inv))
	px[3] = uint8(div255(255*a + int(px[3])*inv))
}

// ScalePix multiplies every channel by alpha, fading a premultiplied buffer
func ScalePix(pix []uint8, alpha float64) {
	if alpha >= 1 {
		return
	}
	k := int(math.Round(math.Max(0, alpha) * 256))
	for i, v := range pix {
		pix[i] = uint8(int(v) * k >> 8)
	}
}

// FlipPix mirrors a 4-byte-per-pixel buffer horizontally in place
func FlipPix(pix []uint8, width, height, stride int) {
	for y := 0; y < height; y++ {
		row := pix[y*stride : y*stride+width*4]
		for l, r := 0, width-1; l < r; l, r = l+1, r-1 {
			li, ri := l*4, r*4
			for c := 0; c < 4; c++ {
				row[li+c], row[ri+c] = row[ri+c], row[li+c]
			}
		}
	}
}

func div255(v int) int {
	return (v + 127) / 255
}

func to8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// GradientPix paints g over dst wherever cov is non-zero, within rect.
// width is the buffer width in pixels.
func GradientPix(dst, cov []uint8, width int, rect image.Rectangle, g compositor.LinearGradient, order Order) {
	d := g.To.Sub(g.From)
	den := d.X*d.X + d.Y*d.Y
	fa := float64(g.FromColor.A) / 255
	ta := float64(g.ToColor.A) / 255
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			p := y*width + x
			m := cov[p]
			if m == 0 {
				continue
			}
			t := 0.0
			if den > 0 {
				t = ((float64(x)+0.5-g.From.X)*d.X + (float64(y)+0.5-g.From.Y)*d.Y) / den
				t = math.Max(0, math.Min(1, t))
			}
			r := int(lerp8(g.FromColor.R, g.ToColor.R, t))
			gr := int(lerp8(g.FromColor.G, g.ToColor.G, t))
			b := int(lerp8(g.FromColor.B, g.ToColor.B, t))
			if order == BGRA {
				r, b = b, r
			}
			a := int(math.Round((fa + (ta-fa)*t) * float64(m)))
			if a > 0 {
				over(dst[p*4:p*4+4], r, gr, b, a)
			}
		}
	}
}

func lerp8(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}
