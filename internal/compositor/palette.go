package compositor

import (
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// NoneSwatch is the name of the swatch that disables the overlay
const NoneSwatch = "none"

// Swatch is a named lipstick shade
type Swatch struct {
	Name string `yaml:"name" json:"name"`
	Hex  string `yaml:"hex" json:"hex"`
}

// Color returns the swatch color, or NoEffect if Hex is invalid or empty
func (s Swatch) Color() color.NRGBA {
	c, err := ParseHex(s.Hex)
	if err != nil {
		return NoEffect
	}
	return c
}

// Slug returns a lowercase, dash-separated form of the name
func (s Swatch) Slug() string {
	return strings.Join(strings.Fields(strings.ToLower(s.Name)), "-")
}

// Palette is an ordered list of swatches
type Palette []Swatch

// DefaultPalette is the built-in shade list. The first entry is the default color.
var DefaultPalette = Palette{
	{Name: "Barely Peachy", Hex: "#BB5F43"},
	{Name: "Coral Courage", Hex: "#BC494F"},
	{Name: "Charming Pink", Hex: "#AA3E4C"},
	{Name: "Mauve Ambition", Hex: "#B04A5A"},
	{Name: "Fiery Crimson", Hex: "#A4343A"},
	{Name: "Mahogany Mission", Hex: "#8B4513"},
	{Name: "Rosewood Blaze", Hex: "#A0522D"},
	{Name: "Brick Era", Hex: "#A3473D"},
}

// Find looks a swatch up by name or slug, case-insensitively.
// "none" always resolves to the no-effect swatch.
func (p Palette) Find(name string) (Swatch, bool) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, NoneSwatch) {
		return Swatch{Name: NoneSwatch}, true
	}
	for _, s := range p {
		if strings.EqualFold(s.Name, name) || s.Slug() == strings.ToLower(name) {
			return s, true
		}
	}
	return Swatch{}, false
}

// Index returns the position of the swatch with color c, or -1
func (p Palette) Index(c color.NRGBA) int {
	for i, s := range p {
		if s.Color() == c {
			return i
		}
	}
	return -1
}

// NameOf names c: a swatch name, "none" for the no-effect color, or
// its hex form when c is not in the palette
func (p Palette) NameOf(c color.NRGBA) string {
	if c == NoEffect {
		return NoneSwatch
	}
	if i := p.Index(c); i >= 0 {
		return p[i].Name
	}
	return Hex(c)
}

// Step returns the swatch delta positions away from the one matching c,
// wrapping around the palette
func (p Palette) Step(c color.NRGBA, delta int) Swatch {
	if len(p) == 0 {
		return Swatch{Name: NoneSwatch}
	}
	i := p.Index(c)
	if i < 0 {
		if delta < 0 {
			return p[len(p)-1]
		}
		return p[0]
	}
	n := len(p)
	return p[((i+delta)%n+n)%n]
}

// LoadPalette decodes a YAML list of swatches and checks every color
func LoadPalette(r io.Reader) (Palette, error) {
	var p Palette
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return nil, errors.Wrap(err, "failed to decode palette")
	}
	if len(p) == 0 {
		return nil, errors.New("palette is empty")
	}
	for i, s := range p {
		if s.Name == "" {
			return nil, errors.Newf("swatch %d has no name", i)
		}
		if _, err := ParseHex(s.Hex); err != nil {
			return nil, errors.Wrapf(err, "swatch %q", s.Name)
		}
	}
	return p, nil
}

// ParseHex parses #RRGGBB or RRGGBB into an opaque color
func ParseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, errors.Newf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, errors.Wrapf(err, "invalid hex color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Hex formats c as #RRGGBB, or "" for the no-effect sentinel
func Hex(c color.NRGBA) string {
	if c.A == 0 {
		return ""
	}
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}
