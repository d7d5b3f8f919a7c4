package markers

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// GlyphRenderer draws markers with the Go Regular font. It is safe for
// concurrent use: each render builds its own font face.
type GlyphRenderer struct {
	font *truetype.Font
}

func NewGlyphRenderer() (*GlyphRenderer, error) {
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("new glyph renderer: parse font: %w", err)
	}
	return &GlyphRenderer{font: f}, nil
}

func (r *GlyphRenderer) Render(ctx context.Context, kind Kind, p Params) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bg, fg := p.Background, p.Text
	if p.Skipped {
		bg, fg = desaturate(bg), desaturate(fg)
	}
	border := color.RGBA{0xff, 0xff, 0xff, 0xff}
	shadow := color.RGBA{0, 0, 0, 0x40}
	if p.Dark {
		border = color.RGBA{0x20, 0x21, 0x24, 0xff}
		shadow = color.RGBA{0, 0, 0, 0x80}
	}

	switch kind {
	case KindNumbered:
		img := image.NewRGBA(image.Rect(0, 0, 48, 48))
		fillCircle(img, 24, 26, 22, shadow)
		fillCircle(img, 24, 24, 22, border)
		fillCircle(img, 24, 24, 19, bg)
		text := p.Label
		if p.Number > 0 {
			text = strconv.Itoa(p.Number)
		}
		size := 18.0
		if len(text) > 2 {
			size = 13
		}
		r.drawText(img, text, size, fg, 24, 24)
		if p.Start {
			drawFlag(img, border, fg)
		}
		return img, nil

	case KindCurrentLocation:
		img := image.NewRGBA(image.Rect(0, 0, 40, 40))
		halo := bg
		halo.A = 0x40
		fillCircle(img, 20, 20, 19, halo)
		fillCircle(img, 20, 21, 10, shadow)
		fillCircle(img, 20, 20, 10, border)
		fillCircle(img, 20, 20, 7, bg)
		return img, nil

	case KindDestination:
		img := image.NewRGBA(image.Rect(0, 0, 40, 56))
		fillTriangle(img, image.Pt(6, 28), image.Pt(34, 28), image.Pt(20, 54), border)
		fillCircle(img, 20, 20, 18, border)
		fillTriangle(img, image.Pt(9, 28), image.Pt(31, 28), image.Pt(20, 50), bg)
		fillCircle(img, 20, 20, 15, bg)
		fillCircle(img, 20, 20, 6, fg)
		return img, nil

	case KindRouteInfo:
		face := r.face(14)
		width := font.MeasureString(face, p.Label).Ceil()
		face.Close()
		w, h := width+24, 32
		img := image.NewRGBA(image.Rect(0, 0, w, h+2))
		fillRoundRect(img, image.Rect(0, 2, w, h+2), 16, shadow)
		fillRoundRect(img, image.Rect(0, 0, w, h), 16, border)
		fillRoundRect(img, image.Rect(2, 2, w-2, h-2), 14, bg)
		r.drawText(img, p.Label, 14, fg, w/2, h/2)
		return img, nil

	case KindLegStart, KindLegEnd:
		img := image.NewRGBA(image.Rect(0, 0, 32, 32))
		fillCircle(img, 16, 16, 15, border)
		fillCircle(img, 16, 16, 12, bg)
		r.drawText(img, p.Label, 14, fg, 16, 16)
		return img, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (r *GlyphRenderer) face(size float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// drawText centres text on (cx, cy).
func (r *GlyphRenderer) drawText(img *image.RGBA, text string, size float64, col color.RGBA, cx, cy int) {
	if text == "" {
		return
	}
	face := r.face(size)
	defer face.Close()

	d := &font.Drawer{Dst: img, Src: image.NewUniform(col), Face: face}
	m := face.Metrics()
	d.Dot = fixed.Point26_6{
		X: fixed.I(cx) - d.MeasureString(text)/2,
		Y: fixed.I(cy) + (m.Ascent-m.Descent)/2,
	}
	d.DrawString(text)
}

// drawFlag marks a start marker with a small pennant in the top right corner.
func drawFlag(img *image.RGBA, border, fg color.RGBA) {
	draw.Draw(img, image.Rect(36, 2, 38, 18), image.NewUniform(border), image.Point{}, draw.Over)
	fillTriangle(img, image.Pt(38, 2), image.Pt(47, 6), image.Pt(38, 10), border)
	fillTriangle(img, image.Pt(38, 4), image.Pt(44, 6), image.Pt(38, 8), fg)
}

func desaturate(c color.RGBA) color.RGBA {
	gray := (299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B)) / 1000
	mix := func(v uint8) uint8 {
		g := (uint32(v)*3 + gray*7) / 10
		return uint8(g + (255-g)/3)
	}
	return color.RGBA{R: mix(c.R), G: mix(c.G), B: mix(c.B), A: c.A}
}

func fillCircle(img *image.RGBA, cx, cy, radius float64, col color.RGBA) {
	m := &circleMask{cx: cx, cy: cy, r: radius}
	draw.DrawMask(img, img.Bounds(), image.NewUniform(col), image.Point{}, m, image.Point{}, draw.Over)
}

func fillRoundRect(img *image.RGBA, rect image.Rectangle, radius float64, col color.RGBA) {
	m := &roundRectMask{rect: rect, r: radius}
	draw.DrawMask(img, rect, image.NewUniform(col), image.Point{}, m, rect.Min, draw.Over)
}

func fillTriangle(img *image.RGBA, a, b, c image.Point, col color.RGBA) {
	m := &triangleMask{a: a, b: b, c: c}
	draw.DrawMask(img, img.Bounds(), image.NewUniform(col), image.Point{}, m, image.Point{}, draw.Over)
}

// circleMask is an anti-aliased disc.
type circleMask struct {
	cx, cy, r float64
}

func (m *circleMask) ColorModel() color.Model { return color.AlphaModel }

func (m *circleMask) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(m.cx-m.r-1)), int(math.Floor(m.cy-m.r-1)),
		int(math.Ceil(m.cx+m.r+1)), int(math.Ceil(m.cy+m.r+1)),
	)
}

func (m *circleMask) At(x, y int) color.Color {
	d := math.Hypot(float64(x)+0.5-m.cx, float64(y)+0.5-m.cy)
	return color.Alpha{A: coverage(m.r - d)}
}

// roundRectMask is an anti-aliased rectangle with rounded corners.
type roundRectMask struct {
	rect image.Rectangle
	r    float64
}

func (m *roundRectMask) ColorModel() color.Model { return color.AlphaModel }

func (m *roundRectMask) Bounds() image.Rectangle { return m.rect }

func (m *roundRectMask) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(m.rect) {
		return color.Alpha{}
	}
	px, py := float64(x)+0.5, float64(y)+0.5
	minX, minY := float64(m.rect.Min.X)+m.r, float64(m.rect.Min.Y)+m.r
	maxX, maxY := float64(m.rect.Max.X)-m.r, float64(m.rect.Max.Y)-m.r
	dx := math.Max(math.Max(minX-px, 0), px-maxX)
	dy := math.Max(math.Max(minY-py, 0), py-maxY)
	return color.Alpha{A: coverage(m.r - math.Hypot(dx, dy))}
}

type triangleMask struct {
	a, b, c image.Point
}

func (m *triangleMask) ColorModel() color.Model { return color.AlphaModel }

func (m *triangleMask) Bounds() image.Rectangle {
	r := image.Rectangle{Min: m.a, Max: m.a.Add(image.Pt(1, 1))}
	for _, p := range []image.Point{m.b, m.c} {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}

func (m *triangleMask) At(x, y int) color.Color {
	px, py := float64(x)+0.5, float64(y)+0.5
	sign := func(p1, p2 image.Point) float64 {
		return (px-float64(p2.X))*float64(p1.Y-p2.Y) - float64(p1.X-p2.X)*(py-float64(p2.Y))
	}
	d1, d2, d3 := sign(m.a, m.b), sign(m.b, m.c), sign(m.c, m.a)
	neg := d1 < 0 || d2 < 0 || d3 < 0
	pos := d1 > 0 || d2 > 0 || d3 > 0
	if neg && pos {
		return color.Alpha{}
	}
	return color.Alpha{A: 0xff}
}

// coverage maps a signed distance inside an edge to an alpha value.
func coverage(inside float64) uint8 {
	a := inside + 0.5
	switch {
	case a <= 0:
		return 0
	case a >= 1:
		return 0xff
	}
	return uint8(a * 0xff)
}
