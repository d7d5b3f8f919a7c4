// Package markers renders map-marker bitmaps and memoizes them in a bounded
// LRU keyed by every visual parameter.
package markers

import (
	"errors"
	"fmt"
	"image/color"
	"unicode/utf8"
)

// Kind discriminates marker shapes.
type Kind string

const (
	KindNumbered        Kind = "numbered"
	KindCurrentLocation Kind = "current_location"
	KindDestination     Kind = "destination"
	KindRouteInfo       Kind = "route_info"
	KindLegStart        Kind = "leg_start"
	KindLegEnd          Kind = "leg_end"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNumbered, KindCurrentLocation, KindDestination, KindRouteInfo, KindLegStart, KindLegEnd:
		return true
	}
	return false
}

// Pinned kinds are requested on nearly every redraw. They are held as a
// single retained entry per kind outside the LRU.
func (k Kind) Pinned() bool {
	switch k {
	case KindCurrentLocation, KindDestination, KindRouteInfo:
		return true
	}
	return false
}

// Params are the visual parameters of a marker. Every field takes part in
// the cache key.
type Params struct {
	Number     int
	Label      string
	Background color.RGBA
	Text       color.RGBA
	Dark       bool
	Skipped    bool
	Start      bool
}

// Bounds on caller-supplied parameters. Each distinct value is a distinct
// cache key, so unbounded input would churn the LRU.
const (
	MaxNumber         = 999
	MaxLabelRunes     = 3
	MaxInfoLabelRunes = 16
)

var ErrInvalidParams = errors.New("invalid marker params")

// Validate checks p against the bounds for kind.
func Validate(kind Kind, p Params) error {
	if p.Number < 0 || p.Number > MaxNumber {
		return fmt.Errorf("%w: number %d outside [0, %d]", ErrInvalidParams, p.Number, MaxNumber)
	}
	limit := MaxLabelRunes
	if kind == KindRouteInfo {
		limit = MaxInfoLabelRunes
	}
	if n := utf8.RuneCountInString(p.Label); n > limit {
		return fmt.Errorf("%w: label of %d runes exceeds %d", ErrInvalidParams, n, limit)
	}
	return nil
}

// Spec is a kind plus its parameters.
type Spec struct {
	Kind   Kind
	Params Params
}

func (s Spec) Key() string { return Key(s.Kind, s.Params) }

// Key encodes kind and every field of p. The label is quoted so no label can
// forge the separators of another key.
func Key(kind Kind, p Params) string {
	return fmt.Sprintf("%s|n=%d|l=%q|bg=%02x%02x%02x%02x|fg=%02x%02x%02x%02x|dark=%t|skip=%t|start=%t",
		kind, p.Number, p.Label,
		p.Background.R, p.Background.G, p.Background.B, p.Background.A,
		p.Text.R, p.Text.G, p.Text.B, p.Text.A,
		p.Dark, p.Skipped, p.Start,
	)
}

var (
	lightPalette = map[Kind][2]color.RGBA{
		KindNumbered:        {{0x1a, 0x73, 0xe8, 0xff}, {0xff, 0xff, 0xff, 0xff}},
		KindCurrentLocation: {{0x42, 0x85, 0xf4, 0xff}, {0xff, 0xff, 0xff, 0xff}},
		KindDestination:     {{0xd9, 0x30, 0x25, 0xff}, {0xff, 0xff, 0xff, 0xff}},
		KindRouteInfo:       {{0xff, 0xff, 0xff, 0xff}, {0x20, 0x21, 0x24, 0xff}},
		KindLegStart:        {{0x18, 0x80, 0x38, 0xff}, {0xff, 0xff, 0xff, 0xff}},
		KindLegEnd:          {{0xd9, 0x30, 0x25, 0xff}, {0xff, 0xff, 0xff, 0xff}},
	}
	darkPalette = map[Kind][2]color.RGBA{
		KindNumbered:        {{0x8a, 0xb4, 0xf8, 0xff}, {0x20, 0x21, 0x24, 0xff}},
		KindCurrentLocation: {{0x8a, 0xb4, 0xf8, 0xff}, {0x20, 0x21, 0x24, 0xff}},
		KindDestination:     {{0xf2, 0x8b, 0x82, 0xff}, {0x20, 0x21, 0x24, 0xff}},
		KindRouteInfo:       {{0x30, 0x31, 0x34, 0xff}, {0xe8, 0xea, 0xed, 0xff}},
		KindLegStart:        {{0x81, 0xc9, 0x95, 0xff}, {0x20, 0x21, 0x24, 0xff}},
		KindLegEnd:          {{0xf2, 0x8b, 0x82, 0xff}, {0x20, 0x21, 0x24, 0xff}},
	}
	startBackground = color.RGBA{0x18, 0x80, 0x38, 0xff}
)

// Styled fills in the default palette for kind.
func Styled(kind Kind, number int, label string, dark, skipped, start bool) Params {
	pal := lightPalette
	if dark {
		pal = darkPalette
	}
	colors := pal[kind]
	p := Params{
		Number:     number,
		Label:      label,
		Background: colors[0],
		Text:       colors[1],
		Dark:       dark,
		Skipped:    skipped,
		Start:      start,
	}
	if start && kind == KindNumbered && !dark {
		p.Background = startBackground
	}
	return p
}

// CommonSpecs lists the markers worth rendering ahead of first use: the
// current-location dot, numbered markers 1..10 and the leg endpoints.
func CommonSpecs(dark bool) []Spec {
	specs := []Spec{{Kind: KindCurrentLocation, Params: Styled(KindCurrentLocation, 0, "", dark, false, false)}}
	for n := 1; n <= 10; n++ {
		specs = append(specs, Spec{Kind: KindNumbered, Params: Styled(KindNumbered, n, "", dark, false, false)})
	}
	specs = append(specs,
		Spec{Kind: KindLegStart, Params: Styled(KindLegStart, 0, "A", dark, false, false)},
		Spec{Kind: KindLegEnd, Params: Styled(KindLegEnd, 0, "B", dark, false, false)},
	)
	return specs
}
