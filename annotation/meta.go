package annotation

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/hazyhaar/pinpoint/coord"
)

// Meta is the metadata bag stored with an annotation: browser context plus
// the coordinate record captured at creation. Every field is optional.
type Meta struct {
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Viewport  string `json:"viewport,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	PinX           *float64 `json:"pinX,omitempty"`
	PinY           *float64 `json:"pinY,omitempty"`
	PinXPercent    *float64 `json:"pinXPercent,omitempty"`
	PinYPercent    *float64 `json:"pinYPercent,omitempty"`
	PinDocumentX   *float64 `json:"pinDocumentX,omitempty"`
	PinDocumentY   *float64 `json:"pinDocumentY,omitempty"`
	ScrollX        *float64 `json:"scrollX,omitempty"`
	ScrollY        *float64 `json:"scrollY,omitempty"`
	ViewportWidth  *float64 `json:"viewportWidth,omitempty"`
	ViewportHeight *float64 `json:"viewportHeight,omitempty"`
}

// WithCoordinates returns a copy of m carrying rec's fields. Fields absent
// from rec are cleared.
func (m Meta) WithCoordinates(rec coord.Record) Meta {
	m.PinX, m.PinY = split(rec.Viewport)
	m.PinXPercent, m.PinYPercent = split(rec.Percent)
	m.PinDocumentX, m.PinDocumentY = split(rec.Document)
	m.ScrollX, m.ScrollY = split(rec.Scroll)
	m.ViewportWidth, m.ViewportHeight = nil, nil
	if rec.ViewportSize != nil {
		w, h := rec.ViewportSize.Width, rec.ViewportSize.Height
		m.ViewportWidth, m.ViewportHeight = &w, &h
	}
	return m
}

// Coordinates rebuilds the coordinate record. A pair is present only when
// both of its axes are.
func (m Meta) Coordinates() coord.Record {
	var rec coord.Record
	rec.Viewport = join(m.PinX, m.PinY)
	rec.Percent = join(m.PinXPercent, m.PinYPercent)
	rec.Document = join(m.PinDocumentX, m.PinDocumentY)
	rec.Scroll = join(m.ScrollX, m.ScrollY)
	if m.ViewportWidth != nil && m.ViewportHeight != nil {
		rec.ViewportSize = &coord.Size{Width: *m.ViewportWidth, Height: *m.ViewportHeight}
	}
	return rec
}

func split(p *coord.Point) (x, y *float64) {
	if p == nil {
		return nil, nil
	}
	px, py := p.X, p.Y
	return &px, &py
}

func join(x, y *float64) *coord.Point {
	if x == nil || y == nil {
		return nil
	}
	return &coord.Point{X: *x, Y: *y}
}

// String field limits, in runes.
var metaStringLimits = map[string]int{
	"url":       2000,
	"path":      500,
	"browser":   50,
	"os":        50,
	"viewport":  20,
	"userAgent": 500,
	"timestamp": 30,
}

// SanitizeMeta decodes an untrusted metadata object field by field. Unknown
// fields and fields of the wrong JSON type are dropped, strings are
// truncated, pixel fields are rounded and percentages kept as sent.
// Anything that is not a JSON object yields an empty Meta.
func SanitizeMeta(raw json.RawMessage) Meta {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return Meta{}
	}

	str := func(key string) string {
		var s string
		if v, ok := fields[key]; !ok || json.Unmarshal(v, &s) != nil {
			return ""
		}
		return Truncate(s, metaStringLimits[key])
	}
	num := func(key string, round bool) *float64 {
		var f float64
		if v, ok := fields[key]; !ok || json.Unmarshal(v, &f) != nil {
			return nil
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		if round {
			f = roundHalfUp(f)
		}
		return &f
	}

	return Meta{
		URL:            str("url"),
		Path:           str("path"),
		Browser:        str("browser"),
		OS:             str("os"),
		Viewport:       str("viewport"),
		UserAgent:      str("userAgent"),
		Timestamp:      str("timestamp"),
		PinX:           num("pinX", true),
		PinY:           num("pinY", true),
		PinXPercent:    num("pinXPercent", false),
		PinYPercent:    num("pinYPercent", false),
		PinDocumentX:   num("pinDocumentX", true),
		PinDocumentY:   num("pinDocumentY", true),
		ScrollX:        num("scrollX", true),
		ScrollY:        num("scrollY", true),
		ViewportWidth:  num("viewportWidth", true),
		ViewportHeight: num("viewportHeight", true),
	}
}

// roundHalfUp rounds .5 toward +Inf.
func roundHalfUp(f float64) float64 {
	return math.Floor(f + 0.5)
}

// NewMeta fills the browser context fields for a page.
func NewMeta(pageURL, userAgent string, viewport coord.Size, now time.Time) Meta {
	m := Meta{
		URL:       pageURL,
		UserAgent: userAgent,
		Viewport:  strconv.Itoa(int(viewport.Width)) + "x" + strconv.Itoa(int(viewport.Height)),
		Timestamp: now.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if u, err := url.Parse(pageURL); err == nil {
		m.Path = u.EscapedPath()
		if m.Path == "" {
			m.Path = "/"
		}
	}
	m.Browser, m.OS = ParseUserAgent(userAgent)
	return m
}
