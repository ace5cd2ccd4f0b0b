package coord

// Record is a point captured once in several parallel representations.
//
// Each field is independently optional. Older records may only carry
// Viewport, and a metadata bag that crossed an untrusted boundary may have
// lost any of them. Fields are written once at capture time and never
// derived from one another on write.
type Record struct {
	Viewport     *Point `json:"viewport,omitempty"`
	Percent      *Point `json:"percent,omitempty"`
	Document     *Point `json:"document,omitempty"`
	Scroll       *Point `json:"scroll,omitempty"`
	ViewportSize *Size  `json:"viewport_size,omitempty"`
}

// NewRecord builds a fully populated Record for a point taken at capture
// time. percent must come from the same width/height the captured bitmap
// was cropped with.
func NewRecord(viewport, scroll Point, size Size, percent Point) Record {
	document := ToDocumentAbsolute(viewport, scroll)
	return Record{
		Viewport:     &viewport,
		Percent:      &percent,
		Document:     &document,
		Scroll:       &scroll,
		ViewportSize: &size,
	}
}

// IsZero reports whether no positional data survived.
func (r Record) IsZero() bool {
	return r.Viewport == nil && r.Percent == nil && r.Document == nil
}
