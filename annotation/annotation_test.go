package annotation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pinpoint/coord"
)

func TestSanitizeMeta(t *testing.T) {
	raw := json.RawMessage(`{
		"url": "` + strings.Repeat("u", 2500) + `",
		"browser": "` + strings.Repeat("é", 80) + `",
		"viewport": "1200x800",
		"os": 42,
		"pinX": 400.6, "pinY": 299.5,
		"pinXPercent": 33.3333, "pinYPercent": 37.5,
		"scrollX": "0", "scrollY": 200.2,
		"viewportWidth": 1200, "viewportHeight": 800,
		"extra": {"nested": true}
	}`)
	m := SanitizeMeta(raw)

	if len(m.URL) != 2000 {
		t.Errorf("url length = %d, want 2000", len(m.URL))
	}
	if n := len([]rune(m.Browser)); n != 50 {
		t.Errorf("browser runes = %d, want 50", n)
	}
	if m.OS != "" {
		t.Errorf("os = %q, want dropped", m.OS)
	}
	if m.Viewport != "1200x800" {
		t.Errorf("viewport = %q", m.Viewport)
	}
	if *m.PinX != 401 || *m.PinY != 300 {
		t.Errorf("pin = %v,%v, want rounded 401,300", *m.PinX, *m.PinY)
	}
	if *m.PinXPercent != 33.3333 {
		t.Errorf("percent rounded: %v", *m.PinXPercent)
	}
	if m.ScrollX != nil {
		t.Error("string scrollX should be dropped")
	}
	if *m.ScrollY != 200 {
		t.Errorf("scrollY = %v", *m.ScrollY)
	}

	rec := m.Coordinates()
	if rec.Scroll != nil {
		t.Error("scroll with one axis should be absent")
	}
	if rec.ViewportSize == nil || *rec.ViewportSize != (coord.Size{Width: 1200, Height: 800}) {
		t.Errorf("viewport size = %v", rec.ViewportSize)
	}
}

func TestSanitizeMeta_NotObject(t *testing.T) {
	for _, raw := range []string{``, `null`, `[1,2]`, `"x"`, `{bad`} {
		if m := SanitizeMeta(json.RawMessage(raw)); m != (Meta{}) {
			t.Errorf("SanitizeMeta(%q) = %+v, want empty", raw, m)
		}
	}
}

func TestMetaCoordinates_RoundTrip(t *testing.T) {
	rec := coord.NewRecord(coord.Pt(400, 300), coord.Pt(0, 200), coord.Size{Width: 1200, Height: 800}, coord.Pt(33.5, 37.5))
	m := Meta{Browser: "Chrome"}.WithCoordinates(rec)

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	got := SanitizeMeta(b).Coordinates()
	if *got.Viewport != *rec.Viewport || *got.Document != *rec.Document ||
		*got.Percent != *rec.Percent || *got.Scroll != *rec.Scroll || *got.ViewportSize != *rec.ViewportSize {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !strings.Contains(string(b), `"pinDocumentY":500`) {
		t.Errorf("wire form: %s", b)
	}
}

func TestMetaWithCoordinates_ClearsAbsent(t *testing.T) {
	x := 1.0
	m := Meta{PinX: &x, PinY: &x}.WithCoordinates(coord.Record{})
	if m.PinX != nil || m.PinY != nil {
		t.Fatal("absent viewport should clear pin fields")
	}
}

func TestNewMeta(t *testing.T) {
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeta("https://example.com/docs/page?q=1", ua, coord.Size{Width: 1200, Height: 800}, now)
	if m.Path != "/docs/page" || m.Viewport != "1200x800" || m.Browser != "Chrome" || m.OS != "Windows" {
		t.Fatalf("meta = %+v", m)
	}
	if m.Timestamp != "2026-03-01T12:00:00.000Z" {
		t.Errorf("timestamp = %q", m.Timestamp)
	}
}

func TestParseUserAgent(t *testing.T) {
	cases := []struct{ ua, browser, os string }{
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox", "Linux"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", "Edge", "Windows"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 Version/17.2 Safari/605.1.15", "Safari", "macOS"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 OPR/106.0", "Opera", "Windows"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36", "Chrome", "Android"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 Version/17.2 Mobile/15E148 Safari/604.1", "Safari", "iOS"},
		{"curl/8.5.0", "Unknown", "Unknown"},
	}
	for _, c := range cases {
		b, o := ParseUserAgent(c.ua)
		if b != c.browser || o != c.os {
			t.Errorf("ParseUserAgent(%q) = %s/%s, want %s/%s", c.ua, b, o, c.browser, c.os)
		}
	}
}

func TestSanitizeContent(t *testing.T) {
	got, err := SanitizeContent("  the <b>button</b> is misaligned <script>alert(1)</script> ")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "<") {
		t.Errorf("markup survived: %q", got)
	}
	if !strings.HasPrefix(got, "the button is misaligned") {
		t.Errorf("got %q", got)
	}

	if _, err := SanitizeContent(" \n\t "); !errors.Is(err, ErrContentEmpty) {
		t.Errorf("blank: %v", err)
	}
	if _, err := SanitizeContent(strings.Repeat("a", MaxContentLength+1)); !errors.Is(err, ErrContentTooLong) {
		t.Errorf("long: %v", err)
	}
	if _, err := SanitizeContent(strings.Repeat("a", MaxContentLength)); err != nil {
		t.Errorf("at limit: %v", err)
	}
}

func TestDataURI(t *testing.T) {
	data := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}
	uri := DataURI("image/jpeg", data)
	if DataURILen("image/jpeg", len(data)) != len(uri) {
		t.Fatalf("DataURILen = %d, len = %d", DataURILen("image/jpeg", len(data)), len(uri))
	}
	mime, got, err := ParseDataURI(uri)
	if err != nil || mime != "image/jpeg" || string(got) != string(data) {
		t.Fatalf("ParseDataURI = %q %v %v", mime, got, err)
	}
	for _, bad := range []string{"", "data:text/html;base64,PGI+", "data:image/png,raw", "data:image/png;base64,!!"} {
		if _, _, err := ParseDataURI(bad); !errors.Is(err, ErrDataURI) {
			t.Errorf("ParseDataURI(%q) err = %v", bad, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" Resolved "); err != nil || s != StatusResolved {
		t.Fatalf("got %q %v", s, err)
	}
	if _, err := ParseStatus("closed"); !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Errorf("got %q", got)
	}
}
