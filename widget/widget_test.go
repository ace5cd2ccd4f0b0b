package widget

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func doc(t *testing.T, src string) *html.Node {
	t.Helper()
	n, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestProjectID_PrefersNamedScript(t *testing.T) {
	d := doc(t, `<html><head>
<script src="/analytics.js" data-project-id="other"></script>
<script src="https://cdn.example.com/pinpoint/bridge.js" data-project-id="p-42"></script>
</head><body></body></html>`)
	id, err := ProjectID(d)
	if err != nil || id != "p-42" {
		t.Fatalf("ProjectID = %q, %v", id, err)
	}
}

func TestProjectID_Fallback(t *testing.T) {
	d := doc(t, `<html><body><script src="/x.js"></script><script src="/y.js" data-project-id=" p-1 "></script></body></html>`)
	id, err := ProjectID(d)
	if err != nil || id != "p-1" {
		t.Fatalf("ProjectID = %q, %v", id, err)
	}
}

func TestProjectID_Missing(t *testing.T) {
	d := doc(t, `<html><body><script src="/pinpoint.js"></script></body></html>`)
	if _, err := ProjectID(d); !errors.Is(err, ErrNoProject) {
		t.Fatalf("err = %v", err)
	}
}

func TestGuard(t *testing.T) {
	if err := Guard(doc(t, `<html><body><div id="app"></div></body></html>`)); err != nil {
		t.Fatalf("fresh page: %v", err)
	}
	err := Guard(doc(t, `<html><body><div id="`+HostID+`"></div></body></html>`))
	if !errors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("second install: %v", err)
	}
}

func TestBridgeJS(t *testing.T) {
	if !strings.Contains(BridgeJS, HostID) {
		t.Fatal("bridge script does not reference the host id")
	}
	for _, fn := range []string{"attach", "listen", "watch", "cursor", "highlight", "pins", "hide", "metrics"} {
		if !strings.Contains(BridgeJS, fn+": function") {
			t.Errorf("bridge script missing %s", fn)
		}
	}
}
