package feedback

import (
	"net/http"

	"github.com/hazyhaar/pinpoint/widget"
)

func (s *Service) handleBridgeJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte(widget.BridgeJS))
}
