package annotation

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrDataURI is returned by ParseDataURI for anything but a base64 image
// data URI.
var ErrDataURI = errors.New("annotation: invalid image data URI")

// DataURI encodes data as a base64 data URI.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DataURILen is len(DataURI(mime, data)) for n bytes of data, without
// building the string.
func DataURILen(mime string, n int) int {
	return len("data:") + len(mime) + len(";base64,") + base64.StdEncoding.EncodedLen(n)
}

// ParseDataURI decodes a base64 image data URI.
func ParseDataURI(s string) (mime string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrDataURI
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok || !strings.HasPrefix(mime, "image/") {
		return "", nil, ErrDataURI
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, ErrDataURI
	}
	return mime, data, nil
}
