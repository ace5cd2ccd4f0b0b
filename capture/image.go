package capture

import "github.com/hazyhaar/pinpoint/annotation"

// MIME is the media type of every captured image.
const MIME = "image/jpeg"

// Image is an encoded snapshot.
type Image struct {
	Data    []byte
	Width   int
	Height  int
	Quality int
}

// Size is the length of the image's data URI, the form that is submitted
// and checked against the service limit.
func (i *Image) Size() int {
	return annotation.DataURILen(MIME, len(i.Data))
}

// DataURI returns the base64 data URI.
func (i *Image) DataURI() string {
	return annotation.DataURI(MIME, i.Data)
}
