package capture

import (
	"bytes"
	"fmt"
	"image"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"
)

// encode searches JPEG qualities from InitialQuality down to MinQuality
// and, failing that, downscales once and encodes at MinQuality.
func (c *Compositor) encode(dc *gg.Context) (*Image, error) {
	defer dc.Close()

	w, h := dc.Width(), dc.Height()
	last := 0
	for q := c.cfg.InitialQuality; q >= c.cfg.MinQuality; q -= c.cfg.QualityStep {
		img, err := encodeJPEG(dc, w, h, q)
		if err != nil {
			return nil, err
		}
		if img.Size() <= c.cfg.Budget {
			return img, nil
		}
		last = img.Size()
	}

	sw, sh := fit(w, h, c.cfg.MaxDimension)
	if sw == w && sh == h {
		return nil, fmt.Errorf("%w: %d > %d at quality %d", ErrOverBudget, last, c.cfg.Budget, c.cfg.MinQuality)
	}

	small := newContext(downscale(dc.Image(), sw, sh))
	defer small.Close()
	img, err := encodeJPEG(small, sw, sh, c.cfg.MinQuality)
	if err != nil {
		return nil, err
	}
	if img.Size() > c.cfg.Budget {
		return nil, fmt.Errorf("%w: %d > %d at %dx%d", ErrOverBudget, img.Size(), c.cfg.Budget, sw, sh)
	}
	c.cfg.Logger.Debug("capture: downscaled", "from_w", w, "from_h", h, "to_w", sw, "to_h", sh)
	return img, nil
}

func encodeJPEG(dc *gg.Context, w, h, quality int) (*Image, error) {
	var buf bytes.Buffer
	if err := dc.EncodeJPEG(&buf, quality); err != nil {
		return nil, fmt.Errorf("capture: encode jpeg q=%d: %w", quality, err)
	}
	return &Image{Data: buf.Bytes(), Width: w, Height: h, Quality: quality}, nil
}

// fit returns w x h scaled so the longest side is at most limit, keeping
// the aspect ratio. It never upscales and never returns a zero side.
func fit(w, h, limit int) (int, int) {
	long := max(w, h)
	if long <= limit {
		return w, h
	}
	sw := max(1, w*limit/long)
	sh := max(1, h*limit/long)
	return sw, sh
}

func downscale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
