package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/metrics"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

// decode fully decodes data on the encode pool, applying the EXIF orientation.
func (p *Processor) decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := p.encode.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.encode.Release(1)

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorruptImage, err)
	}

	return img, nil
}

type rendered struct {
	data    []byte
	variant model.MediaVariant
	err     error
}

// render produces one variant on the encode pool, bounded by the encode timeout.
func (p *Processor) render(ctx context.Context, src image.Image, spec model.VariantSpec) ([]byte, model.MediaVariant, error) {
	if err := p.encode.Acquire(ctx, 1); err != nil {
		return nil, model.MediaVariant{}, err
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.EncodeTimeout)
	defer cancel()

	done := make(chan rendered, 1)
	go func() {
		defer p.encode.Release(1)

		start := time.Now()
		data, v, err := p.encodeVariant(src, spec)
		metrics.VariantEncodeDuration.WithLabelValues(string(spec.Role)).Observe(time.Since(start).Seconds())

		done <- rendered{data: data, variant: v, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.variant, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, model.MediaVariant{}, ctx.Err()
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, model.MediaVariant{}, fmt.Errorf("%w: %s after %s", model.ErrEncodeTimeout, spec.Role, p.cfg.EncodeTimeout)
		}
		return nil, model.MediaVariant{}, tctx.Err()
	}
}

// encodeVariant resizes src for spec and encodes it as JPEG.
// Fitted variants are never upscaled; cropped variants always have the exact bounds.
func (p *Processor) encodeVariant(src image.Image, spec model.VariantSpec) ([]byte, model.MediaVariant, error) {
	var out image.Image
	if spec.Crop {
		out = imaging.Fill(src, spec.MaxWidth, spec.MaxHeight, imaging.Center, imaging.Lanczos)
	} else {
		out = imaging.Fit(src, spec.MaxWidth, spec.MaxHeight, imaging.Lanczos)
	}

	if spec.Watermark && p.cfg.Watermark.Text != "" {
		marked, err := p.watermark(out)
		if err != nil {
			return nil, model.MediaVariant{}, err
		}
		out = marked
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, out, imaging.JPEG, imaging.JPEGQuality(spec.Quality)); err != nil {
		return nil, model.MediaVariant{}, fmt.Errorf("failed to encode %s variant: %w", spec.Role, err)
	}

	b := out.Bounds()
	v := model.MediaVariant{
		Role:     spec.Role,
		Width:    b.Dx(),
		Height:   b.Dy(),
		ByteSize: buf.Len(),
	}

	return buf.Bytes(), v, nil
}

// watermark draws the configured text in the bottom-right corner.
func (p *Processor) watermark(img image.Image) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	dc.SetRGBA(1, 1, 1, 0.6)

	if p.cfg.Watermark.FontPath != "" {
		fontSize := float64(dc.Width()) * 0.04 // 4% of the image width
		if err := dc.LoadFontFace(p.cfg.Watermark.FontPath, fontSize); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
	}

	margin := 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	dc.DrawStringAnchored(p.cfg.Watermark.Text, x, y, 1, 0) // bottom-right corner

	return dc.Image(), nil
}
