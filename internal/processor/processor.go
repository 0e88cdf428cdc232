package processor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	goretry "github.com/sethvargo/go-retry"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/metrics"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

const (
	DefaultMaxFileSize   = 50 << 20
	DefaultMaxMegapixels = 50
	DefaultEncodeTimeout = 30 * time.Second
	DefaultUploadTimeout = 60 * time.Second

	variantContentType = "image/jpeg"
	dataURIPrefix      = "data:" + variantContentType + ";base64,"
	cleanupTimeout     = 10 * time.Second
)

// mimeFormats maps accepted declared mime types to the decoder format they must decode as.
var mimeFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
}

// BlobStore persists encoded variants.
// A store that is not configured makes the processor embed variants as data URIs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	IsConfigured() bool
}

// catalogWriter persists the photo record.
type catalogWriter interface {
	CreatePhoto(ctx context.Context, rec model.CatalogRecord) (model.CatalogRecord, error)
}

// Watermark is stamped on variants whose spec asks for it.
type Watermark struct {
	Text     string
	FontPath string // empty uses the built-in face
}

// Config holds the pipeline limits.
type Config struct {
	MaxFileSize   int64
	MaxMegapixels int
	EncodeTimeout time.Duration
	UploadTimeout time.Duration
	EncodeWorkers int // concurrent encodes across all files, 0 = CPU count
	Variants      model.VariantSpecs
	Watermark     Watermark
	Retry         retry.Strategy // per-upload retries
}

// Input is one file to ingest under an album.
type Input struct {
	OwnerID  string
	ParentID uuid.UUID
	Filename string
	MimeType string
	Data     []byte
}

// Processor validates an uploaded image, derives its variants, stores them and
// writes the catalog record.
type Processor struct {
	cfg     Config
	blobs   BlobStore
	catalog catalogWriter
	encode  *semaphore.Weighted
}

// New creates a Processor. blobs may be nil, in which case variants are embedded.
func New(cfg Config, blobs BlobStore, catalog catalogWriter) *Processor {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxMegapixels <= 0 {
		cfg.MaxMegapixels = DefaultMaxMegapixels
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = DefaultEncodeTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.EncodeWorkers <= 0 {
		cfg.EncodeWorkers = runtime.NumCPU()
	}
	if cfg.Variants == (model.VariantSpecs{}) {
		cfg.Variants = model.DefaultVariantSpecs()
	}
	if cfg.Retry.Attempts < 1 {
		cfg.Retry.Attempts = 1
	}

	return &Processor{
		cfg:     cfg,
		blobs:   blobs,
		catalog: catalog,
		encode:  semaphore.NewWeighted(int64(cfg.EncodeWorkers)),
	}
}

// Process runs the whole pipeline for one file and returns the stored record.
// The returned error wraps one of the model sentinels.
func (p *Processor) Process(ctx context.Context, in Input) (model.CatalogRecord, error) {
	if err := p.validate(in); err != nil {
		return model.CatalogRecord{}, err
	}

	src, err := p.decode(ctx, in.Data)
	if err != nil {
		return model.CatalogRecord{}, err
	}

	variants, encoded, err := p.derive(ctx, src)
	if err != nil {
		return model.CatalogRecord{}, err
	}

	photoID := uuid.New()
	rec := model.CatalogRecord{
		ID:       photoID,
		OwnerID:  in.OwnerID,
		ParentID: in.ParentID,
		Filename: in.Filename,
		MimeType: variantContentType,
		Size:     int64(len(in.Data)),
		Width:    src.Bounds().Dx(),
		Height:   src.Bounds().Dy(),
	}

	var keys []string
	if p.blobs != nil && p.blobs.IsConfigured() {
		prefix := path.Join(in.OwnerID, in.ParentID.String(), photoID.String())
		keys, err = p.upload(ctx, prefix, &variants, encoded)
		if err != nil {
			return model.CatalogRecord{}, err
		}
		rec.StorageKey = variants.Original.Key
	} else {
		embed(&variants, encoded)
		rec.Degraded = true

		metrics.FallbackEmbeds.Inc()
		zlog.Logger.Warn().
			Str("filename", in.Filename).
			Int("bytes", len(variants.Original.URL)).
			Msg("blob store not configured, embedding variants as data URIs")
	}

	rec.StorageURL = variants.Original.URL
	rec.MediumURL = variants.Medium.URL
	rec.ThumbnailURL = variants.Thumbnail.URL

	saved, err := p.catalog.CreatePhoto(ctx, rec)
	if err != nil {
		p.cleanup(ctx, keys)
		return model.CatalogRecord{}, fmt.Errorf("%w: %s: %v", model.ErrCatalogWrite, in.Filename, err)
	}

	return saved, nil
}

// validate checks the declared type, size and pixel count without a full decode.
func (p *Processor) validate(in Input) error {
	declared, ok := mimeFormats[normalizeMime(in.MimeType)]
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, in.MimeType)
	}

	size := int64(len(in.Data))
	if size > p.cfg.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", model.ErrFileTooLarge, size, p.cfg.MaxFileSize)
	}
	if size == 0 {
		return fmt.Errorf("%w: empty file", model.ErrCorruptImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrCorruptImage, err)
	}
	if format != declared {
		return fmt.Errorf("%w: declared %q but decoded as %s", model.ErrUnsupportedFormat, in.MimeType, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", model.ErrCorruptImage, cfg.Width, cfg.Height)
	}

	pixels := int64(cfg.Width) * int64(cfg.Height)
	if pixels > int64(p.cfg.MaxMegapixels)*1_000_000 {
		return fmt.Errorf("%w: %dx%d exceeds %d megapixels",
			model.ErrImageTooLarge, cfg.Width, cfg.Height, p.cfg.MaxMegapixels)
	}

	return nil
}

// derive renders every variant concurrently on the encode pool.
func (p *Processor) derive(ctx context.Context, src image.Image) (model.VariantSet, [3][]byte, error) {
	specs := p.cfg.Variants.All()
	var (
		set     model.VariantSet
		encoded [3][]byte
		out     [3]model.MediaVariant
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			data, v, err := p.render(gctx, src, spec)
			if err != nil {
				return err
			}
			encoded[i], out[i] = data, v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.VariantSet{}, encoded, err
	}

	for _, v := range out {
		set.Set(v)
	}

	return set, encoded, nil
}

// upload stores every variant concurrently. On failure the variants already
// stored are removed. It returns the stored keys.
func (p *Processor) upload(ctx context.Context, prefix string, set *model.VariantSet, encoded [3][]byte) ([]string, error) {
	slots := []*model.MediaVariant{&set.Original, &set.Medium, &set.Thumbnail}
	stored := make([]bool, len(slots))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range slots {
		v.Key = fmt.Sprintf("%s/%s.jpg", prefix, v.Role)

		g.Go(func() error {
			url, err := p.put(gctx, v.Key, encoded[i])
			if err != nil {
				return fmt.Errorf("%w: %s: %v", model.ErrUploadFailure, v.Key, err)
			}
			v.URL = url
			stored[i] = true
			return nil
		})
	}

	err := g.Wait()

	keys := make([]string, 0, len(slots))
	for i, v := range slots {
		if stored[i] {
			keys = append(keys, v.Key)
		}
	}

	if err != nil {
		p.cleanup(ctx, keys)
		return nil, err
	}

	return keys, nil
}

func (p *Processor) put(ctx context.Context, key string, data []byte) (string, error) {
	return goretry.DoValue(ctx, uploadBackoff(p.cfg.Retry), func(ctx context.Context) (string, error) {
		uctx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
		defer cancel()

		url, err := p.blobs.Put(uctx, key, data, variantContentType)
		if err != nil {
			return "", goretry.RetryableError(err)
		}
		return url, nil
	})
}

// uploadBackoff follows s: s.Attempts tries in total, waiting s.Delay before the
// second one and multiplying the wait by s.Backoff after each retry.
func uploadBackoff(s retry.Strategy) goretry.Backoff {
	delay := s.Delay
	next := goretry.BackoffFunc(func() (time.Duration, bool) {
		d := delay
		if s.Backoff > 0 {
			delay = time.Duration(float64(delay) * s.Backoff)
		}
		return d, false
	})

	retries := uint64(0)
	if s.Attempts > 1 {
		retries = uint64(s.Attempts - 1)
	}

	return goretry.WithMaxRetries(retries, next)
}

// cleanup removes stored blobs. It runs even when ctx is already cancelled.
func (p *Processor) cleanup(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, key := range keys {
		if err := p.blobs.Delete(ctx, key); err != nil {
			zlog.Logger.Error().Err(err).Str("key", key).Msg("failed to delete orphaned variant")
		}
	}
}

// embed turns every variant into a data URI.
func embed(set *model.VariantSet, encoded [3][]byte) {
	for i, v := range []*model.MediaVariant{&set.Original, &set.Medium, &set.Thumbnail} {
		v.URL = dataURIPrefix + base64.StdEncoding.EncodeToString(encoded[i])
	}
}

func normalizeMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}

	return strings.ToLower(strings.TrimSpace(m))
}

// IsDataURI reports whether url embeds the image inline.
func IsDataURI(url string) bool {
	return strings.HasPrefix(url, "data:image/")
}
