// Package probe fetches resolved image URLs and describes what they serve.
//
// A probe checks the status code and content type, decodes the image
// header for its format and dimensions, and summarizes a few EXIF tags.
// It is an outer tool: the resolver core never performs I/O.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/image/webp" // register WebP decoder
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
)

var (
	// ErrDisallowedContentType is returned when the response is not an
	// allowed image type.
	ErrDisallowedContentType = errors.New("disallowed content type")

	// ErrImageTooLarge is returned when the body exceeds the size limit.
	ErrImageTooLarge = errors.New("image exceeds size limit")

	// ErrUpstreamStatus is returned for non-200 responses.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
)

// allowedContentTypes are the image media types that may be served.
var allowedContentTypes = map[string]bool{
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
}

// AllowedContentType reports whether a Content-Type header value names an
// allowed image type. Parameters such as charset are ignored.
func AllowedContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return allowedContentTypes[strings.ToLower(mediaType)]
}

// exifTags are the EXIF tags copied into a probe result.
var exifTags = map[string]bool{
	"Make":             true,
	"Model":            true,
	"DateTime":         true,
	"Software":         true,
	"ImageDescription": true,
}

// NewHTTPClient returns a client with the given timeout whose transport
// records OpenTelemetry spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Prober fetches images.
type Prober struct {
	client      *http.Client
	maxSize     int64
	userAgent   string
	concurrency int
	logger      *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) {
		p.client = client
	}
}

// WithMaxImageSize sets how many bytes are read per image.
func WithMaxImageSize(n int64) Option {
	return func(p *Prober) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Prober) {
		p.userAgent = ua
	}
}

// WithConcurrency sets how many images ProbeAll fetches at once.
func WithConcurrency(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// New creates a Prober with the default timeout and size limit.
func New(opts ...Option) *Prober {
	p := &Prober{
		maxSize:     config.DefaultMaxImageSize,
		userAgent:   config.DefaultUserAgent,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = NewHTTPClient(config.DefaultProbeTimeout)
	}
	return p
}

// Probe fetches one URL. The returned result always carries the URL; on
// failure it also carries whatever was learned before the error.
func (p *Prober) Probe(ctx context.Context, url string) (model.ProbeResult, error) {
	result := model.ProbeResult{URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}
	if !AllowedContentType(result.ContentType) {
		return result, fmt.Errorf("%w: %q", ErrDisallowedContentType, result.ContentType)
	}
	if resp.ContentLength > p.maxSize {
		return result, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize+1))
	if err != nil {
		return result, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > p.maxSize {
		return result, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, p.maxSize)
	}
	result.Bytes = int64(len(data))

	if strings.HasPrefix(strings.ToLower(result.ContentType), "image/svg") {
		result.Format = "svg"
		return result, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return result, fmt.Errorf("failed to decode image header: %w", err)
	}
	result.Format = format
	result.Width = cfg.Width
	result.Height = cfg.Height
	if format == "jpeg" {
		result.EXIF = SummarizeEXIF(data)
	}
	return result, nil
}

// ProbeAll fetches every URL with bounded concurrency. Failures are
// recorded in the result's Error field; the returned error is only the
// context's.
func (p *Prober) ProbeAll(ctx context.Context, urls []string) (map[string]model.ProbeResult, error) {
	results := make(map[string]model.ProbeResult, len(urls))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, u := range urls {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			result, err := p.Probe(ctx, u)
			if err != nil {
				result.Error = err.Error()
				p.logger.Debug("probe failed", "url", u, "error", err)
			}

			mu.Lock()
			results[u] = result
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// SummarizeEXIF returns the selected EXIF tags of a JPEG, or nil when it
// carries none.
func SummarizeEXIF(data []byte) map[string]string {
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil || raw == nil {
		return nil
	}

	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil
	}

	tags := make(map[string]string)
	for _, entry := range entries {
		if !exifTags[entry.TagName] {
			continue
		}
		if _, seen := tags[entry.TagName]; seen {
			continue
		}
		value := strings.TrimRight(strings.TrimSpace(entry.Formatted), "\x00")
		if value != "" {
			tags[entry.TagName] = value
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
