// Package objstore answers which image files exist in the object storage
// bucket that resolved URLs point at.
//
// The bucket is listed through the S3-compatible API (Supabase Storage
// exposes one) and the listing is cached for a configurable TTL.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nao1215/imgref/internal/cache"
	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
)

var (
	// ErrNoBucket is returned when no bucket is configured.
	ErrNoBucket = errors.New("object storage bucket is required")

	// ErrObjectNotFound is returned by Head for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

// API is the part of the S3 client the catalog uses.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewS3Client creates an S3 client for the configured endpoint. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Object is one listed image object.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Name returns the final path element of the key.
func (o Object) Name() string {
	return path.Base(o.Key)
}

// listingKey is the single cache slot holding the bucket listing.
const listingKey = "listing"

// Catalog lists image objects of one bucket.
type Catalog struct {
	api        API
	bucket     string
	prefix     string
	extensions []string
	listing    *cache.TTL[string, map[string]Object]
	logger     *slog.Logger
}

// Option configures a Catalog.
type Option func(*catalogOptions)

type catalogOptions struct {
	clock      cache.Clock
	extensions []string
	logger     *slog.Logger
}

// WithClock sets the clock of the listing cache.
func WithClock(clock cache.Clock) Option {
	return func(o *catalogOptions) {
		o.clock = clock
	}
}

// WithExtensions restricts the listing to these extensions.
// The default is jpg, jpeg and png.
func WithExtensions(exts []string) Option {
	return func(o *catalogOptions) {
		o.extensions = exts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *catalogOptions) {
		o.logger = logger
	}
}

// NewCatalog creates a catalog over api.
func NewCatalog(api API, cfg config.StorageConfig, opts ...Option) (*Catalog, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	if cfg.CatalogTTL <= 0 {
		return nil, config.ErrInvalidCacheTTL
	}

	o := catalogOptions{
		extensions: []string{"jpg", "jpeg", "png"},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Catalog{
		api:        api,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		extensions: o.extensions,
		listing:    cache.NewTTL[string, map[string]Object](cfg.CatalogTTL, o.clock),
		logger:     o.logger,
	}, nil
}

// List returns the image objects of the bucket, from cache while fresh.
func (c *Catalog) List(ctx context.Context) ([]Object, error) {
	byName, err := c.objects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(byName))
	for _, o := range byName {
		out = append(out, o)
	}
	return out, nil
}

// Contains reports whether an object with this file name exists.
func (c *Catalog) Contains(ctx context.Context, filename string) (bool, error) {
	byName, err := c.objects(ctx)
	if err != nil {
		return false, err
	}
	_, ok := byName[filename]
	return ok, nil
}

// Refresh drops the cached listing.
func (c *Catalog) Refresh() {
	c.listing.Delete(listingKey)
}

func (c *Catalog) objects(ctx context.Context) (map[string]Object, error) {
	return c.listing.GetOrLoad(listingKey, func() (map[string]Object, error) {
		return c.load(ctx)
	})
}

func (c *Catalog) load(ctx context.Context) (map[string]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)}
	if c.prefix != "" {
		input.Prefix = aws.String(c.prefix)
	}

	byName := make(map[string]Object)
	pages := s3.NewListObjectsV2Paginator(c.api, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", c.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !c.isImage(key) {
				continue
			}
			o := Object{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}
			byName[o.Name()] = o
		}
	}
	c.logger.Debug("listed object storage", "bucket", c.bucket, "images", len(byName))
	return byName, nil
}

func (c *Catalog) isImage(key string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	for _, e := range c.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Head fetches the metadata of one key.
func (c *Catalog) Head(ctx context.Context, key string) (Object, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return Object{}, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return Object{}, fmt.Errorf("failed to head %s: %w", key, err)
	}
	return Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Verify returns the URLs of images under storagePath whose file is not in
// the bucket. Images hosted elsewhere are not checked.
func (c *Catalog) Verify(ctx context.Context, storagePath string, images []model.ImageReference) ([]string, error) {
	var missing []string
	for _, img := range images {
		name, ok := StorageFilename(img.URL, storagePath)
		if !ok {
			continue
		}
		found, err := c.Contains(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			missing = append(missing, img.URL)
		}
	}
	return missing, nil
}

// StorageFilename returns the file name of a URL whose path contains
// storagePath.
func StorageFilename(u, storagePath string) (string, bool) {
	i := strings.Index(u, storagePath)
	if i < 0 {
		return "", false
	}
	rest := u[i+len(storagePath):]
	if j := strings.IndexAny(rest, "?#"); j >= 0 {
		rest = rest[:j]
	}
	name := path.Base(rest)
	if name == "" || name == "." || name == "/" {
		return "", false
	}
	return name, true
}
