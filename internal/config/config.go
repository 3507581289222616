package config

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "imgref"

	// DefaultStorageBaseURL is the public object-storage prefix that bare
	// filenames are rewritten onto. It must end with a slash.
	DefaultStorageBaseURL = "https://ywvoksfszaelkceectaa.supabase.co/storage/v1/object/public/images/"

	// DefaultStoragePath is the path shape that identifies object-storage URLs.
	DefaultStoragePath = "/storage/v1/object/public/images/"

	// DefaultLabelToken is the word inside the bracketed ordinal label.
	DefaultLabelToken = "이미지"

	// DefaultValidType is the type tag that deprecated tags are rewritten to.
	DefaultValidType = "figure"

	// DefaultFilenamePattern is the filename convention
	// <product>_<imagetype>_p<page>_<position>_<hash>.jpg.
	// The named groups "type" and "page" are required.
	DefaultFilenamePattern = `galaxy_s25_(?P<type>figure|chart|screen|diagram|dual|mode|single|take)_p(?P<page>\d+)_(?P<position>top|mid|bot)_(?P<hash>[a-f0-9]+)\.jpg`

	// DefaultMaxGapLines bounds how many non-URL lines may separate a label
	// from its URL.
	DefaultMaxGapLines = 5

	// DefaultProxyEndpoint is the path of the image proxy route.
	DefaultProxyEndpoint = "/api/proxy-image"

	// DefaultProbeTimeout is the per-image fetch timeout.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultMaxImageSize caps how many bytes a probe or proxy reads.
	DefaultMaxImageSize = 10 * 1024 * 1024 // 10MB

	// DefaultCatalogTTL is how long an object-storage listing stays cached.
	DefaultCatalogTTL = 5 * time.Minute

	// DefaultBucket is the object-storage bucket holding the images.
	DefaultBucket = "images"

	// DefaultRegion is the region sent to the S3-compatible endpoint.
	DefaultRegion = "us-east-1"

	// DefaultBatchSize is the number of documents resolved concurrently.
	DefaultBatchSize = 10

	// DefaultListenAddress is where `imgref serve` listens.
	DefaultListenAddress = "127.0.0.1:8080"

	// DefaultUserAgent identifies imgref in probe and proxy requests.
	DefaultUserAgent = "imgref/1.0 (+https://github.com/nao1215/imgref)"
)

// defaultValidTypes are the type tags that need no correction.
var defaultValidTypes = []string{"figure", "chart"}

// defaultTypeSubstitutions maps deprecated type tags to the valid one.
var defaultTypeSubstitutions = map[string]string{
	"screen":  DefaultValidType,
	"diagram": DefaultValidType,
	"dual":    DefaultValidType,
	"mode":    DefaultValidType,
	"single":  DefaultValidType,
	"take":    DefaultValidType,
}

// defaultExtensions are the recognized image file extensions.
var defaultExtensions = []string{"jpg", "jpeg", "png", "gif", "webp"}

// defaultCacheBustParams are query keys that only defeat caching.
var defaultCacheBustParams = []string{"t", "ts", "_", "_t", "timestamp", "cachebust", "cb"}

// ResolverConfig holds the static tables of the resolver core.
type ResolverConfig struct {
	// StorageBaseURL is the canonical object-storage prefix, ending in "/".
	StorageBaseURL string `yaml:"storageBaseURL,omitempty"`

	// LabelToken is the word inside "[<token> N]".
	LabelToken string `yaml:"labelToken,omitempty"`

	// ValidTypes are type tags left untouched.
	ValidTypes []string `yaml:"validTypes,omitempty"`

	// TypeSubstitutions maps deprecated type tags to a valid tag.
	TypeSubstitutions map[string]string `yaml:"typeSubstitutions,omitempty"`

	// Extensions are recognized image extensions without the dot.
	Extensions []string `yaml:"extensions,omitempty"`

	// FilenamePattern is the filename convention regex with "type" and
	// "page" named groups.
	FilenamePattern string `yaml:"filenamePattern,omitempty"`

	// CacheBustParams are query keys ignored when comparing URLs.
	CacheBustParams []string `yaml:"cacheBustParams,omitempty"`

	// MaxGapLines bounds the multiline-gap pattern.
	MaxGapLines int `yaml:"maxGapLines,omitempty"`
}

// NewResolverConfig returns the resolver tables with default values.
func NewResolverConfig() ResolverConfig {
	subs := make(map[string]string, len(defaultTypeSubstitutions))
	for k, v := range defaultTypeSubstitutions {
		subs[k] = v
	}
	return ResolverConfig{
		StorageBaseURL:    DefaultStorageBaseURL,
		LabelToken:        DefaultLabelToken,
		ValidTypes:        append([]string(nil), defaultValidTypes...),
		TypeSubstitutions: subs,
		Extensions:        append([]string(nil), defaultExtensions...),
		FilenamePattern:   DefaultFilenamePattern,
		CacheBustParams:   append([]string(nil), defaultCacheBustParams...),
		MaxGapLines:       DefaultMaxGapLines,
	}
}

// StorageOrigin returns the scheme and host of StorageBaseURL, used to
// resolve root-relative paths. It returns "" if the base URL is invalid.
func (r ResolverConfig) StorageOrigin() string {
	u, err := url.Parse(r.StorageBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// StorageHost returns the host of StorageBaseURL.
func (r ResolverConfig) StorageHost() string {
	u, err := url.Parse(r.StorageBaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// StoragePath returns the path of StorageBaseURL, for example
// "/storage/v1/object/public/images/".
func (r ResolverConfig) StoragePath() string {
	u, err := url.Parse(r.StorageBaseURL)
	if err != nil || u.Path == "" {
		return DefaultStoragePath
	}
	return u.Path
}

// FilenameRegexp compiles FilenamePattern.
func (r ResolverConfig) FilenameRegexp() (*regexp.Regexp, error) {
	re, err := regexp.Compile(r.FilenamePattern)
	if err != nil {
		return nil, err
	}
	if re.SubexpIndex("type") < 0 || re.SubexpIndex("page") < 0 {
		return nil, ErrInvalidFilenamePattern
	}
	return re, nil
}

// IsValidType reports whether tag is one of ValidTypes.
func (r ResolverConfig) IsValidType(tag string) bool {
	for _, v := range r.ValidTypes {
		if v == tag {
			return true
		}
	}
	return false
}

// Validate checks the resolver tables.
func (r ResolverConfig) Validate() error {
	u, err := url.Parse(r.StorageBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidStorageBaseURL
	}
	if !strings.HasSuffix(u.Path, "/") {
		return ErrInvalidStorageBaseURL
	}
	if strings.TrimSpace(r.LabelToken) == "" {
		return ErrEmptyLabelToken
	}
	if len(r.ValidTypes) == 0 {
		return ErrNoValidTypes
	}
	for _, target := range r.TypeSubstitutions {
		if !r.IsValidType(target) {
			return ErrInvalidTypeSubstitution
		}
	}
	if len(r.Extensions) == 0 {
		return ErrNoExtensions
	}
	if _, err := r.FilenameRegexp(); err != nil {
		return ErrInvalidFilenamePattern
	}
	if r.MaxGapLines < 1 {
		return ErrInvalidMaxGapLines
	}
	return nil
}

// StorageConfig describes the S3-compatible object storage holding the images.
type StorageConfig struct {
	// Endpoint is the S3 API endpoint, for example
	// "https://<project>.supabase.co/storage/v1/s3". Empty means AWS.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Region is the signing region.
	Region string `yaml:"region,omitempty"`

	// Bucket holds the image objects.
	Bucket string `yaml:"bucket,omitempty"`

	// Prefix restricts listings to keys under this prefix.
	Prefix string `yaml:"prefix,omitempty"`

	// UsePathStyle selects path-style addressing, required by most
	// S3-compatible services.
	UsePathStyle bool `yaml:"usePathStyle,omitempty"`

	// AccessKeyID and SecretAccessKey are read from the environment only.
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`

	// CatalogTTL is how long a bucket listing is reused.
	CatalogTTL time.Duration `yaml:"catalogTTL,omitempty"`
}

// Config holds all configuration options for imgref.
// It is populated from defaults, the config file and CLI flags, in that
// order, and passed explicitly to every component.
type Config struct {
	// Resolver holds the tables of the resolver core.
	Resolver ResolverConfig

	// Storage describes the object storage used by verify.
	Storage StorageConfig

	// ProxyEndpoint is the path of the image proxy route.
	ProxyEndpoint string

	// ProxyURLs renders proxied URLs instead of direct ones in reports.
	ProxyURLs bool

	// ProbeTimeout is the per-image fetch timeout.
	ProbeTimeout time.Duration

	// MaxImageSize caps bytes read per image.
	MaxImageSize int64

	// UserAgent is sent with probe and proxy requests.
	UserAgent string

	// Probe fetches every resolved image after resolution.
	Probe bool

	// Verify checks every resolved image against the storage catalog.
	Verify bool

	// Verbose enables debug logging.
	Verbose bool

	// BatchSize is the number of documents resolved concurrently.
	BatchSize int

	// ChunkSize feeds each document in chunks of this many bytes to
	// emulate streaming. Zero feeds the whole document at once.
	ChunkSize int

	// ConfigFilePath is an explicit path to the config file.
	ConfigFilePath string

	// JSONReport, MarkdownReport and HTMLReport select the report format.
	// At most one may be set; none means the text report.
	JSONReport     bool
	MarkdownReport bool
	HTMLReport     bool

	// ReportFile is where the report is written. Empty means stdout.
	ReportFile string

	// SaveToDB stores each resolution in the database.
	SaveToDB bool

	// DBDir is the SQLite database directory.
	DBDir string

	// DatabaseURL is a Postgres DSN. When set it replaces SQLite.
	DatabaseURL string

	// ListenAddress is where the HTTP API listens.
	ListenAddress string

	// Inputs are the documents to resolve. Empty means stdin.
	Inputs []string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Resolver: NewResolverConfig(),
		Storage: StorageConfig{
			Region:       DefaultRegion,
			Bucket:       DefaultBucket,
			UsePathStyle: true,
			CatalogTTL:   DefaultCatalogTTL,
		},
		ProxyEndpoint: DefaultProxyEndpoint,
		ProbeTimeout:  DefaultProbeTimeout,
		MaxImageSize:  DefaultMaxImageSize,
		UserAgent:     DefaultUserAgent,
		BatchSize:     DefaultBatchSize,
		SaveToDB:      true,
		DBDir:         XDGDataDir(),
		ListenAddress: DefaultListenAddress,
	}
}

// XDGDataDir returns the XDG data directory for imgref.
// On Linux: ~/.local/share/imgref
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for imgref.
// On Linux: ~/.config/imgref
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for imgref.
// On Linux: ~/.cache/imgref
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid and returns the first
// problem found as a sentinel error.
func (c *Config) Validate() error {
	if err := c.Resolver.Validate(); err != nil {
		return err
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.ChunkSize < 0 {
		return ErrInvalidChunkSize
	}

	formats := 0
	for _, on := range []bool{c.JSONReport, c.MarkdownReport, c.HTMLReport} {
		if on {
			formats++
		}
	}
	if formats > 1 {
		return ErrConflictingReportFormats
	}

	if c.ProbeTimeout <= 0 {
		return ErrInvalidProbeTimeout
	}

	if c.MaxImageSize <= 0 {
		return ErrInvalidMaxImageSize
	}

	if c.Storage.CatalogTTL <= 0 {
		return ErrInvalidCacheTTL
	}

	if !strings.HasPrefix(c.ProxyEndpoint, "/") {
		return ErrInvalidProxyEndpoint
	}

	return nil
}
