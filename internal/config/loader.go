package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".imgref"

// Environment variables holding credentials. Credentials are never read
// from the config file so that the file can be committed.
const (
	EnvS3AccessKeyID     = "IMGREF_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "IMGREF_S3_SECRET_ACCESS_KEY"
	EnvDatabaseURL       = "IMGREF_DATABASE_URL"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File represents the structure of the .imgref configuration file.
type File struct {
	// Resolver overrides the resolver tables.
	Resolver ResolverConfig `yaml:"resolver,omitempty"`

	// Storage overrides the object-storage settings.
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Proxy overrides the proxy and probe settings.
	Proxy ProxyFileConfig `yaml:"proxy,omitempty"`

	// Server overrides the HTTP API settings.
	Server ServerFileConfig `yaml:"server,omitempty"`
}

// ProxyFileConfig is the proxy section of the config file.
type ProxyFileConfig struct {
	Endpoint     string        `yaml:"endpoint,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxImageSize int64         `yaml:"maxImageSize,omitempty"`
	UserAgent    string        `yaml:"userAgent,omitempty"`
}

// ServerFileConfig is the server section of the config file.
type ServerFileConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}

	return &cf, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .imgref in the current directory
// 3. Look for config.yaml in the XDG config directory
// 4. Look for .imgref in the user's home directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	candidates := make([]string, 0, 3)
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// ApplyFile merges non-zero values from a config file into c.
// Slices and maps replace the defaults instead of being appended to.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}

	r := f.Resolver
	if r.StorageBaseURL != "" {
		c.Resolver.StorageBaseURL = r.StorageBaseURL
	}
	if r.LabelToken != "" {
		c.Resolver.LabelToken = r.LabelToken
	}
	if len(r.ValidTypes) > 0 {
		c.Resolver.ValidTypes = r.ValidTypes
	}
	if len(r.TypeSubstitutions) > 0 {
		c.Resolver.TypeSubstitutions = r.TypeSubstitutions
	}
	if len(r.Extensions) > 0 {
		c.Resolver.Extensions = r.Extensions
	}
	if r.FilenamePattern != "" {
		c.Resolver.FilenamePattern = r.FilenamePattern
	}
	if len(r.CacheBustParams) > 0 {
		c.Resolver.CacheBustParams = r.CacheBustParams
	}
	if r.MaxGapLines != 0 {
		c.Resolver.MaxGapLines = r.MaxGapLines
	}

	s := f.Storage
	if s.Endpoint != "" {
		c.Storage.Endpoint = s.Endpoint
	}
	if s.Region != "" {
		c.Storage.Region = s.Region
	}
	if s.Bucket != "" {
		c.Storage.Bucket = s.Bucket
	}
	if s.Prefix != "" {
		c.Storage.Prefix = s.Prefix
	}
	if s.UsePathStyle {
		c.Storage.UsePathStyle = true
	}
	if s.CatalogTTL != 0 {
		c.Storage.CatalogTTL = s.CatalogTTL
	}

	p := f.Proxy
	if p.Endpoint != "" {
		c.ProxyEndpoint = p.Endpoint
	}
	if p.Timeout != 0 {
		c.ProbeTimeout = p.Timeout
	}
	if p.MaxImageSize != 0 {
		c.MaxImageSize = p.MaxImageSize
	}
	if p.UserAgent != "" {
		c.UserAgent = p.UserAgent
	}

	if f.Server.Listen != "" {
		c.ListenAddress = f.Server.Listen
	}
}

// ApplyEnv reads credentials from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvS3AccessKeyID); v != "" {
		c.Storage.AccessKeyID = v
	}
	if v := getenv(EnvS3SecretAccessKey); v != "" {
		c.Storage.SecretAccessKey = v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.DatabaseURL = v
	}
}
