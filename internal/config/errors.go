package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and ResolverConfig.Validate()
// so callers can use errors.Is() for programmatic handling.
var (
	// ErrNoInput is returned when a command needs at least one argument.
	ErrNoInput = errors.New("no input specified: provide at least one file or URL")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidChunkSize is returned when the chunk size is negative.
	// Use 0 to feed each document at once.
	ErrInvalidChunkSize = errors.New("invalid chunk size: must be non-negative")

	// ErrConflictingReportFormats is returned when more than one of
	// --json, --markdown and --html is specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: use only one of --json, --markdown and --html")

	// ErrInvalidStorageBaseURL is returned when the storage base URL is not
	// an absolute http(s) URL whose path ends with "/".
	ErrInvalidStorageBaseURL = errors.New("invalid storage base URL: must be an absolute http(s) URL ending with /")

	// ErrEmptyLabelToken is returned when the label token is blank.
	ErrEmptyLabelToken = errors.New("invalid label token: must not be empty")

	// ErrNoValidTypes is returned when the valid type set is empty.
	ErrNoValidTypes = errors.New("invalid resolver tables: at least one valid image type is required")

	// ErrInvalidTypeSubstitution is returned when a substitution targets a
	// tag that is not itself valid.
	ErrInvalidTypeSubstitution = errors.New("invalid type substitution: target must be a valid image type")

	// ErrNoExtensions is returned when no image extension is configured.
	ErrNoExtensions = errors.New("invalid resolver tables: at least one image extension is required")

	// ErrInvalidFilenamePattern is returned when the filename convention does
	// not compile or lacks the "type" and "page" named groups.
	ErrInvalidFilenamePattern = errors.New("invalid filename pattern: must compile and define (?P<type>...) and (?P<page>...) groups")

	// ErrInvalidMaxGapLines is returned when the gap bound is below one.
	ErrInvalidMaxGapLines = errors.New("invalid max gap lines: must be at least 1")

	// ErrInvalidProbeTimeout is returned when the probe timeout is not positive.
	ErrInvalidProbeTimeout = errors.New("invalid probe timeout: must be positive")

	// ErrInvalidMaxImageSize is returned when the image size cap is not positive.
	ErrInvalidMaxImageSize = errors.New("invalid max image size: must be positive")

	// ErrInvalidCacheTTL is returned when the catalog TTL is not positive.
	ErrInvalidCacheTTL = errors.New("invalid catalog TTL: must be positive")

	// ErrInvalidProxyEndpoint is returned when the proxy endpoint is not a
	// root-relative path.
	ErrInvalidProxyEndpoint = errors.New("invalid proxy endpoint: must start with /")
)
