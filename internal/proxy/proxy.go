// Package proxy serves resolved images through the application's own
// origin so that browsers can display storage images that lack CORS
// headers.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/normalizer"
	"github.com/nao1215/imgref/internal/probe"
)

var (
	// ErrMissingURL is returned when the request has no url parameter or
	// the parameter cannot be normalized.
	ErrMissingURL = errors.New("missing or invalid url parameter")

	// ErrDisallowedTarget is returned for targets that are neither on the
	// storage host nor image files.
	ErrDisallowedTarget = errors.New("proxy target not allowed")
)

// Cache-Control values.
const (
	CachePublic  = "public, max-age=3600, s-maxage=3600, stale-while-revalidate=86400"
	CachePrivate = "private, no-cache"
)

// Proxy status header values.
const (
	statusSuccess       = "success"
	statusUpstreamError = "upstream-error"
	statusTimeout       = "timeout"
)

// BuildURL returns the proxied form of imageURL. An empty imageURL yields
// an empty string.
func BuildURL(endpoint, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	return endpoint + "?url=" + url.QueryEscape(imageURL)
}

// Handler is the image proxy route.
type Handler struct {
	normalizer *normalizer.Normalizer
	host       string
	extensions map[string]bool
	client     *http.Client
	maxSize    int64
	userAgent  string
	logger     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithHTTPClient replaces the upstream client.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		h.client = client
	}
}

// WithMaxImageSize caps the bytes relayed per image.
func WithMaxImageSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxSize = n
		}
	}
}

// WithUserAgent sets the upstream User-Agent.
func WithUserAgent(ua string) Option {
	return func(h *Handler) {
		h.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates the proxy handler. Targets are normalized with nz
// and checked against the storage host and extensions of cfg.
func NewHandler(nz *normalizer.Normalizer, cfg config.ResolverConfig, opts ...Option) *Handler {
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts["."+strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	h := &Handler{
		normalizer: nz,
		host:       cfg.StorageHost(),
		extensions: exts,
		maxSize:    config.DefaultMaxImageSize,
		userAgent:  config.DefaultUserAgent,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = probe.NewHTTPClient(config.DefaultProbeTimeout)
	}
	return h
}

// Target normalizes the raw url parameter and checks that it may be
// fetched.
func (h *Handler) Target(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}
	target, ok := h.normalizer.NormalizeURL(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingURL, raw)
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrMissingURL, raw)
	}
	switch {
	case h.host != "" && u.Host == h.host:
	case strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//"):
	case h.extensions[strings.ToLower(path.Ext(u.Path))]:
	default:
		return "", fmt.Errorf("%w: %s", ErrDisallowedTarget, u.Host)
	}
	return target, nil
}

// ServeHTTP relays the image named by the url query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target, err := h.Target(r.URL.Query().Get("url"))
	switch {
	case errors.Is(err, ErrMissingURL):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrDisallowedTarget):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("X-Original-Url", target)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, "invalid target", http.StatusBadRequest)
		return
	}
	req.Header.Set("Accept", "image/*")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			w.Header().Set("X-Proxy-Status", statusTimeout)
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			return
		}
		h.logger.Debug("proxy fetch failed", "url", target, "error", err)
		w.Header().Set("X-Proxy-Status", statusUpstreamError)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.Header().Set("X-Proxy-Status", statusUpstreamError)
		http.Error(w, "upstream returned "+strconv.Itoa(resp.StatusCode), resp.StatusCode)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if !probe.AllowedContentType(contentType) {
		w.Header().Set("X-Proxy-Status", statusUpstreamError)
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}
	if resp.ContentLength > h.maxSize {
		w.Header().Set("X-Proxy-Status", statusUpstreamError)
		http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxSize+1))
	if err != nil {
		if isTimeout(err) {
			w.Header().Set("X-Proxy-Status", statusTimeout)
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			return
		}
		w.Header().Set("X-Proxy-Status", statusUpstreamError)
		http.Error(w, "failed to read upstream", http.StatusBadGateway)
		return
	}
	if int64(len(body)) > h.maxSize {
		w.Header().Set("X-Proxy-Status", statusUpstreamError)
		http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		return
	}

	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("X-Proxy-Status", statusSuccess)
	if r.URL.Query().Get("bypass-cache") == "true" {
		header.Set("Cache-Control", CachePrivate)
	} else {
		header.Set("Cache-Control", CachePublic)
	}
	for _, key := range []string{"ETag", "Last-Modified"} {
		if v := resp.Header.Get(key); v != "" {
			header.Set(key, v)
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("failed to write proxied image", "url", target, "error", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
