// Package collector accumulates image references across scans of one
// assistant message.
//
// A Session owns the text buffer and the dedup ledger of a single message.
// Each Ingest rescans the whole buffer, so a reference whose label arrived
// in an earlier chunk is still found once its URL arrives. Only references
// whose dedup key is new are appended and returned.
//
// A Session must be fed from one goroutine in arrival order. Concurrent
// messages use separate sessions.
package collector

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/normalizer"
	"github.com/nao1215/imgref/internal/scanner"
)

// Stats describes the most recent scan of the buffer.
type Stats struct {
	// Candidates counts raw matches per pattern kind.
	Candidates map[model.PatternKind]int

	// Rejected counts matches the normalizer rejected per pattern kind.
	Rejected map[model.PatternKind]int
}

// TotalCandidates returns the number of raw matches.
func (s Stats) TotalCandidates() int {
	total := 0
	for _, n := range s.Candidates {
		total += n
	}
	return total
}

// TotalRejected returns the number of rejected matches.
func (s Stats) TotalRejected() int {
	total := 0
	for _, n := range s.Rejected {
		total += n
	}
	return total
}

// Session is the per-message aggregation state.
type Session struct {
	mu sync.Mutex

	id         string
	scanner    *scanner.Scanner
	normalizer *normalizer.Normalizer
	bustParams map[string]bool
	logger     *slog.Logger

	pending string
	seen    map[string]struct{}
	images  []model.ImageReference
	stats   Stats
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithID fixes the session ID instead of generating one.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// NewSession creates an empty session. cacheBustParams are the query keys
// ignored when comparing URLs.
func NewSession(sc *scanner.Scanner, nz *normalizer.Normalizer, cacheBustParams []string, opts ...Option) *Session {
	params := make(map[string]bool, len(cacheBustParams))
	for _, p := range cacheBustParams {
		params[p] = true
	}

	s := &Session{
		scanner:    sc,
		normalizer: nz,
		bustParams: params,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.clear()
	return s
}

// ID returns the session identifier. Reset assigns a new one.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Reset discards the buffer and the ledger for a new message.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.clear()
}

func (s *Session) clear() {
	s.pending = ""
	s.seen = make(map[string]struct{})
	s.images = make([]model.ImageReference, 0)
	s.stats = Stats{
		Candidates: make(map[model.PatternKind]int),
		Rejected:   make(map[model.PatternKind]int),
	}
}

// Ingest adds text to the session and returns the references it made new.
//
// When text extends the current buffer (the caller passes the whole
// message so far, or the same text again) it replaces the buffer.
// Otherwise it is appended as the next chunk. A caller that only has the
// new bytes of a stream should use AppendChunk instead, since a chunk that
// happens to start with the whole buffer would replace it.
//
// While snapshots keep growing, a match that reaches the end of the buffer
// may still be cut and is held back. It is released by Finish or by
// ingesting the same text again. The first Ingest of a session and a
// repeated snapshot treat every match as complete.
func (s *Session) Ingest(text string) []model.ImageReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	extended := s.update(text)
	return s.collect(extended)
}

// IngestPartial is Ingest for a buffer that may end mid-reference. A match
// that reaches the end of the buffer is held back until more text arrives
// or Finish is called, so a URL cut by a chunk boundary is never recorded.
func (s *Session) IngestPartial(text string) []model.ImageReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.update(text)
	return s.collect(true)
}

// AppendChunk appends chunk to the buffer unconditionally and scans it
// like IngestPartial. Use it when the caller only has the new bytes, such
// as a file that grows.
func (s *Session) AppendChunk(chunk string) []model.ImageReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending += chunk
	return s.collect(true)
}

// Finish rescans the buffer as complete text and returns the references
// that were held back.
func (s *Session) Finish() []model.ImageReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(false)
}

// All returns every accepted reference in first-seen order.
func (s *Session) All() []model.ImageReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ImageReference, len(s.images))
	copy(out, s.images)
	return out
}

// Len returns the number of accepted references.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Text returns the buffered text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stats returns counts of the most recent scan.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Candidates: make(map[model.PatternKind]int, len(s.stats.Candidates)),
		Rejected:   make(map[model.PatternKind]int, len(s.stats.Rejected)),
	}
	for k, v := range s.stats.Candidates {
		out.Candidates[k] = v
	}
	for k, v := range s.stats.Rejected {
		out.Rejected[k] = v
	}
	return out
}

// update stores text in the buffer and reports whether it was a snapshot
// that strictly extended a non-empty buffer.
func (s *Session) update(text string) bool {
	prev := s.pending
	if strings.HasPrefix(text, prev) {
		s.pending = text
		return prev != "" && len(text) > len(prev)
	}
	s.pending += text
	return false
}

func (s *Session) collect(partial bool) []model.ImageReference {
	text := norm.NFC.String(s.pending)
	matches := s.scanner.Scan(text)

	stats := Stats{
		Candidates: make(map[model.PatternKind]int),
		Rejected:   make(map[model.PatternKind]int),
	}
	var added []model.ImageReference
	for _, m := range matches {
		stats.Candidates[m.Kind]++

		if partial && m.End >= len(text) {
			s.logger.Debug("holding back match at end of buffer", "kind", m.Kind.String(), "session", s.id)
			continue
		}

		ref, ok := s.normalizer.Normalize(m, len(s.images)+1)
		if !ok {
			stats.Rejected[m.Kind]++
			continue
		}

		key := DedupKey(ref.URL, s.bustParams)
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.images = append(s.images, ref)
		added = append(added, ref)
		s.logger.Debug("accepted image reference", "session", s.id, "kind", ref.Kind.String(), "url", ref.URL)
	}
	s.stats = stats
	return added
}

// DedupKey returns u without the query parameters named in bust.
// Remaining parameters are sorted so that their order does not matter.
// A URL that does not parse is its own key.
func DedupKey(u string, bust map[string]bool) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.RawQuery == "" {
		return u
	}

	q := parsed.Query()
	for k := range q {
		if bust[k] {
			q.Del(k)
		}
	}
	// Encode sorts by key.
	parsed.RawQuery = q.Encode()
	parsed.ForceQuery = false
	return parsed.String()
}
