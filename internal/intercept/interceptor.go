package intercept

import (
	"runtime/debug"
	"strings"
	"sync/atomic"

	"groupcast/internal/candidate"
	logx "groupcast/pkg/logx"
)

// Config controls which responses are inspected.
type Config struct {
	// Allow is a URL-substring allowlist; a response is inspected when its
	// URL contains any entry.
	Allow        []string
	MaxDepth     int
	MaxBodyBytes int
	Filter       candidate.NameFilter
	GroupPath    string
}

// DefaultAllow covers the platform's GraphQL and bulk-route endpoints.
var DefaultAllow = []string{"/api/graphql", "/graphql", "/ajax/"}

const defaultMaxBodyBytes = 8 << 20

// Interceptor owns the candidates captured from one tab's network traffic.
// One instance is created per attached page; nothing is shared globally.
type Interceptor struct {
	allow   []string
	maxBody int
	ext     Extractor
	set     *candidate.Set
	log     logx.Logger

	observed atomic.Int64
	failed   atomic.Int64
}

func New(cfg Config, log logx.Logger) *Interceptor {
	if log.IsZero() {
		log = logx.Nop()
	}
	allow := cfg.Allow
	if len(allow) == 0 {
		allow = DefaultAllow
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Interceptor{
		allow:   allow,
		maxBody: maxBody,
		ext:     Extractor{MaxDepth: cfg.MaxDepth, Filter: cfg.Filter.OrDefault(), GroupPath: cfg.GroupPath},
		set:     candidate.NewSet(),
		log:     log,
	}
}

// Allow reports whether responses from url are inspected.
func (i *Interceptor) Allow(url string) bool {
	for _, a := range i.allow {
		if a != "" && strings.Contains(url, a) {
			return true
		}
	}
	return false
}

// Observe inspects a copy of a response body and merges any groups found.
// It returns the number of new candidates and never panics: extraction
// failures are contained here so they cannot reach the page.
func (i *Interceptor) Observe(url string, body []byte) (added int) {
	defer func() {
		if r := recover(); r != nil {
			i.failed.Add(1)
			i.log.Warn("intercept extraction panic", logx.String("url", url), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			added = 0
		}
	}()
	if !i.Allow(url) || len(body) == 0 {
		return 0
	}
	if len(body) > i.maxBody {
		i.log.Debug("intercept body too large; skipped", logx.String("url", url), logx.Int("bytes", len(body)))
		return 0
	}
	i.observed.Add(1)
	added = i.set.AddAll(i.ext.Extract(body))
	if added > 0 {
		i.log.Debug("intercepted groups", logx.String("url", url), logx.Int("added", added), logx.Int("total", i.set.Len()))
	}
	return added
}

// Extractor returns the extractor configured for this interceptor, so inline
// scripts can be scanned with identical rules.
func (i *Interceptor) Extractor() Extractor { return i.ext }

func (i *Interceptor) Candidates() []candidate.Candidate { return i.set.Slice() }

func (i *Interceptor) Len() int { return i.set.Len() }

// Stats reports how many bodies were inspected and how many extractions failed.
func (i *Interceptor) Stats() (observed, failed int64) {
	return i.observed.Load(), i.failed.Load()
}
