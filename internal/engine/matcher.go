package engine

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/timebridge/internal/model"
)

// Matches reports whether rule's predicate holds for e. Priority, the
// enabled flag and source scope are ignored, so authors can preview what a
// disabled rule would match.
func (eng *Engine) Matches(rule *model.Rule, e *model.Entry) bool {
	value, ok := ResolveField(rule.MatchField, e)
	if !ok {
		return false
	}

	switch rule.Operator {
	case model.OpEquals:
		return fold(value) == fold(rule.MatchValue)
	case model.OpContains:
		return strings.Contains(fold(value), fold(rule.MatchValue))
	case model.OpStartsWith:
		return strings.HasPrefix(fold(value), fold(rule.MatchValue))
	case model.OpRegex:
		return eng.patterns.match(rule.MatchValue, value)
	default:
		slog.Warn("unknown rule operator",
			"rule_id", rule.ID,
			"operator", string(rule.Operator),
		)
		return false
	}
}

// fold returns the NFC-normalized form of s with each rune mapped to its
// simple uppercase. Only one-to-one case mappings apply, so "\u00df" and
// "ss" stay distinct.
func fold(s string) string {
	return strings.ToUpper(norm.NFC.String(s))
}

// compiledPattern caches the outcome of compiling one pattern, including
// failures, so an invalid pattern is reported once.
type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// patternCache compiles regex patterns once and evaluates them under a
// timeout. Safe for concurrent use.
type patternCache struct {
	timeout time.Duration

	mu       sync.Mutex
	compiled map[string]compiledPattern
}

func newPatternCache(timeout time.Duration) *patternCache {
	return &patternCache{
		timeout:  timeout,
		compiled: make(map[string]compiledPattern),
	}
}

// compile returns the case-insensitive regexp for pattern.
func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cp, ok := c.compiled[pattern]; ok {
		return cp.re, cp.err
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		slog.Warn("invalid regex pattern, rule will not match",
			"pattern", pattern,
			"error", err,
		)
	}
	c.compiled[pattern] = compiledPattern{re: re, err: err}
	return re, err
}

// match searches value for pattern. The pattern is unanchored unless the
// author anchors it. An invalid pattern or an evaluation that outlives the
// timeout is no match.
func (c *patternCache) match(pattern, value string) bool {
	re, err := c.compile(pattern)
	if err != nil {
		return false
	}

	if c.timeout <= 0 {
		return re.MatchString(value)
	}

	done := make(chan bool, 1)
	go func() {
		done <- re.MatchString(value)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case matched := <-done:
		return matched
	case <-timer.C:
		slog.Warn("regex evaluation timed out, treating as no match",
			"pattern", pattern,
			"timeout", c.timeout,
			"value_len", len(value),
		)
		return false
	}
}
