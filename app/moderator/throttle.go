package moderator

import (
	"fmt"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// ReportThrottle suppresses repeat reports of the same comment by the same
// user within a time window. The comment stays reported after the first hit,
// repeats only add noise.
type ReportThrottle struct {
	window time.Duration
	cache  cache.Cache[string, struct{}]
}

// NewReportThrottle creates a throttle keeping up to maxKeys reporter-comment
// pairs for the given window. Zero or negative window disables throttling.
func NewReportThrottle(window time.Duration, maxKeys int) *ReportThrottle {
	if window <= 0 {
		return nil // disabled
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &ReportThrottle{
		window: window,
		cache:  cache.NewCache[string, struct{}]().WithMaxKeys(maxKeys).WithTTL(window),
	}
}

// Allow reports if this reporter may report this comment now, and records the
// attempt. The first call for a pair within the window passes, repeats don't.
func (t *ReportThrottle) Allow(reporter string, commentID int64) bool {
	if t == nil {
		return true
	}
	key := fmt.Sprintf("%s:%d", reporter, commentID)
	if _, found := t.cache.Get(key); found {
		return false
	}
	t.cache.Set(key, struct{}{}, t.window)
	return true
}
