package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// counterVec is a thread-safe set of counters keyed by label.
type counterVec struct {
	total   uint64
	mu      sync.Mutex
	byLabel map[string]uint64
}

func (c *counterVec) inc(label string) {
	atomic.AddUint64(&c.total, 1)
	c.mu.Lock()
	if c.byLabel == nil {
		c.byLabel = make(map[string]uint64)
	}
	c.byLabel[label]++
	c.mu.Unlock()
}

func (c *counterVec) snapshot() (uint64, map[string]uint64) {
	total := atomic.LoadUint64(&c.total)
	c.mu.Lock()
	defer c.mu.Unlock()
	by := make(map[string]uint64, len(c.byLabel))
	for k, v := range c.byLabel {
		by[k] = v
	}
	return total, by
}

func (c *counterVec) reset() {
	atomic.StoreUint64(&c.total, 0)
	c.mu.Lock()
	c.byLabel = nil
	c.mu.Unlock()
}

var (
	rateLimitDrops counterVec
	analysisRuns   counterVec
	intentResults  counterVec
)

// IncRateLimitDrop counts a rejected request. Use prefix "global" for the
// global limiter.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rateLimitDrops.inc(prefix)
}

// IncAnalysisRun counts one analyzeAndAct call by outcome
// (completed, skipped, dry_run, insight_unavailable, invalid, error).
func IncAnalysisRun(outcome string) {
	analysisRuns.inc(outcome)
}

// IncIntentResult counts one dispatched intent by its result status.
func IncIntentResult(intent, status string) {
	intentResults.inc(intent + "/" + status)
}

func RateLimitSnapshot() (uint64, map[string]uint64) { return rateLimitDrops.snapshot() }
func AnalysisRunSnapshot() (uint64, map[string]uint64) { return analysisRuns.snapshot() }
func IntentResultSnapshot() (uint64, map[string]uint64) { return intentResults.snapshot() }

// Reset clears every counter. Tests only.
func Reset() {
	rateLimitDrops.reset()
	analysisRuns.reset()
	intentResults.reset()
}

// WriteText writes all counters in Prometheus text exposition format.
func WriteText(w io.Writer) error {
	series := []struct {
		name  string
		label string
		c     *counterVec
	}{
		{"ratepro_rate_limit_dropped", "prefix", &rateLimitDrops},
		{"ratepro_analysis_runs", "outcome", &analysisRuns},
		{"ratepro_intent_results", "intent_status", &intentResults},
	}
	for _, s := range series {
		total, by := s.c.snapshot()
		if _, err := fmt.Fprintf(w, "# TYPE %s_total counter\n%s_total %d\n", s.name, s.name, total); err != nil {
			return err
		}
		keys := make([]string, 0, len(by))
		for k := range by {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, "%s{%s=%q} %d\n", s.name, s.label, k, by[k]); err != nil {
				return err
			}
		}
	}
	return nil
}
