package datasource

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeResult is the outcome of one connection test.
type ProbeResult struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Target   string        `json:"target,omitempty"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// ProbeAll runs TestConnection on every source concurrently, at most limit
// at a time (no limit when limit <= 0). Results keep the order of sources;
// a failed probe is reported in its result, never as an error.
func ProbeAll(ctx context.Context, sources []Source, limit int) []ProbeResult {
	results := make([]ProbeResult, len(sources))

	eg, egCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, src := range sources {
		eg.Go(func() error {
			start := time.Now()
			ok, err := src.TestConnection(egCtx)
			r := ProbeResult{
				Name:     src.Name(),
				Kind:     src.Kind(),
				Target:   Target(src),
				OK:       ok && err == nil,
				Duration: time.Since(start),
			}
			if err != nil {
				r.Error = err.Error()
			}
			results[i] = r
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
