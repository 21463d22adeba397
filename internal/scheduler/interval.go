// Package scheduler runs pipeline tasks on a fixed cadence.
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"platmarket/internal/logger"
)

// ParseInterval parses "30m", "1h", "4h", "1d", "1w" into time.Duration.
// Returns (0, false) on invalid input.
func ParseInterval(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// IntervalRunner runs a named task every Interval until its context is done.
type IntervalRunner struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx context.Context
}

// NewIntervalRunner binds a runner to ctx; a nil ctx means background.
func NewIntervalRunner(ctx context.Context, name string, interval time.Duration) *IntervalRunner {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalRunner{Name: name, Interval: interval, ctx: ctx}
}

// Start blocks, invoking task once per interval. Returns when the context
// is cancelled. Task panics are not recovered; a crashing task is a bug.
func (r *IntervalRunner) Start(task func(ctx context.Context)) {
	if r == nil || task == nil {
		return
	}
	if r.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid interval=%s, exit", r.Name, r.Interval)
		return
	}
	logger.Infof("scheduler %s: started interval=%s run_immediately=%v", r.Name, r.Interval, r.RunImmediately)
	if r.RunImmediately {
		task(r.ctx)
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			logger.Infof("scheduler %s: ctx done, exit", r.Name)
			return
		case <-ticker.C:
			task(r.ctx)
		}
	}
}
