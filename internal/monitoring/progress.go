package monitoring

import (
	"sync"
	"time"

	"github.com/banshee-data/uvbin/internal/timeutil"
)

// ProgressMeter reports the fraction of rows processed through Logf in steps
// of Step (default 10%). It is safe for concurrent Add calls.
type ProgressMeter struct {
	Label string
	Total int64
	Step  float64
	Clock timeutil.Clock

	mu       sync.Mutex
	done     int64
	nextMark float64
	started  time.Time
}

// NewProgressMeter starts a meter over total units.
func NewProgressMeter(label string, total int64, clock timeutil.Clock) *ProgressMeter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ProgressMeter{
		Label:    label,
		Total:    total,
		Step:     0.1,
		Clock:    clock,
		nextMark: 0.1,
		started:  clock.Now(),
	}
}

// Add records n more units and logs every crossed step.
func (p *ProgressMeter) Add(n int64) {
	if p == nil || p.Total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += n
	frac := float64(p.done) / float64(p.Total)
	for frac >= p.nextMark && p.nextMark <= 1.0+1e-9 {
		Logf("[%s] %3.0f%% (%d/%d) after %s", p.Label, p.nextMark*100, p.done, p.Total,
			p.Clock.Since(p.started).Round(time.Millisecond))
		p.nextMark += p.Step
	}
}

// Done returns the units recorded so far.
func (p *ProgressMeter) Done() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
