package progress

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Estimate is a snapshot of how far a stream has got and when it should end.
// Projections are only set when Projected is true.
type Estimate struct {
	Consumed int64
	Total    int64
	Elapsed  time.Duration
	Percent  float64

	Projected          bool
	ProjectedTotal     time.Duration
	ProjectedRemaining time.Duration
	ProjectedFinish    time.Time
}

// Compute projects completion from bytes consumed so far. It has no side
// effects; started is only used to anchor ProjectedFinish.
func Compute(consumed, total int64, elapsed time.Duration, started time.Time) Estimate {
	e := Estimate{
		Consumed: consumed,
		Total:    total,
		Elapsed:  elapsed,
	}

	if total <= 0 {
		e.Percent = 100
		return e
	}

	fraction := float64(consumed) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	e.Percent = fraction * 100

	if fraction <= 0 {
		return e
	}

	e.Projected = true
	e.ProjectedTotal = time.Duration(float64(elapsed) / fraction)
	e.ProjectedRemaining = e.ProjectedTotal - elapsed
	e.ProjectedFinish = started.Add(e.ProjectedTotal)
	return e
}

// MarshalZerologObject lets an Estimate be attached to a log event.
func (e Estimate) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("consumed", humanize.Bytes(uint64(e.Consumed))).
		Str("total", humanize.Bytes(uint64(e.Total))).
		Str("percent", humanize.FtoaWithDigits(e.Percent, 1))

	if e.Projected {
		ev.Float64("seconds_remaining", e.ProjectedRemaining.Seconds()).
			Float64("projected_total_seconds", e.ProjectedTotal.Seconds()).
			Time("projected_finish", e.ProjectedFinish)
	}
}

// Tracker computes estimates for one stream against a clock.
type Tracker struct {
	total   int64
	started time.Time
	now     func() time.Time
}

func NewTracker(total int64, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{total: total, started: now(), now: now}
}

func (t *Tracker) Observe(consumed int64) Estimate {
	return Compute(consumed, t.total, t.now().Sub(t.started), t.started)
}

// Logger returns an observer that writes each estimate at debug level.
func Logger(logger zerolog.Logger, name string) func(Estimate) {
	return func(e Estimate) {
		logger.Debug().Str("name", name).Object("progress", e).Msg("streaming")
	}
}
