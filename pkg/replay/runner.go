package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// Sink receives the batches of a scenario.
type Sink interface {
	Send(ctx context.Context, b stand.Batch) error
	Clear(ctx context.Context) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Speed scales playback; 2 plays twice as fast. Zero means 1.
	Speed float64

	// OnStep is called after each step is delivered.
	OnStep func(index int, step Step)

	Logger *slog.Logger
}

// Result summarises a run.
type Result struct {
	Steps   int
	Batches int
	Clears  int
	Elapsed time.Duration
}

// Runner plays scenarios into a sink.
type Runner struct {
	sink   Sink
	opts   RunnerOptions
	logger *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(sink Sink, opts RunnerOptions) *Runner {
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{sink: sink, opts: opts, logger: logger.With("component", "replay")}
}

// Run plays sc step by step, honouring delays, until done or ctx ends.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (Result, error) {
	var res Result
	start := time.Now()

	for i, st := range sc.Steps {
		if err := r.wait(ctx, st.Delay()); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}

		if st.Clear {
			if err := r.sink.Clear(ctx); err != nil {
				return res, fmt.Errorf("step %d: clear: %w", i+1, err)
			}
			res.Clears++
		}

		b, err := st.Batch()
		if err != nil {
			return res, fmt.Errorf("step %d: %w", i+1, err)
		}
		if !b.Empty() {
			if err := r.sink.Send(ctx, b); err != nil {
				return res, fmt.Errorf("step %d: send: %w", i+1, err)
			}
			res.Batches++
		}

		res.Steps++
		r.logger.Debug("step delivered", "step", i+1, "note", st.Note,
			"added", len(b.Added), "updated", len(b.Updated), "removed", len(b.Removed), "clear", st.Clear)
		if r.opts.OnStep != nil {
			r.opts.OnStep(i, st)
		}
	}

	res.Elapsed = time.Since(start)
	r.logger.Info("scenario finished", "name", sc.Name, "steps", res.Steps, "elapsed", res.Elapsed)
	return res, nil
}

func (r *Runner) wait(ctx context.Context, d time.Duration) error {
	d = time.Duration(float64(d) / r.opts.Speed)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
