package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/libraryhq/library-backend/pkg/clock"
	"github.com/libraryhq/library-backend/pkg/logger"
)

type holdSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type sweptRecorder interface {
	AddSwept(n int64)
}

type HoldSweepJobParams struct {
	Logger  *logger.Logger
	Holds   holdSweeper
	Metrics sweptRecorder
	Clock   clock.Clock
}

// NewHoldSweepJob evicts holds that have aged past the live window. Counting
// already ignores them, so this only reclaims redis memory.
func NewHoldSweepJob(params HoldSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Holds == nil {
		return nil, fmt.Errorf("hold store required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &holdSweepJob{
		logg:    params.Logger,
		holds:   params.Holds,
		metrics: params.Metrics,
		clock:   clk,
	}, nil
}

type holdSweepJob struct {
	logg    *logger.Logger
	holds   holdSweeper
	metrics sweptRecorder
	clock   clock.Clock
}

func (j *holdSweepJob) Name() string { return "hold-sweep" }

func (j *holdSweepJob) Run(ctx context.Context) error {
	now := j.clock.Now().UTC()
	removed, err := j.holds.Sweep(ctx, now)
	if j.metrics != nil {
		j.metrics.AddSwept(removed)
	}
	if err != nil {
		return fmt.Errorf("hold sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"now":           now,
		"holds_removed": removed,
	})
	j.logg.Info(logCtx, "hold sweep complete")
	return nil
}
