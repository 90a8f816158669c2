package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/libraryhq/library-backend/pkg/clock"
	"github.com/libraryhq/library-backend/pkg/logger"
)

type overdueMarker interface {
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

type ReservationOverdueJobParams struct {
	Logger       *logger.Logger
	Reservations overdueMarker
	Clock        clock.Clock
}

func NewReservationOverdueJob(params ReservationOverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations service required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &reservationOverdueJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		clock:        clk,
	}, nil
}

type reservationOverdueJob struct {
	logg         *logger.Logger
	reservations overdueMarker
	clock        clock.Clock
}

func (j *reservationOverdueJob) Name() string { return "reservation-overdue" }

func (j *reservationOverdueJob) Run(ctx context.Context) error {
	now := j.clock.Now().UTC()
	marked, err := j.reservations.MarkOverdue(ctx, now)
	if err != nil {
		return fmt.Errorf("reservation overdue: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"now":          now,
		"rows_updated": marked,
	})
	j.logg.Info(logCtx, "reservation overdue pass complete")
	return nil
}
