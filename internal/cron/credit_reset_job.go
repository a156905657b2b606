package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/codequesthq/codequest-backend/internal/credits"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

// CreditResetJobParams configures the monthly credit reset job.
type CreditResetJobParams struct {
	Logger  *logger.Logger
	Credits credits.Service
	Now     func() time.Time
}

// NewCreditResetJob builds the job that refreshes credit allotments for
// accounts whose last reset predates the current period.
func NewCreditResetJob(params CreditResetJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &creditResetJob{
		logg:    params.Logger,
		credits: params.Credits,
		now:     now,
	}, nil
}

type creditResetJob struct {
	logg    *logger.Logger
	credits credits.Service
	now     func() time.Time
}

func (j *creditResetJob) Name() string { return "credit-reset" }

// Run resets every account due for the current calendar month. Per-user
// failures are reported in the aggregate error; the batch never stops early
// for one bad account.
func (j *creditResetJob) Run(ctx context.Context) error {
	periodStart := monthStart(j.now().UTC())
	outcomes, err := j.credits.RunMonthlyReset(ctx, periodStart)

	failed := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	ctx = j.logg.WithFields(ctx, map[string]any{
		"accounts_processed": len(outcomes),
		"accounts_failed":    failed,
		"period_start":       periodStart.Format(time.RFC3339),
	})
	if err != nil {
		j.logg.Error(ctx, "credit reset finished with failures", err)
		return err
	}
	j.logg.Info(ctx, "credit reset complete")
	return nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
