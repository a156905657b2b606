package credits

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

const resetBatchLimit = 500

// RunMonthlyReset refreshes every account whose last reset predates
// periodStart. Each user is processed independently: one failure never aborts
// the batch, and the aggregate error carries every per-user failure for the
// caller to judge.
func (s *service) RunMonthlyReset(ctx context.Context, periodStart time.Time) ([]ResetOutcome, error) {
	accounts, err := s.repo.ListAccountsDueForReset(ctx, periodStart, resetBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list accounts due for reset: %w", err)
	}

	outcomes := make([]ResetOutcome, 0, len(accounts))
	var combined error
	for _, account := range accounts {
		if ctx.Err() != nil {
			return outcomes, multierr.Append(combined, ctx.Err())
		}

		_, refreshErr := s.RefreshForNewPeriod(ctx, account.UserID)
		outcomes = append(outcomes, ResetOutcome{UserID: account.UserID, Err: refreshErr})
		if refreshErr != nil {
			userCtx := s.logg.WithUserID(ctx, account.UserID.String())
			s.logg.Error(userCtx, "monthly credit reset failed for user", refreshErr)
			combined = multierr.Append(combined, fmt.Errorf("user %s: %w", account.UserID, refreshErr))
		}
	}
	return outcomes, combined
}
