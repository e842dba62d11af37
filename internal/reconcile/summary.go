package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/velocityfibre/polelink/internal/model"
	"github.com/velocityfibre/polelink/internal/store"
)

// nextRunInterval is the naive estimate between scheduled runs.
const nextRunInterval = 24 * time.Hour

// Summary aggregates linking-rate metrics for dashboards. Read-only and
// safe to call concurrently with a run.
func Summary(ctx context.Context, st store.Store) (*model.LinkingStatusSummary, error) {
	links, err := st.ListAllLinks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "summary: list links")
	}

	total, err := st.CountApprovedPermissions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "summary: count permissions")
	}

	s := &model.LinkingStatusSummary{TotalPermissions: total}
	for _, l := range links {
		switch l.Status {
		case model.LinkingStatusLinked:
			s.LinkedCount++
		case model.LinkingStatusConflict:
			s.ConflictCount++
		case model.LinkingStatusDuplicatePole:
			s.DuplicateCount++
		}
	}
	s.PendingCount = total - s.LinkedCount - s.ConflictCount - s.DuplicateCount

	if total > 0 {
		s.LinkingRate = float64(s.LinkedCount) / float64(total) * 100
		s.ConflictRate = float64(s.ConflictCount) / float64(total) * 100
	}

	reports, err := st.ListRecentReports(ctx, 1)
	if err != nil {
		return nil, eris.Wrap(err, "summary: last report")
	}
	if len(reports) > 0 {
		last := reports[0].ProcessedAt
		next := last.Add(nextRunInterval)
		s.LastReconciledAt = &last
		s.NextRunAt = &next
	}

	return s, nil
}
