package visit

import (
	"context"
	"fmt"
)

// QueueSummary returns the number of active visits waiting at each
// department queue, keyed by role.
func (s *Service) QueueSummary(ctx context.Context) (map[string]int, error) {
	counts, err := s.repo.CountActiveByStage(ctx)
	if err != nil {
		return nil, err
	}
	summary := make(map[string]int, len(stageByRole))
	for role, stage := range stageByRole {
		summary[role] = counts[stage]
	}
	return summary, nil
}

// QueueFor returns the visits currently waiting on the given role: active
// visits whose current stage is the role's stage and not yet completed.
// Visits failing the integrity check are excluded from the view and logged
// as data-integrity warnings rather than failing the whole queue. The
// returned total is adjusted only for exclusions on this page; corrupt rows
// outside the page still count, so the total is an upper bound until the
// bad rows are repaired.
func (s *Service) QueueFor(ctx context.Context, role string, limit, offset int) ([]*Visit, int, error) {
	stage, ok := StageForRole(role)
	if !ok {
		return nil, 0, fmt.Errorf("no queue for role %q", role)
	}

	visits, total, err := s.repo.ListByStage(ctx, stage, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	queue := make([]*Visit, 0, len(visits))
	for _, v := range visits {
		if err := v.CheckIntegrity(); err != nil {
			s.logger.Warn().
				Str("visit_id", v.ID.String()).
				Str("stage", string(stage)).
				Err(err).
				Msg("corrupt visit excluded from queue")
			total--
			continue
		}
		if v.StageStatusOf(stage) == StatusStageComplete {
			continue
		}
		queue = append(queue, v)
	}
	return queue, total, nil
}
