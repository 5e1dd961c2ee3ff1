package snapshot

import (
	"context"
	"log"

	"compass/api/internal/store"
)

// mergeDecision is the plan for collapsing one duplicate group onto its
// primary (lowest-id) row.
type mergeDecision struct {
	primaryID int64
	status    string
	source    *string
	extraIDs  []int64
}

// planMerge decides how a duplicate group collapses. The group arrives
// ordered oldest (lowest id) first. Status: the shared value when the group
// agrees, otherwise the oldest row wins. Source: the first non-null value in
// id order.
func planMerge(group []store.ReportGoalLink) (mergeDecision, bool) {
	if len(group) < 2 {
		return mergeDecision{}, false
	}
	primary := group[0]

	decision := mergeDecision{
		primaryID: primary.ID,
		status:    primary.Status,
	}
	for _, link := range group {
		if decision.source == nil && link.Source != nil {
			decision.source = link.Source
		}
	}
	for _, link := range group[1:] {
		decision.extraIDs = append(decision.extraIDs, link.ID)
	}
	return decision, true
}

// ReconcileDuplicateLinks repairs every (report, goal) pair holding more
// than one link row. Safe to run repeatedly: a second run finds no groups.
// Groups under an approved report are left alone; the sealed snapshot keeps
// its duplicates rather than being rewritten. Returns the number of groups
// merged.
func (s *Service) ReconcileDuplicateLinks(ctx context.Context) (int, error) {
	groups, err := s.store.ListDuplicateLinkGroups(ctx)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, group := range groups {
		decision, ok := planMerge(group)
		if !ok {
			continue
		}
		approved, err := s.store.IsReportApproved(ctx, group[0].ReportID)
		if err != nil {
			return merged, err
		}
		if approved {
			log.Printf(`{"event":"link_reconcile_skipped","report_id":"%s","goal_id":"%s","reason":"report approved"}`,
				group[0].ReportID, group[0].GoalID)
			continue
		}
		if err := s.store.MergeLinkGroup(ctx, decision.primaryID, decision.status, decision.source, decision.extraIDs); err != nil {
			return merged, err
		}
		merged++
	}
	if merged > 0 {
		log.Printf(`{"event":"link_reconcile","groups_merged":%d}`, merged)
	}
	return merged, nil
}
