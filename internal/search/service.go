package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexGoal indexes a goal (fire-and-forget to Meilisearch).
func (s *Service) IndexGoal(g GoalRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGoal(g); err != nil {
			log.Printf("search: index goal %s: %v", g.ID, err)
		}
	}()
}

// IndexReport indexes a report (fire-and-forget to Meilisearch).
func (s *Service) IndexReport(r ReportRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReport(r); err != nil {
			log.Printf("search: index report %s: %v", r.ID, err)
		}
	}()
}

// IndexTransition indexes a ledger entry (fire-and-forget to Meilisearch).
func (s *Service) IndexTransition(t TransitionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTransition(t); err != nil {
			log.Printf("search: index transition %s: %v", t.ID, err)
		}
	}()
}

// DeleteGoal removes a goal from the search index (fire-and-forget).
func (s *Service) DeleteGoal(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteGoal(id); err != nil {
			log.Printf("search: delete goal %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called during bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	goals, reports, transitions, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexGoals(goals); err != nil {
		log.Printf("search: reindex goals: %v", err)
	}
	if err := s.meili.IndexReports(reports); err != nil {
		log.Printf("search: reindex reports: %v", err)
	}
	if err := s.meili.IndexTransitions(transitions); err != nil {
		log.Printf("search: reindex transitions: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
