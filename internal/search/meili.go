package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxGoals       = "compass_goals"
	idxReports     = "compass_reports"
	idxTransitions = "compass_transitions"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The service
// runs degraded (Postgres FTS only) while Meilisearch is unreachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxGoals,
			filterable: []string{"status", "createdVia"},
			searchable: []string{"name"},
		},
		{
			uid:        idxReports,
			filterable: []string{"status"},
			searchable: []string{"displayId"},
		},
		{
			uid:        idxTransitions,
			filterable: []string{"newStatus", "goalId"},
			searchable: []string{"reason"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxGoals, ResultGoal},
		{idxReports, ResultReport},
		{idxTransitions, ResultTransition},
	}

	var queries []*meili.SearchRequest
	for _, target := range targets {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              target.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.FilterStatus != "" {
			field := "status"
			if target.rtyp == ResultTransition {
				field = "newStatus"
			}
			sr.Filter = []string{fmt.Sprintf("%s = %q", field, q.FilterStatus)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxGoals:
		return ResultGoal
	case idxReports:
		return ResultReport
	case idxTransitions:
		return ResultTransition
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.GoalID = decodeString(hit, "goalId")

	switch rtyp {
	case ResultGoal:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Status = decodeString(hit, "status")
		r.GoalID = r.ID
	case ResultReport:
		r.Title = firstNonBlank(decodeFormattedString(hit, "displayId"), decodeString(hit, "displayId"))
		r.Status = decodeString(hit, "status")
	case ResultTransition:
		r.Title = decodeString(hit, "newStatus")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "reason"), decodeString(hit, "reason"))
		r.Status = decodeString(hit, "newStatus")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexGoal adds or updates a goal in the search index.
func (m *Meili) IndexGoal(g GoalRecord) error {
	_, err := m.client.Index(idxGoals).AddDocuments([]GoalRecord{g}, nil)
	return err
}

// IndexReport adds or updates a report in the search index.
func (m *Meili) IndexReport(r ReportRecord) error {
	_, err := m.client.Index(idxReports).AddDocuments([]ReportRecord{r}, nil)
	return err
}

// IndexTransition adds a ledger entry to the search index. Entries are
// append-only, so there is no update or delete path.
func (m *Meili) IndexTransition(t TransitionRecord) error {
	_, err := m.client.Index(idxTransitions).AddDocuments([]TransitionRecord{t}, nil)
	return err
}

// DeleteGoal removes a soft-deleted goal from the search index.
func (m *Meili) DeleteGoal(id string) error {
	_, err := m.client.Index(idxGoals).DeleteDocument(id, nil)
	return err
}

// IndexGoals bulk-indexes goals.
func (m *Meili) IndexGoals(goals []GoalRecord) error {
	if len(goals) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGoals).AddDocuments(goals, nil)
	return err
}

// IndexReports bulk-indexes reports.
func (m *Meili) IndexReports(reports []ReportRecord) error {
	if len(reports) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReports).AddDocuments(reports, nil)
	return err
}

// IndexTransitions bulk-indexes ledger entries.
func (m *Meili) IndexTransitions(transitions []TransitionRecord) error {
	if len(transitions) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTransitions).AddDocuments(transitions, nil)
	return err
}
