package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultGoal       ResultType = "goal"
	ResultReport     ResultType = "report"
	ResultTransition ResultType = "transition"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	GoalID  string     `json:"goalId,omitempty"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterStatus string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexGoal(g GoalRecord) error
	IndexReport(r ReportRecord) error
	IndexTransition(t TransitionRecord) error
	DeleteGoal(id string) error
}

// GoalRecord is the data we index for a goal.
type GoalRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	CreatedVia string `json:"createdVia"`
}

// ReportRecord is the data we index for a report.
type ReportRecord struct {
	ID        string `json:"id"`
	DisplayID string `json:"displayId"`
	Status    string `json:"status"`
}

// TransitionRecord is the data we index for a status ledger entry; the
// free-text reason is what makes the audit trail searchable.
type TransitionRecord struct {
	ID        string `json:"id"`
	GoalID    string `json:"goalId"`
	Reason    string `json:"reason"`
	NewStatus string `json:"newStatus"`
}
