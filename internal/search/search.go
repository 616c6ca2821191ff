package search

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	BoardID     string `json:"boardId"`
	Status      string `json:"status"`
	Visibility  string `json:"visibility"`
}

// Query describes a card search request. BoardIDs scopes the results to
// boards the requester can see; an empty list matches nothing.
type Query struct {
	Text     string
	BoardIDs []string
	Limit    int
	Offset   int
}

// Result is a single search hit.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	BoardID string `json:"boardId"`
	Status  string `json:"status"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a card search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
