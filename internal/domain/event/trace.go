package event

import "time"

// Filter controls which trail events are returned.
type Filter struct {
	RequestID string     `json:"request_id,omitempty"`
	Types     []Type     `json:"types,omitempty"`
	Agent     string     `json:"agent,omitempty"`
	After     *time.Time `json:"after,omitempty"`
	Before    *time.Time `json:"before,omitempty"`
}

// Match reports whether e passes the filter.
func (f Filter) Match(e PipelineEvent) bool {
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.After != nil && !e.CreatedAt.After(*f.After) {
		return false
	}
	if f.Before != nil && !e.CreatedAt.Before(*f.Before) {
		return false
	}
	return true
}

// Page is a cursor-paginated slice of a request's trail.
type Page struct {
	Events  []PipelineEvent `json:"events"`
	Cursor  string          `json:"cursor"`
	HasMore bool            `json:"has_more"`
	Total   int             `json:"total"`
}
