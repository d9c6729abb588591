package model

// FetchMessage is the wire format of a serialized fetch request. Depth is
// the remaining recursion budget; ToIgnore carries the traversal's visited
// set so re-enqueued children do not loop back.
type FetchMessage struct {
	Object   string   `json:"object"`
	Token    string   `json:"token,omitempty"`
	Depth    int      `json:"depth"`
	ToIgnore []string `json:"to_ignore,omitempty"`
}

// CountMessage asks the count worker to recompute one derived count.
// UseCount selects the provider-supplied official count over a recount from
// stored relations.
type CountMessage struct {
	Object    string `json:"object"`
	CountType string `json:"count_type"`
	UseCount  bool   `json:"use_count"`
}
