package types

type ResolveRequest struct {
	Nodes     []string `json:"nodes"`
	Property  string   `json:"property"`
	NextToken string   `json:"nextToken,omitempty"`
}

type ResolveResponse struct {
	Entities  []ResolvedEntity `json:"entities"`
	NextToken string           `json:"nextToken,omitempty"`
}

type ResolvedEntity struct {
	Node       string      `json:"node"`
	Candidates []Candidate `json:"candidates"`
}

type Candidate struct {
	DCID         string `json:"dcid"`
	DominantType string `json:"dominantType,omitempty"`
}
