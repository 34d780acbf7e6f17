package types

import "encoding/json"

type NodeRequest struct {
	Nodes     []string `json:"nodes"`
	Property  string   `json:"property"`
	NextToken string   `json:"nextToken,omitempty"`
}

type NodeResponse struct {
	Data      map[string]NodeData `json:"data"`
	NextToken string              `json:"nextToken,omitempty"`

	// DuplicateNodes lists dcids that occurred more than once as keys in
	// the data object of this page. Plain decoding keeps the last value.
	DuplicateNodes []string `json:"-"`
}

func (r *NodeResponse) UnmarshalJSON(data []byte) error {
	type alias NodeResponse
	if err := json.Unmarshal(data, (*alias)(r)); err != nil {
		return err
	}

	r.DuplicateNodes = duplicateKeys(data, "data")

	return nil
}

// NodeData is the per node payload: arcs when values were requested,
// properties when only labels were requested.
type NodeData struct {
	Arcs       map[string]NodeGroup `json:"arcs,omitempty"`
	Properties []string             `json:"properties,omitempty"`
}

type NodeGroup struct {
	Nodes []Node `json:"nodes"`
}

type Node struct {
	DCID         string          `json:"dcid,omitempty"`
	Name         string          `json:"name,omitempty"`
	ProvenanceID ProvenanceID    `json:"provenanceId,omitempty"`
	Types        []string        `json:"types,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
}

// HasValue reports whether the value key was present at all, including an
// explicit null.
func (n Node) HasValue() bool {
	return len(n.Value) > 0
}
