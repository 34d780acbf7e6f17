// Package types holds the wire level request and response shapes of the
// Data Commons v2 API. The structs mirror the JSON one to one; all
// interpretation (states, merging, warnings) happens in the datacommons
// package.
package types

import (
	"bytes"
	"encoding/json"
)

// ProvenanceID accepts both forms the API uses: a single string and a
// list of strings.
type ProvenanceID []string

func (p *ProvenanceID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = ProvenanceID{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}

	*p = ProvenanceID(many)
	return nil
}

func (p ProvenanceID) MarshalJSON() ([]byte, error) {
	if len(p) == 1 {
		return json.Marshal(p[0])
	}

	return json.Marshal([]string(p))
}

// First returns the primary provenance id, or an empty string.
func (p ProvenanceID) First() string {
	if len(p) > 0 {
		return p[0]
	}

	return ""
}
