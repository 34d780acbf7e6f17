package types

import "encoding/json"

type ObservationRequest struct {
	Variable VariableSpec `json:"variable"`
	Entity   EntitySpec   `json:"entity"`
	Date     string       `json:"date,omitempty"`
	Select   []string     `json:"select"`
	Filter   *FacetFilter `json:"filter,omitempty"`
}

type VariableSpec struct {
	DCIDs []string `json:"dcids,omitempty"`
}

type EntitySpec struct {
	DCIDs      []string `json:"dcids,omitempty"`
	Expression string   `json:"expression,omitempty"`
}

type FacetFilter struct {
	Domains  []string `json:"domains,omitempty"`
	FacetIDs []string `json:"facetIds,omitempty"`
}

type ObservationResponse struct {
	ByVariable map[string]VariableObservation `json:"byVariable"`
	Facets     map[string]Facet               `json:"facets,omitempty"`

	// DuplicateEntities maps variable dcids to entity keys that occurred
	// more than once under that variable in this page.
	DuplicateEntities map[string][]string `json:"-"`
}

func (r *ObservationResponse) UnmarshalJSON(data []byte) error {
	type alias ObservationResponse
	if err := json.Unmarshal(data, (*alias)(r)); err != nil {
		return err
	}

	for name := range r.ByVariable {
		if dups := duplicateKeys(data, "byVariable", name, "byEntity"); len(dups) > 0 {
			if r.DuplicateEntities == nil {
				r.DuplicateEntities = map[string][]string{}
			}
			r.DuplicateEntities[name] = dups
		}
	}

	return nil
}

type VariableObservation struct {
	ByEntity map[string]EntityObservation `json:"byEntity"`
}

type EntityObservation struct {
	OrderedFacets []FacetObservation `json:"orderedFacets"`
}

// FacetObservation groups the observations one facet contributed for one
// entity and variable. The order of facets within an entity is the API's
// preference order.
type FacetObservation struct {
	FacetID      string        `json:"facetId"`
	EarliestDate string        `json:"earliestDate,omitempty"`
	LatestDate   string        `json:"latestDate,omitempty"`
	ObsCount     int           `json:"obsCount,omitempty"`
	Observations []Observation `json:"observations"`
}

type Observation struct {
	Date  string          `json:"date,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// HasValue reports whether the value key was present at all, including an
// explicit null.
func (o Observation) HasValue() bool {
	return len(o.Value) > 0
}

type Facet struct {
	ImportName        string `json:"importName,omitempty"`
	MeasurementMethod string `json:"measurementMethod,omitempty"`
	ObservationPeriod string `json:"observationPeriod,omitempty"`
	ProvenanceURL     string `json:"provenanceUrl,omitempty"`
	Unit              string `json:"unit,omitempty"`
}
