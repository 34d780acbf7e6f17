package datacommons

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"

	"github.com/diwise/datacommons-client/pkg/datacommons/types"
)

// Observation is one recorded tuple for a cell: an optional date, the
// value and the id of the facet (source) that produced it. Tuples can
// be partial, a missing date or facet id does not invalidate them.
type Observation struct {
	Date    string `json:"date,omitempty"`
	Value   Value  `json:"value"`
	FacetID string `json:"facetId,omitempty"`
}

func (o Observation) equal(other Observation) bool {
	return o.Date == other.Date && o.FacetID == other.FacetID && o.Value.equal(other.Value)
}

// Cell holds everything recorded for one (entity, property) pair. The
// zero Cell reports NotFetched.
type Cell struct {
	state        State
	observations []Observation
	facetOrder   []string
}

func (c Cell) State() State { return c.state }

// Observations returns the recorded tuples in arrival order. The
// returned slice is read-only.
func (c Cell) Observations() []Observation { return c.observations }

type entityRecord struct {
	state  State
	cells  map[string]*Cell
	labels []string
}

func (e *entityRecord) ensureCell(property string, s State) *Cell {
	cell, ok := e.cells[property]
	if !ok {
		cell = &Cell{}
		e.cells[property] = cell
	}
	cell.state = joinState(cell.state, s)
	return cell
}

// Record is the canonical normalized shape: entity → property → cell,
// with facet metadata keyed record-level by facet id. Records are
// immutable once handed to a result; Merge builds a new Record and
// never touches its inputs.
type Record struct {
	entities map[string]*entityRecord
	facets   map[string]types.Facet
	warnings []Warning

	index recordIndex
}

func newRecord() *Record {
	return &Record{
		entities: map[string]*entityRecord{},
		facets:   map[string]types.Facet{},
	}
}

func (r *Record) ensureEntity(id string, s State) *entityRecord {
	e, ok := r.entities[id]
	if !ok {
		e = &entityRecord{cells: map[string]*Cell{}}
		r.entities[id] = e
	}
	e.state = joinState(e.state, s)
	return e
}

func (r *Record) warn(entity, detail string) {
	r.warnings = append(r.warnings, Warning{Entity: entity, Detail: detail})
}

// Entities returns the ids the record knows about, sorted.
func (r *Record) Entities() []string {
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntityState reports what the responses said about an entity. Ids the
// record has never seen report NotFetched.
func (r *Record) EntityState(id string) State {
	if e, ok := r.entities[id]; ok {
		return e.state
	}
	return NotFetched
}

// PropertyLabels returns the property label set recorded for an entity
// by a labels-only fetch, sorted.
func (r *Record) PropertyLabels(entity string) []string {
	if e, ok := r.entities[entity]; ok {
		return slices.Clone(e.labels)
	}
	return nil
}

// Facet returns the metadata recorded for a facet id.
func (r *Record) Facet(id string) (types.Facet, bool) {
	f, ok := r.facets[id]
	return f, ok
}

// FacetIDs returns the ids of all recorded facets, sorted.
func (r *Record) FacetIDs() []string {
	ids := make([]string, 0, len(r.facets))
	for id := range r.facets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Warnings returns the oddities normalization absorbed, sorted.
func (r *Record) Warnings() []Warning {
	warnings := slices.Clone(r.warnings)
	sortWarnings(warnings)
	return warnings
}

func sortWarnings(warnings []Warning) {
	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].Entity != warnings[j].Entity {
			return warnings[i].Entity < warnings[j].Entity
		}
		return warnings[i].Detail < warnings[j].Detail
	})
}

// Merge folds two records into a new one. States join by precedence,
// observation lists union with exact duplicates suppressed, facet
// metadata unions by id and warnings union. Merge commutes for records
// covering disjoint entities and is idempotent, so chunk results can
// be folded in any order.
func Merge(a, b *Record) *Record {
	out := newRecord()
	out.absorb(a)
	out.absorb(b)
	return out
}

func (r *Record) absorb(src *Record) {
	if src == nil {
		return
	}

	for id, se := range src.entities {
		e := r.ensureEntity(id, se.state)

		for property, sc := range se.cells {
			cell := e.ensureCell(property, sc.state)

			for _, facetID := range sc.facetOrder {
				if !slices.Contains(cell.facetOrder, facetID) {
					cell.facetOrder = append(cell.facetOrder, facetID)
				}
			}

			for _, obs := range sc.observations {
				if !containsObservation(cell.observations, obs) {
					cell.observations = append(cell.observations, obs)
				}
			}
		}

		for _, label := range se.labels {
			if !slices.Contains(e.labels, label) {
				e.labels = append(e.labels, label)
			}
		}
		sort.Strings(e.labels)
	}

	for id, f := range src.facets {
		if _, exists := r.facets[id]; !exists {
			r.facets[id] = f
		}
	}

	for _, w := range src.warnings {
		if !slices.Contains(r.warnings, w) {
			r.warnings = append(r.warnings, w)
		}
	}
}

func containsObservation(observations []Observation, o Observation) bool {
	for _, existing := range observations {
		if existing.equal(o) {
			return true
		}
	}
	return false
}

// MarshalJSON renders the record deterministically: map keys sort,
// warnings sort, observations keep arrival order.
func (r *Record) MarshalJSON() ([]byte, error) {
	type cellJSON struct {
		State        State         `json:"state"`
		Observations []Observation `json:"observations,omitempty"`
	}

	type entityJSON struct {
		State      State               `json:"state"`
		Properties map[string]cellJSON `json:"properties,omitempty"`
		Labels     []string            `json:"labels,omitempty"`
	}

	entities := make(map[string]entityJSON, len(r.entities))

	for id, e := range r.entities {
		properties := make(map[string]cellJSON, len(e.cells))
		for property, cell := range e.cells {
			properties[property] = cellJSON{State: cell.state, Observations: cell.observations}
		}

		entities[id] = entityJSON{State: e.state, Properties: properties, Labels: e.labels}
	}

	return json.Marshal(struct {
		Entities map[string]entityJSON  `json:"entities"`
		Facets   map[string]types.Facet `json:"facets,omitempty"`
		Warnings []Warning              `json:"warnings,omitempty"`
	}{
		Entities: entities,
		Facets:   r.facets,
		Warnings: r.Warnings(),
	})
}

type cellKey struct {
	entity   string
	property string
}

type recordIndex struct {
	once       sync.Once
	byProperty map[string][]string
	latest     map[cellKey]Observation
}
