package datacommons

import (
	"slices"
	"sort"
)

func (r *Record) buildIndex() {
	r.index.once.Do(func() {
		byProperty := map[string][]string{}
		latest := map[cellKey]Observation{}

		for id, e := range r.entities {
			for property, cell := range e.cells {
				byProperty[property] = append(byProperty[property], id)

				if best, ok := latestOf(cell); ok {
					latest[cellKey{entity: id, property: property}] = best
				}
			}
		}

		for property := range byProperty {
			sort.Strings(byProperty[property])
		}

		r.index.byProperty = byProperty
		r.index.latest = latest
	})
}

// latestOf picks the most recent observation of a cell. Dates compare
// lexically (ISO dates sort chronologically, undated tuples lose to
// dated ones). Among equal dates the facet ranking earlier in the
// cell's preference order wins, unranked facets fall back to the first
// tuple seen.
func latestOf(cell *Cell) (Observation, bool) {
	if len(cell.observations) == 0 {
		return Observation{}, false
	}

	rank := func(facetID string) int {
		for i, id := range cell.facetOrder {
			if id == facetID {
				return i
			}
		}
		return len(cell.facetOrder)
	}

	best := cell.observations[0]

	for _, o := range cell.observations[1:] {
		if o.Date > best.Date {
			best = o
			continue
		}
		if o.Date == best.Date && rank(o.FacetID) < rank(best.FacetID) {
			best = o
		}
	}

	return best, true
}

// ByEntity returns a read-only view over everything recorded for one
// entity.
func (r *Record) ByEntity(id string) EntityView {
	return EntityView{id: id, record: r}
}

// ByProperty returns a read-only view over every entity that has a
// cell for the property.
func (r *Record) ByProperty(name string) PropertyView {
	return PropertyView{name: name, record: r}
}

// LatestObservation returns the most recent observation for an
// (entity, property) cell, using the tie-break documented on latestOf.
// The index is built on first access and cached for the life of the
// record.
func (r *Record) LatestObservation(entity, property string) (Observation, bool) {
	r.buildIndex()
	o, ok := r.index.latest[cellKey{entity: entity, property: property}]
	return o, ok
}

type EntityView struct {
	id     string
	record *Record
}

func (v EntityView) ID() string { return v.id }

func (v EntityView) State() State {
	return v.record.EntityState(v.id)
}

// Property returns the cell recorded for the named property. Unknown
// combinations report a NotFetched cell.
func (v EntityView) Property(name string) Cell {
	if e, ok := v.record.entities[v.id]; ok {
		if cell, ok := e.cells[name]; ok {
			return *cell
		}
	}
	return Cell{}
}

// Properties returns the names of the entity's cells, sorted.
func (v EntityView) Properties() []string {
	e, ok := v.record.entities[v.id]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(e.cells))
	for name := range e.cells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PropertyLabels returns the label set recorded by a labels-only fetch.
func (v EntityView) PropertyLabels() []string {
	return v.record.PropertyLabels(v.id)
}

type PropertyView struct {
	name   string
	record *Record
}

func (v PropertyView) Name() string { return v.name }

// Entities returns the ids of every entity holding a cell for this
// property, sorted.
func (v PropertyView) Entities() []string {
	v.record.buildIndex()
	return slices.Clone(v.record.index.byProperty[v.name])
}

// Cell returns the cell this property holds for an entity.
func (v PropertyView) Cell(entity string) Cell {
	return v.record.ByEntity(entity).Property(v.name)
}
