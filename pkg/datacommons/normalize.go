package datacommons

import (
	"fmt"
	"slices"
	"sort"

	"github.com/diwise/datacommons-client/pkg/datacommons/types"
)

// NormalizeNodePage folds one node endpoint page into a Record.
// entities is the requested id set for the page's chunk and properties
// the requested property grid (nil when the request used a free form
// expression or asked for labels only). Requested entities the page
// does not mention become UnknownEntity, requested properties missing
// on a known entity become NoData cells.
func NormalizeNodePage(entities, properties []string, page *types.NodeResponse) *Record {
	r := newRecord()

	if page == nil {
		page = &types.NodeResponse{}
	}

	for _, dup := range page.DuplicateNodes {
		r.warn(dup, "duplicate entity key in response page, kept the last occurrence")
	}

	for dcid, data := range page.Data {
		e := r.ensureEntity(dcid, NoData)

		for label, group := range data.Arcs {
			cell := e.ensureCell(label, NoData)

			for _, n := range group.Nodes {
				value, ok := nodeValue(n)
				if !ok {
					r.warn(dcid, fmt.Sprintf("node under %q has neither dcid nor value", label))
					continue
				}

				cell.observations = append(cell.observations, Observation{Value: value})
				cell.state = joinState(cell.state, HasData)
			}

			e.state = joinState(e.state, cell.state)
		}

		if len(data.Properties) > 0 {
			e.labels = dedupeSorted(data.Properties)
			e.state = joinState(e.state, HasData)
		}
	}

	synthesizeRequested(r, entities, properties)

	return r
}

// NormalizeObservationPage folds one observation endpoint page into a
// Record. Cells are keyed by variable. entities carries the requested
// entity list, nil for expression based requests, which cannot
// synthesize unknown or no-data states because their requested
// universe is open.
func NormalizeObservationPage(variables, entities []string, page *types.ObservationResponse) *Record {
	r := newRecord()

	if page == nil {
		page = &types.ObservationResponse{}
	}

	for variable, dups := range page.DuplicateEntities {
		for _, dup := range dups {
			r.warn(dup, fmt.Sprintf("duplicate entity key under variable %q, kept the last occurrence", variable))
		}
	}

	for variable, byVariable := range page.ByVariable {
		for entity, byEntity := range byVariable.ByEntity {
			e := r.ensureEntity(entity, NoData)
			cell := e.ensureCell(variable, NoData)

			for _, facet := range byEntity.OrderedFacets {
				if facet.FacetID != "" && !slices.Contains(cell.facetOrder, facet.FacetID) {
					cell.facetOrder = append(cell.facetOrder, facet.FacetID)
				}

				for _, obs := range facet.Observations {
					tuple := Observation{Date: obs.Date, FacetID: facet.FacetID}
					if obs.HasValue() {
						tuple.Value = valueFromRaw(obs.Value)
					}

					cell.observations = append(cell.observations, tuple)
					cell.state = joinState(cell.state, HasData)
				}
			}

			e.state = joinState(e.state, cell.state)
		}
	}

	for id, facet := range page.Facets {
		if _, exists := r.facets[id]; !exists {
			r.facets[id] = facet
		}
	}

	if len(entities) > 0 {
		synthesizeRequested(r, entities, variables)
	}

	return r
}

// NormalizeResolvePage folds one resolve endpoint page into a Record.
// Cells are keyed by the resolve property expression; candidates are
// recorded as entity values with the dominant type attached. Requested
// nodes the page does not mention become UnknownEntity, nodes with an
// empty candidate list stay NoData.
func NormalizeResolvePage(nodes []string, property string, page *types.ResolveResponse) *Record {
	r := newRecord()

	if page == nil {
		page = &types.ResolveResponse{}
	}

	for _, entity := range page.Entities {
		e := r.ensureEntity(entity.Node, NoData)
		cell := e.ensureCell(property, NoData)

		for _, candidate := range entity.Candidates {
			if candidate.DCID == "" {
				r.warn(entity.Node, "resolve candidate without dcid")
				continue
			}

			ref := EntityRef{DCID: candidate.DCID}
			if candidate.DominantType != "" {
				ref.Types = []string{candidate.DominantType}
			}

			cell.observations = append(cell.observations, Observation{Value: EntityValue(ref)})
			cell.state = joinState(cell.state, HasData)
		}

		e.state = joinState(e.state, cell.state)
	}

	synthesizeRequested(r, nodes, []string{property})

	return r
}

// synthesizeRequested backfills the requested grid: entities the page
// never mentioned become UnknownEntity, and every requested property
// gets a cell so absence of data is recorded, not implied.
func synthesizeRequested(r *Record, entities, properties []string) {
	for _, id := range entities {
		e := r.ensureEntity(id, UnknownEntity)

		cellState := NoData
		if e.state == UnknownEntity {
			cellState = UnknownEntity
		}

		for _, property := range properties {
			e.ensureCell(property, cellState)
		}
	}
}

func nodeValue(n types.Node) (Value, bool) {
	if n.DCID != "" {
		return EntityValue(EntityRef{
			DCID:       n.DCID,
			Name:       n.Name,
			Types:      n.Types,
			Provenance: n.ProvenanceID,
		}), true
	}

	if !n.HasValue() {
		return Value{}, false
	}

	return valueFromRaw(n.Value), true
}

func dedupeSorted(values []string) []string {
	out := slices.Clone(values)
	sort.Strings(out)
	return slices.Compact(out)
}
