// Package graph holds the in memory knowledge graph fixture behind the
// stub API server. A Store answers the same queries as the hosted v2
// endpoints, from YAML fixtures instead of the real graph.
package graph

import (
	"encoding/base64"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/diwise/datacommons-client/pkg/datacommons/types"
)

type Store struct {
	nodes        map[string]nodeEntry
	observations map[string]map[string][]types.FacetObservation
	facets       map[string]types.Facet
	resolutions  map[resolveKey][]types.Candidate
	queries      map[string]types.SPARQLResponse

	pageSize int
}

type nodeEntry struct {
	arcs    map[string][]types.Node
	inbound map[string][]types.Node
}

type resolveKey struct {
	node     string
	property string
}

// PageSize makes node queries answer at most size nodes per page, with a
// continuation token for the rest. Zero disables pagination.
func PageSize(size int) func(*Store) {
	return func(s *Store) {
		s.pageSize = size
	}
}

// QueryNodes answers a node query for the given relation expression.
// Unknown nodes are left out of the response data. Known nodes without
// matching arcs appear with an empty payload.
func (s *Store) QueryNodes(nodes []string, expression, nextToken string) (*types.NodeResponse, error) {
	query, err := parseNodeExpression(expression)
	if err != nil {
		return nil, err
	}

	offset := 0
	if nextToken != "" {
		if offset, err = decodeToken(nextToken); err != nil {
			return nil, err
		}
	}

	if offset > len(nodes) {
		offset = len(nodes)
	}

	page := nodes[offset:]
	token := ""

	if s.pageSize > 0 && len(page) > s.pageSize {
		page = page[:s.pageSize]
		token = encodeToken(offset + s.pageSize)
	}

	response := &types.NodeResponse{Data: map[string]types.NodeData{}, NextToken: token}

	for _, dcid := range page {
		entry, found := s.nodes[dcid]
		if !found {
			continue
		}

		arcs := entry.arcs
		if query.inbound {
			arcs = entry.inbound
		}

		if query.labelsOnly {
			response.Data[dcid] = types.NodeData{Properties: labelsOf(arcs)}
			continue
		}

		data := types.NodeData{}

		for _, property := range query.properties {
			group, found := arcs[property]
			if !found {
				continue
			}

			if filtered := filterByType(group, query.constraint); len(filtered) > 0 {
				if data.Arcs == nil {
					data.Arcs = map[string]types.NodeGroup{}
				}
				data.Arcs[property] = types.NodeGroup{Nodes: filtered}
			}
		}

		response.Data[dcid] = data
	}

	return response, nil
}

// QueryObservations answers an observation query. Entities or variables
// without fixture data are left out of the response.
func (s *Store) QueryObservations(request types.ObservationRequest) *types.ObservationResponse {
	response := &types.ObservationResponse{ByVariable: map[string]types.VariableObservation{}}

	includeDate := slices.Contains(request.Select, "date")
	includeValue := slices.Contains(request.Select, "value")

	for _, variable := range request.Variable.DCIDs {
		byEntity := map[string]types.EntityObservation{}

		for _, entity := range request.Entity.DCIDs {
			series, found := s.observations[variable][entity]
			if !found {
				continue
			}

			facets := make([]types.FacetObservation, 0, len(series))

			for _, facet := range series {
				if !s.matchesFilter(facet.FacetID, request.Filter) {
					continue
				}

				selected := selectPoints(facet.Observations, request.Date)
				if len(selected) == 0 {
					continue
				}

				out := types.FacetObservation{
					FacetID:      facet.FacetID,
					EarliestDate: selected[0].Date,
					LatestDate:   selected[len(selected)-1].Date,
					ObsCount:     len(selected),
				}

				for _, point := range selected {
					o := types.Observation{}
					if includeDate {
						o.Date = point.Date
					}
					if includeValue {
						o.Value = point.Value
					}
					out.Observations = append(out.Observations, o)
				}

				facets = append(facets, out)

				if meta, found := s.facets[facet.FacetID]; found {
					if response.Facets == nil {
						response.Facets = map[string]types.Facet{}
					}
					response.Facets[facet.FacetID] = meta
				}
			}

			if len(facets) > 0 {
				byEntity[entity] = types.EntityObservation{OrderedFacets: facets}
			}
		}

		response.ByVariable[variable] = types.VariableObservation{ByEntity: byEntity}
	}

	return response
}

// ResolveNodes answers a resolve query. Nodes without a matching fixture
// are left out of the response.
func (s *Store) ResolveNodes(nodes []string, property string) *types.ResolveResponse {
	response := &types.ResolveResponse{Entities: make([]types.ResolvedEntity, 0, len(nodes))}

	for _, node := range nodes {
		candidates, found := s.resolutions[resolveKey{node: node, property: property}]
		if !found {
			continue
		}

		response.Entities = append(response.Entities, types.ResolvedEntity{
			Node:       node,
			Candidates: slices.Clone(candidates),
		})
	}

	return response
}

// QuerySPARQL answers a SPARQL query from the fixture table. Unknown
// queries yield an empty result.
func (s *Store) QuerySPARQL(query string) *types.SPARQLResponse {
	if response, found := s.queries[strings.TrimSpace(query)]; found {
		return &response
	}

	return &types.SPARQLResponse{Header: []string{}, Rows: []types.SPARQLRow{}}
}

// Counts reports the number of loaded fixtures per kind.
func (s *Store) Counts() map[string]int {
	return map[string]int{
		"nodes":       len(s.nodes),
		"variables":   len(s.observations),
		"facets":      len(s.facets),
		"resolutions": len(s.resolutions),
		"queries":     len(s.queries),
	}
}

type nodeQuery struct {
	inbound    bool
	labelsOnly bool
	constraint string
	properties []string
}

// parseNodeExpression splits a relation expression into direction,
// properties and an optional type constraint: "->name", "<-",
// "->[name, typeOf]" or "<-containedInPlace{typeOf:City}".
func parseNodeExpression(expression string) (nodeQuery, error) {
	query := nodeQuery{}

	rest, outbound := strings.CutPrefix(expression, "->")
	if !outbound {
		var inbound bool

		rest, inbound = strings.CutPrefix(expression, "<-")
		if !inbound {
			return query, fmt.Errorf("malformed relation expression %q", expression)
		}

		query.inbound = true
	}

	if brace := strings.IndexByte(rest, '{'); brace >= 0 {
		if !strings.HasSuffix(rest, "}") {
			return query, fmt.Errorf("malformed constraint in relation expression %q", expression)
		}

		query.constraint = rest[brace+1 : len(rest)-1]
		rest = rest[:brace]
	}

	if rest == "" {
		query.labelsOnly = true
		return query, nil
	}

	if strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]") {
		for _, property := range strings.Split(rest[1:len(rest)-1], ",") {
			if property = strings.TrimSpace(property); property != "" {
				query.properties = append(query.properties, property)
			}
		}

		return query, nil
	}

	query.properties = []string{rest}

	return query, nil
}

func filterByType(nodes []types.Node, constraint string) []types.Node {
	if constraint == "" {
		return nodes
	}

	key, value, found := strings.Cut(constraint, ":")
	if !found || key != "typeOf" {
		return nodes
	}

	filtered := make([]types.Node, 0, len(nodes))

	for _, node := range nodes {
		if slices.Contains(node.Types, value) {
			filtered = append(filtered, node)
		}
	}

	return filtered
}

func (s *Store) matchesFilter(facetID string, filter *types.FacetFilter) bool {
	if filter == nil {
		return true
	}

	if len(filter.FacetIDs) > 0 && !slices.Contains(filter.FacetIDs, facetID) {
		return false
	}

	if len(filter.Domains) > 0 {
		meta := s.facets[facetID]

		matched := false
		for _, domain := range filter.Domains {
			if strings.Contains(meta.ProvenanceURL, domain) {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	return true
}

// selectPoints picks the observations matching the requested date. Series
// are stored in ascending date order, so the last point answers LATEST.
func selectPoints(points []types.Observation, date string) []types.Observation {
	switch date {
	case "":
		return points
	case "LATEST":
		if len(points) == 0 {
			return nil
		}
		return points[len(points)-1:]
	default:
		selected := make([]types.Observation, 0, 1)
		for _, point := range points {
			if point.Date == date {
				selected = append(selected, point)
			}
		}
		return selected
	}
}

func labelsOf(arcs map[string][]types.Node) []string {
	labels := make([]string, 0, len(arcs))
	for label := range arcs {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	return labels
}

func encodeToken(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeToken(token string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("malformed page token %q", token)
	}

	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("malformed page token %q", token)
	}

	return offset, nil
}
