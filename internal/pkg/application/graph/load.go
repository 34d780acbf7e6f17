package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/diwise/datacommons-client/pkg/datacommons/types"
	"gopkg.in/yaml.v2"
)

type fixtureFile struct {
	Nodes        map[string]nodeFixture                `yaml:"nodes"`
	Observations map[string]map[string][]seriesFixture `yaml:"observations"`
	Facets       map[string]facetFixture               `yaml:"facets"`
	Resolve      []resolveFixture                      `yaml:"resolve"`
	Queries      []queryFixture                        `yaml:"sparql"`
}

type nodeFixture struct {
	Arcs    map[string][]arcNodeFixture `yaml:"arcs"`
	Inbound map[string][]arcNodeFixture `yaml:"inbound"`
}

// arcNodeFixture is one linked node or terminal value on an arc. Values
// must be YAML scalars.
type arcNodeFixture struct {
	DCID         string   `yaml:"dcid"`
	Name         string   `yaml:"name"`
	Types        []string `yaml:"types"`
	Value        any      `yaml:"value"`
	ProvenanceID string   `yaml:"provenanceId"`
}

type seriesFixture struct {
	Facet  string         `yaml:"facet"`
	Points []pointFixture `yaml:"points"`
}

// pointFixture is one observation in a series. Points are listed in
// ascending date order.
type pointFixture struct {
	Date  string `yaml:"date"`
	Value any    `yaml:"value"`
}

type facetFixture struct {
	ImportName        string `yaml:"importName"`
	MeasurementMethod string `yaml:"measurementMethod"`
	ObservationPeriod string `yaml:"observationPeriod"`
	ProvenanceURL     string `yaml:"provenanceUrl"`
	Unit              string `yaml:"unit"`
}

type resolveFixture struct {
	Node       string             `yaml:"node"`
	Property   string             `yaml:"property"`
	Candidates []candidateFixture `yaml:"candidates"`
}

type candidateFixture struct {
	DCID         string `yaml:"dcid"`
	DominantType string `yaml:"dominantType"`
}

type queryFixture struct {
	Query  string     `yaml:"query"`
	Header []string   `yaml:"header"`
	Rows   [][]string `yaml:"rows"`
}

// Load reads YAML fixture data into a queryable store.
func Load(data io.Reader, options ...func(*Store)) (*Store, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture data: %s", err.Error())
	}

	file := fixtureFile{}

	err = yaml.Unmarshal(buf, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fixture data: %s", err.Error())
	}

	store := &Store{
		nodes:        map[string]nodeEntry{},
		observations: map[string]map[string][]types.FacetObservation{},
		facets:       map[string]types.Facet{},
		resolutions:  map[resolveKey][]types.Candidate{},
		queries:      map[string]types.SPARQLResponse{},
	}

	for _, option := range options {
		option(store)
	}

	for dcid, fixture := range file.Nodes {
		entry := nodeEntry{}

		if entry.arcs, err = wireArcs(fixture.Arcs); err != nil {
			return nil, fmt.Errorf("node %s: %s", dcid, err.Error())
		}

		if entry.inbound, err = wireArcs(fixture.Inbound); err != nil {
			return nil, fmt.Errorf("node %s: %s", dcid, err.Error())
		}

		store.nodes[dcid] = entry
	}

	for variable, entities := range file.Observations {
		byEntity := map[string][]types.FacetObservation{}

		for entity, series := range entities {
			facets := make([]types.FacetObservation, 0, len(series))

			for _, fixture := range series {
				facet, err := wireSeries(fixture)
				if err != nil {
					return nil, fmt.Errorf("observations of %s for %s: %s", variable, entity, err.Error())
				}

				facets = append(facets, facet)
			}

			byEntity[entity] = facets
		}

		store.observations[variable] = byEntity
	}

	for facetID, fixture := range file.Facets {
		store.facets[facetID] = types.Facet{
			ImportName:        fixture.ImportName,
			MeasurementMethod: fixture.MeasurementMethod,
			ObservationPeriod: fixture.ObservationPeriod,
			ProvenanceURL:     fixture.ProvenanceURL,
			Unit:              fixture.Unit,
		}
	}

	for _, fixture := range file.Resolve {
		candidates := make([]types.Candidate, 0, len(fixture.Candidates))

		for _, candidate := range fixture.Candidates {
			candidates = append(candidates, types.Candidate{
				DCID:         candidate.DCID,
				DominantType: candidate.DominantType,
			})
		}

		store.resolutions[resolveKey{node: fixture.Node, property: fixture.Property}] = candidates
	}

	for _, fixture := range file.Queries {
		rows := make([]types.SPARQLRow, 0, len(fixture.Rows))

		for _, row := range fixture.Rows {
			cells := make([]types.SPARQLCell, 0, len(row))
			for _, value := range row {
				cells = append(cells, types.SPARQLCell{Value: value})
			}

			rows = append(rows, types.SPARQLRow{Cells: cells})
		}

		store.queries[strings.TrimSpace(fixture.Query)] = types.SPARQLResponse{
			Header: fixture.Header,
			Rows:   rows,
		}
	}

	return store, nil
}

func wireArcs(fixtures map[string][]arcNodeFixture) (map[string][]types.Node, error) {
	arcs := map[string][]types.Node{}

	for label, group := range fixtures {
		nodes := make([]types.Node, 0, len(group))

		for _, fixture := range group {
			node, err := wireNode(fixture)
			if err != nil {
				return nil, fmt.Errorf("arc %s: %s", label, err.Error())
			}

			nodes = append(nodes, node)
		}

		arcs[label] = nodes
	}

	return arcs, nil
}

func wireNode(fixture arcNodeFixture) (types.Node, error) {
	node := types.Node{
		DCID:  fixture.DCID,
		Name:  fixture.Name,
		Types: fixture.Types,
	}

	if fixture.ProvenanceID != "" {
		node.ProvenanceID = types.ProvenanceID{fixture.ProvenanceID}
	}

	if fixture.Value != nil {
		raw, err := json.Marshal(fixture.Value)
		if err != nil {
			return node, fmt.Errorf("unsupported value: %s", err.Error())
		}

		node.Value = raw
	}

	return node, nil
}

func wireSeries(fixture seriesFixture) (types.FacetObservation, error) {
	facet := types.FacetObservation{
		FacetID:  fixture.Facet,
		ObsCount: len(fixture.Points),
	}

	for _, point := range fixture.Points {
		raw, err := json.Marshal(point.Value)
		if err != nil {
			return facet, fmt.Errorf("facet %s: unsupported value on %s: %s", fixture.Facet, point.Date, err.Error())
		}

		facet.Observations = append(facet.Observations, types.Observation{Date: point.Date, Value: raw})
	}

	if n := len(facet.Observations); n > 0 {
		facet.EarliestDate = facet.Observations[0].Date
		facet.LatestDate = facet.Observations[n-1].Date
	}

	return facet, nil
}
