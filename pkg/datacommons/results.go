package datacommons

import (
	"github.com/diwise/datacommons-client/pkg/datacommons/types"
)

type recordResult struct {
	record    *Record
	queryID   string
	partial   bool
	failures  []Failure
	nextToken string
}

func newRecordResult(record *Record, queryID string, partial bool, failures []Failure, nextToken string) recordResult {
	if record == nil {
		record = newRecord()
	}

	return recordResult{
		record:    record,
		queryID:   queryID,
		partial:   partial,
		failures:  failures,
		nextToken: nextToken,
	}
}

// Record returns the merged record behind this result.
func (r recordResult) Record() *Record { return r.record }

// QueryID returns the correlation id assigned to the query.
func (r recordResult) QueryID() string { return r.queryID }

// Partial reports whether any chunk of the query failed. The failed
// subsets are listed by Failures.
func (r recordResult) Partial() bool { return r.partial }

// Failures lists the key subsets that could not be fetched, each with
// the error that stopped it.
func (r recordResult) Failures() []Failure { return r.failures }

// NextToken returns the continuation token of the fetched page when
// the query ran in single page mode, empty otherwise.
func (r recordResult) NextToken() string { return r.nextToken }

func (r recordResult) Entities() []string                  { return r.record.Entities() }
func (r recordResult) EntityState(id string) State         { return r.record.EntityState(id) }
func (r recordResult) ByEntity(id string) EntityView       { return r.record.ByEntity(id) }
func (r recordResult) ByProperty(name string) PropertyView { return r.record.ByProperty(name) }
func (r recordResult) Warnings() []Warning                 { return r.record.Warnings() }

func (r recordResult) LatestObservation(entity, property string) (Observation, bool) {
	return r.record.LatestObservation(entity, property)
}

// NodeResult is the outcome of a node or property query.
type NodeResult struct {
	recordResult
}

func NewNodeResult(record *Record, queryID string, partial bool, failures []Failure, nextToken string) *NodeResult {
	return &NodeResult{newRecordResult(record, queryID, partial, failures, nextToken)}
}

// PropertyLabels returns the label set a labels-only query recorded
// for an entity.
func (r *NodeResult) PropertyLabels(entity string) []string {
	return r.record.PropertyLabels(entity)
}

// ObservationResult is the outcome of a statistical observation query.
type ObservationResult struct {
	recordResult
}

func NewObservationResult(record *Record, queryID string, partial bool, failures []Failure, nextToken string) *ObservationResult {
	return &ObservationResult{newRecordResult(record, queryID, partial, failures, nextToken)}
}

// Facet returns the metadata recorded for a facet id.
func (r *ObservationResult) Facet(id string) (types.Facet, bool) {
	return r.record.Facet(id)
}

// FacetIDs returns the ids of all facets the responses mentioned,
// sorted.
func (r *ObservationResult) FacetIDs() []string {
	return r.record.FacetIDs()
}

// ResolveResult is the outcome of an identifier resolution query.
type ResolveResult struct {
	recordResult
	property string
}

func NewResolveResult(record *Record, property, queryID string, partial bool, failures []Failure, nextToken string) *ResolveResult {
	return &ResolveResult{
		recordResult: newRecordResult(record, queryID, partial, failures, nextToken),
		property:     property,
	}
}

// Candidates returns the entities a node resolved to, in response
// order.
func (r *ResolveResult) Candidates(node string) []EntityRef {
	cell := r.record.ByEntity(node).Property(r.property)

	candidates := make([]EntityRef, 0, len(cell.Observations()))
	for _, o := range cell.Observations() {
		if ref, ok := o.Value.Entity(); ok {
			candidates = append(candidates, ref)
		}
	}

	return candidates
}

// DCIDs returns just the dcids a node resolved to, in response order.
func (r *ResolveResult) DCIDs(node string) []string {
	candidates := r.Candidates(node)

	dcids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		dcids = append(dcids, c.DCID)
	}

	return dcids
}

// SPARQLResult is the tabular outcome of a graph query: a header and
// rows of cells, no record.
type SPARQLResult struct {
	header  []string
	rows    [][]string
	queryID string
}

func NewSPARQLResult(header []string, rows [][]string, queryID string) *SPARQLResult {
	return &SPARQLResult{header: header, rows: rows, queryID: queryID}
}

func (r *SPARQLResult) Header() []string { return r.header }
func (r *SPARQLResult) Rows() [][]string { return r.rows }
func (r *SPARQLResult) QueryID() string  { return r.queryID }
