// Package client implements the Data Commons v2 API client. Identifier
// sets are deduplicated, chunked and fetched concurrently, responses are
// normalized into records, and transient failures are retried with
// exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/diwise/datacommons-client/pkg/datacommons"
	"github.com/diwise/datacommons-client/pkg/datacommons/auth"
	"github.com/diwise/datacommons-client/pkg/datacommons/dispatch"
	"github.com/diwise/datacommons-client/pkg/datacommons/errors"
	"github.com/diwise/datacommons-client/pkg/datacommons/retry"
	"github.com/diwise/datacommons-client/pkg/datacommons/transport"
	"github.com/diwise/datacommons-client/pkg/datacommons/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:generate moq -rm -out ../../test/datacommonsclient_mock.go . Client

type Client interface {
	// FetchNodes queries arcs for the given nodes using a raw relation
	// expression such as "->name" or "<-containedInPlace{typeOf:City}".
	FetchNodes(ctx context.Context, nodes []string, expression string, options ...FetchOption) (*datacommons.NodeResult, error)
	// FetchPropertyValues queries the values of the given properties,
	// building the relation expression from the property names.
	FetchPropertyValues(ctx context.Context, nodes, properties []string, options ...FetchOption) (*datacommons.NodeResult, error)
	// FetchPropertyLabels queries which properties the given nodes have,
	// without fetching any values.
	FetchPropertyLabels(ctx context.Context, nodes []string, options ...FetchOption) (*datacommons.NodeResult, error)
	// FetchObservations queries statistical observations.
	FetchObservations(ctx context.Context, query ObservationQuery) (*datacommons.ObservationResult, error)
	// Resolve maps external identifiers (descriptions, coordinates,
	// foreign ids) to dcids via the given relation expression.
	Resolve(ctx context.Context, nodes []string, property string) (*datacommons.ResolveResult, error)
	// Query runs a SPARQL query against the knowledge graph.
	Query(ctx context.Context, query string) (*datacommons.SPARQLResult, error)
}

const (
	TraceAttributeQueryID string = "query-id"
)

var tracer = otel.Tracer("datacommons-client")

// Option configures the client returned by New.
type Option func(*dcClient)

func Credentials(credentials auth.Credentials) Option {
	return func(c *dcClient) {
		c.credentials = credentials
	}
}

func Debug(enabled string) Option {
	return func(c *dcClient) {
		c.debug = (enabled == "true")
	}
}

func UserAgent(userAgent string) Option {
	return func(c *dcClient) {
		c.userAgent = userAgent
	}
}

// Requester replaces the HTTP transport, mainly so tests and embedders
// can route requests elsewhere. Credentials, RequestsPerSecond, UserAgent
// and Debug only apply to the default transport.
func Requester(requester transport.Requester) Option {
	return func(c *dcClient) {
		c.requester = requester
	}
}

// RequestsPerSecond caps the sustained request rate across all queries
// made through this client.
func RequestsPerSecond(limit float64) Option {
	return func(c *dcClient) {
		c.requestsPerSecond = limit
	}
}

// MaxBatchSize caps how many identifiers are sent in a single request.
func MaxBatchSize(size int) Option {
	return func(c *dcClient) {
		c.dispatchConfig.MaxBatchSize = size
	}
}

// MaxPages caps how many pages are followed per chunk.
func MaxPages(pages int) Option {
	return func(c *dcClient) {
		c.dispatchConfig.MaxPages = pages
	}
}

// ConcurrencyLimit caps how many chunks are fetched in parallel.
func ConcurrencyLimit(limit int) Option {
	return func(c *dcClient) {
		c.dispatchConfig.ConcurrencyLimit = limit
	}
}

// MaxRetries sets how many times a failed request is retried before the
// failure is reported.
func MaxRetries(retries int) Option {
	return func(c *dcClient) {
		c.retryPolicy.MaxRetries = retries
	}
}

func BaseDelay(d time.Duration) Option {
	return func(c *dcClient) {
		c.retryPolicy.BaseDelay = d
	}
}

func MaxDelay(d time.Duration) Option {
	return func(c *dcClient) {
		c.retryPolicy.MaxDelay = d
	}
}

// New creates a client against the given API base URL, e.g.
// "https://api.datacommons.org".
func New(apiURL string, options ...Option) Client {
	c := &dcClient{
		apiURL:         strings.TrimSuffix(apiURL, "/"),
		dispatchConfig: dispatch.DefaultConfig(),
		retryPolicy:    retry.DefaultPolicy(),
	}

	for _, option := range options {
		option(c)
	}

	if c.requester == nil {
		topts := []transport.Option{}

		if c.credentials != nil {
			topts = append(topts, transport.Credentials(c.credentials))
		}

		if c.requestsPerSecond > 0 {
			topts = append(topts, transport.RequestsPerSecond(c.requestsPerSecond))
		}

		if c.userAgent != "" {
			topts = append(topts, transport.UserAgent(c.userAgent))
		}

		if c.debug {
			topts = append(topts, transport.Debug("true"))
		}

		c.requester = transport.New(c.apiURL, topts...)
	}

	return c
}

type dcClient struct {
	apiURL            string
	requester         transport.Requester
	credentials       auth.Credentials
	requestsPerSecond float64
	userAgent         string
	debug             bool

	dispatchConfig dispatch.Config
	retryPolicy    retry.Policy
}

func (c dcClient) FetchNodes(ctx context.Context, nodes []string, expression string, options ...FetchOption) (*datacommons.NodeResult, error) {
	var err error

	queryID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "fetch-nodes", trace.WithAttributes(attribute.String(TraceAttributeQueryID, queryID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if len(nodes) == 0 {
		err = errors.NewInvalidQuery("at least one node is required")
		return nil, err
	}

	if strings.TrimSpace(expression) == "" {
		err = errors.NewInvalidQuery("a relation expression is required")
		return nil, err
	}

	result, err := c.fetchNodes(ctx, queryID, nodes, expression, nil, newFetchParams(options...))
	return result, err
}

func (c dcClient) FetchPropertyValues(ctx context.Context, nodes, properties []string, options ...FetchOption) (*datacommons.NodeResult, error) {
	var err error

	queryID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "fetch-property-values", trace.WithAttributes(attribute.String(TraceAttributeQueryID, queryID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if len(nodes) == 0 {
		err = errors.NewInvalidQuery("at least one node is required")
		return nil, err
	}

	if len(properties) == 0 {
		err = errors.NewInvalidQuery("at least one property is required")
		return nil, err
	}

	params := newFetchParams(options...)
	expression := propertyExpression(properties, params.inbound, params.constraint)

	result, err := c.fetchNodes(ctx, queryID, nodes, expression, canonicalize(properties), params)
	return result, err
}

func (c dcClient) FetchPropertyLabels(ctx context.Context, nodes []string, options ...FetchOption) (*datacommons.NodeResult, error) {
	var err error

	queryID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "fetch-property-labels", trace.WithAttributes(attribute.String(TraceAttributeQueryID, queryID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if len(nodes) == 0 {
		err = errors.NewInvalidQuery("at least one node is required")
		return nil, err
	}

	params := newFetchParams(options...)

	result, err := c.fetchNodes(ctx, queryID, nodes, direction(params.inbound), nil, params)
	return result, err
}

func (c dcClient) FetchObservations(ctx context.Context, query ObservationQuery) (*datacommons.ObservationResult, error) {
	var err error

	queryID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "fetch-observations", trace.WithAttributes(attribute.String(TraceAttributeQueryID, queryID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	query, err = query.normalized()
	if err != nil {
		return nil, err
	}

	variables := canonicalize(query.Variables)
	entities := canonicalize(query.Entities)

	plan := dispatch.Plan[*datacommons.Record]{
		Keys: entities,
		Fetch: func(ctx context.Context, keys []string, _ string) (*datacommons.Record, string, error) {
			request := types.ObservationRequest{
				Variable: types.VariableSpec{DCIDs: variables},
				Date:     wireDate(query.Date),
				Select:   query.Select,
			}

			if query.EntityExpression != "" {
				request.Entity = types.EntitySpec{Expression: query.EntityExpression}
			} else {
				request.Entity = types.EntitySpec{DCIDs: keys}
			}

			if len(query.FacetIDs) > 0 || len(query.Domains) > 0 {
				request.Filter = &types.FacetFilter{
					Domains:  query.Domains,
					FacetIDs: query.FacetIDs,
				}
			}

			var page types.ObservationResponse
			if err := c.callAPI(ctx, "/v2/observation", request, &page); err != nil {
				return nil, "", err
			}

			return datacommons.NormalizeObservationPage(variables, keys, &page), "", nil
		},
		Merge: datacommons.Merge,
	}

	outcome, err := dispatch.Run(ctx, c.dispatchConfig, plan)
	if err != nil {
		return nil, err
	}

	failures := asFailures(outcome.Failures)
	logPartialResult(ctx, queryID, failures)

	return datacommons.NewObservationResult(outcome.Value, queryID, outcome.Partial, failures, ""), nil
}

func (c dcClient) Resolve(ctx context.Context, nodes []string, property string) (*datacommons.ResolveResult, error) {
	var err error

	queryID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "resolve-entities", trace.WithAttributes(attribute.String(TraceAttributeQueryID, queryID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if len(nodes) == 0 {
		err = errors.NewInvalidQuery("at least one node is required")
		return nil, err
	}

	if strings.TrimSpace(property) == "" {
		err = errors.NewInvalidQuery("a relation expression is required")
		return nil, err
	}

	canonical := canonicalize(nodes)

	plan := dispatch.Plan[*datacommons.Record]{
		Keys: canonical,
		Fetch: func(ctx context.Context, keys []string, pageToken string) (*datacommons.Record, string, error) {
			request := types.ResolveRequest{Nodes: keys, Property: property, NextToken: pageToken}

			var page types.ResolveResponse
			if err := c.callAPI(ctx, "/v2/resolve", request, &page); err != nil {
				return nil, "", err
			}

			return datacommons.NormalizeResolvePage(keys, property, &page), page.NextToken, nil
		},
		Merge: datacommons.Merge,
	}

	outcome, err := dispatch.Run(ctx, c.dispatchConfig, plan)
	if err != nil {
		return nil, err
	}

	failures := asFailures(outcome.Failures)
	logPartialResult(ctx, queryID, failures)

	return datacommons.NewResolveResult(outcome.Value, property, queryID, outcome.Partial, failures, ""), nil
}

func (c dcClient) Query(ctx context.Context, query string) (*datacommons.SPARQLResult, error) {
	var err error

	queryID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "sparql-query", trace.WithAttributes(attribute.String(TraceAttributeQueryID, queryID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if strings.TrimSpace(query) == "" {
		err = errors.NewInvalidQuery("a sparql query is required")
		return nil, err
	}

	var page types.SPARQLResponse
	if err = c.callAPI(ctx, "/v2/sparql", types.SPARQLRequest{Query: query}, &page); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(page.Rows))
	for _, row := range page.Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			cells = append(cells, cell.Value)
		}
		rows = append(rows, cells)
	}

	return datacommons.NewSPARQLResult(page.Header, rows, queryID), nil
}

// fetchNodes drives the /v2/node endpoint. grid lists the properties that
// were explicitly requested, so absent ones can be reported as no data.
func (c dcClient) fetchNodes(ctx context.Context, queryID string, nodes []string, expression string, grid []string, params fetchParams) (*datacommons.NodeResult, error) {
	canonical := canonicalize(nodes)

	if params.singlePage {
		return c.fetchNodesSinglePage(ctx, queryID, canonical, expression, grid, params.pageToken)
	}

	plan := dispatch.Plan[*datacommons.Record]{
		Keys: canonical,
		Fetch: func(ctx context.Context, keys []string, pageToken string) (*datacommons.Record, string, error) {
			request := types.NodeRequest{Nodes: keys, Property: expression, NextToken: pageToken}

			var page types.NodeResponse
			if err := c.callAPI(ctx, "/v2/node", request, &page); err != nil {
				return nil, "", err
			}

			return datacommons.NormalizeNodePage(keys, grid, &page), page.NextToken, nil
		},
		Merge: datacommons.Merge,
	}

	outcome, err := dispatch.Run(ctx, c.dispatchConfig, plan)
	if err != nil {
		return nil, err
	}

	failures := asFailures(outcome.Failures)
	logPartialResult(ctx, queryID, failures)

	return datacommons.NewNodeResult(outcome.Value, queryID, outcome.Partial, failures, ""), nil
}

func (c dcClient) fetchNodesSinglePage(ctx context.Context, queryID string, nodes []string, expression string, grid []string, pageToken string) (*datacommons.NodeResult, error) {
	limit := c.dispatchConfig.MaxBatchSize
	if limit <= 0 {
		limit = dispatch.DefaultConfig().MaxBatchSize
	}

	if len(nodes) > limit {
		return nil, errors.NewInvalidQuery(fmt.Sprintf("single page queries accept at most %d nodes", limit))
	}

	request := types.NodeRequest{Nodes: nodes, Property: expression, NextToken: pageToken}

	var page types.NodeResponse
	if err := c.callAPI(ctx, "/v2/node", request, &page); err != nil {
		return nil, err
	}

	record := datacommons.NormalizeNodePage(nodes, grid, &page)

	return datacommons.NewNodeResult(record, queryID, false, nil, page.NextToken), nil
}

// callAPI posts one payload, retrying transient failures, and decodes the
// response body into out.
func (c dcClient) callAPI(ctx context.Context, path string, payload, out any) error {
	response, err := retry.Do(ctx, c.retryPolicy, func(ctx context.Context) (*transport.Response, error) {
		response, err := c.requester.Send(ctx, http.MethodPost, path, payload, nil)
		if err != nil {
			return nil, err
		}

		if response.StatusCode >= http.StatusBadRequest {
			return nil, errors.NewErrorFromAPIResponse(response.StatusCode, response.Header, response.Body)
		}

		return response, nil
	})
	if err != nil {
		return err
	}

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrInternal)
	}

	if err := json.Unmarshal(response.Body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

func asFailures(failures []dispatch.Failure) []datacommons.Failure {
	if len(failures) == 0 {
		return nil
	}

	converted := make([]datacommons.Failure, 0, len(failures))
	for _, f := range failures {
		converted = append(converted, datacommons.Failure{Keys: f.Keys, Err: f.Err})
	}

	return converted
}

func logPartialResult(ctx context.Context, queryID string, failures []datacommons.Failure) {
	if len(failures) == 0 {
		return
	}

	log := logging.GetFromContext(ctx)
	log.Warn("query returned a partial result", "query_id", queryID, "failed_chunks", len(failures), "err", failures[0].Err.Error())
}
