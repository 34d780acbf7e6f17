package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diwise/datacommons-client/pkg/datacommons"
	dcerrors "github.com/diwise/datacommons-client/pkg/datacommons/errors"
	"github.com/diwise/datacommons-client/pkg/datacommons/transport"
	"github.com/diwise/datacommons-client/pkg/datacommons/types"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"

	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var anyInput = expects.AnyInput
var method = expects.RequestMethod
var path = expects.RequestPath
var body = expects.RequestBody

func TestFetchPropertyValuesBuildsTheExpression(t *testing.T) {
	is := is.New(t)

	expected, _ := json.Marshal(types.NodeRequest{Nodes: []string{"geoId/06"}, Property: "->name"})

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/v2/node"),
			body(string(expected)),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{"geoId/06":{"arcs":{"name":{"nodes":[{"value":"California"}]}}}}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	result, err := c.FetchPropertyValues(context.Background(), []string{"geoId/06"}, []string{"name"})

	is.NoErr(err)
	is.Equal(s.RequestCount(), 1)
	is.True(result.QueryID() != "")
	is.Equal(result.EntityState("geoId/06"), datacommons.HasData)

	o, ok := result.LatestObservation("geoId/06", "name")
	is.True(ok)

	name, ok := o.Value.Text()
	is.True(ok)
	is.Equal(name, "California")
}

func TestPropertyExpressions(t *testing.T) {
	is := is.New(t)

	is.Equal(propertyExpression([]string{"name"}, false, ""), "->name")
	is.Equal(propertyExpression([]string{"name", "typeOf"}, false, ""), "->[name, typeOf]")
	is.Equal(propertyExpression([]string{"containedInPlace"}, true, "typeOf:City"), "<-containedInPlace{typeOf:City}")
	is.Equal(direction(false), "->")
	is.Equal(direction(true), "<-")
}

func TestFetchNodesMarksEntitiesMissingFromTheResponse(t *testing.T) {
	is := is.New(t)

	expected, _ := json.Marshal(types.NodeRequest{Nodes: []string{"geoId/06", "geoId/99999"}, Property: "->name"})

	s := testutils.NewMockServiceThat(
		Expects(is, body(string(expected))),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{"geoId/06":{"arcs":{"name":{"nodes":[{"value":"California"}]}}}}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	result, err := c.FetchPropertyValues(context.Background(), []string{"geoId/99999", "geoId/06"}, []string{"name"})

	is.NoErr(err)
	is.True(!result.Partial())
	is.Equal(result.EntityState("geoId/06"), datacommons.HasData)
	is.Equal(result.EntityState("geoId/99999"), datacommons.UnknownEntity)
	is.Equal(result.ByEntity("geoId/99999").Property("name").State(), datacommons.UnknownEntity)
}

func TestFetchNodesChunksLargeIdentifierSets(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{}}`)),
		),
	)
	defer s.Close()

	nodes := make([]string, 0, 250)
	for i := range 250 {
		nodes = append(nodes, fmt.Sprintf("node-%03d", i))
	}

	c := New(s.URL(), MaxBatchSize(100), ConcurrencyLimit(1))

	result, err := c.FetchNodes(context.Background(), nodes, "->name")

	is.NoErr(err)
	is.Equal(s.RequestCount(), 3) // ceil(250 / 100)
	is.Equal(len(result.Entities()), 250)
	is.Equal(result.EntityState("node-000"), datacommons.UnknownEntity)
}

func TestFetchObservationsRetriesRateLimitedRequests(t *testing.T) {
	is := is.New(t)

	var calls atomic.Int32

	requester := transport.RequesterFunc(func(_ context.Context, _, _ string, _ any, _ map[string][]string) (*transport.Response, error) {
		if calls.Add(1) < 3 {
			return &transport.Response{StatusCode: http.StatusTooManyRequests}, nil
		}

		return &transport.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"byVariable":{"Count_Person":{"byEntity":{"geoId/06":{"orderedFacets":[{"facetId":"f1","observations":[{"date":"2023","value":39}]}]}}}}}`),
		}, nil
	})

	c := New("http://example.com", Requester(requester), MaxRetries(3), BaseDelay(time.Millisecond), MaxDelay(5*time.Millisecond))

	result, err := c.FetchObservations(context.Background(), ObservationQuery{
		Variables: []string{"Count_Person"},
		Entities:  []string{"geoId/06"},
	})

	is.NoErr(err)
	is.Equal(calls.Load(), int32(3))
	is.True(!result.Partial())

	o, ok := result.LatestObservation("geoId/06", "Count_Person")
	is.True(ok)
	is.Equal(o.Date, "2023")
}

func TestFetchNodesKeepsSiblingChunksWhenOneFails(t *testing.T) {
	is := is.New(t)

	requester := transport.RequesterFunc(func(_ context.Context, _, _ string, payload any, _ map[string][]string) (*transport.Response, error) {
		request, ok := payload.(types.NodeRequest)
		is.True(ok)

		if request.Nodes[0] == "geoId/48" {
			return &transport.Response{
				StatusCode: http.StatusNotFound,
				Body:       []byte(`{"error":{"code":404,"message":"no such node","status":"NOT_FOUND"}}`),
			}, nil
		}

		return &transport.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"data":{"geoId/06":{"arcs":{"name":{"nodes":[{"value":"California"}]}}}}}`),
		}, nil
	})

	c := New("http://example.com", Requester(requester), MaxBatchSize(1), ConcurrencyLimit(1))

	result, err := c.FetchPropertyValues(context.Background(), []string{"geoId/48", "geoId/06"}, []string{"name"})

	is.NoErr(err)
	is.True(result.Partial())
	is.Equal(len(result.Failures()), 1)
	is.Equal(result.Failures()[0].Keys, []string{"geoId/48"})
	is.True(stderrors.Is(result.Failures()[0].Err, dcerrors.ErrNotFound))
	is.Equal(result.EntityState("geoId/06"), datacommons.HasData)
}

func TestFetchNodesReturnsAnErrorWhenAllChunksFail(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusBadRequest),
			response.Body([]byte(`{"error":{"code":400,"message":"malformed expression","status":"INVALID_ARGUMENT"}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	_, err := c.FetchNodes(context.Background(), []string{"geoId/06"}, "->name")

	is.True(err != nil)
	is.True(stderrors.Is(err, dcerrors.ErrBadRequest))
}

func TestFetchNodesValidatesInput(t *testing.T) {
	is := is.New(t)

	calls := atomic.Int32{}
	c := New("http://example.com", Requester(countingRequester(&calls)))

	_, err := c.FetchNodes(context.Background(), nil, "->name")
	is.True(dcerrors.IsInvalidQuery(err))

	_, err = c.FetchNodes(context.Background(), []string{"geoId/06"}, " ")
	is.True(dcerrors.IsInvalidQuery(err))

	_, err = c.FetchPropertyValues(context.Background(), []string{"geoId/06"}, nil)
	is.True(dcerrors.IsInvalidQuery(err))

	_, err = c.FetchPropertyLabels(context.Background(), nil)
	is.True(dcerrors.IsInvalidQuery(err))

	_, err = c.Resolve(context.Background(), nil, "<-description->dcid")
	is.True(dcerrors.IsInvalidQuery(err))

	_, err = c.Resolve(context.Background(), []string{"California"}, "")
	is.True(dcerrors.IsInvalidQuery(err))

	_, err = c.Query(context.Background(), " ")
	is.True(dcerrors.IsInvalidQuery(err))

	is.Equal(calls.Load(), int32(0)) // invalid queries should never reach the API
}

func TestFetchObservationsValidatesQueries(t *testing.T) {
	is := is.New(t)

	calls := atomic.Int32{}
	c := New("http://example.com", Requester(countingRequester(&calls)))

	for _, query := range []ObservationQuery{
		{Entities: []string{"geoId/06"}},
		{Variables: []string{"Count_Person"}},
		{Variables: []string{"Count_Person"}, Entities: []string{"geoId/06"}, EntityExpression: "geoId/06<-containedInPlace+"},
		{Variables: []string{"Count_Person"}, Entities: []string{"geoId/06"}, Select: []string{"date", "value"}},
		{Variables: []string{"Count_Person"}, Entities: []string{"geoId/06"}, Select: []string{"entity", "variable", "bogus"}},
	} {
		_, err := c.FetchObservations(context.Background(), query)
		is.True(dcerrors.IsInvalidQuery(err)) // malformed queries should be rejected
	}

	is.Equal(calls.Load(), int32(0))
}

func TestFetchObservationsSendsTheWireQuery(t *testing.T) {
	is := is.New(t)

	expected, _ := json.Marshal(types.ObservationRequest{
		Variable: types.VariableSpec{DCIDs: []string{"Count_Person"}},
		Entity:   types.EntitySpec{DCIDs: []string{"geoId/06"}},
		Date:     "2023",
		Select:   []string{"date", "entity", "value", "variable"},
		Filter:   &types.FacetFilter{Domains: []string{"census.gov"}},
	})

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/v2/observation"),
			body(string(expected)),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"byVariable":{"Count_Person":{"byEntity":{}}}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	_, err := c.FetchObservations(context.Background(), ObservationQuery{
		Variables: []string{"Count_Person"},
		Entities:  []string{"geoId/06"},
		Date:      "2023",
		Domains:   []string{"census.gov"},
	})

	is.NoErr(err)
	is.Equal(s.RequestCount(), 1)
}

func TestFetchObservationsMapsDateMarkers(t *testing.T) {
	is := is.New(t)

	var dates []string

	requester := transport.RequesterFunc(func(_ context.Context, _, _ string, payload any, _ map[string][]string) (*transport.Response, error) {
		request, ok := payload.(types.ObservationRequest)
		is.True(ok)

		dates = append(dates, request.Date)

		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"byVariable":{}}`)}, nil
	})

	c := New("http://example.com", Requester(requester))

	for _, date := range []string{"", DateLatest, DateAll, "2020-06"} {
		_, err := c.FetchObservations(context.Background(), ObservationQuery{
			Variables: []string{"Count_Person"},
			Entities:  []string{"geoId/06"},
			Date:      date,
		})
		is.NoErr(err)
	}

	is.Equal(dates, []string{"LATEST", "LATEST", "", "2020-06"})
}

func TestFetchObservationsWithAnEntityExpressionMakesOneCall(t *testing.T) {
	is := is.New(t)

	var calls atomic.Int32

	requester := transport.RequesterFunc(func(_ context.Context, _, _ string, payload any, _ map[string][]string) (*transport.Response, error) {
		calls.Add(1)

		request, ok := payload.(types.ObservationRequest)
		is.True(ok)
		is.Equal(request.Entity.Expression, "geoId/06<-containedInPlace+{typeOf:County}")
		is.Equal(len(request.Entity.DCIDs), 0)

		return &transport.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"byVariable":{"Count_Person":{"byEntity":{"geoId/06001":{"orderedFacets":[]}}}}}`),
		}, nil
	})

	c := New("http://example.com", Requester(requester))

	result, err := c.FetchObservations(context.Background(), ObservationQuery{
		Variables:        []string{"Count_Person"},
		EntityExpression: "geoId/06<-containedInPlace+{typeOf:County}",
	})

	is.NoErr(err)
	is.Equal(calls.Load(), int32(1))
	is.Equal(result.EntityState("geoId/06001"), datacommons.NoData)
}

func TestFetchNodesSinglePageSurfacesTheToken(t *testing.T) {
	is := is.New(t)

	var tokens []string

	requester := transport.RequesterFunc(func(_ context.Context, _, _ string, payload any, _ map[string][]string) (*transport.Response, error) {
		request, ok := payload.(types.NodeRequest)
		is.True(ok)

		tokens = append(tokens, request.NextToken)

		if request.NextToken == "" {
			return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"data":{},"nextToken":"page-2"}`)}, nil
		}

		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"data":{}}`)}, nil
	})

	c := New("http://example.com", Requester(requester))

	first, err := c.FetchPropertyLabels(context.Background(), []string{"geoId/06"}, FirstPageOnly())
	is.NoErr(err)
	is.Equal(first.NextToken(), "page-2")

	second, err := c.FetchPropertyLabels(context.Background(), []string{"geoId/06"}, ResumeFrom(first.NextToken()))
	is.NoErr(err)
	is.Equal(second.NextToken(), "")

	is.Equal(tokens, []string{"", "page-2"})
}

func TestSinglePageFetchesRequireASingleChunk(t *testing.T) {
	is := is.New(t)

	calls := atomic.Int32{}
	c := New("http://example.com", Requester(countingRequester(&calls)), MaxBatchSize(1))

	_, err := c.FetchNodes(context.Background(), []string{"geoId/06", "geoId/48"}, "->name", FirstPageOnly())

	is.True(dcerrors.IsInvalidQuery(err))
	is.Equal(calls.Load(), int32(0))
}

func TestResolveFollowsContinuationTokens(t *testing.T) {
	is := is.New(t)

	requester := transport.RequesterFunc(func(_ context.Context, _, endpoint string, payload any, _ map[string][]string) (*transport.Response, error) {
		is.Equal(endpoint, "/v2/resolve")

		request, ok := payload.(types.ResolveRequest)
		is.True(ok)

		if request.NextToken == "" {
			return &transport.Response{
				StatusCode: http.StatusOK,
				Body:       []byte(`{"entities":[{"node":"California","candidates":[{"dcid":"geoId/06","dominantType":"State"}]}],"nextToken":"more"}`),
			}, nil
		}

		return &transport.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"entities":[{"node":"California","candidates":[{"dcid":"undata-geo:G00003400"}]}]}`),
		}, nil
	})

	c := New("http://example.com", Requester(requester))

	result, err := c.Resolve(context.Background(), []string{"California"}, "<-description->dcid")

	is.NoErr(err)
	is.Equal(result.DCIDs("California"), []string{"geoId/06", "undata-geo:G00003400"})

	candidates := result.Candidates("California")
	is.Equal(len(candidates), 2)
	is.Equal(candidates[0].Types, []string{"State"})
}

func TestQueryRunsSPARQL(t *testing.T) {
	is := is.New(t)

	query := "SELECT ?name WHERE { ?specimen typeOf BiologicalSpecimen . ?specimen name ?name } LIMIT 2"

	expected, _ := json.Marshal(types.SPARQLRequest{Query: query})

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/v2/sparql"),
			body(string(expected)),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"header":["?name"],"rows":[{"cells":[{"value":"x mendocino"}]},{"cells":[{"value":"x intermedia"}]}]}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	result, err := c.Query(context.Background(), query)

	is.NoErr(err)
	is.True(result.QueryID() != "")
	is.Equal(result.Header(), []string{"?name"})
	is.Equal(result.Rows(), [][]string{{"x mendocino"}, {"x intermedia"}})
}

func TestQueryReportsUnexpectedResponseCodes(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusNoContent)),
	)
	defer s.Close()

	c := New(s.URL())

	_, err := c.Query(context.Background(), "SELECT ?x WHERE {}")

	is.True(err != nil)
	is.Equal(err.Error(), "unexpected response code 204 (internal error)")
}

func countingRequester(calls *atomic.Int32) transport.RequesterFunc {
	return func(_ context.Context, _, _ string, _ any, _ map[string][]string) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
	}
}
