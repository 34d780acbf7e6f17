package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/diwise/datacommons-client/pkg/datacommons/transport"
	"github.com/diwise/datacommons-client/pkg/datacommons/types"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/response"

	"github.com/matryer/is"
)

func TestFetchEntityNamesReadsTheNameProperty(t *testing.T) {
	is := is.New(t)

	expected, _ := json.Marshal(types.NodeRequest{Nodes: []string{"geoId/04", "geoId/06"}, Property: "->name"})

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

	names, err := FetchEntityNames(context.Background(), c, []string{"geoId/06", "geoId/04"})

	is.NoErr(err)
	is.Equal(names["geoId/06"], EntityName{Value: "California", Language: "en", Property: "name"})

	_, found := names["geoId/04"] // nothing was returned for this entity
	is.True(!found)
}

func TestFetchEntityNamesPicksTheRequestedLanguage(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{"geoId/06":{"arcs":{"nameWithLanguage":{"nodes":[{"value":"California@en"},{"value":"Kalifornien@sv"}]}}},"geoId/48":{"arcs":{"nameWithLanguage":{"nodes":[{"value":"Texas@en"}]}}}}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	names, err := FetchEntityNames(context.Background(), c, []string{"geoId/06", "geoId/48"}, InLanguage("sv"))

	is.NoErr(err)
	is.Equal(names["geoId/06"], EntityName{Value: "Kalifornien", Language: "sv", Property: "nameWithLanguage"})

	_, found := names["geoId/48"] // no Swedish name and no fallback requested
	is.True(!found)
}

func TestFetchEntityNamesFallsBackToEnglish(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{"geoId/48":{"arcs":{"nameWithLanguage":{"nodes":[{"value":"Texas@en"}]}}}}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	names, err := FetchEntityNames(context.Background(), c, []string{"geoId/48"}, InLanguage("sv"), WithEnglishFallback())

	is.NoErr(err)
	is.Equal(names["geoId/48"], EntityName{Value: "Texas", Language: "en", Property: "nameWithLanguage"})
}

func TestFetchEntityParentsReturnsLinkedParents(t *testing.T) {
	is := is.New(t)

	expected, _ := json.Marshal(types.NodeRequest{Nodes: []string{"geoId/06085"}, Property: "->containedInPlace"})

	s := testutils.NewMockServiceThat(
		Expects(is, body(string(expected))),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{"geoId/06085":{"arcs":{"containedInPlace":{"nodes":[{"dcid":"geoId/06","name":"California","types":["State"]}]}}}}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	parents, err := FetchEntityParents(context.Background(), c, []string{"geoId/06085"})

	is.NoErr(err)
	is.Equal(parents["geoId/06085"], []Parent{{DCID: "geoId/06", Name: "California", Types: []string{"State"}}})
}

func TestFetchAllClassesQueriesInboundTypeOf(t *testing.T) {
	is := is.New(t)

	expected, _ := json.Marshal(types.NodeRequest{Nodes: []string{"Class"}, Property: "<-typeOf"})

	s := testutils.NewMockServiceThat(
		Expects(is, body(string(expected))),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{"Class":{"arcs":{"typeOf":{"nodes":[{"dcid":"Place","name":"Place"},{"dcid":"Person","name":"Person"}]}}}}}`)),
		),
	)
	defer s.Close()

	c := New(s.URL())

	result, err := FetchAllClasses(context.Background(), c)

	is.NoErr(err)

	observations := result.ByEntity("Class").Property("typeOf").Observations()
	is.Equal(len(observations), 2)

	ref, ok := observations[0].Value.Entity()
	is.True(ok)
	is.Equal(ref.DCID, "Place")
}

func TestResolveHelpersBuildExpressions(t *testing.T) {
	is := is.New(t)

	var properties []string

	requester := transport.RequesterFunc(func(_ context.Context, _, _ string, payload any, _ map[string][]string) (*transport.Response, error) {
		request, ok := payload.(types.ResolveRequest)
		is.True(ok)

		properties = append(properties, request.Property)

		responseBody := fmt.Sprintf(`{"entities":[{"node":%q,"candidates":[{"dcid":"geoId/06"}]}]}`, request.Nodes[0])

		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(responseBody)}, nil
	})

	c := New("http://example.com", Requester(requester))

	byName, err := ResolveDCIDsByName(context.Background(), c, []string{"California"}, "State")
	is.NoErr(err)
	is.Equal(byName["California"], []string{"geoId/06"})

	byWikidataID, err := ResolveDCIDsByWikidataID(context.Background(), c, []string{"Q99"})
	is.NoErr(err)
	is.Equal(byWikidataID["Q99"], []string{"geoId/06"})

	byCoordinates, err := ResolveDCIDByCoordinates(context.Background(), c, "37.42", "-122.08")
	is.NoErr(err)
	is.Equal(byCoordinates, "geoId/06")

	is.Equal(properties, []string{
		"<-description{typeOf:State}->dcid",
		"<-wikidataId->dcid",
		"<-geoCoordinate->dcid",
	})
}

func TestResolveDCIDByCoordinatesReturnsEmptyWhenUnresolved(t *testing.T) {
	is := is.New(t)

	requester := transport.RequesterFunc(func(_ context.Context, _, _ string, payload any, _ map[string][]string) (*transport.Response, error) {
		request, ok := payload.(types.ResolveRequest)
		is.True(ok)
		is.Equal(request.Nodes, []string{"0.00#0.00"})

		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"entities":[{"node":"0.00#0.00","candidates":[]}]}`)}, nil
	})

	c := New("http://example.com", Requester(requester))

	dcid, err := ResolveDCIDByCoordinates(context.Background(), c, "0.00", "0.00")

	is.NoErr(err)
	is.Equal(dcid, "")
}
