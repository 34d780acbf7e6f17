package transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/diwise/datacommons-client/pkg/datacommons/auth"
	dcerrors "github.com/diwise/datacommons-client/pkg/datacommons/errors"
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

func TestSendPostsJSONBody(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/v2/node"),
			body(`{"nodes":["geoId/06"],"property":"-\u003ename"}`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":{}}`)),
		),
	)
	defer s.Close()

	r := New(s.URL())

	payload := map[string]any{"nodes": []string{"geoId/06"}, "property": "->name"}
	resp, err := r.Send(context.Background(), http.MethodPost, "/v2/node", payload, nil)

	is.NoErr(err)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(string(resp.Body), `{"data":{}}`)
	is.Equal(s.RequestCount(), 1)
}

func TestSendAppliesCredentials(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, HeaderEquals(auth.APIKeyHeader, "secret")),
		Returns(response.Code(http.StatusOK), response.Body([]byte(`{}`))),
	)
	defer s.Close()

	r := New(s.URL(), Credentials(auth.APIKey("secret")))

	_, err := r.Send(context.Background(), http.MethodPost, "/v2/resolve", map[string]any{}, nil)

	is.NoErr(err)
}

func TestSendReturnsResponseForErrorStatus(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusServiceUnavailable)),
	)
	defer s.Close()

	r := New(s.URL())

	resp, err := r.Send(context.Background(), http.MethodPost, "/v2/node", map[string]any{}, nil)

	is.NoErr(err) // a completed exchange is not a transport error
	is.Equal(resp.StatusCode, http.StatusServiceUnavailable)
}

func TestSendReturnsTransportErrorWhenServerIsGone(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusOK)),
	)
	endpoint := s.URL()
	s.Close()

	r := New(endpoint)

	_, err := r.Send(context.Background(), http.MethodPost, "/v2/node", map[string]any{}, nil)

	is.True(err != nil)
	is.True(stderrors.Is(err, dcerrors.ErrTransport))
}

func TestRateLimiterObservesCancellation(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusOK)),
	)
	defer s.Close()

	r := New(s.URL(), RequestsPerSecond(0.001))

	_, err := r.Send(context.Background(), http.MethodPost, "/v2/node", nil, nil)
	is.NoErr(err) // burst allows the first call through

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Send(ctx, http.MethodPost, "/v2/node", nil, nil)
	is.True(err != nil) // second call should not wait out the limiter
}

func TestRequesterFuncAdaptsAFunction(t *testing.T) {
	is := is.New(t)

	r := RequesterFunc(func(ctx context.Context, method, path string, body any, headers map[string][]string) (*Response, error) {
		return &Response{StatusCode: http.StatusOK, Body: []byte(`{"entities":[]}`)}, nil
	})

	resp, err := r.Send(context.Background(), http.MethodPost, "/v2/resolve", nil, nil)

	is.NoErr(err)
	is.Equal(resp.StatusCode, http.StatusOK)
}

func HeaderEquals(name, value string) func(*is.I, *http.Request) {
	return func(is *is.I, r *http.Request) {
		is.Equal(r.Header.Get(name), value) // header should match
	}
}
