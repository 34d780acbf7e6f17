// Package api hosts the HTTP endpoints of the stub server. The endpoints
// speak the same wire protocol as the hosted v2 API, answering from a
// fixture store instead of the real graph.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diwise/datacommons-client/internal/pkg/application/graph"
	"github.com/diwise/datacommons-client/internal/pkg/presentation/api/auth"
	"github.com/diwise/datacommons-client/pkg/datacommons/types"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("datacommons-stub/api")

func RegisterHandlers(ctx context.Context, r *chi.Mux, store *graph.Store, policies io.Reader) error {

	authenticator, err := auth.NewAuthenticator(ctx, policies)
	if err != nil {
		return fmt.Errorf("failed to create api authenticator: %w", err)
	}

	r.Get("/health", NewHealthHandler())

	r.Route("/v2", func(r chi.Router) {
		r.Post("/node", NewQueryNodesHandler(store, authenticator))
		r.Post("/observation", NewQueryObservationsHandler(store, authenticator))
		r.Post("/resolve", NewResolveHandler(store, authenticator))
		r.Post("/sparql", NewSPARQLHandler(store, authenticator))
	})

	return nil
}

func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func NewQueryNodesHandler(store *graph.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "query-nodes")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r); err != nil {
			reportUnauthorized(ctx, w, err)
			return
		}

		request := types.NodeRequest{}
		if err = decode(r.Body, &request); err != nil {
			reportInvalidArgument(w, err.Error())
			return
		}

		if len(request.Nodes) == 0 || request.Property == "" {
			err = errors.New("a node query requires nodes and a relation expression")
			reportInvalidArgument(w, err.Error())
			return
		}

		response, err := store.QueryNodes(request.Nodes, request.Property, request.NextToken)
		if err != nil {
			reportInvalidArgument(w, err.Error())
			return
		}

		respond(w, response)
	}
}

func NewQueryObservationsHandler(store *graph.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "query-observations")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r); err != nil {
			reportUnauthorized(ctx, w, err)
			return
		}

		request := types.ObservationRequest{}
		if err = decode(r.Body, &request); err != nil {
			reportInvalidArgument(w, err.Error())
			return
		}

		if len(request.Variable.DCIDs) == 0 {
			err = errors.New("an observation query requires variable dcids")
			reportInvalidArgument(w, err.Error())
			return
		}

		if len(request.Entity.DCIDs) == 0 && request.Entity.Expression == "" {
			err = errors.New("an observation query requires entity dcids or an expression")
			reportInvalidArgument(w, err.Error())
			return
		}

		respond(w, store.QueryObservations(request))
	}
}

func NewResolveHandler(store *graph.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "resolve-nodes")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r); err != nil {
			reportUnauthorized(ctx, w, err)
			return
		}

		request := types.ResolveRequest{}
		if err = decode(r.Body, &request); err != nil {
			reportInvalidArgument(w, err.Error())
			return
		}

		if len(request.Nodes) == 0 || request.Property == "" {
			err = errors.New("a resolve query requires nodes and a relation expression")
			reportInvalidArgument(w, err.Error())
			return
		}

		respond(w, store.ResolveNodes(request.Nodes, request.Property))
	}
}

func NewSPARQLHandler(store *graph.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "sparql-query")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r); err != nil {
			reportUnauthorized(ctx, w, err)
			return
		}

		request := types.SPARQLRequest{}
		if err = decode(r.Body, &request); err != nil {
			reportInvalidArgument(w, err.Error())
			return
		}

		if request.Query == "" {
			err = errors.New("a sparql query must not be empty")
			reportInvalidArgument(w, err.Error())
			return
		}

		respond(w, store.QuerySPARQL(request.Query))
	}
}

func decode(r io.Reader, v any) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("unable to read request body: %s", err.Error())
	}

	if err = json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unable to decode request payload: %s", err.Error())
	}

	return nil
}

func respond(w http.ResponseWriter, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		reportError(w, http.StatusInternalServerError, "INTERNAL", "failed to marshal response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func reportUnauthorized(ctx context.Context, w http.ResponseWriter, err error) {
	logging.GetFromContext(ctx).Warn("access denied", "err", err.Error())
	reportError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "valid credentials are required")
}

func reportInvalidArgument(w http.ResponseWriter, message string) {
	reportError(w, http.StatusBadRequest, "INVALID_ARGUMENT", message)
}

// reportError writes the google.rpc error shape that api clients expect.
func reportError(w http.ResponseWriter, code int, status, message string) {
	report := struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}{}

	report.Error.Code = code
	report.Error.Message = message
	report.Error.Status = status

	body, _ := json.Marshal(report)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}
