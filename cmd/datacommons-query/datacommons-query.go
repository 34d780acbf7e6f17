package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/diwise/datacommons-client/pkg/datacommons/auth"
	"github.com/diwise/datacommons-client/pkg/datacommons/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
)

const (
	appName string = "datacommons-query"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	if len(os.Args) < 3 {
		log.Error("usage: datacommons-query <variable> <entity> [<entity> ...]")
		os.Exit(1)
	}

	variable, entities := os.Args[1], os.Args[2:]

	cfg := LoadConfiguration(ctx)

	options := []client.Option{
		client.Debug(cfg.debug),
		client.RequestsPerSecond(cfg.requestsPerSecond),
	}

	if cfg.apiKey != "" {
		options = append(options, client.Credentials(auth.APIKey(cfg.apiKey)))
	}

	c := client.New(cfg.apiURL, options...)

	result, err := c.FetchObservations(ctx, client.ObservationQuery{
		Variables: []string{variable},
		Entities:  entities,
		Date:      cfg.date,
	})
	if err != nil {
		log.Error("observation query failed", "err", err.Error())
		os.Exit(1)
	}

	if result.Partial() {
		for _, failure := range result.Failures() {
			log.Warn("some entities could not be fetched",
				"query_id", result.QueryID(),
				"entities", failure.Keys,
				"err", failure.Err.Error(),
			)
		}
	}

	for _, warning := range result.Warnings() {
		log.Warn("response needed cleanup", "query_id", result.QueryID(), "detail", warning.String())
	}

	output, err := json.MarshalIndent(result.Record(), "", "  ")
	if err != nil {
		log.Error("failed to marshal result", "err", err.Error())
		os.Exit(1)
	}

	os.Stdout.Write(output)
	os.Stdout.Write([]byte("\n"))
}

type Config struct {
	apiURL            string
	apiKey            string
	date              string
	debug             string
	requestsPerSecond float64
}

func LoadConfiguration(ctx context.Context) Config {
	rps, err := strconv.ParseFloat(env.GetVariableOrDefault(ctx, "DC_REQUESTS_PER_SECOND", "10"), 64)
	if err != nil || rps < 0 {
		rps = 10
	}

	return Config{
		apiURL:            env.GetVariableOrDefault(ctx, "DC_API_URL", "https://api.datacommons.org"),
		apiKey:            env.GetVariableOrDefault(ctx, "DC_API_KEY", ""),
		date:              env.GetVariableOrDefault(ctx, "DC_DATE", client.DateLatest),
		debug:             env.GetVariableOrDefault(ctx, "DC_CLIENT_DEBUG", "false"),
		requestsPerSecond: rps,
	}
}
