package main

import (
	"context"
	"net/http"
	"os"
	"strconv"

	"github.com/diwise/datacommons-client/internal/pkg/application/graph"
	"github.com/diwise/datacommons-client/internal/pkg/infrastructure/router"
	"github.com/diwise/datacommons-client/internal/pkg/presentation/api"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
)

const (
	appName string = "datacommons-stub"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	cfg := LoadConfiguration(ctx)

	fixtures, err := os.Open(cfg.fixturesPath)
	if err != nil {
		log.Error("failed to open fixture file", "err", err.Error())
		os.Exit(1)
	}
	defer fixtures.Close()

	store, err := graph.Load(fixtures, graph.PageSize(cfg.pageSize))
	if err != nil {
		log.Error("failed to load fixtures", "err", err.Error())
		os.Exit(1)
	}

	log.Info("fixtures loaded", "counts", store.Counts())

	policies, err := os.Open(cfg.policiesPath)
	if err != nil {
		log.Error("failed to open authz policies", "err", err.Error())
		os.Exit(1)
	}
	defer policies.Close()

	r := router.New(appName, log)

	err = api.RegisterHandlers(ctx, r, store, policies)
	if err != nil {
		log.Error("failed to register handlers", "err", err.Error())
		os.Exit(1)
	}

	log.Info("starting to listen for connections", "port", cfg.servicePort)

	err = http.ListenAndServe(":"+cfg.servicePort, r)
	if err != nil {
		log.Error("failed to listen for connections", "err", err.Error())
		os.Exit(1)
	}
}

type Config struct {
	servicePort  string
	fixturesPath string
	policiesPath string
	pageSize     int
}

func LoadConfiguration(ctx context.Context) Config {
	pageSize, err := strconv.Atoi(env.GetVariableOrDefault(ctx, "PAGE_SIZE", "0"))
	if err != nil || pageSize < 0 {
		pageSize = 0
	}

	return Config{
		servicePort:  env.GetVariableOrDefault(ctx, "SERVICE_PORT", "8080"),
		fixturesPath: env.GetVariableOrDefault(ctx, "FIXTURES_PATH", "fixtures.yaml"),
		policiesPath: env.GetVariableOrDefault(ctx, "AUTHZ_POLICIES_PATH", "authz.rego"),
		pageSize:     pageSize,
	}
}
