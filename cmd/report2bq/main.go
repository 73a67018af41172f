package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/google/report2bq/internal/config"
	"github.com/google/report2bq/internal/metrics"
	"github.com/google/report2bq/internal/metrics/datadog"
	"github.com/google/report2bq/internal/metrics/prompush"
)

// main is the entry point for the transfer binary. It loads the transfer
// spec, optionally initializes a metrics backend, and executes the streaming
// run.
func main() {
	var (
		specPath          string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		validate          bool
	)

	flag.StringVar(&specPath, "config", "configs/transfer.json", "transfer spec JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "pushgateway", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the transfer spec and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	spec, err := config.Load(specPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidateSpec(spec)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fatalf("transfer spec is invalid: %v", specPath)
	}
	if validate {
		log.Info().Str("spec", specPath).Msg("transfer spec is valid")
		os.Exit(0)
	}

	// Decide metrics backend: flag -> env -> default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}

		b, err := prompush.NewBackend(spec.Report.ID, gwURL)
		if err != nil {
			log.Warn().Err(err).Msg("metrics: pushgateway backend init failed; using nop")
			break
		}
		log.Debug().Str("url", gwURL).Str("job", spec.Report.ID).Msg("metrics: pushgateway enabled")
		metrics.SetBackend(b)
		defer func() {
			if err := metrics.Flush(); err != nil {
				log.Warn().Err(err).Msg("metrics: flush failed")
			}
		}()

	case "datadog":
		addr := datadogAddrFlg
		if addr == "" {
			addr = os.Getenv("DD_DOGSTATSD_ADDR")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}

		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "report2bq.",
			GlobalTags: []string{"service:report2bq"},
		})
		if err != nil {
			log.Warn().Err(err).Msg("metrics: datadog backend init failed; using nop")
			break
		}
		log.Debug().Str("addr", addr).Msg("metrics: datadog enabled")
		metrics.SetBackend(b)
		defer func() {
			if err := metrics.Flush(); err != nil {
				log.Warn().Err(err).Msg("metrics: flush failed")
			}
		}()

	case "", "none":
		log.Debug().Msg("metrics: disabled")

	default:
		log.Warn().Str("backend", backendName).Msg("metrics: unknown backend; metrics disabled")
	}

	if err := run(context.Background(), log, spec); err != nil {
		log.Fatal().Err(err).Str("report", spec.Report.ID).Msg("transfer failed")
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
