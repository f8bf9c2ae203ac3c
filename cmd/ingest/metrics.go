package main

import (
	"context"

	"github.com/rs/zerolog"

	"ingest/internal/config"
	"ingest/internal/metrics"
	"ingest/internal/metrics/datadog"
	"ingest/internal/metrics/prompush"
)

// initMetrics installs the configured metrics backend and returns the
// function that flushes and closes it. A backend that fails to start leaves
// metrics disabled; it never fails the run.
func initMetrics(ctx context.Context, cfg config.MetricsConfig, log zerolog.Logger) (func(), error) {
	switch cfg.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
		if err != nil {
			log.Warn().Err(err).Msg("metrics: failed to init prom push backend; using nop")
			return func() {}, nil
		}
		log.Debug().Str("url", cfg.PushgatewayURL).Str("job", cfg.Job).Msg("metrics: pushgateway enabled")
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics: push error")
			}
			metrics.SetBackend(nil)
		}, nil

	case "datadog":
		// Buffers and submits every FlushEvery; Close performs the final flush.
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       cfg.Tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			log.Warn().Err(err).Msg("metrics: failed to init datadog backend; using nop")
			return func() {}, nil
		}
		log.Debug().Str("job", cfg.Job).Strs("tags", cfg.Tags).Msg("metrics: datadog enabled")
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics: datadog close/flush error")
			}
			metrics.SetBackend(nil)
		}, nil

	default:
		log.Debug().Str("backend", cfg.Backend).Msg("metrics: disabled")
		return func() {}, nil
	}
}
