package logingester

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/logingester/internal/common"
	"github.com/G-Research/logingester/internal/common/health"
	"github.com/G-Research/logingester/internal/common/task"
	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/internal/logingester/deadletter"
	"github.com/G-Research/logingester/internal/logingester/provision"
	"github.com/G-Research/logingester/internal/logingester/source"
	"github.com/G-Research/logingester/internal/logingester/store"
	"github.com/G-Research/logingester/pkg/logwriter"
	"github.com/G-Research/logingester/pkg/logwriter/logrushook"
)

const (
	metricsPrefix          = "logingester_"
	defaultShutdownTimeout = 10 * time.Second
)

// Run reads log records from input and writes them to the configured store until input is
// exhausted or ctx is cancelled, then drains the writer and shuts everything down.
func Run(ctx context.Context, config *configuration.LogIngesterConfiguration, input io.Reader) error {
	log.Info("Log Ingester Starting")

	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	if hook, err := promrus.NewPrometheusHook(); err != nil {
		log.WithError(err).Warn("Log line metrics unavailable")
	} else {
		log.AddHook(hook)
	}

	logStore, err := store.Connect(ctx, config.Store, config.Provisioning)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := logStore.Close(closeCtx); err != nil {
			log.WithError(err).Error("Failed to close store")
		}
	}()

	return run(ctx, config, logStore, input, shutdownTimeout, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func run(
	ctx context.Context,
	config *configuration.LogIngesterConfiguration,
	logStore store.LogStore,
	input io.Reader,
	shutdownTimeout time.Duration,
	registerer prometheus.Registerer,
	gatherer prometheus.Gatherer,
) error {
	router, partitions := newRouter(config)

	writerStore := logwriter.Store(logStore)
	taskManager := task.NewBackgroundTaskManager(metricsPrefix, registerer)
	if config.Provisioning.Enabled {
		ensuring := provision.NewEnsuringStore(logStore)
		writerStore = ensuring
		if partitions != nil && config.Provisioning.Interval > 0 {
			provisioner := provision.NewProvisioner(ensuring, partitions, config.Provisioning.DaysAhead, clock.RealClock{})
			taskManager.Register(func() {
				_ = provisioner.Run(ctx)
			}, config.Provisioning.Interval, "provision")
		}
	}
	defer taskManager.StopAll(shutdownTimeout)

	sink, closeSink, err := newDeadLetterSink(config.DeadLetter, shutdownTimeout)
	if err != nil {
		return err
	}

	writer, err := logwriter.Open(config.Writer, writerStore,
		logwriter.WithRouter(router),
		logwriter.WithDeadLetterSink(sink),
		logwriter.WithRegisterer(registerer),
		logwriter.WithName("logingester"),
	)
	if err != nil {
		return multierror.Append(err, closeSink()).ErrorOrNil()
	}

	restoreHooks := func() {}
	if config.SelfLogService != "" {
		previous := cloneHooks(log.StandardLogger().Hooks)
		log.AddHook(logrushook.New(writer, config.SelfLogService, log.WarnLevel, log.ErrorLevel))
		restoreHooks = func() { log.StandardLogger().ReplaceHooks(previous) }
	}

	checker := health.NewMultiChecker(writer)
	shutdownMetricServer := common.ServeMetricsFor(config.MetricsPort, gatherer, checker)
	defer shutdownMetricServer()

	stats, consumeErr := consume(ctx, source.NewSource(writer, config.Source, clock.RealClock{}), input)
	log.Infof("Read %d lines: %d written, %d malformed, %d dropped", stats.Lines, stats.Written, stats.Malformed, stats.Dropped)

	restoreHooks()

	var result *multierror.Error
	if consumeErr != nil && !errors.Is(consumeErr, context.Canceled) {
		result = multierror.Append(result, consumeErr)
	}
	// Close returns once dead-lettered batches have reached the sink, so the sink can be closed after it.
	if err := writer.Close(); err != nil {
		if errors.Is(err, logwriter.ErrDrainTimeout) {
			log.WithError(err).Warn("Not every record was written before shutdown")
		} else {
			result = multierror.Append(result, err)
		}
	}
	if err := closeSink(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// consume stops reading input when ctx is cancelled, even if a read is blocked.
func consume(ctx context.Context, src *source.Source, input io.Reader) (source.Stats, error) {
	type outcome struct {
		stats source.Stats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		stats, err := src.Consume(ctx, input)
		done <- outcome{stats: stats, err: err}
	}()

	select {
	case o := <-done:
		return o.stats, o.err
	case <-ctx.Done():
		log.Info("Shutdown requested, no longer reading input")
		select {
		case o := <-done:
			return o.stats, o.err
		case <-time.After(100 * time.Millisecond):
			return source.Stats{}, ctx.Err()
		}
	}
}

func newRouter(config *configuration.LogIngesterConfiguration) (logwriter.PartitionRouter, provision.DayPartitions) {
	if config.Router.Type == configuration.RouterHash {
		router := logwriter.NewHashRouter(config.Router.Prefix, config.Router.Shards)
		return router, provision.ForShards(router)
	}
	if len(config.Provisioning.Services) == 0 {
		return logwriter.DailyRouter{}, nil
	}
	return logwriter.DailyRouter{}, provision.ForServices(config.Provisioning.Services)
}

func newDeadLetterSink(config configuration.DeadLetterConfig, shutdownTimeout time.Duration) (logwriter.DeadLetterSink, func() error, error) {
	logger := log.WithField("component", "deadletter")
	switch config.Type {
	case configuration.DeadLetterFile:
		sink, err := deadletter.NewFileSink(config.File.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case configuration.DeadLetterPulsar:
		sink, err := deadletter.NewPulsarSink(config.Pulsar, logger)
		if err != nil {
			return nil, nil, err
		}
		flushTimeout := config.Pulsar.FlushTimeout
		if flushTimeout <= 0 {
			flushTimeout = shutdownTimeout
		}
		return sink, func() error { return sink.Close(flushTimeout) }, nil
	}
	return deadletter.NewLogSink(logger), func() error { return nil }, nil
}

func cloneHooks(hooks log.LevelHooks) log.LevelHooks {
	clone := make(log.LevelHooks, len(hooks))
	for level, levelHooks := range hooks {
		clone[level] = append([]log.Hook(nil), levelHooks...)
	}
	return clone
}
