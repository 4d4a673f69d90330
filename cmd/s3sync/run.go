package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/cache"
	"github.com/openmined/s3sync/internal/config"
	"github.com/openmined/s3sync/internal/endpoint"
	"github.com/openmined/s3sync/internal/metrics"
	"github.com/openmined/s3sync/internal/syncer"
	"github.com/openmined/s3sync/internal/utils"
	"github.com/openmined/s3sync/internal/version"
	"github.com/openmined/s3sync/internal/watcher"
	"golang.org/x/sync/errgroup"
)

// run executes one pass, or watches until ctx is done when cfg.Watch is set.
func run(ctx context.Context, cfg *config.Config) error {
	slog.Info(version.ShortWithApp())

	var sink metrics.Sink = metrics.NopSink{}
	var server *metrics.Server
	if cfg.MetricsPort > 0 {
		prom, err := metrics.NewPrometheusSink()
		if err != nil {
			return err
		}
		sink = prom
		server = metrics.NewServer(":"+strconv.Itoa(cfg.MetricsPort), prom.Registry())
	}
	counters := metrics.NewCounters(sink)

	if err := utils.EnsureDir(cfg.CacheDir); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}

	srcAddr, dstAddr := cfg.Endpoints()
	source, err := openEndpoint(cfg, metrics.Source, srcAddr, counters.Source)
	if err != nil {
		return err
	}
	defer closeEndpoint(source)

	destination, err := openEndpoint(cfg, metrics.Destination, dstAddr, counters.Destination)
	if err != nil {
		return err
	}
	defer closeEndpoint(destination)

	opts := []syncer.Option{syncer.WithCounters(counters)}
	if cfg.Watch {
		if local, ok := source.(*endpoint.LocalEndpoint); ok {
			opts = append(opts, syncer.WithSourceWatcher(watcher.ForEndpoint(local)))
		} else {
			slog.Warn("source is not watchable, relying on rescans", "source", srcAddr)
		}
	}
	manager := syncer.New(source, destination, cfg.SyncConfig(), opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	if server != nil {
		eg.Go(func() error {
			return server.Start(ctx)
		})
	}

	eg.Go(func() error {
		// a finished one shot pass takes the metrics server down with it
		defer cancel()
		if cfg.Watch {
			return manager.Watch(ctx)
		}
		_, err := manager.Sync(ctx)
		return err
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func openEndpoint(cfg *config.Config, name, addr string, counter *metrics.Counter) (endpoint.Endpoint, error) {
	opts := endpoint.Options{
		Name:                 name,
		Includes:             cfg.Includes,
		Excludes:             cfg.Excludes,
		ChunkSize:            cfg.ChunkSize,
		Counter:              counter,
		HashedBytesThreshold: cfg.HashedBytesThreshold,
	}
	if !blob.IsRemote(addr) {
		c, err := cache.New(cfg.CacheBackend, cfg.CacheDir, name)
		if err != nil {
			return nil, fmt.Errorf("%s cache: %w", name, err)
		}
		opts.Cache = c
	}

	e, err := endpoint.New(addr, opts)
	if err != nil {
		if opts.Cache != nil {
			opts.Cache.Close()
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return e, nil
}

func closeEndpoint(e endpoint.Endpoint) {
	if err := e.Close(); err != nil {
		slog.Error("close", "endpoint", e.Name(), "error", err)
	}
}
