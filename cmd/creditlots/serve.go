package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-creditlots/adapters/gojob"
	"github.com/goliatone/go-creditlots/adapters/gologger"
	"github.com/goliatone/go-creditlots/core"
	httptransport "github.com/goliatone/go-creditlots/transport/http"
	"github.com/goliatone/go-creditlots/webhooks"
	"github.com/goliatone/go-job/queue"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	queueCapacity   = 64
	shutdownTimeout = 15 * time.Second
	replayTTL       = 24 * time.Hour
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and run the maintenance worker",
		Long: `Serve the REST API, the payment webhook and the Prometheus endpoint.

Unless --no-worker is set the process also schedules expiry sweeps and outbox
dispatch runs on a go-job queue: redis when redis.addr is set, otherwise the
postgres database. --dev uses an in-process queue.

Examples:
  creditlots serve --dev
  creditlots serve --config /etc/creditlots.yaml --no-worker`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags, !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not schedule sweeps or outbox dispatch")
	return cmd
}

func runServe(ctx context.Context, flags *rootFlags, withWorker bool) error {
	rt, err := buildRuntime(ctx, flags)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			rt.logger.Warn("runtime close failed", "error", closeErr)
		}
	}()

	apiOpts := []httptransport.Option{httptransport.WithLogger(rt.logger)}
	if rt.cfg.WebhookSecret != "" {
		processor := webhooks.NewPaymentProcessor(
			webhooks.NewPaymentVerifier(rt.cfg.WebhookSecret),
			core.NewMemoryReplayLedger(replayTTL),
			rt.svc,
		)
		processor.Logger = rt.logger
		apiOpts = append(apiOpts, httptransport.WithPaymentWebhook(processor))
	} else {
		rt.logger.Warn("webhook.secret is not set, payment webhook disabled")
	}
	api, err := httptransport.NewAPI(rt.facade, apiOpts...)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	serveHTTP(ctx, group, rt, "api", rt.cfg.HTTPAddr, api.Routes())

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	serveHTTP(ctx, group, rt, "metrics", rt.cfg.MetricsAddr, metricsMux)

	if withWorker {
		if err := startWorker(ctx, group, rt); err != nil {
			return err
		}
	}
	return group.Wait()
}

func serveHTTP(ctx context.Context, group *errgroup.Group, rt *engineRuntime, name string, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	group.Go(func() error {
		rt.logger.Info("http server listening", "server", name, "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func startWorker(ctx context.Context, group *errgroup.Group, rt *engineRuntime) error {
	jobs, err := rt.jobQueue(ctx)
	if err != nil {
		return err
	}
	_, workerLogger := gologger.Resolve("worker", rt.provider, rt.logger)

	worker, err := gojob.NewWorker(jobs,
		gojob.WithSweeper(rt.svc),
		gojob.WithDispatcher(rt.dispatcher),
		gojob.WithHook(gologger.NewJobLogHook(workerLogger)),
		gojob.WithLogger(workerLogger),
		gojob.WithRetryPolicy(gojob.DefaultRetryPolicy()),
	)
	if err != nil {
		return err
	}
	if err := worker.Start(ctx); err != nil {
		return err
	}
	rt.logger.Info("maintenance worker started", "queue", rt.cfg.QueueBackend)

	enqueuer := gojob.NewEnqueuerAdapter(jobs)
	engine := rt.svc.Config()
	group.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return worker.Stop(stopCtx)
	})
	group.Go(func() error {
		return gojob.Schedule(ctx, enqueuer, engine.SweepInterval, gojob.NewSweepMessage)
	})
	group.Go(func() error {
		return gojob.Schedule(ctx, enqueuer, rt.cfg.DispatchInterval, func(at time.Time) *core.JobExecutionMessage {
			return gojob.NewOutboxDispatchMessage(at, engine.Outbox.BatchSize)
		})
	})
	return nil
}

// maintenanceQueue is a go-job queue the worker both feeds and drains.
type maintenanceQueue interface {
	queue.Enqueuer
	queue.Dequeuer
}

func (rt *engineRuntime) jobQueue(ctx context.Context) (maintenanceQueue, error) {
	switch rt.cfg.QueueBackend {
	case queueRedis:
		client, err := rt.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return gojob.NewRedisQueue(client)
	case queuePostgres:
		return gojob.NewPostgresQueue(ctx, rt.client.DB().DB)
	case queueMemory:
		return gojob.NewMemoryQueue(queueCapacity), nil
	default:
		return nil, fmt.Errorf("no job queue available: set redis.addr, use a postgres database or pass --no-worker")
	}
}
