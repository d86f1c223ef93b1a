package gojob

import (
	"context"
	"fmt"

	"github.com/goliatone/go-creditlots/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

type Sweeper interface {
	SweepOnce(ctx context.Context) (core.SweepReport, error)
}

// maintenanceTask is an in-process job.Task. It has no script engine: the
// job id doubles as its path and run does the work.
type maintenanceTask struct {
	id  string
	run func(ctx context.Context, params map[string]any) error
}

var _ job.Task = (*maintenanceTask)(nil)

func (t *maintenanceTask) GetID() string {
	return t.id
}

func (t *maintenanceTask) GetHandler() func() error {
	return func() error {
		return t.Execute(context.Background(), nil)
	}
}

func (t *maintenanceTask) GetHandlerConfig() job.HandlerOptions {
	return job.HandlerOptions{}
}

// GetConfig leaves retries at zero; the queue worker owns redelivery.
func (t *maintenanceTask) GetConfig() job.Config {
	return job.Config{}
}

func (t *maintenanceTask) GetPath() string {
	return t.id
}

func (t *maintenanceTask) GetEngine() job.Engine {
	return nil
}

func (t *maintenanceTask) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var params map[string]any
	if msg != nil {
		params = msg.Parameters
	}
	return t.run(ctx, params)
}

// NewSweepTask runs one expiry sweep per message.
func NewSweepTask(sweeper Sweeper, logger core.Logger) (job.Task, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("gojob: sweep task needs a sweeper")
	}
	logger = ensureLogger(logger)
	return &maintenanceTask{
		id: JobIDSweep,
		run: func(ctx context.Context, _ map[string]any) error {
			report, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			if report.Errors > 0 {
				logger.Warn("sweep finished with item errors", "errors", report.Errors)
			}
			return nil
		},
	}, nil
}

// NewOutboxDispatchTask drains one outbox batch per message. The batch_size
// parameter overrides the dispatcher default.
func NewOutboxDispatchTask(dispatcher core.EventDispatcher, logger core.Logger) (job.Task, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("gojob: outbox dispatch task needs a dispatcher")
	}
	logger = ensureLogger(logger)
	return &maintenanceTask{
		id: JobIDOutboxDispatch,
		run: func(ctx context.Context, params map[string]any) error {
			stats, err := dispatcher.DispatchPending(ctx, batchSizeParam(params))
			if err != nil {
				return err
			}
			if stats.Claimed > 0 {
				logger.Debug("outbox dispatched",
					"claimed", stats.Claimed,
					"delivered", stats.Delivered,
					"retried", stats.Retried,
					"failed", stats.Failed,
				)
			}
			return nil
		},
	}, nil
}

func ensureLogger(logger core.Logger) core.Logger {
	if logger == nil {
		return glog.Nop()
	}
	return logger
}
