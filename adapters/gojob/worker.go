package gojob

import (
	"fmt"
	"time"

	"github.com/goliatone/go-creditlots/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultMaxAttempts   = 5
	defaultRetryInterval = 2 * time.Second
	defaultRetryCeiling  = time.Minute
	defaultIdleDelay     = time.Second
)

// DefaultRetryPolicy retries a failed maintenance run with exponential
// backoff and dead letters it on the fifth failure.
func DefaultRetryPolicy() worker.DefaultRetryPolicy {
	return worker.DefaultRetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		Backoff: worker.BackoffConfig{
			Strategy:    worker.BackoffExponential,
			Interval:    defaultRetryInterval,
			MaxInterval: defaultRetryCeiling,
		},
	}
}

type workerSettings struct {
	sweeper    Sweeper
	dispatcher core.EventDispatcher
	hook       core.JobWorkerHook
	logger     core.Logger
	policy     worker.RetryPolicy
	idleDelay  time.Duration
}

type WorkerOption func(*workerSettings)

func WithSweeper(sweeper Sweeper) WorkerOption {
	return func(s *workerSettings) { s.sweeper = sweeper }
}

func WithDispatcher(dispatcher core.EventDispatcher) WorkerOption {
	return func(s *workerSettings) { s.dispatcher = dispatcher }
}

func WithHook(hook core.JobWorkerHook) WorkerOption {
	return func(s *workerSettings) { s.hook = hook }
}

func WithLogger(logger core.Logger) WorkerOption {
	return func(s *workerSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRetryPolicy(policy worker.RetryPolicy) WorkerOption {
	return func(s *workerSettings) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithIdleDelay sets how long the worker pauses after an empty or failed
// dequeue.
func WithIdleDelay(delay time.Duration) WorkerOption {
	return func(s *workerSettings) {
		if delay > 0 {
			s.idleDelay = delay
		}
	}
}

// NewWorker builds a go-job worker with the sweep and outbox dispatch tasks
// registered. Start and Stop it through the returned worker.
func NewWorker(dequeuer queue.Dequeuer, opts ...WorkerOption) (*worker.Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	settings := workerSettings{
		logger:    glog.Nop(),
		policy:    DefaultRetryPolicy(),
		idleDelay: defaultIdleDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if settings.sweeper == nil && settings.dispatcher == nil {
		return nil, fmt.Errorf("gojob: worker needs a sweeper or a dispatcher")
	}

	var tasks []job.Task
	if settings.sweeper != nil {
		task, err := NewSweepTask(settings.sweeper, settings.logger)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if settings.dispatcher != nil {
		task, err := NewOutboxDispatchTask(settings.dispatcher, settings.logger)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	// each worker keeps its own dedup tracker instead of the process global
	tracker := job.NewIdempotencyTracker()
	workerOpts := []worker.Option{
		worker.WithRetryPolicy(settings.policy),
		worker.WithIdleDelay(settings.idleDelay),
		worker.WithLogger(job.GoLogger(settings.logger)),
		worker.WithCommanderFactory(func(task job.Task) *job.TaskCommander {
			return job.NewTaskCommander(task).
				WithIdempotencyTracker(tracker).
				WithRetryOverride(0)
		}),
	}
	if settings.hook != nil {
		workerOpts = append(workerOpts, worker.WithHooks(NewWorkerHookAdapter(settings.hook)))
	}

	w := worker.NewWorker(dequeuer, workerOpts...)
	if err := w.RegisterAll(tasks); err != nil {
		return nil, err
	}
	return w, nil
}
