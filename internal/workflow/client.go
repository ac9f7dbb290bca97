package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// Config locates the Temporal frontend.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
	DialWait  time.Duration // keep retrying the dial this long; default 30s
}

func (c Config) taskQueue() string {
	if strings.TrimSpace(c.TaskQueue) == "" {
		return DefaultTaskQueue
	}
	return c.TaskQueue
}

// zapAdapter satisfies the Temporal SDK logger with the global zap logger.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (l zapAdapter) Debug(msg string, keyvals ...any) { l.s.Debugw(msg, keyvals...) }
func (l zapAdapter) Info(msg string, keyvals ...any)  { l.s.Infow(msg, keyvals...) }
func (l zapAdapter) Warn(msg string, keyvals ...any)  { l.s.Warnw(msg, keyvals...) }
func (l zapAdapter) Error(msg string, keyvals ...any) { l.s.Errorw(msg, keyvals...) }

// Dial connects to Temporal, retrying with backoff until cfg.DialWait passes.
func Dial(ctx context.Context, cfg Config) (client.Client, error) {
	if strings.TrimSpace(cfg.HostPort) == "" {
		return nil, eris.New("temporal: host_port not configured")
	}
	wait := cfg.DialWait
	if wait <= 0 {
		wait = 30 * time.Second
	}

	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    zapAdapter{s: zap.L().Named("temporal").Sugar()},
	}

	deadline := time.Now().Add(wait)
	backoff := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		c, err := client.DialContext(dialCtx, opts)
		cancel()
		if err == nil {
			zap.L().Info("temporal: connected",
				zap.String("host_port", cfg.HostPort),
				zap.String("namespace", cfg.Namespace),
				zap.Int("attempts", attempt),
			)
			return c, nil
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return nil, eris.Wrapf(err, "temporal: dial %s", cfg.HostPort)
		}
		zap.L().Warn("temporal: not reachable, retrying",
			zap.String("host_port", cfg.HostPort),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, eris.Wrap(ctx.Err(), "temporal: dial")
		case <-t.C:
		}
		backoff = min(backoff*2, 5*time.Second)
	}
}

// NewWorker creates a worker on the configured task queue with the workflow
// and its activity registered.
func NewWorker(c client.Client, cfg Config, acts *Activities, concurrency int) worker.Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(c, cfg.taskQueue(), worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	Register(w, acts)
	return w
}

// Registry is the registration surface shared by workers and the test
// environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the workflow and activity under their stable names.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(UpdateEpisodesWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.UpdateEpisodes, activity.RegisterOptions{Name: ActivityUpdate})
}

// Trigger starts an update workflow and returns its handle.
func Trigger(ctx context.Context, c client.Client, cfg Config, p UpdateParams) (client.WorkflowRun, error) {
	id := "update-episodes-" + uuid.NewString()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: cfg.taskQueue(),
	}, WorkflowName, p)
	if err != nil {
		return nil, eris.Wrap(err, "temporal: start workflow")
	}
	zap.L().Info("temporal: workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return run, nil
}
