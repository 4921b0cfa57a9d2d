package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
)

// RunFunc is one execution of a periodic task
type RunFunc func(ctx context.Context) error

type stoppingKey struct{}

// Stopping returns a channel that is closed once Stop has been called on the
// task running ctx. Long runs check it between units of work and return early
// while ctx itself stays live for the work in flight. It is nil outside a task.
func Stopping(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(stoppingKey{}).(chan struct{})
	return ch
}

// StopRequested reports whether the task running ctx is being stopped
func StopRequested(ctx context.Context) bool {
	select {
	case <-Stopping(ctx):
		return true
	default:
		return false
	}
}

// PeriodicTask runs a function on a fixed interval. Runs never overlap; Stop
// waits for the in-flight run to finish.
type PeriodicTask struct {
	name       string
	interval   time.Duration
	run        RunFunc
	runOnStart bool
	logger     *logging.Logger
	collector  *metrics.Collector

	mu      sync.Mutex
	started bool
	closeCh chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// TaskOption configures a PeriodicTask
type TaskOption func(*PeriodicTask)

// RunOnStart makes the task run once immediately when started
func RunOnStart() TaskOption {
	return func(t *PeriodicTask) { t.runOnStart = true }
}

// WithCollector records each run on collector
func WithCollector(c *metrics.Collector) TaskOption {
	return func(t *PeriodicTask) { t.collector = c }
}

// NewPeriodicTask creates a stopped task
func NewPeriodicTask(name string, interval time.Duration, run RunFunc, logger *logging.Logger, opts ...TaskOption) (*PeriodicTask, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("task %s: interval must be positive", name)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &PeriodicTask{
		name:     name,
		interval: interval,
		run:      run,
		logger:   logger.WithComponent("scheduler").WithFields(logging.String("task", name)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the task name
func (t *PeriodicTask) Name() string {
	return t.name
}

// Start launches the task loop. Runs use a context derived from ctx.
func (t *PeriodicTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("task %s already started", t.name)
	}

	t.closeCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.WithValue(ctx, stoppingKey{}, t.closeCh))
	t.cancel = cancel
	t.started = true

	t.wg.Add(1)
	go t.loop(runCtx, t.closeCh)

	t.logger.Info("Periodic task started", logging.Duration("interval", t.interval))
	return nil
}

func (t *PeriodicTask) loop(ctx context.Context, closeCh <-chan struct{}) {
	defer t.wg.Done()

	if t.runOnStart {
		t.execute(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case <-closeCh:
				return
			default:
			}
			t.execute(ctx)
		case <-closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *PeriodicTask) execute(ctx context.Context) {
	start := time.Now()
	err := t.safeRun(ctx)
	if t.collector != nil {
		t.collector.RecordSchedulerRun(t.name, err)
	}
	if err != nil {
		t.logger.Error("Periodic task run failed", logging.Duration("duration", time.Since(start)), logging.Error(err))
		return
	}
	t.logger.Debug("Periodic task run complete", logging.Duration("duration", time.Since(start)))
}

func (t *PeriodicTask) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return t.run(ctx)
}

// Stop stops the ticker, signals Stopping and waits for the in-flight run. If
// ctx expires first the run's context is cancelled and ctx's error is returned.
func (t *PeriodicTask) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	close(t.closeCh)
	cancel := t.cancel
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		t.logger.Info("Periodic task stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
