// Package daemon assembles the pipeline and runs it: the item store, the
// stage runner and its executors, the scheduler, the webhook receiver, the
// recovery loop, and the HTTP API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"showreel/internal/clock"
	"showreel/internal/config"
	"showreel/internal/logging"
	"showreel/internal/notifications"
	"showreel/internal/publishing"
	"showreel/internal/queue"
	"showreel/internal/recovery"
	"showreel/internal/rendering"
	"showreel/internal/scheduler"
	"showreel/internal/scripting"
	"showreel/internal/seo"
	"showreel/internal/services/publisher"
	"showreel/internal/services/renderer"
	"showreel/internal/services/scriptwriter"
	"showreel/internal/services/seogen"
	"showreel/internal/stage"
	"showreel/internal/webhook"
)

// Daemon owns the long-running pipeline components.
type Daemon struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger
	clk     clock.Clock

	lock      *flock.Flock
	store     *queue.Store
	sched     scheduler.Scheduler
	worker    *scheduler.Worker
	runner    *stage.Runner
	engine    *recovery.Engine
	notifier  notifications.Service
	apiServer *APIServer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	apiErr chan error
}

// New builds an unstarted daemon.
func New(cfg *config.Config, version string, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:     cfg,
		version: version,
		logger:  logging.WithComponent(logger, "daemon"),
		clk:     clock.System{},
		apiErr:  make(chan error, 1),
	}
}

// runnerRef breaks the construction cycle between the in-process scheduler,
// which needs a delivery handler, and the runner, which needs a scheduler.
type runnerRef struct {
	mu     sync.RWMutex
	runner *stage.Runner
}

func (r *runnerRef) set(runner *stage.Runner) {
	r.mu.Lock()
	r.runner = runner
	r.mu.Unlock()
}

func (r *runnerRef) handle(ctx context.Context, task scheduler.Task) error {
	r.mu.RLock()
	runner := r.runner
	r.mu.RUnlock()
	if runner == nil {
		return fmt.Errorf("task delivered before pipeline start")
	}
	return runner.Handle(ctx, task)
}

// Start brings every component up. On error the partially started daemon is
// torn down before returning.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	d.lock = flock.New(d.cfg.LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another showreeld instance holds %s", d.cfg.LockPath())
	}

	store, err := queue.Open(d.cfg.DatabasePath(), d.clk)
	if err != nil {
		d.lock.Unlock()
		return err
	}
	d.store = store
	d.notifier = notifications.NewService(d.cfg.Notifications, d.logger)

	ref := &runnerRef{}
	schedulerName, err := d.startScheduler(ctx, ref)
	if err != nil {
		d.teardown(context.Background())
		return err
	}

	runner, err := d.buildRunner()
	if err != nil {
		d.teardown(context.Background())
		return err
	}
	d.runner = runner
	ref.set(runner)

	if d.worker != nil {
		if err := d.worker.Start(); err != nil {
			d.teardown(context.Background())
			return fmt.Errorf("start scheduler worker: %w", err)
		}
	}

	d.engine = recovery.NewEngine(d.store, d.runner, d.notifier, d.clk, d.cfg, d.logger)
	receiver := webhook.NewReceiver(d.store, d.runner, d.notifier, d.cfg.Webhook, d.logger)
	d.apiServer = NewAPIServer(d.cfg, d.store, d.runner, d.engine, d.notifier, receiver, schedulerName, d.version, d.logger)

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go d.recoveryLoop(loopCtx)

	go func() {
		d.apiErr <- d.apiServer.Start()
	}()

	d.logger.Info("daemon started",
		logging.String("version", d.version),
		logging.String("scheduler", schedulerName),
		logging.String("database", d.cfg.DatabasePath()))
	return nil
}

// Wait blocks until the API server exits, returning its error.
func (d *Daemon) Wait() error {
	return <-d.apiErr
}

// Stop shuts every component down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	var firstErr error
	if d.apiServer != nil {
		if err := d.apiServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.wg.Wait()
	if err := d.teardown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	d.logger.Info("daemon stopped")
	return firstErr
}

func (d *Daemon) teardown(ctx context.Context) error {
	var firstErr error
	if d.worker != nil {
		d.worker.Shutdown()
		d.worker = nil
	}
	if d.sched != nil {
		if err := d.sched.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.sched = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.store = nil
	}
	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.lock = nil
	}
	return firstErr
}

// startScheduler picks the durable asynq scheduler when Redis is configured,
// falling back to in-process timers otherwise.
func (d *Daemon) startScheduler(ctx context.Context, ref *runnerRef) (string, error) {
	if d.cfg.Redis.URL == "" {
		d.sched = scheduler.NewMemory(ref.handle, d.logger)
		d.logger.Info("using in-process scheduler, delayed tasks will not survive restarts")
		return "memory", nil
	}

	if err := scheduler.VerifyRedis(ctx, d.cfg.Redis.URL); err != nil {
		return "", fmt.Errorf("redis configured but unreachable: %w", err)
	}
	sched, err := scheduler.NewAsynq(d.cfg.Redis.URL, d.cfg.Redis.QueueName)
	if err != nil {
		return "", err
	}
	worker, err := scheduler.NewWorker(d.cfg.Redis.URL, d.cfg.Redis.QueueName, ref.handle, d.logger)
	if err != nil {
		sched.Close()
		return "", err
	}
	d.sched = sched
	d.worker = worker
	return "asynq", nil
}

func (d *Daemon) buildRunner() (*stage.Runner, error) {
	scriptSvc, err := scriptwriter.NewService(d.cfg.Services.ScriptWriter)
	if err != nil {
		return nil, err
	}
	renderSvc, err := renderer.NewService(d.cfg.Services.Renderer)
	if err != nil {
		return nil, err
	}
	seoSvc, err := seogen.NewService(d.cfg.Services.SEO)
	if err != nil {
		return nil, err
	}
	publishSvc, err := publisher.NewService(d.cfg.Services.Publisher)
	if err != nil {
		return nil, err
	}

	return stage.NewRunner(d.sched, d.notifier, d.logger,
		scripting.NewExecutor(d.store, scriptSvc, d.logger),
		rendering.NewExecutor(d.store, renderSvc, d.logger),
		seo.NewExecutor(d.store, seoSvc, d.logger),
		publishing.NewExecutor(d.store, publishSvc, d.logger),
	)
}

func (d *Daemon) recoveryLoop(ctx context.Context) {
	defer d.wg.Done()

	// An immediate sweep reclaims anything orphaned by the previous run.
	if _, err := d.engine.Run(ctx); err != nil {
		d.logger.Error("recovery sweep failed", logging.Error(err))
	}

	ticker := time.NewTicker(d.cfg.RecoveryInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.engine.Run(ctx); err != nil {
				d.logger.Error("recovery sweep failed", logging.Error(err))
			}
		}
	}
}
