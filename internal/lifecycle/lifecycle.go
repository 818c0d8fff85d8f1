// Package lifecycle sequences daemon startup and shutdown (spec §4.11):
// open the database, wire every component, bind the HTTP listener, write
// the discovery file, then install signal handlers — and reverse that
// order, best-effort, on the way down.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/halvorsen/agentkernel/internal/config"
	"github.com/halvorsen/agentkernel/internal/contextstore"
	"github.com/halvorsen/agentkernel/internal/discovery"
	"github.com/halvorsen/agentkernel/internal/docstore"
	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/httpapi"
	"github.com/halvorsen/agentkernel/internal/process"
	"github.com/halvorsen/agentkernel/internal/proposals"
	"github.com/halvorsen/agentkernel/internal/registry"
	"github.com/halvorsen/agentkernel/internal/resources"
	"github.com/halvorsen/agentkernel/internal/scheduler"
	"github.com/halvorsen/agentkernel/internal/storage"
	"github.com/halvorsen/agentkernel/internal/tooldispatch"
)

// Daemon owns every long-lived kernel component and their shutdown order.
type Daemon struct {
	cfg    config.Config
	logger *log.Logger

	db         *sql.DB
	registry   *registry.Registry
	channel    *contextstore.Store
	resources  *resources.Store
	proposals  *proposals.Store
	docs       docstore.Provider
	processMgr *process.Manager
	schedulers *scheduler.Manager
	httpServer *http.Server
	listener   net.Listener
	mcpBase    string // "http://host:port/mcp", known only once the listener is bound

	shutdownOnce sync.Once
	stopSignals  context.CancelFunc
	done         chan struct{}
}

// New wires every kernel component against cfg but does not yet bind a
// listener or start background goroutines; call Start for that.
func New(cfg config.Config, logger *log.Logger) (*Daemon, error) {
	db, err := storage.Open(cfg.DatabaseFile())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := registry.New(db)
	if err := reg.EnsureGlobalWorkflow(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure global workflow: %w", err)
	}

	res := resources.New(db)
	channel := contextstore.New(db, reg, res, cfg.ResourceThresholdCodeUnit)
	propStore := proposals.New(db, reg)

	var docs docstore.Provider
	if cfg.DocumentRoot != "" {
		fileStore, err := docstore.NewFileStore(cfg.DocumentRoot, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("start document store: %w", err)
		}
		docs = fileStore
	}

	procMgr := process.New(logger, cfg.WorkerIdleTimeout())

	d := &Daemon{
		cfg: cfg, logger: logger,
		db: db, registry: reg, channel: channel, resources: res, proposals: propStore,
		docs: docs, processMgr: procMgr,
		done: make(chan struct{}),
	}
	return d, nil
}

// Wait blocks until Shutdown has completed, the way a daemon's main
// goroutine waits for a signal-triggered teardown before exiting.
func (d *Daemon) Wait() {
	<-d.done
}

// Start binds the HTTP listener, starts the scheduler manager, writes the
// discovery file, and installs signal handlers. It does not block; call
// Wait to block until a shutdown signal arrives.
func (d *Daemon) Start(ctx context.Context) error {
	// Bind first: workers need the daemon's real (possibly auto-assigned)
	// port for their callback URL, so the listener must exist before any
	// runner is built or any scheduler started (spec §4.11).
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	d.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port
	d.mcpBase = fmt.Sprintf("http://%s:%d/mcp", d.cfg.Host, port)

	dispatcher := &tooldispatch.Dispatcher{
		Registry: d.registry, Channel: d.channel, Resources: d.resources, Proposals: d.proposals, Docs: d.docs,
	}

	runnerFunc := func(agent, workflow, tag string) scheduler.Runner {
		return workerRunner{mgr: d.processMgr, cfg: d.cfg, mcpBase: d.mcpBase}
	}
	d.schedulers = scheduler.NewManager(d.channel, runnerFunc, d.logger, d.cfg.PollInterval(), d.cfg.MaxRetries)

	handler := httpapi.New(httpapi.Deps{
		Registry: d.registry, Channel: d.channel, Dispatcher: dispatcher, Scheduler: d.schedulers,
		SchedulerCtx: ctx, Logger: d.logger, Shutdown: func() { d.Shutdown() },
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	d.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := d.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			d.logger.Printf("http server error: %v", err)
		}
	}()

	if err := d.startSchedulersForExistingAgents(ctx); err != nil {
		d.logger.Printf("warning: failed to start schedulers for existing agents: %v", err)
	}

	record := domain.DiscoveryRecord{PID: os.Getpid(), Host: d.cfg.Host, Port: port, StartedAt: discovery.StartedAt()}
	if err := discovery.Write(d.cfg.DiscoveryFile(), record); err != nil {
		d.logger.Printf("warning: failed to write discovery file: %v", err)
	}

	// Ignore SIGHUP so the daemon keeps running when launched via nohup or
	// a process supervisor that sends SIGHUP on session close.
	signal.Ignore(syscall.SIGHUP)
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	d.stopSignals = stop
	go func() {
		<-sigCtx.Done()
		d.logger.Println("received shutdown signal")
		d.Shutdown()
	}()

	d.logger.Printf("agentkernel listening on %s:%d", d.cfg.Host, port)
	return nil
}

func (d *Daemon) startSchedulersForExistingAgents(ctx context.Context) error {
	agents, err := d.registry.ListAgents("", "")
	if err != nil {
		return err
	}
	for _, agent := range agents {
		d.schedulers.Start(ctx, agent.Name, agent.Workflow, agent.Tag)
	}
	return nil
}

// Addr returns the bound listener address once Start has completed.
func (d *Daemon) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Shutdown idempotently tears the daemon down in reverse startup order:
// signal handlers, schedulers, workers, HTTP server, database, discovery
// file. Every step is best-effort; one failure does not block the rest.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.logger.Println("shutting down")

		if d.stopSignals != nil {
			d.stopSignals()
		}
		if d.schedulers != nil {
			d.schedulers.StopAll()
		}
		if d.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.httpServer.Shutdown(ctx); err != nil {
				d.logger.Printf("http shutdown: %v", err)
			}
		}
		if closer, ok := d.docs.(interface{ Close() }); ok && closer != nil {
			closer.Close()
		}
		if d.db != nil {
			if err := d.db.Close(); err != nil {
				d.logger.Printf("db close: %v", err)
			}
		}
		if err := discovery.Remove(d.cfg.DiscoveryFile()); err != nil {
			d.logger.Printf("discovery cleanup: %v", err)
		}
		close(d.done)
	})
}

// workerRunner adapts process.Manager to the scheduler.Runner interface,
// translating a scheduler prompt into a one-shot worker subprocess run.
type workerRunner struct {
	mgr     *process.Manager
	cfg     config.Config
	mcpBase string // "http://host:port/mcp", the daemon's actual bound address
}

// Run spawns the worker with its daemon callback URL carrying its own
// "?agent=" identity (spec §4.6, §4.9, §9 REDESIGN FLAG: the daemon
// assigns identity at spawn time, a worker never supplies its own).
func (w workerRunner) Run(ctx context.Context, agent, workflow, tag, prompt string) (string, error) {
	mcpURL := fmt.Sprintf("%s?agent=%s", w.mcpBase, url.QueryEscape(agent))
	result, err := w.mgr.Run(ctx, process.WorkerConfig{
		Agent: agent, Workflow: workflow, Tag: tag,
		Command:      "agentkernel-worker",
		Args:         []string{"--agent", "{agent}", "--workflow", "{workflow}", "--tag", "{tag}"},
		Workspace:    w.cfg.DataDir,
		DaemonMCPURL: mcpURL,
		Env:          map[string]string{"PROMPT": prompt},
		InheritEnv:   []string{"PATH", "HOME"},
	})
	if err != nil {
		return "", err
	}
	return string(result.Data), nil
}
