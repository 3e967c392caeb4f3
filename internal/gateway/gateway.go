package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/stellarlinkco/taskhub/internal/api"
	"github.com/stellarlinkco/taskhub/internal/auth"
	"github.com/stellarlinkco/taskhub/internal/bus"
	"github.com/stellarlinkco/taskhub/internal/config"
	"github.com/stellarlinkco/taskhub/internal/cron"
	"github.com/stellarlinkco/taskhub/internal/notify"
	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

// Names of the maintenance jobs the gateway keeps registered.
const (
	jobReconcile = "__internal_reconcile_dependencies"
	jobRecurring = "__internal_activate_recurring"
	jobReminders = "__internal_dispatch_reminders"
	jobPurge     = "__internal_purge_deleted"
)

const shutdownTimeout = 10 * time.Second

// Options for creating a Gateway
type Options struct {
	SignalChan    chan os.Signal // for testing signal handling
	CronStorePath string
	Senders       []notify.Sender
}

// Gateway owns every long-lived component of the server process.
type Gateway struct {
	cfg        *config.Config
	store      *store.Engine
	bus        *bus.EventBus
	tracker    *tracker.Service
	auth       *auth.Manager
	hub        *api.Hub
	api        *api.Server
	notifier   *notify.Notifier
	cron       *cron.Service
	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	accessTTL, refreshTTL := cfg.Auth.Durations()
	am, err := auth.NewManager(auth.Config{
		Secret:     cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create auth manager: %w", err)
	}
	g.auth = am

	st, err := store.NewEngine(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	g.bus = bus.NewEventBus(cfg.Server.BufSize)
	g.tracker = tracker.NewService(st, g.bus)

	notifier, err := notify.NewNotifier(cfg.Notify)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	for _, s := range opts.Senders {
		notifier.Register(s)
	}
	notifier.Attach(g.bus)
	g.notifier = notifier

	g.hub = api.NewHub(st)
	g.hub.Attach(g.bus)
	g.api = api.NewServer(g.tracker, st, am, api.WithPageSize(cfg.Server.PageSize), api.WithHub(g.hub))

	cronStorePath := opts.CronStorePath
	if cronStorePath == "" {
		cronStorePath = filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	}
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.runJob

	return g, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.api.Handler()
}

func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	var (
		n   int
		err error
	)
	switch job.Payload.Action {
	case cron.ActionReconcile:
		n, err = g.tracker.Propagator().Reconcile(ctx)
	case cron.ActionRecurring:
		n, err = g.tracker.ActivateRecurring(ctx)
	case cron.ActionReminders:
		n, err = g.tracker.DispatchReminders(ctx)
	case cron.ActionPurge:
		retention := g.cfg.Scheduler.Retention()
		if retention == 0 {
			return "purge disabled", nil
		}
		n, err = g.tracker.PurgeDeleted(ctx, retention)
	default:
		return "", fmt.Errorf("unknown action %q", job.Payload.Action)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d tasks", n), nil
}

func (g *Gateway) ensureInternalJobs() error {
	sch := g.cfg.Scheduler
	jobs := []struct {
		name     string
		schedule cron.Schedule
		action   string
	}{
		{jobReconcile, cron.Cron(sch.ReconcileCron), cron.ActionReconcile},
		{jobRecurring, cron.Every(time.Duration(sch.RecurringEvery) * time.Second), cron.ActionRecurring},
		{jobReminders, cron.Every(time.Duration(sch.ReminderEvery) * time.Second), cron.ActionReminders},
		{jobPurge, cron.Cron(sch.PurgeCron), cron.ActionPurge},
	}
	var errs []error
	for _, j := range jobs {
		if _, err := g.cron.EnsureJob(j.name, j.schedule, cron.Payload{Action: j.action}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.Dispatch(ctx)

	if err := g.notifier.StartAll(ctx); err != nil {
		cancel()
		_ = g.Shutdown()
		return fmt.Errorf("start notifier: %w", err)
	}
	log.Printf("[gateway] notification methods: %v", g.notifier.Methods())

	if g.cfg.Scheduler.Enabled {
		if err := g.ensureInternalJobs(); err != nil {
			log.Printf("[gateway] ensure internal jobs warning: %v", err)
		}
		if err := g.cron.Start(ctx); err != nil {
			log.Printf("[gateway] cron start warning: %v", err)
		}
	}

	addr := net.JoinHostPort(g.cfg.Server.Host, strconv.Itoa(g.cfg.Server.Port))
	if err := g.api.Start(addr); err != nil {
		cancel()
		_ = g.Shutdown()
		return fmt.Errorf("start api: %w", err)
	}
	log.Printf("[gateway] running on %s", addr)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	return g.Shutdown()
}

func (g *Gateway) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.api.Stop(ctx); err != nil {
		log.Printf("[gateway] stop api warning: %v", err)
	}
	g.cron.Stop()
	if err := g.notifier.StopAll(); err != nil {
		log.Printf("[gateway] stop notifier warning: %v", err)
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}
