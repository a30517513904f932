package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/cache"
	"github.com/shoeboxhq/shoebox-go/internal/config"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/netmon"
	"github.com/shoeboxhq/shoebox-go/internal/store"
	syncpkg "github.com/shoeboxhq/shoebox-go/internal/sync"
)

// statusInterval is how often the daemon refreshes its status snapshot file.
const statusInterval = 10 * time.Second

// runWatch runs the resident sync daemon: pidfile, connectivity monitor,
// broadcast consume loop, scheduler, and a periodic status snapshot, all
// supervised by one errgroup so any fatal part takes the daemon down whole.
func runWatch(parent context.Context, cc *CLIContext) error {
	lock, err := acquirePIDLock(cc.Cfg.PIDFilePath())
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client := cc.apiClient()
	session := cc.tokenSource()

	monitor := netmon.New(func(ctx context.Context) error {
		return client.Health(ctx)
	}, cc.Cfg.ProbeIntervalDuration(), cc.Logger)

	broadcaster, err := cc.newBroadcaster()
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	engine := syncpkg.NewEngine(&syncpkg.EngineConfig{
		Queue:    st,
		Remote:   &apiRemote{client: client, store: st, logger: cc.Logger},
		Session:  session,
		Monitor:  monitor,
		Notifier: broadcaster,
		Owner:    broadcaster.SenderID(),
		LeaseTTL: cc.Cfg.LeaseTTLDuration(),
		Logger:   cc.Logger,
	})

	sched := syncpkg.NewScheduler(&syncpkg.SchedulerConfig{
		Drain:   engine.Drain,
		Session: session,
		Monitor: monitor,
		Logger:  cc.Logger,
		Paused:  cc.Cfg.Sync.Paused,
	})
	defer sched.Close()

	viewCache := cache.New()

	ctx := shutdownContext(parent, cc.Logger)

	// Sibling-process hints: invalidate cached views, pick up settings
	// flips, and drain when another process logs in. Triggers hop to their
	// own goroutine so a slow drain never stalls the receive pump.
	unsubscribe := broadcaster.Subscribe(func(msg broadcast.Message) {
		viewCache.ApplyMessage(msg)

		switch msg.Type {
		case broadcast.TypeSettingsChanged:
			applySettings(cc, sched)
		case broadcast.TypeAuthChanged:
			if session.Authenticated() {
				go sched.Trigger(ctx, syncpkg.TriggerManual)
			}
		}
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(func() error { return statusLoop(gctx, cc, st, session, monitor, sched, viewCache) })
	g.Go(func() error { return signalLoop(gctx, cc, sched, monitor) })

	sched.Run(gctx)

	cc.Logger.Info("sync daemon started",
		"pid", os.Getpid(),
		"transport", cc.Cfg.Broadcast.Transport,
	)
	cc.Statusf("Watching for changes (pid %d). Ctrl-C to stop.\n", os.Getpid())

	err = g.Wait()

	// The snapshot describes a live daemon; leaving it behind would make
	// `shoebox status` report a ghost.
	_ = os.Remove(cc.Cfg.StatusFilePath())

	if err != nil && ctx.Err() != nil {
		// Shut down by signal; subsystem errors during teardown are noise.
		return nil
	}

	return err
}

// applySettings rereads the config file and applies the pause switch. Runs
// on settings-changed broadcasts and SIGHUP.
func applySettings(cc *CLIContext, sched *syncpkg.Scheduler) {
	cfg, err := config.LoadOrDefault(cc.CfgPath)
	if err != nil {
		cc.Logger.Warn("settings reload failed", "error", err.Error())
		return
	}

	sched.SetPaused(cfg.Sync.Paused)
	cc.Logger.Info("settings reloaded", "paused", cfg.Sync.Paused)
}

// signalLoop handles the daemon's runtime signals: SIGHUP reloads settings
// and forces a drain, SIGCONT hints that the host just woke from suspend.
func signalLoop(ctx context.Context, cc *CLIContext, sched *syncpkg.Scheduler, monitor *netmon.Monitor) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGCONT)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				cc.Logger.Info("received SIGHUP, reloading settings")
				applySettings(cc, sched)
				go sched.Trigger(ctx, syncpkg.TriggerManual)
			case syscall.SIGCONT:
				monitor.NotifyWake()
			}
		}
	}
}

// statusLoop periodically writes the daemon's status snapshot file for
// `shoebox status` to read. Entity counts go through the view cache, so
// ticks between changes skip the database.
func statusLoop(ctx context.Context, cc *CLIContext, st *store.Store, session syncpkg.SessionSource, monitor *netmon.Monitor, sched *syncpkg.Scheduler, viewCache *cache.Cache) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	writeSnapshot(ctx, cc, st, session, monitor, sched, viewCache)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			writeSnapshot(ctx, cc, st, session, monitor, sched, viewCache)
		}
	}
}

func writeSnapshot(ctx context.Context, cc *CLIContext, st *store.Store, session syncpkg.SessionSource, monitor *netmon.Monitor, sched *syncpkg.Scheduler, viewCache *cache.Cache) {
	snap := sched.Snapshot()

	status := daemonStatus{
		PID:           os.Getpid(),
		UpdatedAt:     time.Now(),
		Authenticated: session.Authenticated(),
		Online:        monitor.Online(),
		Syncing:       snap.Syncing,
		Paused:        snap.Paused,
		Attempts:      snap.Attempts,
		Queue:         queueCountsFor(ctx, st),
		Entities:      cachedEntityCounts(ctx, st, viewCache),
	}

	if !snap.RetryAt.IsZero() {
		status.RetryAt = &snap.RetryAt
	}

	if err := writeStatusFile(cc.Cfg.StatusFilePath(), &status); err != nil {
		cc.Logger.Warn("writing status snapshot", "error", err.Error())
	}
}

// cachedEntityCounts serves entity counts from the view cache, falling back
// to one store query that repopulates all three kinds. Counts live under
// each kind's list slot, so an entity hint from a sibling process evicts
// exactly the kind that changed.
func cachedEntityCounts(ctx context.Context, st *store.Store, viewCache *cache.Cache) store.EntityCounts {
	receipts, rok := cachedCount(viewCache, entity.KindReceipt)
	devices, dok := cachedCount(viewCache, entity.KindDevice)
	documents, cok := cachedCount(viewCache, entity.KindDocument)

	if rok && dok && cok {
		return store.EntityCounts{Receipts: receipts, Devices: devices, Documents: documents}
	}

	counts, err := st.EntityCounts(ctx)
	if err != nil {
		return store.EntityCounts{}
	}

	viewCache.PutList(entity.KindReceipt, counts.Receipts)
	viewCache.PutList(entity.KindDevice, counts.Devices)
	viewCache.PutList(entity.KindDocument, counts.Documents)

	return counts
}

func cachedCount(viewCache *cache.Cache, kind entity.Kind) (int64, bool) {
	v, ok := viewCache.GetList(kind)
	if !ok {
		return 0, false
	}

	count, ok := v.(int64)

	return count, ok
}
