// Command overseerd is the Overseer daemon: it loads configuration,
// opens the SQLite store, wires the task/review/gate/help/broker
// engines, and serves the HTTP and broker surfaces until signalled to
// stop. Grounded on the teacher's cmd/cliaimonitor/main.go component
// wiring and signal-triggered shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/broker"
	"github.com/overseer-dev/overseer/internal/broker/transport"
	"github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/gate"
	"github.com/overseer-dev/overseer/internal/help"
	"github.com/overseer-dev/overseer/internal/httpapi"
	"github.com/overseer-dev/overseer/internal/idempotency"
	"github.com/overseer-dev/overseer/internal/instance"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/notify"
	"github.com/overseer-dev/overseer/internal/review"
	"github.com/overseer-dev/overseer/internal/store"
	"github.com/overseer-dev/overseer/internal/task"
	"github.com/overseer-dev/overseer/internal/vcs"
)

func main() {
	configPath := flag.String("config", "overseerd.yaml", "daemon configuration file")
	gatesPath := flag.String("gates", "", "gate declaration file to hot-reload (optional)")
	flag.Parse()

	log := logging.New("overseerd")
	defer log.Sync()

	cfg, err := config.LoadDaemon(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	lock, err := instance.Acquire(cfg.DataDir)
	if err != nil {
		log.Fatalw("failed to acquire instance lock", "error", err)
	}
	defer lock.Release()

	st, err := store.Open(filepath.Join(cfg.DataDir, "overseer.db"))
	if err != nil {
		log.Fatalw("failed to open store", "error", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(st)
	idem := idempotency.New(st)
	go idem.StartSweeper(ctx, time.Hour)

	resolver := vcs.NewResolver(st)
	gates := gate.NewScheduler(st, bus)
	defer gates.StopAll()
	if err := gates.RecoverPending(ctx); err != nil {
		log.Errorw("failed to recover pending gate polls", "error", err)
	}

	tasks := task.NewEngine(st, bus, resolver, gates)
	reviews := review.NewEngine(st, bus)
	helpEngine := help.NewEngine(st, bus)
	_ = reviews    // driven externally via CLI/MCP front ends linking this module
	_ = helpEngine // driven externally via CLI/MCP front ends linking this module

	if err := registerConfiguredRepos(ctx, st, cfg); err != nil {
		log.Errorw("failed to register configured repos", "error", err)
	}

	if *gatesPath != "" {
		reg := config.NewGateRegistry()
		if gf, err := config.LoadGates(*gatesPath); err != nil {
			log.Errorw("failed to load initial gate declarations", "error", err)
		} else {
			reg.Set(gf.Gates)
		}
		go config.WatchGateFile(log, *gatesPath, reg)
	}

	natsTransport, err := transport.New(transport.Config{Port: cfg.BrokerPort})
	if err != nil {
		log.Fatalw("failed to configure embedded broker transport", "error", err)
	}
	if err := natsTransport.Start(); err != nil {
		log.Fatalw("failed to start embedded broker transport", "error", err)
	}
	defer natsTransport.Shutdown()

	sessions := broker.NewSessions(st, bus)
	hub := broker.NewHub(sessions)
	go hub.Run(ctx)
	go runStaleSessionReaper(ctx, log, sessions)

	notifyRouter := notify.NewRouter()
	notifyRouter.AddChannel(notify.NewToastChannel("overseer", "http://localhost"+cfg.HTTPAddr))
	latestSeq, _ := st.LatestSeq(ctx)
	go notifyRouter.Run(ctx, bus, latestSeq)

	httpSrv := httpapi.New(cfg.HTTPAddr, hub)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil {
			log.Infow("http server stopped", "error", err)
		}
	}()

	log.Infow("overseerd started", "http_addr", cfg.HTTPAddr, "broker_port", cfg.BrokerPort, "data_dir", cfg.DataDir)

	_ = tasks // driven externally via CLI/MCP front ends linking this module

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http server shutdown error", "error", err)
	}
}

func registerConfiguredRepos(ctx context.Context, st *store.Store, cfg *config.Daemon) error {
	for _, rc := range cfg.Repos {
		existing, err := st.GetRepoByPath(ctx, rc.Path)
		if err != nil {
			return fmt.Errorf("failed to check repo %s: %w", rc.Path, err)
		}
		if existing != nil {
			continue
		}
		tx, err := st.BeginWrite(ctx)
		if err != nil {
			return err
		}
		r := &store.Repo{ID: "repo_" + rc.Name, Name: rc.Name, Path: rc.Path, MainRef: "main", CreatedAt: time.Now().UTC()}
		if err := tx.InsertRepo(r); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func runStaleSessionReaper(ctx context.Context, log *zap.SugaredLogger, sessions *broker.Sessions) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.ReapStale(ctx)
			if err != nil {
				log.Errorw("stale session reap failed", "error", err)
				continue
			}
			if n > 0 {
				log.Infow("reaped stale sessions", "count", n)
			}
		}
	}
}
