package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/lobby/internal/config"
	coresys "github.com/l1jgo/lobby/internal/core/system"
	"github.com/l1jgo/lobby/internal/core/worker"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/handler"
	"github.com/l1jgo/lobby/internal/lobby"
	gonet "github.com/l1jgo/lobby/internal/net"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/observability"
	"github.com/l1jgo/lobby/internal/persist"
	"github.com/l1jgo/lobby/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m               lobbyd  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := flag.String("config", "", "path to the configuration file (toml or yaml)")
	flag.Parse()
	path := *cfgPath
	if path == "" {
		path = "config/lobbyd.toml"
		if p := os.Getenv("LOBBYD_CONFIG"); p != "" {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := packet.SetCharset(cfg.Protocol.Charset); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}

	// 2. Init logger, tracing and metrics
	log, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()
	metrics := observability.NewMetrics()

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(initCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL connected")

	if cfg.Database.Migrate {
		if err := persist.RunMigrations(initCtx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
	}
	store := persist.NewStore(db)
	fmt.Println()

	// 4. Load lobby descriptors
	printSection("lobbies")

	ids := make([]int32, 0, len(cfg.Lobbies))
	for _, l := range cfg.Lobbies {
		ids = append(ids, l.ID)
	}
	descs, err := store.Lobbies.LoadLobbies(initCtx, ids)
	if err != nil {
		return fmt.Errorf("load lobbies: %w", err)
	}
	lobbies := session.NewLobbies()
	for _, l := range descs {
		lobbies.Put(l)
		printStat(fmt.Sprintf("%s #%d %s", l.Type, l.ID, l.Name), int(l.PlayerCount()))
	}
	fmt.Println()

	// 5. Registries, guards and per-type machines
	printSection("commands")

	sessions := session.NewSessions(64)
	guards := guard.New(sessions, store, log)

	hdeps := &handler.Deps{
		Sessions:           sessions,
		Lobbies:            lobbies,
		Guards:             guards,
		Accounts:           store.Accounts,
		Characters:         store.Characters,
		Clans:              store.Clans,
		Games:              store,
		Tx:                 store,
		Metrics:            metrics,
		Log:                log,
		AutoCreateAccounts: cfg.Server.AutoCreateAccounts,
	}
	ldeps := lobby.Deps{
		Sessions: sessions,
		Lobbies:  lobbies,
		Guards:   guards,
		Store:    store,
		Quitter:  store,
		Beacon:   store,
		Metrics:  metrics,
		Log:      log,
	}
	machines := make(map[session.LobbyType]*lobby.Machine)
	for _, typ := range []session.LobbyType{session.LobbyGate, session.LobbyAccount, session.LobbyGame} {
		m, err := lobby.NewMachine(lobby.NewVariant(typ, hdeps, ldeps), ldeps)
		if err != nil {
			return err
		}
		machines[typ] = m
		printStat(typ.String()+" commands", m.Registry().Len())
	}
	fmt.Println()

	// 6. Worker pool and background systems
	pool := worker.NewPool(cfg.Network.Workers, cfg.Network.MaxPending, log)
	defer pool.Close()

	runner := coresys.NewRunner(log)
	runner.Register(lobby.NewPopulation(lobbies, sessions, store, metrics, cfg.Refresh.Interval, log))
	runner.Register(&poolReporter{pool: pool, metrics: metrics})

	// 7. Listeners
	printSection("network")

	connIDs := &gonet.IDs{}
	opts := gonet.Options{
		OutQueueSize: cfg.Network.OutQueueSize,
		ReadBuffer:   cfg.Network.ReadBuffer,
		IdleTimeout:  cfg.Network.IdleTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
	}
	servers := make([]*gonet.Server, 0, len(cfg.Lobbies))
	var httpServers []*http.Server
	defer func() {
		for _, srv := range servers {
			srv.Shutdown()
		}
	}()
	for _, l := range cfg.Lobbies {
		desc := lobbies.Get(l.ID)
		srv, err := gonet.Listen(gonet.Config{
			LobbyID: l.ID,
			Bind:    l.Bind,
			IDs:     connIDs,
			Handler: machines[desc.Type],
			Pool:    pool,
			Options: opts,
			Metrics: metrics,
			Log:     log,
		})
		if err != nil {
			return fmt.Errorf("listen lobby %d on %s: %w", l.ID, l.Bind, err)
		}
		servers = append(servers, srv)
		printReady(fmt.Sprintf("%s lobby %d listening on %s", desc.Type, l.ID, srv.Addr()))

		if l.WSBind != "" {
			mux := http.NewServeMux()
			mux.Handle("/ws", srv)
			httpServers = append(httpServers, &http.Server{Addr: l.WSBind, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
			printReady(fmt.Sprintf("%s lobby %d websocket on ws://%s/ws", desc.Type, l.ID, l.WSBind))
		}
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := db.Pool.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		httpServers = append(httpServers, &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
		printReady(fmt.Sprintf("metrics on http://%s/metrics", cfg.Metrics.Addr))
	}
	fmt.Println()

	// 8. Run until a signal arrives or a listener fails
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(srv.Serve)
	}
	g.Go(func() error { return runner.Run(gctx, time.Second) })
	for _, hs := range httpServers {
		g.Go(func() error {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", hs.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		for _, srv := range servers {
			srv.Shutdown()
		}
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, hs := range httpServers {
			_ = hs.Shutdown(shCtx)
		}
		return nil
	})

	log.Info("server ready", zap.Int("lobbies", len(servers)))
	err = g.Wait()

	// Disconnect hooks were queued by Shutdown; let them finish before the
	// database pool closes.
	pool.Close()
	if err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// poolReporter publishes worker backlog.
type poolReporter struct {
	pool    *worker.Pool
	metrics *observability.Metrics
}

func (r *poolReporter) Name() string            { return "worker-pool-report" }
func (r *poolReporter) Phase() coresys.Phase    { return coresys.PhaseReport }
func (r *poolReporter) Interval() time.Duration { return 5 * time.Second }
func (r *poolReporter) Update(context.Context)  { r.metrics.SetWorkerPending(r.pool.Pending()) }
