package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/btn-network/blockchain/app/services/node/handlers"
	"github.com/btn-network/blockchain/foundation/blockchain/consensus"
	"github.com/btn-network/blockchain/foundation/blockchain/mining"
	"github.com/btn-network/blockchain/foundation/blockchain/state"
	"github.com/btn-network/blockchain/foundation/blockchain/storage/leveldb"
	"github.com/btn-network/blockchain/foundation/blockchain/worker"
	"github.com/btn-network/blockchain/foundation/events"
	"github.com/btn-network/blockchain/foundation/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			CORSOrigins     []string      `conf:"default:*"`
		}
		Node struct {
			ID             string        `conf:"help:node id generated when empty"`
			Miner          string        `conf:"default:user"`
			DBPath         string        `conf:"default:zblock/btn"`
			Difficulty     int           `conf:"default:2"`
			MiningReward   float64       `conf:"default:0.1"`
			MaxConnections int           `conf:"default:8"`
			KnownPeers     []string      `conf:"help:websocket peer addresses to connect to on startup"`
			TickInterval   time.Duration `conf:"default:1s"`
			AutoMine       bool          `conf:"default:false"`
			Agreement      float64       `conf:"default:0.9"`
			SearchRate     int           `conf:"default:0,help:hashes per second per worker with 0 unpaced"`
		}
		Performance struct {
			CPUCores      int     `conf:"default:4"`
			MemoryUsage   float64 `conf:"default:0"`
			BatteryLevel  float64 `conf:"default:100"`
			ThermalState  string  `conf:"default:normal"`
			MonitorMemory bool    `conf:"default:true,help:sample host memory usage every 5s"`
		}
		RateLimit struct {
			PerSecond float64 `conf:"default:50"`
			Burst     int     `conf:"default:100"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "btn blockchain node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Node.DBPath), 0755); err != nil {
		return fmt.Errorf("creating db folder: %w", err)
	}

	store, err := leveldb.New(cfg.Node.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	// The parallel searcher keeps the real workers busy between blocks.
	searcher := mining.NewParallelSearcher(cfg.Node.SearchRate)

	// Host memory pressure feeds the intensity policy unless turned off.
	var monitor func() (float64, error)
	if cfg.Performance.MonitorMemory {
		monitor = mining.SystemMemory
	}

	// The state value represents the blockchain node and manages the ledger
	// and provides an API for application support.
	st, err := state.New(state.Config{
		Store:        store,
		Miner:        cfg.Node.Miner,
		Difficulty:   cfg.Node.Difficulty,
		MiningReward: cfg.Node.MiningReward,
		Performance: mining.Performance{
			CPUCores:     cfg.Performance.CPUCores,
			MemoryUsage:  cfg.Performance.MemoryUsage,
			BatteryLevel: cfg.Performance.BatteryLevel,
			ThermalState: cfg.Performance.ThermalState,
		},
		Searcher:       searcher,
		Monitor:        monitor,
		NodeID:         cfg.Node.ID,
		MaxConnections: cfg.Node.MaxConnections,
		Quorum:         consensus.NewRandomQuorum(nil, cfg.Node.Agreement),
		EvHandler:      ev,
	})
	if err != nil {
		store.Close()
		return err
	}
	defer st.Shutdown()

	log.Infow("startup", "status", "node ready", "nodeid", st.NodeID(), "chainLength", st.ChainLength())

	// The worker package drives the node from the clock and processes the
	// inbound gossip. The worker will register itself with the state.
	worker.Run(st, cfg.Node.TickInterval, ev)

	for _, address := range cfg.Node.KnownPeers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := st.ConnectPeer(ctx, address); err != nil {
			log.Infow("startup", "status", "known peer unreachable", "address", address, "ERROR", err)
		}
		cancel()
	}

	if cfg.Node.AutoMine {
		st.StartMining()
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst),
		Origins:  cfg.Web.CORSOrigins,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
