package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
	"github.com/keispace/crdtsync/internal/infra/buildinfo"
	"github.com/keispace/crdtsync/internal/infra/confloader"
	"github.com/keispace/crdtsync/internal/infra/shutdown"
	"github.com/keispace/crdtsync/internal/server/clusterserver"
	"github.com/keispace/crdtsync/internal/server/config"
	"github.com/keispace/crdtsync/internal/server/httpserver"
	"github.com/keispace/crdtsync/internal/server/httpserver/handler"
	"github.com/keispace/crdtsync/internal/storage"
	"github.com/keispace/crdtsync/internal/storage/snapshot"
	"github.com/keispace/crdtsync/internal/storage/wal"
	"github.com/keispace/crdtsync/internal/telemetry/logger"
	"github.com/keispace/crdtsync/internal/telemetry/metric"
	"github.com/keispace/crdtsync/pkg/keylock"
)

// shutdownTimeout bounds all shutdown hooks together.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("crdtsync-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	info := buildinfo.Get()
	log.Info("starting crdtsync-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile,
		"storage_engine", cfg.Storage.Engine,
		"data_dir", cfg.Storage.DataDir)

	registry := metric.NewRegistry()
	metrics := metric.New(registry)

	engine, err := initStorage(cfg, registry, log)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	shutdownHandler := shutdown.NewHandler(shutdownTimeout, log)

	// Hooks run in reverse order of registration.
	shutdownHandler.OnShutdown("storage", func(ctx context.Context) error {
		return engine.Close()
	})

	ctx := context.Background()
	replicaID, err := engine.ReplicaID(ctx, replicaIDGenerator(cfg))
	if err != nil {
		engine.Close()
		return fmt.Errorf("load replica id: %w", err)
	}
	if cfg.Node.ReplicaID != "" && cfg.Node.ReplicaID != replicaID {
		log.Warn("node.replica_id differs from the stored replica id; keeping the stored one",
			"configured", cfg.Node.ReplicaID, "stored", replicaID)
	}

	svc := initServices(cfg, engine, metrics, replicaID, log)
	registry.MustRegister(metric.NewCollector(documentSource(svc.Docs), log))

	svc.AutoCompactor.Start()
	shutdownHandler.OnShutdown("auto-compactor", svc.AutoCompactor.Stop)

	peerServer := clusterserver.New(clusterserver.NewHandler(svc.Docs, log), log)

	var peers func() []string
	if cfg.Cluster.Enabled {
		discovery, err := clusterserver.NewDiscovery(config.ToDiscoveryConfig(cfg, replicaID, log))
		if err != nil {
			engine.Close()
			return fmt.Errorf("start discovery: %w", err)
		}
		shutdownHandler.OnShutdown("discovery", func(ctx context.Context) error {
			if err := discovery.Leave(); err != nil {
				log.Warn("leave cluster failed", "error", err)
			}
			return discovery.Shutdown()
		})
		peers = peerAddrs(discovery)
		log.Info("cluster discovery started",
			"gossip_addr", discovery.GossipAddr(),
			"advertise_addr", config.AdvertiseAddr(cfg),
			"members", discovery.NumMembers())
	}

	peerHTTPClient := &http.Client{Timeout: cfg.Sync.Timeout}
	apiHandler := handler.New(handler.Config{
		Docs: svc.Docs,
		Dial: func(addr, docID string) service.PeerClient {
			return clusterserver.NewClient(peerHTTPClient, addr).ForDoc(docID)
		},
		Peers:  peers,
		Ready:  engine.Ping,
		Logger: log,
	})

	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Handler = apiHandler
	routerCfg.Logger = log
	routerCfg.GlobalRateLimit = cfg.RateLimit.RPS
	routerCfg.Recorder = metrics
	routerCfg.MetricsHandler = metric.Handler(registry)

	// Without a dedicated peer listener the peer service shares the API port.
	if cfg.Server.Peer.Addr == "" {
		routerCfg.PeerPath = peerServer.Path()
		routerCfg.PeerHandler = peerServer.Handler()
	} else {
		if err := peerServer.Listen(cfg.Server.Peer.Addr); err != nil {
			engine.Close()
			return fmt.Errorf("peer listener: %w", err)
		}
		shutdownHandler.OnShutdown("peer-server", peerServer.Shutdown)
		go func() {
			log.Info("peer server listening", "addr", peerServer.Addr())
			if err := peerServer.Serve(); err != nil {
				log.Error("peer server error", "error", err)
				shutdownHandler.Trigger("peer server failed")
			}
		}()
	}

	httpServer := httpserver.New(cfg.Server.HTTP.Addr, httpserver.NewRouter(routerCfg))
	if err := httpServer.Listen(); err != nil {
		engine.Close()
		return fmt.Errorf("http listener: %w", err)
	}
	shutdownHandler.OnShutdown("http-server", httpServer.Shutdown)

	go func() {
		log.Info("HTTP server listening", "addr", httpServer.Addr(), "tls", cfg.Server.HTTP.TLSCertFile != "")

		var err error
		if cfg.Server.HTTP.TLSCertFile != "" && cfg.Server.HTTP.TLSKeyFile != "" {
			err = httpServer.ServeTLS(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile)
		} else {
			err = httpServer.Serve()
		}
		if err != nil {
			log.Error("HTTP server error", "error", err)
			shutdownHandler.Trigger("http server failed")
		}
	}()

	if *configFile != "" {
		watcher, err := watchConfig(*configFile, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown("config-watcher", func(context.Context) error {
				return watcher.Stop()
			})
		}
	}

	log.Info("server started, press Ctrl+C to stop", "replica_id", replicaID)
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from defaults, file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// initLogger builds the process logger and installs it as the slog default.
func initLogger(cfg *config.ServerConfig) (*slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}

	slog.SetDefault(log)
	return log, nil
}

func initStorage(cfg *config.ServerConfig, registry prometheus.Registerer, log *slog.Logger) (*storage.Engine, error) {
	storageCfg := storage.DefaultConfig(cfg.Storage.DataDir)
	storageCfg.KV.Engine = cfg.Storage.Engine
	storageCfg.KV.SyncWrites = cfg.Storage.SyncWrites
	storageCfg.Registry = registry
	storageCfg.Logger = log

	return storage.New(storageCfg)
}

// replicaIDGenerator returns the generator used when no replica id is
// stored yet: the configured id if any, else a fresh one.
func replicaIDGenerator(cfg *config.ServerConfig) func() string {
	return func() string {
		if cfg.Node.ReplicaID != "" {
			return cfg.Node.ReplicaID
		}
		return domain.GenerateReplicaID()
	}
}

// Services holds the document services of one node.
type Services struct {
	Compactor     *service.Compactor
	Docs          *service.DocumentService
	AutoCompactor *service.AutoCompactor
}

// initServices builds the document stack on top of the storage engine.
func initServices(cfg *config.ServerConfig, engine *storage.Engine, rec service.Recorder, replicaID string, log *slog.Logger) *Services {
	compactor := service.NewCompactor(
		wal.New(engine.KV(), wal.WithLogger(log)),
		snapshot.New(engine.KV(), snapshot.WithLogger(log)),
		service.NewCRDTEngine(nil),
		service.WithLocks(keylock.New(keylock.WithTimeout(cfg.Storage.LockTimeout))),
		service.WithCompactorLogger(log),
		service.WithRecorder(rec),
	)
	coordinator := service.NewCoordinator(compactor, cfg.Sync.Timeout)

	log.Info("services initialized", "replica_id", replicaID)

	return &Services{
		Compactor:     compactor,
		Docs:          service.NewDocumentService(compactor, coordinator, replicaID),
		AutoCompactor: service.NewAutoCompactor(compactor, cfg.Storage.CompactInterval),
	}
}

// documentLister is the part of the document service the metrics
// collector reads.
type documentLister interface {
	Documents(ctx context.Context) ([]string, error)
	Status(ctx context.Context, docID string) (*service.DocumentStatus, error)
}

// documentSource exposes per-document log state to the metrics collector.
func documentSource(docs documentLister) metric.DocumentSource {
	return metric.DocumentSourceFunc(func(ctx context.Context) ([]metric.DocumentStat, error) {
		ids, err := docs.Documents(ctx)
		if err != nil {
			return nil, err
		}
		stats := make([]metric.DocumentStat, 0, len(ids))
		for _, id := range ids {
			st, err := docs.Status(ctx, id)
			if err != nil {
				return nil, err
			}
			stats = append(stats, metric.DocumentStat{
				DocID:        st.DocID,
				LastSeq:      st.LastSeq,
				MaxSeq:       st.MaxSeq,
				SnapshotSize: st.SnapshotSize,
			})
		}
		return stats, nil
	})
}

// peerLister is satisfied by *clusterserver.Discovery.
type peerLister interface {
	Peers() []clusterserver.Peer
}

// peerAddrs lists the RPC addresses of the live peers.
func peerAddrs(d peerLister) func() []string {
	return func() []string {
		peers := d.Peers()
		addrs := make([]string, 0, len(peers))
		for _, p := range peers {
			if p.RPCAddr != "" {
				addrs = append(addrs, p.RPCAddr)
			}
		}
		return addrs
	}
}

// watchConfig reloads the config file on change. Only log.level applies
// at runtime; other changes are reported and need a restart.
func watchConfig(path string, log *slog.Logger) (*confloader.Watcher, error) {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(path); err != nil {
		watcher.Stop()
		return nil, err
	}

	watcher.OnChange(func(changed string) {
		cfg, err := loadConfig(changed)
		if err != nil {
			log.Warn("config reload rejected", "path", changed, "error", err)
			return
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("log level not changed", "error", err)
			return
		}
		log.Info("config reloaded", "path", changed, "log_level", cfg.Log.Level)
	})
	watcher.StartAsync()
	return watcher, nil
}
