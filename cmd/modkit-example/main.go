// Command modkit-example boots the users fixture module through the full
// registry lifecycle and serves it over HTTP, the way an embedding
// application wires modkit together: load config, build a DB manager and
// advisory-lock manager, register modules, run init/db-migrate/rest/start,
// then wait for a signal and run stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hyperspot-run/modkit/examples/users"
	appconfig "github.com/hyperspot-run/modkit/pkg/config"
	applogger "github.com/hyperspot-run/modkit/pkg/logger"
	"github.com/hyperspot-run/modkit/pkg/metrics"
	"github.com/hyperspot-run/modkit/pkg/modkit/advisorylock"
	"github.com/hyperspot-run/modkit/pkg/modkit/dbconf"
	"github.com/hyperspot-run/modkit/pkg/modkit/dbmanager"
	"github.com/hyperspot-run/modkit/pkg/modkit/registry"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dataDir := flag.String("data-dir", "./data", "directory holding each module's SQLite database")
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	var cfg *appconfig.Config
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := loadConfigFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	} else {
		loaded, err := appconfig.Load()
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	appLog := applogger.New(applogger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	appMetrics := metrics.New(metrics.Registry)

	provider := func(module string) (dbconf.DbConnConfig, bool, error) {
		file := module + ".db"
		return dbconf.DbConnConfig{File: &file}, true, nil
	}
	dbmgr := dbmanager.New(&dbconf.GlobalDatabaseConfig{}, *dataDir, provider, zerolog.Nop()).WithMetrics(appMetrics)

	lockHandle := dbmanager.NewHandle(dbmanager.EngineSQLite, nil, "file:"+filepath.Join(*dataDir, "locks.db"))
	lockMgr := advisorylock.New(lockHandle, "").WithMetrics(appMetrics)

	mod := users.New(users.DefaultConfig())
	host := users.NewHost()

	builder := registry.NewBuilder().
		WithDBResolver(func(ctx context.Context, module string) (any, error) { return dbmgr.Get(ctx, module) }).
		WithLockAcquirer(lockMgr.Acquirer()).
		WithMetrics(appMetrics).
		WithStopTimeout(time.Duration(cfg.Runtime.StopTimeoutSeconds) * time.Second)
	builder.Register(registry.Registration{Name: "http-host", RestHost: host})
	builder.Register(mod.Registration())

	reg, err := builder.Build()
	if err != nil {
		log.Fatalf("build registry: %v", err)
	}

	ctx := context.Background()
	if err := reg.RunInit(ctx); err != nil {
		log.Fatalf("init phase: %v", err)
	}
	if err := reg.RunDbMigrate(ctx); err != nil {
		log.Fatalf("db-migrate phase: %v", err)
	}
	if _, err := reg.RunRest(ctx, nil, nil); err != nil {
		log.Fatalf("rest phase: %v", err)
	}
	if err := reg.RunStart(ctx); err != nil {
		log.Fatalf("start phase: %v", err)
	}

	host.Mux().Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	listenAddr := determineAddr(*addr, cfg)
	srv := &http.Server{Addr: listenAddr, Handler: host.Mux()}
	go func() {
		appLog.WithField("addr", listenAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithField("error", err).Error("http shutdown")
	}
	if errs := reg.RunStop(shutdownCtx); len(errs) != 0 {
		for name, err := range errs {
			appLog.WithField("module", name).WithField("error", err).Error("stop failed")
		}
	}
}

func determineAddr(flagAddr string, cfg *appconfig.Config) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	if cfg != nil && cfg.Server.Port != 0 {
		host := strings.TrimSpace(cfg.Server.Host)
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	}
	return ":8080"
}

func loadConfigFile(path string) (*appconfig.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return appconfig.LoadConfig(path)
	default:
		return appconfig.LoadFile(path)
	}
}
