// Command lockctl inspects and recovers distributed locks.
//
//	lockctl [-config file] status <key>
//	lockctl [-config file] release <key>
//	lockctl [-config file] serve
//
// release deletes the lock record without checking the owner. Run it only
// when the holder is known to be gone.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enverbisevac/lockmgr/admin"
	"github.com/enverbisevac/lockmgr/lock"
	"github.com/enverbisevac/lockmgr/lock/inmem"
	lockpgx "github.com/enverbisevac/lockmgr/lock/pgx"
	lockredis "github.com/enverbisevac/lockmgr/lock/redis"
	locksqlite "github.com/enverbisevac/lockmgr/lock/sqlite"
	lockprom "github.com/enverbisevac/lockmgr/metrics/prometheus"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var errUsage = errors.New("usage: lockctl [-config file] status|release <key> | serve")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("lockctl", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("LOCKCTL_CONFIG"), "path to the YAML config file")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	stdr.SetVerbosity(config.Log.Verbosity)
	logger := stdr.New(log.New(os.Stderr, "lockctl ", log.LstdFlags))
	ctx = logr.NewContext(ctx, logger)

	store, closeStore, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	manager := lock.New(store,
		lock.WithPrefix(config.Prefix),
		lock.WithMetrics(lockprom.New(lockprom.Config{Namespace: "lockmgr", Registry: registry})),
	)

	cmd := flags.Args()
	if len(cmd) == 0 {
		return errUsage
	}

	switch {
	case cmd[0] == "status" && len(cmd) == 2:
		locked, err := manager.IsLocked(ctx, cmd[1])
		if err != nil {
			return err
		}
		state := "free"
		if locked {
			state = "locked"
		}
		fmt.Fprintf(stdout, "%s %s\n", cmd[1], state)
		return nil

	case cmd[0] == "release" && len(cmd) == 2:
		if err := manager.ForceRelease(ctx, cmd[1]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s released\n", cmd[1])
		return nil

	case cmd[0] == "serve" && len(cmd) == 1:
		return serve(ctx, config.HTTP.Addr, manager, registry, logger)
	}

	return errUsage
}

func openStore(ctx context.Context, config Config) (lock.Store, func(), error) {
	switch config.Backend {
	case backendMemory:
		return inmem.New(), func() {}, nil

	case backendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Username: config.Redis.Username,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		store := lockredis.New(client, lockredis.WithOperationTimeout(config.Redis.OperationTimeout))
		return store, func() { _ = client.Close() }, nil

	case backendPostgres:
		pool, err := pgxpool.New(ctx, config.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := lockpgx.New(pool, lockpgx.WithTableName(config.Postgres.Table))
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate lock table: %w", err)
		}
		return store, pool.Close, nil

	case backendSQLite:
		db, err := sql.Open("sqlite", "file:"+config.SQLite.Path+"?_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		store := locksqlite.New(db, locksqlite.WithTableName(config.SQLite.Table))
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate lock table: %w", err)
		}
		return store, func() { _ = db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown backend %q", config.Backend)
}

func serve(ctx context.Context, addr string, manager *lock.Manager, registry *prometheus.Registry, logger logr.Logger) error {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logr.NewContext(req.Context(), logger)))
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Mount("/", admin.NewHandler(manager))

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving admin api", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
