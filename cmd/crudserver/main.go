// crudserver serves a crud source over HTTP in the wire format spoken by
// adapters/remote, with Prometheus metrics on /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/preslavrachev/crudsource/adapters/memory"
	sqladapter "github.com/preslavrachev/crudsource/adapters/sql"
	"github.com/preslavrachev/crudsource/config"
	"github.com/preslavrachev/crudsource/core"
	"github.com/preslavrachev/crudsource/internal/logger"
	"github.com/preslavrachev/crudsource/metrics"
	"github.com/preslavrachev/crudsource/ui"
)

func main() {
	debug := flag.Bool("debug", false, "Enable SQL debug logging")
	seed := flag.Bool("seed", false, "Create the table if missing and insert sample records")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *debug {
		cfg.DebugEnabled = true
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})

	if err := run(cfg, log, *seed); err != nil {
		log.Fatal().Err(err).Msg("crud server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger, seed bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	src, closeSource, err := openSource(cfg, log, m, seed)
	if err != nil {
		return err
	}
	defer closeSource()

	crud := ui.Handler(src, cfg.Server.Endpoint,
		ui.WithLogger(log),
		ui.WithMetrics(m),
		ui.WithPageSize(cfg.Source.PageSize),
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Endpoint+"/", crud)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.LogServerStart(log, cfg.Server.ListenAddr, cfg.Source.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.LogServerShutdown(log)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openSource builds the configured backend and returns its cleanup function
func openSource(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics, seed bool) (core.Source, func(), error) {
	switch cfg.Source.Backend {
	case config.BackendMemory:
		opts := []memory.Option{
			memory.WithLatency(cfg.Source.Latency),
			memory.WithLogger(logger.Component(log, "memory")),
			memory.WithMetrics(m),
		}
		if seed {
			opts = append(opts, memory.WithRecords(sampleRecords(cfg.Source.KeyField)))
		}
		return memory.New(cfg.Source.KeyField, opts...), func() {}, nil

	case config.BackendSQLite, config.BackendPostgres:
		driver := "sqlite3"
		if cfg.Source.Backend == config.BackendPostgres {
			driver = "postgres"
		}
		db, err := sqlx.Open(driver, cfg.Source.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s database: %w", cfg.Source.Backend, err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Source.Backend, err)
		}

		src, err := sqladapter.New(db, cfg.Source.Table, cfg.Source.KeyField,
			sqladapter.WithLogger(logger.Component(log, "sql")),
			sqladapter.WithDebug(cfg.DebugEnabled),
			sqladapter.WithMetrics(m),
		)
		if err != nil {
			db.Close()
			return nil, nil, err
		}

		if seed {
			if err := createSchema(db, cfg.Source.Table, cfg.Source.KeyField); err != nil {
				db.Close()
				return nil, nil, err
			}
			if st := src.Create(context.Background(), sampleRecords(cfg.Source.KeyField)); !st.IsOK() {
				log.Warn().Str("error", st.ErrorMessage).Msg("sample records not inserted")
			}
		}
		return src, func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Source.Backend)
}

// createSchema creates the sample table. The table name has been validated by the adapter.
func createSchema(db *sqlx.DB, table, keyField string) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		%s INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		value INTEGER,
		created_at TEXT
	)`, table, sqladapter.ColumnName(keyField))

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}
	return nil
}

func sampleRecords(keyField string) []core.Record {
	now := time.Now().UTC()
	records := make([]core.Record, 0, 25)
	for i := 1; i <= 25; i++ {
		r := core.Record{
			keyField:    i,
			"title":     fmt.Sprintf("Record %d", i),
			"createdAt": now.Add(-time.Duration(i) * time.Hour).Format(time.RFC3339),
		}
		if i%3 != 0 {
			r["value"] = i * 10
		}
		records = append(records, r)
	}
	return records
}
