package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"missionctl/internal/budget"
	"missionctl/internal/config"
	"missionctl/internal/db"
	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/events"
	"missionctl/internal/migrate"
	"missionctl/internal/store"
	"missionctl/internal/usage"
)

const eventsFile = "events.jsonl"

// App is one opened workspace: the store, event log and the services built on
// them. CLI commands and the server share it.
type App struct {
	Workspace string
	DataDir   string
	Config    *config.Config
	Logger    *log.Logger

	DB     *sql.DB
	Store  *store.Store
	Events *events.Log
	Ledger budget.Ledger
	Usage  usage.Accountant

	mu     sync.RWMutex
	roster config.Roster
}

// Open resolves the data directory, opens the configured backend and sink,
// and applies migrations when sqlite is involved. cfg nil loads missionctl.yml
// from the workspace or falls back to defaults.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg == nil {
		loaded, err := config.LoadOrDefault(workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	dataDir, err := db.EnsureDataDir(cfg.DataDir(workspace))
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	a := &App{
		Workspace: workspace,
		DataDir:   dataDir,
		Config:    cfg,
		Logger:    logger,
		roster:    cfg.Roster,
	}

	if cfg.Storage.Backend == config.BackendSQLite || cfg.Events.Sink == config.SinkSQLite {
		conn, err := db.Open(db.Config{DataDir: dataDir})
		if err != nil {
			return nil, err
		}
		if _, err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.DB = conn
	}

	var backend store.Backend = store.FileBackend{Dir: dataDir}
	if cfg.Storage.Backend == config.BackendSQLite {
		backend = store.SQLiteBackend{DB: a.DB}
	}
	a.Store = store.New(backend, logger)

	var sink events.Sink = &events.JSONLSink{Path: filepath.Join(dataDir, eventsFile)}
	if cfg.Events.Sink == config.SinkSQLite {
		sink = events.SQLSink{DB: a.DB}
	}
	a.Events = events.NewLog(sink, cfg.Events.BufferSize, logger)

	a.Ledger = budget.Ledger{Store: a.Store, Events: a.Events, Logger: logger}
	a.Usage = usage.Accountant{Store: a.Store, Config: cfg, Ledger: &a.Ledger}
	a.Ledger.Usage = a.Usage
	return a, nil
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// Engine returns a task engine bound to the current roster.
func (a *App) Engine() engine.Engine {
	return engine.New(a.Store, a.Events, a.Roster(), a.Logger)
}

func (a *App) Roster() config.Roster {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roster
}

// SetRoster swaps the roster and seeds any new or changed identities.
func (a *App) SetRoster(ctx context.Context, r config.Roster) ([]domain.Agent, bool, error) {
	a.mu.Lock()
	a.roster = r
	a.mu.Unlock()
	return a.Engine().SeedAgents(ctx, r)
}

// Seed upserts the configured roster into the agents collection.
func (a *App) Seed(ctx context.Context) ([]domain.Agent, bool, error) {
	return a.Engine().SeedAgents(ctx, a.Roster())
}

// Init writes the default missionctl.yml unless one exists and initialises the
// budget from the configured tier when the ledger is empty.
func Init(ctx context.Context, workspace string, force bool, logger *log.Logger) (*App, bool, error) {
	path := config.Path(workspace)
	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) || force {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, false, err
		}
		if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
			return nil, false, fmt.Errorf("write config: %w", err)
		}
		created = true
	} else if err != nil {
		return nil, false, err
	}
	a, err := Open(ctx, workspace, nil, logger)
	if err != nil {
		return nil, false, err
	}
	if _, _, err := a.Seed(ctx); err != nil {
		a.Close()
		return nil, false, err
	}
	s, err := a.Ledger.Get(ctx)
	if err != nil {
		a.Close()
		return nil, false, err
	}
	if len(s.Ledger) == 0 {
		tier := a.Config.TierByID(a.Config.Billing.Tier)
		if _, err := a.Ledger.Init(ctx, tier.ID, tier.MonthlyBudget); err != nil {
			a.Close()
			return nil, false, err
		}
	}
	return a, created, nil
}
