package app_test

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"missionctl/internal/app"
	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/store"
)

var quiet = log.New(io.Discard, "", 0)

func TestInitWritesConfigAndSeeds(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()
	a, created, err := app.Init(ctx, ws, false, quiet)
	require.NoError(t, err)
	defer a.Close()
	require.True(t, created)
	require.FileExists(t, filepath.Join(ws, "missionctl.yml"))

	agents, err := a.Engine().ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, len(config.Default().Roster.Agents))

	s, err := a.Ledger.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "free", s.Tier)
	require.Equal(t, 2.5, s.EURCap)

	a2, created, err := app.Init(ctx, ws, false, quiet)
	require.NoError(t, err)
	defer a2.Close()
	require.False(t, created)
	s2, err := a2.Ledger.Get(ctx)
	require.NoError(t, err)
	require.Len(t, s2.Ledger, len(s.Ledger), "second init must not re-initialise the ledger")
}

func TestOpenSQLiteBackendAndSink(t *testing.T) {
	ws := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Events.Sink = config.SinkSQLite
	ctx := context.Background()

	a, err := app.Open(ctx, ws, cfg, quiet)
	require.NoError(t, err)
	require.NotNil(t, a.DB)
	_, ok := a.Store.Backend.(store.SQLiteBackend)
	require.True(t, ok)

	task, err := a.Engine().CreateTask(ctx, engine.TaskCreateOptions{Title: "persisted"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := app.Open(ctx, ws, cfg, quiet)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Engine().GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "persisted", got.Title)

	evts := b.Events.List(ctx, 10)
	require.NotEmpty(t, evts)
	require.Equal(t, domain.EventTaskCreated, evts[len(evts)-1].Type)
}

func TestCommitFeedsUsage(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, t.TempDir(), config.Default(), quiet)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Ledger.Init(ctx, "pro", 12.5)
	require.NoError(t, err)
	res, err := a.Ledger.Reserve(ctx, 2, "", nil)
	require.NoError(t, err)
	_, err = a.Ledger.Commit(ctx, res.ReservationID, 1.5, "", nil)
	require.NoError(t, err)

	u, err := a.Usage.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.5, u.EURUsedMonth)
	sum, err := a.Usage.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, "pro", sum.Tier)
}

func TestSetRosterReseeds(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	a, err := app.Open(ctx, ws, config.Default(), quiet)
	require.NoError(t, err)
	defer a.Close()

	r := config.Roster{Agents: []config.RosterAgent{{ID: "solo", Name: "Solo", Role: "lead"}}}
	agents, changed, err := a.SetRoster(ctx, r)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, agents, 1)
	require.True(t, a.Engine().Roster.Has("SOLO"))
}

func TestOpenRejectsBadConfigFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "missionctl.yml"), []byte("storage:\n  backend: postgres\n"), 0o644))
	_, err := app.Open(context.Background(), ws, nil, quiet)
	require.Error(t, err)
}
