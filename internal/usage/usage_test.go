package usage_test

import (
	"context"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"missionctl/internal/budget"
	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/store"
	"missionctl/internal/usage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newAccountant(t *testing.T, c *clock) usage.Accountant {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	s := store.New(store.FileBackend{Dir: t.TempDir()}, quiet)
	return usage.Accountant{
		Store:  s,
		Config: config.Default(),
		Ledger: &budget.Ledger{Store: s, Logger: quiet, Now: c.now},
		Now:    c.now,
	}
}

func TestRecordRollsDayAndMonth(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 30, 10, 0, 0, 0, time.UTC)}
	a := newAccountant(t, c)
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, 1.25))
	require.NoError(t, a.Record(ctx, 0.75))
	u, err := a.State(ctx)
	require.NoError(t, err)
	require.Equal(t, "2026-03", u.MonthKey)
	require.Equal(t, "2026-03-30", u.TodayKey)
	require.Equal(t, 2.0, u.EURUsedMonth)
	require.Equal(t, 2.0, u.EURUsedToday)

	c.t = c.t.Add(24 * time.Hour)
	require.NoError(t, a.Record(ctx, 1))
	u, err = a.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 3.0, u.EURUsedMonth)
	require.Equal(t, 1.0, u.EURUsedToday)

	c.t = c.t.Add(24 * time.Hour)
	u, err = a.State(ctx)
	require.NoError(t, err)
	require.Equal(t, "2026-04", u.MonthKey)
	require.Zero(t, u.EURUsedMonth)
	require.Zero(t, u.EURUsedToday)
}

func TestRecordIgnoresBadAmounts(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)}
	a := newAccountant(t, c)
	ctx := context.Background()
	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		require.NoError(t, a.Record(ctx, v))
	}
	u, err := a.State(ctx)
	require.NoError(t, err)
	require.Zero(t, u.EURUsedMonth)
}

func TestSummaryUsesLedgerTier(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	a := newAccountant(t, c)
	ctx := context.Background()
	_, err := a.Ledger.Init(ctx, "pro", 12.5)
	require.NoError(t, err)
	require.NoError(t, a.Record(ctx, 2.5))

	s, err := a.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, "pro", s.Tier)
	require.Equal(t, 12.5, s.MonthlyBudget)
	require.Equal(t, 2.5, s.Used)
	require.Equal(t, 10.0, s.Remaining)
	require.Equal(t, 20.0, s.PctUsed)
	require.Equal(t, 0.42, s.DailyRecommended)
	require.True(t, s.OverDaily)
	require.False(t, s.LimitReached)
	require.False(t, s.Locked)
	require.NotNil(t, s.PaceDaysLeft)
	// 2.5 over 10 days is 0.25/day; 10 remaining lasts 40 days.
	require.Equal(t, 40.0, *s.PaceDaysLeft)
	require.NotNil(t, s.DaysUntilLimitAtThisPace)
	require.Equal(t, 4, *s.DaysUntilLimitAtThisPace)
}

func TestSummarizeEdges(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	free := config.Default().TierByID("free")

	s := usage.Summarize(free, domain.UsageState{}, false, now)
	require.Equal(t, "free", s.Tier)
	require.Nil(t, s.PaceDaysLeft)
	require.Nil(t, s.DaysUntilLimitAtThisPace)
	require.False(t, s.OverDaily)

	s = usage.Summarize(free, domain.UsageState{EURUsedMonth: 3, EURUsedToday: 3}, true, now)
	require.True(t, s.LimitReached)
	require.True(t, s.Locked)
	require.Equal(t, 100.0, s.PctUsed)
	require.Zero(t, s.Remaining)
	require.Equal(t, 0, *s.DaysUntilLimitAtThisPace)

	rec := usage.DailyRecommended(free)
	within := usage.Summarize(free, domain.UsageState{EURUsedMonth: rec * 1.04, EURUsedToday: rec * 1.04}, false, now)
	require.False(t, within.OverDaily)
}

func TestUnknownTierFallsBackToFree(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "free", cfg.TierByID("enterprise").ID)
}

func TestClampAIs(t *testing.T) {
	cfg := config.Default()
	pro := cfg.TierByID("pro")
	require.Equal(t, 1, usage.ClampAIs(pro, 0))
	require.Equal(t, 1, usage.ClampAIs(pro, -4))
	require.Equal(t, 5, usage.ClampAIs(pro, 5))
	require.Equal(t, 7, usage.ClampAIs(pro, 40))
	require.Equal(t, 2, usage.ClampAIs(cfg.TierByID("free"), 3))
	require.Equal(t, 1, usage.ClampAIs(config.Tier{}, 3))
}
