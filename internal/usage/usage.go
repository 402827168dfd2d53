package usage

import (
	"context"
	"math"
	"time"

	"missionctl/internal/budget"
	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/store"
)

const (
	monthLayout = "2006-01"
	dayLayout   = "2006-01-02"
	// overDailyTolerance lets today run 5% above the recommendation before warning.
	overDailyTolerance = 1.05
)

// Accountant tracks month and day spend counters in the usage collection.
type Accountant struct {
	Store  *store.Store
	Config *config.Config
	// Ledger supplies the active tier and lock flag; nil means tier from config.
	Ledger *budget.Ledger
	Now    func() time.Time
}

type Summary struct {
	Tier                     string   `json:"tier"`
	MonthlyBudget            float64  `json:"monthlyBudgetEur"`
	Used                     float64  `json:"usedThisMonthEur"`
	Remaining                float64  `json:"remainingThisMonthEur"`
	PctUsed                  float64  `json:"pctUsed"`
	DailyRecommended         float64  `json:"dailyRecommendedEur"`
	UsedToday                float64  `json:"usedTodayEur"`
	TodayVsRecommendedPct    float64  `json:"todayVsRecommendedPct"`
	OverDaily                bool     `json:"overDaily"`
	PaceDaysLeft             *float64 `json:"paceDaysLeftEstimate,omitempty"`
	DaysUntilLimitAtThisPace *int     `json:"daysUntilLimitAtThisPace"`
	LimitReached             bool     `json:"limitReached"`
	Locked                   bool     `json:"locked"`
}

// State returns the counters rolled to the current month and day.
func (a Accountant) State(ctx context.Context) (domain.UsageState, error) {
	var u domain.UsageState
	if _, err := a.Store.Load(ctx, store.Usage, &u); err != nil {
		return domain.UsageState{}, err
	}
	a.roll(&u)
	return u, nil
}

// Record adds eur to both counters. Non-finite or negative amounts count as 0.
func (a Accountant) Record(ctx context.Context, eur float64) error {
	_, err := a.Add(ctx, eur)
	return err
}

func (a Accountant) Add(ctx context.Context, eur float64) (domain.UsageState, error) {
	if math.IsNaN(eur) || math.IsInf(eur, 0) || eur < 0 {
		eur = 0
	}
	return store.Mutate(ctx, a.Store, store.Usage, func(u *domain.UsageState) error {
		a.roll(u)
		u.EURUsedMonth += eur
		u.EURUsedToday += eur
		u.UpdatedAt = domain.FormatTime(a.now())
		return nil
	})
}

// Summary reports spend against the active tier's monthly budget.
func (a Accountant) Summary(ctx context.Context) (Summary, error) {
	u, err := a.State(ctx)
	if err != nil {
		return Summary{}, err
	}
	tierID := ""
	locked := false
	if a.Ledger != nil {
		s, err := a.Ledger.Get(ctx)
		if err != nil {
			return Summary{}, err
		}
		tierID, locked = s.Tier, s.Locked
	} else if a.Config != nil {
		tierID = a.Config.Billing.Tier
	}
	tier := a.tier(tierID)
	return Summarize(tier, u, locked, a.now()), nil
}

// Summarize is the pure computation behind Summary.
func Summarize(tier config.Tier, u domain.UsageState, locked bool, now time.Time) Summary {
	budgetEUR := tier.MonthlyBudget
	remaining := math.Max(0, budgetEUR-u.EURUsedMonth)
	rec := DailyRecommended(tier)

	s := Summary{
		Tier:             tier.ID,
		MonthlyBudget:    budgetEUR,
		Used:             round2(u.EURUsedMonth),
		Remaining:        round2(remaining),
		DailyRecommended: round2(rec),
		UsedToday:        round2(u.EURUsedToday),
		OverDaily:        u.EURUsedToday > rec*overDailyTolerance,
		LimitReached:     u.EURUsedMonth >= budgetEUR,
		Locked:           locked,
	}
	if budgetEUR > 0 {
		s.PctUsed = round1(math.Min(100, u.EURUsedMonth/budgetEUR*100))
	}
	if rec > 0 {
		s.TodayVsRecommendedPct = round1(u.EURUsedToday / rec * 100)
	}
	if u.EURUsedMonth > 0 {
		daily := u.EURUsedMonth / float64(max(1, now.Day()))
		days := round1(remaining / daily)
		s.PaceDaysLeft = &days
	}
	// Today's spend taken as the ongoing daily pace.
	if u.EURUsedToday > 0 {
		days := int(math.Max(0, math.Floor(remaining/u.EURUsedToday)))
		s.DaysUntilLimitAtThisPace = &days
	}
	return s
}

// DailyRecommended spreads the monthly budget over a 30-day month.
func DailyRecommended(tier config.Tier) float64 {
	return tier.MonthlyBudget / 30
}

// ClampAIs bounds a requested team size to 1..tier.MaxAIs; the leader always counts.
func ClampAIs(tier config.Tier, n int) int {
	hi := tier.MaxAIs
	if hi < 1 {
		hi = 1
	}
	return max(1, min(hi, n))
}

func (a Accountant) tier(id string) config.Tier {
	if a.Config != nil {
		return a.Config.TierByID(id)
	}
	return config.Default().TierByID(id)
}

func (a Accountant) roll(u *domain.UsageState) {
	now := a.now()
	mk, dk := now.Format(monthLayout), now.Format(dayLayout)
	if u.MonthKey != mk {
		u.MonthKey = mk
		u.EURUsedMonth = 0
	}
	if u.TodayKey != dk {
		u.TodayKey = dk
		u.EURUsedToday = 0
	}
}

func (a Accountant) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func round1(n float64) float64 { return math.Round(n*10) / 10 }

func round2(n float64) float64 { return math.Round(n*100) / 100 }
