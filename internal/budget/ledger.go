package budget

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"missionctl/internal/domain"
	"missionctl/internal/events"
	"missionctl/internal/store"
)

// Refusal codes returned in results, never as Go errors.
const (
	CodeLocked       = "BUDGET_LOCKED"
	CodeInsufficient = "INSUFFICIENT_BUDGET"
)

const autoLockNote = "Auto-lock: cap exhausted"

// UsageRecorder receives committed spend.
type UsageRecorder interface {
	Record(ctx context.Context, eur float64) error
}

// Ledger is the capped reserve/commit/release budget. Every operation is one
// atomic rewrite of the budget collection; only persistence failures are
// returned as errors.
type Ledger struct {
	Store  *store.Store
	Events *events.Log
	Usage  UsageRecorder
	Logger *log.Logger
	Now    func() time.Time
}

type ReserveResult struct {
	OK            bool               `json:"ok"`
	ReservationID string             `json:"reservationId,omitempty"`
	Error         string             `json:"error,omitempty"`
	State         domain.BudgetState `json:"state"`
}

type Check struct {
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
	Estimate  float64 `json:"estimate"`
	Remaining float64 `json:"remaining"`
}

// Remaining is cap minus used minus reserved, floored at zero.
func Remaining(s domain.BudgetState) float64 {
	return math.Max(0, s.EURCap-s.EURUsed-s.EURReserved)
}

// CanSpend reports whether estimate is affordable without touching state.
func CanSpend(s domain.BudgetState, estimate float64) Check {
	c := Check{OK: true, Estimate: estimate, Remaining: Remaining(s)}
	switch {
	case s.Locked:
		c.OK, c.Error = false, CodeLocked
	case estimate > c.Remaining:
		c.OK, c.Error = false, CodeInsufficient
	}
	return c
}

func defaultState() domain.BudgetState {
	return domain.BudgetState{Tier: "free", Ledger: []domain.LedgerEntry{}}
}

func (l Ledger) Get(ctx context.Context) (domain.BudgetState, error) {
	s := defaultState()
	if _, err := l.Store.Load(ctx, store.Budget, &s); err != nil {
		return domain.BudgetState{}, err
	}
	fill(&s)
	return s, nil
}

// Init sets tier and cap; a non-positive cap locks the ledger.
func (l Ledger) Init(ctx context.Context, tier string, eurCap float64) (domain.BudgetState, error) {
	if tier == "" {
		tier = "free"
	}
	eurCap = sanitize(eurCap)
	locked := false
	s, err := l.mutate(ctx, func(s *domain.BudgetState) error {
		s.Tier = tier
		s.EURCap = eurCap
		if eurCap <= 0 && !s.Locked {
			s.Locked = true
			locked = true
		}
		l.appendEntry(s, domain.LedgerAdjustCap, eurCap, "initBudget", nil)
		return nil
	})
	if err != nil {
		return s, err
	}
	if locked {
		l.emitLock(ctx, s, "cap is zero", domain.SourceSystem)
	}
	return s, nil
}

func (l Ledger) Lock(ctx context.Context, note string) (domain.BudgetState, error) {
	s, err := l.mutate(ctx, func(s *domain.BudgetState) error {
		s.Locked = true
		l.appendEntry(s, domain.LedgerLock, 0, note, nil)
		return nil
	})
	if err != nil {
		return s, err
	}
	l.emitLock(ctx, s, note, domain.SourceUI)
	return s, nil
}

// Unlock is administrative: the cap is not re-validated.
func (l Ledger) Unlock(ctx context.Context, note string) (domain.BudgetState, error) {
	s, err := l.mutate(ctx, func(s *domain.BudgetState) error {
		s.Locked = false
		l.appendEntry(s, domain.LedgerUnlock, 0, note, nil)
		return nil
	})
	if err != nil {
		return s, err
	}
	l.emit(ctx, domain.Event{
		Source:  domain.SourceUI,
		Type:    domain.EventBudgetUnlocked,
		Message: withNote("Budget unlocked", note),
		Data:    stateData(s),
	})
	return s, nil
}

// Reserve holds amount against the cap. Refusals come back as !OK results.
func (l Ledger) Reserve(ctx context.Context, amount float64, note string, meta map[string]any) (ReserveResult, error) {
	amount = sanitize(amount)
	var res ReserveResult
	autoLocked := false
	s, err := l.mutate(ctx, func(s *domain.BudgetState) error {
		if s.Locked {
			res = ReserveResult{Error: CodeLocked}
			return store.ErrUnchanged
		}
		if amount <= 0 {
			res = ReserveResult{OK: true, ReservationID: uuid.NewString()}
			return store.ErrUnchanged
		}
		if amount > Remaining(*s) {
			res = ReserveResult{Error: CodeInsufficient}
			if s.EURCap-s.EURUsed <= 0 {
				s.Locked = true
				l.appendEntry(s, domain.LedgerLock, 0, autoLockNote, nil)
				autoLocked = true
				return nil
			}
			return store.ErrUnchanged
		}
		id := l.appendEntry(s, domain.LedgerReserve, amount, note, meta)
		s.EURReserved += amount
		res = ReserveResult{OK: true, ReservationID: id}
		return nil
	})
	if err != nil {
		return ReserveResult{}, err
	}
	res.State = s
	if autoLocked {
		l.emitLock(ctx, s, autoLockNote, domain.SourceSystem)
	}
	return res, nil
}

// Commit settles a reservation with the actual spend. Unknown or already
// settled ids release nothing.
func (l Ledger) Commit(ctx context.Context, reservationID string, actual float64, note string, meta map[string]any) (domain.BudgetState, error) {
	actual = sanitize(actual)
	autoLocked := false
	s, err := l.mutate(ctx, func(s *domain.BudgetState) error {
		reserved := Outstanding(*s, reservationID)
		s.EURReserved = math.Max(0, s.EURReserved-reserved)
		s.EURUsed += actual
		m := map[string]any{}
		for k, v := range meta {
			m[k] = v
		}
		m["reservationId"] = reservationID
		l.appendEntry(s, domain.LedgerCommit, actual, note, m)
		if s.EURCap-s.EURUsed <= 0 && !s.Locked {
			s.Locked = true
			l.appendEntry(s, domain.LedgerLock, 0, autoLockNote, nil)
			autoLocked = true
		}
		return nil
	})
	if err != nil {
		return s, err
	}
	if l.Usage != nil && actual > 0 {
		if err := l.Usage.Record(ctx, actual); err != nil {
			l.logger().Printf("budget: record usage for %s failed: %v", reservationID, err)
		}
	}
	if autoLocked {
		l.emitLock(ctx, s, autoLockNote, domain.SourceSystem)
	}
	return s, nil
}

// Release returns a reservation without spending it. Releasing twice is a
// no-op the second time.
func (l Ledger) Release(ctx context.Context, reservationID, note string) (domain.BudgetState, error) {
	return l.mutate(ctx, func(s *domain.BudgetState) error {
		reserved := Outstanding(*s, reservationID)
		s.EURReserved = math.Max(0, s.EURReserved-reserved)
		l.appendEntry(s, domain.LedgerRelease, reserved, note, map[string]any{"reservationId": reservationID})
		return nil
	})
}

// Outstanding is the reserved amount of id not yet committed or released.
func Outstanding(s domain.BudgetState, id string) float64 {
	if id == "" {
		return 0
	}
	var amount float64
	found := false
	for _, e := range s.Ledger {
		switch e.Kind {
		case domain.LedgerReserve:
			if e.ID == id {
				amount, found = e.EUR, true
			}
		case domain.LedgerCommit, domain.LedgerRelease:
			if ref, _ := e.Meta["reservationId"].(string); ref == id {
				return 0
			}
		}
	}
	if !found {
		return 0
	}
	return amount
}

func (l Ledger) mutate(ctx context.Context, fn func(*domain.BudgetState) error) (domain.BudgetState, error) {
	s, err := store.Mutate(ctx, l.Store, store.Budget, func(s *domain.BudgetState) error {
		fill(s)
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = domain.FormatTime(l.now())
		return nil
	})
	fill(&s)
	return s, err
}

func (l Ledger) appendEntry(s *domain.BudgetState, kind domain.LedgerKind, eur float64, note string, meta map[string]any) string {
	id := uuid.NewString()
	s.Ledger = append(s.Ledger, domain.LedgerEntry{
		ID:   id,
		Kind: kind,
		EUR:  eur,
		Note: note,
		At:   domain.FormatTime(l.now()),
		Meta: meta,
	})
	return id
}

func (l Ledger) emitLock(ctx context.Context, s domain.BudgetState, note string, source domain.EventSource) {
	l.emit(ctx, domain.Event{
		Source:  source,
		Type:    domain.EventBudgetLocked,
		Message: withNote("Budget locked", note),
		Data:    stateData(s),
	})
}

func (l Ledger) emit(ctx context.Context, e domain.Event) {
	if l.Events != nil {
		l.Events.Append(ctx, e)
	}
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Ledger) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}

// fill repairs a zero-value or legacy state.
func fill(s *domain.BudgetState) {
	if s.Tier == "" {
		s.Tier = "free"
	}
	if s.Ledger == nil {
		s.Ledger = []domain.LedgerEntry{}
	}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func withNote(msg, note string) string {
	if note == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", msg, note)
}

func stateData(s domain.BudgetState) map[string]any {
	return map[string]any{
		"eurCap":      s.EURCap,
		"eurUsed":     s.EURUsed,
		"eurReserved": s.EURReserved,
		"locked":      s.Locked,
	}
}
