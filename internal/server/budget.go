package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"missionctl/internal/budget"
	"missionctl/internal/domain"
)

var budgetErrors = []int{
	http.StatusBadRequest,
	http.StatusPaymentRequired,
	http.StatusInternalServerError,
}

func (h handler) registerBudget(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/budget",
		Summary:     "Budget state and ledger",
		Tags:        []string{"budget"},
	}, func(ctx context.Context, _ *struct{}) (*body[domain.BudgetState], error) {
		s, err := h.app.Ledger.Get(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "init-budget",
		Method:      http.MethodPost,
		Path:        "/budget/init",
		Summary:     "Set tier and cap",
		Description: "Without eurCap the tier's monthly budget is used. A zero cap locks the ledger.",
		Tags:        []string{"budget"},
	}, func(ctx context.Context, input *struct {
		Body *InitBudgetRequest
	}) (*body[domain.BudgetState], error) {
		tierID := h.app.Config.Billing.Tier
		var eurCap *float64
		if input.Body != nil {
			if input.Body.Tier != "" {
				tierID = input.Body.Tier
			}
			eurCap = input.Body.EURCap
		}
		tier := h.app.Config.TierByID(tierID)
		amount := tier.MonthlyBudget
		if eurCap != nil {
			amount = *eurCap
		}
		s, err := h.app.Ledger.Init(ctx, tier.ID, amount)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lock-budget",
		Method:      http.MethodPost,
		Path:        "/budget/lock",
		Summary:     "Lock the budget",
		Tags:        []string{"budget"},
	}, func(ctx context.Context, input *struct {
		Body *NoteRequest
	}) (*body[domain.BudgetState], error) {
		s, err := h.app.Ledger.Lock(ctx, noteOf(input.Body))
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlock-budget",
		Method:      http.MethodPost,
		Path:        "/budget/unlock",
		Summary:     "Unlock the budget",
		Tags:        []string{"budget"},
	}, func(ctx context.Context, input *struct {
		Body *NoteRequest
	}) (*body[domain.BudgetState], error) {
		s, err := h.app.Ledger.Unlock(ctx, noteOf(input.Body))
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reserve-budget",
		Method:      http.MethodPost,
		Path:        "/budget/reserve",
		Summary:     "Reserve spend against the cap",
		Description: "Refusals return 402 with code BUDGET_LOCKED or INSUFFICIENT_BUDGET and the current state.",
		Tags:        []string{"budget"},
		Errors:      budgetErrors,
	}, func(ctx context.Context, input *struct {
		Body ReserveRequest
	}) (*body[budget.ReserveResult], error) {
		res, err := h.app.Ledger.Reserve(ctx, input.Body.EUR, input.Body.Note, input.Body.Meta)
		if err != nil {
			return nil, h.handleError(err)
		}
		if !res.OK {
			return nil, refusal(res.Error, res.State)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "commit-budget",
		Method:      http.MethodPost,
		Path:        "/budget/commit",
		Summary:     "Settle a reservation with the actual spend",
		Tags:        []string{"budget"},
		Errors:      budgetErrors,
	}, func(ctx context.Context, input *struct {
		Body CommitRequest
	}) (*body[domain.BudgetState], error) {
		s, err := h.app.Ledger.Commit(ctx, input.Body.ReservationID, input.Body.EUR, input.Body.Note, input.Body.Meta)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-budget",
		Method:      http.MethodPost,
		Path:        "/budget/release",
		Summary:     "Return a reservation unspent",
		Tags:        []string{"budget"},
		Errors:      budgetErrors,
	}, func(ctx context.Context, input *struct {
		Body ReleaseRequest
	}) (*body[domain.BudgetState], error) {
		s, err := h.app.Ledger.Release(ctx, input.Body.ReservationID, input.Body.Note)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-budget",
		Method:      http.MethodGet,
		Path:        "/budget/check",
		Summary:     "Check whether an estimate is affordable",
		Tags:        []string{"budget"},
	}, func(ctx context.Context, input *struct {
		EUR float64 `query:"eur"`
	}) (*body[budget.Check], error) {
		s, err := h.app.Ledger.Get(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(budget.CanSpend(s, input.EUR)), nil
	})
}

func (h handler) registerUsage(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "usage-summary",
		Method:      http.MethodGet,
		Path:        "/usage",
		Summary:     "Spend against the tier's monthly budget",
		Tags:        []string{"usage"},
	}, func(ctx context.Context, _ *struct{}) (*body[UsageResponse], error) {
		return h.usage(ctx)
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-usage",
		Method:      http.MethodPost,
		Path:        "/usage/add",
		Summary:     "Record spend outside a reservation",
		Tags:        []string{"usage"},
	}, func(ctx context.Context, input *struct {
		Body AddUsageRequest
	}) (*body[UsageResponse], error) {
		if _, err := h.app.Usage.Add(ctx, input.Body.EUR); err != nil {
			return nil, h.handleError(err)
		}
		return h.usage(ctx)
	})
}

func (h handler) usage(ctx context.Context) (*body[UsageResponse], error) {
	state, err := h.app.Usage.State(ctx)
	if err != nil {
		return nil, h.handleError(err)
	}
	sum, err := h.app.Usage.Summary(ctx)
	if err != nil {
		return nil, h.handleError(err)
	}
	return reply(UsageResponse{State: state, Summary: sum}), nil
}

func refusal(code string, s domain.BudgetState) error {
	msg := "budget is locked"
	if code == budget.CodeInsufficient {
		msg = "insufficient budget"
	}
	return newAPIError(http.StatusPaymentRequired, code, msg, map[string]any{
		"state":     s,
		"remaining": budget.Remaining(s),
	})
}

func noteOf(b *NoteRequest) string {
	if b == nil {
		return ""
	}
	return b.Note
}
