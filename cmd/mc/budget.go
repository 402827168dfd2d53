package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionctl/internal/app"
	"missionctl/internal/budget"
	"missionctl/internal/domain"
	"missionctl/internal/usage"
)

func budgetCmd() *cobra.Command {
	b := &cobra.Command{Use: "budget", Short: "Inspect and operate the budget ledger"}
	b.AddCommand(budgetShowCmd())
	b.AddCommand(budgetInitCmd())
	b.AddCommand(budgetLockCmd(true))
	b.AddCommand(budgetLockCmd(false))
	b.AddCommand(budgetReserveCmd())
	b.AddCommand(budgetCommitCmd())
	b.AddCommand(budgetReleaseCmd())
	b.AddCommand(budgetCheckCmd())
	return b
}

func budgetShowCmd() *cobra.Command {
	var entries int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show cap, usage and recent ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Ledger.Get(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderBudget(s, entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&entries, "entries", 10, "number of ledger entries to show")
	return cmd
}

func renderBudget(s domain.BudgetState, entries int) {
	state := color.GreenString("open")
	if s.Locked {
		state = color.RedString("LOCKED")
	}
	fmt.Printf("tier %s  cap €%.2f  used €%.2f  reserved €%.2f  remaining €%.2f  %s\n",
		s.Tier, s.EURCap, s.EURUsed, s.EURReserved, budget.Remaining(s), state)
	if entries <= 0 || len(s.Ledger) == 0 {
		return
	}
	start := 0
	if len(s.Ledger) > entries {
		start = len(s.Ledger) - entries
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"At", "Kind", "EUR", "ID", "Note"})
	for _, e := range s.Ledger[start:] {
		tw.AppendRow(table.Row{e.At, e.Kind, fmt.Sprintf("%.4f", e.EUR), e.ID, truncate(e.Note, 40)})
	}
	tw.Render()
}

func budgetInitCmd() *cobra.Command {
	var tier string
	var eurCap float64
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set the tier and cap; the cap defaults to the tier's monthly budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if tier == "" {
					tier = a.Config.Billing.Tier
				}
				t := a.Config.TierByID(tier)
				amount := t.MonthlyBudget
				if cmd.Flags().Changed("cap") {
					amount = eurCap
				}
				s, err := a.Ledger.Init(ctx, t.ID, amount)
				if err != nil {
					return err
				}
				if s.Locked {
					warn("ledger is locked (cap €%.2f)", s.EURCap)
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderBudget(s, 0)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "tier id (free, pro, plus, max)")
	cmd.Flags().Float64Var(&eurCap, "cap", 0, "cap in EUR")
	return cmd
}

func budgetLockCmd(lock bool) *cobra.Command {
	var note string
	use, short := "unlock", "Unlock the ledger"
	if lock {
		use, short = "lock", "Lock the ledger; every reservation is refused"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				op := a.Ledger.Unlock
				if lock {
					op = a.Ledger.Lock
				}
				s, err := op(ctx, note)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderBudget(s, 0)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note for the ledger entry")
	return cmd
}

func budgetReserveCmd() *cobra.Command {
	var eur float64
	var note string
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve spend against the cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Ledger.Reserve(ctx, eur, note, map[string]any{"actor": actor()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.OK {
					return fmt.Errorf("reservation refused: %s (remaining €%.2f)", res.Error, budget.Remaining(res.State))
				}
				fmt.Println(res.ReservationID)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&eur, "eur", 0, "amount in EUR")
	cmd.Flags().StringVar(&note, "note", "", "note")
	_ = cmd.MarkFlagRequired("eur")
	return cmd
}

func budgetCommitCmd() *cobra.Command {
	var eur float64
	var note string
	cmd := &cobra.Command{
		Use:   "commit <reservation-id>",
		Short: "Settle a reservation with the actual spend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if budget.Outstanding(currentState(ctx, a), args[0]) == 0 {
					warn("reservation %s has nothing outstanding", args[0])
				}
				s, err := a.Ledger.Commit(ctx, args[0], eur, note, nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderBudget(s, 0)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&eur, "eur", 0, "actual amount in EUR")
	cmd.Flags().StringVar(&note, "note", "", "note")
	_ = cmd.MarkFlagRequired("eur")
	return cmd
}

func budgetReleaseCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "release <reservation-id>",
		Short: "Return a reservation unspent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Ledger.Release(ctx, args[0], note)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderBudget(s, 0)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func budgetCheckCmd() *cobra.Command {
	var eur float64
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an estimate is affordable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Ledger.Get(ctx)
				if err != nil {
					return err
				}
				c := budget.CanSpend(s, eur)
				if viper.GetBool("json") {
					return printJSON(c)
				}
				if c.OK {
					printStatus("✓", fmt.Sprintf("€%.2f fits (remaining €%.2f)", eur, c.Remaining), color.FgGreen)
				} else {
					printStatus("✗", fmt.Sprintf("€%.2f refused: %s (remaining €%.2f)", eur, c.Error, c.Remaining), color.FgRed)
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&eur, "eur", 0, "estimate in EUR")
	return cmd
}

// currentState returns the zero state when the ledger cannot be read; the
// following operation reports the real error.
func currentState(ctx context.Context, a *app.App) domain.BudgetState {
	s, _ := a.Ledger.Get(ctx)
	return s
}

func usageCmd() *cobra.Command {
	u := &cobra.Command{Use: "usage", Short: "Spend against the tier's monthly budget"}
	u.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the usage summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Usage.Summary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				renderUsage(sum)
				return nil
			})
		},
	})

	var eur float64
	add := &cobra.Command{
		Use:   "add",
		Short: "Record spend outside a reservation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Usage.Add(ctx, eur)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	add.Flags().Float64Var(&eur, "eur", 0, "amount in EUR")
	_ = add.MarkFlagRequired("eur")
	u.AddCommand(add)
	return u
}

func renderUsage(s usage.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"Tier", s.Tier},
		{"Monthly budget", fmt.Sprintf("€%.2f", s.MonthlyBudget)},
		{"Used this month", fmt.Sprintf("€%.2f (%.1f%%)", s.Used, s.PctUsed)},
		{"Remaining", fmt.Sprintf("€%.2f", s.Remaining)},
		{"Daily recommended", fmt.Sprintf("€%.2f", s.DailyRecommended)},
		{"Used today", fmt.Sprintf("€%.2f (%.0f%%)", s.UsedToday, s.TodayVsRecommendedPct)},
	})
	if s.PaceDaysLeft != nil {
		tw.AppendRow(table.Row{"Days left at month pace", fmt.Sprintf("%.1f", *s.PaceDaysLeft)})
	}
	if s.DaysUntilLimitAtThisPace != nil {
		tw.AppendRow(table.Row{"Days left at today's pace", *s.DaysUntilLimitAtThisPace})
	}
	tw.Render()
	if s.OverDaily {
		warn("today's spend is above the daily recommendation")
	}
	if s.LimitReached {
		fmt.Println(color.RedString("monthly budget reached"))
	}
	if s.Locked {
		fmt.Println(color.RedString("budget ledger is locked"))
	}
}
