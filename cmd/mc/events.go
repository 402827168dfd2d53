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
	"missionctl/internal/domain"
)

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Read the event log"}
	ev.AddCommand(eventsTailCmd())
	ev.AddCommand(eventsSkipCmd())
	return ev
}

func eventsTailCmd() *cobra.Command {
	var n int
	var evtType string
	var hideSkipped bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts := a.Events.List(ctx, n)
				skipped := map[string]bool{}
				if hideSkipped {
					keys, err := a.Engine().ListSkips(ctx)
					if err != nil {
						return err
					}
					for _, k := range keys {
						skipped[k] = true
					}
				}
				out := make([]domain.Event, 0, len(evts))
				for _, e := range evts {
					if evtType != "" && e.Type != evtType {
						continue
					}
					if skipped[e.ID] {
						continue
					}
					out = append(out, e)
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Source", "Type", "Agent", "Task", "Message"})
				for _, e := range out {
					typ := e.Type
					if e.Type == domain.EventError || e.Type == domain.EventBudgetLocked {
						typ = color.RedString(typ)
					}
					tw.AppendRow(table.Row{e.TS, e.Source, typ, e.AgentID, e.TaskID, truncate(e.Message, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().BoolVar(&hideSkipped, "hide-skipped", true, "hide events whose id was skipped")
	return cmd
}

func eventsSkipCmd() *cobra.Command {
	var message string
	var remove bool
	cmd := &cobra.Command{
		Use:   "skip <key>",
		Short: "Hide an activity key from the feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e := a.Engine()
				var err error
				if remove {
					err = e.RemoveSkip(ctx, args[0])
				} else {
					err = e.AddSkip(ctx, args[0], message, actor())
				}
				if err != nil {
					return err
				}
				keys, err := e.ListSkips(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"keys": keys})
				}
				fmt.Printf("%d skipped keys\n", len(keys))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "reason")
	cmd.Flags().BoolVar(&remove, "remove", false, "show the key again")
	return cmd
}
