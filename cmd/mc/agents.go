package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionctl/internal/app"
)

func agentCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agent", Short: "Inspect the agent roster"}
	ag.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agents, err := a.Engine().ListAgents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Status", "Current task", "Last seen"})
				for _, ag := range agents {
					tw.AppendRow(table.Row{ag.ID, ag.Emoji + " " + ag.Name, ag.Role, ag.Status, deref(ag.CurrentTask), ag.LastSeen})
				}
				tw.Render()
				return nil
			})
		},
	})
	ag.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Upsert the roster from missionctl.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agents, changed, err := a.Seed(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"agents": agents, "changed": changed})
				}
				if changed {
					fmt.Printf("seeded %d agents\n", len(agents))
				} else {
					fmt.Println("roster unchanged")
				}
				return nil
			})
		},
	})
	return ag
}

func mentionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mention", Short: "Read @mentions addressed to an agent"}

	var agent string
	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List mentions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent == "" {
				agent = actor()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ms, err := a.Engine().MentionsFor(ctx, agent, unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ms)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Author", "Read", "Content"})
				for _, mm := range ms {
					tw.AppendRow(table.Row{mm.ID, truncate(mm.TaskTitle, 30), mm.Author, mm.Read, truncate(mm.Content, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&agent, "agent", "", "agent id (defaults to --actor-id)")
	list.Flags().BoolVar(&unread, "unread", false, "only unread mentions")
	m.AddCommand(list)

	var readAgent string
	read := &cobra.Command{
		Use:   "read [mention-id...]",
		Short: "Mark mentions read; without ids every mention of the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if readAgent == "" {
				readAgent = actor()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					n   int
					err error
				)
				if len(args) > 0 {
					n, err = a.Engine().MarkMentionsRead(ctx, args)
				} else {
					n, err = a.Engine().MarkAllMentionsRead(ctx, readAgent)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"updated": n})
			})
		},
	}
	read.Flags().StringVar(&readAgent, "agent", "", "agent id (defaults to --actor-id)")
	m.AddCommand(read)
	return m
}
