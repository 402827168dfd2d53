package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionctl/internal/app"
	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskPickCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskWorkLogCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskReviewCmd())
	task.AddCommand(taskRunCmd())
	task.AddCommand(taskOrphansCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var priority, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Priority = domain.Priority(priority)
			opts.CreatedBy = actor()
			if due != "" {
				t, err := parseWhen(due)
				if err != nil {
					return err
				}
				opts.DueDate = &t
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine().CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "assignee agent id")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, priority string
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.TaskStatus(status)
			f.Priority = domain.Priority(priority)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine().ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.Parent, "parent", "", "parent task id, or none for top-level tasks")
	return cmd
}

func renderTasks(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Review", "Parent"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, truncate(t.Title, 48), t.Status, t.Priority, deref(t.Assignee), t.ReviewStatus, t.ParentID})
	}
	tw.Render()
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine().GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, priority, assignee, due, parent, reviewStatus string
	var order float64
	var tags, deliverables []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Long:  "Only flags that are set are applied. An empty value clears optional fields.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			patch := engine.TaskPatch{Actor: actor()}
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("status") {
				s := domain.TaskStatus(status)
				patch.Status = &s
			}
			if flags.Changed("priority") {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if flags.Changed("assignee") {
				patch.Assignee = &assignee
			}
			if flags.Changed("order") {
				patch.Order = &order
			}
			if flags.Changed("tag") {
				patch.Tags = &tags
			}
			if flags.Changed("deliverable") {
				patch.Deliverables = &deliverables
			}
			if flags.Changed("review-status") {
				rs := domain.ReviewStatus(reviewStatus)
				patch.ReviewStatus = &rs
			}
			if flags.Changed("parent") {
				patch.ParentID = &parent
			}
			if flags.Changed("due") {
				var t time.Time
				if due != "" {
					parsed, err := parseWhen(due)
					if err != nil {
						return err
					}
					t = parsed
				}
				patch.DueDate = &t
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine().UpdateTask(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (backlog, todo, in_progress, review, done)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee agent id")
	cmd.Flags().Float64Var(&order, "order", 0, "board order")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	cmd.Flags().StringSliceVar(&deliverables, "deliverable", nil, "replace deliverables (.md paths)")
	cmd.Flags().StringVar(&reviewStatus, "review-status", "", "review status")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ok, err := a.Engine().DeleteTask(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("task %s: %w", args[0], repo.ErrNotFound)
				}
				return printJSONOrTable(map[string]any{"deleted": true, "id": args[0]})
			})
		},
	}
}

func taskPickCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "pick <id>",
		Short: "Start work on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent == "" {
				agent = actor()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine().PickTask(ctx, args[0], agent)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id (defaults to --actor-id)")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var opts engine.CompleteOptions
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Hand a task to review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			if opts.AgentID == "" {
				opts.AgentID = actor()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine().CompleteTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "agent id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "completion note")
	cmd.Flags().StringSliceVar(&opts.Deliverables, "deliverable", nil, "deliverable .md path (repeatable)")
	return cmd
}

func taskWorkLogCmd() *cobra.Command {
	var action, note string
	cmd := &cobra.Command{
		Use:   "worklog <id>",
		Short: "Record progress or a blocker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine().LogWork(ctx, args[0], actor(), domain.WorkLogAction(action), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", string(domain.WorkProgress), "progress or blocked")
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Comment on a task as --actor-id; @agent mentions are recorded",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args[1:], " ")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine().CommentWithMentions(ctx, args[0], actor(), content)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("comment %s added to %s\n", res.CommentID, res.Task.ID)
				for _, m := range res.Mentions {
					fmt.Printf("  mentioned %s\n", color.CyanString("@"+m.MentionedAgent))
				}
				return nil
			})
		},
	}
}

func taskReviewCmd() *cobra.Command {
	var decision, notes string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve or request changes on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine().ReviewTask(ctx, args[0], actor(), domain.ReviewStatus(decision), notes)
				if err != nil {
					return err
				}
				if res.AdvanceError != "" {
					warn("parent not advanced: %s", res.AdvanceError)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", string(domain.ReviewApproved), "approved or changes_requested")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func taskRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <parent-id>",
		Short: "Start a mission: move the parent and its backlog subtasks to todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine().RunMission(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("moved %d/%d subtasks of %q to todo\n", res.Moved, res.TotalChildren, res.Parent.Title)
				return nil
			})
		},
	}
}

func taskOrphansCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List tasks whose parent is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e := a.Engine()
				var (
					tasks []domain.Task
					err   error
				)
				if prune {
					tasks, err = e.PruneOrphans(ctx, actor())
				} else {
					tasks, err = e.Orphans(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				if len(tasks) == 0 {
					fmt.Println("no orphaned tasks")
					return nil
				}
				renderTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "detach orphans from their missing parent")
	return cmd
}
