package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionctl/internal/app"
	"missionctl/internal/config"
	"missionctl/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "mc",
	Short: "missionctl CLI",
	Long: `missionctl coordinates a roster of agents working a task board under a spend cap.
Core concepts:
- Workspace: a directory holding missionctl.yml and the .missionctl data dir.
- Tasks: backlog -> todo -> in_progress -> review -> done. A parent reaches done only when every subtask is approved.
- Missions: 'mc task run' moves a parent and its backlog subtasks to todo.
- Budget: spend is reserved before it happens and committed or released after; a locked ledger refuses every reservation.
- Usage: month and day counters compared against the tier's monthly budget.
- Events: the audit trail, view with 'mc events tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MISSIONCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "main", "actor identifier")
	rootCmd.PersistentFlags().Bool("verbose", false, "log store and event diagnostics to stderr")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(mentionCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write missionctl.yml, seed the roster and initialise the budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, created, err := app.Init(cmd.Context(), workspace, force, newLogger())
			if err != nil {
				return err
			}
			defer a.Close()
			if viper.GetBool("json") {
				s, err := a.Ledger.Get(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"workspace": workspace, "configWritten": created, "budget": s})
			}
			if created {
				printStatus("✓", "Wrote "+config.Path(workspace), color.FgGreen)
			} else {
				printStatus("•", "Kept existing "+config.Path(workspace), color.FgYellow)
			}
			printStatus("✓", fmt.Sprintf("Seeded %d agents", len(a.Roster().Agents)), color.FgGreen)
			printStatus("✓", "Data directory "+a.DataDir, color.FgGreen)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing missionctl.yml")
	return cmd
}

func newLogger() *log.Logger {
	if viper.GetBool("verbose") {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// withApp opens the workspace for the duration of fn.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), nil, newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actor() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(symbol, msg string, attr color.Attribute) {
	fmt.Printf("%s %s\n", color.New(attr).Sprint(symbol), msg)
}

func warn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString("warning: "+format, args...))
}

// parseWhen accepts RFC 3339 timestamps and plain dates.
func parseWhen(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := domain.ParseTime(v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", v)
	}
	return t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
