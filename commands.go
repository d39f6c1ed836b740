package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tippelaget/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	snapshotTable  string
	workflowWait   bool
	workflowPoll   time.Duration
	migrationsPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard, API, MCP endpoint and gameweek reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, s *service) error {
			return s.runner.Run(ctx)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Compute the season tables once and print them as JSON",
	Long: `Loads the bets, computes every table and prints the snapshot.

Examples:
  tippelaget snapshot
  tippelaget snapshot --table luck`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, s *service) error {
			st, err := s.runner.Refresh(ctx)
			if err != nil {
				return err
			}
			if snapshotTable == "" {
				return printJSON(st)
			}
			table, ok := st.Snapshot.Table(snapshotTable)
			if !ok {
				return fmt.Errorf("unknown table %q", snapshotTable)
			}
			return printJSON(table)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy the bets from Cognite into the Postgres mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, s *service) error {
			n, err := s.runner.Loader().Sync(ctx)
			if err != nil {
				return err
			}
			s.logger.Info("sync complete", zap.Int("rows", n))
			return printJSON(map[string]int{"mirrored": n})
		})
	},
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Trigger or inspect the Cognite ingestion workflow",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ingestion workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, s *service) error {
			exec, err := s.runner.RunWorkflow(ctx)
			if err != nil {
				return err
			}
			if workflowWait {
				return waitForExecution(ctx, s, exec.ID)
			}
			return printJSON(exec)
		})
	},
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show the state of a workflow execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, s *service) error {
			if workflowWait {
				return waitForExecution(ctx, s, args[0])
			}
			exec, err := s.runner.WorkflowStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(exec)
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <persona> <question>",
	Short: "Ask the Prophet or the King about the season",
	Long: `Loads the bets and puts one question to an assistant persona.

Examples:
  tippelaget ask prophet "Who has the best ball knowledge?"
  tippelaget ask king Hvem er sesongens taper?`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, s *service) error {
			if _, err := s.runner.Refresh(ctx); err != nil {
				return err
			}
			ans := s.runner.Ask(ctx, args[0], strings.Join(args[1:], " "))
			if ans.Error != "" {
				return errors.New(ans.Error)
			}
			fmt.Printf("%s:\n%s\n", ans.Byline, ans.Text)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the SQL migrations to DATABASE_URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := cfg.Database.MigrationsDir
		if migrationsPath != "" {
			dir = migrationsPath
		}

		applied, err := store.Migrate(ctx, logger, cfg.Database.DSN, dir)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Strings("files", applied))
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotTable, "table", "", "Print only this table")

	workflowCmd.PersistentFlags().BoolVar(&workflowWait, "wait", false, "Poll until the execution finishes")
	workflowCmd.PersistentFlags().DurationVar(&workflowPoll, "poll", 10*time.Second, "Poll interval with --wait")
	workflowCmd.AddCommand(workflowRunCmd, workflowStatusCmd)

	migrateCmd.Flags().StringVar(&migrationsPath, "dir", "", "Migrations directory (default from config)")

	rootCmd.AddCommand(serveCmd, snapshotCmd, syncCmd, workflowCmd, askCmd, migrateCmd)
}

// waitForExecution polls until the execution reaches a terminal state and
// prints it. A failed execution is an error.
func waitForExecution(ctx context.Context, s *service, id string) error {
	if workflowPoll <= 0 {
		workflowPoll = 10 * time.Second
	}
	ticker := time.NewTicker(workflowPoll)
	defer ticker.Stop()

	for {
		exec, err := s.runner.WorkflowStatus(ctx, id)
		if err != nil {
			return err
		}
		s.logger.Info("workflow execution", zap.String("id", exec.ID), zap.String("status", exec.Status))
		if exec.Done() {
			if err := printJSON(exec); err != nil {
				return err
			}
			if exec.Status != "completed" {
				return fmt.Errorf("workflow execution %s ended %s", exec.ID, exec.Status)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
