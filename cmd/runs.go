package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samogod/fitloop/pkg/config"
	"github.com/samogod/fitloop/pkg/database"
	"github.com/samogod/fitloop/pkg/orchestrator"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	runsStatus string
	runsAll    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [experiment]",
	Short: "Query the run tracking database",
	Long:  `List tracked training runs for a specific experiment or all experiments`,
	Run:   runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running, finished, failed)")
	runsCmd.Flags().BoolVar(&runsAll, "all", false, "query all experiments")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) {
	if !runsAll && len(args) == 0 {
		color.Red("Error: either provide an experiment or use --all flag")
		cmd.Help()
		os.Exit(1)
	}

	if runsAll && len(args) > 0 {
		color.Red("Error: cannot use both experiment and --all flag together")
		cmd.Help()
		os.Exit(1)
	}

	setupDebug()

	orch, err := orchestrator.NewOrchestrator(configFile, config.Overrides{}, orchestrator.NewLogger(verbose))
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}

	db := orch.GetDB()
	if db == nil || !db.IsEnabled() {
		color.Red("Error: Database is not enabled. Please enable it in config.yaml")
		os.Exit(1)
	}
	defer db.Close()

	status := strings.ToUpper(runsStatus)

	var records []database.RunRecord
	if runsAll {
		records, err = db.QueryAllRuns(status)
	} else {
		records, err = db.QueryRuns(args[0], status)
	}
	if err != nil {
		color.Red("Failed to query database: %v", err)
		db.Close()
		os.Exit(1)
	}

	if len(records) == 0 {
		if runsAll {
			color.Yellow("[INF] No runs found in database.")
		} else {
			color.Yellow("[INF] Experiment %s not found in database.", args[0])
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("EXPERIMENT\tRUN_ID\tSTATUS\tSTARTED\tFINISHED"))
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, r := range records {
		statusColor := color.GreenString
		if r.Status == database.StatusFailed {
			statusColor = color.RedString
		} else if r.Status == database.StatusRunning {
			statusColor = color.YellowString
		}

		finished := "-"
		if r.FinishedAt.Valid {
			finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Experiment,
			r.ID,
			statusColor(r.Status),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			finished,
		)
	}
	w.Flush()

	color.Green("\nTotal runs: %d", len(records))
}
