package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs <source-id>",
	Short: "Show recent sync runs for a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().Int("limit", 10, "Maximum number of runs to show")
}

func runRuns(cmd *cobra.Command, args []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to get limit flag: %w", err)
	}

	runs, err := e.store.RecentRuns(cmd.Context(), args[0], limit)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Started", "Status", "Fetched", "Unchanged", "Failed", "Duration"})
	for _, run := range runs {
		table.Append([]string{
			strconv.FormatInt(run.ID, 10),
			run.StartedAt.Format("2006-01-02 15:04:05"),
			string(run.Status),
			strconv.Itoa(run.FilesFetched),
			strconv.Itoa(run.FilesUnchanged),
			strconv.Itoa(run.FilesFailed),
			fmt.Sprintf("%dms", run.DurationMS),
		})
	}
	table.Render()
	return nil
}
