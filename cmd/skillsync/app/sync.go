package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/promptops/skillsync/internal/discovery"
	"github.com/promptops/skillsync/internal/git"
	"github.com/promptops/skillsync/internal/httpclient"
	"github.com/promptops/skillsync/internal/state"
	"github.com/promptops/skillsync/internal/syncer"
	"github.com/promptops/skillsync/internal/telemetry"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-id...]",
	Short: "Sync artifacts from remote sources",
	Long: `Sync artifacts from all enabled sources, or only the named ones.
Unchanged files are skipped via conditional requests and content hashes;
failures in one file or source never abort the rest of the pass.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("force", false, "Re-download every file, bypassing conditional fetching")
}

func runSync(cmd *cobra.Command, args []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	fetcher := httpclient.NewDefaultClient(e.cfg.GetFetchTimeout())
	discoveries := discovery.NewFactory(fetcher, git.NewDefaultClient(), e.cfg.CacheDir)
	metrics, err := telemetry.NewSyncMetrics(nil)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	orch := syncer.New(
		e.registry,
		e.store,
		fetcher,
		discoveries,
		e.cfg.CacheDir,
		syncer.WithWorkers(e.cfg.Workers),
		syncer.WithMetrics(metrics),
	)

	report, err := orch.Sync(cmd.Context(), syncer.Options{
		Force:     force,
		SourceIDs: args,
	})
	if err != nil {
		return err
	}

	printReport(report)

	if report.Status() == state.RunError {
		return fmt.Errorf("sync failed for all sources")
	}
	return nil
}

func printReport(report *syncer.Report) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Source", "Status", "Fetched", "Unchanged", "Failed", "Duration"})
	for _, src := range report.Sources {
		table.Append([]string{
			src.SourceID,
			string(src.Status),
			strconv.Itoa(src.Fetched),
			strconv.Itoa(src.Unchanged),
			strconv.Itoa(src.Failed),
			src.Duration.Round(time.Millisecond).String(),
		})
	}
	table.Render()

	for _, src := range report.Sources {
		for _, fileErr := range src.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", src.SourceID, fileErr.Path, fileErr.Detail)
		}
	}
}
