package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/promptops/skillsync/internal/registry"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage artifact sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a new artifact source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceAdd,
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a source and its tracked state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceRemove,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources in resolution order",
	Args:  cobra.NoArgs,
	RunE:  runSourceList,
}

var sourceEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceEnabled(cmd, args[0], true)
	},
}

var sourceDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a source without removing its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceEnabled(cmd, args[0], false)
	},
}

var sourcePurgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Drop a source's tracked artifacts and run history, keeping the source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcePurge,
}

var sourceSetPriorityCmd = &cobra.Command{
	Use:   "set-priority <id> <priority>",
	Short: "Change a source's resolution priority (lower wins)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSourceSetPriority,
}

func init() {
	sourceAddCmd.Flags().String("url", "", "Base URL of the source (required)")
	sourceAddCmd.Flags().String("subdir", "", "Subdirectory within the source to sync")
	sourceAddCmd.Flags().Int("priority", 0, "Resolution priority, lower wins")
	sourceAddCmd.Flags().String("discovery", "manifest", "Discovery mechanism (manifest or git)")
	sourceAddCmd.Flags().String("git-repo", "", "Git repository URL (required for git discovery)")
	sourceAddCmd.Flags().String("git-ref", "", "Git branch or tag (defaults to the remote HEAD)")
	sourceAddCmd.Flags().Bool("disabled", false, "Register the source in disabled state")
	if err := sourceAddCmd.MarkFlagRequired("url"); err != nil {
		panic(err)
	}

	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceRemoveCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceEnableCmd)
	sourceCmd.AddCommand(sourceDisableCmd)
	sourceCmd.AddCommand(sourceSetPriorityCmd)
	sourceCmd.AddCommand(sourcePurgeCmd)
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	flags := cmd.Flags()
	url, _ := flags.GetString("url")
	subdir, _ := flags.GetString("subdir")
	priority, _ := flags.GetInt("priority")
	discoveryKind, _ := flags.GetString("discovery")
	gitRepo, _ := flags.GetString("git-repo")
	gitRef, _ := flags.GetString("git-ref")
	disabled, _ := flags.GetBool("disabled")

	src := &registry.Source{
		ID:           args[0],
		URL:          url,
		Subdirectory: subdir,
		Priority:     priority,
		Enabled:      !disabled,
		Discovery:    discoveryKind,
		GitRepo:      gitRepo,
		GitRef:       gitRef,
	}
	if err := e.registry.Register(cmd.Context(), src); err != nil {
		return err
	}

	fmt.Printf("Registered source %s (priority %d)\n", src.ID, src.Priority)
	return nil
}

func runSourceRemove(cmd *cobra.Command, args []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.registry.Remove(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed source %s\n", args[0])
	return nil
}

func runSourceList(cmd *cobra.Command, _ []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	sources, err := e.registry.List(cmd.Context(), false)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "URL", "Priority", "Enabled", "Discovery", "Last Sync"})
	for _, src := range sources {
		lastSync := "never"
		if src.LastSyncTime != nil {
			lastSync = src.LastSyncTime.Format("2006-01-02 15:04:05")
		}
		table.Append([]string{
			src.ID,
			src.URL,
			strconv.Itoa(src.Priority),
			strconv.FormatBool(src.Enabled),
			src.Discovery,
			lastSync,
		})
	}
	table.Render()
	return nil
}

func setSourceEnabled(cmd *cobra.Command, id string, enabled bool) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.registry.Update(cmd.Context(), id, registry.UpdateFields{Enabled: &enabled}); err != nil {
		return err
	}

	verb := "Disabled"
	if enabled {
		verb = "Enabled"
	}
	fmt.Printf("%s source %s\n", verb, id)
	return nil
}

func runSourcePurge(cmd *cobra.Command, args []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.registry.Get(cmd.Context(), args[0]); err != nil {
		return err
	}
	if err := e.store.PurgeSource(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Purged tracked state for source %s\n", args[0])
	return nil
}

func runSourceSetPriority(cmd *cobra.Command, args []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	priority, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid priority %q: %w", args[1], err)
	}

	if err := e.registry.Update(cmd.Context(), args[0], registry.UpdateFields{Priority: &priority}); err != nil {
		return err
	}
	fmt.Printf("Set priority of source %s to %d\n", args[0], priority)
	return nil
}
