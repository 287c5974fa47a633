package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/promptops/skillsync/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Inspect the effective artifact set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var resolveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all resolved artifacts and shadowed conflicts",
	Args:  cobra.NoArgs,
	RunE:  runResolveList,
}

var resolveShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the content of a resolved artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolveShow,
}

func init() {
	resolveCmd.AddCommand(resolveListCmd)
	resolveCmd.AddCommand(resolveShowCmd)
}

func runResolveList(cmd *cobra.Command, _ []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := resolver.New(e.registry, e.store).Resolve(cmd.Context())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Source", "Priority", "Path"})
	for _, art := range res.Artifacts {
		table.Append([]string{
			art.Name,
			art.SourceID,
			strconv.Itoa(art.Priority),
			art.Path,
		})
	}
	table.Render()

	if len(res.Conflicts) > 0 {
		fmt.Println()
		conflicts := tablewriter.NewWriter(os.Stdout)
		conflicts.SetHeader([]string{"Name", "Winner", "Shadowed", "Shadowed Path"})
		for _, c := range res.Conflicts {
			conflicts.Append([]string{c.Name, c.WinnerSourceID, c.ShadowedSourceID, c.ShadowedPath})
		}
		conflicts.Render()
	}
	return nil
}

func runResolveShow(cmd *cobra.Command, args []string) error {
	e, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	_, content, err := resolver.New(e.registry, e.store).Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(content)
	return err
}
