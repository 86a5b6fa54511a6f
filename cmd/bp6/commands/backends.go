package commands

import (
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/config"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List agent backends",
	Long:  `List the registered agent backends and whether their CLI is on PATH.`,
	RunE:  runBackends,
}

func runBackends(cmd *cobra.Command, args []string) error {
	appConfig, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(appConfig, "warn")

	registry := backend.DefaultRegistry(appConfig)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tDESCRIPTION")
	for _, info := range registry.List() {
		command := info.Command
		if bc, ok := appConfig.Backend[info.ID]; ok && bc.Command != "" {
			command = bc.Command
		}
		status := "available"
		if _, err := exec.LookPath(command); err != nil {
			status = "not found"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.ID, command, status, info.Description)
	}
	return w.Flush()
}
