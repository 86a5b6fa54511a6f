package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List personas",
	Long:  `List the persona templates available for new sessions.`,
	RunE:  runPersonas,
}

func runPersonas(cmd *cobra.Command, args []string) error {
	appConfig, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(appConfig, "warn")

	personaDir := config.PathsAt(appConfig.DataDir).Personas
	if appConfig.Persona != nil && appConfig.Persona.Dir != "" {
		personaDir = appConfig.Persona.Dir
	}
	registry, err := persona.NewRegistry(personaDir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, info := range registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Name, info.Description)
	}
	return w.Flush()
}
