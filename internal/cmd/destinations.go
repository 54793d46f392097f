package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	schemasassets "github.com/3leaps/gohaul/internal/assets/schemas"
)

var destinationsCmd = &cobra.Command{
	Use:     "destinations",
	Aliases: []string{"dest"},
	Short:   "Manage destination profiles",
}

var destinationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's destinations",
	RunE:  runDestinationsList,
}

var destinationsSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the destination profile file JSON schema",
	RunE: func(*cobra.Command, []string) error {
		_, err := os.Stdout.Write(schemasassets.DestinationProfilesSchema)
		return err
	},
}

var destinationsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import destination profiles from a file",
	Long: `Import destination profiles from a YAML or JSON profile file into
the destination store. Profiles matching an existing destination by owner and
name are updated in place.

Examples:
  # Import profiles
  gohaul destinations import destinations.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runDestinationsImport,
}

func init() {
	rootCmd.AddCommand(destinationsCmd)
	destinationsCmd.AddCommand(destinationsListCmd, destinationsImportCmd, destinationsSchemaCmd)

	destinationsListCmd.Flags().String("owner", "", "Owner id (required)")
	destinationsListCmd.Flags().Bool("json", false, "Output as JSON")
	_ = destinationsListCmd.MarkFlagRequired("owner")
}

func runDestinationsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	owner, _ := cmd.Flags().GetString("owner")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	dests, err := store.ListDestinations(ctx, owner)
	if err != nil {
		return fmt.Errorf("list destinations: %w", err)
	}
	if len(dests) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No destinations found")
		return nil
	}

	if jsonOutput {
		return printJSON(dests)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tBUCKET\tPREFIX\tACTIVE")
	for _, d := range dests {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			d.ID, d.Name, d.Provider, d.Bucket, d.Prefix, d.Active)
	}
	return w.Flush()
}

func runDestinationsImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return importProfiles(ctx, store, args[0], logger)
}
