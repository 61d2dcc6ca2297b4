package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flexygent/flexygent/internal/config"
)

var (
	toolsJSON bool
	toolsTags []string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	Long: `List every tool the catalog exposes, core tools and loaded plugins
alike, with their tags and descriptions.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print machine-readable descriptors")
	toolsCmd.Flags().StringSliceVar(&toolsTags, "tags", nil, "only list tools carrying all given tags")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	catalog, closeCatalog, err := buildCatalog(cfg, log.Zerolog())
	if err != nil {
		return err
	}
	defer closeCatalog()

	descriptors := catalog.FilterByTags(toolsTags...)

	if toolsJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(descriptors)
	}

	if len(descriptors) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools match.")
		return nil
	}

	for _, desc := range descriptors {
		tags := ""
		if len(desc.Tags) > 0 {
			tags = " [" + strings.Join(desc.Tags, ", ") + "]"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s%s\n    %s\n", desc.Name, tags, desc.Description)
	}

	return nil
}
