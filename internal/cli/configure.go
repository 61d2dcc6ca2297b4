package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flexygent/flexygent/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up FlexyGent.
The wizard walks through the model provider, API key, interaction mode
and logging, then writes the config file.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	wizard := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout())

	cfg, err := wizard.Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
		}
		return fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "\nTry it with: flexygent run \"say hello\"")

	return nil
}
