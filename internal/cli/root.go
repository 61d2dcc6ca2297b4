package cli

import (
	"github.com/spf13/cobra"

	"github.com/flexygent/flexygent/internal/config"
	"github.com/flexygent/flexygent/internal/daemon"
	"github.com/flexygent/flexygent/internal/logger"
)

var (
	cfgFile  string
	logLevel string
	quiet    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flexygent",
	Short: "FlexyGent - policy-guarded tool-calling agent",
	Long: `FlexyGent runs LLM tool-calling loops under an explicit policy:
which tools the model may use, which need confirmation, and how many
steps a run may take. Tasks run once from the command line or
continuously behind the serve gateway.`,
	Version: daemon.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flexygent/flexygent.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the configured level")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// newLogger builds the logger for a command from the loaded config with the
// --log-level and --quiet flags applied on top.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	logCfg := cfg.Logging.LoggerConfig()
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if quiet {
		logCfg.Level = "error"
	}
	return logger.New(logCfg)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return daemon.Version
}
