package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flexygent/flexygent/internal/config"
	"github.com/flexygent/flexygent/internal/daemon"
	"github.com/flexygent/flexygent/internal/telegram"
	"github.com/flexygent/flexygent/pkg/coretools"
	"github.com/flexygent/flexygent/pkg/interaction"
	"github.com/flexygent/flexygent/pkg/orchestrator"
	"github.com/flexygent/flexygent/pkg/plugin"
	"github.com/flexygent/flexygent/pkg/provider"
	"github.com/flexygent/flexygent/pkg/runstore"
	"github.com/flexygent/flexygent/pkg/tool"
)

var (
	runToolNames    []string
	runAutonomy     string
	runMaxSteps     int
	runMaxToolCalls int
	runParallel     bool
	runNoParallel   bool
	runSystem       string
	runSave         bool
	runTimeout      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run TASK",
	Short: "Run one task through the tool-calling loop",
	Long: `Run a single task through the policy-guarded tool-calling loop and
print the final answer. The policy comes from the config file; flags
override individual fields for this run only.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runToolNames, "tools", nil, "tool subset exposed to the model (default: every allowed tool)")
	runCmd.Flags().StringVar(&runAutonomy, "autonomy", "", "autonomy for this run (auto, confirm, never)")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "maximum model turns")
	runCmd.Flags().IntVar(&runMaxToolCalls, "max-tool-calls", 0, "maximum tool executions")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "dispatch tool calls of one turn in parallel")
	runCmd.Flags().BoolVar(&runNoParallel, "no-parallel", false, "dispatch tool calls sequentially")
	runCmd.Flags().StringVar(&runSystem, "system", "", "system prompt override")
	runCmd.Flags().BoolVar(&runSave, "save", false, "archive the finished run to the run store")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "wall-clock limit for the whole run (e.g. 2m)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	zl := log.Zerolog()

	catalog, closeCatalog, err := buildCatalog(cfg, zl)
	if err != nil {
		return err
	}
	defer closeCatalog()

	client, err := provider.FromConfig(cfg.Provider.Options())
	if err != nil {
		return err
	}
	client = provider.WithRetry(client, 3, 500*time.Millisecond)

	port, closePort, err := interactionPort(cfg, zl)
	if err != nil {
		return err
	}
	defer closePort()

	policy := cfg.Policy.Policy()
	applyPolicyFlags(cmd, &policy)

	orch, err := orchestrator.New(orchestrator.Config{
		Client:  client,
		Catalog: catalog,
		Policy:  policy,
		Port:    port,
		Model:   cfg.Provider.Model,
		Logger:  zl,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	result, runErr := orch.Run(ctx, orchestrator.RunRequest{
		Task:         args[0],
		SystemPrompt: runSystem,
		Tools:        runToolNames,
	})
	if result == nil {
		return runErr
	}

	if runSave {
		if err := archiveRun(cmd.OutOrStdout(), args[0], result); err != nil {
			zl.Warn().Err(err).Msg("Failed to archive run")
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.FinalText)

	switch result.FinishReason {
	case orchestrator.FinishError, orchestrator.FinishAborted:
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("run finished with reason %s", result.FinishReason)
	}

	return nil
}

// buildCatalog registers the core tools and any plugins on a fresh catalog.
// The returned closer kills plugin processes.
func buildCatalog(cfg *config.Config, zl zerolog.Logger) (*tool.Catalog, func(), error) {
	catalog := tool.NewCatalog()
	if err := coretools.RegisterAll(catalog, cfg.Tools.CoreOptions()); err != nil {
		return nil, nil, fmt.Errorf("failed to register core tools: %w", err)
	}

	closeCatalog := func() {}
	if dir := cfg.Tools.PluginsDir; dir != "" {
		loader, err := plugin.NewLoader(plugin.Config{
			Catalog:     catalog,
			HostVersion: daemon.Version,
			Logger:      zl,
		})
		if err != nil {
			return nil, nil, err
		}
		if _, err := loader.LoadDir(dir); err != nil {
			zl.Warn().Err(err).Str("dir", dir).Msg("Plugin scan failed")
		}
		closeCatalog = loader.Close
	}

	return catalog, closeCatalog, nil
}

// interactionPort selects the confirmation surface for the configured mode.
// The returned closer stops the telegram bot when one was started.
func interactionPort(cfg *config.Config, zl zerolog.Logger) (interaction.Port, func(), error) {
	switch cfg.Interaction.Mode {
	case config.ModeTelegram:
		bot, err := telegram.New(cfg.Interaction.Telegram, zl)
		if err != nil {
			return nil, nil, err
		}
		if err := bot.Start(); err != nil {
			return nil, nil, err
		}
		return bot.Port(), func() { _ = bot.Stop() }, nil

	case config.ModeNoop:
		return interaction.NoopPort{}, func() {}, nil

	default:
		return interaction.NewTerminalPort(os.Stdin, os.Stdout), func() {}, nil
	}
}

// applyPolicyFlags overlays the run command's flags on the configured policy.
func applyPolicyFlags(cmd *cobra.Command, policy *orchestrator.Policy) {
	if cmd.Flags().Changed("autonomy") {
		policy.Autonomy = orchestrator.Autonomy(runAutonomy)
	}
	if cmd.Flags().Changed("max-steps") {
		policy.MaxSteps = runMaxSteps
	}
	if cmd.Flags().Changed("max-tool-calls") {
		policy.MaxToolCalls = runMaxToolCalls
	}
	if runParallel {
		policy.ParallelToolCalls = true
	}
	if runNoParallel {
		policy.ParallelToolCalls = false
	}
	if runTimeout > 0 && (policy.MaxWallTime == 0 || runTimeout < policy.MaxWallTime) {
		policy.MaxWallTime = runTimeout
	}
}

// archiveRun stores a finished run in the sqlite archive.
func archiveRun(out io.Writer, task string, result *orchestrator.RunResult) error {
	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	store, err := runstore.Open(filepath.Join(dataDir, "runs.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	rec := runstore.NewRecord(task, *result)
	if err := store.SaveRun(context.Background(), rec); err != nil {
		return err
	}

	fmt.Fprintf(out, "Run archived: %s\n", rec.ID)
	return nil
}
