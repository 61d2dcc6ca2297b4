package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flexygent/flexygent/internal/config"
	"github.com/flexygent/flexygent/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway daemon",
	Long: `Run the FlexyGent daemon in the foreground: the HTTP/WebSocket
gateway, scheduled runs, lifecycle hooks and live config reload.
Stop it with Ctrl-C or the stop command.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	pidFile, err := daemon.PIDFilePath()
	if err == nil {
		if pid, readErr := daemon.ReadPID(pidFile); readErr == nil && daemon.ProcessRunning(pid) {
			return fmt.Errorf("daemon is already running (PID %d, PID file: %s)", pid, pidFile)
		}
	}

	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
		}
		return fmt.Errorf("configuration is invalid (%d problems)", len(errs))
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, loader.GetConfigPath(), log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon listening on %s\n", d.GatewayServer().Addr())

	d.Wait()

	return nil
}
