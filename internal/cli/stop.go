package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flexygent/flexygent/internal/daemon"
)

var stopTimeout int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Stop the FlexyGent daemon gracefully.
Sends SIGTERM and waits for it to shut down; after the timeout the
daemon is killed.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "seconds to wait before sending SIGKILL")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidFile, err := daemon.PIDFilePath()
	if err != nil {
		return err
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessRunning(pid) {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to PID %d\n", pid)

	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !daemon.ProcessRunning(pid) {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	os.Remove(pidFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Daemon killed")
	return nil
}
