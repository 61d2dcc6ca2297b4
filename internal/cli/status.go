package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flexygent/flexygent/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the FlexyGent daemon is running, its PID and uptime.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile, err := daemon.PIDFilePath()
	if err != nil {
		return err
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessRunning(pid) {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Status: running")
	fmt.Fprintf(cmd.OutOrStdout(), "PID: %d\n", pid)

	// The PID file is written at startup, so its age is the uptime.
	if fileInfo, err := os.Stat(pidFile); err == nil {
		uptime := time.Since(fileInfo.ModTime())
		fmt.Fprintf(cmd.OutOrStdout(), "Uptime: %s\n", formatDuration(uptime))
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
