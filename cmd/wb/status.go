package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/waybill/internal/monitor"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Waybill status",
		Long:  "Displays the mailbox watermark and notification counts from storage. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	for {
		info, err := monitor.BuildStatus(gormDB)
		if err != nil {
			return err
		}

		if watch {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}

		fmt.Fprint(out, formatStatus(info))

		if !watch {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}

func formatStatus(info *monitor.StatusInfo) string {
	s := "Waybill status\n"
	if info.WatermarkAt.IsZero() {
		s += "  watermark:  never advanced\n"
	} else {
		s += fmt.Sprintf("  watermark:  %s (%s ago)\n",
			info.WatermarkAt.Format(time.RFC3339), info.WatermarkAge)
	}
	s += fmt.Sprintf("  pending:    %d\n", info.Pending)
	s += fmt.Sprintf("  resolved:   %d\n", info.Resolved)
	s += fmt.Sprintf("  expired:    %d\n", info.Expired)
	return s
}
