package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/spotcapture/internal/preflight"
	"github.com/audiolibrelab/spotcapture/internal/service"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the recorder can run",
	Long:  `Verify that ffmpeg and pactl are installed and that the output and history directories are writable.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := service.Check(cfg)

		rows := make([][]string, 0, len(results))
		for _, r := range results {
			status := "ok"
			switch {
			case !r.Passed && r.Optional:
				status = "warn"
			case !r.Passed:
				status = "FAIL"
			}
			rows = append(rows, []string{r.Name, status, r.Detail})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))

		if failed := preflight.Failed(results); len(failed) > 0 {
			return fmt.Errorf("%d check(s) failed", len(failed))
		}
		return nil
	},
}
