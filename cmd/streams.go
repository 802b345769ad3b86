package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/spotcapture/internal/audio"
)

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List the audio streams of running applications",
	Long: `List the PulseAudio sink inputs as seen by pactl. The player's stream is
the one whose application name matches player.application_name; it is moved
into the capture sink when recording starts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		router := audio.NewPulseRouter(audio.RouterConfig{
			Binary:   cfg.Audio.PactlBinary,
			SinkName: cfg.Audio.SinkName,
		})
		streams, err := router.ListStreams(contextOrBackground(cmd))
		if err != nil {
			return fmt.Errorf("failed to list streams: %w", err)
		}

		w := cmd.OutOrStdout()
		if len(streams) == 0 {
			fmt.Fprintln(w, "No audio streams found. Is anything playing?")
			return nil
		}

		rows := make([][]string, 0, len(streams))
		for _, s := range streams {
			marker := ""
			if strings.EqualFold(s.ApplicationName, cfg.Player.ApplicationName) {
				marker = "player"
			}
			rows = append(rows, []string{strconv.Itoa(s.Index), s.ApplicationName, s.MediaName, s.Sink, marker})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"Index", "Application", "Media", "Sink", ""},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		))
		return nil
	},
}
