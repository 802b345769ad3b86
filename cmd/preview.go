package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/spotcapture/internal/naming"
)

var previewFields struct {
	artist string
	album  string
	title  string
	number int
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show where a track would be saved",
	Long: `Render the configured filename pattern for sample metadata. Useful to try
a --filename-pattern before recording.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := naming.NewFormatter(cfg.Output.FilenamePattern, cfg.Output.UnderscoredFilenames)
		if err != nil {
			return err
		}

		number := naming.TrackNumber(previewFields.number)
		if cfg.Output.InternalTrackCounter {
			number = naming.CounterNumber(1)
		}

		name := f.Format(naming.Fields{
			Artist:      previewFields.artist,
			Album:       previewFields.album,
			TrackNumber: number,
			Title:       previewFields.title,
		})
		sub, base := naming.Split(name)

		fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(cfg.Output.Directory, sub, base+"."+cfg.Audio.Extension))
		return nil
	},
}

func init() {
	flags := previewCmd.Flags()
	flags.StringVar(&previewFields.artist, "artist", "Daft Punk, Pharrell Williams", "sample artist")
	flags.StringVar(&previewFields.album, "album", "Random Access Memories", "sample album")
	flags.StringVar(&previewFields.title, "title", "Get Lucky", "sample title")
	flags.IntVar(&previewFields.number, "track-number", 8, "sample track number")
}
