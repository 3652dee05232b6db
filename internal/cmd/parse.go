package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/boltkit/internal/parser"
)

var parseCmd = &cobra.Command{
	Use:   "parse [file|-]",
	Short: "Print the parser events of a model response",
	Long: `Parse feeds a model response through the action parser without executing
anything and prints every event as one JSON object per line.

With --coalesce adjacent text and body deltas are merged, so the output no
longer depends on --chunk-size.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

var (
	parseChunkSize int
	parseCoalesce  bool
	parseStreamID  string
)

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().IntVar(&parseChunkSize, "chunk-size", defaultChunkSize, "bytes fed to the parser at a time")
	parseCmd.Flags().BoolVar(&parseCoalesce, "coalesce", false, "merge adjacent text and delta events")
	parseCmd.Flags().StringVar(&parseStreamID, "stream-id", "stdin", "stream id reported in events")
}

func runParse(cmd *cobra.Command, args []string) error {
	in, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	p := newParser(cfg, logger)
	enc := json.NewEncoder(cmd.OutOrStdout())
	write := func(events []parser.Event) error {
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	var all []parser.Event
	for chunk := range streamChunks(cmd.Context(), in, parseChunkSize, logger) {
		events := p.Feed(parseStreamID, chunk)
		if parseCoalesce {
			all = append(all, events...)
			continue
		}
		if err := write(events); err != nil {
			return err
		}
	}

	events, finishErr := p.Finish(parseStreamID)
	if parseCoalesce {
		events = parser.Coalesce(append(all, events...))
	}
	if err := write(events); err != nil {
		return err
	}
	if finishErr != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), finishErr)
		return &ExitError{Code: 2}
	}
	return nil
}
