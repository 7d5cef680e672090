package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"zplmerge/internal/config"
	fileutil "zplmerge/internal/file"
	"zplmerge/internal/run"
)

type convertFlags struct {
	output   string
	width    float64
	height   float64
	dpi      int
	strategy string
}

func convertCmd(a *app) *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:   "convert INPUT",
		Short: "Render one ZPL file into a merged PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyConvertFlags(cmd, &a.cfg, f)
			if err := config.Validate(a.cfg); err != nil {
				return err //nolint:wrapcheck
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return convert(ctx, afero.NewOsFs(), a.cfg, args[0], f.output, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "labels.pdf", "where to write the merged PDF")
	cmd.Flags().Float64Var(&f.width, "width", 0, "label width in inches")
	cmd.Flags().Float64Var(&f.height, "height", 0, "label height in inches")
	cmd.Flags().IntVar(&f.dpi, "dpi", 0, "print density: 203, 300 or 600")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "batching strategy: packed or adaptive")
	return cmd
}

// applyConvertFlags overrides config values with the flags that were set.
func applyConvertFlags(cmd *cobra.Command, cfg *config.Config, f convertFlags) {
	flags := cmd.Flags()
	if flags.Changed("width") {
		cfg.Page.WidthIn = f.width
	}
	if flags.Changed("height") {
		cfg.Page.HeightIn = f.height
	}
	if flags.Changed("dpi") {
		cfg.Page.DPI = f.dpi
	}
	if flags.Changed("strategy") {
		cfg.Batching.Strategy = run.Strategy(f.strategy)
	}
}

func convert(ctx context.Context, fs afero.Fs, cfg config.Config, input, output string, stdout io.Writer) error {
	raw, err := afero.ReadFile(fs, input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	newRenderer, err := rendererFactory(cfg.Labelary)
	if err != nil {
		return err
	}
	opts := runOptions(cfg.Batching)
	opts.Page = cfg.Page
	opts.Reporter = run.ReporterFunc(logEvent)

	outcome, runErr := run.New(newRenderer(), opts).Run(ctx, raw)
	if outcome != nil {
		_, _ = fmt.Fprint(stdout, outcome.Summary())
	}
	if runErr != nil {
		if errors.Is(runErr, run.ErrNoBlocks) {
			log.Error().Str("input", input).Msg("no ^XA...^XZ blocks found")
		}
		return runErr //nolint:wrapcheck
	}

	if err := fileutil.WriteAtomic(fs, output, bytes.NewReader(outcome.Document)); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Info().Str("output", output).Int("pages", outcome.Pages).Int("failures", len(outcome.Failures)).Msg("merged PDF written")
	return nil
}

// logEvent prints run progress; per-attempt noise goes to debug.
func logEvent(e run.Event) {
	level := zerolog.InfoLevel
	switch e.Kind {
	case run.EventAttempt:
		level = zerolog.DebugLevel
	case run.EventRetry, run.EventChunkShrunk:
		level = zerolog.WarnLevel
	case run.EventBatchFailed, run.EventBlockSkipped:
		level = zerolog.ErrorLevel
	}
	evt := log.WithLevel(level).Str("event", string(e.Kind)).Float64("progress", e.Progress)
	if e.Batch > 0 {
		evt = evt.Int("batch", e.Batch)
	}
	if e.Status > 0 {
		evt = evt.Int("status", e.Status)
	}
	if e.Delay > 0 {
		evt = evt.Dur("delay", e.Delay)
	}
	if e.ChunkSize > 0 {
		evt = evt.Int("chunk_size", e.ChunkSize)
	}
	evt.Msg(e.Message)
}
