package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/pipeline"
	"github.com/nao1215/imgref/internal/source"
)

// NewResolveCmd creates the resolve command.
func NewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [file...]",
		Short: "Resolve the image references in answer text",
		Long: `Resolve reads assistant answers from files (or stdin when no file or "-"
is given) and lists every image reference once, in the order it appeared.

Plain text, markdown and saved HTML transcripts are accepted. References are
repaired into absolute URLs: "@" prefixes and trailing punctuation are
dropped, doubled slashes collapsed, deprecated filename type tags corrected,
bare filenames joined onto the storage base URL.

Examples:
  # Resolve one answer
  imgref resolve answer.txt

  # Resolve from stdin and print JSON
  cat answer.txt | imgref resolve --json

  # Feed the answer in 64-byte chunks as a streaming client would
  imgref resolve --chunk-size 64 answer.txt

  # Fetch every image and check it exists in the bucket
  imgref resolve --probe --verify answer.txt

  # Write an HTML gallery that loads images through the proxy
  imgref resolve --html --proxy -o gallery.html answer.html`,
		Args: cobra.ArbitraryArgs,
		RunE: runResolveCmd,
	}
	addResolveFlags(cmd)
	cmd.Flags().Bool("verify", false,
		"Check every object-storage image against the bucket listing")
	return cmd
}

// addResolveFlags registers the flags shared by resolve and verify.
func addResolveFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of documents resolved concurrently")
	cmd.Flags().Int("chunk-size", 0,
		"Feed each document in chunks of this many bytes (0 = whole document)")
	cmd.Flags().Bool("probe", false,
		"Fetch every resolved image and record its format and size")
	cmd.Flags().Bool("proxy", false,
		"Show image URLs routed through the image proxy")
	cmd.Flags().Bool("no-save", false,
		"Do not store the resolution in the database")

	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report")
	cmd.Flags().Bool("html", false,
		"Output HTML gallery report")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
}

// applyResolveFlags copies the resolve flags into cfg.
func applyResolveFlags(cmd *cobra.Command, cfg *config.Config, args []string) error {
	var err error
	flags := cmd.Flags()

	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return err
	}
	if cfg.ChunkSize, err = flags.GetInt("chunk-size"); err != nil {
		return err
	}
	if cfg.Probe, err = flags.GetBool("probe"); err != nil {
		return err
	}
	if cfg.ProxyURLs, err = flags.GetBool("proxy"); err != nil {
		return err
	}
	noSave, err := flags.GetBool("no-save")
	if err != nil {
		return err
	}
	cfg.SaveToDB = !noSave

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	if cfg.HTMLReport, err = flags.GetBool("html"); err != nil {
		return err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return err
	}

	cfg.Inputs = args
	return nil
}

func runResolveCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyResolveFlags(cmd, cfg, args); err != nil {
		return err
	}
	if cfg.Verify, err = cmd.Flags().GetBool("verify"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	ctx, cancel := signalContext(logger)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	_, err = runResolve(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	return err
}

// runResolve loads the inputs, runs them through the pipeline and writes
// one report per document in input order. Progress for streamed chunks
// goes to progress.
func runResolve(ctx context.Context, a *app, stdin io.Reader, stdout, progress io.Writer) ([]*model.Resolution, error) {
	docs, err := source.LoadAll(a.cfg.Inputs, stdin)
	if err != nil {
		return nil, err
	}

	a.logger.Info("starting resolution",
		"documents", len(docs),
		"batchSize", a.cfg.BatchSize,
		"chunkSize", a.cfg.ChunkSize,
		"saveToDB", a.store != nil,
	)

	var onChunk func(job *pipeline.Job, index int, added []model.ImageReference)
	if a.cfg.ChunkSize > 0 {
		var mu sync.Mutex
		onChunk = func(job *pipeline.Job, index int, added []model.ImageReference) {
			if len(added) == 0 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, img := range added {
				if index < 0 {
					fmt.Fprintf(progress, "[%s] final: %s\n", job.Document.Name, img.URL)
					continue
				}
				fmt.Fprintf(progress, "[%s] chunk %d: %s\n", job.Document.Name, index, img.URL)
			}
		}
	}

	bp := pipeline.NewBatchProcessor(
		func() *pipeline.Pipeline { return a.newPipeline(onChunk) },
		pipeline.WithConcurrency(a.cfg.BatchSize),
		pipeline.WithBatchLogger(a.logger),
	)

	startTime := time.Now()
	results, batchErr := bp.ProcessBatch(ctx, docs)
	a.logger.Info("resolution complete",
		"documents", len(docs),
		"elapsed", time.Since(startTime).Round(time.Millisecond),
	)

	output, closeOutput, err := openOutput(a.cfg, stdout)
	if err != nil {
		return results, err
	}
	defer closeOutput() //nolint:errcheck // close error is reported below for files

	writer := newReportWriter(a.cfg, output)
	for _, res := range results {
		if res == nil {
			continue
		}
		if _, err := writer.Write(res); err != nil {
			return results, fmt.Errorf("failed to write report: %w", err)
		}
	}

	if batchErr != nil {
		return results, batchErr
	}
	return results, closeOutput()
}
