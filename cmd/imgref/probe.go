package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/normalizer"
)

var errUnrepairableURL = errors.New("not a repairable image URL")

// NewProbeCmd creates the probe command.
func NewProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe URL...",
		Short: "Fetch images and describe them",
		Long: `Probe repairs each argument like a resolved reference, fetches it and
prints the HTTP status, content type, format, dimensions and a short EXIF
summary. Only image content types are accepted and at most --max-size bytes
are read.

Examples:
  imgref probe https://example.com/a.jpg
  imgref probe --json galaxy_s25_figure_p3_top_ab12.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: runProbeCmd,
	}

	cmd.Flags().DurationP("timeout", "t", config.DefaultProbeTimeout,
		"Per-image fetch timeout")
	cmd.Flags().Int64("max-size", config.DefaultMaxImageSize,
		"Maximum bytes read per image")
	cmd.Flags().BoolP("json", "j", false, "Output JSON")

	return cmd
}

func runProbeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.ProbeTimeout, err = cmd.Flags().GetDuration("timeout"); err != nil {
		return err
	}
	if cfg.MaxImageSize, err = cmd.Flags().GetInt64("max-size"); err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	nz, err := normalizer.New(cfg.Resolver)
	if err != nil {
		return fmt.Errorf("failed to create normalizer: %w", err)
	}

	urls := make([]string, 0, len(args))
	for _, arg := range args {
		u, ok := nz.NormalizeURL(arg)
		if !ok {
			return fmt.Errorf("%w: %q", errUnrepairableURL, arg)
		}
		urls = append(urls, u)
	}

	logger := setupLogger(cfg.Verbose)
	ctx, cancel := signalContext(logger)
	defer cancel()

	results, err := newProber(cfg, logger).ProbeAll(ctx, urls)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	failed := 0
	for _, u := range urls {
		p := results[u]
		if !p.OK() {
			failed++
			fmt.Fprintf(out, "FAIL %s\n     %s\n", u, p.Error)
			continue
		}
		fmt.Fprintf(out, "OK   %s\n     %d %s %s", u, p.StatusCode, p.ContentType, p.Format)
		if p.Width > 0 {
			fmt.Fprintf(out, " %dx%d", p.Width, p.Height)
		}
		fmt.Fprintf(out, " %d bytes\n", p.Bytes)

		keys := make([]string, 0, len(p.EXIF))
		for k := range p.EXIF {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "     %s: %s\n", k, p.EXIF[k])
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) could not be fetched", failed, len(urls))
	}
	return nil
}
