package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/database"
	"github.com/nao1215/imgref/internal/model"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [source]",
		Short: "List stored resolution runs",
		Long: `History lists the resolutions stored by 'imgref resolve', newest first.
Only derived output is stored: the document digest and the resolved image
references, never the answer text.

Examples:
  # List the sources that have stored runs
  imgref history --list-sources

  # List runs of one source
  imgref history answer.txt

  # Show one stored run as a report
  imgref history --run-id 6f1c... --markdown

  # Show which images changed between the latest two runs of a source
  imgref history --diff answer.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("list-sources", "L", false,
		"List every source with stored runs")
	cmd.Flags().IntP("limit", "n", 20,
		"Maximum number of runs to list (0 = all)")
	cmd.Flags().StringP("run-id", "i", "",
		"Show the stored run with this ID as a report")
	cmd.Flags().Bool("diff", false,
		"Compare the latest two runs of the source")
	cmd.Flags().BoolP("json", "j", false, "Output JSON")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown report (with --run-id)")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	listSources, err := flags.GetBool("list-sources")
	if err != nil {
		return err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	runID, err := flags.GetString("run-id")
	if err != nil {
		return err
	}
	diff, err := flags.GetBool("diff")
	if err != nil {
		return err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return err
	}

	source := ""
	if len(args) == 1 {
		source = args[0]
	}
	if diff && source == "" {
		return fmt.Errorf("%w: --diff needs a source", config.ErrNoInput)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openHistoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	switch {
	case listSources:
		return listRunSources(ctx, db, out)
	case runID != "":
		return showRun(ctx, db, cfg, runID, out)
	case diff:
		return diffRuns(ctx, db, source, cfg.JSONReport, out)
	default:
		return listRuns(ctx, db, source, limit, cfg.JSONReport, out)
	}
}

// openHistoryStore opens an existing run database without creating one.
func openHistoryStore(ctx context.Context, cfg *config.Config) (*database.RunDB, error) {
	if cfg.DatabaseURL != "" {
		return openStore(ctx, cfg)
	}
	db, err := database.Open(cfg.DBDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoDatabase, err)
	}
	return db, nil
}

func listRunSources(ctx context.Context, db *database.RunDB, out io.Writer) error {
	sources, err := db.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	if len(sources) == 0 {
		fmt.Fprintln(out, "No stored runs found in the database.")
		return nil
	}

	fmt.Fprintf(out, "Sources (%d):\n\n", len(sources))
	for _, s := range sources {
		fmt.Fprintf(out, "  • %s\n", s)
	}
	fmt.Fprintln(out, "\nUse 'imgref history <source>' to list the runs of a source.")
	return nil
}

func listRuns(ctx context.Context, db *database.RunDB, source string, limit int, asJSON bool, out io.Writer) error {
	runs, err := db.ListRuns(ctx, source, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No stored runs found.")
		return nil
	}

	fmt.Fprintf(out, "  %-36s  %-19s  %6s  %6s  %s\n", "Run ID", "Date", "Images", "Miss", "Source")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 90))
	for _, r := range runs {
		fmt.Fprintf(out, "  %-36s  %-19s  %6d  %6d  %s\n",
			r.RunID,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Images,
			r.Missing,
			r.Source,
		)
	}
	return nil
}

func showRun(ctx context.Context, db *database.RunDB, cfg *config.Config, runID string, out io.Writer) error {
	res, err := db.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	if res == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	_, err = newReportWriter(cfg, out).Write(res)
	return err
}

// RunDiff lists the image URLs that changed between two runs of a source.
type RunDiff struct {
	Source   string   `json:"source"`
	Previous string   `json:"previous_run"`
	Current  string   `json:"current_run"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
}

// compareRuns returns the URLs only in cur (added) and only in prev
// (removed), each in encounter order.
func compareRuns(prev, cur *model.Resolution) RunDiff {
	d := RunDiff{
		Source:   cur.Source,
		Previous: prev.ID,
		Current:  cur.ID,
		Added:    make([]string, 0),
		Removed:  make([]string, 0),
	}

	before := make(map[string]bool, len(prev.Images))
	for _, img := range prev.Images {
		before[img.URL] = true
	}
	after := make(map[string]bool, len(cur.Images))
	for _, img := range cur.Images {
		after[img.URL] = true
		if !before[img.URL] {
			d.Added = append(d.Added, img.URL)
		}
	}
	for _, img := range prev.Images {
		if !after[img.URL] {
			d.Removed = append(d.Removed, img.URL)
		}
	}
	return d
}

func diffRuns(ctx context.Context, db *database.RunDB, source string, asJSON bool, out io.Writer) error {
	runs, err := db.ListRuns(ctx, source, 2)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) < 2 {
		return fmt.Errorf("at least 2 runs are required for comparison (found %d)", len(runs))
	}

	cur, err := db.GetRun(ctx, runs[0].RunID)
	if err != nil {
		return fmt.Errorf("failed to get run %s: %w", runs[0].RunID, err)
	}
	prev, err := db.GetRun(ctx, runs[1].RunID)
	if err != nil {
		return fmt.Errorf("failed to get run %s: %w", runs[1].RunID, err)
	}
	if cur == nil || prev == nil {
		return fmt.Errorf("runs of %s disappeared during comparison", source)
	}

	d := compareRuns(prev, cur)
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Fprintf(out, "Comparing runs of %s\n  previous: %s\n  current:  %s\n\n", source, d.Previous, d.Current)
	if len(d.Added) == 0 && len(d.Removed) == 0 {
		fmt.Fprintln(out, "No image changes.")
		return nil
	}
	for _, u := range d.Added {
		fmt.Fprintf(out, "  + %s\n", u)
	}
	for _, u := range d.Removed {
		fmt.Fprintf(out, "  - %s\n", u)
	}
	return nil
}
