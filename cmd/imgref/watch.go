package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nao1215/imgref/internal/collector"
	"github.com/nao1215/imgref/internal/model"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Resolve a growing transcript as it is written",
		Long: `Watch follows a file that another program appends to, such as a streamed
assistant answer being saved to disk. Each appended region is fed to one
resolver session and newly found images are printed as they appear.

When the file is truncated the session starts over. Watching ends on
Ctrl-C, when the file is removed, or after --idle without writes; the final
report is then written like 'imgref resolve' does.

Examples:
  # Follow a transcript until Ctrl-C
  imgref watch answer.txt

  # Stop after 30 seconds without writes and print JSON
  imgref watch --idle 30s --json answer.txt`,
		Args: cobra.ExactArgs(1),
		RunE: runWatchCmd,
	}

	cmd.Flags().Duration("idle", 0,
		"Stop after this long without writes (0 = until interrupted)")
	cmd.Flags().Bool("no-save", false,
		"Do not store the resolution in the database")
	cmd.Flags().BoolP("json", "j", false, "Output JSON report")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown report")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	return cmd
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	idle, err := cmd.Flags().GetDuration("idle")
	if err != nil {
		return err
	}
	noSave, err := cmd.Flags().GetBool("no-save")
	if err != nil {
		return err
	}
	cfg.SaveToDB = !noSave
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	cfg.Inputs = args

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

	path := args[0]
	session := a.resolver.NewSession()
	progress := cmd.ErrOrStderr()
	err = followFile(ctx, path, session, idle, func(added []model.ImageReference) {
		for _, img := range added {
			fmt.Fprintf(progress, "+ %s  %s\n", img.Label, img.URL)
		}
	})
	if err != nil {
		return err
	}

	doc := model.NewDocument(path, session.Text())
	res := a.resolver.Complete(session, doc)
	if a.store != nil {
		// The signal context may already be canceled here.
		if err := a.store.SaveRun(context.WithoutCancel(ctx), res); err != nil {
			logger.Error("failed to save resolution", "source", path, "error", err)
		}
	}

	output, closeOutput, err := openOutput(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if _, err := newReportWriter(cfg, output).Write(res); err != nil {
		_ = closeOutput()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return closeOutput()
}

// followFile feeds path to s, first its current content and then every
// appended region, and calls onAdded with the references each region
// added. It returns nil when ctx is canceled, the file is removed or
// renamed, or idle passes without a write. A zero idle waits forever.
func followFile(ctx context.Context, path string, s *collector.Session, idle time.Duration, onAdded func([]model.ImageReference)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	t := &tail{path: path, session: s, onAdded: onAdded}
	if err := t.read(); err != nil {
		return err
	}

	var idleC <-chan time.Time
	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		idleC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			t.finish()
			return nil
		case <-idleC:
			t.finish()
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				t.finish()
				return nil
			}
			return fmt.Errorf("file watcher failed: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				t.finish()
				return nil
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				t.finish()
				return nil
			}
			if !ev.Has(fsnotify.Write) {
				continue
			}
			if timer != nil {
				timer.Reset(idle)
			}
			if err := t.read(); err != nil {
				return err
			}
		}
	}
}

// tail tracks how much of a file has been fed to a session.
type tail struct {
	path    string
	session *collector.Session
	onAdded func([]model.ImageReference)

	offset int64
	// partial holds the bytes of a rune cut off by the last read.
	partial []byte
}

// read feeds the bytes appended since the last read. A file that shrank
// was truncated: the session starts over from its beginning.
func (t *tail) read() error {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", t.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", t.path, err)
	}
	if info.Size() < t.offset {
		t.session.Reset()
		t.offset = 0
		t.partial = nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", t.path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", t.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	t.offset += int64(len(data))

	data = append(t.partial, data...)
	complete, rest := splitIncompleteRune(data)
	t.partial = append([]byte(nil), rest...)
	if len(complete) == 0 {
		return nil
	}

	t.report(t.session.AppendChunk(string(complete)))
	return nil
}

// finish rescans the whole buffer so held-back tail references are
// reported.
func (t *tail) finish() {
	if len(t.partial) > 0 {
		t.report(t.session.AppendChunk(string(t.partial)))
		t.partial = nil
	}
	t.report(t.session.Finish())
}

func (t *tail) report(added []model.ImageReference) {
	if len(added) > 0 && t.onAdded != nil {
		t.onAdded(added)
	}
}

// splitIncompleteRune splits off a trailing UTF-8 sequence that is cut
// short. Invalid bytes that can never complete are left in place.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}
