package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/report"
)

const testAnswer = "참고하세요.\n[이미지 1]\nhttps://h/a.jpg\n그리고 ![도표](https://h/b.png) 입니다.\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestApp creates an app that stores runs in a temporary directory.
func newTestApp(t *testing.T, mutate func(cfg *config.Config)) *app {
	t.Helper()

	cfg := config.NewConfig()
	cfg.DBDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	a, err := newApp(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func writeInput(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeVerifier reports the configured URLs as missing.
type fakeVerifier struct {
	missing []string
}

func (f fakeVerifier) Verify(_ context.Context, _ string, _ []model.ImageReference) ([]string, error) {
	return f.missing, nil
}

func TestNewResolveCmd(t *testing.T) {
	t.Parallel()

	cmd := NewResolveCmd()
	for _, name := range []string{"batch", "chunk-size", "probe", "proxy", "no-save", "json", "markdown", "html", "output", "verify"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected %s flag", name)
		}
	}
	if cmd.Flags().Lookup("batch").DefValue != "10" {
		t.Errorf("unexpected batch default %q", cmd.Flags().Lookup("batch").DefValue)
	}
}

func TestRunResolve(t *testing.T) {
	t.Parallel()

	t.Run("writes JSON and stores the run", func(t *testing.T) {
		t.Parallel()

		input := writeInput(t, "answer.txt", testAnswer)
		a := newTestApp(t, func(cfg *config.Config) {
			cfg.JSONReport = true
			cfg.Inputs = []string{input}
		})

		var stdout, progress bytes.Buffer
		results, err := runResolve(context.Background(), a, nil, &stdout, &progress)
		if err != nil {
			t.Fatalf("runResolve() error = %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}

		var got report.JSONReport
		if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON report: %v\n%s", err, stdout.String())
		}
		var urls []string
		for _, img := range got.Resolution.Images {
			urls = append(urls, img.URL)
		}
		if strings.Join(urls, " ") != "https://h/a.jpg https://h/b.png" {
			t.Errorf("unexpected images %v", urls)
		}

		runs, err := a.store.ListRuns(context.Background(), input, 0)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 1 || runs[0].Images != 2 {
			t.Errorf("expected one stored run with 2 images, got %+v", runs)
		}
		if progress.Len() != 0 {
			t.Errorf("expected no progress without chunking, got %q", progress.String())
		}
	})

	t.Run("chunked input reports progress and matches", func(t *testing.T) {
		t.Parallel()

		input := writeInput(t, "answer.txt", testAnswer)
		a := newTestApp(t, func(cfg *config.Config) {
			cfg.SaveToDB = false
			cfg.ChunkSize = 7
			cfg.Inputs = []string{input}
		})

		var stdout, progress bytes.Buffer
		results, err := runResolve(context.Background(), a, nil, &stdout, &progress)
		if err != nil {
			t.Fatalf("runResolve() error = %v", err)
		}
		if n := len(results[0].Images); n != 2 {
			t.Errorf("expected 2 images, got %d", n)
		}
		for _, want := range []string{"https://h/a.jpg", "https://h/b.png"} {
			if strings.Count(progress.String(), want) != 1 {
				t.Errorf("expected %s reported once in progress:\n%s", want, progress.String())
			}
		}
		if !strings.Contains(stdout.String(), "IMAGES (2)") {
			t.Errorf("expected text report, got %s", stdout.String())
		}
	})

	t.Run("reads stdin when no input is given", func(t *testing.T) {
		t.Parallel()

		a := newTestApp(t, func(cfg *config.Config) {
			cfg.SaveToDB = false
			cfg.MarkdownReport = true
		})

		var stdout bytes.Buffer
		if _, err := runResolve(context.Background(), a, strings.NewReader(testAnswer), &stdout, io.Discard); err != nil {
			t.Fatalf("runResolve() error = %v", err)
		}
		if !strings.Contains(stdout.String(), "# Image Reference Report") {
			t.Errorf("expected markdown report, got %s", stdout.String())
		}
	})

	t.Run("writes report file with private permissions", func(t *testing.T) {
		t.Parallel()

		input := writeInput(t, "answer.txt", testAnswer)
		out := filepath.Join(t.TempDir(), "reports", "gallery.html")
		a := newTestApp(t, func(cfg *config.Config) {
			cfg.SaveToDB = false
			cfg.HTMLReport = true
			cfg.ProxyURLs = true
			cfg.ReportFile = out
			cfg.Inputs = []string{input}
		})

		var stdout bytes.Buffer
		if _, err := runResolve(context.Background(), a, nil, &stdout, io.Discard); err != nil {
			t.Fatalf("runResolve() error = %v", err)
		}
		if stdout.Len() != 0 {
			t.Error("expected nothing on stdout")
		}

		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("expected report file: %v", err)
		}
		if !strings.Contains(string(data), "/api/proxy-image?url=") {
			t.Error("expected proxied image URLs")
		}
		if !strings.Contains(string(data), "참고하세요.") {
			t.Error("expected cleaned answer text")
		}
		if runtime.GOOS != "windows" {
			info, err := os.Stat(out)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("expected permissions 0600, got %o", info.Mode().Perm())
			}
		}
	})

	t.Run("missing input file", func(t *testing.T) {
		t.Parallel()

		a := newTestApp(t, func(cfg *config.Config) {
			cfg.SaveToDB = false
			cfg.Inputs = []string{filepath.Join(t.TempDir(), "missing.txt")}
		})
		if _, err := runResolve(context.Background(), a, nil, io.Discard, io.Discard); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected os.ErrNotExist, got %v", err)
		}
	})
}

func TestVerifyMissing(t *testing.T) {
	t.Parallel()

	input := writeInput(t, "answer.txt", testAnswer)
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.SaveToDB = false
		cfg.Inputs = []string{input}
	})
	a.verifier = fakeVerifier{missing: []string{"https://h/b.png"}}

	var stdout bytes.Buffer
	results, err := runResolve(context.Background(), a, nil, &stdout, io.Discard)
	if err != nil {
		t.Fatalf("runResolve() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "MISSING from object storage") {
		t.Errorf("expected missing marker in report:\n%s", stdout.String())
	}

	err = missingError(results)
	if err == nil || !strings.Contains(err.Error(), "1 image(s) missing") {
		t.Errorf("expected missing error, got %v", err)
	}

	if err := missingError([]*model.Resolution{{Verified: true}}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestNewReportWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{name: "text by default", mutate: func(*config.Config) {}, want: "*report.SimpleWriter"},
		{name: "json", mutate: func(c *config.Config) { c.JSONReport = true }, want: "*report.FullJSONWriter"},
		{name: "markdown", mutate: func(c *config.Config) { c.MarkdownReport = true }, want: "*report.MarkdownWriter"},
		{name: "html", mutate: func(c *config.Config) { c.HTMLReport = true }, want: "*report.HTMLWriter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.NewConfig()
			tt.mutate(cfg)
			if got := fmt.Sprintf("%T", newReportWriter(cfg, io.Discard)); got != tt.want {
				t.Errorf("newReportWriter() = %s, want %s", got, tt.want)
			}
		})
	}
}
