package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/database"
	"github.com/nao1215/imgref/internal/model"
)

func newResolution(id, source string, createdAt time.Time, urls ...string) *model.Resolution {
	res := model.NewResolution(id, model.NewDocument(source, strings.Join(urls, "\n")), createdAt)
	for i, u := range urls {
		res.Images = append(res.Images, model.ImageReference{
			URL:            u,
			Label:          "이미지 " + string(rune('1'+i)),
			RelevanceScore: 0.9,
			Kind:           model.PatternLabeledPlain,
		})
	}
	res.Candidates = len(urls)
	return res
}

func TestCompareRuns(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name        string
		prev        []string
		cur         []string
		wantAdded   []string
		wantRemoved []string
	}{
		{
			name:        "no change",
			prev:        []string{"https://h/a.jpg", "https://h/b.png"},
			cur:         []string{"https://h/a.jpg", "https://h/b.png"},
			wantAdded:   []string{},
			wantRemoved: []string{},
		},
		{
			name:        "added and removed keep encounter order",
			prev:        []string{"https://h/a.jpg", "https://h/b.png", "https://h/c.gif"},
			cur:         []string{"https://h/d.jpg", "https://h/a.jpg", "https://h/e.jpg"},
			wantAdded:   []string{"https://h/d.jpg", "https://h/e.jpg"},
			wantRemoved: []string{"https://h/b.png", "https://h/c.gif"},
		},
		{
			name:        "empty previous run",
			prev:        nil,
			cur:         []string{"https://h/a.jpg"},
			wantAdded:   []string{"https://h/a.jpg"},
			wantRemoved: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := compareRuns(
				newResolution("prev", "a.txt", now.Add(-time.Hour), tt.prev...),
				newResolution("cur", "a.txt", now, tt.cur...),
			)
			if d.Previous != "prev" || d.Current != "cur" || d.Source != "a.txt" {
				t.Errorf("unexpected diff header %+v", d)
			}
			if strings.Join(d.Added, ",") != strings.Join(tt.wantAdded, ",") || d.Added == nil {
				t.Errorf("Added = %v, want %v", d.Added, tt.wantAdded)
			}
			if strings.Join(d.Removed, ",") != strings.Join(tt.wantRemoved, ",") || d.Removed == nil {
				t.Errorf("Removed = %v, want %v", d.Removed, tt.wantRemoved)
			}
		})
	}
}

// newHistoryDB creates a database holding two runs of a.txt and one of b.txt.
func newHistoryDB(t *testing.T) (*database.RunDB, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	runs := []*model.Resolution{
		newResolution("run-1", "a.txt", base, "https://h/a.jpg", "https://h/b.png"),
		newResolution("run-2", "a.txt", base.Add(time.Minute), "https://h/a.jpg", "https://h/c.gif"),
		newResolution("run-3", "b.txt", base.Add(2*time.Minute), "https://h/x.jpg"),
	}
	for _, res := range runs {
		if err := db.SaveRun(ctx, res); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}
	return db, dir
}

func TestListRunSources(t *testing.T) {
	t.Parallel()

	db, _ := newHistoryDB(t)
	var out bytes.Buffer
	if err := listRunSources(context.Background(), db, &out); err != nil {
		t.Fatalf("listRunSources() error = %v", err)
	}
	for _, want := range []string{"Sources (2):", "• a.txt", "• b.txt"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	db, _ := newHistoryDB(t)

	t.Run("table", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		if err := listRuns(context.Background(), db, "a.txt", 0, false, &out); err != nil {
			t.Fatalf("listRuns() error = %v", err)
		}
		got := out.String()
		if !strings.Contains(got, "run-1") || !strings.Contains(got, "run-2") || strings.Contains(got, "run-3") {
			t.Errorf("unexpected run list:\n%s", got)
		}
		if strings.Index(got, "run-2") > strings.Index(got, "run-1") {
			t.Error("expected newest run first")
		}
	})

	t.Run("json with limit", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		if err := listRuns(context.Background(), db, "", 1, true, &out); err != nil {
			t.Fatalf("listRuns() error = %v", err)
		}
		var runs []database.RunMetadata
		if err := json.Unmarshal(out.Bytes(), &runs); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(runs) != 1 || runs[0].RunID != "run-3" || runs[0].Images != 1 {
			t.Errorf("unexpected runs %+v", runs)
		}
	})

	t.Run("no runs", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		if err := listRuns(context.Background(), db, "unknown.txt", 0, false, &out); err != nil {
			t.Fatalf("listRuns() error = %v", err)
		}
		if !strings.Contains(out.String(), "No stored runs found.") {
			t.Errorf("unexpected output %q", out.String())
		}
	})
}

func TestDiffRuns(t *testing.T) {
	t.Parallel()

	db, _ := newHistoryDB(t)

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		if err := diffRuns(context.Background(), db, "a.txt", false, &out); err != nil {
			t.Fatalf("diffRuns() error = %v", err)
		}
		for _, want := range []string{"previous: run-1", "current:  run-2", "+ https://h/c.gif", "- https://h/b.png"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("expected %q in output:\n%s", want, out.String())
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		if err := diffRuns(context.Background(), db, "a.txt", true, &out); err != nil {
			t.Fatalf("diffRuns() error = %v", err)
		}
		var d RunDiff
		if err := json.Unmarshal(out.Bytes(), &d); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(d.Added) != 1 || d.Added[0] != "https://h/c.gif" || len(d.Removed) != 1 || d.Removed[0] != "https://h/b.png" {
			t.Errorf("unexpected diff %+v", d)
		}
	})

	t.Run("single run", func(t *testing.T) {
		t.Parallel()
		err := diffRuns(context.Background(), db, "b.txt", false, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "found 1") {
			t.Errorf("expected comparison error, got %v", err)
		}
	})
}

func TestShowRun(t *testing.T) {
	t.Parallel()

	db, _ := newHistoryDB(t)

	cfg := config.NewConfig()
	cfg.MarkdownReport = true
	var out bytes.Buffer
	if err := showRun(context.Background(), db, cfg, "run-2", &out); err != nil {
		t.Fatalf("showRun() error = %v", err)
	}
	if !strings.Contains(out.String(), "https://h/c.gif") || !strings.Contains(out.String(), "`run-2`") {
		t.Errorf("unexpected report:\n%s", out.String())
	}

	if err := showRun(context.Background(), db, cfg, "missing", &out); err == nil {
		t.Error("expected an error for an unknown run")
	}
}

func TestOpenHistoryStore(t *testing.T) {
	t.Parallel()

	t.Run("missing database", func(t *testing.T) {
		t.Parallel()
		cfg := config.NewConfig()
		cfg.DBDir = t.TempDir()
		if _, err := openHistoryStore(context.Background(), cfg); !errors.Is(err, errNoDatabase) {
			t.Errorf("expected errNoDatabase, got %v", err)
		}
	})

	t.Run("existing database", func(t *testing.T) {
		t.Parallel()
		_, dir := newHistoryDB(t)
		cfg := config.NewConfig()
		cfg.DBDir = dir
		db, err := openHistoryStore(context.Background(), cfg)
		if err != nil {
			t.Fatalf("openHistoryStore() error = %v", err)
		}
		defer db.Close()
		runs, err := db.ListRuns(context.Background(), "", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(runs) != 3 {
			t.Errorf("expected 3 runs, got %d", len(runs))
		}
	})
}
