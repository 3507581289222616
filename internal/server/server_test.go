package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nao1215/imgref/internal/cleaner"
	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/resolver"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics, err := resolver.NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	cfg := config.NewResolverConfig()
	r, err := resolver.New(cfg, resolver.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("resolver.New() error = %v", err)
	}

	opts = append([]Option{WithGatherer(reg), WithCleaner(cleaner.New(cfg))}, opts...)
	srv := httptest.NewServer(New(r, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/resolve", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Resolve(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	t.Run("returns images in encounter order", func(t *testing.T) {
		t.Parallel()

		body := `{"text": "설명입니다.\n[이미지 1]\nhttps://h/a.jpg\n![도표](https://h/b.png)\nhttps://h/a.jpg", "clean": true}`
		resp := post(t, srv, body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var got ResolveResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("invalid response: %v", err)
		}
		if len(got.Images) != 2 {
			t.Fatalf("expected 2 images, got %+v", got.Images)
		}
		if got.Images[0].URL != "https://h/a.jpg" || got.Images[0].Kind != model.PatternLabeledPlain {
			t.Errorf("unexpected first image %+v", got.Images[0])
		}
		if got.Images[1].URL != "https://h/b.png" {
			t.Errorf("unexpected second image %+v", got.Images[1])
		}
		if got.ID == "" {
			t.Error("expected a run ID")
		}
		if !strings.HasPrefix(got.CleanedText, "설명입니다.") || strings.Contains(got.CleanedText, "[이미지") || strings.Contains(got.CleanedText, "![") {
			t.Errorf("cleaned text = %q", got.CleanedText)
		}
	})

	t.Run("text without references", func(t *testing.T) {
		t.Parallel()

		resp := post(t, srv, `{"text": "이미지가 없습니다"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"images":[]`) {
			t.Errorf("expected an empty images array, got %s", data)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		t.Parallel()

		if resp := post(t, srv, `{"text":`); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()

		resp, err := http.Get(srv.URL + "/api/resolve")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})
}

func TestServer_BodyLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, WithMaxBodySize(16))
	resp := post(t, srv, `{"text": "`+strings.Repeat("a", 64)+`"}`)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
}

func TestServer_MetricsAndHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp := post(t, srv, `{"text": "[이미지 1]\nhttps://h/a.jpg"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	metrics, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer metrics.Body.Close()
	data, err := io.ReadAll(metrics.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `imgref_accepted_total{kind="labeled_plain"} 1`) {
		t.Errorf("expected accepted counter in metrics output:\n%s", data)
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", health.StatusCode)
	}
}

func TestServer_Proxy(t *testing.T) {
	t.Parallel()

	proxied := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := newTestServer(t, WithProxy("/api/proxy-image", proxied))

	resp, err := http.Get(srv.URL + "/api/proxy-image?url=x")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("expected the proxy handler to serve the route, got %d", resp.StatusCode)
	}
}

func TestServer_Serve(t *testing.T) {
	t.Parallel()

	r, err := resolver.New(config.NewResolverConfig())
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(r).Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server did not start: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
