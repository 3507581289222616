package objstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
)

const storagePath = "/storage/v1/object/public/images/"

type fakeAPI struct {
	pages     [][]string
	listCalls int
	listErr   error
	heads     map[string]int64
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	page := 0
	if in.ContinuationToken != nil {
		switch *in.ContinuationToken {
		case "page-1":
			page = 1
		case "page-2":
			page = 2
		}
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(key))),
			LastModified: aws.Time(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String([]string{"page-1", "page-2"}[page])
	}
	return out, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	size, ok := f.heads[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(size)}, nil
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func storageConfig() config.StorageConfig {
	return config.StorageConfig{
		Bucket:     "images",
		Region:     "us-east-1",
		CatalogTTL: time.Minute,
	}
}

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.StorageConfig)
		wantErr error
	}{
		{name: "valid", mutate: func(*config.StorageConfig) {}},
		{name: "missing bucket", mutate: func(c *config.StorageConfig) { c.Bucket = "" }, wantErr: ErrNoBucket},
		{name: "zero TTL", mutate: func(c *config.StorageConfig) { c.CatalogTTL = 0 }, wantErr: config.ErrInvalidCacheTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := storageConfig()
			tt.mutate(&cfg)
			_, err := NewCatalog(&fakeAPI{}, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCatalog_List(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{pages: [][]string{
		{"a.jpg", "notes.txt", "dir/b.PNG"},
		{"c.jpeg", "d.gif"},
		{"e.png"},
	}}
	c, err := NewCatalog(api, storageConfig())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	objs, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	var names []string
	for _, o := range objs {
		names = append(names, o.Name())
	}
	sort.Strings(names)
	want := []string{"a.jpg", "b.PNG", "c.jpeg", "e.png"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if api.listCalls != 3 {
		t.Errorf("expected 3 list calls for 3 pages, got %d", api.listCalls)
	}
}

func TestCatalog_ContainsUsesCache(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	api := &fakeAPI{pages: [][]string{{"x.jpg"}}}
	c, err := NewCatalog(api, storageConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		want bool
	}{
		{name: "x.jpg", want: true},
		{name: "y.jpg", want: false},
		{name: "x.jpg", want: true},
	} {
		got, err := c.Contains(ctx, tc.name)
		if err != nil {
			t.Fatalf("Contains(%q) error = %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("Contains(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
	if api.listCalls != 1 {
		t.Errorf("expected a single listing while cached, got %d", api.listCalls)
	}

	clock.now = clock.now.Add(time.Minute)
	if _, err := c.Contains(ctx, "x.jpg"); err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if api.listCalls != 2 {
		t.Errorf("expected a new listing after the TTL, got %d", api.listCalls)
	}

	c.Refresh()
	if _, err := c.Contains(ctx, "x.jpg"); err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if api.listCalls != 3 {
		t.Errorf("expected a new listing after Refresh, got %d", api.listCalls)
	}
}

func TestCatalog_ListError(t *testing.T) {
	t.Parallel()

	errDenied := errors.New("access denied")
	c, err := NewCatalog(&fakeAPI{listErr: errDenied}, storageConfig())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	if _, err := c.Contains(context.Background(), "x.jpg"); !errors.Is(err, errDenied) {
		t.Errorf("expected wrapped list error, got %v", err)
	}
}

func TestCatalog_Head(t *testing.T) {
	t.Parallel()

	c, err := NewCatalog(&fakeAPI{heads: map[string]int64{"x.jpg": 42}}, storageConfig())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	obj, err := c.Head(context.Background(), "x.jpg")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if obj.Size != 42 {
		t.Errorf("expected size 42, got %d", obj.Size)
	}

	if _, err := c.Head(context.Background(), "missing.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestCatalog_Verify(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{pages: [][]string{{"galaxy_s25_screen_p10_top_1234abcd.jpg"}}}
	c, err := NewCatalog(api, storageConfig())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	base := "https://ywvoksfszaelkceectaa.supabase.co" + storagePath
	images := []model.ImageReference{
		{URL: base + "galaxy_s25_screen_p10_top_1234abcd.jpg?t=1"},
		{URL: base + "galaxy_s25_chart_p3_mid_deadbeef.jpg"},
		{URL: "https://example.com/other.png"},
	}

	missing, err := c.Verify(context.Background(), storagePath, images)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(missing) != 1 || missing[0] != images[1].URL {
		t.Errorf("expected only the chart image to be missing, got %v", missing)
	}
}

func TestStorageFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		url    string
		want   string
		wantOK bool
	}{
		{name: "plain", url: "https://h" + storagePath + "a.jpg", want: "a.jpg", wantOK: true},
		{name: "query and fragment", url: "https://h" + storagePath + "a.jpg?t=1#x", want: "a.jpg", wantOK: true},
		{name: "nested", url: "https://h" + storagePath + "2026/a.jpg", want: "a.jpg", wantOK: true},
		{name: "other path", url: "https://h/images/a.jpg", wantOK: false},
		{name: "no file", url: "https://h" + storagePath, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := StorageFilename(tt.url, storagePath)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("StorageFilename() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
