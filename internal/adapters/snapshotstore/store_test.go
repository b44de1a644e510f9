package snapshotstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/google/uuid"
)

func TestNewValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "endpoint", cfg: Config{AccessKey: "a", SecretKey: "s", Bucket: "b"}, want: "endpoint"},
		{name: "keys", cfg: Config{Endpoint: "localhost:9000", Bucket: "b"}, want: "access key"},
		{name: "bucket", cfg: Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}, want: "bucket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b", Prefix: "/exports/"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.region != defaultRegion {
		t.Fatalf("expected default region, got %q", s.region)
	}
	got, err := s.objectKey("/2026/weekly.json")
	if err != nil {
		t.Fatalf("objectKey() error = %v", err)
	}
	if got != "exports/2026/weekly.json" {
		t.Fatalf("unexpected key %q", got)
	}
	if _, err := s.objectKey("  "); err == nil {
		t.Fatal("expected error for blank key")
	}
}

// TestStoreRoundTrip runs against a live S3 endpoint when WEIGHTMAP_TEST_S3_ENDPOINT is set.
func TestStoreRoundTrip(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("WEIGHTMAP_TEST_S3_ENDPOINT"))
	if endpoint == "" {
		t.Skip("WEIGHTMAP_TEST_S3_ENDPOINT not set")
	}
	s, err := New(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("WEIGHTMAP_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("WEIGHTMAP_TEST_S3_SECRET_KEY"),
		Bucket:    "weightmap-test",
		Prefix:    uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	snap := app.Snapshot{
		Version:    app.SnapshotVersion,
		ExportedAt: now,
		Projects:   []app.SnapshotProject{{ID: "p1", Name: "Alpha", CreatedAt: now, UpdatedAt: now}},
	}
	if err := s.Put(ctx, "a.json", snap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, "a.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Projects) != 1 || got.Projects[0].Name != "Alpha" {
		t.Fatalf("unexpected snapshot %#v", got)
	}
	keys, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "a.json" {
		t.Fatalf("unexpected keys %#v", keys)
	}
}
