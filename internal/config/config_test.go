package config_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sourcekit/core/internal/config"
)

func TestDefault(t *testing.T) {
	opts := config.Default()
	if opts.Bucket != config.BucketMemory {
		t.Errorf("Bucket = %q, want %q", opts.Bucket, config.BucketMemory)
	}
	if opts.AllowCreatePlaceholders {
		t.Errorf("AllowCreatePlaceholders = true, want false")
	}
}

func TestLoadNonexistentReturnsDefaults(t *testing.T) {
	opts, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() returned error for nonexistent config: %v", err)
	}
	if opts.Bucket != config.BucketMemory {
		t.Errorf("Bucket = %q, want %q", opts.Bucket, config.BucketMemory)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	formats := []string{"yaml", "json", "toml"}
	for _, ext := range formats {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "source."+ext)
			autoActivate := false
			want := &config.Options{
				Name:         "inventory",
				AutoActivate: &autoActivate,
				Bucket:       config.BucketFile,
				BucketPath:   "/var/lib/sourcekit/inventory.jsonl",
			}

			if err := config.Save(path, want); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			got, err := config.Load(path)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}

			if got.Name != want.Name {
				t.Errorf("Name = %q, want %q", got.Name, want.Name)
			}
			if got.Bucket != want.Bucket {
				t.Errorf("Bucket = %q, want %q", got.Bucket, want.Bucket)
			}
			if got.AutoActivate == nil || *got.AutoActivate != false {
				t.Errorf("AutoActivate = %v, want pointer to false", got.AutoActivate)
			}
		})
	}
}

func TestNewBucketMemory(t *testing.T) {
	opts := config.Default()
	b, err := opts.NewBucket(context.Background())
	if err != nil {
		t.Fatalf("NewBucket() failed: %v", err)
	}
	if b == nil {
		t.Fatal("NewBucket() returned nil bucket")
	}
}

func TestNewBucketFileRequiresPath(t *testing.T) {
	opts := &config.Options{Bucket: config.BucketFile}
	if _, err := opts.NewBucket(context.Background()); err == nil {
		t.Fatal("expected an error when bucketPath is empty")
	}
}

func TestNewBucketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	opts := &config.Options{Bucket: config.BucketFile, BucketPath: path}
	b, err := opts.NewBucket(context.Background())
	if err != nil {
		t.Fatalf("NewBucket() failed: %v", err)
	}
	if b == nil {
		t.Fatal("NewBucket() returned nil bucket")
	}
}

func TestNewBucketUnrecognizedKind(t *testing.T) {
	opts := &config.Options{Bucket: "carrier-pigeon"}
	if _, err := opts.NewBucket(context.Background()); err == nil {
		t.Fatal("expected an error for an unrecognized bucket kind")
	}
}
