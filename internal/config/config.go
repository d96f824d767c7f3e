// Package config loads the ambient options a Source is constructed
// with from a JSON/YAML/TOML file, auto-detected by extension, with
// environment variables layered on top. An absent file is not an
// error — it just falls back to Default plus any environment overlay.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sourcekit/core/internal/bucket"
)

// BucketKind selects which Bucket implementation a Source should be
// wired to.
type BucketKind string

const (
	BucketMemory BucketKind = "memory"
	BucketFile   BucketKind = "file"
	BucketSQL    BucketKind = "sql"
)

// Options is the persisted shape of a Source's recognized
// configuration options, plus the bucket selection a deployment needs
// to actually construct one.
type Options struct {
	Name                    string `json:"name" yaml:"name" toml:"name"`
	AutoActivate            *bool  `json:"autoActivate,omitempty" yaml:"autoActivate,omitempty" toml:"autoActivate,omitempty"`
	AutoUpgrade             *bool  `json:"autoUpgrade,omitempty" yaml:"autoUpgrade,omitempty" toml:"autoUpgrade,omitempty"`
	DebounceLiveQueries     *bool  `json:"debounceLiveQueries,omitempty" yaml:"debounceLiveQueries,omitempty" toml:"debounceLiveQueries,omitempty"`
	AllowCreatePlaceholders bool   `json:"allowCreatePlaceholders" yaml:"allowCreatePlaceholders" toml:"allowCreatePlaceholders"`

	Bucket     BucketKind `json:"bucket" yaml:"bucket" toml:"bucket"`
	BucketPath string     `json:"bucketPath,omitempty" yaml:"bucketPath,omitempty" toml:"bucketPath,omitempty"` // BucketFile

	SQLDriver string `json:"sqlDriver,omitempty" yaml:"sqlDriver,omitempty" toml:"sqlDriver,omitempty"` // BucketSQL: "dolt" | "mysql"
	SQLSource string `json:"sqlSource,omitempty" yaml:"sqlSource,omitempty" toml:"sqlSource,omitempty"`
	SQLTable  string `json:"sqlTable,omitempty" yaml:"sqlTable,omitempty" toml:"sqlTable,omitempty"`
}

// Default returns the zero-config defaults: an in-memory bucket and
// every boolean option left unset (Source.New applies its own true
// defaults for nil pointers).
func Default() *Options {
	return &Options{Bucket: BucketMemory, SQLTable: "sourcekit_bucket"}
}

// Load reads configuration from path, decoding JSON/YAML/TOML by
// extension, then overlays the SOURCEKIT_NAME, SOURCEKIT_BUCKET,
// SOURCEKIT_BUCKETPATH, SOURCEKIT_SQLDRIVER, SOURCEKIT_SQLSOURCE and
// SOURCEKIT_SQLTABLE environment variables via viper's env binding;
// the boolean options have no environment override. A
// missing file is not an error: Load returns Default() with only the
// environment overlay applied, mirroring configfile.Load's "absent
// config is fine, use defaults" behavior.
func Load(path string) (*Options, error) {
	opts := Default()

	if _, err := os.Stat(path); err == nil {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, raw, opts); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	applyEnvOverlay(opts)
	return opts, nil
}

func decode(path string, raw []byte, opts *Options) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, opts)
	case ".toml":
		return toml.Unmarshal(raw, opts)
	case ".json", "":
		return json.Unmarshal(raw, opts)
	default:
		return fmt.Errorf("unrecognized config extension %q", ext)
	}
}

// applyEnvOverlay binds SOURCEKIT_<FIELD> environment variables over
// opts, letting a deployment override individual options (e.g. the SQL
// data source) without editing the checked-in config file.
func applyEnvOverlay(opts *Options) {
	v := viper.New()
	v.SetEnvPrefix("sourcekit")
	for _, key := range []string{"name", "bucket", "bucketpath", "sqldriver", "sqlsource", "sqltable"} {
		v.BindEnv(key)
	}

	if s := v.GetString("name"); s != "" {
		opts.Name = s
	}
	if s := v.GetString("bucket"); s != "" {
		opts.Bucket = BucketKind(s)
	}
	if s := v.GetString("bucketpath"); s != "" {
		opts.BucketPath = s
	}
	if s := v.GetString("sqldriver"); s != "" {
		opts.SQLDriver = s
	}
	if s := v.GetString("sqlsource"); s != "" {
		opts.SQLSource = s
	}
	if s := v.GetString("sqltable"); s != "" {
		opts.SQLTable = s
	}
}

// NewBucket constructs the Bucket opts.Bucket selects, ready to hand to
// source.Settings.Bucket.
func (o *Options) NewBucket(ctx context.Context) (bucket.Bucket, error) {
	switch o.Bucket {
	case "", BucketMemory:
		return bucket.NewMemory(), nil
	case BucketFile:
		if o.BucketPath == "" {
			return nil, fmt.Errorf("config: bucket %q requires bucketPath", BucketFile)
		}
		return bucket.NewFile(o.BucketPath)
	case BucketSQL:
		table := o.SQLTable
		if table == "" {
			table = "sourcekit_bucket"
		}
		return bucket.NewSQL(ctx, bucket.SQLConfig{
			DriverName: o.SQLDriver,
			DataSource: o.SQLSource,
			Table:      table,
		})
	default:
		return nil, fmt.Errorf("config: unrecognized bucket kind %q", o.Bucket)
	}
}

// Save writes opts back to path in whatever format its extension
// implies, creating parent directories as needed.
func Save(path string, opts *Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir for %s: %w", path, err)
	}

	var raw []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		raw, err = yaml.Marshal(opts)
	case ".toml":
		var buf strings.Builder
		err = toml.NewEncoder(&buf).Encode(opts)
		raw = []byte(buf.String())
	case ".json", "":
		raw, err = json.MarshalIndent(opts, "", "  ")
	default:
		err = fmt.Errorf("unrecognized config extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
