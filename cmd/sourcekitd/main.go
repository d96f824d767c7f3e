// Package main provides sourcekitd, a single-command smoke test that
// wires one Source over a configured bucket backend and runs a
// scripted add-record/query round trip against it.
//
// This is not a designed CLI surface — bootstrapping/CLI ergonomics
// are explicitly out of scope — just the reference consumer that
// exercises internal/config, internal/bucket, and internal/source
// together end to end, the role cmd/bd-examples plays for the
// teacher's storage layer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sourcekit/core/internal/builder"
	"github.com/sourcekit/core/internal/cache"
	"github.com/sourcekit/core/internal/config"
	"github.com/sourcekit/core/internal/eventbus"
	"github.com/sourcekit/core/internal/keymap"
	"github.com/sourcekit/core/internal/recordmodel"
	"github.com/sourcekit/core/internal/schema"
	"github.com/sourcekit/core/internal/source"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sourcekitd",
	Short: "Run a scripted smoke demo against a sourcekit Source",
	Long: `sourcekitd constructs one Source from a config file (or in-memory
defaults when none is given), adds a record, queries it back, and
prints the round trip as JSON.

Examples:
  sourcekitd demo
  sourcekitd demo --config ./source.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Add a record and query it back",
	RunE:  runDemo,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON/YAML/TOML config file (defaults to an in-memory bucket)")
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func demoSchema() *schema.Schema {
	return schema.New(map[string]schema.ModelDef{
		"widget": {
			Attributes: map[string]schema.AttributeDef{
				"name":  {Type: "string"},
				"count": {Type: "number"},
			},
			Keys: map[string]struct{}{"sku": {}},
		},
	})
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	opts := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		opts = loaded
	}

	b, err := opts.NewBucket(ctx)
	if err != nil {
		return fmt.Errorf("construct bucket: %w", err)
	}

	sch := demoSchema()
	c := cache.New(sch)

	src, err := source.New(ctx, source.Settings{
		Name:   "sourcekitd-demo",
		Bucket: b,
		Schema: sch,
		Cache:  c,
		KeyMap: keymap.New(),
		Query: func(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
			data, err := c.Query(*req.Query)
			if err != nil {
				return source.Response{}, err
			}
			return source.Response{Data: data}, nil
		},
		Update: func(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
			result, err := c.Patch(req.Transform.Operations)
			if err != nil {
				return source.Response{}, err
			}
			return source.Response{Data: result}, nil
		},
		Pull: func(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
			return source.Response{}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("construct source: %w", err)
	}
	<-src.Reified()

	widgetID := "demo-widget-1"
	if _, err := src.Update(ctx, []recordmodel.Operation{
		recordmodel.AddRecord(&recordmodel.Record{
			Type:       "widget",
			ID:         widgetID,
			Attributes: map[string]any{"name": "Grommet", "count": float64(3)},
			Keys:       map[string]string{"sku": "GR-001"},
		}),
	}); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	result, err := src.Query(ctx, recordmodel.FindRecord(recordmodel.Identity{Type: "widget", ID: widgetID}),
		builder.WithQueryOptions(nil))
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	out, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
