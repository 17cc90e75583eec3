package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/db"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/migrate"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and manage writes waiting for the network",
}

// queueItem is the printable form of a queued mutation.
type queueItem struct {
	QID        int64     `json:"qid" yaml:"qid"`
	Method     string    `json:"method" yaml:"method"`
	Path       string    `json:"path" yaml:"path"`
	Label      string    `json:"label" yaml:"label"`
	Effect     string    `json:"effect,omitempty" yaml:"effect,omitempty"`
	Payload    any       `json:"payload,omitempty" yaml:"payload,omitempty"`
	InsertedAt time.Time `json:"insertedAt" yaml:"inserted_at"`
}

func toQueueItems(mutations []*schema.Mutation) []queueItem {
	items := make([]queueItem, 0, len(mutations))
	for _, m := range mutations {
		item := queueItem{
			QID:        m.QID,
			Method:     m.Method,
			Path:       m.Path,
			Label:      m.Label,
			InsertedAt: m.InsertedAt,
		}
		if m.Effect != nil {
			item.Effect = string(m.Effect.Kind)
		}
		if len(m.Payload) > 0 {
			_ = json.Unmarshal(m.Payload, &item.Payload)
		}
		items = append(items, item)
	}
	return items
}

// parseOlderThan accepts a Go duration ("2h") or a natural-language time
// ("2 hours ago", "yesterday") and returns the cutoff instant.
func parseOlderThan(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q as a time", s)
	}
	return r.Time, nil
}

// writeQueue renders items as a table, JSON or YAML.
func writeQueue(w io.Writer, items []queueItem, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(items); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		if len(items) == 0 {
			_, err := fmt.Fprintln(w, ui.RenderPass("✓")+" Queue is empty")
			return err
		}
		rows := make([][]string, 0, len(items))
		for _, it := range items {
			rows = append(rows, []string{
				fmt.Sprint(it.QID),
				it.Method,
				it.Path,
				it.Label,
				it.InsertedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		_, err := fmt.Fprintln(w, ui.Table([]string{"QID", "METHOD", "PATH", "LABEL", "QUEUED"}, rows))
		return err
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		olderThan, _ := cmd.Flags().GetString("older-than")
		ctx := cmd.Context()

		store, err := db.Open(ctx, cfg.Store.Path, db.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()

		var mutations []*schema.Mutation
		if olderThan != "" {
			cutoff, err := parseOlderThan(olderThan, time.Now())
			if err != nil {
				return err
			}
			mutations, err = store.ListBefore(ctx, cutoff)
			if err != nil {
				return err
			}
		} else {
			mutations, err = store.List(ctx)
			if err != nil {
				return err
			}
		}
		return writeQueue(os.Stdout, toQueueItems(mutations), strings.ToLower(format))
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued write",
	Long: `Discard every queued write. The writes are lost: the local copy keeps
the optimistic changes until the next refresh from the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx := cmd.Context()

		store, err := db.Open(ctx, cfg.Store.Path, db.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Len(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Printf("%s Queue is already empty\n", ui.RenderPass("✓"))
			return nil
		}

		if !yes {
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Discard %d queued write(s)?", n)).
				Description("They will never reach the server.").
				Affirmative("Discard").
				Negative("Keep").
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return nil
			}
		}

		if err := store.Clear(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Discarded %d queued write(s)\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export crops and queued writes as JSONL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := db.Open(ctx, cfg.Store.Path, db.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := migrate.ExportFile(ctx, store, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d crop(s) and %d queued write(s) to %s\n",
			ui.RenderPass("✓"), res.Records, res.Mutations, args[0])
		return nil
	},
}

var queueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import crops and queued writes from a JSONL export",
	Long: `Import an export made with 'khetbook queue export'. Queued writes are
appended after any writes already queued here, in the order of the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		queueOnly, _ := cmd.Flags().GetBool("queue-only")
		ctx := cmd.Context()

		store, err := db.Open(ctx, cfg.Store.Path, db.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := migrate.ImportFile(ctx, store, args[0], migrate.ImportOptions{
			DryRun:      dryRun,
			SkipRecords: queueOnly,
		})
		if err != nil {
			return err
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d crop(s) and %d queued write(s)\n", ui.RenderPass("✓"), verb, res.Records, res.Mutations)
		for _, e := range res.Errors {
			fmt.Printf("   %s %s\n", ui.RenderWarn("skipped"), e)
		}
		return nil
	},
}

func init() {
	queueListCmd.Flags().String("older-than", "", `Only writes queued before this time ("2h", "3 days ago")`)
	queueListCmd.Flags().StringP("format", "f", "table", "Output format: table, json, yaml")
	queueClearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	queueImportCmd.Flags().Bool("dry-run", false, "Validate the file without writing")
	queueImportCmd.Flags().Bool("queue-only", false, "Import queued writes but not crops")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueExportCmd)
	queueCmd.AddCommand(queueImportCmd)
	rootCmd.AddCommand(queueCmd)
}
