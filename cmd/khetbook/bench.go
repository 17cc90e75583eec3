package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/loadtest"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Load-test the offline queue with concurrent writers",
	Long: `Run concurrent writers against a scratch database, verify that every
writer's writes stay in submission order, then replay the whole queue
against an in-process API and report throughput.

Your real database is never touched.

Example usage:
  khetbook bench                          # 20 writers x 50 writes
  khetbook bench --writers 100 --writes 10`,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		writers, _ := cmd.Flags().GetInt("writers")
		writes, _ := cmd.Flags().GetInt("writes")
		crops, _ := cmd.Flags().GetInt("crops")
		ctx := cmd.Context()

		dir, err := os.MkdirTemp("", "khetbook-bench-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		ts, err := loadtest.CreateTestStore(ctx, filepath.Join(dir, "bench.db"), crops)
		if err != nil {
			return err
		}
		defer ts.Close()

		fmt.Printf("%s %d writers x %d writes over %d crops...\n", ui.RenderAccent("⏱"), writers, writes, crops)
		stats, err := ts.RunConcurrentWrites(ctx, writers, writes)
		if err != nil {
			return err
		}
		fmt.Println(ui.Table([]string{"ENQUEUE", "VALUE"}, stats.Rows()))

		n, err := ts.VerifyOrder(ctx)
		if err != nil {
			fmt.Printf("%s Order check failed: %v\n", ui.RenderFail("✗"), err)
			return fmt.Errorf("queue order violated")
		}
		fmt.Printf("%s %d queued writes in submission order\n", ui.RenderPass("✓"), n)

		replay, err := ts.RunReplay(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s Replayed %d writes in %v (%.0f/s), %d remaining\n",
			ui.RenderPass("✓"), replay.Replayed, replay.Elapsed.Round(time.Millisecond), replay.PerSecond, replay.Remaining)
		return nil
	},
}

func init() {
	benchCmd.Flags().Int("writers", 20, "Number of concurrent writers")
	benchCmd.Flags().Int("writes", 50, "Writes per writer")
	benchCmd.Flags().Int("crops", 200, "Crops seeded before writing")

	rootCmd.AddCommand(benchCmd)
}
