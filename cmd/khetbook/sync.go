package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	offsync "github.com/tikaramgahane2k4/khetbook/internal/offline/sync"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay queued writes against the API",
	Long: `Replay every queued write in the order it was made, then refresh the
local copy of your crops from the API.

A write the API rejects is dropped from the queue. If the network fails
mid-way the pass stops and the remaining writes stay queued for the next
attempt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")
		ctx := cmd.Context()

		a, err := openApp(ctx, offline)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.store.Len(ctx)
		if err != nil {
			return err
		}
		if !a.monitor.Online() {
			fmt.Printf("%s Offline: %d write(s) stay queued\n", ui.RenderWarn("⚠"), pending)
			return nil
		}

		fmt.Printf("%s Syncing %d queued write(s) with %s...\n", ui.RenderAccent("🔄"), pending, cfg.API.BaseURL)
		unsubscribe := a.engine.Subscribe(func(s offsync.State) {
			if s.Syncing && s.Total > 0 {
				fmt.Printf("   %s\n", ui.RenderMuted(fmt.Sprintf("%d/%d", s.Done, s.Total)))
			}
		})
		defer unsubscribe()

		start := time.Now()
		res, err := a.engine.SyncNow(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if res.Skipped {
			fmt.Printf("%s Another sync is running\n", ui.RenderWarn("⚠"))
			return nil
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		switch {
		case res.Aborted:
			fmt.Printf("%s Sync stopped after %d of %d (network lost)\n", ui.RenderWarn("⚠"), res.Done, res.Total)
		case res.Remaining == 0:
			fmt.Printf("%s All changes synced in %v\n", ui.RenderPass("✓"), elapsed)
		default:
			fmt.Printf("%s Sync finished in %v\n", ui.RenderPass("✓"), elapsed)
		}
		fmt.Printf("   Replayed: %d\n", res.Done)
		if res.Rejected > 0 {
			fmt.Printf("   Rejected: %s\n", ui.RenderFail(fmt.Sprint(res.Rejected)))
		}
		fmt.Printf("   Remaining: %d\n", res.Remaining)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity, queue and local store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.Count(ctx)
		if err != nil {
			return err
		}
		pending, err := a.store.Len(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s khetbook status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("API: %s (%s)\n", cfg.API.BaseURL, connectivityLabel(a.monitor.Online()))
		fmt.Printf("Store: %s\n", cfg.Store.Path)
		if info, err := os.Stat(cfg.Store.Path); err == nil {
			fmt.Printf("Size: %s\n", formatSize(info.Size()))
		}
		fmt.Printf("Crops: %d\n", records)
		if pending > 0 {
			fmt.Printf("Pending writes: %s\n", ui.RenderWarn(fmt.Sprint(pending)))
		} else {
			fmt.Printf("Pending writes: %s\n", ui.RenderPass("0"))
		}
		if _, ok := gateway.NewFileSession(sessionPath(cfg)).Token(); !ok {
			fmt.Printf("Session: %s\n", ui.RenderMuted("signed out"))
		}
		fmt.Println()
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "advanced",
	Short:   "Store the bearer token used for API calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			return fmt.Errorf("--token is required")
		}
		path := sessionPath(cfg)
		if err := gateway.NewFileSession(path).Save(token); err != nil {
			return err
		}
		fmt.Printf("%s Session saved to %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	syncCmd.Flags().Bool("offline", false, "Treat the API as unreachable and only report the queue")
	loginCmd.Flags().String("token", "", "Bearer token issued by the API")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loginCmd)
}
