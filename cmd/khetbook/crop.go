package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/repo"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

var cropCmd = &cobra.Command{
	Use:     "crop",
	GroupID: "data",
	Short:   "Manage crops, sales and expenses",
	Long: `Manage crops, sales and expenses.

Fields are given as key=value pairs. Values that parse as JSON (numbers,
booleans, arrays, objects) are sent as such; anything else is a string:

  khetbook crop add name=Wheat area=2.5 season=rabi
  khetbook crop sale <id> quantity=10 price=2200

While offline, writes are saved locally and queued for the next sync.`,
}

// parseFields turns key=value arguments into a document.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[key] = v
	}
	return fields, nil
}

// printResult reports where a write or read ended up.
func printResult(verb string, res *repo.Result) {
	switch {
	case res.Queued:
		fmt.Printf("%s %s offline; it will sync when you are back online\n", ui.RenderWarn("⏳"), verb)
	case res.Offline:
		fmt.Printf("%s %s (local copy)\n", ui.RenderPass("✓"), verb)
	default:
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), verb)
	}
	if res.Record != nil {
		fmt.Printf("   ID: %s\n", res.Record.ID)
		if name := res.Record.Name(); name != "" {
			fmt.Printf("   Name: %s\n", name)
		}
	}
}

func cropRows(records []*schema.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		status, _ := rec.Data["status"].(string)
		var flags []string
		if rec.Temp {
			flags = append(flags, "unsynced")
		}
		if rec.Queued {
			flags = append(flags, "queued")
		}
		rows = append(rows, []string{rec.ID, rec.Name(), status, strings.Join(flags, ",")})
	}
	return rows
}

// withCrops runs fn against the crops repository.
func withCrops(cmd *cobra.Command, fn func(c *repo.Crops) error) error {
	offline, _ := cmd.Flags().GetBool("offline")
	a, err := openApp(cmd.Context(), offline)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.crops())
}

var cropListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List crops",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withCrops(cmd, func(c *repo.Crops) error {
			res, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Records)
			}
			if res.Offline {
				fmt.Println(ui.RenderMuted("Showing the local copy (offline)"))
			}
			if len(res.Records) == 0 {
				fmt.Println("No crops yet")
				return nil
			}
			fmt.Println(ui.Table([]string{"ID", "NAME", "STATUS", "FLAGS"}, cropRows(res.Records)))
			return nil
		})
	},
}

var cropShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one crop as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCrops(cmd, func(c *repo.Crops) error {
			res, err := c.Get(cmd.Context(), args[0])
			if errors.Is(err, repo.ErrNotAvailableOffline) {
				fmt.Printf("%s %s is not available offline\n", ui.RenderWarn("⚠"), args[0])
				return nil
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Record)
		})
	},
}

var cropAddCmd = &cobra.Command{
	Use:   "add key=value...",
	Short: "Add a crop",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args)
		if err != nil {
			return err
		}
		return withCrops(cmd, func(c *repo.Crops) error {
			res, err := c.Create(cmd.Context(), fields)
			if err != nil {
				return err
			}
			printResult("Crop added", res)
			return nil
		})
	},
}

var cropUpdateCmd = &cobra.Command{
	Use:   "update <id> key=value...",
	Short: "Update a crop",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		return withCrops(cmd, func(c *repo.Crops) error {
			res, err := c.Update(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			printResult("Crop updated", res)
			return nil
		})
	},
}

var cropRemoveCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a crop, or every crop with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("give either a crop id or --all")
		}
		return withCrops(cmd, func(c *repo.Crops) error {
			if all {
				if err := c.DeleteAll(cmd.Context()); err != nil {
					if errors.Is(err, repo.ErrOffline) {
						return fmt.Errorf("deleting every crop needs a connection")
					}
					return err
				}
				fmt.Printf("%s All crops deleted\n", ui.RenderPass("✓"))
				return nil
			}
			res, err := c.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResult("Crop deleted", res)
			return nil
		})
	},
}

var cropSaleCmd = &cobra.Command{
	Use:   "sale <crop-id> key=value...",
	Short: "Record a sale for a crop",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		return withCrops(cmd, func(c *repo.Crops) error {
			res, err := c.AddSale(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			printResult("Sale recorded", res)
			return nil
		})
	},
}

var cropExpenseCmd = &cobra.Command{
	Use:   "expense <crop-id> [key=value...]",
	Short: "Add, update (--id) or delete (--id --delete) an expense",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expenseID, _ := cmd.Flags().GetString("id")
		del, _ := cmd.Flags().GetBool("delete")
		if del && expenseID == "" {
			return fmt.Errorf("--delete needs --id")
		}
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		cropID := args[0]

		return withCrops(cmd, func(c *repo.Crops) error {
			ctx := cmd.Context()
			var (
				res  *repo.Result
				err  error
				verb string
			)
			switch {
			case del:
				res, err = c.DeleteExpense(ctx, cropID, expenseID)
				verb = "Expense deleted"
			case expenseID != "":
				res, err = c.UpdateExpense(ctx, cropID, expenseID, fields)
				verb = "Expense updated"
			default:
				res, err = c.AddExpense(ctx, cropID, fields)
				verb = "Expense added"
			}
			if err != nil {
				return err
			}
			printResult(verb, res)
			return nil
		})
	},
}

var profileCmd = &cobra.Command{
	Use:     "profile [key=value...]",
	GroupID: "data",
	Short:   "Show your profile, or update it with key=value pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")
		a, err := openApp(cmd.Context(), offline)
		if err != nil {
			return err
		}
		defer a.Close()
		p := a.profile()

		var (
			profile map[string]any
			cached  bool
		)
		if len(args) > 0 {
			changes, err := parseFields(args)
			if err != nil {
				return err
			}
			profile, err = p.Update(cmd.Context(), changes)
			if errors.Is(err, repo.ErrOffline) {
				return fmt.Errorf("updating your profile needs a connection")
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s Profile updated\n", ui.RenderPass("✓"))
		} else {
			profile, cached, err = p.Me(cmd.Context())
			if errors.Is(err, repo.ErrOffline) {
				fmt.Printf("%s Offline and no saved profile yet\n", ui.RenderWarn("⚠"))
				return nil
			}
			if err != nil {
				return err
			}
			if cached {
				fmt.Println(ui.RenderMuted("Saved copy (offline)"))
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

func init() {
	cropCmd.PersistentFlags().Bool("offline", false, "Work from the local copy and queue writes")
	profileCmd.Flags().Bool("offline", false, "Use the saved profile only")
	cropListCmd.Flags().Bool("json", false, "Output JSON")
	cropRemoveCmd.Flags().Bool("all", false, "Delete every crop (needs a connection)")
	cropExpenseCmd.Flags().String("id", "", "Expense id to update or delete")
	cropExpenseCmd.Flags().Bool("delete", false, "Delete the expense given by --id")

	cropCmd.AddCommand(cropListCmd)
	cropCmd.AddCommand(cropShowCmd)
	cropCmd.AddCommand(cropAddCmd)
	cropCmd.AddCommand(cropUpdateCmd)
	cropCmd.AddCommand(cropRemoveCmd)
	cropCmd.AddCommand(cropSaleCmd)
	cropCmd.AddCommand(cropExpenseCmd)
	rootCmd.AddCommand(cropCmd)
	rootCmd.AddCommand(profileCmd)
}
