package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"beatlib/internal/app"
	"beatlib/internal/config"
	"beatlib/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Import", "Wipe").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// confirm asks the user to type yes before a destructive command proceeds.
// Non-interactive invocations must pass --force instead.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	force, _ := cmd.Flags().GetBool("force")
	if force {
		return true, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("refusing to run without a terminal; pass --force to confirm")
	}

	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func parseSetID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid set id %q", arg)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:   "beatlib",
	Short: "Beatmap set library manager",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s\n", cfg.Store.Type)
		fmt.Printf("Catalog:    %s\n", cfg.Catalog.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var configKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate an encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		enc := encryption.NewAgeEncryptor(cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		if enc.IsConfigured() {
			return fmt.Errorf("key pair already exists at %s", cfg.Encryption.PrivateKeyPath)
		}
		if err := enc.Setup(); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		fmt.Println(`Set encryption type = "age" in the config to enable at-rest encryption.`)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Import beatmap set archives",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		sets, err := a.Import(args...)
		if err != nil {
			a.MarkFailed()
			return fmt.Errorf("import failed: %w", err)
		}

		for _, s := range sets {
			fmt.Printf("#%d  %s - %s  (%d beatmap(s))\n",
				s.ID, s.Metadata.Artist, s.Metadata.Title, len(s.Beatmaps))
		}
		fmt.Printf("Imported %d of %d archive(s)\n", len(sets), len(args))
		return nil
	},
}

// external command
var externalCmd = &cobra.Command{
	Use:   "external",
	Short: "Import sets from the configured external install",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ImportExternal")
		if err != nil {
			return err
		}
		defer a.Close()

		sets, err := a.ImportExternal()
		if err != nil {
			a.MarkFailed()
			return fmt.Errorf("external import failed: %w", err)
		}

		fmt.Printf("Imported %d set(s)\n", len(sets))
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List usable beatmap sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		sets, err := a.List()
		if err != nil {
			return err
		}

		if len(sets) == 0 {
			fmt.Println("Library is empty.")
			return nil
		}

		for _, s := range sets {
			protected := ""
			if s.Protected {
				protected = "  [protected]"
			}
			fmt.Printf("#%d  %s - %s  by %s  (%d beatmap(s), %d file(s))%s\n",
				s.ID, s.Metadata.Artist, s.Metadata.Title, s.Metadata.Creator,
				len(s.Beatmaps), len(s.Files), protected)
		}
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a beatmap set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSetID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.Delete(id)
		if err != nil {
			a.MarkFailed()
			return err
		}
		if !ok {
			fmt.Printf("Set #%d is already deleted\n", id)
			return nil
		}
		fmt.Printf("Deleted set #%d\n", id)
		return nil
	},
}

// undelete command
var undeleteCmd = &cobra.Command{
	Use:   "undelete ID",
	Short: "Restore a deleted beatmap set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSetID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("Undelete")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.Undelete(id)
		if err != nil {
			a.MarkFailed()
			return err
		}
		if !ok {
			fmt.Printf("Set #%d is not deleted\n", id)
			return nil
		}
		fmt.Printf("Restored set #%d\n", id)
		return nil
	},
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge ID",
	Short: "Remove a beatmap set outright",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSetID(args[0])
		if err != nil {
			return err
		}

		ok, err := confirm(cmd, fmt.Sprintf("Permanently remove set #%d?", id))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}

		a, err := newApp("Purge")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Purge(id); err != nil {
			a.MarkFailed()
			return err
		}
		fmt.Printf("Purged set #%d\n", id)
		return nil
	},
}

// wipe command
var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete every unprotected beatmap set",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := confirm(cmd, "Delete every unprotected set in the library?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}

		a, err := newApp("Wipe")
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.Wipe()
		if err != nil {
			a.MarkFailed()
			return fmt.Errorf("wipe failed: %w", err)
		}
		fmt.Printf("Deleted %d set(s)\n", count)
		return nil
	},
}

// reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the catalog entirely",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := confirm(cmd, "Clear the entire catalog? This cannot be undone.")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}

		a, err := newApp("Reset")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Reset(); err != nil {
			a.MarkFailed()
			return fmt.Errorf("reset failed: %w", err)
		}
		fmt.Println("Catalog cleared. Run cleanup to remove orphaned files.")
		return nil
	},
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stored files no set references",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.Cleanup()
		if err != nil {
			a.MarkFailed()
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Removed %d file(s)\n", count)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View library operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.AddCommand(configKeysInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(externalCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(undeleteCmd)
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(wipeCmd)
	wipeCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
