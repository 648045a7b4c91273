package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"elibrary/library"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	var (
		email       string
		concurrency int
		perSecond   float64
	)
	cmd := &cobra.Command{
		Use:          "import_books <manifest.yaml>",
		Short:        "Bulk-add books from a YAML manifest",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], email, concurrency, perSecond)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Log in as this user first (otherwise the saved session is used)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Uploads in flight at once")
	cmd.Flags().Float64Var(&perSecond, "rate", 2, "Uploads started per second (0 for no limit)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, manifestPath, email string, concurrency int, perSecond float64) error {
	cfg, err := library.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := library.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	manager, err := library.NewLibraryManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("error creating client: %w", err)
	}
	defer manager.Close()

	if email != "" {
		fmt.Print("Password: ")
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if _, err := manager.Login(cmd.Context(), library.LoginForm{Email: email, Password: string(pw)}); err != nil {
			return err
		}
	}

	manifest, err := library.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	forms := manifest.Forms()
	fmt.Printf("Importing %d books from %s...\n", len(forms), manifestPath)

	results, err := manager.ImportBooks(cmd.Context(), forms, concurrency, perSecond)
	if results == nil && err != nil {
		return err
	}

	successCount := 0
	errorCount := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("ERROR   %-40s %s\n", truncateString(r.Title, 40), library.Message(r.Err))
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS %-40s (ID: %s)\n", truncateString(r.Title, 40), r.Book.ID)
		successCount++
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	if successCount > 0 {
		fmt.Println("\nImported books:")
		fmt.Printf("%-26s %-40s %-25s\n", "ID", "Title", "Author")
		fmt.Println(strings.Repeat("-", 93))
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			fmt.Printf("%-26s %-40s %-25s\n", r.Book.ID, truncateString(r.Book.Title, 40), truncateString(r.Book.Author, 25))
		}
	}
	if err != nil {
		return err
	}
	if errorCount > 0 {
		return fmt.Errorf("%d of %d books failed", errorCount, len(results))
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
