package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"elibrary/library"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	flagAPIURL      string
	flagMediaOrigin string
	flagSessionDB   string
	flagLogLevel    string
	flagLogFormat   string
	flagLocale      string
	flagTimeout     time.Duration

	cfg     *library.Config
	manager *library.LibraryManager
	printer *library.Printer
	stdin   = bufio.NewScanner(os.Stdin)

	rootCmd = &cobra.Command{
		Use:           "elibrary",
		Short:         "Browse, borrow and manage books of a remote e-library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if manager != nil {
				return manager.Close()
			}
			return nil
		},
	}
)

func setup() error {
	var err error
	if cfg, err = library.LoadConfig(); err != nil {
		return err
	}
	overrideString(&cfg.APIURL, flagAPIURL)
	overrideString(&cfg.MediaOrigin, flagMediaOrigin)
	overrideString(&cfg.SessionDB, flagSessionDB)
	overrideString(&cfg.LogLevel, flagLogLevel)
	overrideString(&cfg.LogFormat, flagLogFormat)
	overrideString(&cfg.Locale, flagLocale)
	if flagTimeout > 0 {
		cfg.Timeout = flagTimeout
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := library.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if manager, err = library.NewLibraryManager(cfg, logger); err != nil {
		return err
	}
	printer = library.NewPrinter(os.Stdout, cfg.Locale, cfg.MediaOrigin)
	return nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagAPIURL, "api-url", "", "Library API base URL (env ELIBRARY_API_URL)")
	pf.StringVar(&flagMediaOrigin, "media-origin", "", "Origin that serves cover images (env ELIBRARY_MEDIA_ORIGIN)")
	pf.StringVar(&flagSessionDB, "session-db", "", "Path of the saved session (env ELIBRARY_SESSION_DB)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&flagLocale, "locale", "", "Locale for dates, e.g. en-US, en-GB, de")
	pf.DurationVar(&flagTimeout, "timeout", 0, "HTTP request timeout (env ELIBRARY_TIMEOUT)")

	rootCmd.AddCommand(
		newBooksCmd(),
		newShowCmd(),
		newBorrowCmd(),
		newReturnCmd(),
		newBrowseCmd(),
		newAddCmd(),
		newEditCmd(),
		newDeleteCmd(),
		newLoginCmd(),
		newRegisterCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printErr(err)
		stop()
		os.Exit(1)
	}
}

func printErr(err error) {
	if printer != nil {
		printer.Error(err)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// ---------------------------------------------------------------------------
// Listing and browsing
// ---------------------------------------------------------------------------

func sourceFromFlags(mine, borrowed bool) (library.Source, error) {
	switch {
	case mine && borrowed:
		return 0, fmt.Errorf("--mine and --borrowed cannot be combined")
	case mine:
		return library.SourceCreated, nil
	case borrowed:
		return library.SourceBorrowed, nil
	}
	return library.SourceAll, nil
}

func newBooksCmd() *cobra.Command {
	var (
		genre, author, year string
		mine, borrowed      bool
		options             bool
	)
	cmd := &cobra.Command{
		Use:     "books",
		Aliases: []string{"list"},
		Short:   "List books, optionally filtered by genre, author and publication year",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sourceFromFlags(mine, borrowed)
			if err != nil {
				return err
			}
			cat := manager.Catalog(src)
			if err := cat.Load(cmd.Context()); err != nil {
				return err
			}
			if options {
				printer.Options(cat.Options())
				return nil
			}
			for field, v := range map[library.FilterField]string{
				library.FilterGenre:           genre,
				library.FilterAuthor:          author,
				library.FilterPublicationYear: year,
			} {
				if err := cat.SetFilter(field, v); err != nil {
					return err
				}
			}
			cat.ApplyFilters()
			printer.Books(cat.Visible(), cat.IsBorrowed)
			return nil
		},
	}
	cmd.Flags().StringVar(&genre, "genre", "", "Only books of this genre")
	cmd.Flags().StringVar(&author, "author", "", "Only books by this author")
	cmd.Flags().StringVar(&year, "year", "", "Only books published in this year")
	cmd.Flags().BoolVar(&mine, "mine", false, "List the books you created")
	cmd.Flags().BoolVar(&borrowed, "borrowed", false, "List the books you borrowed")
	cmd.Flags().BoolVar(&options, "options", false, "Print the available filter values instead")
	return cmd
}

func newBrowseCmd() *cobra.Command {
	var mine, borrowed bool
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Interactive catalog with staged filters, borrow and return",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sourceFromFlags(mine, borrowed)
			if err != nil {
				return err
			}
			br := &library.Browser{
				Catalog: manager.Catalog(src),
				Printer: printer,
				Out:     os.Stdout,
				Confirm: confirmWithPassword,
				Editor:  manager,
			}
			return br.Run(cmd.Context(), os.Stdin)
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "Browse the books you created")
	cmd.Flags().BoolVar(&borrowed, "borrowed", false, "Browse the books you borrowed")
	return cmd
}

// ---------------------------------------------------------------------------
// Single book
// ---------------------------------------------------------------------------

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show book details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := manager.Detail()
			if err := d.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, loggedIn := manager.CurrentUser()
			printer.Book(d.Book(), d.IsBorrowed(), loggedIn)
			return nil
		},
	}
}

func newBorrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <book-id>",
		Short: "Borrow a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := manager.Detail()
			if err := d.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := d.Borrow(cmd.Context()); err != nil {
				return err
			}
			printer.Success(fmt.Sprintf("Borrowed '%s'. Copies left: %d", d.Book().Title, d.Book().AvailableCopies))
			return nil
		},
	}
}

func newReturnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return <book-id>",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := manager.Detail()
			if err := d.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := d.Return(cmd.Context()); err != nil {
				return err
			}
			printer.Success(fmt.Sprintf("Returned '%s'. Copies available: %d", d.Book().Title, d.Book().AvailableCopies))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Book forms
// ---------------------------------------------------------------------------

type bookFlags struct {
	title, author, genre, date, image string
	copies                            int
}

func (f *bookFlags) register(cmd *cobra.Command, defaultCopies int) {
	cmd.Flags().StringVar(&f.title, "title", "", "Title")
	cmd.Flags().StringVar(&f.author, "author", "", "Author")
	cmd.Flags().StringVar(&f.genre, "genre", "", "Genre")
	cmd.Flags().StringVar(&f.date, "date", "", "Publication date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.copies, "copies", defaultCopies, "Available copies (at least 1)")
	cmd.Flags().StringVar(&f.image, "image", "", "Path to a cover image")
}

func newAddCmd() *cobra.Command {
	var f bookFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new book; missing fields are prompted for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form := library.BookForm{
				Title:           prompt("Title: ", f.title),
				Author:          prompt("Author: ", f.author),
				Genre:           prompt("Genre: ", f.genre),
				PublicationDate: prompt("Publication date (YYYY-MM-DD): ", f.date),
				AvailableCopies: f.copies,
				ImagePath:       f.image,
			}
			b, err := manager.AddBook(cmd.Context(), form)
			if err != nil {
				return err
			}
			printer.Success(fmt.Sprintf("Book added successfully! ID %s", b.ID))
			return nil
		},
	}
	f.register(cmd, 1)
	return cmd
}

func newEditCmd() *cobra.Command {
	var f bookFlags
	cmd := &cobra.Command{
		Use:   "edit <book-id>",
		Short: "Edit a book you created; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := manager.LoadForEdit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			overrideString(&form.Title, f.title)
			overrideString(&form.Author, f.author)
			overrideString(&form.Genre, f.genre)
			overrideString(&form.PublicationDate, f.date)
			overrideString(&form.ImagePath, f.image)
			if cmd.Flags().Changed("copies") {
				form.AvailableCopies = f.copies
			}
			b, err := manager.UpdateBook(cmd.Context(), args[0], form)
			if err != nil {
				return err
			}
			printer.Success(fmt.Sprintf("Updated '%s'.", b.Title))
			return nil
		},
	}
	f.register(cmd, 0)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book you created (asks for your password)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shelf := manager.Catalog(library.SourceCreated)
			if err := shelf.Load(cmd.Context()); err != nil {
				return err
			}
			b, ok := shelf.Book(args[0])
			if !ok {
				return fmt.Errorf("book %s is not on your shelf", args[0])
			}
			fmt.Printf("Deleting '%s'.\n", b.Title)
			if err := confirmWithPassword(); err != nil {
				return err
			}
			if err := shelf.Delete(cmd.Context(), b.ID); err != nil {
				return err
			}
			printer.Success("Book deleted.")
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func newLoginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email = prompt("Email: ", email)
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			u, err := manager.Login(cmd.Context(), library.LoginForm{Email: email, Password: password})
			if err != nil {
				return err
			}
			printer.Success(fmt.Sprintf("Hello, %s", u.Username))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var username, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username = prompt("Username: ", username)
			email = prompt("Email: ", email)
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			u, err := manager.Register(cmd.Context(), library.RegisterForm{
				Username: username,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			printer.Success(fmt.Sprintf("Welcome, %s", u.Username))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := manager.Logout(); err != nil {
				return err
			}
			printer.Success("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, ok := manager.CurrentUser()
			if !ok {
				printer.Muted("Not logged in.")
				return nil
			}
			fmt.Printf("%s <%s> (ID: %s)\n", u.Username, u.Email, u.ID)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

// prompt returns current if set, otherwise asks for a line on stdin.
func prompt(label, current string) string {
	if current != "" {
		return current
	}
	fmt.Print(label)
	if !stdin.Scan() {
		return ""
	}
	return strings.TrimSpace(stdin.Text())
}

// readPassword securely reads a password with masking
func readPassword(label string) (string, error) {
	fmt.Print(label)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// confirmWithPassword asks for the login password before a destructive action.
func confirmWithPassword() error {
	password, err := readPassword("Confirm with your password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	return manager.Session().Confirm(password)
}
