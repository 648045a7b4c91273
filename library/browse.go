package library

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Browser is the interactive list screen: it reads commands line by line
// and drives a Catalog. Filters are staged with "filter" and only take
// effect on "apply".
type Browser struct {
	Catalog *Catalog
	Printer *Printer
	Out     io.Writer
	// Confirm, when set, is asked before a delete goes to the API.
	Confirm func() error
	// Editor saves "edit" commands. Without one, edit is unavailable.
	Editor Editor
}

// Editor loads and saves book forms. LibraryManager implements it.
type Editor interface {
	LoadForEdit(ctx context.Context, id string) (BookForm, error)
	UpdateBook(ctx context.Context, id string, form BookForm) (*Book, error)
}

const browseHelp = `Commands:
  list                      show the current (filtered) list
  options                   show the genres, authors and years in the list
  filter <field> [value]    stage a filter: genre, author or year (no value clears it)
  filters                   show the staged filters
  apply                     apply the staged filters
  reset                     clear all filters
  show <id>                 show one book
  borrow <id>               borrow a book
  return <id>               return a book
  edit <id> <field> <value> change a book you created: title, author, genre, date, copies or image
  delete <id>               delete a book you created
  reload                    fetch the list again
  help                      show this help
  quit                      leave`

// Run loops until quit or EOF. The list is loaded first; a failed load
// is reported and the loop still starts so the user can "reload".
func (br *Browser) Run(ctx context.Context, in io.Reader) error {
	if err := br.Catalog.Load(ctx); err != nil {
		br.Printer.Error(err)
	} else {
		br.Printer.Books(br.Catalog.Visible(), br.Catalog.IsBorrowed)
	}
	fmt.Fprintln(br.Out, "Type 'help' for commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(br.Out, "\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := br.handle(ctx, line); quit {
			return nil
		}
	}
	return scanner.Err()
}

func (br *Browser) handle(ctx context.Context, line string) (quit bool) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	cat := br.Catalog

	switch strings.ToLower(cmd) {
	case "list", "ls":
		br.Printer.Books(cat.Visible(), cat.IsBorrowed)
	case "options":
		br.Printer.Options(cat.Options())
	case "filter":
		name, value, _ := strings.Cut(rest, " ")
		field, ok := ParseFilterField(name)
		if !ok {
			fmt.Fprintln(br.Out, "Usage: filter <genre|author|year> [value]")
			return false
		}
		if err := cat.SetFilter(field, strings.TrimSpace(value)); err != nil {
			br.Printer.Error(err)
			return false
		}
		fmt.Fprintln(br.Out, "Filter staged. Type 'apply' to use it.")
	case "filters":
		f := cat.Filters()
		fmt.Fprintf(br.Out, "genre=%q author=%q year=%q\n", f.Genre, f.Author, f.PublicationYear)
	case "apply":
		cat.ApplyFilters()
		br.Printer.Books(cat.Visible(), cat.IsBorrowed)
	case "reset":
		cat.ResetFilters()
		br.Printer.Books(cat.Visible(), cat.IsBorrowed)
	case "show":
		b, ok := cat.Book(rest)
		if !ok {
			fmt.Fprintf(br.Out, "No book with ID %q in this list.\n", rest)
			return false
		}
		_, loggedIn := cat.session.CurrentUser()
		br.Printer.Book(b, cat.IsBorrowed(b.ID), loggedIn)
	case "borrow":
		if err := cat.Borrow(ctx, rest); err != nil {
			br.Printer.Error(err)
			return false
		}
		br.Printer.Success("Book borrowed.")
	case "return":
		if err := cat.Return(ctx, rest); err != nil {
			br.Printer.Error(err)
			return false
		}
		br.Printer.Success("Book returned.")
	case "delete":
		if cat.Source() != SourceCreated {
			fmt.Fprintln(br.Out, "Books can only be deleted from your own shelf (browse --mine).")
			return false
		}
		if br.Confirm != nil {
			if err := br.Confirm(); err != nil {
				br.Printer.Error(err)
				return false
			}
		}
		if err := cat.Delete(ctx, rest); err != nil {
			br.Printer.Error(err)
			return false
		}
		br.Printer.Success("Book deleted.")
	case "edit":
		br.edit(ctx, rest)
	case "reload":
		if err := cat.Load(ctx); err != nil {
			br.Printer.Error(err)
			return false
		}
		br.Printer.Books(cat.Visible(), cat.IsBorrowed)
	case "help":
		fmt.Fprintln(br.Out, browseHelp)
	case "quit", "exit", "q":
		fmt.Fprintln(br.Out, "Goodbye!")
		return true
	default:
		fmt.Fprintf(br.Out, "Unknown command: %s. Type 'help' for commands.\n", cmd)
	}
	return false
}

func (br *Browser) edit(ctx context.Context, args string) {
	cat := br.Catalog
	if cat.Source() != SourceCreated || br.Editor == nil {
		fmt.Fprintln(br.Out, "Books can only be edited from your own shelf (browse --mine).")
		return
	}
	id, rest, _ := strings.Cut(args, " ")
	field, value, _ := strings.Cut(strings.TrimSpace(rest), " ")
	value = strings.TrimSpace(value)
	if id == "" || field == "" {
		fmt.Fprintln(br.Out, "Usage: edit <id> <title|author|genre|date|copies|image> <value>")
		return
	}
	if _, ok := cat.Book(id); !ok {
		fmt.Fprintf(br.Out, "No book with ID %q in this list.\n", id)
		return
	}

	form, err := br.Editor.LoadForEdit(ctx, id)
	if err != nil {
		br.Printer.Error(err)
		return
	}
	switch strings.ToLower(field) {
	case "title":
		form.Title = value
	case "author":
		form.Author = value
	case "genre":
		form.Genre = value
	case "date":
		form.PublicationDate = value
	case "copies":
		n, err := strconv.Atoi(value)
		if err != nil {
			br.Printer.Error(validationError("copies must be a number", map[string]string{"availableCopies": "must be a number"}))
			return
		}
		form.AvailableCopies = n
	case "image":
		form.ImagePath = value
	default:
		fmt.Fprintf(br.Out, "Unknown field: %s\n", field)
		return
	}

	b, err := br.Editor.UpdateBook(ctx, id, form)
	if err != nil {
		br.Printer.Error(err)
		return
	}
	cat.ReplaceLocally(b)
	br.Printer.Success("Book updated.")
}
