package library

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
)

// PlaceholderImage is shown for books without a cover.
const PlaceholderImage = "/no-image.png"

// ImageURL resolves a book cover against the media origin.
func ImageURL(b *Book, mediaOrigin string) string {
	if b.ImageURL == "" {
		return PlaceholderImage
	}
	if strings.HasPrefix(b.ImageURL, "http://") || strings.HasPrefix(b.ImageURL, "https://") {
		return b.ImageURL
	}
	origin := strings.TrimRight(mediaOrigin, "/")
	if !strings.HasPrefix(b.ImageURL, "/") {
		return origin + "/" + b.ImageURL
	}
	return origin + b.ImageURL
}

var (
	dateLocales = []language.Tag{
		language.AmericanEnglish,
		language.BritishEnglish,
		language.German,
		language.French,
		language.Japanese,
	}
	dateLayoutsByLocale = []string{
		"1/2/2006",
		"02/01/2006",
		"2.1.2006",
		"02/01/2006",
		"2006/1/2",
	}
	dateMatcher = language.NewMatcher(dateLocales)
)

// DateLayout picks the short-date layout for a BCP 47 locale name.
// Unknown or malformed locales fall back to en-US.
func DateLayout(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return dateLayoutsByLocale[0]
	}
	_, idx, conf := dateMatcher.Match(tag)
	if conf == language.No {
		return dateLayoutsByLocale[0]
	}
	return dateLayoutsByLocale[idx]
}

// FormatDate renders d as a localized short date, or "-" when unset.
func FormatDate(d Date, locale string) string {
	if d.IsZero() {
		return "-"
	}
	return d.UTC().Format(DateLayout(locale))
}

// Terminal styles.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A80"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Printer writes styled output for the CLI.
type Printer struct {
	w      io.Writer
	locale string
	media  string
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, locale, mediaOrigin string) *Printer {
	return &Printer{w: w, locale: locale, media: mediaOrigin}
}

// Title prints a heading.
func (p *Printer) Title(s string) { fmt.Fprintln(p.w, titleStyle.Render(s)) }

// Muted prints a dim line.
func (p *Printer) Muted(s string) { fmt.Fprintln(p.w, mutedStyle.Render(s)) }

// Success prints a confirmation line.
func (p *Printer) Success(s string) { fmt.Fprintln(p.w, successStyle.Render(s)) }

// Error prints the user-facing message of err, plus field details for
// validation errors.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.w, errorStyle.Render(Message(err)))
	var e *Error
	if errors.As(err, &e) && len(e.Details) > 0 {
		for _, field := range slices.Sorted(maps.Keys(e.Details)) {
			fmt.Fprintln(p.w, errorStyle.Render(fmt.Sprintf("  %s %s", field, e.Details[field])))
		}
	}
}

// Books prints a table of books; borrowed marks the current user's loans.
func (p *Printer) Books(books []*Book, borrowed func(id string) bool) {
	if len(books) == 0 {
		p.Muted("No books to show.")
		return
	}
	fmt.Fprintln(p.w, headerStyle.Render(fmt.Sprintf("%-24s %-30s %-22s %-12s %-11s %-6s %s",
		"ID", "Title", "Author", "Genre", "Published", "Copies", "Yours")))
	fmt.Fprintln(p.w, strings.Repeat("-", 118))
	for _, b := range books {
		yours := ""
		if borrowed != nil && borrowed(b.ID) {
			yours = "borrowed"
		}
		fmt.Fprintln(p.w, PrettyBook(b, p.locale, yours))
	}
}

// Book prints a detail box for b.
func (p *Printer) Book(b *Book, borrowed, loggedIn bool) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\nBy %s\n", titleStyle.Render(b.Title), b.Author)
	fmt.Fprintf(&sb, "Genre: %s\n", b.Genre)
	fmt.Fprintf(&sb, "Published: %s\n", FormatDate(b.PublicationDate, p.locale))
	fmt.Fprintf(&sb, "Available Copies: %d\n", b.AvailableCopies)
	fmt.Fprintf(&sb, "Cover: %s\n", ImageURL(b, p.media))
	if b.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", b.Description)
	}
	if loggedIn {
		switch {
		case borrowed:
			sb.WriteString("\nYou have borrowed this book. Use 'return' to give it back.")
		case b.AvailableCopies > 0:
			sb.WriteString("\nUse 'borrow' to borrow this book.")
		default:
			sb.WriteString("\nNo copies available for borrowing")
		}
	}
	fmt.Fprintln(p.w, boxStyle.Render(strings.TrimRight(sb.String(), "\n")))
}

// Options prints the available filter values.
func (p *Printer) Options(o FilterOptions) {
	fmt.Fprintf(p.w, "Genres:  %s\n", strings.Join(o.Genres, ", "))
	fmt.Fprintf(p.w, "Authors: %s\n", strings.Join(o.Authors, ", "))
	fmt.Fprintf(p.w, "Years:   %s\n", strings.Join(o.Years, ", "))
}

// PrettyBook formats a book for lists.
func PrettyBook(b *Book, locale, note string) string {
	return fmt.Sprintf("%-24s %-30s %-22s %-12s %-11s %-6d %s",
		b.ID,
		truncate(b.Title, 30),
		truncate(b.Author, 22),
		truncate(b.Genre, 12),
		FormatDate(b.PublicationDate, locale),
		b.AvailableCopies,
		note)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
