package library

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Book is a catalog entry as served by the remote API.
// AvailableCopies is the only field the client mutates locally.
type Book struct {
	ID              string        `json:"_id"`
	Title           string        `json:"title"`
	Author          string        `json:"author"`
	Genre           string        `json:"genre"`
	Description     string        `json:"description,omitempty"`
	PublicationDate Date          `json:"publicationDate"`
	AvailableCopies int           `json:"availableCopies"`
	ImageURL        string        `json:"imageUrl,omitempty"`
	BorrowedBy      []BorrowerRef `json:"borrowedBy"`
	CreatedBy       string        `json:"createdBy,omitempty"`
}

// Year returns the publication year as the filter compares it. Dates are
// read in UTC so a midnight timestamp never shifts into the previous year.
func (b *Book) Year() string {
	if b.PublicationDate.IsZero() {
		return ""
	}
	return strconv.Itoa(b.PublicationDate.UTC().Year())
}

// BorrowedByUser reports whether userID appears in BorrowedBy.
func (b *Book) BorrowedByUser(userID string) bool {
	if userID == "" {
		return false
	}
	for _, ref := range b.BorrowedBy {
		if ref.ID == userID {
			return true
		}
	}
	return false
}

// clone copies b including its borrower slice.
func (b *Book) clone() *Book {
	c := *b
	c.BorrowedBy = append([]BorrowerRef(nil), b.BorrowedBy...)
	return &c
}

// BorrowerRef identifies a borrower. The server sends either a bare id or a
// populated user object.
type BorrowerRef struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// UnmarshalJSON accepts both `"id"` and `{"_id": "id", ...}`.
func (r *BorrowerRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = BorrowerRef{ID: id}
		return nil
	}
	var obj struct {
		ID       string `json:"_id"`
		AltID    string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode borrower: %w", err)
	}
	r.ID = firstNonEmpty(obj.ID, obj.AltID)
	r.Username = firstNonEmpty(obj.Username, obj.Name)
	r.Email = obj.Email
	return nil
}

// User is the identity held by the session.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UnmarshalJSON accepts `_id` or `id`, and `username` or `name`.
func (u *User) UnmarshalJSON(data []byte) error {
	var obj struct {
		ID       string `json:"_id"`
		AltID    string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	u.ID = firstNonEmpty(obj.ID, obj.AltID)
	u.Username = firstNonEmpty(obj.Username, obj.Name)
	u.Email = obj.Email
	return nil
}

func (u *User) ref() BorrowerRef {
	return BorrowerRef{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Date is a calendar date carried as an ISO-8601 string on the wire.
type Date struct {
	time.Time
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate parses a full date-time or a bare YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

// MarshalJSON writes RFC 3339, or null for the zero date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.UTC().Format(time.RFC3339))
}

// UnmarshalJSON reads a date string; null and "" leave the zero date.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode date: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// InputValue is the YYYY-MM-DD form used by edit forms.
func (d Date) InputValue() string {
	if d.IsZero() {
		return ""
	}
	return d.UTC().Format("2006-01-02")
}

// FilterField names one predicate of the filter set.
type FilterField string

const (
	FilterGenre           FilterField = "genre"
	FilterAuthor          FilterField = "author"
	FilterPublicationYear FilterField = "publicationYear"
)

// ParseFilterField maps user input onto a FilterField.
func ParseFilterField(s string) (FilterField, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "genre":
		return FilterGenre, true
	case "author":
		return FilterAuthor, true
	case "year", "publicationyear", "publication_year":
		return FilterPublicationYear, true
	}
	return "", false
}

// Filters is the staged predicate set. Empty fields match everything.
type Filters struct {
	Genre           string
	Author          string
	PublicationYear string
}

// Empty reports whether no predicate is set.
func (f Filters) Empty() bool {
	return f.Genre == "" && f.Author == "" && f.PublicationYear == ""
}

// Match reports whether b satisfies every non-empty predicate.
func (f Filters) Match(b *Book) bool {
	if f.Genre != "" && b.Genre != f.Genre {
		return false
	}
	if f.Author != "" && b.Author != f.Author {
		return false
	}
	if f.PublicationYear != "" && b.Year() != f.PublicationYear {
		return false
	}
	return true
}

// FilterOptions lists the distinct values seen in a book list.
type FilterOptions struct {
	Genres  []string
	Authors []string
	Years   []string
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
