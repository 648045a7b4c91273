package library

import (
	"context"
	"log/slog"
	"sync"
)

// Detail is the view-model of a single book page.
type Detail struct {
	api     BookAPI
	session Session
	logger  *slog.Logger

	mu       sync.Mutex
	book     *Book
	borrowed bool
	pending  *pendingChange
	err      error
}

// NewDetail builds an empty detail view.
func NewDetail(api BookAPI, session Session, logger *slog.Logger) *Detail {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detail{api: api, session: session, logger: logger}
}

// Load fetches id and recomputes the borrowed flag. On failure any book
// shown before is kept and Err reports the fetch error.
func (d *Detail) Load(ctx context.Context, id string) error {
	b, err := d.api.GetBook(ctx, id)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.err = fetchError("Error fetching book details", err)
		return d.err
	}
	d.book = b
	d.pending = nil
	d.borrowed = false
	if user, ok := d.session.CurrentUser(); ok {
		d.borrowed = b.BorrowedByUser(user.ID)
	}
	d.err = nil
	return nil
}

// Book returns the loaded book, nil before a successful Load.
func (d *Detail) Book() *Book {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.book
}

// IsBorrowed reports whether the current user holds a copy.
func (d *Detail) IsBorrowed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.borrowed
}

// Err is the last fetch error.
func (d *Detail) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Borrow lends a copy to the current user; see Catalog.Borrow.
func (d *Detail) Borrow(ctx context.Context) error {
	return d.act(ctx, pendingChange{copiesDelta: -1, borrowed: true})
}

// Return gives the current user's copy back; see Catalog.Return.
func (d *Detail) Return(ctx context.Context) error {
	return d.act(ctx, pendingChange{copiesDelta: 1, borrowed: false})
}

func (d *Detail) act(ctx context.Context, change pendingChange) error {
	user, ok := d.session.CurrentUser()
	if !ok {
		return ErrUnauthenticated
	}

	d.mu.Lock()
	switch {
	case d.book == nil:
		d.mu.Unlock()
		return actionErrorf("no book loaded")
	case d.pending != nil:
		d.mu.Unlock()
		return actionErrorf("an action on this book is still in progress")
	case change.borrowed && d.book.AvailableCopies <= 0:
		d.mu.Unlock()
		return actionErrorf("No copies available for borrowing")
	case !change.borrowed && !d.borrowed:
		d.mu.Unlock()
		return actionErrorf("you have not borrowed %q", d.book.Title)
	}
	id := d.book.ID
	d.pending = &change
	d.mu.Unlock()

	call, failMsg := d.api.ReturnBook, "Error returning book"
	if change.borrowed {
		call, failMsg = d.api.BorrowBook, "Error borrowing book"
	}
	if err := call(ctx, id); err != nil {
		d.mu.Lock()
		if d.pending == &change {
			d.pending = nil
		}
		d.mu.Unlock()
		d.logger.Warn("book action failed", "book_id", id, "borrow", change.borrowed, "error", err)
		return actionError(failMsg, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// A Load during the call replaced the book and cleared the stage.
	if d.pending != &change {
		return nil
	}
	d.pending = nil
	next := d.book.clone()
	next.AvailableCopies = max(next.AvailableCopies+change.copiesDelta, 0)
	if change.borrowed {
		if !next.BorrowedByUser(user.ID) {
			next.BorrowedBy = append(next.BorrowedBy, user.ref())
		}
	} else {
		kept := next.BorrowedBy[:0]
		for _, r := range next.BorrowedBy {
			if r.ID != user.ID {
				kept = append(kept, r)
			}
		}
		next.BorrowedBy = kept
	}
	d.book = next
	d.borrowed = change.borrowed
	return nil
}
