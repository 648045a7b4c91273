package library

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Catalog is the view-model behind a book list screen. It holds the list
// last fetched from the API, a staged filter set and the derived list
// shown to the user, and it owns borrow/return for the books it holds.
//
// Borrow and return are two-phase: the intended change is staged, the API
// is called, and only a successful call commits the change. A failed call
// discards it, so local state never shows something the server refused.
type Catalog struct {
	api     BookAPI
	session Session
	source  Source
	logger  *slog.Logger

	mu       sync.Mutex
	held     []*Book
	derived  []*Book
	filters  Filters
	borrowed map[string]bool
	pending  map[string]*pendingChange
	err      error
}

// pendingChange is a staged borrow or return awaiting the API.
type pendingChange struct {
	copiesDelta int
	borrowed    bool
}

// NewCatalog builds an empty catalog reading from src.
func NewCatalog(api BookAPI, session Session, src Source, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Catalog{
		api:      api,
		session:  session,
		source:   src,
		logger:   logger.With("catalog", src.String()),
		borrowed: map[string]bool{},
		pending:  map[string]*pendingChange{},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load fetches the list. On failure the previous list stays in place and
// Err reports a fetch error until a later Load succeeds.
func (c *Catalog) Load(ctx context.Context) error {
	books, err := c.api.ListBooks(ctx, c.source)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.err = fetchError(fetchMessage(c.source), err)
		c.logger.Warn("load failed", "error", err)
		return c.err
	}
	c.held = books
	c.derived = slices.Clone(books)
	// The fresh list is authoritative; anything still in flight is dropped
	// when it resolves.
	clear(c.pending)
	c.recomputeBorrowedLocked()
	c.err = nil
	c.logger.Debug("loaded", "books", len(books))
	return nil
}

func fetchMessage(src Source) string {
	switch src {
	case SourceCreated:
		return "Failed to fetch books. Please try again later."
	case SourceBorrowed:
		return "Error fetching borrowed books"
	default:
		return "Error fetching books"
	}
}

// recomputeBorrowedLocked rebuilds the per-book flag from BorrowedBy.
func (c *Catalog) recomputeBorrowedLocked() {
	c.borrowed = make(map[string]bool, len(c.held))
	user, ok := c.session.CurrentUser()
	if !ok {
		return
	}
	for _, b := range c.held {
		// Every entry of the borrowed list is on loan to the current user,
		// however the server populates BorrowedBy.
		if c.source == SourceBorrowed || b.BorrowedByUser(user.ID) {
			c.borrowed[b.ID] = true
		}
	}
}

// ---------------------------------------------------------------------------
// Filtering
// ---------------------------------------------------------------------------

// SetFilter stages one predicate. The derived list changes only on ApplyFilters.
func (c *Catalog) SetFilter(field FilterField, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch field {
	case FilterGenre:
		c.filters.Genre = value
	case FilterAuthor:
		c.filters.Author = value
	case FilterPublicationYear:
		c.filters.PublicationYear = value
	default:
		return validationError("unknown filter "+string(field), map[string]string{"field": string(field)})
	}
	return nil
}

// ApplyFilters recomputes the derived list from the held list and the
// staged filters, keeping held-list order.
func (c *Catalog) ApplyFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked()
}

func (c *Catalog) applyLocked() {
	out := make([]*Book, 0, len(c.held))
	for _, b := range c.held {
		if c.filters.Match(b) {
			out = append(out, b)
		}
	}
	c.derived = out
}

// ResetFilters clears every predicate and shows the whole held list.
func (c *Catalog) ResetFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = Filters{}
	c.derived = slices.Clone(c.held)
}

// Options returns the distinct genres, authors and years of the held list
// in first-seen order. Empty values are left out since an empty filter
// matches everything.
func (c *Catalog) Options() FilterOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	var opts FilterOptions
	seenG, seenA, seenY := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, b := range c.held {
		opts.Genres = appendDistinct(opts.Genres, seenG, b.Genre)
		opts.Authors = appendDistinct(opts.Authors, seenA, b.Author)
		opts.Years = appendDistinct(opts.Years, seenY, b.Year())
	}
	return opts
}

func appendDistinct(list []string, seen map[string]bool, v string) []string {
	if v == "" || seen[v] {
		return list
	}
	seen[v] = true
	return append(list, v)
}

// ---------------------------------------------------------------------------
// Borrow / return
// ---------------------------------------------------------------------------

// Borrow lends one copy of id to the current user. It is refused locally,
// with no API call, when the book is unknown, has no copies left, already
// has an action in flight, or nobody is logged in. Anything else is left
// for the server to reject.
func (c *Catalog) Borrow(ctx context.Context, id string) error {
	user, ok := c.session.CurrentUser()
	if !ok {
		return ErrUnauthenticated
	}

	c.mu.Lock()
	b := c.findLocked(id)
	switch {
	case b == nil:
		c.mu.Unlock()
		return actionErrorf("book %s is not in this list", id)
	case b.AvailableCopies <= 0:
		c.mu.Unlock()
		return actionErrorf("No copies available for borrowing")
	}
	change := &pendingChange{copiesDelta: -1, borrowed: true}
	if err := c.stageLocked(id, change); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if err := c.api.BorrowBook(ctx, id); err != nil {
		c.discard(id, change)
		c.logger.Warn("borrow failed", "book_id", id, "error", err)
		return actionError("Error borrowing book", err)
	}
	c.commit(id, change, user)
	c.logger.Info("borrowed", "book_id", id)
	return nil
}

// Return gives the current user's copy of id back. It is refused locally
// when the book is unknown, is not marked as borrowed by the current
// user, already has an action in flight, or nobody is logged in.
func (c *Catalog) Return(ctx context.Context, id string) error {
	user, ok := c.session.CurrentUser()
	if !ok {
		return ErrUnauthenticated
	}

	c.mu.Lock()
	b := c.findLocked(id)
	switch {
	case b == nil:
		c.mu.Unlock()
		return actionErrorf("book %s is not in this list", id)
	case !c.borrowed[id]:
		c.mu.Unlock()
		return actionErrorf("you have not borrowed %q", b.Title)
	}
	change := &pendingChange{copiesDelta: 1, borrowed: false}
	if err := c.stageLocked(id, change); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if err := c.api.ReturnBook(ctx, id); err != nil {
		c.discard(id, change)
		c.logger.Warn("return failed", "book_id", id, "error", err)
		return actionError("Error returning book", err)
	}
	if c.commit(id, change, user) && c.source == SourceBorrowed {
		c.RemoveLocally(id)
	}
	c.logger.Info("returned", "book_id", id)
	return nil
}

func (c *Catalog) stageLocked(id string, change *pendingChange) error {
	if _, busy := c.pending[id]; busy {
		return actionErrorf("an action on book %s is still in progress", id)
	}
	c.pending[id] = change
	return nil
}

// discard drops change if it is still the one staged for id.
func (c *Catalog) discard(id string, change *pendingChange) {
	c.mu.Lock()
	if c.pending[id] == change {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// commit applies change if it is still the one staged for id and reports
// whether it did. A Load that ran while the call was in flight cleared the
// stage, and a later action may have staged its own change since; either
// way the stale result is dropped.
func (c *Catalog) commit(id string, change *pendingChange, user *User) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[id] != change {
		return false
	}
	delete(c.pending, id)
	b := c.findLocked(id)
	if b == nil {
		return false
	}
	next := b.clone()
	next.AvailableCopies += change.copiesDelta
	if next.AvailableCopies < 0 {
		next.AvailableCopies = 0
	}
	if change.borrowed {
		if !next.BorrowedByUser(user.ID) {
			next.BorrowedBy = append(next.BorrowedBy, user.ref())
		}
		c.borrowed[id] = true
	} else {
		next.BorrowedBy = slices.DeleteFunc(next.BorrowedBy, func(r BorrowerRef) bool { return r.ID == user.ID })
		delete(c.borrowed, id)
	}
	c.replaceLocked(next)
	return true
}

// ---------------------------------------------------------------------------
// List bookkeeping
// ---------------------------------------------------------------------------

// Delete removes id on the server and then from the local lists.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, ok := c.session.CurrentUser(); !ok {
		return ErrUnauthenticated
	}
	if err := c.api.DeleteBook(ctx, id); err != nil {
		c.logger.Warn("delete failed", "book_id", id, "error", err)
		return actionError(serverMessage(err, "Failed to delete book"), err)
	}
	c.RemoveLocally(id)
	c.logger.Info("deleted", "book_id", id)
	return nil
}

// RemoveLocally drops id from the held and derived lists. Unknown ids are
// ignored.
func (c *Catalog) RemoveLocally(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(id) < 0 {
		return
	}
	match := func(b *Book) bool { return b.ID == id }
	c.held = slices.DeleteFunc(slices.Clone(c.held), match)
	c.derived = slices.DeleteFunc(slices.Clone(c.derived), match)
	delete(c.borrowed, id)
}

// ReplaceLocally swaps in an edited book by id. Unknown ids are ignored.
func (c *Catalog) ReplaceLocally(b *Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(b.ID) < 0 {
		return
	}
	c.replaceLocked(b)
	if user, ok := c.session.CurrentUser(); ok && b.BorrowedByUser(user.ID) {
		c.borrowed[b.ID] = true
	} else {
		delete(c.borrowed, b.ID)
	}
}

// replaceLocked writes b over the entity with the same id in both lists.
// Both slices are copied so snapshots handed out earlier stay unchanged.
func (c *Catalog) replaceLocked(b *Book) {
	swap := func(list []*Book) []*Book {
		out := slices.Clone(list)
		for i, cur := range out {
			if cur.ID == b.ID {
				out[i] = b
			}
		}
		return out
	}
	c.held = swap(c.held)
	c.derived = swap(c.derived)
}

func (c *Catalog) indexLocked(id string) int {
	return slices.IndexFunc(c.held, func(b *Book) bool { return b.ID == id })
}

func (c *Catalog) findLocked(id string) *Book {
	if i := c.indexLocked(id); i >= 0 {
		return c.held[i]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Books returns the held list.
func (c *Catalog) Books() []*Book {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.held)
}

// Visible returns the derived list.
func (c *Catalog) Visible() []*Book {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.derived)
}

// Filters returns the staged filter set.
func (c *Catalog) Filters() Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// Book returns the held entity for id.
func (c *Catalog) Book(id string) (*Book, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.findLocked(id)
	return b, b != nil
}

// IsBorrowed reports the borrowed-by-current-user flag for id.
func (c *Catalog) IsBorrowed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.borrowed[id]
}

// Pending reports whether a borrow or return for id is in flight.
func (c *Catalog) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Err is the last fetch error, nil after a successful Load.
func (c *Catalog) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Source reports which list the catalog reads.
func (c *Catalog) Source() Source { return c.source }
