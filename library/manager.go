package library

import (
	"context"
	"fmt"
	"log/slog"
)

// LibraryManager is a thin façade over the API client and the session
// store, keeping CLI code simple.
type LibraryManager struct {
	api     *APIClient
	session *SessionStore
	logger  *slog.Logger
}

// NewLibraryManager wires the API client to the session store at
// cfg.SessionDB.
func NewLibraryManager(cfg *Config, logger *slog.Logger) (*LibraryManager, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	api, err := NewAPIClient(cfg.APIURL, cfg.Timeout, logger)
	if err != nil {
		return nil, err
	}
	session, err := NewSessionStore(cfg.SessionDB, api, logger)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	api.SetTokenSource(session)
	return &LibraryManager{api: api, session: session, logger: logger}, nil
}

// Close closes the session database.
func (lm *LibraryManager) Close() error { return lm.session.Close() }

// Session exposes the session store.
func (lm *LibraryManager) Session() *SessionStore { return lm.session }

// ------------------ View-models ------------------

// Catalog returns a fresh, unloaded catalog over src.
func (lm *LibraryManager) Catalog(src Source) *Catalog {
	return NewCatalog(lm.api, lm.session, src, lm.logger)
}

// Detail returns a fresh, unloaded book detail view.
func (lm *LibraryManager) Detail() *Detail {
	return NewDetail(lm.api, lm.session, lm.logger)
}

// ------------------ Auth helpers ------------------

func (lm *LibraryManager) Login(ctx context.Context, form LoginForm) (*User, error) {
	return lm.session.Login(ctx, form)
}

func (lm *LibraryManager) Register(ctx context.Context, form RegisterForm) (*User, error) {
	return lm.session.Register(ctx, form)
}

func (lm *LibraryManager) Logout() error { return lm.session.Logout() }

// CurrentUser returns the logged-in user, if any.
func (lm *LibraryManager) CurrentUser() (*User, bool) { return lm.session.CurrentUser() }

// ------------------ Book forms ------------------

// AddBook validates form and creates the book. Nothing is sent when
// validation fails.
func (lm *LibraryManager) AddBook(ctx context.Context, form BookForm) (*Book, error) {
	if _, ok := lm.session.CurrentUser(); !ok {
		return nil, ErrUnauthenticated
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	up, done, err := form.Upload()
	if err != nil {
		return nil, err
	}
	defer done()
	b, err := lm.api.CreateBook(ctx, up)
	if err != nil {
		return nil, actionError(serverMessage(err, "Failed to add book"), err)
	}
	lm.logger.Info("book added", "book_id", b.ID)
	return b, nil
}

// UpdateBook validates form and saves it over id.
func (lm *LibraryManager) UpdateBook(ctx context.Context, id string, form BookForm) (*Book, error) {
	if _, ok := lm.session.CurrentUser(); !ok {
		return nil, ErrUnauthenticated
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	up, done, err := form.Upload()
	if err != nil {
		return nil, err
	}
	defer done()
	b, err := lm.api.UpdateBook(ctx, id, up)
	if err != nil {
		return nil, actionError("Failed to update the book. Please try again.", err)
	}
	lm.logger.Info("book updated", "book_id", id)
	return b, nil
}

// ImportBooks uploads forms in bulk as the logged-in user.
func (lm *LibraryManager) ImportBooks(ctx context.Context, forms []BookForm, concurrency int, perSecond float64) ([]ImportResult, error) {
	if _, ok := lm.session.CurrentUser(); !ok {
		return nil, ErrUnauthenticated
	}
	return NewImporter(lm.api, concurrency, perSecond, lm.logger).Run(ctx, forms)
}

// LoadForEdit fetches id and pre-fills an edit form.
func (lm *LibraryManager) LoadForEdit(ctx context.Context, id string) (BookForm, error) {
	b, err := lm.api.GetBook(ctx, id)
	if err != nil {
		return BookForm{}, fetchError("Failed to load book details.", err)
	}
	return FromBook(b), nil
}
