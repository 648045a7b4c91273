package library

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// fakeAPI is an in-memory BookAPI that records every call.
type fakeAPI struct {
	mu    sync.Mutex
	lists map[Source][]*Book
	books map[string]*Book
	calls []string

	listErr   error
	getErr    error
	borrowErr error
	returnErr error
	deleteErr error

	// When hold is set, BorrowBook signals started and blocks until hold
	// is closed.
	hold    chan struct{}
	started chan struct{}
	// When gates is set, each BorrowBook hands its own release channel
	// to gates and blocks until that channel is closed.
	gates chan chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{lists: map[Source][]*Book{}, books: map[string]*Book{}}
}

func (f *fakeAPI) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) ListBooks(_ context.Context, src Source) ([]*Book, error) {
	f.record("list:%s", src)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*Book, 0, len(f.lists[src]))
	for _, b := range f.lists[src] {
		out = append(out, b.clone())
	}
	return out, nil
}

func (f *fakeAPI) GetBook(_ context.Context, id string) (*Book, error) {
	f.record("get:%s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.books[id]
	if !ok {
		return nil, &APIError{Status: 404, Message: "Book not found"}
	}
	return b.clone(), nil
}

func (f *fakeAPI) BorrowBook(_ context.Context, id string) error {
	f.record("borrow:%s", id)
	if f.hold != nil {
		f.started <- struct{}{}
		<-f.hold
	}
	if f.gates != nil {
		release := make(chan struct{})
		f.gates <- release
		<-release
	}
	return f.borrowErr
}

func (f *fakeAPI) ReturnBook(_ context.Context, id string) error {
	f.record("return:%s", id)
	return f.returnErr
}

func (f *fakeAPI) DeleteBook(_ context.Context, id string) error {
	f.record("delete:%s", id)
	return f.deleteErr
}

// fakeSession is a fixed Session.
type fakeSession struct{ user *User }

func (s fakeSession) CurrentUser() (*User, bool) {
	if s.user == nil {
		return nil, false
	}
	u := *s.user
	return &u, true
}

var alice = &User{ID: "u1", Username: "alice", Email: "alice@example.com"}

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

// sampleBooks returns three books: two by Herbert, one by Austen.
func sampleBooks(t *testing.T) []*Book {
	t.Helper()
	return []*Book{
		{ID: "1", Title: "Dune", Author: "Frank Herbert", Genre: "SciFi", PublicationDate: mustDate(t, "1965-08-01"), AvailableCopies: 2},
		{ID: "2", Title: "Emma", Author: "Jane Austen", Genre: "Romance", PublicationDate: mustDate(t, "1815-12-23"), AvailableCopies: 1},
		{ID: "3", Title: "Children of Dune", Author: "Frank Herbert", Genre: "SciFi", PublicationDate: mustDate(t, "1976-04-01"), AvailableCopies: 0},
	}
}

func ids(books []*Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.ID)
	}
	return out
}
