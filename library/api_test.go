package library

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, h http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewAPIClient(srv.URL+"/api/", 5*time.Second, nil)
	require.NoError(t, err)
	return c
}

func TestNewAPIClient_RejectsNonHTTP(t *testing.T) {
	_, err := NewAPIClient("ftp://example.com", time.Second, nil)
	assert.Error(t, err)
}

func TestAPIClient_ListBooksPaths(t *testing.T) {
	tests := []struct {
		src  Source
		path string
	}{
		{SourceAll, "/api/books"},
		{SourceCreated, "/api/books/mycreatedbooks"},
		{SourceBorrowed, "/api/books/myborrowedbooks"},
	}
	for _, tt := range tests {
		t.Run(tt.src.String(), func(t *testing.T) {
			var got string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.Path
				assert.Equal(t, http.MethodGet, r.Method)
				io.WriteString(w, `[{"_id":"b1","title":"Dune","availableCopies":2}]`)
			})
			books, err := c.ListBooks(context.Background(), tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.path, got)
			require.Len(t, books, 1)
			assert.Equal(t, "b1", books[0].ID)
		})
	}
}

func TestAPIClient_ListBooksNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `null`)
	})
	books, err := c.ListBooks(context.Background(), SourceAll)
	require.NoError(t, err)
	assert.NotNil(t, books)
	assert.Empty(t, books)
}

func TestAPIClient_Headers(t *testing.T) {
	var hdr http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.BorrowBook(context.Background(), "b1"))
	assert.Empty(t, hdr.Get("Authorization"), "anonymous client sends no token")
	_, err := uuid.Parse(hdr.Get("X-Request-ID"))
	assert.NoError(t, err)

	c.SetTokenSource(staticToken("tok-123"))
	require.NoError(t, c.BorrowBook(context.Background(), "b1"))
	assert.Equal(t, "Bearer tok-123", hdr.Get("Authorization"))
	assert.Equal(t, "application/json", hdr.Get("Accept"))
}

func TestAPIClient_BookActions(t *testing.T) {
	var method, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	require.NoError(t, c.BorrowBook(ctx, "b1"))
	assert.Equal(t, "POST /api/books/b1/borrow", method+" "+path)

	require.NoError(t, c.ReturnBook(ctx, "b1"))
	assert.Equal(t, "POST /api/books/b1/return", method+" "+path)

	require.NoError(t, c.DeleteBook(ctx, "b1"))
	assert.Equal(t, "DELETE /api/books/b1", method+" "+path)
}

func TestAPIClient_GetBookDecodesBorrowers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/books/b1", r.URL.Path)
		io.WriteString(w, `{
			"_id": "b1",
			"title": "Dune",
			"publicationDate": "1965-08-01T00:00:00.000Z",
			"availableCopies": 3,
			"borrowedBy": ["u1", {"_id": "u2", "username": "bob"}]
		}`)
	})
	b, err := c.GetBook(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "1965", b.Year())
	assert.Equal(t, []BorrowerRef{{ID: "u1"}, {ID: "u2", Username: "bob"}}, b.BorrowedBy)
	assert.True(t, b.BorrowedByUser("u2"))
}

func TestAPIClient_ErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"No copies available"}`)
	})
	err := c.BorrowBook(context.Background(), "b1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "No copies available", apiErr.Message)
	assert.Equal(t, "No copies available", serverMessage(err, "fallback"))
}

func TestAPIClient_ErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	_, err := c.GetBook(context.Background(), "b1")
	require.Error(t, err)
	assert.Equal(t, "Error fetching", serverMessage(err, "Error fetching"))
}

func TestAPIClient_CreateBookMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST /api/books", r.Method+" "+r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Dune", r.FormValue("title"))
		assert.Equal(t, "Frank Herbert", r.FormValue("author"))
		assert.Equal(t, "SciFi", r.FormValue("genre"))
		assert.Equal(t, "1965-08-01", r.FormValue("publicationDate"))
		assert.Equal(t, "3", r.FormValue("availableCopies"))

		if f, hdr, err := r.FormFile("image"); assert.NoError(t, err) {
			raw, _ := io.ReadAll(f)
			f.Close()
			assert.Equal(t, "cover.jpg", hdr.Filename)
			assert.Equal(t, "jpeg-bytes", string(raw))
		}

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"_id":"new1","title":"Dune"}`)
	})

	b, err := c.CreateBook(context.Background(), BookUpload{
		Title:           "Dune",
		Author:          "Frank Herbert",
		Genre:           "SciFi",
		PublicationDate: "1965-08-01",
		AvailableCopies: 3,
		Image:           strings.NewReader("jpeg-bytes"),
		ImageName:       "cover.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "new1", b.ID)
}

func TestAPIClient_UpdateBookWithoutImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT /api/books/b1", r.Method+" "+r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Dune Messiah", r.FormValue("title"))
		_, _, err := r.FormFile("image")
		assert.ErrorIs(t, err, http.ErrMissingFile)
		io.WriteString(w, `{"_id":"b1","title":"Dune Messiah"}`)
	})
	b, err := c.UpdateBook(context.Background(), "b1", BookUpload{Title: "Dune Messiah", AvailableCopies: 1})
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", b.Title)
}

func TestAPIClient_Login(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST /api/users/login", r.Method+" "+r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"email": "alice@example.com", "password": "pw"}, body)
		io.WriteString(w, `{"token":"t1","user":{"id":"u1","name":"alice","email":"alice@example.com"}}`)
	})
	res, err := c.Login(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Token)
	assert.Equal(t, &User{ID: "u1", Username: "alice", Email: "alice@example.com"}, res.User)
}

func TestAPIClient_AuthMissingToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"user":{"_id":"u1"}}`)
	})
	_, err := c.Register(context.Background(), "alice", "alice@example.com", "pw")
	assert.Error(t, err)
}

func TestAPIClient_BookIDStaysOneSegment(t *testing.T) {
	var got []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, c.BorrowBook(ctx, "../users/42"))
	require.NoError(t, c.DeleteBook(ctx, "a/b"))
	require.NoError(t, c.ReturnBook(ctx, "id with space"))
	assert.Equal(t, []string{
		"POST /api/books/..%2Fusers%2F42/borrow",
		"DELETE /api/books/a%2Fb",
		"POST /api/books/id%20with%20space/return",
	}, got)
}

func TestAPIClient_RejectsRelativeBookIDs(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	ctx := context.Background()

	for _, id := range []string{"", ".", ".."} {
		assert.ErrorIs(t, c.BorrowBook(ctx, id), ErrValidation, id)
		_, err := c.GetBook(ctx, id)
		assert.ErrorIs(t, err, ErrValidation, id)
	}
	assert.False(t, called)
}
