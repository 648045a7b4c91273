package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source selects which list endpoint a catalog reads from.
type Source int

const (
	SourceAll Source = iota
	SourceCreated
	SourceBorrowed
)

func (s Source) path() string {
	switch s {
	case SourceCreated:
		return "/books/mycreatedbooks"
	case SourceBorrowed:
		return "/books/myborrowedbooks"
	default:
		return "/books"
	}
}

func (s Source) String() string {
	switch s {
	case SourceCreated:
		return "created"
	case SourceBorrowed:
		return "borrowed"
	default:
		return "all"
	}
}

// BookAPI is the part of the remote API the view-models depend on.
type BookAPI interface {
	ListBooks(ctx context.Context, src Source) ([]*Book, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	BorrowBook(ctx context.Context, id string) error
	ReturnBook(ctx context.Context, id string) error
	DeleteBook(ctx context.Context, id string) error
}

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// BookUpload is the multipart body of a create or update call.
type BookUpload struct {
	Title           string
	Author          string
	Genre           string
	PublicationDate string
	AvailableCopies int
	Image           io.Reader
	ImageName       string
}

// AuthResult is what login and register return.
type AuthResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// APIClient talks to the library REST API.
type APIClient struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

// NewAPIClient builds a client for baseURL. tokens may be nil for
// anonymous use and set later with SetTokenSource.
func NewAPIClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*APIClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q must be http or https", baseURL)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &APIClient{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// SetTokenSource attaches the session that signs requests.
func (c *APIClient) SetTokenSource(ts TokenSource) { c.tokens = ts }

// ListBooks fetches the list behind src.
func (c *APIClient) ListBooks(ctx context.Context, src Source) ([]*Book, error) {
	var books []*Book
	if err := c.do(ctx, http.MethodGet, src.path(), nil, "", &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []*Book{}
	}
	return books, nil
}

// GetBook fetches one book.
func (c *APIClient) GetBook(ctx context.Context, id string) (*Book, error) {
	p, err := bookPath(id)
	if err != nil {
		return nil, err
	}
	var b Book
	if err := c.do(ctx, http.MethodGet, p, nil, "", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook posts a new book as multipart form data.
func (c *APIClient) CreateBook(ctx context.Context, up BookUpload) (*Book, error) {
	body, contentType, err := encodeUpload(up)
	if err != nil {
		return nil, err
	}
	var b Book
	if err := c.do(ctx, http.MethodPost, "/books", body, contentType, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBook replaces a book's fields; the image is only sent when set.
func (c *APIClient) UpdateBook(ctx context.Context, id string, up BookUpload) (*Book, error) {
	p, err := bookPath(id)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeUpload(up)
	if err != nil {
		return nil, err
	}
	var b Book
	if err := c.do(ctx, http.MethodPut, p, body, contentType, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBook removes a book the current user created.
func (c *APIClient) DeleteBook(ctx context.Context, id string) error {
	p, err := bookPath(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, p, nil, "", nil)
}

// BorrowBook asks the server to lend one copy to the current user.
func (c *APIClient) BorrowBook(ctx context.Context, id string) error {
	p, err := bookPath(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, p+"/borrow", nil, "", nil)
}

// ReturnBook gives the current user's copy back.
func (c *APIClient) ReturnBook(ctx context.Context, id string) error {
	p, err := bookPath(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, p+"/return", nil, "", nil)
}

// Login exchanges credentials for a token.
func (c *APIClient) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.auth(ctx, "/users/login", map[string]string{"email": email, "password": password})
}

// Register creates an account and returns its token.
func (c *APIClient) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	return c.auth(ctx, "/users/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
}

func (c *APIClient) auth(ctx context.Context, p string, payload map[string]string) (*AuthResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, p, bytes.NewReader(raw), "application/json", &res); err != nil {
		return nil, err
	}
	if res.Token == "" || res.User == nil {
		return nil, fmt.Errorf("auth response missing token or user")
	}
	return &res, nil
}

// do sends one request. p is an already escaped path relative to the base
// URL; it is appended as is, never cleaned.
func (c *APIClient) do(ctx context.Context, method, p string, body io.Reader, contentType string, out any) error {
	u := *c.baseURL
	raw := strings.TrimRight(c.baseURL.EscapedPath(), "/") + p
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return fmt.Errorf("build path %q: %w", raw, err)
	}
	u.Path, u.RawPath = unescaped, raw

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("api request failed", "method", method, "path", p, "request_id", reqID, "error", err)
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		"method", method,
		"path", p,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, p, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Message = firstNonEmpty(body.Message, body.Error)
	}
	return apiErr
}

func encodeUpload(up BookUpload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := []struct{ k, v string }{
		{"title", up.Title},
		{"author", up.Author},
		{"genre", up.Genre},
		{"publicationDate", up.PublicationDate},
		{"availableCopies", strconv.Itoa(up.AvailableCopies)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.k, f.v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.k, err)
		}
	}
	if up.Image != nil {
		name := up.ImageName
		if name == "" {
			name = "cover"
		}
		part, err := w.CreateFormFile("image", name)
		if err != nil {
			return nil, "", fmt.Errorf("create image part: %w", err)
		}
		if _, err := io.Copy(part, up.Image); err != nil {
			return nil, "", fmt.Errorf("copy image: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// bookPath escapes id into a single path segment. Ids that would still be
// read as a relative segment are rejected.
func bookPath(id string) (string, error) {
	switch id {
	case "", ".", "..":
		return "", validationError(fmt.Sprintf("invalid book id %q", id), map[string]string{"id": "is invalid"})
	}
	return "/books/" + url.PathEscape(id), nil
}
