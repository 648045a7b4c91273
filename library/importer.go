package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// ManifestEntry is one book of an import manifest.
type ManifestEntry struct {
	Title           string `yaml:"title"`
	Author          string `yaml:"author"`
	Genre           string `yaml:"genre"`
	PublicationDate string `yaml:"publicationDate"`
	AvailableCopies int    `yaml:"availableCopies"`
	Image           string `yaml:"image"`
}

// Manifest is the YAML document read by the bulk importer:
//
//	books:
//	  - title: "1984"
//	    author: George Orwell
//	    genre: Dystopia
//	    publicationDate: 1949-06-08
//	    availableCopies: 3
//	    image: covers/1984.jpg
type Manifest struct {
	Books []ManifestEntry `yaml:"books"`
}

// LoadManifest parses path. Relative image paths are resolved against the
// manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range m.Books {
		if img := m.Books[i].Image; img != "" && !filepath.IsAbs(img) {
			m.Books[i].Image = filepath.Join(dir, img)
		}
	}
	return &m, nil
}

// Forms converts the entries to book forms. Missing copies default to 1.
func (m *Manifest) Forms() []BookForm {
	forms := make([]BookForm, 0, len(m.Books))
	for _, e := range m.Books {
		copies := e.AvailableCopies
		if copies == 0 {
			copies = 1
		}
		forms = append(forms, BookForm{
			Title:           e.Title,
			Author:          e.Author,
			Genre:           e.Genre,
			PublicationDate: e.PublicationDate,
			AvailableCopies: copies,
			ImagePath:       e.Image,
		})
	}
	return forms
}

// BookCreator is the slice of the API the importer needs.
type BookCreator interface {
	CreateBook(ctx context.Context, up BookUpload) (*Book, error)
}

// ImportResult reports the outcome for the form at Index.
type ImportResult struct {
	Index int
	Title string
	Book  *Book
	Err   error
}

// Importer uploads many books with bounded concurrency under a request
// rate limit.
type Importer struct {
	api         BookCreator
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// NewImporter allows at most concurrency uploads in flight and perSecond
// uploads started per second.
func NewImporter(api BookCreator, concurrency int, perSecond float64, logger *slog.Logger) *Importer {
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Importer{
		api:         api,
		limiter:     rate.NewLimiter(limit, concurrency),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run validates and uploads every form. One result is returned per form,
// in input order; a failed book never stops the others. The returned
// error is only set when ctx ends before all books were tried.
func (im *Importer) Run(ctx context.Context, forms []BookForm) ([]ImportResult, error) {
	results := make([]ImportResult, len(forms))
	var g errgroup.Group
	g.SetLimit(im.concurrency)

	for i := range forms {
		form := forms[i]
		results[i] = ImportResult{Index: i, Title: form.Title}
		g.Go(func() error {
			results[i].Book, results[i].Err = im.importOne(ctx, &form)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (im *Importer) importOne(ctx context.Context, form *BookForm) (*Book, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	if err := im.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	up, done, err := form.Upload()
	if err != nil {
		return nil, err
	}
	defer done()

	start := time.Now()
	b, err := im.api.CreateBook(ctx, up)
	if err != nil {
		im.logger.Warn("import failed", "title", form.Title, "error", err)
		return nil, actionError(serverMessage(err, "Failed to add book"), err)
	}
	im.logger.Info("book imported", "title", form.Title, "book_id", b.ID, "duration", time.Since(start))
	return b, nil
}
