package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New()
	// Report the form field name users see, not the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("form"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// BookForm backs both the add and the edit book flows.
type BookForm struct {
	Title           string `form:"title" validate:"required"`
	Author          string `form:"author" validate:"required"`
	Genre           string `form:"genre" validate:"required"`
	PublicationDate string `form:"publicationDate" validate:"required,datetime=2006-01-02"`
	AvailableCopies int    `form:"availableCopies" validate:"gte=1"`
	ImagePath       string `form:"image" validate:"omitempty,file"`
}

// FromBook pre-fills an edit form with b's current values.
func FromBook(b *Book) BookForm {
	return BookForm{
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		PublicationDate: b.PublicationDate.InputValue(),
		AvailableCopies: b.AvailableCopies,
	}
}

// Validate trims the text fields and checks required values.
func (f *BookForm) Validate() error {
	f.Title = strings.TrimSpace(f.Title)
	f.Author = strings.TrimSpace(f.Author)
	f.Genre = strings.TrimSpace(f.Genre)
	f.PublicationDate = strings.TrimSpace(f.PublicationDate)
	// Edit forms may carry a full timestamp; the date input only keeps the day.
	if i := strings.IndexByte(f.PublicationDate, 'T'); i > 0 {
		f.PublicationDate = f.PublicationDate[:i]
	}
	f.ImagePath = strings.TrimSpace(f.ImagePath)
	return validateForm(f, "Please fill in all the required book fields.")
}

// Upload opens the optional image and builds the multipart payload. The
// returned close func must be called once the request is sent.
func (f *BookForm) Upload() (BookUpload, func() error, error) {
	up := BookUpload{
		Title:           f.Title,
		Author:          f.Author,
		Genre:           f.Genre,
		PublicationDate: f.PublicationDate,
		AvailableCopies: f.AvailableCopies,
	}
	if f.ImagePath == "" {
		return up, func() error { return nil }, nil
	}
	file, err := os.Open(filepath.Clean(f.ImagePath))
	if err != nil {
		return BookUpload{}, nil, validationError("cannot open image file", map[string]string{"image": err.Error()})
	}
	up.Image = file
	up.ImageName = filepath.Base(f.ImagePath)
	return up, file.Close, nil
}

// RegisterForm is the sign-up form.
type RegisterForm struct {
	Username string `form:"username" validate:"required"`
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

// Validate rejects the form before any remote call is made.
func (f *RegisterForm) Validate() error {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)
	return validateForm(f, "Please fill in all the fields.")
}

// LoginForm is the sign-in form.
type LoginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

// Validate rejects the form before any remote call is made.
func (f *LoginForm) Validate() error {
	f.Email = strings.TrimSpace(f.Email)
	return validateForm(f, "Please enter your email and password.")
}

func validateForm(form any, msg string) error {
	err := formValidator.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = friendlyMessage(fe)
	}
	return validationError(msg, details)
}

func friendlyMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "datetime":
		return "must be a date like 2006-01-02"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "file":
		return "must be an existing file"
	default:
		return "is invalid"
	}
}
