package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// Session answers "who is logged in". View-models receive it at
// construction and query it on every action.
type Session interface {
	CurrentUser() (*User, bool)
}

// Authenticator is the remote side of login and register.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Register(ctx context.Context, username, email, password string) (*AuthResult, error)
}

// SessionStore keeps the current user and token in a small SQLite file so
// separate CLI invocations share one login.
type SessionStore struct {
	db     *sql.DB
	auth   Authenticator
	logger *slog.Logger

	saveStmt *sql.Stmt

	mu    sync.RWMutex
	user  *User
	token string
	hash  []byte
}

// NewSessionStore opens (or creates) the session database at dbPath and
// loads any saved login.
func NewSessionStore(dbPath string, auth Authenticator, logger *slog.Logger) (*SessionStore, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applySessionMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SessionStore{db: db, auth: auth, logger: logger}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.saveStmt, err = db.Prepare(`INSERT INTO session(id,token,user_id,username,email,password_hash,logged_in_at)
        VALUES(1,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET token=excluded.token, user_id=excluded.user_id,
            username=excluded.username, email=excluded.email,
            password_hash=excluded.password_hash, logged_in_at=excluded.logged_in_at;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare session save: %w", err)
	}
	if err := s.restore(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the prepared statement and closes the DB.
func (s *SessionStore) Close() error {
	if s.saveStmt != nil {
		s.saveStmt.Close()
	}
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const sessionSchemaVersion = 1

func applySessionMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= sessionSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            token TEXT NOT NULL,
            user_id TEXT NOT NULL,
            username TEXT NOT NULL,
            email TEXT NOT NULL,
            password_hash BLOB,
            logged_in_at DATETIME NOT NULL
        );`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, sessionSchemaVersion); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SessionStore) restore() error {
	var (
		u    User
		tok  string
		hash []byte
	)
	err := s.db.QueryRow(`SELECT token,user_id,username,email,password_hash FROM session WHERE id=1`).
		Scan(&tok, &u.ID, &u.Username, &u.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.mu.Lock()
	s.user, s.token, s.hash = &u, tok, hash
	s.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Session operations
// ---------------------------------------------------------------------------

// CurrentUser returns the logged-in user, or false when nobody is.
func (s *SessionStore) CurrentUser() (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, false
	}
	u := *s.user
	return &u, true
}

// Token returns the bearer token, empty when logged out.
func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Login authenticates against the API and saves the result.
func (s *SessionStore) Login(ctx context.Context, form LoginForm) (*User, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	res, err := s.auth.Login(ctx, form.Email, form.Password)
	if err != nil {
		return nil, actionError(serverMessage(err, "Login failed. Check your email and password."), err)
	}
	if err := s.save(res, form.Password); err != nil {
		return nil, err
	}
	s.logger.Info("logged in", "user_id", res.User.ID)
	return res.User, nil
}

// Register creates the account and logs in as it.
func (s *SessionStore) Register(ctx context.Context, form RegisterForm) (*User, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	res, err := s.auth.Register(ctx, form.Username, form.Email, form.Password)
	if err != nil {
		return nil, actionError(serverMessage(err, "Registration failed. Try again."), err)
	}
	if err := s.save(res, form.Password); err != nil {
		return nil, err
	}
	s.logger.Info("registered", "user_id", res.User.ID)
	return res.User, nil
}

// Logout forgets the saved login. Logging out twice is fine.
func (s *SessionStore) Logout() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE id=1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.mu.Lock()
	s.user, s.token, s.hash = nil, "", nil
	s.mu.Unlock()
	return nil
}

// Confirm checks password against the one used at login. Destructive
// commands ask for it before calling the API.
func (s *SessionStore) Confirm(password string) error {
	s.mu.RLock()
	hash := s.hash
	loggedIn := s.user != nil
	s.mu.RUnlock()
	if !loggedIn {
		return ErrUnauthenticated
	}
	if len(hash) == 0 {
		return actionErrorf("no saved password for this session; log in again")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return actionError("password does not match", err)
	}
	return nil
}

func (s *SessionStore) save(res *AuthResult, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u := res.User
	if _, err := s.saveStmt.Exec(res.Token, u.ID, u.Username, u.Email, hash, time.Now().UTC()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.mu.Lock()
	s.user, s.token, s.hash = &User{ID: u.ID, Username: u.Username, Email: u.Email}, res.Token, hash
	s.mu.Unlock()
	return nil
}
