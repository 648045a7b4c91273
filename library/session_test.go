package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	calls int
	err   error
}

func (a *fakeAuth) Login(_ context.Context, email, password string) (*AuthResult, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &AuthResult{Token: "tok-" + email, User: &User{ID: "u1", Username: "alice", Email: email}}, nil
}

func (a *fakeAuth) Register(_ context.Context, username, email, password string) (*AuthResult, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &AuthResult{Token: "tok-new", User: &User{ID: "u9", Username: username, Email: email}}, nil
}

func newTestSession(t *testing.T, path string, auth Authenticator) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(path, auth, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionStore_StartsLoggedOut(t *testing.T) {
	s := newTestSession(t, filepath.Join(t.TempDir(), "nested", "session.db"), &fakeAuth{})
	_, ok := s.CurrentUser()
	assert.False(t, ok)
	assert.Empty(t, s.Token())
	assert.ErrorIs(t, s.Confirm("anything"), ErrUnauthenticated)
}

func TestSessionStore_LoginPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	auth := &fakeAuth{}
	s := newTestSession(t, path, auth)

	u, err := s.Login(context.Background(), LoginForm{Email: " alice@example.com ", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "tok-alice@example.com", s.Token())
	require.NoError(t, s.Close())

	reopened := newTestSession(t, path, auth)
	got, ok := reopened.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, &User{ID: "u1", Username: "alice", Email: "alice@example.com"}, got)
	assert.Equal(t, "tok-alice@example.com", reopened.Token())
	assert.NoError(t, reopened.Confirm("secret"))
	assert.ErrorIs(t, reopened.Confirm("wrong"), ErrAction)
}

func TestSessionStore_CurrentUserIsACopy(t *testing.T) {
	s := newTestSession(t, filepath.Join(t.TempDir(), "session.db"), &fakeAuth{})
	_, err := s.Login(context.Background(), LoginForm{Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)

	u, _ := s.CurrentUser()
	u.ID = "mutated"
	again, _ := s.CurrentUser()
	assert.Equal(t, "u1", again.ID)
}

func TestSessionStore_Register(t *testing.T) {
	s := newTestSession(t, filepath.Join(t.TempDir(), "session.db"), &fakeAuth{})
	u, err := s.Register(context.Background(), RegisterForm{Username: "bob", Email: "bob@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	cur, ok := s.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "u9", cur.ID)
}

func TestSessionStore_InvalidFormSkipsAPI(t *testing.T) {
	auth := &fakeAuth{}
	s := newTestSession(t, filepath.Join(t.TempDir(), "session.db"), auth)

	_, err := s.Register(context.Background(), RegisterForm{Email: "bob@example.com", Password: "pw"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Please fill in all the fields.", Message(err))

	_, err = s.Login(context.Background(), LoginForm{Email: "not-an-email", Password: "pw"})
	require.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, auth.calls)
}

func TestSessionStore_AuthFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"server message", &APIError{Status: 400, Message: "User already exists"}, "User already exists"},
		{"no message", errors.New("connection reset"), "Registration failed. Try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, filepath.Join(t.TempDir(), "session.db"), &fakeAuth{err: tt.err})
			_, err := s.Register(context.Background(), RegisterForm{Username: "bob", Email: "bob@example.com", Password: "pw"})
			assert.ErrorIs(t, err, ErrAction)
			assert.Equal(t, tt.want, Message(err))
			_, ok := s.CurrentUser()
			assert.False(t, ok)
		})
	}
}

func TestSessionStore_Logout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	s := newTestSession(t, path, &fakeAuth{})
	_, err := s.Login(context.Background(), LoginForm{Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)

	require.NoError(t, s.Logout())
	require.NoError(t, s.Logout(), "logging out twice is fine")
	_, ok := s.CurrentUser()
	assert.False(t, ok)
	require.NoError(t, s.Close())

	reopened := newTestSession(t, path, &fakeAuth{})
	_, ok = reopened.CurrentUser()
	assert.False(t, ok)
}
