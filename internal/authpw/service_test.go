package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"taskboard/api/internal/store"
)

// mockUserStore is an in-memory UserStore for testing
type mockUserStore struct {
	users map[string]store.User // keyed by email
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) CreateUser(ctx context.Context, name, email, passwordHash string) (store.User, error) {
	u := store.User{ID: "user-" + name, Name: name, Email: email, PasswordHash: passwordHash}
	m.users[email] = u
	return u, nil
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	user, err := svc.SignUp(ctx, "Pat", "pat@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.PasswordHash == "correct horse battery" {
		t.Fatal("password stored in plain text")
	}

	got, err := svc.SignIn(ctx, "pat@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, got.ID)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	cases := []struct {
		name, email, password string
	}{
		{"", "a@example.com", "long enough pw"},
		{"Pat", "", "long enough pw"},
		{"Pat", "a@example.com", ""},
		{"Pat", "a@example.com", "short"},
	}
	for _, c := range cases {
		if _, err := svc.SignUp(ctx, c.name, c.email, c.password); err == nil {
			t.Errorf("SignUp(%q, %q, %q) should fail", c.name, c.email, c.password)
		}
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "Pat", "pat@example.com", "long enough pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SignUp(ctx, "Other", "pat@example.com", "long enough pw"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "Pat", "pat@example.com", "correct horse battery"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SignIn(ctx, "pat@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}
