package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"auth-service/internal/user/domain"
)

func newUser(id, email, username string) *domain.User {
	return &domain.User{ID: id, Email: email, Username: username, PasswordHash: "hash", IsActive: true}
}

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	if _, err := repo.Save(ctx, newUser("u1", " A@B.com", "ab")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.FindByEmail(ctx, "a@b.COM")
	if err != nil || got == nil {
		t.Fatalf("FindByEmail = %v, %v", got, err)
	}
	if got.ID != "u1" || got.PasswordHash != "hash" {
		t.Errorf("FindByEmail user = %+v", got)
	}
	if got, _ := repo.FindByID(ctx, "missing"); got != nil {
		t.Errorf("FindByID(missing) = %+v, want nil", got)
	}
	if got, _ := repo.FindByUsername(ctx, "ab"); got == nil || got.ID != "u1" {
		t.Errorf("FindByUsername = %+v", got)
	}
}

func TestMemoryRepository_Uniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_, _ = repo.Save(ctx, newUser("u1", "a@b.com", "ab"))

	if _, err := repo.Save(ctx, newUser("u2", "a@b.com", "other")); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate email: err = %v", err)
	}
	if _, err := repo.Save(ctx, newUser("u2", "c@d.com", "ab")); !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("duplicate username: err = %v", err)
	}
	// Updating the same user keeps its own email.
	u := newUser("u1", "a@b.com", "ab")
	u.FirstName = "Ada"
	if _, err := repo.Save(ctx, u); err != nil {
		t.Errorf("update: %v", err)
	}
}

func TestMemoryRepository_Count(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_, _ = repo.Save(ctx, newUser("u1", "a@b.com", "ab"))
	inactive := newUser("u2", "c@d.com", "cd")
	inactive.IsActive = false
	_, _ = repo.Save(ctx, inactive)

	active := true
	tests := []struct {
		f    domain.Filter
		want int
	}{
		{domain.Filter{}, 2},
		{domain.Filter{Email: "A@B.com"}, 1},
		{domain.Filter{Active: &active}, 1},
		{domain.Filter{Username: "zz"}, 0},
	}
	for _, tc := range tests {
		if got, _ := repo.Count(ctx, tc.f); got != tc.want {
			t.Errorf("Count(%+v) = %d, want %d", tc.f, got, tc.want)
		}
	}
}

func TestCountQuery(t *testing.T) {
	active := false
	q, args := countQuery(domain.Filter{Email: "A@b.com", Active: &active})
	if q != "SELECT count(*) FROM users WHERE email = $1 AND is_active = $2" {
		t.Errorf("query = %q", q)
	}
	if !reflect.DeepEqual(args, []any{"a@b.com", false}) {
		t.Errorf("args = %v", args)
	}
	if q, args := countQuery(domain.Filter{}); q != "SELECT count(*) FROM users" || len(args) != 0 {
		t.Errorf("empty filter: %q %v", q, args)
	}
}
