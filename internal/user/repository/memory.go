package repository

import (
	"context"
	"sync"
	"time"

	"auth-service/internal/user/domain"
)

// MemoryRepository is an in-process Repository used by tests and local tooling.
// It enforces the same uniqueness rules as the Postgres schema.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]domain.User), now: time.Now}
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryRepository) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	return m.find(func(u *domain.User) bool { return u.Email == email }), nil
}

func (m *MemoryRepository) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Username == username }), nil
}

func (m *MemoryRepository) find(match func(*domain.User) bool) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(&u) {
			return &u
		}
	}
	return nil
}

func (m *MemoryRepository) Save(_ context.Context, u *domain.User) (*domain.User, error) {
	if u.ID == "" {
		return nil, errMissingID
	}
	u.Email = domain.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.users {
		if id == u.ID {
			continue
		}
		if other.Email == u.Email {
			return nil, ErrDuplicateEmail
		}
		if other.Username == u.Username {
			return nil, ErrDuplicateUsername
		}
	}
	saved := *u
	now := m.now().UTC()
	if prev, ok := m.users[u.ID]; ok {
		saved.CreatedAt = prev.CreatedAt
	} else {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	m.users[u.ID] = saved
	return &saved, nil
}

func (m *MemoryRepository) Count(_ context.Context, f domain.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if f.Email != "" && u.Email != domain.NormalizeEmail(f.Email) {
			continue
		}
		if f.Username != "" && u.Username != f.Username {
			continue
		}
		if f.Active != nil && u.IsActive != *f.Active {
			continue
		}
		n++
	}
	return n, nil
}

// Delete removes a user. Not part of Repository.
func (m *MemoryRepository) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}
