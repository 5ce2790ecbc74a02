package identity

import (
	"context"
	"sync"
	"time"

	"github.com/tradepost/tradepost/internal/rbac"
)

type memoryRepository struct {
	mu         sync.RWMutex
	users      map[string]User
	byUsername map[string]string
}

// NewMemoryRepository builds an in-memory user store for dev mode and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User), byUsername: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byUsername[user.Username]; exists {
		return ErrUserExists
	}
	r.users[user.ID] = user
	r.byUsername[user.Username] = user.ID
	return nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	return r.update(id, func(u *User) { u.TokenVersion = version })
}

func (r *memoryRepository) UpdateRole(_ context.Context, id string, role rbac.Role) error {
	return r.update(id, func(u *User) { u.Role = role })
}

func (r *memoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *User) {
		ts := at.UTC()
		u.LastLogin = &ts
	})
}

func (r *memoryRepository) UpdateVerification(_ context.Context, id, status, ref, notes string) error {
	return r.update(id, func(u *User) {
		u.Verification = status
		u.VerificationRef = ref
		u.VerificationNotes = notes
	})
}

func (r *memoryRepository) update(id string, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(&user)
	r.users[id] = user
	return nil
}
