package acl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory credential store. It carries the same
// uniqueness guarantees as the SQL store and backs tests and single-node
// development deployments that run without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
	roles map[string]*Role
}

// NewMemoryStore creates an empty in-memory credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
		roles: make(map[string]*Role),
	}
}

// FindUser retrieves a user by username
func (s *MemoryStore) FindUser(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return copyUser(user), nil
}

// FindRole retrieves a role by name
func (s *MemoryStore) FindRole(ctx context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[name]
	if !ok {
		return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	return copyRole(role), nil
}

// InsertUser creates a user, rejecting duplicate usernames
func (s *MemoryStore) InsertUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("user %q: %w", user.Username, ErrDuplicateCredential)
	}

	user.CreatedAt = time.Now()
	s.users[user.Username] = copyUser(user)
	return nil
}

// UpsertRole creates or replaces a role's rule set
func (s *MemoryStore) UpsertRole(ctx context.Context, name string, rules []Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role := &Role{Name: name, Rules: rules, UpdatedAt: time.Now()}
	s.roles[name] = copyRole(role)
	return nil
}

// Reset deletes all users and roles
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*User)
	s.roles = make(map[string]*Role)
	return nil
}

func copyUser(user *User) *User {
	dup := *user
	dup.Roles = append([]string(nil), user.Roles...)
	dup.Resources = append([]ResourceBinding(nil), user.Resources...)
	return &dup
}

func copyRole(role *Role) *Role {
	dup := *role
	dup.Rules = append([]Rule(nil), role.Rules...)
	return &dup
}
