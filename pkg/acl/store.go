package acl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// CredentialStore is the durable lookup/insert contract consumed by the
// compiler, the authenticator and the token issuer. Implementations must
// treat username and role name as unique keys; a second insert of the same
// username returns ErrDuplicateCredential rather than overwriting.
type CredentialStore interface {
	// FindUser returns the user record or ErrNotFound
	FindUser(ctx context.Context, username string) (*User, error)

	// FindRole returns the role record or ErrNotFound
	FindRole(ctx context.Context, name string) (*Role, error)

	// InsertUser creates a user, returning ErrDuplicateCredential on a
	// username collision
	InsertUser(ctx context.Context, user *User) error

	// UpsertRole creates or replaces a role's rule set
	UpsertRole(ctx context.Context, name string, rules []Rule) error
}

// Store is the PostgreSQL-backed credential store
type Store struct {
	db *sql.DB
}

// NewStore creates a credential store on top of an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindUser retrieves a user by username
func (s *Store) FindUser(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT username, password_hash, roles, resources, ttl_seconds, created_at
		FROM users
		WHERE username = $1
	`

	var user User
	var rolesJSON, resourcesJSON string

	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.Username,
		&user.PasswordHash,
		&rolesJSON,
		&resourcesJSON,
		&user.TTLSeconds,
		&user.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := json.Unmarshal([]byte(rolesJSON), &user.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	if err := json.Unmarshal([]byte(resourcesJSON), &user.Resources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resources: %w", err)
	}

	return &user, nil
}

// FindRole retrieves a role by name
func (s *Store) FindRole(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT name, rules, updated_at
		FROM roles
		WHERE name = $1
	`

	var role Role
	var rulesJSON string

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&role.Name,
		&rulesJSON,
		&role.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := json.Unmarshal([]byte(rulesJSON), &role.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	return &role, nil
}

// InsertUser creates a user record. The unique index on username is the
// single linearizability point for concurrent registration.
func (s *Store) InsertUser(ctx context.Context, user *User) error {
	rolesJSON, err := json.Marshal(userRoles(user))
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}
	resourcesJSON, err := json.Marshal(userResources(user))
	if err != nil {
		return fmt.Errorf("failed to marshal resources: %w", err)
	}

	query := `
		INSERT INTO users (username, password_hash, roles, resources, ttl_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now()
	_, err = s.db.ExecContext(ctx, query,
		user.Username,
		user.PasswordHash,
		string(rolesJSON),
		string(resourcesJSON),
		user.TTLSeconds,
		now,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", user.Username, ErrDuplicateCredential)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	return nil
}

// UpsertRole creates or replaces a role's rule set
func (s *Store) UpsertRole(ctx context.Context, name string, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	query := `
		INSERT INTO roles (name, rules, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET rules = $2, updated_at = $3
	`

	_, err = s.db.ExecContext(ctx, query, name, string(rulesJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}

	return nil
}

// Reset deletes all users and roles. Development and test environments only.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles`); err != nil {
		return fmt.Errorf("failed to clear roles: %w", err)
	}
	return nil
}

// userRoles normalizes a nil role list to an empty one for storage
func userRoles(user *User) []string {
	if user.Roles == nil {
		return []string{}
	}
	return user.Roles
}

// userResources normalizes a nil binding list to an empty one for storage
func userResources(user *User) []ResourceBinding {
	if user.Resources == nil {
		return []ResourceBinding{}
	}
	return user.Resources
}

// isUniqueViolation detects a unique-key collision. Postgres reports SQLSTATE
// 23505; the sqlite driver used by the test suite reports a plain
// "UNIQUE constraint failed" error string.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
