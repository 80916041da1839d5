// Package provision bootstraps a deployment with the stock broker roles and
// the per-turbine fleet users derived from a farm layout.
package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/galehq/gale/pkg/acl"
	"github.com/galehq/gale/pkg/auth"
	"github.com/galehq/gale/pkg/observability"
)

// Stock role names seeded into every deployment
const (
	RoleWindTurbine = "wind_turbine"
	RoleFrontNode   = "front_node"
	RoleStatNode    = "stat_node"
)

// Usernames for the singleton aggregation and statistics services
const (
	FrontNodeUsername = "front_node_usr"
	StatNodeUsername  = "stat_node_usr"
)

const defaultConcurrency = 8

// Result reports which usernames were created and which already existed
type Result struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// Seeder provisions stock roles and fleet users into a credential store
type Seeder struct {
	store       acl.CredentialStore
	vault       *auth.Vault
	logger      *observability.Logger
	password    string
	concurrency int
}

// NewSeeder creates a seeder. All fleet users are created with the given
// password; concurrency bounds how many user inserts run in parallel.
func NewSeeder(store acl.CredentialStore, vault *auth.Vault, password string, logger *observability.Logger) *Seeder {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Seeder{
		store:       store,
		vault:       vault,
		logger:      logger,
		password:    password,
		concurrency: defaultConcurrency,
	}
}

func intPtr(v int64) *int64 { return &v }

// StockRoles returns the built-in role definitions keyed by name
func StockRoles() map[string][]acl.Rule {
	orderOf := func(v int) *int { return &v }

	return map[string][]acl.Rule{
		RoleWindTurbine: {
			{Permission: acl.PermissionAllow, Action: acl.ActionPublish, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/clean_telemetry", SortOrder: orderOf(10)},
			{Permission: acl.PermissionAllow, Action: acl.ActionSubscribe, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/commands", SortOrder: orderOf(20)},
			{Permission: acl.PermissionDeny, Action: acl.ActionAll, TopicTemplate: "#", SortOrder: orderOf(1000)},
		},
		RoleFrontNode: {
			{Permission: acl.PermissionAllow, Action: acl.ActionSubscribe, TopicTemplate: "/farm/+/turbine/+/clean_telemetry", SortOrder: orderOf(10)},
			{Permission: acl.PermissionAllow, Action: acl.ActionPublish, TopicTemplate: "/farm/+/aggregated/telemetry", SortOrder: orderOf(20)},
			{Permission: acl.PermissionDeny, Action: acl.ActionAll, TopicTemplate: "#", SortOrder: orderOf(1000)},
		},
		RoleStatNode: {
			{Permission: acl.PermissionAllow, Action: acl.ActionSubscribe, TopicTemplate: "/farm/+/aggregated/#", SortOrder: orderOf(10)},
			{Permission: acl.PermissionAllow, Action: acl.ActionPublish, TopicTemplate: "/farm/+/stats/{metric}", SortOrder: orderOf(20)},
			{Permission: acl.PermissionDeny, Action: acl.ActionAll, TopicTemplate: "#", SortOrder: orderOf(1000)},
		},
	}
}

// TurbineUsername derives the fleet username for a turbine
func TurbineUsername(farmID, turbineID int64) string {
	return fmt.Sprintf("WF-%d-T-%d", farmID, turbineID)
}

// SeedRoles upserts the stock roles. Existing roles are overwritten so that
// rule changes reach deployments on the next seed run.
func (s *Seeder) SeedRoles(ctx context.Context) error {
	roles := StockRoles()

	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.store.UpsertRole(ctx, name, roles[name]); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}
		s.logger.WithField("role", name).Info("role seeded")
	}
	return nil
}

// SeedUsers creates one user per turbine in the layout plus the front node
// and stat node service users. Usernames that already exist are reported as
// skipped, not failures.
func (s *Seeder) SeedUsers(ctx context.Context, farms []Farm) (*Result, error) {
	hash, err := s.vault.Hash(s.password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash seed password: %w", err)
	}

	result := &Result{}
	var mu sync.Mutex

	record := func(username string, insertErr error) error {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case insertErr == nil:
			result.Created = append(result.Created, username)
		case errors.Is(insertErr, acl.ErrDuplicateCredential):
			result.Skipped = append(result.Skipped, username)
		default:
			return fmt.Errorf("failed to seed user %s: %w", username, insertErr)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, farm := range farms {
		for _, turbineID := range farm.Turbines {
			farmID, turbineID := farm.FarmID, turbineID
			g.Go(func() error {
				username := TurbineUsername(farmID, turbineID)
				user := &acl.User{
					Username:     username,
					PasswordHash: hash,
					Roles:        []string{RoleWindTurbine},
					Resources: []acl.ResourceBinding{{
						Kind:      "turbine",
						FarmID:    intPtr(farmID),
						TurbineID: intPtr(turbineID),
					}},
				}
				return record(username, s.store.InsertUser(gctx, user))
			})
		}
	}

	for _, svc := range []struct {
		username string
		role     string
	}{
		{FrontNodeUsername, RoleFrontNode},
		{StatNodeUsername, RoleStatNode},
	} {
		svc := svc
		g.Go(func() error {
			user := &acl.User{
				Username:     svc.username,
				PasswordHash: hash,
				Roles:        []string{svc.role},
				Resources:    []acl.ResourceBinding{},
			}
			return record(svc.username, s.store.InsertUser(gctx, user))
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(result.Created)
	sort.Strings(result.Skipped)

	s.logger.WithFields(map[string]interface{}{
		"created": len(result.Created),
		"skipped": len(result.Skipped),
	}).Info("user seeding completed")

	return result, nil
}
