package acl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/galehq/gale/pkg/observability"
)

// Compiler expands a user's role rules against their resource bindings into
// the final ordered, deduplicated grant list handed to the broker. All state
// lives in the credential store; compilation is a pure read-then-compute
// pass and is recomputed on every issuance.
type Compiler struct {
	store   CredentialStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCompiler creates a compiler backed by the given credential store.
// Logger and metrics may be nil.
func NewCompiler(store CredentialStore, logger *observability.Logger, metrics *observability.Metrics) *Compiler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Compiler{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// entryKey is the dedup key for a compiled entry
type entryKey struct {
	permission Permission
	action     Action
	topic      string
}

// Compile produces the ACL list for one user. The output order is the
// broker's evaluation order: roles in the order listed on the user record,
// each role's rules ascending by sort order (stable on ties), bindings in
// the order listed on the user record. The list always ends up containing
// exactly one deny-all entry and no repeated (permission, action, topic)
// triple; the first occurrence of a triple keeps its position.
func (c *Compiler) Compile(ctx context.Context, username string) ([]Entry, error) {
	user, err := c.store.FindUser(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && c.metrics != nil {
			c.metrics.CompilationErrorsTotal.WithLabelValues("store").Inc()
		}
		return nil, fmt.Errorf("compile acl for %q: %w", username, err)
	}

	var entries []Entry

	for _, roleName := range user.Roles {
		rules, err := c.roleRules(ctx, roleName)
		if err != nil {
			if c.metrics != nil {
				c.metrics.CompilationErrorsTotal.WithLabelValues("store").Inc()
			}
			return nil, fmt.Errorf("compile acl for %q: %w", username, err)
		}

		for _, rule := range rules {
			entries = append(entries, c.expandRule(roleName, rule, user)...)
		}
	}

	entries = ensureTerminalDeny(entries)
	entries = dedupe(entries)

	if c.metrics != nil {
		c.metrics.ACLEntriesCompiled.Observe(float64(len(entries)))
	}
	return entries, nil
}

// roleRules fetches a role's rules sorted ascending by sort order,
// preserving declaration order on ties. A role referenced by a user but
// absent from the catalog contributes nothing; the dangling reference is a
// provisioning mistake, not a compile failure.
func (c *Compiler) roleRules(ctx context.Context, roleName string) ([]Rule, error) {
	role, err := c.store.FindRole(ctx, roleName)
	if errors.Is(err, ErrNotFound) {
		c.logger.WithField("role", roleName).Warn("role referenced by user does not exist, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch role %q: %w", roleName, err)
	}

	rules := make([]Rule, len(role.Rules))
	copy(rules, role.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Order() < rules[j].Order()
	})
	return rules, nil
}

// expandRule resolves one rule into zero or more entries for a user
func (c *Compiler) expandRule(roleName string, rule Rule, user *User) []Entry {
	template := rule.TopicTemplate
	if template == "" {
		return nil
	}

	placeholders := ExtractPlaceholders(template)

	// A template with no placeholders needs no resource binding at all.
	if len(placeholders) == 0 {
		topic := SubstituteUsername(template, user.Username)
		return []Entry{{Permission: rule.Permission, Action: rule.Action, Topic: topic}}
	}

	var entries []Entry
	for _, binding := range user.Resources {
		attrs := binding.Attributes()

		var missing []string
		for _, name := range placeholders {
			if _, ok := attrs[name]; !ok {
				missing = append(missing, name)
			}
		}

		switch {
		case len(missing) == 0:
			topic := SubstitutePlaceholders(template, attrs)
			topic = SubstituteUsername(topic, user.Username)
			entries = append(entries, Entry{Permission: rule.Permission, Action: rule.Action, Topic: topic})

		case len(missing) == 1 && missing[0] == "turbine_id" && binding.Kind == "farm" && binding.FarmID != nil:
			// Wildcard generalization: a farm-scoped binding covers every
			// turbine under the farm with a single '+' subscription.
			attrs["turbine_id"] = "+"
			topic := SubstitutePlaceholders(template, attrs)
			topic = SubstituteUsername(topic, user.Username)
			entries = append(entries, Entry{Permission: rule.Permission, Action: rule.Action, Topic: topic})

		default:
			// Unbindable rule/binding pair: skipped, never an error. Surfaced
			// through the log and counter so a misconfigured template or an
			// incomplete binding does not silently shrink a user's grants.
			c.logger.WithFields(map[string]interface{}{
				"username": user.Username,
				"role":     roleName,
				"template": template,
				"kind":     binding.Kind,
				"missing":  missing,
			}).Warn("rule cannot be bound to resource, skipping")
			if c.metrics != nil {
				c.metrics.UnbindableRulesTotal.WithLabelValues(roleName).Inc()
			}
		}
	}
	return entries
}

// ensureTerminalDeny appends the deny-all safety net unless a role rule
// already produced one. The list is never implicitly allow-all.
func ensureTerminalDeny(entries []Entry) []Entry {
	deny := DenyAll()
	for _, e := range entries {
		if e == deny {
			return entries
		}
	}
	return append(entries, deny)
}

// dedupe keeps the first occurrence of each (permission, action, topic)
// triple, preserving its position.
func dedupe(entries []Entry) []Entry {
	seen := make(map[entryKey]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		key := entryKey{e.Permission, e.Action, e.Topic}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
